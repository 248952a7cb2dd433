package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/theapemachine/minne/pkg/errors"
)

/*
Claims is what a caller token carries: the caller identity and the
rate-limit class its requests are admitted under.
*/
type Claims struct {
	CallerID string
	Class    string
}

/*
Validator verifies caller tokens and mints new ones. Tokens are HMAC
signed; the subject claim is the caller id and an optional class claim
selects the admission bucket.
*/
type Validator struct {
	signingKey []byte
	ttl        time.Duration
}

type ValidatorOption func(*Validator)

func NewValidator(signingKey []byte, options ...ValidatorOption) *Validator {
	validator := &Validator{
		signingKey: signingKey,
		ttl:        24 * time.Hour,
	}

	for _, option := range options {
		option(validator)
	}

	return validator
}

// WithTokenTTL sets how long generated tokens stay valid.
func WithTokenTTL(ttl time.Duration) ValidatorOption {
	return func(validator *Validator) {
		validator.ttl = ttl
	}
}

func (validator *Validator) getSigningKey(token *jwt.Token) (any, error) {
	if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
		return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
	}
	return validator.signingKey, nil
}

// Validate parses and verifies a token, returning the caller claims.
func (validator *Validator) Validate(tokenStr string) (Claims, *errors.Error) {
	token, err := jwt.Parse(tokenStr, validator.getSigningKey)
	if err != nil {
		return Claims{}, errors.ErrUnauthorized.WithMessagef("invalid token: %v", err)
	}

	if !token.Valid {
		return Claims{}, errors.ErrUnauthorized.WithMessagef("token expired")
	}

	mapClaims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return Claims{}, errors.ErrUnauthorized.WithMessagef("invalid token claims")
	}

	callerID, _ := mapClaims["sub"].(string)
	if callerID == "" {
		return Claims{}, errors.ErrUnauthorized.WithMessagef("token is missing its subject")
	}

	class, _ := mapClaims["class"].(string)

	return Claims{CallerID: callerID, Class: class}, nil
}

// GenerateToken mints a signed token for a caller.
func (validator *Validator) GenerateToken(callerID, class string) (string, error) {
	claims := jwt.MapClaims{
		"sub": callerID,
		"iat": time.Now().Unix(),
		"exp": time.Now().Add(validator.ttl).Unix(),
	}

	if class != "" {
		claims["class"] = class
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)

	tokenStr, err := token.SignedString(validator.signingKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}

	return tokenStr, nil
}

// ExtractBearer strips the Bearer scheme from an Authorization header.
func ExtractBearer(header string) string {
	if len(header) > 7 && header[:7] == "Bearer " {
		return header[7:]
	}
	return header
}
