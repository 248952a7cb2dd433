package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/theapemachine/minne/pkg/auth"
)

var (
	tokenCallerFlag string
	tokenClassFlag  string

	tokenCmd = &cobra.Command{
		Use:   "token",
		Short: "Print a signed caller token for local use",
		Long:  longToken,
		RunE: func(cmd *cobra.Command, args []string) error {
			secret := jwtSecret()
			if secret == "" {
				return fmt.Errorf("no jwt secret configured; set MINNE_JWT_SECRET or auth.secret")
			}

			token, err := newValidator(secret).GenerateToken(tokenCallerFlag, tokenClassFlag)
			if err != nil {
				return err
			}

			fmt.Println(token)
			return nil
		},
	}
)

func init() {
	rootCmd.AddCommand(tokenCmd)

	tokenCmd.Flags().StringVar(&tokenCallerFlag, "caller", "dev", "Caller id the token identifies")
	tokenCmd.Flags().StringVar(&tokenClassFlag, "class", "standard", "Rate-limit class claim")
}

// jwtSecret resolves the signing secret; the environment wins over config.
func jwtSecret() string {
	if secret := os.Getenv("MINNE_JWT_SECRET"); secret != "" {
		return secret
	}

	return viper.GetString("auth.secret")
}

func newValidator(secret string) *auth.Validator {
	options := []auth.ValidatorOption{}

	if ttl := viper.GetDuration("auth.token_ttl"); ttl > 0 {
		options = append(options, auth.WithTokenTTL(ttl))
	}

	return auth.NewValidator([]byte(secret), options...)
}

var longToken = `
Print a signed HS256 caller token. Token issuance is not part of the
service; this exists for local development and testing only.

Examples:
  minne token --caller alice --class premium
`
