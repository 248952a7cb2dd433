package ratelimit

import (
	"context"
	"time"

	"github.com/charmbracelet/log"
)

// Config describes one token bucket: burst capacity, refill rate in
// tokens per second, and how long an idle bucket survives in the store.
type Config struct {
	Capacity   float64
	RefillRate float64
	TTL        time.Duration
}

// DefaultConfig mirrors the historical service limits: bursts of 50,
// sustained 100 requests per minute, idle buckets kept for an hour.
func DefaultConfig() Config {
	return Config{
		Capacity:   50,
		RefillRate: 100.0 / 60.0,
		TTL:        time.Hour,
	}
}

/*
CounterStore is the shared admission state behind a Limiter. Take
applies one full token-bucket update (refill, compare, consume)
atomically, so concurrent admissions for the same key never race.
*/
type CounterStore interface {
	Take(ctx context.Context, key string, config Config, cost float64) (remaining float64, ok bool, err error)
	Ping(ctx context.Context) error
}

/*
Limiter is per-caller admission control over a shared CounterStore.
Multiple orchestrator instances pointing at the same store share
limits. When the store is unreachable the limiter denies after one
immediate retry; it never fails open.
*/
type Limiter struct {
	store   CounterStore
	base    Config
	classes map[string]Config
	timeout time.Duration
}

type LimiterOption func(*Limiter)

func NewLimiter(store CounterStore, options ...LimiterOption) *Limiter {
	limiter := &Limiter{
		store:   store,
		base:    DefaultConfig(),
		classes: make(map[string]Config),
		timeout: 100 * time.Millisecond,
	}

	for _, option := range options {
		option(limiter)
	}

	return limiter
}

// WithBucket overrides the default bucket configuration.
func WithBucket(config Config) LimiterOption {
	return func(limiter *Limiter) {
		limiter.base = config
	}
}

// WithClass adds a caller-class override (e.g. "premium").
func WithClass(name string, config Config) LimiterOption {
	return func(limiter *Limiter) {
		limiter.classes[name] = config
	}
}

// WithTimeout bounds the whole admission check, retry included.
func WithTimeout(timeout time.Duration) LimiterOption {
	return func(limiter *Limiter) {
		limiter.timeout = timeout
	}
}

// Admit checks whether one request by callerID is allowed right now.
func (limiter *Limiter) Admit(ctx context.Context, callerID string) bool {
	return limiter.AdmitClass(ctx, callerID, "", 1)
}

// AdmitN is Admit with an explicit cost.
func (limiter *Limiter) AdmitN(ctx context.Context, callerID string, cost float64) bool {
	return limiter.AdmitClass(ctx, callerID, "", cost)
}

/*
AdmitClass admits cost units against callerID's bucket, using the class
override when one is configured. Buckets are keyed by caller only; the
class selects parameters, not a separate bucket.
*/
func (limiter *Limiter) AdmitClass(ctx context.Context, callerID, class string, cost float64) bool {
	config := limiter.base
	if override, ok := limiter.classes[class]; ok {
		config = override
	}

	ctx, cancel := context.WithTimeout(ctx, limiter.timeout)
	defer cancel()

	remaining, ok, err := limiter.store.Take(ctx, callerID, config, cost)
	if err != nil {
		// One quick retry, then deny. A broken counter store must
		// never turn into an unlimited service.
		remaining, ok, err = limiter.store.Take(ctx, callerID, config, cost)
		if err != nil {
			log.Error("counter store unreachable, denying admission", "caller", callerID, "error", err)
			return false
		}
	}

	if !ok {
		log.Debug("admission denied", "caller", callerID, "class", class, "remaining", remaining)
	}

	return ok
}
