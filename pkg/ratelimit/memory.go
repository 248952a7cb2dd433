package ratelimit

import (
	"context"
	"math"
	"sync"
	"time"
)

// bucket wraps one caller's admission state with its eviction time.
type bucket struct {
	tokens    float64
	stamp     time.Time
	expiresAt time.Time
}

/*
MemoryCounterStore is the in-process CounterStore used for dev and
tests, and for single-instance deployments that do not need shared
limits. Idle buckets are evicted by a background janitor.
*/
type MemoryCounterStore struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	done    chan struct{}
}

func NewMemoryCounterStore() *MemoryCounterStore {
	store := &MemoryCounterStore{
		buckets: make(map[string]*bucket),
		done:    make(chan struct{}),
	}

	go store.cleanupExpired()

	return store
}

func (store *MemoryCounterStore) Take(
	ctx context.Context, key string, config Config, cost float64,
) (float64, bool, error) {
	store.mu.Lock()
	defer store.mu.Unlock()

	now := time.Now()

	state, ok := store.buckets[key]
	if !ok {
		// New buckets start full so callers get their burst.
		state = &bucket{tokens: config.Capacity, stamp: now}
		store.buckets[key] = state
	}

	elapsed := now.Sub(state.stamp).Seconds()
	if elapsed > 0 {
		state.tokens = math.Min(config.Capacity, state.tokens+elapsed*config.RefillRate)
	}
	state.stamp = now
	state.expiresAt = now.Add(config.TTL)

	if state.tokens < cost {
		return state.tokens, false, nil
	}

	state.tokens -= cost
	return state.tokens, true, nil
}

func (store *MemoryCounterStore) Ping(ctx context.Context) error {
	return nil
}

// Stop terminates the janitor goroutine.
func (store *MemoryCounterStore) Stop() {
	close(store.done)
}

func (store *MemoryCounterStore) Cleanup() {
	store.mu.Lock()
	defer store.mu.Unlock()

	now := time.Now()
	for key, state := range store.buckets {
		if now.After(state.expiresAt) {
			delete(store.buckets, key)
		}
	}
}

func (store *MemoryCounterStore) cleanupExpired() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			store.Cleanup()
		case <-store.done:
			return
		}
	}
}
