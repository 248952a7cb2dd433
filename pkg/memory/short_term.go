package memory

import (
	"context"
	"sync"
	"time"

	"github.com/theapemachine/minne/pkg/convo"
)

// sessionTurns wraps one session's turn list with its expiry time.
type sessionTurns struct {
	turns     []convo.Turn
	expiresAt time.Time
}

/*
MemoryShortTerm is the in-process ShortTerm store used for dev, tests
and single-instance deployments. Expired sessions are dropped lazily on
read and by a background janitor.
*/
type MemoryShortTerm struct {
	mu       sync.RWMutex
	sessions map[string]*sessionTurns
	idleTTL  time.Duration
	done     chan struct{}
}

type MemoryShortTermOption func(*MemoryShortTerm)

func NewMemoryShortTerm(options ...MemoryShortTermOption) *MemoryShortTerm {
	store := &MemoryShortTerm{
		sessions: make(map[string]*sessionTurns),
		idleTTL:  10 * time.Minute,
		done:     make(chan struct{}),
	}

	for _, option := range options {
		option(store)
	}

	go store.cleanupExpired()

	return store
}

// WithIdleTTL overrides the default 600s session idle TTL.
func WithIdleTTL(ttl time.Duration) MemoryShortTermOption {
	return func(store *MemoryShortTerm) {
		store.idleTTL = ttl
	}
}

func (store *MemoryShortTerm) Put(ctx context.Context, sessionID string, turn convo.Turn) error {
	store.mu.Lock()
	defer store.mu.Unlock()

	session, ok := store.sessions[sessionID]
	if !ok || time.Now().After(session.expiresAt) {
		session = &sessionTurns{}
		store.sessions[sessionID] = session
	}

	session.turns = append(session.turns, turn)
	session.expiresAt = time.Now().Add(store.idleTTL)

	return nil
}

func (store *MemoryShortTerm) GetRecent(ctx context.Context, sessionID string, n int) ([]convo.Turn, error) {
	if n <= 0 {
		return nil, nil
	}

	store.mu.RLock()
	session, ok := store.sessions[sessionID]

	if ok && time.Now().Before(session.expiresAt) {
		start := len(session.turns) - n
		if start < 0 {
			start = 0
		}

		recent := make([]convo.Turn, len(session.turns)-start)
		copy(recent, session.turns[start:])
		store.mu.RUnlock()

		return recent, nil
	}

	store.mu.RUnlock()

	if !ok {
		return nil, nil
	}

	// Evict the expired entry, but only if the map still holds the same
	// object: a concurrent Put may have replaced it with a live session.
	store.mu.Lock()
	if current, ok := store.sessions[sessionID]; ok && current == session {
		delete(store.sessions, sessionID)
	}
	store.mu.Unlock()

	return nil, nil
}

func (store *MemoryShortTerm) Touch(ctx context.Context, sessionID string) error {
	store.mu.Lock()
	defer store.mu.Unlock()

	if session, ok := store.sessions[sessionID]; ok && time.Now().Before(session.expiresAt) {
		session.expiresAt = time.Now().Add(store.idleTTL)
	}

	return nil
}

func (store *MemoryShortTerm) Ping(ctx context.Context) error {
	return nil
}

// Stop terminates the janitor goroutine.
func (store *MemoryShortTerm) Stop() {
	close(store.done)
}

func (store *MemoryShortTerm) Cleanup() {
	store.mu.Lock()
	defer store.mu.Unlock()

	now := time.Now()
	for id, session := range store.sessions {
		if now.After(session.expiresAt) {
			delete(store.sessions, id)
		}
	}
}

func (store *MemoryShortTerm) cleanupExpired() {
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
