package memory

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/theapemachine/minne/pkg/convo"
)

/*
Manager fronts both memory tiers with two operations: Retrieve pulls a
bundle of recent turns and related fragments for prompt assembly, and
Store writes finished turns back. Short-term writes happen inline and
their failure surfaces to the caller; long-term indexing runs on a
background worker and never blocks or fails a request.
*/
type Manager struct {
	shortTerm     ShortTerm
	longTerm      *LongTerm
	recentWindow  int
	searchK       int
	queueSize     int
	opTimeout     time.Duration
	insertTimeout time.Duration

	queue     chan convo.MemoryFragment
	wg        sync.WaitGroup
	closeOnce sync.Once
	closing   atomic.Bool
	dropped   atomic.Int64
}

type ManagerOption func(*Manager)

func NewManager(shortTerm ShortTerm, longTerm *LongTerm, options ...ManagerOption) *Manager {
	manager := &Manager{
		shortTerm:     shortTerm,
		longTerm:      longTerm,
		recentWindow:  10,
		searchK:       5,
		queueSize:     256,
		opTimeout:     2 * time.Second,
		insertTimeout: 10 * time.Second,
	}

	for _, option := range options {
		option(manager)
	}

	manager.queue = make(chan convo.MemoryFragment, manager.queueSize)
	manager.wg.Add(1)
	go manager.indexLoop()

	return manager
}

// WithRecentWindow sets how many recent turns Retrieve pulls.
func WithRecentWindow(n int) ManagerOption {
	return func(manager *Manager) {
		manager.recentWindow = n
	}
}

// WithSearchK sets how many related fragments Retrieve pulls.
func WithSearchK(k int) ManagerOption {
	return func(manager *Manager) {
		manager.searchK = k
	}
}

// WithQueueSize sets the index queue capacity.
func WithQueueSize(size int) ManagerOption {
	return func(manager *Manager) {
		manager.queueSize = size
	}
}

/*
Retrieve gathers the session's recent turns and the caller's fragments
most similar to the query. Either tier failing degrades that part of
the bundle to empty instead of failing the request, so a memory outage
costs context, not availability.
*/
func (manager *Manager) Retrieve(ctx context.Context, callerID, sessionID, query string) convo.MemoryBundle {
	var bundle convo.MemoryBundle

	recentCtx, cancel := context.WithTimeout(ctx, manager.opTimeout)
	recent, err := manager.shortTerm.GetRecent(recentCtx, sessionID, manager.recentWindow)
	cancel()

	if err != nil {
		log.Warn(
			"short-term read failed, continuing without recent turns",
			"session_id", sessionID, "error", err,
		)
	} else {
		bundle.Recent = recent
	}

	touchCtx, cancel := context.WithTimeout(ctx, manager.opTimeout)
	if err := manager.shortTerm.Touch(touchCtx, sessionID); err != nil {
		log.Warn("session touch failed", "session_id", sessionID, "error", err)
	}
	cancel()

	searchCtx, cancel := context.WithTimeout(ctx, manager.opTimeout)
	related, err := manager.longTerm.Search(searchCtx, callerID, query, manager.searchK)
	cancel()

	if err != nil {
		log.Warn(
			"long-term search failed, continuing without related fragments",
			"caller_id", callerID, "error", err,
		)
	} else {
		bundle.Related = related
	}

	return bundle
}

/*
Store appends turns to the session's short-term memory and queues the
user and assistant turns for long-term indexing. A short-term failure
returns an error; indexing failures only log.
*/
func (manager *Manager) Store(ctx context.Context, callerID, sessionID string, turns ...convo.Turn) error {
	for _, turn := range turns {
		if err := manager.shortTerm.Put(ctx, sessionID, turn); err != nil {
			return fmt.Errorf("failed to store turn: %w", err)
		}
	}

	for _, turn := range turns {
		if turn.Role == convo.RoleSystem || turn.Content == "" {
			continue
		}

		manager.enqueue(convo.NewFragment(callerID, sessionID, turn.Content, string(turn.Role)))
	}

	return nil
}

// enqueue hands a fragment to the index worker without blocking; a
// full queue drops the fragment.
func (manager *Manager) enqueue(fragment convo.MemoryFragment) {
	if manager.closing.Load() {
		return
	}

	select {
	case manager.queue <- fragment:
	default:
		manager.dropped.Add(1)
		log.Warn(
			"index queue full, dropping fragment",
			"fragment_id", fragment.ID, "caller_id", fragment.CallerID,
		)
	}
}

func (manager *Manager) indexLoop() {
	defer manager.wg.Done()

	for fragment := range manager.queue {
		ctx, cancel := context.WithTimeout(context.Background(), manager.insertTimeout)
		err := manager.longTerm.Insert(ctx, fragment)
		cancel()

		if err != nil {
			log.Error(
				"failed to index fragment",
				"fragment_id", fragment.ID, "caller_id", fragment.CallerID, "error", err,
			)
		}
	}
}

// Dropped reports how many fragments were lost to a full index queue.
func (manager *Manager) Dropped() int64 {
	return manager.dropped.Load()
}

/*
Close drains the index queue and stops the worker. The service must
stop calling Store before closing; Close does not race in-flight
writes.
*/
func (manager *Manager) Close() {
	manager.closeOnce.Do(func() {
		manager.closing.Store(true)
		close(manager.queue)
		manager.wg.Wait()
	})
}
