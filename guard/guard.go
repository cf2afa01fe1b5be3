// Package guard implements the protocol's reentrancy guards: a bounded,
// principal+operation keyed mutual-exclusion table for user-facing vault
// operations, plus singleton flags for the background timer tasks.
//
// Every user operation awaits at least one external ledger or oracle call,
// so a single in-process mutex across the whole engine would serialize
// unrelated users' requests behind each other's network round trips. The
// guard table instead blocks only a caller from re-entering the same kind of
// operation concurrently, mirroring the original canister's per-principal
// reentrancy guard (generalized here to principal+operation per spec).
package guard

import (
	"errors"
	"sync"
	"time"
)

// MaxConcurrent bounds the number of in-flight guarded operations across all
// callers, protecting the process from unbounded goroutine fan-out.
const MaxConcurrent = 100

// reclaimAfter is the hard timeout after which any guard entry, regardless
// of owner, is treated as abandoned and removed.
const reclaimAfter = 5 * time.Minute

// selfStaleAfter is the threshold at which a caller's own prior guard entry
// is treated as stale and silently reclaimed rather than rejected as
// already-processing. Half of reclaimAfter, preserved from the original
// guard's 2:1 ratio.
const selfStaleAfter = reclaimAfter / 2

var (
	// ErrAlreadyProcessing is returned when the caller already holds a guard
	// for the same principal+operation key and it is not yet stale.
	ErrAlreadyProcessing = errors.New("guard: operation already in progress for this caller")
	// ErrTooManyConcurrent is returned when MaxConcurrent in-flight guards
	// are already held.
	ErrTooManyConcurrent = errors.New("guard: too many concurrent operations")
)

type state int

const (
	stateInProgress state = iota
	stateCompleted
	stateFailed
)

type entry struct {
	state     state
	createdAt time.Time
}

// Key identifies a guarded operation slot.
type Key struct {
	Principal string
	Operation string
}

// Table is a bounded, principal+operation keyed mutual-exclusion set.
type Table struct {
	mu      sync.Mutex
	entries map[Key]*entry
	now     func() time.Time
}

// NewTable constructs an empty guard table.
func NewTable() *Table {
	return &Table{entries: make(map[Key]*entry), now: time.Now}
}

// Handle represents a held guard; callers must call exactly one of Release
// or Fail, exactly once.
type Handle struct {
	table *Table
	key   Key
}

// Acquire takes the guard for (principal, operation), reclaiming stale or
// abandoned entries first. It returns ErrAlreadyProcessing if the caller
// already holds a live guard for this key, or ErrTooManyConcurrent if the
// table is at capacity.
func (t *Table) Acquire(principal, operation string) (*Handle, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	key := Key{Principal: principal, Operation: operation}

	t.reclaimLocked(now)

	if existing, ok := t.entries[key]; ok {
		if existing.state == stateInProgress && now.Sub(existing.createdAt) < selfStaleAfter {
			return nil, ErrAlreadyProcessing
		}
		// Stale or terminal: fall through and reclaim below.
		delete(t.entries, key)
	}

	if len(t.entries) >= MaxConcurrent {
		return nil, ErrTooManyConcurrent
	}

	t.entries[key] = &entry{state: stateInProgress, createdAt: now}
	return &Handle{table: t, key: key}, nil
}

// reclaimLocked drops every entry older than reclaimAfter or left in a
// terminal, un-released state. Must be called with t.mu held.
func (t *Table) reclaimLocked(now time.Time) {
	for k, e := range t.entries {
		if e.state != stateInProgress || now.Sub(e.createdAt) >= reclaimAfter {
			delete(t.entries, k)
		}
	}
}

// Release marks the guard completed and removes it, freeing the slot for
// reuse. Call this on operation success.
func (h *Handle) Release() {
	h.table.mu.Lock()
	defer h.table.mu.Unlock()
	delete(h.table.entries, h.key)
}

// Fail marks the guard as failed without removing it immediately, matching
// the original's behavior of leaving a failed operation's entry visible
// (for diagnostics) until the next reclamation pass finds it.
func (h *Handle) Fail() {
	h.table.mu.Lock()
	defer h.table.mu.Unlock()
	if e, ok := h.table.entries[h.key]; ok {
		e.state = stateFailed
	}
}

// singleton is a simple boolean-flag mutual-exclusion lock for the
// process's background tasks (oracle refresh, pending-transfer drain),
// where there is only ever one caller class and no principal to key on.
type singleton struct {
	mu     sync.Mutex
	active bool
}

func (s *singleton) tryAcquire() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active {
		return false
	}
	s.active = true
	return true
}

func (s *singleton) release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = false
}

// SingletonHandle releases a held timer/fetch guard exactly once.
type SingletonHandle struct {
	s        *singleton
	released bool
}

// Release frees the singleton guard. Safe to call at most once.
func (h *SingletonHandle) Release() {
	if h.released {
		return
	}
	h.released = true
	h.s.release()
}

var (
	timerLogicGuard singleton
	fetchRateGuard  singleton
)

// AcquireTimerLogicGuard guards the pending-transfer drain ticker so at most
// one drain pass runs at a time.
func AcquireTimerLogicGuard() (*SingletonHandle, bool) {
	if !timerLogicGuard.tryAcquire() {
		return nil, false
	}
	return &SingletonHandle{s: &timerLogicGuard}, true
}

// AcquireFetchRateGuard guards the oracle refresh ticker so at most one
// fetch is in flight at a time.
func AcquireFetchRateGuard() (*SingletonHandle, bool) {
	if !fetchRateGuard.tryAcquire() {
		return nil, false
	}
	return &SingletonHandle{s: &fetchRateGuard}, true
}
