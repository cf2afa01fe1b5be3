package guard

import (
	"errors"
	"testing"
	"time"
)

func TestAcquireBlocksSamePrincipalOperation(t *testing.T) {
	table := NewTable()

	h, err := table.Acquire("alice", "borrow")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := table.Acquire("alice", "borrow"); !errors.Is(err, ErrAlreadyProcessing) {
		t.Fatalf("expected ErrAlreadyProcessing, got %v", err)
	}

	h.Release()

	if _, err := table.Acquire("alice", "borrow"); err != nil {
		t.Fatalf("expected reacquire to succeed after release, got %v", err)
	}
}

func TestAcquireAllowsDifferentOperationsConcurrently(t *testing.T) {
	table := NewTable()

	if _, err := table.Acquire("alice", "borrow"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := table.Acquire("alice", "redeem"); err != nil {
		t.Fatalf("expected a concurrent redeem by the same caller to be allowed, got %v", err)
	}
}

func TestReclaimsSelfStaleEntryAfterHalfTimeout(t *testing.T) {
	table := NewTable()
	clock := time.Now()
	table.now = func() time.Time { return clock }

	if _, err := table.Acquire("alice", "borrow"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	clock = clock.Add(selfStaleAfter + time.Second)
	if _, err := table.Acquire("alice", "borrow"); err != nil {
		t.Fatalf("expected stale entry to be reclaimed, got %v", err)
	}
}

func TestHardReclaimAfterFullTimeout(t *testing.T) {
	table := NewTable()
	clock := time.Now()
	table.now = func() time.Time { return clock }

	h, err := table.Acquire("alice", "borrow")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	h.Fail()

	clock = clock.Add(reclaimAfter + time.Second)
	if _, err := table.Acquire("bob", "borrow"); err != nil {
		t.Fatalf("unexpected error acquiring unrelated key: %v", err)
	}

	table.mu.Lock()
	_, stillPresent := table.entries[Key{Principal: "alice", Operation: "borrow"}]
	table.mu.Unlock()
	if stillPresent {
		t.Fatalf("expected failed entry to be swept after hard reclaim window")
	}
}

func TestTooManyConcurrentRejected(t *testing.T) {
	table := NewTable()
	for i := 0; i < MaxConcurrent; i++ {
		principal := string(rune('a' + i%26))
		if _, err := table.Acquire(principal, "op"+string(rune(i))); err != nil {
			t.Fatalf("unexpected error at %d: %v", i, err)
		}
	}
	if _, err := table.Acquire("overflow", "op"); !errors.Is(err, ErrTooManyConcurrent) {
		t.Fatalf("expected ErrTooManyConcurrent, got %v", err)
	}
}

func TestSingletonGuardExclusive(t *testing.T) {
	h, ok := AcquireTimerLogicGuard()
	if !ok {
		t.Fatalf("expected first acquire to succeed")
	}
	if _, ok := AcquireTimerLogicGuard(); ok {
		t.Fatalf("expected second acquire to fail while held")
	}
	h.Release()
	if h2, ok := AcquireTimerLogicGuard(); !ok {
		t.Fatalf("expected acquire to succeed after release")
	} else {
		h2.Release()
	}
}
