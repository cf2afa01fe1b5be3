package events

import (
	"testing"
	"time"
)

func TestLogAppendAndSlice(t *testing.T) {
	log := NewLog()
	ts := time.Unix(1000, 0)

	log.Append(OpenVault{VaultID: 1, Owner: "alice", Collateral: 100}, ts)
	log.Append(Borrow{VaultID: 1, Owner: "alice", Amount: 50, Fee: 1}, ts)
	log.Append(Repay{VaultID: 1, Owner: "alice", Amount: 50}, ts)

	if log.Len() != 3 {
		t.Fatalf("expected 3 records, got %d", log.Len())
	}

	page := log.Slice(1, 1)
	if len(page) != 1 || page[0].Type != TypeBorrow {
		t.Fatalf("expected one borrow record, got %+v", page)
	}

	page = log.Slice(2, 10)
	if len(page) != 1 || page[0].Type != TypeRepay {
		t.Fatalf("expected slice clamped to remaining records, got %+v", page)
	}

	if page := log.Slice(10, 5); page != nil {
		t.Fatalf("expected nil for out-of-range start, got %+v", page)
	}
}
