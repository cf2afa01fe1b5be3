package storage

import (
	"bytes"
	"path/filepath"
	"testing"
	"time"

	"nhbvault/crypto"
	"nhbvault/events"
	"nhbvault/numeric"
	"nhbvault/vault"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	store, err := Open("sqlite", filepath.Join(dir, "vaultd.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func makeOwner(b byte) crypto.Principal {
	raw := make([]byte, 20)
	raw[19] = b
	return crypto.MustNewPrincipal(crypto.Prefix, raw)
}

func TestAppendAndReadEvents(t *testing.T) {
	store := openTestStore(t)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	rec1 := events.Record{Sequence: 0, Type: events.TypeOpenVault, Timestamp: now, Attrs: map[string]string{"vault_id": "1"}}
	rec2 := events.Record{Sequence: 1, Type: events.TypeBorrow, Timestamp: now.Add(time.Minute), Attrs: map[string]string{"vault_id": "1", "amount": "1000"}}

	if err := store.AppendEvent(rec1); err != nil {
		t.Fatalf("append rec1: %v", err)
	}
	if err := store.AppendEvent(rec2); err != nil {
		t.Fatalf("append rec2: %v", err)
	}

	got, err := store.Events(0, 10)
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 events, got %d", len(got))
	}
	if got[0].Type != events.TypeOpenVault || got[1].Type != events.TypeBorrow {
		t.Fatalf("unexpected event ordering: %+v", got)
	}
	if got[1].Attrs["amount"] != "1000" {
		t.Fatalf("unexpected attrs: %+v", got[1].Attrs)
	}

	page, err := store.Events(1, 1)
	if err != nil {
		t.Fatalf("paged events: %v", err)
	}
	if len(page) != 1 || page[0].Sequence != 1 {
		t.Fatalf("unexpected page: %+v", page)
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	store := openTestStore(t)

	if _, ok, err := store.LoadSnapshot(); err != nil || ok {
		t.Fatalf("expected no snapshot at genesis, ok=%v err=%v", ok, err)
	}

	dev := makeOwner(0xD0)
	owner := makeOwner(0x01)
	state := vault.NewState(dev, vault.BorrowFeeDefault)
	state.LastPrice = numeric.PriceFromUnits(500_000_000_000, 9)
	log := events.NewLog()

	v := state.OpenVault(owner, 1_000_000_000)
	state.Borrow(v.ID, 100_000_000_000)

	snap := state.ToSnapshot(log)
	if err := store.SaveSnapshot(&snap); err != nil {
		t.Fatalf("save snapshot: %v", err)
	}

	loaded, ok, err := store.LoadSnapshot()
	if err != nil || !ok {
		t.Fatalf("load snapshot: ok=%v err=%v", ok, err)
	}
	if len(loaded.Vaults) != 1 {
		t.Fatalf("expected 1 vault, got %d", len(loaded.Vaults))
	}
	if loaded.Vaults[0].Debt != 100_000_000_000 {
		t.Fatalf("unexpected debt: %d", loaded.Vaults[0].Debt)
	}
	if loaded.Vaults[0].Owner.String() != owner.String() {
		t.Fatalf("unexpected owner: %s", loaded.Vaults[0].Owner.String())
	}

	restored, err := vault.RestoreFromSnapshot(*loaded, log)
	if err != nil {
		t.Fatalf("restore from snapshot: %v", err)
	}
	if restored.Vaults[v.ID].Debt != 100_000_000_000 {
		t.Fatalf("restored debt mismatch: %d", restored.Vaults[v.ID].Debt)
	}
}

func TestExportParquet(t *testing.T) {
	store := openTestStore(t)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := uint64(0); i < 3; i++ {
		rec := events.Record{Sequence: i, Type: events.TypeOpenVault, Timestamp: now, Attrs: map[string]string{"vault_id": "1"}}
		if err := store.AppendEvent(rec); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	var buf bytes.Buffer
	if err := store.ExportParquet(&buf, 0, 3); err != nil {
		t.Fatalf("export parquet: %v", err)
	}
	if buf.Len() == 0 {
		t.Fatalf("expected non-empty parquet output")
	}
}
