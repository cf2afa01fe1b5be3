package vault

import (
	"encoding/json"
	"fmt"

	"lukechampine.com/blake3"

	"nhbvault/events"
)

// SchemaVersion is bumped whenever Snapshot's shape changes incompatibly.
const SchemaVersion = 1

// ToSnapshot captures the full persisted state envelope, stamping it with a
// blake3 checksum of the serialized event log so a restored node can detect
// a truncated or corrupted export before trusting it — the event log, not
// the snapshot payload itself, is the thing a replay has to match.
func (s *State) ToSnapshot(log *events.Log) Snapshot {
	vaults := make([]Vault, 0, len(s.Vaults))
	for _, v := range s.Vaults {
		vaults = append(vaults, *v)
	}
	return Snapshot{
		SchemaVersion:      SchemaVersion,
		Vaults:             vaults,
		NextVaultID:        s.NextVaultID,
		PendingTransfers:   append([]PendingMarginTransfer(nil), s.PendingTransfers...),
		Mode:               s.Mode,
		BaseRate:           s.BaseRate,
		LastRedemptionTime: s.LastRedemptionTime,
		LastPrice:          s.LastPrice,
		LastPriceTimestamp: s.LastPriceTimestamp,
		DeveloperPrincipal: s.DeveloperPrincipal,
		BorrowFee:          s.BorrowFee,
		Checksum:           checksumEventLog(log),
	}
}

// RestoreFromSnapshot rebuilds a State from a persisted Snapshot, verifying
// its checksum against the supplied event log before accepting it.
func RestoreFromSnapshot(snap Snapshot, log *events.Log) (*State, error) {
	if got := checksumEventLog(log); got != snap.Checksum {
		return nil, fmt.Errorf("vault: snapshot checksum mismatch: event log does not match the restored snapshot")
	}
	s := &State{
		Vaults:             make(map[VaultID]*Vault, len(snap.Vaults)),
		OwnerIndex:         make(map[[20]byte][]VaultID),
		NextVaultID:        snap.NextVaultID,
		PendingTransfers:   append([]PendingMarginTransfer(nil), snap.PendingTransfers...),
		Mode:               snap.Mode,
		BaseRate:           snap.BaseRate,
		LastRedemptionTime: snap.LastRedemptionTime,
		LastPrice:          snap.LastPrice,
		LastPriceTimestamp: snap.LastPriceTimestamp,
		DeveloperPrincipal: snap.DeveloperPrincipal,
		BorrowFee:          snap.BorrowFee,
	}
	for i := range snap.Vaults {
		v := snap.Vaults[i]
		s.insertVault(&v)
	}
	s.RefreshModeAndRatio(s.LastPrice)
	return s, nil
}

// checksumEventLog hashes the JSON encoding of every record currently in
// log. Genesis (an empty log) hashes to blake3 of the JSON literal null
// (Slice returns a nil slice for an empty log), so a
// freshly initialized node and a freshly initialized snapshot agree.
func checksumEventLog(log *events.Log) [32]byte {
	records := log.Slice(0, log.Len())
	encoded, err := json.Marshal(records)
	if err != nil {
		panic(fmt.Sprintf("vault: BUG: event log is not JSON-encodable: %v", err))
	}
	return blake3.Sum256(encoded)
}
