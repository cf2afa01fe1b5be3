package vault

import (
	"fmt"

	"nhbvault/crypto"
	"nhbvault/events"
	"nhbvault/numeric"
)

// ProtocolStatus is the read-only snapshot returned by get_protocol_status.
type ProtocolStatus struct {
	Mode                 Mode
	TotalCollateralRatio numeric.Ratio
	BaseRate             numeric.Ratio
	LastPrice            numeric.Price
	LastPriceTimestamp   int64 // unix seconds
	VaultCount           int
}

// Fees is the read-only fee schedule returned by get_fees.
type Fees struct {
	BorrowFee      numeric.Ratio
	RedemptionFee  numeric.Ratio
	RedemptionMin  numeric.Ratio
	RedemptionMax  numeric.Ratio
}

// VaultsByOwner returns the vaults owned by owner, for get_vaults.
func (e *Engine) VaultsByOwner(owner crypto.Principal) []Vault {
	var out []Vault
	e.readState(func(s *State) {
		ids := s.VaultsOwnedBy(owner)
		out = make([]Vault, 0, len(ids))
		for _, id := range ids {
			out = append(out, *s.Vaults[id])
		}
	})
	return out
}

// AllVaults returns every vault in the book, for an unfiltered get_vaults.
func (e *Engine) AllVaults() []Vault {
	var out []Vault
	e.readState(func(s *State) {
		out = make([]Vault, 0, len(s.Vaults))
		for _, v := range s.Vaults {
			out = append(out, *v)
		}
	})
	return out
}

// GetVault returns a single vault by id.
func (e *Engine) GetVault(id VaultID) (Vault, bool) {
	var v Vault
	var ok bool
	e.readState(func(s *State) {
		found, exists := s.Vaults[id]
		if exists {
			v = *found
			ok = true
		}
	})
	return v, ok
}

// Status returns the current protocol-wide status, for get_protocol_status.
func (e *Engine) Status() ProtocolStatus {
	var st ProtocolStatus
	e.readState(func(s *State) {
		st = ProtocolStatus{
			Mode:                 s.Mode,
			TotalCollateralRatio: s.TotalCollateralRatio,
			BaseRate:             s.BaseRate,
			LastPrice:            s.LastPrice,
			LastPriceTimestamp:   s.LastPriceTimestamp.Unix(),
			VaultCount:           len(s.Vaults),
		}
	})
	return st
}

// FeeSchedule returns the current fee schedule, for get_fees.
func (e *Engine) FeeSchedule() Fees {
	var f Fees
	e.readState(func(s *State) {
		f = Fees{
			BorrowFee:     s.BorrowFee,
			RedemptionFee: s.BaseRate,
			RedemptionMin: RedemptionMinFee,
			RedemptionMax: RedemptionMaxFee,
		}
	})
	return f
}

// Events returns up to length records starting at start, for get_events.
func (e *Engine) Events(start, length uint64) []events.Record {
	return e.log.Slice(start, length)
}

// Snapshot captures the full persisted state envelope for storage.Store.
func (e *Engine) Snapshot() Snapshot {
	var snap Snapshot
	e.readState(func(s *State) { snap = s.ToSnapshot(e.log) })
	return snap
}

// ParseMode parses an operator-supplied mode name ("normal", "recovery",
// "read_only") for vaultctl set-mode.
func ParseMode(name string) (Mode, error) {
	switch name {
	case "normal":
		return ModeNormal, nil
	case "recovery":
		return ModeRecovery, nil
	case "read_only":
		return ModeReadOnly, nil
	default:
		return 0, fmt.Errorf("vault: unknown mode %q", name)
	}
}

// SetMode applies an operator override of the protocol mode, per spec.md
// §6's "at upgrade: optional mode override". The override is transient: the
// next oracle refresh or liquidation sweep recomputes Mode from the total
// collateral ratio and may supersede it immediately if the ratio disagrees.
func (e *Engine) SetMode(mode Mode) {
	now := e.clock()
	e.mutateState(func(s *State) {
		before := s.Mode
		s.Mode = mode
		if mode != before {
			e.log.Append(events.ModeChange{From: before.String(), To: mode.String()}, now)
		}
	})
}
