package vault

import (
	"time"

	"nhbvault/crypto"
	"nhbvault/numeric"
)

// VaultID identifies a vault for its lifetime; never reused.
type VaultID = uint64

// Vault is an individually-owned collateralized debt position.
type Vault struct {
	ID         VaultID
	Owner      crypto.Principal
	Collateral numeric.CT
	Debt       numeric.ST
}

// CollateralRatio computes (collateral * price) / debt, returning
// numeric.RatioMax when the vault carries zero debt (uncollateralizable
// ratio is treated as infinite, never a division by zero).
func (v *Vault) CollateralRatio(price numeric.Price) numeric.Ratio {
	if v.Debt == 0 {
		return numeric.RatioMax
	}
	value := v.Collateral.MulPrice(price)
	return value.DivST(v.Debt)
}

// PendingMarginTransfer is a queued outbound CT payment, issued after
// close_vault (to the vault owner) or redeem (to the redeemer), drained asynchronously
// by the pending-transfer ticker so a failed ledger call is replayable.
type PendingMarginTransfer struct {
	Owner  crypto.Principal
	Amount numeric.CT
}

// Snapshot is the full persisted state envelope (spec.md §6 "Persisted
// state" plus the SchemaVersion/checksum fields SPEC_FULL.md adds).
type Snapshot struct {
	SchemaVersion      uint32
	Vaults             []Vault
	NextVaultID        VaultID
	PendingTransfers   []PendingMarginTransfer
	Mode               Mode
	BaseRate           numeric.Ratio
	LastRedemptionTime time.Time
	LastPrice          numeric.Price
	LastPriceTimestamp time.Time
	DeveloperPrincipal crypto.Principal
	BorrowFee          numeric.Ratio
	Checksum           [32]byte
}
