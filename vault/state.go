package vault

import (
	"time"

	"nhbvault/crypto"
	"nhbvault/numeric"
)

// State is the protocol's full in-memory state, mutated only through the
// methods below. It has no knowledge of ledgers, oracles, or guards —
// those are Engine's concerns — mirroring how original_source/state.rs
// keeps pure bookkeeping separate from the async operations in vault.rs.
type State struct {
	Vaults      map[VaultID]*Vault
	OwnerIndex  map[[20]byte][]VaultID
	NextVaultID VaultID

	PendingTransfers []PendingMarginTransfer

	Mode                 Mode
	TotalCollateralRatio numeric.Ratio

	BaseRate           numeric.Ratio
	LastRedemptionTime time.Time

	LastPrice          numeric.Price
	LastPriceTimestamp time.Time

	DeveloperPrincipal crypto.Principal
	BorrowFee          numeric.Ratio

	// ProtocolFees accrues CT seized during partial liquidation (the
	// portion of a Recovery-mode vault's collateral above what it retains
	// after its debt is zeroed). See DESIGN.md for why this accrues to the
	// protocol rather than a stability pool.
	ProtocolFees numeric.CT
}

// NewState constructs a fresh, empty State for protocol genesis.
func NewState(developer crypto.Principal, borrowFee numeric.Ratio) *State {
	return &State{
		Vaults:               make(map[VaultID]*Vault),
		OwnerIndex:           make(map[[20]byte][]VaultID),
		Mode:                 ModeNormal,
		TotalCollateralRatio: numeric.RatioMax,
		BaseRate:             numeric.RatioZero,
		DeveloperPrincipal:   developer,
		BorrowFee:            borrowFee,
	}
}

func (s *State) totalDebt() numeric.ST {
	var total numeric.ST
	for _, v := range s.Vaults {
		total = total.Add(v.Debt)
	}
	return total
}

func (s *State) totalCollateral() numeric.CT {
	var total numeric.CT
	for _, v := range s.Vaults {
		total = total.Add(v.Collateral)
	}
	return total
}

// RefreshModeAndRatio recomputes TotalCollateralRatio from the current price
// and book, then derives Mode from it. Call after every state mutation that
// changes debt, collateral, or price.
func (s *State) RefreshModeAndRatio(price numeric.Price) {
	debt := s.totalDebt()
	if debt == 0 {
		s.TotalCollateralRatio = numeric.RatioMax
		s.Mode = ModeNormal
		return
	}
	value := s.totalCollateral().MulPrice(price)
	s.TotalCollateralRatio = value.DivST(debt)
	s.Mode = modeFromRatios(s.TotalCollateralRatio)
}

func (s *State) insertVault(v *Vault) {
	s.Vaults[v.ID] = v
	key := v.Owner.Key()
	s.OwnerIndex[key] = append(s.OwnerIndex[key], v.ID)
}

func (s *State) removeVault(id VaultID) {
	v, ok := s.Vaults[id]
	if !ok {
		panic("vault: BUG: removeVault on unknown vault")
	}
	delete(s.Vaults, id)
	key := v.Owner.Key()
	idx := s.OwnerIndex[key]
	for i, candidate := range idx {
		if candidate == id {
			s.OwnerIndex[key] = append(idx[:i], idx[i+1:]...)
			break
		}
	}
	if len(s.OwnerIndex[key]) == 0 {
		delete(s.OwnerIndex, key)
	}
}

// OpenVault allocates a new vault id and records the vault. Caller has
// already pulled collateral from the owner via the ledger.
func (s *State) OpenVault(owner crypto.Principal, collateral numeric.CT) *Vault {
	id := s.NextVaultID
	s.NextVaultID++
	v := &Vault{ID: id, Owner: owner, Collateral: collateral}
	s.insertVault(v)
	return v
}

func (s *State) mustVault(id VaultID) *Vault {
	v, ok := s.Vaults[id]
	if !ok {
		panic("vault: BUG: operation on unknown vault")
	}
	return v
}

// Borrow increases a vault's debt. The over-borrow / health check happens
// in Engine before this is called.
func (s *State) Borrow(id VaultID, amount numeric.ST) {
	v := s.mustVault(id)
	v.Debt = v.Debt.Add(amount)
}

// Repay decreases a vault's debt.
func (s *State) Repay(id VaultID, amount numeric.ST) {
	v := s.mustVault(id)
	v.Debt = v.Debt.Sub(amount)
}

// AddMargin increases a vault's collateral.
func (s *State) AddMargin(id VaultID, amount numeric.CT) {
	v := s.mustVault(id)
	v.Collateral = v.Collateral.Add(amount)
}

// CloseVault removes a vault that must already have zero debt, returning
// its collateral for the caller to enqueue as a pending transfer.
func (s *State) CloseVault(id VaultID) numeric.CT {
	v := s.mustVault(id)
	if v.Debt != 0 {
		panic("vault: BUG: CloseVault called with nonzero debt")
	}
	collateral := v.Collateral
	s.removeVault(id)
	return collateral
}

// EnqueuePendingTransfer appends an outbound CT payment for later draining.
func (s *State) EnqueuePendingTransfer(owner crypto.Principal, amount numeric.CT) {
	s.PendingTransfers = append(s.PendingTransfers, PendingMarginTransfer{Owner: owner, Amount: amount})
}

// VaultsOwnedBy returns the vault ids owned by owner, for the get_vaults
// RPC query.
func (s *State) VaultsOwnedBy(owner crypto.Principal) []VaultID {
	return append([]VaultID(nil), s.OwnerIndex[owner.Key()]...)
}
