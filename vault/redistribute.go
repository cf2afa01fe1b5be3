package vault

import (
	"sort"

	"nhbvault/numeric"
)

// distribution is one survivor's pro-rata share of a liquidated vault's
// collateral and debt.
type distribution struct {
	VaultID    VaultID
	Collateral numeric.CT
	Debt       numeric.ST
}

// distributeAcrossVaults splits target's collateral and debt pro-rata, by
// collateral share, across survivors. Survivors are visited in ascending
// vault-id order and the first (lowest-id) survivor absorbs whatever
// rounding residual the pro-rata shares leave behind — this is the
// original's BTreeMap-iteration-order rounding rule
// (original_source/state.rs distribute_across_vaults), preserved exactly
// rather than re-derived, since any other tie-break would silently change
// which survivor eats the dust.
func distributeAcrossVaults(survivors []*Vault, target *Vault) []distribution {
	if len(survivors) == 0 {
		return nil
	}
	ordered := append([]*Vault(nil), survivors...)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].ID < ordered[j].ID })

	var totalMargin numeric.CT
	for _, v := range ordered {
		totalMargin = totalMargin.Add(v.Collateral)
	}

	out := make([]distribution, len(ordered))
	var distributedCollateral numeric.CT
	var distributedDebt numeric.ST

	for i, v := range ordered {
		share := v.Collateral.DivCT(totalMargin)
		collateralShare := target.Collateral.MulRatio(share)
		debtShare := target.Debt.MulRatio(share)
		distributedCollateral = distributedCollateral.Add(collateralShare)
		distributedDebt = distributedDebt.Add(debtShare)
		out[i] = distribution{VaultID: v.ID, Collateral: collateralShare, Debt: debtShare}
	}

	out[0].Collateral = out[0].Collateral.Add(target.Collateral.Sub(distributedCollateral))
	out[0].Debt = out[0].Debt.Add(target.Debt.Sub(distributedDebt))

	return out
}

// RedistributeVault absorbs targetID's collateral and debt into every other
// vault, pro-rata by collateral, then removes targetID. targetID must exist
// and there must be at least one other vault in the store.
func (s *State) RedistributeVault(targetID VaultID) []distribution {
	target := s.mustVault(targetID)

	survivors := make([]*Vault, 0, len(s.Vaults)-1)
	for id, v := range s.Vaults {
		if id == targetID {
			continue
		}
		survivors = append(survivors, v)
	}
	if len(survivors) == 0 {
		panic("vault: BUG: RedistributeVault with no surviving vaults")
	}

	shares := distributeAcrossVaults(survivors, target)
	for _, share := range shares {
		v := s.mustVault(share.VaultID)
		v.Collateral = v.Collateral.Add(share.Collateral)
		v.Debt = v.Debt.Add(share.Debt)
	}
	s.removeVault(targetID)
	return shares
}
