package vault

import (
	"sort"

	"nhbvault/numeric"
)

// redemptionTouch records one vault's contribution to a redemption.
type redemptionTouch struct {
	VaultID           VaultID
	DebtReduced       numeric.ST
	CollateralReleased numeric.CT
}

// RedeemOnVaults reduces debt across the vault population by exactly
// grossAmount ST, walking vaults in ascending collateral-ratio order (ties
// broken by ascending vault id, matching the original's
// BTreeSet<(Ratio, VaultID)> iteration order), and releases CT from each
// touched vault proportional to its share of the net (post-fee) amount —
// see original_source/state.rs redeem_on_vaults / deduct_amount_from_vault
// and DESIGN.md's note on why debt is reduced by the gross amount while CT
// released reflects only the net amount (Scenario 4).
func (s *State) RedeemOnVaults(grossAmount, netAmount numeric.ST, price numeric.Price) []redemptionTouch {
	type candidate struct {
		id VaultID
		cr numeric.Ratio
	}
	candidates := make([]candidate, 0, len(s.Vaults))
	for id, v := range s.Vaults {
		if v.Debt == 0 {
			continue
		}
		candidates = append(candidates, candidate{id: id, cr: v.CollateralRatio(price)})
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].cr.Cmp(candidates[j].cr) != 0 {
			return candidates[i].cr.LessThan(candidates[j].cr)
		}
		return candidates[i].id < candidates[j].id
	})

	remaining := grossAmount
	touches := make([]redemptionTouch, 0, len(candidates))
	for _, c := range candidates {
		if remaining == 0 {
			break
		}
		v := s.mustVault(c.id)
		take := v.Debt
		if take > remaining {
			take = remaining
		}

		netShare := take.MulRatio(netAmount.DivST(grossAmount))
		collateralOut := netShare.DivPrice(price)
		if collateralOut > v.Collateral {
			collateralOut = v.Collateral
		}

		v.Debt = v.Debt.Sub(take)
		v.Collateral = v.Collateral.Sub(collateralOut)
		remaining = remaining.Sub(take)

		touches = append(touches, redemptionTouch{VaultID: c.id, DebtReduced: take, CollateralReleased: collateralOut})
	}

	return touches
}

// computeRedemptionFee implements the base-rate decay/growth formula:
// rate = base_rate * decay^elapsed_hours; total = rate +
// (redeemed/total_borrowed) * volume_factor; clamped to
// [RedemptionMinFee, RedemptionMaxFee]. Returns 0 with no update if
// totalBorrowed is zero (nothing to redeem against).
func computeRedemptionFee(elapsedHours uint64, redeemed, totalBorrowed numeric.ST, baseRate numeric.Ratio) numeric.Ratio {
	if totalBorrowed == 0 {
		return numeric.RatioZero
	}
	decayed := baseRate.Mul(RedemptionDecay.Pow(elapsedHours))
	volumeTerm := redeemed.DivST(totalBorrowed).Mul(RedemptionVolumeFactor)
	total := decayed.Add(volumeTerm)
	return total.Clamp(RedemptionMinFee, RedemptionMaxFee)
}
