package vault

import "nhbvault/numeric"

// outcome describes one vault's liquidation for event emission.
type outcome struct {
	VaultID          VaultID
	Kind             string // "full" or "partial"
	CollateralSeized numeric.CT
	DebtCleared      numeric.ST
	Redistribution   []distribution // populated for full liquidations
}

// CheckVaults scans every vault at the given price and liquidates each one
// whose collateral ratio has fallen below the mode's minimum, mirroring
// original_source/lib.rs's check_vaults: partition into unhealthy/healthy,
// then liquidate each unhealthy vault in turn.
//
// A vault that is the sole remaining vault is skipped even if unhealthy —
// there is nothing to redistribute or zero its debt against, and leaving it
// in place keeps TCR well-defined for the next price tick.
func (s *State) CheckVaults(price numeric.Price) []outcome {
	threshold := s.Mode.MinCollateralRatio()

	unhealthy := make([]VaultID, 0)
	for id, v := range s.Vaults {
		if v.CollateralRatio(price).LessThan(threshold) {
			unhealthy = append(unhealthy, id)
		}
	}

	outcomes := make([]outcome, 0, len(unhealthy))
	for _, id := range unhealthy {
		if len(s.Vaults) <= 1 {
			break
		}
		if _, ok := s.Vaults[id]; !ok {
			// Already absorbed by a prior redistribution this pass.
			continue
		}
		outcomes = append(outcomes, s.liquidateVault(id, price))
	}
	return outcomes
}

// liquidateVault applies either partial (Recovery-mode, CR still >= MCR) or
// full liquidation to the named vault, per
// original_source/state.rs liquidate_vault.
func (s *State) liquidateVault(id VaultID, price numeric.Price) outcome {
	v := s.mustVault(id)

	if s.Mode == ModeRecovery && !v.CollateralRatio(price).LessThan(MinCollateralRatio) {
		return s.partialLiquidate(v, price)
	}
	return s.fullLiquidate(id, v)
}

// partialLiquidate zeroes a Recovery-mode vault's debt and seizes just
// enough collateral (at MCR) to cover it, leaving the remainder in the
// vault. The seized portion accrues to ProtocolFees.
func (s *State) partialLiquidate(v *Vault, price numeric.Price) outcome {
	partialCollateral := v.Debt.MulRatio(MinCollateralRatio).DivPrice(price)
	if partialCollateral > v.Collateral {
		partialCollateral = v.Collateral
	}
	debtCleared := v.Debt
	v.Debt = 0
	v.Collateral = v.Collateral.Sub(partialCollateral)
	s.ProtocolFees = s.ProtocolFees.Add(partialCollateral)

	return outcome{VaultID: v.ID, Kind: "partial", CollateralSeized: partialCollateral, DebtCleared: debtCleared}
}

// fullLiquidate redistributes the entire vault onto every survivor.
func (s *State) fullLiquidate(id VaultID, v *Vault) outcome {
	collateral, debt := v.Collateral, v.Debt
	shares := s.RedistributeVault(id)
	return outcome{VaultID: id, Kind: "full", CollateralSeized: collateral, DebtCleared: debt, Redistribution: shares}
}
