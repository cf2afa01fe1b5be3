package vault

import "nhbvault/numeric"

// Protocol-wide constants from spec.md §3, carried through unchanged from
// original_source/lib.rs (MIN_ICP_AMOUNT, MIN_ICUSD_AMOUNT) and state.rs
// (RECOVERY_COLLATERAL_RATIO, MINIMUM_COLLATERAL_RATIO).
var (
	MinCollateralRatio      = numeric.RatioFromFloat(1.33)
	RecoveryCollateralRatio = numeric.RatioFromFloat(1.50)

	BorrowFeeDefault       = numeric.RatioFromFloat(0.005)
	RedemptionMinFee       = numeric.RatioFromFloat(0.005)
	RedemptionMaxFee       = numeric.RatioFromFloat(0.05)
	RedemptionDecay        = numeric.RatioFromFloat(0.94)
	RedemptionVolumeFactor = numeric.RatioFromFloat(0.5)

)

// DustPriceFloor is the minimum oracle price the protocol will operate
// under; a quote below it forces ModeReadOnly outright, from xrc.rs's
// fetch_icp_rate (rate < dec!(0.01)).
var DustPriceFloor = numeric.PriceFromUnits(1, 2)

const (
	// MinCT is 0.001 CT in 1e-8 base units.
	MinCT = numeric.CT(100_000)
	// MinST is 10.0 ST in 1e-8 base units.
	MinST = numeric.ST(1_000_000_000)
)
