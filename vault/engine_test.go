package vault

import (
	"context"
	"fmt"
	"testing"
	"time"

	"nhbvault/events"
	"nhbvault/guard"
	"nhbvault/ledger"
	"nhbvault/numeric"
	"nhbvault/oracle"
)

const e8 = 100_000_000

func newTestEngine(t *testing.T, rate uint64, now time.Time) (*Engine, *State, *ledger.Fake, *ledger.Fake) {
	t.Helper()
	dev := makePrincipal(0xD0)
	ctProtocol := makePrincipal(0xC0)
	stProtocol := makePrincipal(0x50)

	ctLedger := ledger.NewFake(ctProtocol, 1)
	stLedger := ledger.NewFake(stProtocol, 0)
	// The ST ledger is the protocol's own mint; seed the protocol account
	// so Transfer (the borrow/redeem payout path) never starves.
	stLedger.Credit(stProtocol, 1<<62)

	feed := oracle.NewFake(rate, 0, now)
	state := NewState(dev, BorrowFeeDefault)
	state.LastPrice = numeric.PriceFromUnits(rate, 0)
	state.LastPriceTimestamp = now

	log := events.NewLog()
	clock := func() time.Time { return now }
	engine := NewEngine(state, ctLedger, stLedger, feed, log, clock)
	return engine, state, ctLedger, stLedger
}

func TestScenario1_OpenBorrowRepayClose(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	engine, state, ctLedger, stLedger := newTestEngine(t, 20000, now)
	ctx := context.Background()
	user := makePrincipal(1)

	ctLedger.Credit(user, 1*e8)
	// The borrow fee is part of owed debt; fund the user with the extra ST
	// needed to repay the full gross amount, not just the net they received.
	stLedger.Credit(user, 50*e8)

	id, pErr := engine.OpenVault(ctx, user, numeric.CT(1*e8))
	if pErr != nil {
		t.Fatalf("OpenVault: %v", pErr)
	}

	net, pErr := engine.BorrowFromVault(ctx, user, id, numeric.ST(10000*e8))
	if pErr != nil {
		t.Fatalf("BorrowFromVault: %v", pErr)
	}
	if net != numeric.ST(9950*e8) {
		t.Fatalf("expected net 9950 ST, got %v", net)
	}
	if v := state.Vaults[id]; v.Debt != numeric.ST(10000*e8) {
		t.Fatalf("expected vault debt 10000 ST, got %v", v.Debt)
	}

	if pErr := engine.RepayToVault(ctx, user, id, numeric.ST(10000*e8)); pErr != nil {
		t.Fatalf("RepayToVault: %v", pErr)
	}
	if v := state.Vaults[id]; v.Debt != 0 {
		t.Fatalf("expected vault debt 0 after repay, got %v", v.Debt)
	}

	if pErr := engine.CloseVault(ctx, user, id); pErr != nil {
		t.Fatalf("CloseVault: %v", pErr)
	}
	if _, exists := state.Vaults[id]; exists {
		t.Fatalf("expected vault to be removed")
	}
	if len(state.PendingTransfers) != 1 {
		t.Fatalf("expected one pending transfer, got %d", len(state.PendingTransfers))
	}
	if got := state.PendingTransfers[0].Amount; got != numeric.CT(1*e8-1) {
		t.Fatalf("expected payout of 1*e8-1 CT, got %v", got)
	}
}

func TestScenario2_LiquidationInNormalMode(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	engine, state, _, _ := newTestEngine(t, 12000, now)

	a := makePrincipal(1)
	b := makePrincipal(2)
	state.insertVault(&Vault{ID: 1, Owner: a, Collateral: 1 * e8, Debt: 10000 * e8})
	state.insertVault(&Vault{ID: 2, Owner: b, Collateral: 2 * e8, Debt: 10000 * e8})
	state.NextVaultID = 3
	state.RefreshModeAndRatio(state.LastPrice)

	if state.Mode != ModeNormal {
		t.Fatalf("expected Normal mode, got %v", state.Mode)
	}

	engine.RunLiquidations()

	if _, exists := state.Vaults[1]; exists {
		t.Fatalf("expected vault A to be liquidated")
	}
	survivor := state.Vaults[2]
	if survivor.Collateral != 3*e8 {
		t.Fatalf("expected survivor collateral 3*e8, got %v", survivor.Collateral)
	}
	if survivor.Debt != 20000*e8 {
		t.Fatalf("expected survivor debt 20000*e8, got %v", survivor.Debt)
	}
}

func TestScenario3_RecoveryModePartialLiquidation(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	engine, state, _, _ := newTestEngine(t, 10800, now)

	a := makePrincipal(1)
	b := makePrincipal(2)
	state.insertVault(&Vault{ID: 1, Owner: a, Collateral: 1 * e8, Debt: 8000 * e8})
	state.insertVault(&Vault{ID: 2, Owner: b, Collateral: 1 * e8, Debt: 8000 * e8})
	state.NextVaultID = 3
	state.RefreshModeAndRatio(state.LastPrice)

	if state.Mode != ModeRecovery {
		t.Fatalf("expected Recovery mode, got %v", state.Mode)
	}

	engine.RunLiquidations()

	for _, id := range []uint64{1, 2} {
		v, ok := state.Vaults[id]
		if !ok {
			t.Fatalf("expected vault %d to survive partial liquidation", id)
		}
		if v.Debt != 0 {
			t.Fatalf("expected vault %d debt zeroed, got %v", id, v.Debt)
		}
		// partial_collateral = 8000e8 * 1.33 / 10800 ~= 0.98518e8; retained
		// collateral is the remainder, a small positive amount.
		if v.Collateral == 0 || v.Collateral >= 1*e8 {
			t.Fatalf("expected vault %d to retain a thin collateral remainder, got %v", id, v.Collateral)
		}
	}
	if state.ProtocolFees == 0 {
		t.Fatalf("expected seized collateral to accrue to ProtocolFees")
	}
}

func TestScenario4_Redemption(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	engine, state, _, stLedger := newTestEngine(t, 20000, now)
	ctx := context.Background()

	owner := makePrincipal(1)
	state.insertVault(&Vault{ID: 1, Owner: owner, Collateral: 2 * e8, Debt: 10000 * e8})
	state.NextVaultID = 2
	state.BaseRate = numeric.RatioZero
	state.LastRedemptionTime = now
	state.RefreshModeAndRatio(state.LastPrice)

	redeemer := makePrincipal(9)
	stLedger.Credit(redeemer, 1000*e8)

	collateralOut, pErr := engine.Redeem(ctx, redeemer, numeric.ST(1000*e8))
	if pErr != nil {
		t.Fatalf("Redeem: %v", pErr)
	}
	if collateralOut != numeric.CT(4_750_000) {
		t.Fatalf("expected collateralOut 4750000 base units, got %v", collateralOut)
	}
	if state.BaseRate.Cmp(RedemptionMaxFee) != 0 {
		t.Fatalf("expected base rate clamped to max fee 0.05, got %v", state.BaseRate)
	}
	v := state.Vaults[1]
	if v.Debt != numeric.ST(9000*e8) {
		t.Fatalf("expected vault debt 9000*e8, got %v", v.Debt)
	}
	if v.Collateral != numeric.CT(2*e8-4_750_000) {
		t.Fatalf("expected vault collateral reduced by 4750000 base units, got %v", v.Collateral)
	}
}

func TestScenario6_GuardCollisionThenReclaim(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	engine, _, ctLedger, _ := newTestEngine(t, 20000, now)
	ctx := context.Background()
	user := makePrincipal(1)
	ctLedger.Credit(user, 10*e8)

	id, pErr := engine.OpenVault(ctx, user, numeric.CT(1*e8))
	if pErr != nil {
		t.Fatalf("OpenVault: %v", pErr)
	}

	if _, pErr := engine.acquireGuard(user, "borrow_from_vault"); pErr != nil {
		t.Fatalf("acquireGuard: %v", pErr)
	}
	if _, pErr := engine.BorrowFromVault(ctx, user, id, numeric.ST(100*e8)); pErr == nil || pErr.Kind != ErrAlreadyProcessing {
		t.Fatalf("expected AlreadyProcessing while guard held, got %v", pErr)
	}

	engine.clock = func() time.Time { return now.Add(2*time.Minute + 36*time.Second) }
	if _, pErr := engine.BorrowFromVault(ctx, user, id, numeric.ST(100*e8)); pErr != nil {
		t.Fatalf("expected stale guard to be reclaimed, got %v", pErr)
	}
}

// TestReadOnlyModeGatesMutatingOperations covers spec.md §4.6 prologue (c)
// and property P9: once the protocol is in ModeReadOnly, every mutating
// operation except repay_to_vault and a zero-debt close_vault must reject.
func TestReadOnlyModeGatesMutatingOperations(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	engine, state, ctLedger, stLedger := newTestEngine(t, 20000, now)
	ctx := context.Background()
	user := makePrincipal(1)
	ctLedger.Credit(user, 10*e8)
	stLedger.Credit(user, 10000*e8)

	id, pErr := engine.OpenVault(ctx, user, numeric.CT(1*e8))
	if pErr != nil {
		t.Fatalf("OpenVault: %v", pErr)
	}
	if _, pErr := engine.BorrowFromVault(ctx, user, id, numeric.ST(1000*e8)); pErr != nil {
		t.Fatalf("BorrowFromVault: %v", pErr)
	}

	state.Mode = ModeReadOnly

	if _, pErr := engine.OpenVault(ctx, user, numeric.CT(1*e8)); pErr == nil || pErr.Kind != ErrTemporarilyUnavailable {
		t.Fatalf("expected OpenVault to reject in ReadOnly, got %v", pErr)
	}
	if _, pErr := engine.BorrowFromVault(ctx, user, id, numeric.ST(1*e8)); pErr == nil || pErr.Kind != ErrTemporarilyUnavailable {
		t.Fatalf("expected BorrowFromVault to reject in ReadOnly, got %v", pErr)
	}
	if pErr := engine.AddMarginToVault(ctx, user, id, numeric.CT(1*e8)); pErr == nil || pErr.Kind != ErrTemporarilyUnavailable {
		t.Fatalf("expected AddMarginToVault to reject in ReadOnly, got %v", pErr)
	}
	if _, pErr := engine.Redeem(ctx, user, numeric.ST(1*e8)); pErr == nil || pErr.Kind != ErrTemporarilyUnavailable {
		t.Fatalf("expected Redeem to reject in ReadOnly, got %v", pErr)
	}
	if pErr := engine.CloseVault(ctx, user, id); pErr == nil || pErr.Kind != ErrTemporarilyUnavailable {
		t.Fatalf("expected CloseVault with outstanding debt to reject in ReadOnly, got %v", pErr)
	}

	// repay_to_vault remains available in ReadOnly.
	if pErr := engine.RepayToVault(ctx, user, id, numeric.ST(1000*e8)); pErr != nil {
		t.Fatalf("expected RepayToVault to succeed in ReadOnly, got %v", pErr)
	}
	// Now debt is zero; close_vault must also be permitted.
	if pErr := engine.CloseVault(ctx, user, id); pErr != nil {
		t.Fatalf("expected zero-debt CloseVault to succeed in ReadOnly, got %v", pErr)
	}
	if _, exists := state.Vaults[id]; exists {
		t.Fatalf("expected vault to be closed")
	}
}

// TestRefreshPriceForcesReadOnlyBelowDustFloor covers spec.md §4.8: an oracle
// quote below DustPriceFloor must force ModeReadOnly outright, independent
// of what the ratio-derived mode would otherwise pick.
func TestRefreshPriceForcesReadOnlyBelowDustFloor(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	engine, state, _, _ := newTestEngine(t, 20000, now)
	ctx := context.Background()

	// No vaults means zero system debt, which the ratio-based transition
	// alone would keep in Normal mode (RatioMax never trips Recovery or
	// ReadOnly) — isolating the dust-floor override from the ordinary
	// ratio-derived path.
	if state.Mode != ModeNormal {
		t.Fatalf("expected Normal mode before the dust-floor quote, got %v", state.Mode)
	}

	feed := oracle.NewFake(1, 4, now.Add(time.Minute)) // rate = 0.0001, well under the 0.01 floor
	engine.oracle = feed
	engine.clock = func() time.Time { return now.Add(time.Minute) }

	if err := engine.RefreshPrice(ctx); err != nil {
		t.Fatalf("RefreshPrice: %v", err)
	}
	if state.Mode != ModeReadOnly {
		t.Fatalf("expected ModeReadOnly after a sub-dust-floor quote, got %v", state.Mode)
	}
}

// TestAcquireGuardTooManyConcurrentSurfacesAsProtocolError covers spec.md
// P8: once guard.MaxConcurrent in-flight operations are held, a further
// acquire must surface as ErrTemporarilyUnavailable, not merely at the
// guard-table level exercised by guard_test.go.
func TestAcquireGuardTooManyConcurrentSurfacesAsProtocolError(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	engine, _, _, _ := newTestEngine(t, 20000, now)

	for i := 0; i < guard.MaxConcurrent; i++ {
		caller := makePrincipal(byte(i % 256))
		if _, pErr := engine.acquireGuard(caller, fmt.Sprintf("op%d", i)); pErr != nil {
			t.Fatalf("unexpected error acquiring guard %d: %v", i, pErr)
		}
	}

	if _, pErr := engine.acquireGuard(makePrincipal(255), "overflow"); pErr == nil || pErr.Kind != ErrTemporarilyUnavailable {
		t.Fatalf("expected ErrTemporarilyUnavailable once MaxConcurrent guards are held, got %v", pErr)
	}
}
