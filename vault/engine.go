// Package vault implements the protocol core: vaults, the Normal/Recovery/
// ReadOnly mode state machine, liquidation and redistribution, redemption,
// and the guarded vault operations that tie them to the external ledger and
// oracle collaborators.
//
// Engine's shape — one mutex-guarded State plus collaborator interfaces —
// follows native/lending/engine.go's Engine struct; the operation sequence
// inside each method (acquire guard, validate, call the external ledger,
// mutate state, emit event, release guard) follows
// original_source/vault.rs's async vault operations.
package vault

import (
	"context"
	"sync"
	"time"

	"nhbvault/crypto"
	"nhbvault/events"
	"nhbvault/guard"
	"nhbvault/ledger"
	"nhbvault/numeric"
	"nhbvault/observability"
	"nhbvault/oracle"
)

// Clock abstracts wall-clock time so tests can drive elapsed-hour math
// deterministically.
type Clock func() time.Time

// Engine is the single entry point for every vault operation. All mutation
// of State happens while mu is held; no ledger or oracle call is ever made
// while mu is held, since those are suspension points a guard — not a
// mutex — must serialize.
type Engine struct {
	mu    sync.Mutex
	state *State

	guards *guard.Table

	ctLedger ledger.Client
	stLedger ledger.Client
	oracle   oracle.RateProvider

	log *events.Log

	clock Clock
}

// NewEngine wires an Engine around an existing State and its collaborators.
func NewEngine(state *State, ctLedger, stLedger ledger.Client, rateProvider oracle.RateProvider, log *events.Log, clock Clock) *Engine {
	if clock == nil {
		clock = time.Now
	}
	return &Engine{
		state:    state,
		guards:   guard.NewTable(),
		ctLedger: ctLedger,
		stLedger: stLedger,
		oracle:   rateProvider,
		log:      log,
		clock:    clock,
	}
}

// mutateState runs fn with the state mutex held.
func (e *Engine) mutateState(fn func(*State)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	fn(e.state)
}

// readState runs fn with a read lock's worth of safety (same mutex; the
// protocol has no separate reader lock, matching the single-threaded
// cooperative model the mutex stands in for).
func (e *Engine) readState(fn func(*State)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	fn(e.state)
}

func (e *Engine) currentPrice() (numeric.Price, error) {
	var price numeric.Price
	var ts time.Time
	e.readState(func(s *State) {
		price = s.LastPrice
		ts = s.LastPriceTimestamp
	})
	if err := oracle.CheckFresh(oracle.Quote{Timestamp: ts}, e.clock()); err != nil {
		return numeric.Price{}, temporarilyUnavailable("oracle price stale")
	}
	return price, nil
}

func checkCaller(caller crypto.Principal) *ProtocolError {
	if caller.IsAnonymous() {
		return anonymousCallerNotAllowed()
	}
	return nil
}

// checkAvailable rejects the caller when the protocol is in ModeReadOnly.
// repay_to_vault and a zero-debt close_vault are the only operations spec.md
// §4.6(c) exempts, so neither calls this.
func (e *Engine) checkAvailable() *ProtocolError {
	var mode Mode
	e.readState(func(s *State) { mode = s.Mode })
	if !mode.IsAvailable() {
		return modeReadOnly()
	}
	return nil
}

func (e *Engine) acquireGuard(caller crypto.Principal, op string) (*guard.Handle, *ProtocolError) {
	h, err := e.guards.Acquire(caller.String(), op)
	if err != nil {
		switch err {
		case guard.ErrAlreadyProcessing:
			observability.Default().ObserveGuard(op, "already_processing")
			return nil, alreadyProcessing()
		case guard.ErrTooManyConcurrent:
			observability.Default().ObserveGuard(op, "too_many_concurrent")
			return nil, temporarilyUnavailable("too many concurrent requests")
		default:
			observability.Default().ObserveGuard(op, "error")
			return nil, temporarilyUnavailable(err.Error())
		}
	}
	observability.Default().ObserveGuard(op, "acquired")
	return h, nil
}

// OpenVault implements open_vault(collateral_amount): spec.md §4.5.
func (e *Engine) OpenVault(ctx context.Context, caller crypto.Principal, amount numeric.CT) (VaultID, *ProtocolError) {
	if err := checkCaller(caller); err != nil {
		return 0, err
	}
	if err := e.checkAvailable(); err != nil {
		return 0, err
	}
	if amount < MinCT {
		return 0, amountTooLow(uint64(MinCT))
	}

	h, err := e.acquireGuard(caller, "open_vault")
	if err != nil {
		return 0, err
	}

	if _, pErr := e.ctLedger.TransferFrom(ctx, caller, uint64(amount)); pErr != nil {
		h.Fail()
		return 0, transferFromFailed(uint64(amount), pErr.Error())
	}

	var id VaultID
	e.mutateState(func(s *State) {
		v := s.OpenVault(caller, amount)
		id = v.ID
		e.log.Append(events.OpenVault{VaultID: id, Owner: caller.String(), Collateral: uint64(amount)}, e.clock())
	})
	h.Release()
	return id, nil
}

// BorrowFromVault implements borrow_from_vault(vault_id, amount): spec.md §4.5.
func (e *Engine) BorrowFromVault(ctx context.Context, caller crypto.Principal, id VaultID, amount numeric.ST) (numeric.ST, *ProtocolError) {
	if err := checkCaller(caller); err != nil {
		return 0, err
	}
	if err := e.checkAvailable(); err != nil {
		return 0, err
	}
	if amount < MinST {
		return 0, amountTooLow(uint64(MinST))
	}

	price, err := e.currentPrice()
	if err != nil {
		return 0, err
	}

	h, err := e.acquireGuard(caller, "borrow_from_vault")
	if err != nil {
		return 0, err
	}

	var fee numeric.ST
	var netOut numeric.ST
	var mutateErr *ProtocolError
	e.readState(func(s *State) {
		v, ok := s.Vaults[id]
		if !ok || v.Owner.Key() != caller.Key() {
			mutateErr = callerNotOwner()
			return
		}
		threshold := s.Mode.MinCollateralRatio()
		projectedDebt := v.Debt.Add(amount)
		if !canBorrow(v.Collateral, price, projectedDebt, threshold) {
			mutateErr = genericError("borrow would breach minimum collateral ratio")
			return
		}
		fee = amount.MulRatio(s.BorrowFee)
		netOut = amount.Sub(fee)
	})
	if mutateErr != nil {
		h.Fail()
		return 0, mutateErr
	}

	if _, pErr := e.stLedger.Transfer(ctx, caller, uint64(netOut)); pErr != nil {
		h.Fail()
		return 0, transferFailed(pErr.Error())
	}

	e.mutateState(func(s *State) {
		s.Borrow(id, amount)
		s.RefreshModeAndRatio(price)
		e.log.Append(events.Borrow{VaultID: id, Owner: caller.String(), Amount: uint64(amount), Fee: uint64(fee)}, e.clock())
	})
	h.Release()
	return netOut, nil
}

// canBorrow reports whether collateral at price supports projectedDebt at
// the given minimum ratio: (collateral * price) / threshold >= projectedDebt.
func canBorrow(collateral numeric.CT, price numeric.Price, projectedDebt numeric.ST, threshold numeric.Ratio) bool {
	value := collateral.MulPrice(price)
	required := projectedDebt.MulRatio(threshold)
	return !value.LessThan(required)
}

// RepayToVault implements repay_to_vault(vault_id, amount): spec.md §4.5.
// Available even in ModeReadOnly (spec.md P9).
func (e *Engine) RepayToVault(ctx context.Context, caller crypto.Principal, id VaultID, amount numeric.ST) *ProtocolError {
	if err := checkCaller(caller); err != nil {
		return err
	}
	if amount < MinST {
		return amountTooLow(uint64(MinST))
	}

	h, err := e.acquireGuard(caller, "repay_to_vault")
	if err != nil {
		return err
	}

	var mutateErr *ProtocolError
	e.readState(func(s *State) {
		v, ok := s.Vaults[id]
		if !ok || v.Owner.Key() != caller.Key() {
			mutateErr = callerNotOwner()
			return
		}
		if amount > v.Debt {
			mutateErr = genericError("repay amount exceeds outstanding debt")
		}
	})
	if mutateErr != nil {
		h.Fail()
		return mutateErr
	}

	if _, pErr := e.stLedger.TransferFrom(ctx, caller, uint64(amount)); pErr != nil {
		h.Fail()
		return transferFromFailed(uint64(amount), pErr.Error())
	}

	var price numeric.Price
	e.readState(func(s *State) { price = s.LastPrice })
	e.mutateState(func(s *State) {
		s.Repay(id, amount)
		s.RefreshModeAndRatio(price)
		e.log.Append(events.Repay{VaultID: id, Owner: caller.String(), Amount: uint64(amount)}, e.clock())
	})
	h.Release()
	return nil
}

// AddMarginToVault implements add_margin_to_vault(vault_id, amount): spec.md §4.5.
func (e *Engine) AddMarginToVault(ctx context.Context, caller crypto.Principal, id VaultID, amount numeric.CT) *ProtocolError {
	if err := checkCaller(caller); err != nil {
		return err
	}
	if err := e.checkAvailable(); err != nil {
		return err
	}
	if amount < MinCT {
		return amountTooLow(uint64(MinCT))
	}

	h, err := e.acquireGuard(caller, "add_margin_to_vault")
	if err != nil {
		return err
	}

	var mutateErr *ProtocolError
	e.readState(func(s *State) {
		v, ok := s.Vaults[id]
		if !ok || v.Owner.Key() != caller.Key() {
			mutateErr = callerNotOwner()
		}
	})
	if mutateErr != nil {
		h.Fail()
		return mutateErr
	}

	if _, pErr := e.ctLedger.TransferFrom(ctx, caller, uint64(amount)); pErr != nil {
		h.Fail()
		return transferFromFailed(uint64(amount), pErr.Error())
	}

	var price numeric.Price
	e.readState(func(s *State) { price = s.LastPrice })
	e.mutateState(func(s *State) {
		s.AddMargin(id, amount)
		s.RefreshModeAndRatio(price)
		e.log.Append(events.AddMargin{VaultID: id, Owner: caller.String(), Amount: uint64(amount)}, e.clock())
	})
	h.Release()
	return nil
}

// CloseVault implements close_vault(vault_id): spec.md §4.5. Available even
// in ModeReadOnly when debt is already zero (spec.md P9).
func (e *Engine) CloseVault(ctx context.Context, caller crypto.Principal, id VaultID) *ProtocolError {
	if err := checkCaller(caller); err != nil {
		return err
	}

	h, err := e.acquireGuard(caller, "close_vault")
	if err != nil {
		return err
	}

	var debt numeric.ST
	var mutateErr *ProtocolError
	e.readState(func(s *State) {
		v, ok := s.Vaults[id]
		if !ok || v.Owner.Key() != caller.Key() {
			mutateErr = callerNotOwner()
			return
		}
		debt = v.Debt
	})
	if mutateErr != nil {
		h.Fail()
		return mutateErr
	}

	if debt > 0 {
		if err := e.checkAvailable(); err != nil {
			h.Fail()
			return err
		}
		if _, pErr := e.stLedger.TransferFrom(ctx, caller, uint64(debt)); pErr != nil {
			h.Fail()
			return transferFromFailed(uint64(debt), pErr.Error())
		}
	}

	var collateral numeric.CT
	e.mutateState(func(s *State) {
		if debt > 0 {
			s.Repay(id, debt)
		}
		collateral = s.CloseVault(id)
		fee := numeric.CT(e.ctLedger.Fee())
		payout := collateral
		if payout > fee {
			payout = payout.Sub(fee)
		} else {
			payout = 0
		}
		s.EnqueuePendingTransfer(caller, payout)
		e.log.Append(events.CloseVault{VaultID: id, Owner: caller.String(), ReturnedCollateral: uint64(payout)}, e.clock())
	})
	h.Release()
	return nil
}

// Redeem implements redeem(amount): spec.md §4.4.
func (e *Engine) Redeem(ctx context.Context, caller crypto.Principal, amount numeric.ST) (numeric.CT, *ProtocolError) {
	if err := checkCaller(caller); err != nil {
		return 0, err
	}
	if err := e.checkAvailable(); err != nil {
		return 0, err
	}
	if amount < MinST {
		return 0, amountTooLow(uint64(MinST))
	}

	price, err := e.currentPrice()
	if err != nil {
		return 0, err
	}

	h, err := e.acquireGuard(caller, "redeem")
	if err != nil {
		return 0, err
	}

	var totalDebt numeric.ST
	var baseRate numeric.Ratio
	var elapsedHours uint64
	e.readState(func(s *State) {
		totalDebt = s.totalDebt()
		baseRate = s.BaseRate
		if !s.LastRedemptionTime.IsZero() {
			elapsedHours = uint64(e.clock().Sub(s.LastRedemptionTime) / time.Hour)
		}
	})
	if totalDebt == 0 {
		h.Fail()
		return 0, genericError("redeem rejected: no outstanding debt")
	}
	if amount > totalDebt {
		h.Fail()
		return 0, genericError("redeem amount exceeds outstanding debt")
	}

	newBaseRate := computeRedemptionFee(elapsedHours, amount, totalDebt, baseRate)
	fee := amount.MulRatio(newBaseRate)
	net := amount.Sub(fee)

	if _, pErr := e.stLedger.TransferFrom(ctx, caller, uint64(amount)); pErr != nil {
		h.Fail()
		return 0, transferFromFailed(uint64(amount), pErr.Error())
	}

	var collateralOut numeric.CT
	now := e.clock()
	e.mutateState(func(s *State) {
		touches := s.RedeemOnVaults(amount, net, price)
		for _, touch := range touches {
			collateralOut = collateralOut.Add(touch.CollateralReleased)
		}
		s.BaseRate = newBaseRate
		s.LastRedemptionTime = now
		s.RefreshModeAndRatio(price)
		s.EnqueuePendingTransfer(caller, collateralOut)
		e.log.Append(events.Redeem{
			Redeemer:      caller.String(),
			Amount:        uint64(amount),
			Fee:           uint64(fee),
			CollateralOut: uint64(collateralOut),
			VaultsTouched: uint64(len(touches)),
		}, now)
	})
	observability.Default().ObserveRedemption(uint64(amount), newBaseRate.Float64())
	h.Release()
	return collateralOut, nil
}

// RefreshPrice fetches a new oracle quote and, if fresh, updates state and
// re-evaluates mode. Guarded by guard.AcquireFetchRateGuard so at most one
// refresh runs at a time.
func (e *Engine) RefreshPrice(ctx context.Context) error {
	h, ok := guard.AcquireFetchRateGuard()
	if !ok {
		return nil
	}
	defer h.Release()

	now := e.clock()
	quote, err := e.oracle.FetchRate(ctx, oracle.QueryTime(now))
	if err != nil {
		return err
	}
	if err := oracle.CheckFresh(quote, e.clock()); err != nil {
		return err
	}

	fetchLatency := e.clock().Sub(now).Seconds()
	e.mutateState(func(s *State) {
		before := s.Mode
		s.LastPrice = quote.Price()
		s.LastPriceTimestamp = quote.Timestamp
		s.RefreshModeAndRatio(s.LastPrice)
		if s.LastPrice.LessThan(DustPriceFloor) {
			s.Mode = ModeReadOnly
		}
		if s.Mode != before {
			e.log.Append(events.ModeChange{From: before.String(), To: s.Mode.String()}, e.clock())
			observability.Default().ObserveModeTransition(before.String(), s.Mode.String())
		}
	})
	observability.Default().ObserveOracleRefresh(fetchLatency, e.clock().Sub(quote.Timestamp).Seconds())
	return nil
}

// RunLiquidations checks every vault against the current price and
// liquidates the unhealthy ones, emitting one Liquidate event per
// liquidation, one Redistribute event per survivor share of a full
// liquidation, and a ModeChange event if the mode changes.
func (e *Engine) RunLiquidations() {
	var price numeric.Price
	e.readState(func(s *State) { price = s.LastPrice })

	now := e.clock()
	e.mutateState(func(s *State) {
		outcomes := s.CheckVaults(price)
		for _, o := range outcomes {
			if o.Kind == "full" {
				for _, share := range o.Redistribution {
					e.log.Append(events.Redistribute{
						SourceVaultID: o.VaultID,
						TargetVaultID: share.VaultID,
						Collateral:    uint64(share.Collateral),
						Debt:          uint64(share.Debt),
					}, now)
				}
			}
			e.log.Append(events.Liquidate{
				VaultID:          o.VaultID,
				Kind:             o.Kind,
				CollateralSeized: uint64(o.CollateralSeized),
				DebtCleared:      uint64(o.DebtCleared),
			}, now)
			observability.Default().ObserveLiquidation(o.Kind)
		}
		before := s.Mode
		s.RefreshModeAndRatio(price)
		if s.Mode != before {
			e.log.Append(events.ModeChange{From: before.String(), To: s.Mode.String()}, now)
			observability.Default().ObserveModeTransition(before.String(), s.Mode.String())
		}
	})
}

// DrainPendingTransfers issues every queued outbound CT transfer via the CT
// ledger, removing entries on success and leaving failures in place for the
// next tick, per spec.md §4.9's idempotent-retry contract.
func (e *Engine) DrainPendingTransfers(ctx context.Context) {
	h, ok := guard.AcquireTimerLogicGuard()
	if !ok {
		return
	}
	defer h.Release()

	var pending []PendingMarginTransfer
	e.readState(func(s *State) { pending = append([]PendingMarginTransfer(nil), s.PendingTransfers...) })

	remaining := make([]PendingMarginTransfer, 0, len(pending))
	now := e.clock()
	for _, p := range pending {
		blockIndex, err := e.ctLedger.Transfer(ctx, p.Owner, uint64(p.Amount))
		if err != nil {
			remaining = append(remaining, p)
			continue
		}
		e.mutateState(func(s *State) {
			e.log.Append(events.TransferMargin{Owner: p.Owner.String(), Amount: uint64(p.Amount), BlockIndex: blockIndex}, now)
		})
	}

	// Entries enqueued while the transfers above were in flight sit after the
	// snapshot taken at the start; keep them behind the failed ones.
	var depth int
	e.mutateState(func(s *State) {
		s.PendingTransfers = append(remaining, s.PendingTransfers[len(pending):]...)
		depth = len(s.PendingTransfers)
	})
	observability.Default().SetPendingTransfers(depth)
}
