package ledger

import (
	"context"
	"sync"

	"nhbvault/crypto"
)

// Fake is an in-memory Client for tests, grounded on the teacher's
// mockEngineState style of standing in for an external ledger with a plain
// map.
type Fake struct {
	mu       sync.Mutex
	balances map[[20]byte]uint64
	fee      uint64
	nextIdx  uint64
	protocol crypto.Principal
}

// NewFake constructs a Fake ledger with the given protocol account and
// per-transfer fee.
func NewFake(protocol crypto.Principal, fee uint64) *Fake {
	return &Fake{
		balances: make(map[[20]byte]uint64),
		fee:      fee,
		protocol: protocol,
	}
}

// Credit seeds an account's balance, for test setup.
func (f *Fake) Credit(account crypto.Principal, amount uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.balances[account.Key()] += amount
}

func (f *Fake) Fee() uint64 { return f.fee }

func (f *Fake) TransferFrom(ctx context.Context, owner crypto.Principal, amount uint64) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := owner.Key()
	if f.balances[key] < amount {
		return 0, ErrInsufficientFunds
	}
	f.balances[key] -= amount
	f.balances[f.protocol.Key()] += amount
	f.nextIdx++
	return f.nextIdx, nil
}

func (f *Fake) Transfer(ctx context.Context, to crypto.Principal, amount uint64) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	protoKey := f.protocol.Key()
	if f.balances[protoKey] < amount {
		return 0, ErrInsufficientFunds
	}
	f.balances[protoKey] -= amount
	f.balances[to.Key()] += amount
	f.nextIdx++
	return f.nextIdx, nil
}

func (f *Fake) BalanceOf(ctx context.Context, account crypto.Principal) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.balances[account.Key()], nil
}
