// Package ledger defines the protocol's external fungible-token
// collaborators (the CT and ST ledgers) as interfaces, mirroring the
// ICRC-style transfer/transfer_from/balance_of surface the original
// canister calls through icrc_ledger_client_cdk in management.rs.
package ledger

import (
	"context"
	"errors"

	"nhbvault/crypto"
)

// ErrInsufficientFunds is returned when a transfer's source account cannot
// cover the requested amount.
var ErrInsufficientFunds = errors.New("ledger: insufficient funds")

// ErrInsufficientAllowance is returned when a transfer_from exceeds what the
// spender was approved to move.
var ErrInsufficientAllowance = errors.New("ledger: insufficient allowance")

// Client is a fungible token service capable of moving funds into and out
// of the protocol's own account, and out of a caller's account via a prior
// approval (the CT pull on open_vault/add_margin, the ST pull on
// repay_to_vault/close_vault, and the CT/ST push on borrow/redeem).
type Client interface {
	// TransferFrom moves amount from owner to the protocol's account,
	// authorized by a prior allowance. Returns the ledger block index.
	TransferFrom(ctx context.Context, owner crypto.Principal, amount uint64) (blockIndex uint64, err error)
	// Transfer moves amount from the protocol's account to to. Returns the
	// ledger block index.
	Transfer(ctx context.Context, to crypto.Principal, amount uint64) (blockIndex uint64, err error)
	// BalanceOf reports the current balance of an account on this ledger.
	BalanceOf(ctx context.Context, account crypto.Principal) (uint64, error)
	// Fee reports the ledger's fixed per-transfer fee in base units.
	Fee() uint64
}
