// Package ledger is the boundary to the fungible-value ledger the escrow
// moves base coin and traded tokens through. The engine only ever talks to
// the Ledger interface; MemoryLedger is an in-process implementation for
// development and tests.
package ledger

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
)

var (
	// ErrInsufficientBalance is returned when the payer holds less than the
	// transfer amount.
	ErrInsufficientBalance = errors.New("ledger: insufficient balance")

	// ErrInsufficientAllowance is returned when a spender moves more than it
	// was approved for.
	ErrInsufficientAllowance = errors.New("ledger: insufficient allowance")

	// ErrInvalidAmount is returned for negative amounts.
	ErrInvalidAmount = errors.New("ledger: invalid amount")
)

// Ledger is the capped fungible-value transfer interface.
type Ledger interface {
	BalanceOf(ctx context.Context, token, owner string) (decimal.Decimal, error)
	Allowance(ctx context.Context, token, owner, spender string) (decimal.Decimal, error)
	Approve(ctx context.Context, token, owner, spender string, amount decimal.Decimal) error
	Transfer(ctx context.Context, token, from, to string, amount decimal.Decimal) error
	TransferFrom(ctx context.Context, token, spender, from, to string, amount decimal.Decimal) error
}

// PullCapped moves at most amount of token from `from` to spender, limited
// by what `from` has approved and actually holds. It returns the amount
// received, which may be zero; a short allowance is not an error.
func PullCapped(ctx context.Context, l Ledger, token, from, spender string, amount decimal.Decimal) (decimal.Decimal, error) {
	if !amount.IsPositive() {
		return decimal.Zero, nil
	}

	allowance, err := l.Allowance(ctx, token, from, spender)
	if err != nil {
		return decimal.Zero, err
	}
	balance, err := l.BalanceOf(ctx, token, from)
	if err != nil {
		return decimal.Zero, err
	}

	take := decimal.Min(amount, allowance, balance)
	if !take.IsPositive() {
		return decimal.Zero, nil
	}
	if err := l.TransferFrom(ctx, token, spender, from, spender, take); err != nil {
		return decimal.Zero, err
	}
	return take, nil
}
