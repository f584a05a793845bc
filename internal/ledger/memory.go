package ledger

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/shopspring/decimal"
)

type allowanceKey struct {
	token, owner, spender string
}

type balanceKey struct {
	token, owner string
}

// MemoryLedger implements Ledger with in-memory maps. It takes part in host
// rollback through Snapshot/Restore. Not suitable for production.
type MemoryLedger struct {
	mu         sync.RWMutex
	balances   map[balanceKey]decimal.Decimal
	allowances map[allowanceKey]decimal.Decimal
}

// NewMemoryLedger creates an empty ledger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		balances:   make(map[balanceKey]decimal.Decimal),
		allowances: make(map[allowanceKey]decimal.Decimal),
	}
}

// Mint credits amount of token to owner out of thin air (genesis, faucet).
func (l *MemoryLedger) Mint(token, owner string, amount decimal.Decimal) error {
	if amount.IsNegative() {
		return fmt.Errorf("%w: %s", ErrInvalidAmount, amount)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	k := balanceKey{token, owner}
	l.balances[k] = l.balances[k].Add(amount)
	return nil
}

func (l *MemoryLedger) BalanceOf(_ context.Context, token, owner string) (decimal.Decimal, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.balances[balanceKey{token, owner}], nil
}

func (l *MemoryLedger) Allowance(_ context.Context, token, owner, spender string) (decimal.Decimal, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.allowances[allowanceKey{token, owner, spender}], nil
}

// Approve sets (not adds to) the spender's allowance.
func (l *MemoryLedger) Approve(_ context.Context, token, owner, spender string, amount decimal.Decimal) error {
	if amount.IsNegative() {
		return fmt.Errorf("%w: %s", ErrInvalidAmount, amount)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.allowances[allowanceKey{token, owner, spender}] = amount
	return nil
}

func (l *MemoryLedger) Transfer(_ context.Context, token, from, to string, amount decimal.Decimal) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.move(token, from, to, amount)
}

func (l *MemoryLedger) TransferFrom(_ context.Context, token, spender, from, to string, amount decimal.Decimal) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	k := allowanceKey{token, from, spender}
	allowed := l.allowances[k]
	if allowed.LessThan(amount) {
		return fmt.Errorf("%w: %s approved %s of %s to %s, requested %s",
			ErrInsufficientAllowance, from, allowed, token, spender, amount)
	}
	if err := l.move(token, from, to, amount); err != nil {
		return err
	}
	l.allowances[k] = allowed.Sub(amount)
	return nil
}

// move must be called with l.mu held.
func (l *MemoryLedger) move(token, from, to string, amount decimal.Decimal) error {
	if amount.IsNegative() {
		return fmt.Errorf("%w: %s", ErrInvalidAmount, amount)
	}
	fk, tk := balanceKey{token, from}, balanceKey{token, to}
	if l.balances[fk].LessThan(amount) {
		return fmt.Errorf("%w: %s holds %s %s, requested %s",
			ErrInsufficientBalance, from, l.balances[fk], token, amount)
	}
	l.balances[fk] = l.balances[fk].Sub(amount)
	l.balances[tk] = l.balances[tk].Add(amount)
	return nil
}

// Holding is one non-zero balance.
type Holding struct {
	Token  string          `json:"token"`
	Owner  string          `json:"owner"`
	Amount decimal.Decimal `json:"amount"`
}

// Holdings lists every non-zero balance of owner, sorted by token.
func (l *MemoryLedger) Holdings(owner string) []Holding {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var out []Holding
	for k, v := range l.balances {
		if k.owner == owner && !v.IsZero() {
			out = append(out, Holding{Token: k.token, Owner: owner, Amount: v})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Token < out[j].Token })
	return out
}

type memorySnapshot struct {
	balances   map[balanceKey]decimal.Decimal
	allowances map[allowanceKey]decimal.Decimal
}

func (l *MemoryLedger) Snapshot() any {
	l.mu.RLock()
	defer l.mu.RUnlock()
	s := memorySnapshot{
		balances:   make(map[balanceKey]decimal.Decimal, len(l.balances)),
		allowances: make(map[allowanceKey]decimal.Decimal, len(l.allowances)),
	}
	for k, v := range l.balances {
		s.balances[k] = v
	}
	for k, v := range l.allowances {
		s.allowances[k] = v
	}
	return s
}

func (l *MemoryLedger) Restore(snapshot any) {
	s, ok := snapshot.(memorySnapshot)
	if !ok {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balances = s.balances
	l.allowances = s.allowances
}
