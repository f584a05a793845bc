package exchange

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/CloverPatchCore/cryptohelp-smart-contracts-public/internal/ledger"
)

type pairKey struct{ a, b string }

type pairState struct {
	rate       decimal.Decimal // b per a
	cumulative decimal.Decimal
	updated    time.Time
}

// MemoryVenue is a fixed-rate venue for development and tests. Inventory is
// held in the ledger under the venue's address. It takes part in host
// rollback through Snapshot/Restore.
type MemoryVenue struct {
	mu      sync.RWMutex
	address string
	weth    string
	ledger  ledger.Ledger
	now     func() time.Time
	pairs   map[pairKey]*pairState

	// OnSwap, if set, runs after the venue has pulled the input and before
	// it pays out. Tests use it to simulate a hostile callback.
	OnSwap func(ctx context.Context) error
}

// NewMemoryVenue creates a venue trading from address on l.
func NewMemoryVenue(address, weth string, l ledger.Ledger, now func() time.Time) *MemoryVenue {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &MemoryVenue{
		address: address,
		weth:    weth,
		ledger:  l,
		now:     now,
		pairs:   make(map[pairKey]*pairState),
	}
}

func (v *MemoryVenue) Address() string { return v.address }
func (v *MemoryVenue) WETH() string    { return v.weth }

// CreatePair registers tokenA/tokenB at rate (tokenB per tokenA).
func (v *MemoryVenue) CreatePair(_ context.Context, tokenA, tokenB string, rate decimal.Decimal) error {
	if tokenA == tokenB {
		return fmt.Errorf("%w: identical tokens %s", ErrInvalidPath, tokenA)
	}
	if !rate.IsPositive() {
		return fmt.Errorf("exchange: rate must be positive, got %s", rate)
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	if _, ok := v.pairs[pairKey{tokenA, tokenB}]; ok {
		return fmt.Errorf("exchange: pair %s/%s exists", tokenA, tokenB)
	}
	if _, ok := v.pairs[pairKey{tokenB, tokenA}]; ok {
		return fmt.Errorf("exchange: pair %s/%s exists", tokenB, tokenA)
	}
	v.pairs[pairKey{tokenA, tokenB}] = &pairState{rate: rate, updated: v.now()}
	return nil
}

// SetRate moves the price of an existing pair.
func (v *MemoryVenue) SetRate(tokenA, tokenB string, rate decimal.Decimal) error {
	if !rate.IsPositive() {
		return fmt.Errorf("exchange: rate must be positive, got %s", rate)
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	if p, ok := v.pairs[pairKey{tokenA, tokenB}]; ok {
		v.accumulate(p)
		p.rate = rate
		return nil
	}
	if p, ok := v.pairs[pairKey{tokenB, tokenA}]; ok {
		v.accumulate(p)
		p.rate = decimal.NewFromInt(1).Div(rate)
		return nil
	}
	return fmt.Errorf("%w: %s/%s", ErrNoPair, tokenA, tokenB)
}

// accumulate must be called with v.mu held.
func (v *MemoryVenue) accumulate(p *pairState) {
	now := v.now()
	if elapsed := now.Sub(p.updated); elapsed > 0 {
		secs := decimal.NewFromInt(int64(elapsed / time.Second))
		p.cumulative = p.cumulative.Add(p.rate.Mul(secs))
	}
	p.updated = now
}

// hop converts amountIn of from into to, fee included. Called with v.mu held.
func (v *MemoryVenue) hop(amountIn decimal.Decimal, from, to string) (decimal.Decimal, error) {
	if p, ok := v.pairs[pairKey{from, to}]; ok {
		gross := amountIn.Mul(p.rate).Floor()
		return ApplyFee(gross), nil
	}
	if p, ok := v.pairs[pairKey{to, from}]; ok {
		gross, _ := amountIn.QuoRem(p.rate, 0)
		return ApplyFee(gross), nil
	}
	return decimal.Zero, fmt.Errorf("%w: %s/%s", ErrNoPair, from, to)
}

func (v *MemoryVenue) amountsOut(amountIn decimal.Decimal, path []string) ([]decimal.Decimal, error) {
	if len(path) < 2 {
		return nil, fmt.Errorf("%w: need at least two tokens", ErrInvalidPath)
	}
	if !amountIn.IsPositive() {
		return nil, fmt.Errorf("exchange: amount in must be positive, got %s", amountIn)
	}
	amounts := make([]decimal.Decimal, len(path))
	amounts[0] = amountIn
	for i := 0; i+1 < len(path); i++ {
		out, err := v.hop(amounts[i], path[i], path[i+1])
		if err != nil {
			return nil, err
		}
		amounts[i+1] = out
	}
	return amounts, nil
}

func (v *MemoryVenue) GetAmountsOut(_ context.Context, amountIn decimal.Decimal, path []string) ([]decimal.Decimal, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.amountsOut(amountIn, path)
}

func (v *MemoryVenue) SwapExactTokensForTokens(ctx context.Context, order SwapOrder) ([]decimal.Decimal, error) {
	if len(order.Path) < 2 {
		return nil, fmt.Errorf("%w: need at least two tokens", ErrInvalidPath)
	}
	return v.swap(ctx, order, order.Path[0], order.Path[len(order.Path)-1])
}

func (v *MemoryVenue) SwapExactETHForTokens(ctx context.Context, order SwapOrder) ([]decimal.Decimal, error) {
	if len(order.Path) < 2 || order.Path[0] != v.weth {
		return nil, fmt.Errorf("%w: native route must start at %s", ErrInvalidPath, v.weth)
	}
	return v.swap(ctx, order, NativeToken, order.Path[len(order.Path)-1])
}

func (v *MemoryVenue) SwapExactTokensForETH(ctx context.Context, order SwapOrder) ([]decimal.Decimal, error) {
	if len(order.Path) < 2 || order.Path[len(order.Path)-1] != v.weth {
		return nil, fmt.Errorf("%w: native route must end at %s", ErrInvalidPath, v.weth)
	}
	return v.swap(ctx, order, order.Path[0], NativeToken)
}

// swap settles order paying in `in` and out `out`; for native legs those
// differ from the path ends.
func (v *MemoryVenue) swap(ctx context.Context, order SwapOrder, in, out string) ([]decimal.Decimal, error) {
	if !order.Deadline.IsZero() && v.now().After(order.Deadline) {
		return nil, ErrExpired
	}

	v.mu.RLock()
	amounts, err := v.amountsOut(order.AmountIn, order.Path)
	v.mu.RUnlock()
	if err != nil {
		return nil, err
	}
	amountOut := amounts[len(amounts)-1]
	if amountOut.LessThan(order.AmountOutMin) {
		return nil, fmt.Errorf("%w: got %s, want at least %s", ErrInsufficientOutput, amountOut, order.AmountOutMin)
	}

	if err := v.ledger.TransferFrom(ctx, in, v.address, order.From, v.address, order.AmountIn); err != nil {
		return nil, fmt.Errorf("exchange: pull %s: %w", in, err)
	}
	if v.OnSwap != nil {
		if err := v.OnSwap(ctx); err != nil {
			return nil, err
		}
	}
	if err := v.ledger.Transfer(ctx, out, v.address, order.To, amountOut); err != nil {
		return nil, fmt.Errorf("exchange: pay %s: %w", out, err)
	}

	v.mu.Lock()
	for i := 0; i+1 < len(order.Path); i++ {
		if p, ok := v.pairs[pairKey{order.Path[i], order.Path[i+1]}]; ok {
			v.accumulate(p)
		} else if p, ok := v.pairs[pairKey{order.Path[i+1], order.Path[i]}]; ok {
			v.accumulate(p)
		}
	}
	v.mu.Unlock()

	return amounts, nil
}

// Observe returns the spot price of tokenB per tokenA and its time integral.
func (v *MemoryVenue) Observe(_ context.Context, tokenA, tokenB string) (Observation, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	obs := Observation{TokenA: tokenA, TokenB: tokenB, Timestamp: v.now()}
	if p, ok := v.pairs[pairKey{tokenA, tokenB}]; ok {
		v.accumulate(p)
		obs.Price = p.rate
		obs.CumulativePrice = p.cumulative
		return obs, nil
	}
	if p, ok := v.pairs[pairKey{tokenB, tokenA}]; ok {
		v.accumulate(p)
		obs.Price = decimal.NewFromInt(1).Div(p.rate)
		// Cumulative is kept in the pair's creation orientation.
		obs.CumulativePrice = p.cumulative
		return obs, nil
	}
	return Observation{}, fmt.Errorf("%w: %s/%s", ErrNoPair, tokenA, tokenB)
}

func (v *MemoryVenue) Snapshot() any {
	v.mu.RLock()
	defer v.mu.RUnlock()
	s := make(map[pairKey]pairState, len(v.pairs))
	for k, p := range v.pairs {
		s[k] = *p
	}
	return s
}

func (v *MemoryVenue) Restore(snapshot any) {
	s, ok := snapshot.(map[pairKey]pairState)
	if !ok {
		return
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	v.pairs = make(map[pairKey]*pairState, len(s))
	for k, p := range s {
		p := p
		v.pairs[k] = &p
	}
}
