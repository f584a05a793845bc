// Package exchange is the boundary to the external liquidity venue the
// Manager trades pooled capital through. Pool math belongs to the venue;
// the engine only routes swaps, reads quotes and observes prices.
package exchange

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// NativeToken is the ledger id of the chain's native coin. Native swaps are
// routed through the venue's wrapped token (WETH).
const NativeToken = "ETH"

var (
	ErrExpired            = errors.New("exchange: deadline expired")
	ErrInsufficientOutput = errors.New("exchange: insufficient output amount")
	ErrNoPair             = errors.New("exchange: no pair for route")
	ErrInvalidPath        = errors.New("exchange: invalid path")
)

// SwapOrder is an exact-input routed swap. The venue pulls AmountIn of
// Path[0] from From using the allowance From granted to the venue and pays
// the output of Path[len-1] to To.
type SwapOrder struct {
	From         string
	To           string
	AmountIn     decimal.Decimal
	AmountOutMin decimal.Decimal
	Path         []string
	Deadline     time.Time
}

// Observation is a price reading for a pair.
type Observation struct {
	TokenA          string          `json:"token_a"`
	TokenB          string          `json:"token_b"`
	Price           decimal.Decimal `json:"price"`            // TokenB per TokenA
	CumulativePrice decimal.Decimal `json:"cumulative_price"` // Σ price × seconds
	Timestamp       time.Time       `json:"timestamp"`
}

// Exchange is the swap/quote interface consumed by the trading gateway.
type Exchange interface {
	// Address is the spender the engine approves before a swap.
	Address() string
	// WETH is the wrapped native token used in native-coin routes.
	WETH() string

	GetAmountsOut(ctx context.Context, amountIn decimal.Decimal, path []string) ([]decimal.Decimal, error)
	SwapExactTokensForTokens(ctx context.Context, order SwapOrder) ([]decimal.Decimal, error)
	SwapExactETHForTokens(ctx context.Context, order SwapOrder) ([]decimal.Decimal, error)
	SwapExactTokensForETH(ctx context.Context, order SwapOrder) ([]decimal.Decimal, error)
	Observe(ctx context.Context, tokenA, tokenB string) (Observation, error)
}

// Bootstrapper is implemented by venues that can be seeded with pairs.
// Only deployment code uses it.
type Bootstrapper interface {
	CreatePair(ctx context.Context, tokenA, tokenB string, rate decimal.Decimal) error
}

var (
	feeNum   = decimal.NewFromInt(3)
	feeDenom = decimal.NewFromInt(1000)
)

// ApplyFee deducts the venue's 0.3% fee: amount − amount*3/1000, truncated
// to whole units.
func ApplyFee(amount decimal.Decimal) decimal.Decimal {
	fee, _ := amount.Mul(feeNum).QuoRem(feeDenom, 0)
	return amount.Sub(fee)
}
