package exchange

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CloverPatchCore/cryptohelp-smart-contracts-public/internal/ledger"
)

func d(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

type fixture struct {
	ledger *ledger.MemoryLedger
	venue  *MemoryVenue
	now    time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{ledger: ledger.NewMemoryLedger(), now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	f.venue = NewMemoryVenue("venue", "WETH", f.ledger, func() time.Time { return f.now })

	ctx := context.Background()
	require.NoError(t, f.venue.CreatePair(ctx, "WETH", "DAI", d(2000)))
	require.NoError(t, f.venue.CreatePair(ctx, "DAI", "TKNX", d(1)))
	for _, tok := range []string{"WETH", "DAI", "TKNX", NativeToken} {
		require.NoError(t, f.ledger.Mint(tok, "venue", d(1_000_000_000)))
	}
	return f
}

func TestApplyFee(t *testing.T) {
	assert.True(t, ApplyFee(d(1000)).Equal(d(997)))
	assert.True(t, ApplyFee(d(100)).Equal(d(100)), "fee truncates to zero below 334 units")
	assert.True(t, ApplyFee(d(1_000_000)).Equal(d(997_000)))
}

func TestGetAmountsOut_BothDirections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	out, err := f.venue.GetAmountsOut(ctx, d(1), []string{"WETH", "DAI"})
	require.NoError(t, err)
	assert.True(t, out[1].Equal(d(1994)), "got %s", out[1])

	out, err = f.venue.GetAmountsOut(ctx, d(4000), []string{"DAI", "WETH"})
	require.NoError(t, err)
	assert.True(t, out[1].Equal(d(2)), "got %s", out[1])

	out, err = f.venue.GetAmountsOut(ctx, d(10_000), []string{"WETH", "DAI", "TKNX"})
	require.NoError(t, err)
	require.Len(t, out, 3)
	assert.True(t, out[2].LessThan(out[1]))
}

func TestGetAmountsOut_UnknownPair(t *testing.T) {
	f := newFixture(t)
	_, err := f.venue.GetAmountsOut(context.Background(), d(1), []string{"WETH", "TKNX"})
	require.ErrorIs(t, err, ErrNoPair)
}

func TestSwapExactTokensForTokens_MovesFunds(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.ledger.Mint("DAI", "trader", d(10_000)))
	require.NoError(t, f.ledger.Approve(ctx, "DAI", "trader", "venue", d(10_000)))

	amounts, err := f.venue.SwapExactTokensForTokens(ctx, SwapOrder{
		From: "trader", To: "trader", AmountIn: d(1000), AmountOutMin: d(1),
		Path: []string{"DAI", "TKNX"}, Deadline: f.now.Add(time.Minute),
	})
	require.NoError(t, err)
	assert.True(t, amounts[1].Equal(d(997)))

	dai, _ := f.ledger.BalanceOf(ctx, "DAI", "trader")
	tknx, _ := f.ledger.BalanceOf(ctx, "TKNX", "trader")
	assert.True(t, dai.Equal(d(9000)))
	assert.True(t, tknx.Equal(d(997)))
}

func TestSwap_SlippageAndDeadline(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.ledger.Mint("DAI", "trader", d(10_000)))
	require.NoError(t, f.ledger.Approve(ctx, "DAI", "trader", "venue", d(10_000)))

	_, err := f.venue.SwapExactTokensForTokens(ctx, SwapOrder{
		From: "trader", To: "trader", AmountIn: d(1000), AmountOutMin: d(998),
		Path: []string{"DAI", "TKNX"},
	})
	require.ErrorIs(t, err, ErrInsufficientOutput)

	_, err = f.venue.SwapExactTokensForTokens(ctx, SwapOrder{
		From: "trader", To: "trader", AmountIn: d(1000),
		Path: []string{"DAI", "TKNX"}, Deadline: f.now.Add(-time.Second),
	})
	require.ErrorIs(t, err, ErrExpired)

	dai, _ := f.ledger.BalanceOf(ctx, "DAI", "trader")
	assert.True(t, dai.Equal(d(10_000)), "failed swaps must not move funds")
}

func TestSwap_NativeRoutes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.ledger.Mint(NativeToken, "trader", d(10)))
	require.NoError(t, f.ledger.Approve(ctx, NativeToken, "trader", "venue", d(10)))

	amounts, err := f.venue.SwapExactETHForTokens(ctx, SwapOrder{
		From: "trader", To: "trader", AmountIn: d(5), Path: []string{"WETH", "DAI"},
	})
	require.NoError(t, err)
	dai, _ := f.ledger.BalanceOf(ctx, "DAI", "trader")
	assert.True(t, dai.Equal(amounts[1]))
	assert.True(t, dai.Equal(d(9970)), "got %s", dai)

	_, err = f.venue.SwapExactETHForTokens(ctx, SwapOrder{
		From: "trader", To: "trader", AmountIn: d(1), Path: []string{"DAI", "WETH"},
	})
	require.ErrorIs(t, err, ErrInvalidPath)

	require.NoError(t, f.ledger.Approve(ctx, "DAI", "trader", "venue", dai))
	_, err = f.venue.SwapExactTokensForETH(ctx, SwapOrder{
		From: "trader", To: "trader", AmountIn: dai, Path: []string{"DAI", "WETH"},
	})
	require.NoError(t, err)
	eth, _ := f.ledger.BalanceOf(ctx, NativeToken, "trader")
	assert.True(t, eth.Equal(d(9)), "got %s", eth)
}

func TestObserve_CumulativePriceGrows(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.venue.Observe(ctx, "WETH", "DAI")
	require.NoError(t, err)
	assert.True(t, first.Price.Equal(d(2000)))

	f.now = f.now.Add(10 * time.Second)
	second, err := f.venue.Observe(ctx, "WETH", "DAI")
	require.NoError(t, err)
	assert.True(t, second.CumulativePrice.Sub(first.CumulativePrice).Equal(d(20_000)))

	inv, err := f.venue.Observe(ctx, "DAI", "WETH")
	require.NoError(t, err)
	assert.True(t, inv.Price.Equal(decimal.RequireFromString("0.0005")))
}

func TestSnapshotRestore(t *testing.T) {
	f := newFixture(t)
	snap := f.venue.Snapshot()
	require.NoError(t, f.venue.SetRate("WETH", "DAI", d(1000)))
	f.venue.Restore(snap)

	obs, err := f.venue.Observe(context.Background(), "WETH", "DAI")
	require.NoError(t, err)
	assert.True(t, obs.Price.Equal(d(2000)))
}
