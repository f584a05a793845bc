package ledger

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

func TestPullCapped(t *testing.T) {
	tests := []struct {
		name      string
		balance   int64
		allowance int64
		request   int64
		want      int64
	}{
		{"full fill", 100_000, 70_000, 70_000, 70_000},
		{"capped by allowance", 500_000, 30_000, 1_200_000, 30_000},
		{"capped by balance", 10, 1_000, 500, 10},
		{"nothing approved", 1_000, 0, 500, 0},
		{"zero request", 1_000, 1_000, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			l := NewMemoryLedger()
			require.NoError(t, l.Mint("DAI", "manager", d(tt.balance)))
			require.NoError(t, l.Approve(ctx, "DAI", "manager", "escrow", d(tt.allowance)))

			got, err := PullCapped(ctx, l, "DAI", "manager", "escrow", d(tt.request))
			require.NoError(t, err)
			assert.True(t, got.Equal(d(tt.want)), "got %s want %d", got, tt.want)

			held, _ := l.BalanceOf(ctx, "DAI", "escrow")
			assert.True(t, held.Equal(d(tt.want)))
			left, _ := l.Allowance(ctx, "DAI", "manager", "escrow")
			assert.True(t, left.Equal(d(tt.allowance-tt.want)))
		})
	}
}

func TestTransferFrom_RejectsOverAllowance(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLedger()
	require.NoError(t, l.Mint("DAI", "alice", d(100)))
	require.NoError(t, l.Approve(ctx, "DAI", "alice", "bob", d(10)))

	err := l.TransferFrom(ctx, "DAI", "bob", "alice", "bob", d(11))
	require.ErrorIs(t, err, ErrInsufficientAllowance)

	bal, _ := l.BalanceOf(ctx, "DAI", "alice")
	assert.True(t, bal.Equal(d(100)))
}

func TestTransfer_RejectsOverdraft(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLedger()
	require.NoError(t, l.Mint("DAI", "alice", d(5)))

	err := l.Transfer(ctx, "DAI", "alice", "bob", d(6))
	require.ErrorIs(t, err, ErrInsufficientBalance)
}

func TestSnapshotRestore(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLedger()
	require.NoError(t, l.Mint("DAI", "alice", d(100)))

	snap := l.Snapshot()
	require.NoError(t, l.Transfer(ctx, "DAI", "alice", "bob", d(40)))
	require.NoError(t, l.Approve(ctx, "DAI", "alice", "bob", d(7)))
	l.Restore(snap)

	alice, _ := l.BalanceOf(ctx, "DAI", "alice")
	bob, _ := l.BalanceOf(ctx, "DAI", "bob")
	allowance, _ := l.Allowance(ctx, "DAI", "alice", "bob")
	assert.True(t, alice.Equal(d(100)))
	assert.True(t, bob.IsZero())
	assert.True(t, allowance.IsZero())
}

func TestHoldings(t *testing.T) {
	l := NewMemoryLedger()
	require.NoError(t, l.Mint("WETH", "alice", d(2)))
	require.NoError(t, l.Mint("DAI", "alice", d(3)))
	require.NoError(t, l.Mint("DAI", "bob", d(9)))

	h := l.Holdings("alice")
	require.Len(t, h, 2)
	assert.Equal(t, "DAI", h[0].Token)
	assert.Equal(t, "WETH", h[1].Token)
}
