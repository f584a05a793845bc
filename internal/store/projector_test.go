package store

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CloverPatchCore/cryptohelp-smart-contracts-public/internal/escrow"
	"github.com/CloverPatchCore/cryptohelp-smart-contracts-public/internal/exchange"
	"github.com/CloverPatchCore/cryptohelp-smart-contracts-public/internal/host"
	"github.com/CloverPatchCore/cryptohelp-smart-contracts-public/internal/ledger"
	"github.com/CloverPatchCore/cryptohelp-smart-contracts-public/internal/model"
)

func TestProjector_JournalsCommittedCalls(t *testing.T) {
	ctx := context.Background()
	clock := host.NewManualClock(time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC))
	h := host.New(clock, nil)
	l := ledger.NewMemoryLedger()
	v := exchange.NewMemoryVenue("venue", "WETH", l, clock.Now)
	h.Register(l, v)
	engine := escrow.NewEngine(h, l, v)

	st := NewMemoryStore()
	h.Subscribe(NewProjector(st, engine, nil))

	require.NoError(t, l.Mint("DAI", "manager", decimal.NewFromInt(1_000)))
	require.NoError(t, l.Approve(ctx, "DAI", "manager", engine.Address(), decimal.NewFromInt(600)))
	id, err := engine.CreateAgreement(ctx, "manager", escrow.AgreementTerms{
		BaseCoin: "DAI", TargetReturnRate: 10, MaxCollateralRateIfAvailable: 50,
		CollatAmount: decimal.NewFromInt(1_000), OpenPeriod: time.Hour, ActivePeriod: time.Hour,
	})
	require.NoError(t, err)
	require.NoError(t, engine.PublishAgreement(ctx, "manager", id))

	require.NoError(t, l.Mint("DAI", "alice", decimal.NewFromInt(400)))
	require.NoError(t, l.Approve(ctx, "DAI", "alice", engine.Address(), decimal.NewFromInt(400)))
	_, err = engine.CommitToAgreement(ctx, "alice", id, decimal.NewFromInt(400), 0)
	require.NoError(t, err)

	// Rejected calls leave no trace.
	require.Error(t, engine.ActivateAgreement(ctx, "manager", id))

	evs, err := st.ListEventsByAgreement(ctx, id)
	require.NoError(t, err)
	types := make([]string, len(evs))
	for i, e := range evs {
		types[i] = e.Type
		assert.NotEmpty(t, e.ID)
	}
	assert.Equal(t, []string{
		model.TypeCreateAgreement,
		model.TypePendingCollateral,
		model.TypePublishAgreement,
		model.TypeCommitToAgreement,
	}, types)
	assert.Equal(t, "alice", evs[3].Caller)

	var commit model.CommitToAgreement
	require.NoError(t, json.Unmarshal(evs[3].Payload, &commit))
	assert.True(t, commit.AllocatedCollateral.Equal(decimal.NewFromInt(200)))

	a, err := st.GetAgreement(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, model.StatusPublished, a.Status)
	assert.True(t, a.CommittedCapital.Equal(decimal.NewFromInt(400)))
	assert.True(t, a.FreeCollatAmount.Equal(decimal.NewFromInt(400)))

	ms, err := st.ListMandatesByAgreement(ctx, id)
	require.NoError(t, err)
	require.Len(t, ms, 1)
	assert.Equal(t, "alice", ms[0].Investor)
}

type countingStore struct {
	*MemoryStore
	mandateWrites []uint64
}

func (s *countingStore) UpsertMandate(ctx context.Context, m *model.Mandate) error {
	s.mandateWrites = append(s.mandateWrites, m.ID)
	return s.MemoryStore.UpsertMandate(ctx, m)
}

type projected struct {
	ctx    context.Context
	clock  *host.ManualClock
	ledger *ledger.MemoryLedger
	engine *escrow.Engine
}

func newProjected(t *testing.T, st Store, opts ...ProjectorOption) (*projected, *Projector) {
	t.Helper()
	p := &projected{ctx: context.Background(), clock: host.NewManualClock(time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC))}
	h := host.New(p.clock, nil)
	p.ledger = ledger.NewMemoryLedger()
	v := exchange.NewMemoryVenue("venue", "WETH", p.ledger, p.clock.Now)
	h.Register(p.ledger, v)
	p.engine = escrow.NewEngine(h, p.ledger, v)
	proj := NewProjector(st, p.engine, nil, opts...)
	h.Subscribe(proj)
	return p, proj
}

func (p *projected) commit(t *testing.T, id uint64, investor string, amount int64) uint64 {
	t.Helper()
	n := decimal.NewFromInt(amount)
	require.NoError(t, p.ledger.Mint("DAI", investor, n))
	require.NoError(t, p.ledger.Approve(p.ctx, "DAI", investor, p.engine.Address(), n))
	mid, err := p.engine.CommitToAgreement(p.ctx, investor, id, n, 0)
	require.NoError(t, err)
	return mid
}

func (p *projected) agreement(t *testing.T) uint64 {
	t.Helper()
	require.NoError(t, p.ledger.Mint("DAI", "manager", decimal.NewFromInt(1_000)))
	require.NoError(t, p.ledger.Approve(p.ctx, "DAI", "manager", p.engine.Address(), decimal.NewFromInt(1_000)))
	id, err := p.engine.CreateAgreement(p.ctx, "manager", escrow.AgreementTerms{
		BaseCoin: "DAI", TargetReturnRate: 10, MaxCollateralRateIfAvailable: 50,
		CollatAmount: decimal.NewFromInt(1_000), OpenPeriod: time.Hour, ActivePeriod: time.Hour,
	})
	require.NoError(t, err)
	require.NoError(t, p.engine.PublishAgreement(p.ctx, "manager", id))
	return id
}

func TestProjector_WritesOnlyNamedMandates(t *testing.T) {
	st := &countingStore{MemoryStore: NewMemoryStore()}
	p, _ := newProjected(t, st)
	id := p.agreement(t)

	m0 := p.commit(t, id, "alice", 400)
	m1 := p.commit(t, id, "bob", 200)
	assert.Equal(t, []uint64{m0, m1}, st.mandateWrites)

	p.clock.Advance(time.Hour)
	require.NoError(t, p.engine.ActivateAgreement(p.ctx, "manager", id))
	p.clock.Advance(time.Hour)
	_, err := p.engine.SellAll(p.ctx, "bob", id)
	require.NoError(t, err)
	require.NoError(t, p.engine.SetExpiredAgreement(p.ctx, "bob", id))
	assert.Len(t, st.mandateWrites, 2, "agreement-level calls rewrite no mandates")

	_, err = p.engine.SettleMandate(p.ctx, "bob", id, m1)
	require.NoError(t, err)
	assert.Equal(t, []uint64{m0, m1, m1}, st.mandateWrites)

	ms, err := st.ListMandatesByAgreement(p.ctx, id)
	require.NoError(t, err)
	require.Len(t, ms, 2)
	assert.False(t, ms[0].Settled)
	assert.True(t, ms[1].Settled)
	assert.True(t, ms[1].Payout.Equal(decimal.NewFromInt(220)))
}

func TestProjector_QueuedWritesDrainOnShutdown(t *testing.T) {
	st := NewMemoryStore()
	p, proj := newProjected(t, st, WithQueue(16))
	id := p.agreement(t)
	p.commit(t, id, "alice", 400)

	evs, err := st.ListEventsByAgreement(p.ctx, id)
	require.NoError(t, err)
	assert.Empty(t, evs, "nothing is written until Run")

	ctx, cancel := context.WithCancel(p.ctx)
	cancel()
	require.NoError(t, proj.Run(ctx))

	evs, err = st.ListEventsByAgreement(p.ctx, id)
	require.NoError(t, err)
	require.Len(t, evs, 3)
	assert.Equal(t, model.TypeCommitToAgreement, evs[2].Type)

	a, err := st.GetAgreement(p.ctx, id)
	require.NoError(t, err)
	assert.Equal(t, model.StatusPublished, a.Status)
	assert.True(t, a.CommittedCapital.Equal(decimal.NewFromInt(400)))
}

func TestProjector_QueuedWritesWhileRunning(t *testing.T) {
	st := NewMemoryStore()
	p, proj := newProjected(t, st, WithQueue(4))

	ctx, cancel := context.WithCancel(p.ctx)
	done := make(chan error, 1)
	go func() { done <- proj.Run(ctx) }()

	id := p.agreement(t)
	require.Eventually(t, func() bool {
		a, err := st.GetAgreement(p.ctx, id)
		return err == nil && a.Status == model.StatusPublished
	}, time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}
