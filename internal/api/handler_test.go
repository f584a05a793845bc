package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CloverPatchCore/cryptohelp-smart-contracts-public/internal/api"
	"github.com/CloverPatchCore/cryptohelp-smart-contracts-public/internal/escrow"
	"github.com/CloverPatchCore/cryptohelp-smart-contracts-public/internal/exchange"
	"github.com/CloverPatchCore/cryptohelp-smart-contracts-public/internal/host"
	"github.com/CloverPatchCore/cryptohelp-smart-contracts-public/internal/ledger"
	"github.com/CloverPatchCore/cryptohelp-smart-contracts-public/internal/model"
	"github.com/CloverPatchCore/cryptohelp-smart-contracts-public/internal/store"
)

func d(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

type testEnv struct {
	router chi.Router
	hub    *api.WSHub
	clock  *host.ManualClock
	store  *store.MemoryStore
}

// newTestEnv wires an engine on the in-process ledger and venue behind the
// full router.
func newTestEnv(t *testing.T, faucet bool) *testEnv {
	t.Helper()
	ctx := context.Background()
	clock := host.NewManualClock(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))
	h := host.New(clock, nil)
	l := ledger.NewMemoryLedger()
	v := exchange.NewMemoryVenue("venue", "WETH", l, clock.Now)
	h.Register(l, v)
	engine := escrow.NewEngine(h, l, v)

	require.NoError(t, v.CreatePair(ctx, "DAI", "TKNX", d(1)))
	require.NoError(t, l.Mint("TKNX", "venue", d(1_000_000)))
	require.NoError(t, l.Mint("DAI", "venue", d(1_000_000)))

	ms := store.NewMemoryStore()
	hub := api.NewWSHub(nil)
	h.Subscribe(store.NewProjector(ms, engine, nil), hub)

	handler := api.NewHandler(engine, ms, nil, api.WithLedger(l, faucet), api.WithManualClock(clock))
	return &testEnv{router: api.NewRouter(handler, hub), hub: hub, clock: clock, store: ms}
}

func (e *testEnv) do(t *testing.T, method, path, caller string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if caller != "" {
		req.Header.Set(api.CallerHeader, caller)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func (e *testEnv) ok(t *testing.T, method, path, caller string, body, out any) {
	t.Helper()
	w := e.do(t, method, path, caller, body)
	require.Less(t, w.Code, 300, "%s %s: %s", method, path, w.Body.String())
	if out != nil {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), out))
	}
}

func (e *testEnv) fund(t *testing.T, owner string, amount int64) {
	t.Helper()
	e.ok(t, "POST", "/api/v1/ledger/mint", owner, api.MintRequest{Token: "DAI", Amount: d(amount)}, nil)
	e.ok(t, "POST", "/api/v1/ledger/approve", owner, api.ApproveRequest{Token: "DAI", Amount: d(amount)}, nil)
}

func errorKind(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body["kind"]
}

func TestAgreementLifecycle_OverHTTP(t *testing.T) {
	env := newTestEnv(t, true)
	env.fund(t, "manager", 1000)
	env.fund(t, "alice", 400)

	var a model.Agreement
	w := env.do(t, "POST", "/api/v1/agreements", "manager", api.CreateAgreementRequest{
		BaseCoin: "DAI", TargetReturnRate: 10, MaxCollateralRateIfAvailable: 50,
		CollatAmount: d(1000), OpenPeriodSeconds: 3600, ActivePeriodSeconds: 3600,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &a))
	assert.Equal(t, model.StatusPopulated, a.Status)
	assert.True(t, a.CollatAmount.Equal(d(1000)))

	env.ok(t, "POST", "/api/v1/agreements/0/publish", "manager", nil, &a)
	assert.Equal(t, model.StatusPublished, a.Status)

	var commit api.CommitResponse
	w = env.do(t, "POST", "/api/v1/agreements/0/commit", "alice", api.CommitRequest{CapitalAmount: d(400)})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &commit))
	assert.True(t, commit.Mandate.AllocatedCollateral.Equal(d(200)))

	w = env.do(t, "POST", "/api/v1/agreements/0/activate", "manager", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, escrow.KindTimingViolation, errorKind(t, w))

	env.ok(t, "POST", "/api/v1/dev/clock/advance", "", api.AdvanceRequest{Seconds: 3600}, nil)
	env.ok(t, "POST", "/api/v1/agreements/0/activate", "manager", nil, &a)
	assert.Equal(t, model.StatusActive, a.Status)

	var swap api.SwapResponse
	env.ok(t, "POST", "/api/v1/agreements/0/swap", "manager", api.SwapRequest{
		Kind: escrow.RouteTokenToToken, TokenIn: "DAI", TokenOut: "TKNX", AmountIn: d(100),
	}, &swap)
	assert.True(t, swap.AmountOut.Equal(d(100)), swap.AmountOut.String())

	w = env.do(t, "POST", "/api/v1/agreements/0/sell-all", "alice", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, escrow.KindTimingViolation, errorKind(t, w))

	env.ok(t, "POST", "/api/v1/dev/clock/advance", "", api.AdvanceRequest{Seconds: 3600}, nil)
	env.ok(t, "POST", "/api/v1/agreements/0/expire", "alice", nil, &a)
	assert.Equal(t, model.StatusExpired, a.Status)

	var bal model.AgreementBalance
	env.ok(t, "POST", "/api/v1/agreements/0/sell-all", "alice", nil, &bal)
	assert.True(t, bal.Counted.Equal(d(1400)), bal.Counted.String())

	var settled map[string]decimal.Decimal
	env.ok(t, "POST", "/api/v1/agreements/0/mandates/0/settle", "alice", nil, &settled)
	assert.True(t, settled["payout"].Equal(d(440)))

	var released api.AmountResponse
	env.ok(t, "POST", "/api/v1/agreements/0/collateral/release", "manager", nil, &released)
	assert.True(t, released.Amount.Equal(d(960)))

	var acct api.LedgerAccount
	env.ok(t, "GET", "/api/v1/ledger/DAI/alice", "", nil, &acct)
	assert.True(t, acct.Balance.Equal(d(440)))

	var custody map[string]any
	env.ok(t, "GET", "/api/v1/custody/DAI", "", nil, &custody)
	assert.Equal(t, true, custody["balanced"])

	var history []model.EventRecord
	env.ok(t, "GET", "/api/v1/agreements/0/history", "", nil, &history)
	require.NotEmpty(t, history)
	assert.Equal(t, model.TypeCreateAgreement, history[0].Type)
	assert.Equal(t, model.TypeManagerCollateralWithdrawn, history[len(history)-1].Type)

	var listed []model.Agreement
	env.ok(t, "GET", "/api/v1/agreements?status=SETTLED", "", nil, &listed)
	require.Len(t, listed, 1)
	assert.Equal(t, "manager", listed[0].Manager)
}

func TestErrorMapping(t *testing.T) {
	env := newTestEnv(t, true)
	env.fund(t, "manager", 100)
	env.ok(t, "POST", "/api/v1/agreements", "manager", api.CreateAgreementRequest{
		BaseCoin: "DAI", TargetReturnRate: 10, MaxCollateralRateIfAvailable: 50,
		CollatAmount: d(100), OpenPeriodSeconds: 60, ActivePeriodSeconds: 60,
	}, nil)

	tests := []struct {
		name   string
		method string
		path   string
		caller string
		body   any
		status int
	}{
		{"missing caller", "POST", "/api/v1/agreements/0/publish", "", nil, http.StatusUnauthorized},
		{"not manager", "POST", "/api/v1/agreements/0/publish", "mallory", nil, http.StatusForbidden},
		{"unknown agreement", "GET", "/api/v1/agreements/9", "", nil, http.StatusNotFound},
		{"bad id", "GET", "/api/v1/agreements/abc", "", nil, http.StatusBadRequest},
		{"wrong status", "POST", "/api/v1/agreements/0/activate", "manager", nil, http.StatusConflict},
		{"bad terms", "POST", "/api/v1/agreements", "manager", api.CreateAgreementRequest{BaseCoin: "DAI", TargetReturnRate: 101}, http.StatusBadRequest},
		{"nothing approved", "POST", "/api/v1/agreements/0/collateral/deposit", "manager", api.AmountRequest{Amount: d(5)}, http.StatusUnprocessableEntity},
		{"unknown swap kind", "POST", "/api/v1/agreements/0/swap", "manager", api.SwapRequest{Kind: "sideways"}, http.StatusBadRequest},
		{"not settleable", "POST", "/api/v1/agreements/0/mandates/0/settle", "manager", nil, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(t, tt.method, tt.path, tt.caller, tt.body)
			assert.Equal(t, tt.status, w.Code, w.Body.String())
		})
	}
}

func TestMint_FaucetDisabled(t *testing.T) {
	env := newTestEnv(t, false)
	w := env.do(t, "POST", "/api/v1/ledger/mint", "alice", api.MintRequest{Token: "DAI", Amount: d(1)})
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestQuotes(t *testing.T) {
	env := newTestEnv(t, false)

	var amount map[string]decimal.Decimal
	env.ok(t, "GET", "/api/v1/quote/amount?amount=1000&price_base=2&price_quote=1", "", nil, &amount)
	assert.True(t, amount["amount"].Equal(d(1994)), amount["amount"].String())

	var profit map[string]decimal.Decimal
	env.ok(t, "GET", "/api/v1/quote/pure-profit?amount=1000&price_base=2&price_quote=1", "", nil, &profit)
	assert.True(t, profit["profit"].Equal(d(-501)), profit["profit"].String())

	w := env.do(t, "GET", "/api/v1/quote/amount?amount=1000&price_base=0&price_quote=1", "", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = env.do(t, "GET", "/api/v1/quote/amount?amount=x", "", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestWSHub_StreamsCommittedNotifications(t *testing.T) {
	env := newTestEnv(t, true)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go env.hub.Run(ctx)

	srv := httptest.NewServer(env.router)
	t.Cleanup(srv.Close)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/api/v1/ws", nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.Eventually(t, func() bool { return env.hub.ClientCount() == 1 }, time.Second, 10*time.Millisecond)

	env.fund(t, "manager", 100)
	env.ok(t, "POST", "/api/v1/agreements", "manager", api.CreateAgreementRequest{
		BaseCoin: "DAI", TargetReturnRate: 10, MaxCollateralRateIfAvailable: 50,
		CollatAmount: d(100), OpenPeriodSeconds: 60, ActivePeriodSeconds: 60,
	}, nil)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg api.WSMessage
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, model.TypeCreateAgreement, msg.Type)
	assert.Equal(t, "manager", msg.Caller)
	assert.Equal(t, uint64(0), msg.AgreementID)
}
