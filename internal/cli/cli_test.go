package cli

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CloverPatchCore/cryptohelp-smart-contracts-public/internal/config"
)

func TestRunDemo(t *testing.T) {
	var out bytes.Buffer
	rep, err := runDemo(context.Background(), &out)
	require.NoError(t, err)

	n := decimal.NewFromInt
	assert.True(t, rep.CollateralAfterCreate.Equal(n(70_000)))
	assert.True(t, rep.CollateralAfterDeposits.Equal(n(220_000)))
	assert.True(t, rep.AliceCapital.Equal(n(30_000)))
	assert.True(t, rep.CommittedCapital.Equal(n(35_000)))
	assert.True(t, rep.AlicePayout.Equal(n(39_000)))
	assert.True(t, rep.BobPayout.Equal(n(6_500)))
	assert.True(t, rep.CollateralDrawn.Equal(n(10_500)))
	assert.True(t, rep.ManagerWithdrawal.Equal(n(209_500)))
	assert.Contains(t, out.String(), "balanced true")
}

func TestBuildApp_InMemory(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Clock.Mode = "manual"
	cfg.Dev.Faucet = true
	cfg.Exchange.Pairs = []config.Pair{{TokenA: "WETH", TokenB: "DAI", Rate: decimal.NewFromInt(2000)}}
	cfg.Ledger.Genesis = []config.Allocation{{Token: "DAI", Owner: "venue", Amount: decimal.NewFromInt(1_000_000)}}

	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	a, err := buildApp(context.Background(), cfg, log)
	require.NoError(t, err)
	defer a.close()

	for path, want := range map[string]int{
		"/health":                  http.StatusOK,
		"/api/v1/agreements":       http.StatusOK,
		"/api/v1/ledger/DAI/venue": http.StatusOK,
		"/api/v1/custody/DAI":      http.StatusOK,
		"/api/v1/agreements/0":     http.StatusNotFound,
	} {
		w := httptest.NewRecorder()
		a.router.ServeHTTP(w, httptest.NewRequest("GET", path, nil))
		assert.Equal(t, want, w.Code, path)
	}

	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, httptest.NewRequest("POST", "/api/v1/dev/clock/advance", bytes.NewBufferString(`{"seconds":60}`)))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestVersionCommand(t *testing.T) {
	var out bytes.Buffer
	versionCmd.SetOut(&out)
	versionCmd.Run(versionCmd, nil)
	assert.Contains(t, out.String(), "escrow server version "+version)
}
