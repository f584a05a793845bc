package metrics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/CloverPatchCore/cryptohelp-smart-contracts-public/internal/escrow"
	"github.com/CloverPatchCore/cryptohelp-smart-contracts-public/internal/model"
)

type staticLister []*model.Agreement

func (l staticLister) Agreements(context.Context) []*model.Agreement { return l }

func TestRecorder_CountsRejectionsByKind(t *testing.T) {
	c := RejectionsTotal.WithLabelValues("publish_agreement", escrow.KindAccessDenied)
	before := testutil.ToFloat64(c)

	Recorder{}.ObserveCall("publish_agreement", time.Millisecond, escrow.ErrAccessDenied)
	Recorder{}.ObserveCall("publish_agreement", time.Millisecond, nil)

	assert.Equal(t, before+1, testutil.ToFloat64(c))
}

func TestSink_RefreshesGauges(t *testing.T) {
	s := NewSink(staticLister{
		{ID: 0, Status: model.StatusActive, CommittedCapital: decimal.NewFromInt(300)},
		{ID: 1, Status: model.StatusActive, CommittedCapital: decimal.NewFromInt(200), SettledCapital: decimal.NewFromInt(50)},
		{ID: 2, Status: model.StatusSettled, CommittedCapital: decimal.NewFromInt(999)},
	})
	traded := NotificationsTotal.WithLabelValues(model.TypeTraded)
	before := testutil.ToFloat64(traded)

	s.Publish(context.Background(), "m", time.Now(), []model.Event{model.Traded{}, model.Traded{}})

	assert.Equal(t, before+2, testutil.ToFloat64(traded))
	assert.Equal(t, 2.0, testutil.ToFloat64(AgreementsByStatus.WithLabelValues("ACTIVE")))
	assert.Equal(t, 1.0, testutil.ToFloat64(AgreementsByStatus.WithLabelValues("SETTLED")))
	assert.Equal(t, 0.0, testutil.ToFloat64(AgreementsByStatus.WithLabelValues("EMPTY")))
	assert.Equal(t, 450.0, testutil.ToFloat64(CommittedCapitalTotal))
}

func TestMiddleware_UsesRoutePattern(t *testing.T) {
	r := chi.NewRouter()
	r.Use(Middleware)
	r.Get("/api/v1/agreements/{id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	c := HTTPRequestsTotal.WithLabelValues("GET", "/api/v1/agreements/{id}", "418")
	before := testutil.ToFloat64(c)

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/api/v1/agreements/7", nil))
	assert.Equal(t, before+1, testutil.ToFloat64(c))
}
