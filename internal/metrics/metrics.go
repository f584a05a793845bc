// Package metrics provides Prometheus instrumentation for the escrow engine.
package metrics

import (
	"bufio"
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"

	"github.com/CloverPatchCore/cryptohelp-smart-contracts-public/internal/escrow"
	"github.com/CloverPatchCore/cryptohelp-smart-contracts-public/internal/model"
)

var (
	// NotificationsTotal counts committed notifications by type.
	NotificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "escrow_notifications_total",
		Help: "Total notifications emitted by committed operations",
	}, []string{"type"})

	// RejectionsTotal counts rolled-back operations by error kind.
	RejectionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "escrow_rejections_total",
		Help: "Operations rolled back, by operation and error kind",
	}, []string{"op", "kind"})

	// OperationLatency tracks host call duration, including rejected calls.
	OperationLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "escrow_operation_latency_seconds",
		Help:    "Engine operation latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"op"})

	// AgreementsByStatus tracks how many agreements sit in each status.
	AgreementsByStatus = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "escrow_agreements_by_status",
		Help: "Number of agreements per lifecycle status",
	}, []string{"status"})

	// CommittedCapitalTotal is the capital committed to agreements that
	// have not been settled, in base units summed across base coins.
	CommittedCapitalTotal = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "escrow_committed_capital_total",
		Help: "Investor capital committed to unsettled agreements",
	})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "escrow_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, route, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "escrow_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and route.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "escrow_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Recorder implements escrow.Observer.
type Recorder struct{}

func (Recorder) ObserveCall(op string, elapsed time.Duration, err error) {
	OperationLatency.WithLabelValues(op).Observe(elapsed.Seconds())
	if err != nil {
		RejectionsTotal.WithLabelValues(op, escrow.KindOf(err)).Inc()
	}
}

// AgreementLister is the engine read the status gauges are rebuilt from.
type AgreementLister interface {
	Agreements(ctx context.Context) []*model.Agreement
}

// Sink counts notifications and refreshes the agreement gauges after every
// committed call. It is a host sink.
type Sink struct {
	src AgreementLister
}

// NewSink creates a sink reading gauges from src.
func NewSink(src AgreementLister) *Sink { return &Sink{src: src} }

func (s *Sink) Publish(ctx context.Context, _ string, _ time.Time, events []model.Event) {
	for _, ev := range events {
		NotificationsTotal.WithLabelValues(ev.EventType()).Inc()
	}
	s.Refresh(ctx)
}

// Refresh recomputes the per-status and committed-capital gauges.
func (s *Sink) Refresh(ctx context.Context) {
	counts := make(map[model.Status]int)
	committed := decimal.Zero
	for _, a := range s.src.Agreements(ctx) {
		counts[a.Status]++
		if a.Status != model.StatusSettled {
			committed = committed.Add(a.CommittedCapital.Sub(a.SettledCapital))
		}
	}
	for _, st := range model.AllStatuses() {
		AgreementsByStatus.WithLabelValues(st.String()).Set(float64(counts[st]))
	}
	CommittedCapitalTotal.Set(committed.InexactFloat64())
}

// Middleware returns an HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: 200}
		next.ServeHTTP(wrapped, r)
		duration := time.Since(start).Seconds()

		// Use the route pattern for path label to avoid high cardinality.
		path := r.URL.Path
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			path = rc.RoutePattern()
		}
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// statusWriter wraps http.ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Hijack lets WebSocket upgrades pass through the middleware.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("metrics: response writer does not support hijacking")
	}
	return hj.Hijack()
}

func (w *statusWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }
