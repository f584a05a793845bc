// Package api exposes the escrow engine over HTTP and streams committed
// notifications to WebSocket clients.
//
// Caller identity is taken from the X-Caller-ID header; authenticating it is
// the job of whatever sits in front of this service.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"

	"github.com/CloverPatchCore/cryptohelp-smart-contracts-public/internal/escrow"
	"github.com/CloverPatchCore/cryptohelp-smart-contracts-public/internal/host"
	"github.com/CloverPatchCore/cryptohelp-smart-contracts-public/internal/ledger"
	"github.com/CloverPatchCore/cryptohelp-smart-contracts-public/internal/store"
)

// CallerHeader carries the identity every state-changing request acts as.
const CallerHeader = "X-Caller-ID"

// Handler serves the escrow HTTP surface.
type Handler struct {
	engine *escrow.Engine
	store  store.Store
	log    *logrus.Entry

	// Dev surface, only wired when running on the in-process ledger.
	ledger *ledger.MemoryLedger
	clock  *host.ManualClock
	faucet bool
}

// Option configures a Handler.
type Option func(*Handler)

// WithLedger exposes approve/balance endpoints over an in-process ledger.
// Mint is only served when faucet is true.
func WithLedger(l *ledger.MemoryLedger, faucet bool) Option {
	return func(h *Handler) {
		h.ledger = l
		h.faucet = faucet
	}
}

// WithManualClock exposes the clock advance endpoint.
func WithManualClock(c *host.ManualClock) Option {
	return func(h *Handler) { h.clock = c }
}

// NewHandler creates a handler over engine, reading listings and history
// from st.
func NewHandler(engine *escrow.Engine, st store.Store, log *logrus.Entry, opts ...Option) *Handler {
	if log == nil {
		l := logrus.New()
		l.SetLevel(logrus.PanicLevel)
		log = logrus.NewEntry(l)
	}
	h := &Handler{engine: engine, store: st, log: log.WithField("component", "api")}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// caller returns the request's caller or writes a 401.
func caller(w http.ResponseWriter, r *http.Request) (string, bool) {
	c := r.Header.Get(CallerHeader)
	if c == "" {
		writeError(w, CallerHeader+" header is required", http.StatusUnauthorized)
		return "", false
	}
	return c, true
}

// uintParam parses a numeric URL parameter or writes a 400.
func uintParam(w http.ResponseWriter, r *http.Request, name string) (uint64, bool) {
	v, err := strconv.ParseUint(chi.URLParam(r, name), 10, 64)
	if err != nil {
		writeError(w, "invalid "+name, http.StatusBadRequest)
		return 0, false
	}
	return v, true
}

func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return false
	}
	return true
}

// statusFor maps an engine error kind to an HTTP status.
func statusFor(err error) int {
	switch escrow.KindOf(err) {
	case escrow.KindAccessDenied:
		return http.StatusForbidden
	case escrow.KindNotFound:
		return http.StatusNotFound
	case escrow.KindInvalidArgument:
		return http.StatusBadRequest
	case escrow.KindInsufficientResource:
		return http.StatusUnprocessableEntity
	case escrow.KindInvalidState, escrow.KindTimingViolation, escrow.KindAlreadyFinalized:
		return http.StatusConflict
	}
	switch {
	case errors.Is(err, ledger.ErrInsufficientBalance), errors.Is(err, ledger.ErrInsufficientAllowance):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ledger.ErrInvalidAmount):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// fail writes err with its mapped status. Internal errors are logged and
// not echoed.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		h.log.WithError(err).WithField("path", r.URL.Path).Error("request failed")
		writeError(w, "internal error", status)
		return
	}
	writeErrorKind(w, err.Error(), escrow.KindOf(err), status)
}

// writeJSON writes v as a JSON response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, map[string]string{"error": message})
}

func writeErrorKind(w http.ResponseWriter, message, kind string, status int) {
	writeJSON(w, status, map[string]string{"error": message, "kind": kind})
}
