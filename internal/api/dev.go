package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/CloverPatchCore/cryptohelp-smart-contracts-public/internal/host"
)

// ApproveRequest grants Spender an allowance over the caller's tokens.
// An empty spender means the escrow itself.
type ApproveRequest struct {
	Token   string          `json:"token"`
	Spender string          `json:"spender"`
	Amount  decimal.Decimal `json:"amount"`
}

// MintRequest credits Owner out of thin air.
type MintRequest struct {
	Token  string          `json:"token"`
	Owner  string          `json:"owner"`
	Amount decimal.Decimal `json:"amount"`
}

// AdvanceRequest moves the manual clock forward.
type AdvanceRequest struct {
	Seconds int64 `json:"seconds"`
}

// LedgerAccount is a balance/allowance reading.
type LedgerAccount struct {
	Token     string          `json:"token"`
	Owner     string          `json:"owner"`
	Balance   decimal.Decimal `json:"balance"`
	Allowance decimal.Decimal `json:"allowance"` // granted to the escrow
}

// Approve handles POST /api/v1/ledger/approve
func (h *Handler) Approve(w http.ResponseWriter, r *http.Request) {
	owner, ok := caller(w, r)
	if !ok {
		return
	}
	var req ApproveRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Token == "" {
		writeError(w, "token is required", http.StatusBadRequest)
		return
	}
	spender := req.Spender
	if spender == "" {
		spender = h.engine.Address()
	}

	// Ledger writes go through the host so they serialize with engine calls.
	err := h.engine.Host().Execute(r.Context(), owner, func(tx *host.Tx) error {
		return h.ledger.Approve(tx.Context(), req.Token, owner, spender, req.Amount)
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.log.WithFields(logrus.Fields{"token": req.Token, "owner": owner, "spender": spender, "amount": req.Amount.String()}).Info("allowance set")
	writeJSON(w, http.StatusOK, map[string]any{"token": req.Token, "owner": owner, "spender": spender, "amount": req.Amount})
}

// GetAccount handles GET /api/v1/ledger/{token}/{owner}
func (h *Handler) GetAccount(w http.ResponseWriter, r *http.Request) {
	token, owner := chi.URLParam(r, "token"), chi.URLParam(r, "owner")
	acct := LedgerAccount{Token: token, Owner: owner}
	err := h.engine.Host().View(r.Context(), func() error {
		var err error
		if acct.Balance, err = h.ledger.BalanceOf(r.Context(), token, owner); err != nil {
			return err
		}
		acct.Allowance, err = h.ledger.Allowance(r.Context(), token, owner, h.engine.Address())
		return err
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, acct)
}

// Mint handles POST /api/v1/ledger/mint
func (h *Handler) Mint(w http.ResponseWriter, r *http.Request) {
	if !h.faucet {
		writeError(w, "faucet is disabled", http.StatusForbidden)
		return
	}
	who, ok := caller(w, r)
	if !ok {
		return
	}
	var req MintRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Owner == "" {
		req.Owner = who
	}
	if req.Token == "" || !req.Amount.IsPositive() {
		writeError(w, "token and a positive amount are required", http.StatusBadRequest)
		return
	}

	err := h.engine.Host().Execute(r.Context(), who, func(*host.Tx) error {
		return h.ledger.Mint(req.Token, req.Owner, req.Amount)
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.log.WithFields(logrus.Fields{"token": req.Token, "owner": req.Owner, "amount": req.Amount.String()}).Info("faucet mint")
	writeJSON(w, http.StatusOK, req)
}

// AdvanceClock handles POST /api/v1/dev/clock/advance
func (h *Handler) AdvanceClock(w http.ResponseWriter, r *http.Request) {
	var req AdvanceRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Seconds <= 0 {
		writeError(w, "seconds must be positive", http.StatusBadRequest)
		return
	}
	now := h.clock.Advance(time.Duration(req.Seconds) * time.Second)
	h.log.WithField("now", now).Info("clock advanced")
	writeJSON(w, http.StatusOK, map[string]time.Time{"now": now})
}
