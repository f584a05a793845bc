package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/CloverPatchCore/cryptohelp-smart-contracts-public/internal/escrow"
	"github.com/CloverPatchCore/cryptohelp-smart-contracts-public/internal/model"
	"github.com/CloverPatchCore/cryptohelp-smart-contracts-public/internal/store"
)

// --- Request/Response types ---

// CreateAgreementRequest is the JSON body for agreement creation. Periods
// are in seconds.
type CreateAgreementRequest struct {
	BaseCoin                     string          `json:"base_coin"`
	TargetReturnRate             uint32          `json:"target_return_rate"`
	MaxCollateralRateIfAvailable uint32          `json:"max_collateral_rate_if_available"`
	CollatAmount                 decimal.Decimal `json:"collat_amount"`
	OpenPeriodSeconds            int64           `json:"open_period_seconds"`
	ActivePeriodSeconds          int64           `json:"active_period_seconds"`
}

// AmountRequest is the body of collateral deposit/withdraw.
type AmountRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

// CommitRequest is the JSON body for an investor commitment.
type CommitRequest struct {
	CapitalAmount            decimal.Decimal `json:"capital_amount"`
	MinCollatRateRequirement uint32          `json:"min_collat_rate_requirement"`
}

// AmountResponse reports the amount an operation actually moved.
type AmountResponse struct {
	AgreementID uint64          `json:"agreement_id"`
	Amount      decimal.Decimal `json:"amount"`
}

// CommitResponse is returned from a successful commitment.
type CommitResponse struct {
	AgreementID uint64         `json:"agreement_id"`
	MandateID   uint64         `json:"mandate_id"`
	Mandate     *model.Mandate `json:"mandate"`
}

// --- HTTP Handlers ---

// CreateAgreement handles POST /api/v1/agreements
func (h *Handler) CreateAgreement(w http.ResponseWriter, r *http.Request) {
	manager, ok := caller(w, r)
	if !ok {
		return
	}
	var req CreateAgreementRequest
	if !decode(w, r, &req) {
		return
	}

	id, err := h.engine.CreateAgreement(r.Context(), manager, escrow.AgreementTerms{
		BaseCoin:                     req.BaseCoin,
		TargetReturnRate:             req.TargetReturnRate,
		MaxCollateralRateIfAvailable: req.MaxCollateralRateIfAvailable,
		CollatAmount:                 req.CollatAmount,
		OpenPeriod:                   time.Duration(req.OpenPeriodSeconds) * time.Second,
		ActivePeriod:                 time.Duration(req.ActivePeriodSeconds) * time.Second,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	a, err := h.engine.Agreement(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, a)
}

// GetAgreement handles GET /api/v1/agreements/{id}
func (h *Handler) GetAgreement(w http.ResponseWriter, r *http.Request) {
	id, ok := uintParam(w, r, "id")
	if !ok {
		return
	}
	a, err := h.engine.Agreement(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// ListAgreements handles GET /api/v1/agreements
// Optionally filtered by ?status=<STATUS> or ?manager=<id>.
func (h *Handler) ListAgreements(w http.ResponseWriter, r *http.Request) {
	agreements, err := h.store.ListAgreements(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}

	q := r.URL.Query()
	var want *model.Status
	if s := q.Get("status"); s != "" {
		var st model.Status
		if err := st.UnmarshalText([]byte(s)); err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
		want = &st
	}
	manager := q.Get("manager")

	out := []model.Agreement{}
	for _, a := range agreements {
		if want != nil && a.Status != *want {
			continue
		}
		if manager != "" && a.Manager != manager {
			continue
		}
		out = append(out, a)
	}
	writeJSON(w, http.StatusOK, out)
}

// action adapts an engine operation of shape (ctx, caller, id) error to a
// handler that answers with the refreshed agreement.
func (h *Handler) action(op func(ctx context.Context, caller string, id uint64) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		who, ok := caller(w, r)
		if !ok {
			return
		}
		id, ok := uintParam(w, r, "id")
		if !ok {
			return
		}
		if err := op(r.Context(), who, id); err != nil {
			h.fail(w, r, err)
			return
		}
		a, err := h.engine.Agreement(r.Context(), id)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, a)
	}
}

// PublishAgreement handles POST /api/v1/agreements/{id}/publish
func (h *Handler) PublishAgreement(w http.ResponseWriter, r *http.Request) {
	h.action(h.engine.PublishAgreement)(w, r)
}

// ActivateAgreement handles POST /api/v1/agreements/{id}/activate
func (h *Handler) ActivateAgreement(w http.ResponseWriter, r *http.Request) {
	h.action(h.engine.ActivateAgreement)(w, r)
}

// ExpireAgreement handles POST /api/v1/agreements/{id}/expire
func (h *Handler) ExpireAgreement(w http.ResponseWriter, r *http.Request) {
	h.action(h.engine.SetExpiredAgreement)(w, r)
}

// closer adapts the liquidating operations, which answer with the audit
// balances.
func (h *Handler) closer(op func(ctx context.Context, caller string, id uint64) (model.AgreementBalance, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		who, ok := caller(w, r)
		if !ok {
			return
		}
		id, ok := uintParam(w, r, "id")
		if !ok {
			return
		}
		bal, err := op(r.Context(), who, id)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, bal)
	}
}

// SellAll handles POST /api/v1/agreements/{id}/sell-all
func (h *Handler) SellAll(w http.ResponseWriter, r *http.Request) {
	h.closer(h.engine.SellAll)(w, r)
}

// CloseInProfit handles POST /api/v1/agreements/{id}/close-in-profit
func (h *Handler) CloseInProfit(w http.ResponseWriter, r *http.Request) {
	h.closer(h.engine.CloseInProfit)(w, r)
}

// StopOut handles POST /api/v1/agreements/{id}/stop-out
func (h *Handler) StopOut(w http.ResponseWriter, r *http.Request) {
	h.closer(h.engine.StopOut)(w, r)
}

// DepositCollateral handles POST /api/v1/agreements/{id}/collateral/deposit
func (h *Handler) DepositCollateral(w http.ResponseWriter, r *http.Request) {
	manager, ok := caller(w, r)
	if !ok {
		return
	}
	id, ok := uintParam(w, r, "id")
	if !ok {
		return
	}
	var req AmountRequest
	if !decode(w, r, &req) {
		return
	}
	received, err := h.engine.DepositCollateral(r.Context(), manager, id, req.Amount)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, AmountResponse{AgreementID: id, Amount: received})
}

// WithdrawCollateral handles POST /api/v1/agreements/{id}/collateral/withdraw
func (h *Handler) WithdrawCollateral(w http.ResponseWriter, r *http.Request) {
	manager, ok := caller(w, r)
	if !ok {
		return
	}
	id, ok := uintParam(w, r, "id")
	if !ok {
		return
	}
	var req AmountRequest
	if !decode(w, r, &req) {
		return
	}
	if err := h.engine.WithdrawCollateral(r.Context(), manager, id, req.Amount); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, AmountResponse{AgreementID: id, Amount: req.Amount})
}

// ReleaseCollateral handles POST /api/v1/agreements/{id}/collateral/release
func (h *Handler) ReleaseCollateral(w http.ResponseWriter, r *http.Request) {
	manager, ok := caller(w, r)
	if !ok {
		return
	}
	id, ok := uintParam(w, r, "id")
	if !ok {
		return
	}
	amount, err := h.engine.WithdrawManagerCollateral(r.Context(), manager, id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, AmountResponse{AgreementID: id, Amount: amount})
}

// Commit handles POST /api/v1/agreements/{id}/commit
func (h *Handler) Commit(w http.ResponseWriter, r *http.Request) {
	investor, ok := caller(w, r)
	if !ok {
		return
	}
	id, ok := uintParam(w, r, "id")
	if !ok {
		return
	}
	var req CommitRequest
	if !decode(w, r, &req) {
		return
	}
	mandateID, err := h.engine.CommitToAgreement(r.Context(), investor, id, req.CapitalAmount, req.MinCollatRateRequirement)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	m, err := h.engine.Mandate(r.Context(), mandateID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, CommitResponse{AgreementID: id, MandateID: mandateID, Mandate: m})
}

// ListMandates handles GET /api/v1/agreements/{id}/mandates
func (h *Handler) ListMandates(w http.ResponseWriter, r *http.Request) {
	id, ok := uintParam(w, r, "id")
	if !ok {
		return
	}
	mandates, err := h.engine.MandatesOf(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if mandates == nil {
		mandates = []*model.Mandate{}
	}
	writeJSON(w, http.StatusOK, mandates)
}

// SettleMandate handles POST /api/v1/agreements/{id}/mandates/{mandateID}/settle
func (h *Handler) SettleMandate(w http.ResponseWriter, r *http.Request) {
	who, ok := caller(w, r)
	if !ok {
		return
	}
	id, ok := uintParam(w, r, "id")
	if !ok {
		return
	}
	mandateID, ok := uintParam(w, r, "mandateID")
	if !ok {
		return
	}
	payout, err := h.engine.SettleMandate(r.Context(), who, id, mandateID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"agreement_id": id,
		"mandate_id":   mandateID,
		"payout":       payout,
	})
}

// GetHistory handles GET /api/v1/agreements/{id}/history
// Returns the journaled notifications of the agreement in emission order.
func (h *Handler) GetHistory(w http.ResponseWriter, r *http.Request) {
	id, ok := uintParam(w, r, "id")
	if !ok {
		return
	}
	if _, err := h.engine.Agreement(r.Context(), id); err != nil {
		h.fail(w, r, err)
		return
	}
	records, err := h.store.ListEventsByAgreement(r.Context(), id)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		h.fail(w, r, err)
		return
	}
	if records == nil {
		records = []model.EventRecord{}
	}
	writeJSON(w, http.StatusOK, records)
}
