package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/CloverPatchCore/cryptohelp-smart-contracts-public/internal/escrow"
	"github.com/CloverPatchCore/cryptohelp-smart-contracts-public/internal/model"
)

// DefaultSwapWindow bounds swaps submitted without a deadline.
const DefaultSwapWindow = 5 * time.Minute

// SwapRequest is the JSON body for POST /api/v1/agreements/{id}/swap.
// A zero deadline defaults to DefaultSwapWindow from the request.
type SwapRequest struct {
	Kind         escrow.Route    `json:"kind"`
	TokenIn      string          `json:"token_in"`
	TokenOut     string          `json:"token_out"`
	AmountIn     decimal.Decimal `json:"amount_in"`
	AmountOutMin decimal.Decimal `json:"amount_out_min"`
	Deadline     time.Time       `json:"deadline"`
}

// SwapResponse is returned from a successful swap.
type SwapResponse struct {
	AgreementID uint64           `json:"agreement_id"`
	Kind        escrow.Route     `json:"kind"`
	AmountOut   decimal.Decimal  `json:"amount_out"`
	Positions   []model.Position `json:"positions"`
}

// ProfitResponse is the signed profit of an agreement.
type ProfitResponse struct {
	AgreementID uint64          `json:"agreement_id"`
	Profit      decimal.Decimal `json:"profit"`
	NonNegative bool            `json:"non_negative"`
}

// BalancesResponse is the liquidation audit pair.
type BalancesResponse struct {
	AgreementID uint64          `json:"agreement_id"`
	Closed      bool            `json:"closed"`
	Init        decimal.Decimal `json:"init"`
	Counted     decimal.Decimal `json:"counted"`
}

// Swap handles POST /api/v1/agreements/{id}/swap
func (h *Handler) Swap(w http.ResponseWriter, r *http.Request) {
	manager, ok := caller(w, r)
	if !ok {
		return
	}
	id, ok := uintParam(w, r, "id")
	if !ok {
		return
	}
	var req SwapRequest
	if !decode(w, r, &req) {
		return
	}

	p := escrow.SwapParams{
		TokenIn:      req.TokenIn,
		TokenOut:     req.TokenOut,
		AmountIn:     req.AmountIn,
		AmountOutMin: req.AmountOutMin,
		Deadline:     req.Deadline,
	}
	if p.Deadline.IsZero() {
		p.Deadline = h.engine.Host().Clock().Now().Add(DefaultSwapWindow)
	}

	ctx := r.Context()
	var (
		out decimal.Decimal
		err error
	)
	switch req.Kind {
	case escrow.RouteTokenToToken:
		out, err = h.engine.SwapTokenToToken(ctx, manager, id, p)
	case escrow.RouteETHForToken:
		out, err = h.engine.SwapETHForToken(ctx, manager, id, p)
	case escrow.RouteTokenForETH:
		out, err = h.engine.SwapTokenForETH(ctx, manager, id, p)
	default:
		writeError(w, "kind must be token_to_token, eth_for_token or token_for_eth", http.StatusBadRequest)
		return
	}
	if err != nil {
		h.fail(w, r, err)
		return
	}

	positions, err := h.engine.Positions(ctx, id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, SwapResponse{AgreementID: id, Kind: req.Kind, AmountOut: out, Positions: positions})
}

// GetPositions handles GET /api/v1/agreements/{id}/positions
// ?token=<id> narrows the answer to one trading position.
func (h *Handler) GetPositions(w http.ResponseWriter, r *http.Request) {
	id, ok := uintParam(w, r, "id")
	if !ok {
		return
	}
	if token := r.URL.Query().Get("token"); token != "" {
		amount, err := h.engine.AgreementTradingTokenAmount(r.Context(), id, token)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, model.Position{AgreementID: id, Token: token, Amount: amount})
		return
	}
	positions, err := h.engine.Positions(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if positions == nil {
		positions = []model.Position{}
	}
	writeJSON(w, http.StatusOK, positions)
}

// GetBalances handles GET /api/v1/agreements/{id}/balances
func (h *Handler) GetBalances(w http.ResponseWriter, r *http.Request) {
	id, ok := uintParam(w, r, "id")
	if !ok {
		return
	}
	bal, closed, err := h.engine.Balances(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, BalancesResponse{AgreementID: id, Closed: closed, Init: bal.Init, Counted: bal.Counted})
}

// GetProfit handles GET /api/v1/agreements/{id}/profit
func (h *Handler) GetProfit(w http.ResponseWriter, r *http.Request) {
	id, ok := uintParam(w, r, "id")
	if !ok {
		return
	}
	abs, nonNegative, err := h.engine.CountProfit(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	profit := abs
	if !nonNegative {
		profit = abs.Neg()
	}
	writeJSON(w, http.StatusOK, ProfitResponse{AgreementID: id, Profit: profit, NonNegative: nonNegative})
}

// GetCustody handles GET /api/v1/custody/{token}
func (h *Handler) GetCustody(w http.ResponseWriter, r *http.Request) {
	report, err := h.engine.Custody(r.Context(), chi.URLParam(r, "token"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"token":    report.Token,
		"held":     report.Held,
		"tracked":  report.Tracked,
		"balanced": report.Balanced(),
	})
}

// quoteArgs reads amount, price_base and price_quote from the query string.
func quoteArgs(w http.ResponseWriter, r *http.Request) (amount, priceBase, priceQuote decimal.Decimal, ok bool) {
	q := r.URL.Query()
	vals := make([]decimal.Decimal, 3)
	for i, name := range []string{"amount", "price_base", "price_quote"} {
		v, err := decimal.NewFromString(q.Get(name))
		if err != nil {
			writeError(w, "invalid "+name, http.StatusBadRequest)
			return decimal.Zero, decimal.Zero, decimal.Zero, false
		}
		vals[i] = v
	}
	return vals[0], vals[1], vals[2], true
}

// QuoteAmount handles GET /api/v1/quote/amount
func (h *Handler) QuoteAmount(w http.ResponseWriter, r *http.Request) {
	amount, pb, pq, ok := quoteArgs(w, r)
	if !ok {
		return
	}
	out, err := escrow.CalcAmount(amount, pb, pq)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]decimal.Decimal{"amount": out})
}

// QuotePureProfit handles GET /api/v1/quote/pure-profit
func (h *Handler) QuotePureProfit(w http.ResponseWriter, r *http.Request) {
	amount, pb, pq, ok := quoteArgs(w, r)
	if !ok {
		return
	}
	profit, err := escrow.CalcPureProfit(amount, pb, pq)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]decimal.Decimal{"profit": profit})
}
