package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/CloverPatchCore/cryptohelp-smart-contracts-public/internal/metrics"
)

// NewRouter mounts the handler and the WebSocket hub on a chi router with
// the standard middleware stack. hub may be nil.
func NewRouter(h *Handler, hub *WSHub) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(metrics.Middleware)

	// CORS middleware for frontend cross-origin requests.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, "+CallerHeader)
			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"escrow-engine"}`))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		if hub != nil {
			r.Get("/ws", hub.HandleWS)
		}

		r.Get("/agreements", h.ListAgreements)
		r.Post("/agreements", h.CreateAgreement)

		r.Route("/agreements/{id}", func(r chi.Router) {
			r.Get("/", h.GetAgreement)

			// Lifecycle.
			r.Post("/publish", h.PublishAgreement)
			r.Post("/activate", h.ActivateAgreement)
			r.Post("/expire", h.ExpireAgreement)
			r.Post("/sell-all", h.SellAll)
			r.Post("/close-in-profit", h.CloseInProfit)
			r.Post("/stop-out", h.StopOut)

			// Collateral.
			r.Post("/collateral/deposit", h.DepositCollateral)
			r.Post("/collateral/withdraw", h.WithdrawCollateral)
			r.Post("/collateral/release", h.ReleaseCollateral)

			// Mandates.
			r.Post("/commit", h.Commit)
			r.Get("/mandates", h.ListMandates)
			r.Post("/mandates/{mandateID}/settle", h.SettleMandate)

			// Trading and reads.
			r.Post("/swap", h.Swap)
			r.Get("/positions", h.GetPositions)
			r.Get("/balances", h.GetBalances)
			r.Get("/profit", h.GetProfit)
			r.Get("/history", h.GetHistory)
		})

		r.Get("/custody/{token}", h.GetCustody)
		r.Get("/quote/amount", h.QuoteAmount)
		r.Get("/quote/pure-profit", h.QuotePureProfit)

		// Dev surface over the in-process ledger and clock.
		if h.ledger != nil {
			r.Post("/ledger/approve", h.Approve)
			r.Post("/ledger/mint", h.Mint)
			r.Get("/ledger/{token}/{owner}", h.GetAccount)
		}
		if h.clock != nil {
			r.Post("/dev/clock/advance", h.AdvanceClock)
		}
	})

	return r
}
