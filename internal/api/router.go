package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// NewRouter wires the HTTP surface.
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(CorrelationID(deps.Logger))
	r.Use(RequestLogger)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/v1", func(r chi.Router) {
		r.Post("/accounts", handleOpenAccount(deps))
		r.Get("/accounts/{accountID}/balance", handleGetBalance(deps))
		r.Get("/accounts/{accountID}/transactions", handleListTransactions(deps))

		r.Post("/transfers", handleTransfer(deps))

		r.Post("/scheduled-transfers", handleScheduleTransfer(deps))
		r.Delete("/scheduled-transfers/{scheduleID}", handleCancelSchedule(deps))
	})

	return r
}
