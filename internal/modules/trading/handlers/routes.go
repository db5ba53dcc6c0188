package handlers

import (
	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers all trading routes
func (h *TradingHandlers) RegisterRoutes(r chi.Router) {
	r.Route("/trading/live", func(r chi.Router) {
		r.Get("/", h.HandleGetLastPass)
		r.Post("/run", h.HandleRunPass) // Run a pass outside the schedule
	})
}
