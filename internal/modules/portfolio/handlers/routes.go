package handlers

import (
	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers all portfolio routes
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/portfolios", func(r chi.Router) {
		r.Get("/", h.HandleList)
		r.Post("/", h.HandleCreate)

		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.HandleGet)
			r.Delete("/", h.HandleDelete)
			r.Get("/trades", h.HandleTrades)
			r.Get("/metrics", h.HandleMetrics)
			r.Post("/buy", h.HandleBuy) // Manual orders
			r.Post("/sell", h.HandleSell)
		})
	})
}
