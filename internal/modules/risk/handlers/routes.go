package handlers

import (
	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers all risk routes
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/risk", func(r chi.Router) {
		r.Get("/gate", h.HandleGetLastCheck)
		r.Post("/gate/check", h.HandleRunCheck)

		r.Get("/portfolios/{id}/exposure", h.HandleGetExposure)
	})
}
