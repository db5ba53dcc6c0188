package handlers

import (
	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers all evolution routes
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/evolution", func(r chi.Router) {
		r.Get("/status", h.HandleStatus)
		r.Post("/stop", h.HandleStop)

		r.Get("/stats/latest", h.HandleLatestStats)
		r.Get("/stats/history", h.HandleHistory)

		r.Get("/genomes/best", h.HandleBestGenome)
		r.Get("/generations/{generation}/genomes", h.HandleGenerationGenomes)

		r.Post("/deploy", h.HandleDeploy)
	})
}
