// Package handlers provides HTTP handlers for the evolution engine and its history.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/aristath/evotrader/internal/modules/evolution"
	"github.com/aristath/evotrader/internal/modules/portfolio"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

// Controller is the part of the engine the API drives
type Controller interface {
	Status() evolution.Status
	Stop()
}

// Deployer installs a genome as a portfolio's live strategy
type Deployer interface {
	Deploy(ctx context.Context, genome *evolution.Genome, portfolioID string) (*portfolio.VirtualPortfolio, error)
}

// Handler handles evolution HTTP requests
type Handler struct {
	engine   Controller
	store    evolution.Store
	deployer Deployer
	log      zerolog.Logger
}

// NewHandler creates a new evolution handler
func NewHandler(engine Controller, store evolution.Store, deployer Deployer, log zerolog.Logger) *Handler {
	return &Handler{
		engine:   engine,
		store:    store,
		deployer: deployer,
		log:      log.With().Str("handler", "evolution").Logger(),
	}
}

type deployRequest struct {
	GenomeID    string `json:"genome_id"`
	Generation  *int   `json:"generation,omitempty"`
	PortfolioID string `json:"portfolio_id,omitempty"`
}

const defaultHistoryLimit = 100

// HandleStatus returns the engine status
func (h *Handler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	if h.engine == nil {
		h.writeError(w, http.StatusServiceUnavailable, "evolution engine not running")
		return
	}
	h.writeJSON(w, http.StatusOK, h.engine.Status())
}

// HandleStop asks the engine to stop after the current step
func (h *Handler) HandleStop(w http.ResponseWriter, r *http.Request) {
	if h.engine == nil {
		h.writeError(w, http.StatusServiceUnavailable, "evolution engine not running")
		return
	}
	h.engine.Stop()
	h.writeJSON(w, http.StatusAccepted, h.engine.Status())
}

// HandleLatestStats returns the newest generation summary
func (h *Handler) HandleLatestStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.store.LatestStats(r.Context())
	if err != nil {
		h.writeStoreError(w, err)
		return
	}
	if stats == nil {
		h.writeError(w, http.StatusNotFound, "no generations recorded")
		return
	}
	h.writeJSON(w, http.StatusOK, stats)
}

// HandleHistory returns generation summaries oldest first
func (h *Handler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	limit := defaultHistoryLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			h.writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	history, err := h.store.History(r.Context(), limit)
	if err != nil {
		h.writeStoreError(w, err)
		return
	}
	if history == nil {
		history = []evolution.GenerationStats{}
	}
	h.writeJSON(w, http.StatusOK, history)
}

// HandleBestGenome returns the fittest genome ever stored
func (h *Handler) HandleBestGenome(w http.ResponseWriter, r *http.Request) {
	best, err := h.store.BestGenome(r.Context())
	if err != nil {
		h.writeStoreError(w, err)
		return
	}
	if best == nil {
		h.writeError(w, http.StatusNotFound, "no evaluated genomes")
		return
	}
	h.writeJSON(w, http.StatusOK, best)
}

// HandleGenerationGenomes returns one generation's genomes, fittest first
func (h *Handler) HandleGenerationGenomes(w http.ResponseWriter, r *http.Request) {
	generation, err := strconv.Atoi(chi.URLParam(r, "generation"))
	if err != nil || generation < 0 {
		h.writeError(w, http.StatusBadRequest, "invalid generation")
		return
	}

	genomes, err := h.store.GenomesByGeneration(r.Context(), generation)
	if err != nil {
		h.writeStoreError(w, err)
		return
	}
	if len(genomes) == 0 {
		h.writeError(w, http.StatusNotFound, "generation not found")
		return
	}
	h.writeJSON(w, http.StatusOK, genomes)
}

// HandleDeploy deploys a stored genome. Without a genome id the best genome
// ever is used; without a portfolio id a new portfolio is created.
func (h *Handler) HandleDeploy(w http.ResponseWriter, r *http.Request) {
	if h.deployer == nil {
		h.writeError(w, http.StatusServiceUnavailable, "deployment not configured")
		return
	}

	var req deployRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	var (
		genome *evolution.Genome
		err    error
	)
	switch {
	case req.GenomeID == "":
		genome, err = h.store.BestGenome(r.Context())
		if err == nil && genome == nil {
			h.writeError(w, http.StatusNotFound, "no evaluated genomes")
			return
		}
	case req.Generation == nil:
		h.writeError(w, http.StatusBadRequest, "generation is required with genome_id")
		return
	default:
		genome, err = h.store.GetGenome(r.Context(), req.GenomeID, *req.Generation)
	}
	if err != nil {
		h.writeStoreError(w, err)
		return
	}

	p, err := h.deployer.Deploy(r.Context(), genome, req.PortfolioID)
	if err != nil {
		h.writeStoreError(w, err)
		return
	}

	status := http.StatusOK
	if req.PortfolioID == "" {
		status = http.StatusCreated
	}
	h.writeJSON(w, status, p.Snapshot())
}

func (h *Handler) writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, evolution.ErrGenomeNotFound), errors.Is(err, portfolio.ErrPortfolioNotFound):
		h.writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, evolution.ErrUnknownStrategy):
		h.writeError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		h.log.Error().Err(err).Msg("Evolution request failed")
		h.writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
