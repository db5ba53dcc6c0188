// Package handlers provides HTTP handlers for virtual portfolio management.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/aristath/evotrader/internal/domain"
	"github.com/aristath/evotrader/internal/modules/portfolio"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

// Handler handles portfolio HTTP requests
type Handler struct {
	service      *portfolio.Service
	priceSource  domain.PriceSource
	priceTimeout time.Duration
	log          zerolog.Logger
}

// NewHandler creates a new portfolio handler. priceSource may be nil, in
// which case metrics value open positions at their last traded price.
func NewHandler(service *portfolio.Service, priceSource domain.PriceSource, priceTimeout time.Duration, log zerolog.Logger) *Handler {
	return &Handler{
		service:      service,
		priceSource:  priceSource,
		priceTimeout: priceTimeout,
		log:          log.With().Str("handler", "portfolio").Logger(),
	}
}

type createRequest struct {
	Name           string                    `json:"name"`
	InitialCapital float64                   `json:"initial_capital"`
	Strategy       *portfolio.StrategyConfig `json:"strategy,omitempty"`
}

type orderRequest struct {
	Symbol        string   `json:"symbol"`
	Quantity      float64  `json:"quantity"`
	Price         *float64 `json:"price,omitempty"`
	StopLossPct   *float64 `json:"stop_loss_pct,omitempty"`
	TakeProfitPct *float64 `json:"take_profit_pct,omitempty"`
}

// HandleList returns a snapshot of every portfolio
func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	list := h.service.List()
	result := make([]portfolio.Snapshot, 0, len(list))
	for _, p := range list {
		result = append(result, p.Snapshot())
	}
	h.writeJSON(w, http.StatusOK, result)
}

// HandleCreate creates a portfolio
func (h *Handler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	p, err := h.service.Create(req.Name, req.InitialCapital, req.Strategy)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, p.Snapshot())
}

// HandleGet returns one portfolio snapshot
func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	p, err := h.service.Get(chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, p.Snapshot())
}

// HandleDelete removes a portfolio with no open positions
func (h *Handler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Delete(chi.URLParam(r, "id")); err != nil {
		h.writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleTrades returns the trade ledger
func (h *Handler) HandleTrades(w http.ResponseWriter, r *http.Request) {
	p, err := h.service.Get(chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, p.Trades())
}

// HandleMetrics returns performance metrics at current prices
func (h *Handler) HandleMetrics(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	p, err := h.service.Get(id)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	prices := make(map[string]float64)
	if h.priceSource != nil {
		for _, symbol := range p.Symbols() {
			price, err := domain.FetchCurrentPrice(r.Context(), h.priceSource, symbol, h.priceTimeout)
			if err != nil {
				h.log.Warn().Err(err).Str("symbol", symbol).Msg("Price unavailable, using last trade price")
				continue
			}
			prices[symbol] = price
		}
	}

	metrics, err := h.service.Metrics(id, prices)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, metrics)
}

// HandleBuy executes a manual buy
func (h *Handler) HandleBuy(w http.ResponseWriter, r *http.Request) {
	h.handleOrder(w, r, portfolio.SideBuy)
}

// HandleSell executes a manual sell
func (h *Handler) HandleSell(w http.ResponseWriter, r *http.Request) {
	h.handleOrder(w, r, portfolio.SideSell)
}

func (h *Handler) handleOrder(w http.ResponseWriter, r *http.Request, side portfolio.Side) {
	var req orderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Symbol == "" {
		h.writeError(w, http.StatusBadRequest, "symbol is required")
		return
	}

	// Without an explicit price the order fills at the current market price
	var price float64
	switch {
	case req.Price != nil:
		price = *req.Price
	case h.priceSource != nil:
		p, err := domain.FetchCurrentPrice(r.Context(), h.priceSource, req.Symbol, h.priceTimeout)
		if err != nil {
			h.writeError(w, http.StatusServiceUnavailable, err.Error())
			return
		}
		price = p
	default:
		h.writeError(w, http.StatusBadRequest, "price is required")
		return
	}

	trade, err := h.service.Execute(chi.URLParam(r, "id"), portfolio.Order{
		Symbol:        req.Symbol,
		Side:          side,
		Quantity:      req.Quantity,
		Price:         price,
		Reason:        portfolio.ReasonManual,
		StopLossPct:   req.StopLossPct,
		TakeProfitPct: req.TakeProfitPct,
	})
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, trade)
}

func (h *Handler) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, portfolio.ErrPortfolioNotFound):
		h.writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, portfolio.ErrOpenPositions):
		h.writeError(w, http.StatusConflict, err.Error())
	case portfolio.IsOrderRejection(err), errors.Is(err, portfolio.ErrInvalidCapital):
		h.writeError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		h.log.Error().Err(err).Msg("Portfolio request failed")
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
