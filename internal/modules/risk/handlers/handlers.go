// Package handlers provides HTTP handlers for the risk gate and position exposure.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/aristath/evotrader/internal/domain"
	"github.com/aristath/evotrader/internal/modules/portfolio"
	"github.com/aristath/evotrader/internal/modules/risk"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

// Handler handles risk HTTP requests
type Handler struct {
	gate         *risk.Gate
	portfolios   *portfolio.Service
	priceSource  domain.PriceSource
	priceTimeout time.Duration
	log          zerolog.Logger
}

// NewHandler creates a new risk handler
func NewHandler(
	gate *risk.Gate,
	portfolios *portfolio.Service,
	priceSource domain.PriceSource,
	priceTimeout time.Duration,
	log zerolog.Logger,
) *Handler {
	return &Handler{
		gate:         gate,
		portfolios:   portfolios,
		priceSource:  priceSource,
		priceTimeout: priceTimeout,
		log:          log.With().Str("handler", "risk").Logger(),
	}
}

// PositionExposure is one position's distance to its risk thresholds
type PositionExposure struct {
	Symbol          string   `json:"symbol"`
	Quantity        float64  `json:"quantity"`
	AvgCost         float64  `json:"avg_cost"`
	CurrentPrice    *float64 `json:"current_price,omitempty"`
	StopLossPrice   *float64 `json:"stop_loss_price,omitempty"`
	TakeProfitPrice *float64 `json:"take_profit_price,omitempty"`
	// Signed percentage moves from the current price to each threshold
	ToStopLossPct   *float64 `json:"to_stop_loss_pct,omitempty"`
	ToTakeProfitPct *float64 `json:"to_take_profit_pct,omitempty"`
	Exempt          bool     `json:"exempt"`
}

// HandleGetLastCheck handles GET /api/risk/gate
func (h *Handler) HandleGetLastCheck(w http.ResponseWriter, r *http.Request) {
	result := h.gate.LastResult()
	if result == nil {
		h.writeJSON(w, http.StatusOK, map[string]interface{}{"data": nil})
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"data": result})
}

// HandleRunCheck handles POST /api/risk/gate/check
func (h *Handler) HandleRunCheck(w http.ResponseWriter, r *http.Request) {
	result, err := h.gate.Check(r.Context())
	if err != nil {
		h.log.Warn().Err(err).Msg("Risk check not started")
		h.writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"data": result})
}

// HandleGetExposure handles GET /api/risk/portfolios/{id}/exposure
func (h *Handler) HandleGetExposure(w http.ResponseWriter, r *http.Request) {
	p, err := h.portfolios.Get(chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, portfolio.ErrPortfolioNotFound) {
			h.writeError(w, http.StatusNotFound, err.Error())
			return
		}
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	positions := p.Positions()
	exposure := make([]PositionExposure, 0, len(positions))
	for _, pos := range positions {
		e := PositionExposure{
			Symbol:          pos.Symbol,
			Quantity:        pos.Quantity,
			AvgCost:         pos.AvgCost,
			StopLossPrice:   pos.StopLossPrice(),
			TakeProfitPrice: pos.TakeProfitPrice(),
			Exempt:          !pos.RiskParamsValid(),
		}
		if h.priceSource != nil {
			if price, err := domain.FetchCurrentPrice(r.Context(), h.priceSource, pos.Symbol, h.priceTimeout); err == nil {
				e.CurrentPrice = &price
				e.ToStopLossPct = distancePct(price, e.StopLossPrice)
				e.ToTakeProfitPct = distancePct(price, e.TakeProfitPrice)
			}
		}
		exposure = append(exposure, e)
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"data": exposure,
		"metadata": map[string]interface{}{
			"portfolio_id": p.ID(),
			"timestamp":    time.Now().Format(time.RFC3339),
		},
	})
}

func distancePct(price float64, threshold *float64) *float64 {
	if threshold == nil || price <= 0 {
		return nil
	}
	d := (*threshold - price) / price * 100
	return &d
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
