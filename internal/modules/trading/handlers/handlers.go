// Package handlers provides HTTP handlers for the live strategy loop.
package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/aristath/evotrader/internal/modules/trading"
	"github.com/rs/zerolog"
)

// TradingHandlers contains HTTP handlers for the live trading API
type TradingHandlers struct {
	trader *trading.LiveTrader
	log    zerolog.Logger
}

// NewTradingHandlers creates the live trading handlers
func NewTradingHandlers(trader *trading.LiveTrader, log zerolog.Logger) *TradingHandlers {
	return &TradingHandlers{
		trader: trader,
		log:    log.With().Str("handler", "trading").Logger(),
	}
}

// HandleGetLastPass handles GET /api/trading/live
func (h *TradingHandlers) HandleGetLastPass(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"data": h.trader.LastResult()})
}

// HandleRunPass handles POST /api/trading/live/run
func (h *TradingHandlers) HandleRunPass(w http.ResponseWriter, r *http.Request) {
	result, err := h.trader.Evaluate(r.Context())
	if err != nil {
		h.log.Warn().Err(err).Msg("Live pass not started")
		h.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": err.Error()})
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"data": result})
}

func (h *TradingHandlers) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}
