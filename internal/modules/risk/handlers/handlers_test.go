package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/aristath/evotrader/internal/modules/portfolio"
	"github.com/aristath/evotrader/internal/modules/risk"
	testingpkg "github.com/aristath/evotrader/internal/testing"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptr(v float64) *float64 { return &v }

func setup(t *testing.T) (*chi.Mux, *portfolio.Service, *testingpkg.MockPriceSource) {
	t.Helper()
	log := zerolog.Nop()
	service := portfolio.NewService(nil, nil, 0, log)
	prices := testingpkg.NewMockPriceSource()
	gate := risk.NewGate(service, prices, time.Second, nil, log)
	t.Cleanup(gate.Close)

	router := chi.NewRouter()
	NewHandler(gate, service, prices, time.Second, log).RegisterRoutes(router)
	return router, service, prices
}

func serve(router http.Handler, method, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestHandleGetLastCheck_BeforeFirstTick(t *testing.T) {
	router, _, _ := setup(t)

	rec := serve(router, http.MethodGet, "/risk/gate")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"data": null}`, rec.Body.String())
}

func TestHandleRunCheck(t *testing.T) {
	router, service, prices := setup(t)
	p, err := service.Create("alpha", 1_000_000, nil)
	require.NoError(t, err)
	_, err = service.Buy(p.ID(), "005930", 10, 50_000, ptr(5), ptr(10))
	require.NoError(t, err)
	prices.SetPrice("005930", 47_000)

	rec := serve(router, http.MethodPost, "/risk/gate/check")
	require.Equal(t, http.StatusOK, rec.Code)

	var response struct {
		Data risk.Result `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &response))
	require.Len(t, response.Data.Exits, 1)
	assert.Equal(t, portfolio.ReasonStopLoss, response.Data.Exits[0].Reason)

	rec = serve(router, http.MethodGet, "/risk/gate")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &response))
	assert.Equal(t, 1, response.Data.Checked)
}

func TestHandleGetExposure(t *testing.T) {
	router, service, prices := setup(t)
	p, err := service.Create("alpha", 1_000_000, nil)
	require.NoError(t, err)
	_, err = service.Buy(p.ID(), "005930", 10, 50_000, ptr(5), ptr(10))
	require.NoError(t, err)
	_, err = service.Buy(p.ID(), "000660", 1, 100_000, nil, nil)
	require.NoError(t, err)
	prices.SetPrice("005930", 50_000)

	rec := serve(router, http.MethodGet, "/risk/portfolios/"+p.ID()+"/exposure")
	require.Equal(t, http.StatusOK, rec.Code)

	var response struct {
		Data []PositionExposure `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &response))
	require.Len(t, response.Data, 2)

	bySymbol := map[string]PositionExposure{}
	for _, e := range response.Data {
		bySymbol[e.Symbol] = e
	}

	samsung := bySymbol["005930"]
	assert.False(t, samsung.Exempt)
	require.NotNil(t, samsung.ToStopLossPct)
	require.NotNil(t, samsung.ToTakeProfitPct)
	assert.InDelta(t, -5.0, *samsung.ToStopLossPct, 1e-9)
	assert.InDelta(t, 10.0, *samsung.ToTakeProfitPct, 1e-9)

	hynix := bySymbol["000660"]
	assert.True(t, hynix.Exempt)
	assert.Nil(t, hynix.CurrentPrice)
}

func TestHandleGetExposure_NotFound(t *testing.T) {
	router, _, _ := setup(t)

	rec := serve(router, http.MethodGet, "/risk/portfolios/missing/exposure")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
