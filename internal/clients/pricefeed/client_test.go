package pricefeed

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aristath/evotrader/internal/clientdata"
	"github.com/aristath/evotrader/internal/domain"
	testingpkg "github.com/aristath/evotrader/internal/testing"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeFeed struct {
	server *httptest.Server
	calls  atomic.Int32
	down   atomic.Bool
	query  atomic.Value
}

func newFakeFeed(t *testing.T) *fakeFeed {
	f := &fakeFeed{}
	mux := http.NewServeMux()
	mux.HandleFunc("/quotes/", func(w http.ResponseWriter, r *http.Request) {
		f.calls.Add(1)
		if f.down.Load() {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		symbol := r.URL.Path[len("/quotes/"):]
		if symbol == "NOPRICE" {
			_ = json.NewEncoder(w).Encode(map[string]interface{}{"symbol": symbol, "price": nil})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"symbol": symbol, "price": 101.5})
	})
	mux.HandleFunc("/candles/", func(w http.ResponseWriter, r *http.Request) {
		f.calls.Add(1)
		f.query.Store(r.URL.RawQuery)
		if f.down.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"candles": testingpkg.CandlesFromCloses([]float64{100, 101, 102}),
		})
	})
	f.server = httptest.NewServer(mux)
	t.Cleanup(f.server.Close)
	return f
}

func newCache(t *testing.T) *clientdata.Repository {
	db, cleanup := testingpkg.NewTestDB(t, "cache")
	t.Cleanup(cleanup)
	return clientdata.NewRepository(db.Conn())
}

func TestGetCurrentPrice(t *testing.T) {
	feed := newFakeFeed(t)
	client := NewClient(feed.server.URL+"/", nil, zerolog.Nop())

	price, err := client.GetCurrentPrice(context.Background(), "005930")
	require.NoError(t, err)
	require.NotNil(t, price)
	assert.Equal(t, 101.5, *price)

	price, err = client.GetCurrentPrice(context.Background(), "NOPRICE")
	require.NoError(t, err)
	assert.Nil(t, price)
}

func TestGetCurrentPrice_CacheAndStaleFallback(t *testing.T) {
	feed := newFakeFeed(t)
	cache := newCache(t)
	client := NewClient(feed.server.URL, cache, zerolog.Nop())
	ctx := context.Background()

	_, err := client.GetCurrentPrice(ctx, "A")
	require.NoError(t, err)
	_, err = client.GetCurrentPrice(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, int32(1), feed.calls.Load(), "second call served from cache")

	// Expire the entry, then take the API down
	require.NoError(t, cache.Store(clientdata.TableCurrentPrices, "A", 99.0, -time.Minute))
	feed.down.Store(true)

	price, err := client.GetCurrentPrice(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, 99.0, *price)

	_, err = client.GetCurrentPrice(ctx, "UNCACHED")
	assert.Error(t, err)
}

func TestGetHistoricalCandles(t *testing.T) {
	feed := newFakeFeed(t)
	cache := newCache(t)
	client := NewClient(feed.server.URL, cache, zerolog.Nop())
	end := time.Date(2024, 6, 28, 15, 0, 0, 0, time.UTC)

	candles, err := client.GetHistoricalCandles(context.Background(), "A", "1d", 3, &end)
	require.NoError(t, err)
	require.Len(t, candles, 3)
	assert.Equal(t, 102.0, candles[2].Close)
	assert.Equal(t, "count=3&end=2024-06-28&interval=1d", feed.query.Load())

	// Cached under the same key
	again, err := client.GetHistoricalCandles(context.Background(), "A", "1d", 3, &end)
	require.NoError(t, err)
	assert.Equal(t, int32(1), feed.calls.Load())
	assert.Equal(t, domain.Closes(candles), domain.Closes(again))
}

func TestGetHistoricalCandles_Unavailable(t *testing.T) {
	feed := newFakeFeed(t)
	feed.down.Store(true)
	client := NewClient(feed.server.URL, newCache(t), zerolog.Nop())

	_, err := client.GetHistoricalCandles(context.Background(), "A", "1d", 3, nil)
	assert.Error(t, err)
}

func TestComposite(t *testing.T) {
	history := testingpkg.NewMockPriceSource()
	history.SetCandles("A", testingpkg.TrendCandles(5, 100, 0.01))
	history.SetPrice("A", 1)
	current := testingpkg.NewMockPriceSource()
	current.SetPrice("A", 250)

	c := NewComposite(history, current)

	price, err := c.GetCurrentPrice(context.Background(), "A")
	require.NoError(t, err)
	assert.Equal(t, 250.0, *price)

	candles, err := c.GetHistoricalCandles(context.Background(), "A", "1d", 10, nil)
	require.NoError(t, err)
	assert.Len(t, candles, 5)
	assert.Equal(t, 1, current.Calls())
	assert.Equal(t, 1, history.Calls())
}
