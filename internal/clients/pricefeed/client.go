// Package pricefeed fetches quotes and candles from an HTTP market data API.
package pricefeed

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/aristath/evotrader/internal/clientdata"
	"github.com/aristath/evotrader/internal/domain"
	"github.com/rs/zerolog"
)

// Client for the quote/candle HTTP API:
//
//	GET {base}/quotes/{symbol}                            -> {"symbol": "...", "price": 123.4}
//	GET {base}/candles/{symbol}?interval=1d&count=250&end=2024-06-28 -> {"candles": [...]}
type Client struct {
	baseURL   string
	client    *http.Client
	log       zerolog.Logger
	cacheRepo *clientdata.Repository
}

// NewClient creates a new price feed client
// cacheRepo is optional - if nil, caching is disabled
func NewClient(baseURL string, cacheRepo *clientdata.Repository, log zerolog.Logger) *Client {
	return &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		client:    &http.Client{Timeout: 10 * time.Second},
		log:       log.With().Str("client", "pricefeed").Logger(),
		cacheRepo: cacheRepo,
	}
}

var _ domain.PriceSource = (*Client)(nil)

type quoteResponse struct {
	Symbol string   `json:"symbol"`
	Price  *float64 `json:"price"`
}

type candlesResponse struct {
	Candles []domain.Candle `json:"candles"`
}

// GetCurrentPrice fetches the latest quote with cache.
// If the API fails, returns stale cached data if available (stale data > no data).
func (c *Client) GetCurrentPrice(ctx context.Context, symbol string) (*float64, error) {
	var cached float64
	if c.cacheRepo != nil {
		if ok, err := c.cacheRepo.GetIfFresh(clientdata.TableCurrentPrices, symbol, &cached); err == nil && ok {
			c.log.Debug().Str("symbol", symbol).Float64("price", cached).Msg("Cache hit")
			return &cached, nil
		}
	}

	var quote quoteResponse
	if err := c.get(ctx, "/quotes/"+url.PathEscape(symbol), nil, &quote); err != nil {
		if c.stale(clientdata.TableCurrentPrices, symbol, &cached) {
			c.log.Warn().Err(err).Str("symbol", symbol).Float64("price", cached).Msg("API failed, using stale cached price")
			return &cached, nil
		}
		return nil, err
	}
	if quote.Price == nil {
		return nil, nil
	}

	if c.cacheRepo != nil {
		if err := c.cacheRepo.Store(clientdata.TableCurrentPrices, symbol, *quote.Price, clientdata.TTLCurrentPrice); err != nil {
			c.log.Warn().Err(err).Str("symbol", symbol).Msg("Failed to cache price")
		}
	}
	return quote.Price, nil
}

// GetHistoricalCandles fetches candles with cache and stale fallback
func (c *Client) GetHistoricalCandles(ctx context.Context, symbol, interval string, count int, endDate *time.Time) ([]domain.Candle, error) {
	params := url.Values{}
	params.Set("interval", interval)
	params.Set("count", strconv.Itoa(count))
	cacheKey := fmt.Sprintf("%s|%s|%d", symbol, interval, count)
	if endDate != nil {
		day := endDate.UTC().Format("2006-01-02")
		params.Set("end", day)
		cacheKey += "|" + day
	}

	var cached []domain.Candle
	if c.cacheRepo != nil {
		if ok, err := c.cacheRepo.GetIfFresh(clientdata.TableCandles, cacheKey, &cached); err == nil && ok {
			c.log.Debug().Str("key", cacheKey).Int("candles", len(cached)).Msg("Cache hit")
			return cached, nil
		}
	}

	var resp candlesResponse
	if err := c.get(ctx, "/candles/"+url.PathEscape(symbol), params, &resp); err != nil {
		if c.stale(clientdata.TableCandles, cacheKey, &cached) {
			c.log.Warn().Err(err).Str("key", cacheKey).Msg("API failed, using stale cached candles")
			return cached, nil
		}
		return nil, err
	}

	if c.cacheRepo != nil && len(resp.Candles) > 0 {
		if err := c.cacheRepo.Store(clientdata.TableCandles, cacheKey, resp.Candles, clientdata.TTLCandles); err != nil {
			c.log.Warn().Err(err).Str("key", cacheKey).Msg("Failed to cache candles")
		}
	}

	c.log.Debug().Str("symbol", symbol).Int("candles", len(resp.Candles)).Msg("Fetched candles")
	return resp.Candles, nil
}

func (c *Client) get(ctx context.Context, path string, params url.Values, out interface{}) error {
	u := c.baseURL + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("API request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("API returned status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

// stale retrieves a cached entry even if expired.
func (c *Client) stale(table, key string, out interface{}) bool {
	if c.cacheRepo == nil {
		return false
	}
	ok, err := c.cacheRepo.Get(table, key, out)
	return err == nil && ok
}
