package clientdata

import "time"

// TTL constants for cached market data.
// These are added to time.Now() when storing to calculate expires_at.
const (
	// Daily candles only change once per session
	TTLCandles = 6 * time.Hour

	// Short-lived data (changes frequently)
	TTLCurrentPrice = time.Minute
)
