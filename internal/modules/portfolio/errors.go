package portfolio

import "errors"

// Order rejections surfaced to callers of Buy / Sell
var (
	ErrInsufficientFunds    = errors.New("insufficient funds")
	ErrInvalidQuantity      = errors.New("invalid quantity")
	ErrInvalidPrice         = errors.New("invalid price")
	ErrNoPosition           = errors.New("no open position")
	ErrInsufficientQuantity = errors.New("insufficient quantity")
)

// Portfolio lifecycle errors
var (
	ErrPortfolioNotFound = errors.New("portfolio not found")
	ErrOpenPositions     = errors.New("portfolio has open positions")
	ErrInvalidCapital    = errors.New("initial capital must be positive")
	ErrPersistence       = errors.New("trade ledger write failed")
	ErrCorruptLedger     = errors.New("trade ledger cannot be replayed")
)

// IsOrderRejection reports whether err is one of the order validation errors
// a caller can retry later (as opposed to persistence or programming errors).
func IsOrderRejection(err error) bool {
	return errors.Is(err, ErrInsufficientFunds) ||
		errors.Is(err, ErrInvalidQuantity) ||
		errors.Is(err, ErrInvalidPrice) ||
		errors.Is(err, ErrNoPosition) ||
		errors.Is(err, ErrInsufficientQuantity)
}
