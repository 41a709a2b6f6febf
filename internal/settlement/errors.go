package settlement

import "errors"

// Order rejections. None of them mutate the account.
var (
	ErrInvalidQuantity      = errors.New("settlement: quantity must be positive")
	ErrInvalidSide          = errors.New("settlement: side must be buy or sell")
	ErrInsufficientCash     = errors.New("settlement: insufficient cash")
	ErrInsufficientHoldings = errors.New("settlement: insufficient holdings")
	ErrInstrumentHalted     = errors.New("settlement: instrument trading is halted")
	ErrInstrumentDelisted   = errors.New("settlement: instrument is delisted")
	ErrUnknownInstrument    = errors.New("settlement: unknown instrument")
	ErrInvalidLeverage      = errors.New("settlement: leverage tier not allowed")
	ErrInvalidTargetPrice   = errors.New("settlement: target price must be a positive tick-aligned price")
	ErrOrderNotFound        = errors.New("settlement: pending order not found")
	ErrMarketClosed         = errors.New("settlement: market is closed")
)

var reasons = []struct {
	err  error
	code string
}{
	{ErrInvalidQuantity, "invalid_quantity"},
	{ErrInvalidSide, "invalid_side"},
	{ErrInsufficientCash, "insufficient_cash"},
	{ErrInsufficientHoldings, "insufficient_holdings"},
	{ErrInstrumentHalted, "instrument_halted"},
	{ErrInstrumentDelisted, "instrument_delisted"},
	{ErrUnknownInstrument, "unknown_instrument"},
	{ErrInvalidLeverage, "invalid_leverage"},
	{ErrInvalidTargetPrice, "invalid_target_price"},
	{ErrOrderNotFound, "order_not_found"},
	{ErrMarketClosed, "market_closed"},
}

// Reason maps a rejection to a stable machine-readable code. Unknown errors
// map to "internal".
func Reason(err error) string {
	for _, r := range reasons {
		if errors.Is(err, r.err) {
			return r.code
		}
	}
	return "internal"
}
