// Package model defines the core domain types shared across the market engine.
// Prices are whole currency units on the tick grid (int64); cash, fees, cost
// basis and P&L use shopspring/decimal.
package model

// Class controls an instrument's volatility, tick cap and news magnitude.
type Class string

const (
	ClassBluechip Class = "bluechip"
	ClassTheme    Class = "theme"
)

// LimitSide records which daily band edge froze an instrument.
type LimitSide string

const (
	LimitNone  LimitSide = ""
	LimitUpper LimitSide = "upper"
	LimitLower LimitSide = "lower"
)

// InstrumentConfig is one row of the static instrument table.
type InstrumentConfig struct {
	ID            string  `json:"id" yaml:"id"`
	Name          string  `json:"name" yaml:"name"`
	Symbol        string  `json:"symbol" yaml:"symbol"`
	Class         Class   `json:"class" yaml:"class"`
	InitialPrice  int64   `json:"initial_price" yaml:"initial_price"`
	MeanPrice     int64   `json:"mean_price" yaml:"mean_price"`
	Kappa         float64 `json:"kappa" yaml:"kappa"`                   // reversion speed per day
	Sigma         float64 `json:"sigma" yaml:"sigma"`                   // daily volatility
	JumpIntensity float64 `json:"jump_intensity" yaml:"jump_intensity"` // news magnitude scale
}

// Candle is one OHLCV bar of the rolling price history.
type Candle struct {
	Tick   int64 `json:"tick"`
	Open   int64 `json:"open"`
	High   int64 `json:"high"`
	Low    int64 `json:"low"`
	Close  int64 `json:"close"`
	Volume int64 `json:"volume"`
}

// BookLevel is a single synthetic order book price level.
type BookLevel struct {
	Price  int64 `json:"price"`
	Volume int64 `json:"volume"`
}

// OrderBook is cosmetic: it is regenerated around the current price and
// never matched against.
type OrderBook struct {
	Asks []BookLevel `json:"asks"` // highest price first
	Bids []BookLevel `json:"bids"` // highest price first
}

// Instrument is the full simulated state of one security.
type Instrument struct {
	InstrumentConfig

	CurrentPrice  int64 `json:"current_price"`
	OpenPrice     int64 `json:"open_price"`
	PreviousClose int64 `json:"previous_close"`
	UpperLimit    int64 `json:"upper_limit"`
	LowerLimit    int64 `json:"lower_limit"`

	TrendNoise           float64 `json:"trend_noise"`
	TrendNoiseLastUpdate int     `json:"trend_noise_last_update"` // day tick

	PriceFrozen     bool      `json:"price_frozen"`
	FrozenAtLimit   LimitSide `json:"frozen_at_limit,omitempty"`
	TradingHalted   bool      `json:"trading_halted"`
	HaltedAtTick    int64     `json:"halted_at_tick,omitempty"`
	HaltedUntilTick int64     `json:"halted_until_tick,omitempty"`

	IsDelisted       bool `json:"is_delisted"`
	DelistedAtDay    int  `json:"delisted_at_day,omitempty"`
	DelistingWarning bool `json:"delisting_warning"`

	History []Candle  `json:"history"`
	Book    OrderBook `json:"order_book"`
}

// Tradable reports whether orders may execute against the instrument.
func (i *Instrument) Tradable() bool {
	return !i.IsDelisted && !i.TradingHalted
}

// Clone returns a deep copy safe to hand to readers.
func (i *Instrument) Clone() *Instrument {
	c := *i
	c.History = append([]Candle(nil), i.History...)
	c.Book = OrderBook{
		Asks: append([]BookLevel(nil), i.Book.Asks...),
		Bids: append([]BookLevel(nil), i.Book.Bids...),
	}
	return &c
}
