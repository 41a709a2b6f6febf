package model

import (
	"github.com/shopspring/decimal"
)

// Side is the direction of an order.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Valid reports whether s is a known side.
func (s Side) Valid() bool {
	return s == SideBuy || s == SideSell
}

// PositionKey identifies a holding. Leveraged and unleveraged holdings of the
// same instrument never share a key.
type PositionKey struct {
	InstrumentID string `json:"instrument_id"`
	Leverage     int    `json:"leverage"` // 1 = unleveraged
}

// Position is a holding in one instrument at one leverage tier.
type Position struct {
	Key              PositionKey     `json:"key"`
	Quantity         int64           `json:"quantity"`
	AveragePrice     decimal.Decimal `json:"average_price"`     // cost (margin) per unit
	EntryPrice       decimal.Decimal `json:"entry_price"`       // equals AveragePrice
	LiquidationPrice decimal.Decimal `json:"liquidation_price"` // zero when Leverage == 1
}

// Leveraged reports whether the position carries a liquidation price.
func (p *Position) Leveraged() bool {
	return p.Key.Leverage > 1
}

// Margin is the cash committed to the position (quantity × average price).
func (p *Position) Margin() decimal.Decimal {
	return p.AveragePrice.Mul(decimal.NewFromInt(p.Quantity))
}

// PendingOrder is a deferred limit order checked every tick.
type PendingOrder struct {
	ID           string `json:"id"`
	InstrumentID string `json:"instrument_id"`
	Side         Side   `json:"side"`
	Quantity     int64  `json:"quantity"`
	TargetPrice  int64  `json:"target_price"`
	CreatedTick  int64  `json:"created_tick"`
	CreatedDay   int    `json:"created_day"`
}

// Triggered reports whether price satisfies the order's target.
func (o *PendingOrder) Triggered(price int64) bool {
	switch o.Side {
	case SideBuy:
		return price <= o.TargetPrice
	case SideSell:
		return price >= o.TargetPrice
	}
	return false
}

// Transaction is one executed trade in the account history.
type Transaction struct {
	ID             string          `json:"id"`
	Tick           int64           `json:"tick"`
	Day            int             `json:"day"`
	Side           Side            `json:"side"`
	InstrumentID   string          `json:"instrument_id"`
	InstrumentName string          `json:"instrument_name"`
	Leverage       int             `json:"leverage"`
	Quantity       int64           `json:"quantity"`
	Price          int64           `json:"price"`
	Total          decimal.Decimal `json:"total"`
	Fee            decimal.Decimal `json:"fee"`
}

// Account is the externally owned ledger that settlement mutates.
type Account struct {
	UserID        string          `json:"user_id"`
	Cash          decimal.Decimal `json:"cash"`
	RealizedPnL   decimal.Decimal `json:"realized_pnl"`
	Positions     []*Position     `json:"positions"`
	PendingOrders []PendingOrder  `json:"pending_orders"`
	Transactions  []Transaction   `json:"transactions"` // newest first
}

// NewAccount creates an empty account funded with cash.
func NewAccount(userID string, cash decimal.Decimal) *Account {
	return &Account{UserID: userID, Cash: cash}
}

// Position returns the holding for key, if any.
func (a *Account) Position(key PositionKey) (*Position, bool) {
	for _, p := range a.Positions {
		if p.Key == key {
			return p, true
		}
	}
	return nil, false
}

// Clone returns a deep copy of the account.
func (a *Account) Clone() *Account {
	c := *a
	c.Positions = make([]*Position, 0, len(a.Positions))
	for _, p := range a.Positions {
		cp := *p
		c.Positions = append(c.Positions, &cp)
	}
	c.PendingOrders = append([]PendingOrder(nil), a.PendingOrders...)
	c.Transactions = append([]Transaction(nil), a.Transactions...)
	return &c
}

// ExecutedOrder notifies that a pending order filled.
type ExecutedOrder struct {
	UserID         string `json:"user_id"`
	OrderID        string `json:"order_id"`
	InstrumentID   string `json:"instrument_id"`
	InstrumentName string `json:"instrument_name"`
	Side           Side   `json:"side"`
	Quantity       int64  `json:"quantity"`
	Price          int64  `json:"price"`
}

// Liquidation notifies that a leveraged position was force-closed.
type Liquidation struct {
	UserID           string          `json:"user_id"`
	InstrumentID     string          `json:"instrument_id"`
	InstrumentName   string          `json:"instrument_name"`
	Leverage         int             `json:"leverage"`
	Quantity         int64           `json:"quantity"`
	EntryPrice       decimal.Decimal `json:"entry_price"`
	LiquidationPrice decimal.Decimal `json:"liquidation_price"`
	CurrentPrice     int64           `json:"current_price"`
	LossAmount       decimal.Decimal `json:"loss_amount"`
}
