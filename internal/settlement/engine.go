// Package settlement applies orders to accounts against simulated prices.
//
// Cash, fees and cost basis are decimal; prices are whole units on the tick
// grid. Leverage never changes the cash debited on entry: a leveraged buy
// commits qty × price plus fee as margin, and leverage only scales the
// return on exit and the distance to the liquidation price.
package settlement

import (
	"fmt"
	"slices"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/kospisim/market-engine/internal/model"
)

// Config controls fees, history length and the leverage tiers on offer.
type Config struct {
	FeeRate         decimal.Decimal
	HistoryCapacity int
	AllowedLeverage []int
}

// DefaultConfig returns a 0.1% fee, 100 history entries and tiers
// 1, 2, 5, 10, 25 and 50.
func DefaultConfig() Config {
	return Config{
		FeeRate:         decimal.NewFromFloat(0.001),
		HistoryCapacity: 100,
		AllowedLeverage: []int{1, 2, 5, 10, 25, 50},
	}
}

// Stamp is the simulated time an action happens at.
type Stamp struct {
	Tick int64
	Day  int
}

// Engine executes orders. It holds no account state; callers serialize
// access to each account.
type Engine struct {
	cfg Config
}

// NewEngine creates an engine.
func NewEngine(cfg Config) *Engine {
	if cfg.HistoryCapacity <= 0 {
		cfg.HistoryCapacity = 100
	}
	if len(cfg.AllowedLeverage) == 0 {
		cfg.AllowedLeverage = []int{1}
	}
	return &Engine{cfg: cfg}
}

// Config returns the engine's configuration.
func (e *Engine) Config() Config { return e.cfg }

// Fee returns the fee on a gross amount, rounded to a whole unit.
func (e *Engine) Fee(gross decimal.Decimal) decimal.Decimal {
	return gross.Mul(e.cfg.FeeRate).Round(0)
}

// LiquidationPrice is entry × (1 − 1/leverage), rounded to a whole unit.
// Unleveraged positions have none.
func LiquidationPrice(entry decimal.Decimal, leverage int) decimal.Decimal {
	if leverage <= 1 {
		return decimal.Zero
	}
	return entry.Sub(entry.Div(decimal.NewFromInt(int64(leverage)))).Round(0)
}

func (e *Engine) leverageAllowed(lev int) bool {
	return slices.Contains(e.cfg.AllowedLeverage, lev)
}

func checkTradable(inst *model.Instrument) error {
	if inst == nil {
		return ErrUnknownInstrument
	}
	if inst.IsDelisted {
		return ErrInstrumentDelisted
	}
	if inst.TradingHalted {
		return ErrInstrumentHalted
	}
	return nil
}

// Buy executes an unleveraged market buy at the current price.
func (e *Engine) Buy(acct *model.Account, inst *model.Instrument, qty int64, at Stamp) (model.Transaction, error) {
	return e.buy(acct, inst, qty, 1, at)
}

// BuyLeveraged opens or adds to the position at the given leverage tier.
func (e *Engine) BuyLeveraged(acct *model.Account, inst *model.Instrument, qty int64, leverage int, at Stamp) (model.Transaction, error) {
	return e.buy(acct, inst, qty, leverage, at)
}

func (e *Engine) buy(acct *model.Account, inst *model.Instrument, qty int64, leverage int, at Stamp) (model.Transaction, error) {
	if qty <= 0 {
		return model.Transaction{}, ErrInvalidQuantity
	}
	if err := checkTradable(inst); err != nil {
		return model.Transaction{}, err
	}
	if !e.leverageAllowed(leverage) {
		return model.Transaction{}, fmt.Errorf("%w: %dx", ErrInvalidLeverage, leverage)
	}

	price := decimal.NewFromInt(inst.CurrentPrice)
	quantity := decimal.NewFromInt(qty)
	gross := price.Mul(quantity)
	fee := e.Fee(gross)
	if acct.Cash.LessThan(gross.Add(fee)) {
		return model.Transaction{}, ErrInsufficientCash
	}

	acct.Cash = acct.Cash.Sub(gross).Sub(fee)

	key := model.PositionKey{InstrumentID: inst.ID, Leverage: leverage}
	if pos, ok := acct.Position(key); ok {
		total := pos.Margin().Add(gross)
		pos.Quantity += qty
		pos.AveragePrice = total.Div(decimal.NewFromInt(pos.Quantity)).Floor()
		pos.EntryPrice = pos.AveragePrice
		pos.LiquidationPrice = LiquidationPrice(pos.EntryPrice, leverage)
	} else {
		acct.Positions = append(acct.Positions, &model.Position{
			Key:              key,
			Quantity:         qty,
			AveragePrice:     price,
			EntryPrice:       price,
			LiquidationPrice: LiquidationPrice(price, leverage),
		})
	}

	tx := model.Transaction{
		ID:             uuid.New().String(),
		Tick:           at.Tick,
		Day:            at.Day,
		Side:           model.SideBuy,
		InstrumentID:   inst.ID,
		InstrumentName: displayName(inst.Name, leverage),
		Leverage:       leverage,
		Quantity:       qty,
		Price:          inst.CurrentPrice,
		Total:          gross,
		Fee:            fee,
	}
	e.record(acct, tx)
	return tx, nil
}

// Sell closes qty units of the position at the given leverage tier at the
// current price.
//
// Unleveraged: proceeds are gross minus fee and P&L is proceeds minus cost
// basis. Leveraged: the margin is revalued by the leveraged return
// ((price − entry) / entry × leverage), floored at zero, and the fee is
// charged on that value.
func (e *Engine) Sell(acct *model.Account, inst *model.Instrument, qty int64, leverage int, at Stamp) (model.Transaction, error) {
	if qty <= 0 {
		return model.Transaction{}, ErrInvalidQuantity
	}
	if err := checkTradable(inst); err != nil {
		return model.Transaction{}, err
	}
	if leverage < 1 {
		leverage = 1
	}
	key := model.PositionKey{InstrumentID: inst.ID, Leverage: leverage}
	pos, ok := acct.Position(key)
	if !ok || pos.Quantity < qty {
		return model.Transaction{}, ErrInsufficientHoldings
	}

	price := decimal.NewFromInt(inst.CurrentPrice)
	quantity := decimal.NewFromInt(qty)

	var value, fee, proceeds, profit decimal.Decimal
	if pos.Leveraged() {
		investment := pos.EntryPrice.Mul(quantity)
		value = leveragedValue(pos.EntryPrice, quantity, price, leverage)
		fee = e.Fee(value)
		proceeds = value.Sub(fee)
		profit = proceeds.Sub(investment)
	} else {
		value = price.Mul(quantity)
		fee = e.Fee(value)
		proceeds = value.Sub(fee)
		profit = proceeds.Sub(pos.AveragePrice.Mul(quantity))
	}

	acct.Cash = acct.Cash.Add(proceeds)
	acct.RealizedPnL = acct.RealizedPnL.Add(profit)
	pos.Quantity -= qty
	if pos.Quantity == 0 {
		removePosition(acct, key)
	}

	tx := model.Transaction{
		ID:             uuid.New().String(),
		Tick:           at.Tick,
		Day:            at.Day,
		Side:           model.SideSell,
		InstrumentID:   inst.ID,
		InstrumentName: displayName(inst.Name, leverage),
		Leverage:       leverage,
		Quantity:       qty,
		Price:          inst.CurrentPrice,
		Total:          proceeds.Round(0),
		Fee:            fee,
	}
	e.record(acct, tx)
	return tx, nil
}

// PositionValue is what the position would fetch at price before fees:
// quantity × price when unleveraged, the revalued margin otherwise.
func PositionValue(pos *model.Position, price int64) decimal.Decimal {
	quantity := decimal.NewFromInt(pos.Quantity)
	if !pos.Leveraged() {
		return decimal.NewFromInt(price).Mul(quantity)
	}
	return leveragedValue(pos.EntryPrice, quantity, decimal.NewFromInt(price), pos.Key.Leverage)
}

// leveragedValue revalues entry × qty by the leveraged return, floored at
// zero. A zero entry price yields a zero return.
func leveragedValue(entry, quantity, price decimal.Decimal, leverage int) decimal.Decimal {
	ret := decimal.Zero
	if !entry.IsZero() {
		ret = price.Sub(entry).Div(entry).Mul(decimal.NewFromInt(int64(leverage)))
	}
	return decimal.Max(decimal.Zero, entry.Mul(quantity).Mul(decimal.NewFromInt(1).Add(ret))).Round(0)
}

// SellAll sells every position at the current price, each at its own
// leverage tier. Positions on halted, delisted or unknown instruments are
// skipped.
func (e *Engine) SellAll(acct *model.Account, instruments map[string]*model.Instrument, at Stamp) []model.Transaction {
	held := make([]model.Position, 0, len(acct.Positions))
	for _, p := range acct.Positions {
		held = append(held, *p)
	}

	var txs []model.Transaction
	for _, p := range held {
		inst := instruments[p.Key.InstrumentID]
		if inst == nil || !inst.Tradable() {
			continue
		}
		tx, err := e.Sell(acct, inst, p.Quantity, p.Key.Leverage, at)
		if err != nil {
			continue
		}
		txs = append(txs, tx)
	}
	return txs
}

func (e *Engine) record(acct *model.Account, tx model.Transaction) {
	history := make([]model.Transaction, 0, min(len(acct.Transactions)+1, e.cfg.HistoryCapacity))
	history = append(history, tx)
	for _, t := range acct.Transactions {
		if len(history) == e.cfg.HistoryCapacity {
			break
		}
		history = append(history, t)
	}
	acct.Transactions = history
}

func removePosition(acct *model.Account, key model.PositionKey) {
	acct.Positions = slices.DeleteFunc(acct.Positions, func(p *model.Position) bool {
		return p.Key == key
	})
}

func displayName(name string, leverage int) string {
	if leverage > 1 {
		return fmt.Sprintf("%s (%dx)", name, leverage)
	}
	return name
}
