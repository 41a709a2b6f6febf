package settlement

import (
	"log/slog"
	"slices"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/kospisim/market-engine/internal/model"
	"github.com/kospisim/market-engine/internal/pricing"
)

// PlaceLimit queues a limit order. Buys fill once the price is at or below
// target, sells once it is at or above. Funds and holdings are checked at
// fill time, not here.
func (e *Engine) PlaceLimit(acct *model.Account, inst *model.Instrument, side model.Side, qty, target int64, at Stamp) (model.PendingOrder, error) {
	if qty <= 0 {
		return model.PendingOrder{}, ErrInvalidQuantity
	}
	if !side.Valid() {
		return model.PendingOrder{}, ErrInvalidSide
	}
	if err := checkTradable(inst); err != nil {
		return model.PendingOrder{}, err
	}
	if target < pricing.MinPrice || !pricing.OnTick(target) {
		return model.PendingOrder{}, ErrInvalidTargetPrice
	}

	o := model.PendingOrder{
		ID:           uuid.New().String(),
		InstrumentID: inst.ID,
		Side:         side,
		Quantity:     qty,
		TargetPrice:  target,
		CreatedTick:  at.Tick,
		CreatedDay:   at.Day,
	}
	acct.PendingOrders = append(acct.PendingOrders, o)
	return o, nil
}

// CancelLimit removes a pending order.
func (e *Engine) CancelLimit(acct *model.Account, orderID string) error {
	i := slices.IndexFunc(acct.PendingOrders, func(o model.PendingOrder) bool { return o.ID == orderID })
	if i < 0 {
		return ErrOrderNotFound
	}
	acct.PendingOrders = slices.Delete(acct.PendingOrders, i, i+1)
	return nil
}

// Result reports what one settlement pass did to an account.
type Result struct {
	Executed     []model.ExecutedOrder
	Liquidations []model.Liquidation
	Dropped      []model.PendingOrder // removed without executing
}

// Settle reconciles an account against current prices: pending orders in
// submission order, then leveraged positions.
//
// Every decision compares account state with the instruments' current
// prices and consumes what it acts on, so settling twice against the same
// prices changes nothing the second time.
func (e *Engine) Settle(acct *model.Account, instruments map[string]*model.Instrument, at Stamp) Result {
	var res Result
	e.settleOrders(acct, instruments, at, &res)
	e.liquidate(acct, instruments, &res)
	return res
}

func (e *Engine) settleOrders(acct *model.Account, instruments map[string]*model.Instrument, at Stamp, res *Result) {
	if len(acct.PendingOrders) == 0 {
		return
	}
	orders := acct.PendingOrders
	acct.PendingOrders = nil
	remaining := make([]model.PendingOrder, 0, len(orders))

	for _, o := range orders {
		inst := instruments[o.InstrumentID]
		if inst == nil || !inst.Tradable() {
			res.Dropped = append(res.Dropped, o)
			continue
		}
		if !o.Triggered(inst.CurrentPrice) {
			remaining = append(remaining, o)
			continue
		}

		var err error
		if o.Side == model.SideBuy {
			_, err = e.Buy(acct, inst, o.Quantity, at)
		} else {
			_, err = e.Sell(acct, inst, o.Quantity, 1, at)
		}
		if err != nil {
			slog.Debug("pending order dropped",
				"user", acct.UserID,
				"order", o.ID,
				"instrument", o.InstrumentID,
				"reason", Reason(err),
			)
			res.Dropped = append(res.Dropped, o)
			continue
		}
		res.Executed = append(res.Executed, model.ExecutedOrder{
			UserID:         acct.UserID,
			OrderID:        o.ID,
			InstrumentID:   inst.ID,
			InstrumentName: inst.Name,
			Side:           o.Side,
			Quantity:       o.Quantity,
			Price:          inst.CurrentPrice,
		})
	}
	acct.PendingOrders = append(remaining, acct.PendingOrders...)
}

// liquidate force-closes every leveraged position whose instrument trades at
// or below its liquidation price. The whole margin is lost: no cash comes
// back and realized P&L is reduced by the margin.
func (e *Engine) liquidate(acct *model.Account, instruments map[string]*model.Instrument, res *Result) {
	surviving := acct.Positions[:0]
	for _, p := range acct.Positions {
		inst := instruments[p.Key.InstrumentID]
		if inst == nil || !p.Leveraged() {
			surviving = append(surviving, p)
			continue
		}
		liq := p.LiquidationPrice
		if liq.IsZero() {
			liq = LiquidationPrice(p.EntryPrice, p.Key.Leverage)
		}
		if decimal.NewFromInt(inst.CurrentPrice).GreaterThan(liq) {
			surviving = append(surviving, p)
			continue
		}

		loss := p.Margin()
		acct.RealizedPnL = acct.RealizedPnL.Sub(loss)
		res.Liquidations = append(res.Liquidations, model.Liquidation{
			UserID:           acct.UserID,
			InstrumentID:     inst.ID,
			InstrumentName:   inst.Name,
			Leverage:         p.Key.Leverage,
			Quantity:         p.Quantity,
			EntryPrice:       p.EntryPrice,
			LiquidationPrice: liq,
			CurrentPrice:     inst.CurrentPrice,
			LossAmount:       loss,
		})
	}
	clear(acct.Positions[len(surviving):])
	acct.Positions = surviving
}
