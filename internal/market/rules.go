package market

import (
	"github.com/kospisim/market-engine/internal/model"
	"github.com/kospisim/market-engine/internal/pricing"
)

// Event is a price-state transition reported by Rules.
type Event int

const (
	EventNone Event = iota
	EventHalted
	EventResumed
	EventDelisted
	EventRelisted
)

func (e Event) String() string {
	switch e {
	case EventHalted:
		return "halted"
	case EventResumed:
		return "resumed"
	case EventDelisted:
		return "delisted"
	case EventRelisted:
		return "relisted"
	}
	return "none"
}

// Rules holds the daily band, halt and delisting parameters.
type Rules struct {
	UpperMultiplier float64
	LowerMultiplier float64
	HaltDuration    int64 // ticks
	DelistingPrice  int64
	WarningPrice    int64
	RelistingDays   int
}

// DefaultRules returns ±30% bands, a 300-tick halt, a 500 delisting floor
// with a warning at 1000, and relisting after 7 days.
func DefaultRules() Rules {
	return Rules{
		UpperMultiplier: 1.30,
		LowerMultiplier: 0.70,
		HaltDuration:    300,
		DelistingPrice:  500,
		WarningPrice:    1000,
		RelistingDays:   7,
	}
}

// Limits returns the daily band for a previous close. The upper limit is
// rounded down and the lower limit up so both sit on the tick grid inside the
// nominal band.
func (r Rules) Limits(prevClose int64) (lower, upper int64) {
	p := float64(prevClose)
	return pricing.CeilToTick(p * r.LowerMultiplier), pricing.FloorToTick(p * r.UpperMultiplier)
}

// ResumeIfDue lifts an expired halt. It reports whether the instrument
// resumed at tick.
func (r Rules) ResumeIfDue(inst *model.Instrument, tick int64) bool {
	if !inst.TradingHalted || tick < inst.HaltedUntilTick {
		return false
	}
	inst.TradingHalted = false
	inst.HaltedAtTick = 0
	inst.HaltedUntilTick = 0
	inst.PriceFrozen = false
	inst.FrozenAtLimit = model.LimitNone
	return true
}

// Settle applies a freshly computed price at tick: sets the delisting
// warning, delists below the floor (clearing the warning), and otherwise
// halts at a band edge.
func (r Rules) Settle(inst *model.Instrument, price int64, tick int64, day int) Event {
	inst.DelistingWarning = price <= r.WarningPrice

	if price < r.DelistingPrice {
		inst.CurrentPrice = r.DelistingPrice
		inst.IsDelisted = true
		inst.DelistedAtDay = day
		inst.DelistingWarning = false
		inst.PriceFrozen = true
		inst.FrozenAtLimit = model.LimitNone
		inst.TradingHalted = false
		inst.HaltedAtTick = 0
		inst.HaltedUntilTick = 0
		return EventDelisted
	}

	side := model.LimitNone
	switch {
	case inst.UpperLimit > 0 && price >= inst.UpperLimit:
		price, side = inst.UpperLimit, model.LimitUpper
	case inst.LowerLimit > 0 && price <= inst.LowerLimit:
		price, side = inst.LowerLimit, model.LimitLower
	}
	inst.CurrentPrice = price
	if side == model.LimitNone {
		return EventNone
	}

	wasFrozen := inst.PriceFrozen
	inst.PriceFrozen = true
	inst.FrozenAtLimit = side
	if wasFrozen {
		return EventNone
	}
	inst.TradingHalted = true
	inst.HaltedAtTick = tick
	inst.HaltedUntilTick = tick + r.HaltDuration
	return EventHalted
}

// OpenDay runs the new-day transition for day. A delisted instrument whose
// waiting period has elapsed is relisted at its initial price; one still
// waiting is left untouched. Every other instrument rolls its close into
// previousClose, gets fresh limits, has any halt lifted and a new trend.
func (r Rules) OpenDay(inst *model.Instrument, day int, src pricing.Source) Event {
	if inst.IsDelisted {
		if day-inst.DelistedAtDay < r.RelistingDays {
			return EventNone
		}
		r.relist(inst, src)
		return EventRelisted
	}

	inst.PreviousClose = inst.CurrentPrice
	inst.OpenPrice = inst.PreviousClose
	inst.LowerLimit, inst.UpperLimit = r.Limits(inst.PreviousClose)
	inst.TradingHalted = false
	inst.HaltedAtTick = 0
	inst.HaltedUntilTick = 0
	inst.PriceFrozen = false
	inst.FrozenAtLimit = model.LimitNone
	inst.TrendNoise = pricing.SampleTrend(src)
	inst.TrendNoiseLastUpdate = 0
	return EventNone
}

func (r Rules) relist(inst *model.Instrument, src pricing.Source) {
	price := inst.InitialPrice
	inst.CurrentPrice = price
	inst.PreviousClose = price
	inst.OpenPrice = price
	inst.LowerLimit, inst.UpperLimit = r.Limits(price)
	inst.PriceFrozen = false
	inst.FrozenAtLimit = model.LimitNone
	inst.TradingHalted = false
	inst.HaltedAtTick = 0
	inst.HaltedUntilTick = 0
	inst.IsDelisted = false
	inst.DelistedAtDay = 0
	inst.DelistingWarning = false
	inst.TrendNoise = pricing.SampleTrend(src)
	inst.TrendNoiseLastUpdate = 0
	inst.Book = GenerateBook(price, inst.Class, src)
}
