package market

import (
	"github.com/kospisim/market-engine/internal/model"
	"github.com/kospisim/market-engine/internal/pricing"
)

// New creates an instrument at its configured initial price with limits,
// a random trend, synthetic candle history and a generated book.
func New(cfg model.InstrumentConfig, rules Rules, src pricing.Source) *model.Instrument {
	price := cfg.InitialPrice
	lower, upper := rules.Limits(price)
	return &model.Instrument{
		InstrumentConfig: cfg,
		CurrentPrice:     price,
		OpenPrice:        price,
		PreviousClose:    price,
		UpperLimit:       upper,
		LowerLimit:       lower,
		TrendNoise:       pricing.SampleTrend(src),
		History:          InitialCandles(cfg, src),
		Book:             GenerateBook(price, cfg.Class, src),
	}
}

// NewSet creates one instrument per catalogue row, in catalogue order.
func NewSet(cfgs []model.InstrumentConfig, rules Rules, src pricing.Source) []*model.Instrument {
	out := make([]*model.Instrument, 0, len(cfgs))
	for _, c := range cfgs {
		out = append(out, New(c, rules, src))
	}
	return out
}

// ApplySnapshot overwrites the published price state of inst with s. The
// book is regenerated around the new price unless the instrument is halted
// or delisted, in which case the last book stays on display.
func ApplySnapshot(inst *model.Instrument, s model.InstrumentSnapshot, src pricing.Source) {
	inst.CurrentPrice = s.CurrentPrice
	inst.PreviousClose = s.PreviousClose
	inst.OpenPrice = s.OpenPrice
	inst.UpperLimit = s.UpperLimit
	inst.LowerLimit = s.LowerLimit
	inst.TradingHalted = s.TradingHalted
	inst.HaltedAtTick = s.HaltedAtTick
	inst.HaltedUntilTick = s.HaltedUntilTick
	inst.FrozenAtLimit = s.HaltReason
	inst.PriceFrozen = s.HaltReason != model.LimitNone || s.IsDelisted
	inst.IsDelisted = s.IsDelisted
	inst.DelistedAtDay = s.DelistedAtDay
	inst.DelistingWarning = s.DelistingWarning
	inst.TrendNoise = s.TrendNoise
	if !s.TradingHalted && !s.IsDelisted && s.CurrentPrice > 0 {
		inst.Book = GenerateBook(s.CurrentPrice, inst.Class, src)
	}
}
