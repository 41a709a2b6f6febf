package market

import (
	"math"

	"github.com/kospisim/market-engine/internal/model"
	"github.com/kospisim/market-engine/internal/pricing"
)

const (
	// HistoryCapacity is the number of candles kept per instrument.
	HistoryCapacity = 200

	// CandleInterval is the number of day ticks covered by one candle.
	CandleInterval = 10

	initialCandles = 30
)

// InitialCandles synthesises a short daily-scale history ending near the
// configured initial price so charts are not empty at start.
func InitialCandles(cfg model.InstrumentConfig, src pricing.Source) []model.Candle {
	candles := make([]model.Candle, 0, initialCandles)
	price := cfg.InitialPrice
	for i := 0; i < initialCandles; i++ {
		vol := cfg.Sigma * (0.5 + src.Float64()*0.5)
		open := price
		price = pricing.RoundToTick(float64(price) + src.NormFloat64()*vol*float64(price))
		if price < pricing.MinPrice {
			price = pricing.MinPrice
		}
		hi := pricing.RoundToTick(float64(max(open, price)) * (1 + src.Float64()*0.02))
		lo := pricing.RoundToTick(float64(min(open, price)) * (1 - src.Float64()*0.02))
		candles = append(candles, model.Candle{
			Tick:   int64(i),
			Open:   open,
			High:   hi,
			Low:    max(lo, pricing.MinPrice),
			Close:  price,
			Volume: int64(src.Float64()*400_000) + 100_000,
		})
	}
	return candles
}

// RecordCandle folds a price move from prev to price into history. Every
// CandleInterval day ticks a new candle is opened; otherwise the last one is
// extended. The oldest candles are evicted beyond HistoryCapacity.
func RecordCandle(history []model.Candle, tick int64, dayTick int, prev, price int64, src pricing.Source) []model.Candle {
	n := len(history)
	if dayTick%CandleInterval == 0 || n == 0 {
		history = append(history, model.Candle{
			Tick:   tick,
			Open:   prev,
			High:   max(prev, price),
			Low:    min(prev, price),
			Close:  price,
			Volume: int64(src.Float64()*40_000) + 10_000,
		})
		if over := len(history) - HistoryCapacity; over > 0 {
			history = append(history[:0:0], history[over:]...)
		}
		return history
	}

	last := &history[n-1]
	last.High = max(last.High, price)
	last.Low = min(last.Low, price)
	last.Close = price
	last.Volume += int64(math.Floor(src.Float64() * 2000))
	return history
}
