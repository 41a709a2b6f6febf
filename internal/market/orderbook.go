package market

import (
	"github.com/kospisim/market-engine/internal/model"
	"github.com/kospisim/market-engine/internal/pricing"
)

const (
	bookDepth     = 5
	minBookVolume = 500
)

func volumeScale(c model.Class) float64 {
	if c == model.ClassBluechip {
		return 5
	}
	return 1
}

// GenerateBook builds a fresh synthetic book: five asks one tick and more
// above price, five bids from price downward. Both sides are ordered highest
// price first.
func GenerateBook(price int64, class model.Class, src pricing.Source) model.OrderBook {
	scale := volumeScale(class)
	fresh := func() int64 { return int64((src.Float64()*30_000 + 5_000) * scale) }
	return buildBook(price, func(int64, bool) int64 { return fresh() })
}

// UpdateBook re-centres book on price, drifting the volumes of levels that
// survive the move: asks thin out on an up-move and bids thicken, and the
// reverse on a down-move. New levels get fresh volume.
func UpdateBook(book model.OrderBook, price, change int64, class model.Class, src pricing.Source) model.OrderBook {
	scale := volumeScale(class)
	askRatio, bidRatio := 1.15, 0.85
	if change > 0 {
		askRatio, bidRatio = 0.85, 1.15
	}
	tick := pricing.TickSize(price)

	return buildBook(price, func(level int64, ask bool) int64 {
		side, ratio := book.Bids, bidRatio
		if ask {
			side, ratio = book.Asks, askRatio
		}
		var v int64
		if old, ok := findLevel(side, level, tick); ok {
			v = int64(float64(old.Volume)*ratio + (src.Float64()-0.5)*10_000*scale)
		} else {
			v = int64((src.Float64()*20_000 + 3_000) * scale)
		}
		return max(v, minBookVolume)
	})
}

func buildBook(price int64, volume func(level int64, ask bool) int64) model.OrderBook {
	tick := pricing.TickSize(price)
	asks := make([]model.BookLevel, bookDepth)
	bids := make([]model.BookLevel, 0, bookDepth)
	for i := 0; i < bookDepth; i++ {
		ask := pricing.RoundToTick(float64(price + tick*int64(i+1)))
		asks[bookDepth-1-i] = model.BookLevel{Price: ask, Volume: volume(ask, true)}

		bid := pricing.RoundToTick(float64(price - tick*int64(i)))
		if bid > 0 {
			bids = append(bids, model.BookLevel{Price: bid, Volume: volume(bid, false)})
		}
	}
	return model.OrderBook{Asks: asks, Bids: bids}
}

func findLevel(levels []model.BookLevel, price, tick int64) (model.BookLevel, bool) {
	for _, l := range levels {
		d := l.Price - price
		if d < 0 {
			d = -d
		}
		if d < tick {
			return l, true
		}
	}
	return model.BookLevel{}, false
}
