package pricing

import "math"

const maxPrice = 1e15

// tickBands maps a lower price bound to its quote increment, highest first.
var tickBands = []struct {
	from int64
	size int64
}{
	{500_000, 1000},
	{100_000, 500},
	{50_000, 100},
	{10_000, 50},
	{5_000, 10},
	{1_000, 5},
	{0, 1},
}

// TickSize returns the minimum price increment for price.
func TickSize(price int64) int64 {
	for _, b := range tickBands {
		if price >= b.from {
			return b.size
		}
	}
	return 1
}

// OnTick reports whether price is a multiple of its own tick size.
func OnTick(price int64) bool {
	return price%TickSize(price) == 0
}

// RoundToTick rounds p to the nearest multiple of the tick size at p.
//
// Band edges (1k, 5k, 10k, 50k, 100k, 500k) are multiples of the coarser
// increment above them, so a value rounded up across an edge stays on grid.
func RoundToTick(p float64) int64 {
	if p <= 0 || math.IsNaN(p) {
		return 0
	}
	if p > maxPrice {
		p = maxPrice
	}
	size := TickSize(int64(p))
	return int64(math.Round(p/float64(size))) * size
}

// FloorToTick rounds p down onto the tick grid.
func FloorToTick(p float64) int64 {
	if p <= 0 || math.IsNaN(p) {
		return 0
	}
	v := int64(math.Floor(p))
	size := TickSize(v)
	return v - v%size
}

// CeilToTick rounds p up onto the tick grid.
func CeilToTick(p float64) int64 {
	if p <= 0 || math.IsNaN(p) {
		return 0
	}
	v := int64(math.Ceil(p))
	size := TickSize(v)
	if r := v % size; r != 0 {
		v += size - r
	}
	return v
}
