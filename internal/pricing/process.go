// Package pricing implements the per-tick stochastic price process: a
// discretised Ornstein–Uhlenbeck walk in log-price space with a slowly
// varying trend term, a per-tick move cap, and quote-grid rounding.
//
// One tick is Δt = 1/ticksPerDay of a trading day. For log price x:
//
//	dx = κ(ln μ − x)Δt + σ√Δt·ε + τ·σ√Δt·0.3,   ε ~ N(0,1)
//
// clamped to ±ln(1+cap), where τ ∈ [−1, 1] is the trend noise.
package pricing

import (
	"errors"
	"math"

	"github.com/kospisim/market-engine/internal/model"
)

var (
	// ErrInvalidTicksPerDay is returned when a process is built with a
	// non-positive session length.
	ErrInvalidTicksPerDay = errors.New("pricing: ticks per day must be positive")

	// MinPrice keeps logarithms defined.
	MinPrice int64 = 100

	// BluechipTickCap is the largest per-tick move for bluechip instruments.
	BluechipTickCap = 0.02

	// ThemeTickCap is the largest per-tick move for theme instruments.
	ThemeTickCap = 0.08

	// trendWeight scales the trend term relative to one tick of volatility.
	trendWeight = 0.3

	// trendKeep is the share of the old trend kept on refresh.
	trendKeep = 0.3
)

// Source is the randomness the simulation draws from. *rand.Rand from
// math/rand/v2 satisfies it.
type Source interface {
	Float64() float64
	NormFloat64() float64
	IntN(n int) int
}

// Process advances prices by one tick. It is stateless; instrument state is
// passed in and the new price returned.
type Process struct {
	dt     float64
	sqrtDt float64
}

// NewProcess creates a process for a session of ticksPerDay ticks.
func NewProcess(ticksPerDay int) (*Process, error) {
	if ticksPerDay <= 0 {
		return nil, ErrInvalidTicksPerDay
	}
	dt := 1 / float64(ticksPerDay)
	return &Process{dt: dt, sqrtDt: math.Sqrt(dt)}, nil
}

// TickCap returns the per-tick move cap for a class.
func TickCap(c model.Class) float64 {
	if c == model.ClassTheme {
		return ThemeTickCap
	}
	return BluechipTickCap
}

// LogReturn computes the capped log return for one tick given a standard
// normal draw z.
func (p *Process) LogReturn(inst *model.Instrument, z float64) float64 {
	current := math.Max(float64(inst.CurrentPrice), float64(MinPrice))
	mean := math.Max(float64(inst.MeanPrice), float64(MinPrice))
	tickSigma := inst.Sigma * p.sqrtDt

	meanReversion := inst.Kappa * (math.Log(mean) - math.Log(current)) * p.dt
	noise := tickSigma * z
	trend := inst.TrendNoise * tickSigma * trendWeight

	logCap := math.Log(1 + TickCap(inst.Class))
	return clamp(meanReversion+noise+trend, -logCap, logCap)
}

// Next returns the instrument's next price: the capped OU step rounded to
// the quote grid, floored at MinPrice and clamped to the daily band.
func (p *Process) Next(inst *model.Instrument, z float64) int64 {
	current := math.Max(float64(inst.CurrentPrice), float64(MinPrice))
	next := RoundToTick(math.Exp(math.Log(current) + p.LogReturn(inst, z)))
	if next < MinPrice {
		next = MinPrice
	}
	return ClampToBand(next, inst.LowerLimit, inst.UpperLimit)
}

// Jump applies a percentage move (e.g. -12.5 for −12.5%) and returns the
// rounded, band-clamped result.
func Jump(inst *model.Instrument, percent float64) int64 {
	next := RoundToTick(float64(inst.CurrentPrice) * (1 + percent/100))
	if next < MinPrice {
		next = MinPrice
	}
	return ClampToBand(next, inst.LowerLimit, inst.UpperLimit)
}

// ClampToBand pins price into [lower, upper]. A zero bound is ignored.
func ClampToBand(price, lower, upper int64) int64 {
	if upper > 0 && price >= upper {
		return upper
	}
	if lower > 0 && price <= lower {
		return lower
	}
	return price
}

// SampleTrend draws a fresh direction uniformly from [-1, 1).
func SampleTrend(src Source) float64 {
	return (src.Float64() - 0.5) * 2
}

// RefreshTrend blends the old trend toward a freshly sampled direction.
func RefreshTrend(old float64, src Source) float64 {
	return old*trendKeep + SampleTrend(src)*(1-trendKeep)
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
