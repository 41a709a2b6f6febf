// Package news generates market-moving announcements and schedules their
// delayed price impact.
//
// Construction is two-stage. Declare draws what the headline says (sentiment
// and the move it implies); Realize derives the move that actually lands.
// For most events the two agree. Decoys either reverse the declared move at
// 30–80% strength or damp it to 0–20%.
package news

import (
	"errors"
	"fmt"

	"github.com/kospisim/market-engine/internal/model"
	"github.com/kospisim/market-engine/internal/pricing"
)

// Policy selects how emission is triggered. A session uses exactly one.
type Policy string

const (
	// PolicyInterval emits a batch every IntervalTicks day ticks.
	PolicyInterval Policy = "interval"
	// PolicyPerTick rolls an independent chance per instrument every tick.
	PolicyPerTick Policy = "per_tick"
)

var (
	ErrUnknownPolicy = errors.New("news: unknown policy")
	ErrInvalidConfig = errors.New("news: invalid config")
)

// Config controls emission frequency, decoys and timing.
type Config struct {
	Policy             Policy
	ProbabilityPerTick float64 // per-tick policy, bluechip base rate
	ThemeMultiplier    float64
	IntervalTicks      int
	MaxPerBatch        int
	DecoyProbability   float64
	ApplyDelay         int64 // ticks between emission and impact
	LogCapacity        int
}

// DefaultConfig returns the interval policy with 1–2 events every 60 ticks,
// a 30% decoy rate and a three-tick delay. The per-tick rate averages 1.5
// events per instrument per day.
func DefaultConfig(ticksPerDay int) Config {
	return Config{
		Policy:             PolicyInterval,
		ProbabilityPerTick: 1.5 / float64(ticksPerDay),
		ThemeMultiplier:    2,
		IntervalTicks:      60,
		MaxPerBatch:        2,
		DecoyProbability:   0.3,
		ApplyDelay:         3,
		LogCapacity:        30,
	}
}

// Validate checks the configuration for the selected policy.
func (c Config) Validate() error {
	switch c.Policy {
	case PolicyInterval:
		if c.IntervalTicks <= 0 || c.MaxPerBatch <= 0 {
			return fmt.Errorf("%w: interval and batch size must be positive", ErrInvalidConfig)
		}
	case PolicyPerTick:
		if c.ProbabilityPerTick < 0 || c.ProbabilityPerTick > 1 {
			return fmt.Errorf("%w: probability %v outside [0, 1]", ErrInvalidConfig, c.ProbabilityPerTick)
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownPolicy, c.Policy)
	}
	if c.DecoyProbability < 0 || c.DecoyProbability > 1 {
		return fmt.Errorf("%w: decoy probability %v outside [0, 1]", ErrInvalidConfig, c.DecoyProbability)
	}
	if c.ApplyDelay < 0 || c.LogCapacity <= 0 {
		return fmt.Errorf("%w: delay must not be negative and log capacity must be positive", ErrInvalidConfig)
	}
	return nil
}

// Declaration is what a headline claims.
type Declaration struct {
	Effect  model.Effect
	Percent float64 // signed, in percent
}

// Generator emits news events. It is not safe for concurrent use; the
// session calls it under its own lock.
type Generator struct {
	cfg Config
	src pricing.Source
}

// NewGenerator validates cfg and returns a generator drawing from src.
func NewGenerator(cfg Config, src pricing.Source) (*Generator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Generator{cfg: cfg, src: src}, nil
}

// Config returns the generator's configuration.
func (g *Generator) Config() Config { return g.cfg }

// Emit returns the events generated at tick. Delisted instruments are never
// chosen. Each event's jump lands at tick + ApplyDelay.
func (g *Generator) Emit(instruments []*model.Instrument, tick int64, dayTick, day int) []model.NewsEvent {
	var targets []*model.Instrument
	switch g.cfg.Policy {
	case PolicyInterval:
		targets = g.intervalTargets(instruments, dayTick)
	case PolicyPerTick:
		targets = g.perTickTargets(instruments)
	}
	if len(targets) == 0 {
		return nil
	}

	events := make([]model.NewsEvent, 0, len(targets))
	for _, inst := range targets {
		events = append(events, g.build(inst, tick, day))
	}
	return events
}

func (g *Generator) intervalTargets(instruments []*model.Instrument, dayTick int) []*model.Instrument {
	if dayTick <= 0 || dayTick%g.cfg.IntervalTicks != 0 {
		return nil
	}
	pool := listed(instruments)
	if len(pool) == 0 {
		return nil
	}
	n := min(1+g.src.IntN(g.cfg.MaxPerBatch), len(pool))
	// Partial Fisher-Yates: the first n entries are a uniform sample.
	for i := 0; i < n; i++ {
		j := i + g.src.IntN(len(pool)-i)
		pool[i], pool[j] = pool[j], pool[i]
	}
	return pool[:n]
}

func (g *Generator) perTickTargets(instruments []*model.Instrument) []*model.Instrument {
	var out []*model.Instrument
	for _, inst := range listed(instruments) {
		p := g.cfg.ProbabilityPerTick
		if inst.Class == model.ClassTheme {
			p *= g.cfg.ThemeMultiplier
		}
		if g.src.Float64() < p {
			out = append(out, inst)
		}
	}
	return out
}

func listed(instruments []*model.Instrument) []*model.Instrument {
	out := make([]*model.Instrument, 0, len(instruments))
	for _, inst := range instruments {
		if !inst.IsDelisted {
			out = append(out, inst)
		}
	}
	return out
}

func (g *Generator) build(inst *model.Instrument, tick int64, day int) model.NewsEvent {
	d := g.Declare(inst)
	template := g.src.IntN(len(goodHeadlines))
	jump, decoy := g.Realize(d)
	return model.NewsEvent{
		ID:                 fmt.Sprintf("news-%d-%s", tick, inst.ID),
		Tick:               tick,
		Day:                day,
		Title:              headline(d.Effect, template, inst.Name),
		Description:        description(d.Effect, inst.Name),
		Effect:             d.Effect,
		TargetInstrumentID: inst.ID,
		DeclaredPercent:    d.Percent,
		JumpPercent:        jump,
		Decoy:              decoy,
		ApplyAtTick:        tick + g.cfg.ApplyDelay,
	}
}

// Declare draws a sentiment and the move it implies for inst. Bluechips move
// 5–20% and theme stocks 20–60%, both scaled by the instrument's jump
// intensity.
func (g *Generator) Declare(inst *model.Instrument) Declaration {
	effect := model.EffectBad
	if g.src.Float64() >= 0.5 {
		effect = model.EffectGood
	}

	var magnitude float64
	if inst.Class == model.ClassTheme {
		magnitude = 0.20 + g.src.Float64()*0.40
	} else {
		magnitude = 0.05 + g.src.Float64()*0.15
	}
	pct := magnitude * inst.JumpIntensity * 100
	if effect == model.EffectBad {
		pct = -pct
	}
	return Declaration{Effect: effect, Percent: pct}
}

// Realize returns the move that will be applied for d and whether the event
// is a decoy.
func (g *Generator) Realize(d Declaration) (float64, bool) {
	if g.src.Float64() >= g.cfg.DecoyProbability {
		return d.Percent, false
	}
	if g.src.Float64() < 0.5 {
		return -d.Percent * (0.3 + g.src.Float64()*0.5), true
	}
	return d.Percent * g.src.Float64() * 0.2, true
}
