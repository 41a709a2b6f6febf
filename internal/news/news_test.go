package news

import (
	"errors"
	"math"
	"math/rand/v2"
	"strings"
	"testing"

	"pgregory.net/rapid"

	"github.com/kospisim/market-engine/internal/model"
)

// scripted replays fixed draws so each branch can be pinned.
type scripted struct {
	floats []float64
	ints   []int
}

func (s *scripted) Float64() float64 {
	v := s.floats[0]
	s.floats = s.floats[1:]
	return v
}

func (s *scripted) NormFloat64() float64 { return 0 }

func (s *scripted) IntN(n int) int {
	if len(s.ints) == 0 {
		return 0
	}
	v := s.ints[0] % n
	s.ints = s.ints[1:]
	return v
}

func instruments() []*model.Instrument {
	mk := func(id, name string, class model.Class, jump float64) *model.Instrument {
		return &model.Instrument{
			InstrumentConfig: model.InstrumentConfig{ID: id, Name: name, Class: class, JumpIntensity: jump},
			CurrentPrice:     10000,
		}
	}
	return []*model.Instrument{
		mk("1", "Alpha", model.ClassBluechip, 0.1),
		mk("2", "Beta", model.ClassBluechip, 0.2),
		mk("3", "Gamma", model.ClassTheme, 0.6),
	}
}

func approx(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

// --- Config ---

func TestConfigValidate(t *testing.T) {
	if err := DefaultConfig(1800).Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}

	c := DefaultConfig(1800)
	c.Policy = "hourly"
	if err := c.Validate(); !errors.Is(err, ErrUnknownPolicy) {
		t.Errorf("expected ErrUnknownPolicy, got %v", err)
	}

	c = DefaultConfig(1800)
	c.DecoyProbability = 1.5
	if err := c.Validate(); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("expected ErrInvalidConfig, got %v", err)
	}

	if _, err := NewGenerator(Config{Policy: PolicyInterval}, rand.New(rand.NewPCG(1, 1))); err == nil {
		t.Error("expected error for zero interval")
	}
}

// --- Two-stage construction ---

func TestDeclare(t *testing.T) {
	inst := instruments()[0]
	g, _ := NewGenerator(DefaultConfig(1800), &scripted{floats: []float64{0.7, 0.5}})
	d := g.Declare(inst)
	if d.Effect != model.EffectGood || !approx(d.Percent, 1.25) {
		t.Errorf("expected GOOD +1.25%%, got %s %v", d.Effect, d.Percent)
	}

	theme := instruments()[2]
	g, _ = NewGenerator(DefaultConfig(1800), &scripted{floats: []float64{0.2, 0.0}})
	d = g.Declare(theme)
	if d.Effect != model.EffectBad || !approx(d.Percent, -12) {
		t.Errorf("expected BAD -12%%, got %s %v", d.Effect, d.Percent)
	}
}

func TestRealize(t *testing.T) {
	decl := Declaration{Effect: model.EffectGood, Percent: 10}
	tests := []struct {
		name   string
		floats []float64
		want   float64
		decoy  bool
	}{
		{"genuine", []float64{0.5}, 10, false},
		{"inverted decoy", []float64{0.1, 0.2, 0.5}, -5.5, true},
		{"damped decoy", []float64{0.1, 0.7, 0.5}, 1, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, _ := NewGenerator(DefaultConfig(1800), &scripted{floats: tt.floats})
			got, decoy := g.Realize(decl)
			if !approx(got, tt.want) || decoy != tt.decoy {
				t.Errorf("got (%v, %v), want (%v, %v)", got, decoy, tt.want, tt.decoy)
			}
		})
	}
}

func TestProperty_DecoyStagesIndependent(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		seed := rapid.Uint64().Draw(t, "seed")
		g, _ := NewGenerator(DefaultConfig(1800), rand.New(rand.NewPCG(seed, 3)))
		inst := instruments()[rapid.IntRange(0, 2).Draw(t, "inst")]

		d := g.Declare(inst)
		jump, decoy := g.Realize(d)

		if (d.Effect == model.EffectGood) != (d.Percent > 0) {
			t.Fatalf("declared sign does not match effect: %+v", d)
		}
		if !decoy {
			if jump != d.Percent {
				t.Fatalf("genuine event changed magnitude: %v -> %v", d.Percent, jump)
			}
			return
		}
		ratio := jump / d.Percent
		inverted := ratio <= -0.3 && ratio >= -0.8
		damped := ratio >= 0 && ratio <= 0.2
		if !inverted && !damped {
			t.Fatalf("decoy ratio %v outside both bands", ratio)
		}
	})
}

// --- Emission ---

func TestEmit_IntervalPolicy(t *testing.T) {
	g, _ := NewGenerator(DefaultConfig(1800), rand.New(rand.NewPCG(5, 5)))
	insts := instruments()

	if ev := g.Emit(insts, 59, 59, 1); ev != nil {
		t.Errorf("expected nothing off-interval, got %d events", len(ev))
	}
	if ev := g.Emit(insts, 0, 0, 1); ev != nil {
		t.Errorf("expected nothing at day tick 0, got %d events", len(ev))
	}

	events := g.Emit(insts, 1860, 60, 2)
	if len(events) < 1 || len(events) > 2 {
		t.Fatalf("expected 1-2 events, got %d", len(events))
	}
	seen := map[string]bool{}
	for _, ev := range events {
		if seen[ev.TargetInstrumentID] {
			t.Errorf("instrument %s chosen twice", ev.TargetInstrumentID)
		}
		seen[ev.TargetInstrumentID] = true
		if ev.ApplyAtTick != 1863 || ev.Tick != 1860 || ev.Day != 2 {
			t.Errorf("unexpected timing: %+v", ev)
		}
		if strings.Contains(ev.Title, "{name}") {
			t.Errorf("template not filled: %q", ev.Title)
		}
	}
}

func TestEmit_SkipsDelisted(t *testing.T) {
	cfg := DefaultConfig(1800)
	cfg.Policy = PolicyPerTick
	cfg.ProbabilityPerTick = 1
	g, _ := NewGenerator(cfg, rand.New(rand.NewPCG(1, 2)))

	insts := instruments()
	insts[1].IsDelisted = true
	events := g.Emit(insts, 10, 10, 1)
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	for _, ev := range events {
		if ev.TargetInstrumentID == "2" {
			t.Error("delisted instrument received news")
		}
	}
}

func TestEmit_PerTickZeroProbability(t *testing.T) {
	cfg := DefaultConfig(1800)
	cfg.Policy = PolicyPerTick
	cfg.ProbabilityPerTick = 0
	g, _ := NewGenerator(cfg, rand.New(rand.NewPCG(1, 2)))
	for tick := int64(1); tick < 500; tick++ {
		if ev := g.Emit(instruments(), tick, int(tick), 1); len(ev) != 0 {
			t.Fatalf("tick %d: unexpected events", tick)
		}
	}
}

// --- Queue and log ---

func TestQueue_Due(t *testing.T) {
	var q Queue
	q.Push(
		model.NewsEvent{ID: "a", ApplyAtTick: 5},
		model.NewsEvent{ID: "b", ApplyAtTick: 3},
		model.NewsEvent{ID: "c", ApplyAtTick: 8},
	)
	if due := q.Due(2); len(due) != 0 {
		t.Errorf("expected nothing due at 2, got %v", due)
	}
	due := q.Due(5)
	if len(due) != 2 || due[0].ID != "a" || due[1].ID != "b" {
		t.Errorf("expected [a b] in emission order, got %v", due)
	}
	if q.Len() != 1 {
		t.Errorf("expected 1 pending, got %d", q.Len())
	}
	if due := q.Due(5); len(due) != 0 {
		t.Error("an event was returned twice")
	}
}

func TestLog_NewestFirstBounded(t *testing.T) {
	l := NewLog(3)
	l.Add(model.NewsEvent{ID: "1"}, model.NewsEvent{ID: "2"})
	l.Add(model.NewsEvent{ID: "3"}, model.NewsEvent{ID: "4"})

	got := l.Events()
	want := []string{"4", "3", "2"}
	if len(got) != len(want) {
		t.Fatalf("expected %d events, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i].ID != want[i] {
			t.Errorf("position %d: got %s, want %s", i, got[i].ID, want[i])
		}
	}

	l.Resolve("3", false)
	for _, ev := range l.Events() {
		if ev.ID == "3" && (!ev.Resolved || ev.Applied) {
			t.Errorf("expected resolved without apply, got %+v", ev)
		}
	}
}
