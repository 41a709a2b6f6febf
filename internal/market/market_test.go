package market

import (
	"errors"
	"math/rand/v2"
	"os"
	"path/filepath"
	"testing"

	"github.com/kospisim/market-engine/internal/model"
	"github.com/kospisim/market-engine/internal/pricing"
)

func testRNG() *rand.Rand { return rand.New(rand.NewPCG(7, 11)) }

func newTestInstrument(t *testing.T, id string) *model.Instrument {
	t.Helper()
	for _, c := range DefaultCatalog() {
		if c.ID == id {
			return New(c, DefaultRules(), testRNG())
		}
	}
	t.Fatalf("instrument %s not in default catalog", id)
	return nil
}

// --- Catalog ---

func TestDefaultCatalog_Valid(t *testing.T) {
	cfgs := DefaultCatalog()
	if err := ValidateCatalog(cfgs); err != nil {
		t.Fatalf("default catalog invalid: %v", err)
	}
	var blue, theme int
	for _, c := range cfgs {
		switch c.Class {
		case model.ClassBluechip:
			blue++
		case model.ClassTheme:
			theme++
		}
	}
	if blue != 7 || theme != 3 {
		t.Errorf("expected 7 bluechip and 3 theme, got %d and %d", blue, theme)
	}
}

func TestValidateCatalog_Rejects(t *testing.T) {
	good := DefaultCatalog()[0]

	tests := []struct {
		name   string
		mutate func(*model.InstrumentConfig)
	}{
		{"no name", func(c *model.InstrumentConfig) { c.Name = "" }},
		{"bad class", func(c *model.InstrumentConfig) { c.Class = "penny" }},
		{"price below floor", func(c *model.InstrumentConfig) { c.InitialPrice = 50 }},
		{"off tick", func(c *model.InstrumentConfig) { c.InitialPrice = 72010 }},
		{"zero sigma", func(c *model.InstrumentConfig) { c.Sigma = 0 }},
		{"negative kappa", func(c *model.InstrumentConfig) { c.Kappa = -1 }},
		{"zero mean", func(c *model.InstrumentConfig) { c.MeanPrice = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := good
			tt.mutate(&c)
			if err := ValidateCatalog([]model.InstrumentConfig{c}); !errors.Is(err, ErrInvalidInstrument) {
				t.Errorf("expected ErrInvalidInstrument, got %v", err)
			}
		})
	}

	if err := ValidateCatalog([]model.InstrumentConfig{good, good}); !errors.Is(err, ErrInvalidInstrument) {
		t.Errorf("duplicate id: expected ErrInvalidInstrument, got %v", err)
	}
	if err := ValidateCatalog(nil); err != ErrEmptyCatalog {
		t.Errorf("expected ErrEmptyCatalog, got %v", err)
	}
}

func TestLoadCatalog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	doc := `instruments:
  - id: "x1"
    name: Test Corp
    symbol: "000001"
    class: theme
    initial_price: 5000
    mean_price: 4500
    kappa: 0.05
    sigma: 0.1
    jump_intensity: 0.5
`
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		t.Fatal(err)
	}

	cfgs, err := LoadCatalog(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(cfgs) != 1 || cfgs[0].ID != "x1" || cfgs[0].Class != model.ClassTheme || cfgs[0].InitialPrice != 5000 {
		t.Errorf("unexpected catalog: %+v", cfgs)
	}

	if _, err := LoadCatalog(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

// --- Limits ---

func TestLimits(t *testing.T) {
	r := DefaultRules()
	tests := []struct {
		prevClose    int64
		lower, upper int64
	}{
		{72000, 50400, 93600},
		{95000, 66500, 123500},
		{15200, 10650, 19750}, // both edges snapped inward to the 50 grid
		{4800, 3360, 6240},
	}
	for _, tt := range tests {
		lo, hi := r.Limits(tt.prevClose)
		if lo != tt.lower || hi != tt.upper {
			t.Errorf("Limits(%d) = [%d, %d], want [%d, %d]", tt.prevClose, lo, hi, tt.lower, tt.upper)
		}
		if !pricing.OnTick(lo) || !pricing.OnTick(hi) {
			t.Errorf("Limits(%d) off grid: [%d, %d]", tt.prevClose, lo, hi)
		}
	}
}

func TestNew_InitialState(t *testing.T) {
	inst := newTestInstrument(t, "1")
	if inst.CurrentPrice != 72000 || inst.OpenPrice != 72000 || inst.PreviousClose != 72000 {
		t.Errorf("unexpected prices: %+v", inst)
	}
	if inst.LowerLimit != 50400 || inst.UpperLimit != 93600 {
		t.Errorf("unexpected limits: [%d, %d]", inst.LowerLimit, inst.UpperLimit)
	}
	if len(inst.History) != 30 {
		t.Errorf("expected 30 synthetic candles, got %d", len(inst.History))
	}
	if inst.TrendNoise < -1 || inst.TrendNoise > 1 {
		t.Errorf("trend %v out of range", inst.TrendNoise)
	}
}

// --- Halt ---

func TestSettle_HaltAtUpperLimit(t *testing.T) {
	r := DefaultRules()
	inst := newTestInstrument(t, "1")

	ev := r.Settle(inst, inst.UpperLimit, 100, 1)
	if ev != EventHalted {
		t.Fatalf("expected EventHalted, got %v", ev)
	}
	if !inst.TradingHalted || !inst.PriceFrozen || inst.FrozenAtLimit != model.LimitUpper {
		t.Errorf("unexpected flags: %+v", inst)
	}
	if inst.HaltedAtTick != 100 || inst.HaltedUntilTick != 400 {
		t.Errorf("expected halt [100, 400), got [%d, %d)", inst.HaltedAtTick, inst.HaltedUntilTick)
	}

	for tick := int64(101); tick < 400; tick++ {
		if r.ResumeIfDue(inst, tick) {
			t.Fatalf("resumed early at tick %d", tick)
		}
	}
	if !r.ResumeIfDue(inst, 400) {
		t.Fatal("expected resume at tick 400")
	}
	if inst.TradingHalted || inst.PriceFrozen || inst.FrozenAtLimit != model.LimitNone {
		t.Errorf("flags not cleared: %+v", inst)
	}
}

func TestSettle_LowerLimitClamps(t *testing.T) {
	r := DefaultRules()
	inst := newTestInstrument(t, "1")

	if ev := r.Settle(inst, inst.LowerLimit-1000, 5, 1); ev != EventHalted {
		t.Fatalf("expected EventHalted, got %v", ev)
	}
	if inst.CurrentPrice != inst.LowerLimit || inst.FrozenAtLimit != model.LimitLower {
		t.Errorf("expected clamp to lower limit %d, got %d (%s)", inst.LowerLimit, inst.CurrentPrice, inst.FrozenAtLimit)
	}
}

func TestSettle_AlreadyFrozenDoesNotRehalt(t *testing.T) {
	r := DefaultRules()
	inst := newTestInstrument(t, "1")
	inst.PriceFrozen = true
	inst.FrozenAtLimit = model.LimitUpper

	if ev := r.Settle(inst, inst.UpperLimit, 10, 1); ev != EventNone {
		t.Errorf("expected no new halt, got %v", ev)
	}
	if inst.TradingHalted {
		t.Error("frozen instrument should not restart a halt")
	}
}

func TestSettle_InsideBand(t *testing.T) {
	r := DefaultRules()
	inst := newTestInstrument(t, "1")
	if ev := r.Settle(inst, 73000, 1, 1); ev != EventNone {
		t.Errorf("expected EventNone, got %v", ev)
	}
	if inst.CurrentPrice != 73000 || inst.DelistingWarning {
		t.Errorf("unexpected state: price %d warning %v", inst.CurrentPrice, inst.DelistingWarning)
	}
}

// --- Delisting ---

func TestSettle_WarningAboveFloor(t *testing.T) {
	r := DefaultRules()
	inst := newTestInstrument(t, "10")
	inst.LowerLimit = 0

	if ev := r.Settle(inst, 900, 1, 1); ev != EventNone {
		t.Fatalf("expected EventNone, got %v", ev)
	}
	if !inst.DelistingWarning || inst.IsDelisted {
		t.Errorf("expected warning only, got warning=%v delisted=%v", inst.DelistingWarning, inst.IsDelisted)
	}
}

func TestSettle_DelistBelowFloor(t *testing.T) {
	r := DefaultRules()
	inst := newTestInstrument(t, "10")
	inst.LowerLimit = 0

	if ev := r.Settle(inst, 480, 50, 3); ev != EventDelisted {
		t.Fatalf("expected EventDelisted, got %v", ev)
	}
	if inst.CurrentPrice != 500 {
		t.Errorf("expected price pinned at 500, got %d", inst.CurrentPrice)
	}
	if !inst.IsDelisted || inst.DelistedAtDay != 3 || !inst.PriceFrozen {
		t.Errorf("unexpected flags: %+v", inst)
	}
	if inst.Tradable() {
		t.Error("delisted instrument should not be tradable")
	}
}

func TestSettle_DelistClearsWarning(t *testing.T) {
	r := DefaultRules()
	inst := newTestInstrument(t, "10")
	inst.LowerLimit = 0

	r.Settle(inst, 900, 10, 2)
	if !inst.DelistingWarning {
		t.Fatal("expected warning below 1000")
	}
	r.Settle(inst, 450, 11, 2)
	if !inst.IsDelisted || inst.DelistingWarning {
		t.Errorf("expected delisted without warning, got delisted=%v warning=%v", inst.IsDelisted, inst.DelistingWarning)
	}
}

func TestOpenDay_RelistAfterWaitingPeriod(t *testing.T) {
	r := DefaultRules()
	src := testRNG()
	inst := newTestInstrument(t, "10")
	inst.LowerLimit = 0
	r.Settle(inst, 480, 50, 3)

	for day := 4; day < 10; day++ {
		if ev := r.OpenDay(inst, day, src); ev != EventNone {
			t.Fatalf("day %d: expected no transition, got %v", day, ev)
		}
		if !inst.IsDelisted || inst.CurrentPrice != 500 {
			t.Fatalf("day %d: delisted instrument changed: %+v", day, inst)
		}
	}

	if ev := r.OpenDay(inst, 10, src); ev != EventRelisted {
		t.Fatalf("expected EventRelisted on day 10, got %v", ev)
	}
	if inst.CurrentPrice != 4800 || inst.PreviousClose != 4800 || inst.OpenPrice != 4800 {
		t.Errorf("expected relist at 4800, got %+v", inst)
	}
	if inst.IsDelisted || inst.DelistedAtDay != 0 || inst.PriceFrozen || inst.TradingHalted || inst.DelistingWarning {
		t.Errorf("flags not cleared: %+v", inst)
	}
	if inst.LowerLimit != 3360 || inst.UpperLimit != 6240 {
		t.Errorf("unexpected limits after relist: [%d, %d]", inst.LowerLimit, inst.UpperLimit)
	}
}

func TestOpenDay_RollsCloseAndClearsHalt(t *testing.T) {
	r := DefaultRules()
	inst := newTestInstrument(t, "1")
	r.Settle(inst, inst.UpperLimit, 1700, 1)

	if ev := r.OpenDay(inst, 2, testRNG()); ev != EventNone {
		t.Fatalf("expected EventNone, got %v", ev)
	}
	if inst.PreviousClose != 93600 || inst.OpenPrice != 93600 {
		t.Errorf("expected close 93600 rolled over, got prev=%d open=%d", inst.PreviousClose, inst.OpenPrice)
	}
	lo, hi := r.Limits(93600)
	if inst.LowerLimit != lo || inst.UpperLimit != hi {
		t.Errorf("limits not recomputed: [%d, %d]", inst.LowerLimit, inst.UpperLimit)
	}
	if inst.TradingHalted || inst.PriceFrozen || inst.HaltedUntilTick != 0 {
		t.Errorf("halt not cleared: %+v", inst)
	}
}

// --- History ---

func TestRecordCandle(t *testing.T) {
	src := testRNG()
	var h []model.Candle

	h = RecordCandle(h, 100, 10, 1000, 1010, src)
	if len(h) != 1 || h[0].Open != 1000 || h[0].Close != 1010 || h[0].High != 1010 || h[0].Low != 1000 {
		t.Fatalf("unexpected first candle: %+v", h)
	}

	h = RecordCandle(h, 101, 11, 1010, 990, src)
	if len(h) != 1 {
		t.Fatalf("expected extension, got %d candles", len(h))
	}
	if h[0].Low != 990 || h[0].Close != 990 || h[0].High != 1010 {
		t.Errorf("unexpected extended candle: %+v", h[0])
	}

	h = RecordCandle(h, 109, 20, 990, 995, src)
	if len(h) != 2 || h[1].Tick != 109 {
		t.Errorf("expected a new candle at day tick 20, got %+v", h)
	}
}

func TestRecordCandle_Capacity(t *testing.T) {
	src := testRNG()
	var h []model.Candle
	for i := 0; i < HistoryCapacity+25; i++ {
		h = RecordCandle(h, int64(i), i*CandleInterval, 1000, 1000, src)
	}
	if len(h) != HistoryCapacity {
		t.Fatalf("expected %d candles, got %d", HistoryCapacity, len(h))
	}
	if h[0].Tick != 25 {
		t.Errorf("expected oldest candles evicted, first tick %d", h[0].Tick)
	}
}

// --- Order book ---

func TestGenerateBook(t *testing.T) {
	book := GenerateBook(72000, model.ClassBluechip, testRNG())
	if len(book.Asks) != 5 || len(book.Bids) != 5 {
		t.Fatalf("expected 5x5 book, got %d asks %d bids", len(book.Asks), len(book.Bids))
	}
	wantAsks := []int64{72500, 72400, 72300, 72200, 72100}
	wantBids := []int64{72000, 71900, 71800, 71700, 71600}
	for i := range wantAsks {
		if book.Asks[i].Price != wantAsks[i] {
			t.Errorf("ask %d: got %d, want %d", i, book.Asks[i].Price, wantAsks[i])
		}
		if book.Bids[i].Price != wantBids[i] {
			t.Errorf("bid %d: got %d, want %d", i, book.Bids[i].Price, wantBids[i])
		}
		if book.Asks[i].Volume < 25_000 || book.Bids[i].Volume < 25_000 {
			t.Errorf("bluechip volume below 5x floor at level %d", i)
		}
	}
}

func TestUpdateBook_VolumeFloor(t *testing.T) {
	src := testRNG()
	book := GenerateBook(4800, model.ClassTheme, src)
	for i := 0; i < 200; i++ {
		book = UpdateBook(book, 4800, -5, model.ClassTheme, src)
		for _, l := range append(book.Asks, book.Bids...) {
			if l.Volume < 500 {
				t.Fatalf("iteration %d: volume %d below floor", i, l.Volume)
			}
			if !pricing.OnTick(l.Price) {
				t.Fatalf("iteration %d: level %d off grid", i, l.Price)
			}
		}
	}
}

// --- Snapshot application ---

func TestApplySnapshot_KeepsBookWhileHalted(t *testing.T) {
	inst := newTestInstrument(t, "1")
	before := inst.Book

	s := model.SnapshotOf(inst)
	s.CurrentPrice = inst.UpperLimit
	s.TradingHalted = true
	s.HaltReason = model.LimitUpper
	ApplySnapshot(inst, s, testRNG())

	if inst.CurrentPrice != inst.UpperLimit || !inst.TradingHalted || !inst.PriceFrozen {
		t.Errorf("snapshot not applied: %+v", inst)
	}
	if inst.Book.Asks[0] != before.Asks[0] {
		t.Error("book should not be regenerated while halted")
	}
}
