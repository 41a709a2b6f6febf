package model

import "time"

// Effect is the sentiment a news event declares.
type Effect string

const (
	EffectGood Effect = "GOOD"
	EffectBad  Effect = "BAD"
)

// NewsEvent is a one-shot announcement with a deferred price impact.
// DeclaredPercent is what the headline implies; JumpPercent is what lands.
type NewsEvent struct {
	ID                 string  `json:"id"`
	Tick               int64   `json:"tick"`
	Day                int     `json:"day"`
	Title              string  `json:"title"`
	Description        string  `json:"description"`
	Effect             Effect  `json:"effect"`
	TargetInstrumentID string  `json:"target_instrument_id"`
	DeclaredPercent    float64 `json:"declared_percent"`
	JumpPercent        float64 `json:"jump_percent"`
	Decoy              bool    `json:"decoy"`
	ApplyAtTick        int64   `json:"apply_at_tick"`
	Resolved           bool    `json:"resolved"`
	Applied            bool    `json:"applied"` // false when the target could not move
}

// InstrumentSnapshot is the per-instrument part of a published snapshot.
type InstrumentSnapshot struct {
	ID               string    `json:"id"`
	CurrentPrice     int64     `json:"current_price"`
	PreviousClose    int64     `json:"previous_close"`
	OpenPrice        int64     `json:"open_price"`
	UpperLimit       int64     `json:"upper_limit"`
	LowerLimit       int64     `json:"lower_limit"`
	TradingHalted    bool      `json:"trading_halted"`
	HaltedAtTick     int64     `json:"halted_at_tick,omitempty"`
	HaltedUntilTick  int64     `json:"halted_until_tick,omitempty"`
	HaltReason       LimitSide `json:"halt_reason,omitempty"`
	IsDelisted       bool      `json:"is_delisted"`
	DelistedAtDay    int       `json:"delisted_at_day,omitempty"`
	DelistingWarning bool      `json:"delisting_warning"`
	TrendNoise       float64   `json:"trend_noise"`
}

// Snapshot is the immutable state published after every clock step.
type Snapshot struct {
	Epoch              uint64               `json:"epoch"`
	Tick               int64                `json:"tick"`
	Day                int                  `json:"day"`
	DayTick            int                  `json:"day_tick"`
	IsMarketClosed     bool                 `json:"is_market_closed"`
	ClosingMessage     *string              `json:"closing_message"`
	ClosingCountdown   int                  `json:"closing_countdown"`
	DayProgressPercent int                  `json:"day_progress_percent"`
	Instruments        []InstrumentSnapshot `json:"instruments"`
	PublishedAt        time.Time            `json:"published_at"`
}

// Instrument returns the entry for id, if present.
func (s *Snapshot) Instrument(id string) (InstrumentSnapshot, bool) {
	for _, in := range s.Instruments {
		if in.ID == id {
			return in, true
		}
	}
	return InstrumentSnapshot{}, false
}

// SnapshotOf captures the published fields of an instrument.
func SnapshotOf(i *Instrument) InstrumentSnapshot {
	return InstrumentSnapshot{
		ID:               i.ID,
		CurrentPrice:     i.CurrentPrice,
		PreviousClose:    i.PreviousClose,
		OpenPrice:        i.OpenPrice,
		UpperLimit:       i.UpperLimit,
		LowerLimit:       i.LowerLimit,
		TradingHalted:    i.TradingHalted,
		HaltedAtTick:     i.HaltedAtTick,
		HaltedUntilTick:  i.HaltedUntilTick,
		HaltReason:       i.FrozenAtLimit,
		IsDelisted:       i.IsDelisted,
		DelistedAtDay:    i.DelistedAtDay,
		DelistingWarning: i.DelistingWarning,
		TrendNoise:       i.TrendNoise,
	}
}
