// Package session owns one simulated market: its instruments, clock, news
// and the accounts trading on it.
//
// All mutable state lives in a Session and is guarded by its mutex. The
// clock loop and order submissions both take that lock, so an order always
// sees the prices of a completed tick. Readers get immutable snapshots
// published after each step.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"github.com/kospisim/market-engine/internal/market"
	"github.com/kospisim/market-engine/internal/model"
	"github.com/kospisim/market-engine/internal/news"
	"github.com/kospisim/market-engine/internal/pricing"
	"github.com/kospisim/market-engine/internal/settlement"
)

// State is the session clock state.
type State string

const (
	StateOpen   State = "open"
	StateClosed State = "closed"
)

var (
	// ErrSuperseded is returned by a clock loop or batch whose epoch is no
	// longer current. It marks an expected race, not a failure.
	ErrSuperseded = errors.New("session: superseded by a newer epoch")

	ErrInvalidConfig = errors.New("session: invalid config")
)

// DefaultClosingMessage is shown while the market is closed.
const DefaultClosingMessage = "The market has closed. The next session opens in about three minutes."

// Config assembles the parameters of every component a session drives.
type Config struct {
	TicksPerDay       int
	ClosingTicks      int
	TrendRefreshTicks int
	InitialCash       decimal.Decimal
	ClosingMessage    string
	Catalog           []model.InstrumentConfig
	Rules             market.Rules
	News              news.Config
	Settlement        settlement.Config
}

// DefaultConfig returns a 1800-tick day with a 180-tick close, the default
// catalogue and default component settings.
func DefaultConfig() Config {
	return Config{
		TicksPerDay:       1800,
		ClosingTicks:      180,
		TrendRefreshTicks: 180,
		InitialCash:       decimal.NewFromInt(10_000_000),
		ClosingMessage:    DefaultClosingMessage,
		Catalog:           market.DefaultCatalog(),
		Rules:             market.DefaultRules(),
		News:              news.DefaultConfig(1800),
		Settlement:        settlement.DefaultConfig(),
	}
}

func (c Config) validate() error {
	if c.TicksPerDay <= 0 || c.ClosingTicks < 0 || c.TrendRefreshTicks <= 0 {
		return fmt.Errorf("%w: ticks per day and trend refresh must be positive, closing ticks not negative", ErrInvalidConfig)
	}
	if c.InitialCash.IsNegative() {
		return fmt.Errorf("%w: initial cash must not be negative", ErrInvalidConfig)
	}
	return market.ValidateCatalog(c.Catalog)
}

// Publication is everything one step produced, handed to publishers after
// the session lock is released.
type Publication struct {
	Snapshot     *model.Snapshot
	News         []model.NewsEvent // emitted on this step
	NewsLog      []model.NewsEvent // full display log; nil when unchanged
	Executed     []model.ExecutedOrder
	Liquidations []model.Liquidation
	Accounts     []*model.Account // copies of accounts changed on this step
}

// Publisher receives each publication. Implementations must not block for
// long; the clock loop waits for them.
type Publisher interface {
	Publish(ctx context.Context, p Publication)
}

// Session is one running market.
type Session struct {
	cfg        Config
	process    *pricing.Process
	generator  *news.Generator
	engine     *settlement.Engine
	rng        pricing.Source
	publishers []Publisher

	// pubMu orders publications. It is acquired while mu is held and never
	// the other way round.
	pubMu sync.Mutex

	mu          sync.Mutex
	instruments []*model.Instrument
	byID        map[string]*model.Instrument
	pending     news.Queue
	newsLog     *news.Log
	accounts    map[string]*model.Account
	state       State
	tick        int64
	day         int
	dayTick     int
	countdown   int

	epoch    atomic.Uint64
	running  atomic.Bool
	snapshot atomic.Pointer[model.Snapshot]
}

// New builds a session at tick 0, day 1 with freshly generated instruments.
// src supplies every random draw; pass a seeded *rand.Rand for determinism.
func New(cfg Config, src pricing.Source, publishers ...Publisher) (*Session, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	process, err := pricing.NewProcess(cfg.TicksPerDay)
	if err != nil {
		return nil, err
	}
	gen, err := news.NewGenerator(cfg.News, src)
	if err != nil {
		return nil, err
	}
	if cfg.ClosingMessage == "" {
		cfg.ClosingMessage = DefaultClosingMessage
	}

	s := &Session{
		cfg:        cfg,
		process:    process,
		generator:  gen,
		engine:     settlement.NewEngine(cfg.Settlement),
		rng:        src,
		publishers: publishers,
		newsLog:    news.NewLog(cfg.News.LogCapacity),
		accounts:   make(map[string]*model.Account),
	}
	s.resetLocked()
	s.snapshot.Store(s.buildSnapshot())
	return s, nil
}

// AddPublisher registers p for subsequent publications. It must be called
// before the clock is started.
func (s *Session) AddPublisher(p Publisher) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.publishers = append(s.publishers, p)
}

func (s *Session) resetLocked() {
	s.instruments = market.NewSet(s.cfg.Catalog, s.cfg.Rules, s.rng)
	s.byID = make(map[string]*model.Instrument, len(s.instruments))
	for _, inst := range s.instruments {
		s.byID[inst.ID] = inst
	}
	s.pending.Clear()
	s.newsLog.Clear()
	s.state = StateOpen
	s.tick = 0
	s.day = 1
	s.dayTick = 0
	s.countdown = 0
}

// Reset restores every instrument to its configured initial state and the
// clock to tick 0, day 1. Accounts are kept.
func (s *Session) Reset(ctx context.Context) {
	s.mu.Lock()
	s.resetLocked()
	snap := s.buildSnapshot()
	s.snapshot.Store(snap)
	slog.Info("session reset", "instruments", len(snap.Instruments))
	s.unlockAndPublish(ctx, Publication{Snapshot: snap, NewsLog: []model.NewsEvent{}})
}

// Restore resumes from a previously published snapshot and news log.
// Announced events that had not landed are scheduled again. A nil
// snapshot or one that names no known instrument is treated as "no data
// yet" and leaves the fresh state in place. It reports whether anything was
// restored.
func (s *Session) Restore(snap *model.Snapshot, log []model.NewsEvent) bool {
	if snap == nil || snap.Day < 1 || snap.Tick < 0 {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	matched := 0
	for _, is := range snap.Instruments {
		if inst, ok := s.byID[is.ID]; ok && is.CurrentPrice > 0 {
			market.ApplySnapshot(inst, is, s.rng)
			matched++
		}
	}
	if matched == 0 {
		return false
	}
	s.tick = snap.Tick
	s.day = snap.Day
	s.dayTick = snap.DayTick
	s.state = StateOpen
	s.countdown = 0
	if snap.IsMarketClosed {
		s.state = StateClosed
		s.countdown = snap.ClosingCountdown
	}
	s.newsLog.Restore(log)
	s.requeueLocked()
	s.snapshot.Store(s.buildSnapshot())
	return true
}

// requeueLocked schedules every announced event whose jump has not landed
// yet, in emission order. Events already due land on the next tick.
func (s *Session) requeueLocked() {
	s.pending.Clear()
	events := s.newsLog.Events()
	for i := len(events) - 1; i >= 0; i-- {
		if !events[i].Resolved {
			s.pending.Push(events[i])
		}
	}
}

// Snapshot returns the latest published snapshot. It never blocks on the
// clock.
func (s *Session) Snapshot() *model.Snapshot {
	return s.snapshot.Load()
}

// Instruments returns copies of every instrument including candle history
// and book.
func (s *Session) Instruments() []*model.Instrument {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*model.Instrument, 0, len(s.instruments))
	for _, inst := range s.instruments {
		out = append(out, inst.Clone())
	}
	return out
}

// Instrument returns a copy of one instrument.
func (s *Session) Instrument(id string) (*model.Instrument, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inst, ok := s.byID[id]
	if !ok {
		return nil, false
	}
	return inst.Clone(), true
}

// News returns the display log, newest first.
func (s *Session) News() []model.NewsEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.newsLog.Events()
}

// Attach installs an externally persisted account, replacing any in-memory
// copy for the same user.
func (s *Session) Attach(acct *model.Account) {
	if acct == nil || acct.UserID == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts[acct.UserID] = acct.Clone()
}

// Account returns a copy of the user's account. A user with no account sees
// a freshly funded one; it is opened only by the first order.
func (s *Session) Account(userID string) *model.Account {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accountLocked(userID).Clone()
}

// accountLocked returns the user's account or a new funded one. A new
// account is not kept until openLocked is called after a successful order.
func (s *Session) accountLocked(userID string) *model.Account {
	if acct, ok := s.accounts[userID]; ok {
		return acct
	}
	return model.NewAccount(userID, s.cfg.InitialCash)
}

func (s *Session) openLocked(acct *model.Account) {
	s.accounts[acct.UserID] = acct
}

func (s *Session) sortedUserIDs() []string {
	ids := make([]string, 0, len(s.accounts))
	for id := range s.accounts {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (s *Session) buildSnapshot() *model.Snapshot {
	snap := &model.Snapshot{
		Epoch:              s.epoch.Load(),
		Tick:               s.tick,
		Day:                s.day,
		DayTick:            s.dayTick,
		IsMarketClosed:     s.state == StateClosed,
		ClosingCountdown:   s.countdown,
		DayProgressPercent: int(math.Round(float64(s.dayTick) / float64(s.cfg.TicksPerDay) * 100)),
		Instruments:        make([]model.InstrumentSnapshot, 0, len(s.instruments)),
		PublishedAt:        time.Now().UTC(),
	}
	if snap.IsMarketClosed {
		msg := s.cfg.ClosingMessage
		snap.ClosingMessage = &msg
	}
	for _, inst := range s.instruments {
		snap.Instruments = append(snap.Instruments, model.SnapshotOf(inst))
	}
	return snap
}

// unlockAndPublish releases s.mu and hands p to every publisher. pubMu is
// taken before s.mu is released, so publications are delivered in the order
// their state changes were made and a slow publisher can never let an older
// account copy land after a newer one.
func (s *Session) unlockAndPublish(ctx context.Context, p Publication) {
	s.pubMu.Lock()
	defer s.pubMu.Unlock()
	publishers := s.publishers
	s.mu.Unlock()

	for _, pub := range publishers {
		pub.Publish(ctx, p)
	}
}
