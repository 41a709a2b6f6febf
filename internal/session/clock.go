package session

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/kospisim/market-engine/internal/market"
	"github.com/kospisim/market-engine/internal/metrics"
	"github.com/kospisim/market-engine/internal/model"
	"github.com/kospisim/market-engine/internal/pricing"
	"github.com/kospisim/market-engine/internal/settlement"
)

// Step advances the clock by one tick regardless of epoch and publishes the
// result. Tests and the batch runner drive the session through it.
func (s *Session) Step(ctx context.Context) Publication {
	s.mu.Lock()
	p := s.advanceLocked()
	s.unlockAndPublish(ctx, p)
	return p
}

// step advances one tick on behalf of the loop holding epoch. The epoch is
// compared under the lock, so a superseded loop never writes.
func (s *Session) step(ctx context.Context, epoch uint64) (Publication, error) {
	s.mu.Lock()
	if s.epoch.Load() != epoch {
		s.mu.Unlock()
		return Publication{}, ErrSuperseded
	}
	p := s.advanceLocked()
	s.unlockAndPublish(ctx, p)
	return p, nil
}

func (s *Session) advanceLocked() Publication {
	start := time.Now()
	var p Publication
	if s.state == StateClosed {
		s.closedTickLocked()
		metrics.TicksTotal.WithLabelValues(string(StateClosed)).Inc()
	} else {
		p = s.openTickLocked()
		metrics.TicksTotal.WithLabelValues(string(StateOpen)).Inc()
	}
	p.Snapshot = s.buildSnapshot()
	s.snapshot.Store(p.Snapshot)
	metrics.TickDuration.Observe(time.Since(start).Seconds())
	return p
}

// closedTickLocked counts down the closed interval and opens the next day
// when it runs out. The game tick does not advance while closed.
func (s *Session) closedTickLocked() {
	if s.countdown > 0 {
		s.countdown--
	}
	if s.countdown > 0 {
		return
	}
	s.openDayLocked()
}

func (s *Session) openDayLocked() {
	s.day++
	for _, inst := range s.instruments {
		if s.cfg.Rules.OpenDay(inst, s.day, s.rng) == market.EventRelisted {
			metrics.RelistingsTotal.Inc()
			slog.Info("instrument relisted", "instrument", inst.ID, "day", s.day, "price", inst.CurrentPrice)
		}
	}
	s.state = StateOpen
	s.dayTick = 0
	s.countdown = 0
	metrics.MarketDay.Set(float64(s.day))
	metrics.MarketOpen.Set(1)
	slog.Info("market opened", "day", s.day, "tick", s.tick)
}

func (s *Session) closeDayLocked() {
	s.state = StateClosed
	s.countdown = s.cfg.ClosingTicks
	metrics.MarketOpen.Set(0)
	slog.Info("market closed", "day", s.day, "tick", s.tick, "countdown", s.countdown)
}

// openTickLocked runs one full trading tick: price process, due news, band
// and delisting rules, candles and book for every instrument, then account
// settlement against the final prices.
func (s *Session) openTickLocked() Publication {
	var p Publication
	dueEvents := s.pending.Due(s.tick)
	due := make(map[string][]model.NewsEvent, len(dueEvents))
	for _, ev := range dueEvents {
		due[ev.TargetInstrumentID] = append(due[ev.TargetInstrumentID], ev)
	}

	for _, inst := range s.instruments {
		s.stepInstrumentLocked(inst, due[inst.ID])
		delete(due, inst.ID)
	}
	// Targets that are no longer in the catalogue.
	for _, events := range due {
		for _, ev := range events {
			s.newsLog.Resolve(ev.ID, false)
		}
	}

	emitted := s.generator.Emit(s.instruments, s.tick, s.dayTick, s.day)
	if len(emitted) > 0 {
		s.pending.Push(emitted...)
		s.newsLog.Add(emitted...)
		for _, ev := range emitted {
			metrics.NewsTotal.WithLabelValues(string(ev.Effect), strconv.FormatBool(ev.Decoy)).Inc()
			slog.Info("news emitted",
				"id", ev.ID,
				"instrument", ev.TargetInstrumentID,
				"effect", ev.Effect,
				"apply_at", ev.ApplyAtTick,
			)
		}
		p.News = emitted
	}
	if len(dueEvents) > 0 || len(emitted) > 0 {
		p.NewsLog = s.newsLog.Events()
	}

	s.settleAccountsLocked(&p)

	s.tick++
	s.dayTick++
	if s.dayTick >= s.cfg.TicksPerDay {
		s.closeDayLocked()
	}
	return p
}

func (s *Session) stepInstrumentLocked(inst *model.Instrument, news []model.NewsEvent) {
	if inst.IsDelisted {
		s.resolveNews(news, false)
		return
	}
	if s.cfg.Rules.ResumeIfDue(inst, s.tick) {
		slog.Info("trading resumed", "instrument", inst.ID, "tick", s.tick)
	}
	if inst.TradingHalted {
		s.resolveNews(news, false)
		return
	}

	if s.dayTick-inst.TrendNoiseLastUpdate >= s.cfg.TrendRefreshTicks {
		inst.TrendNoise = pricing.RefreshTrend(inst.TrendNoise, s.rng)
		inst.TrendNoiseLastUpdate = s.dayTick
	}

	prev := inst.CurrentPrice
	inst.CurrentPrice = s.process.Next(inst, s.rng.NormFloat64())

	for _, ev := range news {
		if inst.PriceFrozen {
			s.newsLog.Resolve(ev.ID, false)
			continue
		}
		inst.CurrentPrice = pricing.Jump(inst, ev.JumpPercent)
		s.newsLog.Resolve(ev.ID, true)
	}

	switch s.cfg.Rules.Settle(inst, inst.CurrentPrice, s.tick, s.day) {
	case market.EventHalted:
		metrics.HaltsTotal.WithLabelValues(string(inst.FrozenAtLimit)).Inc()
		slog.Info("trading halted",
			"instrument", inst.ID,
			"side", inst.FrozenAtLimit,
			"price", inst.CurrentPrice,
			"until", inst.HaltedUntilTick,
		)
	case market.EventDelisted:
		metrics.DelistingsTotal.Inc()
		slog.Info("instrument delisted", "instrument", inst.ID, "day", s.day, "price", inst.CurrentPrice)
	}

	inst.History = market.RecordCandle(inst.History, s.tick, s.dayTick, prev, inst.CurrentPrice, s.rng)
	if inst.Tradable() {
		inst.Book = market.UpdateBook(inst.Book, inst.CurrentPrice, inst.CurrentPrice-prev, inst.Class, s.rng)
	}
}

func (s *Session) resolveNews(events []model.NewsEvent, applied bool) {
	for _, ev := range events {
		s.newsLog.Resolve(ev.ID, applied)
	}
}

// settleAccountsLocked runs pending orders and liquidation for every account
// in user order, collecting notifications and changed accounts.
func (s *Session) settleAccountsLocked(p *Publication) {
	at := settlement.Stamp{Tick: s.tick, Day: s.day}
	for _, id := range s.sortedUserIDs() {
		acct := s.accounts[id]
		if len(acct.PendingOrders) == 0 && !hasLeverage(acct) {
			continue
		}
		res := s.engine.Settle(acct, s.byID, at)
		if len(res.Executed) == 0 && len(res.Liquidations) == 0 && len(res.Dropped) == 0 {
			continue
		}
		for _, ex := range res.Executed {
			metrics.PendingExecutionsTotal.WithLabelValues(string(ex.Side)).Inc()
		}
		for _, liq := range res.Liquidations {
			metrics.LiquidationsTotal.WithLabelValues(strconv.Itoa(liq.Leverage)).Inc()
			slog.Info("position liquidated",
				"user", liq.UserID,
				"instrument", liq.InstrumentID,
				"leverage", liq.Leverage,
				"loss", liq.LossAmount.String(),
			)
		}
		p.Executed = append(p.Executed, res.Executed...)
		p.Liquidations = append(p.Liquidations, res.Liquidations...)
		p.Accounts = append(p.Accounts, acct.Clone())
	}
}

func hasLeverage(acct *model.Account) bool {
	for _, pos := range acct.Positions {
		if pos.Leveraged() {
			return true
		}
	}
	return false
}
