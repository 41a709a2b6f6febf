// Package replica follows a published market from the outside. It mirrors
// instrument state from snapshots and settles a local account against them.
//
// Decisions are derived from comparing the account with the snapshot's
// prices, so redelivered or replayed snapshots never execute an order or
// liquidate a position twice.
package replica

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/kospisim/market-engine/internal/market"
	"github.com/kospisim/market-engine/internal/model"
	"github.com/kospisim/market-engine/internal/pricing"
	"github.com/kospisim/market-engine/internal/settlement"
)

var ErrMalformedSnapshot = errors.New("replica: malformed snapshot")

// AccountSaver persists the local account. store.Store satisfies it.
type AccountSaver interface {
	SaveAccount(ctx context.Context, acct *model.Account) error
}

// Config describes the market being followed. Saver is optional; when set
// the account is saved after every change, in the order the changes happen.
type Config struct {
	Catalog    []model.InstrumentConfig
	Rules      market.Rules
	Settlement settlement.Config
	Saver      AccountSaver
}

// Replica is a local mirror of a remote session plus one account.
type Replica struct {
	cfg    Config
	engine *settlement.Engine
	src    pricing.Source

	mu          sync.Mutex
	instruments []*model.Instrument
	byID        map[string]*model.Instrument
	account     *model.Account
	last        *model.Snapshot
}

// New creates a replica with freshly generated instruments for acct.
func New(cfg Config, acct *model.Account, src pricing.Source) (*Replica, error) {
	if err := market.ValidateCatalog(cfg.Catalog); err != nil {
		return nil, err
	}
	if acct == nil {
		return nil, fmt.Errorf("replica: account is required")
	}
	r := &Replica{
		cfg:     cfg,
		engine:  settlement.NewEngine(cfg.Settlement),
		src:     src,
		account: acct,
	}
	r.regenerate()
	return r, nil
}

func (r *Replica) regenerate() {
	r.instruments = market.NewSet(r.cfg.Catalog, r.cfg.Rules, r.src)
	r.byID = make(map[string]*model.Instrument, len(r.instruments))
	for _, inst := range r.instruments {
		r.byID[inst.ID] = inst
	}
}

// isReset reports whether snap is the first snapshot after an administrative
// reset of the remote session.
func (r *Replica) isReset(snap *model.Snapshot) bool {
	return r.last != nil && snap.Tick == 0 && snap.Day == 1 && (r.last.Tick != 0 || r.last.Day != 1)
}

// Apply mirrors snap into the local instruments and settles the account
// against the new prices. Applying the same snapshot again is a no-op for
// the account.
func (r *Replica) Apply(ctx context.Context, snap *model.Snapshot) settlement.Result {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.isReset(snap) {
		slog.Info("remote session reset, regenerating instruments")
		r.regenerate()
	}
	for _, is := range snap.Instruments {
		if inst, ok := r.byID[is.ID]; ok {
			market.ApplySnapshot(inst, is, r.src)
		}
	}
	r.last = snap

	if snap.IsMarketClosed {
		return settlement.Result{}
	}
	res := r.engine.Settle(r.account, r.byID, settlement.Stamp{Tick: snap.Tick, Day: snap.Day})
	if changed(res) {
		r.saveLocked(ctx)
	}
	return res
}

func changed(res settlement.Result) bool {
	return len(res.Executed) > 0 || len(res.Liquidations) > 0 || len(res.Dropped) > 0
}

// saveLocked persists the account. A failed save is logged and the local
// account stays authoritative; the next change saves it again.
func (r *Replica) saveLocked(ctx context.Context) {
	if r.cfg.Saver == nil {
		return
	}
	if err := r.cfg.Saver.SaveAccount(ctx, r.account.Clone()); err != nil {
		slog.Warn("failed to save account", "user", r.account.UserID, "err", err)
	}
}

// Account returns a copy of the local account.
func (r *Replica) Account() *model.Account {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.account.Clone()
}

// Instrument returns a copy of one mirrored instrument.
func (r *Replica) Instrument(id string) (*model.Instrument, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	inst, ok := r.byID[id]
	if !ok {
		return nil, false
	}
	return inst.Clone(), true
}

func (r *Replica) stamp() (settlement.Stamp, error) {
	if r.last == nil {
		return settlement.Stamp{Day: 1}, nil
	}
	if r.last.IsMarketClosed {
		return settlement.Stamp{}, settlement.ErrMarketClosed
	}
	return settlement.Stamp{Tick: r.last.Tick, Day: r.last.Day}, nil
}

// PlaceLimit queues a limit order on the local account. It is settled on
// later snapshots.
func (r *Replica) PlaceLimit(ctx context.Context, instID string, side model.Side, qty, target int64) (model.PendingOrder, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	at, err := r.stamp()
	if err != nil {
		return model.PendingOrder{}, err
	}
	o, err := r.engine.PlaceLimit(r.account, r.byID[instID], side, qty, target, at)
	if err != nil {
		return model.PendingOrder{}, err
	}
	r.saveLocked(ctx)
	return o, nil
}

// CancelLimit removes a pending order from the local account.
func (r *Replica) CancelLimit(ctx context.Context, orderID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.engine.CancelLimit(r.account, orderID); err != nil {
		return err
	}
	r.saveLocked(ctx)
	return nil
}

// MarketOrder buys or sells unleveraged units at the last mirrored price.
func (r *Replica) MarketOrder(ctx context.Context, instID string, side model.Side, qty int64) (model.Transaction, error) {
	return r.execute(ctx, instID, func(inst *model.Instrument, at settlement.Stamp) (model.Transaction, error) {
		switch side {
		case model.SideBuy:
			return r.engine.Buy(r.account, inst, qty, at)
		case model.SideSell:
			return r.engine.Sell(r.account, inst, qty, 1, at)
		}
		return model.Transaction{}, settlement.ErrInvalidSide
	})
}

// BuyLeveraged opens a position at the last mirrored price.
func (r *Replica) BuyLeveraged(ctx context.Context, instID string, qty int64, leverage int) (model.Transaction, error) {
	return r.execute(ctx, instID, func(inst *model.Instrument, at settlement.Stamp) (model.Transaction, error) {
		return r.engine.BuyLeveraged(r.account, inst, qty, leverage, at)
	})
}

// Sell closes qty units of the position held at leverage.
func (r *Replica) Sell(ctx context.Context, instID string, qty int64, leverage int) (model.Transaction, error) {
	return r.execute(ctx, instID, func(inst *model.Instrument, at settlement.Stamp) (model.Transaction, error) {
		return r.engine.Sell(r.account, inst, qty, leverage, at)
	})
}

func (r *Replica) execute(ctx context.Context, instID string, fn func(*model.Instrument, settlement.Stamp) (model.Transaction, error)) (model.Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	at, err := r.stamp()
	if err != nil {
		return model.Transaction{}, err
	}
	tx, err := fn(r.byID[instID], at)
	if err != nil {
		return model.Transaction{}, err
	}
	r.saveLocked(ctx)
	return tx, nil
}

// Decode parses a published snapshot. Payloads without a day or any
// instrument are rejected as malformed.
func Decode(data []byte) (*model.Snapshot, error) {
	var snap model.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedSnapshot, err)
	}
	if snap.Day < 1 || len(snap.Instruments) == 0 {
		return nil, ErrMalformedSnapshot
	}
	return &snap, nil
}

// Follow applies every payload from msgs until ctx ends or msgs closes.
// Malformed payloads are skipped. onResult, if set, sees every settlement
// result that did something.
func (r *Replica) Follow(ctx context.Context, msgs <-chan []byte, onResult func(settlement.Result)) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case data, ok := <-msgs:
			if !ok {
				return nil
			}
			snap, err := Decode(data)
			if err != nil {
				slog.Warn("skipping snapshot", "err", err)
				continue
			}
			res := r.Apply(ctx, snap)
			if onResult != nil && changed(res) {
				onResult(res)
			}
		}
	}
}
