package session

import (
	"context"
	"log/slog"

	"github.com/kospisim/market-engine/internal/metrics"
	"github.com/kospisim/market-engine/internal/model"
	"github.com/kospisim/market-engine/internal/settlement"
)

// Order kinds used as metric labels.
const (
	kindMarket   = "market"
	kindLeverage = "leverage"
	kindLimit    = "limit"
	kindCancel   = "cancel"
	kindSellAll  = "sell_all"
)

// MarketOrder buys or sells qty units of instID at the current price. Sells
// close the unleveraged position.
func (s *Session) MarketOrder(ctx context.Context, userID, instID string, side model.Side, qty int64) (model.Transaction, error) {
	return s.execute(ctx, kindMarket, userID, instID, func(acct *model.Account, inst *model.Instrument, at settlement.Stamp) (model.Transaction, error) {
		switch side {
		case model.SideBuy:
			return s.engine.Buy(acct, inst, qty, at)
		case model.SideSell:
			return s.engine.Sell(acct, inst, qty, 1, at)
		}
		return model.Transaction{}, settlement.ErrInvalidSide
	})
}

// BuyLeveraged opens or adds to a position at the given leverage tier.
func (s *Session) BuyLeveraged(ctx context.Context, userID, instID string, qty int64, leverage int) (model.Transaction, error) {
	return s.execute(ctx, kindLeverage, userID, instID, func(acct *model.Account, inst *model.Instrument, at settlement.Stamp) (model.Transaction, error) {
		return s.engine.BuyLeveraged(acct, inst, qty, leverage, at)
	})
}

// Sell closes qty units of the position held at the given leverage tier.
func (s *Session) Sell(ctx context.Context, userID, instID string, qty int64, leverage int) (model.Transaction, error) {
	kind := kindMarket
	if leverage > 1 {
		kind = kindLeverage
	}
	return s.execute(ctx, kind, userID, instID, func(acct *model.Account, inst *model.Instrument, at settlement.Stamp) (model.Transaction, error) {
		return s.engine.Sell(acct, inst, qty, leverage, at)
	})
}

func (s *Session) execute(ctx context.Context, kind, userID, instID string, fn func(*model.Account, *model.Instrument, settlement.Stamp) (model.Transaction, error)) (model.Transaction, error) {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return model.Transaction{}, s.reject(kind, userID, settlement.ErrMarketClosed)
	}
	acct := s.accountLocked(userID)
	tx, err := fn(acct, s.byID[instID], s.stampLocked())
	if err != nil {
		s.mu.Unlock()
		return model.Transaction{}, s.reject(kind, userID, err)
	}
	s.openLocked(acct)
	metrics.OrdersTotal.WithLabelValues(kind, "ok").Inc()
	s.unlockAndPublish(ctx, Publication{Accounts: []*model.Account{acct.Clone()}})
	return tx, nil
}

// PlaceLimit queues a limit order checked against every subsequent tick.
func (s *Session) PlaceLimit(ctx context.Context, userID, instID string, side model.Side, qty, target int64) (model.PendingOrder, error) {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return model.PendingOrder{}, s.reject(kindLimit, userID, settlement.ErrMarketClosed)
	}
	acct := s.accountLocked(userID)
	o, err := s.engine.PlaceLimit(acct, s.byID[instID], side, qty, target, s.stampLocked())
	if err != nil {
		s.mu.Unlock()
		return model.PendingOrder{}, s.reject(kindLimit, userID, err)
	}
	s.openLocked(acct)
	metrics.OrdersTotal.WithLabelValues(kindLimit, "ok").Inc()
	s.unlockAndPublish(ctx, Publication{Accounts: []*model.Account{acct.Clone()}})
	return o, nil
}

// CancelLimit removes one of the user's pending orders. Cancelling is allowed
// while the market is closed.
func (s *Session) CancelLimit(ctx context.Context, userID, orderID string) error {
	s.mu.Lock()
	acct, ok := s.accounts[userID]
	if !ok {
		s.mu.Unlock()
		return s.reject(kindCancel, userID, settlement.ErrOrderNotFound)
	}
	if err := s.engine.CancelLimit(acct, orderID); err != nil {
		s.mu.Unlock()
		return s.reject(kindCancel, userID, err)
	}
	metrics.OrdersTotal.WithLabelValues(kindCancel, "ok").Inc()
	s.unlockAndPublish(ctx, Publication{Accounts: []*model.Account{acct.Clone()}})
	return nil
}

// SellAll liquidates every position the user can currently sell.
func (s *Session) SellAll(ctx context.Context, userID string) ([]model.Transaction, error) {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return nil, s.reject(kindSellAll, userID, settlement.ErrMarketClosed)
	}
	acct := s.accountLocked(userID)
	txs := s.engine.SellAll(acct, s.byID, s.stampLocked())
	metrics.OrdersTotal.WithLabelValues(kindSellAll, "ok").Inc()
	if len(txs) == 0 {
		s.mu.Unlock()
		return txs, nil
	}
	s.unlockAndPublish(ctx, Publication{Accounts: []*model.Account{acct.Clone()}})
	return txs, nil
}

func (s *Session) stampLocked() settlement.Stamp {
	return settlement.Stamp{Tick: s.tick, Day: s.day}
}

func (s *Session) reject(kind, userID string, err error) error {
	reason := settlement.Reason(err)
	metrics.OrdersTotal.WithLabelValues(kind, reason).Inc()
	slog.Debug("order rejected", "kind", kind, "user", userID, "reason", reason)
	return err
}
