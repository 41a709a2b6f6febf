package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kospisim/market-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache. Writes go to the primary store and then refresh or invalidate the
// cache; reads check Redis first then fall back to the primary.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Write-through ---

func (s *CachedStore) SaveSnapshot(ctx context.Context, snap *model.Snapshot) error {
	if err := s.primary.SaveSnapshot(ctx, snap); err != nil {
		return err
	}
	s.cache(ctx, snapshotKey, snap)
	return nil
}

func (s *CachedStore) SaveAccount(ctx context.Context, acct *model.Account) error {
	if err := s.primary.SaveAccount(ctx, acct); err != nil {
		return err
	}
	// Invalidate; the next read re-populates.
	s.rdb.Del(ctx, accountKey(acct.UserID))
	return nil
}

// --- Read-through ---

func (s *CachedStore) LoadSnapshot(ctx context.Context) (*model.Snapshot, error) {
	data, err := s.rdb.Get(ctx, snapshotKey).Bytes()
	if err == nil {
		var snap model.Snapshot
		if json.Unmarshal(data, &snap) == nil {
			return &snap, nil
		}
	}

	snap, err := s.primary.LoadSnapshot(ctx)
	if err != nil {
		return nil, err
	}
	s.cache(ctx, snapshotKey, snap)
	return snap, nil
}

func (s *CachedStore) LoadAccount(ctx context.Context, userID string) (*model.Account, error) {
	data, err := s.rdb.Get(ctx, accountKey(userID)).Bytes()
	if err == nil {
		var acct model.Account
		if json.Unmarshal(data, &acct) == nil {
			return &acct, nil
		}
	}

	acct, err := s.primary.LoadAccount(ctx, userID)
	if err != nil {
		return nil, err
	}
	s.cache(ctx, accountKey(userID), acct)
	return acct, nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) SaveNews(ctx context.Context, events []model.NewsEvent) error {
	return s.primary.SaveNews(ctx, events)
}

func (s *CachedStore) LoadNews(ctx context.Context) ([]model.NewsEvent, error) {
	return s.primary.LoadNews(ctx)
}

func (s *CachedStore) ListAccounts(ctx context.Context) ([]*model.Account, error) {
	return s.primary.ListAccounts(ctx)
}

func (s *CachedStore) SaveControl(ctx context.Context, c Control) error {
	return s.primary.SaveControl(ctx, c)
}

func (s *CachedStore) LoadControl(ctx context.Context) (Control, error) {
	return s.primary.LoadControl(ctx)
}

// --- Cache helpers ---

func (s *CachedStore) cache(ctx context.Context, key string, v any) {
	if data, err := json.Marshal(v); err == nil {
		s.rdb.Set(ctx, key, data, s.ttl)
	}
}

const snapshotKey = "market:snapshot"

func accountKey(uid string) string { return fmt.Sprintf("account:%s", uid) }

// --- Snapshot fan-out ---

// Broadcaster publishes every snapshot as JSON on a Redis channel so that
// followers in other processes can mirror the market.
type Broadcaster struct {
	rdb     *redis.Client
	channel string
}

// NewBroadcaster creates a snapshot broadcaster on channel.
func NewBroadcaster(rdb *redis.Client, channel string) *Broadcaster {
	return &Broadcaster{rdb: rdb, channel: channel}
}

// Broadcast publishes snap.
func (b *Broadcaster) Broadcast(ctx context.Context, snap *model.Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	if err := b.rdb.Publish(ctx, b.channel, data).Err(); err != nil {
		return fmt.Errorf("publish snapshot: %w", err)
	}
	return nil
}

// Subscribe streams raw payloads from channel until ctx ends. The returned
// channel is closed when the subscription stops.
func Subscribe(ctx context.Context, rdb *redis.Client, channel string) <-chan []byte {
	sub := rdb.Subscribe(ctx, channel)
	out := make(chan []byte, 64)

	go func() {
		defer close(out)
		defer sub.Close()

		msgs := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				select {
				case out <- []byte(msg.Payload):
				default:
					// Slow consumer; the next snapshot supersedes this one.
					slog.Warn("dropping snapshot for slow follower", "channel", channel)
				}
			}
		}
	}()
	return out
}
