package store

import (
	"context"
	"log/slog"

	"github.com/kospisim/market-engine/internal/metrics"
	"github.com/kospisim/market-engine/internal/session"
)

// Persister writes every session publication to a Store.
type Persister struct {
	store Store
}

// NewPersister creates a persister writing to st.
func NewPersister(st Store) *Persister {
	return &Persister{store: st}
}

// Publish implements session.Publisher. Failures are logged and counted;
// the simulation keeps running on its in-memory state.
func (p *Persister) Publish(ctx context.Context, pub session.Publication) {
	if pub.Snapshot != nil {
		if err := p.store.SaveSnapshot(ctx, pub.Snapshot); err != nil {
			p.fail("snapshot", err)
		}
	}
	if pub.NewsLog != nil {
		if err := p.store.SaveNews(ctx, pub.NewsLog); err != nil {
			p.fail("news", err)
		}
	}
	for _, acct := range pub.Accounts {
		if err := p.store.SaveAccount(ctx, acct); err != nil {
			p.fail("account", err)
		}
	}
}

func (p *Persister) fail(kind string, err error) {
	metrics.PublishFailures.WithLabelValues("store").Inc()
	slog.Error("persist failed", "kind", kind, "err", err)
}

// Publish implements session.Publisher by broadcasting the snapshot.
func (b *Broadcaster) Publish(ctx context.Context, pub session.Publication) {
	if pub.Snapshot == nil {
		return
	}
	if err := b.Broadcast(ctx, pub.Snapshot); err != nil {
		metrics.PublishFailures.WithLabelValues("redis").Inc()
		slog.Error("snapshot broadcast failed", "channel", b.channel, "err", err)
	}
}
