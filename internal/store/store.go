// Package store defines the persistence interface for the market engine.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache and snapshot fan-out), and in-memory (for testing).
package store

import (
	"context"
	"errors"
	"time"

	"github.com/kospisim/market-engine/internal/model"
)

// ErrNotFound is returned when nothing has been persisted under a key yet.
var ErrNotFound = errors.New("store: not found")

// Control is the persisted server status.
type Control struct {
	Running   bool      `json:"running"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Store is the persistence interface. PostgreSQL is the source of truth;
// Redis provides a read-through cache layer.
type Store interface {
	// --- Market state ---

	// SaveSnapshot replaces the latest published snapshot.
	SaveSnapshot(ctx context.Context, snap *model.Snapshot) error

	// LoadSnapshot returns the latest snapshot or ErrNotFound.
	LoadSnapshot(ctx context.Context) (*model.Snapshot, error)

	// SaveNews replaces the news display log (newest first).
	SaveNews(ctx context.Context, events []model.NewsEvent) error

	// LoadNews returns the news display log, empty when none was saved.
	LoadNews(ctx context.Context) ([]model.NewsEvent, error)

	// --- Accounts ---

	// SaveAccount upserts an account.
	SaveAccount(ctx context.Context, acct *model.Account) error

	// LoadAccount returns one account or ErrNotFound.
	LoadAccount(ctx context.Context, userID string) (*model.Account, error)

	// ListAccounts returns every persisted account.
	ListAccounts(ctx context.Context) ([]*model.Account, error)

	// --- Server control ---

	SaveControl(ctx context.Context, c Control) error

	// LoadControl returns the persisted status; a zero Control when none.
	LoadControl(ctx context.Context) (Control, error)
}
