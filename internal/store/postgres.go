package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/kospisim/market-engine/internal/model"
)

const schema = `
CREATE TABLE IF NOT EXISTS market_snapshot (
	id         SMALLINT PRIMARY KEY CHECK (id = 1),
	tick       BIGINT NOT NULL,
	day        INTEGER NOT NULL,
	doc        JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS news_log (
	id         SMALLINT PRIMARY KEY CHECK (id = 1),
	events     JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS accounts (
	user_id        TEXT PRIMARY KEY,
	cash           NUMERIC NOT NULL,
	realized_pnl   NUMERIC NOT NULL,
	positions      JSONB NOT NULL,
	pending_orders JSONB NOT NULL,
	transactions   JSONB NOT NULL,
	updated_at     TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS server_control (
	id         SMALLINT PRIMARY KEY CHECK (id = 1),
	running    BOOLEAN NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);`

// PostgresStore implements Store using PostgreSQL as the source of truth.
// Cash and P&L are stored as NUMERIC for exact decimal precision; snapshots,
// news and account sub-collections are JSONB documents.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// EnsureSchema creates the tables if they do not exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) SaveSnapshot(ctx context.Context, snap *model.Snapshot) error {
	doc, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO market_snapshot (id, tick, day, doc, updated_at)
		 VALUES (1, $1, $2, $3::JSONB, $4)
		 ON CONFLICT (id) DO UPDATE
		 SET tick = EXCLUDED.tick, day = EXCLUDED.day, doc = EXCLUDED.doc, updated_at = EXCLUDED.updated_at`,
		snap.Tick, snap.Day, string(doc), time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}

func (s *PostgresStore) LoadSnapshot(ctx context.Context) (*model.Snapshot, error) {
	var doc string
	err := s.pool.QueryRow(ctx, `SELECT doc::TEXT FROM market_snapshot WHERE id = 1`).Scan(&doc)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("snapshot: %w", ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}

	var snap model.Snapshot
	if err := json.Unmarshal([]byte(doc), &snap); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	return &snap, nil
}

func (s *PostgresStore) SaveNews(ctx context.Context, events []model.NewsEvent) error {
	if events == nil {
		events = []model.NewsEvent{}
	}
	doc, err := json.Marshal(events)
	if err != nil {
		return fmt.Errorf("encode news: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO news_log (id, events, updated_at)
		 VALUES (1, $1::JSONB, $2)
		 ON CONFLICT (id) DO UPDATE SET events = EXCLUDED.events, updated_at = EXCLUDED.updated_at`,
		string(doc), time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("save news: %w", err)
	}
	return nil
}

func (s *PostgresStore) LoadNews(ctx context.Context) ([]model.NewsEvent, error) {
	var doc string
	err := s.pool.QueryRow(ctx, `SELECT events::TEXT FROM news_log WHERE id = 1`).Scan(&doc)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load news: %w", err)
	}

	var events []model.NewsEvent
	if err := json.Unmarshal([]byte(doc), &events); err != nil {
		return nil, fmt.Errorf("decode news: %w", err)
	}
	return events, nil
}

func (s *PostgresStore) SaveAccount(ctx context.Context, a *model.Account) error {
	positions, err := json.Marshal(nonNil(a.Positions))
	if err != nil {
		return fmt.Errorf("encode positions: %w", err)
	}
	pending, err := json.Marshal(nonNil(a.PendingOrders))
	if err != nil {
		return fmt.Errorf("encode pending orders: %w", err)
	}
	txs, err := json.Marshal(nonNil(a.Transactions))
	if err != nil {
		return fmt.Errorf("encode transactions: %w", err)
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO accounts (user_id, cash, realized_pnl, positions, pending_orders, transactions, updated_at)
		 VALUES ($1, $2::NUMERIC, $3::NUMERIC, $4::JSONB, $5::JSONB, $6::JSONB, $7)
		 ON CONFLICT (user_id) DO UPDATE
		 SET cash = EXCLUDED.cash, realized_pnl = EXCLUDED.realized_pnl,
		     positions = EXCLUDED.positions, pending_orders = EXCLUDED.pending_orders,
		     transactions = EXCLUDED.transactions, updated_at = EXCLUDED.updated_at`,
		a.UserID, a.Cash.String(), a.RealizedPnL.String(),
		string(positions), string(pending), string(txs),
		time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("save account %s: %w", a.UserID, err)
	}
	return nil
}

func (s *PostgresStore) LoadAccount(ctx context.Context, userID string) (*model.Account, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT user_id, cash::TEXT, realized_pnl::TEXT,
		        positions::TEXT, pending_orders::TEXT, transactions::TEXT
		 FROM accounts WHERE user_id = $1`, userID)
	a, err := scanAccount(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("account %s: %w", userID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load account %s: %w", userID, err)
	}
	return a, nil
}

func (s *PostgresStore) ListAccounts(ctx context.Context) ([]*model.Account, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT user_id, cash::TEXT, realized_pnl::TEXT,
		        positions::TEXT, pending_orders::TEXT, transactions::TEXT
		 FROM accounts ORDER BY user_id`)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	defer rows.Close()

	var accounts []*model.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

func (s *PostgresStore) SaveControl(ctx context.Context, c Control) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO server_control (id, running, updated_at)
		 VALUES (1, $1, $2)
		 ON CONFLICT (id) DO UPDATE SET running = EXCLUDED.running, updated_at = EXCLUDED.updated_at`,
		c.Running, c.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("save control: %w", err)
	}
	return nil
}

func (s *PostgresStore) LoadControl(ctx context.Context) (Control, error) {
	var c Control
	err := s.pool.QueryRow(ctx, `SELECT running, updated_at FROM server_control WHERE id = 1`).
		Scan(&c.Running, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Control{}, nil
	}
	if err != nil {
		return Control{}, fmt.Errorf("load control: %w", err)
	}
	return c, nil
}

// scanAccount reads one accounts row selected with NUMERIC and JSONB columns
// cast to TEXT.
func scanAccount(row pgx.Row) (*model.Account, error) {
	var a model.Account
	var cashS, pnlS, positionsS, pendingS, txsS string

	if err := row.Scan(&a.UserID, &cashS, &pnlS, &positionsS, &pendingS, &txsS); err != nil {
		return nil, err
	}

	var err error
	if a.Cash, err = decimal.NewFromString(cashS); err != nil {
		return nil, fmt.Errorf("account %s cash: %w", a.UserID, err)
	}
	if a.RealizedPnL, err = decimal.NewFromString(pnlS); err != nil {
		return nil, fmt.Errorf("account %s realized pnl: %w", a.UserID, err)
	}
	if err := json.Unmarshal([]byte(positionsS), &a.Positions); err != nil {
		return nil, fmt.Errorf("account %s positions: %w", a.UserID, err)
	}
	if err := json.Unmarshal([]byte(pendingS), &a.PendingOrders); err != nil {
		return nil, fmt.Errorf("account %s pending orders: %w", a.UserID, err)
	}
	if err := json.Unmarshal([]byte(txsS), &a.Transactions); err != nil {
		return nil, fmt.Errorf("account %s transactions: %w", a.UserID, err)
	}
	return &a, nil
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
