// Command follower mirrors a running market-engine from its Redis snapshot
// channel and settles a local paper account against every snapshot. The
// account is loaded from and saved to the configured store, and orders are
// taken over HTTP on FOLLOWER_ADDR.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/kospisim/market-engine/internal/api"
	"github.com/kospisim/market-engine/internal/config"
	"github.com/kospisim/market-engine/internal/model"
	"github.com/kospisim/market-engine/internal/replica"
	"github.com/kospisim/market-engine/internal/settlement"
	"github.com/kospisim/market-engine/internal/store"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "failed to load .env: %v\n", err)
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.Level()}))
	slog.SetDefault(logger)

	if err := run(cfg); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("follower exited", "err", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	if cfg.RedisURL == "" {
		return errors.New("REDIS_URL is required")
	}
	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("invalid REDIS_URL: %w", err)
	}
	rdb := redis.NewClient(opt)
	defer rdb.Close()

	sessionCfg, err := cfg.SessionConfig()
	if err != nil {
		return fmt.Errorf("session config: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	userID := os.Getenv("FOLLOWER_USER_ID")
	if userID == "" {
		userID = "paper"
	}
	acct, err := st.LoadAccount(ctx, userID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		acct = model.NewAccount(userID, cfg.InitialCash)
		slog.Info("opened paper account", "user", userID, "cash", acct.Cash.String())
	case err != nil:
		return fmt.Errorf("load account: %w", err)
	default:
		slog.Info("paper account restored", "user", userID, "cash", acct.Cash.String(), "positions", len(acct.Positions))
	}

	rep, err := replica.New(replica.Config{
		Catalog:    sessionCfg.Catalog,
		Rules:      sessionCfg.Rules,
		Settlement: sessionCfg.Settlement,
		Saver:      st,
	}, acct, rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 1)))
	if err != nil {
		return fmt.Errorf("create replica: %w", err)
	}

	addr := os.Getenv("FOLLOWER_ADDR")
	if addr == "" {
		addr = ":8081"
	}
	srv := &http.Server{
		Addr:         addr,
		Handler:      api.NewFollowerRouter(api.NewFollower(rep)),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 35 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	group, gctx := errgroup.WithContext(ctx)
	msgs := store.Subscribe(gctx, rdb, cfg.RedisChannel)
	slog.Info("following market", "channel", cfg.RedisChannel, "user", userID)

	group.Go(func() error {
		return rep.Follow(gctx, msgs, func(res settlement.Result) {
			for _, ex := range res.Executed {
				slog.Info("order executed",
					"order", ex.OrderID, "instrument", ex.InstrumentID,
					"side", ex.Side, "qty", ex.Quantity, "price", ex.Price)
			}
			for _, liq := range res.Liquidations {
				slog.Info("position liquidated",
					"instrument", liq.InstrumentID, "leverage", liq.Leverage,
					"qty", liq.Quantity, "liquidation_price", liq.LiquidationPrice.String())
			}
			for _, o := range res.Dropped {
				slog.Info("pending order dropped", "order", o.ID, "instrument", o.InstrumentID)
			}
		})
	})

	group.Go(func() error {
		slog.Info("follower listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	group.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	err = group.Wait()
	a := rep.Account()
	slog.Info("follower stopped", "user", a.UserID, "cash", a.Cash.String(), "positions", len(a.Positions))
	return err
}

// openStore connects to PostgreSQL when DATABASE_URL is set and falls back
// to an in-memory store otherwise.
func openStore(ctx context.Context, cfg *config.Config) (store.Store, func(), error) {
	if cfg.DatabaseURL == "" {
		slog.Warn("DATABASE_URL not set, paper account will not persist")
		return store.NewMemoryStore(), func() {}, nil
	}
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("database connection failed: %w", err)
	}
	pg := store.NewPostgresStore(pool)
	if err := pg.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("ensure schema: %w", err)
	}
	slog.Info("connected to PostgreSQL")
	return pg, pool.Close, nil
}
