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
	"strconv"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/kospisim/market-engine/internal/api"
	"github.com/kospisim/market-engine/internal/config"
	"github.com/kospisim/market-engine/internal/session"
	"github.com/kospisim/market-engine/internal/store"
)

func main() {
	// A missing .env is fine; the environment may already be set.
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

	if err := run(cfg); err != nil {
		slog.Error("market-engine exited", "err", err)
		os.Exit(1)
	}
	fmt.Println("market-engine stopped")
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Initialize store ---
	var st store.Store
	var rdb *redis.Client
	var cleanup []func()
	defer func() {
		for _, fn := range cleanup {
			fn()
		}
	}()

	if cfg.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("invalid REDIS_URL: %w", err)
		}
		rdb = redis.NewClient(opt)
		cleanup = append(cleanup, func() { rdb.Close() })
	}

	if cfg.DatabaseURL != "" {
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("database connection failed: %w", err)
		}
		cleanup = append(cleanup, pool.Close)
		pg := store.NewPostgresStore(pool)
		if err := pg.EnsureSchema(ctx); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
		st = pg
		slog.Info("connected to PostgreSQL")

		// Wrap with Redis read-through cache if configured.
		if rdb != nil {
			st = store.NewCachedStore(st, rdb, 30*time.Second)
			slog.Info("Redis cache enabled")
		}
	} else {
		slog.Warn("DATABASE_URL not set, using in-memory store (data will not persist)")
		st = store.NewMemoryStore()
	}

	// --- Session ---
	sessionCfg, err := cfg.SessionConfig()
	if err != nil {
		return fmt.Errorf("session config: %w", err)
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	sess, err := session.New(sessionCfg, rand.New(rand.NewPCG(seed, seed>>1|1)))
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	slog.Info("session created", "seed", strconv.FormatUint(seed, 10), "instruments", len(sessionCfg.Catalog))

	restore(ctx, sess, st)

	// --- Publishers ---
	wsHub := api.NewWSHub()
	sess.AddPublisher(store.NewPersister(st))
	sess.AddPublisher(wsHub)
	if rdb != nil {
		sess.AddPublisher(store.NewBroadcaster(rdb, cfg.RedisChannel))
		slog.Info("snapshot fan-out enabled", "channel", cfg.RedisChannel)
	}

	// --- HTTP ---
	admin := api.NewAdmin(ctx, sess, st, cfg.TickInterval, cfg.BatchTimeout)
	router := api.NewRouter(api.NewService(sess), admin, wsHub, cfg.AdminToken)
	if cfg.AdminToken == "" {
		slog.Warn("ADMIN_TOKEN not set, session control endpoints are open")
	}

	srv := &http.Server{
		Addr:         ":" + strconv.Itoa(cfg.Port),
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 35 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// --- Clock ---
	control, err := st.LoadControl(ctx)
	if err != nil {
		slog.Warn("failed to load server status", "err", err)
	}
	if cfg.AutoStart || control.Running {
		sess.Start(ctx, cfg.TickInterval)
	}

	group, gctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		return wsHub.Run(gctx)
	})

	group.Go(func() error {
		slog.Info("market-engine listening", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	// Graceful shutdown.
	group.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down market-engine...")
		sess.Stop()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		return nil
	})

	return group.Wait()
}

// restore loads the last published market and every account. Any read
// failure leaves the freshly initialised session in place.
func restore(ctx context.Context, sess *session.Session, st store.Store) {
	snap, err := st.LoadSnapshot(ctx)
	switch {
	case errors.Is(err, store.ErrNotFound):
		slog.Info("no saved market, starting fresh")
	case err != nil:
		slog.Warn("failed to load market snapshot, starting fresh", "err", err)
	default:
		events, err := st.LoadNews(ctx)
		if err != nil {
			slog.Warn("failed to load news log", "err", err)
		}
		if sess.Restore(snap, events) {
			slog.Info("market restored", "tick", snap.Tick, "day", snap.Day)
		} else {
			slog.Warn("saved market does not match the catalogue, starting fresh")
		}
	}

	accounts, err := st.ListAccounts(ctx)
	if err != nil {
		slog.Warn("failed to load accounts", "err", err)
		return
	}
	for _, acct := range accounts {
		sess.Attach(acct)
	}
	slog.Info("accounts restored", "count", len(accounts))
}
