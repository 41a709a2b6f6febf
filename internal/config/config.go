// Package config loads the market engine's runtime configuration from the
// environment.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/kospisim/market-engine/internal/market"
	"github.com/kospisim/market-engine/internal/news"
	"github.com/kospisim/market-engine/internal/session"
)

// Config holds all runtime configuration for the market engine.
type Config struct {
	Port            int
	LogLevel        string
	DatabaseURL     string
	RedisURL        string
	RedisChannel    string
	CatalogPath     string
	TickInterval    time.Duration
	TicksPerDay     int
	ClosingTicks    int
	NewsPolicy      news.Policy
	NewsInterval    int
	NewsDelay       int
	FeeRate         decimal.Decimal
	InitialCash     decimal.Decimal
	Seed            uint64
	AutoStart       bool
	AdminToken      string
	BatchTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// Load reads configuration from environment variables, applies defaults,
// and validates values. It returns an error for any invalid value.
func Load() (*Config, error) {
	port, err := getInt("PORT", 8080)
	if err != nil || port <= 0 || port > 65535 {
		return nil, fmt.Errorf("invalid PORT: %q", os.Getenv("PORT"))
	}

	logLevel := getStr("LOG_LEVEL", "info")
	if !isValidLogLevel(logLevel) {
		return nil, fmt.Errorf("invalid LOG_LEVEL: %q, must be one of: debug, info, warn, error", logLevel)
	}

	tickInterval, err := getDuration("TICK_INTERVAL", 1*time.Second)
	if err != nil || tickInterval <= 0 {
		return nil, fmt.Errorf("invalid TICK_INTERVAL: %q", os.Getenv("TICK_INTERVAL"))
	}

	ticksPerDay, err := getInt("TICKS_PER_DAY", 1800)
	if err != nil || ticksPerDay <= 0 {
		return nil, fmt.Errorf("invalid TICKS_PER_DAY: %q", os.Getenv("TICKS_PER_DAY"))
	}

	closingTicks, err := getInt("CLOSING_TICKS", 180)
	if err != nil || closingTicks < 0 {
		return nil, fmt.Errorf("invalid CLOSING_TICKS: %q", os.Getenv("CLOSING_TICKS"))
	}

	policy := news.Policy(getStr("NEWS_POLICY", string(news.PolicyInterval)))
	if policy != news.PolicyInterval && policy != news.PolicyPerTick {
		return nil, fmt.Errorf("invalid NEWS_POLICY: %q, must be one of: interval, per_tick", policy)
	}

	newsInterval, err := getInt("NEWS_INTERVAL_TICKS", 60)
	if err != nil || newsInterval <= 0 {
		return nil, fmt.Errorf("invalid NEWS_INTERVAL_TICKS: %q", os.Getenv("NEWS_INTERVAL_TICKS"))
	}

	newsDelay, err := getInt("NEWS_DELAY_TICKS", 3)
	if err != nil || newsDelay < 0 {
		return nil, fmt.Errorf("invalid NEWS_DELAY_TICKS: %q", os.Getenv("NEWS_DELAY_TICKS"))
	}

	feeRate, err := getDecimal("FEE_RATE", decimal.NewFromFloat(0.001))
	if err != nil || feeRate.IsNegative() || feeRate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return nil, fmt.Errorf("invalid FEE_RATE: %q", os.Getenv("FEE_RATE"))
	}

	initialCash, err := getDecimal("INITIAL_CASH", decimal.NewFromInt(10_000_000))
	if err != nil || initialCash.IsNegative() {
		return nil, fmt.Errorf("invalid INITIAL_CASH: %q", os.Getenv("INITIAL_CASH"))
	}

	seed, err := getUint("SEED", 0)
	if err != nil {
		return nil, fmt.Errorf("invalid SEED: %w", err)
	}

	autoStart, err := getBool("AUTOSTART", false)
	if err != nil {
		return nil, fmt.Errorf("invalid AUTOSTART: %w", err)
	}

	batchTimeout, err := getDuration("BATCH_TIMEOUT", 35*time.Minute)
	if err != nil || batchTimeout <= 0 {
		return nil, fmt.Errorf("invalid BATCH_TIMEOUT: %q", os.Getenv("BATCH_TIMEOUT"))
	}

	shutdownTimeout, err := getDuration("SHUTDOWN_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("invalid SHUTDOWN_TIMEOUT: %w", err)
	}

	return &Config{
		Port:            port,
		LogLevel:        logLevel,
		DatabaseURL:     os.Getenv("DATABASE_URL"),
		RedisURL:        os.Getenv("REDIS_URL"),
		RedisChannel:    getStr("REDIS_CHANNEL", "market:snapshots"),
		CatalogPath:     os.Getenv("CATALOG_PATH"),
		TickInterval:    tickInterval,
		TicksPerDay:     ticksPerDay,
		ClosingTicks:    closingTicks,
		NewsPolicy:      policy,
		NewsInterval:    newsInterval,
		NewsDelay:       newsDelay,
		FeeRate:         feeRate,
		InitialCash:     initialCash,
		Seed:            seed,
		AutoStart:       autoStart,
		AdminToken:      os.Getenv("ADMIN_TOKEN"),
		BatchTimeout:    batchTimeout,
		ShutdownTimeout: shutdownTimeout,
	}, nil
}

// Level returns the slog level for LogLevel.
func (c *Config) Level() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

// SessionConfig builds the session parameters, reading the instrument
// catalogue from CatalogPath when set.
func (c *Config) SessionConfig() (session.Config, error) {
	sc := session.DefaultConfig()
	sc.TicksPerDay = c.TicksPerDay
	sc.ClosingTicks = c.ClosingTicks
	sc.InitialCash = c.InitialCash

	sc.News = news.DefaultConfig(c.TicksPerDay)
	sc.News.Policy = c.NewsPolicy
	sc.News.IntervalTicks = c.NewsInterval
	sc.News.ApplyDelay = int64(c.NewsDelay)

	sc.Settlement.FeeRate = c.FeeRate

	if c.CatalogPath != "" {
		catalog, err := market.LoadCatalog(c.CatalogPath)
		if err != nil {
			return session.Config{}, err
		}
		sc.Catalog = catalog
	}
	return sc, nil
}

func getStr(key, defaultVal string) string {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	return v
}

func getInt(key string, defaultVal int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	return strconv.Atoi(v)
}

func getUint(key string, defaultVal uint64) (uint64, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	return strconv.ParseUint(v, 10, 64)
}

func getBool(key string, defaultVal bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	return strconv.ParseBool(v)
}

func getDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	return time.ParseDuration(v)
}

func getDecimal(key string, defaultVal decimal.Decimal) (decimal.Decimal, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	return decimal.NewFromString(v)
}

func isValidLogLevel(level string) bool {
	switch level {
	case "debug", "info", "warn", "error":
		return true
	}
	return false
}
