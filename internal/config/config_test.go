package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"pgregory.net/rapid"

	"github.com/kospisim/market-engine/internal/news"
)

var allEnvKeys = []string{
	"PORT", "LOG_LEVEL", "DATABASE_URL", "REDIS_URL", "REDIS_CHANNEL",
	"CATALOG_PATH", "TICK_INTERVAL", "TICKS_PER_DAY", "CLOSING_TICKS",
	"NEWS_POLICY", "NEWS_INTERVAL_TICKS", "NEWS_DELAY_TICKS", "FEE_RATE",
	"INITIAL_CASH", "SEED", "AUTOSTART", "ADMIN_TOKEN", "BATCH_TIMEOUT",
	"SHUTDOWN_TIMEOUT",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range allEnvKeys {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Port != 8080 {
		t.Errorf("Port = %d, want 8080", cfg.Port)
	}
	if cfg.LogLevel != "info" || cfg.Level() != slog.LevelInfo {
		t.Errorf("LogLevel = %q, want info", cfg.LogLevel)
	}
	if cfg.TickInterval != time.Second {
		t.Errorf("TickInterval = %v, want 1s", cfg.TickInterval)
	}
	if cfg.TicksPerDay != 1800 || cfg.ClosingTicks != 180 {
		t.Errorf("day = %d/%d, want 1800/180", cfg.TicksPerDay, cfg.ClosingTicks)
	}
	if cfg.NewsPolicy != news.PolicyInterval || cfg.NewsInterval != 60 || cfg.NewsDelay != 3 {
		t.Errorf("news = %s/%d/%d, want interval/60/3", cfg.NewsPolicy, cfg.NewsInterval, cfg.NewsDelay)
	}
	if !cfg.FeeRate.Equal(decimal.RequireFromString("0.001")) {
		t.Errorf("FeeRate = %s, want 0.001", cfg.FeeRate)
	}
	if !cfg.InitialCash.Equal(decimal.NewFromInt(10_000_000)) {
		t.Errorf("InitialCash = %s, want 10000000", cfg.InitialCash)
	}
	if cfg.RedisChannel != "market:snapshots" {
		t.Errorf("RedisChannel = %q", cfg.RedisChannel)
	}
	if cfg.AutoStart || cfg.Seed != 0 || cfg.AdminToken != "" {
		t.Errorf("unexpected defaults: autostart=%v seed=%d token=%q", cfg.AutoStart, cfg.Seed, cfg.AdminToken)
	}
	if cfg.BatchTimeout != 35*time.Minute || cfg.ShutdownTimeout != 5*time.Second {
		t.Errorf("timeouts = %v/%v", cfg.BatchTimeout, cfg.ShutdownTimeout)
	}
}

func TestLoad_CustomValues(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "9090")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("TICK_INTERVAL", "250ms")
	t.Setenv("TICKS_PER_DAY", "600")
	t.Setenv("NEWS_POLICY", "per_tick")
	t.Setenv("FEE_RATE", "0.0025")
	t.Setenv("SEED", "42")
	t.Setenv("AUTOSTART", "true")
	t.Setenv("ADMIN_TOKEN", "tok")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Port != 9090 || cfg.Level() != slog.LevelDebug {
		t.Errorf("Port/Level = %d/%v", cfg.Port, cfg.Level())
	}
	if cfg.TickInterval != 250*time.Millisecond || cfg.TicksPerDay != 600 {
		t.Errorf("clock = %v/%d", cfg.TickInterval, cfg.TicksPerDay)
	}
	if cfg.NewsPolicy != news.PolicyPerTick {
		t.Errorf("NewsPolicy = %s", cfg.NewsPolicy)
	}
	if !cfg.FeeRate.Equal(decimal.RequireFromString("0.0025")) {
		t.Errorf("FeeRate = %s", cfg.FeeRate)
	}
	if cfg.Seed != 42 || !cfg.AutoStart || cfg.AdminToken != "tok" {
		t.Errorf("seed/autostart/token = %d/%v/%q", cfg.Seed, cfg.AutoStart, cfg.AdminToken)
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		key, value string
	}{
		{"PORT", "abc"},
		{"PORT", "70000"},
		{"LOG_LEVEL", "verbose"},
		{"TICK_INTERVAL", "0s"},
		{"TICK_INTERVAL", "fast"},
		{"TICKS_PER_DAY", "0"},
		{"CLOSING_TICKS", "-1"},
		{"NEWS_POLICY", "sometimes"},
		{"NEWS_INTERVAL_TICKS", "0"},
		{"NEWS_DELAY_TICKS", "-2"},
		{"FEE_RATE", "1.5"},
		{"FEE_RATE", "-0.1"},
		{"INITIAL_CASH", "lots"},
		{"SEED", "-1"},
		{"AUTOSTART", "maybe"},
		{"BATCH_TIMEOUT", "0s"},
	}
	for _, tt := range tests {
		t.Run(tt.key+"="+tt.value, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(tt.key, tt.value)
			if _, err := Load(); err == nil {
				t.Errorf("expected error for %s=%q", tt.key, tt.value)
			}
		})
	}
}

func TestSessionConfig(t *testing.T) {
	clearEnv(t)
	t.Setenv("TICKS_PER_DAY", "600")
	t.Setenv("CLOSING_TICKS", "60")
	t.Setenv("NEWS_POLICY", "per_tick")
	t.Setenv("NEWS_DELAY_TICKS", "5")
	t.Setenv("FEE_RATE", "0.002")

	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	sc, err := cfg.SessionConfig()
	if err != nil {
		t.Fatal(err)
	}
	if sc.TicksPerDay != 600 || sc.ClosingTicks != 60 {
		t.Errorf("day = %d/%d", sc.TicksPerDay, sc.ClosingTicks)
	}
	if sc.News.Policy != news.PolicyPerTick || sc.News.ApplyDelay != 5 {
		t.Errorf("news = %s/%d", sc.News.Policy, sc.News.ApplyDelay)
	}
	if want := 1.5 / 600; sc.News.ProbabilityPerTick != want {
		t.Errorf("ProbabilityPerTick = %v, want %v", sc.News.ProbabilityPerTick, want)
	}
	if !sc.Settlement.FeeRate.Equal(decimal.RequireFromString("0.002")) {
		t.Errorf("FeeRate = %s", sc.Settlement.FeeRate)
	}
	if len(sc.Catalog) != 10 {
		t.Errorf("expected default catalogue, got %d instruments", len(sc.Catalog))
	}
}

func TestSessionConfig_Catalog(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	yaml := `instruments:
  - id: "a"
    name: Alpha Corp
    symbol: "100010"
    class: bluechip
    initial_price: 50000
    mean_price: 52000
    kappa: 0.02
    sigma: 0.03
    jump_intensity: 0.1
`
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CATALOG_PATH", path)

	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	sc, err := cfg.SessionConfig()
	if err != nil {
		t.Fatalf("SessionConfig: %v", err)
	}
	if len(sc.Catalog) != 1 || sc.Catalog[0].ID != "a" || sc.Catalog[0].InitialPrice != 50000 {
		t.Errorf("unexpected catalogue: %+v", sc.Catalog)
	}

	t.Setenv("CATALOG_PATH", filepath.Join(t.TempDir(), "missing.yaml"))
	cfg, _ = Load()
	if _, err := cfg.SessionConfig(); err == nil {
		t.Error("expected error for missing catalogue")
	}
}

func TestProperty_DurationsRoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		for _, key := range allEnvKeys {
			os.Unsetenv(key)
		}
		defer os.Unsetenv("TICK_INTERVAL")

		ms := rapid.IntRange(1, 1_000_000).Draw(t, "ms")
		want := time.Duration(ms) * time.Millisecond
		os.Setenv("TICK_INTERVAL", want.String())

		cfg, err := Load()
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		if cfg.TickInterval != want {
			t.Fatalf("TickInterval = %v, want %v", cfg.TickInterval, want)
		}
	})
}
