package api

import (
	"context"
	"crypto/subtle"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/kospisim/market-engine/internal/session"
	"github.com/kospisim/market-engine/internal/store"
)

// Admin exposes session control. Background work it starts is bound to the
// base context, not to the request.
type Admin struct {
	base         context.Context
	session      *session.Session
	store        store.Store
	interval     time.Duration
	batchTimeout time.Duration
}

// NewAdmin creates the admin handlers. base bounds the clock loop and
// batches started through them.
func NewAdmin(base context.Context, s *session.Session, st store.Store, interval, batchTimeout time.Duration) *Admin {
	return &Admin{
		base:         base,
		session:      s,
		store:        st,
		interval:     interval,
		batchTimeout: batchTimeout,
	}
}

// StatusResponse describes the clock after an admin action.
type StatusResponse struct {
	Running bool   `json:"running"`
	Epoch   uint64 `json:"epoch"`
	Tick    int64  `json:"tick"`
	Day     int    `json:"day"`
}

func (a *Admin) status() StatusResponse {
	snap := a.session.Snapshot()
	return StatusResponse{
		Running: a.session.Running(),
		Epoch:   a.session.Epoch(),
		Tick:    snap.Tick,
		Day:     snap.Day,
	}
}

func (a *Admin) saveControl(ctx context.Context, running bool) {
	if err := a.store.SaveControl(ctx, store.Control{Running: running, UpdatedAt: time.Now().UTC()}); err != nil {
		slog.Error("failed to persist server status", "running", running, "err", err)
	}
}

// Start handles POST /api/v1/admin/start
func (a *Admin) Start(w http.ResponseWriter, r *http.Request) {
	a.session.Start(a.base, a.interval)
	a.saveControl(r.Context(), true)
	writeJSON(w, http.StatusOK, a.status())
}

// Stop handles POST /api/v1/admin/stop
func (a *Admin) Stop(w http.ResponseWriter, r *http.Request) {
	a.session.Stop()
	a.saveControl(r.Context(), false)
	writeJSON(w, http.StatusOK, a.status())
}

// Reset handles POST /api/v1/admin/reset
func (a *Admin) Reset(w http.ResponseWriter, r *http.Request) {
	a.session.Reset(r.Context())
	writeJSON(w, http.StatusOK, a.status())
}

// BatchResponse is returned when a batch is accepted.
type BatchResponse struct {
	Epoch uint64 `json:"epoch"`
	Ticks int    `json:"ticks"`
}

// Batch handles POST /api/v1/admin/batch?ticks=N or ?elapsed=30m. It
// supersedes any running loop and replays the ticks in the background,
// paced at the tick interval unless pace=false.
func (a *Admin) Batch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var n int
	switch {
	case q.Get("ticks") != "":
		v, err := strconv.Atoi(q.Get("ticks"))
		if err != nil || v <= 0 {
			writeError(w, "ticks must be a positive integer", http.StatusBadRequest)
			return
		}
		n = v
	case q.Get("elapsed") != "":
		elapsed, err := time.ParseDuration(q.Get("elapsed"))
		if err != nil || elapsed <= 0 {
			writeError(w, "elapsed must be a positive duration", http.StatusBadRequest)
			return
		}
		n = session.TicksFor(elapsed, a.interval)
	default:
		writeError(w, "ticks or elapsed is required", http.StatusBadRequest)
		return
	}

	interval := a.interval
	if q.Get("pace") == "false" {
		interval = 0
	}

	epoch := a.session.NewEpoch()
	a.saveControl(r.Context(), false)
	go a.runBatch(epoch, n, interval)

	writeJSON(w, http.StatusAccepted, BatchResponse{Epoch: epoch, Ticks: n})
}

func (a *Admin) runBatch(epoch uint64, n int, interval time.Duration) {
	ctx, cancel := context.WithTimeout(a.base, a.batchTimeout)
	defer cancel()

	start := time.Now()
	err := a.session.RunBatch(ctx, epoch, n, interval)
	switch {
	case err == nil:
		slog.Info("batch complete", "epoch", epoch, "ticks", n, "took", time.Since(start).String())
	case errors.Is(err, session.ErrSuperseded):
		slog.Info("batch superseded", "epoch", epoch)
	default:
		slog.Warn("batch stopped early", "epoch", epoch, "err", err)
	}
}

// RequireToken rejects requests that do not carry "Bearer <token>". An
// empty token disables the check.
func RequireToken(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if token == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
				writeError(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
