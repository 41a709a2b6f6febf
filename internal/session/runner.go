package session

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// Start begins a fresh epoch and runs the clock in the background, one tick
// per interval, until ctx is cancelled or the epoch is superseded by Stop,
// another Start or a batch. It returns the new epoch.
func (s *Session) Start(ctx context.Context, interval time.Duration) uint64 {
	epoch := s.epoch.Add(1)
	s.running.Store(true)
	slog.Info("session clock started", "epoch", epoch, "interval", interval.String())
	go s.run(ctx, epoch, interval)
	return epoch
}

// Stop supersedes the running loop. The loop notices on its next tick and
// exits without writing; the last published snapshot stays intact.
func (s *Session) Stop() {
	epoch := s.epoch.Add(1)
	s.running.Store(false)
	slog.Info("session clock stopped", "epoch", epoch)
}

// NewEpoch supersedes any running loop and returns an epoch reserved for the
// caller, for use with RunBatch.
func (s *Session) NewEpoch() uint64 {
	s.running.Store(false)
	return s.epoch.Add(1)
}

// Epoch returns the current epoch.
func (s *Session) Epoch() uint64 { return s.epoch.Load() }

// Running reports whether a background clock loop owns the current epoch.
func (s *Session) Running() bool { return s.running.Load() }

func (s *Session) run(ctx context.Context, epoch uint64, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if s.epoch.Load() == epoch {
				s.running.Store(false)
			}
			slog.Info("session clock exiting", "epoch", epoch, "reason", ctx.Err())
			return
		case <-ticker.C:
			if _, err := s.step(ctx, epoch); errors.Is(err, ErrSuperseded) {
				slog.Info("session clock superseded", "epoch", epoch, "current", s.epoch.Load())
				return
			}
		}
	}
}

// RunBatch replays n ticks under epoch, pacing tick i to start + i×interval
// so a late tick does not push back the ones after it. It stops early with
// ErrSuperseded if the epoch moves on and with ctx.Err() when ctx ends.
func (s *Session) RunBatch(ctx context.Context, epoch uint64, n int, interval time.Duration) error {
	start := time.Now()
	timer := time.NewTimer(0)
	defer timer.Stop()
	<-timer.C

	for i := 0; i < n; i++ {
		if wait := time.Until(start.Add(time.Duration(i) * interval)); wait > 0 {
			timer.Reset(wait)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-timer.C:
			}
		} else if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := s.step(ctx, epoch); err != nil {
			return err
		}
	}
	return nil
}

// TicksFor returns how many ticks of interval fit in elapsed wall-clock time.
func TicksFor(elapsed, interval time.Duration) int {
	if interval <= 0 || elapsed <= 0 {
		return 0
	}
	return int(elapsed / interval)
}
