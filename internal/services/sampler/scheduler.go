package sampler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/LeonardoBeccarini/clever_harvest/internal/model"
)

type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time                         { return time.Now() }
func (systemClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// SystemClock is the wall clock.
func SystemClock() Clock { return systemClock{} }

// CycleRunner is one measurement cycle; *Cycle implements it.
type CycleRunner interface {
	Run(ctx context.Context) (model.Measurement, error)
}

// Scheduler runs a cycle on fixed slots anchored to the start of each cycle.
type Scheduler struct {
	runner   CycleRunner
	clock    Clock
	interval time.Duration
	logger   *slog.Logger

	mu        sync.RWMutex
	lastStart time.Time
	lastOK    time.Time
}

func NewScheduler(runner CycleRunner, clock Clock, interval time.Duration, logger *slog.Logger) *Scheduler {
	if clock == nil {
		clock = SystemClock()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{runner: runner, clock: clock, interval: interval, logger: logger}
}

// Tick runs exactly one cycle. The error is non-nil only when the cycle
// was aborted; it is logged here as well.
func (s *Scheduler) Tick(ctx context.Context) error {
	start := s.clock.Now()
	_, err := s.runner.Run(ctx)

	s.mu.Lock()
	s.lastStart = start
	if err == nil {
		s.lastOK = start
	}
	s.mu.Unlock()

	if err != nil {
		s.logger.Error("cycle aborted", "error", err)
	}
	return err
}

// Run ticks immediately and then once per interval until ctx is done.
// A cycle that overruns its slot skips the missed slots instead of
// running back to back.
func (s *Scheduler) Run(ctx context.Context) {
	s.logger.Info("sampler loop started", "interval", s.interval)
	for {
		if ctx.Err() != nil {
			s.logger.Info("sampler loop stopped")
			return
		}
		start := s.clock.Now()
		_ = s.Tick(ctx)

		now := s.clock.Now()
		next, skipped := nextStart(start, now, s.interval)
		if skipped > 0 {
			s.logger.Warn("cycle overran its slot",
				"took", now.Sub(start),
				"interval", s.interval,
				"skipped_slots", skipped)
		}
		select {
		case <-ctx.Done():
			s.logger.Info("sampler loop stopped")
			return
		case <-s.clock.After(next.Sub(now)):
		}
	}
}

// LastStart is when the most recent cycle began; LastOK is the most recent
// one that was not aborted. Both are zero before the first tick.
func (s *Scheduler) LastStart() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastStart
}

func (s *Scheduler) LastOK() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastOK
}

// nextStart returns the first slot boundary after now, counting slots from
// start, and how many boundaries were already missed.
func nextStart(start, now time.Time, interval time.Duration) (time.Time, int) {
	next := start.Add(interval)
	if !now.After(next) {
		return next, 0
	}
	// a boundary equal to now is still on time
	missed := int((now.Sub(start) - 1) / interval)
	next = start.Add(time.Duration(missed+1) * interval)
	return next, missed
}
