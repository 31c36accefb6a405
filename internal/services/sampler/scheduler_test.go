package sampler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LeonardoBeccarini/clever_harvest/internal/model"
)

// manualClock advances only when told to, or when After is called.
type manualClock struct {
	mu    sync.Mutex
	now   time.Time
	waits []time.Duration
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func (c *manualClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.waits = append(c.waits, d)
	c.now = c.now.Add(d)
	ch := make(chan time.Time, 1)
	ch <- c.now
	return ch
}

type runnerFunc func(ctx context.Context) (model.Measurement, error)

func (f runnerFunc) Run(ctx context.Context) (model.Measurement, error) { return f(ctx) }

func TestNextStart(t *testing.T) {
	const interval = 5 * time.Minute
	tests := []struct {
		name     string
		elapsed  time.Duration
		wantNext time.Duration
		skipped  int
	}{
		{"quick cycle", 10 * time.Second, 5 * time.Minute, 0},
		{"exactly one slot", 5 * time.Minute, 5 * time.Minute, 0},
		{"overran one slot", 7 * time.Minute, 10 * time.Minute, 1},
		{"lands on a boundary", 10 * time.Minute, 10 * time.Minute, 1},
		{"overran two slots", 12 * time.Minute, 15 * time.Minute, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			next, skipped := nextStart(t0, t0.Add(tt.elapsed), interval)
			assert.Equal(t, t0.Add(tt.wantNext), next)
			assert.Equal(t, tt.skipped, skipped)
		})
	}
}

func TestTickRecordsOutcome(t *testing.T) {
	clock := &manualClock{now: t0}
	fail := true
	s := NewScheduler(runnerFunc(func(context.Context) (model.Measurement, error) {
		if fail {
			return model.Measurement{}, &SensorError{Sensor: "dht22", Err: errors.New("timeout")}
		}
		return model.Measurement{Timestamp: t0}, nil
	}), clock, 5*time.Minute, discardLogger())

	require.Error(t, s.Tick(context.Background()))
	assert.Equal(t, t0, s.LastStart())
	assert.True(t, s.LastOK().IsZero())

	fail = false
	clock.advance(5 * time.Minute)
	require.NoError(t, s.Tick(context.Background()))
	assert.Equal(t, t0.Add(5*time.Minute), s.LastOK())
}

func TestRunSkipsMissedSlots(t *testing.T) {
	clock := &manualClock{now: t0}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var starts []time.Time
	runner := runnerFunc(func(context.Context) (model.Measurement, error) {
		starts = append(starts, clock.Now())
		switch len(starts) {
		case 2:
			clock.advance(7 * time.Minute)
		case 3:
			cancel()
		}
		return model.Measurement{}, nil
	})

	NewScheduler(runner, clock, 5*time.Minute, discardLogger()).Run(ctx)

	assert.Equal(t, []time.Time{t0, t0.Add(5 * time.Minute), t0.Add(15 * time.Minute)}, starts)
	require.GreaterOrEqual(t, len(clock.waits), 2)
	assert.Equal(t, []time.Duration{5 * time.Minute, 3 * time.Minute}, clock.waits[:2])
}

func TestRunContinuesAfterAbortedCycle(t *testing.T) {
	clock := &manualClock{now: t0}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	calls := 0
	runner := runnerFunc(func(context.Context) (model.Measurement, error) {
		calls++
		if calls == 2 {
			cancel()
		}
		return model.Measurement{}, errors.New("aborted")
	})

	NewScheduler(runner, clock, time.Minute, discardLogger()).Run(ctx)
	assert.Equal(t, 2, calls)
}

func TestRunReturnsWhenAlreadyCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	runner := runnerFunc(func(context.Context) (model.Measurement, error) {
		calls++
		return model.Measurement{}, nil
	})
	NewScheduler(runner, &manualClock{now: t0}, time.Minute, discardLogger()).Run(ctx)
	assert.Zero(t, calls)
}

func TestSchedulerNilLoggerDefaults(t *testing.T) {
	abort := errors.New("dht22 gone")
	s := NewScheduler(runnerFunc(func(context.Context) (model.Measurement, error) {
		return model.Measurement{}, abort
	}), &manualClock{now: t0}, time.Minute, nil)

	var err error
	assert.NotPanics(t, func() { err = s.Tick(context.Background()) })
	assert.ErrorIs(t, err, abort)
}
