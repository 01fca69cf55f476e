package harvest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errRemote = errors.New("remote unavailable")

func okDetail(_ context.Context, e Entity) (PartialResult, error) {
	return PartialResult{
		EntityID:   e.ID,
		Categories: []Category{{Code: "C-" + e.ID}},
	}, nil
}

func TestDetailRetriesUntilSuccess(t *testing.T) {
	t.Parallel()

	var calls int
	src := &fakeSource{detail: func(ctx context.Context, e Entity) (PartialResult, error) {
		calls++
		if calls <= 3 {
			return PartialResult{}, errRemote
		}
		return okDetail(ctx, e)
	}}
	rec := &recordingSleep{}
	policy := DefaultRetryPolicy()
	h := NewDetailHarvester(src, policy, 1, nil).WithSleep(rec.sleep)
	reporter := &countingReporter{}

	out, err := h.Run(context.Background(), []Entity{{ID: "E1"}}, reporter)
	require.NoError(t, err)
	require.Len(t, out.Results, 1)
	assert.Equal(t, "E1", out.Results[0].EntityID)
	assert.Empty(t, out.Failed)
	assert.Equal(t, 4, calls)

	waits := rec.recorded()
	require.Len(t, waits, 4)
	assert.GreaterOrEqual(t, waits[0], policy.JitterMin)
	assert.LessOrEqual(t, waits[0], policy.JitterMax)
	for _, w := range waits[1:] {
		assert.GreaterOrEqual(t, w, policy.BackoffMin)
		assert.LessOrEqual(t, w, policy.BackoffMax)
	}
	assert.Zero(t, h.Paused().Value())
	assert.EqualValues(t, 1, h.Completed().Value())
	assert.EqualValues(t, 1, reporter.increments.Load())
}

func TestDetailCooldownWhenCongested(t *testing.T) {
	t.Parallel()

	rec := &recordingSleep{}
	policy := DefaultRetryPolicy()
	h := NewDetailHarvester(&fakeSource{detail: okDetail}, policy, 1, nil).WithSleep(rec.sleep)
	for range policy.CongestionThreshold + 1 {
		h.Paused().Inc()
	}

	_, err := h.Run(context.Background(), []Entity{{ID: "E1"}}, nil)
	require.NoError(t, err)

	waits := rec.recorded()
	require.Len(t, waits, 2)
	assert.GreaterOrEqual(t, waits[1], policy.Cooldown)
}

func TestDetailNoCooldownAtThreshold(t *testing.T) {
	t.Parallel()

	rec := &recordingSleep{}
	policy := DefaultRetryPolicy()
	h := NewDetailHarvester(&fakeSource{detail: okDetail}, policy, 1, nil).WithSleep(rec.sleep)
	for range policy.CongestionThreshold {
		h.Paused().Inc()
	}

	_, err := h.Run(context.Background(), []Entity{{ID: "E1"}}, nil)
	require.NoError(t, err)
	assert.Len(t, rec.recorded(), 1)
}

func TestDetailPausedDuringBackoff(t *testing.T) {
	t.Parallel()

	var (
		once     sync.Once
		observed int64
		h        *DetailHarvester
	)
	failFirst := true
	src := &fakeSource{detail: func(ctx context.Context, e Entity) (PartialResult, error) {
		if failFirst {
			failFirst = false
			return PartialResult{}, errRemote
		}
		return okDetail(ctx, e)
	}}
	policy := DefaultRetryPolicy()
	h = NewDetailHarvester(src, policy, 1, nil).WithSleep(func(ctx context.Context, d time.Duration) error {
		if d >= policy.BackoffMin {
			once.Do(func() { observed = h.Paused().Value() })
		}
		return ctx.Err()
	})

	_, err := h.Run(context.Background(), []Entity{{ID: "E1"}}, nil)
	require.NoError(t, err)
	assert.EqualValues(t, 1, observed)
	assert.Zero(t, h.Paused().Value())
}

func TestDetailConcurrentFailuresCoolDownHealthyWorker(t *testing.T) {
	t.Parallel()

	const (
		jitter   = time.Millisecond
		backoff  = 2 * time.Millisecond
		cooldown = 3 * time.Millisecond
	)
	policy := RetryPolicy{
		JitterMin:           jitter,
		JitterMax:           jitter,
		BackoffMin:          backoff,
		BackoffMax:          backoff,
		Cooldown:            cooldown,
		CongestionThreshold: 1,
		MaxAttempts:         3,
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var (
		h                  *DetailHarvester
		mu                 sync.Mutex
		attempts           = make(map[string]int)
		cooldowns          atomic.Int64
		cooldownsAtRelease int64
		healthyPaused      int64
		healthyCooldowns   int64
	)
	release := make(chan struct{})
	src := &fakeSource{detail: func(ctx context.Context, e Entity) (PartialResult, error) {
		mu.Lock()
		attempts[e.ID]++
		n := attempts[e.ID]
		mu.Unlock()
		switch e.ID {
		case "F1", "F2":
			if n == 1 {
				return PartialResult{}, errRemote
			}
		case "B":
			// Holds the last slot until both failing workers are backing off,
			// so H is only dispatched into a congested pool.
			for h.Paused().Value() < 2 {
				if ctx.Err() != nil {
					return PartialResult{}, ctx.Err()
				}
				time.Sleep(time.Millisecond)
			}
			cooldownsAtRelease = cooldowns.Load()
		case "H":
			healthyPaused = h.Paused().Value()
			healthyCooldowns = cooldowns.Load()
			close(release)
		}
		return okDetail(ctx, e)
	}}
	h = NewDetailHarvester(src, policy, 3, nil).WithSleep(func(ctx context.Context, d time.Duration) error {
		switch d {
		case backoff:
			select {
			case <-release:
			case <-ctx.Done():
			}
		case cooldown:
			cooldowns.Add(1)
		}
		return ctx.Err()
	})

	out, err := h.Run(ctx, []Entity{{ID: "F1"}, {ID: "F2"}, {ID: "B"}, {ID: "H"}}, nil)
	require.NoError(t, err)
	require.Len(t, out.Results, 4)
	assert.Empty(t, out.Failed)

	assert.EqualValues(t, 2, healthyPaused)
	assert.Equal(t, cooldownsAtRelease+1, healthyCooldowns, "healthy worker should cool down before its first fetch")
	mu.Lock()
	assert.Equal(t, 1, attempts["H"])
	assert.Equal(t, 2, attempts["F1"])
	assert.Equal(t, 2, attempts["F2"])
	mu.Unlock()
	assert.Zero(t, h.Paused().Value())
	assert.EqualValues(t, 4, h.Completed().Value())
}

func TestDetailMaxAttemptsReportsFailure(t *testing.T) {
	t.Parallel()

	src := &fakeSource{detail: func(ctx context.Context, e Entity) (PartialResult, error) {
		if e.ID == "E2" {
			return PartialResult{}, errRemote
		}
		return okDetail(ctx, e)
	}}
	policy := DefaultRetryPolicy()
	policy.MaxAttempts = 2
	rec := &recordingSleep{}
	h := NewDetailHarvester(src, policy, 2, nil).WithSleep(rec.sleep)

	out, err := h.Run(context.Background(), []Entity{{ID: "E1"}, {ID: "E2"}, {ID: "E3"}}, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"E2"}, out.Failed)
	require.Len(t, out.Results, 2)
	assert.Equal(t, "E1", out.Results[0].EntityID)
	assert.Equal(t, "E3", out.Results[1].EntityID)
	assert.EqualValues(t, 2, h.Completed().Value())
}

func TestDetailContextCancelStopsRetries(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	src := &fakeSource{detail: func(context.Context, Entity) (PartialResult, error) {
		cancel()
		return PartialResult{}, errRemote
	}}
	h := NewDetailHarvester(src, DefaultRetryPolicy(), 1, nil).WithSleep((&recordingSleep{}).sleep)

	_, err := h.Run(ctx, []Entity{{ID: "E1"}}, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDetailResultsInDispatchOrder(t *testing.T) {
	t.Parallel()

	entities := make([]Entity, 25)
	for i := range entities {
		entities[i] = Entity{ID: fmt.Sprintf("E%02d", i)}
	}
	src := &fakeSource{detail: func(ctx context.Context, e Entity) (PartialResult, error) {
		// Later entities finish first.
		var idx int
		_, _ = fmt.Sscanf(e.ID, "E%d", &idx)
		time.Sleep(time.Duration(25-idx) * 100 * time.Microsecond)
		return okDetail(ctx, e)
	}}
	h := NewDetailHarvester(src, DefaultRetryPolicy(), 8, nil).WithSleep((&recordingSleep{}).sleep)
	reporter := &countingReporter{}

	out, err := h.Run(context.Background(), entities, reporter)
	require.NoError(t, err)
	require.Len(t, out.Results, len(entities))
	for i, r := range out.Results {
		assert.Equal(t, entities[i].ID, r.EntityID)
	}
	assert.EqualValues(t, len(entities), reporter.increments.Load())
	assert.EqualValues(t, len(entities), reporter.renders.Load())
}

func TestDetailFillsMissingEntityID(t *testing.T) {
	t.Parallel()

	src := &fakeSource{detail: func(context.Context, Entity) (PartialResult, error) {
		return PartialResult{Persons: []Person{{ID: "P1"}}}, nil
	}}
	h := NewDetailHarvester(src, DefaultRetryPolicy(), 0, nil).WithSleep((&recordingSleep{}).sleep)

	out, err := h.Run(context.Background(), []Entity{{ID: "E9"}}, nil)
	require.NoError(t, err)
	require.Len(t, out.Results, 1)
	assert.Equal(t, "E9", out.Results[0].EntityID)
}

func TestSleepContext(t *testing.T) {
	t.Parallel()

	require.NoError(t, sleepContext(context.Background(), time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, sleepContext(ctx, time.Hour), context.Canceled)
	assert.ErrorIs(t, sleepContext(ctx, 0), context.Canceled)
}
