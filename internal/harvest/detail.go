package harvest

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/breeder-harvester/internal/metrics"
)

// SleepFunc blocks for d or until ctx ends.
type SleepFunc func(ctx context.Context, d time.Duration) error

// DetailHarvester fetches the nested records of every entity on a fixed-size
// pool. Failed fetches back off and retry according to the RetryPolicy; the
// shared paused counter lets a burst of failures slow down every worker.
type DetailHarvester struct {
	source    Source
	policy    RetryPolicy
	workers   int
	paused    *Counter
	completed *Counter
	sleep     SleepFunc
	logger    *zap.Logger
}

// DetailOutcome is the barrier-joined output of the detail stage. Results are
// in dispatch order; entities whose retries were exhausted have no result.
type DetailOutcome struct {
	Results []PartialResult
	Failed  []string
}

// NewDetailHarvester builds a DetailHarvester. A non-positive workers value
// sizes the pool to the available parallelism.
func NewDetailHarvester(source Source, policy RetryPolicy, workers int, logger *zap.Logger) *DetailHarvester {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DetailHarvester{
		source:    source,
		policy:    policy,
		workers:   workers,
		paused:    &Counter{},
		completed: &Counter{},
		sleep:     sleepContext,
		logger:    logger,
	}
}

// WithSleep replaces the wait primitive; tests use it to observe delays.
func (h *DetailHarvester) WithSleep(fn SleepFunc) *DetailHarvester {
	if fn != nil {
		h.sleep = fn
	}
	return h
}

// Paused exposes the count of workers currently backing off.
func (h *DetailHarvester) Paused() *Counter { return h.paused }

// Completed exposes the count of entities fetched successfully.
func (h *DetailHarvester) Completed() *Counter { return h.completed }

// Run fetches every entity and returns once all tasks have finished. With an
// unbounded policy Run only returns early when ctx ends.
func (h *DetailHarvester) Run(ctx context.Context, entities []Entity, reporter Reporter) (DetailOutcome, error) {
	start := time.Now()
	results := make([]PartialResult, len(entities))
	ok := make([]bool, len(entities))
	var (
		failedMu sync.Mutex
		failed   []string
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(h.workers)
	for i, entity := range entities {
		g.Go(func() error {
			res, err := h.fetch(gctx, entity, reporter)
			switch {
			case err == nil:
				results[i] = res
				ok[i] = true
				return nil
			case errors.Is(err, ErrRetriesExhausted):
				failedMu.Lock()
				failed = append(failed, entity.ID)
				failedMu.Unlock()
				return nil
			default:
				return err
			}
		})
	}
	if err := g.Wait(); err != nil {
		return DetailOutcome{}, err //nolint:wrapcheck // already wrapped by the task
	}
	metrics.ObserveStage(StageDetail, time.Since(start))

	out := DetailOutcome{Results: make([]PartialResult, 0, len(entities)), Failed: failed}
	for i := range results {
		if ok[i] {
			out.Results = append(out.Results, results[i])
		}
	}
	h.logger.Info("detail complete",
		zap.Int("entities", len(entities)),
		zap.Int64("completed", h.completed.Value()),
		zap.Int("failed", len(failed)),
	)
	return out, nil
}

// fetch runs the per-entity state machine:
// jitter wait, then attempt; a failed attempt marks the worker paused for one
// backoff and loops back to the congestion check before the next attempt.
func (h *DetailHarvester) fetch(ctx context.Context, entity Entity, reporter Reporter) (PartialResult, error) {
	if err := h.sleep(ctx, h.policy.Jitter()); err != nil {
		return PartialResult{}, fmt.Errorf("detail %s jitter: %w", entity.ID, err)
	}
	for attempt := 1; ; attempt++ {
		if h.policy.Congested(h.paused.Value()) {
			metrics.ObserveCooldown()
			if err := h.sleep(ctx, h.policy.Cooldown); err != nil {
				return PartialResult{}, fmt.Errorf("detail %s cooldown: %w", entity.ID, err)
			}
		}

		res, err := h.source.FetchEntityDetail(ctx, entity)
		if err == nil {
			metrics.ObserveAttempt(StageDetail, metrics.ResultSuccess)
			if res.EntityID == "" {
				res.EntityID = entity.ID
			}
			h.completed.Inc()
			if reporter != nil {
				reporter.Increment()
				reporter.Render()
			}
			return res, nil
		}
		metrics.ObserveAttempt(StageDetail, metrics.ResultError)
		if ctx.Err() != nil {
			return PartialResult{}, fmt.Errorf("detail %s: %w", entity.ID, ctx.Err())
		}
		if h.policy.Exhausted(attempt) {
			h.logger.Error("detail fetch abandoned",
				zap.String("entity_id", entity.ID),
				zap.Int("attempts", attempt),
				zap.Error(err),
			)
			return PartialResult{}, fmt.Errorf("detail %s after %d attempts: %w", entity.ID, attempt, ErrRetriesExhausted)
		}

		backoff := h.policy.Backoff()
		h.logger.Warn("detail fetch failed; backing off",
			zap.String("entity_id", entity.ID),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", backoff),
			zap.Error(err),
		)
		h.paused.Inc()
		metrics.SetPausedWorkers(h.paused.Value())
		sleepErr := h.sleep(ctx, backoff)
		h.paused.Dec()
		metrics.SetPausedWorkers(h.paused.Value())
		if sleepErr != nil {
			return PartialResult{}, fmt.Errorf("detail %s backoff: %w", entity.ID, sleepErr)
		}
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
