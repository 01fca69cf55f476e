package harvest

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

type fakeSource struct {
	partitions func(ctx context.Context) ([]Partition, error)
	entities   func(ctx context.Context, p Partition) ([]Entity, error)
	detail     func(ctx context.Context, e Entity) (PartialResult, error)
}

func (f *fakeSource) ListPartitions(ctx context.Context) ([]Partition, error) {
	return f.partitions(ctx)
}

func (f *fakeSource) ListEntities(ctx context.Context, p Partition) ([]Entity, error) {
	return f.entities(ctx, p)
}

func (f *fakeSource) FetchEntityDetail(ctx context.Context, e Entity) (PartialResult, error) {
	return f.detail(ctx, e)
}

type countingReporter struct {
	increments atomic.Int64
	renders    atomic.Int64
}

func (r *countingReporter) Increment() { r.increments.Add(1) }
func (r *countingReporter) Render()    { r.renders.Add(1) }

type recordingSleep struct {
	mu    sync.Mutex
	waits []time.Duration
}

func (s *recordingSleep) sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.waits = append(s.waits, d)
	s.mu.Unlock()
	return ctx.Err()
}

func (s *recordingSleep) recorded() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.waits...)
}
