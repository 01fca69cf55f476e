package harvest

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/breeder-harvester/internal/metrics"
)

// Stage names used in logs and metrics.
const (
	StageDiscovery = "discovery"
	StageListing   = "listing"
	StageDetail    = "detail"
	StagePersist   = "persist"
)

// ListingHarvester lists the entities of every partition on a fixed-size pool.
type ListingHarvester struct {
	source  Source
	workers int
	logger  *zap.Logger
}

// NewListingHarvester builds a ListingHarvester. A non-positive workers value
// sizes the pool to the available parallelism.
func NewListingHarvester(source Source, workers int, logger *zap.Logger) *ListingHarvester {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ListingHarvester{source: source, workers: workers, logger: logger}
}

// Run lists every partition and returns the entities, deduplicated by id
// across the whole batch. It returns only after every task has finished. The
// first failing task cancels the rest and its error is returned; the listing
// stage never retries.
func (h *ListingHarvester) Run(ctx context.Context, partitions []Partition, reporter Reporter) ([]Entity, error) {
	start := time.Now()
	perPartition := make([][]Entity, len(partitions))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(h.workers)
	for i, partition := range partitions {
		g.Go(func() error {
			entities, err := h.source.ListEntities(gctx, partition)
			if err != nil {
				metrics.ObserveAttempt(StageListing, metrics.ResultError)
				return fmt.Errorf("list entities for partition %q: %w", partition.Key, err)
			}
			metrics.ObserveAttempt(StageListing, metrics.ResultSuccess)
			perPartition[i] = DedupeEntities(entities)
			h.logger.Debug("partition listed",
				zap.String("partition", partition.Key),
				zap.Int("entities", len(perPartition[i])),
			)
			if reporter != nil {
				reporter.Increment()
				reporter.Render()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err //nolint:wrapcheck // already wrapped by the task
	}
	metrics.ObserveStage(StageListing, time.Since(start))

	var all []Entity
	for _, entities := range perPartition {
		all = append(all, entities...)
	}
	deduped := DedupeEntities(all)
	h.logger.Info("listing complete",
		zap.Int("partitions", len(partitions)),
		zap.Int("listed", len(all)),
		zap.Int("entities", len(deduped)),
	)
	return deduped, nil
}

// DedupeEntities keeps the first entity seen for every id, preserving order.
func DedupeEntities(in []Entity) []Entity {
	seen := make(map[string]struct{}, len(in))
	out := make([]Entity, 0, len(in))
	for _, e := range in {
		if _, ok := seen[e.ID]; ok {
			continue
		}
		seen[e.ID] = struct{}{}
		out = append(out, e)
	}
	return out
}
