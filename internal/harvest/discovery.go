package harvest

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/breeder-harvester/internal/metrics"
)

// DiscoverPartitions fetches the partition list exactly once. There is no
// retry at this stage; any error aborts the run. An empty list is not an
// error: the run goes on and commits an empty batch.
func DiscoverPartitions(ctx context.Context, source Source, logger *zap.Logger) ([]Partition, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	partitions, err := source.ListPartitions(ctx)
	if err != nil {
		metrics.ObserveAttempt(StageDiscovery, metrics.ResultError)
		return nil, fmt.Errorf("list partitions: %w", err)
	}
	metrics.ObserveAttempt(StageDiscovery, metrics.ResultSuccess)

	seen := make(map[string]struct{}, len(partitions))
	out := make([]Partition, 0, len(partitions))
	for _, p := range partitions {
		if _, ok := seen[p.Key]; ok {
			continue
		}
		seen[p.Key] = struct{}{}
		out = append(out, p)
	}
	if len(out) == 0 {
		logger.Warn("registry listed no partitions")
		return out, nil
	}
	logger.Info("partitions discovered", zap.Int("count", len(out)))
	return out, nil
}
