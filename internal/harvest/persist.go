package harvest

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/breeder-harvester/internal/metrics"
)

// Link pairs an entity with a partition key, category code or person id.
type Link struct {
	EntityID string
	Target   string
}

// Links holds the association rows of a batch. Dangling counts candidate
// links dropped because their target is missing from the canonical sets.
type Links struct {
	EntityPartition []Link
	EntityCategory  []Link
	EntityPerson    []Link
	Dangling        int
}

// Links derives the association rows of the batch. Only links whose both
// ends are present in the batch are returned.
func (b Batch) Links() Links {
	partitions := make(map[string]struct{}, len(b.Partitions))
	for _, p := range b.Partitions {
		partitions[p.Key] = struct{}{}
	}
	entities := make(map[string]struct{}, len(b.Entities))
	for _, e := range b.Entities {
		entities[e.ID] = struct{}{}
	}
	categories := make(map[string]struct{}, len(b.Categories))
	for _, c := range b.Categories {
		categories[c.Code] = struct{}{}
	}

	var out Links
	for _, e := range b.Entities {
		if _, ok := partitions[e.PartitionKey]; ok {
			out.EntityPartition = append(out.EntityPartition, Link{EntityID: e.ID, Target: e.PartitionKey})
		} else {
			out.Dangling++
		}
		seen := make(map[string]struct{}, len(e.CategoryCodes))
		for _, code := range e.CategoryCodes {
			if _, dup := seen[code]; dup {
				continue
			}
			seen[code] = struct{}{}
			if _, ok := categories[code]; !ok {
				out.Dangling++
				continue
			}
			out.EntityCategory = append(out.EntityCategory, Link{EntityID: e.ID, Target: code})
		}
	}
	for _, p := range b.Persons {
		for _, id := range p.EntityIDs {
			if _, ok := entities[id]; !ok {
				out.Dangling++
				continue
			}
			out.EntityPerson = append(out.EntityPerson, Link{EntityID: id, Target: p.ID})
		}
	}
	return out
}

// Persist applies the batch as a sequence of insert-if-absent writes followed
// by a single commit. A failed write rolls the open transaction back; the store
// never exposes a partially applied batch.
func Persist(ctx context.Context, store Store, batch Batch, logger *zap.Logger) (Links, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	start := time.Now()
	links := batch.Links()

	sink, err := store.Begin(ctx)
	if err != nil {
		return Links{}, fmt.Errorf("begin batch: %w", err)
	}
	if err := writeBatch(ctx, sink, batch, links); err != nil {
		if rbErr := sink.Rollback(ctx); rbErr != nil {
			logger.Warn("rollback failed", zap.Error(rbErr))
		}
		return Links{}, err
	}
	if err := sink.Commit(ctx); err != nil {
		return Links{}, fmt.Errorf("commit batch: %w", err)
	}
	metrics.ObserveStage(StagePersist, time.Since(start))
	logger.Info("batch persisted",
		zap.Int("partitions", len(batch.Partitions)),
		zap.Int("entities", len(batch.Entities)),
		zap.Int("persons", len(batch.Persons)),
		zap.Int("categories", len(batch.Categories)),
		zap.Int("dangling_links", links.Dangling),
	)
	return links, nil
}

func writeBatch(ctx context.Context, sink Sink, batch Batch, links Links) error {
	for _, p := range batch.Partitions {
		if err := sink.UpsertPartition(ctx, p); err != nil {
			return fmt.Errorf("upsert partition %s: %w", p.Key, err)
		}
	}
	for _, e := range batch.Entities {
		if err := sink.UpsertEntity(ctx, e); err != nil {
			return fmt.Errorf("upsert entity %s: %w", e.ID, err)
		}
	}
	for _, c := range batch.Categories {
		if err := sink.UpsertCategory(ctx, c); err != nil {
			return fmt.Errorf("upsert category %s: %w", c.Code, err)
		}
	}
	for _, p := range batch.Persons {
		if err := sink.UpsertPerson(ctx, p); err != nil {
			return fmt.Errorf("upsert person %s: %w", p.ID, err)
		}
	}
	for _, l := range links.EntityPartition {
		if err := sink.LinkEntityPartition(ctx, l.EntityID, l.Target); err != nil {
			return fmt.Errorf("link entity %s to partition %s: %w", l.EntityID, l.Target, err)
		}
	}
	for _, l := range links.EntityCategory {
		if err := sink.LinkEntityCategory(ctx, l.EntityID, l.Target); err != nil {
			return fmt.Errorf("link entity %s to category %s: %w", l.EntityID, l.Target, err)
		}
	}
	for _, l := range links.EntityPerson {
		if err := sink.LinkEntityPerson(ctx, l.EntityID, l.Target); err != nil {
			return fmt.Errorf("link entity %s to person %s: %w", l.EntityID, l.Target, err)
		}
	}
	return nil
}
