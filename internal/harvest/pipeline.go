package harvest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/breeder-harvester/internal/metrics"
)

const tracerName = "github.com/JakeFAU/breeder-harvester/internal/harvest"

// Config controls pool sizes, retry timing and the run archive.
type Config struct {
	ListingWorkers int
	DetailWorkers  int
	Policy         RetryPolicy
	ArchivePrefix  string
}

// ReporterFactory builds a progress reporter for one stage.
type ReporterFactory func(stage string, total int) Reporter

// Deps collects the collaborators of a Pipeline. Source, Store, Clock and IDs
// are required. A nil Tracer uses the global provider.
type Deps struct {
	Source    Source
	Store     Store
	Archive   BlobStore
	Hasher    Hasher
	Publisher Publisher
	Clock     Clock
	IDs       IDGenerator
	Progress  ReporterFactory
	Tracer    trace.Tracer
}

// Pipeline runs discovery, listing, detail, merge and persistence in order.
type Pipeline struct {
	deps   Deps
	cfg    Config
	logger *zap.Logger
}

// NewPipeline validates the configuration and builds a Pipeline.
func NewPipeline(deps Deps, cfg Config, logger *zap.Logger) (*Pipeline, error) {
	if deps.Source == nil {
		return nil, fmt.Errorf("source is required")
	}
	if deps.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if deps.Clock == nil {
		return nil, fmt.Errorf("clock is required")
	}
	if deps.IDs == nil {
		return nil, fmt.Errorf("id generator is required")
	}
	if err := cfg.Policy.Validate(); err != nil {
		return nil, fmt.Errorf("retry policy: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if deps.Tracer == nil {
		deps.Tracer = otel.Tracer(tracerName)
	}
	return &Pipeline{deps: deps, cfg: cfg, logger: logger}, nil
}

// Run performs one full harvest and returns its summary.
func (p *Pipeline) Run(ctx context.Context) (Summary, error) {
	runID, err := p.deps.IDs.NewID()
	if err != nil {
		return Summary{}, fmt.Errorf("generate run id: %w", err)
	}
	ctx, span := p.deps.Tracer.Start(ctx, "harvest.run", trace.WithAttributes(attribute.String("harvest.run_id", runID)))
	defer span.End()

	logger := p.logger.With(zap.String("run_id", runID))
	summary := Summary{RunID: runID, StartedAt: p.deps.Clock.Now()}

	if err := p.run(ctx, logger, &summary); err != nil {
		metrics.ObserveRun("failed")
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return summary, err
	}

	metrics.ObserveRun("succeeded")
	span.SetAttributes(
		attribute.Int("harvest.entities", summary.Entities),
		attribute.Int("harvest.failed_entities", len(summary.FailedEntities)),
	)
	logger.Info("harvest complete",
		zap.Int("partitions", summary.Partitions),
		zap.Int("entities", summary.Entities),
		zap.Int("persons", summary.Persons),
		zap.Int("categories", summary.Categories),
		zap.Int("duplicate_categories", summary.DuplicateCategories),
		zap.Int("dangling_links", summary.DanglingLinks),
		zap.Strings("failed_entities", summary.FailedEntities),
		zap.Duration("duration", summary.Duration),
	)
	return summary, nil
}

func (p *Pipeline) run(ctx context.Context, logger *zap.Logger, summary *Summary) error {
	batch, err := p.harvest(ctx, logger, summary)
	if err != nil {
		return err
	}

	err = p.stage(ctx, StagePersist, func(ctx context.Context) error {
		if err := p.deps.Store.EnsureSchema(ctx); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
		links, err := Persist(ctx, p.deps.Store, batch, logger.Named(StagePersist))
		if err != nil {
			return fmt.Errorf("persist batch: %w", err)
		}
		summary.DanglingLinks = links.Dangling
		return nil
	})
	if err != nil {
		return err
	}
	summary.Duration = p.deps.Clock.Now().Sub(summary.StartedAt)

	p.archive(ctx, logger, batch, summary)
	p.publish(ctx, logger, *summary)
	return nil
}

// stage runs fn inside a child span named after the stage.
func (p *Pipeline) stage(ctx context.Context, name string, fn func(context.Context) error) error {
	ctx, span := p.deps.Tracer.Start(ctx, "harvest."+name)
	defer span.End()
	if err := fn(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}

func (p *Pipeline) harvest(ctx context.Context, logger *zap.Logger, summary *Summary) (Batch, error) {
	var (
		batch   Batch
		outcome DetailOutcome
	)
	err := p.stage(ctx, StageDiscovery, func(ctx context.Context) error {
		partitions, err := DiscoverPartitions(ctx, p.deps.Source, logger.Named(StageDiscovery))
		if err != nil {
			return fmt.Errorf("discover partitions: %w", err)
		}
		batch.Partitions = partitions
		return nil
	})
	if err != nil {
		return Batch{}, err
	}
	summary.Partitions = len(batch.Partitions)

	err = p.stage(ctx, StageListing, func(ctx context.Context) error {
		listing := NewListingHarvester(p.deps.Source, p.cfg.ListingWorkers, logger.Named(StageListing))
		reporter, done := p.reporter(StageListing, len(batch.Partitions))
		defer done()
		entities, err := listing.Run(ctx, batch.Partitions, reporter)
		if err != nil {
			return fmt.Errorf("listing stage: %w", err)
		}
		batch.Entities = entities
		return nil
	})
	if err != nil {
		return Batch{}, err
	}
	summary.Entities = len(batch.Entities)
	logger.Info("starting detail stage", zap.Int("entities", len(batch.Entities)))

	err = p.stage(ctx, StageDetail, func(ctx context.Context) error {
		detail := NewDetailHarvester(p.deps.Source, p.cfg.Policy, p.cfg.DetailWorkers, logger.Named(StageDetail))
		reporter, done := p.reporter(StageDetail, len(batch.Entities))
		defer done()
		var err error
		outcome, err = detail.Run(ctx, batch.Entities, reporter)
		if err != nil {
			return fmt.Errorf("detail stage: %w", err)
		}
		return nil
	})
	if err != nil {
		return Batch{}, err
	}
	summary.FailedEntities = outcome.Failed

	persons, categories, duplicates := Merge(outcome.Results)
	batch.Persons = persons
	batch.Categories = categories
	summary.Persons = len(persons)
	summary.Categories = len(categories)
	summary.DuplicateCategories = duplicates
	metrics.ObserveRecords("partition", len(batch.Partitions))
	metrics.ObserveRecords("entity", len(batch.Entities))
	metrics.ObserveRecords("person", len(persons))
	metrics.ObserveRecords("category", len(categories))

	return batch, nil
}

// reporter builds the stage reporter and a func that terminates its output.
func (p *Pipeline) reporter(stage string, total int) (Reporter, func()) {
	if p.deps.Progress == nil {
		return nil, func() {}
	}
	r := p.deps.Progress(stage, total)
	if f, ok := r.(interface{ Finish() }); ok {
		return r, f.Finish
	}
	return r, func() {}
}

func (p *Pipeline) archive(ctx context.Context, logger *zap.Logger, batch Batch, summary *Summary) {
	if p.deps.Archive == nil {
		return
	}
	payload, err := json.Marshal(struct {
		Summary Summary `json:"summary"`
		Batch   Batch   `json:"batch"`
	}{Summary: *summary, Batch: batch})
	if err != nil {
		logger.Warn("marshal archive failed", zap.Error(err))
		return
	}
	objectPath := path.Join(strings.Trim(p.cfg.ArchivePrefix, "/"), summary.RunID, "batch.json")
	uri, err := p.deps.Archive.PutObject(ctx, objectPath, "application/json", bytes.NewReader(payload))
	if err != nil {
		logger.Warn("archive batch failed", zap.Error(err))
		return
	}
	summary.ArchiveURI = uri
	if p.deps.Hasher != nil {
		digest, err := p.deps.Hasher.Hash(payload)
		if err != nil {
			logger.Warn("hash archived batch failed", zap.Error(err))
		}
		summary.ArchiveSHA256 = digest
	}
	logger.Info("batch archived", zap.String("uri", uri), zap.String("sha256", summary.ArchiveSHA256))
}

func (p *Pipeline) publish(ctx context.Context, logger *zap.Logger, summary Summary) {
	if p.deps.Publisher == nil {
		return
	}
	id, err := p.deps.Publisher.Publish(ctx, summary)
	if err != nil {
		logger.Warn("publish summary failed", zap.Error(err))
		return
	}
	logger.Info("summary published", zap.String("message_id", id))
}
