package harvest

import (
	"context"
	"io"
	"time"
)

// Source fetches the remote hierarchy. Implementations must be safe for
// concurrent use by the pooled stages.
type Source interface {
	ListPartitions(ctx context.Context) ([]Partition, error)
	ListEntities(ctx context.Context, partition Partition) ([]Entity, error)
	FetchEntityDetail(ctx context.Context, entity Entity) (PartialResult, error)
}

// Store opens write transactions against a persistence backend.
type Store interface {
	Begin(ctx context.Context) (Sink, error)
	EnsureSchema(ctx context.Context) error
	Close() error
}

// Sink receives idempotent insert-if-absent writes for one batch. Nothing is
// visible to readers until Commit succeeds.
type Sink interface {
	UpsertPartition(ctx context.Context, p Partition) error
	UpsertEntity(ctx context.Context, e Entity) error
	UpsertCategory(ctx context.Context, c Category) error
	UpsertPerson(ctx context.Context, p Person) error
	LinkEntityCategory(ctx context.Context, entityID, categoryCode string) error
	LinkEntityPartition(ctx context.Context, entityID, partitionKey string) error
	LinkEntityPerson(ctx context.Context, entityID, personID string) error
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// BlobStore writes run artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error)
}

// Publisher announces completed runs.
type Publisher interface {
	Publish(ctx context.Context, payload any) (string, error)
}

// Reporter tracks completion of a pooled stage.
type Reporter interface {
	Increment()
	Render()
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run IDs.
type IDGenerator interface {
	NewID() (string, error)
}

// Hasher digests archived payloads.
type Hasher interface {
	Hash(data []byte) (string, error)
}
