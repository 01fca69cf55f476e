// Package sqlite persists harvest batches to a SQLite file using the
// pure-Go modernc driver.
package sqlite

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/JakeFAU/breeder-harvester/internal/harvest"
)

const driverName = "sqlite"

// Config captures the SQLite database location.
type Config struct {
	Path string `mapstructure:"path"`
}

// schema mirrors the tables the harvest has always written. Link tables carry
// composite keys so repeated runs stay idempotent.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS areas (
		title  TEXT NOT NULL,
		region TEXT PRIMARY KEY
	)`,
	`CREATE TABLE IF NOT EXISTS breeders (
		title TEXT NOT NULL,
		owner TEXT NOT NULL,
		id    TEXT PRIMARY KEY
	)`,
	`CREATE TABLE IF NOT EXISTS members (
		description TEXT NOT NULL,
		id          TEXT PRIMARY KEY,
		signatory   INTEGER NOT NULL DEFAULT 0,
		address     TEXT,
		town        TEXT
	)`,
	`CREATE TABLE IF NOT EXISTS breeds (
		code              TEXT PRIMARY KEY,
		id                TEXT,
		last_litter       TEXT,
		description       TEXT,
		group_code        TEXT,
		group_description TEXT
	)`,
	`CREATE TABLE IF NOT EXISTS breeders_breeds (
		breeder_id TEXT NOT NULL,
		breed_code TEXT NOT NULL,
		PRIMARY KEY (breeder_id, breed_code)
	)`,
	`CREATE TABLE IF NOT EXISTS breeders_members (
		breeder_id TEXT NOT NULL,
		member_id  TEXT NOT NULL,
		PRIMARY KEY (breeder_id, member_id)
	)`,
	`CREATE TABLE IF NOT EXISTS areas_breeders (
		area_region TEXT NOT NULL,
		breeder_id  TEXT NOT NULL,
		PRIMARY KEY (area_region, breeder_id)
	)`,
}

const (
	insertArea          = `INSERT OR IGNORE INTO areas (title, region) VALUES (?, ?)`
	insertBreeder       = `INSERT OR IGNORE INTO breeders (title, owner, id) VALUES (?, ?, ?)`
	insertMember        = `INSERT OR IGNORE INTO members (description, id, signatory, address, town) VALUES (?, ?, ?, ?, ?)`
	insertBreed         = `INSERT OR IGNORE INTO breeds (code, id, last_litter, description, group_code, group_description) VALUES (?, ?, ?, ?, ?, ?)`
	insertBreederBreed  = `INSERT OR IGNORE INTO breeders_breeds (breeder_id, breed_code) VALUES (?, ?)`
	insertBreederMember = `INSERT OR IGNORE INTO breeders_members (breeder_id, member_id) VALUES (?, ?)`
	insertAreaBreeder   = `INSERT OR IGNORE INTO areas_breeders (area_region, breeder_id) VALUES (?, ?)`
)

// Store implements harvest.Store on top of sqlx.
type Store struct {
	db     *sqlx.DB
	logger *zap.Logger
}

// Open connects to the database file and applies connection pragmas.
func Open(ctx context.Context, cfg Config, logger *zap.Logger) (*Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	db, err := sqlx.ConnectContext(ctx, driverName, cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", cfg.Path, err)
	}
	// A single writer connection avoids SQLITE_BUSY inside the batch transaction.
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{"PRAGMA journal_mode = WAL", "PRAGMA busy_timeout = 5000"} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply %q: %w", pragma, err)
		}
	}
	return New(db, logger), nil
}

// New wraps an existing connection.
func New(db *sqlx.DB, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{db: db, logger: logger}
}

// EnsureSchema creates any missing tables.
func (s *Store) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// Begin starts the batch transaction.
func (s *Store) Begin(ctx context.Context) (harvest.Sink, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	return &sink{tx: tx}, nil
}

// Count returns the number of rows in table. It is intended for
// verification and only accepts known table names.
func (s *Store) Count(ctx context.Context, table string) (int, error) {
	switch table {
	case "areas", "breeders", "members", "breeds", "breeders_breeds", "breeders_members", "areas_breeders":
	default:
		return 0, fmt.Errorf("unknown table %q", table)
	}
	var n int
	if err := s.db.GetContext(ctx, &n, "SELECT COUNT(*) FROM "+table); err != nil {
		return 0, fmt.Errorf("count %s: %w", table, err)
	}
	return n, nil
}

// Close closes the connection pool.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close sqlite: %w", err)
	}
	return nil
}

type sink struct {
	tx *sqlx.Tx
}

func (k *sink) exec(ctx context.Context, what, query string, args ...any) error {
	if _, err := k.tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("insert %s: %w", what, err)
	}
	return nil
}

func (k *sink) UpsertPartition(ctx context.Context, p harvest.Partition) error {
	return k.exec(ctx, "area", insertArea, p.Title, p.Key)
}

func (k *sink) UpsertEntity(ctx context.Context, e harvest.Entity) error {
	return k.exec(ctx, "breeder", insertBreeder, e.Title, e.Owner, e.ID)
}

func (k *sink) UpsertCategory(ctx context.Context, c harvest.Category) error {
	return k.exec(ctx, "breed", insertBreed, c.Code, c.RemoteID, c.LastUpdate, c.Description, c.GroupCode, c.GroupDescription)
}

func (k *sink) UpsertPerson(ctx context.Context, p harvest.Person) error {
	return k.exec(ctx, "member", insertMember, p.Description, p.ID, p.Signatory, p.Address, p.Town)
}

func (k *sink) LinkEntityCategory(ctx context.Context, entityID, code string) error {
	return k.exec(ctx, "breeder breed", insertBreederBreed, entityID, code)
}

func (k *sink) LinkEntityPartition(ctx context.Context, entityID, key string) error {
	return k.exec(ctx, "area breeder", insertAreaBreeder, key, entityID)
}

func (k *sink) LinkEntityPerson(ctx context.Context, entityID, personID string) error {
	return k.exec(ctx, "breeder member", insertBreederMember, entityID, personID)
}

func (k *sink) Commit(context.Context) error {
	if err := k.tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (k *sink) Rollback(context.Context) error {
	if err := k.tx.Rollback(); err != nil {
		return fmt.Errorf("rollback: %w", err)
	}
	return nil
}
