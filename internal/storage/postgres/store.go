// Package postgres persists harvest batches to Postgres through pgx.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/JakeFAU/breeder-harvester/internal/harvest"
)

var validSchemaName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string        `mapstructure:"dsn"`
	Schema          string        `mapstructure:"schema"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

type pool interface {
	Begin(context.Context) (pgx.Tx, error)
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Close()
}

// Store implements harvest.Store against a pgx pool.
type Store struct {
	pool   pool
	schema string
	logger *zap.Logger
}

// Open parses the DSN and connects a pool.
func Open(ctx context.Context, cfg Config, logger *zap.Logger) (*Store, error) {
	if cfg.DSN == "" {
		return nil, errors.New("database.postgres.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	store, err := NewWithPool(p, cfg.Schema, logger)
	if err != nil {
		p.Close()
		return nil, err
	}
	return store, nil
}

// NewWithPool constructs a store from an existing pool.
func NewWithPool(p pool, schema string, logger *zap.Logger) (*Store, error) {
	if p == nil {
		return nil, errors.New("pool is required")
	}
	if schema == "" {
		schema = "public"
	}
	if !validSchemaName.MatchString(schema) {
		return nil, fmt.Errorf("invalid schema name %q", schema)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{pool: p, schema: schema, logger: logger}, nil
}

func (s *Store) ddl() []string {
	return []string{
		fmt.Sprintf(`CREATE SCHEMA IF NOT EXISTS %s`, s.schema),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.areas (
	region TEXT PRIMARY KEY,
	title  TEXT NOT NULL
)`, s.schema),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.breeders (
	id    TEXT PRIMARY KEY,
	title TEXT NOT NULL,
	owner TEXT NOT NULL
)`, s.schema),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.members (
	id          TEXT PRIMARY KEY,
	description TEXT NOT NULL,
	signatory   BOOLEAN NOT NULL DEFAULT FALSE,
	address     TEXT,
	town        TEXT
)`, s.schema),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.breeds (
	code              TEXT PRIMARY KEY,
	remote_id         TEXT,
	last_litter       TEXT,
	description       TEXT,
	group_code        TEXT,
	group_description TEXT
)`, s.schema),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.breeders_breeds (
	breeder_id TEXT NOT NULL,
	breed_code TEXT NOT NULL,
	PRIMARY KEY (breeder_id, breed_code)
)`, s.schema),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.breeders_members (
	breeder_id TEXT NOT NULL,
	member_id  TEXT NOT NULL,
	PRIMARY KEY (breeder_id, member_id)
)`, s.schema),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.areas_breeders (
	area_region TEXT NOT NULL,
	breeder_id  TEXT NOT NULL,
	PRIMARY KEY (area_region, breeder_id)
)`, s.schema),
	}
}

// EnsureSchema creates the schema and tables when missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	for _, stmt := range s.ddl() {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// Begin opens the batch transaction.
func (s *Store) Begin(ctx context.Context) (harvest.Sink, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	return &sink{tx: tx, schema: s.schema}, nil
}

// Close releases the pool.
func (s *Store) Close() error {
	if s == nil || s.pool == nil {
		return nil
	}
	s.pool.Close()
	return nil
}

type sink struct {
	tx     pgx.Tx
	schema string
}

func (k *sink) insert(ctx context.Context, table string, cols string, conflict string, args ...any) error {
	placeholders := ""
	for i := range args {
		if i > 0 {
			placeholders += ","
		}
		placeholders += fmt.Sprintf("$%d", i+1)
	}
	query := fmt.Sprintf(`INSERT INTO %s.%s (%s) VALUES (%s) ON CONFLICT (%s) DO NOTHING`,
		k.schema, table, cols, placeholders, conflict)
	if _, err := k.tx.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert %s: %w", table, err)
	}
	return nil
}

func (k *sink) UpsertPartition(ctx context.Context, p harvest.Partition) error {
	return k.insert(ctx, "areas", "region, title", "region", p.Key, p.Title)
}

func (k *sink) UpsertEntity(ctx context.Context, e harvest.Entity) error {
	return k.insert(ctx, "breeders", "id, title, owner", "id", e.ID, e.Title, e.Owner)
}

func (k *sink) UpsertCategory(ctx context.Context, c harvest.Category) error {
	return k.insert(ctx, "breeds", "code, remote_id, last_litter, description, group_code, group_description", "code",
		c.Code, c.RemoteID, c.LastUpdate, c.Description, c.GroupCode, c.GroupDescription)
}

func (k *sink) UpsertPerson(ctx context.Context, p harvest.Person) error {
	return k.insert(ctx, "members", "id, description, signatory, address, town", "id",
		p.ID, p.Description, p.Signatory, p.Address, p.Town)
}

func (k *sink) LinkEntityCategory(ctx context.Context, entityID, code string) error {
	return k.insert(ctx, "breeders_breeds", "breeder_id, breed_code", "breeder_id, breed_code", entityID, code)
}

func (k *sink) LinkEntityPartition(ctx context.Context, entityID, key string) error {
	return k.insert(ctx, "areas_breeders", "area_region, breeder_id", "area_region, breeder_id", key, entityID)
}

func (k *sink) LinkEntityPerson(ctx context.Context, entityID, personID string) error {
	return k.insert(ctx, "breeders_members", "breeder_id, member_id", "breeder_id, member_id", entityID, personID)
}

func (k *sink) Commit(ctx context.Context) error {
	if err := k.tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (k *sink) Rollback(ctx context.Context) error {
	if err := k.tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return fmt.Errorf("rollback: %w", err)
	}
	return nil
}
