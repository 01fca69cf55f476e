// Package config loads and validates harvester configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/breeder-harvester/internal/harvest"
	"github.com/JakeFAU/breeder-harvester/internal/logging"
	pubsubpublisher "github.com/JakeFAU/breeder-harvester/internal/publisher/pubsub"
	collysource "github.com/JakeFAU/breeder-harvester/internal/source/colly"
	"github.com/JakeFAU/breeder-harvester/internal/storage/gcs"
	"github.com/JakeFAU/breeder-harvester/internal/storage/local"
	"github.com/JakeFAU/breeder-harvester/internal/storage/postgres"
	"github.com/JakeFAU/breeder-harvester/internal/storage/sqlite"
	"github.com/JakeFAU/breeder-harvester/internal/telemetry"
)

// EnvPrefix namespaces environment overrides, e.g. HARVEST_DATABASE_PROVIDER.
const EnvPrefix = "HARVEST"

// Provider names accepted by the database, archive and notify sections.
const (
	ProviderNone     = "none"
	ProviderMemory   = "memory"
	ProviderSQLite   = "sqlite"
	ProviderPostgres = "postgres"
	ProviderLocal    = "local"
	ProviderGCS      = "gcs"
	ProviderPubSub   = "pubsub"
)

// Config captures every knob of a harvest run.
type Config struct {
	Source   collysource.Config `mapstructure:"source"`
	Harvest  HarvestConfig      `mapstructure:"harvest"`
	Database DatabaseConfig     `mapstructure:"database"`
	Archive  ArchiveConfig      `mapstructure:"archive"`
	Notify   NotifyConfig       `mapstructure:"notify"`
	Metrics  MetricsConfig      `mapstructure:"metrics"`
	Tracing  telemetry.Config   `mapstructure:"tracing"`
	Logging  logging.Config     `mapstructure:"logging"`
}

// HarvestConfig sizes the worker pools and tunes the detail retry loop.
type HarvestConfig struct {
	ListingWorkers      int           `mapstructure:"listing_workers"`
	DetailWorkers       int           `mapstructure:"detail_workers"`
	JitterMin           time.Duration `mapstructure:"jitter_min"`
	JitterMax           time.Duration `mapstructure:"jitter_max"`
	BackoffMin          time.Duration `mapstructure:"backoff_min"`
	BackoffMax          time.Duration `mapstructure:"backoff_max"`
	Cooldown            time.Duration `mapstructure:"cooldown"`
	CongestionThreshold int64         `mapstructure:"congestion_threshold"`
	MaxAttempts         int           `mapstructure:"max_attempts"`
}

// DatabaseConfig selects the persistence backend.
type DatabaseConfig struct {
	Provider string          `mapstructure:"provider"`
	SQLite   sqlite.Config   `mapstructure:"sqlite"`
	Postgres postgres.Config `mapstructure:"postgres"`
}

// ArchiveConfig selects where the batch JSON of each run is written.
type ArchiveConfig struct {
	Provider string       `mapstructure:"provider"`
	Prefix   string       `mapstructure:"prefix"`
	Local    local.Config `mapstructure:"local"`
	GCS      gcs.Config   `mapstructure:"gcs"`
}

// NotifyConfig selects how run summaries are announced.
type NotifyConfig struct {
	Provider  string `mapstructure:"provider"`
	ProjectID string `mapstructure:"project_id"`
	TopicID   string `mapstructure:"topic_id"`
}

// PubSub returns the topic settings for the pubsub provider.
func (n NotifyConfig) PubSub() pubsubpublisher.Config {
	return pubsubpublisher.Config{ProjectID: n.ProjectID, TopicID: n.TopicID}
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	ListenAddr string `mapstructure:"listen_addr"`
}

// Load builds a Config from defaults, an optional file and the environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.normalize()

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	src := collysource.DefaultConfig()
	v.SetDefault("source.base_url", src.BaseURL)
	v.SetDefault("source.partitions_path", src.PartitionsPath)
	v.SetDefault("source.listing_path", src.ListingPath)
	v.SetDefault("source.detail_path", src.DetailPath)
	v.SetDefault("source.user_agent", "breeder-harvester/0.1")
	v.SetDefault("source.request_timeout", src.RequestTimeout)
	v.SetDefault("source.rate_limit.rps", src.RateLimit.RPS)
	v.SetDefault("source.rate_limit.burst", src.RateLimit.Burst)

	policy := harvest.DefaultRetryPolicy()
	v.SetDefault("harvest.listing_workers", 0)
	v.SetDefault("harvest.detail_workers", 0)
	v.SetDefault("harvest.jitter_min", policy.JitterMin)
	v.SetDefault("harvest.jitter_max", policy.JitterMax)
	v.SetDefault("harvest.backoff_min", policy.BackoffMin)
	v.SetDefault("harvest.backoff_max", policy.BackoffMax)
	v.SetDefault("harvest.cooldown", policy.Cooldown)
	v.SetDefault("harvest.congestion_threshold", policy.CongestionThreshold)
	v.SetDefault("harvest.max_attempts", policy.MaxAttempts)

	v.SetDefault("database.provider", ProviderSQLite)
	v.SetDefault("database.sqlite.path", "storage.db")
	v.SetDefault("database.postgres.dsn", "")
	v.SetDefault("database.postgres.schema", "public")
	v.SetDefault("database.postgres.max_conns", 4)

	v.SetDefault("archive.provider", ProviderNone)
	v.SetDefault("archive.prefix", "runs")
	v.SetDefault("archive.local.base_dir", "archive")
	v.SetDefault("archive.gcs.bucket", "")

	v.SetDefault("notify.provider", ProviderNone)
	v.SetDefault("notify.project_id", "")
	v.SetDefault("notify.topic_id", "")

	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.listen_addr", ":9090")

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.service_name", "breeder-harvester")
	v.SetDefault("tracing.sample_ratio", 1.0)

	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "")
}

func (c *Config) normalize() {
	c.Database.Provider = strings.ToLower(strings.TrimSpace(c.Database.Provider))
	c.Archive.Provider = strings.ToLower(strings.TrimSpace(c.Archive.Provider))
	c.Notify.Provider = strings.ToLower(strings.TrimSpace(c.Notify.Provider))
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Source.BaseURL == "" {
		return fmt.Errorf("source.base_url is required")
	}
	if c.Source.RateLimit.RPS < 0 {
		return fmt.Errorf("source.rate_limit.rps must be >= 0")
	}
	if c.Harvest.ListingWorkers < 0 || c.Harvest.DetailWorkers < 0 {
		return fmt.Errorf("harvest worker counts must be >= 0")
	}
	if err := c.RetryPolicy().Validate(); err != nil {
		return fmt.Errorf("harvest: %w", err)
	}

	switch c.Database.Provider {
	case ProviderMemory:
	case ProviderSQLite:
		if c.Database.SQLite.Path == "" {
			return fmt.Errorf("database.sqlite.path is required")
		}
	case ProviderPostgres:
		if c.Database.Postgres.DSN == "" {
			return fmt.Errorf("database.postgres.dsn is required")
		}
	default:
		return fmt.Errorf("unknown database.provider %q", c.Database.Provider)
	}

	switch c.Archive.Provider {
	case ProviderNone, ProviderMemory:
	case ProviderLocal:
		if c.Archive.Local.BaseDir == "" {
			return fmt.Errorf("archive.local.base_dir is required")
		}
	case ProviderGCS:
		if c.Archive.GCS.Bucket == "" {
			return fmt.Errorf("archive.gcs.bucket is required")
		}
	default:
		return fmt.Errorf("unknown archive.provider %q", c.Archive.Provider)
	}

	switch c.Notify.Provider {
	case ProviderNone, ProviderMemory:
	case ProviderPubSub:
		if c.Notify.ProjectID == "" || c.Notify.TopicID == "" {
			return fmt.Errorf("notify.project_id and notify.topic_id are required for pubsub")
		}
	default:
		return fmt.Errorf("unknown notify.provider %q", c.Notify.Provider)
	}

	if c.Metrics.Enabled && c.Metrics.ListenAddr == "" {
		return fmt.Errorf("metrics.listen_addr is required when metrics are enabled")
	}
	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		return fmt.Errorf("tracing.sample_ratio must be within [0, 1]")
	}
	return nil
}

// RetryPolicy converts the harvest section into the detail-stage policy.
func (c Config) RetryPolicy() harvest.RetryPolicy {
	return harvest.RetryPolicy{
		JitterMin:           c.Harvest.JitterMin,
		JitterMax:           c.Harvest.JitterMax,
		BackoffMin:          c.Harvest.BackoffMin,
		BackoffMax:          c.Harvest.BackoffMax,
		Cooldown:            c.Harvest.Cooldown,
		CongestionThreshold: c.Harvest.CongestionThreshold,
		MaxAttempts:         c.Harvest.MaxAttempts,
	}
}

// Pipeline returns the harvest.Config for a run.
func (c Config) Pipeline() harvest.Config {
	return harvest.Config{
		ListingWorkers: c.Harvest.ListingWorkers,
		DetailWorkers:  c.Harvest.DetailWorkers,
		Policy:         c.RetryPolicy(),
		ArchivePrefix:  c.Archive.Prefix,
	}
}
