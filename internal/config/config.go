// Package config loads and validates the workspace configuration file.
//
// The file is YAML. Environment references like ${FEEDVAULT_SOURCE} are
// expanded before parsing, and every omitted field keeps its documented
// default, so an empty file is a valid configuration.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	defaults "github.com/feedvault/feedvault/config"
	"github.com/feedvault/feedvault/internal/registry"
	"github.com/feedvault/feedvault/internal/storage/engine"
	"github.com/feedvault/feedvault/internal/storage/migration"
	"github.com/feedvault/feedvault/internal/storage/parquet"
	"github.com/feedvault/feedvault/internal/storage/types"
)

// Config represents the complete workspace configuration.
type Config struct {
	// Scope is the market/source pair this workspace ingests into.
	Scope ScopeConfig `yaml:"scope"`

	// Intervals are the bar intervals update passes cover.
	Intervals []string `yaml:"intervals"`

	// Scheduler configures update passes and not-found handling.
	Scheduler SchedulerConfig `yaml:"scheduler"`

	// Storage configures the merge-write engine and file encoding.
	Storage StorageConfig `yaml:"storage"`

	// Migration configures legacy-to-partitioned migration runs.
	Migration MigrationConfig `yaml:"migration"`

	// Query configures the DuckDB stats service.
	Query QueryConfig `yaml:"query"`

	// Logging configures log output.
	Logging LoggingConfig `yaml:"logging"`
}

// ScopeConfig is the market/source pair this workspace ingests into.
type ScopeConfig struct {
	// Market is the partitioned-layout market segment, e.g. "us_equities".
	Market string `yaml:"market"`

	// Source is the upstream data source, e.g. "yahoo".
	Source string `yaml:"source"`
}

// SchedulerConfig configures update passes and not-found handling.
type SchedulerConfig struct {
	// Cooldown is how long a not-found symbol/interval pair is left alone
	// before the scheduler retries it.
	Cooldown Duration `yaml:"cooldown"`

	// Freshness bounds the reactivation sweep: a globally not-found symbol
	// is only reactivated when its last stored bar is at most this old.
	Freshness Duration `yaml:"freshness"`

	// Limiter paces upstream fetches.
	Limiter LimiterConfig `yaml:"limiter"`
}

// LimiterConfig paces upstream fetches.
type LimiterConfig struct {
	// MaxRequests is the number of fetches allowed per window before pacing
	// kicks in. Zero disables the limiter.
	MaxRequests int `yaml:"max_requests"`

	// Window is the pacing window.
	Window Duration `yaml:"window"`
}

// StorageConfig configures the merge-write engine and file encoding.
type StorageConfig struct {
	// TieBreak resolves same-timestamp collisions: last_wins or first_wins.
	TieBreak string `yaml:"tie_break"`

	// Compression is the Parquet compression algorithm: zstd, snappy, lz4,
	// gzip or none.
	Compression string `yaml:"compression"`

	// CompressionLevel applies to algorithms that support it (zstd: 1-22).
	CompressionLevel int `yaml:"compression_level"`

	// RowGroupSize is the target number of rows per Parquet row group.
	RowGroupSize int `yaml:"row_group_size"`

	// StagingMaxAge is how old an orphaned staging file must be before the
	// workspace cleanup sweep removes it.
	StagingMaxAge Duration `yaml:"staging_max_age"`
}

// MigrationConfig configures legacy-to-partitioned migration runs.
type MigrationConfig struct {
	// SpaceFactor scales the legacy byte size when estimating how much free
	// space a migration copy needs.
	SpaceFactor float64 `yaml:"space_factor"`

	// SpaceMargin is added on top of the scaled space estimate.
	SpaceMargin ByteSize `yaml:"space_margin"`

	// VerifyWorkers bounds concurrent verification queries.
	VerifyWorkers int `yaml:"verify_workers"`

	// MemoryLimit caps DuckDB memory during verification.
	MemoryLimit string `yaml:"memory_limit"`
}

// QueryConfig configures the DuckDB stats service.
type QueryConfig struct {
	// MemoryLimit caps DuckDB memory for stats queries.
	MemoryLimit string `yaml:"memory_limit"`

	// Timeout bounds a single stats query.
	Timeout Duration `yaml:"timeout"`
}

// LoggingConfig configures log output.
type LoggingConfig struct {
	// Level is the minimum level emitted: debug, info, warn or error.
	Level string `yaml:"level"`

	// JSON switches output from text to JSON lines.
	JSON bool `yaml:"json"`
}

// Load loads configuration from a YAML file. Environment variables referenced
// as ${VAR} or $VAR are expanded before parsing.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	config := DefaultConfig()
	if err := yaml.Unmarshal([]byte(expanded), config); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return config, nil
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Scope: ScopeConfig{
			Market: "us_equities",
			Source: "yahoo",
		},
		Intervals: []string{"1d"},
		Scheduler: SchedulerConfig{
			Cooldown:  Duration(defaults.DefaultCooldown),
			Freshness: Duration(defaults.DefaultFreshness),
			Limiter: LimiterConfig{
				MaxRequests: defaults.DefaultLimiterRequests,
				Window:      Duration(defaults.DefaultLimiterWindow),
			},
		},
		Storage: StorageConfig{
			TieBreak:         defaults.DefaultTieBreak,
			Compression:      defaults.DefaultCompression,
			CompressionLevel: defaults.DefaultCompressionLevel,
			RowGroupSize:     defaults.DefaultRowGroupSize,
			StagingMaxAge:    Duration(defaults.DefaultStagingMaxAge),
		},
		Migration: MigrationConfig{
			SpaceFactor:   defaults.DefaultSpaceFactor,
			SpaceMargin:   ByteSize(defaults.DefaultSpaceMargin),
			VerifyWorkers: defaults.DefaultVerifyWorkers,
			MemoryLimit:   defaults.DefaultVerifyMemoryLimit,
		},
		Query: QueryConfig{
			MemoryLimit: defaults.DefaultQueryMemoryLimit,
			Timeout:     Duration(defaults.DefaultQueryTimeout),
		},
		Logging: LoggingConfig{
			Level: defaults.DefaultLogLevel,
		},
	}
}

// ParsedIntervals returns the configured intervals as typed values.
func (c *Config) ParsedIntervals() ([]types.Interval, error) {
	intervals := make([]types.Interval, 0, len(c.Intervals))
	for _, s := range c.Intervals {
		iv, err := types.ParseInterval(s)
		if err != nil {
			return nil, err
		}
		intervals = append(intervals, iv)
	}
	return intervals, nil
}

// EngineOptions converts the storage section into engine options.
func (c *Config) EngineOptions() (engine.Options, error) {
	tb, err := engine.ParseTieBreak(c.Storage.TieBreak)
	if err != nil {
		return engine.Options{}, err
	}

	popts := parquet.DefaultOptions()
	popts.Compression = parquet.ParseCompressionType(c.Storage.Compression)
	if c.Storage.CompressionLevel > 0 {
		popts.CompressionLevel = c.Storage.CompressionLevel
	}
	if c.Storage.RowGroupSize > 0 {
		popts.RowGroupSize = c.Storage.RowGroupSize
	}

	return engine.Options{TieBreak: tb, Parquet: popts}, nil
}

// RegistryOptions converts the scheduler section into registry options.
func (c *Config) RegistryOptions() registry.Options {
	return registry.Options{
		Cooldown:  c.Scheduler.Cooldown.Duration(),
		Freshness: c.Scheduler.Freshness.Duration(),
	}
}

// MigrationOptions converts the migration section into coordinator options.
func (c *Config) MigrationOptions() migration.Options {
	return migration.Options{
		SpaceFactor:      c.Migration.SpaceFactor,
		SpaceMarginBytes: uint64(c.Migration.SpaceMargin.Bytes()),
		VerifyWorkers:    c.Migration.VerifyWorkers,
		MemoryLimit:      c.Migration.MemoryLimit,
	}
}

// LogLevel returns the logging section's level as a slog level.
func (c *Config) LogLevel() slog.Level {
	switch c.Logging.Level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// StagingMaxAge returns the staging sweep age, falling back to the default
// when the config leaves it unset.
func (c *Config) StagingMaxAge() time.Duration {
	if age := c.Storage.StagingMaxAge.Duration(); age > 0 {
		return age
	}
	return defaults.DefaultStagingMaxAge
}
