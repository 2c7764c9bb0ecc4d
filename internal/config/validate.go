package config

import (
	"fmt"

	"github.com/feedvault/feedvault/internal/errors"
	"github.com/feedvault/feedvault/internal/storage/engine"
	"github.com/feedvault/feedvault/internal/storage/types"
	"github.com/feedvault/feedvault/internal/validation"
)

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	// Scope
	if err := c.Scope.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("scope: %w", err))
	}

	// Intervals
	if len(c.Intervals) == 0 {
		errs = append(errs, errors.New("intervals must name at least one interval"))
	}
	seen := make(map[string]bool, len(c.Intervals))
	for _, s := range c.Intervals {
		if _, err := types.ParseInterval(s); err != nil {
			errs = append(errs, fmt.Errorf("intervals: %w", err))
			continue
		}
		if seen[s] {
			errs = append(errs, fmt.Errorf("intervals: %q listed twice", s))
		}
		seen[s] = true
	}

	// Scheduler
	if err := c.Scheduler.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("scheduler: %w", err))
	}

	// Storage
	if err := c.Storage.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("storage: %w", err))
	}

	// Migration
	if err := c.Migration.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("migration: %w", err))
	}

	// Query
	if err := c.Query.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("query: %w", err))
	}

	// Logging
	if err := c.Logging.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("logging: %w", err))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", errors.ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}

// Validate checks the scope configuration.
func (c *ScopeConfig) Validate() error {
	var errs []error

	if err := validation.ValidateMarket(c.Market); err != nil {
		errs = append(errs, err)
	}

	if err := validation.ValidateSource(c.Source); err != nil {
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// Validate checks the scheduler configuration.
func (c *SchedulerConfig) Validate() error {
	var errs []error

	if c.Cooldown.Duration() <= 0 {
		errs = append(errs, errors.New("cooldown must be positive"))
	}

	if c.Freshness.Duration() <= 0 {
		errs = append(errs, errors.New("freshness must be positive"))
	}

	if c.Limiter.MaxRequests < 0 {
		errs = append(errs, errors.New("limiter.max_requests must be non-negative"))
	}

	if c.Limiter.MaxRequests > 0 && c.Limiter.Window.Duration() <= 0 {
		errs = append(errs, errors.New("limiter.window must be positive when max_requests is set"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// Validate checks the storage configuration.
func (c *StorageConfig) Validate() error {
	var errs []error

	if _, err := engine.ParseTieBreak(c.TieBreak); err != nil {
		errs = append(errs, err)
	}

	validAlgorithms := map[string]bool{
		"zstd":   true,
		"snappy": true,
		"lz4":    true,
		"gzip":   true,
		"none":   true,
		"":       true, // Empty defaults to zstd
	}
	if !validAlgorithms[c.Compression] {
		errs = append(errs, fmt.Errorf("compression must be one of: zstd, snappy, lz4, gzip, none"))
	}

	if c.Compression == "zstd" && (c.CompressionLevel < 0 || c.CompressionLevel > 22) {
		errs = append(errs, errors.New("compression_level for zstd must be between 0 and 22"))
	}

	if c.RowGroupSize < 0 {
		errs = append(errs, errors.New("row_group_size must be non-negative"))
	}

	if c.StagingMaxAge.Duration() < 0 {
		errs = append(errs, errors.New("staging_max_age must be non-negative"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// Validate checks the migration configuration.
func (c *MigrationConfig) Validate() error {
	var errs []error

	if c.SpaceFactor <= 0 {
		errs = append(errs, errors.New("space_factor must be positive"))
	}

	if c.SpaceMargin.Bytes() < 0 {
		errs = append(errs, errors.New("space_margin must be non-negative"))
	}

	if c.VerifyWorkers <= 0 {
		errs = append(errs, errors.New("verify_workers must be positive"))
	}

	if c.MemoryLimit == "" {
		errs = append(errs, errors.New("memory_limit is required"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// Validate checks the query configuration.
func (c *QueryConfig) Validate() error {
	var errs []error

	if c.Timeout.Duration() <= 0 {
		errs = append(errs, errors.New("timeout must be positive"))
	}

	if c.MemoryLimit == "" {
		errs = append(errs, errors.New("memory_limit is required"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// Validate checks the logging configuration.
func (c *LoggingConfig) Validate() error {
	switch c.Level {
	case "debug", "info", "warn", "error":
		return nil
	default:
		return fmt.Errorf("level must be one of: debug, info, warn, error (got %q)", c.Level)
	}
}
