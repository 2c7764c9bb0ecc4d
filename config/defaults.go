// Package config provides configuration defaults and utilities
// for the feedvault application.
//
// This package defines all configurable constants with documented defaults.
// Users can override these values via config.yaml or environment variables.
package config

import "time"

// =============================================================================
// Scheduling Defaults
// =============================================================================

const (
	// DefaultCooldown is how long a not-found symbol/interval pair is left
	// alone before the scheduler retries it.
	// Override via config: scheduler.cooldown
	DefaultCooldown = 30 * 24 * time.Hour

	// DefaultFreshness bounds the reactivation sweep: a globally not-found
	// symbol is only reactivated when its last stored bar is at most this old.
	// Override via config: scheduler.freshness
	DefaultFreshness = 90 * 24 * time.Hour
)

// =============================================================================
// Rate Limiting Defaults
// =============================================================================

const (
	// DefaultLimiterRequests is the number of upstream fetches allowed per
	// window before pacing kicks in. Zero disables the limiter.
	// Override via config: scheduler.limiter.max_requests
	DefaultLimiterRequests = 5

	// DefaultLimiterWindow is the pacing window.
	// Override via config: scheduler.limiter.window
	DefaultLimiterWindow = time.Second
)

// =============================================================================
// Storage Defaults
// =============================================================================

const (
	// DefaultTieBreak resolves same-timestamp collisions during merge-writes.
	// "last_wins" keeps the most recently fetched row.
	// Override via config: storage.tie_break
	DefaultTieBreak = "last_wins"

	// DefaultCompression is the Parquet compression algorithm.
	// Override via config: storage.compression
	DefaultCompression = "zstd"

	// DefaultCompressionLevel is the zstd compression level (1-22).
	// Override via config: storage.compression_level
	DefaultCompressionLevel = 3

	// DefaultRowGroupSize is the target number of rows per Parquet row group.
	// Override via config: storage.row_group_size
	DefaultRowGroupSize = 100000

	// DefaultStagingMaxAge is how old an orphaned staging file must be before
	// the workspace cleanup sweep removes it. Young staging files may belong
	// to a write still in flight on a shared filesystem.
	// Override via config: storage.staging_max_age
	DefaultStagingMaxAge = time.Hour
)

// =============================================================================
// Migration Defaults
// =============================================================================

const (
	// DefaultSpaceFactor scales the legacy byte size when estimating how much
	// free space a migration copy needs. 1.5 leaves headroom for the less
	// favorable encoding of small partition files.
	// Override via config: migration.space_factor
	DefaultSpaceFactor = 1.5

	// DefaultSpaceMargin is added on top of the scaled space estimate.
	// Override via config: migration.space_margin
	DefaultSpaceMargin = 64 * 1024 * 1024

	// DefaultVerifyWorkers bounds concurrent verification queries. Copies
	// stay sequential; only the read-only digests run in parallel.
	// Override via config: migration.verify_workers
	DefaultVerifyWorkers = 4

	// DefaultVerifyMemoryLimit caps DuckDB memory during verification.
	// Override via config: migration.memory_limit
	DefaultVerifyMemoryLimit = "1GB"
)

// =============================================================================
// Query Defaults
// =============================================================================

const (
	// DefaultQueryMemoryLimit caps DuckDB memory for stats queries.
	// Override via config: query.memory_limit
	DefaultQueryMemoryLimit = "2GB"

	// DefaultQueryTimeout bounds a single stats query.
	// Override via config: query.timeout
	DefaultQueryTimeout = 30 * time.Second
)

// =============================================================================
// Logging Defaults
// =============================================================================

const (
	// DefaultLogLevel is the minimum level emitted.
	// One of: debug, info, warn, error.
	// Override via config: logging.level
	DefaultLogLevel = "info"
)
