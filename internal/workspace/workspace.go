// Package workspace opens a feedvault workspace directory and wires the
// components operating inside it.
//
// A workspace is a directory holding everything one ingestion scope needs:
//
//	config.yaml          configuration (optional; defaults apply)
//	registry.json        symbol lifecycle registry
//	flags.yaml           backend activation flags
//	migration_plan.json  migration plan, once initialized
//	data/                Parquet data tree
//	spool/               fetch drop files, when the spool client is used
//	.lock/               run lock while a mutating command is active
//
// Commands open a fresh workspace, use it, and close it; nothing in this
// package is a singleton. Mutating commands go through OpenLocked so that a
// single writer holds the workspace at a time.
package workspace

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/feedvault/feedvault/internal/config"
	"github.com/feedvault/feedvault/internal/errors"
	"github.com/feedvault/feedvault/internal/fetch"
	"github.com/feedvault/feedvault/internal/lock"
	"github.com/feedvault/feedvault/internal/logging"
	"github.com/feedvault/feedvault/internal/registry"
	"github.com/feedvault/feedvault/internal/scheduler"
	"github.com/feedvault/feedvault/internal/storage/atomicfile"
	"github.com/feedvault/feedvault/internal/storage/engine"
	"github.com/feedvault/feedvault/internal/storage/flags"
	"github.com/feedvault/feedvault/internal/storage/layout"
	"github.com/feedvault/feedvault/internal/storage/migration"
	"github.com/feedvault/feedvault/internal/storage/query"
)

var log = logging.Component("workspace")

// Canonical file and directory names inside a workspace.
const (
	ConfigFileName   = "config.yaml"
	RegistryFileName = "registry.json"
	FlagsFileName    = "flags.yaml"
	PlanFileName     = "migration_plan.json"
	DataDirName      = "data"
	SpoolDirName     = "spool"
)

// Workspace is an opened workspace directory with its components wired.
type Workspace struct {
	dir      string
	cfg      *config.Config
	resolver *layout.Resolver
	registry *registry.Registry
	flags    *flags.Store
	selector *engine.Selector

	lock  *lock.Handle   // nil unless opened via OpenLocked
	stats *query.Service // lazily opened, closed with the workspace
}

// Open opens a workspace without taking the run lock. Use it for read-only
// commands; anything that writes must go through OpenLocked.
func Open(dir string) (*Workspace, error) {
	return open(dir)
}

// OpenLocked takes the workspace run lock and then opens the workspace.
// While the lock is held, staging files orphaned by a previous crash are
// swept out of the data tree. Close releases the lock.
func OpenLocked(dir string) (*Workspace, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create workspace dir: %w", err)
	}

	handle, err := lock.Acquire(dir)
	if err != nil {
		return nil, err
	}

	w, err := open(dir)
	if err != nil {
		handle.Release()
		return nil, err
	}
	w.lock = handle

	result, err := atomicfile.CleanupStale(w.DataDir(), w.cfg.StagingMaxAge())
	if err != nil {
		log.Warn("staging cleanup failed", "error", err)
	} else if result.FilesDeleted > 0 {
		log.Info("removed stale staging files",
			"files", result.FilesDeleted,
			"bytes", result.BytesFreed,
			"skipped", result.FilesSkipped)
	}
	for _, cerr := range result.Errors {
		log.Warn("staging cleanup", "error", cerr)
	}

	return w, nil
}

// open wires the components without touching the lock.
func open(dir string) (*Workspace, error) {
	cfg, err := loadConfig(dir)
	if err != nil {
		return nil, err
	}

	dataDir := filepath.Join(dir, DataDirName)
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	resolver := layout.NewResolver(dataDir)

	store, err := flags.Open(filepath.Join(dir, FlagsFileName))
	if err != nil {
		return nil, fmt.Errorf("open flags: %w", err)
	}

	reg, err := registry.Load(filepath.Join(dir, RegistryFileName), cfg.RegistryOptions())
	if err != nil {
		return nil, fmt.Errorf("load registry: %w", err)
	}

	engineOpts, err := cfg.EngineOptions()
	if err != nil {
		return nil, fmt.Errorf("engine options: %w", err)
	}

	return &Workspace{
		dir:      dir,
		cfg:      cfg,
		resolver: resolver,
		registry: reg,
		flags:    store,
		selector: engine.NewSelector(resolver, store, engineOpts),
	}, nil
}

// loadConfig reads config.yaml; a missing file means defaults.
func loadConfig(dir string) (*config.Config, error) {
	cfg, err := config.Load(filepath.Join(dir, ConfigFileName))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return config.DefaultConfig(), nil
		}
		return nil, err
	}
	return cfg, nil
}

// Close releases the run lock if held and shuts down lazily opened
// components. It is safe to call on every exit path.
func (w *Workspace) Close() error {
	if w == nil {
		return nil
	}

	var errs []error

	if w.stats != nil {
		if err := w.stats.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close stats: %w", err))
		}
		w.stats = nil
	}

	if err := w.lock.Release(); err != nil {
		errs = append(errs, fmt.Errorf("release lock: %w", err))
	}

	if len(errs) > 0 {
		return fmt.Errorf("close workspace: %v", errs)
	}
	return nil
}

// =============================================================================
// Accessors
// =============================================================================

// Dir returns the workspace directory.
func (w *Workspace) Dir() string { return w.dir }

// Config returns the loaded configuration.
func (w *Workspace) Config() *config.Config { return w.cfg }

// Resolver returns the data tree path resolver.
func (w *Workspace) Resolver() *layout.Resolver { return w.resolver }

// Registry returns the symbol registry.
func (w *Workspace) Registry() *registry.Registry { return w.registry }

// Flags returns the backend flag store.
func (w *Workspace) Flags() *flags.Store { return w.flags }

// Selector returns the storage backend selector.
func (w *Workspace) Selector() *engine.Selector { return w.selector }

// DataDir returns the root of the Parquet data tree.
func (w *Workspace) DataDir() string { return filepath.Join(w.dir, DataDirName) }

// SpoolDir returns the default fetch spool directory.
func (w *Workspace) SpoolDir() string { return filepath.Join(w.dir, SpoolDirName) }

// PlanPath returns the migration plan path.
func (w *Workspace) PlanPath() string { return filepath.Join(w.dir, PlanFileName) }

// Locked reports whether this workspace holds the run lock.
func (w *Workspace) Locked() bool { return w.lock != nil }

// RunID returns the lock acquisition's run ID, or "" when unlocked.
func (w *Workspace) RunID() string {
	if w.lock == nil {
		return ""
	}
	return w.lock.RunID()
}

// =============================================================================
// Component Factories
// =============================================================================

// Scheduler builds an update scheduler over this workspace for the given
// fetch client, with the configured rate limit and scope.
func (w *Workspace) Scheduler(client fetch.Client) *scheduler.UpdateScheduler {
	limiter := scheduler.NewRateLimiter(
		w.cfg.Scheduler.Limiter.MaxRequests,
		w.cfg.Scheduler.Limiter.Window.Duration(),
	)
	return scheduler.NewUpdateScheduler(
		w.registry,
		client,
		w.selector,
		limiter,
		w.cfg.Scope.Market,
		w.cfg.Scope.Source,
	)
}

// Maintainer builds a not-found maintainer over this workspace.
func (w *Workspace) Maintainer(client fetch.Client) *scheduler.NotFoundMaintainer {
	return scheduler.NewNotFoundMaintainer(w.Scheduler(client))
}

// Migrator builds a migration coordinator over this workspace.
func (w *Workspace) Migrator() *migration.Coordinator {
	return migration.New(w.resolver, w.flags, w.selector, w.PlanPath(), w.cfg.MigrationOptions())
}

// Stats returns a stats collector backed by a workspace-owned DuckDB
// instance. The instance is opened on first use and closed with the
// workspace.
func (w *Workspace) Stats() (*query.Collector, error) {
	if w.stats == nil {
		svc, err := query.New(w.cfg.Query.MemoryLimit, w.cfg.Query.Timeout.Duration())
		if err != nil {
			return nil, err
		}
		w.stats = svc
	}
	return query.NewCollector(w.resolver, w.selector, w.stats), nil
}
