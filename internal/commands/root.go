// Package commands defines the feedvault CLI command tree.
//
// Every command operates on a workspace directory selected with --workspace.
// Mutating commands take the workspace run lock for their whole duration;
// read-only commands open the workspace without it.
package commands

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/feedvault/feedvault/internal/config"
	"github.com/feedvault/feedvault/internal/logging"
	"github.com/feedvault/feedvault/internal/workspace"
)

var (
	workspaceDir string
	verbose      bool
)

var rootCmd = &cobra.Command{
	Use:   "feedvault",
	Short: "Partitioned Parquet vault for market data bars",
	Long: `feedvault ingests OHLCV bars into a workspace directory and keeps them
in Parquet, either as one flat file per symbol or hive-partitioned by
market, source and month. It tracks symbol liveness in a registry, rate
limits fetches, and migrates legacy flat files into the partitioned
layout with checksum verification.

A workspace is self-contained: config.yaml, registry.json, flags.yaml,
the data/ tree and the migration plan all live under one directory.`,
	Version: "1.0.0",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		loadDotenv()
	},
	SilenceUsage: true,
}

// Execute runs the root command and returns the failure, if any, for the
// process exit code mapping in main.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&workspaceDir, "workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
}

var dotenvOnce sync.Once

// loadDotenv loads environment defaults before any config file is read, so
// ${VAR} expansions in config.yaml can resolve. An explicit ENV_FILE wins
// over the workspace .env; existing process env is never overridden. Set
// NO_DOTENV=1 to skip entirely.
func loadDotenv() {
	dotenvOnce.Do(func() {
		if os.Getenv("NO_DOTENV") == "1" {
			return
		}
		path := os.Getenv("ENV_FILE")
		if path == "" {
			path = filepath.Join(workspaceDir, ".env")
		}
		if _, err := os.Stat(path); err != nil {
			return
		}
		if err := godotenv.Load(path); err != nil {
			logging.Warn("dotenv load failed", "path", path, "error", err)
		}
	})
}

// configureLogging applies the workspace logging config. --verbose forces
// debug regardless of the configured level.
func configureLogging(cfg *config.Config) {
	level := cfg.LogLevel()
	if verbose {
		level = slog.LevelDebug
	}
	logging.Init(level, cfg.Logging.JSON)
}

// openWorkspace opens the workspace read-only.
func openWorkspace() (*workspace.Workspace, error) {
	w, err := workspace.Open(workspaceDir)
	if err != nil {
		return nil, err
	}
	configureLogging(w.Config())
	return w, nil
}

// openLockedWorkspace opens the workspace holding the run lock. Callers
// must Close it on every path.
func openLockedWorkspace() (*workspace.Workspace, error) {
	w, err := workspace.OpenLocked(workspaceDir)
	if err != nil {
		return nil, err
	}
	configureLogging(w.Config())
	return w, nil
}

// signalContext returns a context cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

// spoolPath resolves the fetch spool directory: an explicit flag wins,
// otherwise the workspace's spool/ directory.
func spoolPath(w *workspace.Workspace, override string) string {
	if override != "" {
		return override
	}
	return w.SpoolDir()
}
