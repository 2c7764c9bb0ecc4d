// Package logging provides structured logging for the feedvault application.
//
// This package wraps the standard library's log/slog package to provide
// consistent logging across all components. It supports both text and JSON
// output formats, configurable log levels, and component-based loggers.
//
// Components grab their logger once at package init:
//
//	var log = logging.Component("scheduler")
//
// The handler behind those loggers is resolved at log time, so a later
// logging.Init still reconfigures every component logger. Init therefore
// works no matter how early a package created its logger.
//
// Usage:
//
//	// Initialize at startup
//	logging.Init(slog.LevelInfo, false) // Text format
//	logging.Init(slog.LevelDebug, true) // JSON format for production
//
//	// Get a component logger
//	log := logging.Component("scheduler")
//	log.Info("pass started", "symbols", 42)
//
//	// Log with context
//	log.Error("update failed", "error", err, "symbol", sym)
package logging

import (
	"context"
	"log/slog"
	"os"
	"sync/atomic"
)

// active holds the configured slog.Handler. Loggers handed out by this
// package delegate to it on every record.
var active atomic.Value

// Logger is the global logger instance.
var Logger = slog.New(&deferredHandler{})

// activeHandler returns the configured handler, or a plain info-level text
// handler before the first Init.
func activeHandler() slog.Handler {
	if h, ok := active.Load().(slog.Handler); ok {
		return h
	}
	return slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})
}

// deferredHandler resolves the active handler per record. Attribute sets
// added via With travel with the wrapper instead of being baked into a
// handler that Init would replace.
type deferredHandler struct {
	attrs []slog.Attr
}

func (h *deferredHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return activeHandler().Enabled(ctx, level)
}

func (h *deferredHandler) Handle(ctx context.Context, r slog.Record) error {
	target := activeHandler()
	if len(h.attrs) > 0 {
		target = target.WithAttrs(h.attrs)
	}
	return target.Handle(ctx, r)
}

func (h *deferredHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	merged := make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	merged = append(merged, h.attrs...)
	merged = append(merged, attrs...)
	return &deferredHandler{attrs: merged}
}

func (h *deferredHandler) WithGroup(name string) slog.Handler {
	// Groups are unused here; attributes stay flat.
	return h
}

// Init initializes the global logger with the specified level and format.
// If jsonFormat is true, logs are output as JSON; otherwise, human-readable text.
func Init(level slog.Level, jsonFormat bool) {
	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	}

	var handler slog.Handler
	if jsonFormat {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	active.Store(handler)
	slog.SetDefault(Logger)
}

// InitWithHandler routes all loggers to a custom handler.
// This is useful for testing or custom output destinations.
func InitWithHandler(handler slog.Handler) {
	active.Store(handler)
	slog.SetDefault(Logger)
}

// With returns a new logger with additional attributes.
// These attributes are included in every log entry from the returned logger.
func With(args ...any) *slog.Logger {
	return Logger.With(args...)
}

// Component returns a logger for a specific component.
// The component name is added as an attribute to all log entries.
//
// Example:
//
//	log := logging.Component("scheduler")
//	log.Info("started") // Output: time=... level=INFO component=scheduler msg=started
func Component(name string) *slog.Logger {
	return Logger.With("component", name)
}

// WithContext returns a logger that includes context values.
// This is useful for run-scoped logging during update passes and migrations.
func WithContext(ctx context.Context) *slog.Logger {
	logger := Logger

	if runID, ok := ctx.Value(contextKeyRunID).(string); ok {
		logger = logger.With("run_id", runID)
	}
	if symbol, ok := ctx.Value(contextKeySymbol).(string); ok {
		logger = logger.With("symbol", symbol)
	}
	if interval, ok := ctx.Value(contextKeyInterval).(string); ok {
		logger = logger.With("interval", interval)
	}

	return logger
}

// Context key types for type-safe context value extraction.
type contextKey int

const (
	contextKeyRunID contextKey = iota
	contextKeySymbol
	contextKeyInterval
)

// ContextWithRunID adds a run ID to the context for logging.
func ContextWithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, contextKeyRunID, runID)
}

// ContextWithSymbol adds a symbol to the context for logging.
func ContextWithSymbol(ctx context.Context, symbol string) context.Context {
	return context.WithValue(ctx, contextKeySymbol, symbol)
}

// ContextWithInterval adds an interval to the context for logging.
func ContextWithInterval(ctx context.Context, interval string) context.Context {
	return context.WithValue(ctx, contextKeyInterval, interval)
}

// =============================================================================
// Convenience Functions
// =============================================================================

// Debug logs at debug level.
func Debug(msg string, args ...any) {
	Logger.Debug(msg, args...)
}

// Info logs at info level.
func Info(msg string, args ...any) {
	Logger.Info(msg, args...)
}

// Warn logs at warning level.
func Warn(msg string, args ...any) {
	Logger.Warn(msg, args...)
}

// Error logs at error level.
func Error(msg string, args ...any) {
	Logger.Error(msg, args...)
}
