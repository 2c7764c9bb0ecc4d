package engine

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/feedvault/feedvault/internal/errors"
	"github.com/feedvault/feedvault/internal/storage/atomicfile"
	"github.com/feedvault/feedvault/internal/storage/flags"
	"github.com/feedvault/feedvault/internal/storage/layout"
	"github.com/feedvault/feedvault/internal/storage/parquet"
	"github.com/feedvault/feedvault/internal/storage/types"
)

// FlatBackend stores one Parquet file per symbol per dataset, directly
// under the data root. This is the legacy layout; it also serves the
// intervals that never move to partitions.
type FlatBackend struct {
	resolver *layout.Resolver
	opts     Options
}

// NewFlatBackend creates a flat backend over the given data root.
func NewFlatBackend(resolver *layout.Resolver, opts Options) *FlatBackend {
	return &FlatBackend{resolver: resolver, opts: opts}
}

// Kind identifies the flat layout.
func (b *FlatBackend) Kind() flags.Kind {
	return flags.KindFlat
}

// Read returns every row of the series in ascending timestamp order.
func (b *FlatBackend) Read(key types.SeriesKey) ([]types.Bar, error) {
	path, err := b.resolver.LegacyFile(key)
	if err != nil {
		return nil, err
	}
	bars, _, err := readRecovering(path)
	return bars, err
}

// ReadPartition is not supported on the flat layout.
func (b *FlatBackend) ReadPartition(key types.PartitionKey) ([]types.Bar, error) {
	return nil, fmt.Errorf("flat backend has no partitions (series %s)", key.Series)
}

// MergeWrite merges incoming rows into the symbol's flat file.
func (b *FlatBackend) MergeWrite(key types.SeriesKey, rows []types.Bar) (WriteStats, error) {
	stats := WriteStats{RowsIn: len(rows)}

	if err := validateBatch(key, rows); err != nil {
		return stats, err
	}

	path, err := b.resolver.LegacyFile(key)
	if err != nil {
		return stats, err
	}

	existing, recovered, err := readRecovering(path)
	if err != nil {
		return stats, err
	}
	if recovered {
		stats.Recovered++
	}

	if len(rows) == 0 {
		stats.RowsTotal = len(existing)
		return stats, nil
	}

	incoming := make([]types.Bar, len(rows))
	copy(incoming, rows)
	assignSequences(incoming, maxSequence(existing))

	merged, replaced, discarded := mergeRows(existing, incoming, b.opts.TieBreak)
	stats.RowsReplaced = replaced
	stats.RowsDiscarded = discarded
	stats.RowsAdded = len(merged) - len(existing)

	if err := writeBarFile(path, merged, b.opts.Parquet); err != nil {
		return stats, fmt.Errorf("series %s: %w", key, err)
	}

	stats.RowsTotal = len(merged)
	stats.PartitionsTouched = 1

	log.Debug("merged flat series",
		"series", key.String(),
		"added", stats.RowsAdded,
		"replaced", stats.RowsReplaced,
		"total", stats.RowsTotal)

	return stats, nil
}

// =============================================================================
// Shared file helpers
// =============================================================================

// readRecovering reads one bar file. A missing file yields no rows. An
// unreadable or schema-mismatched file is deleted so later passes start
// clean; the recovery is logged and reported through the recovered flag.
func readRecovering(path string) (bars []types.Bar, recovered bool, err error) {
	bars, rerr := parquet.ReadBarFile(path)
	if rerr == nil {
		return bars, false, nil
	}
	if errors.Is(rerr, os.ErrNotExist) {
		return nil, false, nil
	}

	log.Warn("removing unreadable bar file",
		"path", path,
		"error", rerr)

	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, false, fmt.Errorf("%w: remove %s: %w", errors.ErrCorruptedPartition, path, err)
	}
	return nil, true, nil
}

// writeBarFile encodes bars and atomically replaces the file at path.
func writeBarFile(path string, bars []types.Bar, opts parquet.Options) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}
	return atomicfile.WriteVia(path, 0o644, func(f *os.File) error {
		w := parquet.NewBarWriter(f, opts)
		if err := w.Write(bars); err != nil {
			return err
		}
		return w.Close()
	})
}
