package engine

import (
	"fmt"
	"sort"

	"github.com/feedvault/feedvault/internal/errors"
	"github.com/feedvault/feedvault/internal/storage/flags"
	"github.com/feedvault/feedvault/internal/storage/layout"
	"github.com/feedvault/feedvault/internal/storage/types"
)

// PartitionedBackend stores a series as hive-style partition directories,
// one Parquet file per year/month or year/month/day depending on the
// interval's granularity.
type PartitionedBackend struct {
	resolver *layout.Resolver
	opts     Options
}

// NewPartitionedBackend creates a partitioned backend over the given data root.
func NewPartitionedBackend(resolver *layout.Resolver, opts Options) *PartitionedBackend {
	return &PartitionedBackend{resolver: resolver, opts: opts}
}

// Kind identifies the partitioned layout.
func (b *PartitionedBackend) Kind() flags.Kind {
	return flags.KindPartitioned
}

// Read returns every row of the series in ascending timestamp order,
// concatenated across partitions. Partitions hold disjoint ascending time
// ranges, so no cross-partition sort is needed.
func (b *PartitionedBackend) Read(key types.SeriesKey) ([]types.Bar, error) {
	if !key.Interval.Partitioned() {
		return nil, fmt.Errorf("%w: %s", errors.ErrLegacyOnlyInterval, key.Interval)
	}

	parts, err := b.resolver.ListPartitions(key)
	if err != nil {
		return nil, err
	}

	var all []types.Bar
	for _, part := range parts {
		bars, err := b.ReadPartition(part)
		if err != nil {
			return nil, err
		}
		all = append(all, bars...)
	}
	return all, nil
}

// ReadPartition returns the rows of a single partition. A missing or
// recovered-away partition yields an empty slice.
func (b *PartitionedBackend) ReadPartition(key types.PartitionKey) ([]types.Bar, error) {
	path, err := b.resolver.PartitionFile(key)
	if err != nil {
		return nil, err
	}
	bars, _, err := readRecovering(path)
	return bars, err
}

// MergeWrite merges incoming rows into the partitions they fall into.
// Partitions outside the batch's time range are never opened. Each touched
// partition is replaced atomically, in ascending time order.
func (b *PartitionedBackend) MergeWrite(key types.SeriesKey, rows []types.Bar) (WriteStats, error) {
	return b.mergeWrite(key, rows, false)
}

// ImportWrite merges rows while keeping their sequence numbers as given.
// Migration uses it to copy legacy rows verbatim; the verification checksum
// covers the sequence column, so a copy must not restamp it. Re-importing
// the same rows is a no-op because equal sequences never win a tie-break.
func (b *PartitionedBackend) ImportWrite(key types.SeriesKey, rows []types.Bar) (WriteStats, error) {
	return b.mergeWrite(key, rows, true)
}

func (b *PartitionedBackend) mergeWrite(key types.SeriesKey, rows []types.Bar, preserveSeq bool) (WriteStats, error) {
	stats := WriteStats{RowsIn: len(rows)}

	if err := validateBatch(key, rows); err != nil {
		return stats, err
	}
	if err := b.resolver.ValidateSeries(key); err != nil {
		return stats, err
	}
	if !key.Interval.Partitioned() {
		return stats, fmt.Errorf("%w: %s", errors.ErrLegacyOnlyInterval, key.Interval)
	}
	if len(rows) == 0 {
		return stats, nil
	}

	incoming := make([]types.Bar, len(rows))
	copy(incoming, rows)

	// Resolve the partition of every incoming row up front.
	partOf := make([]types.PartitionKey, len(incoming))
	touched := make(map[types.PartitionKey]bool)
	for i := range incoming {
		part, err := types.PartitionKeyFor(key, incoming[i].TimestampMs)
		if err != nil {
			return stats, err
		}
		partOf[i] = part
		touched[part] = true
	}

	order := make([]types.PartitionKey, 0, len(touched))
	for part := range touched {
		order = append(order, part)
	}
	sort.Slice(order, func(i, j int) bool {
		return order[i].StartTime().Before(order[j].StartTime())
	})

	// Read every touched partition before assigning sequences; new rows
	// must rank above anything already stored in any of them.
	existing := make(map[types.PartitionKey][]types.Bar, len(order))
	var maxSeq int64
	for _, part := range order {
		path, err := b.resolver.PartitionFile(part)
		if err != nil {
			return stats, err
		}
		bars, recovered, err := readRecovering(path)
		if err != nil {
			return stats, err
		}
		if recovered {
			stats.Recovered++
		}
		existing[part] = bars
		if s := maxSequence(bars); s > maxSeq {
			maxSeq = s
		}
	}

	if !preserveSeq {
		assignSequences(incoming, maxSeq)
	}

	byPart := make(map[types.PartitionKey][]types.Bar, len(order))
	for i := range incoming {
		byPart[partOf[i]] = append(byPart[partOf[i]], incoming[i])
	}

	for _, part := range order {
		merged, replaced, discarded := mergeRows(existing[part], byPart[part], b.opts.TieBreak)
		stats.RowsReplaced += replaced
		stats.RowsDiscarded += discarded
		stats.RowsAdded += len(merged) - len(existing[part])
		stats.RowsTotal += len(merged)

		path, err := b.resolver.PartitionFile(part)
		if err != nil {
			return stats, err
		}
		if err := writeBarFile(path, merged, b.opts.Parquet); err != nil {
			return stats, fmt.Errorf("partition %s: %w", part, err)
		}
		stats.PartitionsTouched++
	}

	log.Debug("merged partitioned series",
		"series", key.String(),
		"partitions", stats.PartitionsTouched,
		"added", stats.RowsAdded,
		"replaced", stats.RowsReplaced)

	return stats, nil
}
