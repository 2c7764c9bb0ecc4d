package types

import (
	"fmt"
	"strings"
	"time"
)

// Interval represents the bar interval of a series.
type Interval string

const (
	Interval1m  Interval = "1m"
	Interval5m  Interval = "5m"
	Interval15m Interval = "15m"
	Interval30m Interval = "30m"
	Interval1h  Interval = "1h"
	Interval4h  Interval = "4h"
	Interval1d  Interval = "1d"
	Interval1wk Interval = "1wk"
	Interval1mo Interval = "1mo"
)

// CanonicalInterval is the interval used to confirm whether a symbol exists
// at all. A symbol with no daily bars is treated as gone everywhere.
const CanonicalInterval = Interval1d

// datasetPrefix is the dataset directory prefix for bar datasets.
const datasetPrefix = "bars_"

// String returns the string representation of the interval.
func (i Interval) String() string {
	return string(i)
}

// Valid returns true if the interval is one of the supported values.
func (i Interval) Valid() bool {
	switch i {
	case Interval1m, Interval5m, Interval15m, Interval30m,
		Interval1h, Interval4h, Interval1d, Interval1wk, Interval1mo:
		return true
	}
	return false
}

// Duration returns the nominal bar duration. Weekly and monthly bars use
// 7-day and 30-day approximations; callers use this for fetch-window
// arithmetic, not calendar math.
func (i Interval) Duration() time.Duration {
	switch i {
	case Interval1m:
		return time.Minute
	case Interval5m:
		return 5 * time.Minute
	case Interval15m:
		return 15 * time.Minute
	case Interval30m:
		return 30 * time.Minute
	case Interval1h:
		return time.Hour
	case Interval4h:
		return 4 * time.Hour
	case Interval1d:
		return 24 * time.Hour
	case Interval1wk:
		return 7 * 24 * time.Hour
	case Interval1mo:
		return 30 * 24 * time.Hour
	default:
		return 0
	}
}

// Dataset returns the dataset directory segment for this interval,
// e.g. "bars_1d".
func (i Interval) Dataset() string {
	return datasetPrefix + string(i)
}

// ParseInterval parses a string into an Interval.
func ParseInterval(s string) (Interval, error) {
	iv := Interval(s)
	if !iv.Valid() {
		return "", fmt.Errorf("unknown interval: %s", s)
	}
	return iv, nil
}

// ParseDataset parses a dataset segment like "bars_1d" back into its interval.
func ParseDataset(dataset string) (Interval, error) {
	if !strings.HasPrefix(dataset, datasetPrefix) {
		return "", fmt.Errorf("unknown dataset: %s", dataset)
	}
	return ParseInterval(strings.TrimPrefix(dataset, datasetPrefix))
}

// AllIntervals returns all supported intervals in ascending duration order.
func AllIntervals() []Interval {
	return []Interval{
		Interval1m, Interval5m, Interval15m, Interval30m,
		Interval1h, Interval4h, Interval1d, Interval1wk, Interval1mo,
	}
}

// =============================================================================
// Partition Granularity
// =============================================================================

// Granularity is the partition directory granularity of an interval.
type Granularity int

const (
	// GranularityNone means the interval is stored in the legacy flat
	// layout only and never partitioned.
	GranularityNone Granularity = iota

	// GranularityMonth partitions by year and month.
	GranularityMonth

	// GranularityDay partitions by year, month and day.
	GranularityDay
)

// String returns the string representation of the granularity.
func (g Granularity) String() string {
	switch g {
	case GranularityNone:
		return "none"
	case GranularityMonth:
		return "month"
	case GranularityDay:
		return "day"
	default:
		return fmt.Sprintf("unknown(%d)", int(g))
	}
}

// Granularity returns the partition granularity for this interval.
// Sub-daily intervals produce day partitions, daily bars produce month
// partitions, and weekly/monthly bars stay in the legacy layout.
func (i Interval) Granularity() Granularity {
	switch i {
	case Interval1m, Interval5m, Interval15m, Interval30m, Interval1h, Interval4h:
		return GranularityDay
	case Interval1d:
		return GranularityMonth
	default:
		return GranularityNone
	}
}

// Partitioned returns true if series at this interval can live in the
// partitioned layout.
func (i Interval) Partitioned() bool {
	return i.Granularity() != GranularityNone
}

// PartitionStart truncates a timestamp to the start of its partition in UTC.
func (i Interval) PartitionStart(ts time.Time) time.Time {
	ts = ts.UTC()
	switch i.Granularity() {
	case GranularityDay:
		return time.Date(ts.Year(), ts.Month(), ts.Day(), 0, 0, 0, 0, time.UTC)
	case GranularityMonth:
		return time.Date(ts.Year(), ts.Month(), 1, 0, 0, 0, 0, time.UTC)
	default:
		return ts
	}
}
