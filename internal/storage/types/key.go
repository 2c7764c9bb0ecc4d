package types

import (
	"fmt"
	"time"
)

// SeriesKey identifies one logical series: all bars for one symbol at one
// interval within a market/source scope. Market and source are empty for
// series addressed in the legacy flat layout.
type SeriesKey struct {
	Market   string
	Source   string
	Symbol   string
	Interval Interval
}

// Legacy returns true if the key addresses the legacy flat layout.
// Market and source are either both present or both absent; a half-empty
// key is rejected during path resolution.
func (k SeriesKey) Legacy() bool {
	return k.Market == "" && k.Source == ""
}

// Dataset returns the dataset directory segment for the key's interval.
func (k SeriesKey) Dataset() string {
	return k.Interval.Dataset()
}

// String returns a human-readable identifier for logging.
func (k SeriesKey) String() string {
	if k.Legacy() {
		return k.Dataset() + "/" + k.Symbol
	}
	return k.Market + "/" + k.Source + "/" + k.Dataset() + "/" + k.Symbol
}

// PartitionKey identifies one partition directory within a partitioned series.
// Day is zero for month-granularity partitions.
type PartitionKey struct {
	Series SeriesKey
	Year   int
	Month  time.Month
	Day    int
}

// String returns a human-readable identifier for logging.
func (k PartitionKey) String() string {
	if k.Day == 0 {
		return fmt.Sprintf("%s/year=%04d/month=%02d", k.Series, k.Year, int(k.Month))
	}
	return fmt.Sprintf("%s/year=%04d/month=%02d/day=%02d", k.Series, k.Year, int(k.Month), k.Day)
}

// StartTime returns the inclusive start of the partition's time range in UTC.
func (k PartitionKey) StartTime() time.Time {
	day := k.Day
	if day == 0 {
		day = 1
	}
	return time.Date(k.Year, k.Month, day, 0, 0, 0, 0, time.UTC)
}

// EndTime returns the exclusive end of the partition's time range in UTC.
func (k PartitionKey) EndTime() time.Time {
	if k.Day == 0 {
		return k.StartTime().AddDate(0, 1, 0)
	}
	return k.StartTime().AddDate(0, 0, 1)
}

// Contains reports whether the timestamp falls inside this partition.
func (k PartitionKey) Contains(tsMs int64) bool {
	ts := time.UnixMilli(tsMs).UTC()
	return !ts.Before(k.StartTime()) && ts.Before(k.EndTime())
}

// PartitionKeyFor returns the partition key holding the given timestamp.
// It fails for intervals that are stored in the legacy layout only.
func PartitionKeyFor(series SeriesKey, tsMs int64) (PartitionKey, error) {
	g := series.Interval.Granularity()
	if g == GranularityNone {
		return PartitionKey{}, fmt.Errorf("interval %s is not partitioned", series.Interval)
	}
	start := series.Interval.PartitionStart(time.UnixMilli(tsMs))
	key := PartitionKey{
		Series: series,
		Year:   start.Year(),
		Month:  start.Month(),
	}
	if g == GranularityDay {
		key.Day = start.Day()
	}
	return key, nil
}
