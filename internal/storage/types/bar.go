package types

import (
	"fmt"
	"math"
	"time"
)

// Bar represents a single OHLCV bar for one symbol at one interval.
// This is the primary data unit flowing through the storage system.
type Bar struct {
	// TimestampMs is the bar open time as a Unix timestamp in milliseconds.
	// Timestamps are unique within a series; the merge path enforces this.
	TimestampMs int64

	// Price fields
	Open  float64
	High  float64
	Low   float64
	Close float64

	// Volume traded during the bar. Zero is valid (halted sessions).
	Volume float64

	// Sequence is the ingestion sequence number, assigned at merge time.
	// When two fetches produce the same timestamp, the tie-break policy
	// consults this field.
	Sequence int64
}

// TimestampTime returns the bar open time as a time.Time.
func (b *Bar) TimestampTime() time.Time {
	return time.UnixMilli(b.TimestampMs)
}

// Validate checks that the bar is well formed. It does not know about
// series-level invariants (uniqueness, ordering); those belong to the
// merge path.
func (b *Bar) Validate() error {
	if b.TimestampMs <= 0 {
		return fmt.Errorf("non-positive timestamp %d", b.TimestampMs)
	}
	for _, f := range []struct {
		name  string
		value float64
	}{
		{"open", b.Open},
		{"high", b.High},
		{"low", b.Low},
		{"close", b.Close},
		{"volume", b.Volume},
	} {
		if math.IsNaN(f.value) || math.IsInf(f.value, 0) {
			return fmt.Errorf("%s is not finite", f.name)
		}
	}
	if b.Volume < 0 {
		return fmt.Errorf("negative volume %v", b.Volume)
	}
	if b.High < b.Low {
		return fmt.Errorf("high %v below low %v", b.High, b.Low)
	}
	return nil
}
