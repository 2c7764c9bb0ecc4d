// Package types defines the core data types used throughout the storage system.
//
// Key types:
//   - Bar: A single OHLCV bar for a symbol at an interval
//   - Interval: Bar interval (1m through 1mo) with partition granularity
//   - SeriesKey: Identity of one logical series
//   - PartitionKey: Identity of one partition directory
package types
