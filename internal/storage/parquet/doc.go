// Package parquet implements Parquet file reading and writing for bar data.
//
// The package provides:
//   - BarWriter/BarReader for OHLCV bar rows
//   - Schema checking on open so foreign or damaged files fail fast
//   - Support for multiple compression algorithms (snappy, zstd, lz4, gzip)
//   - Type conversion between storage types and Parquet rows
//
// Writers operate on a caller-supplied destination so the storage engine
// can stage output and rename it into place in one step.
package parquet
