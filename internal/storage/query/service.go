// Package query answers read-only stats questions about stored bar data.
//
// It runs DuckDB in-process over the Parquet files themselves, so summaries
// never load a series into Go memory. Everything here is read-only; the
// merge-write path never goes through this package.
package query

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"time"

	_ "github.com/marcboeker/go-duckdb"

	"github.com/feedvault/feedvault/internal/logging"
)

var log = logging.Component("query")

// summaryQuery aggregates one series (or a whole dataset glob) in a single
// scan. filename=true lets DuckDB report how many files the glob matched.
const summaryQuery = `
SELECT
	count(*),
	CAST(coalesce(min(timestamp_ms), 0) AS BIGINT),
	CAST(coalesce(max(timestamp_ms), 0) AS BIGINT),
	CAST(count(DISTINCT filename) AS BIGINT)
FROM read_parquet($1, filename=true)
`

// Summary describes the stored rows matched by one Parquet glob.
type Summary struct {
	// Rows is the total row count.
	Rows int64

	// FirstMs and LastMs bound the stored timestamps, in epoch
	// milliseconds. Both are zero when Rows is zero.
	FirstMs int64
	LastMs  int64

	// Files is the number of Parquet files holding those rows.
	Files int64
}

// FirstTime returns the earliest stored timestamp.
func (s Summary) FirstTime() time.Time {
	return time.UnixMilli(s.FirstMs).UTC()
}

// LastTime returns the latest stored timestamp.
func (s Summary) LastTime() time.Time {
	return time.UnixMilli(s.LastMs).UTC()
}

// Service summarizes stored data through an in-process DuckDB instance.
type Service struct {
	db      *sql.DB
	timeout time.Duration
}

// New opens an in-memory DuckDB instance capped at memoryLimit. The timeout
// bounds each summary query; zero means no bound.
func New(memoryLimit string, timeout time.Duration) (*Service, error) {
	db, err := sql.Open("duckdb", "")
	if err != nil {
		return nil, fmt.Errorf("open duckdb: %w", err)
	}

	if memoryLimit != "" {
		if _, err := db.Exec(fmt.Sprintf("SET memory_limit='%s'", memoryLimit)); err != nil {
			db.Close()
			return nil, fmt.Errorf("set memory limit: %w", err)
		}
	}

	return &Service{db: db, timeout: timeout}, nil
}

// Close releases the DuckDB instance.
func (s *Service) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Summarize scans all Parquet files matching pattern. A pattern that matches
// nothing yields a zero summary rather than an error; DuckDB treats an empty
// glob as a failure, so the match is checked first.
func (s *Service) Summarize(ctx context.Context, pattern string) (Summary, error) {
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return Summary{}, fmt.Errorf("glob %s: %w", pattern, err)
	}
	if len(matches) == 0 {
		return Summary{}, nil
	}

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	start := time.Now()
	row := s.db.QueryRowContext(ctx, summaryQuery, pattern)

	var sum Summary
	if err := row.Scan(&sum.Rows, &sum.FirstMs, &sum.LastMs, &sum.Files); err != nil {
		return Summary{}, fmt.Errorf("summarize %s: %w", pattern, err)
	}

	log.Debug("summarized pattern",
		"pattern", pattern,
		"rows", sum.Rows,
		"files", sum.Files,
		"elapsed", time.Since(start))

	return sum, nil
}
