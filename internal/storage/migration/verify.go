package migration

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"

	_ "github.com/marcboeker/go-duckdb"

	"github.com/feedvault/feedvault/internal/errors"
)

// Digest summarizes one series representation for comparison. The checksum
// xors a per-row hash, so it is independent of row order and file layout;
// the same rows split across any number of partitions digest identically.
type Digest struct {
	Rows     int64
	Checksum uint64
}

// digestQuery computes the digest over every file matched by the pattern.
// The hash covers all columns including sequence; the cast keeps the scan
// inside the signed range the driver hands back.
const digestQuery = `
	SELECT count(*),
	       CAST(coalesce(bit_xor(hash(timestamp_ms, open, high, low, close, volume, sequence)), 0) AS BIGINT)
	FROM read_parquet($1)
`

// Verifier computes digests through DuckDB's Parquet reader, independent
// of the decoder the write path uses.
type Verifier struct {
	db *sql.DB
}

// NewVerifier opens an in-memory DuckDB instance.
func NewVerifier(memoryLimit string) (*Verifier, error) {
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

	return &Verifier{db: db}, nil
}

// Close closes the DuckDB instance.
func (v *Verifier) Close() error {
	return v.db.Close()
}

// Digest computes the digest of every Parquet file matched by pattern.
// A pattern matching no files digests to zero rows; absent data and empty
// data compare equal.
func (v *Verifier) Digest(ctx context.Context, pattern string) (Digest, error) {
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return Digest{}, fmt.Errorf("bad pattern %s: %w", pattern, err)
	}
	if len(matches) == 0 {
		return Digest{}, nil
	}

	var rows, sum int64
	row := v.db.QueryRowContext(ctx, digestQuery, pattern)
	if err := row.Scan(&rows, &sum); err != nil {
		return Digest{}, fmt.Errorf("%w: digest %s: %w", errors.ErrDatabase, pattern, err)
	}

	return Digest{Rows: rows, Checksum: uint64(sum)}, nil
}

// Compare verifies that two representations of one series digest equally.
// A mismatch yields a VerificationError carrying both sides.
func (v *Verifier) Compare(ctx context.Context, symbol, interval, legacyPattern, partPattern string) (Digest, Digest, error) {
	legacy, err := v.Digest(ctx, legacyPattern)
	if err != nil {
		return Digest{}, Digest{}, err
	}
	part, err := v.Digest(ctx, partPattern)
	if err != nil {
		return legacy, Digest{}, err
	}

	if legacy != part {
		return legacy, part, &errors.VerificationError{
			Symbol:         symbol,
			Interval:       interval,
			LegacyRows:     legacy.Rows,
			PartRows:       part.Rows,
			LegacyChecksum: legacy.Checksum,
			PartChecksum:   part.Checksum,
		}
	}

	return legacy, part, nil
}
