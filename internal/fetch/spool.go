package fetch

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/feedvault/feedvault/internal/errors"
	"github.com/feedvault/feedvault/internal/storage/types"
	"github.com/feedvault/feedvault/internal/validation"
)

// spoolExt is the drop-file extension.
const spoolExt = ".jsonl"

// maxSpoolLine bounds a single spool line.
const maxSpoolLine = 1 << 20

// SpoolClient replays bars from JSON-lines drop files.
//
// The spool directory mirrors the dataset naming of the store itself:
// <dir>/bars_<interval>/<SYMBOL>.jsonl, one bar object per line. A missing
// file is a definitive no-data answer, matching how a collector that found
// nothing would leave nothing behind.
type SpoolClient struct {
	dir string
}

// NewSpoolClient creates a client reading from dir.
func NewSpoolClient(dir string) *SpoolClient {
	return &SpoolClient{dir: dir}
}

// Dir returns the spool directory.
func (c *SpoolClient) Dir() string {
	return c.dir
}

// spoolRow is the wire shape of one spool line. Sequence is absent on
// purpose; the merge path assigns it.
type spoolRow struct {
	TimestampMs int64   `json:"timestamp_ms"`
	Open        float64 `json:"open"`
	High        float64 `json:"high"`
	Low         float64 `json:"low"`
	Close       float64 `json:"close"`
	Volume      float64 `json:"volume"`
}

// Fetch reads the symbol's drop file and returns the bars inside
// [since, until], sorted ascending by timestamp.
func (c *SpoolClient) Fetch(ctx context.Context, symbol string, interval types.Interval, since, until time.Time) ([]types.Bar, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := validation.ValidateSymbol(symbol); err != nil {
		return nil, err
	}
	if !interval.Valid() {
		return nil, fmt.Errorf("%w: %s", errors.ErrInvalidInterval, interval)
	}

	path := filepath.Join(c.dir, interval.Dataset(), symbol+spoolExt)
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%s %s: %w", symbol, interval, errors.ErrNoData)
		}
		return nil, fmt.Errorf("open spool file: %w", err)
	}
	defer f.Close()

	var bars []types.Bar
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), maxSpoolLine)

	line := 0
	for scanner.Scan() {
		line++
		raw := bytes.TrimSpace(scanner.Bytes())
		if len(raw) == 0 {
			continue
		}

		var row spoolRow
		if err := json.Unmarshal(raw, &row); err != nil {
			return nil, fmt.Errorf("%s line %d: %w", path, line, err)
		}

		bar := types.Bar{
			TimestampMs: row.TimestampMs,
			Open:        row.Open,
			High:        row.High,
			Low:         row.Low,
			Close:       row.Close,
			Volume:      row.Volume,
		}
		ts := bar.TimestampTime()
		if !since.IsZero() && ts.Before(since) {
			continue
		}
		if !until.IsZero() && ts.After(until) {
			continue
		}
		bars = append(bars, bar)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	sort.Slice(bars, func(i, j int) bool {
		return bars[i].TimestampMs < bars[j].TimestampMs
	})
	return bars, nil
}
