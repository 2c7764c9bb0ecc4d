package fetch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/feedvault/feedvault/internal/errors"
	"github.com/feedvault/feedvault/internal/storage/types"
)

func writeSpool(t *testing.T, dir, symbol string, interval types.Interval, lines string) {
	t.Helper()
	dataset := filepath.Join(dir, interval.Dataset())
	if err := os.MkdirAll(dataset, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dataset, symbol+spoolExt), []byte(lines), 0o644); err != nil {
		t.Fatal(err)
	}
}

func spoolLine(ts time.Time, close float64) string {
	return fmt.Sprintf(`{"timestamp_ms": %d, "open": %g, "high": %g, "low": %g, "close": %g, "volume": 1000}`,
		ts.UnixMilli(), close-1, close+1, close-2, close)
}

func TestSpoolFetchMissingSymbol(t *testing.T) {
	client := NewSpoolClient(t.TempDir())

	_, err := client.Fetch(context.Background(), "AAPL", types.Interval1d, time.Time{}, time.Time{})
	if !errors.Is(err, errors.ErrNoData) {
		t.Fatalf("expected ErrNoData, got %v", err)
	}
	if errors.IsTransientFetch(err) {
		t.Error("no-data classified as transient")
	}
}

func TestSpoolFetchSortsBatches(t *testing.T) {
	dir := t.TempDir()
	base := time.Date(2025, 8, 1, 0, 0, 0, 0, time.UTC)

	// Lines deliberately out of order, with a blank line mixed in.
	lines := spoolLine(base.AddDate(0, 0, 2), 102) + "\n" +
		spoolLine(base, 100) + "\n\n" +
		spoolLine(base.AddDate(0, 0, 1), 101) + "\n"
	writeSpool(t, dir, "AAPL", types.Interval1d, lines)

	client := NewSpoolClient(dir)
	bars, err := client.Fetch(context.Background(), "AAPL", types.Interval1d, time.Time{}, time.Time{})
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(bars) != 3 {
		t.Fatalf("got %d bars", len(bars))
	}
	for i := 1; i < len(bars); i++ {
		if bars[i].TimestampMs <= bars[i-1].TimestampMs {
			t.Fatalf("bars not sorted at %d: %d then %d", i, bars[i-1].TimestampMs, bars[i].TimestampMs)
		}
	}
	if bars[0].Close != 100 || bars[2].Close != 102 {
		t.Errorf("bar order wrong: %v", bars)
	}
	if bars[0].Sequence != 0 {
		t.Errorf("spool bars must not carry sequences, got %d", bars[0].Sequence)
	}
}

func TestSpoolFetchWindow(t *testing.T) {
	dir := t.TempDir()
	base := time.Date(2025, 8, 1, 0, 0, 0, 0, time.UTC)

	var lines string
	for i := 0; i < 10; i++ {
		lines += spoolLine(base.AddDate(0, 0, i), 100+float64(i)) + "\n"
	}
	writeSpool(t, dir, "AAPL", types.Interval1d, lines)
	client := NewSpoolClient(dir)

	cases := []struct {
		name  string
		since time.Time
		until time.Time
		want  int
	}{
		{"full history", time.Time{}, time.Time{}, 10},
		{"since only", base.AddDate(0, 0, 7), time.Time{}, 3},
		{"until only", time.Time{}, base.AddDate(0, 0, 2), 3},
		{"both bounds inclusive", base.AddDate(0, 0, 3), base.AddDate(0, 0, 5), 3},
		{"empty window", base.AddDate(0, 1, 0), time.Time{}, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			bars, err := client.Fetch(context.Background(), "AAPL", types.Interval1d, tc.since, tc.until)
			if err != nil {
				t.Fatalf("fetch: %v", err)
			}
			if len(bars) != tc.want {
				t.Errorf("got %d bars, want %d", len(bars), tc.want)
			}
		})
	}
}

func TestSpoolFetchEmptyWindowIsNotNoData(t *testing.T) {
	dir := t.TempDir()
	base := time.Date(2025, 8, 1, 0, 0, 0, 0, time.UTC)
	writeSpool(t, dir, "AAPL", types.Interval1d, spoolLine(base, 100)+"\n")

	client := NewSpoolClient(dir)
	bars, err := client.Fetch(context.Background(), "AAPL", types.Interval1d, base.AddDate(1, 0, 0), time.Time{})
	if err != nil {
		t.Fatalf("quiet window must not error: %v", err)
	}
	if len(bars) != 0 {
		t.Errorf("got %d bars", len(bars))
	}
}

func TestSpoolFetchMalformedLine(t *testing.T) {
	dir := t.TempDir()
	writeSpool(t, dir, "AAPL", types.Interval1d, "{not json}\n")

	client := NewSpoolClient(dir)
	_, err := client.Fetch(context.Background(), "AAPL", types.Interval1d, time.Time{}, time.Time{})
	if err == nil {
		t.Fatal("malformed line accepted")
	}
	if errors.Is(err, errors.ErrNoData) {
		t.Error("parse failure classified as no-data")
	}
	if !errors.IsTransientFetch(err) {
		t.Error("parse failure not classified as transient")
	}
}

func TestSpoolFetchValidatesInput(t *testing.T) {
	client := NewSpoolClient(t.TempDir())

	if _, err := client.Fetch(context.Background(), "bad symbol", types.Interval1d, time.Time{}, time.Time{}); err == nil {
		t.Error("invalid symbol accepted")
	}
	if _, err := client.Fetch(context.Background(), "AAPL", "2d", time.Time{}, time.Time{}); !errors.Is(err, errors.ErrInvalidInterval) {
		t.Errorf("invalid interval: %v", err)
	}
}

func TestSpoolFetchCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	client := NewSpoolClient(t.TempDir())
	if _, err := client.Fetch(ctx, "AAPL", types.Interval1d, time.Time{}, time.Time{}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
