package scheduler

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/feedvault/feedvault/internal/errors"
	"github.com/feedvault/feedvault/internal/fetch"
	"github.com/feedvault/feedvault/internal/registry"
	"github.com/feedvault/feedvault/internal/storage/engine"
	"github.com/feedvault/feedvault/internal/storage/flags"
	"github.com/feedvault/feedvault/internal/storage/layout"
	"github.com/feedvault/feedvault/internal/storage/types"
)

var monday = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

type schedEnv struct {
	reg      *registry.Registry
	flags    *flags.Store
	selector *engine.Selector
	regPath  string
}

func newSchedEnv(t *testing.T) *schedEnv {
	t.Helper()
	dir := t.TempDir()

	resolver := layout.NewResolver(filepath.Join(dir, "data"))
	store, err := flags.Open(filepath.Join(dir, "backends.yaml"))
	if err != nil {
		t.Fatalf("open flags store: %v", err)
	}
	selector := engine.NewSelector(resolver, store, engine.DefaultOptions())

	regPath := filepath.Join(dir, "registry.json")
	reg, err := registry.Load(regPath, registry.Options{
		Cooldown:  time.Hour,
		Freshness: 90 * 24 * time.Hour,
	})
	if err != nil {
		t.Fatalf("load registry: %v", err)
	}

	return &schedEnv{reg: reg, flags: store, selector: selector, regPath: regPath}
}

func (e *schedEnv) scheduler(client fetch.Client) *UpdateScheduler {
	return NewUpdateScheduler(e.reg, client, e.selector, NewRateLimiter(0, 0), "us_equities", "yahoo")
}

func (e *schedEnv) add(t *testing.T, symbols ...string) {
	t.Helper()
	for _, s := range symbols {
		if _, err := e.reg.Add(s); err != nil {
			t.Fatalf("add %s: %v", s, err)
		}
	}
}

// dailyBars returns n consecutive daily bars starting at start.
func dailyBars(start time.Time, n int) []types.Bar {
	bars := make([]types.Bar, n)
	for i := range bars {
		px := 100 + float64(i)
		bars[i] = types.Bar{
			TimestampMs: start.AddDate(0, 0, i).UnixMilli(),
			Open:        px,
			High:        px + 1,
			Low:         px - 1,
			Close:       px + 0.5,
			Volume:      1000,
		}
	}
	return bars
}

func staticClient(bars []types.Bar) fetch.Client {
	return fetch.Func(func(_ context.Context, _ string, _ types.Interval, _, _ time.Time) ([]types.Bar, error) {
		return bars, nil
	})
}

func TestPassUpdatesSymbols(t *testing.T) {
	env := newSchedEnv(t)
	env.add(t, "AAPL", "MSFT")

	s := env.scheduler(staticClient(dailyBars(monday, 5)))
	report, err := s.Run(context.Background(), []types.Interval{types.Interval1d}, nil)
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if report.Tasks != 2 || report.Updated != 2 {
		t.Errorf("tasks=%d updated=%d, want 2/2", report.Tasks, report.Updated)
	}
	if report.Failed != 0 || report.NotFound != 0 || report.Skipped != 0 {
		t.Errorf("unexpected outcomes: %+v", report)
	}
	if report.RowsMerged != 10 {
		t.Errorf("rows merged = %d, want 10", report.RowsMerged)
	}

	// No activation flag: data lands in the flat layout.
	got, err := env.selector.Flat().Read(types.SeriesKey{Symbol: "AAPL", Interval: types.Interval1d})
	if err != nil {
		t.Fatalf("read flat: %v", err)
	}
	if len(got) != 5 {
		t.Fatalf("flat rows = %d, want 5", len(got))
	}
	if got[0].TimestampMs != monday.UnixMilli() || got[4].Close != 104.5 {
		t.Errorf("unexpected stored rows: first=%d lastClose=%v", got[0].TimestampMs, got[4].Close)
	}

	// The pass saved the registry; a fresh load sees the updated state.
	if env.reg.Dirty() {
		t.Error("registry still dirty after pass")
	}
	reloaded, err := registry.Load(env.regPath, registry.DefaultOptions())
	if err != nil {
		t.Fatalf("reload registry: %v", err)
	}
	rec, ok := reloaded.Get("AAPL")
	if !ok {
		t.Fatal("AAPL missing after reload")
	}
	state := rec.State(types.Interval1d)
	if state == nil || state.Status != registry.StatusActive {
		t.Fatalf("interval state = %+v, want active", state)
	}
	if state.LastDataAt == nil || !state.LastDataAt.Equal(monday.AddDate(0, 0, 4)) {
		t.Errorf("last data at = %v, want %v", state.LastDataAt, monday.AddDate(0, 0, 4))
	}
	if state.Route == nil || state.Route.Backend != string(flags.KindFlat) {
		t.Errorf("route = %+v, want flat backend", state.Route)
	}
	if state.Route != nil && (state.Route.Market != "us_equities" || state.Route.Source != "yahoo") {
		t.Errorf("route scope = %+v", state.Route)
	}
}

func TestPassRoutesToPartitionedBackend(t *testing.T) {
	env := newSchedEnv(t)
	env.add(t, "AAPL")
	if err := env.flags.Set("us_equities", "yahoo", "1d", flags.KindPartitioned); err != nil {
		t.Fatalf("set flag: %v", err)
	}

	s := env.scheduler(staticClient(dailyBars(monday, 5)))
	if _, err := s.Run(context.Background(), []types.Interval{types.Interval1d}, nil); err != nil {
		t.Fatalf("run: %v", err)
	}

	key := types.SeriesKey{Market: "us_equities", Source: "yahoo", Symbol: "AAPL", Interval: types.Interval1d}
	got, err := env.selector.Partitioned().Read(key)
	if err != nil {
		t.Fatalf("read partitioned: %v", err)
	}
	if len(got) != 5 {
		t.Fatalf("partitioned rows = %d, want 5", len(got))
	}

	// Nothing leaked into the legacy layout.
	flat, err := env.selector.Flat().Read(types.SeriesKey{Symbol: "AAPL", Interval: types.Interval1d})
	if err != nil {
		t.Fatalf("read flat: %v", err)
	}
	if len(flat) != 0 {
		t.Errorf("flat rows = %d, want none", len(flat))
	}

	rec, _ := env.reg.Get("AAPL")
	state := rec.State(types.Interval1d)
	if state.Route == nil || state.Route.Backend != string(flags.KindPartitioned) {
		t.Errorf("route = %+v, want partitioned backend", state.Route)
	}
}

func TestPassMarksNotFoundAndCooldown(t *testing.T) {
	env := newSchedEnv(t)
	env.add(t, "DELISTED")

	calls := 0
	client := fetch.Func(func(_ context.Context, symbol string, interval types.Interval, _, _ time.Time) ([]types.Bar, error) {
		calls++
		return nil, fmt.Errorf("%s %s: %w", symbol, interval, errors.ErrNoData)
	})

	s := env.scheduler(client)
	report, err := s.Run(context.Background(), []types.Interval{types.Interval1d}, nil)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if report.NotFound != 1 || report.Updated != 0 || report.Failed != 0 {
		t.Fatalf("report = %+v, want one not-found", report)
	}

	rec, _ := env.reg.Get("DELISTED")
	if rec.GlobalStatus != registry.StatusNotFound {
		t.Errorf("global status = %s, want not_found", rec.GlobalStatus)
	}
	state := rec.State(types.Interval1d)
	if state == nil || state.LastNotFoundAt == nil {
		t.Fatalf("interval state = %+v, want cooldown stamp", state)
	}

	// Within the cooldown the next pass does not touch the symbol.
	report, err = s.Run(context.Background(), []types.Interval{types.Interval1d}, nil)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if report.Skipped != 1 || report.Tasks != 0 {
		t.Errorf("second pass: skipped=%d tasks=%d, want 1/0", report.Skipped, report.Tasks)
	}
	if calls != 1 {
		t.Errorf("fetch calls = %d, want 1", calls)
	}
}

func TestPassContainsFetchFailures(t *testing.T) {
	env := newSchedEnv(t)
	env.add(t, "AAPL", "MSFT")

	client := fetch.Func(func(_ context.Context, symbol string, _ types.Interval, _, _ time.Time) ([]types.Bar, error) {
		if symbol == "AAPL" {
			return nil, fmt.Errorf("upstream says 500")
		}
		return dailyBars(monday, 3), nil
	})

	s := env.scheduler(client)
	report, err := s.Run(context.Background(), []types.Interval{types.Interval1d}, nil)
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if report.Failed != 1 || report.Updated != 1 {
		t.Fatalf("failed=%d updated=%d, want 1/1", report.Failed, report.Updated)
	}
	if msg, ok := report.Failures["AAPL/1d"]; !ok || msg != "upstream says 500" {
		t.Errorf("failures = %v", report.Failures)
	}

	// A transient failure leaves no mark; the symbol stays eligible.
	rec, _ := env.reg.Get("AAPL")
	if rec.State(types.Interval1d) != nil {
		t.Errorf("failed symbol gained interval state: %+v", rec.State(types.Interval1d))
	}
	if !env.reg.Eligible("AAPL", types.Interval1d, time.Now()) {
		t.Error("failed symbol no longer eligible")
	}
}

func TestPassFetchWindow(t *testing.T) {
	env := newSchedEnv(t)
	env.add(t, "AAPL")

	lastData := monday.AddDate(0, 0, 4)
	if err := env.reg.MarkFound("AAPL", types.Interval1d, lastData, nil); err != nil {
		t.Fatalf("seed: %v", err)
	}

	var gotSince, gotUntil time.Time
	client := fetch.Func(func(_ context.Context, _ string, _ types.Interval, since, until time.Time) ([]types.Bar, error) {
		gotSince, gotUntil = since, until
		return nil, nil
	})

	s := env.scheduler(client)
	report, err := s.Run(context.Background(), []types.Interval{types.Interval1d}, nil)
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	// The window starts one interval past the latest persisted row.
	if want := lastData.Add(24 * time.Hour); !gotSince.Equal(want) {
		t.Errorf("since = %v, want %v", gotSince, want)
	}
	if gotUntil.IsZero() {
		t.Error("until not set")
	}

	// An empty batch still counts as found, with nothing written and
	// last_data_at untouched.
	if report.Updated != 1 || report.RowsMerged != 0 {
		t.Errorf("updated=%d rows=%d, want 1/0", report.Updated, report.RowsMerged)
	}
	flat, err := env.selector.Flat().Read(types.SeriesKey{Symbol: "AAPL", Interval: types.Interval1d})
	if err != nil {
		t.Fatalf("read flat: %v", err)
	}
	if len(flat) != 0 {
		t.Errorf("quiet window wrote %d rows", len(flat))
	}
	rec, _ := env.reg.Get("AAPL")
	state := rec.State(types.Interval1d)
	if state.LastDataAt == nil || !state.LastDataAt.Equal(lastData) {
		t.Errorf("last data at = %v, want %v", state.LastDataAt, lastData)
	}
	if state.LastFoundAt == nil {
		t.Error("last found at not stamped")
	}
}

func TestPassFullHistoryForNewSymbol(t *testing.T) {
	env := newSchedEnv(t)
	env.add(t, "AAPL")

	var gotSince time.Time
	client := fetch.Func(func(_ context.Context, _ string, _ types.Interval, since, _ time.Time) ([]types.Bar, error) {
		gotSince = since
		return dailyBars(monday, 2), nil
	})

	s := env.scheduler(client)
	if _, err := s.Run(context.Background(), []types.Interval{types.Interval1d}, nil); err != nil {
		t.Fatalf("run: %v", err)
	}
	if !gotSince.IsZero() {
		t.Errorf("since = %v, want zero for full history", gotSince)
	}
}

func TestPassSymbolFilter(t *testing.T) {
	env := newSchedEnv(t)
	env.add(t, "AAPL", "MSFT", "TSLA")

	fetched := make(map[string]int)
	client := fetch.Func(func(_ context.Context, symbol string, _ types.Interval, _, _ time.Time) ([]types.Bar, error) {
		fetched[symbol]++
		return dailyBars(monday, 1), nil
	})

	s := env.scheduler(client)
	report, err := s.Run(context.Background(), []types.Interval{types.Interval1d}, []string{"MSFT", "UNKNOWN"})
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if report.Tasks != 1 || report.Updated != 1 {
		t.Errorf("tasks=%d updated=%d, want 1/1", report.Tasks, report.Updated)
	}
	if len(fetched) != 1 || fetched["MSFT"] != 1 {
		t.Errorf("fetched = %v, want MSFT only", fetched)
	}
}

func TestPassCancellationSavesRegistry(t *testing.T) {
	env := newSchedEnv(t)
	env.add(t, "AAPL", "MSFT", "TSLA")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	calls := 0
	client := fetch.Func(func(_ context.Context, _ string, _ types.Interval, _, _ time.Time) ([]types.Bar, error) {
		calls++
		if calls == 2 {
			cancel()
		}
		return dailyBars(monday, 3), nil
	})

	s := env.scheduler(client)
	report, err := s.Run(ctx, []types.Interval{types.Interval1d}, nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("run error = %v, want context.Canceled", err)
	}

	// Symbols iterate in registry order; the cancel lands after MSFT's
	// fetch, so AAPL and MSFT complete and TSLA is never reached.
	if calls != 2 {
		t.Errorf("fetch calls = %d, want 2", calls)
	}
	if report.Updated != 2 {
		t.Errorf("updated = %d, want 2", report.Updated)
	}

	// The partial progress was persisted on the way out.
	reloaded, err := registry.Load(env.regPath, registry.DefaultOptions())
	if err != nil {
		t.Fatalf("reload registry: %v", err)
	}
	for _, symbol := range []string{"AAPL", "MSFT"} {
		rec, ok := reloaded.Get(symbol)
		if !ok || rec.State(types.Interval1d) == nil {
			t.Errorf("%s progress not persisted", symbol)
		}
	}
	rec, _ := reloaded.Get("TSLA")
	if rec == nil || rec.State(types.Interval1d) != nil {
		t.Error("TSLA should have no interval state")
	}
}

func TestRunValidatesArguments(t *testing.T) {
	env := newSchedEnv(t)
	s := env.scheduler(staticClient(nil))
	ctx := context.Background()

	if _, err := s.Run(ctx, nil, nil); err == nil {
		t.Error("empty interval list accepted")
	}
	if _, err := s.Run(ctx, []types.Interval{"7m"}, nil); !errors.Is(err, errors.ErrInvalidInterval) {
		t.Errorf("invalid interval error = %v", err)
	}
	if err := s.RunEvery(ctx, 0, []types.Interval{types.Interval1d}, nil); err == nil {
		t.Error("zero pass period accepted")
	}
}

func TestRunEveryStopsOnCancel(t *testing.T) {
	env := newSchedEnv(t)
	env.add(t, "AAPL")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	calls := 0
	client := fetch.Func(func(_ context.Context, _ string, _ types.Interval, _, _ time.Time) ([]types.Bar, error) {
		calls++
		if calls == 3 {
			cancel()
		}
		return nil, nil
	})

	s := env.scheduler(client)
	if err := s.RunEvery(ctx, time.Millisecond, []types.Interval{types.Interval1d}, nil); err != nil {
		t.Fatalf("run every: %v", err)
	}
	if calls != 3 {
		t.Errorf("fetch calls = %d, want 3", calls)
	}
}
