package registry

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/feedvault/feedvault/internal/errors"
	"github.com/feedvault/feedvault/internal/storage/types"
)

func newTestRegistry(t *testing.T, opts Options) *Registry {
	t.Helper()
	reg, err := Load(filepath.Join(t.TempDir(), "registry.json"), opts)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	return reg
}

func TestAddAndGet(t *testing.T) {
	reg := newTestRegistry(t, Options{})

	rec, err := reg.Add("AAPL")
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if rec.GlobalStatus != StatusActive {
		t.Errorf("new symbol status = %s", rec.GlobalStatus)
	}
	if rec.AddedAt.IsZero() {
		t.Error("added_at not stamped")
	}

	got, ok := reg.Get("AAPL")
	if !ok || got.Symbol != "AAPL" {
		t.Fatalf("get = %+v, %v", got, ok)
	}

	// Get hands out copies; mutating one must not leak into the registry.
	got.GlobalStatus = StatusNotFound
	if again, _ := reg.Get("AAPL"); again.GlobalStatus != StatusActive {
		t.Error("copy mutation leaked into registry")
	}

	if _, err := reg.Add("AAPL"); !errors.Is(err, errors.ErrSymbolAlreadyExists) {
		t.Errorf("duplicate add: %v", err)
	}
	if _, err := reg.Add("bad symbol"); err == nil {
		t.Error("invalid symbol accepted")
	}
	if _, ok := reg.Get("MSFT"); ok {
		t.Error("unknown symbol found")
	}
}

func TestMarkFound(t *testing.T) {
	reg := newTestRegistry(t, Options{})
	if _, err := reg.Add("AAPL"); err != nil {
		t.Fatal(err)
	}

	dataAt := time.Date(2025, 8, 1, 0, 0, 0, 0, time.UTC)
	route := &StorageRoute{Backend: "partitioned", Market: "us_equities", Source: "yahoo"}
	if err := reg.MarkFound("AAPL", types.Interval1d, dataAt, route); err != nil {
		t.Fatalf("mark found: %v", err)
	}

	rec, _ := reg.Get("AAPL")
	state := rec.State(types.Interval1d)
	if state == nil {
		t.Fatal("no interval state recorded")
	}
	if state.Status != StatusActive {
		t.Errorf("status = %s", state.Status)
	}
	if state.LastFoundAt == nil || state.LastCheckedAt == nil {
		t.Error("timestamps not stamped")
	}
	if state.LastDataAt == nil || !state.LastDataAt.Equal(dataAt) {
		t.Errorf("last_data_at = %v", state.LastDataAt)
	}
	if state.LastNotFoundAt != nil {
		t.Error("active state carries last_not_found_at")
	}
	if state.Route == nil || state.Route.Backend != "partitioned" || state.Route.Market != "us_equities" {
		t.Errorf("route = %+v", state.Route)
	}
	if rec.LastChecked == nil {
		t.Error("record last_checked not stamped")
	}

	// Zero dataAt leaves last_data_at alone.
	if err := reg.MarkFound("AAPL", types.Interval1d, time.Time{}, nil); err != nil {
		t.Fatal(err)
	}
	rec, _ = reg.Get("AAPL")
	if got := rec.State(types.Interval1d).LastDataAt; got == nil || !got.Equal(dataAt) {
		t.Errorf("last_data_at changed to %v", got)
	}

	if err := reg.MarkFound("MSFT", types.Interval1d, time.Time{}, nil); !errors.Is(err, errors.ErrSymbolNotFound) {
		t.Errorf("mark found on unknown symbol: %v", err)
	}
}

func TestNotFoundCooldown(t *testing.T) {
	reg := newTestRegistry(t, Options{Cooldown: time.Hour})
	if _, err := reg.Add("AAPL"); err != nil {
		t.Fatal(err)
	}

	// Never checked: eligible.
	now := time.Now()
	if !reg.Eligible("AAPL", types.Interval1d, now) {
		t.Error("unchecked interval not eligible")
	}

	if err := reg.MarkNotFound("AAPL", types.Interval1d); err != nil {
		t.Fatalf("mark not found: %v", err)
	}

	rec, _ := reg.Get("AAPL")
	state := rec.State(types.Interval1d)
	if state.Status != StatusNotFound || state.LastNotFoundAt == nil {
		t.Fatalf("state = %+v", state)
	}

	if reg.Eligible("AAPL", types.Interval1d, time.Now()) {
		t.Error("eligible during cooldown")
	}
	if !reg.Eligible("AAPL", types.Interval1d, time.Now().Add(2*time.Hour)) {
		t.Error("not eligible after cooldown elapsed")
	}

	// Coming back clears the cooldown entirely.
	if err := reg.MarkFound("AAPL", types.Interval1d, time.Time{}, nil); err != nil {
		t.Fatal(err)
	}
	rec, _ = reg.Get("AAPL")
	if rec.State(types.Interval1d).LastNotFoundAt != nil {
		t.Error("last_not_found_at survived mark found")
	}
}

func TestGlobalStatusFollowsIntervals(t *testing.T) {
	reg := newTestRegistry(t, Options{})
	if _, err := reg.Add("AAPL"); err != nil {
		t.Fatal(err)
	}

	// Sole tracked interval not found: globally not found.
	if err := reg.MarkNotFound("AAPL", types.Interval1d); err != nil {
		t.Fatal(err)
	}
	rec, _ := reg.Get("AAPL")
	if rec.GlobalStatus != StatusNotFound {
		t.Errorf("global = %s after only interval went not found", rec.GlobalStatus)
	}

	// A globally not-found symbol is ineligible on every interval, even
	// unchecked ones.
	if reg.Eligible("AAPL", types.Interval1h, time.Now().Add(365*24*time.Hour)) {
		t.Error("globally not-found symbol eligible")
	}

	// One interval coming back reactivates the symbol.
	if err := reg.MarkFound("AAPL", types.Interval1h, time.Time{}, nil); err != nil {
		t.Fatal(err)
	}
	rec, _ = reg.Get("AAPL")
	if rec.GlobalStatus != StatusActive {
		t.Errorf("global = %s after 1h came back", rec.GlobalStatus)
	}

	// Both gone again: globally not found.
	if err := reg.MarkNotFound("AAPL", types.Interval1h); err != nil {
		t.Fatal(err)
	}
	rec, _ = reg.Get("AAPL")
	if rec.GlobalStatus != StatusNotFound {
		t.Errorf("global = %s with every interval not found", rec.GlobalStatus)
	}
}

func TestReactivateFresh(t *testing.T) {
	reg := newTestRegistry(t, Options{Freshness: 90 * 24 * time.Hour})
	now := time.Now().UTC()

	// AAPL last produced rows 10 days ago, TSLA 100 days ago.
	for symbol, age := range map[string]time.Duration{
		"AAPL": 10 * 24 * time.Hour,
		"TSLA": 100 * 24 * time.Hour,
	} {
		if _, err := reg.Add(symbol); err != nil {
			t.Fatal(err)
		}
		if err := reg.MarkFound(symbol, types.Interval1d, now.Add(-age), nil); err != nil {
			t.Fatal(err)
		}
		if err := reg.MarkNotFound(symbol, types.Interval1d); err != nil {
			t.Fatal(err)
		}
	}
	if got := reg.GloballyNotFound(); len(got) != 2 {
		t.Fatalf("globally not found = %v", got)
	}

	reactivated := reg.ReactivateFresh(now)
	if len(reactivated) != 1 || reactivated[0] != "AAPL" {
		t.Fatalf("reactivated = %v, want [AAPL]", reactivated)
	}

	rec, _ := reg.Get("AAPL")
	if rec.GlobalStatus != StatusActive {
		t.Error("AAPL not globally active after sweep")
	}
	state := rec.State(types.Interval1d)
	if state.Status != StatusActive || state.LastNotFoundAt != nil {
		t.Errorf("AAPL 1d state after sweep = %+v", state)
	}

	rec, _ = reg.Get("TSLA")
	if rec.GlobalStatus != StatusNotFound {
		t.Error("stale TSLA reactivated")
	}

	// Second sweep finds nothing new.
	if again := reg.ReactivateFresh(now); len(again) != 0 {
		t.Errorf("second sweep reactivated %v", again)
	}
}

func TestDeactivate(t *testing.T) {
	reg := newTestRegistry(t, Options{})
	if _, err := reg.Add("AAPL"); err != nil {
		t.Fatal(err)
	}
	if err := reg.MarkFound("AAPL", types.Interval1d, time.Time{}, nil); err != nil {
		t.Fatal(err)
	}

	if err := reg.Deactivate("AAPL"); err != nil {
		t.Fatalf("deactivate: %v", err)
	}

	rec, _ := reg.Get("AAPL")
	if rec.GlobalStatus != StatusNotFound {
		t.Errorf("global = %s", rec.GlobalStatus)
	}
	state := rec.State(types.Interval1d)
	if state.Status != StatusNotFound || state.LastNotFoundAt == nil {
		t.Errorf("interval state = %+v", state)
	}
	if reg.Eligible("AAPL", types.Interval1d, time.Now()) {
		t.Error("deactivated symbol eligible")
	}

	if err := reg.Deactivate("MSFT"); !errors.Is(err, errors.ErrSymbolNotFound) {
		t.Errorf("deactivate unknown: %v", err)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "registry.json")

	reg, err := Load(path, Options{})
	if err != nil {
		t.Fatal(err)
	}
	for _, symbol := range []string{"MSFT", "AAPL"} {
		if _, err := reg.Add(symbol); err != nil {
			t.Fatal(err)
		}
	}
	dataAt := time.Date(2025, 7, 15, 0, 0, 0, 0, time.UTC)
	route := &StorageRoute{Backend: "flat"}
	if err := reg.MarkFound("AAPL", types.Interval1d, dataAt, route); err != nil {
		t.Fatal(err)
	}
	if err := reg.MarkNotFound("MSFT", types.Interval1h); err != nil {
		t.Fatal(err)
	}

	if err := reg.Save(); err != nil {
		t.Fatalf("save: %v", err)
	}

	loaded, err := Load(path, Options{})
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if loaded.Len() != 2 {
		t.Fatalf("loaded %d symbols", loaded.Len())
	}

	aapl, ok := loaded.Get("AAPL")
	if !ok {
		t.Fatal("AAPL missing after reload")
	}
	state := aapl.State(types.Interval1d)
	if state == nil || state.Status != StatusActive {
		t.Fatalf("AAPL 1d state = %+v", state)
	}
	if state.LastDataAt == nil || !state.LastDataAt.Equal(dataAt) {
		t.Errorf("last_data_at = %v", state.LastDataAt)
	}
	if state.Route == nil || state.Route.Backend != "flat" {
		t.Errorf("route = %+v", state.Route)
	}

	msft, _ := loaded.Get("MSFT")
	if msft.GlobalStatus != StatusNotFound {
		t.Errorf("MSFT global = %s", msft.GlobalStatus)
	}
	if s := msft.State(types.Interval1h); s == nil || s.LastNotFoundAt == nil {
		t.Errorf("MSFT 1h state = %+v", s)
	}
}

func TestLoadToleratesUnknownFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "registry.json")
	doc := `{
  "version": 1,
  "updated_at": "2025-08-01T00:00:00Z",
  "future_field": true,
  "symbols": [
    {
      "symbol": "AAPL",
      "global_status": "active",
      "added_at": "2025-01-01T00:00:00Z",
      "intervals": {
        "1d": {"status": "active", "exchange_hint": "NASDAQ"}
      }
    }
  ]
}`
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}

	reg, err := Load(path, Options{})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	rec, ok := reg.Get("AAPL")
	if !ok || rec.State(types.Interval1d) == nil {
		t.Fatalf("record = %+v", rec)
	}
}

func TestLoadRejectsBadSnapshots(t *testing.T) {
	cases := []struct {
		name string
		doc  string
	}{
		{"wrong version", `{"version": 9, "symbols": []}`},
		{"bad global status", `{"version": 1, "symbols": [{"symbol": "AAPL", "global_status": "paused", "added_at": "2025-01-01T00:00:00Z"}]}`},
		{"bad interval", `{"version": 1, "symbols": [{"symbol": "AAPL", "global_status": "active", "added_at": "2025-01-01T00:00:00Z", "intervals": {"2d": {"status": "active"}}}]}`},
		{"not found without timestamp", `{"version": 1, "symbols": [{"symbol": "AAPL", "global_status": "active", "added_at": "2025-01-01T00:00:00Z", "intervals": {"1d": {"status": "not_found"}}}]}`},
		{"active with cooldown stamp", `{"version": 1, "symbols": [{"symbol": "AAPL", "global_status": "active", "added_at": "2025-01-01T00:00:00Z", "intervals": {"1d": {"status": "active", "last_not_found_at": "2025-06-01T00:00:00Z"}}}]}`},
		{"garbage", `{{{`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "registry.json")
			if err := os.WriteFile(path, []byte(tc.doc), 0o644); err != nil {
				t.Fatal(err)
			}
			if _, err := Load(path, Options{}); err == nil {
				t.Error("bad snapshot accepted")
			}
		})
	}
}

func TestDirtyTracking(t *testing.T) {
	path := filepath.Join(t.TempDir(), "registry.json")
	reg, err := Load(path, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if reg.Dirty() {
		t.Error("fresh registry dirty")
	}

	if _, err := reg.Add("AAPL"); err != nil {
		t.Fatal(err)
	}
	if !reg.Dirty() {
		t.Error("add did not mark dirty")
	}

	if err := reg.Save(); err != nil {
		t.Fatal(err)
	}
	if reg.Dirty() {
		t.Error("save did not clear dirty")
	}

	if err := reg.MarkFound("AAPL", types.Interval1d, time.Time{}, nil); err != nil {
		t.Fatal(err)
	}
	if !reg.Dirty() {
		t.Error("transition did not mark dirty")
	}
}

func TestStats(t *testing.T) {
	reg := newTestRegistry(t, Options{Cooldown: time.Hour})
	now := time.Now()

	for _, symbol := range []string{"AAPL", "MSFT", "TSLA"} {
		if _, err := reg.Add(symbol); err != nil {
			t.Fatal(err)
		}
	}
	if err := reg.MarkFound("AAPL", types.Interval1d, time.Time{}, nil); err != nil {
		t.Fatal(err)
	}
	if err := reg.MarkNotFound("MSFT", types.Interval1d); err != nil {
		t.Fatal(err)
	}

	s := reg.Stats(now)
	if s.Symbols != 3 || s.GloballyActive != 2 || s.GloballyNotFound != 1 {
		t.Errorf("stats = %+v", s)
	}
	if s.CoolingIntervals != 1 {
		t.Errorf("cooling = %d", s.CoolingIntervals)
	}

	// After the cooldown the interval stops counting as cooling.
	if s := reg.Stats(now.Add(2 * time.Hour)); s.CoolingIntervals != 0 {
		t.Errorf("cooling after window = %d", s.CoolingIntervals)
	}
}
