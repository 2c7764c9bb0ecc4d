// Package scheduler drives update passes over the symbol registry.
//
// A pass walks the configured intervals in order and, for each, every
// eligible symbol: wait for a rate-limiter slot, fetch the window since the
// last persisted row, merge the result into storage, record the outcome in
// the registry. One symbol failing never aborts the pass. The registry is
// saved once at the end, also on cancellation, so a crash loses at most the
// in-flight cycle's bookkeeping.
//
// The package also houses the maintenance jobs that probe and reactivate
// not-found symbols.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/DataDog/sketches-go/ddsketch"

	"github.com/feedvault/feedvault/internal/errors"
	"github.com/feedvault/feedvault/internal/fetch"
	"github.com/feedvault/feedvault/internal/logging"
	"github.com/feedvault/feedvault/internal/registry"
	"github.com/feedvault/feedvault/internal/storage/engine"
	"github.com/feedvault/feedvault/internal/storage/types"
)

var log = logging.Component("scheduler")

// =============================================================================
// Pass Report
// =============================================================================

// PassReport summarizes one update pass. Counts are per (symbol, interval)
// task.
type PassReport struct {
	StartedAt time.Time
	Duration  time.Duration

	// Tasks is the number of eligible tasks attempted.
	Tasks int

	// Updated counts fetches that succeeded, including quiet windows.
	Updated int

	// Skipped counts tasks held back by a not-found cooldown.
	Skipped int

	// NotFound counts definitive no-data answers.
	NotFound int

	// Failed counts transient fetch or store failures.
	Failed int

	RowsMerged        int
	PartitionsTouched int
	Recovered         int

	// Failures maps "SYMBOL/interval" to the failure that was contained.
	Failures map[string]string

	// latencies tracks per-task fetch+store seconds.
	latencies *ddsketch.DDSketch
}

func newPassReport() *PassReport {
	r := &PassReport{
		StartedAt: time.Now().UTC(),
		Failures:  make(map[string]string),
	}
	sketch, err := ddsketch.NewDefaultDDSketch(0.01)
	if err == nil {
		r.latencies = sketch
	}
	return r
}

func (r *PassReport) observe(d time.Duration) {
	if r.latencies != nil {
		r.latencies.Add(d.Seconds())
	}
}

func (r *PassReport) fail(symbol string, interval types.Interval, err error) {
	r.Failed++
	r.Failures[symbol+"/"+string(interval)] = err.Error()
}

// LatencyQuantiles returns the p50/p95/p99 of per-task latency. All zero
// when the pass attempted nothing.
func (r *PassReport) LatencyQuantiles() (p50, p95, p99 time.Duration) {
	if r.latencies == nil || r.latencies.GetCount() == 0 {
		return 0, 0, 0
	}
	q50, _ := r.latencies.GetValueAtQuantile(0.50)
	q95, _ := r.latencies.GetValueAtQuantile(0.95)
	q99, _ := r.latencies.GetValueAtQuantile(0.99)
	return secondsToDuration(q50), secondsToDuration(q95), secondsToDuration(q99)
}

func secondsToDuration(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// =============================================================================
// Update Scheduler
// =============================================================================

// UpdateScheduler runs update passes for one workspace scope.
type UpdateScheduler struct {
	reg     *registry.Registry
	client  fetch.Client
	store   *engine.Selector
	limiter *RateLimiter
	market  string
	source  string
}

// NewUpdateScheduler creates a scheduler. market and source scope every
// series key the pass writes.
func NewUpdateScheduler(reg *registry.Registry, client fetch.Client, store *engine.Selector, limiter *RateLimiter, market, source string) *UpdateScheduler {
	return &UpdateScheduler{
		reg:     reg,
		client:  client,
		store:   store,
		limiter: limiter,
		market:  market,
		source:  source,
	}
}

// Run executes one pass over the given intervals. A non-empty symbolFilter
// restricts the pass to those symbols. The registry is saved before Run
// returns, including on cancellation.
func (s *UpdateScheduler) Run(ctx context.Context, intervals []types.Interval, symbolFilter []string) (*PassReport, error) {
	if len(intervals) == 0 {
		return nil, fmt.Errorf("no intervals to update")
	}
	for _, iv := range intervals {
		if !iv.Valid() {
			return nil, fmt.Errorf("%w: %s", errors.ErrInvalidInterval, iv)
		}
	}

	symbols := s.reg.Symbols()
	if len(symbolFilter) > 0 {
		symbols = filterSymbols(symbols, symbolFilter)
	}

	report := newPassReport()
	log.Info("update pass started",
		"symbols", len(symbols),
		"intervals", len(intervals))

	var cancelled error
passLoop:
	for _, interval := range intervals {
		for _, symbol := range symbols {
			if err := ctx.Err(); err != nil {
				cancelled = err
				break passLoop
			}
			if !s.reg.Eligible(symbol, interval, time.Now()) {
				report.Skipped++
				continue
			}

			report.Tasks++
			if err := s.processSymbol(ctx, symbol, interval, report); err != nil {
				// Only cancellation escapes processSymbol.
				cancelled = err
				break passLoop
			}
		}
	}

	// One save for the whole pass. On cancellation this persists the
	// partial results so the next run resumes cleanly.
	if s.reg.Dirty() {
		if err := s.reg.Save(); err != nil {
			return report, fmt.Errorf("save registry: %w", err)
		}
	}

	report.Duration = time.Since(report.StartedAt)
	p50, p95, p99 := report.LatencyQuantiles()
	log.Info("update pass finished",
		"updated", report.Updated,
		"skipped", report.Skipped,
		"not_found", report.NotFound,
		"failed", report.Failed,
		"rows_merged", report.RowsMerged,
		"p50_ms", p50.Milliseconds(),
		"p95_ms", p95.Milliseconds(),
		"p99_ms", p99.Milliseconds(),
		"cancelled", cancelled != nil)

	return report, cancelled
}

// RunEvery runs passes in a cooperative loop until ctx is cancelled,
// sleeping between passes. Cancellation is a clean exit.
func (s *UpdateScheduler) RunEvery(ctx context.Context, every time.Duration, intervals []types.Interval, symbolFilter []string) error {
	if every <= 0 {
		return fmt.Errorf("invalid pass period %v", every)
	}

	for {
		_, err := s.Run(ctx, intervals, symbolFilter)
		if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		if ctx.Err() != nil {
			return nil
		}

		log.Debug("sleeping until next pass", "every", every)
		if err := sleepContext(ctx, every); err != nil {
			return nil
		}
	}
}

// processSymbol runs one fetch+store task. Fetch and store failures are
// contained in the report; only cancellation is returned.
func (s *UpdateScheduler) processSymbol(ctx context.Context, symbol string, interval types.Interval, report *PassReport) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return err
	}

	start := time.Now()
	since := s.fetchSince(symbol, interval)

	bars, err := s.client.Fetch(ctx, symbol, interval, since, time.Now())
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if errors.Is(err, errors.ErrNoData) {
			if merr := s.reg.MarkNotFound(symbol, interval); merr != nil {
				report.fail(symbol, interval, merr)
				return nil
			}
			report.NotFound++
			report.observe(time.Since(start))
			log.Info("symbol not found upstream", "symbol", symbol, "interval", interval)
			return nil
		}
		report.fail(symbol, interval, err)
		log.Warn("fetch failed", "symbol", symbol, "interval", interval, "error", err)
		return nil
	}

	key := types.SeriesKey{Market: s.market, Source: s.source, Symbol: symbol, Interval: interval}
	backend := s.store.For(key)

	var stats engine.WriteStats
	if len(bars) > 0 {
		stats, err = backend.MergeWrite(key, bars)
		if err != nil {
			report.fail(symbol, interval, err)
			log.Warn("store failed", "symbol", symbol, "interval", interval, "error", err)
			return nil
		}
	}

	route := &registry.StorageRoute{
		Backend: string(backend.Kind()),
		Market:  s.market,
		Source:  s.source,
	}
	if err := s.reg.MarkFound(symbol, interval, latestBarTime(bars), route); err != nil {
		report.fail(symbol, interval, err)
		return nil
	}

	report.Updated++
	report.RowsMerged += stats.Merged()
	report.PartitionsTouched += stats.PartitionsTouched
	report.Recovered += stats.Recovered
	report.observe(time.Since(start))

	log.Debug("symbol updated",
		"symbol", symbol,
		"interval", interval,
		"fetched", len(bars),
		"merged", stats.Merged())
	return nil
}

// fetchSince computes the lower fetch bound: one interval past the latest
// persisted row, or the zero time for full history.
func (s *UpdateScheduler) fetchSince(symbol string, interval types.Interval) time.Time {
	rec, ok := s.reg.Get(symbol)
	if !ok {
		return time.Time{}
	}
	state := rec.State(interval)
	if state == nil || state.LastDataAt == nil {
		return time.Time{}
	}
	return state.LastDataAt.Add(interval.Duration())
}

// filterSymbols intersects the registry's symbols with the filter,
// preserving registry order. Filter entries the registry does not know
// are logged and dropped.
func filterSymbols(symbols, filter []string) []string {
	known := make(map[string]bool, len(symbols))
	for _, s := range symbols {
		known[s] = true
	}

	want := make(map[string]bool, len(filter))
	for _, f := range filter {
		if !known[f] {
			log.Warn("filter symbol not in registry", "symbol", f)
			continue
		}
		want[f] = true
	}

	out := make([]string, 0, len(want))
	for _, s := range symbols {
		if want[s] {
			out = append(out, s)
		}
	}
	return out
}

// latestBarTime returns the open time of the latest bar, or the zero time
// for an empty batch.
func latestBarTime(bars []types.Bar) time.Time {
	var maxMs int64
	for _, b := range bars {
		if b.TimestampMs > maxMs {
			maxMs = b.TimestampMs
		}
	}
	if maxMs == 0 {
		return time.Time{}
	}
	return time.UnixMilli(maxMs).UTC()
}
