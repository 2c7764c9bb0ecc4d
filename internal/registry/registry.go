// Package registry tracks per-symbol, per-interval lifecycle state.
//
// The registry is the single source of truth for scheduling decisions: which
// symbols exist, which are active, which came back empty and are cooling
// down. It is persisted as one JSON snapshot, loaded wholesale at the start
// of an operation and saved wholesale at the end.
//
// All transitions go through Registry methods so the stored invariants hold
// by construction: a not-found interval always carries last_not_found_at, a
// found interval never does, and the global status is recomputed on every
// interval transition.
package registry

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/feedvault/feedvault/config"
	"github.com/feedvault/feedvault/internal/errors"
	"github.com/feedvault/feedvault/internal/storage/atomicfile"
	"github.com/feedvault/feedvault/internal/storage/types"
	"github.com/feedvault/feedvault/internal/validation"
)

// registryVersion is the snapshot format version.
const registryVersion = 1

// =============================================================================
// Status Constants
// =============================================================================

// Status is a lifecycle status, used both per interval and globally.
type Status string

const (
	// StatusActive means the symbol (or one of its intervals) is being
	// updated normally.
	StatusActive Status = "active"

	// StatusNotFound means the upstream reported no data. Per interval it
	// implies a cooldown; globally it removes the symbol from regular
	// passes until the maintainer reactivates it.
	StatusNotFound Status = "not_found"
)

// Valid returns true if the status is a known value.
func (s Status) Valid() bool {
	return s == StatusActive || s == StatusNotFound
}

// =============================================================================
// Records
// =============================================================================

// StorageRoute hints where a series landed so later runs resolve paths
// without rescanning the tree.
type StorageRoute struct {
	Backend string `json:"backend"`
	Market  string `json:"market,omitempty"`
	Source  string `json:"source,omitempty"`
}

// IntervalState is the lifecycle state of one (symbol, interval) series.
//
// Mutate it only through Registry methods; direct field writes can break
// the status/timestamp invariants the rest of the system relies on.
type IntervalState struct {
	Status Status `json:"status"`

	// LastFoundAt is when a fetch last returned data.
	LastFoundAt *time.Time `json:"last_found_at,omitempty"`

	// LastDataAt is the open time of the latest persisted row.
	LastDataAt *time.Time `json:"last_data_at,omitempty"`

	// LastCheckedAt is when a fetch last completed, with or without data.
	LastCheckedAt *time.Time `json:"last_checked_at,omitempty"`

	// LastNotFoundAt starts the cooldown. Set exactly when Status is
	// StatusNotFound.
	LastNotFoundAt *time.Time `json:"last_not_found_at,omitempty"`

	// Route is where the series is stored, if known.
	Route *StorageRoute `json:"storage_route,omitempty"`
}

// SymbolRecord is the registry entry for one symbol. Records are created on
// first discovery and never deleted; deactivation is a status transition.
type SymbolRecord struct {
	Symbol       string                            `json:"symbol"`
	GlobalStatus Status                            `json:"global_status"`
	AddedAt      time.Time                         `json:"added_at"`
	LastChecked  *time.Time                        `json:"last_checked,omitempty"`
	Intervals    map[types.Interval]*IntervalState `json:"intervals"`
}

// State returns the record's state for one interval, or nil if the interval
// has never been checked.
func (r *SymbolRecord) State(interval types.Interval) *IntervalState {
	return r.Intervals[interval]
}

// document is the on-disk snapshot shape.
type document struct {
	Version   int             `json:"version"`
	UpdatedAt time.Time       `json:"updated_at"`
	Symbols   []*SymbolRecord `json:"symbols"`
}

// =============================================================================
// Registry
// =============================================================================

// Options configures the registry's scheduling windows.
type Options struct {
	// Cooldown is how long a not-found interval is left alone before the
	// scheduler may probe it again.
	Cooldown time.Duration

	// Freshness bounds the reactivation sweep: a globally not-found
	// symbol whose latest persisted row is younger than this comes back.
	Freshness time.Duration
}

// DefaultOptions returns the default scheduling windows.
func DefaultOptions() Options {
	return Options{
		Cooldown:  config.DefaultCooldown,
		Freshness: config.DefaultFreshness,
	}
}

// Registry holds all symbol records in memory.
//
// Registry is safe for concurrent use, though the workspace lock means a
// single mutator in practice.
type Registry struct {
	mu      sync.RWMutex
	path    string
	opts    Options
	records map[string]*SymbolRecord
	dirty   bool
}

// Load reads the registry snapshot at path. A missing file yields an empty
// registry; the first Save creates it.
func Load(path string, opts Options) (*Registry, error) {
	if opts.Cooldown <= 0 {
		opts.Cooldown = DefaultOptions().Cooldown
	}
	if opts.Freshness <= 0 {
		opts.Freshness = DefaultOptions().Freshness
	}

	reg := &Registry{
		path:    path,
		opts:    opts,
		records: make(map[string]*SymbolRecord),
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return reg, nil
		}
		return nil, fmt.Errorf("read registry: %w", err)
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse registry %s: %w", path, err)
	}
	if doc.Version != registryVersion {
		return nil, fmt.Errorf("registry version %d: %w", doc.Version, errors.ErrRegistryVersion)
	}

	for _, rec := range doc.Symbols {
		if err := checkRecord(rec); err != nil {
			return nil, fmt.Errorf("registry %s: %w", path, err)
		}
		if rec.Intervals == nil {
			rec.Intervals = make(map[types.Interval]*IntervalState)
		}
		reg.records[rec.Symbol] = rec
	}
	return reg, nil
}

// checkRecord rejects snapshots that violate the stored invariants.
func checkRecord(rec *SymbolRecord) error {
	if err := validation.ValidateSymbol(rec.Symbol); err != nil {
		return err
	}
	if !rec.GlobalStatus.Valid() {
		return fmt.Errorf("symbol %s: unknown global status %q", rec.Symbol, rec.GlobalStatus)
	}
	for interval, state := range rec.Intervals {
		if !interval.Valid() {
			return fmt.Errorf("symbol %s: %w: %s", rec.Symbol, errors.ErrInvalidInterval, interval)
		}
		if state == nil || !state.Status.Valid() {
			return fmt.Errorf("symbol %s %s: unknown status", rec.Symbol, interval)
		}
		if state.Status == StatusNotFound && state.LastNotFoundAt == nil {
			return fmt.Errorf("symbol %s %s: not_found without last_not_found_at", rec.Symbol, interval)
		}
		if state.Status == StatusActive && state.LastNotFoundAt != nil {
			return fmt.Errorf("symbol %s %s: active with last_not_found_at", rec.Symbol, interval)
		}
	}
	return nil
}

// Path returns the snapshot path.
func (g *Registry) Path() string {
	return g.path
}

// Dirty returns true if there are unsaved changes.
func (g *Registry) Dirty() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.dirty
}

// Save writes the snapshot atomically and clears the dirty flag.
func (g *Registry) Save() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	doc := document{
		Version:   registryVersion,
		UpdatedAt: time.Now().UTC(),
		Symbols:   make([]*SymbolRecord, 0, len(g.records)),
	}
	for _, rec := range g.records {
		doc.Symbols = append(doc.Symbols, rec)
	}
	sort.Slice(doc.Symbols, func(i, j int) bool {
		return doc.Symbols[i].Symbol < doc.Symbols[j].Symbol
	})

	data, err := json.MarshalIndent(&doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal registry: %w", err)
	}
	data = append(data, '\n')

	if err := atomicfile.WriteFile(g.path, data, 0o644); err != nil {
		return fmt.Errorf("write registry: %w", err)
	}
	g.dirty = false
	return nil
}

// =============================================================================
// Lookup
// =============================================================================

// Len returns the number of symbol records.
func (g *Registry) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.records)
}

// Symbols returns all symbols, sorted ascending.
func (g *Registry) Symbols() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	symbols := make([]string, 0, len(g.records))
	for symbol := range g.records {
		symbols = append(symbols, symbol)
	}
	sort.Strings(symbols)
	return symbols
}

// Get returns a copy of one symbol's record.
func (g *Registry) Get(symbol string) (*SymbolRecord, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	rec, ok := g.records[symbol]
	if !ok {
		return nil, false
	}
	return copyRecord(rec), true
}

// All returns copies of every record, sorted by symbol.
func (g *Registry) All() []*SymbolRecord {
	g.mu.RLock()
	defer g.mu.RUnlock()

	out := make([]*SymbolRecord, 0, len(g.records))
	for _, rec := range g.records {
		out = append(out, copyRecord(rec))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// GloballyNotFound returns the symbols currently out of rotation, sorted.
func (g *Registry) GloballyNotFound() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var symbols []string
	for symbol, rec := range g.records {
		if rec.GlobalStatus == StatusNotFound {
			symbols = append(symbols, symbol)
		}
	}
	sort.Strings(symbols)
	return symbols
}

// Eligible reports whether the scheduler should fetch (symbol, interval)
// at the given time. Symbols never checked on an interval are eligible;
// not-found intervals become eligible again once the cooldown elapses.
func (g *Registry) Eligible(symbol string, interval types.Interval, now time.Time) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()

	rec, ok := g.records[symbol]
	if !ok || rec.GlobalStatus != StatusActive {
		return false
	}
	state, ok := rec.Intervals[interval]
	if !ok {
		return true
	}
	switch state.Status {
	case StatusActive:
		return true
	case StatusNotFound:
		return !now.Before(state.LastNotFoundAt.Add(g.opts.Cooldown))
	default:
		return false
	}
}

// Stats summarizes the registry for logs and the symbols command.
type Stats struct {
	Symbols          int
	GloballyActive   int
	GloballyNotFound int
	CoolingIntervals int
}

// Stats returns registry counts. Cooling intervals are counted at the
// given time.
func (g *Registry) Stats(now time.Time) Stats {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var s Stats
	s.Symbols = len(g.records)
	for _, rec := range g.records {
		if rec.GlobalStatus == StatusActive {
			s.GloballyActive++
		} else {
			s.GloballyNotFound++
		}
		for _, state := range rec.Intervals {
			if state.Status == StatusNotFound && now.Before(state.LastNotFoundAt.Add(g.opts.Cooldown)) {
				s.CoolingIntervals++
			}
		}
	}
	return s
}

// =============================================================================
// Transitions
// =============================================================================

// Add creates a record for a newly discovered symbol.
func (g *Registry) Add(symbol string) (*SymbolRecord, error) {
	if err := validation.ValidateSymbol(symbol); err != nil {
		return nil, err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.records[symbol]; ok {
		return nil, fmt.Errorf("%s: %w", symbol, errors.ErrSymbolAlreadyExists)
	}
	rec := &SymbolRecord{
		Symbol:       symbol,
		GlobalStatus: StatusActive,
		AddedAt:      time.Now().UTC(),
		Intervals:    make(map[types.Interval]*IntervalState),
	}
	g.records[symbol] = rec
	g.dirty = true
	return copyRecord(rec), nil
}

// MarkFound records a fetch that returned data for (symbol, interval).
// dataAt is the open time of the latest persisted row; pass the zero time
// to leave last_data_at untouched. route, when non-nil, replaces the
// stored storage route.
func (g *Registry) MarkFound(symbol string, interval types.Interval, dataAt time.Time, route *StorageRoute) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	rec, ok := g.records[symbol]
	if !ok {
		return fmt.Errorf("%s: %w", symbol, errors.ErrSymbolNotFound)
	}

	now := time.Now().UTC()
	state := rec.Intervals[interval]
	if state == nil {
		state = &IntervalState{}
		rec.Intervals[interval] = state
	}

	state.Status = StatusActive
	state.LastFoundAt = &now
	state.LastCheckedAt = &now
	state.LastNotFoundAt = nil
	if !dataAt.IsZero() {
		utc := dataAt.UTC()
		state.LastDataAt = &utc
	}
	if route != nil {
		r := *route
		state.Route = &r
	}

	rec.LastChecked = &now
	g.recomputeGlobal(rec)
	g.dirty = true
	return nil
}

// MarkNotFound records a fetch that definitively returned no data for
// (symbol, interval). The interval enters cooldown; history (last_found_at,
// last_data_at) is kept for the reactivation sweep.
func (g *Registry) MarkNotFound(symbol string, interval types.Interval) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	rec, ok := g.records[symbol]
	if !ok {
		return fmt.Errorf("%s: %w", symbol, errors.ErrSymbolNotFound)
	}

	now := time.Now().UTC()
	state := rec.Intervals[interval]
	if state == nil {
		state = &IntervalState{}
		rec.Intervals[interval] = state
	}

	state.Status = StatusNotFound
	state.LastNotFoundAt = &now
	state.LastCheckedAt = &now

	rec.LastChecked = &now
	g.recomputeGlobal(rec)
	g.dirty = true
	return nil
}

// Deactivate takes a symbol out of rotation by operator request. Every
// tracked interval enters cooldown so probes stay paced.
func (g *Registry) Deactivate(symbol string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	rec, ok := g.records[symbol]
	if !ok {
		return fmt.Errorf("%s: %w", symbol, errors.ErrSymbolNotFound)
	}

	now := time.Now().UTC()
	for _, state := range rec.Intervals {
		state.Status = StatusNotFound
		if state.LastNotFoundAt == nil {
			state.LastNotFoundAt = &now
		}
	}
	rec.GlobalStatus = StatusNotFound
	g.dirty = true
	return nil
}

// ReactivateFresh sweeps globally not-found symbols and brings back any
// whose latest persisted row on some interval is younger than the
// freshness window. Those intervals return to active so the next pass
// picks them up. It returns the reactivated symbols, sorted.
func (g *Registry) ReactivateFresh(now time.Time) []string {
	g.mu.Lock()
	defer g.mu.Unlock()

	var reactivated []string
	for symbol, rec := range g.records {
		if rec.GlobalStatus != StatusNotFound {
			continue
		}

		fresh := false
		for _, state := range rec.Intervals {
			if state.LastDataAt == nil {
				continue
			}
			if now.Sub(*state.LastDataAt) <= g.opts.Freshness {
				state.Status = StatusActive
				state.LastNotFoundAt = nil
				fresh = true
			}
		}
		if fresh {
			rec.GlobalStatus = StatusActive
			reactivated = append(reactivated, symbol)
			g.dirty = true
		}
	}
	sort.Strings(reactivated)
	return reactivated
}

// recomputeGlobal derives the global status from the interval states: a
// symbol with every tracked interval not-found is globally not-found.
// Callers hold the write lock.
func (g *Registry) recomputeGlobal(rec *SymbolRecord) {
	if len(rec.Intervals) == 0 {
		rec.GlobalStatus = StatusActive
		return
	}
	for _, state := range rec.Intervals {
		if state.Status == StatusActive {
			rec.GlobalStatus = StatusActive
			return
		}
	}
	rec.GlobalStatus = StatusNotFound
}

// =============================================================================
// Copy helpers
// =============================================================================

func copyRecord(rec *SymbolRecord) *SymbolRecord {
	out := &SymbolRecord{
		Symbol:       rec.Symbol,
		GlobalStatus: rec.GlobalStatus,
		AddedAt:      rec.AddedAt,
		LastChecked:  copyTime(rec.LastChecked),
		Intervals:    make(map[types.Interval]*IntervalState, len(rec.Intervals)),
	}
	for interval, state := range rec.Intervals {
		out.Intervals[interval] = copyState(state)
	}
	return out
}

func copyState(state *IntervalState) *IntervalState {
	out := &IntervalState{
		Status:         state.Status,
		LastFoundAt:    copyTime(state.LastFoundAt),
		LastDataAt:     copyTime(state.LastDataAt),
		LastCheckedAt:  copyTime(state.LastCheckedAt),
		LastNotFoundAt: copyTime(state.LastNotFoundAt),
	}
	if state.Route != nil {
		r := *state.Route
		out.Route = &r
	}
	return out
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}
