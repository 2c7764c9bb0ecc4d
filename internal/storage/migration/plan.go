package migration

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/feedvault/feedvault/internal/errors"
	"github.com/feedvault/feedvault/internal/storage/atomicfile"
	"github.com/feedvault/feedvault/internal/storage/types"
)

// planVersion is the plan file format version.
const planVersion = 1

// Plan is the persistent migration plan. It survives interrupted runs;
// entries already activated are skipped when the run resumes.
type Plan struct {
	Version   int       `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Entries   []*Entry  `json:"entries"`
}

// Entry tracks the migration of one (market, source, interval) dataset.
type Entry struct {
	Market   string         `json:"market"`
	Source   string         `json:"source"`
	Interval types.Interval `json:"interval"`

	// Symbols holds the legacy symbols discovered at plan time.
	Symbols []string `json:"symbols"`

	// Totals filled in by verification. Checksums are xors of the
	// per-symbol digests, so they are order independent.
	LegacyRows          int64  `json:"legacy_rows"`
	PartitionedRows     int64  `json:"partitioned_rows"`
	LegacyChecksum      uint64 `json:"legacy_checksum"`
	PartitionedChecksum uint64 `json:"partitioned_checksum"`

	CopiedAt   *time.Time `json:"copied_at,omitempty"`
	VerifiedAt *time.Time `json:"verified_at,omitempty"`

	// Activated is set once verification passed and the backend flag
	// was flipped. Activated entries are never reprocessed.
	Activated bool `json:"activated"`

	// Failures maps symbol to the failure that blocked it, from the
	// most recent run.
	Failures map[string]string `json:"failures,omitempty"`
}

// Scope returns the entry's "market/source/interval" identifier.
func (e *Entry) Scope() string {
	return e.Market + "/" + e.Source + "/" + string(e.Interval)
}

// Series returns the partitioned series key for one of the entry's symbols.
func (e *Entry) Series(symbol string) types.SeriesKey {
	return types.SeriesKey{
		Market:   e.Market,
		Source:   e.Source,
		Symbol:   symbol,
		Interval: e.Interval,
	}
}

// LegacySeries returns the legacy series key for one of the entry's symbols.
func (e *Entry) LegacySeries(symbol string) types.SeriesKey {
	return types.SeriesKey{Symbol: symbol, Interval: e.Interval}
}

func (e *Entry) setFailure(symbol, reason string) {
	if e.Failures == nil {
		e.Failures = make(map[string]string)
	}
	e.Failures[symbol] = reason
}

// NewPlan creates an empty plan stamped with the current time.
func NewPlan() *Plan {
	now := time.Now().UTC()
	return &Plan{
		Version:   planVersion,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// LoadPlan reads a plan file. A missing file yields ErrPlanNotFound.
func LoadPlan(path string) (*Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%s: %w", path, errors.ErrPlanNotFound)
		}
		return nil, fmt.Errorf("read plan: %w", err)
	}

	var plan Plan
	if err := json.Unmarshal(data, &plan); err != nil {
		return nil, fmt.Errorf("parse plan %s: %w", path, err)
	}
	if plan.Version != planVersion {
		return nil, fmt.Errorf("plan %s: unsupported version %d", path, plan.Version)
	}

	return &plan, nil
}

// Save atomically writes the plan to path.
func (p *Plan) Save(path string) error {
	p.UpdatedAt = time.Now().UTC()

	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal plan: %w", err)
	}
	if err := atomicfile.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write plan: %w", err)
	}
	return nil
}

// Find returns the entry for a scope, or nil.
func (p *Plan) Find(market, source string, interval types.Interval) *Entry {
	for _, e := range p.Entries {
		if e.Market == market && e.Source == source && e.Interval == interval {
			return e
		}
	}
	return nil
}

// Pending returns the entries that are not yet activated.
func (p *Plan) Pending() []*Entry {
	var out []*Entry
	for _, e := range p.Entries {
		if !e.Activated {
			out = append(out, e)
		}
	}
	return out
}
