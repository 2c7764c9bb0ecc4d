// Package migration moves legacy flat datasets into the partitioned layout.
//
// A migration is planned once, then run to completion across any number of
// attempts. Each (market, source, interval) dataset is copied symbol by
// symbol, verified against the original through DuckDB, and only then
// activated by flipping the backend flag. Legacy files are left in place;
// after activation they simply stop receiving writes.
package migration

import (
	"context"
	"fmt"
	"os"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/feedvault/feedvault/config"
	"github.com/feedvault/feedvault/internal/errors"
	"github.com/feedvault/feedvault/internal/logging"
	"github.com/feedvault/feedvault/internal/storage/engine"
	"github.com/feedvault/feedvault/internal/storage/flags"
	"github.com/feedvault/feedvault/internal/storage/layout"
	"github.com/feedvault/feedvault/internal/storage/types"
	"github.com/feedvault/feedvault/internal/validation"
)

var log = logging.Component("migration")

// Options configures the coordinator.
type Options struct {
	// SpaceFactor scales the legacy byte size when estimating how much
	// free space a copy needs.
	SpaceFactor float64

	// SpaceMarginBytes is added on top of the scaled estimate.
	SpaceMarginBytes uint64

	// VerifyWorkers bounds concurrent verification queries. Copies stay
	// sequential; only the read-only digests run in parallel.
	VerifyWorkers int

	// MemoryLimit caps DuckDB memory during verification.
	MemoryLimit string
}

// DefaultOptions returns the default coordinator options.
func DefaultOptions() Options {
	return Options{
		SpaceFactor:      config.DefaultSpaceFactor,
		SpaceMarginBytes: config.DefaultSpaceMargin,
		VerifyWorkers:    config.DefaultVerifyWorkers,
		MemoryLimit:      config.DefaultVerifyMemoryLimit,
	}
}

// Coordinator drives dataset migrations.
type Coordinator struct {
	resolver *layout.Resolver
	flags    *flags.Store
	selector *engine.Selector
	planPath string
	opts     Options
}

// New creates a coordinator. The plan lives at planPath.
func New(resolver *layout.Resolver, store *flags.Store, selector *engine.Selector, planPath string, opts Options) *Coordinator {
	if opts.SpaceFactor <= 0 {
		opts.SpaceFactor = DefaultOptions().SpaceFactor
	}
	if opts.VerifyWorkers <= 0 {
		opts.VerifyWorkers = DefaultOptions().VerifyWorkers
	}
	return &Coordinator{
		resolver: resolver,
		flags:    store,
		selector: selector,
		planPath: planPath,
		opts:     opts,
	}
}

// Init discovers the legacy symbols of each interval and writes a fresh
// plan binding them to the given market and source. It refuses to clobber
// an existing plan.
func (c *Coordinator) Init(ctx context.Context, market, source string, intervals []types.Interval) (*Plan, error) {
	if err := validation.ValidateMarket(market); err != nil {
		return nil, err
	}
	if err := validation.ValidateSource(source); err != nil {
		return nil, err
	}
	if len(intervals) == 0 {
		return nil, fmt.Errorf("no intervals given")
	}

	if _, err := os.Stat(c.planPath); err == nil {
		return nil, fmt.Errorf("%s: %w", c.planPath, errors.ErrPlanAlreadyExists)
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	plan := NewPlan()
	for _, iv := range intervals {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !iv.Partitioned() {
			return nil, fmt.Errorf("%w: %s", errors.ErrLegacyOnlyInterval, iv)
		}
		if plan.Find(market, source, iv) != nil {
			return nil, fmt.Errorf("duplicate interval %s", iv)
		}

		symbols, err := c.resolver.ListLegacySymbols(iv)
		if err != nil {
			return nil, fmt.Errorf("list %s: %w", iv.Dataset(), err)
		}

		entry := &Entry{
			Market:   market,
			Source:   source,
			Interval: iv,
			Symbols:  symbols,
		}
		plan.Entries = append(plan.Entries, entry)

		log.Info("planned dataset migration",
			"scope", entry.Scope(),
			"symbols", len(symbols))
	}

	if err := plan.Save(c.planPath); err != nil {
		return nil, err
	}
	return plan, nil
}

// RunReport summarizes one migration run.
type RunReport struct {
	EntriesTotal     int
	EntriesActivated int
	EntriesSkipped   int
	EntriesFailed    int
	SymbolsCopied    int
	RowsCopied       int64
	Recovered        int
	Duration         time.Duration
}

// Run processes every pending plan entry: space check, copy, verify,
// activate. Per-symbol failures mark the entry failed but do not stop the
// run; infrastructure failures (space, I/O, DuckDB) abort it. The plan is
// saved after every entry, so an interrupted run resumes where it stopped.
func (c *Coordinator) Run(ctx context.Context) (*RunReport, error) {
	start := time.Now()

	plan, err := LoadPlan(c.planPath)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(c.resolver.Root(), 0o755); err != nil {
		return nil, fmt.Errorf("create data root: %w", err)
	}

	report := &RunReport{EntriesTotal: len(plan.Entries)}

	for _, entry := range plan.Entries {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if entry.Activated {
			report.EntriesSkipped++
			continue
		}
		if err := c.runEntry(ctx, plan, entry, report); err != nil {
			return report, err
		}
		if entry.Activated {
			report.EntriesActivated++
		} else {
			report.EntriesFailed++
		}
	}

	report.Duration = time.Since(start)

	if report.EntriesFailed > 0 {
		return report, fmt.Errorf("%d of %d datasets not activated: %w",
			report.EntriesFailed, report.EntriesTotal, errors.ErrMigrationIncomplete)
	}
	return report, nil
}

// runEntry migrates one dataset. Returning nil with failures recorded on
// the entry means the dataset stays inactive but the run continues.
func (c *Coordinator) runEntry(ctx context.Context, plan *Plan, entry *Entry, report *RunReport) error {
	elog := log.With("scope", entry.Scope())
	elog.Info("migrating dataset", "symbols", len(entry.Symbols))

	if err := c.checkSpace(entry); err != nil {
		return err
	}

	// Copy. Failures from a previous attempt are cleared; every symbol
	// gets another chance on each run.
	entry.Failures = nil

	flat := c.selector.Flat()
	part := c.selector.Partitioned()

	for _, symbol := range entry.Symbols {
		if err := ctx.Err(); err != nil {
			return err
		}

		rows, err := flat.Read(entry.LegacySeries(symbol))
		if err != nil {
			entry.setFailure(symbol, fmt.Sprintf("read legacy: %v", err))
			continue
		}
		if len(rows) == 0 {
			continue
		}

		stats, err := part.ImportWrite(entry.Series(symbol), rows)
		if err != nil {
			entry.setFailure(symbol, fmt.Sprintf("copy: %v", err))
			continue
		}

		report.SymbolsCopied++
		report.RowsCopied += int64(len(rows))
		report.Recovered += stats.Recovered
	}

	now := time.Now().UTC()
	entry.CopiedAt = &now
	if err := plan.Save(c.planPath); err != nil {
		return err
	}
	if len(entry.Failures) > 0 {
		elog.Warn("copy failed for some symbols, dataset stays inactive",
			"failed", len(entry.Failures))
		return nil
	}

	// Verify.
	if err := c.verifyEntry(ctx, entry); err != nil {
		return err
	}
	if len(entry.Failures) > 0 {
		if err := plan.Save(c.planPath); err != nil {
			return err
		}
		elog.Warn("verification failed for some symbols, dataset stays inactive",
			"failed", len(entry.Failures))
		return nil
	}

	// Activate.
	verified := time.Now().UTC()
	entry.VerifiedAt = &verified
	if err := c.flags.Set(entry.Market, entry.Source, string(entry.Interval), flags.KindPartitioned); err != nil {
		return fmt.Errorf("flip backend flag: %w", err)
	}
	entry.Activated = true
	if err := plan.Save(c.planPath); err != nil {
		return err
	}

	elog.Info("dataset activated",
		"symbols", len(entry.Symbols),
		"rows", entry.LegacyRows)
	return nil
}

// checkSpace estimates the copy's space need from the legacy byte size and
// refuses to start without that much headroom on the data filesystem.
func (c *Coordinator) checkSpace(entry *Entry) error {
	var legacyBytes uint64
	for _, symbol := range entry.Symbols {
		path, err := c.resolver.LegacyFile(entry.LegacySeries(symbol))
		if err != nil {
			return err
		}
		info, err := os.Stat(path)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return err
		}
		legacyBytes += uint64(info.Size())
	}

	required := uint64(float64(legacyBytes)*c.opts.SpaceFactor) + c.opts.SpaceMarginBytes

	var st syscall.Statfs_t
	if err := syscall.Statfs(c.resolver.Root(), &st); err != nil {
		return fmt.Errorf("statfs %s: %w", c.resolver.Root(), err)
	}
	available := st.Bavail * uint64(st.Bsize)

	if available < required {
		return &errors.SpaceError{
			Path:      c.resolver.Root(),
			Required:  required,
			Available: available,
		}
	}
	return nil
}

// verifyEntry digests both representations of every symbol and records
// mismatches as entry failures. Only infrastructure errors are returned.
func (c *Coordinator) verifyEntry(ctx context.Context, entry *Entry) error {
	verifier, err := NewVerifier(c.opts.MemoryLimit)
	if err != nil {
		return err
	}
	defer verifier.Close()

	var (
		mu                   sync.Mutex
		legacyRows, partRows int64
		legacySum, partSum   uint64
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.opts.VerifyWorkers)

	for _, symbol := range entry.Symbols {
		g.Go(func() error {
			legacyPath, err := c.resolver.LegacyFile(entry.LegacySeries(symbol))
			if err != nil {
				return err
			}
			glob, err := c.resolver.PartitionGlob(entry.Series(symbol))
			if err != nil {
				return err
			}

			legacy, part, err := verifier.Compare(gctx, symbol, string(entry.Interval), legacyPath, glob)

			mu.Lock()
			defer mu.Unlock()

			if err != nil {
				if errors.Is(err, errors.ErrVerificationMismatch) {
					entry.setFailure(symbol, err.Error())
					legacyRows += legacy.Rows
					legacySum ^= legacy.Checksum
					partRows += part.Rows
					partSum ^= part.Checksum
					return nil
				}
				return err
			}

			legacyRows += legacy.Rows
			legacySum ^= legacy.Checksum
			partRows += part.Rows
			partSum ^= part.Checksum
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}

	entry.LegacyRows = legacyRows
	entry.LegacyChecksum = legacySum
	entry.PartitionedRows = partRows
	entry.PartitionedChecksum = partSum
	return nil
}

// EntryStatus is one entry's line in a status report.
type EntryStatus struct {
	Scope           string
	Symbols         int
	Activated       bool
	CopiedAt        *time.Time
	VerifiedAt      *time.Time
	Failures        int
	LegacyRows      int64
	PartitionedRows int64
}

// StatusReport summarizes the plan's progress.
type StatusReport struct {
	PlanPath  string
	CreatedAt time.Time
	UpdatedAt time.Time
	Entries   []EntryStatus
	Done      bool
}

// Status reads the plan and reports per-entry progress.
func (c *Coordinator) Status() (*StatusReport, error) {
	plan, err := LoadPlan(c.planPath)
	if err != nil {
		return nil, err
	}

	report := &StatusReport{
		PlanPath:  c.planPath,
		CreatedAt: plan.CreatedAt,
		UpdatedAt: plan.UpdatedAt,
		Done:      true,
	}
	for _, e := range plan.Entries {
		report.Entries = append(report.Entries, EntryStatus{
			Scope:           e.Scope(),
			Symbols:         len(e.Symbols),
			Activated:       e.Activated,
			CopiedAt:        e.CopiedAt,
			VerifiedAt:      e.VerifiedAt,
			Failures:        len(e.Failures),
			LegacyRows:      e.LegacyRows,
			PartitionedRows: e.PartitionedRows,
		})
		if !e.Activated {
			report.Done = false
		}
	}
	return report, nil
}
