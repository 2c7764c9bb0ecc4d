package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/feedvault/feedvault/internal/storage/types"
)

// NotFoundMaintainer gives up-for-dead symbols a way back. It runs two
// chained jobs: Confirm probes every globally not-found symbol on the
// canonical interval, and Reactivate sweeps for symbols whose stored data
// turned out to be fresh. Neither runs as part of a regular update pass.
type NotFoundMaintainer struct {
	sched *UpdateScheduler
}

// NewNotFoundMaintainer creates a maintainer sharing the scheduler's
// registry, fetch client, storage and rate limiter.
func NewNotFoundMaintainer(sched *UpdateScheduler) *NotFoundMaintainer {
	return &NotFoundMaintainer{sched: sched}
}

// MaintenanceReport summarizes one maintenance run.
type MaintenanceReport struct {
	// Probed is the number of globally not-found symbols checked.
	Probed int

	// Recovered counts probes that came back with a found answer.
	Recovered int

	// StillGone counts probes confirming the symbol has no data.
	StillGone int

	// Failed counts transient probe failures.
	Failed int

	// Reactivated counts symbols the freshness sweep brought back.
	Reactivated int

	RowsMerged int
}

// Confirm probes every globally not-found symbol via the canonical
// interval, rate limited like a regular pass. A successful probe marks the
// symbol found, merges any returned rows, and thereby reactivates it. The
// registry is saved before Confirm returns.
func (m *NotFoundMaintainer) Confirm(ctx context.Context) (*MaintenanceReport, error) {
	symbols := m.sched.reg.GloballyNotFound()
	report := &MaintenanceReport{}

	log.Info("confirm job started", "symbols", len(symbols))

	pass := newPassReport()
	var cancelled error
	for _, symbol := range symbols {
		if err := ctx.Err(); err != nil {
			cancelled = err
			break
		}
		report.Probed++
		if err := m.sched.processSymbol(ctx, symbol, types.CanonicalInterval, pass); err != nil {
			cancelled = err
			break
		}
	}

	report.Recovered = pass.Updated
	report.StillGone = pass.NotFound
	report.Failed = pass.Failed
	report.RowsMerged = pass.RowsMerged

	if m.sched.reg.Dirty() {
		if err := m.sched.reg.Save(); err != nil {
			return report, fmt.Errorf("save registry: %w", err)
		}
	}

	log.Info("confirm job finished",
		"probed", report.Probed,
		"recovered", report.Recovered,
		"still_gone", report.StillGone,
		"failed", report.Failed)
	return report, cancelled
}

// Reactivate runs the freshness sweep: any not-found symbol whose latest
// persisted row on some interval is within the freshness window comes
// back into rotation. The registry is saved before Reactivate returns.
func (m *NotFoundMaintainer) Reactivate(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	reactivated := m.sched.reg.ReactivateFresh(time.Now())
	if len(reactivated) > 0 {
		log.Info("reactivated symbols with fresh data",
			"count", len(reactivated),
			"symbols", reactivated)
	}

	if m.sched.reg.Dirty() {
		if err := m.sched.reg.Save(); err != nil {
			return reactivated, fmt.Errorf("save registry: %w", err)
		}
	}
	return reactivated, nil
}

// Run chains Confirm and Reactivate.
func (m *NotFoundMaintainer) Run(ctx context.Context) (*MaintenanceReport, error) {
	report, err := m.Confirm(ctx)
	if err != nil {
		return report, err
	}

	reactivated, err := m.Reactivate(ctx)
	report.Reactivated = len(reactivated)
	return report, err
}
