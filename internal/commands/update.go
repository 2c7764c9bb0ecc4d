package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/feedvault/feedvault/internal/errors"
	"github.com/feedvault/feedvault/internal/fetch"
	"github.com/feedvault/feedvault/internal/logging"
	"github.com/feedvault/feedvault/internal/scheduler"
)

var (
	updateEvery  time.Duration
	updateStrict bool
	updateSpool  string
)

var updateCmd = &cobra.Command{
	Use:   "update [symbols...]",
	Short: "Fetch and merge new bars for tracked symbols",
	Long: `Runs one scheduling pass over every active symbol and configured
interval, fetching bars since the last known data point and merging them
into the store. With symbols given as arguments, only those are updated.

With --every the command keeps running passes until interrupted.`,
	Args: cobra.ArbitraryArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		w, err := openLockedWorkspace()
		if err != nil {
			return err
		}
		defer w.Close()

		intervals, err := w.Config().ParsedIntervals()
		if err != nil {
			return err
		}

		client := fetch.NewSpoolClient(spoolPath(w, updateSpool))
		sched := w.Scheduler(client)

		ctx, stop := signalContext()
		defer stop()
		ctx = logging.ContextWithRunID(ctx, w.RunID())

		if updateEvery > 0 {
			return sched.RunEvery(ctx, updateEvery, intervals, args)
		}

		report, err := sched.Run(ctx, intervals, args)
		if report != nil {
			printPassReport(report)
		}
		if err != nil {
			return err
		}
		if updateStrict && report.Failed > 0 {
			return fmt.Errorf("%d of %d tasks failed: %w",
				report.Failed, report.Tasks, errors.ErrPartialUpdate)
		}
		return nil
	},
}

func printPassReport(r *scheduler.PassReport) {
	fmt.Printf("Pass finished in %s\n", r.Duration.Round(time.Millisecond))
	fmt.Printf("  Tasks:       %d\n", r.Tasks)
	fmt.Printf("  Updated:     %d\n", r.Updated)
	fmt.Printf("  Skipped:     %d\n", r.Skipped)
	fmt.Printf("  Not found:   %d\n", r.NotFound)
	fmt.Printf("  Failed:      %d\n", r.Failed)
	fmt.Printf("  Rows merged: %d across %d partitions\n", r.RowsMerged, r.PartitionsTouched)
	if r.Updated > 0 {
		p50, p95, p99 := r.LatencyQuantiles()
		fmt.Printf("  Fetch latency: p50=%s p95=%s p99=%s\n",
			p50.Round(time.Millisecond), p95.Round(time.Millisecond), p99.Round(time.Millisecond))
	}
}

func init() {
	rootCmd.AddCommand(updateCmd)

	updateCmd.Flags().DurationVar(&updateEvery, "every", 0, "run passes continuously with this period")
	updateCmd.Flags().BoolVar(&updateStrict, "strict", false, "exit non-zero when any task fails")
	updateCmd.Flags().StringVar(&updateSpool, "spool", "", "fetch spool directory (default <workspace>/spool)")
}
