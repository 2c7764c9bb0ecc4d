package commands

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/feedvault/feedvault/internal/errors"
	"github.com/feedvault/feedvault/internal/logging"
	"github.com/feedvault/feedvault/internal/storage/flags"
	"github.com/feedvault/feedvault/internal/storage/migration"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Migrate legacy flat files to the partitioned layout",
	Long: `Manages the copy of legacy one-file-per-symbol Parquet data into the
hive-partitioned layout. A plan is initialized once per workspace, run to
completion (resumable across interruptions), and inspected with status.
Reads keep hitting the flat files until an entry is verified and its
backend flag flips.`,
}

var migrateInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Discover legacy series and write a migration plan",
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

		ctx, stop := signalContext()
		defer stop()
		ctx = logging.ContextWithRunID(ctx, w.RunID())

		scope := w.Config().Scope
		plan, err := w.Migrator().Init(ctx, scope.Market, scope.Source, intervals)
		if err != nil {
			return err
		}

		symbols := 0
		for _, e := range plan.Entries {
			symbols += len(e.Symbols)
			fmt.Printf("  %-30s %d symbols\n", e.Scope(), len(e.Symbols))
		}
		fmt.Printf("Plan written to %s: %d entries, %d symbols\n",
			w.PlanPath(), len(plan.Entries), symbols)
		return nil
	},
}

var migrateRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Copy, verify and activate pending plan entries",
	RunE: func(cmd *cobra.Command, args []string) error {
		w, err := openLockedWorkspace()
		if err != nil {
			return err
		}
		defer w.Close()

		ctx, stop := signalContext()
		defer stop()
		ctx = logging.ContextWithRunID(ctx, w.RunID())

		report, err := w.Migrator().Run(ctx)
		if report != nil {
			printRunReport(report)
		}
		return err
	},
}

func printRunReport(r *migration.RunReport) {
	fmt.Printf("Migration run finished in %s\n", r.Duration.Round(time.Millisecond))
	fmt.Printf("  Entries:   %d total, %d activated, %d skipped, %d failed\n",
		r.EntriesTotal, r.EntriesActivated, r.EntriesSkipped, r.EntriesFailed)
	fmt.Printf("  Copied:    %d symbols, %d rows\n", r.SymbolsCopied, r.RowsCopied)
	if r.Recovered > 0 {
		fmt.Printf("  Recovered: %d interrupted symbols re-copied\n", r.Recovered)
	}
}

var migrateStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show per-entry migration progress",
	RunE: func(cmd *cobra.Command, args []string) error {
		w, err := openWorkspace()
		if err != nil {
			return err
		}
		defer w.Close()

		report, err := w.Migrator().Status()
		if err != nil {
			if errors.Is(err, errors.ErrPlanNotFound) {
				fmt.Println("No migration plan. Run 'feedvault migrate init' first.")
			}
			return err
		}

		fmt.Printf("Plan %s (created %s)\n\n",
			report.PlanPath, report.CreatedAt.Format("2006-01-02 15:04"))
		fmt.Printf("%-30s %-10s %-9s %-9s %12s %12s\n",
			"Scope", "State", "Symbols", "Failures", "Legacy rows", "Part rows")
		fmt.Println(strings.Repeat("-", 88))
		for _, e := range report.Entries {
			fmt.Printf("%-30s %-10s %-9d %-9d %12d %12d\n",
				e.Scope, entryState(e), e.Symbols, e.Failures, e.LegacyRows, e.PartitionedRows)
		}
		if report.Done {
			fmt.Println("\nAll entries activated.")
		} else {
			fmt.Println("\nPending entries remain. Run 'feedvault migrate run' to continue.")
		}
		return nil
	},
}

func entryState(e migration.EntryStatus) string {
	switch {
	case e.Activated:
		return "active"
	case e.VerifiedAt != nil:
		return "verified"
	case e.CopiedAt != nil:
		return "copied"
	default:
		return "pending"
	}
}

var migrateEnableCmd = &cobra.Command{
	Use:   "enable <interval>",
	Short: "Route reads for one interval to the partitioned layout",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setBackend(args[0], flags.KindPartitioned)
	},
}

var migrateDisableCmd = &cobra.Command{
	Use:   "disable <interval>",
	Short: "Route reads for one interval back to the flat layout",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setBackend(args[0], flags.KindFlat)
	},
}

// setBackend flips the backend flag for one interval of the configured
// scope. Run 'migrate run' instead to flip flags with verification; this
// is the manual override.
func setBackend(interval string, kind flags.Kind) error {
	w, err := openLockedWorkspace()
	if err != nil {
		return err
	}
	defer w.Close()

	scope := w.Config().Scope
	if err := w.Flags().Set(scope.Market, scope.Source, interval, kind); err != nil {
		return err
	}
	fmt.Printf("Backend for %s/%s/%s set to %s\n", scope.Market, scope.Source, interval, kind)
	return nil
}

func init() {
	rootCmd.AddCommand(migrateCmd)

	migrateCmd.AddCommand(migrateInitCmd)
	migrateCmd.AddCommand(migrateRunCmd)
	migrateCmd.AddCommand(migrateStatusCmd)
	migrateCmd.AddCommand(migrateEnableCmd)
	migrateCmd.AddCommand(migrateDisableCmd)
}
