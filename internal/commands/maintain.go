package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/feedvault/feedvault/internal/fetch"
	"github.com/feedvault/feedvault/internal/logging"
)

var maintainSpool string

var maintainCmd = &cobra.Command{
	Use:   "maintain",
	Short: "Probe not-found symbols and reactivate stale ones",
	Long: `Runs the two registry maintenance jobs: every globally not-found
symbol is probed once for recovery, then not-found symbols whose stored
data is still within the freshness window are brought back into rotation.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		w, err := openLockedWorkspace()
		if err != nil {
			return err
		}
		defer w.Close()

		client := fetch.NewSpoolClient(spoolPath(w, maintainSpool))
		maint := w.Maintainer(client)

		ctx, stop := signalContext()
		defer stop()
		ctx = logging.ContextWithRunID(ctx, w.RunID())

		report, err := maint.Run(ctx)
		if report != nil {
			fmt.Printf("Maintenance finished\n")
			fmt.Printf("  Probed:      %d\n", report.Probed)
			fmt.Printf("  Recovered:   %d\n", report.Recovered)
			fmt.Printf("  Still gone:  %d\n", report.StillGone)
			fmt.Printf("  Failed:      %d\n", report.Failed)
			fmt.Printf("  Reactivated: %d\n", report.Reactivated)
			if report.RowsMerged > 0 {
				fmt.Printf("  Rows merged: %d\n", report.RowsMerged)
			}
		}
		return err
	},
}

func init() {
	rootCmd.AddCommand(maintainCmd)

	maintainCmd.Flags().StringVar(&maintainSpool, "spool", "", "fetch spool directory (default <workspace>/spool)")
}
