package commands

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/feedvault/feedvault/internal/storage/query"
	"github.com/feedvault/feedvault/internal/storage/types"
	"github.com/feedvault/feedvault/internal/validation"
	"github.com/feedvault/feedvault/internal/workspace"
)

var (
	statsInterval string
	statsScope    string
)

var statsCmd = &cobra.Command{
	Use:   "stats [symbol]",
	Short: "Summarize stored data",
	Long: `Reports row counts, time coverage and file counts for stored series.
Without arguments every symbol of the configured scope is summarized;
with a symbol only that series is. Counts come from the layout a reader
would actually hit, so a series mid-migration reports its active side.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		w, err := openWorkspace()
		if err != nil {
			return err
		}
		defer w.Close()

		collector, err := w.Stats()
		if err != nil {
			return err
		}

		intervals, err := statsIntervals(w)
		if err != nil {
			return err
		}

		ctx, stop := signalContext()
		defer stop()

		market, source := w.Config().Scope.Market, w.Config().Scope.Source
		if statsScope != "" {
			ref, err := validation.ParseScopeRef(statsScope)
			if err != nil {
				return err
			}
			market, source = ref.Market, ref.Source
		}

		if len(args) == 1 {
			return printSeriesStats(ctx, collector, market, source, args[0], intervals)
		}
		return printDatasetStats(ctx, collector, market, source, intervals)
	},
}

// statsIntervals resolves the intervals to report: the --interval flag, or
// every configured interval.
func statsIntervals(w *workspace.Workspace) ([]types.Interval, error) {
	if statsInterval != "" {
		iv, err := types.ParseInterval(statsInterval)
		if err != nil {
			return nil, err
		}
		return []types.Interval{iv}, nil
	}
	return w.Config().ParsedIntervals()
}

func printSeriesStats(ctx context.Context, c *query.Collector, market, source, symbol string, intervals []types.Interval) error {
	fmt.Printf("%s (%s/%s)\n", symbol, market, source)
	fmt.Printf("%-10s %-12s %12s %7s  %-17s %-17s\n",
		"Interval", "Backend", "Rows", "Files", "First", "Last")
	fmt.Println(strings.Repeat("-", 82))
	for _, iv := range intervals {
		key := types.SeriesKey{Market: market, Source: source, Symbol: symbol, Interval: iv}
		s, err := c.Series(ctx, key)
		if err != nil {
			return err
		}
		fmt.Printf("%-10s %-12s %12d %7d  %-17s %-17s\n",
			iv, s.Backend, s.Rows, s.Files, coverageTime(s, true), coverageTime(s, false))
	}
	return nil
}

func printDatasetStats(ctx context.Context, c *query.Collector, market, source string, intervals []types.Interval) error {
	for n, iv := range intervals {
		if n > 0 {
			fmt.Println()
		}
		summaries, err := c.Dataset(ctx, market, source, iv)
		if err != nil {
			return err
		}

		fmt.Printf("%s/%s %s\n", market, source, iv.Dataset())
		fmt.Printf("%-15s %-12s %12s %7s  %-17s %-17s\n",
			"Symbol", "Backend", "Rows", "Files", "First", "Last")
		fmt.Println(strings.Repeat("-", 87))

		var rows, files int64
		for _, s := range summaries {
			rows += s.Rows
			files += s.Files
			fmt.Printf("%-15s %-12s %12d %7d  %-17s %-17s\n",
				s.Symbol, s.Backend, s.Rows, s.Files, coverageTime(s, true), coverageTime(s, false))
		}
		fmt.Printf("\nTotal: %d symbols, %d rows in %d files\n", len(summaries), rows, files)
	}
	return nil
}

// coverageTime formats a summary's first or last timestamp, or "-" for an
// empty series.
func coverageTime(s query.SeriesSummary, first bool) string {
	if s.Rows == 0 {
		return "-"
	}
	if first {
		return s.FirstTime().Format("2006-01-02 15:04")
	}
	return s.LastTime().Format("2006-01-02 15:04")
}

func init() {
	rootCmd.AddCommand(statsCmd)

	statsCmd.Flags().StringVarP(&statsInterval, "interval", "i", "", "restrict to one interval (default: all configured)")
	statsCmd.Flags().StringVar(&statsScope, "scope", "", "market/source to inspect (default: configured scope)")
}
