package commands

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/feedvault/feedvault/internal/errors"
)

var symbolsCmd = &cobra.Command{
	Use:   "symbols",
	Short: "Manage the tracked symbol registry",
}

var symbolsAddCmd = &cobra.Command{
	Use:   "add <symbol>...",
	Short: "Start tracking one or more symbols",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		w, err := openLockedWorkspace()
		if err != nil {
			return err
		}
		defer w.Close()

		reg := w.Registry()
		added := 0
		for _, symbol := range args {
			if _, err := reg.Add(symbol); err != nil {
				if errors.IsAlreadyExists(err) {
					fmt.Printf("%s already tracked\n", symbol)
					continue
				}
				return err
			}
			fmt.Printf("%s added\n", symbol)
			added++
		}
		if added == 0 {
			return nil
		}
		return reg.Save()
	},
}

var symbolsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tracked symbols",
	RunE: func(cmd *cobra.Command, args []string) error {
		w, err := openWorkspace()
		if err != nil {
			return err
		}
		defer w.Close()

		reg := w.Registry()
		fmt.Printf("%-15s %-10s %-12s %-17s\n", "Symbol", "Status", "Added", "Last checked")
		fmt.Println(strings.Repeat("-", 57))
		for _, rec := range reg.All() {
			checked := "-"
			if rec.LastChecked != nil {
				checked = rec.LastChecked.Format("2006-01-02 15:04")
			}
			fmt.Printf("%-15s %-10s %-12s %-17s\n",
				rec.Symbol, rec.GlobalStatus, rec.AddedAt.Format("2006-01-02"), checked)
		}

		stats := reg.Stats(time.Now().UTC())
		fmt.Printf("\nTotal: %d symbols (%d active, %d not found, %d intervals cooling)\n",
			stats.Symbols, stats.GloballyActive, stats.GloballyNotFound, stats.CoolingIntervals)
		return nil
	},
}

var symbolsDeactivateCmd = &cobra.Command{
	Use:   "deactivate <symbol>",
	Short: "Remove a symbol from regular update passes",
	Long: `Marks a symbol globally not found so update passes skip it. The symbol
and its data stay in the workspace; the maintain command's recovery probe
or freshness sweep can bring it back.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		w, err := openLockedWorkspace()
		if err != nil {
			return err
		}
		defer w.Close()

		reg := w.Registry()
		if err := reg.Deactivate(args[0]); err != nil {
			return err
		}
		if err := reg.Save(); err != nil {
			return err
		}
		fmt.Printf("%s deactivated\n", args[0])
		return nil
	},
}

func init() {
	rootCmd.AddCommand(symbolsCmd)

	symbolsCmd.AddCommand(symbolsAddCmd)
	symbolsCmd.AddCommand(symbolsListCmd)
	symbolsCmd.AddCommand(symbolsDeactivateCmd)
}
