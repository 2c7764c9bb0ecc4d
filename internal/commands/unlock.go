package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/feedvault/feedvault/internal/lock"
)

var unlockForce bool

var unlockCmd = &cobra.Command{
	Use:   "unlock",
	Short: "Remove a stale workspace lock",
	Long: `Removes the workspace run lock left behind by a crashed process. The
lock is only removed when its recorded owner is dead; a live owner on
this host, or any owner on another host, requires --force.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		owner, held, err := lock.Status(workspaceDir)
		if err != nil {
			return err
		}
		if !held {
			fmt.Println("Workspace is not locked.")
			return nil
		}

		if err := lock.ForceCleanup(workspaceDir, unlockForce); err != nil {
			return err
		}
		if owner.PID > 0 {
			fmt.Printf("Removed lock held by pid %d on %s (run %s)\n",
				owner.PID, owner.Hostname, owner.RunID)
		} else {
			fmt.Println("Removed stale lock")
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(unlockCmd)

	unlockCmd.Flags().BoolVar(&unlockForce, "force", false, "remove the lock even if the owner may be alive")
}
