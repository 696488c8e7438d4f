package cmd

import (
	"github.com/spf13/cobra"

	"github.com/steveyegge/switchyard/internal/history"
)

var squashMessage string

func init() {
	rootCmd.AddCommand(squashCmd)
	squashCmd.Flags().StringVarP(&squashMessage, "message", "m", "", "Commit message for the squashed commit")
	_ = squashCmd.MarkFlagRequired("message")
}

var squashCmd = &cobra.Command{
	Use:   "squash [path]",
	Short: "Collapse an issue branch into one commit on its fork point",
	Long: `Collapse the issue branch's commits into a single commit whose parent is
the pinned fork point. The commit keeps the fork point's timestamps so the
target branch's chronology stays intact.

The pre-squash tip is saved to a backup ref before anything moves. If the
squashed tree differs from the original in any way the branch is reset and
the backup ref is preserved for inspection.

Examples:
  sy squash -m "sy-42: add retry logic"
  sy squash ../repo.worktrees/sy-42 -m "sy-42: add retry logic"`,
	Args: cobra.MaximumNArgs(1),
	RunE: runSquash,
}

func runSquash(cmd *cobra.Command, args []string) error {
	rec, err := loadRecord(args)
	if err != nil {
		return err
	}

	hash, err := history.Squash(rec, squashMessage)
	if err != nil {
		return err
	}
	printSuccess("squashed %s to %.12s", rec.Branch, hash)
	return nil
}
