package cmd

import (
	"github.com/spf13/cobra"

	"github.com/steveyegge/switchyard/internal/history"
)

var rebaseOnto string

func init() {
	rootCmd.AddCommand(rebaseCmd)
	rebaseCmd.Flags().StringVar(&rebaseOnto, "onto", "",
		"Branch to rebase onto (default: the worktree's target branch)")
}

var rebaseCmd = &cobra.Command{
	Use:   "rebase [path]",
	Short: "Replay an issue branch onto its advanced target, with verification",
	Long: `Replay the issue branch's commits onto the target branch's current tip.

The result is verified by patch comparison: the branch's diff against its
fork point before the rebase must textually equal its diff against the new
base after. Commits the target gained independently appear in neither
patch, so a legitimately advanced base never counts as divergence.

On success the worktree is stamped verified against the base tip, which
sy merge requires. On mismatch the branch is reset and the backup ref is
preserved.

Examples:
  sy rebase
  sy rebase ../repo.worktrees/sy-42 --onto main`,
	Args: cobra.MaximumNArgs(1),
	RunE: runRebase,
}

func runRebase(cmd *cobra.Command, args []string) error {
	rec, err := loadRecord(args)
	if err != nil {
		return err
	}

	onto := rebaseOnto
	if onto == "" {
		onto = rec.TargetBranch
	}

	head, err := history.Rebase(rec, onto)
	if err != nil {
		return err
	}
	printSuccess("rebased %s onto %s, verified at %.12s", rec.Branch, onto, head)
	return nil
}
