package cmd

import (
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(mergeCmd)
}

var mergeCmd = &cobra.Command{
	Use:   "merge [path]",
	Short: "Fast-forward the target branch to a verified issue branch",
	Long: `Fast-forward the issue's target branch to the issue branch tip, then
clean up the worktree and release the lock.

The issue must carry a verified stamp matching the target branch's current
tip (sy rebase produces it). If the target advanced since verification the
merge refuses to run; rebase again first.

After the ref update every checkout of the target branch is hard-reset to
the new tip; a ref-only update would leave those trees showing stale files.
Cleanup removes the worktree before releasing the lock, so a crash in
between leaves the issue claimed rather than claimable with leftovers.

Examples:
  sy merge ../repo.worktrees/sy-42`,
	Args: cobra.MaximumNArgs(1),
	RunE: runMerge,
}

func runMerge(cmd *cobra.Command, args []string) error {
	e, err := newEngine()
	if err != nil {
		return err
	}

	rec, err := loadRecord(args)
	if err != nil {
		return err
	}

	hash, err := e.merger().Merge(rec)
	if err != nil {
		return err
	}
	printSuccess("merged %s to %s at %.12s", rec.Branch, rec.TargetBranch, hash)
	return nil
}
