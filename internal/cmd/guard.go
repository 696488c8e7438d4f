package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/steveyegge/switchyard/internal/guard"
)

var guardCwd string

func init() {
	rootCmd.AddCommand(guardCmd)
	guardCmd.AddCommand(guardCheckCmd)

	guardCheckCmd.Flags().StringVar(&guardCwd, "cwd", "",
		"Working directory of the requesting process (default: current directory)")
}

var guardCmd = &cobra.Command{
	Use:   "guard",
	Short: "Destructive-command safety checks",
	RunE:  requireSubcommand,
}

var guardCheckCmd = &cobra.Command{
	Use:   "check <command> <target-path>",
	Short: "Decide whether a destructive command may run",
	Long: `Check a destructive command against live lock state before running it.

Protection depends on the command. A bulk delete (rm -rf and friends) is
blocked when the target holds another session's locked worktree, but may
sweep this session's own. A targeted worktree removal is the opposite:
blocked on this session's own locked worktrees (a sibling agent may be in
them), allowed on a foreign session's (crashed-agent cleanup). The main
repository and the current directory's subtree are always protected.

A block exits non-zero and prints the reason; the caller simply does not
run the command.

Examples:
  sy guard check "rm -rf ../repo.worktrees/sy-42" ../repo.worktrees/sy-42
  sy guard check "git worktree remove ../repo.worktrees/sy-42" ../repo.worktrees/sy-42`,
	Args: cobra.ExactArgs(2),
	RunE: runGuardCheck,
}

func runGuardCheck(cmd *cobra.Command, args []string) error {
	e, err := newEngine()
	if err != nil {
		return err
	}

	dir := guardCwd
	if dir == "" {
		dir = cwd()
	}

	decision, err := e.guard().Check(guard.Request{
		Command:    args[0],
		TargetPath: args[1],
		Cwd:        dir,
		Session:    e.session,
	})
	if err != nil {
		return err
	}
	if !decision.Allow {
		return fmt.Errorf("blocked: %s", decision.Reason)
	}
	printSuccess("allowed")
	return nil
}
