package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/steveyegge/switchyard/internal/guard"
	"github.com/steveyegge/switchyard/internal/history"
	"github.com/steveyegge/switchyard/internal/style"
)

var worktreeCreateTarget string

func init() {
	rootCmd.AddCommand(worktreeCmd)
	worktreeCmd.AddCommand(worktreeCreateCmd)
	worktreeCmd.AddCommand(worktreeListCmd)
	worktreeCmd.AddCommand(worktreeRemoveCmd)

	worktreeCreateCmd.Flags().StringVar(&worktreeCreateTarget, "target", "",
		"Target branch to fork from and merge back into (default: configured default branch)")
}

var worktreeCmd = &cobra.Command{
	Use:   "worktree",
	Short: "Issue worktree lifecycle",
	Long: `Create, list, and destroy issue worktrees.

Creation claims the issue's lock, forks an issue branch from the target
branch's current tip, and pins that tip as the worktree's fork point. The
fork point never changes afterward, no matter how far the target branch
advances.

Examples:
  sy worktree create sy-42
  sy worktree create sy-42 --target release/2.1
  sy worktree list
  sy worktree remove ../repo.worktrees/sy-42`,
	RunE: requireSubcommand,
}

var worktreeCreateCmd = &cobra.Command{
	Use:   "create <issue>",
	Short: "Create a locked worktree + branch pair for an issue",
	Args:  cobra.ExactArgs(1),
	RunE:  runWorktreeCreate,
}

var worktreeListCmd = &cobra.Command{
	Use:   "list",
	Short: "List issue worktrees and their fork points",
	Args:  cobra.NoArgs,
	RunE:  runWorktreeList,
}

var worktreeRemoveCmd = &cobra.Command{
	Use:   "remove [path]",
	Short: "Remove an issue worktree and its branch",
	Long: `Remove an issue worktree and delete its branch.

The removal is checked by the guard first: a worktree locked by this same
session is refused (a sibling agent may still be using it), while one
locked by a different session may be removed (crashed-agent cleanup).`,
	Args: cobra.MaximumNArgs(1),
	RunE: runWorktreeRemove,
}

func runWorktreeCreate(cmd *cobra.Command, args []string) error {
	e, err := newEngine()
	if err != nil {
		return err
	}

	issueID := args[0]
	target := worktreeCreateTarget
	if target == "" {
		target = e.cfg.Merge.DefaultBranch
	}

	// Lock first: the worktree exists only under a claimed issue.
	if _, err := e.locks.Acquire(issueID, e.session); err != nil {
		return err
	}

	rec, err := e.worktrees.Create(issueID, target)
	if err != nil {
		// Creation failed entirely; don't leave the issue claimed.
		_ = e.locks.Release(issueID, e.session)
		return err
	}

	printSuccess("created %s on %s (fork point %.12s)", rec.Path, rec.Branch, rec.ForkPoint)
	return nil
}

func runWorktreeList(cmd *cobra.Command, args []string) error {
	e, err := newEngine()
	if err != nil {
		return err
	}

	records, err := e.worktrees.List()
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Println(style.Dim.Render("no issue worktrees"))
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ISSUE\tBRANCH\tTARGET\tFORK POINT\tLOCKED BY\tVERIFIED\tPATH")
	for _, rec := range records {
		lockedBy := "-"
		if holder, err := e.locks.Holder(rec.IssueID); err == nil && holder != nil {
			lockedBy = holder.OwnerSession
		}
		verified := "-"
		if stamp, err := history.ReadVerified(rec); err == nil && stamp != "" {
			verified = stamp[:12]
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%.12s\t%s\t%s\t%s\n",
			rec.IssueID, rec.Branch, rec.TargetBranch, rec.ForkPoint, lockedBy, verified, rec.Path)
	}
	return w.Flush()
}

func runWorktreeRemove(cmd *cobra.Command, args []string) error {
	e, err := newEngine()
	if err != nil {
		return err
	}

	rec, err := loadRecord(args)
	if err != nil {
		return err
	}

	decision, err := e.guard().Check(guard.Request{
		Command:    "sy worktree remove " + rec.Path,
		TargetPath: rec.Path,
		Cwd:        cwd(),
		Session:    e.session,
	})
	if err != nil {
		return err
	}
	if !decision.Allow {
		return fmt.Errorf("blocked: %s", decision.Reason)
	}

	if err := e.worktrees.Destroy(rec); err != nil {
		return err
	}
	printSuccess("removed worktree for %s", rec.IssueID)
	return nil
}
