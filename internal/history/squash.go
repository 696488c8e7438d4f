package history

import (
	"errors"
	"fmt"

	"github.com/steveyegge/switchyard/internal/git"
	"github.com/steveyegge/switchyard/internal/worktree"
)

// ErrDirtyWorktree means the worktree has uncommitted changes a rewrite
// would have to guess about.
var ErrDirtyWorktree = errors.New("worktree has uncommitted changes")

// Squash collapses the issue branch into a single commit on top of its fork
// point and returns the new commit hash.
//
// The new commit's tree is exactly the branch tip's tree, its sole parent is
// the pinned fork point, and its author/committer dates are copied from the
// fork point's commit. Copying the dates keeps the squashed commit
// chronologically ordered on the target branch instead of jumping to "now".
//
// The branch's pre-squash tip is saved to a backup ref first. After building
// the commit, the tree of the backup and the new commit must diff empty;
// squash changes commit graph shape, never file content. On any mismatch the
// branch is left at the backup and a *ContentChangedError is returned.
func Squash(rec *worktree.Record, message string) (string, error) {
	if message == "" {
		return "", errors.New("squash message required")
	}
	g := git.NewGit(rec.Path)

	if err := requireOnBranch(g, rec.Branch); err != nil {
		return "", err
	}
	clean, err := g.IsClean()
	if err != nil {
		return "", err
	}
	if !clean {
		return "", fmt.Errorf("%w: commit or stash before squashing %s", ErrDirtyWorktree, rec.Branch)
	}

	backupRef, backupTip, err := createBackup(g, "squash", rec.Branch)
	if err != nil {
		return "", err
	}

	if backupTip == rec.ForkPoint {
		// Nothing on the branch yet; a squash of zero commits is a no-op.
		_ = g.DeleteRef(backupRef)
		return backupTip, nil
	}

	tree, err := g.TreeHash("HEAD")
	if err != nil {
		return "", err
	}
	authorDate, committerDate, err := g.CommitDates(rec.ForkPoint)
	if err != nil {
		return "", fmt.Errorf("reading fork-point dates: %w", err)
	}

	newCommit, err := g.CommitTree(tree, rec.ForkPoint, message, authorDate, committerDate)
	if err != nil {
		return "", err
	}

	// The branch has not moved yet, so a failure here needs no rollback,
	// but the verdict still blocks the branch move and preserves the backup.
	same, err := g.DiffEmpty(backupRef, newCommit)
	if err != nil {
		return "", err
	}
	if !same {
		stat, _ := g.DiffStat(backupRef, newCommit)
		return "", &ContentChangedError{
			Op:        "squash",
			Branch:    rec.Branch,
			BackupRef: backupRef,
			Summary:   "squashed tree differs from pre-squash tree\n" + stat,
		}
	}

	// The branch tip is about to be rewritten; any rebase verification on
	// record described a shape that no longer exists.
	if err := InvalidateVerified(rec); err != nil {
		return "", err
	}

	if err := g.UpdateRefCAS("refs/heads/"+rec.Branch, newCommit, backupTip); err != nil {
		return "", fmt.Errorf("moving %s to squashed commit: %w", rec.Branch, err)
	}
	// The ref moved under the checked-out branch; sync HEAD, index, and
	// tree. The tree is verified identical, so no files change.
	if err := g.ResetHard(newCommit); err != nil {
		return "", fmt.Errorf("syncing worktree after squash: %w", err)
	}

	if err := g.DeleteRef(backupRef); err != nil {
		return "", fmt.Errorf("deleting backup ref %s: %w", backupRef, err)
	}
	return newCommit, nil
}

func requireOnBranch(g *git.Git, branch string) error {
	cur, err := g.CurrentBranch()
	if err != nil {
		return err
	}
	if cur != branch {
		return fmt.Errorf("worktree is on branch %q, expected %q", cur, branch)
	}
	return nil
}
