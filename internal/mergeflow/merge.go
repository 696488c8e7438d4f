// Package mergeflow fast-forwards the target branch to a verified issue
// branch and tears the issue's worktree and lock down.
package mergeflow

import (
	"errors"
	"fmt"

	"github.com/steveyegge/switchyard/internal/git"
	"github.com/steveyegge/switchyard/internal/history"
	"github.com/steveyegge/switchyard/internal/lockfile"
	"github.com/steveyegge/switchyard/internal/worktree"
)

// Common errors
var (
	// ErrNotVerified means no rebase verification covers the target
	// branch's current tip. Rebase first, then merge.
	ErrNotVerified = errors.New("issue branch not verified against current target tip")

	// ErrNotFastForward means the issue branch does not descend from the
	// target tip, so a ref-only fast-forward is impossible.
	ErrNotFastForward = errors.New("merge is not a fast-forward")
)

// Merger performs verified fast-forward merges for one repository on
// behalf of one session.
type Merger struct {
	repo      *git.Git
	worktrees *worktree.Manager
	locks     *lockfile.Manager
	session   string
}

// New creates a merger. worktrees and locks are used for post-merge
// cleanup; session must own the issue's lock for the release to succeed.
func New(worktrees *worktree.Manager, locks *lockfile.Manager, session string) *Merger {
	return &Merger{repo: worktrees.Repo(), worktrees: worktrees, locks: locks, session: session}
}

// Merge fast-forwards the issue's target branch to the issue branch tip,
// forces the main working tree to match, then destroys the worktree and
// releases the issue's lock. Returns the merged commit hash.
//
// The verified stamp must name the target branch's current tip: if the
// target advanced after the last rebase, the verification no longer covers
// reality and the merge refuses to run.
//
// Cleanup ordering is deliberate: worktree first, lock last. A crash after
// the merge leaves the lock held, which a later session resolves through
// staleness; releasing first would let another agent claim the issue while
// its worktree still exists.
func (m *Merger) Merge(rec *worktree.Record) (string, error) {
	// A live lock held by another session means its agent still owns the
	// issue; refuse before any ref moves.
	holder, err := m.locks.Holder(rec.IssueID)
	if err != nil {
		return "", err
	}
	if holder != nil && holder.OwnerSession != m.session {
		return "", &lockfile.HeldError{Name: rec.IssueID, Holder: holder}
	}

	targetRef := "refs/heads/" + rec.TargetBranch
	targetTip, err := m.repo.RefTarget(targetRef)
	if err != nil {
		return "", fmt.Errorf("resolving target branch %s: %w", rec.TargetBranch, err)
	}

	verifiedTip, err := history.ReadVerified(rec)
	if err != nil {
		return "", err
	}
	if verifiedTip == "" {
		return "", fmt.Errorf("%w: run rebase on %s first", ErrNotVerified, rec.Branch)
	}
	if verifiedTip != targetTip {
		return "", fmt.Errorf("%w: verified against %s but %s is now at %s",
			ErrNotVerified, shortRev(verifiedTip), rec.TargetBranch, shortRev(targetTip))
	}

	issueTip, err := m.repo.ResolveCommit(rec.Branch)
	if err != nil {
		return "", err
	}
	ff, err := m.repo.IsAncestor(targetTip, issueTip)
	if err != nil {
		return "", err
	}
	if !ff {
		return "", fmt.Errorf("%w: %s does not descend from %s tip %s",
			ErrNotFastForward, rec.Branch, rec.TargetBranch, shortRev(targetTip))
	}

	// The actual merge: one compare-and-swap ref update. A concurrent move
	// of the target branch fails the swap instead of being overwritten.
	if err := m.repo.UpdateRefCAS(targetRef, issueTip, targetTip); err != nil {
		return "", fmt.Errorf("advancing %s: %w", rec.TargetBranch, err)
	}

	// The ref update alone leaves every checkout of the target branch with
	// stale files. Force each one to the new tip before cleanup.
	if err := m.syncCheckouts(rec.TargetBranch, issueTip); err != nil {
		return "", fmt.Errorf("merge succeeded at %s but working tree sync failed: %w", shortRev(issueTip), err)
	}

	if err := m.worktrees.Destroy(rec); err != nil {
		return "", fmt.Errorf("merged to %s but worktree cleanup failed: %w", shortRev(issueTip), err)
	}
	if err := m.locks.Release(rec.IssueID, m.session); err != nil {
		return "", fmt.Errorf("merged to %s but lock release failed: %w", shortRev(issueTip), err)
	}

	return issueTip, nil
}

// syncCheckouts hard-resets every working tree that has branch checked out.
func (m *Merger) syncCheckouts(branch, tip string) error {
	infos, err := m.repo.WorktreeList()
	if err != nil {
		return err
	}
	for _, info := range infos {
		if info.Bare || info.Branch != branch {
			continue
		}
		if err := git.NewGit(info.Path).ResetHard(tip); err != nil {
			return fmt.Errorf("resetting %s: %w", info.Path, err)
		}
	}
	return nil
}

func shortRev(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}
