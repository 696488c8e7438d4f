package history

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/steveyegge/switchyard/internal/constants"
	"github.com/steveyegge/switchyard/internal/git"
	"github.com/steveyegge/switchyard/internal/util"
	"github.com/steveyegge/switchyard/internal/worktree"
)

// Rebase replays the issue branch onto newBase's current tip, verifies the
// branch's own contribution survived unchanged, and returns the new HEAD.
//
// Verification is by patch comparison, not tree comparison. The branch's
// contribution before the rebase is diff(fork_point, backup); after the
// rebase it is diff(new_base_tip, new_HEAD). Both diffs subtract their
// respective base, so commits the target branch gained independently never
// show up in either patch. Comparing post-rebase HEAD's tree against the
// backup's tree would flag every such upstream commit as divergence.
//
// On success the worktree's verified stamp records the base tip the branch
// now sits on; merge refuses to run unless that stamp still matches the
// target branch. Any failure resets the branch to the backup ref and
// preserves it.
func Rebase(rec *worktree.Record, newBase string) (string, error) {
	g := git.NewGit(rec.Path)

	if err := requireOnBranch(g, rec.Branch); err != nil {
		return "", err
	}
	clean, err := g.IsClean()
	if err != nil {
		return "", err
	}
	if !clean {
		return "", fmt.Errorf("%w: commit or stash before rebasing %s", ErrDirtyWorktree, rec.Branch)
	}

	// Pin the new base tip once. Everything below uses this hash; the base
	// branch advancing mid-operation cannot shift the verification target.
	newTip, err := g.ResolveCommit(newBase)
	if err != nil {
		return "", fmt.Errorf("resolving new base %q: %w", newBase, err)
	}

	head, err := g.ResolveCommit("HEAD")
	if err != nil {
		return "", err
	}

	// Already based on the new tip: nothing to replay, stamp and return.
	if onto, err := g.IsAncestor(newTip, head); err != nil {
		return "", err
	} else if onto {
		if err := WriteVerified(rec, newTip); err != nil {
			return "", err
		}
		return head, nil
	}

	backupRef, backupTip, err := createBackup(g, "rebase", rec.Branch)
	if err != nil {
		return "", err
	}

	patchBefore, err := g.Diff(rec.ForkPoint, backupTip)
	if err != nil {
		return "", err
	}

	// The branch is about to move; any earlier verification no longer holds.
	if err := InvalidateVerified(rec); err != nil {
		return "", err
	}

	if err := g.RebaseOnto(newTip, rec.ForkPoint); err != nil {
		_ = g.RebaseAbort()
		if resetErr := g.ResetHard(backupTip); resetErr != nil {
			return "", fmt.Errorf("rebase failed (%v) and rollback failed: %w; branch state preserved at %s", err, resetErr, backupRef)
		}
		return "", fmt.Errorf("rebase onto %s failed, branch restored (backup at %s): %w", shortRev(newTip), backupRef, err)
	}

	newHead, err := g.ResolveCommit("HEAD")
	if err != nil {
		return "", err
	}

	patchAfter, err := g.Diff(newTip, newHead)
	if err != nil {
		return "", err
	}

	if patchBefore != patchAfter {
		if resetErr := g.ResetHard(backupTip); resetErr != nil {
			return "", fmt.Errorf("patch diverged and rollback failed: %w; backup at %s", resetErr, backupRef)
		}
		return "", &ContentChangedError{
			Op:        "rebase",
			Branch:    rec.Branch,
			BackupRef: backupRef,
			Summary:   "patch diverged from backup\n" + patchDivergence(patchBefore, patchAfter),
		}
	}

	if err := WriteVerified(rec, newTip); err != nil {
		return "", err
	}
	if err := g.DeleteRef(backupRef); err != nil {
		return "", fmt.Errorf("deleting backup ref %s: %w", backupRef, err)
	}
	return newHead, nil
}

// WriteVerified stamps the worktree as rebase-verified against baseTip.
func WriteVerified(rec *worktree.Record, baseTip string) error {
	path := filepath.Join(rec.GitDir, constants.FileVerified)
	if err := util.AtomicWriteFile(path, []byte(baseTip+"\n"), 0644); err != nil {
		return fmt.Errorf("writing verified stamp: %w", err)
	}
	return nil
}

var stampHashRe = regexp.MustCompile(`^[0-9a-f]{40}$`)

// ReadVerified returns the base tip the worktree was last verified against,
// or empty if no verification is on record. A stamp that is not a full
// commit hash is fatal: merge must never trust mangled evidence.
func ReadVerified(rec *worktree.Record) (string, error) {
	path := filepath.Join(rec.GitDir, constants.FileVerified)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("reading verified stamp: %w", err)
	}
	stamp := strings.TrimSpace(string(data))
	if !stampHashRe.MatchString(stamp) {
		return "", fmt.Errorf("corrupt verified stamp in %s: expected 40-hex commit hash, got %q", path, stamp)
	}
	return stamp, nil
}

// InvalidateVerified removes the verified stamp. Absent is fine.
func InvalidateVerified(rec *worktree.Record) error {
	err := os.Remove(filepath.Join(rec.GitDir, constants.FileVerified))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("clearing verified stamp: %w", err)
	}
	return nil
}

// patchDivergence builds a short human-readable account of where two patch
// texts first differ. Full patches can be huge; the backup ref holds the
// real evidence.
func patchDivergence(before, after string) string {
	bl := strings.Split(before, "\n")
	al := strings.Split(after, "\n")
	n := len(bl)
	if len(al) < n {
		n = len(al)
	}
	for i := 0; i < n; i++ {
		if bl[i] != al[i] {
			return fmt.Sprintf("first divergence at patch line %d:\n  before: %s\n  after:  %s",
				i+1, truncateLine(bl[i]), truncateLine(al[i]))
		}
	}
	return fmt.Sprintf("patches differ in length: %d lines before, %d after", len(bl), len(al))
}

func truncateLine(s string) string {
	if len(s) > 120 {
		return s[:120] + "..."
	}
	return s
}

func shortRev(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}
