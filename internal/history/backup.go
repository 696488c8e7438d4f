// Package history implements the history-rewriting engines: squash and
// rebase, both protected by backup refs and mandatory post-operation
// verification. A failed rewrite always resets the branch to its backup and
// preserves the backup ref, so no operation ever leaves history half-applied.
package history

import (
	"errors"
	"fmt"

	"github.com/steveyegge/switchyard/internal/constants"
	"github.com/steveyegge/switchyard/internal/git"
)

// ErrContentChanged is the base error for verification failures.
// A *ContentChangedError wraps it with the details.
var ErrContentChanged = errors.New("content changed")

// ContentChangedError reports a squash or rebase whose result did not match
// the pre-operation state. The branch has already been reset; BackupRef
// survives for manual inspection.
type ContentChangedError struct {
	Op        string // "squash" or "rebase"
	Branch    string
	BackupRef string
	Summary   string // human-readable description of the divergence
}

func (e *ContentChangedError) Error() string {
	return fmt.Sprintf("%s verification failed on %s: %s (branch reset, backup preserved at %s)",
		e.Op, e.Branch, e.Summary, e.BackupRef)
}

func (e *ContentChangedError) Unwrap() error { return ErrContentChanged }

// BackupRefName returns the backup ref for an operation on a branch,
// e.g. refs/switchyard/backup/squash/issue/sy-42.
func BackupRefName(op, branch string) string {
	return constants.BackupRefPrefix + op + "/" + branch
}

// createBackup points the operation's backup ref at the branch's current tip
// and returns both.
//
// A leftover backup ref from an earlier failed run is reused when it already
// matches the current tip: the failed run restored the branch to exactly the
// state the ref preserves, so a retry loses nothing. A leftover that does
// NOT match is evidence of an unrestored failure and blocks the operation;
// overwriting it would discard the only copy of the pre-failure state.
func createBackup(g *git.Git, op, branch string) (ref, tip string, err error) {
	ref = BackupRefName(op, branch)
	tip, err = g.ResolveCommit("HEAD")
	if err != nil {
		return "", "", err
	}
	if g.RefExists(ref) {
		existing, err := g.RefTarget(ref)
		if err != nil {
			return "", "", err
		}
		if existing != tip {
			return "", "", fmt.Errorf("backup ref %s already exists from a previous failed %s and does not match the branch tip; inspect and delete it before retrying", ref, op)
		}
		return ref, tip, nil
	}
	if err := g.UpdateRef(ref, tip); err != nil {
		return "", "", fmt.Errorf("creating backup ref %s: %w", ref, err)
	}
	return ref, tip, nil
}
