package mergeflow

import (
	"errors"
	"os"
	"testing"
	"time"

	"github.com/steveyegge/switchyard/internal/history"
	"github.com/steveyegge/switchyard/internal/lockfile"
	"github.com/steveyegge/switchyard/internal/testutil"
	"github.com/steveyegge/switchyard/internal/worktree"
)

type mergeFixture struct {
	repo      *testutil.Repo
	locks     *lockfile.Manager
	worktrees *worktree.Manager
	merger    *Merger
	rec       *worktree.Record
}

// newFixture prepares a locked issue worktree with one commit of work.
func newFixture(t *testing.T) *mergeFixture {
	t.Helper()
	repo := testutil.NewRepo(t)
	wm := worktree.NewManager(repo.Root)
	locks := lockfile.NewManager(repo.GitDir(), 10*time.Minute, 10*time.Millisecond)

	if _, err := locks.Acquire("sy-1", "session-a"); err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	rec, err := wm.Create("sy-1", "main")
	if err != nil {
		t.Fatalf("Create worktree: %v", err)
	}
	repo.CommitIn(rec.Path, "feature.go", "feature\n", "sy-1 work")

	return &mergeFixture{
		repo:      repo,
		locks:     locks,
		worktrees: wm,
		merger:    New(wm, locks, "session-a"),
		rec:       rec,
	}
}

func (f *mergeFixture) verify(t *testing.T) {
	t.Helper()
	if _, err := history.Rebase(f.rec, "main"); err != nil {
		t.Fatalf("Rebase: %v", err)
	}
}

func TestMergeFastForwardsAndCleansUp(t *testing.T) {
	f := newFixture(t)
	f.verify(t)

	issueTip := f.repo.GitIn(f.rec.Path, "rev-parse", "HEAD")

	hash, err := f.merger.Merge(f.rec)
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if hash != issueTip {
		t.Errorf("merged hash = %s, want issue tip %s", hash, issueTip)
	}

	// Ref advanced and the main working tree actually shows the work:
	// a ref-only update would leave feature.go missing and status dirty.
	if tip := f.repo.Git("rev-parse", "main"); tip != issueTip {
		t.Errorf("main at %s, want %s", tip, issueTip)
	}
	if _, err := os.Stat(f.repo.Root + "/feature.go"); err != nil {
		t.Errorf("merged file missing from main tree: %v", err)
	}
	if status := f.repo.Git("status", "--porcelain"); status != "" {
		t.Errorf("main tree dirty after merge:\n%s", status)
	}

	// Worktree destroyed, branch gone, lock released.
	if _, err := os.Stat(f.rec.Path); !os.IsNotExist(err) {
		t.Errorf("worktree still exists (stat err %v)", err)
	}
	if out := f.repo.Git("branch", "--list", "issue/sy-1"); out != "" {
		t.Errorf("issue branch still exists: %q", out)
	}
	holder, err := f.locks.Holder("sy-1")
	if err != nil {
		t.Fatalf("Holder: %v", err)
	}
	if holder != nil {
		t.Errorf("lock still held after merge: %+v", holder)
	}
}

func TestMergeRequiresVerification(t *testing.T) {
	f := newFixture(t)

	_, err := f.merger.Merge(f.rec)
	if !errors.Is(err, ErrNotVerified) {
		t.Fatalf("Merge without rebase: got %v, want ErrNotVerified", err)
	}

	// Nothing was touched.
	if _, statErr := os.Stat(f.rec.Path); statErr != nil {
		t.Errorf("worktree damaged by refused merge: %v", statErr)
	}
	if holder, _ := f.locks.Holder("sy-1"); holder == nil {
		t.Error("lock released by refused merge")
	}
}

func TestMergeRejectsStaleVerification(t *testing.T) {
	f := newFixture(t)
	f.verify(t)

	// Target moves after verification; the stamp no longer covers reality.
	f.repo.Commit("other.go", "other\n", "main advances post-verify")

	_, err := f.merger.Merge(f.rec)
	if !errors.Is(err, ErrNotVerified) {
		t.Fatalf("Merge with stale verification: got %v, want ErrNotVerified", err)
	}

	// Re-verifying against the moved target makes the merge legal again.
	f.verify(t)
	if _, err := f.merger.Merge(f.rec); err != nil {
		t.Fatalf("Merge after re-verify: %v", err)
	}
}

func TestMergeRefusedForForeignSession(t *testing.T) {
	f := newFixture(t)
	f.verify(t)

	// A merger running under the wrong session is refused before any ref
	// moves: the owning agent still holds the issue.
	mainTip := f.repo.Git("rev-parse", "main")
	wrongSession := New(f.worktrees, f.locks, "session-b")
	if _, err := wrongSession.Merge(f.rec); !errors.Is(err, lockfile.ErrBusy) {
		t.Fatalf("Merge under foreign session: got %v, want ErrBusy", err)
	}
	if tip := f.repo.Git("rev-parse", "main"); tip != mainTip {
		t.Errorf("main moved by refused merge: %s -> %s", mainTip, tip)
	}
	if holder, _ := f.locks.Holder("sy-1"); holder == nil || holder.OwnerSession != "session-a" {
		t.Errorf("owner's lock lost: %+v", holder)
	}
}
