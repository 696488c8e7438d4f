package worktree

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/steveyegge/switchyard/internal/testutil"
)

func TestCreatePinsForkPoint(t *testing.T) {
	repo := testutil.NewRepo(t)
	m := NewManager(repo.Root)

	tip := repo.Head()
	rec, err := m.Create("sy-1", "main")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if rec.ForkPoint != tip {
		t.Errorf("fork point = %s, want main tip %s", rec.ForkPoint, tip)
	}
	if rec.Branch != "issue/sy-1" {
		t.Errorf("branch = %q, want issue/sy-1", rec.Branch)
	}
	if rec.TargetBranch != "main" {
		t.Errorf("target = %q, want main", rec.TargetBranch)
	}

	data, err := os.ReadFile(filepath.Join(rec.GitDir, "fork-point"))
	if err != nil {
		t.Fatalf("reading fork-point file: %v", err)
	}
	if got := strings.TrimSpace(string(data)); got != tip {
		t.Errorf("fork-point file = %q, want %s", got, tip)
	}
}

func TestForkPointImmutableAsTargetAdvances(t *testing.T) {
	repo := testutil.NewRepo(t)
	m := NewManager(repo.Root)

	tip := repo.Head()
	rec, err := m.Create("sy-1", "main")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	// Advance main several times after worktree creation.
	repo.Commit("a.txt", "a\n", "advance 1")
	repo.Commit("b.txt", "b\n", "advance 2")

	loaded, err := Load(rec.Path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.ForkPoint != tip {
		t.Errorf("fork point after target advanced = %s, want original %s", loaded.ForkPoint, tip)
	}
}

func TestCreateRejectsExistingBranch(t *testing.T) {
	repo := testutil.NewRepo(t)
	m := NewManager(repo.Root)

	if _, err := m.Create("sy-1", "main"); err != nil {
		t.Fatalf("first Create: %v", err)
	}
	_, err := m.Create("sy-1", "main")
	if err == nil {
		t.Fatal("second Create of same issue succeeded")
	}
	if !errors.Is(err, ErrBranchExists) && !strings.Contains(err.Error(), "already exists") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestCreateRollsBackOnBadTarget(t *testing.T) {
	repo := testutil.NewRepo(t)
	m := NewManager(repo.Root)

	if _, err := m.Create("sy-1", "no-such-branch"); err == nil {
		t.Fatal("Create with missing target succeeded")
	}

	// No branch or worktree may be left behind.
	out := repo.Git("branch", "--list", "issue/sy-1")
	if out != "" {
		t.Errorf("issue branch left behind: %q", out)
	}
	if _, err := os.Stat(filepath.Join(m.Root(), "sy-1")); !os.IsNotExist(err) {
		t.Errorf("worktree path left behind (stat err %v)", err)
	}
}

func TestLoadRejectsNonIssueWorktree(t *testing.T) {
	repo := testutil.NewRepo(t)

	_, err := Load(repo.Root)
	if !errors.Is(err, ErrNotIssueTree) {
		t.Fatalf("Load of main tree: got %v, want ErrNotIssueTree", err)
	}
}

func TestLoadMissingRecordIsFatal(t *testing.T) {
	repo := testutil.NewRepo(t)
	m := NewManager(repo.Root)

	rec, err := m.Create("sy-1", "main")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := os.Remove(filepath.Join(rec.GitDir, "fork-point")); err != nil {
		t.Fatal(err)
	}

	_, err = Load(rec.Path)
	if !errors.Is(err, ErrRecordMissing) {
		t.Fatalf("Load without fork-point: got %v, want ErrRecordMissing", err)
	}
}

func TestLoadRejectsCorruptForkPoint(t *testing.T) {
	repo := testutil.NewRepo(t)
	m := NewManager(repo.Root)

	rec, err := m.Create("sy-1", "main")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	// A branch name in fork-point violates the pinning contract.
	if err := os.WriteFile(filepath.Join(rec.GitDir, "fork-point"), []byte("main\n"), 0644); err != nil {
		t.Fatal(err)
	}

	if _, err := Load(rec.Path); err == nil || !strings.Contains(err.Error(), "corrupt fork-point") {
		t.Fatalf("Load with symbolic fork-point: got %v, want corrupt fork-point error", err)
	}
}

func TestDestroyRemovesWorktreeAndBranch(t *testing.T) {
	repo := testutil.NewRepo(t)
	m := NewManager(repo.Root)

	rec, err := m.Create("sy-1", "main")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := m.Destroy(rec); err != nil {
		t.Fatalf("Destroy: %v", err)
	}

	if _, err := os.Stat(rec.Path); !os.IsNotExist(err) {
		t.Errorf("worktree path still exists (stat err %v)", err)
	}
	if out := repo.Git("branch", "--list", "issue/sy-1"); out != "" {
		t.Errorf("issue branch still exists: %q", out)
	}
}

func TestListAndIssuePaths(t *testing.T) {
	repo := testutil.NewRepo(t)
	m := NewManager(repo.Root)

	if _, err := m.Create("sy-1", "main"); err != nil {
		t.Fatalf("Create sy-1: %v", err)
	}
	if _, err := m.Create("sy-2", "main"); err != nil {
		t.Fatalf("Create sy-2: %v", err)
	}

	records, err := m.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("List returned %d records, want 2", len(records))
	}

	paths, err := m.IssuePaths()
	if err != nil {
		t.Fatalf("IssuePaths: %v", err)
	}
	for _, issue := range []string{"sy-1", "sy-2"} {
		if paths[issue] == "" {
			t.Errorf("IssuePaths missing %s: %v", issue, paths)
		}
	}
}

func TestIssueForBranch(t *testing.T) {
	tests := []struct {
		branch string
		want   string
	}{
		{"issue/sy-1", "sy-1"},
		{"issue/a/b", "a/b"},
		{"main", ""},
		{"issues/sy-1", ""},
		{"", ""},
	}
	for _, tt := range tests {
		if got := IssueForBranch(tt.branch); got != tt.want {
			t.Errorf("IssueForBranch(%q) = %q, want %q", tt.branch, got, tt.want)
		}
	}
}
