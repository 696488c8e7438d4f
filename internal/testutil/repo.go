// Package testutil provides shared test infrastructure: scratch git
// repositories with deterministic identity, plus small commit helpers.
package testutil

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
)

// RequireGit skips the test when no git binary is on PATH.
func RequireGit(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed, skipping test")
	}
}

// Repo is a scratch repository for one test.
type Repo struct {
	t    *testing.T
	Root string
	// ticks numbers harness-made commits so each gets a distinct,
	// deterministic commit date (see CommitIn).
	ticks int
}

// repoEpoch is the base unix time for harness commit dates. It is far in
// the past so harness commits can never share a committer timestamp with
// commits git creates at wall-clock time during a test.
const repoEpoch = 1700000000

// NewRepo creates an initialized repository with branch main, a configured
// identity, and one initial commit, under t.TempDir().
func NewRepo(t *testing.T) *Repo {
	t.Helper()
	RequireGit(t)

	// The repo lives in a subdirectory so issue worktrees (siblings of the
	// repo root) stay inside the test's temp dir.
	root := filepath.Join(t.TempDir(), "repo")
	if err := os.MkdirAll(root, 0755); err != nil {
		t.Fatalf("mkdir repo: %v", err)
	}

	r := &Repo{t: t, Root: root}
	r.Git("init", "-b", "main")
	r.Git("config", "user.name", "Test Agent")
	r.Git("config", "user.email", "agent@test.invalid")
	r.WriteFile("README.md", "test repository\n")
	r.Git("add", ".")
	r.Git("commit", "-m", "initial commit")
	return r
}

// Git runs a git command in the repository root and returns trimmed stdout,
// failing the test on error.
func (r *Repo) Git(args ...string) string {
	r.t.Helper()
	return r.GitIn(r.Root, args...)
}

// GitIn runs a git command in an arbitrary directory (e.g. a worktree).
func (r *Repo) GitIn(dir string, args ...string) string {
	r.t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	if err != nil {
		r.t.Fatalf("git %s in %s: %v\n%s", strings.Join(args, " "), dir, err, out)
	}
	return strings.TrimSpace(string(out))
}

// WriteFile writes a file relative to the repository root.
func (r *Repo) WriteFile(rel, content string) {
	r.t.Helper()
	WriteFileIn(r.t, r.Root, rel, content)
}

// Commit writes a file and commits it, returning the new commit hash.
func (r *Repo) Commit(rel, content, message string) string {
	r.t.Helper()
	return r.CommitIn(r.Root, rel, content, message)
}

// CommitIn writes a file and commits it in an arbitrary working tree.
// Commit dates are deterministic and strictly increasing: two commits with
// the same parent, tree, and message made within the same wall-clock second
// would otherwise be bit-identical and collapse to a single hash (e.g. a
// same-second cherry-pick of a harness commit).
func (r *Repo) CommitIn(dir, rel, content, message string) string {
	r.t.Helper()
	WriteFileIn(r.t, dir, rel, content)
	r.GitIn(dir, "add", rel)
	r.ticks++
	date := fmt.Sprintf("%d +0000", repoEpoch+r.ticks)
	cmd := exec.Command("git", "commit", "-m", message)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), "GIT_AUTHOR_DATE="+date, "GIT_COMMITTER_DATE="+date)
	if out, err := cmd.CombinedOutput(); err != nil {
		r.t.Fatalf("git commit in %s: %v\n%s", dir, err, out)
	}
	return r.GitIn(dir, "rev-parse", "HEAD")
}

// Head returns the repository's current HEAD commit hash.
func (r *Repo) Head() string {
	r.t.Helper()
	return r.Git("rev-parse", "HEAD")
}

// GitDir returns the repository's absolute .git directory.
func (r *Repo) GitDir() string {
	r.t.Helper()
	return r.Git("rev-parse", "--absolute-git-dir")
}

// WriteFileIn writes a file relative to dir, creating parent directories.
func WriteFileIn(t *testing.T, dir, rel, content string) {
	t.Helper()
	path := filepath.Join(dir, rel)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("mkdir for %s: %v", rel, err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write %s: %v", rel, err)
	}
}
