// Package git provides a wrapper for git operations via subprocess.
//
// Every operation is one short-lived git invocation against a fixed working
// directory. The wrapper exposes exactly the plumbing the engine needs
// (resolution, worktrees, refs, commit-tree, diff, rebase) and nothing that
// would tempt callers into porcelain-output scraping.
package git

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// Common errors
var (
	ErrNotRepo    = errors.New("not a git repository")
	ErrNoSuchRef  = errors.New("ref not found")
	ErrRefChanged = errors.New("ref changed concurrently")
)

// Git wraps git operations rooted at a working directory.
type Git struct {
	workDir string
}

// NewGit creates a Git wrapper that runs commands in workDir.
// An empty workDir runs in the process's current directory.
func NewGit(workDir string) *Git {
	return &Git{workDir: workDir}
}

// WorkDir returns the directory commands run in.
func (g *Git) WorkDir() string {
	return g.workDir
}

// run executes a git command and returns trimmed stdout.
func (g *Git) run(args ...string) (string, error) {
	return g.runEnv(nil, args...)
}

// runEnv executes a git command with extra environment variables appended to
// the inherited environment.
func (g *Git) runEnv(extraEnv []string, args ...string) (string, error) {
	cmd := exec.Command("git", args...)
	cmd.Dir = g.workDir
	if len(extraEnv) > 0 {
		cmd.Env = append(os.Environ(), extraEnv...)
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return "", g.wrapError(err, stderr.String(), args)
	}
	return strings.TrimSpace(stdout.String()), nil
}

// wrapError attaches the failing subcommand and git's stderr to an error.
func (g *Git) wrapError(err error, stderr string, args []string) error {
	msg := strings.TrimSpace(stderr)
	sub := "git"
	if len(args) > 0 {
		sub = "git " + args[0]
	}
	if strings.Contains(msg, "not a git repository") {
		return fmt.Errorf("%s in %s: %w", sub, g.workDir, ErrNotRepo)
	}
	if msg != "" {
		return fmt.Errorf("%s: %w: %s", sub, err, msg)
	}
	return fmt.Errorf("%s: %w", sub, err)
}

// IsRepo reports whether the working directory is inside a git repository.
func (g *Git) IsRepo() bool {
	_, err := g.run("rev-parse", "--git-dir")
	return err == nil
}

// GitDir returns the absolute git dir of the current working tree.
// For a linked worktree this is the worktree's private administrative
// directory (<common-dir>/worktrees/<name>), where Switchyard keeps its
// record files.
func (g *Git) GitDir() (string, error) {
	return g.run("rev-parse", "--absolute-git-dir")
}

// CommonDir returns the absolute git dir shared by all worktrees of the
// repository (the main repository's .git directory).
func (g *Git) CommonDir() (string, error) {
	return g.run("rev-parse", "--path-format=absolute", "--git-common-dir")
}

// TopLevel returns the root of the current working tree.
func (g *Git) TopLevel() (string, error) {
	return g.run("rev-parse", "--show-toplevel")
}

// ResolveCommit resolves any revision expression to a full commit hash.
func (g *Git) ResolveCommit(rev string) (string, error) {
	out, err := g.run("rev-parse", "--verify", rev+"^{commit}")
	if err != nil {
		return "", fmt.Errorf("resolving %q: %w", rev, err)
	}
	return out, nil
}

// TreeHash resolves a revision to its tree object hash.
func (g *Git) TreeHash(rev string) (string, error) {
	out, err := g.run("rev-parse", "--verify", rev+"^{tree}")
	if err != nil {
		return "", fmt.Errorf("resolving tree of %q: %w", rev, err)
	}
	return out, nil
}

// CurrentBranch returns the checked-out branch name, empty on detached HEAD.
func (g *Git) CurrentBranch() (string, error) {
	return g.run("branch", "--show-current")
}

// BranchExists reports whether a local branch exists.
func (g *Git) BranchExists(name string) bool {
	_, err := g.run("show-ref", "--verify", "--quiet", "refs/heads/"+name)
	return err == nil
}

// DeleteBranch force-deletes a local branch.
func (g *Git) DeleteBranch(name string) error {
	_, err := g.run("branch", "-D", name)
	return err
}

// WorktreeInfo describes one entry from git worktree list.
type WorktreeInfo struct {
	Path   string // working tree root
	Head   string // commit hash HEAD points at
	Branch string // branch name without refs/heads/, empty if detached
	Bare   bool
}

// WorktreeAdd creates a worktree at path with a new branch starting at the
// given commit. The branch must not already exist.
func (g *Git) WorktreeAdd(path, newBranch, startPoint string) error {
	_, err := g.run("worktree", "add", "-b", newBranch, path, startPoint)
	return err
}

// WorktreeRemove removes a worktree. force removes even with local
// modifications; Switchyard callers decide safety before calling.
func (g *Git) WorktreeRemove(path string, force bool) error {
	args := []string{"worktree", "remove"}
	if force {
		args = append(args, "--force")
	}
	args = append(args, path)
	_, err := g.run(args...)
	return err
}

// WorktreePrune removes stale worktree administrative entries.
func (g *Git) WorktreePrune() error {
	_, err := g.run("worktree", "prune")
	return err
}

// WorktreeList returns all worktrees of the repository, main tree first.
func (g *Git) WorktreeList() ([]WorktreeInfo, error) {
	out, err := g.run("worktree", "list", "--porcelain")
	if err != nil {
		return nil, err
	}

	var infos []WorktreeInfo
	var cur *WorktreeInfo
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case line == "":
			if cur != nil {
				infos = append(infos, *cur)
				cur = nil
			}
		case strings.HasPrefix(line, "worktree "):
			if cur != nil {
				infos = append(infos, *cur)
			}
			cur = &WorktreeInfo{Path: strings.TrimPrefix(line, "worktree ")}
		case strings.HasPrefix(line, "HEAD "):
			if cur != nil {
				cur.Head = strings.TrimPrefix(line, "HEAD ")
			}
		case strings.HasPrefix(line, "branch "):
			if cur != nil {
				cur.Branch = strings.TrimPrefix(strings.TrimPrefix(line, "branch "), "refs/heads/")
			}
		case line == "bare":
			if cur != nil {
				cur.Bare = true
			}
		}
	}
	if cur != nil {
		infos = append(infos, *cur)
	}
	return infos, nil
}

// RefExists reports whether a fully-qualified ref exists.
func (g *Git) RefExists(ref string) bool {
	_, err := g.run("show-ref", "--verify", "--quiet", ref)
	return err == nil
}

// RefTarget resolves a fully-qualified ref to its commit hash.
func (g *Git) RefTarget(ref string) (string, error) {
	out, err := g.run("rev-parse", "--verify", ref)
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrNoSuchRef, ref)
	}
	return out, nil
}

// UpdateRef points ref at newValue unconditionally.
func (g *Git) UpdateRef(ref, newValue string) error {
	_, err := g.run("update-ref", ref, newValue)
	return err
}

// UpdateRefCAS points ref at newValue only if it currently points at
// oldValue. git's compare-and-swap makes concurrent ref movement a hard
// failure instead of a silent overwrite.
func (g *Git) UpdateRefCAS(ref, newValue, oldValue string) error {
	_, err := g.run("update-ref", ref, newValue, oldValue)
	if err != nil {
		return fmt.Errorf("%w: %s (expected %s)", ErrRefChanged, ref, shortHash(oldValue))
	}
	return nil
}

// DeleteRef removes a ref.
func (g *Git) DeleteRef(ref string) error {
	_, err := g.run("update-ref", "-d", ref)
	return err
}

// Diff returns the full patch text between two revisions.
func (g *Git) Diff(a, b string) (string, error) {
	// --no-ext-diff and explicit config pins keep the patch text stable
	// regardless of user diff drivers, so textual comparison is meaningful.
	return g.run("-c", "core.autocrlf=false", "diff", "--no-ext-diff", "--no-color", a, b)
}

// DiffStat returns a short summary of differences between two revisions.
func (g *Git) DiffStat(a, b string) (string, error) {
	return g.run("diff", "--no-ext-diff", "--no-color", "--stat", a, b)
}

// DiffEmpty reports whether the trees of two revisions are identical.
func (g *Git) DiffEmpty(a, b string) (bool, error) {
	cmd := exec.Command("git", "diff", "--no-ext-diff", "--quiet", a, b)
	cmd.Dir = g.workDir
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	err := cmd.Run()
	if err == nil {
		return true, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && exitErr.ExitCode() == 1 {
		return false, nil
	}
	return false, g.wrapError(err, stderr.String(), []string{"diff"})
}

// CommitDates returns the author and committer dates of a commit in git's
// raw format ("<unix> <tz>"), suitable for GIT_AUTHOR_DATE/GIT_COMMITTER_DATE.
func (g *Git) CommitDates(rev string) (authorDate, committerDate string, err error) {
	out, err := g.run("show", "-s", "--format=%ad%n%cd", "--date=raw", rev)
	if err != nil {
		return "", "", err
	}
	lines := strings.SplitN(out, "\n", 2)
	if len(lines) != 2 {
		return "", "", fmt.Errorf("unexpected date output for %s: %q", rev, out)
	}
	return strings.TrimSpace(lines[0]), strings.TrimSpace(lines[1]), nil
}

// CommitTree creates a commit object from a tree with a single parent and
// explicit author/committer dates, returning the new commit hash. Identity
// (name, email) comes from the repository's normal git config.
func (g *Git) CommitTree(tree, parent, message, authorDate, committerDate string) (string, error) {
	env := []string{
		"GIT_AUTHOR_DATE=" + authorDate,
		"GIT_COMMITTER_DATE=" + committerDate,
	}
	out, err := g.runEnv(env, "commit-tree", tree, "-p", parent, "-m", message)
	if err != nil {
		return "", fmt.Errorf("commit-tree: %w", err)
	}
	return out, nil
}

// IsAncestor reports whether a is an ancestor of b.
func (g *Git) IsAncestor(a, b string) (bool, error) {
	cmd := exec.Command("git", "merge-base", "--is-ancestor", a, b)
	cmd.Dir = g.workDir
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	err := cmd.Run()
	if err == nil {
		return true, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && exitErr.ExitCode() == 1 {
		return false, nil
	}
	return false, g.wrapError(err, stderr.String(), []string{"merge-base"})
}

// RebaseOnto replays the commits after upstream onto newBase in the current
// worktree. The caller owns abort/rollback on failure.
func (g *Git) RebaseOnto(newBase, upstream string) error {
	_, err := g.run("rebase", "--onto", newBase, upstream)
	return err
}

// RebaseAbort abandons an in-progress rebase. Returns nil if no rebase is
// in progress (nothing to abort is not a failure during rollback).
func (g *Git) RebaseAbort() error {
	_, err := g.run("rebase", "--abort")
	if err != nil && strings.Contains(err.Error(), "No rebase in progress") {
		return nil
	}
	return err
}

// ResetHard moves HEAD, index, and working tree to a revision.
func (g *Git) ResetHard(rev string) error {
	_, err := g.run("reset", "--hard", rev)
	return err
}

// StatusPorcelain returns machine-readable working tree status.
func (g *Git) StatusPorcelain() (string, error) {
	return g.run("status", "--porcelain")
}

// IsClean reports whether the working tree has no uncommitted changes or
// untracked files.
func (g *Git) IsClean() (bool, error) {
	out, err := g.StatusPorcelain()
	if err != nil {
		return false, err
	}
	return out == "", nil
}

// shortHash abbreviates a hash for messages; full hashes stay in records.
func shortHash(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}
