// Package worktree manages the lifecycle of issue worktrees.
//
// Each issue gets an isolated worktree checked out on its own issue branch,
// created from the target branch's tip at creation time. That tip, the fork
// point, is resolved exactly once, written as a fully resolved commit hash
// into the worktree's private git dir, and never re-derived from the target
// branch again. Every later diff and verification compares against the
// pinned hash, so the target branch advancing cannot shift the baseline out
// from under an in-flight issue.
package worktree

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
)

// Common errors
var (
	ErrBranchExists  = errors.New("issue branch already exists")
	ErrNotIssueTree  = errors.New("not an issue worktree")
	ErrRecordMissing = errors.New("worktree record missing")
)

var commitHashRe = regexp.MustCompile(`^[0-9a-f]{40}$`)

// Record describes one issue worktree and its pinned fork point.
type Record struct {
	// Path is the worktree root on disk.
	Path string

	// Branch is the issue branch the worktree has checked out.
	Branch string

	// IssueID is the issue identifier (Branch without the issue/ prefix).
	IssueID string

	// ForkPoint is the immutable commit the branch was created from.
	// Always a fully resolved 40-hex hash, never a ref name.
	ForkPoint string

	// TargetBranch is the mutable branch this issue will merge into.
	TargetBranch string

	// GitDir is the worktree's private administrative directory
	// (<common-dir>/worktrees/<name>), where the record files live.
	GitDir string
}

// BranchForIssue returns the issue branch name for an issue id.
func BranchForIssue(issueID string) string {
	return constants.BranchIssuePrefix + issueID
}

// IssueForBranch extracts the issue id from an issue branch name.
// Returns empty for branches outside the issue/ namespace.
func IssueForBranch(branch string) string {
	if !strings.HasPrefix(branch, constants.BranchIssuePrefix) {
		return ""
	}
	return strings.TrimPrefix(branch, constants.BranchIssuePrefix)
}

// Manager creates, loads, and destroys issue worktrees for one repository.
type Manager struct {
	repo *git.Git // bound to the main working tree
	root string   // directory issue worktrees are created under
}

// NewManager creates a worktree manager for the repository at repoRoot.
// Issue worktrees are placed in a sibling directory of the repository
// (<repo>.worktrees/<issue>) so they never appear as untracked files
// inside any checkout.
func NewManager(repoRoot string) *Manager {
	return &Manager{
		repo: git.NewGit(repoRoot),
		root: filepath.Join(filepath.Dir(repoRoot), filepath.Base(repoRoot)+".worktrees"),
	}
}

// NewManagerAt is NewManager with an explicit worktrees root.
func NewManagerAt(repoRoot, worktreesRoot string) *Manager {
	return &Manager{repo: git.NewGit(repoRoot), root: worktreesRoot}
}

// Root returns the directory issue worktrees are created under.
func (m *Manager) Root() string { return m.root }

// Repo returns the git wrapper for the main working tree.
func (m *Manager) Repo() *git.Git { return m.repo }

// Create builds the worktree + branch pair for an issue.
//
// targetBranch is resolved to its current tip exactly once; that hash
// becomes the fork point and the branch's start commit. Any partial failure
// tears down what was created; there is no half-made worktree state.
func (m *Manager) Create(issueID, targetBranch string) (*Record, error) {
	if issueID == "" {
		return nil, errors.New("issue id required")
	}
	if strings.ContainsAny(issueID, "/\\ ") {
		return nil, fmt.Errorf("invalid issue id %q: path separators and spaces not allowed", issueID)
	}

	branch := BranchForIssue(issueID)
	if m.repo.BranchExists(branch) {
		return nil, fmt.Errorf("%w: %s", ErrBranchExists, branch)
	}

	// The single resolution of the target branch. Nothing for this worktree
	// ever resolves targetBranch again.
	forkPoint, err := m.repo.ResolveCommit(targetBranch)
	if err != nil {
		return nil, fmt.Errorf("resolving target branch %q: %w", targetBranch, err)
	}

	path := filepath.Join(m.root, issueID)
	if _, err := os.Stat(path); err == nil {
		return nil, fmt.Errorf("worktree path already exists: %s", path)
	}
	if err := os.MkdirAll(m.root, 0755); err != nil {
		return nil, fmt.Errorf("creating worktrees root: %w", err)
	}

	if err := m.repo.WorktreeAdd(path, branch, forkPoint); err != nil {
		return nil, fmt.Errorf("creating worktree: %w", err)
	}

	// Best-effort teardown on partial failure below.
	success := false
	defer func() {
		if !success {
			_ = m.repo.WorktreeRemove(path, true)
			_ = m.repo.WorktreePrune()
			_ = m.repo.DeleteBranch(branch)
		}
	}()

	wtGit := git.NewGit(path)
	gitDir, err := wtGit.GitDir()
	if err != nil {
		return nil, fmt.Errorf("locating worktree git dir: %w", err)
	}

	if err := util.AtomicWriteFile(filepath.Join(gitDir, constants.FileForkPoint), []byte(forkPoint+"\n"), 0644); err != nil {
		return nil, fmt.Errorf("writing fork-point: %w", err)
	}
	if err := util.AtomicWriteFile(filepath.Join(gitDir, constants.FileTargetRef), []byte(targetBranch+"\n"), 0644); err != nil {
		return nil, fmt.Errorf("writing target-ref: %w", err)
	}

	success = true
	return &Record{
		Path:         path,
		Branch:       branch,
		IssueID:      issueID,
		ForkPoint:    forkPoint,
		TargetBranch: targetBranch,
		GitDir:       gitDir,
	}, nil
}

// Load rebuilds a Record from an existing worktree path.
//
// A missing or malformed fork-point file is fatal with full context: the
// pinning invariant is unenforceable without it, so no operation may
// proceed on guesswork.
func Load(path string) (*Record, error) {
	wtGit := git.NewGit(path)
	gitDir, err := wtGit.GitDir()
	if err != nil {
		return nil, fmt.Errorf("loading worktree at %s: %w", path, err)
	}

	branch, err := wtGit.CurrentBranch()
	if err != nil {
		return nil, fmt.Errorf("reading branch of %s: %w", path, err)
	}
	issueID := IssueForBranch(branch)
	if issueID == "" {
		return nil, fmt.Errorf("%w: %s is on branch %q, expected %s* branch",
			ErrNotIssueTree, path, branch, constants.BranchIssuePrefix)
	}

	forkPoint, err := readRecordFile(gitDir, constants.FileForkPoint)
	if err != nil {
		return nil, err
	}
	if !commitHashRe.MatchString(forkPoint) {
		return nil, fmt.Errorf("corrupt fork-point in %s: expected 40-hex commit hash, got %q",
			gitDir, forkPoint)
	}

	targetBranch, err := readRecordFile(gitDir, constants.FileTargetRef)
	if err != nil {
		return nil, err
	}
	if targetBranch == "" {
		return nil, fmt.Errorf("corrupt target-ref in %s: empty", gitDir)
	}

	topLevel, err := wtGit.TopLevel()
	if err != nil {
		return nil, fmt.Errorf("resolving worktree root of %s: %w", path, err)
	}

	return &Record{
		Path:         topLevel,
		Branch:       branch,
		IssueID:      issueID,
		ForkPoint:    forkPoint,
		TargetBranch: targetBranch,
		GitDir:       gitDir,
	}, nil
}

// Destroy removes the worktree and deletes its branch. It contains no
// safety logic: callers confirm the issue is merged or abandoned, and
// destructive-command safety is the guard's job.
func (m *Manager) Destroy(rec *Record) error {
	if err := m.repo.WorktreeRemove(rec.Path, true); err != nil {
		return fmt.Errorf("removing worktree %s: %w", rec.Path, err)
	}
	if err := m.repo.WorktreePrune(); err != nil {
		return fmt.Errorf("pruning worktrees: %w", err)
	}
	if m.repo.BranchExists(rec.Branch) {
		if err := m.repo.DeleteBranch(rec.Branch); err != nil {
			return fmt.Errorf("deleting branch %s: %w", rec.Branch, err)
		}
	}
	return nil
}

// List returns records for every issue worktree of the repository.
// Worktrees outside the issue/ branch namespace are ignored.
func (m *Manager) List() ([]*Record, error) {
	infos, err := m.repo.WorktreeList()
	if err != nil {
		return nil, err
	}

	var records []*Record
	for _, info := range infos {
		if info.Bare || IssueForBranch(info.Branch) == "" {
			continue
		}
		rec, err := Load(info.Path)
		if err != nil {
			return nil, fmt.Errorf("loading issue worktree %s: %w", info.Path, err)
		}
		records = append(records, rec)
	}
	return records, nil
}

// IssuePaths maps issue ids to worktree paths without requiring intact
// record files. The guard uses this: a worktree whose record was damaged
// still deserves protection.
func (m *Manager) IssuePaths() (map[string]string, error) {
	infos, err := m.repo.WorktreeList()
	if err != nil {
		return nil, err
	}

	paths := make(map[string]string)
	for _, info := range infos {
		if info.Bare {
			continue
		}
		if issueID := IssueForBranch(info.Branch); issueID != "" {
			paths[issueID] = info.Path
		}
	}
	return paths, nil
}

func readRecordFile(gitDir, name string) (string, error) {
	path := filepath.Join(gitDir, name)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("%w: %s", ErrRecordMissing, path)
		}
		return "", fmt.Errorf("reading %s: %w", path, err)
	}
	return strings.TrimSpace(string(data)), nil
}
