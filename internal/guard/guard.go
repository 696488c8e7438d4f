// Package guard decides whether a destructive command may run.
//
// Locks are the primary coordination mechanism; the guard is the backstop
// for commands issued outside the lock protocol (a shell running rm -rf has
// no idea locks exist). It computes a protected path set fresh from live
// lock state on every call and blocks commands that would land inside it.
//
// The defining rule is that protection is command-dependent and asymmetric:
//
//	rm -rf on a worktree:          own session allowed, other sessions blocked
//	worktree remove on a worktree: own session BLOCKED, other sessions allowed
//
// A bulk delete sweeping up an unrelated agent's work is always a bug, but
// an agent cleaning its own directory is routine. A targeted worktree
// removal of your own session's tree is dangerous precisely because a
// sibling sub-agent under the same session may still be working in it,
// while removing a crashed foreign session's worktree is legitimate cleanup.
package guard

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/google/shlex"

	"github.com/steveyegge/switchyard/internal/lockfile"
	"github.com/steveyegge/switchyard/internal/worktree"
)

// CommandClass categorizes how a destructive command selects its victims.
type CommandClass int

const (
	// ClassNone is a command with no destructive potential the guard knows.
	ClassNone CommandClass = iota

	// ClassBulkDelete is a recursive/bulk filesystem delete (rm -rf family).
	ClassBulkDelete

	// ClassWorktreeRemove is a targeted worktree removal
	// (git worktree remove, sy worktree remove).
	ClassWorktreeRemove
)

// Request is one destructive-command attempt to evaluate.
type Request struct {
	// Command is the full command line as the agent would execute it.
	Command string

	// TargetPath is the path the command would delete.
	TargetPath string

	// Cwd is the requesting process's working directory.
	Cwd string

	// Session is the requesting agent's session id.
	Session string
}

// Decision is the guard's verdict. Reason is set only on block.
type Decision struct {
	Allow  bool
	Reason string
}

// Guard evaluates destructive commands against live lock and worktree state.
type Guard struct {
	locks     *lockfile.Manager
	worktrees *worktree.Manager
	repoRoot  string
}

// New creates a guard for one repository.
func New(locks *lockfile.Manager, worktrees *worktree.Manager, repoRoot string) *Guard {
	return &Guard{locks: locks, worktrees: worktrees, repoRoot: repoRoot}
}

// Check evaluates one destructive-command attempt.
//
// The protected set is derived from live lock state here, on every call.
// Nothing is cached: a lock released a millisecond ago stops protecting,
// and a lock acquired a millisecond ago starts.
func (g *Guard) Check(req Request) (Decision, error) {
	if req.Session == "" {
		return Decision{}, fmt.Errorf("session id required")
	}

	class := Classify(req.Command)
	if class == ClassNone {
		return Decision{Allow: true}, nil
	}

	target, err := filepath.Abs(req.TargetPath)
	if err != nil {
		return Decision{}, fmt.Errorf("resolving target path %q: %w", req.TargetPath, err)
	}
	cwd, err := filepath.Abs(req.Cwd)
	if err != nil {
		return Decision{}, fmt.Errorf("resolving cwd %q: %w", req.Cwd, err)
	}

	// Unconditional protections, regardless of command or session.
	if within(target, g.repoRoot) || within(g.repoRoot, target) {
		return block("target %s would remove main repository content at %s", target, g.repoRoot), nil
	}
	if within(cwd, target) {
		return block("target %s contains the current working directory %s", target, cwd), nil
	}

	live, err := g.locks.Live()
	if err != nil {
		return Decision{}, fmt.Errorf("reading lock state: %w", err)
	}
	paths, err := g.worktrees.IssuePaths()
	if err != nil {
		return Decision{}, fmt.Errorf("listing worktrees: %w", err)
	}

	for _, lock := range live {
		wtPath, ok := paths[lock.Name]
		if !ok {
			continue // locked issue with no worktree yet, nothing on disk to protect
		}
		if !within(wtPath, target) && !within(target, wtPath) {
			continue
		}
		sameSession := lock.OwnerSession == req.Session

		switch class {
		case ClassBulkDelete:
			if !sameSession {
				return block("worktree %s belongs to issue %s, locked by session %s; a bulk delete must not remove another agent's active work",
					wtPath, lock.Name, lock.OwnerSession), nil
			}
		case ClassWorktreeRemove:
			if sameSession {
				return block("worktree %s belongs to issue %s, locked by your own session %s; a sibling agent may still be using it, release the lock first",
					wtPath, lock.Name, lock.OwnerSession), nil
			}
		}
	}

	return Decision{Allow: true}, nil
}

// Classify maps a command line to its destructive class. Commands the guard
// cannot recognize but that look destructive are treated as bulk deletes,
// the stricter rule.
func Classify(command string) CommandClass {
	args, err := shlex.Split(command)
	if err != nil {
		// Unparseable quoting could hide anything. Apply the stricter rule.
		return ClassBulkDelete
	}
	if len(args) == 0 {
		return ClassNone
	}

	switch filepath.Base(args[0]) {
	case "rm":
		for _, a := range args[1:] {
			if a == "--" {
				break
			}
			if strings.HasPrefix(a, "--") {
				if a == "--recursive" || a == "--force" {
					return ClassBulkDelete
				}
				continue
			}
			if strings.HasPrefix(a, "-") && strings.ContainsAny(a, "rRf") {
				return ClassBulkDelete
			}
		}
		return ClassNone
	case "rmdir", "shred", "unlink", "find":
		// find can carry -delete; rmdir and friends are delete-only tools.
		// All get the conservative bulk rule.
		return ClassBulkDelete
	case "git":
		if len(args) >= 3 && args[1] == "worktree" && args[2] == "remove" {
			return ClassWorktreeRemove
		}
		if len(args) >= 2 && args[1] == "clean" {
			return ClassBulkDelete
		}
		return ClassNone
	case "sy":
		if len(args) >= 3 && args[1] == "worktree" && args[2] == "remove" {
			return ClassWorktreeRemove
		}
		return ClassNone
	}
	return ClassNone
}

func block(format string, args ...any) Decision {
	return Decision{Allow: false, Reason: fmt.Sprintf(format, args...)}
}

// within reports whether path is inside (or equal to) root.
func within(path, root string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel == "." || (!strings.HasPrefix(rel, ".."+string(filepath.Separator)) && rel != "..")
}
