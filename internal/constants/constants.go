// Package constants defines shared constant values used throughout Switchyard.
// Centralizing these magic strings improves maintainability and consistency.
package constants

import "time"

// Timing constants for lock acquisition and staleness.
//
// StaleLockThreshold is a fixed engine default; deployments may override it
// via switchyard.toml (see config.Engine). The lock-wait timeout is always
// caller-supplied and is a different knob from staleness.
const (
	// StaleLockThreshold is the age past which a lock is presumed abandoned
	// (crashed owner) and may be reclaimed by any session.
	StaleLockThreshold = 10 * time.Minute

	// LockRetryInterval is the pause between acquisition attempts while
	// waiting out a live lock held by another session.
	LockRetryInterval = 500 * time.Millisecond

	// DefaultLockWaitTimeout is how long AcquireWait retries before
	// surfacing a hard Busy failure, when the caller gives no timeout.
	DefaultLockWaitTimeout = 30 * time.Second
)

// Directory and file names inside the repository git dir.
const (
	// DirLocks holds one <issue>.lock file per claimed issue.
	DirLocks = "locks"

	// DirWorktrees is git's own per-worktree administrative area. Switchyard
	// stores its record files alongside git's, in each worktree's subdirectory.
	DirWorktrees = "worktrees"

	// FileForkPoint pins the commit the issue branch was created from.
	// Contents are always a fully resolved 40-hex commit hash, never a ref.
	FileForkPoint = "fork-point"

	// FileTargetRef names the branch this issue will eventually merge into.
	FileTargetRef = "target-ref"

	// FileVerified records the target tip a rebase was verified against.
	// Written by the rebase engine, consumed by merge.
	FileVerified = "verified"

	// FileEngineConfig is the optional per-repo tunables file.
	FileEngineConfig = "switchyard.toml"
)

// Git ref and branch naming.
const (
	// BranchIssuePrefix is the prefix for issue work branches.
	// Issue "sy-abc" works on branch "issue/sy-abc".
	BranchIssuePrefix = "issue/"

	// BackupRefPrefix is the namespace for pre-rewrite backup refs.
	// Full form: refs/switchyard/backup/<op>/<branch>.
	BackupRefPrefix = "refs/switchyard/backup/"

	// BranchMain is the fallback default branch name.
	BranchMain = "main"
)

// Session identity.
const (
	// SessionEnvVar carries the session id into child processes so
	// sub-agents spawned under one session share lock ownership.
	SessionEnvVar = "SY_SESSION"

	// SessionIDPrefix prefixes generated session ids.
	SessionIDPrefix = "sy-"
)

// Exit codes for the sy binary. Busy is distinguished from hard failure so
// orchestrators can retry lock contention without parsing output.
const (
	// ExitFailure is the general non-zero exit for errors and guard blocks.
	ExitFailure = 1

	// ExitBusy signals lock contention: recoverable, retry with backoff.
	ExitBusy = 2
)
