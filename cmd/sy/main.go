// Command sy coordinates concurrent agent work on one git repository:
// issue locks, pinned-fork-point worktrees, verified squash/rebase, guarded
// removals, and fast-forward merge with cleanup.
package main

import (
	"os"

	"github.com/steveyegge/switchyard/internal/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
