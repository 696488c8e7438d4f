// Package cmd implements the sy command-line interface.
package cmd

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/steveyegge/switchyard/internal/config"
	"github.com/steveyegge/switchyard/internal/constants"
	"github.com/steveyegge/switchyard/internal/git"
	"github.com/steveyegge/switchyard/internal/guard"
	"github.com/steveyegge/switchyard/internal/lockfile"
	"github.com/steveyegge/switchyard/internal/mergeflow"
	"github.com/steveyegge/switchyard/internal/session"
	"github.com/steveyegge/switchyard/internal/style"
	"github.com/steveyegge/switchyard/internal/worktree"
)

var sessionFlag string

var rootCmd = &cobra.Command{
	Use:   "sy",
	Short: "Safe concurrent git worktree and history operations for agents",
	Long: `Switchyard coordinates multiple autonomous agents working on one git
repository. Each issue gets an exclusive lock and an isolated worktree
pinned to an immutable fork point; squash, rebase, and merge verify their
results against that pin before touching shared history, and destructive
commands are checked against live lock state before they run.

Session identity comes from --session, then ` + constants.SessionEnvVar + `, then a
generated id. Agents sharing one session share lock ownership.`,
	SilenceUsage:  true, // Don't print usage on operational errors (confuses agents)
	SilenceErrors: true, // Execute reports errors itself, styled
}

func init() {
	rootCmd.PersistentFlags().StringVar(&sessionFlag, "session", "",
		"Session id for lock ownership (default: $"+constants.SessionEnvVar+" or generated)")
}

// Execute runs the root command and returns the process exit code.
// Lock contention exits with a dedicated code so orchestrators can retry
// without parsing error text.
func Execute() int {
	if err := rootCmd.Execute(); err != nil {
		style.PrintError("%v", err)
		if errors.Is(err, lockfile.ErrBusy) {
			return constants.ExitBusy
		}
		return constants.ExitFailure
	}
	return 0
}

func requireSubcommand(cmd *cobra.Command, args []string) error {
	return cmd.Help()
}

// engine bundles the per-invocation managers, rooted at the repository
// enclosing the current directory.
type engine struct {
	repoRoot  string
	commonDir string
	cfg       *config.Engine
	locks     *lockfile.Manager
	worktrees *worktree.Manager
	session   string
}

func newEngine() (*engine, error) {
	commonDir, err := git.NewGit("").CommonDir()
	if err != nil {
		return nil, err
	}
	repoRoot := filepath.Dir(commonDir)

	cfg, err := config.Load(commonDir)
	if err != nil {
		return nil, err
	}

	sess, generated := session.Current(sessionFlag)
	if generated {
		style.PrintWarning("no session id given; using generated session %s", sess)
	}

	return &engine{
		repoRoot:  repoRoot,
		commonDir: commonDir,
		cfg:       cfg,
		locks:     lockfile.NewManager(commonDir, cfg.StaleAfter(), cfg.RetryInterval()),
		worktrees: worktree.NewManager(repoRoot),
		session:   sess,
	}, nil
}

func (e *engine) guard() *guard.Guard {
	return guard.New(e.locks, e.worktrees, e.repoRoot)
}

func (e *engine) merger() *mergeflow.Merger {
	return mergeflow.New(e.worktrees, e.locks, e.session)
}

// loadRecord resolves a worktree path argument, defaulting to the current
// directory.
func loadRecord(args []string) (*worktree.Record, error) {
	path := "."
	if len(args) > 0 {
		path = args[0]
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	return worktree.Load(abs)
}

func printSuccess(format string, args ...any) {
	fmt.Printf("%s %s\n", style.Success.Render("✓"), fmt.Sprintf(format, args...))
}

func cwd() string {
	dir, err := os.Getwd()
	if err != nil {
		return "."
	}
	return dir
}
