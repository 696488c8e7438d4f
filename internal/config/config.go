// Package config loads optional per-repository engine tunables.
//
// Tunables live in switchyard.toml inside the repository git dir. Every field
// is optional; absent fields fall back to the compiled-in engine defaults in
// the constants package. A missing file is not an error. A malformed file is
// fatal: a half-read config silently changing lock semantics is worse than
// a hard stop.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/steveyegge/switchyard/internal/constants"
)

// Engine holds resolved engine tunables.
type Engine struct {
	Lock  LockConfig  `toml:"lock"`
	Merge MergeConfig `toml:"merge"`
}

// LockConfig tunes the lock manager.
type LockConfig struct {
	// StaleAfter is the staleness threshold: locks older than this are
	// presumed abandoned and reclaimable by any session.
	StaleAfter duration `toml:"stale_after"`

	// RetryInterval is the pause between acquisition attempts while a live
	// foreign lock exists.
	RetryInterval duration `toml:"retry_interval"`

	// WaitTimeout bounds AcquireWait when the caller supplies no timeout.
	WaitTimeout duration `toml:"wait_timeout"`
}

// MergeConfig tunes merge and cleanup.
type MergeConfig struct {
	// DefaultBranch is the target branch used when the issue-metadata
	// collaborator supplies none.
	DefaultBranch string `toml:"default_branch"`
}

// duration wraps time.Duration for TOML decoding of strings like "10m".
type duration time.Duration

func (d *duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = duration(parsed)
	return nil
}

// Default returns the compiled-in engine defaults.
func Default() *Engine {
	return &Engine{
		Lock: LockConfig{
			StaleAfter:    duration(constants.StaleLockThreshold),
			RetryInterval: duration(constants.LockRetryInterval),
			WaitTimeout:   duration(constants.DefaultLockWaitTimeout),
		},
		Merge: MergeConfig{
			DefaultBranch: constants.BranchMain,
		},
	}
}

// Load reads switchyard.toml from the given git dir, layering it over the
// defaults. Absent file returns defaults; malformed file returns an error
// with the offending path.
func Load(gitDir string) (*Engine, error) {
	cfg := Default()

	path := filepath.Join(gitDir, constants.FileEngineConfig)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	// Zero values from explicit empty config entries fall back to defaults
	// rather than producing a zero staleness window (which would make every
	// lock instantly reclaimable).
	def := Default()
	if cfg.Lock.StaleAfter <= 0 {
		cfg.Lock.StaleAfter = def.Lock.StaleAfter
	}
	if cfg.Lock.RetryInterval <= 0 {
		cfg.Lock.RetryInterval = def.Lock.RetryInterval
	}
	if cfg.Lock.WaitTimeout <= 0 {
		cfg.Lock.WaitTimeout = def.Lock.WaitTimeout
	}
	if cfg.Merge.DefaultBranch == "" {
		cfg.Merge.DefaultBranch = def.Merge.DefaultBranch
	}

	return cfg, nil
}

// StaleAfter returns the staleness threshold as a time.Duration.
func (e *Engine) StaleAfter() time.Duration { return time.Duration(e.Lock.StaleAfter) }

// RetryInterval returns the lock retry interval as a time.Duration.
func (e *Engine) RetryInterval() time.Duration { return time.Duration(e.Lock.RetryInterval) }

// WaitTimeout returns the default lock wait timeout as a time.Duration.
func (e *Engine) WaitTimeout() time.Duration { return time.Duration(e.Lock.WaitTimeout) }
