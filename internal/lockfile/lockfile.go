// Package lockfile implements issue-scoped advisory locks over a shared
// filesystem.
//
// One lock file per issue lives in <git-dir>/locks/. Creation is atomic at
// the filesystem level (write-then-hardlink), so two processes racing for
// the same issue cannot both succeed. No in-process mutex is layered on
// top, because mutual exclusion must hold across separate OS processes.
//
// A lock is live until its age exceeds the staleness threshold; past that
// it is presumed abandoned by a crashed owner and any session may reclaim
// it. Reclamation deletes and recreates; lock files are never mutated in
// place.
package lockfile

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/steveyegge/switchyard/internal/constants"
)

// Common errors
var (
	// ErrBusy means a live lock owned by another session exists. Recoverable:
	// retry with backoff, then surface a hard failure.
	ErrBusy = errors.New("issue locked by another session")

	// ErrMalformedLock means a lock file exists but cannot be parsed. Fatal:
	// never skipped silently, since guessing at ownership defeats the lock.
	ErrMalformedLock = errors.New("malformed lock file")

	// ErrInvalidName rejects issue names that would escape the locks dir.
	ErrInvalidName = errors.New("invalid issue name")
)

// Lock represents an exclusive claim on one issue.
type Lock struct {
	Name         string    `json:"name"`
	OwnerSession string    `json:"owner_session"`
	AcquiredAt   time.Time `json:"acquired_at"`
}

// Age returns how long ago the lock was acquired.
func (l *Lock) Age() time.Duration {
	return time.Since(l.AcquiredAt)
}

// HeldError reports a Busy outcome together with the current holder.
type HeldError struct {
	Name   string
	Holder *Lock
}

func (e *HeldError) Error() string {
	return fmt.Sprintf("issue %q locked by session %s (held %s)",
		e.Name, e.Holder.OwnerSession, e.Holder.Age().Round(time.Second))
}

func (e *HeldError) Unwrap() error { return ErrBusy }

// Manager acquires and releases issue locks in a single locks directory.
type Manager struct {
	dir           string
	staleAfter    time.Duration
	retryInterval time.Duration
}

// NewManager creates a lock manager rooted at <gitDir>/locks.
func NewManager(gitDir string, staleAfter, retryInterval time.Duration) *Manager {
	if staleAfter <= 0 {
		staleAfter = constants.StaleLockThreshold
	}
	if retryInterval <= 0 {
		retryInterval = constants.LockRetryInterval
	}
	return &Manager{
		dir:           filepath.Join(gitDir, constants.DirLocks),
		staleAfter:    staleAfter,
		retryInterval: retryInterval,
	}
}

// Dir returns the locks directory.
func (m *Manager) Dir() string { return m.dir }

// StaleAfter returns the staleness threshold in effect.
func (m *Manager) StaleAfter() time.Duration { return m.staleAfter }

func validateName(name string) error {
	if name == "" || strings.ContainsAny(name, "/\\") || name == "." || name == ".." {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}

func (m *Manager) lockPath(name string) string {
	return filepath.Join(m.dir, name+".lock")
}

// Acquire claims the named issue for the given session.
//
// A stale existing lock is deleted as presumed-abandoned before the atomic
// create is retried. A live lock held by the same session is returned as-is
// (sibling sub-agents under one session share the claim). A live lock held
// by a different session yields a *HeldError wrapping ErrBusy.
func (m *Manager) Acquire(name, ownerSession string) (*Lock, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}
	if ownerSession == "" {
		return nil, errors.New("owner session required")
	}
	if err := os.MkdirAll(m.dir, 0755); err != nil {
		return nil, fmt.Errorf("creating locks dir: %w", err)
	}

	// Two passes: the first may clear a stale lock, the second retries the
	// atomic create. Losing the re-create race to another reclaimer is a
	// Busy outcome, not an error loop.
	for attempt := 0; attempt < 2; attempt++ {
		lock := &Lock{Name: name, OwnerSession: ownerSession, AcquiredAt: time.Now().UTC()}
		created, err := m.tryCreate(lock)
		if err != nil {
			return nil, err
		}
		if created {
			return lock, nil
		}

		existing, err := m.read(name)
		if err != nil {
			return nil, err
		}
		if existing == nil {
			// Holder released between our create attempt and read; retry.
			continue
		}
		if existing.OwnerSession == ownerSession {
			return existing, nil
		}
		if existing.Age() > m.staleAfter {
			// Presumed crashed owner. Delete and retry the atomic create;
			// a concurrent reclaimer may beat us, which the next pass sees
			// as a fresh live lock.
			if err := os.Remove(m.lockPath(name)); err != nil && !os.IsNotExist(err) {
				return nil, fmt.Errorf("reclaiming stale lock %s: %w", name, err)
			}
			continue
		}
		return nil, &HeldError{Name: name, Holder: existing}
	}

	// Both passes lost the create race: someone else now holds it.
	existing, err := m.read(name)
	if err != nil {
		return nil, err
	}
	if existing != nil && existing.OwnerSession == ownerSession {
		return existing, nil
	}
	if existing != nil {
		return nil, &HeldError{Name: name, Holder: existing}
	}
	return nil, fmt.Errorf("lock %s: lost create race twice with no holder visible", name)
}

// AcquireWait retries Acquire with a fixed backoff until timeout elapses.
// Only Busy outcomes are retried; every other error propagates immediately.
func (m *Manager) AcquireWait(name, ownerSession string, timeout time.Duration) (*Lock, error) {
	if timeout <= 0 {
		timeout = constants.DefaultLockWaitTimeout
	}
	deadline := time.Now().Add(timeout)
	for {
		lock, err := m.Acquire(name, ownerSession)
		if err == nil {
			return lock, nil
		}
		if !errors.Is(err, ErrBusy) {
			return nil, err
		}
		if time.Now().Add(m.retryInterval).After(deadline) {
			return nil, fmt.Errorf("waited %s: %w", timeout, err)
		}
		time.Sleep(m.retryInterval)
	}
}

// Release removes the named lock. Releasing an absent lock is not an error
// (idempotent). A live lock owned by a different session is not released.
func (m *Manager) Release(name, ownerSession string) error {
	if err := validateName(name); err != nil {
		return err
	}
	existing, err := m.read(name)
	if err != nil {
		return err
	}
	if existing == nil {
		return nil
	}
	if existing.OwnerSession != ownerSession && existing.Age() <= m.staleAfter {
		return &HeldError{Name: name, Holder: existing}
	}
	if err := os.Remove(m.lockPath(name)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("releasing lock %s: %w", name, err)
	}
	return nil
}

// Holder returns the live lock for an issue, or nil if absent or stale.
func (m *Manager) Holder(name string) (*Lock, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}
	lock, err := m.read(name)
	if err != nil {
		return nil, err
	}
	if lock == nil || lock.Age() > m.staleAfter {
		return nil, nil
	}
	return lock, nil
}

// Live returns every live (non-stale) lock in the locks directory.
// The guard recomputes its protected set from this on every call.
func (m *Manager) Live() ([]*Lock, error) {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading locks dir: %w", err)
	}

	var live []*Lock
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".lock") {
			continue
		}
		name := strings.TrimSuffix(entry.Name(), ".lock")
		lock, err := m.read(name)
		if err != nil {
			return nil, err
		}
		if lock != nil && lock.Age() <= m.staleAfter {
			live = append(live, lock)
		}
	}
	return live, nil
}

// tryCreate publishes a lock file atomically: the payload is fully written
// to a temp file first, then hardlinked into place. link(2) fails with
// EEXIST if any other process won the race, and readers can never observe
// a partially written lock.
func (m *Manager) tryCreate(lock *Lock) (bool, error) {
	data, err := json.MarshalIndent(lock, "", "  ")
	if err != nil {
		return false, err
	}
	data = append(data, '\n')

	tmp, err := os.CreateTemp(m.dir, lock.Name+".tmp.*")
	if err != nil {
		return false, fmt.Errorf("creating lock temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return false, fmt.Errorf("writing lock temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return false, fmt.Errorf("closing lock temp file: %w", err)
	}

	if err := os.Link(tmpName, m.lockPath(lock.Name)); err != nil {
		if os.IsExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("publishing lock %s: %w", lock.Name, err)
	}
	return true, nil
}

// read loads a lock file, returning nil if it does not exist.
func (m *Manager) read(name string) (*Lock, error) {
	path := m.lockPath(name)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading lock %s: %w", name, err)
	}

	var lock Lock
	if err := json.Unmarshal(data, &lock); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformedLock, path, err)
	}
	if lock.OwnerSession == "" || lock.AcquiredAt.IsZero() {
		return nil, fmt.Errorf("%w: %s: missing owner_session or acquired_at", ErrMalformedLock, path)
	}
	return &lock, nil
}
