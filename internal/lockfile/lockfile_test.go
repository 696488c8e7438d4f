package lockfile

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	return NewManager(t.TempDir(), 10*time.Minute, 10*time.Millisecond)
}

func TestAcquireRelease(t *testing.T) {
	m := newTestManager(t)

	lock, err := m.Acquire("sy-1", "session-a")
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if lock.Name != "sy-1" || lock.OwnerSession != "session-a" {
		t.Errorf("lock = %+v, want name sy-1 owner session-a", lock)
	}

	if err := m.Release("sy-1", "session-a"); err != nil {
		t.Fatalf("Release: %v", err)
	}
	holder, err := m.Holder("sy-1")
	if err != nil {
		t.Fatalf("Holder: %v", err)
	}
	if holder != nil {
		t.Errorf("lock still held after release: %+v", holder)
	}
}

func TestAcquireBusyForOtherSession(t *testing.T) {
	m := newTestManager(t)

	if _, err := m.Acquire("sy-1", "session-a"); err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	_, err := m.Acquire("sy-1", "session-b")
	if !errors.Is(err, ErrBusy) {
		t.Fatalf("Acquire by other session: got %v, want ErrBusy", err)
	}
	var held *HeldError
	if !errors.As(err, &held) {
		t.Fatalf("error %v is not a *HeldError", err)
	}
	if held.Holder.OwnerSession != "session-a" {
		t.Errorf("holder = %q, want session-a", held.Holder.OwnerSession)
	}
}

func TestAcquireSameSessionIdempotent(t *testing.T) {
	m := newTestManager(t)

	first, err := m.Acquire("sy-1", "session-a")
	if err != nil {
		t.Fatalf("first Acquire: %v", err)
	}
	second, err := m.Acquire("sy-1", "session-a")
	if err != nil {
		t.Fatalf("second Acquire by same session: %v", err)
	}
	if !second.AcquiredAt.Equal(first.AcquiredAt) {
		t.Errorf("re-acquire replaced the lock: %v != %v", second.AcquiredAt, first.AcquiredAt)
	}
}

func TestMutualExclusion(t *testing.T) {
	m := newTestManager(t)

	const contenders = 16
	var wg sync.WaitGroup
	wins := make(chan string, contenders)

	for i := 0; i < contenders; i++ {
		session := string(rune('a' + i))
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := m.Acquire("sy-1", "session-"+session); err == nil {
				wins <- session
			}
		}()
	}
	wg.Wait()
	close(wins)

	var winners []string
	for w := range wins {
		winners = append(winners, w)
	}
	if len(winners) != 1 {
		t.Fatalf("got %d winners %v, want exactly 1", len(winners), winners)
	}
}

func TestStaleLockReclaim(t *testing.T) {
	m := newTestManager(t)

	if _, err := m.Acquire("sy-1", "session-a"); err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	backdate(t, m, "sy-1", 11*time.Minute)

	lock, err := m.Acquire("sy-1", "session-b")
	if err != nil {
		t.Fatalf("Acquire of stale lock: %v", err)
	}
	if lock.OwnerSession != "session-b" {
		t.Errorf("owner = %q, want session-b", lock.OwnerSession)
	}
}

func TestStaleLockInvisibleToHolderAndLive(t *testing.T) {
	m := newTestManager(t)

	if _, err := m.Acquire("sy-1", "session-a"); err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if _, err := m.Acquire("sy-2", "session-b"); err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	backdate(t, m, "sy-1", 11*time.Minute)

	holder, err := m.Holder("sy-1")
	if err != nil {
		t.Fatalf("Holder: %v", err)
	}
	if holder != nil {
		t.Errorf("stale lock reported as held: %+v", holder)
	}

	live, err := m.Live()
	if err != nil {
		t.Fatalf("Live: %v", err)
	}
	if len(live) != 1 || live[0].Name != "sy-2" {
		t.Errorf("Live = %+v, want only sy-2", live)
	}
}

func TestReleaseIdempotent(t *testing.T) {
	m := newTestManager(t)
	if err := m.Release("never-locked", "session-a"); err != nil {
		t.Errorf("releasing absent lock: %v, want nil", err)
	}
}

func TestReleaseForeignLockRefused(t *testing.T) {
	m := newTestManager(t)

	if _, err := m.Acquire("sy-1", "session-a"); err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	err := m.Release("sy-1", "session-b")
	if !errors.Is(err, ErrBusy) {
		t.Fatalf("release of foreign live lock: got %v, want ErrBusy", err)
	}
	holder, _ := m.Holder("sy-1")
	if holder == nil || holder.OwnerSession != "session-a" {
		t.Errorf("lock damaged by refused release: %+v", holder)
	}
}

func TestAcquireWaitSucceedsAfterRelease(t *testing.T) {
	m := newTestManager(t)

	if _, err := m.Acquire("sy-1", "session-a"); err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	go func() {
		time.Sleep(30 * time.Millisecond)
		_ = m.Release("sy-1", "session-a")
	}()

	lock, err := m.AcquireWait("sy-1", "session-b", time.Second)
	if err != nil {
		t.Fatalf("AcquireWait: %v", err)
	}
	if lock.OwnerSession != "session-b" {
		t.Errorf("owner = %q, want session-b", lock.OwnerSession)
	}
}

func TestAcquireWaitTimesOut(t *testing.T) {
	m := newTestManager(t)

	if _, err := m.Acquire("sy-1", "session-a"); err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	_, err := m.AcquireWait("sy-1", "session-b", 50*time.Millisecond)
	if !errors.Is(err, ErrBusy) {
		t.Fatalf("AcquireWait timeout: got %v, want ErrBusy", err)
	}
}

func TestMalformedLockFileIsFatal(t *testing.T) {
	m := newTestManager(t)

	if err := os.MkdirAll(m.Dir(), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(m.Dir(), "sy-1.lock"), []byte("not json"), 0644); err != nil {
		t.Fatal(err)
	}

	_, err := m.Acquire("sy-1", "session-a")
	if !errors.Is(err, ErrMalformedLock) {
		t.Fatalf("Acquire over garbage lock file: got %v, want ErrMalformedLock", err)
	}
}

func TestInvalidNames(t *testing.T) {
	m := newTestManager(t)
	for _, name := range []string{"", "a/b", `a\b`, ".", ".."} {
		if _, err := m.Acquire(name, "session-a"); !errors.Is(err, ErrInvalidName) {
			t.Errorf("Acquire(%q): got %v, want ErrInvalidName", name, err)
		}
	}
}

// backdate rewrites a lock file's acquired_at to simulate age.
func backdate(t *testing.T, m *Manager, name string, age time.Duration) {
	t.Helper()
	path := filepath.Join(m.Dir(), name+".lock")
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading lock: %v", err)
	}
	var lock Lock
	if err := json.Unmarshal(data, &lock); err != nil {
		t.Fatalf("decoding lock: %v", err)
	}
	lock.AcquiredAt = time.Now().UTC().Add(-age)
	data, err = json.MarshalIndent(&lock, "", "  ")
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatalf("rewriting lock: %v", err)
	}
}
