package lock

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/feedvault/feedvault/internal/errors"
	feedtest "github.com/feedvault/feedvault/internal/testing"
)

func TestAcquireRelease(t *testing.T) {
	dir := t.TempDir()

	h, err := Acquire(dir)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	owner := h.Owner()
	if owner.PID != os.Getpid() {
		t.Errorf("owner pid = %d, want %d", owner.PID, os.Getpid())
	}
	if owner.RunID == "" {
		t.Error("owner run id is empty")
	}
	if owner.StartedAt.IsZero() {
		t.Error("owner started_at is zero")
	}

	got, held, err := Status(dir)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if !held {
		t.Fatal("Status reports unlocked while held")
	}
	if got.RunID != owner.RunID {
		t.Errorf("status run id = %q, want %q", got.RunID, owner.RunID)
	}

	if err := h.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}
	// Idempotent.
	if err := h.Release(); err != nil {
		t.Fatalf("second Release: %v", err)
	}

	if _, held, _ := Status(dir); held {
		t.Error("Status reports held after release")
	}
}

func TestSecondAcquireFails(t *testing.T) {
	dir := t.TempDir()

	h, err := Acquire(dir)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer h.Release()

	_, err = Acquire(dir)
	if err == nil {
		t.Fatal("second Acquire succeeded")
	}
	if !errors.Is(err, errors.ErrWorkspaceLocked) {
		t.Errorf("error = %v, want ErrWorkspaceLocked", err)
	}

	var held *errors.LockHeldError
	if !errors.As(err, &held) {
		t.Fatalf("error %v does not carry LockHeldError", err)
	}
	if held.PID != os.Getpid() {
		t.Errorf("held pid = %d, want %d", held.PID, os.Getpid())
	}
}

func TestAcquireExclusiveUnderConcurrency(t *testing.T) {
	dir := t.TempDir()

	const attempts = 16
	var won atomic.Int32
	handles := make(chan *Handle, attempts)

	h := feedtest.NewTestHelper(t)
	for i := 0; i < attempts; i++ {
		h.Add(1)
		go func() {
			defer h.Done()
			handle, err := Acquire(dir)
			if err != nil {
				if !errors.Is(err, errors.ErrWorkspaceLocked) {
					h.Errorf("unexpected acquire error: %v", err)
				}
				return
			}
			won.Add(1)
			handles <- handle
		}()
	}
	h.Wait()

	if won.Load() != 1 {
		t.Errorf("expected exactly 1 winner, got %d", won.Load())
	}

	close(handles)
	for handle := range handles {
		if err := handle.Release(); err != nil {
			t.Errorf("release: %v", err)
		}
	}
}

func TestForceCleanupDeadOwner(t *testing.T) {
	dir := t.TempDir()
	lockDir := filepath.Join(dir, DirName)

	hostname, _ := os.Hostname()
	writeOwner(t, lockDir, Owner{
		PID:       999999999, // no such pid
		Hostname:  hostname,
		RunID:     "dead-run",
		StartedAt: time.Now().Add(-time.Hour),
	})

	if err := ForceCleanup(dir, false); err != nil {
		t.Fatalf("ForceCleanup: %v", err)
	}

	if _, held, _ := Status(dir); held {
		t.Error("lock still held after cleanup")
	}

	// A fresh acquire must now succeed.
	h, err := Acquire(dir)
	if err != nil {
		t.Fatalf("Acquire after cleanup: %v", err)
	}
	h.Release()
}

func TestForceCleanupRefusesLiveOwner(t *testing.T) {
	dir := t.TempDir()

	h, err := Acquire(dir)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer h.Release()

	err = ForceCleanup(dir, false)
	if err == nil {
		t.Fatal("ForceCleanup removed a live lock")
	}
	if !errors.Is(err, errors.ErrLockOwnerAlive) {
		t.Errorf("error = %v, want ErrLockOwnerAlive", err)
	}

	// force overrides the liveness check.
	if err := ForceCleanup(dir, true); err != nil {
		t.Fatalf("forced cleanup: %v", err)
	}
	if _, held, _ := Status(dir); held {
		t.Error("lock still held after forced cleanup")
	}
}

func TestForceCleanupRemoteOwnerNeedsForce(t *testing.T) {
	dir := t.TempDir()
	lockDir := filepath.Join(dir, DirName)

	writeOwner(t, lockDir, Owner{
		PID:       1,
		Hostname:  "some-other-host",
		RunID:     "remote-run",
		StartedAt: time.Now(),
	})

	if err := ForceCleanup(dir, false); err == nil {
		t.Fatal("cleanup of remote-owned lock succeeded without force")
	}

	if err := ForceCleanup(dir, true); err != nil {
		t.Fatalf("forced cleanup: %v", err)
	}
}

func TestForceCleanupUnreadableOwner(t *testing.T) {
	dir := t.TempDir()
	lockDir := filepath.Join(dir, DirName)

	if err := os.Mkdir(lockDir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(lockDir, "owner.json"), []byte("{broken"), 0o644); err != nil {
		t.Fatal(err)
	}

	// Unreadable metadata is treated as stale.
	if err := ForceCleanup(dir, false); err != nil {
		t.Fatalf("ForceCleanup: %v", err)
	}
}

func TestForceCleanupNotLocked(t *testing.T) {
	err := ForceCleanup(t.TempDir(), false)
	if !errors.Is(err, errors.ErrNotLocked) {
		t.Errorf("error = %v, want ErrNotLocked", err)
	}
}

func writeOwner(t *testing.T, lockDir string, owner Owner) {
	t.Helper()
	if err := os.Mkdir(lockDir, 0o755); err != nil {
		t.Fatal(err)
	}
	data, err := json.Marshal(owner)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(lockDir, "owner.json"), data, 0o644); err != nil {
		t.Fatal(err)
	}
}
