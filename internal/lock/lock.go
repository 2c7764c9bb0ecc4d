// Package lock implements the single-writer workspace lock.
//
// The lock is a directory created with os.Mkdir, whose creation is atomic:
// exactly one process can create it, with no read-check-write window. Owner
// metadata is written inside the directory for diagnostics and stale-lock
// recovery. There is no waiting and no retry; a held lock fails the caller
// immediately.
package lock

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/feedvault/feedvault/internal/errors"
	"github.com/feedvault/feedvault/internal/logging"
)

var log = logging.Component("lock")

const (
	// DirName is the lock directory name inside a workspace.
	DirName = ".lock"

	// ownerFile holds the owner metadata inside the lock directory.
	ownerFile = "owner.json"
)

// Owner identifies the process holding the lock.
type Owner struct {
	PID       int       `json:"pid"`
	Hostname  string    `json:"hostname"`
	RunID     string    `json:"run_id"`
	StartedAt time.Time `json:"started_at"`
}

// Handle is a held workspace lock. Release it on every exit path.
type Handle struct {
	dir      string
	owner    Owner
	released atomic.Bool
}

// Acquire takes the workspace lock, failing immediately with
// errors.ErrWorkspaceLocked if another process holds it.
func Acquire(workspaceDir string) (*Handle, error) {
	lockDir := filepath.Join(workspaceDir, DirName)

	if err := os.Mkdir(lockDir, 0o755); err != nil {
		if os.IsExist(err) {
			owner, readErr := ReadOwner(lockDir)
			if readErr != nil {
				return nil, fmt.Errorf("lock owner unreadable (%v): %w", readErr, errors.ErrWorkspaceLocked)
			}
			return nil, &errors.LockHeldError{
				Path:      lockDir,
				PID:       owner.PID,
				Hostname:  owner.Hostname,
				RunID:     owner.RunID,
				StartedAt: owner.StartedAt,
			}
		}
		return nil, fmt.Errorf("create lock dir: %w", err)
	}

	hostname, _ := os.Hostname()
	owner := Owner{
		PID:       os.Getpid(),
		Hostname:  hostname,
		RunID:     uuid.NewString(),
		StartedAt: time.Now().UTC(),
	}

	data, err := json.MarshalIndent(owner, "", "  ")
	if err != nil {
		os.RemoveAll(lockDir)
		return nil, fmt.Errorf("marshal lock owner: %w", err)
	}
	if err := os.WriteFile(filepath.Join(lockDir, ownerFile), data, 0o644); err != nil {
		os.RemoveAll(lockDir)
		return nil, fmt.Errorf("write lock owner: %w", err)
	}

	log.Debug("lock acquired", "dir", lockDir, "run_id", owner.RunID)

	return &Handle{dir: lockDir, owner: owner}, nil
}

// Release removes the lock. It is idempotent; only the first call does work.
func (h *Handle) Release() error {
	if h == nil || !h.released.CompareAndSwap(false, true) {
		return nil
	}
	if err := os.RemoveAll(h.dir); err != nil {
		return fmt.Errorf("remove lock dir: %w", err)
	}
	log.Debug("lock released", "dir", h.dir, "run_id", h.owner.RunID)
	return nil
}

// Owner returns the owner metadata of the held lock.
func (h *Handle) Owner() Owner {
	return h.owner
}

// RunID returns the unique ID of this lock acquisition.
func (h *Handle) RunID() string {
	return h.owner.RunID
}

// ReadOwner reads owner metadata from a lock directory.
func ReadOwner(lockDir string) (Owner, error) {
	data, err := os.ReadFile(filepath.Join(lockDir, ownerFile))
	if err != nil {
		return Owner{}, err
	}
	var owner Owner
	if err := json.Unmarshal(data, &owner); err != nil {
		return Owner{}, fmt.Errorf("parse lock owner: %w", err)
	}
	return owner, nil
}

// Status returns the current lock owner. held is false when the workspace
// is unlocked. A lock directory with unreadable owner metadata reports held
// with a zero Owner.
func Status(workspaceDir string) (owner Owner, held bool, err error) {
	lockDir := filepath.Join(workspaceDir, DirName)
	if _, statErr := os.Stat(lockDir); statErr != nil {
		if os.IsNotExist(statErr) {
			return Owner{}, false, nil
		}
		return Owner{}, false, statErr
	}

	owner, readErr := ReadOwner(lockDir)
	if readErr != nil {
		return Owner{}, true, nil
	}
	return owner, true, nil
}

// ForceCleanup removes a lock left behind by a dead process.
//
// When the recorded owner is on this host and its process is still alive,
// the cleanup is refused unless force is set. Owners on other hosts cannot
// be probed, so removing those always requires force.
func ForceCleanup(workspaceDir string, force bool) error {
	lockDir := filepath.Join(workspaceDir, DirName)
	if _, err := os.Stat(lockDir); err != nil {
		if os.IsNotExist(err) {
			return errors.ErrNotLocked
		}
		return fmt.Errorf("stat lock dir: %w", err)
	}

	owner, readErr := ReadOwner(lockDir)
	if readErr != nil {
		log.Warn("lock owner unreadable, treating lock as stale", "dir", lockDir, "error", readErr)
	} else if !force {
		hostname, _ := os.Hostname()
		if owner.Hostname != hostname {
			return fmt.Errorf("lock owned by %s@%s, cannot probe remote process: %w",
				owner.RunID, owner.Hostname, errors.ErrWorkspaceLocked)
		}
		if pidAlive(owner.PID) {
			return fmt.Errorf("pid %d: %w", owner.PID, errors.ErrLockOwnerAlive)
		}
	}

	if err := os.RemoveAll(lockDir); err != nil {
		return fmt.Errorf("remove lock dir: %w", err)
	}

	log.Warn("removed stale lock",
		"dir", lockDir,
		"owner_pid", owner.PID,
		"owner_host", owner.Hostname,
		"owner_started_at", owner.StartedAt,
	)
	return nil
}

// pidAlive probes a pid on this host with signal 0.
func pidAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = proc.Signal(syscall.Signal(0))
	if err == nil {
		return true
	}
	if errors.Is(err, os.ErrProcessDone) {
		return false
	}
	var errno syscall.Errno
	if errors.As(err, &errno) && errno == syscall.EPERM {
		return true
	}
	return false
}
