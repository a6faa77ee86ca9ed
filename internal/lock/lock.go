// Package lock guards a project directory against a second stepflow
// process. Only one orchestrator may drive a project at a time.
package lock

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"

	sferrors "github.com/Iron-Ham/stepflow/internal/errors"
	"github.com/Iron-Ham/stepflow/internal/logging"
)

// FileName is the name of the lock file at the project root.
const FileName = ".stepflow.lock"

// Lock represents an acquired project lock.
type Lock struct {
	HolderID  string    `json:"holder_id"`
	PID       int       `json:"pid"`
	Hostname  string    `json:"hostname"`
	StartedAt time.Time `json:"started_at"`

	path   string
	logger *logging.Logger
}

// Acquire takes the lock on dir. A lock left behind by a process that no
// longer exists is removed first. Returns ErrProjectLocked if a live
// process holds it.
func Acquire(dir string, logger *logging.Logger) (*Lock, error) {
	logger = logging.OrNop(logger).WithComponent("lock")
	path := filepath.Join(dir, FileName)

	if existing, err := Read(path); err == nil {
		if isProcessAlive(existing.PID) {
			logger.Error("failed to acquire lock",
				"reason", fmt.Sprintf("locked by PID %d on %s", existing.PID, existing.Hostname),
			)
			return nil, fmt.Errorf("%w: PID %d on %s", sferrors.ErrProjectLocked, existing.PID, existing.Hostname)
		}
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to remove stale lock: %w", err)
		}
		logger.Warn("stale lock cleaned", "old_pid", existing.PID, "old_holder", existing.HolderID)
	}

	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}

	l := &Lock{
		HolderID:  uuid.NewString(),
		PID:       os.Getpid(),
		Hostname:  hostname,
		StartedAt: time.Now(),
		path:      path,
		logger:    logger,
	}

	data, err := json.MarshalIndent(l, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal lock: %w", err)
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create project dir: %w", err)
	}
	// O_EXCL loses the race cleanly if another process got here first.
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		if os.IsExist(err) {
			if existing, readErr := Read(path); readErr == nil {
				return nil, fmt.Errorf("%w: PID %d on %s", sferrors.ErrProjectLocked, existing.PID, existing.Hostname)
			}
			return nil, sferrors.ErrProjectLocked
		}
		return nil, fmt.Errorf("failed to create lock file: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(data); err != nil {
		_ = os.Remove(path)
		return nil, fmt.Errorf("failed to write lock file: %w", err)
	}

	logger.Info("project lock acquired", "holder_id", l.HolderID, "pid", l.PID)
	return l, nil
}

// Release removes the lock file if this Lock still owns it. Safe to call
// more than once.
func (l *Lock) Release() error {
	if l == nil || l.path == "" {
		return nil
	}

	existing, err := Read(l.path)
	if err != nil {
		return nil
	}
	if existing.HolderID != l.HolderID {
		return nil
	}
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return err
	}

	l.logger.Info("project lock released", "holder_id", l.HolderID)
	return nil
}

// Read parses the lock file at path.
func Read(path string) (*Lock, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var l Lock
	if err := json.Unmarshal(data, &l); err != nil {
		return nil, fmt.Errorf("failed to parse lock file: %w", err)
	}
	l.path = path
	return &l, nil
}

// IsLocked reports whether a live process holds the lock on dir, returning
// the lock's contents when one exists.
func IsLocked(dir string) (*Lock, bool) {
	l, err := Read(filepath.Join(dir, FileName))
	if err != nil {
		return nil, false
	}
	return l, isProcessAlive(l.PID)
}

// isProcessAlive checks if a process with the given PID is still running.
func isProcessAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	// Signal 0 checks for existence without delivering anything.
	return process.Signal(syscall.Signal(0)) == nil
}
