package syncmirror

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	sferrors "github.com/Iron-Ham/stepflow/internal/errors"
	"github.com/Iron-Ham/stepflow/internal/event"
	"github.com/Iron-Ham/stepflow/internal/fsutil"
	"github.com/Iron-Ham/stepflow/internal/logging"
)

// SyncLogName is the sync log kept at the root of the local tree.
const SyncLogName = ".sync_log.json"

// Config configures a Mirror.
type Config struct {
	NetworkDir string
	LocalDir   string
	// MtimeTolerance absorbs the coarse timestamps of network file systems.
	MtimeTolerance time.Duration
	// LogLimit caps the number of sync log entries kept.
	LogLimit int
	// ExtraIgnore adds patterns to DefaultIgnorePatterns.
	ExtraIgnore []string
	// Private names entries that belong to this machine only (the log dir,
	// the lock file) and are never mirrored.
	Private []string
	// Bus, if set, receives a SyncFinishedEvent after every pass.
	Bus *event.Bus
}

// Direction values reported in events and the sync log.
const (
	DirectionDown = "down"
	DirectionUp   = "up"
)

// Result summarises one Apply pass.
type Result struct {
	Copied  int
	Deleted int
	Failed  int
}

// Mirror syncs a network tree and a local tree.
type Mirror struct {
	network   string
	local     string
	tolerance time.Duration
	logLimit  int
	ignore    *IgnoreSet
	bus       *event.Bus
	logger    *logging.Logger
}

// New builds a Mirror. Both directories must be set.
func New(cfg Config, logger *logging.Logger) (*Mirror, error) {
	if cfg.NetworkDir == "" || cfg.LocalDir == "" {
		return nil, sferrors.NewValidationError("network and local directories are required").WithField("sync")
	}
	patterns := append([]string{}, DefaultIgnorePatterns...)
	patterns = append(patterns, SyncLogName, ".tmp-*")
	patterns = append(patterns, cfg.Private...)
	patterns = append(patterns, cfg.ExtraIgnore...)
	ignore, err := NewIgnoreSet(patterns...)
	if err != nil {
		return nil, err
	}

	if cfg.MtimeTolerance < 0 {
		cfg.MtimeTolerance = 0
	}
	if cfg.LogLimit < 1 {
		cfg.LogLimit = 100
	}

	return &Mirror{
		network:   filepath.Clean(cfg.NetworkDir),
		local:     filepath.Clean(cfg.LocalDir),
		tolerance: cfg.MtimeTolerance,
		logLimit:  cfg.LogLimit,
		ignore:    ignore,
		bus:       cfg.Bus,
		logger:    logging.OrNop(logger).WithComponent("sync"),
	}, nil
}

// NetworkDir returns the network tree root.
func (m *Mirror) NetworkDir() string { return m.network }

// LocalDir returns the local tree root.
func (m *Mirror) LocalDir() string { return m.local }

// Ignore returns the mirror's ignore set.
func (m *Mirror) Ignore() *IgnoreSet { return m.ignore }

// Apply carries out ops from source to dest. Every failure is logged and
// counted; Apply never stops early.
func (m *Mirror) Apply(source, dest string, ops []Operation) Result {
	var res Result
	for _, op := range ops {
		from := filepath.Join(source, filepath.FromSlash(op.Path))
		to := filepath.Join(dest, filepath.FromSlash(op.Path))

		var err error
		switch op.Kind {
		case OpCopy:
			err = m.copy(from, to, op.IsDir)
		case OpDelete:
			err = os.RemoveAll(to)
		default:
			err = fmt.Errorf("unknown operation %d", op.Kind)
		}

		if err != nil {
			res.Failed++
			m.logger.Warn("sync operation failed",
				"error", sferrors.NewSyncError("operation failed", err).
					WithOperation(op.Kind.String()).
					WithPath(op.Path).Error(),
			)
			continue
		}
		if op.Kind == OpCopy {
			res.Copied++
		} else {
			res.Deleted++
		}
		m.logger.Debug("sync operation", "op", op.Kind.String(), "path", op.Path)
	}
	return res
}

func (m *Mirror) copy(from, to string, isDir bool) error {
	if fi, err := os.Lstat(to); err == nil && fi.IsDir() != isDir {
		if err := os.RemoveAll(to); err != nil {
			return err
		}
	}
	if isDir {
		info, err := os.Stat(from)
		if err != nil {
			return err
		}
		return os.MkdirAll(to, info.Mode().Perm()|0700)
	}
	return fsutil.CopyFile(from, to)
}

// sync runs one pass and reports whether it finished without failures.
func (m *Mirror) sync(operation, direction, source, dest string) bool {
	start := time.Now()
	ops, err := m.Diff(source, dest)
	if err != nil {
		m.logger.Error("sync failed",
			"operation", operation,
			"error", sferrors.NewSyncError("diff failed", err).WithOperation(operation).WithPath(source).Error(),
		)
		m.record(operation, fmt.Sprintf("failed: %v", err))
		m.publish(direction, Result{}, false)
		return false
	}

	if err := os.MkdirAll(dest, 0755); err != nil {
		m.logger.Error("sync failed", "operation", operation, "error", err.Error())
		m.record(operation, fmt.Sprintf("failed: %v", err))
		m.publish(direction, Result{}, false)
		return false
	}

	res := m.Apply(source, dest, ops)
	ok := res.Failed == 0
	m.logger.Info("sync finished",
		"operation", operation,
		"copied", res.Copied,
		"deleted", res.Deleted,
		"failed", res.Failed,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	m.record(operation, fmt.Sprintf("copied %d, deleted %d, failed %d", res.Copied, res.Deleted, res.Failed))
	m.publish(direction, res, ok)
	return ok
}

func (m *Mirror) publish(direction string, res Result, ok bool) {
	if m.bus != nil {
		m.bus.Publish(event.NewSyncFinishedEvent(direction, res.Copied, res.Deleted, ok))
	}
}

// SyncDown brings the local tree in line with the network tree.
func (m *Mirror) SyncDown() bool {
	return m.sync("sync_down", DirectionDown, m.network, m.local)
}

// SyncUp pushes local changes to the network tree.
func (m *Mirror) SyncUp() bool {
	return m.sync("sync_up", DirectionUp, m.local, m.network)
}

// InitialSync populates the local tree from the network tree, creating it
// if needed.
func (m *Mirror) InitialSync() bool {
	if err := os.MkdirAll(m.local, 0755); err != nil {
		m.logger.Error("failed to create local dir", "path", m.local, "error", err.Error())
		return false
	}
	return m.sync("initial_sync", DirectionDown, m.network, m.local)
}

// FinalSync pushes the local tree to the network tree before shutdown.
func (m *Mirror) FinalSync() bool {
	return m.sync("final_sync", DirectionUp, m.local, m.network)
}
