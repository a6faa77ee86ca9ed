package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/Iron-Ham/stepflow/internal/config"
	"github.com/Iron-Ham/stepflow/internal/event"
	"github.com/Iron-Ham/stepflow/internal/history"
	"github.com/Iron-Ham/stepflow/internal/lock"
	"github.com/Iron-Ham/stepflow/internal/logging"
	"github.com/Iron-Ham/stepflow/internal/orchestrator"
	"github.com/Iron-Ham/stepflow/internal/process"
	"github.com/Iron-Ham/stepflow/internal/snapshot"
	"github.com/Iron-Ham/stepflow/internal/syncmirror"
	"github.com/Iron-Ham/stepflow/internal/workflow"
	"github.com/spf13/viper"
	"golang.org/x/term"
)

// app is the set of components one command works with. Read-only apps
// look at the project where it lives and never take the lock or mirror.
type app struct {
	cfg        *config.Config
	projectDir string
	workDir    string // where scripts run: the local copy when mirroring
	def        *workflow.Definition
	logger     *logging.Logger
	bus        *event.Bus
	store      *snapshot.Store
	history    *history.Tracker
	mirror     *syncmirror.Mirror
	orch       *orchestrator.Orchestrator
}

// projectDir returns the --project flag, or the working directory.
func projectDir() (string, error) {
	dir := viper.GetString("project")
	if dir == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return "", fmt.Errorf("failed to get current directory: %w", err)
		}
		dir = cwd
	}
	return filepath.Abs(dir)
}

// mirrorSource returns the network tree to mirror, if any.
func mirrorSource(cfg *config.Config, project string) (string, bool) {
	if cfg.Sync.LocalDir == "" {
		return "", false
	}
	if cfg.Sync.NetworkDir != "" {
		return cfg.Sync.NetworkDir, true
	}
	if syncmirror.RequiresMirroring(project, cfg.Sync.SystemDrive) {
		return project, true
	}
	return "", false
}

func newLogger(cfg *config.Config, dir string) (*logging.Logger, error) {
	if !cfg.Logging.Enabled {
		return logging.NopLogger(), nil
	}
	return logging.NewLoggerWithRotation(
		config.Resolve(dir, cfg.Paths.LogDir),
		cfg.Logging.Level,
		logging.RotationConfig{
			MaxSizeMB:  cfg.Logging.MaxSizeMB,
			MaxBackups: cfg.Logging.MaxBackups,
			Compress:   cfg.Logging.Compress,
		},
	)
}

// openReadOnly loads what status-style commands need.
func openReadOnly() (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	project, err := projectDir()
	if err != nil {
		return nil, err
	}

	a := &app{
		cfg:        cfg,
		projectDir: project,
		workDir:    project,
		logger:     logging.NopLogger(),
		bus:        event.NewBus(nil),
	}
	if err := a.loadState(); err != nil {
		return nil, err
	}
	return a, nil
}

// openProject locks the project, mirrors it when configured, and builds
// an orchestrator over the working copy. Callers must Close the app.
func openProject() (a *app, err error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	project, err := projectDir()
	if err != nil {
		return nil, err
	}

	network, mirrored := mirrorSource(cfg, project)
	workDir := project
	if mirrored {
		workDir, err = filepath.Abs(cfg.Sync.LocalDir)
		if err != nil {
			return nil, err
		}
	}

	logger, err := newLogger(cfg, workDir)
	if err != nil {
		return nil, err
	}
	a = &app{
		cfg:        cfg,
		projectDir: project,
		workDir:    workDir,
		logger:     logger,
		bus:        event.NewBus(logger),
	}

	lk, err := lock.Acquire(project, logger)
	if err != nil {
		_ = logger.Close()
		return nil, err
	}
	defer func() {
		if err != nil {
			_ = lk.Release()
			_ = logger.Close()
		}
	}()

	if mirrored {
		a.mirror, err = newMirror(cfg, network, workDir, a.bus, logger)
		if err != nil {
			return nil, err
		}
		if !a.mirror.InitialSync() {
			return nil, fmt.Errorf("initial sync from %s to %s failed", network, workDir)
		}
	}

	if err = a.loadState(); err != nil {
		return nil, err
	}

	a.orch, err = orchestrator.New(orchestrator.Options{
		Definition: a.def,
		ProjectDir: workDir,
		ScriptsDir: cfg.Paths.ScriptsDir,
		StatusDir:  cfg.Paths.StatusDir,
		Snapshots:  a.store,
		History:    a.history,
		Runner:     process.NewPtyRunner(runnerConfig(cfg, workDir), logger),
		Mirror:     a.mirror,
		Lock:       lk,
		Bus:        a.bus,
		Logger:     logger,
	})
	if err != nil {
		return nil, err
	}
	return a, nil
}

func newMirror(cfg *config.Config, network, local string, bus *event.Bus, logger *logging.Logger) (*syncmirror.Mirror, error) {
	return syncmirror.New(syncmirror.Config{
		NetworkDir:     network,
		LocalDir:       local,
		MtimeTolerance: cfg.Sync.MtimeTolerance(),
		LogLimit:       cfg.Sync.LogLimit,
		ExtraIgnore:    cfg.Sync.ExtraIgnore,
		Private:        []string{cfg.Paths.LogDir, lock.FileName},
		Bus:            bus,
	}, logger)
}

// loadState reads the workflow, snapshot store and history of workDir.
func (a *app) loadState() error {
	wf := viper.GetString("workflow")
	if wf == "" {
		wf = config.Resolve(a.workDir, a.cfg.Paths.WorkflowFile)
	}
	def, err := workflow.Load(wf)
	if err != nil {
		return err
	}
	a.def = def

	a.store, err = snapshot.NewStore(snapshot.Options{
		ProjectDir:       a.workDir,
		Dir:              a.cfg.Paths.SnapshotDir,
		Exclude:          []string{a.cfg.Paths.HistoryFile, a.cfg.Paths.LogDir, lock.FileName},
		CompressionLevel: a.cfg.Snapshot.CompressionLevel,
	}, a.logger)
	if err != nil {
		return err
	}

	a.history, err = history.Open(config.Resolve(a.workDir, a.cfg.Paths.HistoryFile), def.IDs(), a.logger)
	return err
}

// runnerConfig sizes the terminal to ours when stdout is one.
func runnerConfig(cfg *config.Config, dir string) process.Config {
	rc := process.Config{
		Dir:              dir,
		Cols:             cfg.Runner.Cols,
		Rows:             cfg.Runner.Rows,
		Interpreters:     cfg.Runner.InterpreterMap(),
		TerminateTimeout: cfg.Runner.TerminateTimeout(),
	}
	if w, h, err := term.GetSize(int(os.Stdout.Fd())); err == nil && w > 0 && h > 0 {
		rc.Cols, rc.Rows = w, h
	}
	return rc
}

func (a *app) drainOptions() process.DrainOptions {
	return process.DrainOptions{
		MaxAttempts: a.cfg.Runner.DrainAttempts,
		Wait:        a.cfg.Runner.DrainWait(),
	}
}

// Close shuts the orchestrator down (final sync, lock release) and
// flushes the log.
func (a *app) Close() error {
	var err error
	if a.orch != nil {
		err = a.orch.Close()
	}
	if cerr := a.logger.Close(); err == nil {
		err = cerr
	}
	return err
}
