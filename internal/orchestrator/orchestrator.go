package orchestrator

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	sferrors "github.com/Iron-Ham/stepflow/internal/errors"
	"github.com/Iron-Ham/stepflow/internal/event"
	"github.com/Iron-Ham/stepflow/internal/history"
	"github.com/Iron-Ham/stepflow/internal/lock"
	"github.com/Iron-Ham/stepflow/internal/logging"
	"github.com/Iron-Ham/stepflow/internal/process"
	"github.com/Iron-Ham/stepflow/internal/snapshot"
	"github.com/Iron-Ham/stepflow/internal/syncmirror"
	"github.com/Iron-Ham/stepflow/internal/workflow"
)

// MarkerSuffix is appended to a script's stem to form its success marker.
const MarkerSuffix = ".success"

// Options wires an Orchestrator to its collaborators.
type Options struct {
	Definition *workflow.Definition
	// ProjectDir is the tree scripts run in. When mirroring, this is the
	// local staging copy.
	ProjectDir string
	// ScriptsDir resolves relative script references. Relative values are
	// joined to ProjectDir.
	ScriptsDir string
	// StatusDir holds success markers. Relative values are joined to
	// ProjectDir.
	StatusDir string

	Snapshots *snapshot.Store
	History   *history.Tracker
	Runner    process.Runner
	// Mirror is nil when the project is not mirrored.
	Mirror *syncmirror.Mirror
	// Lock, if set, is released by Close.
	Lock   *lock.Lock
	Bus    *event.Bus
	Logger *logging.Logger
}

// Orchestrator drives the step lifecycle of one project. Its operations
// are serialised; SendInput and the channel accessors may be used from any
// goroutine while a step runs.
type Orchestrator struct {
	def        *workflow.Definition
	projectDir string
	scriptsDir string
	statusDir  string

	snapshots *snapshot.Store
	history   *history.Tracker
	runner    process.Runner
	mirror    *syncmirror.Mirror
	lock      *lock.Lock
	bus       *event.Bus
	logger    *logging.Logger

	mu      sync.Mutex
	running string         // step launched and not yet completed or terminated
	runs    map[string]int // run number each step was last launched with
	closed  bool
}

// New validates opts and returns an Orchestrator.
func New(opts Options) (*Orchestrator, error) {
	switch {
	case opts.Definition == nil:
		return nil, sferrors.NewValidationError("workflow definition is required").WithField("Definition")
	case opts.Snapshots == nil:
		return nil, sferrors.NewValidationError("snapshot store is required").WithField("Snapshots")
	case opts.History == nil:
		return nil, sferrors.NewValidationError("history tracker is required").WithField("History")
	case opts.Runner == nil:
		return nil, sferrors.NewValidationError("runner is required").WithField("Runner")
	case opts.ProjectDir == "":
		return nil, sferrors.NewValidationError("project dir is required").WithField("ProjectDir")
	}

	projectDir, err := filepath.Abs(opts.ProjectDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve project dir: %w", err)
	}

	bus := opts.Bus
	if bus == nil {
		bus = event.NewBus(opts.Logger)
	}

	return &Orchestrator{
		def:        opts.Definition,
		projectDir: projectDir,
		scriptsDir: resolve(projectDir, opts.ScriptsDir),
		statusDir:  resolve(projectDir, defaultString(opts.StatusDir, ".workflow_status")),
		snapshots:  opts.Snapshots,
		history:    opts.History,
		runner:     opts.Runner,
		mirror:     opts.Mirror,
		lock:       opts.Lock,
		bus:        bus,
		logger:     logging.OrNop(opts.Logger).WithComponent("orchestrator"),
		runs:       make(map[string]int),
	}, nil
}

func resolve(base, p string) string {
	if p == "" {
		return base
	}
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(base, p)
}

func defaultString(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

// ScriptPath returns the absolute path of step's script.
func (o *Orchestrator) ScriptPath(step *workflow.Step) string {
	return resolve(o.scriptsDir, step.Script)
}

// MarkerPath returns where step's script must write its success marker.
func (o *Orchestrator) MarkerPath(step *workflow.Step) string {
	return filepath.Join(o.statusDir, step.ScriptStem()+MarkerSuffix)
}

func (o *Orchestrator) removeMarker(step *workflow.Step, logger *logging.Logger) {
	if err := os.Remove(o.MarkerPath(step)); err != nil && !os.IsNotExist(err) {
		logger.Warn("failed to remove success marker", "path", o.MarkerPath(step), "error", err.Error())
	}
}

func markerExists(path string) bool {
	fi, err := os.Stat(path)
	return err == nil && !fi.IsDir()
}

// currentRun is the run number a rollback should target: the number the
// step was last launched with, else its highest retained run, else 1.
func (o *Orchestrator) currentRun(id string) int {
	if n, ok := o.runs[id]; ok {
		return n
	}
	if n := o.snapshots.EffectiveRunNumber(id); n > 0 {
		return n
	}
	return 1
}

// Bus returns the bus lifecycle events are published on.
func (o *Orchestrator) Bus() *event.Bus { return o.bus }

// Definition returns the workflow being driven.
func (o *Orchestrator) Definition() *workflow.Definition { return o.def }

// ProjectDir returns the tree scripts run in.
func (o *Orchestrator) ProjectDir() string { return o.projectDir }

// Mirror returns the sync mirror, or nil.
func (o *Orchestrator) Mirror() *syncmirror.Mirror { return o.mirror }

// Output returns the running (or last) script's output channel.
func (o *Orchestrator) Output() <-chan string { return o.runner.Output() }

// Results returns the running (or last) script's result channel.
func (o *Orchestrator) Results() <-chan process.RunResult { return o.runner.Results() }

// SendInput answers a prompt of the running script.
func (o *Orchestrator) SendInput(text string) error { return o.runner.SendInput(text) }

// IsRunning reports whether a script is live.
func (o *Orchestrator) IsRunning() bool { return o.runner.IsRunning() }

// RunningStep returns the step launched by RunStep and not yet completed
// or terminated.
func (o *Orchestrator) RunningStep() (string, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.running, o.running != ""
}

// Statuses returns every step's status.
func (o *Orchestrator) Statuses() map[string]history.Status { return o.history.Statuses() }

// CompletionLog returns the completion log, oldest first.
func (o *Orchestrator) CompletionLog() []string { return o.history.CompletionLog() }

// EffectiveRunNumber returns the highest retained run of id.
func (o *Orchestrator) EffectiveRunNumber(id string) int {
	return o.snapshots.EffectiveRunNumber(id)
}

// Close stops a running step (rolling it back), pushes the local tree to
// the network share when mirroring, and releases the project lock. It is
// safe to call more than once.
func (o *Orchestrator) Close() error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil
	}
	o.closed = true
	running := o.running
	o.mu.Unlock()

	if running != "" || o.runner.IsRunning() {
		if running == "" {
			_ = o.runner.Terminate()
		} else {
			o.TerminateStep(running)
		}
	}

	if o.mirror != nil && !o.mirror.FinalSync() {
		o.logger.Warn("final sync failed")
	}

	var err error
	if o.lock != nil {
		err = o.lock.Release()
	}
	o.logger.Info("orchestrator closed")
	return err
}
