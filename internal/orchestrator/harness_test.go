package orchestrator

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Iron-Ham/stepflow/internal/event"
	"github.com/Iron-Ham/stepflow/internal/history"
	"github.com/Iron-Ham/stepflow/internal/process"
	"github.com/Iron-Ham/stepflow/internal/snapshot"
	"github.com/Iron-Ham/stepflow/internal/testutil"
	"github.com/Iron-Ham/stepflow/internal/workflow"
)

const historyFile = "workflow_state.json"

// fakeRunner stands in for the pty runner. onStart plays the part of the
// script: it runs synchronously inside Start and may touch the project.
type fakeRunner struct {
	mu         sync.Mutex
	running    bool
	startErr   error
	onStart    func(script string, args []string)
	starts     []startCall
	terminates int
	output     chan string
	results    chan process.RunResult
}

type startCall struct {
	script string
	args   []string
}

func (f *fakeRunner) Start(script string, args []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.running {
		return process.ErrAlreadyRunning
	}
	if f.startErr != nil {
		return f.startErr
	}
	f.starts = append(f.starts, startCall{script, args})
	if f.onStart != nil {
		f.onStart(script, args)
	}
	f.running = true
	f.output = make(chan string, 16)
	f.results = make(chan process.RunResult, 1)
	return nil
}

func (f *fakeRunner) SendInput(string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.running {
		return process.ErrNotRunning
	}
	return nil
}

func (f *fakeRunner) Terminate() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.running {
		f.terminates++
		f.finishLocked(process.RunResult{ExitCode: -1, Terminated: true})
	}
	return nil
}

// finish ends the current run as a script exiting would.
func (f *fakeRunner) finish(result process.RunResult) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.finishLocked(result)
}

func (f *fakeRunner) finishLocked(result process.RunResult) {
	f.results <- result
	close(f.output)
	f.running = false
}

func (f *fakeRunner) IsRunning() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running
}

func (f *fakeRunner) Output() <-chan string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.output
}

func (f *fakeRunner) Results() <-chan process.RunResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.results
}

var _ process.Runner = (*fakeRunner)(nil)

type harness struct {
	t      *testing.T
	dir    string
	orch   *Orchestrator
	runner *fakeRunner
	store  *snapshot.Store
	hist   *history.Tracker
	bus    *event.Bus
}

func newHarness(t *testing.T, steps ...workflow.Step) *harness {
	t.Helper()

	files := map[string]string{"data/input.txt": "original"}
	for _, s := range steps {
		files["scripts/"+s.Script] = "#!/bin/sh\n"
	}
	dir := testutil.SetupProject(t, files)

	def := &workflow.Definition{Name: "test", Steps: steps}
	require.Empty(t, def.Validate())

	store, err := snapshot.NewStore(snapshot.Options{
		ProjectDir: dir,
		Dir:        ".snapshots",
		Exclude:    []string{historyFile, ".workflow_logs"},
	}, nil)
	require.NoError(t, err)

	hist, err := history.Open(filepath.Join(dir, historyFile), def.IDs(), nil)
	require.NoError(t, err)

	runner := &fakeRunner{}
	bus := event.NewBus(nil)
	orch, err := New(Options{
		Definition: def,
		ProjectDir: dir,
		ScriptsDir: "scripts",
		StatusDir:  ".workflow_status",
		Snapshots:  store,
		History:    hist,
		Runner:     runner,
		Bus:        bus,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = orch.Close() })

	return &harness{t: t, dir: dir, orch: orch, runner: runner, store: store, hist: hist, bus: bus}
}

// script makes the next run write files and, when marker is set, the
// step's success marker.
func (h *harness) script(id string, files map[string]string, marker bool) {
	h.t.Helper()
	step, err := h.orch.Definition().Step(id)
	require.NoError(h.t, err)
	h.runner.onStart = func(string, []string) {
		testutil.WriteFiles(h.t, h.dir, files)
		if marker {
			path := h.orch.MarkerPath(step)
			require.NoError(h.t, os.MkdirAll(filepath.Dir(path), 0755))
			require.NoError(h.t, os.WriteFile(path, nil, 0644))
		}
	}
}

// run drives one full run of id and returns CompleteStep's verdict.
func (h *harness) run(id string, files map[string]string, marker bool, result process.RunResult) bool {
	h.t.Helper()
	h.script(id, files, marker)
	require.NoError(h.t, h.orch.RunStep(id, nil))
	h.runner.finish(result)
	ok, err := h.orch.CompleteStep(id, <-h.orch.Results())
	require.NoError(h.t, err)
	return ok
}

func (h *harness) succeed(id string, files map[string]string) {
	h.t.Helper()
	require.True(h.t, h.run(id, files, true, process.RunResult{Succeeded: true}), "run of %s should succeed", id)
}

func (h *harness) status(id string) history.Status {
	h.t.Helper()
	st, err := h.hist.Status(id)
	require.NoError(h.t, err)
	return st
}

func (h *harness) tree() map[string]string {
	h.t.Helper()
	return testutil.ReadTree(h.t, h.dir, ".snapshots", historyFile)
}

func step(id string, allowRerun bool) workflow.Step {
	return workflow.Step{ID: id, Name: id, Script: id + ".sh", AllowRerun: allowRerun}
}
