package process

import (
	"time"
)

// RunResult is the terminal outcome of one run. Output is not retained; it
// has already been delivered on the output channel.
type RunResult struct {
	Succeeded bool
	ExitCode  int
	// Terminated is set when the run ended because Terminate was called.
	Terminated bool
}

// Runner owns at most one child process at a time.
type Runner interface {
	// Start launches script with args. It returns ErrAlreadyRunning if a
	// child is live and ErrScriptNotFound if script does not exist. Start
	// does not wait for the child.
	Start(script string, args []string) error

	// SendInput writes text followed by a newline to the child's terminal.
	// Returns ErrNotRunning when idle.
	SendInput(text string) error

	// Terminate kills the child's whole process group and returns the
	// runner to Idle. It is a no-op when idle.
	Terminate() error

	// IsRunning reports whether a child is live.
	IsRunning() bool

	// Output returns the output channel of the current (or most recent) run.
	Output() <-chan string

	// Results returns the result channel of the current (or most recent) run.
	Results() <-chan RunResult
}

// Config controls how children are launched.
type Config struct {
	// Dir is the working directory of the child.
	Dir string
	// Env is appended to the parent's environment.
	Env []string
	// Cols and Rows size the terminal.
	Cols int
	Rows int
	// Interpreters maps a script extension (".py") to the program that runs
	// it ("python3"). Scripts with other extensions are executed directly.
	Interpreters map[string]string
	// TerminateTimeout bounds each wait during Terminate and the flush of
	// trailing output after the child exits.
	TerminateTimeout time.Duration
	// OutputBuffer is the capacity of the output channel in chunks.
	OutputBuffer int
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Cols: 200,
		Rows: 50,
		Interpreters: map[string]string{
			".py": "python3",
			".sh": "bash",
		},
		TerminateTimeout: 2 * time.Second,
		OutputBuffer:     4096,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Cols <= 0 {
		c.Cols = d.Cols
	}
	if c.Rows <= 0 {
		c.Rows = d.Rows
	}
	if c.Interpreters == nil {
		c.Interpreters = d.Interpreters
	}
	if c.TerminateTimeout <= 0 {
		c.TerminateTimeout = d.TerminateTimeout
	}
	if c.OutputBuffer <= 0 {
		c.OutputBuffer = d.OutputBuffer
	}
	return c
}
