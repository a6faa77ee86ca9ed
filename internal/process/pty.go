package process

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/creack/pty"
	"github.com/sourcegraph/conc/panics"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	sferrors "github.com/Iron-Ham/stepflow/internal/errors"
	"github.com/Iron-Ham/stepflow/internal/logging"
)

// Common errors returned by Runner implementations.
var (
	ErrAlreadyRunning = sferrors.ErrAlreadyRunning
	ErrNotRunning     = sferrors.ErrNotRunning
	ErrScriptNotFound = sferrors.ErrScriptNotFound
)

const readChunkSize = 4096

// PtyRunner implements Runner on a pseudo-terminal.
type PtyRunner struct {
	config Config
	logger *logging.Logger

	mu     sync.Mutex
	active *run // live child, nil when idle
	last   *run // most recent run, kept so its channels can still be drained

	// inspect, when set, sees every decoded chunk before it is forwarded.
	inspect func(string)
}

// run is the state of one child process. Its fields are fixed at Start;
// only the supervisor goroutine writes to the channels.
type run struct {
	cmd     *exec.Cmd
	ptmx    *os.File
	output  chan string
	results chan RunResult

	writeMu sync.Mutex

	stop     chan struct{} // closed by Terminate
	stopOnce sync.Once
	exited   chan struct{} // closed when cmd.Wait returns
	done     chan struct{} // closed when the supervisor has finished
}

// NewPtyRunner creates an idle runner.
func NewPtyRunner(config Config, logger *logging.Logger) *PtyRunner {
	return &PtyRunner{
		config: config.withDefaults(),
		logger: logging.OrNop(logger).WithComponent("runner"),
	}
}

// Start launches script on a new terminal.
func (p *PtyRunner) Start(script string, args []string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.active != nil {
		return ErrAlreadyRunning
	}

	info, err := os.Stat(script)
	if err != nil || info.IsDir() {
		return sferrors.NewNotFoundError("script", script).WithCause(ErrScriptNotFound)
	}

	cmd := p.command(script, args)
	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{
		Cols: uint16(p.config.Cols),
		Rows: uint16(p.config.Rows),
	})
	if err != nil {
		return fmt.Errorf("failed to start %s on pty: %w", script, err)
	}

	r := &run{
		cmd:     cmd,
		ptmx:    ptmx,
		output:  make(chan string, p.config.OutputBuffer),
		results: make(chan RunResult, 1),
		stop:    make(chan struct{}),
		exited:  make(chan struct{}),
		done:    make(chan struct{}),
	}
	p.active = r
	p.last = r

	p.logger.Info("process started",
		"script", script,
		"args", args,
		"pid", cmd.Process.Pid,
	)

	go p.supervise(r)
	return nil
}

// command builds the exec.Cmd for script, prefixing the interpreter mapped
// to its extension. pty.StartWithSize puts the child in a new session, which
// also makes it the leader of its own process group.
func (p *PtyRunner) command(script string, args []string) *exec.Cmd {
	var cmd *exec.Cmd
	if interp, ok := p.config.Interpreters[strings.ToLower(filepath.Ext(script))]; ok && interp != "" {
		cmd = exec.Command(interp, append([]string{script}, args...)...)
	} else {
		cmd = exec.Command(script, args...)
	}
	cmd.Dir = p.config.Dir
	cmd.Env = append(os.Environ(), "TERM=xterm-256color", "PYTHONUNBUFFERED=1")
	cmd.Env = append(cmd.Env, p.config.Env...)
	return cmd
}

// supervise pumps output until the child exits, then publishes the result
// and closes the output channel.
func (p *PtyRunner) supervise(r *run) {
	defer close(r.done)

	// A dead reader leaves the child blocked on a full terminal, so a
	// reader panic kills the group and fails the run. readerPanicked is
	// only read after readerDone closes.
	readerDone := make(chan struct{})
	readerPanicked := false
	go func() {
		defer close(readerDone)
		var pc panics.Catcher
		pc.Try(func() { p.pump(r) })
		if rec := pc.Recovered(); rec != nil {
			readerPanicked = true
			p.logger.Error("output reader panicked, killing process", "panic", rec.String())
			if err := killGroup(r.cmd.Process.Pid); err != nil {
				p.logger.Warn("process group kill failed", "error", err.Error())
				_ = r.cmd.Process.Kill()
			}
		}
	}()

	var waitErr error
	var pc panics.Catcher
	pc.Try(func() { waitErr = r.cmd.Wait() })
	if rec := pc.Recovered(); rec != nil {
		waitErr = rec.AsError()
	}
	close(r.exited)

	// Give the reader a moment to deliver trailing output. A grandchild that
	// inherited the terminal would otherwise keep it open indefinitely.
	select {
	case <-readerDone:
	case <-time.After(p.config.TerminateTimeout):
		p.logger.Warn("terminal still open after child exit, closing")
		_ = r.ptmx.Close()
		<-readerDone
	}
	_ = r.ptmx.Close()

	result := resultFromWait(waitErr)
	if readerPanicked {
		result = RunResult{ExitCode: -1}
	}
	select {
	case <-r.stop:
		result.Succeeded = false
		result.Terminated = true
	default:
	}

	p.logger.Info("process exited",
		"exit_code", result.ExitCode,
		"succeeded", result.Succeeded,
		"terminated", result.Terminated,
	)

	r.results <- result
	close(r.output)

	p.mu.Lock()
	if p.active == r {
		p.active = nil
	}
	p.mu.Unlock()
}

// pump reads the terminal until it reports EOF or EIO (the Linux signal that
// every slave descriptor has closed) and forwards decoded text.
func (p *PtyRunner) pump(r *run) {
	reader := transform.NewReader(r.ptmx, unicode.UTF8.NewDecoder())
	buf := make([]byte, readChunkSize)
	for {
		n, err := reader.Read(buf)
		if n > 0 {
			chunk := string(buf[:n])
			if p.inspect != nil {
				p.inspect(chunk)
			}
			select {
			case r.output <- chunk:
			case <-r.stop:
				return
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, os.ErrClosed) && !isEIO(err) {
				p.logger.Debug("terminal read ended", "error", err.Error())
			}
			return
		}
	}
}

func resultFromWait(err error) RunResult {
	if err == nil {
		return RunResult{Succeeded: true, ExitCode: 0}
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return RunResult{ExitCode: exitErr.ExitCode()}
	}
	return RunResult{ExitCode: -1}
}

// SendInput writes text and a newline to the child's terminal.
func (p *PtyRunner) SendInput(text string) error {
	p.mu.Lock()
	r := p.active
	p.mu.Unlock()

	if r == nil {
		return ErrNotRunning
	}

	r.writeMu.Lock()
	defer r.writeMu.Unlock()
	if _, err := io.WriteString(r.ptmx, text+"\n"); err != nil {
		return fmt.Errorf("failed to write to terminal: %w", err)
	}
	return nil
}

// Terminate kills the child's process group, joins the supervisor with a
// timeout, and leaves the runner Idle whatever state the child was in.
func (p *PtyRunner) Terminate() error {
	p.mu.Lock()
	r := p.active
	p.active = nil
	p.mu.Unlock()

	if r == nil {
		return nil
	}

	r.stopOnce.Do(func() { close(r.stop) })
	pid := r.cmd.Process.Pid

	if err := killGroup(pid); err != nil {
		p.logger.Warn("process group kill failed, escalating", "pid", pid, "error", err.Error())
		p.escalate(r)
	}

	select {
	case <-r.done:
	case <-time.After(p.config.TerminateTimeout):
		p.logger.Warn("supervisor did not finish in time", "pid", pid)
		_ = r.ptmx.Close()
	}

	p.logger.Info("process terminated", "pid", pid)
	return nil
}

// escalate sends SIGTERM to the child alone, waits, then kills it.
func (p *PtyRunner) escalate(r *run) {
	if err := terminateProcess(r.cmd.Process); err != nil {
		p.logger.Debug("terminate signal failed", "error", err.Error())
	}
	select {
	case <-r.exited:
		return
	case <-time.After(p.config.TerminateTimeout):
	}
	if err := r.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		p.logger.Error("failed to kill process", "error", err.Error())
	}
}

// IsRunning reports whether a child is live.
func (p *PtyRunner) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.active != nil
}

// Output returns the output channel of the current or most recent run, or
// nil if nothing has been started.
func (p *PtyRunner) Output() <-chan string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.last == nil {
		return nil
	}
	return p.last.output
}

// Results returns the result channel of the current or most recent run, or
// nil if nothing has been started.
func (p *PtyRunner) Results() <-chan RunResult {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.last == nil {
		return nil
	}
	return p.last.results
}

// Verify interface implementation at compile time.
var _ Runner = (*PtyRunner)(nil)
