// Package process runs one external step script at a time on a
// pseudo-terminal and exposes its output as a live stream.
//
// # Main Types
//
//   - [Runner]: the lifecycle contract (Start, SendInput, Terminate, IsRunning,
//     Output, Results) consumed by the orchestrator.
//   - [PtyRunner]: the production implementation backed by creack/pty.
//   - [Drain]: the bounded multi-attempt read used by UI polling loops.
//
// # Lifecycle
//
// A runner is Idle until Start succeeds, then Running until the child exits
// or Terminate is called, after which it is Idle again. Each Start creates a
// fresh pair of channels:
//
//   - Output yields decoded text chunks in arrival order and is closed once
//     the run is over (the end-of-stream sentinel).
//   - Results yields exactly one [RunResult], pushed before Output is closed.
//
// The child's stdin, stdout and stderr are all attached to the terminal, and
// the child leads its own session and process group so Terminate can kill
// everything it spawned.
//
// # Draining Output
//
// Output often arrives in back-to-back chunks, e.g. a log line immediately
// followed by an input prompt without a trailing newline. A poller that reads
// a single chunk per tick leaves the prompt invisible until some unrelated
// event. Pollers must call [Drain] with MaxAttempts > 1 on every tick.
//
// # Thread Safety
//
// All PtyRunner methods are safe for concurrent use. SendInput and Terminate
// are intended to be called from a different goroutine than the one
// consuming Output.
package process
