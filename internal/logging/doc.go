// Package logging provides structured logging for stepflow.
//
// This package wraps Go's log/slog to provide JSON-formatted logs with
// context propagation, so a step's lifecycle (snapshot, launch, completion,
// rollback, sync) can be reconstructed after the fact from debug.log.
//
// # Basic Usage
//
//	logger, err := logging.NewLoggerWithRotation("/project/.workflow_logs", "INFO", logging.DefaultRotationConfig())
//	if err != nil {
//	    return err
//	}
//	defer logger.Close()
//
//	stepLog := logger.WithComponent("orchestrator").WithStep("build").WithRun(2)
//	stepLog.Info("step started", "script", "build.py")
//
// Output:
//
//	{"time":"...","level":"INFO","msg":"step started","component":"orchestrator","step_id":"build","run":2,"script":"build.py"}
//
// Child loggers created via With* share the root logger's writer; only the
// root logger owns the file and should be closed.
//
// # Log Rotation
//
// [RotatingWriter] shifts debug.log to debug.log.1 ... debug.log.N once it
// exceeds MaxSizeMB, optionally gzip-compressing the backups.
//
// # Testing
//
// Use [NopLogger] to discard all log output.
package logging
