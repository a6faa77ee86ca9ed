// Package orchestrator composes the runner, snapshot store, history tracker
// and sync mirror into the step lifecycle: run, complete, terminate, skip
// and undo.
//
// # Run lifecycle
//
//	RunStep      sync down, take "{id}_run_{n}", start the script
//	CompleteStep success: mark completed, sync up
//	             failure: restore the run's archive, drop it, back to pending
//	TerminateStep kill the script, then roll back as for a failure
//
// A run succeeds only when the script exits 0 and has written its success
// marker, an empty file at <status_dir>/<script-stem>.success.
//
// # Undo
//
// Undo pops the most recent entry of the completion log. If that step has
// more than one retained run, only the latest run is rolled back and the
// step stays completed; otherwise the step returns to pending.
//
// # Ownership
//
// The Orchestrator owns its collaborators for the lifetime of a session.
// Call [Orchestrator.Close] on every exit path: it stops a running script,
// pushes the local tree to the network share when mirroring, and releases
// the project lock.
package orchestrator
