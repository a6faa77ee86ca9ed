// Package event provides a synchronous pub-sub bus for step lifecycle
// notifications.
//
// The orchestrator publishes an event for every state change it makes so
// that front ends (the CLI status printer, the sync watcher) can react
// without the orchestrator knowing about them.
//
// # Event Types
//
//   - [StepStartedEvent]: a step's script was launched
//   - [StepFinishedEvent]: a step's script ended and its outcome was classified
//   - [StepCompletedEvent]: a step was recorded as completed
//   - [StepTerminatedEvent]: a running step was killed
//   - [StepsSkippedEvent]: the workflow jumped forward
//   - [UndoAppliedEvent]: the last action was rolled back
//   - [SyncFinishedEvent]: a mirror pass finished
//
// # Thread Safety
//
// [Bus] is safe for concurrent use. Handlers run synchronously on the
// publishing goroutine; a panicking handler is logged and does not stop
// delivery to the others.
package event
