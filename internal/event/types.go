package event

import "time"

// Event is the interface that all events must implement.
type Event interface {
	// EventType returns a "category.action" identifier such as "step.started".
	EventType() string

	// Timestamp returns when the event occurred.
	Timestamp() time.Time
}

// baseEvent provides common fields for all events.
type baseEvent struct {
	eventType string
	timestamp time.Time
}

func (e baseEvent) EventType() string    { return e.eventType }
func (e baseEvent) Timestamp() time.Time { return e.timestamp }

func newBaseEvent(eventType string) baseEvent {
	return baseEvent{
		eventType: eventType,
		timestamp: time.Now(),
	}
}

// Event type identifiers.
const (
	TypeStepStarted    = "step.started"
	TypeStepFinished   = "step.finished"
	TypeStepCompleted  = "step.completed"
	TypeStepTerminated = "step.terminated"
	TypeStepsSkipped   = "step.skipped"
	TypeUndoApplied    = "step.undone"
	TypeSkipUndone     = "step.skip_undone"
	TypeSyncFinished   = "sync.finished"
)

// -----------------------------------------------------------------------------
// Step Lifecycle Events
// -----------------------------------------------------------------------------

// StepStartedEvent is emitted after a step's script has been launched.
type StepStartedEvent struct {
	baseEvent
	StepID string
	Run    int
	Script string
	Args   []string
}

// NewStepStartedEvent creates a StepStartedEvent.
func NewStepStartedEvent(stepID string, run int, script string, args []string) StepStartedEvent {
	return StepStartedEvent{
		baseEvent: newBaseEvent(TypeStepStarted),
		StepID:    stepID,
		Run:       run,
		Script:    script,
		Args:      args,
	}
}

// StepFinishedEvent is emitted when a step's script has ended and its
// outcome has been classified.
type StepFinishedEvent struct {
	baseEvent
	StepID    string
	Run       int
	Succeeded bool
	ExitCode  int
	// MarkerFound reports whether the script wrote its success marker.
	MarkerFound bool
}

// NewStepFinishedEvent creates a StepFinishedEvent.
func NewStepFinishedEvent(stepID string, run int, succeeded bool, exitCode int, markerFound bool) StepFinishedEvent {
	return StepFinishedEvent{
		baseEvent:   newBaseEvent(TypeStepFinished),
		StepID:      stepID,
		Run:         run,
		Succeeded:   succeeded,
		ExitCode:    exitCode,
		MarkerFound: markerFound,
	}
}

// StepCompletedEvent is emitted when a step is recorded as completed.
type StepCompletedEvent struct {
	baseEvent
	StepID string
	Run    int
}

// NewStepCompletedEvent creates a StepCompletedEvent.
func NewStepCompletedEvent(stepID string, run int) StepCompletedEvent {
	return StepCompletedEvent{
		baseEvent: newBaseEvent(TypeStepCompleted),
		StepID:    stepID,
		Run:       run,
	}
}

// StepTerminatedEvent is emitted when a running step is killed.
type StepTerminatedEvent struct {
	baseEvent
	StepID string
}

// NewStepTerminatedEvent creates a StepTerminatedEvent.
func NewStepTerminatedEvent(stepID string) StepTerminatedEvent {
	return StepTerminatedEvent{
		baseEvent: newBaseEvent(TypeStepTerminated),
		StepID:    stepID,
	}
}

// StepsSkippedEvent is emitted when the workflow jumps forward to Target.
type StepsSkippedEvent struct {
	baseEvent
	Target  string
	Skipped []string
}

// NewStepsSkippedEvent creates a StepsSkippedEvent.
func NewStepsSkippedEvent(target string, skipped []string) StepsSkippedEvent {
	return StepsSkippedEvent{
		baseEvent: newBaseEvent(TypeStepsSkipped),
		Target:    target,
		Skipped:   skipped,
	}
}

// UndoAppliedEvent is emitted after a successful undo. Reverted is true
// when the step itself went back to pending; false when only one of several
// runs was rolled back.
type UndoAppliedEvent struct {
	baseEvent
	StepID   string
	Run      int
	Reverted bool
}

// NewUndoAppliedEvent creates an UndoAppliedEvent.
func NewUndoAppliedEvent(stepID string, run int, reverted bool) UndoAppliedEvent {
	return UndoAppliedEvent{
		baseEvent: newBaseEvent(TypeUndoApplied),
		StepID:    stepID,
		Run:       run,
		Reverted:  reverted,
	}
}

// SkipUndoneEvent is emitted after Undo reverts a skip to Target.
type SkipUndoneEvent struct {
	baseEvent
	Target string
}

// NewSkipUndoneEvent creates a SkipUndoneEvent.
func NewSkipUndoneEvent(target string) SkipUndoneEvent {
	return SkipUndoneEvent{
		baseEvent: newBaseEvent(TypeSkipUndone),
		Target:    target,
	}
}

// -----------------------------------------------------------------------------
// Sync Events
// -----------------------------------------------------------------------------

// SyncFinishedEvent is emitted after a mirror pass.
type SyncFinishedEvent struct {
	baseEvent
	Direction string // "down" or "up"
	Copied    int
	Deleted   int
	Succeeded bool
}

// NewSyncFinishedEvent creates a SyncFinishedEvent.
func NewSyncFinishedEvent(direction string, copied, deleted int, succeeded bool) SyncFinishedEvent {
	return SyncFinishedEvent{
		baseEvent: newBaseEvent(TypeSyncFinished),
		Direction: direction,
		Copied:    copied,
		Deleted:   deleted,
		Succeeded: succeeded,
	}
}
