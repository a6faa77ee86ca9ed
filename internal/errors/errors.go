// Package errors provides centralized error definitions and error handling utilities
// for stepflow. It defines sentinel errors, domain error types with context
// wrapping, and classification helpers.
//
// # Error Types
//
// Domain-specific errors represent errors from specific subsystems:
//   - StepError: errors raised by step lifecycle operations
//   - SnapshotError: errors raised while taking or restoring archives
//   - SyncError: errors raised while mirroring a single path
//
// Semantic errors represent common error conditions:
//   - NotFoundError: resource not found
//   - ValidationError: invalid input or state
//
// # Usage
//
//	err := errors.NewStepError("cannot run step", errors.ErrStepNotFound).WithStepID("build")
//	if errors.Is(err, errors.ErrStepNotFound) { ... }
//
//	var snapErr *errors.SnapshotError
//	if errors.As(err, &snapErr) { ... }
package errors

import (
	"errors"
	"fmt"
	"strings"
)

// Re-export standard library functions for convenience.
// This allows callers to import only this package for all error handling.
var (
	Is     = errors.Is
	As     = errors.As
	Unwrap = errors.Unwrap
	New    = errors.New
	Join   = errors.Join
)

// -----------------------------------------------------------------------------
// Sentinel Errors
// -----------------------------------------------------------------------------

// Workflow and step sentinel errors
var (
	// ErrStepNotFound indicates an operation referenced a step id the workflow does not define.
	ErrStepNotFound = New("step not found")
	// ErrInvalidWorkflow indicates the workflow definition is missing or malformed.
	ErrInvalidWorkflow = New("invalid workflow definition")
	// ErrStepRunning indicates another step is still executing.
	ErrStepRunning = New("a step is already running")
)

// Process sentinel errors
var (
	// ErrAlreadyRunning indicates the runner already owns a live child process.
	ErrAlreadyRunning = New("process already running")
	// ErrNotRunning indicates an operation required a live child process.
	ErrNotRunning = New("process not running")
	// ErrScriptNotFound indicates the step's script file does not exist.
	ErrScriptNotFound = New("script not found")
)

// Storage sentinel errors
var (
	// ErrSnapshotNotFound indicates the named archive does not exist.
	ErrSnapshotNotFound = New("snapshot not found")
	// ErrProjectLocked indicates another process holds the project lock.
	ErrProjectLocked = New("project is locked by another process")
	// ErrHistoryCorrupted indicates the history record could not be parsed.
	ErrHistoryCorrupted = New("history record corrupted")
)

// General sentinel errors
var (
	// ErrInvalidInput indicates that input validation failed.
	ErrInvalidInput = New("invalid input")
)

// -----------------------------------------------------------------------------
// Base Error Implementation
// -----------------------------------------------------------------------------

type baseError struct {
	message string
	cause   error
}

func (e *baseError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.message, e.cause)
	}
	return e.message
}

func (e *baseError) Unwrap() error {
	return e.cause
}

func (e *baseError) Is(target error) bool {
	if e.cause != nil {
		return errors.Is(e.cause, target)
	}
	return false
}

// format renders "<kind> [k=v, ...]: message: cause".
func (e *baseError) format(kind string, parts []string) string {
	prefix := kind
	if len(parts) > 0 {
		prefix = fmt.Sprintf("%s [%s]", kind, strings.Join(parts, ", "))
	}
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", prefix, e.message)
}

// -----------------------------------------------------------------------------
// Domain-Specific Errors
// -----------------------------------------------------------------------------

// StepError represents errors raised by step lifecycle operations.
//
// Example:
//
//	err := errors.NewStepError("cannot run step", errors.ErrStepNotFound).WithStepID("build")
//	fmt.Println(err) // "step error [step=build]: cannot run step: step not found"
type StepError struct {
	baseError
	StepID string
	Run    int
}

// NewStepError creates a new StepError.
func NewStepError(message string, cause error) *StepError {
	return &StepError{
		baseError: baseError{
			message: message,
			cause:   cause,
		},
	}
}

// WithStepID adds a step id to the error context.
func (e *StepError) WithStepID(id string) *StepError {
	e.StepID = id
	return e
}

// WithRun adds a run number to the error context.
func (e *StepError) WithRun(n int) *StepError {
	e.Run = n
	return e
}

// Error returns the formatted error message.
func (e *StepError) Error() string {
	var parts []string
	if e.StepID != "" {
		parts = append(parts, fmt.Sprintf("step=%s", e.StepID))
	}
	if e.Run > 0 {
		parts = append(parts, fmt.Sprintf("run=%d", e.Run))
	}
	return e.format("step error", parts)
}

// Is checks if this error matches the target.
func (e *StepError) Is(target error) bool {
	if _, ok := target.(*StepError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// SnapshotError represents errors raised while taking or restoring archives.
type SnapshotError struct {
	baseError
	Name string
}

// NewSnapshotError creates a new SnapshotError.
func NewSnapshotError(message string, cause error) *SnapshotError {
	return &SnapshotError{
		baseError: baseError{
			message: message,
			cause:   cause,
		},
	}
}

// WithName adds the archive name to the error context.
func (e *SnapshotError) WithName(name string) *SnapshotError {
	e.Name = name
	return e
}

// Error returns the formatted error message.
func (e *SnapshotError) Error() string {
	var parts []string
	if e.Name != "" {
		parts = append(parts, fmt.Sprintf("snapshot=%s", e.Name))
	}
	return e.format("snapshot error", parts)
}

// Is checks if this error matches the target.
func (e *SnapshotError) Is(target error) bool {
	if _, ok := target.(*SnapshotError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// SyncError represents a failure to mirror a single path.
// Sync failures are never fatal; this type exists so they can be logged with context.
type SyncError struct {
	baseError
	Path      string
	Operation string
}

// NewSyncError creates a new SyncError.
func NewSyncError(message string, cause error) *SyncError {
	return &SyncError{
		baseError: baseError{
			message: message,
			cause:   cause,
		},
	}
}

// WithPath adds the relative path to the error context.
func (e *SyncError) WithPath(path string) *SyncError {
	e.Path = path
	return e
}

// WithOperation adds the operation (copy, delete) to the error context.
func (e *SyncError) WithOperation(op string) *SyncError {
	e.Operation = op
	return e
}

// Error returns the formatted error message.
func (e *SyncError) Error() string {
	var parts []string
	if e.Operation != "" {
		parts = append(parts, fmt.Sprintf("op=%s", e.Operation))
	}
	if e.Path != "" {
		parts = append(parts, fmt.Sprintf("path=%s", e.Path))
	}
	return e.format("sync error", parts)
}

// Is checks if this error matches the target.
func (e *SyncError) Is(target error) bool {
	if _, ok := target.(*SyncError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// -----------------------------------------------------------------------------
// Semantic Errors
// -----------------------------------------------------------------------------

// NotFoundError represents a resource that could not be found.
//
// Example:
//
//	err := errors.NewNotFoundError("snapshot", "build_run_2")
//	fmt.Println(err) // "snapshot 'build_run_2' not found"
type NotFoundError struct {
	baseError
	ResourceType string
	ResourceID   string
}

// NewNotFoundError creates a new NotFoundError.
func NewNotFoundError(resourceType, resourceID string) *NotFoundError {
	return &NotFoundError{
		baseError: baseError{
			message: fmt.Sprintf("%s '%s' not found", resourceType, resourceID),
		},
		ResourceType: resourceType,
		ResourceID:   resourceID,
	}
}

// WithCause adds a cause to the error.
func (e *NotFoundError) WithCause(cause error) *NotFoundError {
	e.cause = cause
	return e
}

// Error returns the formatted error message.
func (e *NotFoundError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s '%s' not found: %v", e.ResourceType, e.ResourceID, e.cause)
	}
	return fmt.Sprintf("%s '%s' not found", e.ResourceType, e.ResourceID)
}

// Is checks if this error matches the target.
func (e *NotFoundError) Is(target error) bool {
	if _, ok := target.(*NotFoundError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// ValidationError represents invalid input or state.
//
// Example:
//
//	err := errors.NewValidationError("step id cannot be empty").WithField("steps[2].id")
type ValidationError struct {
	baseError
	Field string
	Value any
}

// NewValidationError creates a new ValidationError.
func NewValidationError(message string) *ValidationError {
	return &ValidationError{
		baseError: baseError{
			message: message,
		},
	}
}

// WithField adds a field name to the error context.
func (e *ValidationError) WithField(field string) *ValidationError {
	e.Field = field
	return e
}

// WithValue adds the invalid value to the error context.
func (e *ValidationError) WithValue(value any) *ValidationError {
	e.Value = value
	return e
}

// WithCause adds a cause to the error.
func (e *ValidationError) WithCause(cause error) *ValidationError {
	e.cause = cause
	return e
}

// Error returns the formatted error message.
func (e *ValidationError) Error() string {
	var parts []string
	if e.Field != "" {
		parts = append(parts, fmt.Sprintf("field=%s", e.Field))
	}
	if e.Value != nil {
		parts = append(parts, fmt.Sprintf("value=%v", e.Value))
	}
	return e.format("validation error", parts)
}

// Is checks if this error matches the target.
func (e *ValidationError) Is(target error) bool {
	if _, ok := target.(*ValidationError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// -----------------------------------------------------------------------------
// Classification Helpers
// -----------------------------------------------------------------------------

// IsNotFound reports whether err denotes a missing step, snapshot, or script.
func IsNotFound(err error) bool {
	if err == nil {
		return false
	}
	var notFound *NotFoundError
	return As(err, &notFound) ||
		Is(err, ErrSnapshotNotFound) ||
		Is(err, ErrStepNotFound) ||
		Is(err, ErrScriptNotFound)
}
