// Package errors provides centralized error definitions and error handling utilities
// for the hotlabel dispatch engine. It defines the engine's sentinel errors, semantic
// error types, error constructors with context wrapping, and error classification helpers.
//
// # Error Types
//
// Semantic errors represent common error conditions:
//   - NotFoundError: a task, response or session is unknown
//   - AlreadyExistsError: a task identifier is already taken
//   - ValidationError: invalid input
//
// Domain errors carry assignment context:
//   - AssignmentError: a state transition was refused (conflict, mismatch, replay)
//   - StoreError: the durable backing store is unavailable
//
// # Usage
//
//	err := errors.NewNotFoundError("task", "t-1")
//	if errors.Is(err, errors.ErrNotFound) { ... }
//
//	err := errors.NewAssignmentError("finalize refused", errors.ErrAssignmentMismatch).
//		WithTaskID("t-1").WithSessionID("s-1")
//
// # Error Classification
//
//   - Retryable: only lost assignment races (ErrConflict) are retried, and only by the matcher
//   - UserFacing: errors safe to return to callers
//   - Fatal: store unavailability; no invariant can be guaranteed without the store
package errors

import (
	"context"
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

// Severity represents the severity level of an error.
type Severity int

const (
	// SeverityDebug is for errors that are useful for debugging but not critical.
	SeverityDebug Severity = iota
	// SeverityInfo is for expected conditions such as an empty queue.
	SeverityInfo
	// SeverityWarning is for caller mistakes that the engine rejects.
	SeverityWarning
	// SeverityError is for errors that indicate a real problem.
	SeverityError
	// SeverityCritical is for errors that make further progress impossible.
	SeverityCritical
)

// String returns the string representation of the severity level.
func (s Severity) String() string {
	switch s {
	case SeverityDebug:
		return "debug"
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// -----------------------------------------------------------------------------
// Sentinel Errors
// -----------------------------------------------------------------------------

// Engine sentinel errors
var (
	// ErrNotFound indicates that an identifier is unknown.
	ErrNotFound = New("not found")
	// ErrDuplicateID indicates that a task identifier already exists.
	ErrDuplicateID = New("duplicate id")
	// ErrConflict indicates that a conditional state transition lost a race.
	ErrConflict = New("conflict")
	// ErrAssignmentMismatch indicates that the caller does not hold the task's assignment.
	ErrAssignmentMismatch = New("assignment mismatch")
	// ErrAlreadySubmitted indicates that a response for the assignment already exists.
	ErrAlreadySubmitted = New("response already submitted")
	// ErrNoTaskAvailable indicates that no eligible task exists for the requester.
	ErrNoTaskAvailable = New("no task available")
	// ErrStoreUnavailable indicates that the durable backing store cannot be reached.
	ErrStoreUnavailable = New("store unavailable")
)

// General sentinel errors
var (
	// ErrInvalidInput indicates that input validation failed.
	ErrInvalidInput = New("invalid input")
	// ErrCanceled indicates that an operation was canceled.
	ErrCanceled = New("operation canceled")
)

// -----------------------------------------------------------------------------
// Base Error Interface
// -----------------------------------------------------------------------------

// HotlabelError is the base interface for all engine errors.
type HotlabelError interface {
	error

	// Unwrap returns the underlying error, if any.
	Unwrap() error

	// Is reports whether this error matches the target error.
	Is(target error) bool

	// Severity returns the severity level of this error.
	Severity() Severity

	// IsRetryable returns true if the operation may succeed on retry.
	IsRetryable() bool

	// IsUserFacing returns true if the error message is safe to return to callers.
	IsUserFacing() bool
}

// -----------------------------------------------------------------------------
// Base Error Implementation
// -----------------------------------------------------------------------------

// baseError provides common functionality for all error types.
type baseError struct {
	message    string
	cause      error
	severity   Severity
	retryable  bool
	userFacing bool
}

// Error returns the error message.
func (e *baseError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.message, e.cause)
	}
	return e.message
}

// Unwrap returns the underlying error.
func (e *baseError) Unwrap() error {
	return e.cause
}

// Is checks if this error matches the target.
func (e *baseError) Is(target error) bool {
	if e.cause != nil {
		return errors.Is(e.cause, target)
	}
	return false
}

// Severity returns the error severity.
func (e *baseError) Severity() Severity {
	return e.severity
}

// IsRetryable returns whether the error is retryable.
func (e *baseError) IsRetryable() bool {
	return e.retryable
}

// IsUserFacing returns whether the error is safe to show callers.
func (e *baseError) IsUserFacing() bool {
	return e.userFacing
}

// -----------------------------------------------------------------------------
// Semantic Errors
// -----------------------------------------------------------------------------

// NotFoundError represents a resource that could not be found.
//
// Example:
//
//	err := errors.NewNotFoundError("task", "t-1")
//	fmt.Println(err) // "task 't-1' not found"
type NotFoundError struct {
	baseError
	ResourceType string
	ResourceID   string
}

// NewNotFoundError creates a new NotFoundError.
func NewNotFoundError(resourceType, resourceID string) *NotFoundError {
	return &NotFoundError{
		baseError: baseError{
			message:    fmt.Sprintf("%s '%s' not found", resourceType, resourceID),
			severity:   SeverityWarning,
			userFacing: true,
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
	if target == ErrNotFound {
		return true
	}
	if _, ok := target.(*NotFoundError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// AlreadyExistsError represents a resource identifier that is already taken.
type AlreadyExistsError struct {
	baseError
	ResourceType string
	ResourceID   string
}

// NewAlreadyExistsError creates a new AlreadyExistsError.
func NewAlreadyExistsError(resourceType, resourceID string) *AlreadyExistsError {
	return &AlreadyExistsError{
		baseError: baseError{
			message:    fmt.Sprintf("%s '%s' already exists", resourceType, resourceID),
			severity:   SeverityWarning,
			userFacing: true,
		},
		ResourceType: resourceType,
		ResourceID:   resourceID,
	}
}

// Error returns the formatted error message.
func (e *AlreadyExistsError) Error() string {
	return fmt.Sprintf("%s '%s' already exists", e.ResourceType, e.ResourceID)
}

// Is checks if this error matches the target.
func (e *AlreadyExistsError) Is(target error) bool {
	if target == ErrDuplicateID {
		return true
	}
	if _, ok := target.(*AlreadyExistsError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// ValidationError represents invalid input.
//
// Example:
//
//	err := errors.NewValidationError("complexity must be between 1 and 5").
//		WithField("complexity").WithValue(9)
type ValidationError struct {
	baseError
	Field string
	Value any
}

// NewValidationError creates a new ValidationError.
func NewValidationError(message string) *ValidationError {
	return &ValidationError{
		baseError: baseError{
			message:    message,
			severity:   SeverityWarning,
			userFacing: true,
		},
	}
}

// WithField sets the name of the offending field.
func (e *ValidationError) WithField(field string) *ValidationError {
	e.Field = field
	return e
}

// WithValue records the offending value.
func (e *ValidationError) WithValue(value any) *ValidationError {
	e.Value = value
	return e
}

// Error returns the formatted error message.
func (e *ValidationError) Error() string {
	var sb strings.Builder
	sb.WriteString("validation error")
	if e.Field != "" {
		sb.WriteString(" [")
		sb.WriteString(e.Field)
		sb.WriteString("]")
	}
	sb.WriteString(": ")
	sb.WriteString(e.message)
	if e.Value != nil {
		fmt.Fprintf(&sb, " (got: %v)", e.Value)
	}
	return sb.String()
}

// Is checks if this error matches the target.
func (e *ValidationError) Is(target error) bool {
	if target == ErrInvalidInput {
		return true
	}
	if _, ok := target.(*ValidationError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// -----------------------------------------------------------------------------
// Domain Errors
// -----------------------------------------------------------------------------

// AssignmentError is returned when a task state transition is refused. The
// cause is one of ErrConflict, ErrAssignmentMismatch or ErrAlreadySubmitted.
//
// Example:
//
//	err := errors.NewAssignmentError("finalize refused", errors.ErrAssignmentMismatch).
//		WithTaskID("t-1").WithSessionID("s-2")
//	fmt.Println(err) // "assignment error [task=t-1, session=s-2]: finalize refused: assignment mismatch"
type AssignmentError struct {
	baseError
	TaskID    string
	SessionID string
	Holder    string
}

// NewAssignmentError creates a new AssignmentError.
func NewAssignmentError(message string, cause error) *AssignmentError {
	return &AssignmentError{
		baseError: baseError{
			message:    message,
			cause:      cause,
			severity:   SeverityWarning,
			retryable:  errors.Is(cause, ErrConflict),
			userFacing: true,
		},
	}
}

// WithTaskID adds the task ID to the error context.
func (e *AssignmentError) WithTaskID(id string) *AssignmentError {
	e.TaskID = id
	return e
}

// WithSessionID adds the requesting session ID to the error context.
func (e *AssignmentError) WithSessionID(id string) *AssignmentError {
	e.SessionID = id
	return e
}

// WithHolder records the session currently holding the assignment.
func (e *AssignmentError) WithHolder(id string) *AssignmentError {
	e.Holder = id
	return e
}

// Error returns the formatted error message.
func (e *AssignmentError) Error() string {
	var ctx []string
	if e.TaskID != "" {
		ctx = append(ctx, "task="+e.TaskID)
	}
	if e.SessionID != "" {
		ctx = append(ctx, "session="+e.SessionID)
	}
	if e.Holder != "" {
		ctx = append(ctx, "holder="+e.Holder)
	}

	prefix := "assignment error"
	if len(ctx) > 0 {
		prefix = fmt.Sprintf("assignment error [%s]", strings.Join(ctx, ", "))
	}
	return fmt.Sprintf("%s: %s", prefix, e.baseError.Error())
}

// Is checks if this error matches the target.
func (e *AssignmentError) Is(target error) bool {
	if _, ok := target.(*AssignmentError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// StoreError reports that the durable store could not serve a request. It
// always matches ErrStoreUnavailable.
type StoreError struct {
	baseError
	Op string
}

// NewStoreError creates a StoreError for the named store operation.
func NewStoreError(op string, cause error) *StoreError {
	return &StoreError{
		baseError: baseError{
			message:  "store operation failed",
			cause:    cause,
			severity: SeverityCritical,
		},
		Op: op,
	}
}

// Error returns the formatted error message.
func (e *StoreError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("store unavailable [op=%s]: %v", e.Op, e.cause)
	}
	return fmt.Sprintf("store unavailable [op=%s]", e.Op)
}

// Is checks if this error matches the target.
func (e *StoreError) Is(target error) bool {
	if target == ErrStoreUnavailable {
		return true
	}
	if _, ok := target.(*StoreError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// -----------------------------------------------------------------------------
// Error Classification Helpers
// -----------------------------------------------------------------------------

// IsRetryable returns true if the error represents a lost race that may
// succeed against a different candidate.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var hlErr HotlabelError
	if As(err, &hlErr) {
		return hlErr.IsRetryable()
	}

	return Is(err, ErrConflict)
}

// IsUserFacing returns true if the error message is safe to return to callers.
//
// Example:
//
//	if errors.IsUserFacing(err) {
//	    writeError(w, err.Error())
//	} else {
//	    writeError(w, "internal error")
//	    log.Error("internal error", "err", err)
//	}
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}

	var hlErr HotlabelError
	if As(err, &hlErr) {
		return hlErr.IsUserFacing()
	}

	return Is(err, ErrNoTaskAvailable) || Is(err, ErrNotFound) ||
		Is(err, ErrDuplicateID) || Is(err, ErrInvalidInput)
}

// GetSeverity returns the severity level of the error.
// Returns SeverityError for errors that don't implement HotlabelError.
func GetSeverity(err error) Severity {
	if err == nil {
		return SeverityDebug
	}

	var hlErr HotlabelError
	if As(err, &hlErr) {
		return hlErr.Severity()
	}

	if Is(err, ErrNoTaskAvailable) {
		return SeverityInfo
	}
	return SeverityError
}

// IsFatal returns true when the error means the backing store is gone.
func IsFatal(err error) bool {
	return err != nil && Is(err, ErrStoreUnavailable)
}

// Canceled marks a context cancellation or deadline error with ErrCanceled.
// The context error stays matchable; other errors are returned unchanged.
func Canceled(err error) error {
	if err == nil || Is(err, ErrCanceled) {
		return err
	}
	if Is(err, context.Canceled) || Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", ErrCanceled, err)
	}
	return err
}

// IsCanceled reports whether err stems from a canceled or expired context.
func IsCanceled(err error) bool {
	return err != nil && (Is(err, ErrCanceled) || Is(err, context.Canceled) || Is(err, context.DeadlineExceeded))
}

// -----------------------------------------------------------------------------
// Convenience Constructors
// -----------------------------------------------------------------------------

// Wrap wraps an error with additional context message.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with a formatted context message.
func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}
