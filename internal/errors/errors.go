// Package errors provides centralized error definitions and error handling utilities
// for crossfix. It defines domain-specific errors, semantic error types,
// error constructors with context wrapping, and error classification helpers.
//
// # Error Types
//
// Domain-specific errors represent errors from specific subsystems:
//   - BackendError: errors raised while dispatching a task to a backend
//   - ReviewError: errors raised by a reviewer or while parsing its report
//   - RunError: errors that end or degrade an orchestration run
//
// Semantic errors represent common error conditions:
//   - NotFoundError: resource not found
//   - ValidationError: invalid input or state
//   - TimeoutError: operation timed out
//
// # Usage
//
//	err := errors.NewBackendError("dispatch failed", cause).
//	    WithBackend("codex").WithTaskType("generation")
//
//	if errors.Is(err, errors.ErrReviewerUnavailable) { ... }
//
//	var backendErr *errors.BackendError
//	if errors.As(err, &backendErr) { ... }
//
//	if errors.IsRetryable(err) { ... }
package errors

import (
	"errors"
	"fmt"
	"strings"
	"time"
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
	// SeverityInfo is for informational errors that don't indicate a problem.
	SeverityInfo
	// SeverityWarning is for errors that might indicate a problem but aren't critical.
	SeverityWarning
	// SeverityError is for errors that indicate a real problem.
	SeverityError
	// SeverityCritical is for errors that require immediate attention.
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

// Run control sentinel errors
var (
	// ErrBudgetExceeded indicates the iteration or time budget ran out.
	ErrBudgetExceeded = New("iteration budget exceeded")
	// ErrStallDetected indicates the run stopped producing write actions.
	ErrStallDetected = New("stall detected")
	// ErrNoArtifactsProduced indicates an implementation phase that never wrote anything.
	ErrNoArtifactsProduced = New("no artifacts produced")
	// ErrScheduleExhausted indicates every scheduled phase has run.
	ErrScheduleExhausted = New("phase schedule exhausted")
)

// Backend sentinel errors
var (
	// ErrBackendNotFound indicates a backend id with no registered backend.
	ErrBackendNotFound = New("backend not found")
	// ErrBackendUnavailable indicates the backend binary or endpoint is missing.
	ErrBackendUnavailable = New("backend unavailable")
	// ErrBackendFailed indicates the backend ran but reported failure.
	ErrBackendFailed = New("backend failed")
)

// Review sentinel errors
var (
	// ErrReviewerUnavailable indicates a reviewer could not be reached.
	ErrReviewerUnavailable = New("reviewer unavailable")
	// ErrParseFailure indicates neither the structured parser nor the
	// fallback extractor recovered anything from a reviewer response.
	ErrParseFailure = New("review parse failure")
	// ErrNoReviewData indicates neither reviewer produced a usable report.
	ErrNoReviewData = New("no review data")
)

// Persistence sentinel errors
var (
	// ErrHistoryExists indicates a run history already persisted at the target path.
	ErrHistoryExists = New("history already persisted")
	// ErrRecordOutOfOrder indicates an iteration record that does not extend the history.
	ErrRecordOutOfOrder = New("iteration record out of order")
	// ErrRecordLimit indicates more records than the loop's iteration budget.
	ErrRecordLimit = New("iteration record limit reached")
)

// General sentinel errors
var (
	// ErrTimeout indicates that an operation timed out.
	ErrTimeout = New("operation timed out")
	// ErrCanceled indicates that an operation was canceled.
	ErrCanceled = New("operation canceled")
	// ErrInvalidInput indicates that input validation failed.
	ErrInvalidInput = New("invalid input")
	// ErrInvalidConfig indicates configuration failed validation.
	ErrInvalidConfig = New("invalid configuration")
)

// -----------------------------------------------------------------------------
// Base Error Interface
// -----------------------------------------------------------------------------

// CrossfixError is the base interface for all crossfix errors.
// It extends the standard error interface with additional methods for
// error handling and classification.
type CrossfixError interface {
	error

	// Unwrap returns the underlying error, if any.
	Unwrap() error

	// Is reports whether this error matches the target error.
	Is(target error) bool

	// Severity returns the severity level of this error.
	Severity() Severity

	// IsRetryable returns true if the error is transient and the operation
	// may succeed on retry.
	IsRetryable() bool
}

// -----------------------------------------------------------------------------
// Base Error Implementation
// -----------------------------------------------------------------------------

type baseError struct {
	message   string
	cause     error
	severity  Severity
	retryable bool
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

// BackendError represents a failure dispatching a task to a backend.
//
// Example:
//
//	err := errors.NewBackendError("exec failed", cause).WithBackend("codex")
//	fmt.Println(err) // "backend error [backend=codex]: exec failed: <cause>"
type BackendError struct {
	baseError
	Backend  string
	TaskType string
	ExitCode int
}

// NewBackendError creates a new BackendError.
func NewBackendError(message string, cause error) *BackendError {
	return &BackendError{
		baseError: baseError{
			message:   message,
			cause:     cause,
			severity:  SeverityError,
			retryable: false,
		},
	}
}

// WithBackend adds the backend id to the error context.
func (e *BackendError) WithBackend(id string) *BackendError {
	e.Backend = id
	return e
}

// WithTaskType adds the task type to the error context.
func (e *BackendError) WithTaskType(taskType string) *BackendError {
	e.TaskType = taskType
	return e
}

// WithExitCode records the process exit code for CLI backends.
func (e *BackendError) WithExitCode(code int) *BackendError {
	e.ExitCode = code
	return e
}

// WithSeverity sets the error severity.
func (e *BackendError) WithSeverity(s Severity) *BackendError {
	e.severity = s
	return e
}

// WithRetryable sets whether the error is retryable.
func (e *BackendError) WithRetryable(r bool) *BackendError {
	e.retryable = r
	return e
}

// Error returns the formatted error message.
func (e *BackendError) Error() string {
	var parts []string
	if e.Backend != "" {
		parts = append(parts, fmt.Sprintf("backend=%s", e.Backend))
	}
	if e.TaskType != "" {
		parts = append(parts, fmt.Sprintf("task=%s", e.TaskType))
	}
	if e.ExitCode != 0 {
		parts = append(parts, fmt.Sprintf("exit=%d", e.ExitCode))
	}
	return e.format("backend error", parts)
}

// Is checks if this error matches the target.
func (e *BackendError) Is(target error) bool {
	if _, ok := target.(*BackendError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// ReviewError represents a failure obtaining or parsing a review.
//
// Example:
//
//	err := errors.NewReviewError("reviewer quota exhausted", errors.ErrReviewerUnavailable).
//	    WithReviewer("codex").WithIteration(2)
type ReviewError struct {
	baseError
	Reviewer  string
	Iteration int
}

// NewReviewError creates a new ReviewError.
func NewReviewError(message string, cause error) *ReviewError {
	return &ReviewError{
		baseError: baseError{
			message:   message,
			cause:     cause,
			severity:  SeverityWarning,
			retryable: false,
		},
	}
}

// WithReviewer adds the reviewer name to the error context.
func (e *ReviewError) WithReviewer(name string) *ReviewError {
	e.Reviewer = name
	return e
}

// WithIteration adds the improvement iteration to the error context.
func (e *ReviewError) WithIteration(n int) *ReviewError {
	e.Iteration = n
	return e
}

// WithRetryable sets whether the error is retryable.
func (e *ReviewError) WithRetryable(r bool) *ReviewError {
	e.retryable = r
	return e
}

// Error returns the formatted error message.
func (e *ReviewError) Error() string {
	var parts []string
	if e.Reviewer != "" {
		parts = append(parts, fmt.Sprintf("reviewer=%s", e.Reviewer))
	}
	if e.Iteration > 0 {
		parts = append(parts, fmt.Sprintf("iteration=%d", e.Iteration))
	}
	return e.format("review error", parts)
}

// Is checks if this error matches the target.
func (e *ReviewError) Is(target error) bool {
	if _, ok := target.(*ReviewError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// RunError represents an error attached to a run as a whole.
//
// Example:
//
//	err := errors.NewRunError("implementation wrote nothing", errors.ErrNoArtifactsProduced).
//	    WithRunID(id).WithPhase("implementation")
type RunError struct {
	baseError
	RunID     string
	Phase     string
	Iteration int
}

// NewRunError creates a new RunError.
func NewRunError(message string, cause error) *RunError {
	return &RunError{
		baseError: baseError{
			message:   message,
			cause:     cause,
			severity:  SeverityError,
			retryable: false,
		},
	}
}

// WithRunID adds the run id to the error context.
func (e *RunError) WithRunID(id string) *RunError {
	e.RunID = id
	return e
}

// WithPhase adds the phase name to the error context.
func (e *RunError) WithPhase(phase string) *RunError {
	e.Phase = phase
	return e
}

// WithIteration adds the iteration index to the error context.
func (e *RunError) WithIteration(n int) *RunError {
	e.Iteration = n
	return e
}

// WithSeverity sets the error severity.
func (e *RunError) WithSeverity(s Severity) *RunError {
	e.severity = s
	return e
}

// Error returns the formatted error message.
func (e *RunError) Error() string {
	var parts []string
	if e.RunID != "" {
		parts = append(parts, fmt.Sprintf("run=%s", e.RunID))
	}
	if e.Phase != "" {
		parts = append(parts, fmt.Sprintf("phase=%s", e.Phase))
	}
	if e.Iteration > 0 {
		parts = append(parts, fmt.Sprintf("iteration=%d", e.Iteration))
	}
	return e.format("run error", parts)
}

// Is checks if this error matches the target.
func (e *RunError) Is(target error) bool {
	if _, ok := target.(*RunError); ok {
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
//	err := errors.NewNotFoundError("backend", "gemini")
//	fmt.Println(err) // "backend 'gemini' not found"
type NotFoundError struct {
	baseError
	ResourceType string
	ResourceID   string
}

// NewNotFoundError creates a new NotFoundError.
func NewNotFoundError(resourceType, resourceID string) *NotFoundError {
	return &NotFoundError{
		baseError: baseError{
			message:   fmt.Sprintf("%s '%s' not found", resourceType, resourceID),
			severity:  SeverityWarning,
			retryable: false,
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
//	err := errors.NewValidationError("severity must be one of critical, high, medium, low")
//	err = err.WithField("severity").WithValue("urgent")
type ValidationError struct {
	baseError
	Field string
	Value any
}

// NewValidationError creates a new ValidationError.
func NewValidationError(message string) *ValidationError {
	return &ValidationError{
		baseError: baseError{
			message:   message,
			severity:  SeverityWarning,
			retryable: false,
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
	if errors.Is(target, ErrInvalidInput) {
		return true
	}
	return e.baseError.Is(target)
}

// TimeoutError represents an operation that timed out.
//
// Example:
//
//	err := errors.NewTimeoutError("codex exec", 10*time.Minute)
//	fmt.Println(err) // "timeout error: codex exec (timeout: 10m0s)"
type TimeoutError struct {
	baseError
	Operation string
	Duration  time.Duration
}

// NewTimeoutError creates a new TimeoutError.
func NewTimeoutError(operation string, duration time.Duration) *TimeoutError {
	return &TimeoutError{
		baseError: baseError{
			message:   operation,
			severity:  SeverityWarning,
			retryable: true,
		},
		Operation: operation,
		Duration:  duration,
	}
}

// WithCause adds a cause to the error.
func (e *TimeoutError) WithCause(cause error) *TimeoutError {
	e.cause = cause
	return e
}

// Error returns the formatted error message.
func (e *TimeoutError) Error() string {
	base := fmt.Sprintf("timeout error: %s (timeout: %s)", e.Operation, e.Duration)
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", base, e.cause)
	}
	return base
}

// Is checks if this error matches the target.
func (e *TimeoutError) Is(target error) bool {
	if _, ok := target.(*TimeoutError); ok {
		return true
	}
	if errors.Is(target, ErrTimeout) {
		return true
	}
	return e.baseError.Is(target)
}

// -----------------------------------------------------------------------------
// Error Classification Helpers
// -----------------------------------------------------------------------------

// IsRetryable returns true if the error represents a transient condition
// that may succeed on retry.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var cfErr CrossfixError
	if As(err, &cfErr) {
		return cfErr.IsRetryable()
	}

	return Is(err, ErrTimeout)
}

// GetSeverity returns the severity level of the error.
// Returns SeverityError for errors that don't implement CrossfixError.
func GetSeverity(err error) Severity {
	if err == nil {
		return SeverityDebug
	}

	var cfErr CrossfixError
	if As(err, &cfErr) {
		return cfErr.Severity()
	}
	return SeverityError
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
