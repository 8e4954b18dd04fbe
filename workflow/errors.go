package workflow

import "errors"

// ErrNotFound is returned when a workflow, task, version, or schedule
// does not exist.
var ErrNotFound = errors.New("not found")

// ErrCycle indicates the task dependency graph contains a cycle and is
// not a valid DAG.
var ErrCycle = errors.New("circular dependency detected")

// ErrUnknownDependency indicates a task depends on a name that matches
// no sibling task.
var ErrUnknownDependency = errors.New("unknown dependency")

// ErrInvalidTransition indicates a pause/resume/cancel request that does
// not apply from the workflow's current status.
var ErrInvalidTransition = errors.New("invalid status transition")

// ErrInvalidRetryPolicy indicates a retry policy with out-of-range
// configuration.
var ErrInvalidRetryPolicy = errors.New("invalid retry policy")

// ErrTaskTimeout indicates a task attempt exceeded its wall-clock limit.
// Timeouts are retry-eligible; the error becomes terminal only after the
// retry budget is exhausted.
var ErrTaskTimeout = errors.New("task execution timed out")

// Error is a classified engine error carrying a stable machine-readable
// code alongside the human message. Use errors.As to recover it and
// errors.Is against the wrapped sentinel.
type Error struct {
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Code != "" {
		return e.Code + ": " + e.Message
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// NewError builds a classified error wrapping an optional cause.
func NewError(code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Err: cause}
}
