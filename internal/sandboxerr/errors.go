// Package sandboxerr provides error types for the sandbox packages.
// This package exists to avoid import cycles between sandbox and sandbox/hostapi.
package sandboxerr

import (
	"errors"
	"fmt"
)

// Sentinel errors for sandbox operations.
var (
	// ErrTimeout indicates execution exceeded the wall-clock or CPU ceiling.
	ErrTimeout = errors.New("sandbox: execution timeout")

	// ErrMemoryExceeded indicates execution exceeded the memory limit.
	ErrMemoryExceeded = errors.New("sandbox: memory limit exceeded")

	// ErrInstanceBusy indicates an execute call raced a running execution
	// on the same instance.
	ErrInstanceBusy = errors.New("sandbox: instance is busy")

	// ErrQueryDenied indicates a database query was rejected by the
	// capability's statement validation.
	ErrQueryDenied = errors.New("sandbox: query denied")

	// ErrNoDatabase indicates the instance has no database capability bound.
	ErrNoDatabase = errors.New("sandbox: database access not available")

	// ErrVMUnavailable indicates no VM slot could be acquired.
	ErrVMUnavailable = errors.New("sandbox: no vm available")
)

// ValidationError indicates submitted source was rejected before execution.
type ValidationError struct {
	// Reason is one of "syntax", "blocked_module", "blocked_callable",
	// "source_too_long".
	Reason  string
	Name    string // offending module or callable, if any
	Message string
}

func (e *ValidationError) Error() string {
	if e.Name != "" {
		return fmt.Sprintf("sandbox: validation failed (%s): %s: %s", e.Reason, e.Name, e.Message)
	}
	return fmt.Sprintf("sandbox: validation failed (%s): %s", e.Reason, e.Message)
}

// Is implements errors.Is for ValidationError.
func (e *ValidationError) Is(target error) bool {
	_, ok := target.(*ValidationError)
	return ok
}

// ErrValidation is a sentinel for errors.Is matching.
var ErrValidation = &ValidationError{}

// NotFoundError indicates an operation on an unknown or expired instance id.
type NotFoundError struct {
	InstanceID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("sandbox: instance not found: %s", e.InstanceID)
}

// Is implements errors.Is for NotFoundError.
func (e *NotFoundError) Is(target error) bool {
	_, ok := target.(*NotFoundError)
	return ok
}

// ErrNotFound is a sentinel for errors.Is matching.
var ErrNotFound = &NotFoundError{}

// MonitorTerminatedError indicates the resource monitor forcibly terminated
// an execution. Distinguished from the engine's own timeout for audit trails.
type MonitorTerminatedError struct {
	InstanceID string
	Reason     string
}

func (e *MonitorTerminatedError) Error() string {
	return fmt.Sprintf("sandbox: terminated by resource monitor: %s (instance %s)", e.Reason, e.InstanceID)
}

// Is implements errors.Is for MonitorTerminatedError.
func (e *MonitorTerminatedError) Is(target error) bool {
	_, ok := target.(*MonitorTerminatedError)
	return ok
}

// ErrMonitorTerminated is a sentinel for errors.Is matching.
var ErrMonitorTerminated = &MonitorTerminatedError{}

// RuntimeFaultError wraps faults raised by executing code.
type RuntimeFaultError struct {
	ExecutionID string
	Cause       error
}

func (e *RuntimeFaultError) Error() string {
	if e.ExecutionID != "" {
		return fmt.Sprintf("sandbox: runtime fault in execution %s: %v", e.ExecutionID, e.Cause)
	}
	return fmt.Sprintf("sandbox: runtime fault: %v", e.Cause)
}

func (e *RuntimeFaultError) Unwrap() error {
	return e.Cause
}

// Is implements errors.Is for RuntimeFaultError.
func (e *RuntimeFaultError) Is(target error) bool {
	_, ok := target.(*RuntimeFaultError)
	return ok
}

// ErrRuntimeFault is a sentinel for errors.Is matching.
var ErrRuntimeFault = &RuntimeFaultError{}
