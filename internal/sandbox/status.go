package sandbox

// Status describes the lifecycle state of a sandbox instance.
type Status string

// Lifecycle states. An instance moves CREATED -> RUNNING -> terminal.
// CANCELLED is reachable from CREATED or RUNNING; the other terminal states
// only from RUNNING. A terminal instance may re-enter RUNNING through a fresh
// execute call, except after CANCELLED.
const (
	StatusCreated   Status = "created"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusTimeout   Status = "timeout"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether the status is a terminal execution state.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusTimeout, StatusCancelled:
		return true
	}
	return false
}

// Reusable reports whether a fresh execution may start from this state.
func (s Status) Reusable() bool {
	switch s {
	case StatusCreated, StatusCompleted, StatusFailed, StatusTimeout:
		return true
	}
	return false
}

// ErrorKind classifies execution failures for the result taxonomy.
type ErrorKind string

const (
	ErrorKindNone              ErrorKind = ""
	ErrorKindValidation        ErrorKind = "validation_error"
	ErrorKindTimeout           ErrorKind = "timeout_exceeded"
	ErrorKindMemoryExceeded    ErrorKind = "memory_exceeded"
	ErrorKindRuntimeFault      ErrorKind = "runtime_fault"
	ErrorKindMonitorTerminated ErrorKind = "monitor_terminated"
	ErrorKindCancelled         ErrorKind = "cancelled"
)
