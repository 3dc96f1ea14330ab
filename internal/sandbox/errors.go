// Package sandbox implements policy-bound execution of untrusted JavaScript
// on goja: static validation, a restricted capability surface, a lifecycle
// state machine and an opt-in debugger.
package sandbox

import "scriptbox/internal/sandboxerr"

// Re-export errors from sandboxerr so callers only import this package.
var (
	ErrTimeout        = sandboxerr.ErrTimeout
	ErrMemoryExceeded = sandboxerr.ErrMemoryExceeded
	ErrInstanceBusy   = sandboxerr.ErrInstanceBusy
	ErrQueryDenied    = sandboxerr.ErrQueryDenied
	ErrNoDatabase     = sandboxerr.ErrNoDatabase
	ErrVMUnavailable  = sandboxerr.ErrVMUnavailable
)

// Type aliases for error types.
type ValidationError = sandboxerr.ValidationError
type NotFoundError = sandboxerr.NotFoundError
type MonitorTerminatedError = sandboxerr.MonitorTerminatedError
type RuntimeFaultError = sandboxerr.RuntimeFaultError
