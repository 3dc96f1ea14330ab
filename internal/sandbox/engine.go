package sandbox

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/dop251/goja"
	"github.com/google/uuid"

	"scriptbox/internal/sandbox/hostapi"
	"scriptbox/internal/sandboxerr"
)

// memCheckInterval is how often the engine's memory watchdog samples heap
// growth while an execution is in flight.
const memCheckInterval = 100 * time.Millisecond

// resultGlobal is the designated global read back as the execution's result.
const resultGlobal = "__result__"

// Execute runs source inside the instance under the bound policy.
//
// The static validator runs to completion first; rejected submissions never
// reach the interpreter and report a zero running time. Accepted code runs
// with a wall-clock deadline, a heap-growth watchdog, capped output buffers
// and only the capability surface in scope. Every exit path produces a
// structured ExecutionResult; faults raised by the executing code never
// escape as Go errors.
func (i *Instance) Execute(ctx context.Context, source string, contextVars map[string]any) (*ExecutionResult, error) {
	i.execMu.Lock()
	defer i.execMu.Unlock()

	if ctx == nil {
		ctx = context.Background()
	}

	result := &ExecutionResult{
		ExecutionID: uuid.NewString(),
		InstanceID:  i.id,
		TenantID:    i.tenantID,
		CreatedAt:   time.Now(),
	}

	i.mu.Lock()
	if !i.status.Reusable() {
		status := i.status
		i.mu.Unlock()
		return nil, fmt.Errorf("instance %s in state %s: %w", i.id, status, sandboxerr.ErrInstanceBusy)
	}
	i.mu.Unlock()

	// Validation runs before any ceiling is installed: a rejected submission
	// consumed no execution resources and reports a zero duration.
	if err := i.validator.Validate(source); err != nil {
		i.setStatus(StatusFailed)
		result.Status = StatusFailed
		result.Error = err.Error()
		result.ErrorKind = ErrorKindValidation
		result.CompletedAt = time.Now()
		if i.debugger != nil {
			i.debugger.Log("validation failed: "+err.Error(), "ERROR", nil)
			result.DebugInfo = i.debugger.Summary()
		}
		return result, nil
	}

	i.stdout.Reset()
	i.stderr.Reset()

	execCtx, cancel := context.WithTimeout(ctx, i.config.MaxExecutionTime)
	running := make(chan struct{})

	i.mu.Lock()
	i.status = StatusRunning
	i.cancel = cancel
	i.kill = nil
	i.running = running
	i.lastUsed = time.Now()
	i.mu.Unlock()

	hctx := &hostapi.Context{
		Ctx:         execCtx,
		Logger:      i.logger,
		InstanceID:  i.id,
		ExecutionID: result.ExecutionID,
		TenantID:    i.tenantID,
		Stdout:      i.stdout,
		Stderr:      i.stderr,
	}
	if i.debugger != nil {
		hctx.Debugger = i.debugger
	}
	if i.db != nil {
		hctx.DB = i.db
	}
	if err := hostapi.Register(i.vm, hctx); err != nil {
		cancel()
		i.finishExecution()
		close(running)
		i.setStatus(StatusFailed)
		return nil, fmt.Errorf("register capability surface: %w", err)
	}

	for name, value := range contextVars {
		_ = i.vm.Set(name, value)
	}

	done := make(chan struct{})
	var peak atomic.Int64

	// Wall-clock ceiling: the VM is interrupted when the deadline passes or
	// the caller cancels. Kill paths install their own reason first.
	go func() {
		select {
		case <-execCtx.Done():
			i.mu.Lock()
			killed := i.kill != nil
			i.mu.Unlock()
			if killed {
				return
			}
			kind := ErrorKindCancelled
			if errors.Is(execCtx.Err(), context.DeadlineExceeded) {
				kind = ErrorKindTimeout
			}
			i.vm.Interrupt(&interruptReason{Kind: kind, Reason: execCtx.Err().Error()})
		case <-done:
		}
	}()

	// Memory ceiling: heap growth beyond the policy limit interrupts the VM
	// with a distinguished memory reason. The resource monitor enforces the
	// same limit independently.
	baseline := heapAlloc()
	limit := i.config.MemoryLimitBytes()
	go func() {
		ticker := time.NewTicker(memCheckInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				growth := heapAlloc() - baseline
				if growth > peak.Load() {
					peak.Store(growth)
				}
				if limit > 0 && growth > limit {
					i.vm.Interrupt(&interruptReason{
						Kind:   ErrorKindMemoryExceeded,
						Reason: fmt.Sprintf("memory limit exceeded (%d MB)", i.config.MaxMemoryMB),
					})
					return
				}
			case <-done:
				return
			}
		}
	}()

	if i.debugger != nil {
		i.debugger.Log("starting execution", "INFO", nil)
	}

	start := time.Now()
	_, runErr := i.vm.RunString(source)
	duration := time.Since(start)

	close(done)
	cancel()

	i.mu.Lock()
	kill := i.kill
	i.cancel = nil
	i.running = nil
	i.mu.Unlock()
	close(running)

	if growth := heapAlloc() - baseline; growth > peak.Load() {
		peak.Store(growth)
	}
	if peak.Load() > i.peakHeap.Load() {
		i.peakHeap.Store(peak.Load())
	}

	i.vm.ClearInterrupt()

	result.Duration = duration
	result.Stdout = i.stdout.String()
	result.Stderr = i.stderr.String()
	result.MemoryBytes = peak.Load()

	status, kind, errMsg := i.classify(runErr, kill, execCtx)
	result.Status = status
	result.ErrorKind = kind
	result.Error = errMsg

	if status == StatusCompleted {
		result.Value = exportValue(i.vm.Get(resultGlobal))
		if i.debugger != nil {
			i.debugger.Log("execution completed", "INFO", nil)
		}
	} else if i.debugger != nil && errMsg != "" {
		i.debugger.Log("execution failed: "+errMsg, "ERROR", map[string]any{
			"error_kind": string(kind),
		})
	}

	if i.debugger != nil {
		result.DebugInfo = i.debugger.Summary()
	}
	result.CompletedAt = time.Now()

	hostapi.Unregister(i.vm)
	i.snapshotGlobals()

	i.setStatus(status)
	return result, nil
}

// finishExecution clears the in-flight bookkeeping under the state lock.
func (i *Instance) finishExecution() {
	i.mu.Lock()
	i.cancel = nil
	i.running = nil
	i.mu.Unlock()
}

// classify converts an interpreter outcome into the result taxonomy.
func (i *Instance) classify(runErr error, kill *interruptReason, execCtx context.Context) (Status, ErrorKind, string) {
	if runErr == nil {
		// The script may have finished between the deadline firing and the
		// interrupt landing; the deadline still wins.
		if errors.Is(execCtx.Err(), context.DeadlineExceeded) {
			return StatusTimeout, ErrorKindTimeout,
				fmt.Sprintf("execution timeout after %s", i.config.MaxExecutionTime)
		}
		return StatusCompleted, ErrorKindNone, ""
	}

	var interrupted *goja.InterruptedError
	if errors.As(runErr, &interrupted) {
		reason, ok := interrupted.Value().(*interruptReason)
		if !ok && kill != nil {
			reason = kill
		}
		if reason != nil {
			return i.classifyInterrupt(reason)
		}
		return StatusFailed, ErrorKindRuntimeFault, fmt.Sprintf("interrupted: %v", interrupted.Value())
	}

	var syntaxErr *goja.CompilerSyntaxError
	if errors.As(runErr, &syntaxErr) {
		// The validator parses first, so this should be unreachable; fail
		// closed and classify as a validation failure anyway.
		return StatusFailed, ErrorKindValidation, syntaxErr.Error()
	}

	var exception *goja.Exception
	if errors.As(runErr, &exception) {
		return StatusFailed, ErrorKindRuntimeFault, exception.String()
	}

	return StatusFailed, ErrorKindRuntimeFault, runErr.Error()
}

func (i *Instance) classifyInterrupt(reason *interruptReason) (Status, ErrorKind, string) {
	if reason.Monitor {
		if reason.Kind == ErrorKindTimeout {
			return StatusTimeout, ErrorKindMonitorTerminated, reason.Reason
		}
		return StatusFailed, ErrorKindMonitorTerminated, reason.Reason
	}

	switch reason.Kind {
	case ErrorKindTimeout:
		return StatusTimeout, ErrorKindTimeout,
			fmt.Sprintf("execution timeout after %s", i.config.MaxExecutionTime)
	case ErrorKindMemoryExceeded:
		return StatusFailed, ErrorKindMemoryExceeded, reason.Reason
	case ErrorKindCancelled:
		return StatusCancelled, ErrorKindCancelled, reason.Reason
	default:
		return StatusFailed, ErrorKindRuntimeFault, reason.Reason
	}
}

// exportValue converts goja values to Go values.
func exportValue(val goja.Value) any {
	if val == nil || goja.IsUndefined(val) || goja.IsNull(val) {
		return nil
	}
	return val.Export()
}

// heapAlloc samples the current heap allocation.
func heapAlloc() int64 {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return int64(m.HeapAlloc)
}
