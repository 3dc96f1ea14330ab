package sandbox

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"scriptbox/internal/sandboxerr"
)

func newTestInstance(t *testing.T, cfg Config) *Instance {
	t.Helper()
	return NewInstance("inst-test", "tenant-test", cfg, newHardenedVM(), nil, zerolog.Nop())
}

func TestExecuteSimpleResult(t *testing.T) {
	inst := newTestInstance(t, DefaultConfig())

	result, err := inst.Execute(context.Background(), `__result__ = 1 + 2;`, nil)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	if result.Status != StatusCompleted {
		t.Errorf("expected status completed, got %s", result.Status)
	}
	if result.ErrorKind != ErrorKindNone {
		t.Errorf("expected no error kind, got %s", result.ErrorKind)
	}
	if v, ok := result.Value.(int64); !ok || v != 3 {
		t.Errorf("expected result 3, got %v (%T)", result.Value, result.Value)
	}
	if result.ExecutionID == "" {
		t.Error("expected execution ID to be set")
	}
	if inst.Status() != StatusCompleted {
		t.Errorf("expected instance status completed, got %s", inst.Status())
	}
}

func TestExecuteGlobalsPersistAcrossExecutions(t *testing.T) {
	inst := newTestInstance(t, DefaultConfig())

	if _, err := inst.Execute(context.Background(), `counter = 41;`, nil); err != nil {
		t.Fatalf("first execute failed: %v", err)
	}

	result, err := inst.Execute(context.Background(), `__result__ = counter + 1;`, nil)
	if err != nil {
		t.Fatalf("second execute failed: %v", err)
	}
	if v, ok := result.Value.(int64); !ok || v != 42 {
		t.Errorf("expected persisted counter to yield 42, got %v", result.Value)
	}
}

func TestExecuteContextVariables(t *testing.T) {
	inst := newTestInstance(t, DefaultConfig())

	result, err := inst.Execute(context.Background(), `__result__ = x * 2;`, map[string]any{"x": 21})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if v, ok := result.Value.(int64); !ok || v != 42 {
		t.Errorf("expected context variable to be bound, got %v", result.Value)
	}
}

func TestExecuteValidationFailure(t *testing.T) {
	inst := newTestInstance(t, DefaultConfig())

	result, err := inst.Execute(context.Background(), `require("fs");`, nil)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	if result.Status != StatusFailed {
		t.Errorf("expected status failed, got %s", result.Status)
	}
	if result.ErrorKind != ErrorKindValidation {
		t.Errorf("expected validation error kind, got %s", result.ErrorKind)
	}
	if result.Duration != 0 {
		t.Errorf("rejected submission must report zero duration, got %s", result.Duration)
	}
}

func TestExecuteTimeout(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxExecutionTime = 100 * time.Millisecond
	inst := newTestInstance(t, cfg)

	result, err := inst.Execute(context.Background(), `while (true) {}`, nil)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	if result.Status != StatusTimeout {
		t.Errorf("expected status timeout, got %s", result.Status)
	}
	if result.ErrorKind != ErrorKindTimeout {
		t.Errorf("expected timeout error kind, got %s", result.ErrorKind)
	}
	if result.Duration < 100*time.Millisecond {
		t.Errorf("expected at least the deadline to elapse, got %s", result.Duration)
	}
}

func TestExecuteRuntimeFault(t *testing.T) {
	inst := newTestInstance(t, DefaultConfig())

	result, err := inst.Execute(context.Background(), `throw new Error("boom");`, nil)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	if result.Status != StatusFailed {
		t.Errorf("expected status failed, got %s", result.Status)
	}
	if result.ErrorKind != ErrorKindRuntimeFault {
		t.Errorf("expected runtime fault kind, got %s", result.ErrorKind)
	}
	if !strings.Contains(result.Error, "boom") {
		t.Errorf("expected error message to carry the thrown message, got %q", result.Error)
	}
}

func TestExecuteFaultThenRecover(t *testing.T) {
	inst := newTestInstance(t, DefaultConfig())

	if _, err := inst.Execute(context.Background(), `throw new Error("first");`, nil); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	result, err := inst.Execute(context.Background(), `__result__ = "ok";`, nil)
	if err != nil {
		t.Fatalf("expected failed instance to be reusable: %v", err)
	}
	if result.Status != StatusCompleted {
		t.Errorf("expected completed after recovery, got %s", result.Status)
	}
}

func TestExecuteCapturesStdout(t *testing.T) {
	inst := newTestInstance(t, DefaultConfig())

	result, err := inst.Execute(context.Background(), `print("hello", "world");`, nil)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if result.Stdout != "hello world\n" {
		t.Errorf("expected printed output, got %q", result.Stdout)
	}
}

func TestExecuteOutputCapped(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxOutputBytes = 64
	inst := newTestInstance(t, cfg)

	result, err := inst.Execute(context.Background(), `
		for (var i = 0; i < 100; i++) {
			print("xxxxxxxxxxxxxxxx");
		}
		__result__ = "done";
	`, nil)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	if result.Status != StatusCompleted {
		t.Errorf("output overflow must not fail the execution, got %s", result.Status)
	}
	if len(result.Stdout) > 64 {
		t.Errorf("stdout exceeds the cap: %d bytes", len(result.Stdout))
	}
}

func TestExecuteEvalUnavailable(t *testing.T) {
	inst := newTestInstance(t, DefaultConfig())

	result, err := inst.Execute(context.Background(), `__result__ = typeof eval;`, nil)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if result.Value != "undefined" {
		t.Errorf("expected eval to be unavailable, got %v", result.Value)
	}
}

func TestExecuteDebuggerSurface(t *testing.T) {
	inst := newTestInstance(t, DefaultConfig())

	result, err := inst.Execute(context.Background(), `
		debug("checkpoint reached", "INFO");
		inspect_var("answer", 42);
		__result__ = get_debug_info().total_events;
	`, nil)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	if result.Status != StatusCompleted {
		t.Fatalf("expected completed, got %s: %s", result.Status, result.Error)
	}
	if result.DebugInfo == nil {
		t.Fatal("expected debug info on the result")
	}
	if result.DebugInfo.TotalEvents == 0 {
		t.Error("expected recorded debug events")
	}

	history := inst.Debugger().History("answer")
	if len(history) != 1 {
		t.Fatalf("expected one snapshot of answer, got %d", len(history))
	}
}

func TestExecuteDebuggingDisabled(t *testing.T) {
	cfg := DefaultConfig()
	cfg.EnableDebugging = false
	inst := newTestInstance(t, cfg)

	result, err := inst.Execute(context.Background(), `__result__ = typeof debug;`, nil)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if result.Value != "undefined" {
		t.Errorf("expected debug surface to be absent, got %v", result.Value)
	}
	if result.DebugInfo != nil {
		t.Error("expected no debug info when debugging is disabled")
	}
}

func TestCancelDuringExecution(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxExecutionTime = 5 * time.Second
	inst := newTestInstance(t, cfg)

	go func() {
		time.Sleep(50 * time.Millisecond)
		inst.Cancel("operator cancel")
	}()

	result, err := inst.Execute(context.Background(), `while (true) {}`, nil)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	if result.Status != StatusCancelled {
		t.Errorf("expected status cancelled, got %s", result.Status)
	}
	if result.ErrorKind != ErrorKindCancelled {
		t.Errorf("expected cancelled error kind, got %s", result.ErrorKind)
	}
	if inst.Status() != StatusCancelled {
		t.Errorf("expected instance to stay cancelled, got %s", inst.Status())
	}

	_, err = inst.Execute(context.Background(), `__result__ = 1;`, nil)
	if !errors.Is(err, sandboxerr.ErrInstanceBusy) {
		t.Errorf("expected cancelled instance to refuse execution, got %v", err)
	}
}

func TestMonitorKillClassification(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxExecutionTime = 5 * time.Second
	inst := newTestInstance(t, cfg)

	go func() {
		time.Sleep(50 * time.Millisecond)
		inst.Kill(ErrorKindMemoryExceeded, "memory limit exceeded (256 MB)", true)
	}()

	result, err := inst.Execute(context.Background(), `while (true) {}`, nil)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	if result.Status != StatusFailed {
		t.Errorf("expected status failed, got %s", result.Status)
	}
	if result.ErrorKind != ErrorKindMonitorTerminated {
		t.Errorf("expected monitor_terminated kind, got %s", result.ErrorKind)
	}
}

func TestStateSnapshot(t *testing.T) {
	inst := newTestInstance(t, DefaultConfig())

	if _, err := inst.Execute(context.Background(), `counter = 7; name = "demo";`, nil); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	state := inst.State()
	if state.InstanceID != inst.ID() {
		t.Errorf("expected instance id %s, got %s", inst.ID(), state.InstanceID)
	}
	if state.Status != StatusCompleted {
		t.Errorf("expected completed, got %s", state.Status)
	}

	found := false
	for _, name := range state.Globals {
		if name == "counter" {
			found = true
			break
		}
	}
	if !found {
		t.Errorf("expected counter among globals, got %v", state.Globals)
	}
}

func TestStateConcurrentWithExecute(t *testing.T) {
	inst := newTestInstance(t, DefaultConfig())

	stop := make(chan struct{})
	go func() {
		for {
			select {
			case <-stop:
				return
			default:
				inst.State()
			}
		}
	}()

	result, err := inst.Execute(context.Background(), `
		spin = 0;
		var end = Date.now() + 200;
		while (Date.now() < end) { spin++; }
		__result__ = spin;
	`, nil)
	close(stop)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if result.Status != StatusCompleted {
		t.Errorf("expected completed, got %s (%s)", result.Status, result.Error)
	}

	found := false
	for _, name := range inst.State().Globals {
		if name == "spin" {
			found = true
			break
		}
	}
	if !found {
		t.Error("expected spin among globals after execution")
	}
}

func TestExecuteMemoryExceeded(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxMemoryMB = 32
	cfg.MaxExecutionTime = 30 * time.Second
	inst := newTestInstance(t, cfg)

	result, err := inst.Execute(context.Background(), `
		var hog = [];
		while (true) { hog.push(new Array(65536).fill(1)); }
	`, nil)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	if result.Status != StatusFailed {
		t.Errorf("expected status failed, got %s", result.Status)
	}
	if result.ErrorKind != ErrorKindMemoryExceeded {
		t.Errorf("expected memory error kind, got %s", result.ErrorKind)
	}
	if !strings.Contains(result.Error, "memory limit exceeded") {
		t.Errorf("expected memory limit message, got %q", result.Error)
	}
	if inst.Status() != StatusFailed {
		t.Errorf("expected instance status failed, got %s", inst.Status())
	}
}
