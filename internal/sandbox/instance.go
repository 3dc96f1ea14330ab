package sandbox

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dop251/goja"
	"github.com/rs/zerolog"

	"scriptbox/internal/sandbox/hostapi"
)

// Instance is one isolated, policy-bound execution context. It owns a
// dedicated hardened VM for its lifetime, so globals persist across
// sequential executions. The instance is mutated only by the engine during
// Execute and by Kill/Cancel from the monitor or the manager.
type Instance struct {
	id       string
	tenantID string
	config   Config
	logger   zerolog.Logger

	vm        *goja.Runtime
	validator *Validator
	debugger  *Debugger
	db        hostapi.Database
	stdout    *hostapi.CappedBuffer
	stderr    *hostapi.CappedBuffer

	createdAt time.Time
	peakHeap  atomic.Int64

	mu       sync.Mutex
	status   Status
	cancel   context.CancelFunc
	kill     *interruptReason
	running  chan struct{}
	lastUsed time.Time
	globals  []string

	// execMu serializes Execute calls on this instance.
	execMu sync.Mutex
}

// interruptReason is the value handed to goja's interrupt mechanism so the
// engine can classify why an execution was cut short.
type interruptReason struct {
	Kind    ErrorKind
	Reason  string
	Monitor bool
}

// NewInstance creates an instance bound to the given policy and VM. The db
// capability may be nil; debugging is controlled by the policy.
func NewInstance(id, tenantID string, cfg Config, vm *goja.Runtime, db hostapi.Database, logger zerolog.Logger) *Instance {
	inst := &Instance{
		id:        id,
		tenantID:  tenantID,
		config:    cfg,
		logger:    logger.With().Str("instance", id).Logger(),
		vm:        vm,
		validator: NewValidator(cfg),
		db:        db,
		stdout:    hostapi.NewCappedBuffer(cfg.MaxOutputBytes),
		stderr:    hostapi.NewCappedBuffer(cfg.MaxOutputBytes),
		createdAt: time.Now(),
		status:    StatusCreated,
		lastUsed:  time.Now(),
	}
	if cfg.EnableDebugging {
		inst.debugger = NewDebugger(inst.logger)
	}
	return inst
}

// ID returns the instance identifier.
func (i *Instance) ID() string { return i.id }

// TenantID returns the owning tenant.
func (i *Instance) TenantID() string { return i.tenantID }

// Config returns the instance's immutable policy.
func (i *Instance) Config() Config { return i.config }

// CreatedAt returns the creation timestamp.
func (i *Instance) CreatedAt() time.Time { return i.createdAt }

// Age returns the time elapsed since creation.
func (i *Instance) Age() time.Duration { return time.Since(i.createdAt) }

// Status returns the current lifecycle state.
func (i *Instance) Status() Status {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.status
}

// LastUsedAt returns when the instance last started an execution.
func (i *Instance) LastUsedAt() time.Time {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.lastUsed
}

// IdleFor returns how long the instance has been idle since its last
// execution started.
func (i *Instance) IdleFor() time.Duration {
	return time.Since(i.LastUsedAt())
}

// Debugger returns the instance's debugger, or nil when disabled.
func (i *Instance) Debugger() *Debugger { return i.debugger }

// PeakMemory returns the largest heap growth observed during executions.
func (i *Instance) PeakMemory() int64 { return i.peakHeap.Load() }

// MemoryLimitBytes returns the instance's memory ceiling in bytes.
func (i *Instance) MemoryLimitBytes() int64 { return i.config.MemoryLimitBytes() }

// Running reports whether an execution is currently in flight.
func (i *Instance) Running() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.status == StatusRunning
}

// Done returns a channel closed when the in-flight execution finishes.
// If nothing is running, the returned channel is already closed.
func (i *Instance) Done() <-chan struct{} {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.running != nil {
		return i.running
	}
	closed := make(chan struct{})
	close(closed)
	return closed
}

// Kill interrupts the in-flight execution with the given classification.
// It is safe to call from any goroutine and does not rely on the executing
// code's cooperation: the VM interrupt fires mid-script, and the context
// cancellation unblocks any host call in progress.
func (i *Instance) Kill(kind ErrorKind, reason string, fromMonitor bool) {
	i.mu.Lock()
	i.kill = &interruptReason{Kind: kind, Reason: reason, Monitor: fromMonitor}
	cancel := i.cancel
	i.mu.Unlock()

	i.vm.Interrupt(&interruptReason{Kind: kind, Reason: reason, Monitor: fromMonitor})
	if cancel != nil {
		cancel()
	}
}

// Cancel transitions the instance to CANCELLED, interrupting any in-flight
// execution. CANCELLED is reachable from CREATED or RUNNING and is final.
func (i *Instance) Cancel(reason string) {
	i.Kill(ErrorKindCancelled, reason, false)

	i.mu.Lock()
	defer i.mu.Unlock()
	if i.status == StatusCreated || i.status == StatusRunning {
		i.status = StatusCancelled
	}
}

// State returns an inspectable snapshot of the instance. The globals list is
// the snapshot taken at the end of the most recent execution; the VM itself
// is single-threaded and never touched here.
func (i *Instance) State() InstanceState {
	state := InstanceState{
		InstanceID: i.id,
		TenantID:   i.tenantID,
		Status:     i.Status(),
		CreatedAt:  i.createdAt,
		Age:        i.Age(),
		Config:     i.config,
	}
	if i.debugger != nil {
		s := i.debugger.Summary()
		s.Variables = i.debugger.Variables()
		state.DebugInfo = s
	}
	i.mu.Lock()
	state.Globals = append([]string(nil), i.globals...)
	i.mu.Unlock()
	return state
}

// snapshotGlobals records the VM's global names. Called by the engine while
// it still owns the VM, after the capability surface is unregistered.
func (i *Instance) snapshotGlobals() {
	keys := i.vm.GlobalObject().Keys()
	i.mu.Lock()
	i.globals = keys
	i.mu.Unlock()
}

// setStatus moves the state machine forward. Transitions are monotonic:
// a terminal state is never replaced by RUNNING except through Execute's
// reusability check, and CANCELLED is never left.
func (i *Instance) setStatus(s Status) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.status == StatusCancelled {
		return
	}
	i.status = s
}
