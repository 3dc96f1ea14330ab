package sandbox

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dop251/goja"

	"scriptbox/internal/sandboxerr"
)

// VMConfig holds configuration for the VM provisioner.
type VMConfig struct {
	// MaxInstances bounds the number of live VMs across all tenants.
	MaxInstances int
	// WarmCount is how many hardened VMs are kept pre-built.
	WarmCount int
	// AcquireTimeout is the maximum time to wait for a free slot.
	AcquireTimeout time.Duration
}

// DefaultVMConfig returns a VMConfig with sensible defaults.
func DefaultVMConfig() VMConfig {
	return VMConfig{
		MaxInstances:   64,
		WarmCount:      4,
		AcquireTimeout: 5 * time.Second,
	}
}

// VMProvisioner hands out hardened goja runtimes and bounds how many exist
// at once. A VM that has run tenant code is tainted: it is discarded on
// release, never returned to another tenant. The warm set therefore only
// holds fresh, never-used VMs.
type VMProvisioner struct {
	cfg   VMConfig
	warm  chan *goja.Runtime
	slots chan struct{}

	created atomic.Int64
	active  atomic.Int64

	mu       sync.Mutex
	closed   bool
	closedCh chan struct{}
}

// NewVMProvisioner creates a provisioner and pre-builds the warm set.
func NewVMProvisioner(cfg VMConfig) *VMProvisioner {
	if cfg.MaxInstances <= 0 {
		cfg.MaxInstances = 64
	}
	if cfg.WarmCount < 0 {
		cfg.WarmCount = 0
	}
	if cfg.WarmCount > cfg.MaxInstances {
		cfg.WarmCount = cfg.MaxInstances
	}
	if cfg.AcquireTimeout <= 0 {
		cfg.AcquireTimeout = 5 * time.Second
	}

	p := &VMProvisioner{
		cfg:      cfg,
		warm:     make(chan *goja.Runtime, cfg.WarmCount),
		slots:    make(chan struct{}, cfg.MaxInstances),
		closedCh: make(chan struct{}),
	}
	for i := 0; i < cfg.WarmCount; i++ {
		p.warm <- newHardenedVM()
	}
	return p
}

// Acquire returns a hardened VM configured for the given policy, blocking
// until a slot frees up or the context (or the acquire timeout) expires.
func (p *VMProvisioner) Acquire(ctx context.Context, policy Config) (*goja.Runtime, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, sandboxerr.ErrVMUnavailable
	}
	p.mu.Unlock()

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, p.cfg.AcquireTimeout)
	defer cancel()

	select {
	case p.slots <- struct{}{}:
	case <-ctx.Done():
		return nil, sandboxerr.ErrVMUnavailable
	case <-p.closedCh:
		return nil, sandboxerr.ErrVMUnavailable
	}

	var vm *goja.Runtime
	select {
	case vm = <-p.warm:
	default:
		vm = newHardenedVM()
	}

	if policy.MaxCallStackSize > 0 {
		vm.SetMaxCallStackSize(policy.MaxCallStackSize)
	}

	p.created.Add(1)
	p.active.Add(1)
	return vm, nil
}

// Release discards a tainted VM, frees its slot and replenishes the warm set.
// Any pending interrupt on the VM is left in place so an in-flight execution
// still observes it; the runtime is never reused.
func (p *VMProvisioner) Release(vm *goja.Runtime) {
	if vm == nil {
		return
	}
	p.active.Add(-1)

	select {
	case <-p.slots:
	default:
	}

	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return
	}

	select {
	case p.warm <- newHardenedVM():
	default:
	}
}

// Close shuts down the provisioner. Held VMs keep working until released.
func (p *VMProvisioner) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.closedCh)
	p.mu.Unlock()

	for {
		select {
		case <-p.warm:
		default:
			return nil
		}
	}
}

// Stats returns current provisioner statistics.
func (p *VMProvisioner) Stats() VMStats {
	return VMStats{
		MaxInstances: p.cfg.MaxInstances,
		Created:      p.created.Load(),
		Active:       p.active.Load(),
		Warm:         len(p.warm),
	}
}

// VMStats contains provisioner statistics.
type VMStats struct {
	MaxInstances int
	Created      int64
	Active       int64
	Warm         int
}

// newHardenedVM builds a fresh runtime with the dangerous surface removed.
// Dynamic evaluation primitives are unset so they cannot be reached even if
// the static validator were bypassed; the rest of the restriction is by
// construction, since only hostapi-registered names exist.
func newHardenedVM() *goja.Runtime {
	vm := goja.New()
	vm.SetFieldNameMapper(goja.TagFieldNameMapper("json", true))
	_ = vm.GlobalObject().Delete("eval")
	_ = vm.GlobalObject().Delete("Function")
	_ = vm.Set("eval", goja.Undefined())
	_ = vm.Set("Function", goja.Undefined())
	return vm
}
