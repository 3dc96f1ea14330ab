package sandbox

import (
	"context"
	"errors"
	"testing"
	"time"

	"scriptbox/internal/sandboxerr"
)

func TestVMProvisionerAcquireRelease(t *testing.T) {
	p := NewVMProvisioner(VMConfig{MaxInstances: 2, WarmCount: 1, AcquireTimeout: time.Second})
	defer p.Close()

	vm, err := p.Acquire(context.Background(), DefaultConfig())
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	if vm == nil {
		t.Fatal("expected a VM")
	}

	stats := p.Stats()
	if stats.Active != 1 {
		t.Errorf("expected 1 active VM, got %d", stats.Active)
	}

	p.Release(vm)
	if p.Stats().Active != 0 {
		t.Errorf("expected 0 active VMs after release, got %d", p.Stats().Active)
	}
}

func TestVMProvisionerBoundsInstances(t *testing.T) {
	p := NewVMProvisioner(VMConfig{MaxInstances: 1, WarmCount: 0, AcquireTimeout: 100 * time.Millisecond})
	defer p.Close()

	vm, err := p.Acquire(context.Background(), DefaultConfig())
	if err != nil {
		t.Fatalf("first Acquire failed: %v", err)
	}

	_, err = p.Acquire(context.Background(), DefaultConfig())
	if !errors.Is(err, sandboxerr.ErrVMUnavailable) {
		t.Errorf("expected ErrVMUnavailable at the cap, got %v", err)
	}

	p.Release(vm)
	vm2, err := p.Acquire(context.Background(), DefaultConfig())
	if err != nil {
		t.Fatalf("Acquire after release failed: %v", err)
	}
	p.Release(vm2)
}

func TestVMProvisionerClosed(t *testing.T) {
	p := NewVMProvisioner(DefaultVMConfig())
	if err := p.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	_, err := p.Acquire(context.Background(), DefaultConfig())
	if !errors.Is(err, sandboxerr.ErrVMUnavailable) {
		t.Errorf("expected ErrVMUnavailable after close, got %v", err)
	}
}

func TestHardenedVMRemovesDynamicEval(t *testing.T) {
	vm := newHardenedVM()

	v, err := vm.RunString(`typeof eval + "/" + typeof Function`)
	if err != nil {
		t.Fatalf("RunString failed: %v", err)
	}
	if v.String() != "undefined/undefined" {
		t.Errorf("expected eval and Function to be removed, got %s", v.String())
	}
}
