// Package manager owns the sandbox instance pool: creation under the
// configured ceiling, execution dispatch, inspection, cleanup and the
// periodic sweep of expired instances.
package manager

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dop251/goja"
	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"scriptbox/internal/config"
	"scriptbox/internal/monitor"
	"scriptbox/internal/sandbox"
	"scriptbox/internal/sandbox/hostapi"
	"scriptbox/internal/sandboxerr"
	"scriptbox/internal/storage"
)

// queryLogLimit caps the query log echoed by Inspect.
const queryLogLimit = 50

// cleanupWait bounds how long Cleanup waits for an interrupted execution to
// stop before releasing its VM slot anyway.
const cleanupWait = 10 * time.Second

// Manager coordinates sandbox instances for all tenants.
type Manager struct {
	cfg      config.ManagerConfig
	defaults sandbox.Config
	logger   zerolog.Logger

	provisioner *sandbox.VMProvisioner
	monitor     *monitor.Monitor
	db          *storage.DB
	cron        *cron.Cron
	history     *historyRing
	metrics     metrics

	mu        sync.RWMutex
	instances map[string]*entry
	closed    bool
}

type entry struct {
	inst *sandbox.Instance
	vm   *goja.Runtime
}

// New creates a manager. db may be nil, in which case instances get no query
// capability.
func New(cfg *config.Config, db *storage.DB, logger zerolog.Logger) *Manager {
	vmCfg := sandbox.DefaultVMConfig()
	if cfg.Manager.MaxInstances > 0 {
		vmCfg.MaxInstances = cfg.Manager.MaxInstances
	}

	return &Manager{
		cfg:         cfg.Manager,
		defaults:    policyFromConfig(cfg.Sandbox),
		logger:      logger.With().Str("component", "manager").Logger(),
		provisioner: sandbox.NewVMProvisioner(vmCfg),
		monitor:     monitor.New(cfg.Monitor, logger),
		db:          db,
		cron:        cron.New(cron.WithSeconds()),
		history:     newHistoryRing(cfg.Manager.HistorySize),
		instances:   make(map[string]*entry),
	}
}

// Start launches the resource monitor and the periodic sweep.
func (m *Manager) Start() error {
	m.monitor.Start()

	interval := m.cfg.GetSweepInterval()
	if _, err := m.cron.AddFunc("@every "+interval.String(), m.Sweep); err != nil {
		return fmt.Errorf("schedule sweep: %w", err)
	}
	m.cron.Start()

	m.logger.Info().
		Int("max_instances", m.provisioner.Stats().MaxInstances).
		Dur("sweep_interval", interval).
		Msg("sandbox manager started")
	return nil
}

// Stop tears everything down: sweep, instances, monitor, VMs. Safe to call
// once after Start.
func (m *Manager) Stop() {
	ctx := m.cron.Stop()
	<-ctx.Done()

	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()

	m.CleanupAll()
	m.monitor.Stop()
	m.provisioner.Close()
	m.logger.Info().Msg("sandbox manager stopped")
}

// Create provisions a new instance for tenantID. A non-nil overrides policy
// may tighten the configured defaults but never loosen them.
func (m *Manager) Create(ctx context.Context, tenantID string, overrides *sandbox.Config) (*sandbox.Instance, error) {
	m.mu.RLock()
	closed := m.closed
	m.mu.RUnlock()
	if closed {
		return nil, fmt.Errorf("manager stopped: %w", sandboxerr.ErrVMUnavailable)
	}

	policy := m.defaults
	if overrides != nil {
		policy = overrides.Clamp(m.defaults)
	}

	vm, err := m.provisioner.Acquire(ctx, policy)
	if err != nil {
		return nil, err
	}

	id := uuid.NewString()
	var db hostapi.Database
	if m.db != nil {
		db = storage.NewCapability(m.db, tenantID, id, m.logger)
	}

	inst := sandbox.NewInstance(id, tenantID, policy, vm, db, m.logger)

	m.mu.Lock()
	m.instances[id] = &entry{inst: inst, vm: vm}
	active := len(m.instances)
	m.mu.Unlock()

	m.monitor.Watch(inst)
	m.metrics.recordCreate()

	m.logger.Info().
		Str("instance", id).
		Str("tenant", tenantID).
		Int("active", active).
		Msg("instance created")
	return inst, nil
}

// Execute runs source on the identified instance and records the result in
// the execution history.
func (m *Manager) Execute(ctx context.Context, instanceID, source string, contextVars map[string]any) (*sandbox.ExecutionResult, error) {
	inst, err := m.Get(instanceID)
	if err != nil {
		return nil, err
	}

	result, err := inst.Execute(ctx, source, contextVars)
	if err != nil {
		return nil, err
	}

	m.history.Record(result)
	m.metrics.recordExecution(result)
	return result, nil
}

// Get returns the identified instance.
func (m *Manager) Get(instanceID string) (*sandbox.Instance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.instances[instanceID]
	if !ok {
		return nil, &sandboxerr.NotFoundError{InstanceID: instanceID}
	}
	return e.inst, nil
}

// Inspect returns a snapshot of the instance including its resource usage.
func (m *Manager) Inspect(instanceID string) (sandbox.InstanceState, error) {
	inst, err := m.Get(instanceID)
	if err != nil {
		return sandbox.InstanceState{}, err
	}

	state := inst.State()
	usage := m.monitor.Usage(inst)
	state.Resources = &usage
	if m.db != nil {
		entries, err := m.db.InstanceAudit(instanceID, queryLogLimit)
		if err != nil {
			m.logger.Warn().Err(err).Str("instance_id", instanceID).Msg("query log lookup failed")
		}
		for _, e := range entries {
			state.QueryLog = append(state.QueryLog, sandbox.QueryRecord{
				Query:    e.Query,
				RowCount: e.RowCount,
				Denied:   e.Denied,
				Error:    e.Error,
				At:       e.CreatedAt,
			})
		}
	}
	return state, nil
}

// List returns snapshots of all live instances.
func (m *Manager) List() []sandbox.InstanceState {
	m.mu.RLock()
	insts := make([]*sandbox.Instance, 0, len(m.instances))
	for _, e := range m.instances {
		insts = append(insts, e.inst)
	}
	m.mu.RUnlock()

	states := make([]sandbox.InstanceState, 0, len(insts))
	for _, inst := range insts {
		states = append(states, inst.State())
	}
	return states
}

// Cancel interrupts the identified instance without removing it.
func (m *Manager) Cancel(instanceID, reason string) error {
	inst, err := m.Get(instanceID)
	if err != nil {
		return err
	}
	inst.Cancel(reason)
	return nil
}

// Cleanup removes an instance, interrupting any in-flight execution. It is
// idempotent: cleaning an unknown or already-removed ID is a no-op.
func (m *Manager) Cleanup(instanceID string) error {
	m.mu.Lock()
	e, ok := m.instances[instanceID]
	if ok {
		delete(m.instances, instanceID)
	}
	m.mu.Unlock()
	if !ok {
		return nil
	}

	// Interrupt first, then wait for the execution to actually stop before
	// the monitor stops watching and the VM slot is released.
	e.inst.Cancel("instance cleanup")
	select {
	case <-e.inst.Done():
	case <-time.After(cleanupWait):
		m.logger.Warn().Str("instance", instanceID).
			Msg("execution did not stop within cleanup wait")
	}
	m.monitor.Unwatch(instanceID)
	m.provisioner.Release(e.vm)
	m.metrics.recordCleanup()

	m.logger.Info().Str("instance", instanceID).Msg("instance cleaned up")
	return nil
}

// CleanupAll removes every live instance.
func (m *Manager) CleanupAll() {
	m.mu.RLock()
	ids := make([]string, 0, len(m.instances))
	for id := range m.instances {
		ids = append(ids, id)
	}
	m.mu.RUnlock()

	for _, id := range ids {
		_ = m.Cleanup(id)
	}
}

// Sweep removes instances past their maximum lifetime and idle instances
// past the idle TTL. Running instances are only removed on lifetime expiry.
func (m *Manager) Sweep() {
	maxLifetime := m.cfg.GetMaxLifetime()
	idleTTL := m.cfg.GetIdleTTL()

	m.mu.RLock()
	expired := make([]string, 0)
	for id, e := range m.instances {
		switch {
		case e.inst.Age() > maxLifetime:
			expired = append(expired, id)
		case !e.inst.Running() && e.inst.Status() != sandbox.StatusCreated &&
			e.inst.IdleFor() > idleTTL:
			expired = append(expired, id)
		}
	}
	m.mu.RUnlock()

	for _, id := range expired {
		_ = m.Cleanup(id)
	}
	if len(expired) > 0 {
		m.logger.Info().Int("count", len(expired)).Msg("swept expired instances")
	}
}

// History returns recent execution results, newest first. An empty
// instanceID matches all instances.
func (m *Manager) History(instanceID string, limit int) []*sandbox.ExecutionResult {
	return m.history.Recent(instanceID, limit)
}

// Metrics returns a snapshot of manager activity.
func (m *Manager) Metrics() Metrics {
	out := m.metrics.snapshot()

	m.mu.RLock()
	out.ActiveInstances = len(m.instances)
	m.mu.RUnlock()

	out.VMs = m.provisioner.Stats()
	return out
}

// Monitor exposes the resource monitor, mainly for status reporting.
func (m *Manager) Monitor() *monitor.Monitor {
	return m.monitor
}
