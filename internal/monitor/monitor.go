// Package monitor enforces resource ceilings on running sandbox instances
// from outside the interpreter. It samples on a fixed interval, terminates
// instances that breach their memory or wall-clock limits, and escalates
// when a graceful interrupt is not observed within the grace period.
package monitor

import (
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"scriptbox/internal/config"
	"scriptbox/internal/sandbox"
)

// Target is the slice of a sandbox instance the monitor needs. It is
// satisfied by *sandbox.Instance.
type Target interface {
	ID() string
	TenantID() string
	Running() bool
	LastUsedAt() time.Time
	PeakMemory() int64
	MemoryLimitBytes() int64
	Config() sandbox.Config
	Kill(kind sandbox.ErrorKind, reason string, fromMonitor bool)
	Done() <-chan struct{}
}

// ProcessSample is one point-in-time view of process-wide resources.
type ProcessSample struct {
	HeapBytes   int64     `json:"heap_bytes"`
	Goroutines  int       `json:"goroutines"`
	OpenHandles int       `json:"open_handles"`
	CPUTime     float64   `json:"cpu_time_seconds"`
	SampledAt   time.Time `json:"sampled_at"`
}

// Monitor watches registered targets on a fixed interval.
type Monitor struct {
	cfg    config.MonitorConfig
	logger zerolog.Logger

	mu         sync.Mutex
	targets    map[string]*watched
	last       ProcessSample
	cpuPercent float64
	prevCPU    float64
	prevAt     time.Time

	stop chan struct{}
	wg   sync.WaitGroup
	once sync.Once
}

type watched struct {
	target  Target
	killing bool
}

// New creates a monitor; call Start to begin sampling.
func New(cfg config.MonitorConfig, logger zerolog.Logger) *Monitor {
	return &Monitor{
		cfg:     cfg,
		logger:  logger.With().Str("component", "monitor").Logger(),
		targets: make(map[string]*watched),
		stop:    make(chan struct{}),
	}
}

// Start launches the sampling loop.
func (m *Monitor) Start() {
	m.wg.Add(1)
	go m.loop()
	m.logger.Info().Dur("interval", m.cfg.GetInterval()).Msg("resource monitor started")
}

// Stop halts the sampling loop and waits for it to exit.
func (m *Monitor) Stop() {
	m.once.Do(func() { close(m.stop) })
	m.wg.Wait()
}

// Watch registers a target for enforcement.
func (m *Monitor) Watch(t Target) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.targets[t.ID()] = &watched{target: t}
}

// Unwatch removes a target. Unknown IDs are ignored.
func (m *Monitor) Unwatch(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.targets, id)
}

// Watched returns the number of registered targets.
func (m *Monitor) Watched() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.targets)
}

// Snapshot returns the most recent process-wide sample.
func (m *Monitor) Snapshot() ProcessSample {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last
}

// Usage reports the current resource view of one target. Memory is the
// target's own peak heap growth; CPU, goroutines and handles are
// process-wide.
func (m *Monitor) Usage(t Target) sandbox.ResourceUsage {
	m.mu.Lock()
	s, percent := m.last, m.cpuPercent
	m.mu.Unlock()
	return sandbox.ResourceUsage{
		MemoryBytes: t.PeakMemory(),
		CPUPercent:  percent,
		Goroutines:  s.Goroutines,
		OpenHandles: s.OpenHandles,
		SampledAt:   s.SampledAt,
	}
}

func (m *Monitor) loop() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.cfg.GetInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.check()
		case <-m.stop:
			return
		}
	}
}

func (m *Monitor) check() {
	sample := ProcessSample{
		HeapBytes:   heapBytes(),
		Goroutines:  runtime.NumGoroutine(),
		OpenHandles: openHandles(),
		CPUTime:     cpuSeconds(),
		SampledAt:   time.Now(),
	}

	m.mu.Lock()
	percent := cpuPercent(sample, m.prevCPU, m.prevAt)
	m.last = sample
	m.cpuPercent = percent
	m.prevCPU, m.prevAt = sample.CPUTime, sample.SampledAt

	running := make([]*watched, 0, len(m.targets))
	for _, w := range m.targets {
		if w.target.Running() {
			running = append(running, w)
		}
	}
	m.mu.Unlock()

	m.checkProcessCeilings(sample, percent)

	for _, w := range running {
		m.checkTarget(w)
	}
}

// checkProcessCeilings logs process-wide breaches. Goroutine and handle
// ceilings have no per-target attribution, so they warn instead of killing.
// The CPU ceiling is a soft limit.
func (m *Monitor) checkProcessCeilings(s ProcessSample, percent float64) {
	if max := m.cfg.MaxGoroutines; max > 0 && s.Goroutines > max {
		m.logger.Warn().
			Int("goroutines", s.Goroutines).
			Int("limit", max).
			Msg("goroutine ceiling exceeded")
	}

	if max := m.cfg.MaxHandles; max > 0 && s.OpenHandles > max {
		m.logger.Warn().
			Int("open_handles", s.OpenHandles).
			Int("limit", max).
			Msg("open handle ceiling exceeded")
	}

	if limit := m.cfg.CPUSoftLimit; limit > 0 && percent > limit {
		m.logger.Warn().
			Float64("cpu_percent", percent).
			Float64("limit", limit).
			Msg("cpu soft limit exceeded")
	}
}

// cpuPercent derives process CPU use from the delta against the previous
// sample. Returns 0 when no prior sample exists or the platform reports no
// CPU time.
func cpuPercent(s ProcessSample, prevCPU float64, prevAt time.Time) float64 {
	if prevAt.IsZero() || s.CPUTime < 0 || prevCPU < 0 {
		return 0
	}
	elapsed := s.SampledAt.Sub(prevAt).Seconds()
	if elapsed <= 0 {
		return 0
	}
	return (s.CPUTime - prevCPU) / elapsed * 100
}

func (m *Monitor) checkTarget(w *watched) {
	t := w.target
	cfg := t.Config()

	if limit := t.MemoryLimitBytes(); limit > 0 && t.PeakMemory() > limit {
		m.terminate(w, sandbox.ErrorKindMemoryExceeded,
			fmt.Sprintf("memory limit exceeded (%d MB)", cfg.MaxMemoryMB))
		return
	}

	// Backstop for the engine's own deadline: if an execution overstays its
	// wall-clock budget by more than the grace period, the in-VM interrupt
	// did not land and the monitor steps in.
	deadline := cfg.MaxExecutionTime + m.cfg.GetGracePeriod()
	if overdue := time.Since(t.LastUsedAt()); overdue > deadline {
		m.terminate(w, sandbox.ErrorKindTimeout,
			fmt.Sprintf("execution overdue by %s", (overdue - cfg.MaxExecutionTime).Round(time.Millisecond)))
	}
}

// terminate kills a target and escalates if the interrupt is not observed
// within the grace period. Repeat breaches of an already-killing target are
// ignored.
func (m *Monitor) terminate(w *watched, kind sandbox.ErrorKind, reason string) {
	m.mu.Lock()
	if w.killing {
		m.mu.Unlock()
		return
	}
	w.killing = true
	m.mu.Unlock()

	t := w.target
	m.logger.Warn().
		Str("instance", t.ID()).
		Str("tenant", t.TenantID()).
		Str("reason", reason).
		Msg("terminating instance")

	t.Kill(kind, reason, true)

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer func() {
			m.mu.Lock()
			w.killing = false
			m.mu.Unlock()
		}()

		select {
		case <-t.Done():
		case <-time.After(m.cfg.GetGracePeriod()):
			m.logger.Error().
				Str("instance", t.ID()).
				Msg("instance did not stop within grace period, escalating")
			t.Kill(kind, reason+" (forced)", true)
		case <-m.stop:
		}
	}()
}

func heapBytes() int64 {
	var s runtime.MemStats
	runtime.ReadMemStats(&s)
	return int64(s.HeapAlloc)
}
