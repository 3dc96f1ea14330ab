package manager

import (
	"sync"
	"time"

	"scriptbox/internal/sandbox"
)

// Metrics is a point-in-time view of manager activity.
type Metrics struct {
	ActiveInstances   int           `json:"active_instances"`
	InstancesCreated  uint64        `json:"instances_created"`
	InstancesCleaned  uint64        `json:"instances_cleaned"`
	TotalExecutions   uint64        `json:"total_executions"`
	Succeeded         uint64        `json:"succeeded"`
	Failed            uint64        `json:"failed"`
	TimedOut          uint64        `json:"timed_out"`
	Cancelled         uint64        `json:"cancelled"`
	AvgExecutionTime  time.Duration `json:"avg_execution_time"`
	PeakMemoryBytes   int64         `json:"peak_memory_bytes"`
	VMs               sandbox.VMStats `json:"vms"`
}

type metrics struct {
	mu            sync.Mutex
	created       uint64
	cleaned       uint64
	executions    uint64
	succeeded     uint64
	failed        uint64
	timedOut      uint64
	cancelled     uint64
	totalExecTime time.Duration
	peakMemory    int64
}

func (m *metrics) recordCreate() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.created++
}

func (m *metrics) recordCleanup() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cleaned++
}

func (m *metrics) recordExecution(result *sandbox.ExecutionResult) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.executions++
	m.totalExecTime += result.Duration
	if result.MemoryBytes > m.peakMemory {
		m.peakMemory = result.MemoryBytes
	}

	switch result.Status {
	case sandbox.StatusCompleted:
		m.succeeded++
	case sandbox.StatusTimeout:
		m.timedOut++
	case sandbox.StatusCancelled:
		m.cancelled++
	default:
		m.failed++
	}
}

func (m *metrics) snapshot() Metrics {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := Metrics{
		InstancesCreated: m.created,
		InstancesCleaned: m.cleaned,
		TotalExecutions:  m.executions,
		Succeeded:        m.succeeded,
		Failed:           m.failed,
		TimedOut:         m.timedOut,
		Cancelled:        m.cancelled,
		PeakMemoryBytes:  m.peakMemory,
	}
	if m.executions > 0 {
		out.AvgExecutionTime = m.totalExecTime / time.Duration(m.executions)
	}
	return out
}
