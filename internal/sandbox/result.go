package sandbox

import "time"

// ExecutionResult is the structured, terminal outcome of one execute call.
// It is immutable after creation.
type ExecutionResult struct {
	ExecutionID string    `json:"execution_id"`
	InstanceID  string    `json:"instance_id"`
	TenantID    string    `json:"tenant_id"`
	Status      Status    `json:"status"`
	Value       any       `json:"result,omitempty"`
	Stdout      string    `json:"stdout"`
	Stderr      string    `json:"stderr"`
	Error       string    `json:"error,omitempty"`
	ErrorKind   ErrorKind `json:"error_kind,omitempty"`
	// Duration is measured from a monotonic clock taken when the resource
	// ceilings are installed. Zero for executions rejected by validation.
	Duration    time.Duration `json:"duration"`
	MemoryBytes int64         `json:"memory_bytes,omitempty"`
	DebugInfo   *DebugSummary `json:"debug_info,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
	CompletedAt time.Time     `json:"completed_at"`
}

// Succeeded reports whether the execution completed normally.
func (r *ExecutionResult) Succeeded() bool {
	return r.Status == StatusCompleted
}

// InstanceState is the inspectable state of a live sandbox instance.
type InstanceState struct {
	InstanceID string         `json:"instance_id"`
	TenantID   string         `json:"tenant_id"`
	Status     Status         `json:"status"`
	CreatedAt  time.Time      `json:"created_at"`
	Age        time.Duration  `json:"age"`
	Globals    []string       `json:"globals"`
	Config     Config         `json:"config"`
	DebugInfo  *DebugSummary  `json:"debug_info,omitempty"`
	Resources  *ResourceUsage `json:"resource_usage,omitempty"`
	QueryLog   []QueryRecord  `json:"query_log,omitempty"`
}

// QueryRecord is one database query attempt made from inside the instance.
type QueryRecord struct {
	Query    string    `json:"query"`
	RowCount int       `json:"row_count"`
	Denied   bool      `json:"denied"`
	Error    string    `json:"error,omitempty"`
	At       time.Time `json:"at"`
}

// ResourceUsage is a point-in-time view of an instance's resource consumption.
type ResourceUsage struct {
	MemoryBytes int64     `json:"memory_bytes"`
	CPUPercent  float64   `json:"cpu_percent"`
	Goroutines  int       `json:"goroutines"`
	OpenHandles int       `json:"open_handles"`
	SampledAt   time.Time `json:"sampled_at"`
}
