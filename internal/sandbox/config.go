package sandbox

import "time"

// Config is the execution policy bound to a sandbox instance. It combines
// resource limits with the security policy (module and callable restrictions).
// A Config is copied at instance creation and never mutated afterwards.
type Config struct {
	// MaxExecutionTime is the wall-clock ceiling for a single execution.
	MaxExecutionTime time.Duration
	// MaxMemoryMB is the heap growth ceiling for a single execution.
	MaxMemoryMB int
	// MaxOutputBytes caps captured stdout and stderr, each.
	MaxOutputBytes int
	// MaxSourceLength is the maximum accepted source length in bytes.
	MaxSourceLength int
	// MaxCallStackSize bounds interpreter call-stack depth.
	MaxCallStackSize int

	// AllowedModules, when non-empty, is an allow-list: any module reference
	// outside it is rejected. BlockedModules is always enforced.
	AllowedModules   []string
	BlockedModules   []string
	BlockedCallables []string

	EnableDebugging     bool
	EnableFileAccess    bool
	EnableNetworkAccess bool
}

// DefaultConfig returns the default execution policy.
func DefaultConfig() Config {
	return Config{
		MaxExecutionTime: 30 * time.Second,
		MaxMemoryMB:      256,
		MaxOutputBytes:   1024 * 1024,
		MaxSourceLength:  10000,
		MaxCallStackSize: 500,
		AllowedModules:   nil,
		BlockedModules: []string{
			"fs", "net", "http", "https", "os", "child_process", "cluster",
			"dgram", "dns", "tls", "vm", "worker_threads", "process",
		},
		BlockedCallables: []string{
			"eval", "Function", "constructor",
		},
		EnableDebugging:     true,
		EnableFileAccess:    false,
		EnableNetworkAccess: false,
	}
}

// Clamp returns a copy of c with limits tightened to never exceed the given
// ceiling policy. Security lists from the ceiling are merged in.
func (c Config) Clamp(ceiling Config) Config {
	out := c
	if out.MaxExecutionTime <= 0 || out.MaxExecutionTime > ceiling.MaxExecutionTime {
		out.MaxExecutionTime = ceiling.MaxExecutionTime
	}
	if out.MaxMemoryMB <= 0 || out.MaxMemoryMB > ceiling.MaxMemoryMB {
		out.MaxMemoryMB = ceiling.MaxMemoryMB
	}
	if out.MaxOutputBytes <= 0 || out.MaxOutputBytes > ceiling.MaxOutputBytes {
		out.MaxOutputBytes = ceiling.MaxOutputBytes
	}
	if out.MaxSourceLength <= 0 || out.MaxSourceLength > ceiling.MaxSourceLength {
		out.MaxSourceLength = ceiling.MaxSourceLength
	}
	if out.MaxCallStackSize <= 0 || out.MaxCallStackSize > ceiling.MaxCallStackSize {
		out.MaxCallStackSize = ceiling.MaxCallStackSize
	}
	out.BlockedModules = mergeLists(out.BlockedModules, ceiling.BlockedModules)
	out.BlockedCallables = mergeLists(out.BlockedCallables, ceiling.BlockedCallables)
	if !ceiling.EnableFileAccess {
		out.EnableFileAccess = false
	}
	if !ceiling.EnableNetworkAccess {
		out.EnableNetworkAccess = false
	}
	return out
}

// MemoryLimitBytes returns the memory ceiling in bytes.
func (c Config) MemoryLimitBytes() int64 {
	return int64(c.MaxMemoryMB) * 1024 * 1024
}

func mergeLists(a, b []string) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, list := range [][]string{a, b} {
		for _, v := range list {
			if _, ok := seen[v]; ok {
				continue
			}
			seen[v] = struct{}{}
			out = append(out, v)
		}
	}
	return out
}
