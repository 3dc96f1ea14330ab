package manager

import (
	"sync"

	"scriptbox/internal/sandbox"
)

// DefaultHistorySize is the default per-manager execution history capacity.
const DefaultHistorySize = 256

// historyRing is a fixed-size circular buffer of execution results. New
// entries overwrite the oldest when the buffer is full. Safe for concurrent
// use.
type historyRing struct {
	mu       sync.Mutex
	entries  []*sandbox.ExecutionResult
	capacity int
	// writePos is the next slot to write (0 to capacity-1).
	writePos int
	// total is the number of results ever recorded.
	total uint64
}

func newHistoryRing(capacity int) *historyRing {
	if capacity <= 0 {
		capacity = DefaultHistorySize
	}
	return &historyRing{
		entries:  make([]*sandbox.ExecutionResult, capacity),
		capacity: capacity,
	}
}

// Record appends one result, evicting the oldest entry when full.
func (r *historyRing) Record(result *sandbox.ExecutionResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[r.writePos] = result
	r.writePos = (r.writePos + 1) % r.capacity
	r.total++
}

// Recent returns up to limit results, newest first, optionally filtered by
// instance ID. An empty instanceID matches everything; limit <= 0 means no
// limit.
func (r *historyRing) Recent(instanceID string, limit int) []*sandbox.ExecutionResult {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored := int(r.total)
	if stored > r.capacity {
		stored = r.capacity
	}

	var results []*sandbox.ExecutionResult
	for i := 1; i <= stored; i++ {
		pos := (r.writePos - i + r.capacity) % r.capacity
		entry := r.entries[pos]
		if entry == nil {
			continue
		}
		if instanceID != "" && entry.InstanceID != instanceID {
			continue
		}
		results = append(results, entry)
		if limit > 0 && len(results) >= limit {
			break
		}
	}
	return results
}

// Total returns the number of results ever recorded.
func (r *historyRing) Total() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.total
}
