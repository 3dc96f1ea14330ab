package hostapi

import (
	"sync"
)

// CappedBuffer is a write-once-read-many output buffer with a hard size cap.
// Writes beyond the cap truncate instead of growing; the writer never sees an
// error, so sandboxed code cannot distinguish a capped stream.
type CappedBuffer struct {
	mu        sync.Mutex
	buf       []byte
	cap       int
	truncated bool
}

// NewCappedBuffer creates a buffer that retains at most max bytes.
func NewCappedBuffer(max int) *CappedBuffer {
	if max <= 0 {
		max = 1
	}
	return &CappedBuffer{cap: max}
}

// Write appends p, truncating at the cap. It always reports len(p) written.
func (b *CappedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	remaining := b.cap - len(b.buf)
	if remaining <= 0 {
		b.truncated = b.truncated || len(p) > 0
		return len(p), nil
	}
	if len(p) > remaining {
		b.buf = append(b.buf, p[:remaining]...)
		b.truncated = true
		return len(p), nil
	}
	b.buf = append(b.buf, p...)
	return len(p), nil
}

// String returns the captured output.
func (b *CappedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.buf)
}

// Len returns the number of retained bytes.
func (b *CappedBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.buf)
}

// Truncated reports whether any write exceeded the cap.
func (b *CappedBuffer) Truncated() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.truncated
}

// Reset clears the buffer for a fresh execution.
func (b *CappedBuffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf = b.buf[:0]
	b.truncated = false
}
