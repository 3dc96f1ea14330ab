package sandbox

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const (
	// maxReprLen caps the captured representation of inspected values.
	maxReprLen = 1000
	// maxPayloadLen caps structured payloads attached to debug events.
	maxPayloadLen = 4096
	// recentEventCount is how many trailing events a summary carries.
	recentEventCount = 10
)

// DebugEvent is one append-only entry in an instance's debug log.
type DebugEvent struct {
	Timestamp time.Time `json:"timestamp"`
	Level     string    `json:"level"`
	Message   string    `json:"message"`
	Data      any       `json:"data,omitempty"`
}

// VariableSnapshot captures one observation of a tracked variable. Snapshots
// for a name form an ordered history; they are never overwritten.
type VariableSnapshot struct {
	Name      string    `json:"name"`
	Repr      string    `json:"repr"`
	TypeName  string    `json:"type"`
	SizeBytes int       `json:"size_bytes"`
	Timestamp time.Time `json:"timestamp"`
}

// DebugSummary is the queryable view over a debugger's state.
type DebugSummary struct {
	TotalEvents   int                `json:"total_events"`
	EventsByLevel map[string]int     `json:"events_by_level"`
	VariableNames []string           `json:"variable_names"`
	RecentEvents  []DebugEvent       `json:"recent_events"`
	Variables     map[string][]VariableSnapshot `json:"variables,omitempty"`
}

// Debugger is the append-only execution log and variable snapshot history of
// a sandbox instance. All operations are safe for concurrent use and never
// fail on malformed input; oversized payloads are truncated.
type Debugger struct {
	logger zerolog.Logger

	mu        sync.Mutex
	events    []DebugEvent
	byLevel   map[string]int
	variables map[string][]VariableSnapshot
	varOrder  []string
}

// NewDebugger creates a debugger that mirrors events to the given logger.
func NewDebugger(logger zerolog.Logger) *Debugger {
	return &Debugger{
		logger:    logger,
		byLevel:   make(map[string]int),
		variables: make(map[string][]VariableSnapshot),
	}
}

// Log appends a debug event and mirrors it to the host log.
func (d *Debugger) Log(message, level string, data any) {
	level = normalizeLevel(level)
	if payload, ok := data.(string); ok && len(payload) > maxPayloadLen {
		data = payload[:maxPayloadLen]
	}

	d.mu.Lock()
	d.events = append(d.events, DebugEvent{
		Timestamp: time.Now(),
		Level:     level,
		Message:   truncate(message, maxPayloadLen),
		Data:      data,
	})
	d.byLevel[level]++
	d.mu.Unlock()

	d.mirror(message, level)
}

// Inspect appends a snapshot to the named variable's history.
func (d *Debugger) Inspect(name string, value any) {
	repr := truncate(fmt.Sprintf("%v", value), maxReprLen)
	snap := VariableSnapshot{
		Name:      name,
		Repr:      repr,
		TypeName:  fmt.Sprintf("%T", value),
		SizeBytes: len(repr),
		Timestamp: time.Now(),
	}

	d.mu.Lock()
	if _, ok := d.variables[name]; !ok {
		d.varOrder = append(d.varOrder, name)
	}
	d.variables[name] = append(d.variables[name], snap)
	d.mu.Unlock()

	d.Log(fmt.Sprintf("variable %q = %s", name, truncate(repr, 200)), "DEBUG", nil)
}

// Summary returns counts by level, tracked variable names, and the most
// recent events.
func (d *Debugger) Summary() *DebugSummary {
	d.mu.Lock()
	defer d.mu.Unlock()

	byLevel := make(map[string]int, len(d.byLevel))
	for k, v := range d.byLevel {
		byLevel[k] = v
	}

	names := make([]string, len(d.varOrder))
	copy(names, d.varOrder)

	start := len(d.events) - recentEventCount
	if start < 0 {
		start = 0
	}
	recent := make([]DebugEvent, len(d.events)-start)
	copy(recent, d.events[start:])

	return &DebugSummary{
		TotalEvents:   len(d.events),
		EventsByLevel: byLevel,
		VariableNames: names,
		RecentEvents:  recent,
	}
}

// History returns the snapshot history for one variable, oldest first.
func (d *Debugger) History(name string) []VariableSnapshot {
	d.mu.Lock()
	defer d.mu.Unlock()

	src := d.variables[name]
	out := make([]VariableSnapshot, len(src))
	copy(out, src)
	return out
}

// Variables returns the full snapshot table keyed by variable name.
func (d *Debugger) Variables() map[string][]VariableSnapshot {
	d.mu.Lock()
	defer d.mu.Unlock()

	out := make(map[string][]VariableSnapshot, len(d.variables))
	for name, snaps := range d.variables {
		cp := make([]VariableSnapshot, len(snaps))
		copy(cp, snaps)
		out[name] = cp
	}
	return out
}

// Info returns the summary as a plain map for injection into executing code.
func (d *Debugger) Info() map[string]any {
	s := d.Summary()
	return map[string]any{
		"total_events":    s.TotalEvents,
		"events_by_level": s.EventsByLevel,
		"variable_names":  s.VariableNames,
		"recent_events":   s.RecentEvents,
	}
}

func (d *Debugger) mirror(message, level string) {
	switch level {
	case "DEBUG":
		d.logger.Debug().Msg(message)
	case "WARNING":
		d.logger.Warn().Msg(message)
	case "ERROR":
		d.logger.Error().Msg(message)
	default:
		d.logger.Info().Msg(message)
	}
}

func normalizeLevel(level string) string {
	switch level {
	case "DEBUG", "INFO", "WARNING", "ERROR":
		return level
	case "WARN":
		return "WARNING"
	default:
		return "INFO"
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
