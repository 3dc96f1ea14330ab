package sandbox

import (
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestDebuggerEventLog(t *testing.T) {
	d := NewDebugger(zerolog.Nop())

	d.Log("starting", "INFO", nil)
	d.Log("something odd", "WARN", nil)
	d.Log("broken", "ERROR", map[string]any{"code": 7})
	d.Log("unlabelled", "bogus-level", nil)

	s := d.Summary()
	if s.TotalEvents != 4 {
		t.Errorf("expected 4 events, got %d", s.TotalEvents)
	}
	if s.EventsByLevel["WARNING"] != 1 {
		t.Errorf("expected WARN to normalize to WARNING, got %v", s.EventsByLevel)
	}
	if s.EventsByLevel["INFO"] != 2 {
		t.Errorf("expected unknown level to normalize to INFO, got %v", s.EventsByLevel)
	}
}

func TestDebuggerVariableHistory(t *testing.T) {
	d := NewDebugger(zerolog.Nop())

	d.Inspect("x", 1)
	d.Inspect("x", 2)
	d.Inspect("y", "hello")

	history := d.History("x")
	if len(history) != 2 {
		t.Fatalf("expected 2 snapshots of x, got %d", len(history))
	}
	if history[0].Repr != "1" || history[1].Repr != "2" {
		t.Errorf("snapshot order wrong: %v", history)
	}

	s := d.Summary()
	if len(s.VariableNames) != 2 {
		t.Errorf("expected 2 tracked variables, got %v", s.VariableNames)
	}
	if s.VariableNames[0] != "x" {
		t.Errorf("expected first-seen order, got %v", s.VariableNames)
	}
}

func TestDebuggerTruncatesOversizedRepr(t *testing.T) {
	d := NewDebugger(zerolog.Nop())

	d.Inspect("big", strings.Repeat("a", 10*maxReprLen))

	history := d.History("big")
	if len(history) != 1 {
		t.Fatalf("expected one snapshot, got %d", len(history))
	}
	if len(history[0].Repr) > maxReprLen {
		t.Errorf("repr not truncated: %d bytes", len(history[0].Repr))
	}
}

func TestDebuggerRecentEventsWindow(t *testing.T) {
	d := NewDebugger(zerolog.Nop())

	for i := 0; i < 25; i++ {
		d.Log("event", "INFO", nil)
	}

	s := d.Summary()
	if s.TotalEvents != 25 {
		t.Errorf("expected 25 total events, got %d", s.TotalEvents)
	}
	if len(s.RecentEvents) != recentEventCount {
		t.Errorf("expected %d recent events, got %d", recentEventCount, len(s.RecentEvents))
	}
}
