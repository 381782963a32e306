package proctree

import (
	"testing"
	"time"
)

func TestEnsureProcessMatchesWithinSecondTruncation(t *testing.T) {
	start := time.Date(2026, 1, 1, 12, 0, 0, 500_000_000, time.UTC)
	gotStart := time.Date(2026, 1, 1, 12, 0, 0, 900_000_000, time.UTC)

	if !EnsureProcess("worker", 42, start, "worker", 42, gotStart) {
		t.Errorf("expected match despite sub-second start-time jitter")
	}
}

func TestEnsureProcessDetectsPIDReuse(t *testing.T) {
	start := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	laterStart := start.Add(time.Hour)

	if EnsureProcess("worker", 42, start, "worker", 42, laterStart) {
		t.Errorf("expected mismatch when pid was reused by a process with a later start time")
	}
}

func TestEnsureProcessDetectsNameChange(t *testing.T) {
	start := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	if EnsureProcess("worker", 42, start, "other", 42, start) {
		t.Errorf("expected mismatch when process name differs")
	}
}
