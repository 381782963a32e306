package osprobe

import "testing"

func TestFakeDefaultsMatchFailureContract(t *testing.T) {
	f := NewFake()

	if got := f.GetCPUPercent(999); got != -1 {
		t.Errorf("GetCPUPercent for unknown pid = %v, want -1", got)
	}
	if got := f.GetHandleCount(999); got != -1 {
		t.Errorf("GetHandleCount for unknown pid = %v, want -1", got)
	}
	if got := f.GetWorkingSetMB(999, "", false); got != 0 {
		t.Errorf("GetWorkingSetMB for unknown pid = %v, want 0", got)
	}
	if got := f.GetThreadCount(999); got != 0 {
		t.Errorf("GetThreadCount for unknown pid = %v, want 0", got)
	}
}

func TestFakeSetRoundTrip(t *testing.T) {
	f := NewFake()
	f.Set(42, 55.5, 128, 64, 10, 4, 20, 5, 25.0)

	if got := f.GetCPUPercent(42); got != 55.5 {
		t.Errorf("GetCPUPercent = %v, want 55.5", got)
	}
	if got := f.GetWorkingSetMB(42, "myproc", false); got != 128 {
		t.Errorf("GetWorkingSetMB = %v, want 128", got)
	}
	if got := f.GetActiveEphemeralPortCount(42); got != 5 {
		t.Errorf("GetActiveEphemeralPortCount = %v, want 5", got)
	}
}
