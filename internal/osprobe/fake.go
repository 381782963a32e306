package osprobe

import "sync"

// Fake is an in-memory OsProbe for tests. Values are looked up by pid;
// a pid with no configured value returns the type's documented failure
// value (matching the contract's Failure column), not zero-by-omission.
type Fake struct {
	mu sync.Mutex

	CPUPercent              map[int32]float64
	WorkingSetMB            map[int32]float64
	PrivateBytesMB          map[int32]float64
	HandleCount             map[int32]int64
	ThreadCount             map[int32]int64
	ActiveTCPPortCount      map[int32]int64
	ActiveEphemeralPorts    map[int32]int64
	EphemeralPortCountPct   map[int32]float64
	CommitLimitGB           float64
	PhysicalMemory          PhysicalMemoryInfo

	// WorkingSetNameHints records the name argument passed to the most
	// recent GetWorkingSetMB call per pid, so tests can assert whether a
	// caller opted into the fast-path name hint.
	WorkingSetNameHints map[int32]string
}

// NewFake constructs an empty Fake; callers populate the exported maps.
func NewFake() *Fake {
	return &Fake{
		CPUPercent:            make(map[int32]float64),
		WorkingSetMB:          make(map[int32]float64),
		PrivateBytesMB:        make(map[int32]float64),
		HandleCount:           make(map[int32]int64),
		ThreadCount:           make(map[int32]int64),
		ActiveTCPPortCount:    make(map[int32]int64),
		ActiveEphemeralPorts:  make(map[int32]int64),
		EphemeralPortCountPct: make(map[int32]float64),
		WorkingSetNameHints:   make(map[int32]string),
	}
}

func (f *Fake) GetCPUPercent(pid int32) float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.CPUPercent[pid]
	if !ok {
		return -1
	}
	return v
}

func (f *Fake) GetWorkingSetMB(pid int32, name string, usePrivate bool) float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.WorkingSetNameHints[pid] = name
	return f.WorkingSetMB[pid]
}

func (f *Fake) GetPrivateBytesMB(pid int32) float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.PrivateBytesMB[pid]
}

func (f *Fake) GetHandleCount(pid int32) int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.HandleCount[pid]
	if !ok {
		return -1
	}
	return v
}

func (f *Fake) GetThreadCount(pid int32) int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ThreadCount[pid]
}

func (f *Fake) GetActiveTCPPortCount(pid int32) int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ActiveTCPPortCount[pid]
}

func (f *Fake) GetActiveEphemeralPortCount(pid int32) int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ActiveEphemeralPorts[pid]
}

func (f *Fake) GetEphemeralPortCountPct(pid int32) float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.EphemeralPortCountPct[pid]
}

func (f *Fake) GetCommitLimitGB() float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.CommitLimitGB
}

func (f *Fake) GetPhysicalMemoryInfo() PhysicalMemoryInfo {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.PhysicalMemory
}

// Set is a convenience helper for tests to populate one pid's full metric
// set in one call.
func (f *Fake) Set(pid int32, cpu, workingSetMB, privateBytesMB float64, handles, threads, tcpPorts, ephemeralPorts int64, ephemeralPct float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.CPUPercent[pid] = cpu
	f.WorkingSetMB[pid] = workingSetMB
	f.PrivateBytesMB[pid] = privateBytesMB
	f.HandleCount[pid] = handles
	f.ThreadCount[pid] = threads
	f.ActiveTCPPortCount[pid] = tcpPorts
	f.ActiveEphemeralPorts[pid] = ephemeralPorts
	f.EphemeralPortCountPct[pid] = ephemeralPct
}
