package osprobe

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/net"
	"github.com/shirou/gopsutil/v3/process"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

// ephemeralPortLow/High mirror the default Linux dynamic port range
// (net.ipv4.ip_local_port_range). The probe always uses these constants;
// it does not read the live range from /proc/sys/net/ipv4/ip_local_port_range.
const (
	ephemeralPortLow  = 32768
	ephemeralPortHigh = 60999
)

// Linux is the gopsutil-backed OsProbe used in production. It holds no
// per-pid state between calls; WorkingSetFastPathThreshold only controls
// which code path GetWorkingSetMB takes for a given call, not anything
// cached across calls.
type Linux struct {
	log *zap.Logger

	// WorkingSetFastPathThreshold enables the fast path: when it is above
	// zero and GetWorkingSetMB gets a non-empty name hint, the value is read
	// directly from /proc/<pid>/status instead of through a gopsutil
	// process handle. Zero disables the fast path. It is set once from
	// config at startup; the ResourceSampler decides per pass, with its own
	// copy of the threshold, whether to pass the name hint.
	WorkingSetFastPathThreshold int

	fastPathMu sync.Mutex
}

// NewLinux constructs a Linux probe.
func NewLinux(log *zap.Logger) *Linux {
	return &Linux{log: log, WorkingSetFastPathThreshold: 50}
}

func (l *Linux) GetCPUPercent(pid int32) float64 {
	proc, err := process.NewProcess(pid)
	if err != nil {
		return -1
	}
	pct, err := proc.Percent(0)
	if err != nil {
		return -1
	}
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}
	return pct
}

func (l *Linux) GetWorkingSetMB(pid int32, name string, usePrivate bool) float64 {
	if name != "" && l.WorkingSetFastPathThreshold > 0 {
		if v, ok := l.workingSetFastPath(pid, usePrivate); ok {
			return v
		}
	}
	proc, err := process.NewProcess(pid)
	if err != nil {
		return 0
	}
	mi, err := proc.MemoryInfo()
	if err != nil || mi == nil {
		return 0
	}
	if usePrivate {
		return bytesToMB(mi.Data)
	}
	return bytesToMB(mi.RSS)
}

// workingSetFastPath reads VmRSS/VmData straight out of /proc/<pid>/status,
// skipping gopsutil's per-call process handle construction. The sampler
// only calls GetWorkingSetMB with a name hint once it has already counted
// enough same-named processes in the current pass to make the saved
// syscalls worthwhile (see ResourceSampler.sampleWorkingSet).
func (l *Linux) workingSetFastPath(pid int32, usePrivate bool) (float64, bool) {
	l.fastPathMu.Lock()
	defer l.fastPathMu.Unlock()

	key := "VmRSS:"
	if usePrivate {
		key = "VmData:"
	}
	kb, ok := readProcStatusKB(pid, key)
	if !ok {
		return 0, false
	}
	return kb / 1024, true
}

func (l *Linux) GetPrivateBytesMB(pid int32) float64 {
	proc, err := process.NewProcess(pid)
	if err != nil {
		return 0
	}
	mi, err := proc.MemoryInfo()
	if err != nil || mi == nil {
		return 0
	}
	return bytesToMB(mi.Data)
}

func (l *Linux) GetHandleCount(pid int32) int64 {
	proc, err := process.NewProcess(pid)
	if err != nil {
		return -1
	}
	n, err := proc.NumFDs()
	if err != nil {
		return -1
	}
	return int64(n)
}

func (l *Linux) GetThreadCount(pid int32) int64 {
	proc, err := process.NewProcess(pid)
	if err != nil {
		return 0
	}
	n, err := proc.NumThreads()
	if err != nil {
		return 0
	}
	return int64(n)
}

func (l *Linux) GetActiveTCPPortCount(pid int32) int64 {
	conns, err := net.ConnectionsPid("tcp", pid)
	if err != nil {
		return 0
	}
	return int64(len(conns))
}

func (l *Linux) GetActiveEphemeralPortCount(pid int32) int64 {
	conns, err := net.ConnectionsPid("tcp", pid)
	if err != nil {
		return 0
	}
	var count int64
	for _, c := range conns {
		if c.Laddr.Port >= ephemeralPortLow && c.Laddr.Port <= ephemeralPortHigh {
			count++
		}
	}
	return count
}

func (l *Linux) GetEphemeralPortCountPct(pid int32) float64 {
	rangeSize := float64(ephemeralPortHigh - ephemeralPortLow + 1)
	if rangeSize <= 0 {
		return 0
	}
	count := l.GetActiveEphemeralPortCount(pid)
	pct := float64(count) / rangeSize * 100
	if pct > 100 {
		pct = 100
	}
	return pct
}

func (l *Linux) GetCommitLimitGB() float64 {
	var info unix.Sysinfo_t
	if err := unix.Sysinfo(&info); err != nil {
		return 0
	}
	// Sysinfo has no direct "commit limit"; approximate with total RAM +
	// total swap, scaled by Unit, matching what /proc/meminfo's
	// CommitLimit reports absent overcommit tuning.
	total := (uint64(info.Totalram) + uint64(info.Totalswap)) * uint64(info.Unit)
	return float64(total) / (1024 * 1024 * 1024)
}

func (l *Linux) GetPhysicalMemoryInfo() PhysicalMemoryInfo {
	vm, err := mem.VirtualMemory()
	if err != nil || vm == nil {
		return PhysicalMemoryInfo{}
	}
	return PhysicalMemoryInfo{
		TotalGB: float64(vm.Total) / (1024 * 1024 * 1024),
		UsedGB:  float64(vm.Used) / (1024 * 1024 * 1024),
		UsedPct: vm.UsedPercent,
	}
}

func bytesToMB(b uint64) float64 {
	return float64(b) / (1024 * 1024)
}

// readProcStatusKB scans /proc/<pid>/status for a "Key: N kB" line and
// returns N. Returns ok=false if the file is unreadable or the key is
// absent (process vanished, or the kernel build omits that field).
func readProcStatusKB(pid int32, key string) (float64, bool) {
	f, err := os.Open(fmt.Sprintf("/proc/%d/status", pid))
	if err != nil {
		return 0, false
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, key) {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			return 0, false
		}
		kb, err := strconv.ParseFloat(fields[1], 64)
		if err != nil {
			return 0, false
		}
		return kb, true
	}
	return 0, false
}
