package health

import (
	"os"
	"runtime"

	"github.com/shirou/gopsutil/v3/process"
)

// ProcessStats is a point-in-time view of this process's resource usage.
type ProcessStats struct {
	PID        int32   `json:"pid"`
	CPUPercent float64 `json:"cpu_percent"`
	RSSBytes   uint64  `json:"rss_bytes"`
	Threads    int32   `json:"threads"`
	Goroutines int     `json:"goroutines"`
}

// SelfStats samples the current process. Fields that cannot be read on this
// platform are left zero.
func SelfStats() (ProcessStats, error) {
	stats := ProcessStats{
		PID:        int32(os.Getpid()),
		Goroutines: runtime.NumGoroutine(),
	}

	p, err := process.NewProcess(stats.PID)
	if err != nil {
		return stats, err
	}
	if cpu, err := p.CPUPercent(); err == nil {
		stats.CPUPercent = cpu
	}
	if mem, err := p.MemoryInfo(); err == nil && mem != nil {
		stats.RSSBytes = mem.RSS
	}
	if n, err := p.NumThreads(); err == nil {
		stats.Threads = n
	}
	return stats, nil
}
