// Package procstat samples the resource usage of the running process.
package procstat

import (
	"fmt"
	"os"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/process"
)

type Stats struct {
	CPUPercent       float64 `json:"cpuPercent"`
	SystemCPUPercent float64 `json:"systemCpuPercent"`
	RSSMB            uint64  `json:"rssMb"`
	Threads          int32   `json:"threads"`
}

// Sampler reports CPU usage since the previous Sample call. The first call
// measures from process start.
type Sampler struct {
	proc *process.Process
}

func NewSampler() (*Sampler, error) {
	p, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return nil, fmt.Errorf("procstat: open self: %w", err)
	}
	return &Sampler{proc: p}, nil
}

func (s *Sampler) Sample() (*Stats, error) {
	stats := &Stats{}

	pct, err := s.proc.Percent(0)
	if err != nil {
		return nil, fmt.Errorf("procstat: cpu percent: %w", err)
	}
	stats.CPUPercent = pct

	mem, err := s.proc.MemoryInfo()
	if err != nil {
		return nil, fmt.Errorf("procstat: memory info: %w", err)
	}
	stats.RSSMB = mem.RSS / 1024 / 1024

	if n, err := s.proc.NumThreads(); err == nil {
		stats.Threads = n
	}
	if sys, err := cpu.Percent(0, false); err == nil && len(sys) > 0 {
		stats.SystemCPUPercent = sys[0]
	}
	return stats, nil
}
