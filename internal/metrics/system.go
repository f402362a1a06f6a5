package metrics

import (
	"context"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// Sampler periodically feeds system resource readings into the registry
// gauges. CPU readings are smoothed with an exponential moving average to
// avoid spikes.
type Sampler struct {
	reg        *Registry
	interval   time.Duration
	cpuPercent float64
}

// NewSampler creates a sampler updating the given registry.
func NewSampler(reg *Registry, interval time.Duration) *Sampler {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &Sampler{reg: reg, interval: interval}
}

// Run samples until the context is cancelled. Call in its own goroutine.
func (s *Sampler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sample()
		}
	}
}

func (s *Sampler) sample() {
	if percents, err := cpu.Percent(0, false); err == nil && len(percents) > 0 {
		current := percents[0]
		if s.cpuPercent == 0 {
			s.cpuPercent = current
		} else {
			const alpha = 0.3
			s.cpuPercent = alpha*current + (1-alpha)*s.cpuPercent
		}
		s.reg.CPUPercent.Set(s.cpuPercent)
	}

	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	s.reg.HeapAllocMB.Set(float64(ms.HeapAlloc) / 1024 / 1024)

	if vm, err := mem.VirtualMemory(); err == nil {
		s.reg.MemoryUsedMB.Set(float64(vm.Used) / 1024 / 1024)
	}
}
