// Package resource samples host CPU/memory load on an interval and exposes
// a cheap "should pause" gate for the JobRunner pool, the Go analogue of
// the teacher's ResourceGuard CPU emergency brake applied to directory
// scanning instead of Kafka consumption.
package resource

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// Monitor periodically samples CPU percent and memory usage.
type Monitor struct {
	logger zerolog.Logger

	pauseThreshold float64
	interval       time.Duration

	currentCPU atomic.Value // float64
	currentMem atomic.Value // uint64 bytes used
}

// New creates a Monitor that pauses callers once CPU load reaches
// pauseThreshold (a 0-100 percentage).
func New(logger zerolog.Logger, pauseThreshold float64, interval time.Duration) *Monitor {
	m := &Monitor{
		logger:         logger,
		pauseThreshold: pauseThreshold,
		interval:       interval,
	}
	m.currentCPU.Store(0.0)
	m.currentMem.Store(uint64(0))
	return m
}

// Start runs the sampling loop until ctx is cancelled.
func (m *Monitor) Start(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.sample()
			}
		}
	}()
}

func (m *Monitor) sample() {
	percents, err := cpu.Percent(0, false)
	if err == nil && len(percents) > 0 {
		m.currentCPU.Store(percents[0])
	} else if err != nil {
		m.logger.Debug().Err(err).Msg("cpu sample failed")
	}

	if vm, err := mem.VirtualMemory(); err == nil {
		m.currentMem.Store(vm.Used)
	} else {
		m.logger.Debug().Err(err).Msg("memory sample failed")
	}
}

// CPUPercent returns the last sampled CPU load percentage.
func (m *Monitor) CPUPercent() float64 {
	return m.currentCPU.Load().(float64)
}

// MemoryUsed returns the last sampled host memory in use, in bytes.
func (m *Monitor) MemoryUsed() uint64 {
	return m.currentMem.Load().(uint64)
}

// ShouldPause reports whether job workers should back off pulling the next
// directory entry because the host is CPU-saturated.
func (m *Monitor) ShouldPause() bool {
	return m.CPUPercent() >= m.pauseThreshold
}
