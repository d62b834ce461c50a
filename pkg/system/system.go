// SPDX-License-Identifier: GPL-2.0-or-later

// Package system samples the host status shown next to the recorder state.
package system

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/EvanMerlock/sports-record/pkg/log"
	"github.com/EvanMerlock/sports-record/pkg/storage"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
)

// Status stores system status.
type Status struct {
	CPUUsage           int    `json:"cpuUsage"`
	RAMUsage           int    `json:"ramUsage"`
	DiskUsage          int    `json:"diskUsage"`
	DiskUsageFormatted string `json:"diskUsageFormatted"`
	Uptime             uint64 `json:"uptime"`
}

type (
	cpuFunc    func(context.Context, time.Duration, bool) ([]float64, error)
	ramFunc    func(context.Context) (*mem.VirtualMemoryStat, error)
	uptimeFunc func(context.Context) (uint64, error)
	diskFunc   func(time.Duration) (storage.DiskUsage, error)
)

// System samples the host until the context is canceled.
type System struct {
	cpu    cpuFunc
	ram    ramFunc
	uptime uptimeFunc
	disk   diskFunc

	status   Status
	duration time.Duration

	logger *log.Logger
	mu     sync.Mutex
	o      sync.Once
}

// New returns a new System. disk reports the usage of the output
// directory, disk usage is not sampled if nil.
func New(disk diskFunc, logger *log.Logger) *System {
	return &System{
		cpu:    cpu.PercentWithContext,
		ram:    mem.VirtualMemoryWithContext,
		uptime: host.UptimeWithContext,
		disk:   disk,

		duration: 10 * time.Second,

		logger: logger,
	}
}

func (s *System) update(ctx context.Context) error {
	cpuUsage, err := s.cpu(ctx, s.duration, false)
	if err != nil {
		return fmt.Errorf("cpu usage: %w", err)
	}
	if len(cpuUsage) == 0 {
		return fmt.Errorf("cpu usage: %w", ErrNoSample)
	}
	ramUsage, err := s.ram(ctx)
	if err != nil {
		return fmt.Errorf("ram usage: %w", err)
	}
	uptime, err := s.uptime(ctx)
	if err != nil {
		return fmt.Errorf("uptime: %w", err)
	}
	var diskUsage storage.DiskUsage
	if s.disk != nil {
		diskUsage, err = s.disk(s.duration)
		if err != nil {
			return fmt.Errorf("disk usage: %w", err)
		}
	}

	s.mu.Lock()
	s.status = Status{
		CPUUsage:           int(cpuUsage[0]),
		RAMUsage:           int(ramUsage.UsedPercent),
		DiskUsage:          diskUsage.Percent,
		DiskUsageFormatted: diskUsage.Formatted,
		Uptime:             uptime,
	}
	s.mu.Unlock()

	return nil
}

// ErrNoSample no cpu sample.
var ErrNoSample = errors.New("no sample")

// StatusLoop updates system status until context is canceled.
// Only the first call runs.
func (s *System) StatusLoop(ctx context.Context) {
	s.o.Do(func() {
		for ctx.Err() == nil {
			if err := s.update(ctx); err != nil && ctx.Err() == nil {
				s.logger.Error().Src("app").Msgf("could not update system status: %v", err)
				select {
				case <-ctx.Done():
				case <-time.After(s.duration):
				}
			}
		}
	})
}

// Status returns cpu, ram and disk usage.
func (s *System) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}
