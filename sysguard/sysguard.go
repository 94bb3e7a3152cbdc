// Package sysguard decides whether the host has room to start another
// external download or encode.
package sysguard

import (
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"

	"clipforge/logging"
)

var ErrInsufficientResources = errors.New("insufficient system resources")

// Limits are admission thresholds. Zero disables a check.
type Limits struct {
	IdleCPU  float64 // minimum idle CPU percentage
	FreeMem  int64   // minimum available memory in bytes
	FreeDisk int64   // minimum free bytes on the output volume
}

type Guard struct {
	limits Limits
	dir    string
	logger zerolog.Logger

	// Overridable in tests.
	cpuPercent func() ([]float64, error)
	memAvail   func() (uint64, error)
	diskFree   func(path string) (uint64, error)
}

func New(limits Limits, dir string) *Guard {
	return &Guard{
		limits: limits,
		dir:    dir,
		logger: logging.WithComponent("sysguard"),
		cpuPercent: func() ([]float64, error) {
			return cpu.Percent(time.Second, false)
		},
		memAvail: func() (uint64, error) {
			vm, err := mem.VirtualMemory()
			if err != nil {
				return 0, err
			}
			return vm.Available, nil
		},
		diskFree: func(path string) (uint64, error) {
			d, err := disk.Usage(path)
			if err != nil {
				return 0, err
			}
			return d.Free, nil
		},
	}
}

// Check verifies that the system has enough free resources to start a new
// external process. Probe errors are logged and do not block work.
func (g *Guard) Check() error {
	if g == nil {
		return nil
	}

	if g.limits.IdleCPU > 0 {
		p, err := g.cpuPercent()
		if err != nil {
			g.logger.Warn().Err(err).Msg("could not get CPU usage")
		} else if len(p) > 0 && p[0] > (100.0-g.limits.IdleCPU) {
			return fmt.Errorf("%w: not enough idle CPU, usage %.2f%%, idle threshold %.2f%%",
				ErrInsufficientResources, p[0], g.limits.IdleCPU)
		}
	}

	if g.limits.FreeMem > 0 {
		avail, err := g.memAvail()
		if err != nil {
			g.logger.Warn().Err(err).Msg("could not get memory usage")
		} else if avail < uint64(g.limits.FreeMem) {
			return fmt.Errorf("%w: not enough free memory, available %d, required %d",
				ErrInsufficientResources, avail, g.limits.FreeMem)
		}
	}

	if g.limits.FreeDisk > 0 {
		free, err := g.diskFree(g.dir)
		if err != nil {
			g.logger.Warn().Err(err).Str("dir", g.dir).Msg("could not get disk usage")
		} else if free < uint64(g.limits.FreeDisk) {
			return fmt.Errorf("%w: not enough free disk space in %s, available %d, required %d",
				ErrInsufficientResources, g.dir, free, g.limits.FreeDisk)
		}
	}
	return nil
}
