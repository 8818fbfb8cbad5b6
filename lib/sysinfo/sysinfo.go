// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sysinfo

import (
	"os"
	"runtime"
)

// Host is the static inventory recorded in the run metadata.
type Host struct {
	Hostname      string `json:"hostname,omitempty"`
	OS            string `json:"os"`
	Arch          string `json:"arch"`
	Kernel        string `json:"kernel,omitempty"`
	CPUModel      string `json:"cpu_model,omitempty"`
	CPUCount      int    `json:"cpu_count"`
	MemoryTotalMB int    `json:"memory_total_mb,omitempty"`
}

// Probe collects the host inventory. It never fails; fields it cannot
// read stay empty.
func Probe() Host {
	return probeFrom("/proc")
}

func probeFrom(procRoot string) Host {
	host := Host{
		OS:       runtime.GOOS,
		Arch:     runtime.GOARCH,
		CPUCount: runtime.NumCPU(),
	}
	host.Hostname, _ = os.Hostname()
	host.Kernel = kernelRelease()
	host.CPUModel = readCPUModel(procRoot)
	host.MemoryTotalMB = memoryTotalMB()
	return host
}

// CPUReading is cumulative CPU time from /proc/stat. Utilization is
// the busy share of the delta between two readings:
//
//	busy = user + nice + system + irq + softirq + steal
//	idle = idle + iowait
type CPUReading struct {
	Busy uint64
	Idle uint64
}

// CPUPercent computes host CPU utilization between two readings.
// Returns 0 when either reading is nil or no time passed.
func CPUPercent(previous, current *CPUReading) float64 {
	if previous == nil || current == nil {
		return 0
	}
	busyDelta := current.Busy - previous.Busy
	idleDelta := current.Idle - previous.Idle
	totalDelta := busyDelta + idleDelta
	if totalDelta == 0 {
		return 0
	}
	return float64(busyDelta) / float64(totalDelta) * 100
}
