// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sysinfo

import (
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"testing"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
}

func TestCPUPercent(t *testing.T) {
	tests := []struct {
		name     string
		previous *CPUReading
		current  *CPUReading
		expected float64
	}{
		{"half busy", &CPUReading{Busy: 100, Idle: 100}, &CPUReading{Busy: 200, Idle: 200}, 50},
		{"fully busy", &CPUReading{Busy: 100, Idle: 100}, &CPUReading{Busy: 200, Idle: 100}, 100},
		{"idle", &CPUReading{Busy: 100, Idle: 100}, &CPUReading{Busy: 100, Idle: 200}, 0},
		{"no time passed", &CPUReading{Busy: 5, Idle: 5}, &CPUReading{Busy: 5, Idle: 5}, 0},
		{"no previous", nil, &CPUReading{Busy: 5, Idle: 5}, 0},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			if got := CPUPercent(test.previous, test.current); got != test.expected {
				t.Errorf("CPUPercent() = %f, want %f", got, test.expected)
			}
		})
	}
}

func TestReadCPUStatsFrom(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stat")
	writeFile(t, path, "cpu  10 20 30 400 50 6 7 8 0 0\ncpu0 1 2 3 4 5 6 7 8 0 0\n")
	reading := readCPUStatsFrom(path)
	if reading == nil {
		t.Fatal("readCPUStatsFrom returned nil")
	}
	if reading.Busy != 10+20+30+6+7+8 || reading.Idle != 400+50 {
		t.Errorf("reading = %+v", reading)
	}

	writeFile(t, path, "intr 1 2 3\n")
	if readCPUStatsFrom(path) != nil {
		t.Error("accepted a file without the aggregate cpu line")
	}
	if readCPUStatsFrom(filepath.Join(t.TempDir(), "missing")) != nil {
		t.Error("accepted a missing file")
	}
}

func TestProcessRSSFrom(t *testing.T) {
	procRoot := t.TempDir()
	pages := 4 * 1024 * 1024 / os.Getpagesize()
	writeFile(t, filepath.Join(procRoot, "42", "statm"), "9000 "+strconv.Itoa(pages)+" 100 10 0 500 0\n")
	if got := processRSSFrom(procRoot, 42); got != 4 {
		t.Errorf("processRSSFrom = %d, want 4", got)
	}
	if got := processRSSFrom(procRoot, 43); got != 0 {
		t.Errorf("processRSSFrom for a missing process = %d, want 0", got)
	}
}

func TestProbeFrom(t *testing.T) {
	procRoot := t.TempDir()
	writeFile(t, filepath.Join(procRoot, "cpuinfo"),
		"processor\t: 0\nvendor_id\t: GenuineIntel\nmodel name\t: Test CPU @ 3.00GHz\n\nprocessor\t: 1\nmodel name\t: Test CPU @ 3.00GHz\n")
	host := probeFrom(procRoot)
	if host.CPUModel != "Test CPU @ 3.00GHz" {
		t.Errorf("CPUModel = %q", host.CPUModel)
	}
	if host.OS != runtime.GOOS || host.CPUCount != runtime.NumCPU() {
		t.Errorf("host = %+v", host)
	}
	if host.MemoryTotalMB <= 0 {
		t.Errorf("MemoryTotalMB = %d, want a positive value on Linux", host.MemoryTotalMB)
	}
}

func TestProcessRSSOfSelf(t *testing.T) {
	if ProcessRSSMB(os.Getpid()) < 0 {
		t.Error("negative RSS")
	}
	if ReadCPUStats() == nil {
		t.Error("ReadCPUStats returned nil on Linux")
	}
}
