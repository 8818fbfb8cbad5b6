// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

//go:build unix && !linux

package sysinfo

import "golang.org/x/sys/unix"

// ReadCPUStats has no source outside Linux.
func ReadCPUStats() *CPUReading { return nil }

// MemoryUsedMB has no source outside Linux.
func MemoryUsedMB() int { return 0 }

// ProcessRSSMB has no source outside Linux.
func ProcessRSSMB(pid int) int { return 0 }

func memoryTotalMB() int { return 0 }

func readCPUModel(procRoot string) string { return "" }

func kernelRelease() string {
	var utsname unix.Utsname
	if err := unix.Uname(&utsname); err != nil {
		return ""
	}
	return unix.ByteSliceToString(utsname.Release[:])
}
