// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

//go:build unix

package streams

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// Supported reports whether this platform can redirect descriptors.
func Supported() bool { return true }

func redirectDescriptor(original, target int) (int, error) {
	saved, err := unix.Dup(original)
	if err != nil {
		return -1, fmt.Errorf("saving descriptor %d: %w", original, err)
	}
	unix.CloseOnExec(saved)
	if err := unix.Dup2(target, original); err != nil {
		unix.Close(saved)
		return -1, fmt.Errorf("duplicating descriptor %d onto %d: %w", target, original, err)
	}
	return saved, nil
}

func restoreDescriptor(original, saved int) error {
	err := unix.Dup2(saved, original)
	unix.Close(saved)
	if err != nil {
		return fmt.Errorf("restoring descriptor %d: %w", original, err)
	}
	return nil
}

func writeDescriptor(fd int, p []byte) (int, error) {
	written := 0
	for written < len(p) {
		n, err := unix.Write(fd, p[written:])
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return written, err
		}
		written += n
	}
	return written, nil
}
