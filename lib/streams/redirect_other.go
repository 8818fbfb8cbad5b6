// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

//go:build !unix

package streams

// Supported reports whether this platform can redirect descriptors.
func Supported() bool { return false }

func redirectDescriptor(original, target int) (int, error) {
	return -1, ErrNotSupported
}

func restoreDescriptor(original, saved int) error {
	return ErrNotSupported
}

func writeDescriptor(fd int, p []byte) (int, error) {
	return 0, ErrNotSupported
}
