// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package daemon

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"syscall"

	"golang.org/x/sys/unix"
)

// copyBufferSize is the read size for captured streams.
const copyBufferSize = 32 * 1024

// lockedWriter serializes writes from both streams into output.log so
// chunks never interleave mid-write.
type lockedWriter struct {
	mu     sync.Mutex
	writer io.Writer
}

func (w *lockedWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.writer.Write(p)
}

// streamCopier copies one captured stream to the terminal and the
// output log until end of stream.
type streamCopier struct {
	name     string
	source   *os.File
	terminal io.Writer
	output   io.Writer
	logger   *slog.Logger
	done     chan struct{}
}

func newStreamCopier(name string, source *os.File, terminal, output io.Writer, logger *slog.Logger) *streamCopier {
	return &streamCopier{
		name:     name,
		source:   source,
		terminal: terminal,
		output:   output,
		logger:   logger,
		done:     make(chan struct{}),
	}
}

func (s *streamCopier) run() {
	defer close(s.done)
	buffer := make([]byte, copyBufferSize)
	for {
		n, err := s.source.Read(buffer)
		if n > 0 {
			chunk := buffer[:n]
			// A closed terminal must not stop the log.
			s.terminal.Write(chunk)
			if _, writeErr := s.output.Write(chunk); writeErr != nil {
				s.logger.Error("writing output log", "stream", s.name, "error", writeErr)
			}
		}
		if err != nil {
			if !endOfStream(err) {
				s.logger.Warn("reading captured stream", "stream", s.name, "error", err)
			}
			return
		}
	}
}

// endOfStream reports whether err means the writers are gone. A PTY
// master reads EIO once every slave descriptor is closed.
func endOfStream(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, syscall.EIO) || errors.Is(err, os.ErrClosed)
}

// openInheritedStream wraps an inherited descriptor. Non-blocking mode
// puts it under the runtime poller so Close interrupts a pending Read.
func openInheritedStream(fd int) *os.File {
	// Best effort: a blocking descriptor still works, only Close no
	// longer unblocks it.
	unix.SetNonblock(fd, true)
	return os.NewFile(uintptr(fd), fmt.Sprintf("stream-%d", fd))
}
