// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package termlog writes the supervisor's user-facing status lines and
// builds its structured logger.
//
// Status lines ("wandb: Started collector process …") are for the
// person watching the terminal, so they carry a styled prefix and go to
// the stream the process had before redirection. Structured records
// (slog) are for debugging the supervisor itself.
package termlog

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/muesli/termenv"
	"golang.org/x/term"
)

// Printer writes prefixed status lines.
type Printer struct {
	mu     sync.Mutex
	output *termenv.Output
	prefix string
	errTag string
}

// NewPrinter returns a Printer writing to w. Color is used only when w
// is a terminal that supports it.
func NewPrinter(w io.Writer) *Printer {
	output := termenv.NewOutput(w)
	return &Printer{
		output: output,
		prefix: output.String("wandb").Foreground(termenv.ANSIBlue).Bold().String(),
		errTag: output.String("ERROR").Foreground(termenv.ANSIGreen).Background(termenv.ANSIRed).String(),
	}
}

// Log writes message with the prefix on every line. An empty message
// writes an empty line.
func (p *Printer) Log(message string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if message == "" {
		io.WriteString(p.output, "\n")
		return
	}
	var builder strings.Builder
	for _, line := range strings.Split(message, "\n") {
		builder.WriteString(p.prefix)
		builder.WriteString(": ")
		builder.WriteString(line)
		builder.WriteString("\n")
	}
	io.WriteString(p.output, builder.String())
}

// Error writes message with the error tag after the prefix.
func (p *Printer) Error(message string) {
	lines := strings.Split(message, "\n")
	for index, line := range lines {
		lines[index] = p.errTag + ": " + line
	}
	p.Log(strings.Join(lines, "\n"))
}

// NewLogger builds the structured logger. When w is a terminal, records
// are human-readable text; otherwise JSON, which is what the daemon's
// debug log and CI capture want.
func NewLogger(w io.Writer, debug bool) *slog.Logger {
	options := &slog.HandlerOptions{Level: slog.LevelInfo}
	if debug {
		options.Level = slog.LevelDebug
	}
	var handler slog.Handler
	if file, ok := w.(*os.File); ok && term.IsTerminal(int(file.Fd())) {
		handler = slog.NewTextHandler(w, options)
	} else {
		handler = slog.NewJSONHandler(w, options)
	}
	return slog.New(handler)
}

// Discard returns a logger that drops every record.
func Discard() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}
