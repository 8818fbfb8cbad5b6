// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package headless

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

// Prompter asks the user for what an unconfigured interactive run
// needs.
type Prompter interface {
	// APIKey returns the user's API key. Empty means skip.
	APIKey(ctx context.Context) (string, error)

	// ProjectSlug returns "entity/project".
	ProjectSlug(ctx context.Context) (string, error)
}

// ErrNoTerminal is returned by TerminalPrompter when input is not a
// terminal.
var ErrNoTerminal = errors.New("interactive setup needs a terminal")

// TerminalPrompter prompts on a terminal. The key is read without
// echo.
type TerminalPrompter struct {
	In  *os.File
	Out io.Writer
}

// DefaultPrompter prompts on the process's terminal.
func DefaultPrompter() *TerminalPrompter {
	return &TerminalPrompter{In: os.Stdin, Out: os.Stderr}
}

func (p *TerminalPrompter) APIKey(ctx context.Context) (string, error) {
	fd := int(p.In.Fd())
	if !term.IsTerminal(fd) {
		return "", ErrNoTerminal
	}
	fmt.Fprint(p.Out, "API key (input hidden, empty to skip): ")
	key, err := term.ReadPassword(fd)
	fmt.Fprintln(p.Out)
	if err != nil {
		return "", fmt.Errorf("reading API key: %w", err)
	}
	return strings.TrimSpace(string(key)), ctx.Err()
}

func (p *TerminalPrompter) ProjectSlug(ctx context.Context) (string, error) {
	if !term.IsTerminal(int(p.In.Fd())) {
		return "", ErrNoTerminal
	}
	fmt.Fprint(p.Out, "Project (entity/project): ")
	line, err := bufio.NewReader(p.In).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("reading project: %w", err)
	}
	return strings.TrimSpace(line), ctx.Err()
}
