// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package rundir

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// File names inside a run directory.
const (
	MetadataFile    = "wandb-metadata.json"
	OutputFile      = "output.log"
	HistoryFile     = "wandb-history.jsonl"
	SummaryFile     = "wandb-summary.json"
	EventsFile      = "wandb-events.jsonl"
	DebugLogFile    = "debug-internal.log"
	LatestRunLink   = "latest-run"
	StageDirName    = "wandb"
	timestampLayout = "20060102_150405"
)

// idLength is the length of generated run IDs.
const idLength = 8

// StageDir returns the directory holding every run for base. An empty
// base means the working directory.
func StageDir(base string) string {
	if base == "" {
		base = "."
	}
	return filepath.Join(base, StageDirName)
}

// NewID returns a short lowercase base36 identifier drawn from a
// random UUID.
func NewID() string {
	id := uuid.New()
	encoded := strconv.FormatUint(binary.BigEndian.Uint64(id[:8]), 36)
	if len(encoded) < idLength {
		encoded = strings.Repeat("0", idLength-len(encoded)) + encoded
	}
	return encoded[:idLength]
}

// Name returns the directory name for a run started at started.
func Name(dryRun bool, started time.Time, id string) string {
	prefix := "run"
	if dryRun {
		prefix = "dryrun"
	}
	return fmt.Sprintf("%s-%s-%s", prefix, started.UTC().Format(timestampLayout), id)
}

// Create makes the run directory under StageDir(base) and points the
// latest-run link at it. A failure to update the link is not fatal and
// is returned as a nil error with the directory intact.
func Create(base string, dryRun bool, started time.Time, id string) (string, error) {
	if id == "" {
		return "", errors.New("rundir: empty run ID")
	}
	stage := StageDir(base)
	name := Name(dryRun, started, id)
	runDir := filepath.Join(stage, name)
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return "", fmt.Errorf("creating run directory %s: %w", runDir, err)
	}

	absolute, err := filepath.Abs(runDir)
	if err != nil {
		return "", fmt.Errorf("resolving run directory %s: %w", runDir, err)
	}
	updateLatest(stage, name)
	return absolute, nil
}

// updateLatest replaces the latest-run link with a relative link to
// name. The link is a convenience and errors are ignored.
func updateLatest(stage, name string) {
	link := filepath.Join(stage, LatestRunLink)
	temporary := link + ".tmp-" + name
	os.Remove(temporary)
	if err := os.Symlink(name, temporary); err != nil {
		return
	}
	if err := os.Rename(temporary, link); err != nil {
		os.Remove(temporary)
	}
}

// EnsureFiles creates every line-oriented and summary file that does
// not exist yet, so a run that logged nothing still has the complete
// layout.
func EnsureFiles(runDir string) error {
	for _, name := range []string{HistoryFile, EventsFile, OutputFile} {
		path := filepath.Join(runDir, name)
		file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("creating %s: %w", name, err)
		}
		file.Close()
	}
	summaryPath := filepath.Join(runDir, SummaryFile)
	if _, err := os.Stat(summaryPath); errors.Is(err, os.ErrNotExist) {
		if err := writeSummary(summaryPath, map[string]any{}); err != nil {
			return err
		}
	}
	return nil
}

// Link makes path visible inside the run directory under its base name
// as a symbolic link. Linking the same file twice is a no-op.
func Link(runDir, path string) (string, error) {
	absolute, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolving %s: %w", path, err)
	}
	if _, err := os.Stat(absolute); err != nil {
		return "", fmt.Errorf("saving %s: %w", path, err)
	}
	destination := filepath.Join(runDir, filepath.Base(absolute))
	if existing, err := os.Readlink(destination); err == nil && existing == absolute {
		return destination, nil
	}
	if err := os.Symlink(absolute, destination); err != nil {
		return "", fmt.Errorf("linking %s into run directory: %w", path, err)
	}
	return destination, nil
}
