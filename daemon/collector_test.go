// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package daemon

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bureau-foundation/runcapture/lib/atomicfile"
	"github.com/bureau-foundation/runcapture/lib/env"
	"github.com/bureau-foundation/runcapture/lib/handshake"
	"github.com/bureau-foundation/runcapture/lib/launcher"
	"github.com/bureau-foundation/runcapture/lib/rundir"
	"github.com/bureau-foundation/runcapture/lib/upload"
)

// safeBuffer is a bytes.Buffer usable from the copier goroutines.
type safeBuffer struct {
	mu     sync.Mutex
	buffer bytes.Buffer
}

func (b *safeBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buffer.Write(p)
}

func (b *safeBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buffer.String()
}

type harness struct {
	runDir   string
	server   *handshake.Server
	stdout   *os.File
	stderr   *os.File
	terminal *safeBuffer
	result   chan int
	runErr   chan error
}

// startCollector runs a Collector in-process against pipes and a real
// handshake server, and waits for it to report ready.
func startCollector(t *testing.T, cloud bool) *harness {
	t.Helper()
	runDir := t.TempDir()
	server, err := handshake.Open()
	if err != nil {
		t.Fatalf("handshake.Open: %v", err)
	}
	t.Cleanup(func() { server.Close() })

	stdoutRead, stdoutWrite, err := os.Pipe()
	if err != nil {
		t.Fatalf("Pipe: %v", err)
	}
	stderrRead, stderrWrite, err := os.Pipe()
	if err != nil {
		t.Fatalf("Pipe: %v", err)
	}
	streams := map[int]*os.File{3: stdoutRead, 4: stderrRead}

	terminal := &safeBuffer{}
	collector, err := New(Config{
		Descriptor: &launcher.Descriptor{
			Command:          launcher.CommandHeadless,
			PID:              os.Getpid(),
			StdoutStreamID:   3,
			StderrStreamID:   4,
			Cloud:            cloud,
			JobType:          "train",
			HandshakeAddress: server.Address(),
		},
		Environ: env.Environ{
			env.RunDir:  runDir,
			env.RunID:   "testrun1",
			env.Program: "train",
			env.Mode:    "dryrun",
		},
		TerminalStdout: terminal,
		TerminalStderr: terminal,
		OpenStream:     func(fd int) *os.File { return streams[fd] },
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	h := &harness{
		runDir:   runDir,
		server:   server,
		stdout:   stdoutWrite,
		stderr:   stderrWrite,
		terminal: terminal,
		result:   make(chan int, 1),
		runErr:   make(chan error, 1),
	}
	go func() {
		code, err := collector.Run(context.Background())
		h.result <- code
		h.runErr <- err
	}()

	server.ExpectPeer(os.Getpid())
	if ready, message := server.AwaitReady(context.Background(), 10*time.Second); !ready {
		t.Fatalf("collector never reported ready: %s", message)
	}
	metadata, err := rundir.ReadMetadata(runDir)
	if err != nil {
		t.Fatalf("ReadMetadata: %v", err)
	}
	if metadata.State != rundir.StateRunning {
		t.Errorf("state while running = %q", metadata.State)
	}
	return h
}

func (h *harness) wait(t *testing.T) int {
	t.Helper()
	select {
	case code := <-h.result:
		if err := <-h.runErr; err != nil {
			t.Fatalf("Run: %v", err)
		}
		return code
	case <-time.After(10 * time.Second):
		t.Fatal("collector did not finish")
		return 0
	}
}

func eventKinds(t *testing.T, runDir string) []string {
	t.Helper()
	rows, err := rundir.ReadJSONL(filepath.Join(runDir, rundir.EventsFile))
	if err != nil {
		t.Fatalf("reading events: %v", err)
	}
	var kinds []string
	for _, row := range rows {
		kinds = append(kinds, row["_event"].(string))
	}
	return kinds
}

func TestCollectorFinishedRun(t *testing.T) {
	h := startCollector(t, false)

	h.stdout.WriteString("loss: 0.5\n")
	h.stderr.WriteString("warning: slow epoch\n")
	h.stdout.Close()
	h.stderr.Close()
	if err := h.server.SignalDone(0); err != nil {
		t.Fatalf("SignalDone: %v", err)
	}
	if code := h.wait(t); code != 0 {
		t.Fatalf("exit code = %d, want 0", code)
	}

	metadata, err := rundir.ReadMetadata(h.runDir)
	if err != nil {
		t.Fatalf("ReadMetadata: %v", err)
	}
	if metadata.State != rundir.StateFinished || metadata.ExitCode != 0 || metadata.Program != "train" {
		t.Errorf("metadata = %+v", metadata)
	}
	if metadata.ID != "testrun1" || metadata.FinishedAt == nil {
		t.Errorf("metadata identity = %+v", metadata)
	}
	if metadata.System == nil || metadata.System.CPUCount == 0 {
		t.Errorf("host inventory missing: %+v", metadata.System)
	}

	output, err := os.ReadFile(filepath.Join(h.runDir, rundir.OutputFile))
	if err != nil {
		t.Fatalf("reading output log: %v", err)
	}
	for _, line := range []string{"loss: 0.5", "warning: slow epoch"} {
		if !strings.Contains(string(output), line) {
			t.Errorf("output.log missing %q: %q", line, output)
		}
		if !strings.Contains(h.terminal.String(), line) {
			t.Errorf("terminal missing %q", line)
		}
	}

	for _, name := range []string{rundir.HistoryFile, rundir.EventsFile, rundir.SummaryFile} {
		if _, err := os.Stat(filepath.Join(h.runDir, name)); err != nil {
			t.Errorf("%s: %v", name, err)
		}
	}
	kinds := strings.Join(eventKinds(t, h.runDir), ",")
	if kinds != "started,ready,done" {
		t.Errorf("events = %s", kinds)
	}
	if _, err := os.Stat(filepath.Join(h.runDir, upload.DirName)); !os.IsNotExist(err) {
		t.Errorf("dry-run was staged for upload: %v", err)
	}
}

func TestCollectorFailedRun(t *testing.T) {
	h := startCollector(t, false)
	h.stderr.WriteString("panic: boom\n")
	h.stdout.Close()
	h.stderr.Close()
	h.server.SignalDone(1)
	if code := h.wait(t); code != 1 {
		t.Fatalf("exit code = %d, want 1", code)
	}
	metadata, _ := rundir.ReadMetadata(h.runDir)
	if metadata.State != rundir.StateFailed || metadata.ExitCode != 1 {
		t.Errorf("state = %q exit = %d, want failed 1", metadata.State, metadata.ExitCode)
	}
}

func TestCollectorParentLost(t *testing.T) {
	h := startCollector(t, false)
	h.stdout.Close()
	h.stderr.Close()
	h.server.Close()

	if code := h.wait(t); code != rundir.ExitInterrupted {
		t.Fatalf("exit code = %d, want 255", code)
	}
	metadata, _ := rundir.ReadMetadata(h.runDir)
	if metadata.State != rundir.StateKilled {
		t.Errorf("state = %q, want killed", metadata.State)
	}
	kinds := eventKinds(t, h.runDir)
	if kinds[len(kinds)-1] != rundir.EventParentLost {
		t.Errorf("events = %v, want parent_lost last", kinds)
	}
}

func TestCollectorDrainBudget(t *testing.T) {
	h := startCollector(t, false)
	// The write end of stdout stays open, as if a grandchild held it.
	defer h.stdout.Close()
	h.stderr.Close()
	h.stdout.WriteString("partial line")
	h.server.SignalDone(0)

	if code := h.wait(t); code != 0 {
		t.Fatalf("exit code = %d", code)
	}
	output, _ := os.ReadFile(filepath.Join(h.runDir, rundir.OutputFile))
	if string(output) != "partial line" {
		t.Errorf("output.log = %q", output)
	}
}

func TestCollectorCloudRunIsStaged(t *testing.T) {
	h := startCollector(t, true)
	h.stdout.WriteString("epoch 1\n")
	h.stdout.Close()
	h.stderr.Close()
	h.server.SignalDone(0)
	h.wait(t)

	stageDir := filepath.Join(h.runDir, upload.DirName)
	var manifest upload.Manifest
	if err := atomicfile.ReadJSON(filepath.Join(stageDir, upload.ManifestFile), &manifest); err != nil {
		t.Fatalf("reading manifest: %v", err)
	}
	staged := make(map[string]bool)
	for _, entry := range manifest.Files {
		staged[entry.Name] = true
	}
	for _, name := range []string{rundir.OutputFile, rundir.MetadataFile, rundir.EventsFile} {
		if !staged[name] {
			t.Errorf("manifest does not list %s: %+v", name, manifest.Files)
		}
	}
	if err := upload.Verify(stageDir, &manifest); err != nil {
		t.Errorf("Verify: %v", err)
	}
}

func TestNewRequiresRunDir(t *testing.T) {
	_, err := New(Config{
		Descriptor: &launcher.Descriptor{Command: launcher.CommandHeadless},
		Environ:    env.Environ{},
	})
	if err == nil {
		t.Fatal("New accepted an environment without a run directory")
	}
}
