// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package upload

import (
	"bytes"
	"crypto/rand"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/bureau-foundation/runcapture/lib/atomicfile"
)

func writeRunFile(t *testing.T, dir, name string, data []byte) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), data, 0o644); err != nil {
		t.Fatalf("WriteFile %s: %v", name, err)
	}
}

func TestStageWritesManifestAndVerifies(t *testing.T) {
	runDir := t.TempDir()
	logText := []byte(strings.Repeat("epoch 1 loss 0.25\n", 200))
	repetitive := bytes.Repeat([]byte{0, 1, 2, 3, 4, 5, 6, 7}, 4096)
	random := make([]byte, 8192)
	rand.Read(random)

	writeRunFile(t, runDir, "output.log", logText)
	writeRunFile(t, runDir, "weights.bin", repetitive)
	writeRunFile(t, runDir, "noise.bin", random)
	writeRunFile(t, runDir, "empty.dat", nil)
	if err := os.Mkdir(filepath.Join(runDir, "media"), 0o755); err != nil {
		t.Fatalf("Mkdir: %v", err)
	}

	saved := filepath.Join(t.TempDir(), "notes.txt")
	writeRunFile(t, filepath.Dir(saved), "notes.txt", []byte("linked by save\n"))
	if err := os.Symlink(saved, filepath.Join(runDir, "notes.txt")); err != nil {
		t.Fatalf("Symlink: %v", err)
	}

	manifest, err := Stage(runDir, "abc12345", time.Unix(1700000000, 0))
	if err != nil {
		t.Fatalf("Stage: %v", err)
	}

	want := map[string]Compression{
		"empty.dat":   CompressionNone,
		"noise.bin":   CompressionNone,
		"notes.txt":   CompressionZstd,
		"output.log":  CompressionZstd,
		"weights.bin": CompressionLZ4,
	}
	if len(manifest.Files) != len(want) {
		t.Fatalf("staged %d files, want %d: %+v", len(manifest.Files), len(want), manifest.Files)
	}
	for _, entry := range manifest.Files {
		if entry.Compression != want[entry.Name] {
			t.Errorf("%s compressed with %s, want %s", entry.Name, entry.Compression, want[entry.Name])
		}
		if len(entry.BLAKE3) != 64 {
			t.Errorf("%s digest %q is not 32 hex bytes", entry.Name, entry.BLAKE3)
		}
	}

	stageDir := filepath.Join(runDir, DirName)
	if err := Verify(stageDir, manifest); err != nil {
		t.Fatalf("Verify: %v", err)
	}

	var onDisk Manifest
	if err := atomicfile.ReadJSON(filepath.Join(stageDir, ManifestFile), &onDisk); err != nil {
		t.Fatalf("reading manifest: %v", err)
	}
	if onDisk.RunID != "abc12345" || len(onDisk.Files) != len(want) {
		t.Errorf("manifest on disk = %+v", onDisk)
	}
}

func TestStageTwiceReplacesOutput(t *testing.T) {
	runDir := t.TempDir()
	writeRunFile(t, runDir, "output.log", []byte("first\n"))
	if _, err := Stage(runDir, "id", time.Now()); err != nil {
		t.Fatalf("Stage: %v", err)
	}
	writeRunFile(t, runDir, "output.log", []byte("second run of staging\n"))
	manifest, err := Stage(runDir, "id", time.Now())
	if err != nil {
		t.Fatalf("Stage: %v", err)
	}
	if len(manifest.Files) != 1 {
		t.Fatalf("manifest has %d files, the upload directory was staged into itself", len(manifest.Files))
	}
	if err := Verify(filepath.Join(runDir, DirName), manifest); err != nil {
		t.Fatalf("Verify: %v", err)
	}
}

func TestVerifyDetectsTampering(t *testing.T) {
	runDir := t.TempDir()
	writeRunFile(t, runDir, "config.yaml", []byte("epochs: 3\n"))
	manifest, err := Stage(runDir, "id", time.Now())
	if err != nil {
		t.Fatalf("Stage: %v", err)
	}
	manifest.Files[0].BLAKE3 = strings.Repeat("0", 64)
	if err := Verify(filepath.Join(runDir, DirName), manifest); err == nil {
		t.Fatal("Verify accepted a wrong digest")
	}
}
