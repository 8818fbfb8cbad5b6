// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package upload stages a finished run directory for a sync client.
//
// Stage writes every regular file of the run (following links made by
// Save) into an upload/ subdirectory, compressed, and records each one
// in upload/manifest.json with its original size, the compression
// used, and the BLAKE3 digest of the uncompressed bytes. Text-like
// files get zstd, everything else lz4 unless the probe finds it
// incompressible. The sync protocol itself lives elsewhere.
package upload

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	"github.com/zeebo/blake3"

	"github.com/bureau-foundation/runcapture/lib/atomicfile"
)

// DirName is the staging directory inside the run directory.
const DirName = "upload"

// ManifestFile is the manifest inside DirName.
const ManifestFile = "manifest.json"

// Compression names a staged file's encoding.
type Compression string

const (
	CompressionNone Compression = "none"
	CompressionLZ4  Compression = "lz4"
	CompressionZstd Compression = "zstd"
)

// Extension returns the suffix appended to staged file names.
func (c Compression) Extension() string {
	switch c {
	case CompressionLZ4:
		return ".lz4"
	case CompressionZstd:
		return ".zst"
	default:
		return ""
	}
}

// Entry describes one staged file.
type Entry struct {
	Name        string      `json:"name"`
	Size        int64       `json:"size"`
	Compression Compression `json:"compression"`
	StagedName  string      `json:"staged_name"`
	StagedSize  int64       `json:"staged_size"`
	BLAKE3      string      `json:"blake3"`
}

// Manifest is upload/manifest.json.
type Manifest struct {
	RunID    string    `json:"run_id"`
	StagedAt time.Time `json:"staged_at"`
	Files    []Entry   `json:"files"`
}

// textExtensions are always compressed with zstd.
var textExtensions = map[string]bool{
	".log": true, ".json": true, ".jsonl": true, ".yaml": true, ".yml": true,
	".txt": true, ".md": true, ".csv": true, ".py": true, ".go": true,
	".toml": true, ".html": true, ".xml": true, ".patch": true, ".diff": true,
}

var zstdEncoder *zstd.Encoder

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("upload: zstd encoder initialization failed: " + err.Error())
	}
}

// Stage compresses every file of runDir into runDir/upload and writes
// the manifest. Existing staged output is replaced.
func Stage(runDir, runID string, now time.Time) (*Manifest, error) {
	stageDir := filepath.Join(runDir, DirName)
	if err := os.RemoveAll(stageDir); err != nil {
		return nil, fmt.Errorf("clearing %s: %w", stageDir, err)
	}
	if err := os.MkdirAll(stageDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating %s: %w", stageDir, err)
	}

	entries, err := os.ReadDir(runDir)
	if err != nil {
		return nil, fmt.Errorf("listing run directory: %w", err)
	}
	manifest := &Manifest{RunID: runID, StagedAt: now.UTC(), Files: []Entry{}}
	for _, entry := range entries {
		if entry.Name() == DirName {
			continue
		}
		path := filepath.Join(runDir, entry.Name())
		// Stat follows links created by Save.
		info, err := os.Stat(path)
		if err != nil || !info.Mode().IsRegular() {
			continue
		}
		staged, err := stageFile(path, stageDir)
		if err != nil {
			return nil, err
		}
		manifest.Files = append(manifest.Files, *staged)
	}
	sort.Slice(manifest.Files, func(i, j int) bool { return manifest.Files[i].Name < manifest.Files[j].Name })

	if err := atomicfile.WriteJSON(filepath.Join(stageDir, ManifestFile), manifest); err != nil {
		return nil, fmt.Errorf("writing upload manifest: %w", err)
	}
	return manifest, nil
}

func stageFile(path, stageDir string) (*Entry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	name := filepath.Base(path)
	compression := selectCompression(name, data)
	compressed, err := compress(data, compression)
	if err != nil {
		return nil, fmt.Errorf("compressing %s: %w", name, err)
	}

	digest := blake3.Sum256(data)
	stagedName := name + compression.Extension()
	if err := atomicfile.WriteFile(filepath.Join(stageDir, stagedName), compressed, 0o644); err != nil {
		return nil, err
	}
	return &Entry{
		Name:        name,
		Size:        int64(len(data)),
		Compression: compression,
		StagedName:  stagedName,
		StagedSize:  int64(len(compressed)),
		BLAKE3:      hex.EncodeToString(digest[:]),
	}, nil
}

// selectCompression uses zstd for known text files. Other content is
// probed: a zstd ratio under 1.1 means it is not worth compressing.
func selectCompression(name string, data []byte) Compression {
	if textExtensions[strings.ToLower(filepath.Ext(name))] {
		return CompressionZstd
	}
	if len(data) == 0 {
		return CompressionNone
	}
	probe := data
	if len(probe) > 64*1024 {
		probe = probe[:64*1024]
	}
	ratio := float64(len(probe)) / float64(len(zstdEncoder.EncodeAll(probe, nil)))
	if ratio < 1.1 {
		return CompressionNone
	}
	return CompressionLZ4
}

func compress(data []byte, compression Compression) ([]byte, error) {
	switch compression {
	case CompressionNone:
		return data, nil
	case CompressionZstd:
		return zstdEncoder.EncodeAll(data, nil), nil
	case CompressionLZ4:
		var buffer bytes.Buffer
		writer := lz4.NewWriter(&buffer)
		if _, err := writer.Write(data); err != nil {
			return nil, fmt.Errorf("lz4: %w", err)
		}
		if err := writer.Close(); err != nil {
			return nil, fmt.Errorf("lz4: %w", err)
		}
		return buffer.Bytes(), nil
	default:
		return nil, fmt.Errorf("unsupported compression %q", compression)
	}
}

// Open returns a reader over the uncompressed content of a staged
// entry.
func Open(stageDir string, entry Entry) (io.ReadCloser, error) {
	file, err := os.Open(filepath.Join(stageDir, entry.StagedName))
	if err != nil {
		return nil, err
	}
	switch entry.Compression {
	case CompressionNone:
		return file, nil
	case CompressionLZ4:
		return readCloser{Reader: lz4.NewReader(file), closer: file}, nil
	case CompressionZstd:
		decoder, err := zstd.NewReader(file)
		if err != nil {
			file.Close()
			return nil, fmt.Errorf("zstd: %w", err)
		}
		return readCloser{Reader: decoder, closer: closerFunc(func() error {
			decoder.Close()
			return file.Close()
		})}, nil
	default:
		file.Close()
		return nil, errors.New("unsupported compression " + string(entry.Compression))
	}
}

// Verify checks every manifest entry against its staged content.
func Verify(stageDir string, manifest *Manifest) error {
	for _, entry := range manifest.Files {
		reader, err := Open(stageDir, entry)
		if err != nil {
			return fmt.Errorf("opening staged %s: %w", entry.Name, err)
		}
		hasher := blake3.New()
		size, err := io.Copy(hasher, reader)
		reader.Close()
		if err != nil {
			return fmt.Errorf("reading staged %s: %w", entry.Name, err)
		}
		if size != entry.Size {
			return fmt.Errorf("staged %s: %d bytes, manifest says %d", entry.Name, size, entry.Size)
		}
		if digest := hex.EncodeToString(hasher.Sum(nil)); digest != entry.BLAKE3 {
			return fmt.Errorf("staged %s: digest %s, manifest says %s", entry.Name, digest, entry.BLAKE3)
		}
	}
	return nil
}

type readCloser struct {
	io.Reader
	closer io.Closer
}

func (r readCloser) Close() error { return r.closer.Close() }

type closerFunc func() error

func (f closerFunc) Close() error { return f() }
