// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package rundir

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// appendJSONL appends v to path as a single line. Each call is one
// write on an O_APPEND descriptor, so concurrent appenders in separate
// processes never interleave within a line.
func appendJSONL(path string, v any) error {
	var buffer bytes.Buffer
	encoder := json.NewEncoder(&buffer)
	encoder.SetEscapeHTML(false)
	if err := encoder.Encode(v); err != nil {
		return fmt.Errorf("encoding %s row: %w", filepath.Base(path), err)
	}

	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("opening %s: %w", filepath.Base(path), err)
	}
	defer file.Close()
	if _, err := file.Write(buffer.Bytes()); err != nil {
		return fmt.Errorf("appending to %s: %w", filepath.Base(path), err)
	}
	return nil
}

// ReadJSONL decodes every line of path. Blank lines are skipped.
func ReadJSONL(path string) ([]map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var rows []map[string]any
	for _, line := range bytes.Split(data, []byte("\n")) {
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		var row map[string]any
		if err := json.Unmarshal(line, &row); err != nil {
			return nil, fmt.Errorf("decoding %s line %d: %w", filepath.Base(path), len(rows)+1, err)
		}
		rows = append(rows, row)
	}
	return rows, nil
}
