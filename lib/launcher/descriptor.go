// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package launcher

import (
	"encoding/json"
	"fmt"
)

// CommandHeadless is the only daemon command the supervisor issues.
const CommandHeadless = "headless"

// Descriptor is the daemon's single command-line argument. Stream IDs
// are descriptor numbers as the daemon sees them.
type Descriptor struct {
	Command          string `json:"command"`
	PID              int    `json:"pid"`
	StdoutStreamID   int    `json:"stdout_stream_id"`
	StderrStreamID   int    `json:"stderr_stream_id"`
	Cloud            bool   `json:"cloud"`
	JobType          string `json:"job_type"`
	HandshakeAddress string `json:"handshake_address"`
}

// Encode serializes the descriptor.
func (d Descriptor) Encode() (string, error) {
	data, err := json.Marshal(d)
	if err != nil {
		return "", fmt.Errorf("encoding launch descriptor: %w", err)
	}
	return string(data), nil
}

// ParseDescriptor decodes and validates a descriptor argument.
func ParseDescriptor(argument string) (*Descriptor, error) {
	var descriptor Descriptor
	if err := json.Unmarshal([]byte(argument), &descriptor); err != nil {
		return nil, fmt.Errorf("parsing launch descriptor: %w", err)
	}
	if descriptor.Command != CommandHeadless {
		return nil, fmt.Errorf("launch descriptor: unknown command %q", descriptor.Command)
	}
	if descriptor.StdoutStreamID <= 2 || descriptor.StderrStreamID <= 2 {
		return nil, fmt.Errorf("launch descriptor: stream IDs %d and %d must be above the standard descriptors",
			descriptor.StdoutStreamID, descriptor.StderrStreamID)
	}
	if descriptor.HandshakeAddress == "" {
		return nil, fmt.Errorf("launch descriptor: missing handshake address")
	}
	return &descriptor, nil
}
