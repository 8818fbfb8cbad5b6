// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec holds the shared CBOR configuration for runcapture's
// internal wire traffic.
//
// The boundary between the two serialization formats:
//
//   - JSON for anything a human or an outside tool reads: the launch
//     descriptor passed on the daemon's command line and every file in
//     the run directory (wandb-metadata.json, history, summary, events).
//   - CBOR for the supervisor↔daemon handshake socket. Messages are
//     self-delimiting, so no length prefix is needed on the stream.
//
// For stream-oriented use (the handshake connection):
//
//	encoder := codec.NewEncoder(conn)
//	decoder := codec.NewDecoder(conn)
//
// The encoder uses Core Deterministic Encoding (RFC 8949 §4.2), so the
// same message always produces the same bytes.
package codec
