// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package capture is the process-wide entry point for programs that
// want their run recorded without managing a [headless.Run] directly.
//
// A training program's main typically looks like:
//
//	func main() {
//		capture.Main(headless.Options{Config: hyperparameters}, train)
//	}
//
//	func train(ctx context.Context, run *headless.Run) error {
//		for epoch := range 10 {
//			capture.Log(map[string]any{"epoch": epoch, "loss": step()})
//		}
//		return nil
//	}
//
// [Main] initializes the run, watches for SIGINT and SIGTERM, guards
// the training function against errors and panics, and exits with the
// code the run recorded: 0 on success, 1 for an error or panic, 255
// for an interrupt. Programs that need their own main loop call [Init]
// and end with [Exit] instead.
package capture
