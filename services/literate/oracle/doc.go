// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package oracle talks to the Lean language server that annotates a
// literate document.
//
// The oracle is a long-lived child process spoken to with JSON-RPC 2.0 over
// stdio, each message framed as "Content-Length: n\r\n\r\n" plus n bytes.
//
// # Components
//
//   - Client: owns the process, frames messages, correlates replies,
//     applies publishDiagnostics notifications
//   - Port: typed queries for the annotation engine (symbols, goals,
//     diagnostics) with reply validation at the boundary
//   - ToPosition: the single conversion from internal 1-based lines and rune
//     columns to the oracle's 0-based, UTF-16 coordinates
//
// # Failure Model
//
// There is no retry and no reconnect. A crash, a framing violation or a
// timeout fails every pending and every later request with the same error,
// and the caller abandons the run.
//
// # Example
//
//	client, err := oracle.Start(ctx, oracle.DefaultConfig())
//	if err != nil {
//	    return err
//	}
//	defer client.Close(context.Background())
//
//	if err := client.Initialize(ctx, ""); err != nil {
//	    return err
//	}
//	if err := client.Open(uri, "lean4", text); err != nil {
//	    return err
//	}
//	port := oracle.NewPort(client, uri, "")
//	goal, ok, err := port.GoalAt(ctx, 12, lineText, 4)
package oracle
