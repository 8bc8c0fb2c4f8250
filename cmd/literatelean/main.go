// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command literatelean turns a literate Lean source into an annotated LaTeX
// document, a proof-state appendix, the bare Lean code and the bibliography.
//
// Usage:
//
//	literatelean <source-file> <base-url> [flags]
//	literatelean Notes.lean https://github.com/me/notes/blob/main/Notes.lean --out-dir build
//	literatelean Notes.lean https://... --anchor document --watch
//	literatelean config init ~/.literatelean.yaml
//
// The Lean language server is started once per run (`lean --server` unless
// configured otherwise) and asked about every position of every code line.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/AleutianAI/LiterateLean/pkg/ux"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := execute(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// execute runs the command line and returns the process exit code.
func execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	cmd := newRootCmd(stderr)
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	err := cmd.ExecuteContext(ctx)
	if err == nil {
		return 0
	}
	var ue usageError
	if errors.As(err, &ue) {
		fmt.Fprintf(stderr, "Error: %v\n\n%s", ue.err, ue.cmd.UsageString())
		return 1
	}
	ux.NewConsole(stderr, false).Error(err.Error())
	return 1
}
