// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatchFile_RebuildsOnChange(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "doc.lean", "a\n")
	other := filepath.Join(dir, "other.lean")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rebuilds := make(chan struct{}, 8)
	done := make(chan error, 1)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	go func() {
		done <- watchFile(ctx, path, 20*time.Millisecond, logger, func(context.Context) {
			rebuilds <- struct{}{}
		})
	}()

	waitRebuild := func(msg string) {
		t.Helper()
		select {
		case <-rebuilds:
		case <-time.After(5 * time.Second):
			t.Fatal(msg)
		}
	}
	waitRebuild("no initial build")

	require.NoError(t, os.WriteFile(other, []byte("x\n"), 0o644))
	select {
	case <-rebuilds:
		t.Fatal("a sibling file triggered a rebuild")
	case <-time.After(200 * time.Millisecond):
	}

	require.NoError(t, os.WriteFile(path, []byte("b\n"), 0o644))
	waitRebuild("no rebuild after the source changed")

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("watcher did not stop")
	}
}

func TestWatchFile_MissingDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gone", "doc.lean")
	called := false
	err := watchFile(context.Background(), path, time.Millisecond, slog.Default(), func(context.Context) {
		called = true
	})
	assert.Error(t, err)
	assert.False(t, called)
}
