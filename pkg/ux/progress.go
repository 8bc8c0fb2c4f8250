// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ux

import (
	"fmt"
	"io"
	"sync"

	"github.com/mattn/go-isatty"
)

// progressWidth is the bar width in cells.
const progressWidth = 24

// Progress redraws a "Processing line n/N (p%)" status line.
//
// It draws only on a terminal and never when quiet, so piped output and CI
// logs stay clean. Redraws happen when the percentage changes.
type Progress struct {
	mu      sync.Mutex
	w       io.Writer
	total   int
	enabled bool
	lastPct int
	drawn   bool
}

// NewProgress creates a reporter for total lines writing to w.
func NewProgress(w io.Writer, total int, quiet bool) *Progress {
	return newProgress(w, total, !quiet && IsTerminal(w))
}

func newProgress(w io.Writer, total int, enabled bool) *Progress {
	return &Progress{w: w, total: total, enabled: enabled, lastPct: -1}
}

// IsTerminal reports whether w is a terminal file descriptor.
func IsTerminal(w io.Writer) bool {
	f, ok := w.(interface{ Fd() uintptr })
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// Update reports that line n has been processed.
func (p *Progress) Update(n int) {
	if !p.enabled {
		return
	}
	pct := 100
	if p.total > 0 {
		pct = n * 100 / p.total
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if pct == p.lastPct && n != p.total {
		return
	}
	p.lastPct = pct
	p.drawn = true
	fmt.Fprintf(p.w, "\r\033[KProcessing line %d/%d (%d%%) %s", n, p.total, pct,
		ProgressBar(n, p.total, progressWidth))
}

// Done clears the status line.
func (p *Progress) Done() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.drawn {
		fmt.Fprint(p.w, "\r\033[K")
		p.drawn = false
	}
}
