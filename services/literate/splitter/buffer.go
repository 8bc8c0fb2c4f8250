// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package splitter

import (
	"context"
	"strings"
)

// TextBuffer collects the lines of one mode verbatim.
type TextBuffer struct {
	lines []string
}

// HandleLine appends line.Text.
func (b *TextBuffer) HandleLine(_ context.Context, line Line) error {
	b.lines = append(b.lines, line.Text)
	return nil
}

// Len returns the number of lines collected.
func (b *TextBuffer) Len() int {
	return len(b.lines)
}

// Lines returns a copy of the collected lines.
func (b *TextBuffer) Lines() []string {
	return append([]string(nil), b.lines...)
}

// Text returns the lines joined, each terminated by a newline.
func (b *TextBuffer) Text() string {
	if len(b.lines) == 0 {
		return ""
	}
	return strings.Join(b.lines, "\n") + "\n"
}

// CodeBuffer is the ordered sequence of CODE lines.
//
// Its length is the authoritative 1-based code line number: once a CODE
// line has been handled, Len() is that line's number. Subscribe the buffer
// before anything that reads it.
type CodeBuffer struct {
	TextBuffer
}

// Line returns the 1-based code line n.
func (b *CodeBuffer) Line(n int) (string, bool) {
	if n < 1 || n > len(b.lines) {
		return "", false
	}
	return b.lines[n-1], true
}

// IsBlank reports whether code line n is empty after trimming. Lines that
// do not exist count as blank.
func (b *CodeBuffer) IsBlank(n int) bool {
	text, ok := b.Line(n)
	return !ok || strings.TrimSpace(text) == ""
}
