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
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConsole(t *testing.T) {
	var buf bytes.Buffer
	c := NewConsole(&buf, false)
	c.Success("wrote 4 artifacts")
	c.File("out/out.tex")
	c.Warning("oracle reported 2 diagnostics")

	out := buf.String()
	assert.Contains(t, out, "wrote 4 artifacts")
	assert.Contains(t, out, "out/out.tex")
	assert.Contains(t, out, "2 diagnostics")
	assert.Equal(t, 3, strings.Count(out, "\n"))
}

func TestConsole_QuietPrintsOnlyErrors(t *testing.T) {
	var buf bytes.Buffer
	c := NewConsole(&buf, true)
	c.Title("literatelean")
	c.Info("3 blocks")
	c.Error("oracle crashed")

	assert.NotContains(t, buf.String(), "3 blocks")
	assert.Contains(t, buf.String(), "oracle crashed")
}

func TestProgressBar(t *testing.T) {
	tests := []struct {
		name           string
		current, total int
		wantPct        string
	}{
		{"half", 5, 10, " 50%"},
		{"done", 10, 10, "100%"},
		{"empty document", 0, 0, "100%"},
		{"overflow clamps", 12, 10, "100%"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.True(t, strings.HasSuffix(ProgressBar(tt.current, tt.total, 10), tt.wantPct))
		})
	}
}

func TestProgress_SilentWhenNotTerminal(t *testing.T) {
	var buf bytes.Buffer
	p := NewProgress(&buf, 10, false)
	for i := 1; i <= 10; i++ {
		p.Update(i)
	}
	p.Done()
	assert.Empty(t, buf.String())
	assert.False(t, IsTerminal(&buf))
}

func TestProgress_RedrawsOnPercentChange(t *testing.T) {
	var buf bytes.Buffer
	p := newProgress(&buf, 300, true)
	p.Update(1)
	p.Update(2)
	p.Update(3)

	out := buf.String()
	assert.Contains(t, out, "Processing line 1/300 (0%)")
	assert.NotContains(t, out, "Processing line 2/300", "same percentage is not redrawn")
	assert.Contains(t, out, "Processing line 3/300 (1%)")

	p.Done()
	assert.True(t, strings.HasSuffix(buf.String(), "\r\033[K"))
}
