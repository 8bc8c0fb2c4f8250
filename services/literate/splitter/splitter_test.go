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
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleSource = `import Mathlib
/-@tex
\section{Intro} see \lean{foo}
  /-@bib
@book{k, title={T}}
  @-/
more prose
@-/
theorem foo : True := by
  trivial
/-@
alias prose
@-/
`

type recorder struct {
	lines []Line
}

func (r *recorder) HandleLine(_ context.Context, line Line) error {
	r.lines = append(r.lines, line)
	return nil
}

func newTestSplitter() (*Splitter, *CodeBuffer, *TextBuffer, *recorder) {
	s := New(DefaultDirectiveTable())
	code := &CodeBuffer{}
	bib := &TextBuffer{}
	rec := &recorder{}
	s.Subscribe(code, ModeCode)
	s.Subscribe(bib, ModeBibliography)
	s.Subscribe(rec, ModeCode, ModeProse)
	return s, code, bib, rec
}

func TestSplitter_Routing(t *testing.T) {
	s, code, bib, rec := newTestSplitter()
	ctx := context.Background()

	require.NoError(t, s.FeedAll(ctx, strings.NewReader(sampleSource)))
	require.NoError(t, s.Finish())

	assert.Equal(t, []string{"import Mathlib", "theorem foo : True := by", "  trivial"}, code.Lines())
	assert.Equal(t, "@book{k, title={T}}\n", bib.Text())

	var modes []Mode
	var numbers []int
	for _, l := range rec.lines {
		modes = append(modes, l.Mode)
		numbers = append(numbers, l.Number)
	}
	assert.Equal(t, []Mode{ModeCode, ModeProse, ModeProse, ModeCode, ModeCode, ModeProse}, modes)
	assert.Equal(t, []int{1, 3, 7, 9, 10, 12}, numbers)

	assert.Equal(t, 1, s.Depth())
	assert.Equal(t, 3, s.Count(ModeCode))
	assert.Equal(t, 3, s.Count(ModeProse))
	assert.Equal(t, 1, s.Count(ModeBibliography))
	assert.Equal(t, 13, s.LastLine())
}

func TestSplitter_CodeBufferBeforeLaterHandlers(t *testing.T) {
	s := New(DefaultDirectiveTable())
	code := &CodeBuffer{}
	var seen []int
	s.Subscribe(code, ModeCode)
	s.Subscribe(HandlerFunc(func(_ context.Context, line Line) error {
		seen = append(seen, code.Len())
		text, ok := code.Line(code.Len())
		assert.True(t, ok)
		assert.Equal(t, line.Text, text)
		return nil
	}), ModeCode)

	ctx := context.Background()
	for i, text := range []string{"a", "/-@", "prose", "@-/", "b", "c"} {
		require.NoError(t, s.Feed(ctx, i+1, text))
	}
	assert.Equal(t, []int{1, 2, 3}, seen)
}

func TestSplitter_CodeRoundTrip(t *testing.T) {
	s, code, _, _ := newTestSplitter()
	require.NoError(t, s.FeedAll(context.Background(), strings.NewReader(sampleSource)))

	var want []string
	mode := []Mode{ModeCode}
	for _, line := range strings.Split(strings.TrimSuffix(sampleSource, "\n"), "\n") {
		switch strings.TrimSpace(line) {
		case "/-@tex", "/-@":
			mode = append(mode, ModeProse)
		case "/-@bib":
			mode = append(mode, ModeBibliography)
		case "@-/":
			mode = mode[:len(mode)-1]
		default:
			if mode[len(mode)-1] == ModeCode {
				want = append(want, line)
			}
		}
	}
	assert.Equal(t, want, code.Lines())
}

func TestSplitter_DirectiveErrors(t *testing.T) {
	t.Run("end without open block", func(t *testing.T) {
		s, _, _, _ := newTestSplitter()
		err := s.FeedAll(context.Background(), strings.NewReader("code\n  @-/  \n"))

		var de *DirectiveError
		require.ErrorAs(t, err, &de)
		assert.Equal(t, 2, de.Line)
		assert.Equal(t, "@-/", de.Directive)
		assert.ErrorIs(t, err, ErrUnbalancedDirective)
		assert.Equal(t, 1, s.Depth(), "stack is never empty")
	})

	t.Run("unclosed block names the opening line", func(t *testing.T) {
		s, _, _, _ := newTestSplitter()
		require.NoError(t, s.FeedAll(context.Background(), strings.NewReader("a\n/-@tex\nx\n/-@bib\ny\n")))

		err := s.Finish()
		var de *DirectiveError
		require.ErrorAs(t, err, &de)
		assert.Equal(t, 4, de.Line)
		assert.Equal(t, "/-@bib", de.Directive)
	})

	t.Run("handler errors carry the line", func(t *testing.T) {
		s := New(DefaultDirectiveTable())
		boom := errors.New("boom")
		s.Subscribe(HandlerFunc(func(context.Context, Line) error { return boom }), ModeCode)

		err := s.Feed(context.Background(), 7, "x")
		require.ErrorIs(t, err, boom)
		assert.Contains(t, err.Error(), "line 7")
	})
}

func TestSplitter_NearMissDirectivesAreContent(t *testing.T) {
	s, code, _, _ := newTestSplitter()
	lines := []string{"/-@tex extra", "/- @", "-- @-/", "/-!"}
	for i, l := range lines {
		require.NoError(t, s.Feed(context.Background(), i+1, l))
	}
	assert.Equal(t, lines, code.Lines())
	assert.Equal(t, ModeCode, s.Mode())
}

func TestNewDirectiveTable(t *testing.T) {
	tests := []struct {
		name    string
		s       Spellings
		wantErr bool
	}{
		{name: "defaults", s: DefaultSpellings()},
		{name: "custom", s: Spellings{Prose: []string{"/-tex"}, Bibliography: []string{"/-bib"}, End: []string{"-/"}}},
		{name: "duplicate", s: Spellings{Prose: []string{"/-@"}, Bibliography: []string{"/-@"}, End: []string{"@-/"}}, wantErr: true},
		{name: "inner whitespace", s: Spellings{Prose: []string{"/- @"}, Bibliography: []string{"/-@bib"}, End: []string{"@-/"}}, wantErr: true},
		{name: "missing end", s: Spellings{Prose: []string{"/-@"}, Bibliography: []string{"/-@bib"}}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewDirectiveTable(tt.s)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestModeString(t *testing.T) {
	assert.Equal(t, "code", ModeCode.String())
	assert.Equal(t, "prose", ModeProse.String())
	assert.Equal(t, "bibliography", ModeBibliography.String())
	assert.Equal(t, "mode(9)", Mode(9).String())
}
