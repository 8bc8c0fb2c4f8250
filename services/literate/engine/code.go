// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/AleutianAI/LiterateLean/services/literate/splitter"
)

// tokenDelimiters end a proof-state token even without whitespace.
const tokenDelimiters = "[],;"

// handleCode runs the code pipeline on one line. The code buffer already
// holds the line, so its length is this line's code number.
func (e *Engine) handleCode(ctx context.Context, line splitter.Line) error {
	codeLine := e.code.Len()
	anchor := codeLine
	if e.cfg.Anchor == AnchorDocument {
		anchor = line.Number
	}

	// 1. Folding.
	if e.hidden {
		if endsWithMarker(line.Text, e.cfg.Markers.FoldClose) {
			e.hidden = false
			e.emit(FragmentComment, e.cfg.Render.comment(codeLine, leadingIndent(line.Text),
				fmt.Sprintf("%d lines hidden", e.hiddenCount)))
			e.logger.Debug("Fold closed",
				slog.Int("code_line", codeLine),
				slog.Int("hidden_lines", e.hiddenCount),
			)
			return nil
		}
		e.hiddenCount++
		e.stats.HiddenLines++
		return nil
	}

	visible := strings.TrimRightFunc(line.Text, unicode.IsSpace)
	if strings.HasSuffix(visible, e.cfg.Markers.FoldOpen) {
		visible = strings.TrimRightFunc(strings.TrimSuffix(visible, e.cfg.Markers.FoldOpen), unicode.IsSpace)
		e.hidden = true
		e.hiddenCount = 0
	}

	// 2. Inline extraction.
	visible, extras, err := e.extract(ctx, anchor, codeLine, line.Text, visible)
	if err != nil {
		return fmt.Errorf("code line %d: %w", codeLine, err)
	}

	// 3. Proof-state diff scan.
	rendered, err := e.scanGoals(ctx, anchor, codeLine, line, visible)
	if err != nil {
		return fmt.Errorf("code line %d: %w", codeLine, err)
	}

	// 4. Symbol labels.
	names, err := e.oracle.SymbolsAt(ctx, anchor)
	if err != nil {
		return fmt.Errorf("code line %d: %w", codeLine, err)
	}
	for _, name := range names {
		rendered += symbolLabel(name)
		e.stats.SymbolLabels++
	}

	// 5. Gutter.
	if strings.TrimSpace(rendered) != "" {
		rendered = e.cfg.Render.gutter(codeLine) + rendered
	}
	e.emit(FragmentCodeLine, rendered+"\n")

	// 6. Diagnostics.
	if msg, ok := e.oracle.DiagnosticAt(anchor); ok {
		e.stats.Diagnostics++
		for _, part := range strings.Split(msg, "\n") {
			e.emit(FragmentComment, e.cfg.Render.comment(codeLine, "", part))
		}
	}

	for _, extra := range extras {
		e.emit(FragmentComment, extra)
	}
	return nil
}

// extract strips a trailing extraction marker and renders the requested goal
// lines as comments.
//
// With no tokens every line of the goal after the stripped line is returned;
// with tokens, for each token the first goal line starting with it. No goal
// means no comments.
func (e *Engine) extract(ctx context.Context, anchor, codeLine int, raw, visible string) (string, []string, error) {
	i := strings.LastIndex(visible, e.cfg.Markers.Extract)
	if i < 0 {
		return visible, nil, nil
	}
	tokens := strings.Fields(visible[i+len(e.cfg.Markers.Extract):])
	visible = visible[:i]

	e.stats.GoalQueries++
	goal, ok, err := e.oracle.GoalAt(ctx, anchor, raw, utf8.RuneCountInString(visible))
	if err != nil {
		return "", nil, err
	}
	if !ok || goal == "" {
		return visible, nil, nil
	}

	indent := leadingIndent(visible)
	goalLines := strings.Split(FormatGoal(goal), "\n")
	var extras []string
	if len(tokens) == 0 {
		for _, gl := range goalLines {
			extras = append(extras, e.cfg.Render.comment(codeLine, indent, gl))
		}
		return visible, extras, nil
	}
	for _, token := range tokens {
		for _, gl := range goalLines {
			if strings.HasPrefix(gl, token) {
				extras = append(extras, e.cfg.Render.comment(codeLine, indent, gl))
				break
			}
		}
	}
	return visible, extras, nil
}

// scanGoals queries the goal at every non-space position of visible and
// returns the line with a reference marker after each change's token.
func (e *Engine) scanGoals(ctx context.Context, anchor, codeLine int, line splitter.Line, visible string) (string, error) {
	runes := []rune(visible)
	markers := make(map[int][]string)

	for c, r := range runes {
		if unicode.IsSpace(r) {
			continue
		}
		e.stats.GoalQueries++
		goal, _, err := e.oracle.GoalAt(ctx, anchor, line.Text, c)
		if err != nil {
			return "", err
		}
		if goal == e.lastGoal {
			continue
		}
		e.lastGoal = goal
		if goal == "" {
			continue
		}

		// Lean applies a tactic once the cursor is past its first character,
		// so the token starts one position back and runs to the next space
		// or delimiter.
		start := max(0, c-1)
		end := c
		for end < len(runes) && !unicode.IsSpace(runes[end]) && !strings.ContainsRune(tokenDelimiters, runes[end]) {
			end++
		}

		e.records = append(e.records, ProofStateRecord{
			DocumentLine: line.Number,
			Column:       end,
			Token:        string(runes[start:end]),
			Goal:         goal,
			CodeLine:     codeLine,
		})
		e.stats.Records++
		markers[end] = append(markers[end], goalRef(line.Number, end))
	}

	if len(markers) == 0 {
		return visible, nil
	}
	var b strings.Builder
	for c := 0; c <= len(runes); c++ {
		for _, m := range markers[c] {
			b.WriteString(m)
		}
		if c < len(runes) {
			b.WriteRune(runes[c])
		}
	}
	return b.String(), nil
}

// endsWithMarker reports whether line ends with marker, ignoring trailing
// whitespace.
func endsWithMarker(line, marker string) bool {
	return strings.HasSuffix(strings.TrimRightFunc(line, unicode.IsSpace), marker)
}
