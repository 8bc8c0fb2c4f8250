// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package engine is the single-pass annotation pipeline.
//
// The engine consumes CODE and PROSE lines in document order. Prose lines
// have their \lean{...} references rewritten. Code lines go through folding,
// inline goal extraction, the proof-state diff scan, symbol labelling, line
// numbering and diagnostic emission, in that order, and come out as ordered
// fragments plus proof-state records.
//
// The pass is strictly sequential: every oracle query blocks until its
// answer arrives before the next character is examined.
package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/AleutianAI/LiterateLean/services/literate/splitter"
)

// Oracle is what the engine asks about the document. Lines are 1-based in
// the coordinate system the oracle document was opened with; columns are
// 0-based rune offsets into lineText.
type Oracle interface {
	SymbolsAt(ctx context.Context, line int) ([]string, error)
	GoalAt(ctx context.Context, line int, lineText string, column int) (string, bool, error)
	DiagnosticAt(line int) (string, bool)
}

// CodeLines is the read side of the code buffer.
type CodeLines interface {
	Len() int
	IsBlank(n int) bool
}

// Anchor selects which line numbers are sent to the oracle.
type Anchor string

const (
	// AnchorCode sends code line numbers: the oracle document is the code
	// artifact.
	AnchorCode Anchor = "code"

	// AnchorDocument sends document line numbers: the oracle document is the
	// whole source.
	AnchorDocument Anchor = "document"
)

// FragmentKind classifies an output fragment.
type FragmentKind int

const (
	FragmentBlockOpen FragmentKind = iota
	FragmentBlockClose
	FragmentCodeLine
	FragmentComment
	FragmentProse
)

// String returns the kind name.
func (k FragmentKind) String() string {
	switch k {
	case FragmentBlockOpen:
		return "block-open"
	case FragmentBlockClose:
		return "block-close"
	case FragmentCodeLine:
		return "code"
	case FragmentComment:
		return "comment"
	case FragmentProse:
		return "prose"
	default:
		return fmt.Sprintf("fragment(%d)", int(k))
	}
}

// Fragment is one ordered piece of the annotated artifact. Text carries its
// own trailing newline.
type Fragment struct {
	Kind FragmentKind
	Text string
}

// ProofStateRecord is one detected goal change.
type ProofStateRecord struct {
	// DocumentLine is the 1-based source line of the change.
	DocumentLine int

	// Column is the rune offset where the triggering token ends; the
	// reference marker sits there.
	Column int

	// Token is the text of the triggering token.
	Token string

	// Goal is the goal text reported after the change.
	Goal string

	// CodeLine is the 1-based code line the change was rendered on.
	CodeLine int
}

// Config configures an Engine.
type Config struct {
	// BaseURL is the source URL block back-links point into.
	BaseURL string

	Anchor  Anchor
	Render  Render
	Markers Markers

	// Logger receives debug logs. Nil means slog.Default().
	Logger *slog.Logger
}

// Stats counts what a pass did.
type Stats struct {
	GoalQueries  int
	Records      int
	Blocks       int
	HiddenLines  int
	Diagnostics  int
	SymbolLabels int
}

// Engine runs the annotation pass.
//
// Description:
//
//	Subscribe it to both ModeCode and ModeProse after the code buffer. Mode
//	transitions are detected from the mode of consecutive lines, starting
//	as if the previous line was prose, so a leading code line opens a block.
//	Bibliography lines never reach the engine and do not close a block.
//
// Thread Safety:
//
//	Not safe for concurrent use.
type Engine struct {
	cfg    Config
	oracle Oracle
	code   CodeLines
	logger *slog.Logger

	prevMode   splitter.Mode
	blockStart int

	hidden      bool
	hiddenCount int

	lastGoal string

	fragments []Fragment
	records   []ProofStateRecord
	stats     Stats
}

// New creates an engine reading code line numbers from code.
func New(cfg Config, oracle Oracle, code CodeLines) *Engine {
	if cfg.Anchor == "" {
		cfg.Anchor = AnchorCode
	}
	if cfg.Render == (Render{}) {
		cfg.Render = DefaultRender()
	}
	if cfg.Markers == (Markers{}) {
		cfg.Markers = DefaultMarkers()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		cfg:      cfg,
		oracle:   oracle,
		code:     code,
		logger:   logger.With(slog.String("component", "engine")),
		prevMode: splitter.ModeProse,
	}
}

// HandleLine implements splitter.Handler.
func (e *Engine) HandleLine(ctx context.Context, line splitter.Line) error {
	switch line.Mode {
	case splitter.ModeCode, splitter.ModeProse:
	default:
		return nil
	}

	e.transition(line.Mode)

	if line.Mode == splitter.ModeProse {
		e.emit(FragmentProse, rewriteProse(line.Text)+"\n")
		return nil
	}
	return e.handleCode(ctx, line)
}

// Finish closes a block still open at the end of the document, as if one
// more prose line followed.
func (e *Engine) Finish(context.Context) error {
	e.transition(splitter.ModeProse)
	return nil
}

func (e *Engine) transition(mode splitter.Mode) {
	if mode == e.prevMode {
		return
	}
	switch mode {
	case splitter.ModeCode:
		e.openBlock()
	case splitter.ModeProse:
		e.closeBlock()
	}
	e.prevMode = mode
}

func (e *Engine) openBlock() {
	e.blockStart = e.code.Len()
	e.stats.Blocks++
	e.emit(FragmentBlockOpen, e.cfg.Render.blockOpen())
}

// closeBlock ends the listing with a back-link to its blank-trimmed range.
func (e *Engine) closeBlock() {
	first, last := e.blockStart, e.code.Len()
	for first <= last && e.code.IsBlank(first) {
		first++
	}
	for last >= first && e.code.IsBlank(last) {
		last--
	}
	if e.hidden {
		e.logger.Debug("Fold left open at end of block",
			slog.Int("hidden_lines", e.hiddenCount),
		)
		e.hidden = false
		e.hiddenCount = 0
	}
	e.emit(FragmentBlockClose, e.cfg.Render.blockClose(e.cfg.BaseURL, first, last))
}

func (e *Engine) emit(kind FragmentKind, text string) {
	e.fragments = append(e.fragments, Fragment{Kind: kind, Text: text})
}

// Fragments returns the fragments emitted so far, in order.
func (e *Engine) Fragments() []Fragment {
	return append([]Fragment(nil), e.fragments...)
}

// Records returns the proof-state records emitted so far, in order.
func (e *Engine) Records() []ProofStateRecord {
	return append([]ProofStateRecord(nil), e.records...)
}

// Stats returns the pass counters.
func (e *Engine) Stats() Stats {
	return e.stats
}
