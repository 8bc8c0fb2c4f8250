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
	"errors"
	"fmt"
)

// Mode is the kind of text a source line belongs to.
type Mode int

const (
	// ModeCode is Lean code: buffered, sent to the oracle, annotated.
	ModeCode Mode = iota

	// ModeProse is LaTeX prose passed through with macro rewriting.
	ModeProse

	// ModeBibliography is BibTeX text passed through verbatim.
	ModeBibliography
)

// String returns the mode name used in logs and errors.
func (m Mode) String() string {
	switch m {
	case ModeCode:
		return "code"
	case ModeProse:
		return "prose"
	case ModeBibliography:
		return "bibliography"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// ErrUnbalancedDirective is wrapped by every *DirectiveError.
var ErrUnbalancedDirective = errors.New("unbalanced directive")

// DirectiveError reports a directive that leaves the mode stack unbalanced.
type DirectiveError struct {
	// Line is the 1-based document line of the offending directive. For an
	// unclosed block it is the line that opened the block.
	Line int

	// Directive is the directive as written, trimmed.
	Directive string

	// Reason describes the imbalance.
	Reason string
}

// Error implements the error interface.
func (e *DirectiveError) Error() string {
	return fmt.Sprintf("line %d: %s %q: %s", e.Line, ErrUnbalancedDirective, e.Directive, e.Reason)
}

// Unwrap returns ErrUnbalancedDirective.
func (e *DirectiveError) Unwrap() error {
	return ErrUnbalancedDirective
}

// frame is one entry of the mode stack.
type frame struct {
	mode      Mode
	line      int
	directive string
}

// ModeStack is the non-empty stack of modes driven by directives.
//
// The bottom frame is ModeCode and can never be popped, so the stack is
// never empty after any line.
type ModeStack struct {
	frames []frame
}

// NewModeStack returns the initial stack [ModeCode].
func NewModeStack() *ModeStack {
	return &ModeStack{frames: []frame{{mode: ModeCode}}}
}

// Top returns the current mode.
func (s *ModeStack) Top() Mode {
	return s.frames[len(s.frames)-1].mode
}

// Depth returns the number of modes on the stack; 1 when balanced.
func (s *ModeStack) Depth() int {
	return len(s.frames)
}

// Push enters mode because of directive on line.
func (s *ModeStack) Push(mode Mode, line int, directive string) {
	s.frames = append(s.frames, frame{mode: mode, line: line, directive: directive})
}

// Pop leaves the current mode.
//
// Errors:
//
//	*DirectiveError - only the initial mode remains
func (s *ModeStack) Pop(line int, directive string) error {
	if len(s.frames) == 1 {
		return &DirectiveError{
			Line:      line,
			Directive: directive,
			Reason:    "no open block to end",
		}
	}
	s.frames = s.frames[:len(s.frames)-1]
	return nil
}

// CheckBalanced returns a *DirectiveError naming the innermost open block
// when the stack is not back to its initial state.
func (s *ModeStack) CheckBalanced() error {
	if len(s.frames) == 1 {
		return nil
	}
	top := s.frames[len(s.frames)-1]
	return &DirectiveError{
		Line:      top.line,
		Directive: top.directive,
		Reason:    fmt.Sprintf("%s block is never ended (%d open)", top.mode, len(s.frames)-1),
	}
}
