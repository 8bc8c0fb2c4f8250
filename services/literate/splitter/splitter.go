// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package splitter routes the lines of a literate source to per-mode
// handlers.
//
// A directive line (matched exactly after trimming) pushes or pops the mode
// stack and is consumed; every other line goes, in subscription order, to
// the handlers of the mode on top of the stack.
package splitter

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
)

// Line is one non-directive source line.
type Line struct {
	// Number is the 1-based document line.
	Number int

	// Text is the line without its terminator.
	Text string

	// Mode is the mode the line was routed in.
	Mode Mode
}

// Handler consumes the lines of the modes it subscribed to.
type Handler interface {
	HandleLine(ctx context.Context, line Line) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, line Line) error

// HandleLine calls f.
func (f HandlerFunc) HandleLine(ctx context.Context, line Line) error {
	return f(ctx, line)
}

// Splitter is the directive-driven line router.
//
// Not safe for concurrent use; a pass feeds it from one goroutine.
type Splitter struct {
	table    DirectiveTable
	stack    *ModeStack
	handlers map[Mode][]Handler
	counts   map[Mode]int
	lastLine int
}

// New creates a splitter with the initial mode stack [ModeCode].
func New(table DirectiveTable) *Splitter {
	return &Splitter{
		table:    table,
		stack:    NewModeStack(),
		handlers: make(map[Mode][]Handler),
		counts:   make(map[Mode]int),
	}
}

// Subscribe adds h to the handlers of every mode in modes. Handlers of one
// mode run in the order they were subscribed.
func (s *Splitter) Subscribe(h Handler, modes ...Mode) {
	for _, m := range modes {
		s.handlers[m] = append(s.handlers[m], h)
	}
}

// Feed routes one raw line.
//
// Errors:
//
//	*DirectiveError - an end directive with no open block
//	Any error returned by a handler, wrapped with the line number
func (s *Splitter) Feed(ctx context.Context, number int, text string) error {
	s.lastLine = number
	if tr, ok := s.table.Lookup(text); ok {
		directive := strings.TrimSpace(text)
		if tr.Action == ActionPop {
			return s.stack.Pop(number, directive)
		}
		s.stack.Push(tr.Mode, number, directive)
		return nil
	}

	line := Line{Number: number, Text: text, Mode: s.stack.Top()}
	s.counts[line.Mode]++
	for _, h := range s.handlers[line.Mode] {
		if err := h.HandleLine(ctx, line); err != nil {
			return fmt.Errorf("line %d: %w", number, err)
		}
	}
	return nil
}

// FeedAll routes every line read from r, numbering from 1.
func (s *Splitter) FeedAll(ctx context.Context, r io.Reader) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	n := 0
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		n++
		if err := s.Feed(ctx, n, strings.TrimSuffix(scanner.Text(), "\r")); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read source: %w", err)
	}
	return nil
}

// Finish checks that every opened block was ended.
func (s *Splitter) Finish() error {
	return s.stack.CheckBalanced()
}

// Mode returns the mode on top of the stack.
func (s *Splitter) Mode() Mode {
	return s.stack.Top()
}

// Depth returns the mode stack depth.
func (s *Splitter) Depth() int {
	return s.stack.Depth()
}

// Count returns how many lines were routed to mode.
func (s *Splitter) Count(mode Mode) int {
	return s.counts[mode]
}

// LastLine returns the number of the last line fed.
func (s *Splitter) LastLine() int {
	return s.lastLine
}
