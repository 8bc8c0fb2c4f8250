// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
)

// Caller is the part of Client the Port needs.
type Caller interface {
	Request(ctx context.Context, method string, params any) (json.RawMessage, error)
	Diagnostic(line int) (string, bool)
}

// Port is the typed facade the annotation engine queries.
//
// Description:
//
//	Every method takes 1-based lines and converts them to the oracle's
//	0-based coordinates itself, so callers never see oracle coordinates.
//	Replies are validated here; a malformed reply is a *ReplyError rather
//	than a zero value leaking into the engine.
//
// Thread Safety:
//
//	Safe for concurrent use.
type Port struct {
	caller     Caller
	uri        string
	goalMethod string

	symbolsMu sync.Mutex
	symbols   map[int][]string
}

// NewPort creates a Port for the document at uri.
//
// Inputs:
//
//	caller - The client the queries go through
//	uri - URI of the opened document
//	goalMethod - The goal query method; empty means $/lean/plainGoal
func NewPort(caller Caller, uri, goalMethod string) *Port {
	if goalMethod == "" {
		goalMethod = MethodPlainGoal
	}
	return &Port{caller: caller, uri: uri, goalMethod: goalMethod}
}

// SymbolsAt returns the names of the symbols whose range starts on line.
//
// Description:
//
//	The first call issues the only textDocument/documentSymbol request of
//	the session and caches the whole line → names table; later calls are
//	lookups. Nested symbols are flattened depth-first so the oracle's order
//	is preserved.
func (p *Port) SymbolsAt(ctx context.Context, line int) ([]string, error) {
	p.symbolsMu.Lock()
	defer p.symbolsMu.Unlock()

	if p.symbols == nil {
		table, err := p.loadSymbols(ctx)
		if err != nil {
			return nil, err
		}
		p.symbols = table
	}
	return p.symbols[ToOracleLine(line)], nil
}

func (p *Port) loadSymbols(ctx context.Context) (map[int][]string, error) {
	raw, err := p.caller.Request(ctx, MethodDocumentSymbol, DocumentSymbolParams{
		TextDocument: TextDocumentIdentifier{URI: p.uri},
	})
	if err != nil {
		return nil, fmt.Errorf("document symbols: %w", err)
	}

	table := make(map[int][]string)
	if isNull(raw) {
		return table, nil
	}

	var symbols []DocumentSymbol
	if err := json.Unmarshal(raw, &symbols); err != nil {
		return nil, &ReplyError{Method: MethodDocumentSymbol, Field: "result", Err: err}
	}
	if err := flattenSymbols(symbols, "result", table); err != nil {
		return nil, err
	}
	return table, nil
}

func flattenSymbols(symbols []DocumentSymbol, path string, table map[int][]string) error {
	for i, sym := range symbols {
		field := fmt.Sprintf("%s[%d]", path, i)
		name := strings.TrimSpace(sym.Name)
		if name == "" {
			return &ReplyError{Method: MethodDocumentSymbol, Field: field + ".name"}
		}
		if sym.Range == nil {
			return &ReplyError{Method: MethodDocumentSymbol, Field: field + ".range"}
		}
		line := sym.Range.Start.Line
		table[line] = append(table[line], name)
		if err := flattenSymbols(sym.Children, field+".children", table); err != nil {
			return err
		}
	}
	return nil
}

// GoalAt returns the goal at a rune column of a line.
//
// Description:
//
//	Issues one fresh query per call. When the oracle reports no open goal
//	the result is ("", false, nil). Several goals are joined with a blank
//	line into one text.
//
// Inputs:
//
//	line - 1-based line number
//	lineText - Text of the line, used to convert column to UTF-16 units
//	column - 0-based rune offset into lineText
func (p *Port) GoalAt(ctx context.Context, line int, lineText string, column int) (string, bool, error) {
	raw, err := p.caller.Request(ctx, p.goalMethod, TextDocumentPositionParams{
		TextDocument: TextDocumentIdentifier{URI: p.uri},
		Position:     ToPosition(line, lineText, column),
	})
	if err != nil {
		return "", false, fmt.Errorf("goal at %d:%d: %w", line, column, err)
	}
	if isNull(raw) {
		return "", false, nil
	}

	var goal PlainGoal
	if err := json.Unmarshal(raw, &goal); err != nil {
		return "", false, &ReplyError{Method: p.goalMethod, Field: "result", Err: err}
	}
	if goal.Goals == nil {
		return "", false, nil
	}
	return strings.Join(goal.Goals, "\n\n"), true, nil
}

// DiagnosticAt returns the latest diagnostic reported for line.
// It never issues a request.
func (p *Port) DiagnosticAt(line int) (string, bool) {
	return p.caller.Diagnostic(ToOracleLine(line))
}

func isNull(raw json.RawMessage) bool {
	s := strings.TrimSpace(string(raw))
	return s == "" || s == "null"
}
