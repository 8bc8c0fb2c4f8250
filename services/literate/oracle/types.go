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

import "encoding/json"

// JSONRPCVersion is the JSON-RPC version spoken with the oracle.
const JSONRPCVersion = "2.0"

// Method names used on the wire.
const (
	MethodInitialize         = "initialize"
	MethodInitialized        = "initialized"
	MethodDidOpen            = "textDocument/didOpen"
	MethodDocumentSymbol     = "textDocument/documentSymbol"
	MethodPublishDiagnostics = "textDocument/publishDiagnostics"
	MethodPlainGoal          = "$/lean/plainGoal"
	MethodFileProgress       = "$/lean/fileProgress"
)

// =============================================================================
// JSON-RPC MESSAGE TYPES
// =============================================================================

// Request represents an outgoing JSON-RPC request.
type Request struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params"`
}

// Notification represents an outgoing JSON-RPC notification (no ID, no reply).
type Notification struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params"`
}

// replyMessage answers a request the oracle sent to us.
type replyMessage struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  any             `json:"result"`
}

// envelope is the union of every incoming message shape.
//
// A reply has ID and no Method, a notification has Method and no ID, and a
// server-to-client request has both.
type envelope struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *ResponseError  `json:"error,omitempty"`
}

// ResponseError is the error member of a JSON-RPC reply.
type ResponseError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// =============================================================================
// POSITION TYPES
// =============================================================================

// Position is a position in the oracle's coordinate system.
// Line and character are 0-indexed; character counts UTF-16 code units.
type Position struct {
	Line      int `json:"line"`
	Character int `json:"character"`
}

// Range is a range in the oracle's coordinate system.
type Range struct {
	Start Position `json:"start"`
	End   Position `json:"end"`
}

// =============================================================================
// REQUEST PARAMETER TYPES
// =============================================================================

// InitializeParams are the params of the initialize request.
type InitializeParams struct {
	ProcessID    int      `json:"processId"`
	RootURI      *string  `json:"rootUri"`
	Capabilities struct{} `json:"capabilities"`
}

// TextDocumentIdentifier identifies a text document by URI.
type TextDocumentIdentifier struct {
	URI string `json:"uri"`
}

// TextDocumentItem is a text document with its content.
type TextDocumentItem struct {
	URI        string `json:"uri"`
	LanguageID string `json:"languageId"`
	Version    int    `json:"version"`
	Text       string `json:"text"`
}

// DidOpenTextDocumentParams are the params of textDocument/didOpen.
type DidOpenTextDocumentParams struct {
	TextDocument TextDocumentItem `json:"textDocument"`
}

// DocumentSymbolParams are the params of textDocument/documentSymbol.
type DocumentSymbolParams struct {
	TextDocument TextDocumentIdentifier `json:"textDocument"`
}

// TextDocumentPositionParams identify a position in a text document.
type TextDocumentPositionParams struct {
	TextDocument TextDocumentIdentifier `json:"textDocument"`
	Position     Position               `json:"position"`
}

// =============================================================================
// REPLY AND NOTIFICATION SHAPES
// =============================================================================

// DocumentSymbol is one entry of a textDocument/documentSymbol reply.
//
// Range is a pointer so a missing range is detected rather than read as
// line zero.
type DocumentSymbol struct {
	Name     string           `json:"name"`
	Range    *Range           `json:"range"`
	Children []DocumentSymbol `json:"children,omitempty"`
}

// PlainGoal is the reply of the goal query. A null reply decodes to nil.
type PlainGoal struct {
	Rendered string   `json:"rendered,omitempty"`
	Goals    []string `json:"goals"`
}

// Diagnostic is one entry of a publishDiagnostics notification.
type Diagnostic struct {
	Range    *Range `json:"range"`
	Severity int    `json:"severity,omitempty"`
	Message  string `json:"message"`
}

// PublishDiagnosticsParams are the params of textDocument/publishDiagnostics.
type PublishDiagnosticsParams struct {
	URI         string       `json:"uri"`
	Version     *int         `json:"version,omitempty"`
	Diagnostics []Diagnostic `json:"diagnostics"`
}

// FileProgressParams are the params of $/lean/fileProgress.
type FileProgressParams struct {
	TextDocument TextDocumentIdentifier `json:"textDocument"`
	Processing   []struct {
		Range Range `json:"range"`
	} `json:"processing"`
}
