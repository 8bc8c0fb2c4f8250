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
	"errors"
	"fmt"
)

// Sentinel errors for oracle operations.
//
// Every one of them is fatal for the session: the client never retries or
// reconnects, because goal text is only meaningful against a live and
// consistent analysis state.
var (
	// ErrOracleFraming indicates a malformed header or truncated payload on
	// the oracle's output stream.
	ErrOracleFraming = errors.New("oracle framing error")

	// ErrOracleCrashed indicates the oracle process exited or closed its
	// output stream.
	ErrOracleCrashed = errors.New("oracle crashed")

	// ErrOracleTimeout indicates a request exceeded its deadline.
	ErrOracleTimeout = errors.New("oracle request timeout")

	// ErrOracleClosed indicates the client was closed by the caller.
	ErrOracleClosed = errors.New("oracle client closed")

	// ErrOracleNotInstalled indicates the oracle binary was not found.
	ErrOracleNotInstalled = errors.New("oracle not installed")

	// ErrInvalidReply indicates a reply did not have the shape its method
	// requires.
	ErrInvalidReply = errors.New("invalid oracle reply")
)

// FramingError describes a framing violation on the oracle's output stream.
type FramingError struct {
	// Reason is a short description of the violation.
	Reason string

	// Err is the underlying cause, if any.
	Err error
}

// Error implements the error interface.
func (e *FramingError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", ErrOracleFraming, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s: %s", ErrOracleFraming, e.Reason)
}

// Unwrap lets errors.Is match both ErrOracleFraming and the cause.
func (e *FramingError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrOracleFraming, e.Err}
	}
	return []error{ErrOracleFraming}
}

// ReplyError describes a reply that failed shape validation.
type ReplyError struct {
	// Method is the request method whose reply was malformed.
	Method string

	// Field names the offending field, e.g. "result[3].range".
	Field string

	// Err is the decoding error, if any.
	Err error
}

// Error implements the error interface.
func (e *ReplyError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %s: %v", ErrInvalidReply, e.Method, e.Field, e.Err)
	}
	return fmt.Sprintf("%s: %s: %s", ErrInvalidReply, e.Method, e.Field)
}

// Unwrap lets errors.Is match ErrInvalidReply and errors.As reach the
// decoding error.
func (e *ReplyError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrInvalidReply, e.Err}
	}
	return []error{ErrInvalidReply}
}

// RPCError represents an error returned by the oracle via JSON-RPC.
//
// Codes follow the JSON-RPC spec plus LSP-specific codes:
//   - -32700: Parse error
//   - -32601: Method not found
//   - -32602: Invalid params
//   - -32603: Internal error
//   - -32801: Content modified
//   - -32800: Request cancelled
type RPCError struct {
	// Method is the request method that failed.
	Method string

	// Code is the JSON-RPC error code.
	Code int

	// Message is the error message from the oracle.
	Message string
}

// Error implements the error interface.
func (e *RPCError) Error() string {
	return fmt.Sprintf("oracle error %d on %s: %s", e.Code, e.Method, e.Message)
}

// IsMethodNotFound returns true if the oracle does not support the method.
func (e *RPCError) IsMethodNotFound() bool {
	return e.Code == -32601
}
