// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package oracletest provides a scripted stand-in for the Lean server.
//
// Serve speaks the same framed JSON-RPC as `lean --server` over any pair of
// streams, so tests can run it in a goroutine over io.Pipe or, through
// Main, as a real child process (the test binary re-executed with EnvScript
// set).
package oracletest

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
)

// EnvScript names the script a re-executed test binary should serve.
const EnvScript = "LITERATE_FAKE_ORACLE"

// ErrCrash is returned by Serve when the script decides to crash.
var ErrCrash = errors.New("oracletest: scripted crash")

// Symbol is a document symbol the script reports. Line is 0-based.
type Symbol struct {
	Name     string
	Line     int
	Children []Symbol
}

// Diagnostic is published right after didOpen. Line is the 0-based end line.
type Diagnostic struct {
	Line    int
	Message string
}

// Script decides how the fake oracle answers.
type Script struct {
	// Symbols is the documentSymbol reply.
	Symbols []Symbol

	// Goals answers the goal query at a 0-based line and UTF-16 character.
	// Returning nil replies null.
	Goals func(line, character int) []string

	// Diagnostics are published after didOpen, in order.
	Diagnostics []Diagnostic

	// CrashAfterGoals crashes after that many goal queries were answered.
	// Zero never crashes.
	CrashAfterGoals int

	// Silent lists methods that are never answered.
	Silent []string

	// Unsupported lists methods answered with a -32601 error.
	Unsupported []string

	// RawAfterInitialize is written verbatim after the initialize reply.
	RawAfterInitialize string

	// PingAfterInitialize sends a server-to-client request after initialize.
	PingAfterInitialize bool

	mu       sync.Mutex
	goalHits []Point
	opened   string
	answered map[string]int
	replies  map[string]json.RawMessage
}

// Point is a recorded goal query position (0-based, UTF-16).
type Point struct {
	Line      int
	Character int
}

// GoalQueries returns every goal position queried so far.
func (s *Script) GoalQueries() []Point {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Point(nil), s.goalHits...)
}

// OpenedText returns the text sent with didOpen.
func (s *Script) OpenedText() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opened
}

// Calls returns how many requests of method were answered.
func (s *Script) Calls(method string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.answered[method]
}

// ClientReply returns the client's answer to a server-to-client request.
func (s *Script) ClientReply(id string) (json.RawMessage, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.replies[id]
	return r, ok
}

type message struct {
	ID     json.RawMessage `json:"id,omitempty"`
	Method string          `json:"method,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
}

// Serve answers requests read from r on w until r is exhausted.
func Serve(r io.Reader, w io.Writer, s *Script) error {
	br := bufio.NewReader(r)
	silent := make(map[string]bool, len(s.Silent))
	for _, m := range s.Silent {
		silent[m] = true
	}
	unsupported := make(map[string]bool, len(s.Unsupported))
	for _, m := range s.Unsupported {
		unsupported[m] = true
	}
	s.mu.Lock()
	if s.answered == nil {
		s.answered = make(map[string]int)
	}
	if s.replies == nil {
		s.replies = make(map[string]json.RawMessage)
	}
	s.mu.Unlock()

	goals := 0
	for {
		payload, err := ReadFrame(br)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		var msg message
		if err := json.Unmarshal(payload, &msg); err != nil {
			return fmt.Errorf("oracletest: decode: %w", err)
		}

		if msg.Method == "" {
			s.mu.Lock()
			s.replies[string(msg.ID)] = msg.Result
			s.mu.Unlock()
			continue
		}
		if silent[msg.Method] {
			continue
		}
		if unsupported[msg.Method] {
			if err := writeJSON(w, map[string]any{
				"jsonrpc": "2.0", "id": msg.ID,
				"error": map[string]any{"code": -32601, "message": "method not found: " + msg.Method},
			}); err != nil {
				return err
			}
			continue
		}

		switch msg.Method {
		case "initialize":
			if err := s.reply(w, msg, map[string]any{"capabilities": map[string]any{}}); err != nil {
				return err
			}
			if s.RawAfterInitialize != "" {
				if _, err := io.WriteString(w, s.RawAfterInitialize); err != nil {
					return err
				}
			}
			if s.PingAfterInitialize {
				if err := writeJSON(w, map[string]any{
					"jsonrpc": "2.0", "id": "ping-1", "method": "client/registerCapability",
					"params": map[string]any{"registrations": []any{}},
				}); err != nil {
					return err
				}
			}
		case "textDocument/didOpen":
			var p struct {
				TextDocument struct {
					URI  string `json:"uri"`
					Text string `json:"text"`
				} `json:"textDocument"`
			}
			_ = json.Unmarshal(msg.Params, &p)
			s.mu.Lock()
			s.opened = p.TextDocument.Text
			s.mu.Unlock()
			for _, d := range s.Diagnostics {
				if err := writeJSON(w, map[string]any{
					"jsonrpc": "2.0",
					"method":  "textDocument/publishDiagnostics",
					"params": map[string]any{
						"uri": p.TextDocument.URI,
						"diagnostics": []any{map[string]any{
							"range": map[string]any{
								"start": map[string]int{"line": d.Line, "character": 0},
								"end":   map[string]int{"line": d.Line, "character": 1},
							},
							"message": d.Message,
						}},
					},
				}); err != nil {
					return err
				}
			}
		case "textDocument/documentSymbol":
			if err := s.reply(w, msg, encodeSymbols(s.Symbols)); err != nil {
				return err
			}
		case "$/lean/plainGoal":
			var p struct {
				Position struct {
					Line      int `json:"line"`
					Character int `json:"character"`
				} `json:"position"`
			}
			_ = json.Unmarshal(msg.Params, &p)
			s.mu.Lock()
			s.goalHits = append(s.goalHits, Point{Line: p.Position.Line, Character: p.Position.Character})
			s.mu.Unlock()

			var result any
			if s.Goals != nil {
				if g := s.Goals(p.Position.Line, p.Position.Character); g != nil {
					result = map[string]any{"goals": g, "rendered": strings.Join(g, "\n")}
				}
			}
			if err := s.reply(w, msg, result); err != nil {
				return err
			}
			goals++
			if s.CrashAfterGoals > 0 && goals >= s.CrashAfterGoals {
				return ErrCrash
			}
		default:
			if len(msg.ID) > 0 {
				if err := s.reply(w, msg, nil); err != nil {
					return err
				}
			}
		}
	}
}

func (s *Script) reply(w io.Writer, msg message, result any) error {
	s.mu.Lock()
	s.answered[msg.Method]++
	s.mu.Unlock()
	return writeJSON(w, map[string]any{"jsonrpc": "2.0", "id": msg.ID, "result": result})
}

func encodeSymbols(symbols []Symbol) []any {
	out := make([]any, 0, len(symbols))
	for _, sym := range symbols {
		entry := map[string]any{
			"name": sym.Name,
			"kind": 12,
			"range": map[string]any{
				"start": map[string]int{"line": sym.Line, "character": 0},
				"end":   map[string]int{"line": sym.Line, "character": 0},
			},
		}
		if len(sym.Children) > 0 {
			entry["children"] = encodeSymbols(sym.Children)
		}
		out = append(out, entry)
	}
	return out
}

func writeJSON(w io.Writer, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = io.WriteString(w, fmt.Sprintf("Content-Length: %d\r\n\r\n%s", len(data), data))
	return err
}

// ReadFrame reads one Content-Length framed payload.
func ReadFrame(r *bufio.Reader) ([]byte, error) {
	length := -1
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return nil, err
		}
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			break
		}
		name, value, ok := strings.Cut(line, ":")
		if ok && strings.EqualFold(strings.TrimSpace(name), "Content-Length") {
			n, err := strconv.Atoi(strings.TrimSpace(value))
			if err != nil {
				return nil, fmt.Errorf("oracletest: bad length: %w", err)
			}
			length = n
		}
	}
	if length < 0 {
		return nil, fmt.Errorf("oracletest: missing Content-Length")
	}
	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, err
	}
	return payload, nil
}

// Main serves s on the process's stdio and returns the exit code: 0 on a
// clean stdin EOF, 3 on a scripted crash, 1 otherwise.
func Main(s *Script) int {
	err := Serve(os.Stdin, os.Stdout, s)
	switch {
	case err == nil:
		return 0
	case errors.Is(err, ErrCrash):
		return 3
	default:
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
}
