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
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

const (
	// readChunkSize is the size of a single read from the oracle's stdout.
	readChunkSize = 32 * 1024

	// chunkQueueDepth bounds the reader → dispatcher queue.
	chunkQueueDepth = 64
)

// =============================================================================
// CONFIGURATION
// =============================================================================

// Config configures the oracle process and request deadlines.
type Config struct {
	// Command is the oracle binary, resolved through PATH.
	Command string

	// Args are passed to Command.
	Args []string

	// Dir is the working directory of the process. Empty means the caller's.
	Dir string

	// Env is appended to the caller's environment, e.g. LEAN_PATH=...
	Env []string

	// RequestTimeout bounds every request except initialize.
	RequestTimeout time.Duration

	// StartupTimeout bounds the initialize request.
	StartupTimeout time.Duration

	// ShutdownTimeout bounds how long Close waits for the process to exit
	// after its stdin is closed before killing it.
	ShutdownTimeout time.Duration

	// Logger receives client logs. Nil means slog.Default().
	Logger *slog.Logger
}

// DefaultConfig returns the configuration for `lean --server`.
func DefaultConfig() Config {
	return Config{
		Command:         "lean",
		Args:            []string{"--server"},
		RequestTimeout:  5 * time.Minute,
		StartupTimeout:  2 * time.Minute,
		ShutdownTimeout: 5 * time.Second,
	}
}

// =============================================================================
// CLIENT
// =============================================================================

// transport is the set of streams the client owns.
type transport struct {
	stdin  io.WriteCloser
	stdout io.ReadCloser
	stderr io.ReadCloser

	// kill forcibly stops the peer; wait reaps it. wait may be nil when
	// there is no process behind the streams.
	kill func() error
	wait func() error
}

// reply is what the dispatcher hands to a waiting request.
type reply struct {
	result json.RawMessage
	rpcErr *ResponseError
	err    error
}

// Client owns the oracle process and speaks JSON-RPC with it.
//
// Description:
//
//	Three goroutines run for the whole lifetime of the process: a reader
//	that moves stdout bytes into a queue, a drain that logs stderr, and a
//	dispatcher that reassembles frames, resolves pending requests and
//	applies notifications. The pending table, the diagnostic index and the
//	sticky failure are written only by the dispatcher or the failure path.
//
// Thread Safety:
//
//	Safe for concurrent use. The annotation pass issues one request at a
//	time, but nothing here depends on that.
type Client struct {
	cfg    Config
	logger *slog.Logger
	tr     transport

	writeMu sync.Mutex
	nextID  atomic.Int64
	sent    atomic.Int64

	pendingMu sync.Mutex
	pending   map[int64]chan reply
	failure   error

	diagMu      sync.RWMutex
	diagnostics map[int]string
	uri         atomic.Value // string

	group     errgroup.Group
	done      chan struct{}
	exited    chan struct{}
	closeOnce sync.Once
}

// Start spawns the oracle process and begins reading from it.
//
// Description:
//
//	The process is started with its own lifetime: cancelling ctx after
//	Start returns does not stop it. Call Close to terminate it.
//
// Errors:
//
//	ErrOracleNotInstalled - Command was not found in PATH
func Start(ctx context.Context, cfg Config) (*Client, error) {
	if ctx == nil {
		return nil, fmt.Errorf("ctx must not be nil")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	path, err := exec.LookPath(cfg.Command)
	if err != nil {
		recordSpawn(ctx, cfg.Command, false)
		return nil, fmt.Errorf("%w: %s", ErrOracleNotInstalled, cfg.Command)
	}

	cmd := exec.Command(path, cfg.Args...)
	cmd.Dir = cfg.Dir
	if len(cfg.Env) > 0 {
		cmd.Env = append(os.Environ(), cfg.Env...)
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		recordSpawn(ctx, cfg.Command, false)
		return nil, fmt.Errorf("start %s: %w", path, err)
	}
	recordSpawn(ctx, cfg.Command, true)

	logger.Info("Oracle started",
		slog.String("command", path),
		slog.Int("pid", cmd.Process.Pid),
	)

	return newClient(cfg, transport{
		stdin:  stdin,
		stdout: stdout,
		stderr: stderr,
		kill:   cmd.Process.Kill,
		wait:   cmd.Wait,
	}), nil
}

// newClient wires a client over already-open streams and starts its loops.
func newClient(cfg Config, tr transport) *Client {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	c := &Client{
		cfg:         cfg,
		logger:      logger.With(slog.String("component", "oracle")),
		tr:          tr,
		pending:     make(map[int64]chan reply),
		diagnostics: make(map[int]string),
		done:        make(chan struct{}),
		exited:      make(chan struct{}),
	}
	c.uri.Store("")

	chunks := make(chan []byte, chunkQueueDepth)
	c.group.Go(func() error {
		defer close(chunks)
		return c.readLoop(chunks)
	})
	if tr.stderr != nil {
		c.group.Go(c.drainLoop)
	}
	c.group.Go(func() error {
		return c.dispatchLoop(chunks)
	})

	go c.supervise()
	return c
}

// supervise reaps the process once every loop has returned.
func (c *Client) supervise() {
	defer close(c.exited)
	loopErr := c.group.Wait()

	var waitErr error
	if c.tr.wait != nil {
		waitErr = c.tr.wait()
	}
	if waitErr != nil {
		c.fail(fmt.Errorf("%w: %v", ErrOracleCrashed, waitErr))
	} else {
		c.fail(fmt.Errorf("%w: process exited", ErrOracleCrashed))
	}

	c.logger.Debug("Oracle loops finished",
		slog.Any("loop_error", loopErr),
		slog.Any("wait_error", waitErr),
	)
}

// =============================================================================
// BACKGROUND LOOPS
// =============================================================================

// readLoop moves stdout bytes into the chunk queue until EOF.
func (c *Client) readLoop(chunks chan<- []byte) error {
	buf := make([]byte, readChunkSize)
	for {
		n, err := c.tr.stdout.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			select {
			case chunks <- chunk:
			case <-c.done:
				return nil
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, os.ErrClosed) || errors.Is(err, io.ErrClosedPipe) {
				return nil
			}
			return fmt.Errorf("read stdout: %w", err)
		}
	}
}

// drainLoop logs the oracle's stderr line by line.
func (c *Client) drainLoop() error {
	scanner := bufio.NewScanner(c.tr.stderr)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		c.logger.Debug("oracle stderr",
			slog.String("component", "oracle.stderr"),
			slog.String("line", scanner.Text()),
		)
	}
	if err := scanner.Err(); err != nil && !errors.Is(err, os.ErrClosed) && !errors.Is(err, io.ErrClosedPipe) {
		return fmt.Errorf("read stderr: %w", err)
	}
	return nil
}

// dispatchLoop reassembles frames and routes every complete message.
func (c *Client) dispatchLoop(chunks <-chan []byte) error {
	var dec frameDecoder
	for chunk := range chunks {
		dec.Feed(chunk)
		for {
			payload, ok, err := dec.Next()
			if err != nil {
				c.fail(err)
				return err
			}
			if !ok {
				break
			}
			if err := c.dispatch(payload); err != nil {
				c.fail(err)
				return err
			}
		}
	}

	if n := dec.Buffered(); n > 0 {
		err := &FramingError{Reason: fmt.Sprintf("stream closed inside a frame with %d bytes buffered", n)}
		c.fail(err)
		return err
	}
	c.fail(fmt.Errorf("%w: output stream closed", ErrOracleCrashed))
	return nil
}

// dispatch routes one decoded message.
func (c *Client) dispatch(payload []byte) error {
	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return &FramingError{Reason: "undecodable message", Err: err}
	}

	hasID := len(env.ID) > 0 && string(env.ID) != "null"
	switch {
	case hasID && env.Method != "":
		c.answer(env)
		return nil
	case hasID:
		c.resolve(env)
		return nil
	case env.Method != "":
		return c.applyNotification(env)
	default:
		c.logger.Debug("Ignoring message without id or method")
		return nil
	}
}

// resolve hands a reply to the request waiting for it.
func (c *Client) resolve(env envelope) {
	var id int64
	if err := json.Unmarshal(env.ID, &id); err != nil {
		c.logger.Debug("Ignoring reply with foreign id", slog.String("id", string(env.ID)))
		return
	}

	c.pendingMu.Lock()
	ch, ok := c.pending[id]
	delete(c.pending, id)
	c.pendingMu.Unlock()

	if !ok {
		c.logger.Debug("Ignoring reply for unknown request", slog.Int64("id", id))
		return
	}
	result := env.Result
	if len(result) == 0 {
		result = json.RawMessage("null")
	}
	ch <- reply{result: result, rpcErr: env.Error}
}

// applyNotification updates client state from a push notification.
func (c *Client) applyNotification(env envelope) error {
	recordNotification(env.Method)

	switch env.Method {
	case MethodPublishDiagnostics:
		var params PublishDiagnosticsParams
		if err := json.Unmarshal(env.Params, &params); err != nil {
			return &ReplyError{Method: env.Method, Field: "params", Err: err}
		}
		if uri := c.uri.Load().(string); uri != "" && params.URI != uri {
			return nil
		}
		c.diagMu.Lock()
		defer c.diagMu.Unlock()
		for i, d := range params.Diagnostics {
			if d.Range == nil {
				return &ReplyError{Method: env.Method, Field: fmt.Sprintf("params.diagnostics[%d].range", i)}
			}
			c.diagnostics[d.Range.End.Line] = d.Message
		}
	case MethodFileProgress:
		var params FileProgressParams
		if err := json.Unmarshal(env.Params, &params); err == nil && len(params.Processing) > 0 {
			c.logger.Debug("Oracle progress",
				slog.Int("processing_from", params.Processing[0].Range.Start.Line),
				slog.Int("processing_to", params.Processing[0].Range.End.Line),
			)
		}
	}
	return nil
}

// answer replies null to a request the oracle sent us, so it never blocks
// waiting on the client.
func (c *Client) answer(env envelope) {
	msg := replyMessage{JSONRPC: JSONRPCVersion, ID: env.ID, Result: nil}
	if err := c.write(msg); err != nil {
		c.logger.Debug("Could not answer oracle request",
			slog.String("method", env.Method),
			slog.String("error", err.Error()),
		)
	}
}

// fail records the first fatal error and releases every waiting request.
func (c *Client) fail(err error) {
	c.pendingMu.Lock()
	if c.failure != nil {
		c.pendingMu.Unlock()
		return
	}
	c.failure = err
	pending := c.pending
	c.pending = make(map[int64]chan reply)
	c.pendingMu.Unlock()

	close(c.done)
	for _, ch := range pending {
		ch <- reply{err: err}
	}

	if !errors.Is(err, ErrOracleClosed) {
		c.logger.Error("Oracle session failed", slog.String("error", err.Error()))
	}
}

// =============================================================================
// REQUEST METHODS
// =============================================================================

// Request sends a request and blocks until its reply arrives.
//
// Description:
//
//	The reply is delivered through a per-request channel; the caller waits
//	on it with Config.RequestTimeout as the deadline. A timeout poisons the
//	client, since later answers could no longer be trusted to match.
//
// Outputs:
//
//	json.RawMessage - The result member ("null" when absent)
//	error - ErrOracleTimeout, ErrOracleCrashed, *FramingError, *RPCError, ...
func (c *Client) Request(ctx context.Context, method string, params any) (json.RawMessage, error) {
	return c.call(ctx, c.cfg.RequestTimeout, method, params)
}

func (c *Client) call(ctx context.Context, timeout time.Duration, method string, params any) (json.RawMessage, error) {
	if ctx == nil {
		return nil, fmt.Errorf("ctx must not be nil")
	}
	id := c.nextID.Add(1)
	ctx, span := startRequestSpan(ctx, method, id)
	start := time.Now()

	result, err := c.roundTrip(ctx, timeout, id, method, params)

	endRequestSpan(span, err)
	recordRequest(ctx, method, time.Since(start), err)
	return result, err
}

// errRequestDeadline is the cause of a context ended by RequestTimeout, as
// opposed to a deadline the caller set.
var errRequestDeadline = errors.New("oracle request deadline")

func (c *Client) roundTrip(ctx context.Context, timeout time.Duration, id int64, method string, params any) (json.RawMessage, error) {
	ch := make(chan reply, 1)

	c.pendingMu.Lock()
	if c.failure != nil {
		err := c.failure
		c.pendingMu.Unlock()
		return nil, err
	}
	c.pending[id] = ch
	c.pendingMu.Unlock()

	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, id)
		c.pendingMu.Unlock()
	}()

	if err := c.write(Request{JSONRPC: JSONRPCVersion, ID: id, Method: method, Params: params}); err != nil {
		c.fail(fmt.Errorf("%w: write %s: %v", ErrOracleCrashed, method, err))
		return nil, c.Err()
	}
	c.sent.Add(1)

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeoutCause(ctx, timeout, errRequestDeadline)
		defer cancel()
	}

	select {
	case r := <-ch:
		if r.err != nil {
			return nil, r.err
		}
		if r.rpcErr != nil {
			return nil, &RPCError{Method: method, Code: r.rpcErr.Code, Message: r.rpcErr.Message}
		}
		return r.result, nil
	case <-ctx.Done():
		if errors.Is(context.Cause(ctx), errRequestDeadline) {
			err := fmt.Errorf("%w: %s (id %d) after %v", ErrOracleTimeout, method, id, timeout)
			c.fail(err)
			return nil, err
		}
		return nil, ctx.Err()
	}
}

// Notify sends a notification; it returns as soon as the frame is written.
func (c *Client) Notify(method string, params any) error {
	if err := c.Err(); err != nil {
		return err
	}
	if err := c.write(Notification{JSONRPC: JSONRPCVersion, Method: method, Params: params}); err != nil {
		c.fail(fmt.Errorf("%w: write %s: %v", ErrOracleCrashed, method, err))
		return c.Err()
	}
	return nil
}

// write marshals v and writes it as one frame.
func (c *Client) write(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	frame := encodeFrame(data)

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if _, err := c.tr.stdin.Write(frame); err != nil {
		return err
	}
	return nil
}

// Initialize performs the initialize / initialized handshake.
func (c *Client) Initialize(ctx context.Context, rootURI string) error {
	params := InitializeParams{ProcessID: os.Getpid()}
	if rootURI != "" {
		params.RootURI = &rootURI
	}
	if _, err := c.call(ctx, c.cfg.StartupTimeout, MethodInitialize, params); err != nil {
		return fmt.Errorf("initialize: %w", err)
	}
	if err := c.Notify(MethodInitialized, struct{}{}); err != nil {
		return fmt.Errorf("initialized: %w", err)
	}
	return nil
}

// Open sends textDocument/didOpen with the full document text.
//
// Diagnostics published for any other URI are ignored from then on.
func (c *Client) Open(uri, languageID, text string) error {
	c.uri.Store(uri)
	return c.Notify(MethodDidOpen, DidOpenTextDocumentParams{
		TextDocument: TextDocumentItem{
			URI:        uri,
			LanguageID: languageID,
			Version:    1,
			Text:       text,
		},
	})
}

// =============================================================================
// ACCESSORS
// =============================================================================

// Diagnostic returns the latest diagnostic reported for a 0-based line.
func (c *Client) Diagnostic(line int) (string, bool) {
	c.diagMu.RLock()
	defer c.diagMu.RUnlock()
	msg, ok := c.diagnostics[line]
	return msg, ok
}

// Err returns the sticky failure, or nil while the session is healthy.
func (c *Client) Err() error {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	return c.failure
}

// Done is closed when the session fails or is closed.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// RequestsSent returns how many requests were written to the oracle.
func (c *Client) RequestsSent() int64 {
	return c.sent.Load()
}

// =============================================================================
// SHUTDOWN
// =============================================================================

// Close terminates the session by closing the oracle's stdin.
//
// Description:
//
//	Waits up to Config.ShutdownTimeout for the process to exit, then kills
//	it. Every later request fails with ErrOracleClosed unless the session
//	had already failed. Multiple calls are idempotent.
func (c *Client) Close(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	var closeErr error
	c.closeOnce.Do(func() {
		c.fail(ErrOracleClosed)

		c.writeMu.Lock()
		if err := c.tr.stdin.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
			closeErr = fmt.Errorf("close stdin: %w", err)
		}
		c.writeMu.Unlock()

		timeout := c.cfg.ShutdownTimeout
		if timeout <= 0 {
			timeout = 5 * time.Second
		}
		timer := time.NewTimer(timeout)
		defer timer.Stop()

		select {
		case <-c.exited:
			return
		case <-timer.C:
			c.logger.Warn("Oracle did not exit after stdin closed, killing it",
				slog.Duration("waited", timeout),
			)
		case <-ctx.Done():
		}
		if c.tr.kill != nil {
			_ = c.tr.kill()
		}
		<-c.exited
	})
	return closeErr
}
