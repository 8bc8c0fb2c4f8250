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
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/AleutianAI/LiterateLean/services/literate/oracle/oracletest"
)

const testURI = "file:///doc.lean"

// helperScripts are served when the test binary is re-executed as an oracle.
var helperScripts = map[string]*oracletest.Script{
	"goals": {
		Goals: func(line, character int) []string {
			return []string{fmt.Sprintf("⊢ goal %d:%d", line, character)}
		},
	},
	"crash": {
		Goals:           func(int, int) []string { return []string{"⊢ True"} },
		CrashAfterGoals: 1,
	},
}

func TestMain(m *testing.M) {
	if name := os.Getenv(oracletest.EnvScript); name != "" {
		os.Exit(oracletest.Main(helperScripts[name]))
	}
	goleak.VerifyTestMain(m)
}

// pipeOracle runs a scripted oracle in a goroutine behind io.Pipe streams.
type pipeOracle struct {
	client *Client
	script *oracletest.Script
	served chan struct{}
}

func startPipeOracle(t *testing.T, script *oracletest.Script, cfg Config) *pipeOracle {
	t.Helper()

	clientIn, serverOut := io.Pipe()
	serverIn, clientOut := io.Pipe()

	p := &pipeOracle{script: script, served: make(chan struct{})}
	go func() {
		defer close(p.served)
		_ = oracletest.Serve(serverIn, serverOut, script)
		_ = serverOut.Close()
		_ = serverIn.Close()
	}()

	p.client = newClient(cfg, transport{
		stdin:  clientOut,
		stdout: clientIn,
		kill: func() error {
			_ = serverIn.CloseWithError(io.ErrClosedPipe)
			return serverOut.Close()
		},
	})

	t.Cleanup(func() {
		_ = p.client.Close(context.Background())
		<-p.served
	})
	return p
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.RequestTimeout = 5 * time.Second
	cfg.StartupTimeout = 5 * time.Second
	cfg.ShutdownTimeout = 2 * time.Second
	return cfg
}

func goalParams(line, character int) TextDocumentPositionParams {
	return TextDocumentPositionParams{
		TextDocument: TextDocumentIdentifier{URI: testURI},
		Position:     Position{Line: line, Character: character},
	}
}

func TestClient_RequestReply(t *testing.T) {
	script := &oracletest.Script{
		Goals: func(line, character int) []string {
			return []string{fmt.Sprintf("⊢ at %d:%d", line, character)}
		},
	}
	p := startPipeOracle(t, script, testConfig())
	ctx := context.Background()

	require.NoError(t, p.client.Initialize(ctx, ""))
	require.NoError(t, p.client.Open(testURI, "lean4", "theorem t : True := by\n  trivial\n"))

	raw, err := p.client.Request(ctx, MethodPlainGoal, goalParams(1, 2))
	require.NoError(t, err)

	var goal PlainGoal
	require.NoError(t, json.Unmarshal(raw, &goal))
	assert.Equal(t, []string{"⊢ at 1:2"}, goal.Goals)
	assert.Equal(t, int64(2), p.client.RequestsSent())
	assert.Equal(t, "theorem t : True := by\n  trivial\n", script.OpenedText())
	assert.NoError(t, p.client.Err())
}

func TestClient_ConcurrentRequestsResolveToTheirCallers(t *testing.T) {
	script := &oracletest.Script{
		Goals: func(line, _ int) []string {
			return []string{fmt.Sprintf("line %d", line)}
		},
	}
	p := startPipeOracle(t, script, testConfig())
	ctx := context.Background()

	const n = 16
	var wg sync.WaitGroup
	errs := make([]error, n)
	got := make([]string, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			raw, err := p.client.Request(ctx, MethodPlainGoal, goalParams(i, 0))
			if err != nil {
				errs[i] = err
				return
			}
			var goal PlainGoal
			errs[i] = json.Unmarshal(raw, &goal)
			if len(goal.Goals) == 1 {
				got[i] = goal.Goals[0]
			}
		}(i)
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, fmt.Sprintf("line %d", i), got[i])
	}
}

func TestClient_NullResult(t *testing.T) {
	p := startPipeOracle(t, &oracletest.Script{}, testConfig())

	raw, err := p.client.Request(context.Background(), MethodPlainGoal, goalParams(0, 0))
	require.NoError(t, err)
	assert.True(t, isNull(raw))
}

func TestClient_Diagnostics(t *testing.T) {
	t.Run("last write per line wins", func(t *testing.T) {
		script := &oracletest.Script{
			Diagnostics: []oracletest.Diagnostic{
				{Line: 2, Message: "first"},
				{Line: 2, Message: "second"},
				{Line: 4, Message: "unsolved goals"},
			},
		}
		p := startPipeOracle(t, script, testConfig())
		require.NoError(t, p.client.Initialize(context.Background(), ""))
		require.NoError(t, p.client.Open(testURI, "lean4", "x"))

		require.Eventually(t, func() bool {
			msg, ok := p.client.Diagnostic(4)
			return ok && msg == "unsolved goals"
		}, 2*time.Second, 5*time.Millisecond)

		msg, ok := p.client.Diagnostic(2)
		assert.True(t, ok)
		assert.Equal(t, "second", msg)

		_, ok = p.client.Diagnostic(3)
		assert.False(t, ok)
	})

	t.Run("foreign documents are ignored", func(t *testing.T) {
		p := startPipeOracle(t, &oracletest.Script{}, testConfig())
		p.client.uri.Store(testURI)

		payload := []byte(`{"jsonrpc":"2.0","method":"textDocument/publishDiagnostics","params":{"uri":"file:///other.lean","diagnostics":[{"range":{"start":{"line":1,"character":0},"end":{"line":1,"character":3}},"message":"elsewhere"}]}}`)
		require.NoError(t, p.client.dispatch(payload))

		_, ok := p.client.Diagnostic(1)
		assert.False(t, ok)
	})

	t.Run("missing range is an invalid reply", func(t *testing.T) {
		p := startPipeOracle(t, &oracletest.Script{}, testConfig())

		payload := []byte(`{"jsonrpc":"2.0","method":"textDocument/publishDiagnostics","params":{"uri":"file:///doc.lean","diagnostics":[{"message":"no range"}]}}`)
		err := p.client.dispatch(payload)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrInvalidReply)

		var re *ReplyError
		require.ErrorAs(t, err, &re)
		assert.Equal(t, "params.diagnostics[0].range", re.Field)
	})
}

func TestClient_AnswersServerRequests(t *testing.T) {
	script := &oracletest.Script{PingAfterInitialize: true}
	p := startPipeOracle(t, script, testConfig())
	require.NoError(t, p.client.Initialize(context.Background(), ""))

	require.Eventually(t, func() bool {
		_, ok := script.ClientReply(`"ping-1"`)
		return ok
	}, 2*time.Second, 5*time.Millisecond)

	raw, _ := script.ClientReply(`"ping-1"`)
	assert.Equal(t, "null", string(raw))
	assert.NoError(t, p.client.Err())
}

func TestClient_RPCError(t *testing.T) {
	p := startPipeOracle(t, &oracletest.Script{Unsupported: []string{"$/lean/unknown"}}, testConfig())

	_, err := p.client.Request(context.Background(), "$/lean/unknown", nil)
	var rpcErr *RPCError
	require.ErrorAs(t, err, &rpcErr)
	assert.True(t, rpcErr.IsMethodNotFound())
	assert.Equal(t, "$/lean/unknown", rpcErr.Method)
	assert.NoError(t, p.client.Err(), "an error reply does not fail the session")
}

func TestClient_TimeoutPoisonsSession(t *testing.T) {
	cfg := testConfig()
	cfg.RequestTimeout = 50 * time.Millisecond
	p := startPipeOracle(t, &oracletest.Script{Silent: []string{MethodPlainGoal}}, cfg)
	ctx := context.Background()

	_, err := p.client.Request(ctx, MethodPlainGoal, goalParams(0, 0))
	require.ErrorIs(t, err, ErrOracleTimeout)
	require.ErrorIs(t, p.client.Err(), ErrOracleTimeout)

	_, err = p.client.Request(ctx, MethodDocumentSymbol, nil)
	assert.ErrorIs(t, err, ErrOracleTimeout)
}

func TestClient_CallerCancellationDoesNotPoison(t *testing.T) {
	p := startPipeOracle(t, &oracletest.Script{Silent: []string{MethodPlainGoal}}, testConfig())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := p.client.Request(ctx, MethodPlainGoal, goalParams(0, 0))
	require.ErrorIs(t, err, context.Canceled)
	assert.NoError(t, p.client.Err())
}

func TestClient_CallerDeadlineDoesNotPoison(t *testing.T) {
	cfg := testConfig()
	cfg.RequestTimeout = time.Minute
	p := startPipeOracle(t, &oracletest.Script{Silent: []string{MethodPlainGoal}}, cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err := p.client.Request(ctx, MethodPlainGoal, goalParams(0, 0))
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.NotErrorIs(t, err, ErrOracleTimeout)
	assert.NoError(t, p.client.Err())
}

func TestClient_FramingViolationFailsSession(t *testing.T) {
	p := startPipeOracle(t, &oracletest.Script{
		RawAfterInitialize: "Content-Length: many\r\n\r\n{}",
	}, testConfig())
	ctx := context.Background()

	_, _ = p.client.Request(ctx, MethodInitialize, InitializeParams{})

	require.Eventually(t, func() bool {
		return errors.Is(p.client.Err(), ErrOracleFraming)
	}, 2*time.Second, 5*time.Millisecond)

	_, err := p.client.Request(ctx, MethodPlainGoal, goalParams(0, 0))
	assert.ErrorIs(t, err, ErrOracleFraming)
}

func TestClient_Crash(t *testing.T) {
	t.Run("pending request fails when the oracle dies", func(t *testing.T) {
		p := startPipeOracle(t, &oracletest.Script{Silent: []string{MethodPlainGoal}}, testConfig())

		result := make(chan error, 1)
		go func() {
			_, err := p.client.Request(context.Background(), MethodPlainGoal, goalParams(0, 0))
			result <- err
		}()

		require.Eventually(t, func() bool { return p.client.RequestsSent() == 1 }, 2*time.Second, time.Millisecond)
		require.NoError(t, p.client.tr.kill())

		select {
		case err := <-result:
			assert.ErrorIs(t, err, ErrOracleCrashed)
		case <-time.After(2 * time.Second):
			t.Fatal("pending request was not released")
		}
	})

	t.Run("later requests fail after a scripted crash", func(t *testing.T) {
		p := startPipeOracle(t, &oracletest.Script{
			Goals:           func(int, int) []string { return []string{"⊢ True"} },
			CrashAfterGoals: 1,
		}, testConfig())
		ctx := context.Background()

		_, err := p.client.Request(ctx, MethodPlainGoal, goalParams(0, 0))
		require.NoError(t, err)

		<-p.client.Done()
		_, err = p.client.Request(ctx, MethodPlainGoal, goalParams(1, 0))
		assert.ErrorIs(t, err, ErrOracleCrashed)
	})
}

func TestClient_Close(t *testing.T) {
	p := startPipeOracle(t, &oracletest.Script{}, testConfig())

	require.NoError(t, p.client.Close(context.Background()))
	require.NoError(t, p.client.Close(context.Background()), "Close is idempotent")

	_, err := p.client.Request(context.Background(), MethodPlainGoal, goalParams(0, 0))
	assert.ErrorIs(t, err, ErrOracleClosed)
	assert.ErrorIs(t, p.client.Notify(MethodInitialized, struct{}{}), ErrOracleClosed)
}

// =============================================================================
// REAL PROCESS
// =============================================================================

func helperConfig(t *testing.T, script string) Config {
	t.Helper()
	exe, err := os.Executable()
	require.NoError(t, err)

	cfg := testConfig()
	cfg.Command = exe
	cfg.Args = nil
	cfg.Env = []string{oracletest.EnvScript + "=" + script}
	return cfg
}

func TestStart_NotInstalled(t *testing.T) {
	cfg := testConfig()
	cfg.Command = "literatelean-no-such-oracle"

	_, err := Start(context.Background(), cfg)
	assert.ErrorIs(t, err, ErrOracleNotInstalled)
}

func TestStart_HelperProcess(t *testing.T) {
	if testing.Short() {
		t.Skip("spawns a subprocess")
	}
	ctx := context.Background()

	c, err := Start(ctx, helperConfig(t, "goals"))
	require.NoError(t, err)

	require.NoError(t, c.Initialize(ctx, ""))
	require.NoError(t, c.Open(testURI, "lean4", "𝔽 x\n"))

	port := NewPort(c, testURI, "")
	goal, ok, err := port.GoalAt(ctx, 1, "𝔽 x", 2)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "⊢ goal 0:3", goal)

	assert.NoError(t, c.Close(ctx))
	_, err = c.Request(ctx, MethodPlainGoal, goalParams(0, 0))
	assert.ErrorIs(t, err, ErrOracleClosed)
}

func TestStart_KilledMidDocument(t *testing.T) {
	if testing.Short() {
		t.Skip("spawns a subprocess")
	}
	ctx := context.Background()

	t.Run("external kill", func(t *testing.T) {
		c, err := Start(ctx, helperConfig(t, "goals"))
		require.NoError(t, err)
		defer c.Close(ctx)

		require.NoError(t, c.Initialize(ctx, ""))
		_, err = c.Request(ctx, MethodPlainGoal, goalParams(0, 0))
		require.NoError(t, err)

		require.NoError(t, c.tr.kill())
		<-c.Done()

		_, err = c.Request(ctx, MethodPlainGoal, goalParams(1, 0))
		assert.ErrorIs(t, err, ErrOracleCrashed)
	})

	t.Run("oracle exits on its own", func(t *testing.T) {
		c, err := Start(ctx, helperConfig(t, "crash"))
		require.NoError(t, err)
		defer c.Close(ctx)

		require.NoError(t, c.Initialize(ctx, ""))
		_, err = c.Request(ctx, MethodPlainGoal, goalParams(0, 0))
		require.NoError(t, err)

		<-c.Done()
		_, err = c.Request(ctx, MethodPlainGoal, goalParams(1, 0))
		assert.ErrorIs(t, err, ErrOracleCrashed)
	})
}
