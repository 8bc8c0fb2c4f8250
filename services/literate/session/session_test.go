// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package session

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/AleutianAI/LiterateLean/services/literate/engine"
	"github.com/AleutianAI/LiterateLean/services/literate/oracle"
	"github.com/AleutianAI/LiterateLean/services/literate/oracle/oracletest"
	"github.com/AleutianAI/LiterateLean/services/literate/splitter"
)

const sampleSource = `/-@tex
\section{Intro} see \lean{foo_bar}
@-/
theorem foo_bar : True := by
  trivial
/-@bib
@misc{x}
@-/
`

const sampleCode = "theorem foo_bar : True := by\n  trivial\n"

// helperScripts are served when the test binary is re-executed as an oracle.
var helperScripts = map[string]*oracletest.Script{
	"trivial": {
		Symbols: []oracletest.Symbol{{Name: "foo_bar", Line: 0}},
		Goals: func(line, character int) []string {
			if line == 1 && character >= 3 {
				return []string{"⊢ True"}
			}
			return nil
		},
	},
	"crash": {CrashAfterGoals: 2},
}

func TestMain(m *testing.M) {
	if name := os.Getenv(oracletest.EnvScript); name != "" {
		os.Exit(oracletest.Main(helperScripts[name]))
	}
	goleak.VerifyTestMain(m)
}

// fakeOracle proves "  trivial" from its second character on.
type fakeOracle struct {
	symbols map[int][]string
	goalErr error
	closed  int
}

func (f *fakeOracle) SymbolsAt(_ context.Context, line int) ([]string, error) {
	return f.symbols[line], nil
}

func (f *fakeOracle) GoalAt(_ context.Context, _ int, lineText string, column int) (string, bool, error) {
	if f.goalErr != nil {
		return "", false, f.goalErr
	}
	if lineText == "  trivial" && column >= 3 {
		return "⊢ True", true, nil
	}
	return "", false, nil
}

func (f *fakeOracle) DiagnosticAt(int) (string, bool) { return "", false }

func (f *fakeOracle) Close(context.Context) error {
	f.closed++
	return nil
}

// factoryFor returns a factory handing out orc and recording the document.
func factoryFor(orc *fakeOracle, opened *Document, calls *int) OracleFactory {
	return func(_ context.Context, doc Document) (Oracle, error) {
		*calls++
		*opened = doc
		return orc, nil
	}
}

func writeSource(t *testing.T, text string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "doc.lean")
	require.NoError(t, os.WriteFile(path, []byte(text), 0o644))
	return path
}

func readArtifact(t *testing.T, dir, name string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(dir, name))
	require.NoError(t, err)
	return string(data)
}

func assertNoArtifacts(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return
	}
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestRun_WritesArtifacts(t *testing.T) {
	orc := &fakeOracle{symbols: map[int][]string{1: {"foo_bar"}}}
	var doc Document
	calls := 0
	out := filepath.Join(t.TempDir(), "out")

	res, err := Run(context.Background(), Config{
		SourcePath: writeSource(t, sampleSource),
		BaseURL:    "https://git.example/doc.lean",
		OutDir:     out,
		Oracle:     factoryFor(orc, &doc, &calls),
	})
	require.NoError(t, err)

	assert.Equal(t, 1, calls)
	assert.Equal(t, 1, orc.closed)
	assert.Equal(t, sampleCode, doc.Text, "the code anchor opens the code artifact")
	assert.True(t, strings.HasPrefix(doc.URI, "file:///"))
	assert.True(t, strings.HasSuffix(doc.URI, "/doc.lean"))

	assert.NotEmpty(t, res.RunID)
	assert.Len(t, res.Written, 4)
	assert.Equal(t, 8, res.Stats.Lines)
	assert.Equal(t, 2, res.Stats.CodeLines)
	assert.Equal(t, 1, res.Stats.ProseLines)
	assert.Equal(t, 1, res.Stats.BibliographyLines)
	assert.Equal(t, 1, res.Stats.Records)
	assert.Equal(t, 1, res.Stats.SymbolLabels)

	assert.Equal(t, sampleCode, readArtifact(t, out, "out.lean"))
	assert.Equal(t, "@misc{x}\n", readArtifact(t, out, "out.bib"))
	assert.Contains(t, readArtifact(t, out, "proof_out.tex"), `\begin{leanProofGoal}{5}{9}{trivial}{2}`)

	annotated := readArtifact(t, out, "out.tex")
	assert.Contains(t, annotated, `\leanRef{foo_bar}{foo\_bar}`)
	assert.Contains(t, annotated, `\leanLabel{foo_bar}{foo\_bar}`)
	assert.Contains(t, annotated, `\leanProofGoalRef{5}{9}`)
	assert.Contains(t, annotated, `https://git.example/doc.lean#L1-L2`)
	assert.Equal(t, res.Artifacts.Annotated, annotated)
}

func TestRun_DocumentAnchor(t *testing.T) {
	orc := &fakeOracle{symbols: map[int][]string{4: {"foo_bar"}}}
	var doc Document
	calls := 0

	res, err := Run(context.Background(), Config{
		SourcePath: writeSource(t, sampleSource),
		OutDir:     t.TempDir(),
		Anchor:     engine.AnchorDocument,
		Oracle:     factoryFor(orc, &doc, &calls),
	})
	require.NoError(t, err)

	assert.Equal(t, sampleSource, doc.Text, "the document anchor opens the whole source")
	assert.Equal(t, 1, res.Stats.SymbolLabels, "symbols are looked up by document line")
}

func TestRun_DirectiveErrorBeforeOracle(t *testing.T) {
	calls := 0
	var doc Document
	out := filepath.Join(t.TempDir(), "out")

	_, err := Run(context.Background(), Config{
		SourcePath: writeSource(t, "def a := 1\n/-@tex\nopen prose\n"),
		OutDir:     out,
		Oracle:     factoryFor(&fakeOracle{}, &doc, &calls),
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, splitter.ErrUnbalancedDirective)

	var de *splitter.DirectiveError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, 2, de.Line)
	assert.Zero(t, calls, "the oracle is never started")
	assertNoArtifacts(t, out)
}

func TestRun_OracleFailureWritesNothing(t *testing.T) {
	orc := &fakeOracle{goalErr: oracle.ErrOracleCrashed}
	calls := 0
	var doc Document
	out := filepath.Join(t.TempDir(), "out")

	_, err := Run(context.Background(), Config{
		SourcePath: writeSource(t, sampleSource),
		OutDir:     out,
		Oracle:     factoryFor(orc, &doc, &calls),
	})
	assert.ErrorIs(t, err, oracle.ErrOracleCrashed)
	assert.Equal(t, 1, orc.closed, "the oracle is closed on failure")
	assertNoArtifacts(t, out)
}

func TestRun_FactoryError(t *testing.T) {
	boom := errors.New("spawn failed")
	_, err := Run(context.Background(), Config{
		SourcePath: writeSource(t, sampleSource),
		OutDir:     t.TempDir(),
		Oracle: func(context.Context, Document) (Oracle, error) {
			return nil, boom
		},
	})
	assert.ErrorIs(t, err, boom)
}

func TestRun_InvalidConfig(t *testing.T) {
	factory := func(context.Context, Document) (Oracle, error) { return &fakeOracle{}, nil }
	tests := []struct {
		name string
		cfg  Config
	}{
		{"no source", Config{Oracle: factory}},
		{"no oracle", Config{SourcePath: "doc.lean"}},
		{"unknown anchor", Config{SourcePath: "doc.lean", Oracle: factory, Anchor: "line"}},
		{"bad directives", Config{SourcePath: writeSource(t, sampleSource), Oracle: factory,
			Directives: splitter.Spellings{Prose: []string{"/-@tex"}, End: []string{"/-@tex"}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Run(context.Background(), tt.cfg)
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}

func TestRun_NilContext(t *testing.T) {
	//nolint:staticcheck // nil context is the case under test
	_, err := Run(nil, Config{})
	assert.ErrorIs(t, err, ErrNilContext)
}

func TestRun_MissingSource(t *testing.T) {
	_, err := Run(context.Background(), Config{
		SourcePath: filepath.Join(t.TempDir(), "missing.lean"),
		Oracle:     func(context.Context, Document) (Oracle, error) { return &fakeOracle{}, nil },
	})
	assert.ErrorIs(t, err, os.ErrNotExist)
}

type recordingProgress struct {
	total   int
	updates []int
	done    bool
}

func (p *recordingProgress) Update(line int) { p.updates = append(p.updates, line) }

func (p *recordingProgress) Done() { p.done = true }

func TestRun_Progress(t *testing.T) {
	progress := &recordingProgress{}
	calls := 0
	var doc Document

	_, err := Run(context.Background(), Config{
		SourcePath: writeSource(t, sampleSource),
		OutDir:     t.TempDir(),
		Oracle:     factoryFor(&fakeOracle{}, &doc, &calls),
		Progress: func(total int) Progress {
			progress.total = total
			return progress
		},
	})
	require.NoError(t, err)

	assert.Equal(t, 8, progress.total)
	assert.Equal(t, []int{2, 4, 5, 7}, progress.updates, "directive lines are not reported")
	assert.True(t, progress.done)
}

func TestFileURI(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"/tmp/doc.lean", "file:///tmp/doc.lean"},
		{"/tmp/my docs/doc.lean", "file:///tmp/my%20docs/doc.lean"},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.want, FileURI(tt.path))
		})
	}
}

// =============================================================================
// Real-process tests
// =============================================================================

func helperFactory(t *testing.T, script string) OracleFactory {
	t.Helper()
	exe, err := os.Executable()
	require.NoError(t, err)

	cfg := oracle.DefaultConfig()
	cfg.Command = exe
	cfg.Args = nil
	cfg.Env = []string{oracletest.EnvScript + "=" + script}
	return ProcessOracle(ProcessConfig{Config: cfg})
}

func TestRun_ProcessOracle(t *testing.T) {
	if testing.Short() {
		t.Skip("spawns a subprocess")
	}
	out := t.TempDir()

	res, err := Run(context.Background(), Config{
		SourcePath: writeSource(t, sampleSource),
		BaseURL:    "https://git.example/doc.lean",
		OutDir:     out,
		Oracle:     helperFactory(t, "trivial"),
	})
	require.NoError(t, err)

	assert.Equal(t, 1, res.Stats.Records)
	assert.Equal(t, 1, res.Stats.SymbolLabels)
	assert.Positive(t, res.Stats.OracleRequests)
	assert.Contains(t, readArtifact(t, out, "proof_out.tex"), `\begin{leanProofGoal}{5}{9}{trivial}{2}`)
}

func TestRun_OracleKilledMidDocument(t *testing.T) {
	if testing.Short() {
		t.Skip("spawns a subprocess")
	}
	out := filepath.Join(t.TempDir(), "out")

	_, err := Run(context.Background(), Config{
		SourcePath: writeSource(t, sampleSource),
		OutDir:     out,
		Oracle:     helperFactory(t, "crash"),
	})
	assert.ErrorIs(t, err, oracle.ErrOracleCrashed)
	assertNoArtifacts(t, out)
}
