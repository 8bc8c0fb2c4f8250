// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package assemble

import (
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/LiterateLean/services/literate/engine"
)

func TestAssemble(t *testing.T) {
	fragments := []engine.Fragment{
		{Kind: engine.FragmentProse, Text: "intro\n"},
		{Kind: engine.FragmentBlockOpen, Text: "<open>\n"},
		{Kind: engine.FragmentCodeLine, Text: "line\n"},
		{Kind: engine.FragmentComment, Text: "-- c\n"},
		{Kind: engine.FragmentBlockClose, Text: "<close>\n"},
	}
	records := []engine.ProofStateRecord{
		{DocumentLine: 4, Column: 11, Token: "h_1", Goal: "x✝ : Nat\n⊢ True", CodeLine: 2},
		{DocumentLine: 9, Column: 3, Token: "rfl", Goal: "⊢ a = a", CodeLine: 5},
	}

	got := Assemble(fragments, records, "def a := 1\n", "@misc{x}\n")
	want := Artifacts{
		Annotated: "intro\n<open>\nline\n-- c\n<close>\n",
		Appendix: "\\section{Proof Goals}\n\n" +
			"\\begin{leanProofGoal}{4}{11}{h\\_1}{2}\nx† : Nat\n⊢ True\n\\end{leanProofGoal}\n\n" +
			"\\begin{leanProofGoal}{9}{3}{rfl}{5}\n⊢ a = a\n\\end{leanProofGoal}\n",
		Code:         "def a := 1\n",
		Bibliography: "@misc{x}\n",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Assemble mismatch (-want +got):\n%s", diff)
	}
}

func TestRenderAppendix_Empty(t *testing.T) {
	assert.Equal(t, "\\section{Proof Goals}\n\n", RenderAppendix(nil))
}

func listDir(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names
}

func TestWriter_WriteAll(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "out")
	w := Writer{Dir: dir, Names: DefaultNames()}

	written, err := w.WriteAll(Artifacts{Annotated: "A", Appendix: "P", Code: "L", Bibliography: "B"})
	require.NoError(t, err)
	assert.Len(t, written, 4)
	assert.Equal(t, []string{"out.bib", "out.lean", "out.tex", "proof_out.tex"}, listDir(t, dir))

	data, err := os.ReadFile(filepath.Join(dir, "proof_out.tex"))
	require.NoError(t, err)
	assert.Equal(t, "P", string(data))
}

func TestWriter_NothingWrittenOnFailure(t *testing.T) {
	dir := t.TempDir()
	names := DefaultNames()
	names.Bibliography = filepath.Join("missing", "out.bib")
	w := Writer{Dir: dir, Names: names}

	_, err := w.WriteAll(Artifacts{Annotated: "A", Appendix: "P", Code: "L", Bibliography: "B"})
	require.Error(t, err)
	assert.Empty(t, listDir(t, dir), "no artifact and no temporary file is left behind")
}

func TestWriter_ReplacesExistingArtifacts(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "out.tex"), []byte("old"), 0o644))

	_, err := Writer{Dir: dir, Names: DefaultNames()}.WriteAll(Artifacts{Annotated: "new"})
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(dir, "out.tex"))
	require.NoError(t, err)
	assert.Equal(t, "new", string(data))
}
