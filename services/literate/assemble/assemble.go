// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package assemble turns the engine's output into the final artifacts and
// writes them to disk.
package assemble

import (
	"fmt"
	"strings"

	"github.com/AleutianAI/LiterateLean/services/literate/engine"
)

// Artifacts are the four outputs of a pass.
type Artifacts struct {
	// Annotated is the LaTeX document with annotated code blocks.
	Annotated string

	// Appendix holds one leanProofGoal environment per proof-state record.
	Appendix string

	// Code is exactly the CODE lines, in order.
	Code string

	// Bibliography is exactly the BIBLIOGRAPHY lines, in order.
	Bibliography string
}

// Assemble concatenates fragments in emission order and renders records
// into the appendix.
func Assemble(fragments []engine.Fragment, records []engine.ProofStateRecord, code, bibliography string) Artifacts {
	var annotated strings.Builder
	for _, f := range fragments {
		annotated.WriteString(f.Text)
	}
	return Artifacts{
		Annotated:    annotated.String(),
		Appendix:     RenderAppendix(records),
		Code:         code,
		Bibliography: bibliography,
	}
}

// RenderAppendix renders the proof-state appendix. Each block is addressed
// by document line and column, the pair the reference markers carry, and
// names the code line it was rendered on.
func RenderAppendix(records []engine.ProofStateRecord) string {
	blocks := make([]string, 0, len(records))
	for _, r := range records {
		blocks = append(blocks, fmt.Sprintf("\\begin{leanProofGoal}{%d}{%d}{%s}{%d}\n%s\n\\end{leanProofGoal}",
			r.DocumentLine, r.Column, engine.EscapeToken(r.Token), r.CodeLine, engine.FormatGoal(r.Goal)))
	}

	var b strings.Builder
	b.WriteString("\\section{Proof Goals}\n\n")
	if len(blocks) > 0 {
		b.WriteString(strings.Join(blocks, "\n\n"))
		b.WriteString("\n")
	}
	return b.String()
}
