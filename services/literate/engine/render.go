// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package engine

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode"
)

// Render holds the LaTeX markup settings.
type Render struct {
	// GutterWidth is the number of digits line numbers are padded to.
	GutterWidth int `yaml:"gutter_width" validate:"gte=1,lte=9"`

	// Language is the minted language name.
	Language string `yaml:"language" validate:"required"`

	// MintedOptions go between the minted brackets. They must keep
	// escapeinside=!! since every marker is escaped with "!".
	MintedOptions string `yaml:"minted_options" validate:"required,contains=escapeinside=!!"`

	// LinkIcon is the image shown on the back-link of every code block.
	LinkIcon string `yaml:"link_icon" validate:"required"`
}

// DefaultRender returns the markup used by the LaTeX support package.
func DefaultRender() Render {
	return Render{
		GutterWidth:   4,
		Language:      "lean4",
		MintedOptions: `escapeinside=!!,fontsize=\footnotesize,baselinestretch=0.85,bgcolor=codebg`,
		LinkIcon:      "git.png",
	}
}

// Markers holds the line suffixes recognised inside code.
type Markers struct {
	FoldOpen  string `yaml:"fold_open" validate:"required"`
	FoldClose string `yaml:"fold_close" validate:"required,nefield=FoldOpen"`
	Extract   string `yaml:"extract" validate:"required"`
}

// DefaultMarkers returns the vim-style fold markers and the extraction
// marker.
func DefaultMarkers() Markers {
	return Markers{
		FoldOpen:  "-- {{{",
		FoldClose: "-- }}}",
		Extract:   "-- >>>",
	}
}

var leanRefPattern = regexp.MustCompile(`\\lean\{([^}]+)\}`)

// rewriteProse expands every \lean{identifier} into \leanRef{anchor}{display}.
func rewriteProse(line string) string {
	return leanRefPattern.ReplaceAllStringFunc(line, func(m string) string {
		ident := leanRefPattern.FindStringSubmatch(m)[1]
		return `\leanRef{` + anchorToken(ident) + `}{` + displayToken(ident) + `}`
	})
}

// anchorToken strips all whitespace from an identifier.
func anchorToken(ident string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, ident)
}

// displayToken escapes underscores for LaTeX.
func displayToken(ident string) string {
	return strings.ReplaceAll(ident, "_", `\_`)
}

func (r Render) gutterNumber(n int) string {
	digits := strconv.Itoa(n)
	pad := ""
	if w := r.GutterWidth - len(digits); w > 0 {
		pad = strings.Repeat(`\phantom{0}`, w)
	}
	return pad + digits
}

// gutter is the visible line number prefix.
func (r Render) gutter(n int) string {
	return `!\tiny{` + r.gutterNumber(n) + `}! `
}

// phantomGutter takes the space of a line number without showing it.
func (r Render) phantomGutter(n int) string {
	return `!\phantom{\tiny{` + r.gutterNumber(n) + `}}! `
}

// comment renders a synthetic Lean comment line.
func (r Render) comment(codeLine int, indent, text string) string {
	return r.phantomGutter(codeLine) + indent + "-- " + text + "\n"
}

func (r Render) blockOpen() string {
	return `\noindent\begin{tikzpicture}
  \node[anchor=north west, inner sep=0] (code) at (0,0) {
    \begin{minipage}{\linewidth}
      \begin{minted}[` + r.MintedOptions + `]{` + r.Language + `}
`
}

// blockClose ends the listing. Without a range (first > last) the back-link
// node is left out.
func (r Render) blockClose(baseURL string, first, last int) string {
	var b strings.Builder
	b.WriteString(`\end{minted}
    \end{minipage}
  };
`)
	if first <= last {
		fmt.Fprintf(&b, `  \node[anchor=north east, yshift=-5pt] at (code.north east) {
    \href{%s#L%d-L%d}{\includegraphics[width=2em]{%s}}
  };
`, baseURL, first, last, r.LinkIcon)
	}
	b.WriteString("\\end{tikzpicture}\n")
	return b.String()
}

func goalRef(documentLine, column int) string {
	return fmt.Sprintf(`!\leanProofGoalRef{%d}{%d}!`, documentLine, column)
}

func symbolLabel(name string) string {
	return `!\leanLabel{` + anchorToken(name) + `}{` + displayToken(name) + `}!`
}

// FormatGoal prepares goal text for LaTeX. Lean marks inaccessible names
// with ✝, which the document fonts lack.
func FormatGoal(goal string) string {
	return strings.ReplaceAll(goal, "✝", "†")
}

// EscapeToken escapes the underscores of a proof-state token for use as a
// macro argument.
func EscapeToken(token string) string {
	return displayToken(token)
}

// leadingIndent returns the leading whitespace of line as spaces.
func leadingIndent(line string) string {
	n := 0
	for _, r := range line {
		if !unicode.IsSpace(r) {
			break
		}
		n++
	}
	return strings.Repeat(" ", n)
}
