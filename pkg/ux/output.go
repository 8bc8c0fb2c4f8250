// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package ux renders the literatelean console output: styled status lines
// and the per-line progress bar.
package ux

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"
)

// Palette.
var (
	ColorTealBright  = lipgloss.Color("#2CD7C7")
	ColorTealPrimary = lipgloss.Color("#20B9B4")
	ColorSlate       = lipgloss.Color("#2C4A54")

	ColorSuccess = lipgloss.Color("#2CD7C7")
	ColorWarning = lipgloss.Color("#F4D03F")
	ColorError   = lipgloss.Color("#E74C3C")
)

// Styles provides pre-configured lipgloss styles
var Styles = struct {
	Title     lipgloss.Style
	Bold      lipgloss.Style
	Muted     lipgloss.Style
	Success   lipgloss.Style
	Warning   lipgloss.Style
	Error     lipgloss.Style
	Highlight lipgloss.Style
}{
	Title:     lipgloss.NewStyle().Bold(true).Foreground(ColorTealBright),
	Bold:      lipgloss.NewStyle().Bold(true),
	Muted:     lipgloss.NewStyle().Foreground(ColorSlate),
	Success:   lipgloss.NewStyle().Foreground(ColorSuccess),
	Warning:   lipgloss.NewStyle().Foreground(ColorWarning),
	Error:     lipgloss.NewStyle().Foreground(ColorError),
	Highlight: lipgloss.NewStyle().Foreground(ColorTealPrimary).Bold(true),
}

// Icon provides themed status icons
type Icon string

const (
	IconSuccess Icon = "✓"
	IconWarning Icon = "⚠"
	IconError   Icon = "✗"
	IconArrow   Icon = "→"
)

// Render returns the icon with appropriate styling
func (i Icon) Render() string {
	switch i {
	case IconSuccess:
		return Styles.Success.Render(string(i))
	case IconWarning:
		return Styles.Warning.Render(string(i))
	case IconError:
		return Styles.Error.Render(string(i))
	default:
		return Styles.Highlight.Render(string(i))
	}
}

// Console prints status lines. A quiet console prints only errors.
type Console struct {
	mu    sync.Mutex
	w     io.Writer
	quiet bool
}

// NewConsole returns a console writing to w.
func NewConsole(w io.Writer, quiet bool) *Console {
	return &Console{w: w, quiet: quiet}
}

// Title prints a styled title
func (c *Console) Title(text string) {
	c.print(false, Styles.Title.Render(text))
}

// Success prints a success message with checkmark
func (c *Console) Success(text string) {
	c.print(false, IconSuccess.Render()+" "+Styles.Success.Render(text))
}

// Warning prints a warning message
func (c *Console) Warning(text string) {
	c.print(false, IconWarning.Render()+" "+Styles.Warning.Render(text))
}

// Error prints an error message, even when quiet.
func (c *Console) Error(text string) {
	c.print(true, IconError.Render()+" "+Styles.Error.Render(text))
}

// Info prints an informational message
func (c *Console) Info(text string) {
	c.print(false, Styles.Muted.Render("│")+" "+text)
}

// File prints a written artifact path.
func (c *Console) File(path string) {
	c.print(false, "  "+IconArrow.Render()+" "+path)
}

func (c *Console) print(always bool, line string) {
	if c.quiet && !always {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintln(c.w, line)
}

// ProgressBar renders a simple progress bar
func ProgressBar(current, total int, width int) string {
	pct := 1.0
	if total > 0 {
		pct = float64(current) / float64(total)
	}
	pct = min(max(pct, 0), 1)
	filled := int(pct * float64(width))
	empty := width - filled

	bar := Styles.Success.Render(strings.Repeat("█", filled)) +
		Styles.Muted.Render(strings.Repeat("░", empty))

	return fmt.Sprintf("%s %3.0f%%", bar, pct*100)
}
