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

import "unicode/utf8"

// ToPosition converts an internal coordinate to an oracle Position.
//
// Description:
//
//	Internal lines are 1-based and internal columns are rune offsets into
//	lineText. The oracle expects a 0-based line and a character offset in
//	UTF-16 code units, so runes outside the Basic Multilingual Plane count
//	twice. Columns past the end of lineText address the end of the line.
//
// Inputs:
//
//	line - 1-based line number
//	lineText - The text of that line, without its newline
//	column - 0-based rune offset into lineText
//
// Outputs:
//
//	Position - The oracle coordinate
func ToPosition(line int, lineText string, column int) Position {
	units := 0
	runes := 0
	for _, r := range lineText {
		if runes >= column {
			break
		}
		units += utf16Len(r)
		runes++
	}
	return Position{Line: ToOracleLine(line), Character: units}
}

// ToOracleLine converts a 1-based line to the oracle's 0-based line.
func ToOracleLine(line int) int {
	return line - 1
}

// FromOracleLine converts the oracle's 0-based line to a 1-based line.
func FromOracleLine(line int) int {
	return line + 1
}

func utf16Len(r rune) int {
	if r >= 0x10000 && r <= utf8.MaxRune {
		return 2
	}
	return 1
}
