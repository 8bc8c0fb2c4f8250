// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package splitter

import (
	"fmt"
	"strings"
)

// Action is what a directive does to the mode stack.
type Action int

const (
	// ActionPush enters Transition.Mode.
	ActionPush Action = iota

	// ActionPop leaves the current mode.
	ActionPop
)

// Transition is the effect of one directive spelling.
type Transition struct {
	Action Action
	Mode   Mode
}

// Spellings lists the accepted spellings of each directive. The first entry
// of every list is canonical; the rest are compatibility aliases.
type Spellings struct {
	Prose        []string `yaml:"prose"`
	Bibliography []string `yaml:"bibliography"`
	End          []string `yaml:"end"`
}

// DefaultSpellings returns the directives literate Lean sources use.
func DefaultSpellings() Spellings {
	return Spellings{
		Prose:        []string{"/-@tex", "/-@"},
		Bibliography: []string{"/-@bib"},
		End:          []string{"@-/"},
	}
}

// DirectiveTable maps a trimmed line to its transition.
type DirectiveTable struct {
	transitions map[string]Transition
}

// NewDirectiveTable builds the lookup table for s.
//
// Errors:
//
//	A spelling is empty, contains whitespace, or is claimed twice.
func NewDirectiveTable(s Spellings) (DirectiveTable, error) {
	t := DirectiveTable{transitions: make(map[string]Transition)}
	groups := []struct {
		name       string
		spellings  []string
		transition Transition
	}{
		{"prose", s.Prose, Transition{Action: ActionPush, Mode: ModeProse}},
		{"bibliography", s.Bibliography, Transition{Action: ActionPush, Mode: ModeBibliography}},
		{"end", s.End, Transition{Action: ActionPop}},
	}
	for _, g := range groups {
		if len(g.spellings) == 0 {
			return DirectiveTable{}, fmt.Errorf("directive %s: no spelling", g.name)
		}
		for _, spelling := range g.spellings {
			if spelling == "" || strings.TrimSpace(spelling) != spelling || strings.ContainsAny(spelling, " \t") {
				return DirectiveTable{}, fmt.Errorf("directive %s: invalid spelling %q", g.name, spelling)
			}
			if _, dup := t.transitions[spelling]; dup {
				return DirectiveTable{}, fmt.Errorf("directive %s: spelling %q already in use", g.name, spelling)
			}
			t.transitions[spelling] = g.transition
		}
	}
	return t, nil
}

// DefaultDirectiveTable returns the table for DefaultSpellings.
func DefaultDirectiveTable() DirectiveTable {
	t, err := NewDirectiveTable(DefaultSpellings())
	if err != nil {
		panic(err)
	}
	return t
}

// Lookup returns the transition for a raw line, matched after trimming.
func (t DirectiveTable) Lookup(line string) (Transition, bool) {
	tr, ok := t.transitions[strings.TrimSpace(line)]
	return tr, ok
}
