// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config holds the literatelean configuration file format.
package config

import (
	"time"

	"github.com/AleutianAI/LiterateLean/services/literate/assemble"
	"github.com/AleutianAI/LiterateLean/services/literate/engine"
	"github.com/AleutianAI/LiterateLean/services/literate/splitter"
	"github.com/AleutianAI/LiterateLean/services/literate/telemetry"
)

type Config struct {
	// Oracle: the language server process and its deadlines
	Oracle OracleConfig `yaml:"oracle"`

	// Output: where the four artifacts go
	Output OutputConfig `yaml:"output"`

	// Directives: spellings of the block directives
	Directives splitter.Spellings `yaml:"directives"`

	// Markers: fold and extraction comment markers
	Markers engine.Markers `yaml:"markers"`

	// Render: LaTeX rendering knobs
	Render engine.Render `yaml:"render"`

	Logging   LoggingConfig    `yaml:"logging"`
	Telemetry telemetry.Config `yaml:"telemetry"`
}

type OracleConfig struct {
	Command    string   `yaml:"command" validate:"required"` // e.g. lean
	Args       []string `yaml:"args,omitempty"`              // e.g. ["--server"]
	Env        []string `yaml:"env,omitempty"`               // e.g. ["LEAN_PATH=..."]
	Dir        string   `yaml:"dir,omitempty"`
	LanguageID string   `yaml:"language_id" validate:"required"`
	GoalMethod string   `yaml:"goal_method" validate:"required"`

	// Anchor is "code" (the oracle sees the code artifact) or "document"
	// (the oracle sees the whole source).
	Anchor string `yaml:"anchor" validate:"oneof=code document"`

	RequestTimeout  time.Duration `yaml:"request_timeout" validate:"gt=0"`
	StartupTimeout  time.Duration `yaml:"startup_timeout" validate:"gt=0"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" validate:"gt=0"`
}

type OutputConfig struct {
	Dir   string         `yaml:"dir"`
	Names assemble.Names `yaml:"names"`
}

type LoggingConfig struct {
	Level string `yaml:"level" validate:"oneof=debug info warn warning error"`
	JSON  bool   `yaml:"json"`
	Dir   string `yaml:"dir"` // empty disables file logging
}

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() Config {
	return Config{
		Oracle: OracleConfig{
			Command:         "lean",
			Args:            []string{"--server"},
			LanguageID:      "lean4",
			GoalMethod:      "$/lean/plainGoal",
			Anchor:          string(engine.AnchorCode),
			RequestTimeout:  5 * time.Minute,
			StartupTimeout:  2 * time.Minute,
			ShutdownTimeout: 5 * time.Second,
		},
		Output: OutputConfig{
			Dir:   ".",
			Names: assemble.DefaultNames(),
		},
		Directives: splitter.DefaultSpellings(),
		Markers:    engine.DefaultMarkers(),
		Render:     engine.DefaultRender(),
		Logging: LoggingConfig{
			Level: "warn",
		},
		Telemetry: telemetry.DefaultConfig(),
	}
}
