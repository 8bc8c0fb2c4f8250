// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/LiterateLean/services/literate/engine"
	"github.com/AleutianAI/LiterateLean/services/literate/oracle"
	"github.com/AleutianAI/LiterateLean/services/literate/session"
	"github.com/AleutianAI/LiterateLean/services/literate/splitter"
)

// ErrInvalidConfig wraps every load or validation failure.
var ErrInvalidConfig = errors.New("invalid configuration")

var validate = validator.New()

// Load reads path over the defaults. An empty path returns the defaults.
//
// Unknown keys are rejected so a misspelled option does not silently fall
// back to its default.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read the config file: %w", err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return cfg, fmt.Errorf("%w: %s: %v", ErrInvalidConfig, path, err)
	}
	return cfg, nil
}

// Validate checks the struct tags of every section and the directive table.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			return fmt.Errorf("%w: %s", ErrInvalidConfig, describe(verrs))
		}
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if _, err := splitter.NewDirectiveTable(c.Directives); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}

func describe(verrs validator.ValidationErrors) string {
	var b bytes.Buffer
	for i, fe := range verrs {
		if i > 0 {
			b.WriteString("; ")
		}
		fmt.Fprintf(&b, "%s fails %q", fe.Namespace(), fe.Tag())
		if fe.Param() != "" {
			fmt.Fprintf(&b, " (%s)", fe.Param())
		}
	}
	return b.String()
}

// WriteDefault writes the default configuration to path, creating its
// directory.
func WriteDefault(path string) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create the config directory: %w", err)
		}
	}
	data, err := yaml.Marshal(DefaultConfig())
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// ProcessOracle returns the oracle process settings.
func (c Config) ProcessOracle(logger *slog.Logger) session.ProcessConfig {
	return session.ProcessConfig{
		Config: oracle.Config{
			Command:         c.Oracle.Command,
			Args:            c.Oracle.Args,
			Dir:             c.Oracle.Dir,
			Env:             c.Oracle.Env,
			RequestTimeout:  c.Oracle.RequestTimeout,
			StartupTimeout:  c.Oracle.StartupTimeout,
			ShutdownTimeout: c.Oracle.ShutdownTimeout,
			Logger:          logger,
		},
		LanguageID: c.Oracle.LanguageID,
		GoalMethod: c.Oracle.GoalMethod,
	}
}

// Session returns the run settings for one source file.
func (c Config) Session(source, baseURL string, factory session.OracleFactory, logger *slog.Logger) session.Config {
	return session.Config{
		SourcePath: source,
		BaseURL:    baseURL,
		OutDir:     c.Output.Dir,
		Names:      c.Output.Names,
		Directives: c.Directives,
		Anchor:     engine.Anchor(c.Oracle.Anchor),
		Render:     c.Render,
		Markers:    c.Markers,
		Oracle:     factory,
		Logger:     logger,
	}
}
