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
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

// Names are the artifact file names, relative to the output directory.
type Names struct {
	Annotated    string `yaml:"annotated" validate:"required"`
	Appendix     string `yaml:"appendix" validate:"required"`
	Code         string `yaml:"code" validate:"required"`
	Bibliography string `yaml:"bibliography" validate:"required"`
}

// DefaultNames returns out.tex, proof_out.tex, out.lean and out.bib.
func DefaultNames() Names {
	return Names{
		Annotated:    "out.tex",
		Appendix:     "proof_out.tex",
		Code:         "out.lean",
		Bibliography: "out.bib",
	}
}

// Writer materializes artifacts in a directory.
type Writer struct {
	Dir    string
	Names  Names
	Logger *slog.Logger
}

type pendingFile struct {
	target string
	temp   string
}

// WriteAll writes every artifact or none.
//
// Description:
//
//	Each artifact is written to a temporary file next to its target and
//	synced. Only when every temporary write succeeded are they renamed into
//	place; on any failure the temporaries are removed and no target is
//	touched.
//
// Outputs:
//
//	[]string - Paths of the written artifacts
func (w Writer) WriteAll(a Artifacts) ([]string, error) {
	logger := w.Logger
	if logger == nil {
		logger = slog.Default()
	}
	dir := w.Dir
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create output directory: %w", err)
	}

	contents := []struct {
		name string
		text string
	}{
		{w.Names.Annotated, a.Annotated},
		{w.Names.Appendix, a.Appendix},
		{w.Names.Code, a.Code},
		{w.Names.Bibliography, a.Bibliography},
	}

	var pending []pendingFile
	cleanup := func() {
		for _, p := range pending {
			_ = os.Remove(p.temp)
		}
	}

	for _, c := range contents {
		target := filepath.Join(dir, c.name)
		temp, err := writeTemp(target, c.text)
		if err != nil {
			cleanup()
			return nil, fmt.Errorf("write %s: %w", target, err)
		}
		pending = append(pending, pendingFile{target: target, temp: temp})
	}

	written := make([]string, 0, len(pending))
	var renameErr error
	for _, p := range pending {
		if err := os.Rename(p.temp, p.target); err != nil {
			renameErr = errors.Join(renameErr, fmt.Errorf("rename %s: %w", p.target, err))
			_ = os.Remove(p.temp)
			continue
		}
		written = append(written, p.target)
	}
	if renameErr != nil {
		return written, renameErr
	}

	logger.Info("Artifacts written",
		slog.String("dir", dir),
		slog.Int("count", len(written)),
	)
	return written, nil
}

func writeTemp(target, text string) (string, error) {
	f, err := os.CreateTemp(filepath.Dir(target), "."+filepath.Base(target)+".*.tmp")
	if err != nil {
		return "", err
	}
	if _, err := f.WriteString(text); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", err
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", err
	}
	return f.Name(), nil
}
