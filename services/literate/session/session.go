// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package session runs one annotation of a literate source end to end.
//
// A run reads the source, routes it once without an oracle to learn the
// code text and surface directive errors, starts the oracle on the anchored
// document, makes the single annotation pass, and writes the artifacts only
// when every step succeeded. The oracle is closed on every path.
package session

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/AleutianAI/LiterateLean/services/literate/assemble"
	"github.com/AleutianAI/LiterateLean/services/literate/engine"
	"github.com/AleutianAI/LiterateLean/services/literate/splitter"
	"github.com/AleutianAI/LiterateLean/services/literate/telemetry"
)

var (
	// ErrNilContext is returned when Run is called with a nil context.
	ErrNilContext = errors.New("context must not be nil")

	// ErrInvalidConfig is returned for a Config Run cannot use.
	ErrInvalidConfig = errors.New("invalid session config")
)

// Progress receives the number of each routed source line.
type Progress interface {
	Update(line int)
	Done()
}

// Config configures a run.
type Config struct {
	// SourcePath is the literate source file.
	SourcePath string

	// BaseURL is the published source URL block back-links point into.
	BaseURL string

	// OutDir receives the artifacts. Empty means the working directory.
	OutDir string

	Names      assemble.Names
	Directives splitter.Spellings
	Anchor     engine.Anchor
	Render     engine.Render
	Markers    engine.Markers

	// Oracle starts the oracle once the document is known.
	Oracle OracleFactory

	// Progress, when set, is called with the source line count.
	Progress func(total int) Progress

	// Logger receives run logs. Nil means slog.Default().
	Logger *slog.Logger
}

// Stats summarizes a run.
type Stats struct {
	engine.Stats

	Lines             int
	CodeLines         int
	ProseLines        int
	BibliographyLines int
	OracleRequests    int64
	Elapsed           time.Duration
}

// Result is what a successful run produced.
type Result struct {
	RunID     string
	Artifacts assemble.Artifacts
	Written   []string
	Stats     Stats
}

// Run annotates cfg.SourcePath and writes the artifacts.
//
// Description:
//
//	Steps, each fatal on error:
//	  1. Read the source.
//	  2. Routing pre-pass: collects the code text and checks directive
//	     balance before any process is spawned.
//	  3. Start the oracle on the anchored document.
//	  4. Annotation pass, then end-of-document handling.
//	  5. Assemble and write every artifact, or none.
//	The oracle is closed whether or not the pass succeeded.
//
// Outputs:
//
//	*Result - Artifacts, written paths and counters
//	error - The first fatal error; no artifact is written when non-nil
func Run(ctx context.Context, cfg Config) (*Result, error) {
	if ctx == nil {
		return nil, ErrNilContext
	}
	if err := applyDefaults(&cfg); err != nil {
		return nil, err
	}

	runID := uuid.NewString()
	ctx, span := tracer.Start(ctx, "Session.Run")
	defer span.End()
	span.SetAttributes(
		attribute.String("run.id", runID),
		attribute.String("source", cfg.SourcePath),
		attribute.String("anchor", string(cfg.Anchor)),
	)
	logger := telemetry.LoggerWithTrace(ctx, cfg.Logger).With(
		slog.String("component", "session"),
		slog.String("run_id", runID),
	)

	start := time.Now()
	res, err := run(ctx, cfg, logger)
	elapsed := time.Since(start)

	var stats Stats
	if res != nil {
		res.RunID = runID
		res.Stats.Elapsed = elapsed
		stats = res.Stats
	}
	recordRun(ctx, stats, elapsed, err)

	if err != nil {
		telemetry.RecordError(span, err)
		logger.Error("Run failed",
			slog.String("source", cfg.SourcePath),
			slog.Duration("elapsed", elapsed),
			slog.String("error", err.Error()),
		)
		return nil, err
	}
	span.SetStatus(codes.Ok, "")
	logger.Info("Run finished",
		slog.String("source", cfg.SourcePath),
		slog.Int("lines", stats.Lines),
		slog.Int("records", stats.Records),
		slog.Int("goal_queries", stats.GoalQueries),
		slog.Duration("elapsed", elapsed),
	)
	return res, nil
}

func applyDefaults(cfg *Config) error {
	if cfg.SourcePath == "" {
		return fmt.Errorf("%w: source path is empty", ErrInvalidConfig)
	}
	if cfg.Oracle == nil {
		return fmt.Errorf("%w: no oracle factory", ErrInvalidConfig)
	}
	switch cfg.Anchor {
	case "":
		cfg.Anchor = engine.AnchorCode
	case engine.AnchorCode, engine.AnchorDocument:
	default:
		return fmt.Errorf("%w: unknown anchor %q", ErrInvalidConfig, cfg.Anchor)
	}
	if cfg.Names == (assemble.Names{}) {
		cfg.Names = assemble.DefaultNames()
	}
	if cfg.Directives.Prose == nil && cfg.Directives.Bibliography == nil && cfg.Directives.End == nil {
		cfg.Directives = splitter.DefaultSpellings()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return nil
}

// prepass is what routing alone learns about the source.
type prepass struct {
	code  string
	lines int
}

func run(ctx context.Context, cfg Config, logger *slog.Logger) (res *Result, err error) {
	source, err := os.ReadFile(cfg.SourcePath)
	if err != nil {
		return nil, fmt.Errorf("read source: %w", err)
	}
	table, err := splitter.NewDirectiveTable(cfg.Directives)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	pre, err := route(ctx, table, source)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", cfg.SourcePath, err)
	}

	doc, err := document(cfg, pre, source)
	if err != nil {
		return nil, err
	}
	logger.Debug("Starting oracle",
		slog.String("uri", doc.URI),
		slog.Int("document_bytes", len(doc.Text)),
	)
	orc, err := cfg.Oracle(ctx, doc)
	if err != nil {
		return nil, fmt.Errorf("start oracle: %w", err)
	}
	defer func() {
		if cerr := orc.Close(context.WithoutCancel(ctx)); cerr != nil {
			logger.Warn("Closing oracle failed", slog.String("error", cerr.Error()))
		}
	}()

	s := splitter.New(table)
	code := &splitter.CodeBuffer{}
	bib := &splitter.TextBuffer{}
	e := engine.New(engine.Config{
		BaseURL: cfg.BaseURL,
		Anchor:  cfg.Anchor,
		Render:  cfg.Render,
		Markers: cfg.Markers,
		Logger:  logger,
	}, orc, code)

	s.Subscribe(code, splitter.ModeCode)
	s.Subscribe(bib, splitter.ModeBibliography)
	s.Subscribe(e, splitter.ModeCode, splitter.ModeProse)
	if cfg.Progress != nil {
		progress := cfg.Progress(pre.lines)
		defer progress.Done()
		s.Subscribe(splitter.HandlerFunc(func(_ context.Context, line splitter.Line) error {
			progress.Update(line.Number)
			return nil
		}), splitter.ModeCode, splitter.ModeProse, splitter.ModeBibliography)
	}

	if err := s.FeedAll(ctx, bytes.NewReader(source)); err != nil {
		return nil, fmt.Errorf("%s: %w", cfg.SourcePath, err)
	}
	if err := e.Finish(ctx); err != nil {
		return nil, fmt.Errorf("%s: %w", cfg.SourcePath, err)
	}
	if err := s.Finish(); err != nil {
		return nil, fmt.Errorf("%s: %w", cfg.SourcePath, err)
	}

	artifacts := assemble.Assemble(e.Fragments(), e.Records(), code.Text(), bib.Text())
	written, err := assemble.Writer{Dir: cfg.OutDir, Names: cfg.Names, Logger: logger}.WriteAll(artifacts)
	if err != nil {
		return nil, fmt.Errorf("write artifacts: %w", err)
	}

	stats := Stats{
		Stats:             e.Stats(),
		Lines:             s.LastLine(),
		CodeLines:         s.Count(splitter.ModeCode),
		ProseLines:        s.Count(splitter.ModeProse),
		BibliographyLines: s.Count(splitter.ModeBibliography),
	}
	if rs, ok := orc.(interface{ RequestsSent() int64 }); ok {
		stats.OracleRequests = rs.RequestsSent()
	}
	return &Result{Artifacts: artifacts, Written: written, Stats: stats}, nil
}

// route splits the source without annotating it.
func route(ctx context.Context, table splitter.DirectiveTable, source []byte) (prepass, error) {
	s := splitter.New(table)
	code := &splitter.TextBuffer{}
	s.Subscribe(code, splitter.ModeCode)
	if err := s.FeedAll(ctx, bytes.NewReader(source)); err != nil {
		return prepass{}, err
	}
	if err := s.Finish(); err != nil {
		return prepass{}, err
	}
	return prepass{code: code.Text(), lines: s.LastLine()}, nil
}

// document builds the oracle document for the configured anchor.
func document(cfg Config, pre prepass, source []byte) (Document, error) {
	abs, err := filepath.Abs(cfg.SourcePath)
	if err != nil {
		return Document{}, fmt.Errorf("resolve source path: %w", err)
	}
	doc := Document{
		URI:     FileURI(abs),
		RootURI: FileURI(filepath.Dir(abs)),
		Text:    pre.code,
	}
	if cfg.Anchor == engine.AnchorDocument {
		doc.Text = string(source)
	}
	return doc, nil
}

// FileURI returns the percent-encoded file URI of an absolute path.
func FileURI(abs string) string {
	u := url.URL{Scheme: "file", Path: filepath.ToSlash(abs)}
	return u.String()
}
