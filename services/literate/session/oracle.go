// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package session

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/AleutianAI/LiterateLean/services/literate/engine"
	"github.com/AleutianAI/LiterateLean/services/literate/oracle"
)

// Document is the text the oracle is asked about.
type Document struct {
	// URI identifies the document in every oracle request.
	URI string

	// RootURI is the workspace folder sent with initialize.
	RootURI string

	// Text is the full text opened with didOpen.
	Text string
}

// Oracle is an oracle session with one document open.
type Oracle interface {
	engine.Oracle
	Close(ctx context.Context) error
}

// OracleFactory starts an oracle and opens doc. The session closes the
// returned Oracle exactly once.
type OracleFactory func(ctx context.Context, doc Document) (Oracle, error)

// ProcessConfig configures the process-backed oracle.
type ProcessConfig struct {
	oracle.Config

	// LanguageID is sent with didOpen. Empty means "lean4".
	LanguageID string

	// GoalMethod is the goal query. Empty means $/lean/plainGoal.
	GoalMethod string
}

// processOracle is a Port over a Client it owns.
type processOracle struct {
	*oracle.Port
	client *oracle.Client
}

func (p *processOracle) Close(ctx context.Context) error {
	return p.client.Close(ctx)
}

// RequestsSent reports the requests written to the oracle.
func (p *processOracle) RequestsSent() int64 {
	return p.client.RequestsSent()
}

// ProcessOracle returns a factory that spawns cfg.Command, performs the
// initialize handshake and opens the document.
//
// Description:
//
//	Any failure after the spawn closes the process before returning, so a
//	factory error never leaks a child.
func ProcessOracle(cfg ProcessConfig) OracleFactory {
	languageID := cfg.LanguageID
	if languageID == "" {
		languageID = "lean4"
	}
	return func(ctx context.Context, doc Document) (Oracle, error) {
		client, err := oracle.Start(ctx, cfg.Config)
		if err != nil {
			return nil, err
		}
		if err := client.Initialize(ctx, doc.RootURI); err != nil {
			closeQuietly(client, cfg.Logger)
			return nil, err
		}
		if err := client.Open(doc.URI, languageID, doc.Text); err != nil {
			closeQuietly(client, cfg.Logger)
			return nil, fmt.Errorf("open document: %w", err)
		}
		return &processOracle{
			Port:   oracle.NewPort(client, doc.URI, cfg.GoalMethod),
			client: client,
		}, nil
	}
}

func closeQuietly(c *oracle.Client, logger *slog.Logger) {
	if err := c.Close(context.Background()); err != nil {
		if logger == nil {
			logger = slog.Default()
		}
		logger.Warn("Closing oracle failed", slog.String("error", err.Error()))
	}
}
