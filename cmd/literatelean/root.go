// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/LiterateLean/cmd/literatelean/config"
	"github.com/AleutianAI/LiterateLean/pkg/logging"
	"github.com/AleutianAI/LiterateLean/pkg/ux"
	"github.com/AleutianAI/LiterateLean/services/literate/session"
	"github.com/AleutianAI/LiterateLean/services/literate/telemetry"
)

// rebuildDebounce coalesces the burst of events an editor save produces.
const rebuildDebounce = 200 * time.Millisecond

// newOracle builds the oracle factory for a run.
var newOracle = func(cfg config.Config, logger *slog.Logger) session.OracleFactory {
	return session.ProcessOracle(cfg.ProcessOracle(logger))
}

// usageError marks errors that should be followed by the usage text.
type usageError struct {
	cmd *cobra.Command
	err error
}

func (e usageError) Error() string { return e.err.Error() }

func (e usageError) Unwrap() error { return e.err }

type options struct {
	configPath  string
	outDir      string
	oracle      string
	anchor      string
	timeout     time.Duration
	logLevel    string
	logJSON     bool
	logDir      string
	quiet       bool
	trace       string
	metricsFile string
	watch       bool
}

func newRootCmd(stderr io.Writer) *cobra.Command {
	var opts options
	cmd := &cobra.Command{
		Use:   "literatelean <source-file> <base-url>",
		Short: "Annotate a literate Lean source as LaTeX with proof states",
		Long: `literatelean splits a literate Lean source into code, prose and
bibliography, asks the Lean language server for the proof state at every
position of every code line, and writes out.tex, proof_out.tex, out.lean
and out.bib. Nothing is written unless the whole run succeeds.`,
		Version: version,
		Args: func(cmd *cobra.Command, args []string) error {
			if err := cobra.ExactArgs(2)(cmd, args); err != nil {
				return usageError{cmd: cmd, err: err}
			}
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRoot(cmd, opts, args[0], args[1], stderr)
		},
	}
	cmd.SetFlagErrorFunc(func(c *cobra.Command, err error) error {
		return usageError{cmd: c, err: err}
	})

	f := cmd.Flags()
	f.StringVar(&opts.configPath, "config", "", "YAML configuration file")
	f.StringVar(&opts.outDir, "out-dir", ".", "directory the artifacts are written to")
	f.StringVar(&opts.oracle, "oracle", "", `oracle command line (default "lean --server")`)
	f.StringVar(&opts.anchor, "anchor", "code", "document the oracle sees: code or document")
	f.DurationVar(&opts.timeout, "timeout", 5*time.Minute, "per-request oracle timeout")
	f.StringVar(&opts.logLevel, "log-level", "warn", "debug, info, warn or error")
	f.BoolVar(&opts.logJSON, "log-json", false, "log JSON to stderr")
	f.StringVar(&opts.logDir, "log-dir", "", "also write JSON logs to this directory")
	f.BoolVarP(&opts.quiet, "quiet", "q", false, "print only errors")
	f.StringVar(&opts.trace, "trace", "none", "trace exporter: stdout, otlp or none")
	f.StringVar(&opts.metricsFile, "metrics-file", "", "write Prometheus text metrics to this file")
	f.BoolVarP(&opts.watch, "watch", "w", false, "rebuild whenever the source changes")

	cmd.AddCommand(newConfigCmd())
	return cmd
}

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the configuration file",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "init <path>",
		Short: "Write the default configuration to path",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := config.WriteDefault(args[0]); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), args[0])
			return nil
		},
	})
	return cmd
}

// applyFlags copies explicitly set flags over the loaded configuration.
func applyFlags(cmd *cobra.Command, opts options, cfg *config.Config) {
	changed := cmd.Flags().Changed
	if changed("out-dir") {
		cfg.Output.Dir = opts.outDir
	}
	if changed("oracle") {
		if fields := strings.Fields(opts.oracle); len(fields) > 0 {
			cfg.Oracle.Command = fields[0]
			cfg.Oracle.Args = fields[1:]
		} else {
			cfg.Oracle.Command = ""
		}
	}
	if changed("anchor") {
		cfg.Oracle.Anchor = opts.anchor
	}
	if changed("timeout") {
		cfg.Oracle.RequestTimeout = opts.timeout
	}
	if changed("log-level") {
		cfg.Logging.Level = opts.logLevel
	}
	if changed("log-json") {
		cfg.Logging.JSON = opts.logJSON
	}
	if changed("log-dir") {
		cfg.Logging.Dir = opts.logDir
	}
	if changed("trace") {
		cfg.Telemetry.TraceExporter = opts.trace
	}
	if changed("metrics-file") {
		cfg.Telemetry.MetricsFile = opts.metricsFile
		cfg.Telemetry.MetricExporter = "prometheus"
	}
}

func runRoot(cmd *cobra.Command, opts options, source, baseURL string, stderr io.Writer) error {
	ctx := cmd.Context()

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return err
	}
	applyFlags(cmd, opts, &cfg)
	if err := cfg.Validate(); err != nil {
		return err
	}

	level, err := logging.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return err
	}
	logger := logging.New(logging.Config{
		Level:   level,
		LogDir:  cfg.Logging.Dir,
		Service: "literatelean",
		JSON:    cfg.Logging.JSON,
		Output:  stderr,
	})
	defer logger.Close()
	log := logger.Slog()

	cfg.Telemetry.ServiceVersion = version
	tel, err := telemetry.Init(ctx, cfg.Telemetry)
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		if err := tel.Shutdown(context.WithoutCancel(ctx)); err != nil {
			log.Warn("Telemetry shutdown failed", slog.String("error", err.Error()))
		}
	}()

	console := ux.NewConsole(stderr, opts.quiet)
	once := func(ctx context.Context) error {
		scfg := cfg.Session(source, baseURL, newOracle(cfg, log), log)
		scfg.Progress = func(total int) session.Progress {
			return ux.NewProgress(stderr, total, opts.quiet)
		}
		res, err := session.Run(ctx, scfg)
		if err != nil {
			return err
		}
		report(console, source, res)
		return tel.WriteMetrics()
	}

	if !opts.watch {
		return once(ctx)
	}
	console.Info(fmt.Sprintf("Watching %s (Ctrl-C to stop)", source))
	return watchFile(ctx, source, rebuildDebounce, log, func(ctx context.Context) {
		if err := once(ctx); err != nil {
			console.Error(err.Error())
		}
	})
}

func report(console *ux.Console, source string, res *session.Result) {
	s := res.Stats
	console.Success(fmt.Sprintf("Annotated %s: %d lines, %d blocks, %d proof states in %s",
		source, s.Lines, s.Blocks, s.Records, s.Elapsed.Round(time.Millisecond)))
	for _, path := range res.Written {
		console.File(path)
	}
	if s.Diagnostics > 0 {
		console.Warning(fmt.Sprintf("%d lines carry oracle diagnostics", s.Diagnostics))
	}
}
