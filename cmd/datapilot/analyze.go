// Copyright 2025 KrakLabs
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.
//
// For commercial licensing, contact: licensing@kraklabs.com
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/schollz/progressbar/v3"
	flag "github.com/spf13/pflag"

	"github.com/Mrassimo/datapilot-sub006/internal/ui"
	"github.com/Mrassimo/datapilot-sub006/pkg/orchconfig"
	"github.com/Mrassimo/datapilot-sub006/pkg/orchestrator"
	"github.com/Mrassimo/datapilot-sub006/pkg/parsing"
)

// runAnalyze executes the 'analyze' CLI command: plan, execute, and report
// the dependency graph of section producers over a single data file.
//
// Flags:
//   - --sections: comma-separated subset of section1..section6 (default: all)
//   - --concurrency: parallel-group worker cap (default: from config, or 1)
//   - --skip-visualization: sets Options.SkipSection4
//   - --cache-dir: overrides the configured disk cache directory
//   - --metrics-addr: HTTP address for Prometheus metrics (default: disabled)
//   - --debug: enable debug logging
func runAnalyze(args []string, configPath string, globals GlobalFlags) {
	fs := flag.NewFlagSet("analyze", flag.ExitOnError)
	sections := fs.String("sections", "", "Comma-separated sections to run (default: all)")
	concurrency := fs.Int("concurrency", 0, "Parallel-group worker cap (0 = use config default)")
	skipViz := fs.Bool("skip-visualization", false, "Skip the visualization section")
	cacheDir := fs.String("cache-dir", "", "Override the configured disk cache directory")
	metricsAddr := fs.String("metrics-addr", "", "HTTP listen address for Prometheus metrics (empty to disable)")
	debug := fs.Bool("debug", false, "Enable debug logging")
	strict := fs.Bool("strict", false, "Stop parsing at the first malformed row instead of skipping it")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Usage: datapilot analyze <file> [options]

Description:
  Plans and runs the section dependency graph (overview, quality audit,
  exploratory analysis, visualization, engineering, modeling) over a
  single CSV, TSV, JSON, XLSX, or Parquet file, reusing cached results
  across runs when the file and options are unchanged.

Options:
`)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	rest := fs.Args()
	if len(rest) == 0 {
		fmt.Fprintln(os.Stderr, "Error: analyze requires a file argument")
		fs.Usage()
		os.Exit(1)
	}
	path := rest[0]

	cfg, err := orchconfig.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if *cacheDir != "" {
		cfg.CacheDir = *cacheDir
	}
	if *concurrency > 0 {
		cfg.Concurrency = *concurrency
	}
	if *strict {
		cfg.Strict = true
	}

	logLevel := slog.LevelInfo
	if *debug || globals.Verbose >= 2 {
		logLevel = slog.LevelDebug
	}
	if globals.Quiet {
		logLevel = slog.LevelWarn
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))

	var metrics *orchestrator.Metrics
	addr := *metricsAddr
	if addr == "" {
		addr = cfg.MetricsAddr
	}
	if addr != "" {
		reg := prometheus.NewRegistry()
		metrics = orchestrator.NewMetrics(reg)
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
			srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
			logger.Info("metrics.http.start", "addr", addr, "path", "/metrics")
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Warn("metrics.http.error", "err", err)
			}
		}()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		logger.Info("shutdown.signal", "signal", sig.String())
		cancel()
	}()

	options := cfg.ToOptions()
	options.SkipSection4 = *skipViz || options.SkipSection4
	requested := orchestrator.AllSections
	if *sections != "" {
		requested = parseSectionList(*sections)
	}

	graph, err := orchestrator.NewDependencyGraph(orchestrator.DefaultNodeSpecs())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	graph = graph.WithMetrics(metrics)

	cache := orchestrator.NewResultCache(orchestrator.ResultCacheOptions{
		MemoryLimitBytes: options.MemoryLimitBytes,
		CacheVersion:     options.CacheVersion,
		CacheDir:         options.CacheDir,
		Logger:           logger,
		Metrics:          metrics,
	})

	registry := parsing.DefaultRegistry()
	adapters := orchestrator.NewAnalyserAdapters(registry)

	resolver := orchestrator.NewDependencyResolver(path, options, graph, cache, runTagFor(path), logger)
	adapters.RegisterAll(resolver)

	executor := orchestrator.NewSequentialExecutor(graph, cache, logger).WithMetrics(metrics)

	if !globals.JSON && !globals.Quiet {
		var currentBar *progressbar.ProgressBar
		var currentPhase string
		executor = executor.WithProgressCallback(func(current, total int64, phase string) {
			if phase != currentPhase {
				if currentBar != nil {
					_ = currentBar.Finish()
				}
				currentPhase = phase
				currentBar = progressbar.NewOptions64(total,
					progressbar.OptionSetDescription(phaseDescription(phase)),
					progressbar.OptionSetWriter(os.Stderr),
					progressbar.OptionClearOnFinish(),
				)
			}
			if currentBar != nil {
				_ = currentBar.Set64(current)
			}
		})
	}

	result := executor.Run(ctx, path, requested, options, resolver)

	if globals.JSON {
		printJSONOrExit(result)
	} else {
		reportResult(result)
	}

	if !result.Success {
		os.Exit(1)
	}
}

func parseSectionList(csv string) []orchestrator.NodeId {
	parts := strings.Split(csv, ",")
	out := make([]orchestrator.NodeId, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, orchestrator.NodeId(p))
		}
	}
	return out
}

func runTagFor(path string) string {
	return fmt.Sprintf("cli-%s-%d", path, time.Now().UnixNano())
}

// phaseDescription returns a human-readable description for each
// executor phase reported through WithProgressCallback.
func phaseDescription(phase string) string {
	switch phase {
	case "initialisation":
		return "Planning"
	case string(orchestrator.Section1):
		return "Overview"
	case string(orchestrator.Section2):
		return "Quality audit"
	case string(orchestrator.Section3):
		return "Exploratory analysis"
	case string(orchestrator.Section4):
		return "Visualization"
	case string(orchestrator.Section5):
		return "Feature engineering"
	case string(orchestrator.Section6):
		return "Modeling"
	default:
		return phase
	}
}

func reportResult(result *orchestrator.RunResult) {
	if result.Success {
		ui.Successf("analysis complete (%d sections, %dms)", len(result.Metadata.SectionsExecuted), result.Metadata.ExecutionTimeMs)
	} else {
		ui.Errorf("%v", result.Error)
	}
	for section, artefact := range result.Data {
		ui.Header(string(section))
		for name, value := range artefact.Fields {
			fmt.Printf("  %s: %v\n", ui.Label(name), value)
		}
		for _, w := range artefact.Warnings {
			ui.Warningf("%s", w.Message)
		}
	}
}
