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

// Package orchconfig loads the orchestrator's on-disk configuration: the
// memory budget, cache directory, and default Options a run starts from
// when the caller doesn't override them explicitly.
package orchconfig

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/Mrassimo/datapilot-sub006/internal/uerrors"
	"github.com/Mrassimo/datapilot-sub006/pkg/orchestrator"
)

const configVersion = "1"

// Config is the on-disk shape of .datapilot/orchestrator.yaml.
type Config struct {
	Version string `yaml:"version"`

	// CacheDir is where persisted cache entries live; empty disables
	// disk persistence.
	CacheDir string `yaml:"cache_dir"`

	// CacheVersion is bumped whenever the analyser output shape changes,
	// invalidating every existing cache entry.
	CacheVersion string `yaml:"cache_version"`

	// MemoryLimitMB bounds both the result cache and the executor's
	// GC-hint threshold.
	MemoryLimitMB int64 `yaml:"memory_limit_mb"`

	// Concurrency is the default parallel-group worker cap; 1 disables
	// parallel execution.
	Concurrency int `yaml:"concurrency"`

	// Strict makes the parsers stop at the first malformed row instead
	// of skipping it; the parse error is still reported as a warning.
	// It does not affect cache validation: a cache-version mismatch
	// always just invalidates the entry.
	Strict bool `yaml:"strict"`

	// MetricsAddr is the HTTP listen address for the Prometheus
	// /metrics endpoint; empty disables it.
	MetricsAddr string `yaml:"metrics_addr"`

	Defaults DefaultOptions `yaml:"defaults"`
}

// DefaultOptions mirrors the cacheable subset of orchestrator.Options a
// config file can pre-seed; CLI flags layered on top always win.
type DefaultOptions struct {
	MaxRows            int     `yaml:"max_rows"`
	EnableHashing      bool    `yaml:"enable_hashing"`
	PrivacyMode        string  `yaml:"privacy_mode"`
	ChunkSize          int     `yaml:"chunk_size"`
	Accessibility      string  `yaml:"accessibility"`
	Complexity         string  `yaml:"complexity"`
	MaxRecommendations int     `yaml:"max_recommendations"`
	IncludeCode        bool    `yaml:"include_code"`
	Database           string  `yaml:"database"`
	Framework          string  `yaml:"framework"`
	Focus              string  `yaml:"focus"`
	Interpretability   string  `yaml:"interpretability"`
	SamplePercentage   float64 `yaml:"sample_percentage"`
}

// DefaultConfig returns the built-in defaults a fresh install starts
// from.
func DefaultConfig() *Config {
	return &Config{
		Version:       configVersion,
		CacheDir:      filepath.Join(".datapilot", "cache"),
		CacheVersion:  "v1",
		MemoryLimitMB: 512,
		Concurrency:   1,
		Strict:        false,
		MetricsAddr:   "",
		Defaults: DefaultOptions{
			PrivacyMode:        "full",
			MaxRecommendations: 10,
			Interpretability:   "medium",
		},
	}
}

// Load reads configPath (or ".datapilot/orchestrator.yaml" relative to
// the working directory when configPath is empty), validates its
// version, and returns it. A missing file is not an error: DefaultConfig
// is returned instead, so commands that don't strictly require a
// project file still work.
func Load(configPath string) (*Config, error) {
	if configPath == "" {
		configPath = filepath.Join(".datapilot", "orchestrator.yaml")
	}

	data, err := os.ReadFile(configPath) //nolint:gosec // path comes from CLI flag or a fixed relative default
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultConfig(), nil
		}
		return nil, uerrors.NewConfigurationError(
			fmt.Sprintf("cannot read %s", configPath),
			"the file exists but could not be opened",
			[]string{"check file permissions"},
			err,
		)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, uerrors.NewConfigurationError(
			"invalid configuration format",
			"YAML parsing failed",
			[]string{fmt.Sprintf("fix the syntax error in %s", configPath)},
			err,
		)
	}

	if cfg.Version != configVersion {
		return nil, uerrors.NewConfigurationError(
			"unsupported configuration version",
			fmt.Sprintf("got %q, expected %q", cfg.Version, configVersion),
			[]string{"regenerate the config file for the current version"},
			nil,
		)
	}

	return cfg, nil
}

// Save writes cfg to configPath as YAML, creating its parent directory.
func Save(cfg *Config, configPath string) error {
	if err := os.MkdirAll(filepath.Dir(configPath), 0o750); err != nil {
		return uerrors.NewIoError(configPath, err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return uerrors.NewConfigurationError("cannot encode configuration", "YAML marshalling failed", nil, err)
	}
	if err := os.WriteFile(configPath, data, 0o644); err != nil { //nolint:gosec // config file is not secret material
		return uerrors.NewIoError(configPath, err)
	}
	return nil
}

// ToOptions projects the config's defaults onto an orchestrator.Options,
// applying the process-wide run-shaping fields too.
func (c *Config) ToOptions() orchestrator.Options {
	return orchestrator.Options{
		MaxRows:            c.Defaults.MaxRows,
		EnableHashing:      c.Defaults.EnableHashing,
		PrivacyMode:        orchestrator.PrivacyMode(c.Defaults.PrivacyMode),
		ChunkSize:          c.Defaults.ChunkSize,
		Accessibility:      c.Defaults.Accessibility,
		Complexity:         c.Defaults.Complexity,
		MaxRecommendations: c.Defaults.MaxRecommendations,
		IncludeCode:        c.Defaults.IncludeCode,
		Database:           c.Defaults.Database,
		Framework:          c.Defaults.Framework,
		Focus:              c.Defaults.Focus,
		Interpretability:   c.Defaults.Interpretability,
		SamplePercentage:   c.Defaults.SamplePercentage,
		CacheVersion:       c.CacheVersion,
		MemoryLimitBytes:   c.MemoryLimitMB << 20,
		CacheDir:           c.CacheDir,
		Strict:             c.Strict,
		Concurrency:        c.Concurrency,
	}
}
