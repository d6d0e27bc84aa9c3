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
	"fmt"
	"os"

	flag "github.com/spf13/pflag"

	"github.com/Mrassimo/datapilot-sub006/internal/ui"
	"github.com/Mrassimo/datapilot-sub006/pkg/orchconfig"
)

// runConfigShow executes 'datapilot config', printing the resolved
// configuration (on-disk file merged over built-in defaults).
func runConfigShow(args []string, configPath string, globals GlobalFlags) {
	fs := flag.NewFlagSet("config", flag.ExitOnError)
	write := fs.Bool("init", false, "Write the resolved configuration to disk if it doesn't exist yet")
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	cfg, err := orchconfig.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if *write {
		target := configPath
		if target == "" {
			target = ".datapilot/orchestrator.yaml"
		}
		if _, err := os.Stat(target); err == nil {
			fmt.Printf("%s already exists; left unchanged\n", target)
			return
		}
		if err := orchconfig.Save(cfg, target); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		ui.Successf("wrote %s", target)
		return
	}

	if globals.JSON {
		printJSONOrExit(cfg)
		return
	}

	ui.Header("datapilot configuration")
	fmt.Printf("  %s: %s\n", ui.Label("cache_dir"), cfg.CacheDir)
	fmt.Printf("  %s: %s\n", ui.Label("cache_version"), cfg.CacheVersion)
	fmt.Printf("  %s: %d\n", ui.Label("memory_limit_mb"), cfg.MemoryLimitMB)
	fmt.Printf("  %s: %d\n", ui.Label("concurrency"), cfg.Concurrency)
	fmt.Printf("  %s: %v\n", ui.Label("strict"), cfg.Strict)
}
