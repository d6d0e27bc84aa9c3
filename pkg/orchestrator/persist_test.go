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

package orchestrator

import (
	"os"
	"path/filepath"
	"testing"
)

func TestResultCache_PersistAndReloadAcrossInstances(t *testing.T) {
	path := writeTempCSV(t, "a,b\n1,2\n")
	cacheDir := t.TempDir()

	c1 := NewResultCache(ResultCacheOptions{CacheVersion: "v1", CacheDir: cacheDir})
	artefact := &Artefact{Section: Section1, Fields: map[string]any{"overview": "x"}}
	c1.Set(path, Section1, Options{}, artefact, nil, 0, "run1")

	entries, err := os.ReadDir(cacheDir)
	if err != nil || len(entries) == 0 {
		t.Fatalf("expected at least one persisted entry file, err=%v entries=%v", err, entries)
	}

	c2 := NewResultCache(ResultCacheOptions{CacheVersion: "v1", CacheDir: cacheDir})
	if err := c2.LoadPersisted(); err != nil {
		t.Fatalf("unexpected error loading persisted entries: %v", err)
	}
	got, ok := c2.Get(path, Section1, Options{}, nil)
	if !ok {
		t.Fatal("expected a hit after reloading the persisted entry into a fresh cache")
	}
	if got.Fields["overview"] != "x" {
		t.Fatalf("unexpected artefact after reload: %+v", got)
	}
}

func TestResultCache_LoadPersisted_IgnoresCorruptFiles(t *testing.T) {
	cacheDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(cacheDir, "garbage.json.gz"), []byte("not gzip"), 0o644); err != nil {
		t.Fatalf("failed to write corrupt fixture: %v", err)
	}

	c := NewResultCache(ResultCacheOptions{CacheVersion: "v1", CacheDir: cacheDir})
	if err := c.LoadPersisted(); err != nil {
		t.Fatalf("expected corrupt files to be skipped, not returned as an error: %v", err)
	}
	if c.LiveBytes() != 0 {
		t.Fatalf("expected no entries loaded from the corrupt file, got %d live bytes", c.LiveBytes())
	}
}

func TestResultCache_LoadPersisted_MissingDirIsNotAnError(t *testing.T) {
	c := NewResultCache(ResultCacheOptions{CacheVersion: "v1", CacheDir: filepath.Join(t.TempDir(), "does-not-exist")})
	if err := c.LoadPersisted(); err != nil {
		t.Fatalf("expected a missing cache directory to be treated as empty, got: %v", err)
	}
}
