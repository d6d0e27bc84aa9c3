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
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"
)

func unixNanoToTime(nanos int64) time.Time {
	return time.Unix(0, nanos)
}

func durationFromNanos(nanos int64) time.Duration {
	return time.Duration(nanos)
}

// persistedEntry is the on-disk shape of a CacheEntry: self-describing
// version and fingerprint, so a corrupt or foreign file can be told
// apart from a valid one without an index.
type persistedEntry struct {
	Key                string            `json:"key"`
	FilePath           string            `json:"file_path"`
	Section            string            `json:"section"`
	Fields             map[string]any    `json:"fields"`
	Warnings           []Warning         `json:"warnings"`
	SizeBytes          int64             `json:"size_bytes"`
	CreatedAtUnixNano  int64             `json:"created_at"`
	FileChecksum       string            `json:"file_checksum"`
	Dependencies       []string          `json:"dependencies"`
	OptionsFingerprint string            `json:"options_fingerprint"`
	TTLNanos           int64             `json:"ttl_ns"`
	CacheVersion       string            `json:"cache_version"`
}

func (c *ResultCache) entryFilePath(key string) string {
	return filepath.Join(c.cacheDir, key+".json.gz")
}

// persistEntry writes one file per key, atomically (temp file + rename),
// gzip-compressed via klauspost/compress for faster writes than the
// standard library's implementation.
func (c *ResultCache) persistEntry(entry *CacheEntry) error {
	if c.cacheDir == "" {
		return nil
	}
	if err := os.MkdirAll(c.cacheDir, 0o750); err != nil {
		return err
	}

	deps := sortedDeps(entry.Dependencies)
	depStrs := make([]string, len(deps))
	for i, d := range deps {
		depStrs[i] = string(d)
	}

	pe := persistedEntry{
		Key:                entry.Key,
		FilePath:           entry.FilePath,
		Section:            entry.Section,
		Fields:             entry.Artefact.Fields,
		Warnings:           entry.Artefact.Warnings,
		SizeBytes:          entry.SizeBytes,
		CreatedAtUnixNano:  entry.CreatedAt.UnixNano(),
		FileChecksum:       entry.FileChecksum,
		Dependencies:       depStrs,
		OptionsFingerprint: entry.OptionsFingerprint,
		TTLNanos:           int64(entry.TTL),
		CacheVersion:       entry.CacheVersion,
	}

	path := c.entryFilePath(entry.Key)
	tmpPath := path + ".tmp"

	f, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	gz := gzip.NewWriter(f)
	enc := json.NewEncoder(gz)
	if err := enc.Encode(pe); err != nil {
		_ = gz.Close()
		_ = f.Close()
		_ = os.Remove(tmpPath)
		return err
	}
	if err := gz.Close(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmpPath)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}

	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	return nil
}

// LoadPersisted lazily reloads entries from cacheDir on startup.
// Corrupt files are logged at Warn and left on disk untouched rather
// than triggering a directory rebuild.
func (c *ResultCache) LoadPersisted() error {
	if c.cacheDir == "" {
		return nil
	}
	entriesDir, err := os.ReadDir(c.cacheDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	for _, de := range entriesDir {
		if de.IsDir() || !strings.HasSuffix(de.Name(), ".json.gz") {
			continue
		}
		path := filepath.Join(c.cacheDir, de.Name())
		entry, err := c.loadPersistedFile(path)
		if err != nil {
			c.logger.Warn("cache.load.corrupt", "path", path, "err", err)
			continue
		}
		c.mu.Lock()
		c.insertLocked(entry)
		c.mu.Unlock()
	}
	return nil
}

func (c *ResultCache) loadPersistedFile(path string) (*CacheEntry, error) {
	f, err := os.Open(path) //nolint:gosec // path constructed from our own cache directory listing
	if err != nil {
		return nil, err
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return nil, err
	}
	defer gz.Close()

	var pe persistedEntry
	if err := json.NewDecoder(gz).Decode(&pe); err != nil {
		return nil, err
	}

	deps := make(map[NodeId]struct{}, len(pe.Dependencies))
	for _, d := range pe.Dependencies {
		deps[NodeId(d)] = struct{}{}
	}

	return &CacheEntry{
		Key:      pe.Key,
		FilePath: pe.FilePath,
		Section:  pe.Section,
		Artefact: &Artefact{
			Section:  NodeId(pe.Section),
			Fields:   pe.Fields,
			Warnings: pe.Warnings,
		},
		SizeBytes:          pe.SizeBytes,
		CreatedAt:          unixNanoToTime(pe.CreatedAtUnixNano),
		LastAccessedAt:     unixNanoToTime(pe.CreatedAtUnixNano),
		FileChecksum:       pe.FileChecksum,
		Dependencies:       deps,
		OptionsFingerprint: pe.OptionsFingerprint,
		TTL:                durationFromNanos(pe.TTLNanos),
		CacheVersion:       pe.CacheVersion,
	}, nil
}
