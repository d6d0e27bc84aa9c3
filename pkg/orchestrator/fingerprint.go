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
	"crypto/md5" //nolint:gosec // fingerprinting, not a security boundary
	"encoding/binary"
	"encoding/hex"
	"io"
	"os"
	"sync"
	"time"
)

// Fingerprint identifies a file's content for cache-validity purposes:
// size and mtime cheaply rule out most changes, checksum catches the
// rest.
type Fingerprint struct {
	Size     int64
	ModTime  time.Time
	Checksum string
}

const (
	smallFileThreshold = 1 << 20 // 1 MiB
	maxSampleWindow    = 64 << 10
	memoTTL            = 30 * time.Second
)

// FileIntegrity fingerprints files, memoising recent results so a burst
// of cache lookups against the same file doesn't re-hash it repeatedly.
type FileIntegrity struct {
	mu    sync.Mutex
	memo  map[string]memoEntry
}

type memoEntry struct {
	fp        Fingerprint
	computed  time.Time
}

func NewFileIntegrity() *FileIntegrity {
	return &FileIntegrity{memo: make(map[string]memoEntry)}
}

// Fingerprint computes (or returns a memoised) fingerprint for path. On
// unreadable paths it returns a sentinel {size 0, checksum "unknown"}
// plus an IoError, so best-effort callers can treat the zero value as
// "stale" without checking the error.
func (fi *FileIntegrity) Fingerprint(path string) (Fingerprint, error) {
	info, err := os.Stat(path)
	if err != nil {
		return Fingerprint{Checksum: "unknown"}, ioErr(path, err)
	}

	fi.mu.Lock()
	if cached, ok := fi.memo[path]; ok {
		if cached.fp.Size == info.Size() && cached.fp.ModTime.Equal(info.ModTime()) &&
			time.Since(cached.computed) < memoTTL {
			fi.mu.Unlock()
			return cached.fp, nil
		}
	}
	fi.mu.Unlock()

	checksum, err := computeChecksum(path, info.Size())
	if err != nil {
		return Fingerprint{Checksum: "unknown"}, ioErr(path, err)
	}

	fp := Fingerprint{Size: info.Size(), ModTime: info.ModTime(), Checksum: checksum}

	fi.mu.Lock()
	fi.memo[path] = memoEntry{fp: fp, computed: time.Now()}
	fi.mu.Unlock()

	return fp, nil
}

// computeChecksum hashes the whole file with MD5 below 1 MiB, otherwise
// MD5 over (size-as-bytes || head || middle || tail) with a sample
// window of min(64 KiB, size/100). The layout is kept byte-for-byte
// stable because cache keys elsewhere depend on it.
func computeChecksum(path string, size int64) (string, error) {
	f, err := os.Open(path) //nolint:gosec // path originates from the caller's own dataset
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := md5.New() //nolint:gosec // fingerprinting, not a security boundary

	if size < smallFileThreshold {
		if _, err := io.Copy(h, f); err != nil {
			return "", err
		}
		return hex.EncodeToString(h.Sum(nil)), nil
	}

	window := size / 100
	if window > maxSampleWindow {
		window = maxSampleWindow
	}
	if window < 1 {
		window = 1
	}

	var sizeBytes [8]byte
	binary.BigEndian.PutUint64(sizeBytes[:], uint64(size))
	h.Write(sizeBytes[:])

	if err := hashRegionAt(h, f, 0, window); err != nil {
		return "", err
	}
	if err := hashRegionAt(h, f, size/2-window/2, window); err != nil {
		return "", err
	}
	if err := hashRegionAt(h, f, size-window, window); err != nil {
		return "", err
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}

func hashRegionAt(h io.Writer, f *os.File, offset, length int64) error {
	if offset < 0 {
		offset = 0
	}
	buf := make([]byte, length)
	n, err := f.ReadAt(buf, offset)
	if err != nil && err != io.EOF {
		return err
	}
	_, werr := h.Write(buf[:n])
	return werr
}

func ioErr(path string, cause error) error {
	return newIoError(path, cause)
}
