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

package parsing

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/Mrassimo/datapilot-sub006/internal/uerrors"
)

// jsonIterator streams either a top-level JSON array of objects or
// newline-delimited JSON objects (JSONL/NDJSON), flattening nested
// objects into dotted-path columns when opts.FlattenObjects is set. The
// first row's keys, sorted, become the header.
type jsonIterator struct {
	f        *os.File
	dec      *json.Decoder
	arrayTok bool // true once the opening '[' token has been consumed

	headers Row
	current Row
	err     error
	nRead   int64
	opts    ParseOptions

	lineScanner *bufio.Scanner // used for JSONL mode instead of dec
	jsonl       bool
}

func newJSONIterator(path string, opts ParseOptions) (RowIterator, error) {
	f, err := os.Open(path) //nolint:gosec
	if err != nil {
		return nil, uerrors.NewIoError(path, err)
	}

	jsonl := strings.HasSuffix(path, ".jsonl") || strings.HasSuffix(path, ".ndjson") || opts.ArrayMode == false && looksLikeJSONL(f)
	if jsonl {
		if _, serr := f.Seek(0, io.SeekStart); serr != nil {
			_ = f.Close()
			return nil, uerrors.NewIoError(path, serr)
		}
		scanner := bufio.NewScanner(f)
		scanner.Buffer(make([]byte, 0, 64*1024), 16<<20)
		return &jsonIterator{f: f, lineScanner: scanner, jsonl: true, opts: opts}, nil
	}

	if _, serr := f.Seek(0, io.SeekStart); serr != nil {
		_ = f.Close()
		return nil, uerrors.NewIoError(path, serr)
	}
	dec := json.NewDecoder(bufio.NewReaderSize(f, 64*1024))
	if opts.JSONPath != "" {
		if perr := navigateJSONPath(dec, opts.JSONPath); perr != nil {
			_ = f.Close()
			return nil, perr
		}
	}
	tok, terr := dec.Token()
	if terr != nil {
		_ = f.Close()
		return nil, uerrors.NewParseError(path, "expected a top-level JSON array", terr)
	}
	if d, ok := tok.(json.Delim); !ok || d != '[' {
		_ = f.Close()
		return nil, uerrors.NewParseError(path, "expected a top-level JSON array", nil)
	}

	return &jsonIterator{f: f, dec: dec, arrayTok: true, opts: opts}, nil
}

func looksLikeJSONL(f *os.File) bool {
	buf := make([]byte, 512)
	n, _ := f.Read(buf)
	trimmed := strings.TrimSpace(string(buf[:n]))
	return strings.HasPrefix(trimmed, "{") && !strings.HasPrefix(trimmed, "[")
}

// navigateJSONPath walks a dotted path of object keys before the caller
// starts reading the array token, for nested payloads like
// {"data":{"rows":[...]}} with json_path="data.rows".
func navigateJSONPath(dec *json.Decoder, path string) error {
	parts := strings.Split(path, ".")
	if _, err := dec.Token(); err != nil { // consume leading '{'
		return uerrors.NewParseError("", "expected a JSON object at json_path root", err)
	}
	for i, part := range parts {
		if i > 0 {
			// step into the object value of the key matched one level up
			if tok, err := dec.Token(); err != nil || tok != json.Delim('{') {
				return uerrors.NewParseError("", "expected a JSON object while walking json_path", err)
			}
		}
		for dec.More() {
			keyTok, err := dec.Token()
			if err != nil {
				return uerrors.NewParseError("", "malformed object while walking json_path", err)
			}
			key, _ := keyTok.(string)
			if key == part {
				break
			}
			var skip json.RawMessage
			if err := dec.Decode(&skip); err != nil {
				return uerrors.NewParseError("", "malformed value while walking json_path", err)
			}
		}
	}
	return nil
}

func (it *jsonIterator) Next() bool {
	if it.opts.MaxRows > 0 && it.nRead >= it.opts.MaxRows {
		return false
	}

	var obj map[string]any
	if it.jsonl {
		if !it.lineScanner.Scan() {
			return false
		}
		line := strings.TrimSpace(it.lineScanner.Text())
		if line == "" {
			return it.Next()
		}
		if err := json.Unmarshal([]byte(line), &obj); err != nil {
			it.err = uerrors.NewParseError("", "malformed JSONL line", err)
			if it.opts.Strict {
				return false
			}
			return it.Next()
		}
	} else {
		if !it.dec.More() {
			return false
		}
		if err := it.dec.Decode(&obj); err != nil {
			it.err = uerrors.NewParseError("", "malformed array element", err)
			if it.opts.Strict {
				return false
			}
			return it.Next()
		}
	}

	flat := obj
	if it.opts.FlattenObjects {
		flat = flattenObject("", obj)
	}

	if it.headers == nil {
		keys := make([]string, 0, len(flat))
		for k := range flat {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		it.headers = Row(keys)
	}

	row := make(Row, len(it.headers))
	for i, h := range it.headers {
		row[i] = fmt.Sprintf("%v", flat[h])
	}
	it.current = row
	it.nRead++
	return true
}

func flattenObject(prefix string, v map[string]any) map[string]any {
	out := map[string]any{}
	for k, val := range v {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if nested, ok := val.(map[string]any); ok {
			for nk, nv := range flattenObject(key, nested) {
				out[nk] = nv
			}
			continue
		}
		out[key] = val
	}
	return out
}

func (it *jsonIterator) Row() Row     { return it.current }
func (it *jsonIterator) Headers() Row { return it.headers }
func (it *jsonIterator) Err() error   { return it.err }
func (it *jsonIterator) Close() error {
	if it.f == nil {
		return nil
	}
	return it.f.Close()
}

// detectJSON reports high confidence for files that parse as a single
// JSON value starting with '[' or a sequence of '{'-prefixed lines.
func detectJSON(path string) (Detection, error) {
	f, err := os.Open(path) //nolint:gosec
	if err != nil {
		return Detection{}, uerrors.NewIoError(path, err)
	}
	defer f.Close()

	buf := make([]byte, 512)
	n, _ := f.Read(buf)
	trimmed := strings.TrimSpace(string(buf[:n]))

	switch {
	case strings.HasPrefix(trimmed, "["):
		return Detection{Format: FormatJSON, Confidence: 0.9, Metadata: map[string]any{"mode": "array"}}, nil
	case strings.HasPrefix(trimmed, "{"):
		return Detection{Format: FormatJSON, Confidence: 0.75, Metadata: map[string]any{"mode": "jsonl"}}, nil
	default:
		return Detection{Format: FormatJSON, Confidence: 0}, nil
	}
}
