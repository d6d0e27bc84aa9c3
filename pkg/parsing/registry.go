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

// Package parsing implements the format-detection and row-streaming
// layer consumed by the orchestrator's section producers.
package parsing

import (
	"fmt"
	"sort"
	"sync"

	"github.com/Mrassimo/datapilot-sub006/internal/uerrors"
)

// Format is the closed set of tabular formats DataPilot understands.
type Format string

const (
	FormatCSV     Format = "csv"
	FormatTSV     Format = "tsv"
	FormatJSON    Format = "json"
	FormatXLSX    Format = "xlsx"
	FormatParquet Format = "parquet"
)

// Row is one ordered sequence of string fields. A nil Row never
// appears on a live iterator; Next returns false at end of stream
// instead.
type Row []string

// RowIterator is a finite, not-restartable sequence of Rows, consumed at
// most once per call to Parse.
type RowIterator interface {
	// Next advances to the next row. Returns false at end of stream or
	// on unrecoverable error (check Err).
	Next() bool
	// Row returns the current row. Valid only after a true Next.
	Row() Row
	// Headers returns the column names resolved at open time (real
	// header row, or synthesised column_N names per the header-row
	// policy). For JSON, headers are only known after the first Next()
	// call.
	Headers() Row
	// Err returns the first unrecoverable error encountered, if any.
	Err() error
	// Close releases any underlying file handle or decoder state.
	Close() error
}

// Detection is the result of running a Detector against a file.
type Detection struct {
	Format     Format
	Confidence float64 // [0,1]
	Metadata   map[string]any
}

// Detector inspects path (and optionally its header bytes) and reports
// its confidence that path is in its format.
type Detector func(path string) (Detection, error)

// ParseOptions configures a ParserFactory invocation; it mirrors the
// cacheable subset of orchestrator.Options that affects parsing.
type ParseOptions struct {
	Delimiter       rune
	Quote           rune
	Encoding        string
	HasHeader       *bool // nil = auto-detect via the header-row policy
	JSONPath        string
	ArrayMode       bool
	FlattenObjects  bool
	SheetName       string
	SheetIndex      int
	Columns         []string
	RowStart        int
	RowEnd          int
	Strict          bool
	MaxRows         int64
	ChunkSize       int
}

// ParserFactory opens path and returns a RowIterator for it.
type ParserFactory func(path string, opts ParseOptions) (RowIterator, error)

type registration struct {
	format     Format
	detector   Detector
	factory    ParserFactory
	priority   int
	extensions []string
}

// Registry holds the registered (detector, factory) pairs and runs
// priority-ordered format detection.
type Registry struct {
	mu   sync.RWMutex
	regs []registration
}

// NewRegistry returns an empty registry. Use DefaultRegistry for one
// pre-populated with the required CSV/TSV/JSON/XLSX/Parquet formats.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register adds a format with its detector, factory and a descending
// priority (higher runs first in Detect).
func (r *Registry) Register(format Format, detector Detector, factory ParserFactory, priority int, extensions []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.regs = append(r.regs, registration{format: format, detector: detector, factory: factory, priority: priority, extensions: extensions})
	sort.SliceStable(r.regs, func(i, j int) bool { return r.regs[i].priority > r.regs[j].priority })
}

// Detect walks detectors in descending priority, returning the first
// result with confidence >= 0.7, else the best of the lower-confidence
// results.
func (r *Registry) Detect(path string) (Detection, error) {
	r.mu.RLock()
	regs := append([]registration{}, r.regs...)
	r.mu.RUnlock()

	if len(regs) == 0 {
		return Detection{}, uerrors.NewFormatError(path, nil, "no parsers registered")
	}

	var best Detection
	haveBest := false
	supported := make([]string, 0, len(regs))
	for _, reg := range regs {
		supported = append(supported, string(reg.format))
		d, err := reg.detector(path)
		if err != nil {
			continue
		}
		if d.Confidence >= 0.7 {
			return d, nil
		}
		if !haveBest || d.Confidence > best.Confidence {
			best = d
			haveBest = true
		}
	}
	if haveBest {
		return best, nil
	}
	return Detection{}, uerrors.NewFormatError(path, supported, "none of the registered detectors produced any confidence")
}

// Parse detects path's format (unless forced is non-empty) and returns
// its RowIterator.
func (r *Registry) Parse(path string, forced Format, opts ParseOptions) (RowIterator, Format, error) {
	format := forced
	if format == "" {
		d, err := r.Detect(path)
		if err != nil {
			return nil, "", err
		}
		format = d.Format
	}

	r.mu.RLock()
	var factory ParserFactory
	for _, reg := range r.regs {
		if reg.format == format {
			factory = reg.factory
			break
		}
	}
	r.mu.RUnlock()

	if factory == nil {
		return nil, format, uerrors.NewFormatError(path, nil, fmt.Sprintf("no parser registered for format %q", format))
	}

	it, err := factory(path, opts)
	if err != nil {
		return nil, format, err
	}
	return it, format, nil
}

// DefaultRegistry wires up the required formats at fixed priorities:
// CSV 100, TSV 90, JSON/JSONL 80, XLSX/XLS 70, Parquet 60.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(FormatCSV, detectCSV, newCSVIterator, 100, []string{".csv"})
	r.Register(FormatTSV, detectTSV, newTSVIterator, 90, []string{".tsv"})
	r.Register(FormatJSON, detectJSON, newJSONIterator, 80, []string{".json", ".jsonl", ".ndjson"})
	r.Register(FormatXLSX, detectXLSX, newXLSXIterator, 70, []string{".xlsx", ".xls"})
	r.Register(FormatParquet, detectParquet, newParquetIterator, 60, []string{".parquet"})
	return r
}

// headerRowPolicy is the CSV/TSV header-row heuristic: headers are
// present iff more than half of the first row's non-empty cells are
// non-numeric.
func headerRowPolicy(firstRow Row) bool {
	nonEmpty := 0
	nonNumeric := 0
	for _, cell := range firstRow {
		if cell == "" {
			continue
		}
		nonEmpty++
		if !isNumericCell(cell) {
			nonNumeric++
		}
	}
	if nonEmpty == 0 {
		return false
	}
	return nonNumeric*2 > nonEmpty
}

func isNumericCell(s string) bool {
	sawDigit := false
	for i, r := range s {
		switch {
		case r >= '0' && r <= '9':
			sawDigit = true
		case r == '-' && i == 0, r == '+' && i == 0, r == '.':
		default:
			return false
		}
	}
	return sawDigit
}

func syntheticColumnNames(n int) Row {
	names := make(Row, n)
	for i := range names {
		names[i] = fmt.Sprintf("column_%d", i+1)
	}
	return names
}
