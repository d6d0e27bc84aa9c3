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
	"os"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/Mrassimo/datapilot-sub006/internal/uerrors"
)

// xlsxIterator wraps excelize's streaming row reader for one sheet,
// selected by opts.SheetName or opts.SheetIndex (name wins if both are
// set).
type xlsxIterator struct {
	f       *excelize.File
	rows    *excelize.Rows
	headers Row
	current Row
	err     error
	nRead   int64
	opts    ParseOptions
	first   bool
}

func newXLSXIterator(path string, opts ParseOptions) (RowIterator, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, uerrors.NewIoError(path, err)
	}

	sheet := opts.SheetName
	if sheet == "" {
		names := f.GetSheetList()
		idx := opts.SheetIndex
		if idx < 0 || idx >= len(names) {
			idx = 0
		}
		if len(names) == 0 {
			_ = f.Close()
			return nil, uerrors.NewParseError(path, "workbook contains no sheets", nil)
		}
		sheet = names[idx]
	}

	rows, err := f.Rows(sheet)
	if err != nil {
		_ = f.Close()
		return nil, uerrors.NewParseError(path, "failed to open sheet "+sheet, err)
	}

	it := &xlsxIterator{f: f, rows: rows, opts: opts, first: true}

	if rows.Next() {
		first, rerr := rows.Columns()
		if rerr != nil {
			it.err = uerrors.NewParseError(path, "failed reading header row", rerr)
		}
		hasHeader := opts.HasHeader == nil || *opts.HasHeader
		if hasHeader {
			it.headers = Row(first)
		} else {
			it.headers = syntheticColumnNames(len(first))
			it.current = Row(first)
			it.first = false
		}
	}

	return it, nil
}

func (it *xlsxIterator) Next() bool {
	if !it.first && it.current != nil {
		it.first = true
		return true
	}
	if it.opts.MaxRows > 0 && it.nRead >= it.opts.MaxRows {
		return false
	}
	if !it.rows.Next() {
		return false
	}
	cols, err := it.rows.Columns()
	if err != nil {
		it.err = uerrors.NewParseError("", "malformed row", err)
		if it.opts.Strict {
			return false
		}
		return it.Next()
	}
	it.current = Row(cols)
	it.nRead++
	return true
}

func (it *xlsxIterator) Row() Row     { return it.current }
func (it *xlsxIterator) Headers() Row { return it.headers }
func (it *xlsxIterator) Err() error   { return it.err }
func (it *xlsxIterator) Close() error {
	_ = it.rows.Close()
	return it.f.Close()
}

// detectXLSX sniffs the ZIP local-file-header magic bytes common to
// OOXML workbooks; legacy binary .xls is recognised by extension only
// since excelize does not parse the pre-2007 format.
func detectXLSX(path string) (Detection, error) {
	if strings.HasSuffix(strings.ToLower(path), ".xls") {
		return Detection{Format: FormatXLSX, Confidence: 0.6, Metadata: map[string]any{"legacy": true}}, nil
	}

	f, err := os.Open(path) //nolint:gosec
	if err != nil {
		return Detection{}, uerrors.NewIoError(path, err)
	}
	defer f.Close()

	magic := make([]byte, 4)
	if _, err := f.Read(magic); err != nil {
		return Detection{Format: FormatXLSX, Confidence: 0}, nil
	}
	if magic[0] == 'P' && magic[1] == 'K' {
		return Detection{Format: FormatXLSX, Confidence: 0.8}, nil
	}
	return Detection{Format: FormatXLSX, Confidence: 0}, nil
}
