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
	"fmt"
	"os"
	"sort"

	"github.com/parquet-go/parquet-go"

	"github.com/Mrassimo/datapilot-sub006/internal/uerrors"
)

// parquetIterator streams rows out of a columnar parquet file using its
// generic-row reader; column names come from the schema, sorted, since
// there is no data row to inspect — the schema itself supplies the
// header.
type parquetIterator struct {
	f       *os.File
	pf      *parquet.File
	reader  *parquet.GenericReader[map[string]any]
	headers Row
	current Row
	err     error
	nRead   int64
	opts    ParseOptions
}

func newParquetIterator(path string, opts ParseOptions) (RowIterator, error) {
	f, err := os.Open(path) //nolint:gosec
	if err != nil {
		return nil, uerrors.NewIoError(path, err)
	}

	stat, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, uerrors.NewIoError(path, err)
	}

	pf, err := parquet.OpenFile(f, stat.Size())
	if err != nil {
		_ = f.Close()
		return nil, uerrors.NewParseError(path, "invalid parquet footer/metadata", err)
	}

	reader := parquet.NewGenericReader[map[string]any](f)

	headers := make([]string, 0, len(pf.Schema().Fields()))
	for _, field := range pf.Schema().Fields() {
		headers = append(headers, field.Name())
	}
	sort.Strings(headers)

	return &parquetIterator{f: f, pf: pf, reader: reader, headers: Row(headers), opts: opts}, nil
}

func (it *parquetIterator) Next() bool {
	if it.opts.MaxRows > 0 && it.nRead >= it.opts.MaxRows {
		return false
	}

	buf := make([]map[string]any, 1)
	n, err := it.reader.Read(buf)
	if n == 0 {
		if err != nil && err.Error() != "EOF" {
			it.err = uerrors.NewParseError("", "malformed row group", err)
		}
		return false
	}

	obj := buf[0]
	row := make(Row, len(it.headers))
	for i, h := range it.headers {
		row[i] = fmt.Sprintf("%v", obj[h])
	}
	it.current = row
	it.nRead++
	return true
}

func (it *parquetIterator) Row() Row     { return it.current }
func (it *parquetIterator) Headers() Row { return it.headers }
func (it *parquetIterator) Err() error   { return it.err }
func (it *parquetIterator) Close() error {
	_ = it.reader.Close()
	return it.f.Close()
}

// detectParquet checks for the 4-byte "PAR1" magic at both the start and
// end of the file, the only reliable sniff for the format.
func detectParquet(path string) (Detection, error) {
	f, err := os.Open(path) //nolint:gosec
	if err != nil {
		return Detection{}, uerrors.NewIoError(path, err)
	}
	defer f.Close()

	head := make([]byte, 4)
	if _, err := f.Read(head); err != nil {
		return Detection{Format: FormatParquet, Confidence: 0}, nil
	}

	stat, err := f.Stat()
	if err != nil || stat.Size() < 8 {
		return Detection{Format: FormatParquet, Confidence: 0}, nil
	}
	tail := make([]byte, 4)
	if _, err := f.ReadAt(tail, stat.Size()-4); err != nil {
		return Detection{Format: FormatParquet, Confidence: 0}, nil
	}

	magic := "PAR1"
	if string(head) == magic && string(tail) == magic {
		return Detection{Format: FormatParquet, Confidence: 0.95}, nil
	}
	return Detection{Format: FormatParquet, Confidence: 0}, nil
}
