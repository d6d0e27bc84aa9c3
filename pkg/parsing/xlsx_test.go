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
	"path/filepath"
	"testing"

	"github.com/xuri/excelize/v2"
)

func writeXLSX(t *testing.T, sheets map[string][][]string) string {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()

	first := true
	for name, rows := range sheets {
		if first {
			f.SetSheetName("Sheet1", name)
			first = false
		} else {
			if _, err := f.NewSheet(name); err != nil {
				t.Fatalf("failed to create sheet %s: %v", name, err)
			}
		}
		for r, row := range rows {
			for c, val := range row {
				cell, err := excelize.CoordinatesToCellName(c+1, r+1)
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				if err := f.SetCellValue(name, cell, val); err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
			}
		}
	}

	path := filepath.Join(t.TempDir(), "data.xlsx")
	if err := f.SaveAs(path); err != nil {
		t.Fatalf("failed saving fixture workbook: %v", err)
	}
	return path
}

func TestXLSXIterator_ReadsFirstSheetByDefault(t *testing.T) {
	path := writeXLSX(t, map[string][][]string{
		"Sheet1": {{"name", "age"}, {"alice", "30"}, {"bob", "40"}},
	})
	it, err := newXLSXIterator(path, ParseOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := it.Headers(); got[0] != "name" || got[1] != "age" {
		t.Fatalf("unexpected headers: %v", got)
	}
	rows := drain(t, it)
	if len(rows) != 2 {
		t.Fatalf("expected 2 data rows, got %d", len(rows))
	}
}

func TestXLSXIterator_SelectsSheetByName(t *testing.T) {
	path := writeXLSX(t, map[string][][]string{
		"Sheet1": {{"x"}, {"1"}},
		"Second": {{"name"}, {"alice"}, {"bob"}},
	})
	it, err := newXLSXIterator(path, ParseOptions{SheetName: "Second"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	rows := drain(t, it)
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows from the Second sheet, got %d", len(rows))
	}
}

func TestXLSXIterator_NoHeaderOptionTreatsFirstRowAsData(t *testing.T) {
	path := writeXLSX(t, map[string][][]string{
		"Sheet1": {{"1", "2"}, {"3", "4"}},
	})
	no := false
	it, err := newXLSXIterator(path, ParseOptions{HasHeader: &no})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := it.Headers(); got[0] != "column_1" {
		t.Fatalf("expected synthetic headers, got %v", got)
	}
	rows := drain(t, it)
	if len(rows) != 2 {
		t.Fatalf("expected the first row to survive as data, got %d rows", len(rows))
	}
}

func TestDetectXLSX_SniffsZipMagicBytes(t *testing.T) {
	path := writeXLSX(t, map[string][][]string{"Sheet1": {{"a"}, {"1"}}})
	d, err := detectXLSX(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.Confidence < 0.7 {
		t.Fatalf("expected high confidence for a real xlsx workbook, got %v", d.Confidence)
	}
}

func TestDetectXLSX_LegacyExtensionRecognisedWithoutInspection(t *testing.T) {
	path := writeTemp(t, "data.xls", "not actually a zip")
	d, err := detectXLSX(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.Confidence == 0 {
		t.Fatalf("expected a nonzero confidence purely from the .xls extension, got %v", d.Confidence)
	}
}
