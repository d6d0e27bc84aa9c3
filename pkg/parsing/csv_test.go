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
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeTemp is a helper, shared across this package's test files, that
// writes a fixture file and returns its path.
func writeTemp(t *testing.T, name, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644), "failed to write fixture")
	return path
}

// drain is a helper, shared across this package's test files, that reads
// every row off it and fails the test if Err() is non-nil afterward.
func drain(t *testing.T, it RowIterator) []Row {
	t.Helper()
	defer it.Close()
	var rows []Row
	for it.Next() {
		rows = append(rows, append(Row{}, it.Row()...))
	}
	require.NoError(t, it.Err())
	return rows
}

func TestCSVIterator_ReadsHeaderAndRows(t *testing.T) {
	path := writeTemp(t, "data.csv", "name,age\nalice,30\nbob,40\n")
	it, err := newCSVIterator(path, ParseOptions{})
	require.NoError(t, err)

	headers := it.Headers()
	assert.Equal(t, Row{"name", "age"}, headers)

	rows := drain(t, it)
	assert.Len(t, rows, 2)
	assert.Equal(t, "alice", rows[0][0])
}

func TestCSVIterator_HeaderPolicySynthesisesNamesForAllNumericFirstRow(t *testing.T) {
	path := writeTemp(t, "data.csv", "1,2\n3,4\n")
	it, err := newCSVIterator(path, ParseOptions{})
	require.NoError(t, err)

	assert.Equal(t, Row{"column_1", "column_2"}, it.Headers())

	rows := drain(t, it)
	require.Len(t, rows, 2, "the all-numeric first row should survive as data")
	assert.Equal(t, "1", rows[0][0])
}

func TestCSVIterator_ExplicitHasHeaderOverridesPolicy(t *testing.T) {
	path := writeTemp(t, "data.csv", "name,age\nalice,30\n")
	no := false
	it, err := newCSVIterator(path, ParseOptions{HasHeader: &no})
	require.NoError(t, err)

	assert.Equal(t, "column_1", it.Headers()[0])

	rows := drain(t, it)
	assert.Len(t, rows, 2, "the header row should be treated as data")
}

func TestTSVIterator_UsesTabDelimiter(t *testing.T) {
	path := writeTemp(t, "data.tsv", "name\tage\nalice\t30\n")
	it, err := newTSVIterator(path, ParseOptions{})
	require.NoError(t, err)

	rows := drain(t, it)
	require.Len(t, rows, 1)
	assert.Equal(t, Row{"alice", "30"}, rows[0])
}

func TestDetectDelimited_ConsistentColumnCountYieldsHighConfidence(t *testing.T) {
	path := writeTemp(t, "data.csv", "a,b,c\n1,2,3\n4,5,6\n")
	d, err := detectCSV(path)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, d.Confidence, 0.7)
}

func TestDetectDelimited_NoDelimiterYieldsLowConfidence(t *testing.T) {
	path := writeTemp(t, "data.csv", "just one column of plain text\nmore text\n")
	d, err := detectCSV(path)
	require.NoError(t, err)
	assert.Less(t, d.Confidence, 0.7)
}

func TestHeaderRowPolicy_MajorityNonNumericMeansHeader(t *testing.T) {
	assert.True(t, headerRowPolicy(Row{"name", "age", "city"}))
	assert.False(t, headerRowPolicy(Row{"1", "2", "3"}))
	assert.False(t, headerRowPolicy(Row{"", "", ""}))
}

func TestSyntheticColumnNames_OneIndexed(t *testing.T) {
	names := syntheticColumnNames(3)
	assert.Equal(t, Row{"column_1", "column_2", "column_3"}, names)
}
