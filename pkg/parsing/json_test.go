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
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJSONIterator_ArrayModeDerivesSortedHeaderFromFirstRow(t *testing.T) {
	path := writeTemp(t, "data.json", `[{"b":2,"a":1},{"b":4,"a":3}]`)
	it, err := newJSONIterator(path, ParseOptions{})
	require.NoError(t, err)

	rows := drain(t, it)
	assert.Equal(t, Row{"a", "b"}, it.Headers())
	require.Len(t, rows, 2)
	assert.Equal(t, Row{"1", "2"}, rows[0])
}

func TestJSONIterator_JSONLModeDetectedByExtension(t *testing.T) {
	path := writeTemp(t, "data.jsonl", "{\"a\":1}\n{\"a\":2}\n")
	it, err := newJSONIterator(path, ParseOptions{})
	require.NoError(t, err)
	assert.Len(t, drain(t, it), 2)
}

func TestJSONIterator_JSONLModeDetectedByContentWhenExtensionIsPlainJSON(t *testing.T) {
	path := writeTemp(t, "data.json", "{\"a\":1}\n{\"a\":2}\n")
	it, err := newJSONIterator(path, ParseOptions{})
	require.NoError(t, err)
	assert.Len(t, drain(t, it), 2, "content-sniffed JSONL should yield 2 rows")
}

func TestJSONIterator_FlattenObjectsProducesDottedKeys(t *testing.T) {
	path := writeTemp(t, "data.json", `[{"user":{"name":"alice","age":30}}]`)
	it, err := newJSONIterator(path, ParseOptions{FlattenObjects: true})
	require.NoError(t, err)

	rows := drain(t, it)
	sorted := append(Row{}, it.Headers()...)
	sort.Strings(sorted)
	assert.Equal(t, Row{"user.age", "user.name"}, sorted)
	assert.Len(t, rows, 1)
}

func TestJSONIterator_JSONPathNavigatesToNestedArray(t *testing.T) {
	path := writeTemp(t, "data.json", `{"meta":{"x":1},"data":{"rows":[{"a":1},{"a":2}]}}`)
	it, err := newJSONIterator(path, ParseOptions{ArrayMode: true, JSONPath: "data.rows"})
	require.NoError(t, err)
	assert.Len(t, drain(t, it), 2)
}

func TestJSONIterator_RejectsNonArrayTopLevelWithoutJSONPath(t *testing.T) {
	path := writeTemp(t, "data.json", `{"a":1}`)
	_, err := newJSONIterator(path, ParseOptions{ArrayMode: true})
	assert.Error(t, err, "expected an error for a non-array top-level value with ArrayMode forced and no json_path")
}

func TestDetectJSON_ArrayVsObjectConfidence(t *testing.T) {
	arrPath := writeTemp(t, "arr.json", `[{"a":1}]`)
	d, err := detectJSON(arrPath)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, d.Confidence, 0.7)

	objPath := writeTemp(t, "obj.jsonl", `{"a":1}`)
	d2, err := detectJSON(objPath)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, d2.Confidence, 0.7)
}
