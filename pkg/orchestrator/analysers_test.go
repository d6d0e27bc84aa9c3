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
	"context"
	"testing"

	"github.com/Mrassimo/datapilot-sub006/pkg/parsing"
)

func newAnalyserResolver(t *testing.T, csv string) *DependencyResolver {
	t.Helper()
	g, err := NewDependencyGraph(DefaultNodeSpecs())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	path := writeTempCSV(t, csv)
	cache := NewResultCache(ResultCacheOptions{CacheVersion: "v1"})
	r := NewDependencyResolver(path, Options{}, g, cache, "analyser-test", nil)
	NewAnalyserAdapters(parsing.DefaultRegistry()).RegisterAll(r)
	return r
}

func TestAnalyserAdapters_OverviewReportsRowAndColumnCounts(t *testing.T) {
	r := newAnalyserResolver(t, "name,age\nalice,30\nbob,40\n")
	a, err := r.Resolve(context.Background(), Section1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ov := a.Fields["overview"].(map[string]any)
	if ov["row_count"] != 2 {
		t.Fatalf("expected 2 data rows, got %v", ov["row_count"])
	}
	if ov["column_count"] != 2 {
		t.Fatalf("expected 2 columns, got %v", ov["column_count"])
	}
}

func TestAnalyserAdapters_QualityAuditFlagsNulls(t *testing.T) {
	r := newAnalyserResolver(t, "name,age\nalice,30\nbob,\n")
	a, err := r.Resolve(context.Background(), Section2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	qa := a.Fields["quality_audit"].(map[string]any)
	cols := asColumnMap(qa["columns"])
	age, ok := cols["age"]
	if !ok {
		t.Fatalf("expected an age column entry, got %+v", cols)
	}
	if age["null_count"] != 1 {
		t.Fatalf("expected 1 null in age, got %v", age["null_count"])
	}
}

func TestAnalyserAdapters_EdaComputesNumericSummary(t *testing.T) {
	r := newAnalyserResolver(t, "name,age\nalice,30\nbob,40\n")
	a, err := r.Resolve(context.Background(), Section3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	per := a.Fields["eda_analysis"].(map[string]any)["per_column"].(map[string]any)
	age := per["age"].(map[string]any)
	if age["mean"] != 35.0 {
		t.Fatalf("expected mean age 35, got %v", age["mean"])
	}
}

func TestAnalyserAdapters_VisualizationDependsOnOverviewAndEda(t *testing.T) {
	r := newAnalyserResolver(t, "name,age\nalice,30\nbob,40\n")
	a, err := r.Resolve(context.Background(), Section4)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	viz := a.Fields["visualization_analysis"].(map[string]any)
	if viz["row_count"] != 2 {
		t.Fatalf("expected row_count propagated from section1, got %v", viz["row_count"])
	}
	suggestions := viz["suggestions"].([]string)
	if len(suggestions) == 0 {
		t.Fatal("expected at least one visualization suggestion")
	}
}

func TestAnalyserAdapters_ModelingRespectsInterpretabilityOption(t *testing.T) {
	g, err := NewDependencyGraph(DefaultNodeSpecs())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	path := writeTempCSV(t, "name,age\nalice,30\nbob,40\n")
	cache := NewResultCache(ResultCacheOptions{CacheVersion: "v1"})
	r := NewDependencyResolver(path, Options{Interpretability: "high"}, g, cache, "analyser-test", nil)
	NewAnalyserAdapters(parsing.DefaultRegistry()).RegisterAll(r)

	a, err := r.Resolve(context.Background(), Section6)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	rec := a.Fields["modeling_analysis"].(map[string]any)
	if rec["model_family"] != "linear" {
		t.Fatalf("expected a linear model family when interpretability=high, got %v", rec["model_family"])
	}
}

func TestAnalyserAdapters_QualityAuditHashesColumnNamesUnderRedactedPrivacy(t *testing.T) {
	g, err := NewDependencyGraph(DefaultNodeSpecs())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	path := writeTempCSV(t, "name,age\nalice,30\nbob,40\n")
	cache := NewResultCache(ResultCacheOptions{CacheVersion: "v1"})
	r := NewDependencyResolver(path, Options{EnableHashing: true, PrivacyMode: PrivacyRedacted}, g, cache, "analyser-test", nil)
	NewAnalyserAdapters(parsing.DefaultRegistry()).RegisterAll(r)

	a, err := r.Resolve(context.Background(), Section2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	qa := a.Fields["quality_audit"].(map[string]any)
	cols := asColumnMap(qa["columns"])
	if _, ok := cols["age"]; ok {
		t.Fatal("expected the plaintext column name to be absent under redacted privacy mode")
	}
	if _, ok := cols[sha256Hex("age")]; !ok {
		t.Fatalf("expected a hashed column name, got %+v", cols)
	}
}

func TestAsColumnMap_HandlesBothConcreteAndGenericShapes(t *testing.T) {
	concrete := map[string]map[string]any{"a": {"completeness": 1.0}}
	if got := asColumnMap(concrete); got["a"]["completeness"] != 1.0 {
		t.Fatalf("unexpected result for the concrete shape: %+v", got)
	}

	generic := map[string]any{"a": map[string]any{"completeness": 1.0}}
	if got := asColumnMap(generic); got["a"]["completeness"] != 1.0 {
		t.Fatalf("unexpected result for the JSON-round-tripped shape: %+v", got)
	}
}
