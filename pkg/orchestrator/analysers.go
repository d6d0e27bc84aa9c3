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
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"

	"github.com/Mrassimo/datapilot-sub006/pkg/parsing"
)

// AnalyserAdapters wires the six section producers onto a
// DependencyResolver. The statistical content behind each adapter is
// intentionally lightweight (this core's job is orchestration, not the
// analyses themselves — external, richer analysers can replace any of
// these via resolver.Register without touching the planner, cache, or
// executor).
type AnalyserAdapters struct {
	registry *parsing.Registry
}

func NewAnalyserAdapters(registry *parsing.Registry) *AnalyserAdapters {
	if registry == nil {
		registry = parsing.DefaultRegistry()
	}
	return &AnalyserAdapters{registry: registry}
}

// RegisterAll binds every section producer onto r.
func (a *AnalyserAdapters) RegisterAll(r *DependencyResolver) {
	r.Register(Section1, a.overview)
	r.Register(Section2, a.qualityAudit)
	r.Register(Section3, a.eda)
	r.Register(Section4, a.visualization)
	r.Register(Section5, a.engineering)
	r.Register(Section6, a.modeling)
}

func parseOptionsFrom(o Options) parsing.ParseOptions {
	var delim, quote rune
	if len(o.Delimiter) > 0 {
		delim = []rune(o.Delimiter)[0]
	}
	if len(o.Quote) > 0 {
		quote = []rune(o.Quote)[0]
	}
	var hasHeader *bool
	if o.HasHeader {
		h := true
		hasHeader = &h
	}
	return parsing.ParseOptions{
		Delimiter:      delim,
		Quote:          quote,
		Encoding:       o.Encoding,
		HasHeader:      hasHeader,
		JSONPath:       o.JSONPath,
		ArrayMode:      o.ArrayMode == "array",
		FlattenObjects: o.FlattenObjects,
		SheetName:      o.SheetName,
		SheetIndex:     o.SheetIndex,
		Columns:        o.Columns,
		RowStart:       o.RowStart,
		RowEnd:         o.RowEnd,
		Strict:         o.Strict,
		MaxRows:        int64(o.MaxRows),
	}
}

type columnStats struct {
	name       string
	nonNull    int
	nullCount  int
	numeric    int
	sum        float64
	min, max   float64
	haveMinMax bool
}

// scanColumns streams every remaining row out of it, building one
// columnStats per column. Column names come from it.Headers() once at
// least one row has been read — required for formats (JSON) whose
// header set is only known after the first Next() call.
func scanColumns(it parsing.RowIterator) []*columnStats {
	var stats []*columnStats

	observe := func(row parsing.Row) {
		if stats == nil {
			headers := it.Headers()
			stats = make([]*columnStats, len(row))
			for i := range stats {
				name := fmt.Sprintf("column_%d", i+1)
				if i < len(headers) {
					name = headers[i]
				}
				stats[i] = &columnStats{name: name}
			}
		}
		for i := range stats {
			if i >= len(row) || row[i] == "" {
				stats[i].nullCount++
				continue
			}
			stats[i].nonNull++
			if v, err := strconv.ParseFloat(row[i], 64); err == nil {
				stats[i].numeric++
				stats[i].sum += v
				if !stats[i].haveMinMax || v < stats[i].min {
					stats[i].min = v
				}
				if !stats[i].haveMinMax || v > stats[i].max {
					stats[i].max = v
				}
				stats[i].haveMinMax = true
			}
		}
	}

	for it.Next() {
		observe(it.Row())
	}
	return stats
}

func (a *AnalyserAdapters) overview(ctx context.Context, r *DependencyResolver) (*Artefact, error) {
	it, format, err := a.registry.Parse(r.path, "", parseOptionsFrom(r.options))
	if err != nil {
		return nil, err
	}
	defer it.Close()

	rowCount := 0
	for it.Next() {
		rowCount++
	}
	headers := it.Headers()
	var warnings []Warning
	if it.Err() != nil {
		warnings = append(warnings, Warning{Node: Section1, Message: it.Err().Error()})
	}

	return &Artefact{
		Section: Section1,
		Fields: map[string]any{
			"overview": map[string]any{
				"format":       string(format),
				"row_count":    rowCount,
				"column_count": len(headers),
				"columns":      redactNames(r.options, headers),
			},
		},
		Warnings: warnings,
	}, nil
}

func (a *AnalyserAdapters) qualityAudit(ctx context.Context, r *DependencyResolver) (*Artefact, error) {
	it, _, err := a.registry.Parse(r.path, "", parseOptionsFrom(r.options))
	if err != nil {
		return nil, err
	}
	defer it.Close()

	cols := scanColumns(it)
	stats := map[string]map[string]any{}
	for _, c := range cols {
		total := c.nonNull + c.nullCount
		completeness := 1.0
		if total > 0 {
			completeness = float64(c.nonNull) / float64(total)
		}
		stats[redactName(r.options, c.name)] = map[string]any{
			"null_count":   c.nullCount,
			"completeness": completeness,
		}
	}

	return &Artefact{
		Section: Section2,
		Fields: map[string]any{
			"quality_audit": map[string]any{
				"columns": stats,
			},
		},
	}, nil
}

func (a *AnalyserAdapters) eda(ctx context.Context, r *DependencyResolver) (*Artefact, error) {
	it, _, err := a.registry.Parse(r.path, "", parseOptionsFrom(r.options))
	if err != nil {
		return nil, err
	}
	defer it.Close()

	summary := map[string]any{}
	for _, c := range scanColumns(it) {
		entry := map[string]any{"non_null": c.nonNull, "numeric": c.numeric}
		if c.numeric > 0 {
			entry["mean"] = c.sum / float64(c.numeric)
			entry["min"] = c.min
			entry["max"] = c.max
		}
		summary[redactName(r.options, c.name)] = entry
	}

	return &Artefact{
		Section: Section3,
		Fields: map[string]any{
			"eda_analysis": map[string]any{
				"per_column": summary,
			},
		},
	}, nil
}

// visualization depends on section1+section3: it asks the resolver for
// their already-computed artefacts rather than re-reading the file.
func (a *AnalyserAdapters) visualization(ctx context.Context, r *DependencyResolver) (*Artefact, error) {
	overview, err := r.Resolve(ctx, Section1)
	if err != nil {
		return nil, err
	}
	eda, err := r.Resolve(ctx, Section3)
	if err != nil {
		return nil, err
	}

	ov, _ := overview.Fields["overview"].(map[string]any)
	per, _ := eda.Fields["eda_analysis"].(map[string]any)["per_column"].(map[string]any)

	var suggestions []string
	limit := r.options.MaxRecommendations
	if limit <= 0 {
		limit = 10
	}
	for name, v := range per {
		if len(suggestions) >= limit {
			break
		}
		if cols, ok := v.(map[string]any); ok {
			if _, numeric := cols["mean"]; numeric {
				suggestions = append(suggestions, "histogram: "+name)
			} else {
				suggestions = append(suggestions, "bar_chart: "+name)
			}
		}
	}

	return &Artefact{
		Section: Section4,
		Fields: map[string]any{
			"visualization_analysis": map[string]any{
				"row_count":   ov["row_count"],
				"suggestions": suggestions,
			},
		},
	}, nil
}

// engineering depends on section1, section2, section3.
func (a *AnalyserAdapters) engineering(ctx context.Context, r *DependencyResolver) (*Artefact, error) {
	overview, err := r.Resolve(ctx, Section1)
	if err != nil {
		return nil, err
	}
	quality, err := r.Resolve(ctx, Section2)
	if err != nil {
		return nil, err
	}
	if _, err := r.Resolve(ctx, Section3); err != nil {
		return nil, err
	}

	ov, _ := overview.Fields["overview"].(map[string]any)
	qa, _ := quality.Fields["quality_audit"].(map[string]any)

	hints := []string{}
	for name, stat := range asColumnMap(qa["columns"]) {
		if completeness, ok := stat["completeness"].(float64); ok && completeness < 0.9 {
			hints = append(hints, "impute_or_drop: "+name)
		}
	}

	return &Artefact{
		Section: Section5,
		Fields: map[string]any{
			"engineering_analysis": map[string]any{
				"row_count": ov["row_count"],
				"hints":     hints,
			},
		},
	}, nil
}

// modeling depends on section1, section2, section3, section5.
func (a *AnalyserAdapters) modeling(ctx context.Context, r *DependencyResolver) (*Artefact, error) {
	overview, err := r.Resolve(ctx, Section1)
	if err != nil {
		return nil, err
	}
	if _, err := r.Resolve(ctx, Section2); err != nil {
		return nil, err
	}
	if _, err := r.Resolve(ctx, Section3); err != nil {
		return nil, err
	}
	engineering, err := r.Resolve(ctx, Section5)
	if err != nil {
		return nil, err
	}

	ov, _ := overview.Fields["overview"].(map[string]any)
	eng, _ := engineering.Fields["engineering_analysis"].(map[string]any)

	framework := r.options.Framework
	if framework == "" {
		framework = "scikit-learn"
	}

	recommendation := map[string]any{
		"framework":    framework,
		"row_count":    ov["row_count"],
		"needs_impute": len(asStringSlice(eng["hints"])) > 0,
	}
	if r.options.Interpretability == "high" {
		recommendation["model_family"] = "linear"
	} else {
		recommendation["model_family"] = "gradient_boosted_trees"
	}

	return &Artefact{
		Section: Section6,
		Fields: map[string]any{
			"modeling_analysis": recommendation,
		},
	}, nil
}

func asStringSlice(v any) []string {
	s, _ := v.([]string)
	return s
}

// asColumnMap tolerates both the in-memory concrete type a producer
// builds (map[string]map[string]any) and the generic shape a
// ResultCache entry reloaded from disk carries after a JSON round-trip
// (map[string]any of map[string]any).
func asColumnMap(v any) map[string]map[string]any {
	switch cols := v.(type) {
	case map[string]map[string]any:
		return cols
	case map[string]any:
		out := make(map[string]map[string]any, len(cols))
		for k, val := range cols {
			if m, ok := val.(map[string]any); ok {
				out[k] = m
			}
		}
		return out
	default:
		return nil
	}
}

// sha256Hex hashes s for privacy-mode column redaction.
func sha256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// redactName returns name unchanged unless the caller has opted into
// hashing for anything less than full privacy, in which case it returns
// a stable hash in its place.
func redactName(o Options, name string) string {
	if !o.EnableHashing || o.PrivacyMode == "" || o.PrivacyMode == PrivacyFull {
		return name
	}
	return sha256Hex(name)
}

// redactNames applies redactName to every element of a header row.
func redactNames(o Options, names parsing.Row) parsing.Row {
	if !o.EnableHashing || o.PrivacyMode == "" || o.PrivacyMode == PrivacyFull {
		return names
	}
	out := make(parsing.Row, len(names))
	for i, n := range names {
		out[i] = sha256Hex(n)
	}
	return out
}
