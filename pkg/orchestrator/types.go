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

// Package orchestrator is DataPilot's orchestration core: the dependency
// graph, result cache, progress aggregation, and sequential executor that
// decide what to run, in what order, with which cached intermediates,
// and under partial failure. The six analysers themselves are external
// collaborators registered as producers; this package never implements
// their statistics.
package orchestrator

import (
	"sort"
	"time"
)

// NodeId identifies one of the six analyser nodes. The set is closed;
// unknown ids are a ConfigurationError (UnknownSection), never a new
// node.
type NodeId string

const (
	Section1 NodeId = "section1"
	Section2 NodeId = "section2"
	Section3 NodeId = "section3"
	Section4 NodeId = "section4"
	Section5 NodeId = "section5"
	Section6 NodeId = "section6"
)

// AllSections lists the closed node set in a fixed, sorted order.
var AllSections = []NodeId{Section1, Section2, Section3, Section4, Section5, Section6}

func IsKnownSection(id NodeId) bool {
	for _, s := range AllSections {
		if s == id {
			return true
		}
	}
	return false
}

// Condition is evaluated at plan time; a false result excludes the node
// and records it under ExecutionPlan.ConditionalSkips.
type Condition func(Options) bool

// NodeSpec is built once per process and never mutated after
// registration; Dependents is the derived inverse of Dependencies,
// computed by NewDependencyGraph.
type NodeSpec struct {
	ID                   NodeId
	Dependencies         map[NodeId]struct{}
	Dependents           map[NodeId]struct{}
	Weight               int
	EstimatedDurationMs  int64
	Required             bool
	Retryable            bool
	Condition            Condition
}

// DefaultNodeSpecs returns the default six-node graph:
// s1→∅, s2→∅, s3→∅, s4→{s1,s3}, s5→{s1,s2,s3}, s6→{s1,s2,s3,s5}.
func DefaultNodeSpecs() []NodeSpec {
	dep := func(ids ...NodeId) map[NodeId]struct{} {
		m := make(map[NodeId]struct{}, len(ids))
		for _, id := range ids {
			m[id] = struct{}{}
		}
		return m
	}
	return []NodeSpec{
		{ID: Section1, Dependencies: dep(), Weight: 3, EstimatedDurationMs: 800, Required: true, Retryable: false},
		{ID: Section2, Dependencies: dep(), Weight: 2, EstimatedDurationMs: 600, Required: true, Retryable: false},
		{ID: Section3, Dependencies: dep(), Weight: 5, EstimatedDurationMs: 1500, Required: true, Retryable: false},
		{ID: Section4, Dependencies: dep(Section1, Section3), Weight: 4, EstimatedDurationMs: 1200, Required: false, Retryable: true,
			Condition: func(o Options) bool { return !o.SkipSection4 }},
		{ID: Section5, Dependencies: dep(Section1, Section2, Section3), Weight: 6, EstimatedDurationMs: 2000, Required: false, Retryable: true},
		{ID: Section6, Dependencies: dep(Section1, Section2, Section3, Section5), Weight: 7, EstimatedDurationMs: 2500, Required: false, Retryable: true},
	}
}

// Warning is carried on every Artefact's envelope.
type Warning struct {
	Message string
	Node    NodeId
}

// PerfMetrics is the optional performance envelope field.
type PerfMetrics struct {
	DurationMs  int64
	MemoryBytes int64
}

// Artefact is the opaque per-section result. The core only inspects the
// envelope (Warnings, the section's named payload via Fields); section
// content itself is untyped by design — a tagged variant discriminated
// by the Section field, carrying its payload in the Fields map.
type Artefact struct {
	Section     NodeId
	Fields      map[string]any
	Warnings    []Warning
	Performance *PerfMetrics
}

// sectionEnvelopeField maps each section to its required payload
// property name.
var sectionEnvelopeField = map[NodeId]string{
	Section1: "overview",
	Section2: "quality_audit",
	Section3: "eda_analysis",
	Section4: "visualization_analysis",
	Section5: "engineering_analysis",
	Section6: "modeling_analysis",
}

// ValidateEnvelope checks the artefact carries its section's required
// payload field. Returns the missing field name, or "" if valid.
func ValidateEnvelope(a *Artefact) (missingField string, ok bool) {
	field, known := sectionEnvelopeField[a.Section]
	if !known {
		return "section", false
	}
	if a.Fields == nil {
		return field, false
	}
	if _, present := a.Fields[field]; !present {
		return field, false
	}
	return "", true
}

// PrivacyMode controls hashing output per Options.PrivacyMode.
type PrivacyMode string

const (
	PrivacyFull     PrivacyMode = "full"
	PrivacyRedacted PrivacyMode = "redacted"
	PrivacyMinimal  PrivacyMode = "minimal"
)

// Options is the single configuration record threaded through a run.
// Only the fields in the cacheable subset below participate in the
// cache key. Every other field (e.g. AllowMockDependencies, the
// concurrency knobs) may change run behaviour but never changes which
// cache entry is consulted.
type Options struct {
	// --- cacheable subset ---
	MaxRows            int
	EnableHashing      bool
	PrivacyMode        PrivacyMode
	ChunkSize          int
	Delimiter          string
	Quote              string
	Encoding           string
	HasHeader          bool
	JSONPath           string
	ArrayMode          string
	FlattenObjects     bool
	SheetName          string
	SheetIndex         int
	Columns            []string
	RowStart           int
	RowEnd             int
	Accessibility      string
	Complexity         string
	MaxRecommendations int
	IncludeCode        bool
	Database           string
	Framework          string
	Focus              string
	Interpretability   string
	SamplePercentage   float64
	SampleRows         int
	SampleMethod       string
	Confidence         float64
	CacheVersion       string

	// --- non-cacheable, run-shaping only ---
	SkipSection4          bool
	AllowMockDependencies bool
	MemoryLimitBytes      int64
	CacheDir              string
	Strict                bool
	Concurrency           int
}

// cacheableOptionsEnumeration lists the serialised key names of the
// cacheable set, the same names canonicalOptionsMap writes. No code
// reads it; canonicalOptionsMap names each cacheable field itself.
var cacheableOptionsEnumeration = []string{
	"max_rows", "enable_hashing", "privacy_mode", "chunk_size", "delimiter",
	"quote", "encoding", "has_header", "json_path", "array_mode",
	"flatten_objects", "sheet_name", "sheet_index", "columns", "row_start",
	"row_end", "accessibility", "complexity", "max_recommendations",
	"include_code", "database", "framework", "focus", "interpretability",
	"sample_percentage", "sample_rows", "sample_method", "confidence",
	"cache_version",
}

// canonicalOptionsMap projects Options onto its cacheable subset, drops
// zero-valued (absent) fields, and sorts list-valued fields, ready for
// deterministic serialisation by GenerateKey.
func canonicalOptionsMap(o Options) map[string]any {
	m := map[string]any{}
	add := func(key string, value any, zero bool) {
		if zero {
			return
		}
		m[key] = value
	}
	add("max_rows", o.MaxRows, o.MaxRows == 0)
	add("enable_hashing", o.EnableHashing, !o.EnableHashing)
	add("privacy_mode", string(o.PrivacyMode), o.PrivacyMode == "")
	add("chunk_size", o.ChunkSize, o.ChunkSize == 0)
	add("delimiter", o.Delimiter, o.Delimiter == "")
	add("quote", o.Quote, o.Quote == "")
	add("encoding", o.Encoding, o.Encoding == "")
	add("has_header", o.HasHeader, !o.HasHeader)
	add("json_path", o.JSONPath, o.JSONPath == "")
	add("array_mode", o.ArrayMode, o.ArrayMode == "")
	add("flatten_objects", o.FlattenObjects, !o.FlattenObjects)
	add("sheet_name", o.SheetName, o.SheetName == "")
	add("sheet_index", o.SheetIndex, o.SheetIndex == 0)
	if len(o.Columns) > 0 {
		cols := append([]string(nil), o.Columns...)
		sort.Strings(cols)
		m["columns"] = cols
	}
	add("row_start", o.RowStart, o.RowStart == 0)
	add("row_end", o.RowEnd, o.RowEnd == 0)
	add("accessibility", o.Accessibility, o.Accessibility == "")
	add("complexity", o.Complexity, o.Complexity == "")
	add("max_recommendations", o.MaxRecommendations, o.MaxRecommendations == 0)
	add("include_code", o.IncludeCode, !o.IncludeCode)
	add("database", o.Database, o.Database == "")
	add("framework", o.Framework, o.Framework == "")
	add("focus", o.Focus, o.Focus == "")
	add("interpretability", o.Interpretability, o.Interpretability == "")
	add("sample_percentage", o.SamplePercentage, o.SamplePercentage == 0)
	add("sample_rows", o.SampleRows, o.SampleRows == 0)
	add("sample_method", o.SampleMethod, o.SampleMethod == "")
	add("confidence", o.Confidence, o.Confidence == 0)
	add("cache_version", o.CacheVersion, o.CacheVersion == "")
	return m
}

// ExecutionPlan is the planner's output for one (requested, options)
// pair; it is immutable once built.
type ExecutionPlan struct {
	Order                []NodeId
	ParallelGroups       [][]NodeId
	ConditionalSkips     map[NodeId]struct{}
	MemoryOptimised      bool
	EstimatedMemoryPeak  int64
}

// RollbackPoint is a snapshot recorded before entering a node so the
// executor can revert per-run memo and cache state on required-section
// failure.
type RollbackPoint struct {
	Node           NodeId
	At             time.Time
	MemorySnapshot int64
}

// ExecutionState is per-run, owned by one SequentialExecutor.Run call.
type ExecutionState struct {
	CurrentNode   NodeId
	Completed     map[NodeId]struct{}
	Rollbacks     []RollbackPoint
	StartedAt     time.Time
	MemoryPeak    int64
	Plan          *ExecutionPlan
}

const maxRollbackStackDepth = 10

func (s *ExecutionState) pushRollback(rp RollbackPoint) {
	s.Rollbacks = append(s.Rollbacks, rp)
	if len(s.Rollbacks) > maxRollbackStackDepth {
		s.Rollbacks = s.Rollbacks[len(s.Rollbacks)-maxRollbackStackDepth:]
	}
}

// RunResult is the top-level exit/result envelope for a run.
type RunResult struct {
	Success  bool
	Data     map[NodeId]*Artefact
	Metadata RunMetadata
	Error    error
}

type RunMetadata struct {
	ExecutionTimeMs  int64
	SectionsExecuted []NodeId
	MemoryPeakBytes  int64
	Plan             *ExecutionPlan
}
