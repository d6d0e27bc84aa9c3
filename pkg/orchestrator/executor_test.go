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
	"fmt"
	"testing"
)

// registerStubProducers wires a trivial valid-envelope producer onto
// every default section, letting executor tests exercise the real plan
// and run machinery without depending on pkg/parsing.
func registerStubProducers(r *DependencyResolver) {
	for id, field := range sectionEnvelopeField {
		id, field := id, field
		r.Register(id, func(ctx context.Context, r *DependencyResolver) (*Artefact, error) {
			return &Artefact{Section: id, Fields: map[string]any{field: map[string]any{}}}, nil
		})
	}
}

func newTestExecutorSetup(t *testing.T) (*SequentialExecutor, *DependencyResolver, string) {
	t.Helper()
	g, err := NewDependencyGraph(DefaultNodeSpecs())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	path := writeTempCSV(t, "a,b\n1,2\n")
	cache := NewResultCache(ResultCacheOptions{CacheVersion: "v1"})
	resolver := NewDependencyResolver(path, Options{}, g, cache, "exec-test", nil)
	registerStubProducers(resolver)
	exec := NewSequentialExecutor(g, cache, nil)
	return exec, resolver, path
}

func TestExecutor_Run_SequentialSucceeds(t *testing.T) {
	exec, resolver, path := newTestExecutorSetup(t)
	result := exec.Run(context.Background(), path, AllSections, Options{}, resolver)
	if !result.Success {
		t.Fatalf("expected success, got error: %v", result.Error)
	}
	for _, id := range AllSections {
		if _, ok := result.Data[id]; !ok {
			t.Errorf("expected section %s in the result data", id)
		}
	}
}

func TestExecutor_Run_SkipSection4RemovesItFromPlan(t *testing.T) {
	exec, resolver, path := newTestExecutorSetup(t)
	result := exec.Run(context.Background(), path, AllSections, Options{SkipSection4: true}, resolver)
	if !result.Success {
		t.Fatalf("expected success, got error: %v", result.Error)
	}
	if _, ok := result.Data[Section4]; ok {
		t.Fatal("expected section4 to be skipped")
	}
	if _, ok := result.Data[Section1]; !ok {
		t.Fatal("expected section1 to still run")
	}
}

func TestExecutor_Run_RequiredSectionFailurePropagates(t *testing.T) {
	exec, resolver, path := newTestExecutorSetup(t)
	resolver.Register(Section1, func(ctx context.Context, r *DependencyResolver) (*Artefact, error) {
		return nil, fmt.Errorf("boom")
	})

	result := exec.Run(context.Background(), path, AllSections, Options{}, resolver)
	if result.Success {
		t.Fatal("expected failure when a required section's producer errors")
	}
}

func TestExecutor_Run_RetryableSectionFailureBecomesWarning(t *testing.T) {
	exec, resolver, path := newTestExecutorSetup(t)
	resolver.Register(Section5, func(ctx context.Context, r *DependencyResolver) (*Artefact, error) {
		return nil, fmt.Errorf("flaky upstream")
	})

	result := exec.Run(context.Background(), path, AllSections, Options{}, resolver)
	if !result.Success {
		t.Fatalf("expected a retryable section's failure to not fail the run, got: %v", result.Error)
	}
	if _, ok := result.Data[Section5]; ok {
		t.Fatal("expected section5 to be absent from the result data after its producer errored")
	}
}

func TestExecutor_Run_ParallelExecutionSucceeds(t *testing.T) {
	exec, resolver, path := newTestExecutorSetup(t)
	result := exec.Run(context.Background(), path, AllSections, Options{Concurrency: 4}, resolver)
	if !result.Success {
		t.Fatalf("expected success under parallel execution, got error: %v", result.Error)
	}
	for _, id := range AllSections {
		if _, ok := result.Data[id]; !ok {
			t.Errorf("expected section %s in the parallel result data", id)
		}
	}
}

func TestExecutor_Run_EmptyRequestedIsSuccess(t *testing.T) {
	exec, resolver, path := newTestExecutorSetup(t)
	result := exec.Run(context.Background(), path, []NodeId{Section4}, Options{SkipSection4: true}, resolver)
	if !result.Success {
		t.Fatalf("expected requesting only a conditionally-skipped section to succeed, got: %v", result.Error)
	}
	if len(result.Data) != 0 {
		t.Fatalf("expected no data when every requested section was skipped, got %v", result.Data)
	}
}

func TestExecutor_Run_SecondRunShortCircuitsViaIncrementalCacheHit(t *testing.T) {
	exec, resolver, path := newTestExecutorSetup(t)
	first := exec.Run(context.Background(), path, AllSections, Options{}, resolver)
	if !first.Success {
		t.Fatalf("expected the first run to succeed, got error: %v", first.Error)
	}

	var produced int64
	resolver.Register(Section1, func(ctx context.Context, r *DependencyResolver) (*Artefact, error) {
		produced++
		return &Artefact{Section: Section1, Fields: map[string]any{"overview": map[string]any{}}}, nil
	})

	second := exec.Run(context.Background(), path, AllSections, Options{}, resolver)
	if !second.Success {
		t.Fatalf("expected the second run to succeed, got error: %v", second.Error)
	}
	if produced != 0 {
		t.Fatal("expected the second run to be served entirely from cache, but a producer ran")
	}
	for _, id := range AllSections {
		if _, ok := second.Data[id]; !ok {
			t.Errorf("expected section %s in the incrementally-served result data", id)
		}
	}
}

func TestTryIncremental_FalseWhenAnyNodeIsUncached(t *testing.T) {
	exec, resolver, path := newTestExecutorSetup(t)
	g, err := NewDependencyGraph(DefaultNodeSpecs())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	plan, err := g.Plan(AllSections, Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	_ = path
	if _, ok := exec.TryIncremental(plan, resolver); ok {
		t.Fatal("expected TryIncremental to report false with an empty cache")
	}
}
