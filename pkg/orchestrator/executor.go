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
	"log/slog"
	"runtime"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// SequentialExecutor is the top-level run coordinator for one
// (file, options) pair. It drives the four phases —
// Plan, Validate readiness, Execute, Post-execution — emitting progress
// throughout and applying the required/optional/retryable failure
// policy.
type SequentialExecutor struct {
	logger           *slog.Logger
	graph            *DependencyGraph
	cache            *ResultCache
	progress         *ProgressOrchestrator
	metrics          *Metrics
	progressCallback ProgressCallback
}

func NewSequentialExecutor(graph *DependencyGraph, cache *ResultCache, logger *slog.Logger) *SequentialExecutor {
	if logger == nil {
		logger = slog.Default()
	}
	return &SequentialExecutor{logger: logger, graph: graph, cache: cache}
}

// WithMetrics attaches a Metrics collector, returning e for chaining.
func (e *SequentialExecutor) WithMetrics(m *Metrics) *SequentialExecutor {
	e.metrics = m
	return e
}

// WithProgressCallback registers fn to be invoked with a (current,
// total) pair scaled to a 0-100 range and the active phase name,
// letting a caller drive a terminal progress bar.
func (e *SequentialExecutor) WithProgressCallback(fn ProgressCallback) *SequentialExecutor {
	e.progressCallback = fn
	return e
}

func (e *SequentialExecutor) wireProgressCallback() {
	if e.progressCallback == nil {
		return
	}
	e.progress.OnPhaseStart(func(phase string) {
		e.progressCallback(0, 100, phase)
	})
	e.progress.OnProgress(func(phase string, percent float64, _ time.Duration) {
		e.progressCallback(int64(percent), 100, phase)
	})
	e.progress.OnPhaseComplete(func(phase string) {
		e.progressCallback(100, 100, phase)
	})
}

// Run executes requested sections against path under options, wiring
// producers registered on resolver. Parallel-group execution is used
// when options.Concurrency > 1, otherwise nodes run strictly in
// plan.Order.
func (e *SequentialExecutor) Run(ctx context.Context, path string, requested []NodeId, options Options, resolver *DependencyResolver) *RunResult {
	runTag := fmt.Sprintf("%s-%d", path, time.Now().UnixNano())
	start := time.Now()

	state := &ExecutionState{
		Completed: map[NodeId]struct{}{},
		StartedAt: start,
	}

	// --- Phase 1: Plan (0-5%) ---
	e.progress = NewProgressOrchestrator(DefaultPhaseWeights(), nil)
	e.wireProgressCallback()
	e.progress.StartPhase("initialisation")

	plan, err := e.graph.Plan(requested, options)
	if err != nil {
		return e.fail(state, start, err)
	}
	state.Plan = plan
	e.progress = NewProgressOrchestrator(DefaultPhaseWeights(), plan.ConditionalSkips)
	e.wireProgressCallback()
	e.progress.StartPhase("initialisation")
	e.progress.Progress(50)

	// --- Phase 2: Validate readiness (5-10%) ---
	if len(plan.Order) == 0 && len(requested) > 0 {
		// Every requested node was conditionally skipped: an empty
		// required set is treated as success.
		e.progress.CompletePhase("initialisation")
		return &RunResult{
			Success: true,
			Data:    map[NodeId]*Artefact{},
			Metadata: RunMetadata{
				ExecutionTimeMs: time.Since(start).Milliseconds(),
				Plan:            plan,
			},
		}
	}

	if processHeapBytes() > int64(0.8*float64(options.MemoryLimitBytes)) && options.MemoryLimitBytes > 0 {
		e.progress.Warning("initialisation", "process heap already exceeds 80% of configured budget")
	}
	for _, id := range plan.Order {
		if !resolver.hasProducer(id) {
			return e.fail(state, start, uConfigErrMissingProducer(id))
		}
	}
	e.progress.CompletePhase("initialisation")

	if data, ok := e.TryIncremental(plan, resolver); ok {
		e.progress.Progress(100)
		e.progress.CompletePhase(string(plan.Order[len(plan.Order)-1]))
		for _, id := range plan.Order {
			state.Completed[id] = struct{}{}
		}
		return &RunResult{
			Success: true,
			Data:    data,
			Metadata: RunMetadata{
				ExecutionTimeMs:  time.Since(start).Milliseconds(),
				SectionsExecuted: plan.Order,
				Plan:             plan,
			},
		}
	}

	// --- Phase 3: Execute (10-90%) ---
	data := make(map[NodeId]*Artefact, len(plan.Order))
	var warnings []Warning

	if options.Concurrency > 1 {
		d, w, execErr := e.executeParallel(ctx, plan, options, resolver, state, runTag)
		data, warnings = d, w
		if execErr != nil {
			return e.fail(state, start, execErr)
		}
	} else {
		d, w, execErr := e.executeSequential(ctx, plan, resolver, state, runTag)
		data, warnings = d, w
		if execErr != nil {
			return e.fail(state, start, execErr)
		}
	}

	// --- Phase 4: Post-execution (90-100%) ---
	e.progress.StartPhase(string(plan.Order[len(plan.Order)-1]))
	var missingRequired []NodeId
	for _, id := range plan.Order {
		spec, _ := e.graph.NodeSpecByID(id)
		if spec.Required {
			if _, ok := state.Completed[id]; !ok {
				missingRequired = append(missingRequired, id)
			}
		}
	}
	if len(missingRequired) > 0 {
		return e.fail(state, start, newRequiredSectionsIncompleteError(missingRequired))
	}
	e.progress.Progress(100)
	e.progress.CompletePhase(string(plan.Order[len(plan.Order)-1]))

	for section, a := range data {
		a.Warnings = append(a.Warnings, warnings...)
		_ = section
	}

	e.metrics.setMemoryPeak(state.MemoryPeak)

	return &RunResult{
		Success: true,
		Data:    data,
		Metadata: RunMetadata{
			ExecutionTimeMs:  time.Since(start).Milliseconds(),
			SectionsExecuted: plan.Order,
			MemoryPeakBytes:  state.MemoryPeak,
			Plan:             plan,
		},
	}
}

// executeSequential runs plan.Order strictly in order.
func (e *SequentialExecutor) executeSequential(ctx context.Context, plan *ExecutionPlan, resolver *DependencyResolver, state *ExecutionState, runTag string) (map[NodeId]*Artefact, []Warning, error) {
	data := make(map[NodeId]*Artefact, len(plan.Order))
	var warnings []Warning

	for _, id := range plan.Order {
		e.progress.StartPhase(string(id))
		state.CurrentNode = id
		state.pushRollback(RollbackPoint{Node: id, At: time.Now(), MemorySnapshot: processHeapBytes()})

		if processHeapBytes() > int64(0.7*float64(state.hintThreshold(resolver.options.MemoryLimitBytes))) {
			runtime.GC()
		}

		nodeStart := time.Now()
		artefact, err := e.executeNode(ctx, id, resolver, nodeStart)
		if err != nil {
			spec, _ := e.graph.NodeSpecByID(id)
			e.cache.InvalidateDependents(id)
			switch {
			case spec.Required:
				e.metrics.observeNode(id, time.Since(nodeStart).Seconds(), "failed")
				e.rollback(resolver, state, runTag)
				return data, warnings, newRequiredSectionFailedError(id, err)
			case spec.Retryable:
				e.metrics.observeNode(id, time.Since(nodeStart).Seconds(), "skipped")
				warnings = append(warnings, Warning{Node: id, Message: fmt.Sprintf("%s skipped: %v", id, err)})
				e.progress.Warning(string(id), err.Error())
				continue
			default:
				e.metrics.observeNode(id, time.Since(nodeStart).Seconds(), "skipped")
				continue
			}
		}
		e.metrics.observeNode(id, time.Since(nodeStart).Seconds(), "success")

		state.Completed[id] = struct{}{}
		heap := processHeapBytes()
		if heap > state.MemoryPeak {
			state.MemoryPeak = heap
		}
		data[id] = artefact
		e.progress.Progress(100)
		e.progress.CompletePhase(string(id))
	}

	return data, warnings, nil
}

// executeParallel dispatches each parallel_group concurrently using an
// errgroup-bounded worker set capped at options.Concurrency.
func (e *SequentialExecutor) executeParallel(ctx context.Context, plan *ExecutionPlan, options Options, resolver *DependencyResolver, state *ExecutionState, runTag string) (map[NodeId]*Artefact, []Warning, error) {
	data := make(map[NodeId]*Artefact, len(plan.Order))
	var warnings []Warning
	var mu sync.Mutex

	for _, group := range plan.ParallelGroups {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(options.Concurrency)

		for _, id := range group {
			id := id
			g.Go(func() error {
				e.progress.StartPhase(string(id))

				mu.Lock()
				state.CurrentNode = id
				state.pushRollback(RollbackPoint{Node: id, At: time.Now(), MemorySnapshot: processHeapBytes()})
				mu.Unlock()

				nodeStart := time.Now()
				artefact, err := e.executeNode(gctx, id, resolver, nodeStart)
				spec, _ := e.graph.NodeSpecByID(id)

				if err != nil {
					e.cache.InvalidateDependents(id)
					switch {
					case spec.Required:
						e.metrics.observeNode(id, time.Since(nodeStart).Seconds(), "failed")
						e.rollback(resolver, state, runTag)
						return newRequiredSectionFailedError(id, err)
					case spec.Retryable:
						e.metrics.observeNode(id, time.Since(nodeStart).Seconds(), "skipped")
						mu.Lock()
						warnings = append(warnings, Warning{Node: id, Message: fmt.Sprintf("%s skipped: %v", id, err)})
						mu.Unlock()
						e.progress.Warning(string(id), err.Error())
						return nil
					default:
						e.metrics.observeNode(id, time.Since(nodeStart).Seconds(), "skipped")
						return nil
					}
				}
				e.metrics.observeNode(id, time.Since(nodeStart).Seconds(), "success")

				mu.Lock()
				state.Completed[id] = struct{}{}
				heap := processHeapBytes()
				if heap > state.MemoryPeak {
					state.MemoryPeak = heap
				}
				data[id] = artefact
				mu.Unlock()

				e.progress.Progress(100)
				e.progress.CompletePhase(string(id))
				return nil
			})
		}

		if err := g.Wait(); err != nil {
			return data, warnings, err
		}
	}

	return data, warnings, nil
}

// TryIncremental reports whether every node in plan.Order already has a
// valid cache entry for resolver's (path, options) pair; if so it
// returns their artefacts directly, letting Run skip the Execute phase
// entirely when nothing relevant has changed since the last pass.
func (e *SequentialExecutor) TryIncremental(plan *ExecutionPlan, resolver *DependencyResolver) (map[NodeId]*Artefact, bool) {
	if len(plan.Order) == 0 {
		return nil, false
	}
	data := make(map[NodeId]*Artefact, len(plan.Order))
	for _, id := range plan.Order {
		a, ok := e.cache.Get(resolver.path, id, resolver.options, sortedDeps(resolver.depsOf(id)))
		if !ok {
			return nil, false
		}
		data[id] = a
	}
	return data, true
}

// executeNode attempts a cache hit first, else calls resolver.Resolve,
// recording the actual producer runtime (measured from nodeStart, the
// wall-clock time the caller began working on this node) so the
// planner's mean-runtime tie-break and the resolver's adaptive timeout
// see real data. A successful Resolve also drops cached dependents of id
// so downstream sections are recomputed against the fresh result.
func (e *SequentialExecutor) executeNode(ctx context.Context, id NodeId, resolver *DependencyResolver, nodeStart time.Time) (*Artefact, error) {
	if a, ok := e.cache.Get(resolver.path, id, resolver.options, sortedDeps(resolver.depsOf(id))); ok {
		return a, nil
	}
	a, err := resolver.Resolve(ctx, id)
	if err != nil {
		return nil, err
	}
	e.graph.RecordRuntime(id, time.Since(nodeStart).Milliseconds())
	e.cache.InvalidateDependents(id)
	return a, nil
}

// rollback clears the per-run memo, drops cache entries created this
// run, and hints a GC pass.
func (e *SequentialExecutor) rollback(resolver *DependencyResolver, state *ExecutionState, runTag string) {
	resolver.memoMu.Lock()
	resolver.memo = make(map[NodeId]*Artefact)
	resolver.memoMu.Unlock()

	e.cache.InvalidateCreatedByRun(runTag)
	runtime.GC()

	e.logger.Warn("executor.rollback", "rollback_points", len(state.Rollbacks))
}

func (e *SequentialExecutor) fail(state *ExecutionState, start time.Time, err error) *RunResult {
	return &RunResult{
		Success: false,
		Error:   err,
		Metadata: RunMetadata{
			ExecutionTimeMs: time.Since(start).Milliseconds(),
			MemoryPeakBytes: state.MemoryPeak,
			Plan:            state.Plan,
		},
	}
}

// hintThreshold returns the memory budget used for GC-hint comparisons;
// falls back to a generous default when the run didn't configure one.
func (s *ExecutionState) hintThreshold(configured int64) int64 {
	const fallback = 512 << 20
	if configured > 0 {
		return configured
	}
	return fallback
}

// resolveGroup runs a parallel_group's nodes concurrently through the
// resolver directly (used by DependencyResolver.ResolveMany, as opposed
// to SequentialExecutor.executeParallel which also manages rollback and
// progress).
func resolveGroup(ctx context.Context, r *DependencyResolver, group []NodeId) (map[NodeId]*Artefact, error) {
	results := make(map[NodeId]*Artefact, len(group))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	for _, id := range group {
		id := id
		g.Go(func() error {
			a, err := r.Resolve(gctx, id)
			if err != nil {
				return err
			}
			mu.Lock()
			results[id] = a
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return results, err
	}
	return results, nil
}
