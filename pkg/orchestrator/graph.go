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
	"sort"
	"sync"
	"time"
)

// DependencyGraph is the static planner: it owns the NodeSpec arena
// keyed by NodeId (nodes never hold back-pointers to their dependents
// as object references — Dependents is an index set computed once at
// construction), detects cycles, and produces ExecutionPlans.
type DependencyGraph struct {
	nodes map[NodeId]*NodeSpec

	mu      sync.Mutex
	history map[NodeId][]int64 // bounded, append-only, last 10 samples

	metrics *Metrics // optional; nil disables Prometheus instrumentation
}

// WithMetrics attaches a Metrics collector to an already-constructed
// graph, returning g for chaining.
func (g *DependencyGraph) WithMetrics(m *Metrics) *DependencyGraph {
	g.metrics = m
	return g
}

const maxRuntimeSamples = 10

// NewDependencyGraph builds a graph from specs, computing the derived
// Dependents inverse, and runs cycle detection once at construction.
func NewDependencyGraph(specs []NodeSpec) (*DependencyGraph, error) {
	nodes := make(map[NodeId]*NodeSpec, len(specs))
	for i := range specs {
		s := specs[i]
		if s.Dependencies == nil {
			s.Dependencies = map[NodeId]struct{}{}
		}
		s.Dependents = map[NodeId]struct{}{}
		nodes[s.ID] = &s
	}
	for id, spec := range nodes {
		for dep := range spec.Dependencies {
			if parent, ok := nodes[dep]; ok {
				parent.Dependents[id] = struct{}{}
			}
		}
	}

	g := &DependencyGraph{nodes: nodes, history: make(map[NodeId][]int64)}
	if cycles := g.detectCycles(); len(cycles) > 0 {
		return nil, newCyclicGraphError(cycles)
	}
	return g, nil
}

func (g *DependencyGraph) sortedIds() []NodeId {
	ids := make([]NodeId, 0, len(g.nodes))
	for id := range g.nodes {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// detectCycles runs a deterministic DFS with white/gray/black colouring,
// returning one cycle (the path slice from the repeated node) for every
// back-edge found, not just the first. A cycle that is reachable only
// through an already-finished (black) node is not reported separately.
func (g *DependencyGraph) detectCycles() [][]NodeId {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[NodeId]int, len(g.nodes))
	var path []NodeId
	var cycles [][]NodeId

	var dfs func(id NodeId)
	dfs = func(id NodeId) {
		color[id] = gray
		path = append(path, id)

		deps := sortedDeps(g.nodes[id].Dependencies)
		for _, dep := range deps {
			switch color[dep] {
			case gray:
				start := -1
				for i, n := range path {
					if n == dep {
						start = i
						break
					}
				}
				cycle := append(append([]NodeId{}, path[start:]...), dep)
				cycles = append(cycles, cycle)
			case white:
				dfs(dep)
			}
		}

		path = path[:len(path)-1]
		color[id] = black
	}

	for _, id := range g.sortedIds() {
		if color[id] == white {
			dfs(id)
		}
	}
	return cycles
}

func sortedDeps(deps map[NodeId]struct{}) []NodeId {
	out := make([]NodeId, 0, len(deps))
	for d := range deps {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// RecordRuntime appends an observed duration to the node's bounded,
// append-only history; writes are serialised under g.mu.
func (g *DependencyGraph) RecordRuntime(id NodeId, durationMs int64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	samples := append(g.history[id], durationMs)
	if len(samples) > maxRuntimeSamples {
		samples = samples[len(samples)-maxRuntimeSamples:]
	}
	g.history[id] = samples
}

func (g *DependencyGraph) meanRuntimeMs(id NodeId) int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	samples := g.history[id]
	if len(samples) == 0 {
		return 1000 // unknown runtime treated as 1000ms
	}
	var sum int64
	for _, s := range samples {
		sum += s
	}
	return sum / int64(len(samples))
}

// Plan performs condition filtering, transitive-closure expansion,
// Kahn's topological sort with deterministic tie-breaks, parallel-group
// discovery, and the two memory-walk computations.
func (g *DependencyGraph) Plan(requested []NodeId, options Options) (*ExecutionPlan, error) {
	planStart := time.Now()
	defer func() { g.metrics.observePlanDuration(time.Since(planStart).Seconds()) }()

	for _, id := range requested {
		if _, ok := g.nodes[id]; !ok {
			return nil, newUnknownSectionError(id)
		}
	}

	conditionalSkips := map[NodeId]struct{}{}
	active := map[NodeId]struct{}{}
	for id, spec := range g.nodes {
		if spec.Condition != nil && !spec.Condition(options) {
			conditionalSkips[id] = struct{}{}
			continue
		}
		active[id] = struct{}{}
	}

	// Expand requested to the transitive closure of dependencies over
	// the remaining (non-skipped) nodes.
	closure := map[NodeId]struct{}{}
	var expand func(id NodeId)
	expand = func(id NodeId) {
		if _, skipped := conditionalSkips[id]; skipped {
			return
		}
		if _, done := closure[id]; done {
			return
		}
		closure[id] = struct{}{}
		for _, dep := range sortedDeps(g.nodes[id].Dependencies) {
			expand(dep)
		}
	}
	for _, id := range requested {
		expand(id)
	}

	order, err := g.topoSort(closure)
	if err != nil {
		return nil, err
	}

	groups := computeParallelGroups(order, g.nodes)
	memOptimised, peak := g.memoryWalk(order, options.MemoryLimitBytes)

	return &ExecutionPlan{
		Order:               order,
		ParallelGroups:       groups,
		ConditionalSkips:     conditionalSkips,
		MemoryOptimised:      memOptimised,
		EstimatedMemoryPeak:  peak,
	}, nil
}

// topoSort runs Kahn's algorithm over the induced subgraph `closure`,
// breaking ties in the ready set with the combined score
// -weight + 10*|dependents| - mean_runtime/100, highest wins.
func (g *DependencyGraph) topoSort(closure map[NodeId]struct{}) ([]NodeId, error) {
	indegree := make(map[NodeId]int, len(closure))
	for id := range closure {
		deg := 0
		for dep := range g.nodes[id].Dependencies {
			if _, inClosure := closure[dep]; inClosure {
				deg++
			}
		}
		indegree[id] = deg
	}

	var ready []NodeId
	for id, deg := range indegree {
		if deg == 0 {
			ready = append(ready, id)
		}
	}

	var order []NodeId
	for len(ready) > 0 {
		sort.Slice(ready, func(i, j int) bool {
			return g.score(ready[i]) > g.score(ready[j])
		})
		next := ready[0]
		ready = ready[1:]
		order = append(order, next)

		for _, dependent := range sortedDeps(g.nodes[next].Dependents) {
			if _, inClosure := closure[dependent]; !inClosure {
				continue
			}
			indegree[dependent]--
			if indegree[dependent] == 0 {
				ready = append(ready, dependent)
			}
		}
	}

	if len(order) != len(closure) {
		// indegree never reached zero for some node: a cycle survives
		// within the induced subgraph. Construction-time detection
		// already rejected whole-graph cycles, so this can only be
		// reached by a pathological closure; report it the same way.
		var stuck [][]NodeId
		for id, deg := range indegree {
			if deg > 0 {
				stuck = append(stuck, []NodeId{id})
			}
		}
		return nil, newCyclicGraphError(stuck)
	}

	return order, nil
}

func (g *DependencyGraph) score(id NodeId) float64 {
	spec := g.nodes[id]
	mean := g.meanRuntimeMs(id)
	return float64(-spec.Weight) + 10*float64(len(spec.Dependents)) - float64(mean)/100
}

// computeParallelGroups repeatedly emits, in order, the maximal
// prefix-independent set: a node joins the current group iff all its
// dependencies already belong to a prior group.
func computeParallelGroups(order []NodeId, nodes map[NodeId]*NodeSpec) [][]NodeId {
	placed := map[NodeId]int{} // node -> group index
	var groups [][]NodeId

	for _, id := range order {
		groupIdx := 0
		for dep := range nodes[id].Dependencies {
			if g, ok := placed[dep]; ok && g+1 > groupIdx {
				groupIdx = g + 1
			}
		}
		for len(groups) <= groupIdx {
			groups = append(groups, nil)
		}
		groups[groupIdx] = append(groups[groupIdx], id)
		placed[id] = groupIdx
	}
	return groups
}

// memoryWalk performs a release-walk: a node's weight
// is released once every node in `order` that depends on it has been
// visited. memoryOptimised reports whether the running sum stayed
// within the configured threshold (0 = no threshold configured, so
// the walk is trivially optimised); peak is the running maximum
// regardless of threshold.
func (g *DependencyGraph) memoryWalk(order []NodeId, thresholdBytes int64) (memoryOptimised bool, peak int64) {
	const bytesPerWeightUnit = 1 << 20 // 1 MiB per weight unit, a fixed scaling proxy

	remainingDependents := map[NodeId]int{}
	for _, id := range order {
		count := 0
		for dependent := range g.nodes[id].Dependents {
			if _, inOrder := indexOf(order, dependent); inOrder {
				count++
			}
		}
		remainingDependents[id] = count
	}

	memoryOptimised = true
	var running int64
	for _, id := range order {
		running += int64(g.nodes[id].Weight) * bytesPerWeightUnit
		if running > peak {
			peak = running
		}
		if thresholdBytes > 0 && running > thresholdBytes {
			memoryOptimised = false
		}
		for dep := range g.nodes[id].Dependencies {
			if _, ok := remainingDependents[dep]; ok {
				remainingDependents[dep]--
				if remainingDependents[dep] == 0 {
					running -= int64(g.nodes[dep].Weight) * bytesPerWeightUnit
				}
			}
		}
	}

	return memoryOptimised, peak
}

func indexOf(order []NodeId, id NodeId) (int, bool) {
	for i, n := range order {
		if n == id {
			return i, true
		}
	}
	return -1, false
}

// NodeSpecByID is a read-only accessor for the registered spec.
func (g *DependencyGraph) NodeSpecByID(id NodeId) (NodeSpec, bool) {
	s, ok := g.nodes[id]
	if !ok {
		return NodeSpec{}, false
	}
	return *s, true
}
