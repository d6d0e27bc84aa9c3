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
	"sync"
	"time"

	"github.com/Mrassimo/datapilot-sub006/internal/uerrors"
)

// Producer is the analyser producer contract: given a resolver (to pull
// upstream artefacts) and a context (for cancellation), it returns an
// Artefact carrying a validated envelope. Mocks are forbidden in the
// core; Options.AllowMockDependencies exists on Options but the resolver
// never reads it, so no mock artefact is ever produced.
type Producer func(ctx context.Context, r *DependencyResolver) (*Artefact, error)

const (
	baseResolveTimeout = 5 * time.Minute
	resolveGracePeriod = 2 * time.Second
)

// DependencyResolver is the per-run facade around DependencyGraph and
// ResultCache. It owns a private in-memory memo (never
// shared across runs) and a "currently resolving" set that breaks
// runtime cycles a producer might otherwise create.
type DependencyResolver struct {
	logger *slog.Logger

	path    string
	options Options
	graph   *DependencyGraph
	cache   *ResultCache
	runTag  string

	producersMu sync.RWMutex
	producers   map[NodeId]Producer

	memoMu sync.Mutex
	memo   map[NodeId]*Artefact

	resolvingMu sync.Mutex
	resolving   map[NodeId]struct{}
	chain       []NodeId

	sectionLocksMu sync.Map // NodeId -> *sync.Mutex
}

func NewDependencyResolver(path string, options Options, graph *DependencyGraph, cache *ResultCache, runTag string, logger *slog.Logger) *DependencyResolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &DependencyResolver{
		logger:    logger,
		path:      path,
		options:   options,
		graph:     graph,
		cache:     cache,
		runTag:    runTag,
		producers: make(map[NodeId]Producer),
		memo:      make(map[NodeId]*Artefact),
		resolving: make(map[NodeId]struct{}),
	}
}

func (r *DependencyResolver) Register(section NodeId, producer Producer) {
	r.producersMu.Lock()
	defer r.producersMu.Unlock()
	r.producers[section] = producer
}

func (r *DependencyResolver) hasProducer(section NodeId) bool {
	r.producersMu.RLock()
	defer r.producersMu.RUnlock()
	_, ok := r.producers[section]
	return ok
}

func (r *DependencyResolver) sectionLock(section NodeId) *sync.Mutex {
	m, _ := r.sectionLocksMu.LoadOrStore(section, &sync.Mutex{})
	return m.(*sync.Mutex)
}

// Resolve checks the in-memory memo, then ResultCache, then falls back
// to the registered producer under an adaptive timeout, validating the
// returned envelope before caching and memoising.
func (r *DependencyResolver) Resolve(ctx context.Context, section NodeId) (*Artefact, error) {
	if a, ok := r.memoLookup(section); ok {
		return a, nil
	}

	if a, ok := r.cache.Get(r.path, section, r.options, sortedDeps(r.depsOf(section))); ok {
		r.memoStore(section, a)
		return a, nil
	}

	if err := r.enterResolving(section); err != nil {
		return nil, err
	}
	defer r.exitResolving(section)

	lock := r.sectionLock(section)
	lock.Lock()
	defer lock.Unlock()

	// Re-check memo/cache now that we hold the section lock: another
	// goroutine (parallel-group execution) may have resolved it while
	// we waited.
	if a, ok := r.memoLookup(section); ok {
		return a, nil
	}
	if a, ok := r.cache.Get(r.path, section, r.options, sortedDeps(r.depsOf(section))); ok {
		r.memoStore(section, a)
		return a, nil
	}

	r.producersMu.RLock()
	producer, ok := r.producers[section]
	r.producersMu.RUnlock()
	if !ok {
		return nil, uConfigErrMissingProducer(section)
	}

	mean := r.graph.meanRuntimeMs(section)
	timeout := baseResolveTimeout
	if adaptive := time.Duration(3*mean) * time.Millisecond; adaptive > timeout {
		timeout = adaptive
	}

	artefact, err := r.runProducerWithTimeout(ctx, section, producer, timeout)
	if err != nil {
		return nil, err
	}

	if missing, ok := ValidateEnvelope(artefact); !ok {
		return nil, newInvalidArtefactError(section, missing)
	}

	ttl := time.Duration(estimatedDurationFor(r.graph, section)) * time.Millisecond * 20
	r.cache.Set(r.path, section, r.options, artefact, sortedDeps(r.depsOf(section)), ttl, r.runTag)
	r.memoStore(section, artefact)
	return artefact, nil
}

func estimatedDurationFor(g *DependencyGraph, id NodeId) int64 {
	if spec, ok := g.NodeSpecByID(id); ok {
		return spec.EstimatedDurationMs
	}
	return 1000
}

func (r *DependencyResolver) depsOf(section NodeId) map[NodeId]struct{} {
	if spec, ok := r.graph.NodeSpecByID(section); ok {
		return spec.Dependencies
	}
	return nil
}

// runProducerWithTimeout hard-aborts by abandoning the producer
// goroutine after timeout+grace: Go cannot forcibly kill a goroutine,
// so the result is discarded and Timeout is returned; the orphaned
// goroutine's eventual write is harmless because it only ever writes to
// its own result channel, which nobody reads after the timeout fires.
func (r *DependencyResolver) runProducerWithTimeout(ctx context.Context, section NodeId, producer Producer, timeout time.Duration) (*Artefact, error) {
	type result struct {
		artefact *Artefact
		err      error
	}
	resultCh := make(chan result, 1)
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		a, err := producer(runCtx, r)
		resultCh <- result{artefact: a, err: err}
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case res := <-resultCh:
		return res.artefact, res.err
	case <-ctx.Done():
		cancel()
		return nil, newCancelledError(section)
	case <-timer.C:
		cancel()
		grace := time.NewTimer(resolveGracePeriod)
		defer grace.Stop()
		select {
		case res := <-resultCh:
			return res.artefact, res.err
		case <-grace.C:
			return nil, newTimeoutError(section, timeout.String())
		}
	}
}

// ResolveMany plans sections, then runs either sequential or
// parallel-group execution depending on parallel.
func (r *DependencyResolver) ResolveMany(ctx context.Context, sections []NodeId, parallel bool) (map[NodeId]*Artefact, error) {
	plan, err := r.graph.Plan(sections, r.options)
	if err != nil {
		return nil, err
	}

	out := make(map[NodeId]*Artefact, len(plan.Order))
	if !parallel {
		for _, id := range plan.Order {
			a, err := r.Resolve(ctx, id)
			if err != nil {
				return out, err
			}
			out[id] = a
		}
		return out, nil
	}

	for _, group := range plan.ParallelGroups {
		results, err := resolveGroup(ctx, r, group)
		if err != nil {
			return out, err
		}
		for id, a := range results {
			out[id] = a
		}
	}
	return out, nil
}

// Invalidate removes the in-memory memo and asks the cache to
// invalidate dependents.
func (r *DependencyResolver) Invalidate(section NodeId) {
	r.memoMu.Lock()
	delete(r.memo, section)
	r.memoMu.Unlock()
	r.cache.InvalidateDependents(section)
}

func (r *DependencyResolver) memoLookup(section NodeId) (*Artefact, bool) {
	r.memoMu.Lock()
	defer r.memoMu.Unlock()
	a, ok := r.memo[section]
	return a, ok
}

func (r *DependencyResolver) memoStore(section NodeId, a *Artefact) {
	r.memoMu.Lock()
	defer r.memoMu.Unlock()
	r.memo[section] = a
}

func (r *DependencyResolver) enterResolving(section NodeId) error {
	r.resolvingMu.Lock()
	defer r.resolvingMu.Unlock()
	if _, already := r.resolving[section]; already {
		chain := append(append([]NodeId{}, r.chain...), section)
		return newCyclicResolutionError(section, chain)
	}
	r.resolving[section] = struct{}{}
	r.chain = append(r.chain, section)
	return nil
}

func (r *DependencyResolver) exitResolving(section NodeId) {
	r.resolvingMu.Lock()
	defer r.resolvingMu.Unlock()
	delete(r.resolving, section)
	for i := len(r.chain) - 1; i >= 0; i-- {
		if r.chain[i] == section {
			r.chain = append(r.chain[:i], r.chain[i+1:]...)
			break
		}
	}
}

func uConfigErrMissingProducer(section NodeId) error {
	return uerrors.NewConfigurationError(
		fmt.Sprintf("no producer registered for %q", section),
		"every node in the plan's order must have a registered producer before Execute begins",
		[]string{"call DependencyResolver.Register for the missing section before Resolve/ResolveMany"},
		nil,
	)
}
