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
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles the orchestrator's Prometheus collectors. A nil
// *Metrics is safe to call methods on (they become no-ops), so callers
// that don't want a metrics endpoint can simply skip registration.
type Metrics struct {
	nodeDuration   *prometheus.HistogramVec
	nodeOutcome    *prometheus.CounterVec
	cacheHits      prometheus.Counter
	cacheMisses    prometheus.Counter
	cacheEvictions prometheus.Counter
	planDuration   prometheus.Histogram
	memoryPeak     prometheus.Gauge
}

// NewMetrics constructs and registers collectors against reg. Pass
// prometheus.NewRegistry() for test isolation or
// prometheus.DefaultRegisterer for a process-wide endpoint exposed via
// promhttp.Handler, matching cmd/cie/index.go's --metrics-addr wiring.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		nodeDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "datapilot_orchestrator_node_duration_seconds",
			Help:    "Wall-clock duration of each section's producer call.",
			Buckets: prometheus.DefBuckets,
		}, []string{"section"}),
		nodeOutcome: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "datapilot_orchestrator_node_outcome_total",
			Help: "Count of section completions by outcome.",
		}, []string{"section", "outcome"}),
		cacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "datapilot_orchestrator_cache_hits_total",
			Help: "ResultCache lookups satisfied without invoking a producer.",
		}),
		cacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "datapilot_orchestrator_cache_misses_total",
			Help: "ResultCache lookups that fell through to a producer.",
		}),
		cacheEvictions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "datapilot_orchestrator_cache_evictions_total",
			Help: "Entries removed by LRU or memory-pressure eviction.",
		}),
		planDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "datapilot_orchestrator_plan_build_seconds",
			Help:    "Time spent building an ExecutionPlan (topological sort + memory walk).",
			Buckets: prometheus.DefBuckets,
		}),
		memoryPeak: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "datapilot_orchestrator_memory_peak_bytes",
			Help: "Peak process heap size observed during the most recent run.",
		}),
	}

	if reg != nil {
		reg.MustRegister(m.nodeDuration, m.nodeOutcome, m.cacheHits, m.cacheMisses, m.cacheEvictions, m.planDuration, m.memoryPeak)
	}
	return m
}

func (m *Metrics) observeNode(section NodeId, seconds float64, outcome string) {
	if m == nil {
		return
	}
	m.nodeDuration.WithLabelValues(string(section)).Observe(seconds)
	m.nodeOutcome.WithLabelValues(string(section), outcome).Inc()
}

func (m *Metrics) recordCacheHit() {
	if m == nil {
		return
	}
	m.cacheHits.Inc()
}

func (m *Metrics) recordCacheMiss() {
	if m == nil {
		return
	}
	m.cacheMisses.Inc()
}

func (m *Metrics) recordCacheEviction(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.cacheEvictions.Add(float64(n))
}

func (m *Metrics) observePlanDuration(seconds float64) {
	if m == nil {
		return
	}
	m.planDuration.Observe(seconds)
}

func (m *Metrics) setMemoryPeak(bytes int64) {
	if m == nil {
		return
	}
	m.memoryPeak.Set(float64(bytes))
}
