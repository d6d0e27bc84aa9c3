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
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetrics_NilReceiverIsSafe(t *testing.T) {
	var m *Metrics
	m.observeNode(Section1, 0.1, "success")
	m.recordCacheHit()
	m.recordCacheMiss()
	m.recordCacheEviction(3)
	m.observePlanDuration(0.2)
	m.setMemoryPeak(1024)
}

func TestMetrics_CacheCountersIncrement(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.recordCacheHit()
	m.recordCacheHit()
	m.recordCacheMiss()

	if got := testutil.ToFloat64(m.cacheHits); got != 2 {
		t.Fatalf("expected 2 recorded hits, got %v", got)
	}
	if got := testutil.ToFloat64(m.cacheMisses); got != 1 {
		t.Fatalf("expected 1 recorded miss, got %v", got)
	}
}

func TestMetrics_NodeOutcomeLabelled(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.observeNode(Section1, 0.5, "success")
	m.observeNode(Section1, 0.3, "failed")

	if got := testutil.ToFloat64(m.nodeOutcome.WithLabelValues(string(Section1), "success")); got != 1 {
		t.Fatalf("expected 1 success outcome, got %v", got)
	}
	if got := testutil.ToFloat64(m.nodeOutcome.WithLabelValues(string(Section1), "failed")); got != 1 {
		t.Fatalf("expected 1 failed outcome, got %v", got)
	}
}
