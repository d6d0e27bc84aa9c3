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
	"math"
	"testing"
)

func TestProgressOrchestrator_ReachesFullPercentAcrossAllPhases(t *testing.T) {
	p := NewProgressOrchestrator(DefaultPhaseWeights(), nil)
	phases := []string{"initialisation", string(Section1), string(Section2), string(Section3), string(Section4), string(Section5), string(Section6)}
	for _, phase := range phases {
		p.StartPhase(phase)
		p.Progress(100)
		p.CompletePhase(phase)
	}
	if math.Abs(p.OverallPercent()-100) > 0.01 {
		t.Fatalf("expected overall percent to reach 100, got %f", p.OverallPercent())
	}
}

func TestProgressOrchestrator_RenormalisesWhenSkipped(t *testing.T) {
	skipped := map[NodeId]struct{}{Section4: {}}
	p := NewProgressOrchestrator(DefaultPhaseWeights(), skipped)

	var total float64
	for _, w := range p.weights {
		total += w
	}
	if math.Abs(total-100) > 0.01 {
		t.Fatalf("expected renormalised weights to sum to 100, got %f", total)
	}
	if _, present := p.weights[string(Section4)]; present {
		t.Fatal("expected the skipped phase's weight to be removed entirely")
	}
}

func TestProgressOrchestrator_CallbacksFireInOrder(t *testing.T) {
	p := NewProgressOrchestrator(DefaultPhaseWeights(), nil)

	var events []string
	p.OnPhaseStart(func(phase string) { events = append(events, "start:"+phase) })
	p.OnPhaseComplete(func(phase string) { events = append(events, "complete:"+phase) })

	p.StartPhase("initialisation")
	p.Progress(50)
	p.CompletePhase("initialisation")

	want := []string{"start:initialisation", "complete:initialisation"}
	if len(events) != len(want) {
		t.Fatalf("expected %v, got %v", want, events)
	}
	for i := range want {
		if events[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, events)
		}
	}
}

func TestProgressOrchestrator_WarningAndErrorCallbacksAreOptional(t *testing.T) {
	p := NewProgressOrchestrator(DefaultPhaseWeights(), nil)
	// Must not panic when no callback is registered.
	p.Warning("section1", "degraded sample")
	p.Error("section1", nil)

	var gotWarning, gotErr bool
	p.OnWarning(func(phase, msg string) { gotWarning = true })
	p.OnError(func(phase string, err error) { gotErr = true })
	p.Warning("section1", "degraded sample")
	p.Error("section1", nil)
	if !gotWarning || !gotErr {
		t.Fatal("expected both callbacks to fire once registered")
	}
}
