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
	"sync"
	"time"
)

// ProgressCallback reports a current/total pair together with the
// active phase name.
type ProgressCallback func(current, total int64, phase string)

// PhaseWeights are the static per-phase weights used to aggregate
// progress across the run. s4's weight is renormalised away when the
// plan's ConditionalSkips includes it.
type PhaseWeights struct {
	Initialisation float64
	Section1       float64
	Section2       float64
	Section3       float64
	Section4       float64
	Section5       float64
	Section6       float64
}

// DefaultPhaseWeights returns the default weights: initialisation 5%,
// s1 15%, s2 20%, s3 25%, s4 15%, s5 10%, s6 10%.
func DefaultPhaseWeights() PhaseWeights {
	return PhaseWeights{
		Initialisation: 5,
		Section1:       15,
		Section2:       20,
		Section3:       25,
		Section4:       15,
		Section5:       10,
		Section6:       10,
	}
}

func (w PhaseWeights) byPhase() map[string]float64 {
	return map[string]float64{
		"initialisation": w.Initialisation,
		string(Section1):  w.Section1,
		string(Section2):  w.Section2,
		string(Section3):  w.Section3,
		string(Section4):  w.Section4,
		string(Section5):  w.Section5,
		string(Section6):  w.Section6,
	}
}

// ProgressOrchestrator aggregates progress hierarchically across
// weighted phases and reports ETA, calling the registered callbacks
// synchronously between phases from a single-threaded cooperative
// scheduler.
type ProgressOrchestrator struct {
	mu sync.Mutex

	weights map[string]float64
	started time.Time

	completedWeight float64
	currentPhase    string
	currentWeight   float64
	currentProgress float64 // 0..100 within currentPhase

	onPhaseStart    func(phase string)
	onProgress      func(phase string, percent float64, eta time.Duration)
	onPhaseComplete func(phase string)
	onWarning       func(phase string, message string)
	onError         func(phase string, err error)
}

// NewProgressOrchestrator renormalises weights against the set of
// phases the plan will actually run, so conditional skips don't leave
// progress permanently short of 100%.
func NewProgressOrchestrator(weights PhaseWeights, skippedSections map[NodeId]struct{}) *ProgressOrchestrator {
	byPhase := weights.byPhase()
	for id := range skippedSections {
		delete(byPhase, string(id))
	}
	var total float64
	for _, w := range byPhase {
		total += w
	}
	if total > 0 {
		for k, w := range byPhase {
			byPhase[k] = w / total * 100
		}
	}
	return &ProgressOrchestrator{weights: byPhase}
}

func (p *ProgressOrchestrator) OnPhaseStart(fn func(phase string))                           { p.onPhaseStart = fn }
func (p *ProgressOrchestrator) OnProgress(fn func(phase string, percent float64, eta time.Duration)) {
	p.onProgress = fn
}
func (p *ProgressOrchestrator) OnPhaseComplete(fn func(phase string)) { p.onPhaseComplete = fn }
func (p *ProgressOrchestrator) OnWarning(fn func(phase string, message string)) { p.onWarning = fn }
func (p *ProgressOrchestrator) OnError(fn func(phase string, err error))        { p.onError = fn }

// StartPhase begins tracking a new phase, closing out the previous one
// if it was still open.
func (p *ProgressOrchestrator) StartPhase(phase string) {
	p.mu.Lock()
	if p.started.IsZero() {
		p.started = time.Now()
	}
	if p.currentPhase != "" {
		p.completedWeight += p.currentWeight
	}
	p.currentPhase = phase
	p.currentWeight = p.weights[phase]
	p.currentProgress = 0
	p.mu.Unlock()

	if p.onPhaseStart != nil {
		p.onPhaseStart(phase)
	}
}

// Progress updates the current phase's internal percentage (0..100) and
// reports the globally-weighted progress and ETA.
func (p *ProgressOrchestrator) Progress(percentWithinPhase float64) {
	p.mu.Lock()
	p.currentProgress = percentWithinPhase
	weighted := p.completedWeight + p.currentWeight*percentWithinPhase/100
	elapsed := time.Since(p.started)
	p.mu.Unlock()

	var eta time.Duration
	if weighted > 0 {
		eta = time.Duration(float64(elapsed) * (100/weighted - 1))
	}

	if p.onProgress != nil {
		p.onProgress(p.currentPhase, weighted, eta)
	}
}

// CompletePhase finalises the current phase's weight contribution.
func (p *ProgressOrchestrator) CompletePhase(phase string) {
	p.mu.Lock()
	if p.currentPhase == phase {
		p.completedWeight += p.currentWeight
		p.currentWeight = 0
		p.currentProgress = 100
	}
	p.mu.Unlock()

	if p.onPhaseComplete != nil {
		p.onPhaseComplete(phase)
	}
}

func (p *ProgressOrchestrator) Warning(phase, message string) {
	if p.onWarning != nil {
		p.onWarning(phase, message)
	}
}

func (p *ProgressOrchestrator) Error(phase string, err error) {
	if p.onError != nil {
		p.onError(phase, err)
	}
}

// OverallPercent reports the current weighted running total.
func (p *ProgressOrchestrator) OverallPercent() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.completedWeight + p.currentWeight*p.currentProgress/100
}
