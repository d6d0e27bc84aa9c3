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

import "github.com/Mrassimo/datapilot-sub006/internal/uerrors"

// Thin constructors binding uerrors' generic kinds to orchestrator call
// sites, kept here rather than imported ad hoc so every error raised by
// this package is grep-able from one file.

func newIoError(path string, cause error) error {
	return uerrors.NewIoError(path, cause)
}

func newUnknownSectionError(section NodeId) error {
	return uerrors.NewUnknownSectionError(string(section))
}

func newCyclicGraphError(cycles [][]NodeId) error {
	raw := make([][]string, len(cycles))
	for i, c := range cycles {
		strs := make([]string, len(c))
		for j, n := range c {
			strs[j] = string(n)
		}
		raw[i] = strs
	}
	return uerrors.NewCyclicGraphError(raw)
}

func newCyclicResolutionError(section NodeId, chain []NodeId) error {
	strs := make([]string, len(chain))
	for i, n := range chain {
		strs[i] = string(n)
	}
	return uerrors.NewCyclicResolutionError(string(section), strs)
}

func newInvalidArtefactError(section NodeId, missingField string) error {
	return uerrors.NewInvalidArtefactError(string(section), missingField)
}

func newRequiredSectionFailedError(node NodeId, cause error) error {
	return uerrors.NewRequiredSectionFailedError(string(node), cause)
}

func newRequiredSectionsIncompleteError(missing []NodeId) error {
	strs := make([]string, len(missing))
	for i, n := range missing {
		strs[i] = string(n)
	}
	return uerrors.NewRequiredSectionsIncompleteError(strs)
}

func newTimeoutError(node NodeId, elapsed string) error {
	return uerrors.NewTimeoutError(string(node), elapsed)
}

func newCancelledError(node NodeId) error {
	return uerrors.NewCancelledError(string(node))
}

func newMemoryExceededError(limit, requested int64) error {
	return uerrors.NewMemoryExceededError(limit, requested)
}
