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

// Package uerrors defines the orchestration core's error kinds and a
// user-facing envelope: a title, a detail, a suggestion list, an optional
// cause, and whatever partial run context was available when the error
// was raised. Every error boundary in the core returns one of these
// instead of panicking.
package uerrors

import (
	"encoding/json"
	"fmt"
	"os"
)

// Kind identifies the class of failure. Kinds are compared by value, not
// by Go type, so callers can switch on Kind without type assertions.
type Kind string

const (
	KindConfiguration            Kind = "configuration_error"
	KindUnknownSection           Kind = "unknown_section"
	KindCyclicGraph              Kind = "cyclic_graph"
	KindCyclicResolution         Kind = "cyclic_resolution"
	KindFormat                   Kind = "format_error"
	KindIO                       Kind = "io_error"
	KindParse                    Kind = "parse_error"
	KindInvalidArtefact          Kind = "invalid_artefact"
	KindRequiredSectionFailed    Kind = "required_section_failed"
	KindRequiredSectionsMissing  Kind = "required_sections_incomplete"
	KindTimeout                  Kind = "timeout"
	KindCancelled                Kind = "cancelled"
	KindMemoryExceeded           Kind = "memory_exceeded"
)

// Context carries the partial run state an error was raised with:
// current node, completed nodes, memory peak, and the plan in effect.
type Context struct {
	CurrentNode    string   `json:"current_node,omitempty"`
	CompletedNodes []string `json:"completed_nodes,omitempty"`
	MemoryPeak     int64    `json:"memory_peak_bytes,omitempty"`
	Plan           any      `json:"plan,omitempty"`
}

// Error is the orchestration core's single error envelope.
type Error struct {
	Kind        Kind
	Summary     string
	Detail      string
	Suggestions []string
	Cause       error
	Context     *Context
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Summary, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Summary)
}

func (e *Error) Unwrap() error { return e.Cause }

// WithContext attaches partial run context and returns the same error,
// mirroring the builder style the resolver and executor use when they
// enrich an error on its way up the call stack.
func (e *Error) WithContext(ctx Context) *Error {
	e.Context = &ctx
	return e
}

func newErr(kind Kind, summary, detail string, suggestions []string, cause error) *Error {
	return &Error{Kind: kind, Summary: summary, Detail: detail, Suggestions: suggestions, Cause: cause}
}

func NewConfigurationError(summary, detail string, suggestions []string, cause error) *Error {
	return newErr(KindConfiguration, summary, detail, suggestions, cause)
}

func NewUnknownSectionError(section string) *Error {
	return newErr(KindUnknownSection, fmt.Sprintf("unknown section %q", section),
		"the requested section id is not in the registered node set",
		[]string{"check the section id against the six registered nodes (section1..section6)"}, nil)
}

func NewCyclicGraphError(cycles [][]string) *Error {
	return &Error{
		Kind:    KindCyclicGraph,
		Summary: "dependency graph contains a cycle",
		Detail:  fmt.Sprintf("%d cycle(s) detected", len(cycles)),
		Suggestions: []string{
			"remove the offending dependency edge",
			"inspect Context for the full cycle list",
		},
		Context: &Context{Plan: cycles},
	}
}

func NewCyclicResolutionError(section string, chain []string) *Error {
	return &Error{
		Kind:    KindCyclicResolution,
		Summary: fmt.Sprintf("cyclic resolution detected at %q", section),
		Detail:  fmt.Sprintf("resolution chain: %v", chain),
		Suggestions: []string{
			"a producer must not (directly or transitively) resolve itself at runtime",
		},
	}
}

func NewFormatError(path string, supportedExtensions []string, bestGuess string) *Error {
	return &Error{
		Kind:    KindFormat,
		Summary: fmt.Sprintf("could not determine format of %q", path),
		Detail:  fmt.Sprintf("best guess: %s", bestGuess),
		Suggestions: []string{
			fmt.Sprintf("supported extensions: %v", supportedExtensions),
			"rename the file with a recognised extension or pass an explicit format override",
		},
	}
}

func NewIoError(path string, cause error) *Error {
	return &Error{
		Kind:    KindIO,
		Summary: fmt.Sprintf("cannot read %q", path),
		Detail:  "the file is missing, unreadable, or exceeds the supported size",
		Suggestions: []string{
			"check the path and file permissions",
			"files above 10 GB are refused outright",
		},
		Cause: cause,
	}
}

func NewParseError(path string, detail string, cause error) *Error {
	return &Error{
		Kind:        KindParse,
		Summary:     fmt.Sprintf("unrecoverable parse failure in %q", path),
		Detail:      detail,
		Suggestions: []string{"inspect the file for structural corruption near the reported offset"},
		Cause:       cause,
	}
}

func NewInvalidArtefactError(section string, missingField string) *Error {
	return &Error{
		Kind:    KindInvalidArtefact,
		Summary: fmt.Sprintf("producer for %q returned an invalid artefact", section),
		Detail:  fmt.Sprintf("missing required envelope field %q", missingField),
		Suggestions: []string{
			"the producer must populate the section's required payload field and a warnings sequence",
		},
	}
}

func NewRequiredSectionFailedError(node string, cause error) *Error {
	return &Error{
		Kind:        KindRequiredSectionFailed,
		Summary:     fmt.Sprintf("required section %q failed", node),
		Detail:      "the run was rolled back",
		Suggestions: []string{"inspect the cause for the underlying producer error"},
		Cause:       cause,
	}
}

func NewRequiredSectionsIncompleteError(missing []string) *Error {
	return &Error{
		Kind:        KindRequiredSectionsMissing,
		Summary:     "not all required sections completed",
		Detail:      fmt.Sprintf("missing: %v", missing),
		Suggestions: []string{"re-run with a smaller requested set or inspect prior failures"},
	}
}

func NewTimeoutError(node string, elapsed string) *Error {
	return &Error{
		Kind:        KindTimeout,
		Summary:     fmt.Sprintf("node %q exceeded its adaptive deadline", node),
		Detail:      fmt.Sprintf("elapsed: %s", elapsed),
		Suggestions: []string{"increase the base timeout or investigate the producer for a stall"},
	}
}

func NewCancelledError(node string) *Error {
	return &Error{
		Kind:        KindCancelled,
		Summary:     fmt.Sprintf("run cancelled while executing %q", node),
		Detail:      "external cancellation observed at a suspension point",
		Suggestions: []string{"this is expected behaviour for a deliberately cancelled run"},
	}
}

func NewMemoryExceededError(limit, requested int64) *Error {
	return &Error{
		Kind:    KindMemoryExceeded,
		Summary: "memory guard tripped",
		Detail:  fmt.Sprintf("limit=%d bytes requested=%d bytes", limit, requested),
		Suggestions: []string{
			"lower chunk_size or sample_percentage",
			"increase the configured memory limit if the host has headroom",
		},
	}
}

// FatalError prints a formatted error to stderr (JSON if jsonMode is
// set) and exits the process with status 1.
func FatalError(err error, jsonMode bool) {
	if err == nil {
		return
	}
	if jsonMode {
		payload := map[string]any{"success": false, "error": err.Error()}
		var oe *Error
		if ok := asError(err, &oe); ok {
			payload["kind"] = string(oe.Kind)
			payload["detail"] = oe.Detail
			payload["suggestions"] = oe.Suggestions
			if oe.Context != nil {
				payload["context"] = oe.Context
			}
		}
		enc := json.NewEncoder(os.Stderr)
		enc.SetIndent("", "  ")
		_ = enc.Encode(payload)
	} else {
		var oe *Error
		if ok := asError(err, &oe); ok {
			fmt.Fprintf(os.Stderr, "error: %s\n", oe.Summary)
			if oe.Detail != "" {
				fmt.Fprintf(os.Stderr, "  %s\n", oe.Detail)
			}
			for _, s := range oe.Suggestions {
				fmt.Fprintf(os.Stderr, "  suggestion: %s\n", s)
			}
		} else {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
		}
	}
	os.Exit(1)
}

func asError(err error, target **Error) bool {
	for err != nil {
		if oe, ok := err.(*Error); ok {
			*target = oe
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
