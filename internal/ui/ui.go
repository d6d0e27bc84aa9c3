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

// Package ui renders the CLI's human-facing output: headers, labelled
// fields, and colour-coded status lines. Colour is disabled automatically
// when stdout isn't a TTY or when NO_COLOR is set, and can be forced off
// with --no-color.
package ui

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
)

var (
	Green  = color.New(color.FgGreen)
	Yellow = color.New(color.FgYellow)
	Red    = color.New(color.FgRed)
	Cyan   = color.New(color.FgCyan)
	Dim    = color.New(color.Faint)
	Bold   = color.New(color.Bold)
)

// InitColors decides whether colour output is enabled, honouring an
// explicit --no-color flag, the NO_COLOR convention, and TTY detection.
func InitColors(noColor bool) {
	if noColor || os.Getenv("NO_COLOR") != "" || !isatty.IsTerminal(os.Stdout.Fd()) {
		color.NoColor = true
	}
}

func Header(title string) {
	_, _ = Bold.Println(title)
	fmt.Println()
}

func SubHeader(title string) {
	fmt.Println()
	_, _ = Bold.Println(title)
}

func Label(text string) string {
	return Bold.Sprint(text)
}

func Info(msg string)  { fmt.Println(msg) }
func Infof(format string, args ...any) {
	fmt.Printf(format+"\n", args...)
}

func Successf(format string, args ...any) {
	_, _ = Green.Printf(format+"\n", args...)
}

func Warningf(format string, args ...any) {
	_, _ = Yellow.Printf("warning: "+format+"\n", args...)
}

func Errorf(format string, args ...any) {
	_, _ = Red.Printf("error: "+format+"\n", args...)
}

func DimText(s string) string {
	return Dim.Sprint(s)
}

// CountText formats an integer count, colouring it green when non-zero
// and dim when zero so large summary tables draw the eye to activity.
func CountText(n int) string {
	if n == 0 {
		return Dim.Sprint("0")
	}
	return Green.Sprint(n)
}
