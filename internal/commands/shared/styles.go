// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package shared

import (
	"github.com/charmbracelet/lipgloss"
)

var (
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))  // green
	errorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("196")) // red
	warnStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("214")) // amber
	labelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("245")) // gray

	// Header styles section headers.
	Header = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39"))
)

// RenderOK prefixes msg with a green check mark.
func RenderOK(msg string) string {
	return okStyle.Render("✓") + " " + msg
}

// RenderError prefixes msg with a red cross.
func RenderError(msg string) string {
	return errorStyle.Render("✗") + " " + msg
}

// RenderLabel renders a dim label for key: value output.
func RenderLabel(label string) string {
	return labelStyle.Render(label)
}

// RenderRunStatus colours a run status: operating green, stopped amber,
// finished gray.
func RenderRunStatus(status string) string {
	switch status {
	case "operating":
		return okStyle.Render(status)
	case "stopped":
		return warnStyle.Render(status)
	case "finished":
		return labelStyle.Render(status)
	default:
		return status
	}
}
