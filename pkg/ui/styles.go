// Package ui renders phasectl terminal output.
package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Color Palette
var (
	salmonPink  = lipgloss.Color("#FFB3BA") // primary accent, failures
	coralPink   = lipgloss.Color("#FFCCCB") // warnings
	mintGreen   = lipgloss.Color("#A8E6CF") // success
	mutedGray   = lipgloss.Color("#6B7280") // secondary text
	brightWhite = lipgloss.Color("#F9FAFB") // primary text
)

var (
	HeaderStyle = lipgloss.NewStyle().
			Foreground(salmonPink).
			Bold(true)

	PassStyle = lipgloss.NewStyle().
			Foreground(mintGreen).
			Bold(true)

	FailStyle = lipgloss.NewStyle().
			Foreground(salmonPink).
			Bold(true)

	WarnStyle = lipgloss.NewStyle().
			Foreground(coralPink)

	MutedStyle = lipgloss.NewStyle().
			Foreground(mutedGray)

	TextStyle = lipgloss.NewStyle().
			Foreground(brightWhite)

	// BoxStyle frames briefs and verdict summaries.
	BoxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(mutedGray).
			Padding(0, 1)
)

// Status icons
const (
	IconPass = "✓"
	IconFail = "✗"
	IconWarn = "⚠"
	IconSkip = "-"
)

// Pass renders a success line.
func Pass(format string, args ...any) string {
	return PassStyle.Render(IconPass) + " " + fmt.Sprintf(format, args...)
}

// Fail renders a failure line.
func Fail(format string, args ...any) string {
	return FailStyle.Render(IconFail) + " " + fmt.Sprintf(format, args...)
}

// Warn renders a warning line.
func Warn(format string, args ...any) string {
	return WarnStyle.Render(IconWarn + " " + fmt.Sprintf(format, args...))
}

// Header renders a section title.
func Header(s string) string {
	return HeaderStyle.Render(s)
}

// Muted renders secondary text.
func Muted(s string) string {
	return MutedStyle.Render(s)
}

// List renders items as an indented bullet list, eliding past max entries.
// max <= 0 shows everything.
func List(items []string, max int) string {
	var sb strings.Builder
	for i, item := range items {
		if max > 0 && i == max {
			sb.WriteString(MutedStyle.Render(fmt.Sprintf("   ... and %d more", len(items)-max)) + "\n")
			break
		}
		sb.WriteString("   - " + item + "\n")
	}
	return sb.String()
}

// Indent prefixes every line of s with n spaces.
func Indent(s string, n int) string {
	pad := strings.Repeat(" ", n)
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	for i, l := range lines {
		lines[i] = pad + l
	}
	return strings.Join(lines, "\n")
}
