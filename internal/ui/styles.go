// Package ui provides terminal styling for iflow CLI output.
// Uses the Ayu color theme with adaptive light/dark mode support.
package ui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/qualityhub/issueflow/internal/types"
)

// Ayu theme color palette
// Dark: https://terminalcolors.com/themes/ayu/dark/
// Light: https://terminalcolors.com/themes/ayu/light/
var (
	ColorPass = lipgloss.AdaptiveColor{
		Light: "#86b300",
		Dark:  "#c2d94c",
	}
	ColorWarn = lipgloss.AdaptiveColor{
		Light: "#f2ae49",
		Dark:  "#ffb454",
	}
	ColorFail = lipgloss.AdaptiveColor{
		Light: "#f07171",
		Dark:  "#f07178",
	}
	ColorMuted = lipgloss.AdaptiveColor{
		Light: "#828c99",
		Dark:  "#6c7680",
	}
	ColorAccent = lipgloss.AdaptiveColor{
		Light: "#399ee6",
		Dark:  "#59c2ff",
	}
)

var (
	PassStyle   = lipgloss.NewStyle().Foreground(ColorPass)
	WarnStyle   = lipgloss.NewStyle().Foreground(ColorWarn)
	FailStyle   = lipgloss.NewStyle().Foreground(ColorFail)
	MutedStyle  = lipgloss.NewStyle().Foreground(ColorMuted)
	AccentStyle = lipgloss.NewStyle().Foreground(ColorAccent)

	// CategoryStyle for section headers - bold with accent color
	CategoryStyle = lipgloss.NewStyle().Bold(true).Foreground(ColorAccent)
	// KeyStyle for issue keys in listings
	KeyStyle = lipgloss.NewStyle().Bold(true)
)

const (
	IconPass = "✓"
	IconWarn = "⚠"
	IconFail = "✗"
	IconSkip = "-"
)

// SeparatorLight is a horizontal rule for section breaks.
const SeparatorLight = "──────────────────────────────────────────"

func RenderPass(s string) string   { return PassStyle.Render(s) }
func RenderWarn(s string) string   { return WarnStyle.Render(s) }
func RenderFail(s string) string   { return FailStyle.Render(s) }
func RenderMuted(s string) string  { return MutedStyle.Render(s) }
func RenderAccent(s string) string { return AccentStyle.Render(s) }
func RenderKey(s string) string    { return KeyStyle.Render(s) }

// RenderCategory renders a category header in uppercase with accent color
func RenderCategory(s string) string {
	return CategoryStyle.Render(strings.ToUpper(s))
}

// RenderSeparator renders the light separator line in muted color
func RenderSeparator() string {
	return MutedStyle.Render(SeparatorLight)
}

// RenderIcon renders the pass, skip or fail icon of a per-issue outcome.
func RenderIcon(ok, skipped bool) string {
	switch {
	case skipped:
		return MutedStyle.Render(IconSkip)
	case ok:
		return PassStyle.Render(IconPass)
	default:
		return FailStyle.Render(IconFail)
	}
}

// RenderStatus colors a status: resolved and closed issues pass, reopened
// ones warn, confirmed ones are highlighted.
func RenderStatus(s types.Status) string {
	switch s {
	case types.StatusResolved, types.StatusClosed:
		return PassStyle.Render(string(s))
	case types.StatusReopened:
		return WarnStyle.Render(string(s))
	case types.StatusConfirmed:
		return AccentStyle.Render(string(s))
	default:
		return string(s)
	}
}

// RenderSeverity colors a severity by how urgent it is.
func RenderSeverity(s types.Severity) string {
	switch s {
	case types.SeverityBlocker, types.SeverityCritical:
		return FailStyle.Render(string(s))
	case types.SeverityMajor:
		return WarnStyle.Render(string(s))
	default:
		return MutedStyle.Render(string(s))
	}
}
