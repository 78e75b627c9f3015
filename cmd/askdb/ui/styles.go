// Package ui provides the visual styling for the AskDB interactive CLI.
package ui

import (
	"os"

	"github.com/charmbracelet/lipgloss"
)

var (
	// Light mode colors (default)
	LightForeground = lipgloss.Color("#1a2233")
	LightPrimary    = lipgloss.Color("#1a2233")
	LightAccent     = lipgloss.Color("#2f9e44")
	LightMuted      = lipgloss.Color("#8a929e")
	LightBorder     = lipgloss.Color("#d6dae0")

	// Dark mode colors
	DarkForeground = lipgloss.Color("#f2f2f2")
	DarkPrimary    = lipgloss.Color("#66d9a3")
	DarkAccent     = lipgloss.Color("#4dabf7")
	DarkMuted      = lipgloss.Color("#5c6672")
	DarkBorder     = lipgloss.Color("#2a3850")

	// Semantic colors (same in both modes)
	ErrorRed   = lipgloss.Color("#e03131")
	WarningAmb = lipgloss.Color("#f59f00")
	InfoBlue   = lipgloss.Color("#2196F3")
)

// Theme holds the current color scheme.
type Theme struct {
	Foreground lipgloss.Color
	Primary    lipgloss.Color
	Accent     lipgloss.Color
	Muted      lipgloss.Color
	Border     lipgloss.Color
	IsDark     bool
}

// LightTheme returns the light mode theme.
func LightTheme() Theme {
	return Theme{
		Foreground: LightForeground,
		Primary:    LightPrimary,
		Accent:     LightAccent,
		Muted:      LightMuted,
		Border:     LightBorder,
		IsDark:     false,
	}
}

// DarkTheme returns the dark mode theme.
func DarkTheme() Theme {
	return Theme{
		Foreground: DarkForeground,
		Primary:    DarkPrimary,
		Accent:     DarkAccent,
		Muted:      DarkMuted,
		Border:     DarkBorder,
		IsDark:     true,
	}
}

// DetectTheme picks dark mode when the environment says so.
func DetectTheme() Theme {
	if os.Getenv("ASKDB_DARK_MODE") == "1" {
		return DarkTheme()
	}
	return LightTheme()
}

// Styles holds all the styled components.
type Styles struct {
	Theme Theme

	Header LipStyle
	Footer LipStyle

	Prompt        LipStyle
	UserInput     LipStyle
	AgentResponse LipStyle
	SQL           LipStyle

	Success LipStyle
	Error   LipStyle
	Muted   LipStyle

	Spinner LipStyle
}

// LipStyle aliases lipgloss.Style so callers don't import lipgloss.
type LipStyle = lipgloss.Style

// DefaultStyles returns styles for the auto-detected theme.
func DefaultStyles() Styles {
	return NewStyles(DetectTheme())
}

// NewStyles creates a Styles instance for the given theme.
func NewStyles(theme Theme) Styles {
	return Styles{
		Theme: theme,

		Header: lipgloss.NewStyle().
			Foreground(theme.Primary).
			Bold(true).
			Padding(0, 1),

		Footer: lipgloss.NewStyle().
			Foreground(theme.Muted).
			Padding(0, 1),

		Prompt: lipgloss.NewStyle().
			Foreground(theme.Accent).
			Bold(true),

		UserInput: lipgloss.NewStyle().
			Foreground(theme.Foreground),

		AgentResponse: lipgloss.NewStyle().
			Foreground(theme.Foreground).
			PaddingLeft(2),

		SQL: lipgloss.NewStyle().
			Foreground(InfoBlue).
			PaddingLeft(2),

		Success: lipgloss.NewStyle().
			Foreground(theme.Accent).
			Bold(true),

		Error: lipgloss.NewStyle().
			Foreground(ErrorRed).
			Bold(true),

		Muted: lipgloss.NewStyle().
			Foreground(theme.Muted),

		Spinner: lipgloss.NewStyle().
			Foreground(theme.Accent),
	}
}
