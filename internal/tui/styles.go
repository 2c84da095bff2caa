// Package tui provides the interactive chat surface for conduit. The TUI is a
// pure consumer of the kernel: it sends input through Kernel.SendInput and
// receives output through the render callback contract, marshalled onto the
// bubbletea loop as messages.
package tui

import (
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Color palette. Semantic colors are shared between light and dark themes.
var (
	LightForeground = lipgloss.Color("#1c2b38")
	LightPrimary    = lipgloss.Color("#2456a8")
	LightAccent     = lipgloss.Color("#0e8a6d")
	LightMuted      = lipgloss.Color("#8a919c")
	LightBorder     = lipgloss.Color("#d5d9e0")

	DarkForeground = lipgloss.Color("#e8eaee")
	DarkPrimary    = lipgloss.Color("#6ea8ff")
	DarkAccent     = lipgloss.Color("#3ecf9a")
	DarkMuted      = lipgloss.Color("#6b7380")
	DarkBorder     = lipgloss.Color("#39404d")

	Destructive = lipgloss.Color("#e05252")
	Warning     = lipgloss.Color("#e0b341")
)

// Theme holds the active color scheme.
type Theme struct {
	Foreground lipgloss.Color
	Primary    lipgloss.Color
	Accent     lipgloss.Color
	Muted      lipgloss.Color
	Border     lipgloss.Color
	IsDark     bool
}

// LightTheme returns the light scheme.
func LightTheme() Theme {
	return Theme{
		Foreground: LightForeground,
		Primary:    LightPrimary,
		Accent:     LightAccent,
		Muted:      LightMuted,
		Border:     LightBorder,
	}
}

// DarkTheme returns the dark scheme.
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

// DetectTheme picks a theme from the COLORFGBG convention; terminals that
// don't set it get the dark scheme.
func DetectTheme() Theme {
	fgbg := os.Getenv("COLORFGBG")
	if fgbg == "" {
		return DarkTheme()
	}
	parts := strings.Split(fgbg, ";")
	bg := parts[len(parts)-1]
	switch bg {
	case "7", "15":
		return LightTheme()
	}
	return DarkTheme()
}

// Styles is the pre-built style set the views render with.
type Styles struct {
	Theme Theme

	Header    lipgloss.Style
	UserLabel lipgloss.Style
	UserInput lipgloss.Style
	Assistant lipgloss.Style
	Expert    lipgloss.Style
	Muted     lipgloss.Style
	Error     lipgloss.Style
	Warn      lipgloss.Style
	StatusBar lipgloss.Style
	InputBox  lipgloss.Style
}

// NewStyles builds the style set for a theme.
func NewStyles(theme Theme) Styles {
	return Styles{
		Theme: theme,

		Header: lipgloss.NewStyle().
			Bold(true).
			Foreground(theme.Primary).
			BorderStyle(lipgloss.NormalBorder()).
			BorderBottom(true).
			BorderForeground(theme.Border),
		UserLabel: lipgloss.NewStyle().
			Bold(true).
			Foreground(theme.Primary).
			MarginTop(1),
		UserInput: lipgloss.NewStyle().
			Foreground(theme.Foreground),
		Assistant: lipgloss.NewStyle().
			Bold(true).
			Foreground(theme.Accent).
			MarginTop(1),
		Expert: lipgloss.NewStyle().
			Bold(true).
			Foreground(Warning).
			MarginTop(1),
		Muted: lipgloss.NewStyle().
			Foreground(theme.Muted),
		Error: lipgloss.NewStyle().
			Foreground(Destructive),
		Warn: lipgloss.NewStyle().
			Foreground(Warning),
		StatusBar: lipgloss.NewStyle().
			Foreground(theme.Muted).
			BorderStyle(lipgloss.NormalBorder()).
			BorderTop(true).
			BorderForeground(theme.Border),
		InputBox: lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(theme.Border),
	}
}
