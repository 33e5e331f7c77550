package tui

import (
	"os"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Color palette
var (
	LightForeground = lipgloss.Color("#101F38")
	LightAccent     = lipgloss.Color("#8BC34A")
	LightMuted      = lipgloss.Color("#6b7280")
	LightBorder     = lipgloss.Color("#dce0e5")

	DarkForeground = lipgloss.Color("#f2f2f2")
	DarkAccent     = lipgloss.Color("#8BC34A")
	DarkMuted      = lipgloss.Color("#9ca3af")
	DarkBorder     = lipgloss.Color("#2a3850")

	Destructive = lipgloss.Color("#e53935")
	Success     = lipgloss.Color("#8BC34A")
	Warning     = lipgloss.Color("#FFC107")
)

// Theme holds the current color scheme
type Theme struct {
	Foreground lipgloss.Color
	Accent     lipgloss.Color
	Muted      lipgloss.Color
	Border     lipgloss.Color
	IsDark     bool
}

// LightTheme returns the light mode theme
func LightTheme() Theme {
	return Theme{
		Foreground: LightForeground,
		Accent:     LightAccent,
		Muted:      LightMuted,
		Border:     LightBorder,
	}
}

// DarkTheme returns the dark mode theme
func DarkTheme() Theme {
	return Theme{
		Foreground: DarkForeground,
		Accent:     DarkAccent,
		Muted:      DarkMuted,
		Border:     DarkBorder,
		IsDark:     true,
	}
}

// DetectTheme picks the dark theme when COLORFGBG reports a dark background
// or SPERIMENT_DARK_MODE=1, else the light one.
func DetectTheme() Theme {
	if parts := strings.Split(os.Getenv("COLORFGBG"), ";"); len(parts) == 2 {
		if bg, err := strconv.Atoi(parts[1]); err == nil {
			if (bg >= 0 && bg <= 6) || bg == 8 {
				return DarkTheme()
			}
		}
	}
	if os.Getenv("SPERIMENT_DARK_MODE") == "1" {
		return DarkTheme()
	}
	return LightTheme()
}

// Styles holds the styled components of the participant screen.
type Styles struct {
	Theme Theme

	Page     lipgloss.Style
	Resource lipgloss.Style
	Option   lipgloss.Style
	Cursor   lipgloss.Style
	Selected lipgloss.Style
	Key      lipgloss.Style
	Footer   lipgloss.Style
	Feedback lipgloss.Style
	Error    lipgloss.Style
	Done     lipgloss.Style
}

// NewStyles creates the styles for a theme.
func NewStyles(theme Theme) Styles {
	return Styles{
		Theme: theme,

		Page: lipgloss.NewStyle().
			Padding(0, 1),

		Resource: lipgloss.NewStyle().
			Foreground(theme.Muted).
			Italic(true).
			PaddingLeft(2),

		Option: lipgloss.NewStyle().
			Foreground(theme.Foreground).
			PaddingLeft(2),

		Cursor: lipgloss.NewStyle().
			Foreground(theme.Accent).
			Bold(true),

		Selected: lipgloss.NewStyle().
			Foreground(theme.Accent).
			Bold(true),

		Key: lipgloss.NewStyle().
			Foreground(Warning).
			Bold(true),

		Footer: lipgloss.NewStyle().
			Foreground(theme.Muted).
			MarginTop(1).
			Padding(0, 1),

		Feedback: lipgloss.NewStyle().
			PaddingLeft(2).
			BorderLeft(true).
			BorderStyle(lipgloss.ThickBorder()).
			BorderForeground(theme.Accent),

		Error: lipgloss.NewStyle().
			Foreground(Destructive).
			Bold(true),

		Done: lipgloss.NewStyle().
			Foreground(Success).
			Bold(true).
			Padding(1, 1),
	}
}

// DefaultStyles returns styles for the detected theme.
func DefaultStyles() Styles {
	return NewStyles(DetectTheme())
}
