package cli

import (
	"github.com/charmbracelet/lipgloss"
)

// Color palette
var (
	ColorPrimary = lipgloss.Color("#8B5CF6") // Purple - brand color
	ColorSuccess = lipgloss.Color("#22C55E") // Green
	ColorError   = lipgloss.Color("#EF4444") // Red
	ColorSubtle  = lipgloss.Color("#6B7280") // Gray
)

// Symbols for consistent visual language
const (
	SymbolError = "✗"
	SymbolInfo  = "→"
)

// Text styles
var (
	BrandStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorPrimary)

	ErrorStyle = lipgloss.NewStyle().
			Foreground(ColorError).
			Bold(true)

	SubtleStyle = lipgloss.NewStyle().
			Foreground(ColorSubtle)

	PromptStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorSuccess)
)
