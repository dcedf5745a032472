package fancy

import (
	"github.com/charmbracelet/lipgloss"
)

// Common styles that can be used across the application
var (
	RootStyle = lipgloss.NewStyle().
			Foreground(ColorBlue).
			Bold(true)

	HeaderStyle = lipgloss.NewStyle().
			Foreground(ColorWhite).
			Bold(true)

	InfoStyle = lipgloss.NewStyle().
			Foreground(ColorGray).
			Italic(true)

	BranchStyle = lipgloss.NewStyle().
			Foreground(ColorDarkGray)

	ComponentStyle = lipgloss.NewStyle().
			Foreground(ColorCyan)

	EndpointStyle = lipgloss.NewStyle().
			Foreground(ColorOrange)

	RouteStyle = lipgloss.NewStyle().
			Foreground(ColorYellow)

	NodeStyle = lipgloss.NewStyle().
			Foreground(ColorCyan)

	ScopeStyle = lipgloss.NewStyle().
			Foreground(ColorMagenta)

	ErrorStyle = lipgloss.NewStyle().
			Foreground(ColorRed)
)

// EndpointText styles an endpoint URI
func EndpointText(text string) string {
	return EndpointStyle.Render(text)
}

// RouteText styles a route key
func RouteText(text string) string {
	return RouteStyle.Render(text)
}

// NodeText styles a node label
func NodeText(text string) string {
	return NodeStyle.Render(text)
}

// ScopeText styles a scoped node label
func ScopeText(text string) string {
	return ScopeStyle.Render(text)
}

// Validation-specific styling functions

// ValidText styles valid status text (green)
func ValidText(text string) string {
	return lipgloss.NewStyle().Foreground(ColorGreen).Render(text)
}

// ErrorText styles error text (red)
func ErrorText(text string) string {
	return ErrorStyle.Render(text)
}

// PathText styles file paths (gray)
func PathText(text string) string {
	return InfoStyle.Render(text)
}

// SummaryText styles summary information (dark gray)
func SummaryText(text string) string {
	return BranchStyle.Render(text)
}

// CountText styles count numbers (cyan)
func CountText(text string) string {
	return ComponentStyle.Render(text)
}
