package fancy

import (
	"github.com/charmbracelet/lipgloss"
)

// ANSI 256 palette shared by the tree and status renderers.
var (
	ColorBlue     = lipgloss.Color("39")
	ColorPurple   = lipgloss.Color("35")
	ColorMagenta  = lipgloss.Color("201")
	ColorOrange   = lipgloss.Color("208")
	ColorGreen    = lipgloss.Color("82")
	ColorYellow   = lipgloss.Color("228")
	ColorCyan     = lipgloss.Color("45")
	ColorRed      = lipgloss.Color("196")
	ColorGray     = lipgloss.Color("250")
	ColorWhite    = lipgloss.Color("15")
	ColorDarkGray = lipgloss.Color("240")
)
