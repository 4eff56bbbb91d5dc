package ui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/gubarz/dvpersist/internal/config"
)

// StyleManager encapsulates all TUI styles
type StyleManager struct {
	// List view styles
	File     lipgloss.Style
	Query    lipgloss.Style
	Selected lipgloss.Style
	Cursor   lipgloss.Style
	Dim      lipgloss.Style

	// Preview styles
	PreviewFile   lipgloss.Style
	PreviewHeader lipgloss.Style
	PreviewQuery  lipgloss.Style
	PreviewResult lipgloss.Style

	// Status line
	StatusOK    lipgloss.Style
	StatusError lipgloss.Style

	Divider lipgloss.Style

	SelectedBg lipgloss.Color
}

// DefaultStyles returns a StyleManager with default styles
func DefaultStyles() *StyleManager {
	return &StyleManager{
		File:          lipgloss.NewStyle(),
		Query:         lipgloss.NewStyle(),
		Selected:      lipgloss.NewStyle().Background(lipgloss.Color("236")),
		Cursor:        lipgloss.NewStyle().Foreground(lipgloss.Color("212")),
		Dim:           lipgloss.NewStyle().Foreground(lipgloss.Color("241")),
		PreviewFile:   lipgloss.NewStyle(),
		PreviewHeader: lipgloss.NewStyle().Bold(true),
		PreviewQuery:  lipgloss.NewStyle(),
		PreviewResult: lipgloss.NewStyle(),
		StatusOK:      lipgloss.NewStyle().Foreground(lipgloss.Color("2")),
		StatusError:   lipgloss.NewStyle().Foreground(lipgloss.Color("1")),
		Divider:       lipgloss.NewStyle().Foreground(lipgloss.Color("240")),
		SelectedBg:    lipgloss.Color("236"),
	}
}

// LoadFromConfig updates styles based on configuration
func (s *StyleManager) LoadFromConfig() {
	fileColor := parseANSIColor(config.GetColorFile())
	queryColor := parseANSIColor(config.GetColorQuery())
	resultColor := parseANSIColor(config.GetColorResult())

	s.File = lipgloss.NewStyle().Foreground(fileColor)
	s.Query = lipgloss.NewStyle().Foreground(queryColor)

	s.PreviewFile = lipgloss.NewStyle().Foreground(fileColor)
	s.PreviewQuery = lipgloss.NewStyle().Foreground(queryColor)
	s.PreviewResult = lipgloss.NewStyle().Foreground(resultColor)
}

// WithSelection returns a copy of the given style with the selected background applied
func (s *StyleManager) WithSelection(style lipgloss.Style) lipgloss.Style {
	return style.Background(s.SelectedBg)
}

// parseANSIColor converts ANSI color codes to lipgloss colors
func parseANSIColor(code string) lipgloss.Color {
	ansiToLipgloss := map[string]string{
		"30": "0", "31": "1", "32": "2", "33": "3",
		"34": "4", "35": "5", "36": "6", "37": "7",
		"90": "8", "91": "9", "92": "10", "93": "11",
		"94": "12", "95": "13", "96": "14", "97": "15",
	}
	if mapped, ok := ansiToLipgloss[code]; ok {
		return lipgloss.Color(mapped)
	}
	return lipgloss.Color(code)
}

// Global style manager instance
var styles = DefaultStyles()

// RefreshStyles updates the global styles from config
func RefreshStyles() {
	styles.LoadFromConfig()
}
