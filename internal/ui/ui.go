// Package ui provides terminal styling helpers for CLI output.
//
// Styling degrades to plain text when stdout is not a terminal or the
// terminal reports no color support, so piped output stays clean.
package ui

import (
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"golang.org/x/term"
)

var (
	accentStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("39"))
	passStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	errStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	mutedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	titleStyle  = lipgloss.NewStyle().Bold(true)
)

var colorEnabled = detectColor()

// detectColor reports whether stdout can render styled output.
func detectColor() bool {
	if !term.IsTerminal(int(os.Stdout.Fd())) {
		return false
	}
	return termenv.ColorProfile() != termenv.Ascii
}

func render(style lipgloss.Style, s string) string {
	if !colorEnabled {
		return s
	}
	return style.Render(s)
}

// RenderAccent styles informational markers.
func RenderAccent(s string) string { return render(accentStyle, s) }

// RenderPass styles success markers.
func RenderPass(s string) string { return render(passStyle, s) }

// RenderWarn styles warning markers.
func RenderWarn(s string) string { return render(warnStyle, s) }

// RenderErr styles error markers.
func RenderErr(s string) string { return render(errStyle, s) }

// RenderMuted styles secondary detail like ids and timestamps.
func RenderMuted(s string) string { return render(mutedStyle, s) }

// RenderTitle styles section headings.
func RenderTitle(s string) string { return render(titleStyle, s) }
