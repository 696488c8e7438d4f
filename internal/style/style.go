// Package style provides shared lipgloss styles for sy command output.
package style

import (
	"fmt"
	"os"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"
)

// Shared styles. Rendered through lipgloss so the palette stays consistent
// across subcommands; color is dropped entirely when stdout is not a terminal
// (piped output goes to orchestrators that parse it).
var (
	Dim     = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	Warning = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	Error   = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	Success = lipgloss.NewStyle().Foreground(lipgloss.Color("34"))
)

func init() {
	if !term.IsTerminal(int(os.Stdout.Fd())) {
		Dim = lipgloss.NewStyle()
		Warning = lipgloss.NewStyle()
		Error = lipgloss.NewStyle()
		Success = lipgloss.NewStyle()
	}
}

// PrintWarning prints a formatted warning line to stderr.
func PrintWarning(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "%s %s\n", Warning.Render("⚠"), fmt.Sprintf(format, args...))
}

// PrintError prints a formatted error line to stderr.
func PrintError(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "%s %s\n", Error.Render("✗"), fmt.Sprintf(format, args...))
}
