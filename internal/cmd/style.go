package cmd

import (
	"io"
	"os"

	"github.com/Iron-Ham/stepflow/internal/history"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"
	"golang.org/x/term"
)

// styles holds the lipgloss styles used by the listing commands. Every
// style is plain when the output is not a terminal.
type styles struct {
	header    lipgloss.Style
	dim       lipgloss.Style
	ok        lipgloss.Style
	warn      lipgloss.Style
	fail      lipgloss.Style
	highlight lipgloss.Style
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// termWidth returns the width of w when it is a terminal, else 0.
func termWidth(w io.Writer) int {
	f, ok := w.(*os.File)
	if !ok {
		return 0
	}
	width, _, err := term.GetSize(int(f.Fd()))
	if err != nil {
		return 0
	}
	return width
}

// truncate shortens s to width visible columns, keeping escape sequences
// intact. A width of 3 or less leaves s alone.
func truncate(s string, width int) string {
	if width <= 3 || lipgloss.Width(s) <= width {
		return s
	}
	return ansi.Truncate(s, width, "...")
}

func newStyles(w io.Writer) styles {
	if !isTerminal(w) {
		plain := lipgloss.NewStyle()
		return styles{plain, plain, plain, plain, plain, plain}
	}
	return styles{
		header:    lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#A78BFA")),
		dim:       lipgloss.NewStyle().Foreground(lipgloss.Color("#6B7280")),
		ok:        lipgloss.NewStyle().Foreground(lipgloss.Color("#10B981")),
		warn:      lipgloss.NewStyle().Foreground(lipgloss.Color("#F59E0B")),
		fail:      lipgloss.NewStyle().Foreground(lipgloss.Color("#EF4444")),
		highlight: lipgloss.NewStyle().Bold(true),
	}
}

func (s styles) status(st history.Status) string {
	switch st {
	case history.StatusCompleted:
		return s.ok.Render(st.String())
	case history.StatusSkipped, history.StatusSkippedConditional:
		return s.dim.Render(st.String())
	case history.StatusAwaitingDecision:
		return s.warn.Render(st.String())
	default:
		return st.String()
	}
}
