// Package console prints the human-readable status lines of ttbuild.
//
// Structured diagnostics go through the logger; the console is what a user
// watches while building and deploying, so every abort path prints here.
package console

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"
)

// Printer writes styled status lines.
type Printer struct {
	out io.Writer
	mu  sync.Mutex

	successStyle lipgloss.Style
	errorStyle   lipgloss.Style
	warningStyle lipgloss.Style
	busyStyle    lipgloss.Style
}

// New returns a Printer writing to stdout.
func New() *Printer {
	return NewWithOutput(os.Stdout)
}

// NewWithOutput returns a Printer writing to out.
func NewWithOutput(out io.Writer) *Printer {
	return &Printer{
		out: out,

		successStyle: lipgloss.NewStyle().Foreground(lipgloss.Color("#10B981")),
		errorStyle:   lipgloss.NewStyle().Foreground(lipgloss.Color("#EF4444")).Bold(true),
		warningStyle: lipgloss.NewStyle().Foreground(lipgloss.Color("#F59E0B")),
		busyStyle:    lipgloss.NewStyle().Foreground(lipgloss.Color("#6B7280")),
	}
}

// Busy announces a step that is in progress. The line is finished by the
// next Success or Failure, which overwrite it.
func (p *Printer) Busy(format string, args ...any) {
	p.write("⌛ "+p.busyStyle.Render(fmt.Sprintf(format, args...))+"\r", false)
}

// Success reports a finished step.
func (p *Printer) Success(format string, args ...any) {
	p.write("✅ "+p.successStyle.Render(fmt.Sprintf(format, args...)), true)
}

// Failure reports a failed step.
func (p *Printer) Failure(format string, args ...any) {
	p.write("❌ "+p.errorStyle.Render(fmt.Sprintf(format, args...)), true)
}

// Error prints an error message.
func (p *Printer) Error(format string, args ...any) {
	p.write(p.errorStyle.Render("ERROR: "+fmt.Sprintf(format, args...)), true)
}

// Warning prints a warning message.
func (p *Printer) Warning(format string, args ...any) {
	p.write(p.warningStyle.Render("WARNING: "+fmt.Sprintf(format, args...)), true)
}

// Println prints an unstyled line.
func (p *Printer) Println(format string, args ...any) {
	p.write(fmt.Sprintf(format, args...), true)
}

// Lines prints captured output verbatim, one entry per line.
func (p *Printer) Lines(lines []string) {
	for _, line := range lines {
		p.write(strings.TrimRight(line, "\r\n"), true)
	}
}

func (p *Printer) write(text string, newline bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if newline {
		// Trailing spaces clear what a longer Busy line left behind.
		text += "          \n"
	}

	_, _ = io.WriteString(p.out, text)
}
