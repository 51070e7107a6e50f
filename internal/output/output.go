// Package output renders CLI status lines and progress bars.
package output

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/mattn/go-isatty"
)

// Writer provides formatted output for CLI commands. Progress bars redraw
// in place on a terminal and print once on completion otherwise.
type Writer struct {
	mu  sync.Mutex
	out io.Writer
	tty bool
}

// New creates a Writer for out.
func New(out io.Writer) *Writer {
	tty := false
	if f, ok := out.(*os.File); ok {
		tty = isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	}
	return &Writer{out: out, tty: tty}
}

// Status prints a message with an icon.
// Errors from writing are intentionally ignored for console output.
func (w *Writer) Status(icon, msg string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if icon != "" {
		_, _ = fmt.Fprintf(w.out, "%s %s\n", icon, msg)
	} else {
		_, _ = fmt.Fprintf(w.out, "   %s\n", msg)
	}
}

// Statusf prints a formatted message with an icon.
func (w *Writer) Statusf(icon, format string, args ...any) {
	w.Status(icon, fmt.Sprintf(format, args...))
}

// Successf prints a formatted success message.
func (w *Writer) Successf(format string, args ...any) {
	w.Status("✅", fmt.Sprintf(format, args...))
}

// Warningf prints a formatted warning message.
func (w *Writer) Warningf(format string, args ...any) {
	w.Status("⚠️ ", fmt.Sprintf(format, args...))
}

// Progress reports current of total for msg.
func (w *Writer) Progress(current, total int, msg string) {
	if total <= 0 {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	done := current >= total
	if !w.tty && !done {
		return
	}

	pct := float64(current) / float64(total) * 100
	line := fmt.Sprintf("[%s] %.0f%% %s", renderProgressBar(current, total, 30), pct, msg)
	if w.tty {
		_, _ = fmt.Fprintf(w.out, "\r%s", line)
		if done {
			_, _ = fmt.Fprintln(w.out)
		}
		return
	}
	_, _ = fmt.Fprintln(w.out, line)
}

// renderProgressBar creates a text progress bar.
func renderProgressBar(current, total, width int) string {
	if total <= 0 {
		return strings.Repeat("░", width)
	}

	filled := int(float64(current) / float64(total) * float64(width))
	if filled > width {
		filled = width
	}
	if filled < 0 {
		filled = 0
	}

	return strings.Repeat("█", filled) + strings.Repeat("░", width-filled)
}
