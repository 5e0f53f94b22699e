// Package output provides consistent CLI output formatting for cidxd's
// standalone commands.
package output

import (
	"fmt"
	"io"
	"os"

	"github.com/mattn/go-isatty"
)

// Writer formats status/success/warning/error lines for a CLI command.
type Writer struct {
	out   io.Writer
	isTTY bool
}

// New creates a Writer over out.
func New(out io.Writer) *Writer {
	return &Writer{out: out, isTTY: isTTY(out)}
}

// isTTY reports whether w is a terminal, so progress output can overwrite
// its own line instead of scrolling when stdout is piped or redirected.
func isTTY(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// Status prints a plain status line.
func (w *Writer) Status(msg string) {
	_, _ = fmt.Fprintf(w.out, "%s\n", msg)
}

// Statusf prints a formatted status line.
func (w *Writer) Statusf(format string, args ...any) {
	w.Status(fmt.Sprintf(format, args...))
}

// Success prints a success line.
func (w *Writer) Success(msg string) {
	_, _ = fmt.Fprintf(w.out, "✓ %s\n", msg)
}

// Successf prints a formatted success line.
func (w *Writer) Successf(format string, args ...any) {
	w.Success(fmt.Sprintf(format, args...))
}

// Warning prints a warning line.
func (w *Writer) Warning(msg string) {
	_, _ = fmt.Fprintf(w.out, "! %s\n", msg)
}

// Error prints an error line.
func (w *Writer) Error(msg string) {
	_, _ = fmt.Fprintf(w.out, "✗ %s\n", msg)
}

// Errorf prints a formatted error line.
func (w *Writer) Errorf(format string, args ...any) {
	w.Error(fmt.Sprintf(format, args...))
}

// Progress prints a transient progress line: overwritten in place on a TTY,
// one line per call otherwise (so piped/redirected output stays readable
// instead of filling a log with carriage returns).
func (w *Writer) Progress(msg string) {
	if w.isTTY {
		_, _ = fmt.Fprintf(w.out, "\r\033[K%s", msg)
		return
	}
	_, _ = fmt.Fprintf(w.out, "%s\n", msg)
}

// ProgressDone terminates a run of Progress calls, moving to a fresh line
// on a TTY (a no-op otherwise, since each call already ended its own line).
func (w *Writer) ProgressDone() {
	if w.isTTY {
		_, _ = fmt.Fprintln(w.out)
	}
}
