package prompt

import (
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"

	"gitlab.com/stephen-fox/binpatch/patch"
)

// Palette colors status labels when its writer is a terminal.
type Palette struct {
	enabled bool
}

// NewPalette returns a Palette that emits colors only if w is
// a terminal.
func NewPalette(w io.Writer) Palette {
	return Palette{enabled: IsTerminal(w)}
}

// IsTerminal reports whether w is a terminal (including
// Cygwin/MSYS terminals).
func IsTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}

	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

func (o Palette) paint(str string, attrs ...color.Attribute) string {
	c := color.New(attrs...)

	if o.enabled {
		c.EnableColor()
	} else {
		c.DisableColor()
	}

	return c.Sprint(str)
}

// Info returns an "[INFO]" label.
func (o Palette) Info() string {
	return o.paint("[INFO]", color.FgCyan)
}

// Warn returns a "[WARN]" label.
func (o Palette) Warn() string {
	return o.paint("[WARN]", color.FgYellow)
}

// Success returns a "[SUCCESS]" label.
func (o Palette) Success() string {
	return o.paint("[SUCCESS]", color.FgGreen, color.Bold)
}

// Error returns an "[ERROR]" label.
func (o Palette) Error() string {
	return o.paint("[ERROR]", color.FgRed, color.Bold)
}

// Outcome returns the label that best describes outcome.
func (o Palette) Outcome(outcome patch.Outcome) string {
	switch outcome {
	case patch.Patched, patch.Restored:
		return o.Success()
	case patch.AlreadyPatched, patch.Skipped:
		return o.Info()
	case patch.Aborted:
		return o.Warn()
	default:
		return o.Error()
	}
}
