// Package prompt provides patch.Decider implementations.
package prompt

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"gitlab.com/stephen-fox/binpatch/patch"
)

const question = "Choose an action: (R)estore from backup, (S)kip, (A)bort patcher: "

// Terminal asks a human what to do about an existing backup.
//
// Any answer starting with 'r' or 's' (case insensitive) selects
// patch.Restore or patch.Skip respectively. Every other answer,
// including end of input, selects patch.Abort.
type Terminal struct {
	out     io.Writer
	in      *bufio.Reader
	palette Palette
}

// NewTerminal returns a Terminal that reads answers from in and
// writes questions to out.
func NewTerminal(in io.Reader, out io.Writer) *Terminal {
	return &Terminal{
		out:     out,
		in:      bufio.NewReader(in),
		palette: NewPalette(out),
	}
}

// Decide writes the backup notice and question, then reads one answer.
func (o *Terminal) Decide(ctx context.Context, event patch.BackupFound) (patch.Choice, error) {
	if err := ctx.Err(); err != nil {
		return patch.Abort, err
	}

	_, err := fmt.Fprintf(o.out, "%s backup file found for %s (%s). The file is likely already patched.\n%s",
		o.palette.Info(), event.Name, event.BackupPath, question)
	if err != nil {
		return patch.Abort, fmt.Errorf("failed to write question - %w", err)
	}

	answer, err := o.in.ReadString('\n')
	switch {
	case err == nil:
		// OK.
	case errors.Is(err, io.EOF):
		// Treat a partial line as an answer and no input as abort.
		_, _ = io.WriteString(o.out, "\n")
	default:
		return patch.Abort, fmt.Errorf("failed to read answer - %w", err)
	}

	return parseAnswer(answer), nil
}

func parseAnswer(answer string) patch.Choice {
	answer = strings.ToLower(strings.TrimSpace(answer))

	switch {
	case strings.HasPrefix(answer, "r"):
		return patch.Restore
	case strings.HasPrefix(answer, "s"):
		return patch.Skip
	default:
		return patch.Abort
	}
}
