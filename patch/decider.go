package patch

import (
	"context"
	"fmt"
)

// Choice is a Decider's answer to an existing backup.
type Choice int

const (
	// Abort stops the current patch and any patches after it.
	Abort Choice = iota

	// Restore copies the backup over the target.
	Restore

	// Skip leaves the target alone.
	Skip
)

func (o Choice) String() string {
	switch o {
	case Abort:
		return "abort"
	case Restore:
		return "restore"
	case Skip:
		return "skip"
	default:
		return fmt.Sprintf("unknown (%d)", int(o))
	}
}

// ParseChoice parses the name of a Choice as returned by String.
func ParseChoice(str string) (Choice, error) {
	switch str {
	case "abort":
		return Abort, nil
	case "restore":
		return Restore, nil
	case "skip":
		return Skip, nil
	default:
		return Abort, fmt.Errorf("unknown choice: %q", str)
	}
}

// BackupFound describes a target that already has a backup,
// which usually means it was patched before.
type BackupFound struct {
	Name       string
	Path       string
	BackupPath string
}

// Decider decides what to do with a target that already has a backup.
type Decider interface {
	Decide(ctx context.Context, event BackupFound) (Choice, error)
}

// DeciderFunc adapts an ordinary function to the Decider interface.
type DeciderFunc func(ctx context.Context, event BackupFound) (Choice, error)

// Decide calls fn.
func (fn DeciderFunc) Decide(ctx context.Context, event BackupFound) (Choice, error) {
	return fn(ctx, event)
}

// Previewer renders a human readable comparison of the bytes being
// replaced and their replacement (e.g., a disassembly). before and
// after start at the patch location; their first n bytes are the
// patch region and the rest is unmodified trailing context.
type Previewer interface {
	Preview(before []byte, after []byte, n int) ([]string, error)
}
