package patch

import (
	"fmt"

	"gitlab.com/stephen-fox/binpatch/conv"
)

// Outcome is the terminal state reached by a single Engine.Apply call.
type Outcome int

const (
	// Patched means the replacement bytes were written.
	Patched Outcome = iota + 1

	// AlreadyPatched means the target already contained the
	// replacement bytes. Nothing was written.
	AlreadyPatched

	// Restored means the target was overwritten with its backup.
	Restored

	// Skipped means the Decider chose to leave the target alone.
	Skipped

	// Aborted means the Decider chose to stop. Callers running a
	// batch of patches should not attempt the remaining ones.
	Aborted

	// Failed means an error occurred. Result.Err explains why.
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Patched:
		return "patched"
	case AlreadyPatched:
		return "already patched"
	case Restored:
		return "restored"
	case Skipped:
		return "skipped"
	case Aborted:
		return "aborted"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("unknown (%d)", int(o))
	}
}

// Result reports what happened to a Spec.
type Result struct {
	Spec    Spec
	Outcome Outcome

	// Err is non-nil if and only if Outcome is Failed.
	Err error

	// MatchOffset is the file offset of the signature match, or -1
	// if the signature was never searched for or not found.
	MatchOffset int

	// PatchOffset is MatchOffset plus Spec.Offset, or -1 if
	// MatchOffset is -1.
	PatchOffset int

	// Original holds the bytes found at PatchOffset before any
	// write took place.
	Original []byte
}

func newResult(spec Spec) Result {
	return Result{
		Spec:        spec,
		MatchOffset: -1,
		PatchOffset: -1,
	}
}

func (o Result) with(outcome Outcome) Result {
	o.Outcome = outcome

	return o
}

func (o Result) fail(err error) Result {
	o.Outcome = Failed
	o.Err = err

	return o
}

func (o Result) String() string {
	str := o.Spec.DisplayName() + ": " + o.Outcome.String()

	if o.PatchOffset >= 0 {
		str += fmt.Sprintf(" (match: 0x%x, patch: 0x%x", o.MatchOffset, o.PatchOffset)

		if len(o.Original) > 0 {
			str += ", original: " + conv.BytesToHex(o.Original)
		}

		str += ")"
	}

	if o.Err != nil {
		str += " - " + o.Err.Error()
	}

	return str
}
