package binpatch

import (
	"context"
	"io"
	"log"
	"os"

	"gitlab.com/stephen-fox/binpatch/patch"
	"gitlab.com/stephen-fox/binpatch/prompt"
)

// DefaultEngine returns a patch.Engine that works on the operating
// system's filesystem, logs progress to logs, and asks the user
// what to do about existing backups using in and out.
func DefaultEngine(in io.Reader, out io.Writer, logs io.Writer) *patch.Engine {
	return &patch.Engine{
		Decider:   prompt.NewTerminal(in, out),
		OptLogger: log.New(logs, "", 0),
	}
}

// Apply patches target. The leftmost occurrence of signature is
// located, and the bytes starting offset bytes after it are replaced
// with patchHex (e.g., "B8 06 00 00 00").
//
// If target was already patched (i.e., a backup exists), the user is
// asked on stdin whether to restore it, skip it, or abort.
func Apply(target string, signature string, patchHex string, offset int) patch.Result {
	spec, err := patch.NewSpec(target, signature, patchHex, offset)
	if err != nil {
		return patch.Result{
			Spec:        patch.Spec{Path: target, Signature: signature, Offset: offset},
			Outcome:     patch.Failed,
			Err:         err,
			MatchOffset: -1,
			PatchOffset: -1,
		}
	}

	engine := DefaultEngine(os.Stdin, os.Stdout, os.Stderr)

	return engine.Apply(context.Background(), spec)
}
