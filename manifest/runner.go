package manifest

import (
	"context"
	"fmt"
	"io"
	"log"

	"gitlab.com/stephen-fox/binpatch/patch"
)

// Runner applies Specs one after another. Specs are independent:
// a failure does not stop the batch or undo earlier patches. Only
// a patch.Aborted outcome (or a canceled context) stops the batch.
type Runner struct {
	Engine *patch.Engine

	// OptLogger, when non-nil, receives a message before each
	// Spec is applied.
	OptLogger *log.Logger

	// OptOnResult, when non-nil, is called after each Spec
	// is applied.
	OptOnResult func(patch.Result)
}

// Run applies specs in order.
func (o *Runner) Run(ctx context.Context, specs []patch.Spec) Summary {
	logger := o.OptLogger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}

	var summary Summary

	for i, spec := range specs {
		if ctx.Err() != nil {
			summary.NotRun = len(specs) - i

			break
		}

		logger.Printf("task %d/%d: %s", i+1, len(specs), spec.DisplayName())

		res := o.Engine.Apply(ctx, spec)

		summary.Results = append(summary.Results, res)

		if o.OptOnResult != nil {
			o.OptOnResult(res)
		}

		if res.Outcome == patch.Aborted {
			summary.Aborted = true
			summary.NotRun = len(specs) - i - 1

			break
		}
	}

	return summary
}

// Summary aggregates the Results of a batch.
type Summary struct {
	Results []patch.Result

	// Aborted is true if a Decider chose to abort.
	Aborted bool

	// NotRun is the number of Specs that were never attempted.
	NotRun int
}

// Count returns the number of Results with the given outcome.
func (o Summary) Count(outcome patch.Outcome) int {
	n := 0

	for _, res := range o.Results {
		if res.Outcome == outcome {
			n++
		}
	}

	return n
}

// OK is true if every Spec was attempted and none failed.
func (o Summary) OK() bool {
	return !o.Aborted && o.NotRun == 0 && o.Count(patch.Failed) == 0
}

func (o Summary) String() string {
	str := fmt.Sprintf("%d file(s) patched, %d already patched, %d restored, %d skipped, %d failed",
		o.Count(patch.Patched),
		o.Count(patch.AlreadyPatched),
		o.Count(patch.Restored),
		o.Count(patch.Skipped),
		o.Count(patch.Failed))

	if o.Aborted {
		str += ", aborted"
	}

	if o.NotRun > 0 {
		str += fmt.Sprintf(", %d not run", o.NotRun)
	}

	return str
}
