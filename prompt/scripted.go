package prompt

import (
	"context"

	"gitlab.com/stephen-fox/binpatch/patch"
)

// Scripted answers with Choices in order, then with Default once
// Choices is exhausted. Every event it receives is recorded in Events.
type Scripted struct {
	Choices []patch.Choice
	Default patch.Choice
	Events  []patch.BackupFound
}

// Always returns a Scripted that always answers with choice.
func Always(choice patch.Choice) *Scripted {
	return &Scripted{Default: choice}
}

// Decide records event and returns the next scripted choice.
func (o *Scripted) Decide(ctx context.Context, event patch.BackupFound) (patch.Choice, error) {
	if err := ctx.Err(); err != nil {
		return patch.Abort, err
	}

	o.Events = append(o.Events, event)

	if len(o.Choices) == 0 {
		return o.Default, nil
	}

	choice := o.Choices[0]
	o.Choices = o.Choices[1:]

	return choice, nil
}
