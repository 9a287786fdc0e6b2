package asmkit

import (
	"fmt"

	"gitlab.com/stephen-fox/binpatch/conv"
)

// Previewer renders the instructions affected by a patch.
type Previewer struct {
	disass *Disassembler
}

// NewPreviewer returns a Previewer for the named platform
// (see Platforms).
func NewPreviewer(platform string) (*Previewer, error) {
	config, err := ConfigForPlatform(platform)
	if err != nil {
		return nil, err
	}

	disass, err := NewDisassembler(config)
	if err != nil {
		return nil, err
	}

	return &Previewer{disass: disass}, nil
}

// Preview disassembles before and after, which contain the patch
// region (its first n bytes) followed by some trailing context.
// Only instructions that start within the patch region are listed.
// Lines from before are prefixed with "-" and lines from after with
// "+". Trailing context that fails to decode is ignored.
func (o *Previewer) Preview(before []byte, after []byte, n int) ([]string, error) {
	beforeLines, err := o.lines("-", before, n)
	if err != nil {
		return nil, fmt.Errorf("failed to disassemble original bytes - %w", err)
	}

	afterLines, err := o.lines("+", after, n)
	if err != nil {
		return nil, fmt.Errorf("failed to disassemble replacement bytes - %w", err)
	}

	return append(beforeLines, afterLines...), nil
}

func (o *Previewer) lines(prefix string, data []byte, n int) ([]string, error) {
	var lines []string

	index := 0

	for index < n && index < len(data) {
		inst, err := o.disass.Next(data[index:])
		if err != nil {
			return nil, fmt.Errorf("failed to decode instruction at %d (0x%x) - %w",
				index, data[index:], err)
		}

		lines = append(lines, fmt.Sprintf("%s %-24s %s",
			prefix, conv.BytesToHex(inst.Bin), inst.Dis))

		index += inst.Len
	}

	return lines, nil
}
