package patch

import (
	"fmt"
	"path/filepath"

	"gitlab.com/stephen-fox/binpatch/conv"
)

// Spec describes a single patch: find Signature in the file at Path
// and write Replacement starting Offset bytes after the start of
// the leftmost match.
type Spec struct {
	// Name is an optional display label. The base name of Path
	// is used when it is empty.
	Name string

	Path        string
	Signature   string
	Offset      int
	Replacement []byte

	// OptPreviewer, when non-nil, overrides Engine.OptPreviewer
	// for this Spec.
	OptPreviewer Previewer
}

// NewSpec creates a Spec from a hex-encoded replacement string.
func NewSpec(path string, signature string, replacementHex string, offset int) (Spec, error) {
	replacement, err := conv.HexToBytes(replacementHex)
	if err != nil {
		return Spec{}, fmt.Errorf("%w: failed to decode replacement bytes - %w",
			ErrInvalidSpec, err)
	}

	spec := Spec{
		Path:        path,
		Signature:   signature,
		Offset:      offset,
		Replacement: replacement,
	}

	err = spec.Validate()
	if err != nil {
		return Spec{}, err
	}

	return spec, nil
}

// DisplayName returns Name, or the base name of Path if Name is empty.
func (o Spec) DisplayName() string {
	if o.Name != "" {
		return o.Name
	}

	return filepath.Base(o.Path)
}

// Validate checks the fields that can be checked without reading
// the target. The signature is checked separately by Engine.Apply.
func (o Spec) Validate() error {
	switch {
	case o.Path == "":
		return fmt.Errorf("%w: target path is empty", ErrInvalidSpec)
	case o.Offset < 0:
		return fmt.Errorf("%w: patch offset is negative (%d)", ErrInvalidSpec, o.Offset)
	case len(o.Replacement) == 0:
		return fmt.Errorf("%w: replacement is empty", ErrInvalidSpec)
	}

	return nil
}
