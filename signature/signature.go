// Package signature compiles textual byte signatures (also known as
// AOB patterns) into Pattern values and searches byte slices with them.
//
// A signature is a whitespace-separated list of tokens. Each token is
// either a two-digit hexadecimal byte (e.g., "7F") or a wildcard
// ("??" or "?") which matches any byte value:
//
//	33 D2 48 8B CB E8 ?? ?? ?? ?? 83 F8 06
package signature

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrMalformed is wrapped by all errors returned by Parse.
var ErrMalformed = errors.New("malformed signature")

const (
	wildcardToken      = "??"
	shortWildcardToken = "?"
)

// Pattern is a compiled signature. Bytes and Wildcards always have
// the same, non-zero length. The value of Bytes at a wildcard
// position is zero and is never compared.
type Pattern struct {
	Bytes     []byte
	Wildcards []bool
}

// ParseOrExit calls Parse and calls DefaultExitFn if an error occurs.
func ParseOrExit(text string) Pattern {
	p, err := Parse(text)
	if err != nil {
		DefaultExitFn(fmt.Errorf("signature: failed to parse %q - %w", text, err))
	}

	return p
}

// Parse compiles a signature string into a Pattern.
func Parse(text string) (Pattern, error) {
	tokens := strings.Fields(text)
	if len(tokens) == 0 {
		return Pattern{}, fmt.Errorf("%w: no tokens", ErrMalformed)
	}

	p := Pattern{
		Bytes:     make([]byte, len(tokens)),
		Wildcards: make([]bool, len(tokens)),
	}

	for i, token := range tokens {
		if token == wildcardToken || token == shortWildcardToken {
			p.Wildcards[i] = true

			continue
		}

		if len(token) != 2 {
			return Pattern{}, fmt.Errorf("%w: token %d (%q) is not a two-digit hex byte",
				ErrMalformed, i, token)
		}

		v, err := strconv.ParseUint(token, 16, 8)
		if err != nil {
			return Pattern{}, fmt.Errorf("%w: token %d (%q) is not hex",
				ErrMalformed, i, token)
		}

		p.Bytes[i] = byte(v)
	}

	return p, nil
}

// Len returns the number of positions in the pattern.
func (o Pattern) Len() int {
	return len(o.Bytes)
}

// MatchAt reports whether the pattern matches buf starting at off.
func (o Pattern) MatchAt(buf []byte, off int) bool {
	if off < 0 || len(o.Bytes) == 0 || off+len(o.Bytes) > len(buf) {
		return false
	}

	for i, b := range o.Bytes {
		if o.Wildcards[i] {
			continue
		}

		if buf[off+i] != b {
			return false
		}
	}

	return true
}

// Find returns the offset of the leftmost match in buf, or -1 if
// the pattern does not occur.
func (o Pattern) Find(buf []byte) int {
	for i := 0; i+len(o.Bytes) <= len(buf); i++ {
		if o.MatchAt(buf, i) {
			return i
		}
	}

	return -1
}

// FindAll returns the offsets of up to max matches in buf in
// ascending order. A max less than one means no limit. Matches
// may overlap.
func (o Pattern) FindAll(buf []byte, max int) []int {
	var offsets []int

	for i := 0; i+len(o.Bytes) <= len(buf); i++ {
		if !o.MatchAt(buf, i) {
			continue
		}

		offsets = append(offsets, i)

		if max > 0 && len(offsets) == max {
			break
		}
	}

	return offsets
}

// String returns the canonical signature text, using upper-case
// hex digits and "??" for wildcards.
func (o Pattern) String() string {
	parts := make([]string, len(o.Bytes))

	for i, b := range o.Bytes {
		if o.Wildcards[i] {
			parts[i] = wildcardToken
		} else {
			parts[i] = fmt.Sprintf("%02X", b)
		}
	}

	return strings.Join(parts, " ")
}
