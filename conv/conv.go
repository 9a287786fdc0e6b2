// Package conv converts between hex text and binary data.
package conv

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"strings"
	"unicode"
)

var (
	// ErrMalformedHex is wrapped by errors returned by HexToBytes.
	ErrMalformedHex = errors.New("malformed hex string")

	// DefaultExitFn is invoked by functions and methods ending in
	// the "OrExit" suffix when an error occurs.
	DefaultExitFn = func(err error) {
		log.Fatalln(err)
	}
)

// HexToBytesOrExit calls HexToBytes and calls DefaultExitFn if an
// error occurs.
func HexToBytesOrExit(str string) []byte {
	b, err := HexToBytes(str)
	if err != nil {
		DefaultExitFn(fmt.Errorf("conv: failed to decode %q - %w", str, err))
	}

	return b
}

// HexToBytes decodes a string of hex digits into a []byte.
//
// Separators are not required, but whitespace is ignored so that
// "B8 06 00 00 00" and "B806000000" decode to the same data. Bytes
// may also be written in C string notation (e.g., "\xb8\x06").
// Anything else, an odd number of digits, or an empty string is
// an error.
func HexToBytes(str string) ([]byte, error) {
	digits := bytes.NewBuffer(make([]byte, 0, len(str)))

	for i := 0; i < len(str); i++ {
		b := str[i]

		switch {
		case unicode.IsSpace(rune(b)):
			continue
		case b == '\\':
			if i+1 >= len(str) || str[i+1] != 'x' {
				return nil, fmt.Errorf("%w: unexpected '\\' at index %d", ErrMalformedHex, i)
			}

			i++

			continue
		case isHexChar(b):
			digits.WriteByte(b)
		default:
			return nil, fmt.Errorf("%w: unexpected character %q at index %d",
				ErrMalformedHex, b, i)
		}
	}

	if digits.Len() == 0 {
		return nil, fmt.Errorf("%w: no hex digits", ErrMalformedHex)
	}

	if digits.Len()%2 != 0 {
		return nil, fmt.Errorf("%w: odd number of hex digits (%d)",
			ErrMalformedHex, digits.Len())
	}

	decoded := make([]byte, hex.DecodedLen(digits.Len()))

	_, err := hex.Decode(decoded, digits.Bytes())
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrMalformedHex, err)
	}

	return decoded, nil
}

// BytesToHex formats b as space-separated, upper-case hex pairs
// (e.g., "B8 06 00 00 00").
func BytesToHex(b []byte) string {
	if len(b) == 0 {
		return ""
	}

	var sb strings.Builder

	sb.Grow(len(b) * 3)

	for i, v := range b {
		if i > 0 {
			sb.WriteByte(' ')
		}

		fmt.Fprintf(&sb, "%02X", v)
	}

	return sb.String()
}

func isHexChar(b byte) bool {
	return (b >= 'a' && b <= 'f') || (b >= 'A' && b <= 'F') || (b >= '0' && b <= '9')
}
