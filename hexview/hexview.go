// Package hexview renders hexdumps of regions of interest within
// larger buffers, labeled with their real offsets.
package hexview

import (
	"fmt"
	"strings"

	diffpatch "github.com/sergi/go-diff/diffmatchpatch"
)

const bytesPerRow = 16

// Context returns a hexdump of the n bytes at off in buf, plus up
// to radius bytes on either side. Rows are aligned to 16 bytes and
// labeled with their offsets within buf.
func Context(buf []byte, off int, n int, radius int) string {
	if len(buf) == 0 || off < 0 || off >= len(buf) {
		return ""
	}

	if n < 0 {
		n = 0
	}

	if radius < 0 {
		radius = 0
	}

	start := off - radius
	if start < 0 {
		start = 0
	}

	start -= start % bytesPerRow

	end := off + n + radius
	if end > len(buf) {
		end = len(buf)
	}

	return Dump(buf[start:end], start)
}

// Dump is like hex.Dump, except the offset column starts at base.
func Dump(data []byte, base int) string {
	var sb strings.Builder

	for rowStart := 0; rowStart < len(data); rowStart += bytesPerRow {
		rowEnd := rowStart + bytesPerRow
		if rowEnd > len(data) {
			rowEnd = len(data)
		}

		row := data[rowStart:rowEnd]

		fmt.Fprintf(&sb, "%08x ", base+rowStart)

		for i := 0; i < bytesPerRow; i++ {
			if i == bytesPerRow/2 {
				sb.WriteByte(' ')
			}

			if i < len(row) {
				fmt.Fprintf(&sb, " %02x", row[i])
			} else {
				sb.WriteString("   ")
			}
		}

		sb.WriteString("  |")

		for _, b := range row {
			if b < 32 || b > 126 {
				sb.WriteByte('.')
			} else {
				sb.WriteByte(b)
			}
		}

		sb.WriteString("|\n")
	}

	return sb.String()
}

// Diff compares two multi-line strings (typically the output of
// Context before and after a write) line by line. Each line of the
// result is prefixed with "-" if it only appears in before, "+" if
// it only appears in after, or " " if it is unchanged.
func Diff(before string, after string) string {
	dmp := diffpatch.New()

	beforeChars, afterChars, lines := dmp.DiffLinesToChars(before, after)

	diffs := dmp.DiffCharsToLines(dmp.DiffMain(beforeChars, afterChars, false), lines)

	var sb strings.Builder

	for _, diff := range diffs {
		var prefix string

		switch diff.Type {
		case diffpatch.DiffDelete:
			prefix = "-"
		case diffpatch.DiffInsert:
			prefix = "+"
		default:
			prefix = " "
		}

		for _, line := range strings.SplitAfter(diff.Text, "\n") {
			if line == "" {
				continue
			}

			sb.WriteString(prefix + line)

			if !strings.HasSuffix(line, "\n") {
				sb.WriteByte('\n')
			}
		}
	}

	return sb.String()
}
