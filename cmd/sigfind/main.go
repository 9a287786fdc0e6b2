// sigfind finds a byte signature in a file and displays each match.
// It never modifies the file. It is useful for checking that
// a signature is unique before using it with binpatch.
package main

import (
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"strings"

	"github.com/spf13/afero"
	"github.com/spf13/pflag"

	"gitlab.com/stephen-fox/binpatch/asmkit"
	"gitlab.com/stephen-fox/binpatch/conv"
	"gitlab.com/stephen-fox/binpatch/hexview"
	"gitlab.com/stephen-fox/binpatch/signature"
)

const (
	signatureArg = "signature"
	maxArg       = "max"
	contextArg   = "context"
	archArg      = "arch"
	quietArg     = "quiet"
	helpArg      = "help"

	appName = "sigfind"
	usage   = appName + `

DESCRIPTION
  Finds a byte signature in a file and displays a hexdump of each match.
  "??" matches any byte. The file is never modified.

USAGE
  ` + appName + ` [options] -s SIGNATURE FILE

EXAMPLES
  Check that a signature is unique:
    $ ` + appName + ` -s "33 D2 48 8B CB E8 ?? ?? ?? ?? 83 F8 06" AltA2DP.sys

OPTIONS
`
)

var errNoMatches = errors.New("signature not found")

func main() {
	log.SetFlags(0)

	err := mainWithError()
	if err != nil {
		log.Fatalln("fatal:", err)
	}
}

func mainWithError() error {
	sig := pflag.StringP(
		signatureArg,
		"s",
		"",
		"The signature to search for")

	maxMatches := pflag.IntP(
		maxArg,
		"n",
		10,
		"The maximum number of matches to display (0 means no limit)")

	radius := pflag.IntP(
		contextArg,
		"c",
		16,
		"The number of bytes to display around each match")

	arch := pflag.String(
		archArg,
		"",
		fmt.Sprintf("Disassemble each match for a platform (%s)",
			strings.Join(asmkit.Platforms(), ", ")))

	quiet := pflag.BoolP(
		quietArg,
		"q",
		false,
		"Only output match offsets without any visualization")

	help := pflag.BoolP(
		helpArg,
		"h",
		false,
		"Display this information")

	pflag.Parse()

	if *help {
		os.Stderr.WriteString(usage)
		pflag.PrintDefaults()
		os.Exit(1)
	}

	if pflag.NArg() != 1 {
		return errors.New("please specify exactly one file to search")
	}

	pattern, err := signature.Parse(*sig)
	if err != nil {
		return err
	}

	f := &finder{
		out:    os.Stdout,
		max:    *maxMatches,
		radius: *radius,
		quiet:  *quiet,
	}

	if *arch != "" {
		config, err := asmkit.ConfigForPlatform(*arch)
		if err != nil {
			return err
		}

		f.optDisass, err = asmkit.NewDisassembler(config)
		if err != nil {
			return err
		}
	}

	return f.find(afero.NewOsFs(), pflag.Arg(0), pattern)
}

type finder struct {
	out       io.Writer
	max       int
	radius    int
	quiet     bool
	optDisass *asmkit.Disassembler
}

func (o *finder) find(fsys afero.Fs, path string, pattern signature.Pattern) error {
	data, err := afero.ReadFile(fsys, path)
	if err != nil {
		return fmt.Errorf("failed to read file - %w", err)
	}

	hits := pattern.FindAll(data, o.max)
	if len(hits) == 0 {
		return fmt.Errorf("%w in %s (%s)", errNoMatches, path, pattern)
	}

	for i, hit := range hits {
		if o.quiet {
			fmt.Fprintf(o.out, "0x%x\n", hit)

			continue
		}

		fmt.Fprintf(o.out, "match %d at 0x%x-0x%x (%d bytes)\n",
			i+1, hit, hit+pattern.Len(), pattern.Len())

		fmt.Fprint(o.out, hexview.Context(data, hit, pattern.Len(), o.radius))

		if o.optDisass != nil {
			o.disassemble(data[hit:hit+pattern.Len()])
		}

		fmt.Fprintln(o.out)
	}

	if len(hits) > 1 && !o.quiet {
		log.Printf("warning: signature is not unique, only the first match (0x%x) would be patched",
			hits[0])
	}

	return nil
}

func (o *finder) disassemble(data []byte) {
	err := o.optDisass.All(data, func(inst asmkit.Inst) error {
		fmt.Fprintf(o.out, "  %-24s %s\n", conv.BytesToHex(inst.Bin), inst.Dis)

		return nil
	})
	if err != nil {
		fmt.Fprintf(o.out, "  (disassembly stopped - %s)\n", err)
	}
}
