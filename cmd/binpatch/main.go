// binpatch patches binary files by locating a byte signature and
// overwriting bytes at a fixed offset from it. A backup of each file
// is created before it is modified.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/spf13/pflag"

	"gitlab.com/stephen-fox/binpatch/asmkit"
	"gitlab.com/stephen-fox/binpatch/manifest"
	"gitlab.com/stephen-fox/binpatch/patch"
	"gitlab.com/stephen-fox/binpatch/prompt"
)

const (
	manifestArg  = "manifest"
	fileArg      = "file"
	signatureArg = "signature"
	replaceArg   = "replace"
	offsetArg    = "offset"
	onBackupArg  = "on-backup"
	suffixArg    = "suffix"
	archArg      = "arch"
	verboseArg   = "verbose"
	helpArg      = "help"

	askOnBackup = "ask"

	appName = "binpatch"
	usage   = appName + `

DESCRIPTION
  Finds the first occurrence of a byte signature in a file and replaces
  the bytes found at an offset from it. The original file is saved next
  to it (e.g., "file.exe.bak") before it is modified. If a backup already
  exists, the file was likely patched before and ` + appName + ` asks
  whether to restore the backup, skip the file, or abort.

  Signatures are space-separated hex bytes. "??" matches any byte.

USAGE
  ` + appName + ` [options] -m manifest.yaml
  ` + appName + ` [options] -f FILE -s SIGNATURE -r HEX [-o OFFSET]

EXAMPLES
  Invert a conditional jump that follows a comparison:
    $ ` + appName + ` -f AltA2dpConfig.exe -s "3B C8 7D 2D 41 83 F9 07 7F" -o 8 -r 7E

  Apply a manifest, restoring any previously patched files:
    $ ` + appName + ` -m patches.yaml --` + onBackupArg + ` restore

OPTIONS
`
)

type usageError struct {
	err error
}

func (o usageError) Error() string {
	return o.err.Error()
}

func main() {
	log.SetFlags(0)

	err := mainWithError()
	if err != nil {
		var usageErr usageError
		if errors.As(err, &usageErr) {
			log.Println("fatal:", err)
			os.Exit(2)
		}

		log.Fatalln("fatal:", err)
	}
}

func mainWithError() error {
	manifestPath := pflag.StringP(
		manifestArg,
		"m",
		"",
		"Apply the patches described by a YAML manifest `file`")

	filePath := pflag.StringP(
		fileArg,
		"f",
		"",
		"The `file` to patch")

	sig := pflag.StringP(
		signatureArg,
		"s",
		"",
		"The signature to search for (e.g., \"48 8B ?? 05\")")

	replaceHex := pflag.StringP(
		replaceArg,
		"r",
		"",
		"The replacement bytes, hex-encoded")

	offset := pflag.IntP(
		offsetArg,
		"o",
		0,
		"The replacement's offset from the start of the signature")

	onBackup := pflag.String(
		onBackupArg,
		askOnBackup,
		"What to do when a backup already exists ('ask', 'restore', 'skip', 'abort')")

	suffix := pflag.String(
		suffixArg,
		patch.DefaultBackupSuffix,
		"The backup file name suffix")

	arch := pflag.String(
		archArg,
		"",
		fmt.Sprintf("Disassemble the patched bytes for a platform (%s)",
			strings.Join(asmkit.Platforms(), ", ")))

	verbose := pflag.BoolP(
		verboseArg,
		"v",
		false,
		"Enable verbose logging (hexdumps of modified regions)")

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

	if pflag.NArg() > 0 {
		return usageError{err: fmt.Errorf("unexpected arguments: %q", pflag.Args())}
	}

	decider, err := deciderFor(*onBackup)
	if err != nil {
		return usageError{err: err}
	}

	engine := &patch.Engine{
		BackupSuffix: *suffix,
		Decider:      decider,
		OptLogger:    log.Default(),
	}

	if *verbose {
		engine.OptVerbose = log.Default()
	}

	if *arch != "" {
		engine.OptPreviewer, err = asmkit.NewPreviewer(*arch)
		if err != nil {
			return usageError{err: err}
		}
	}

	var specs []patch.Spec
	title := appName

	switch {
	case *manifestPath != "" && *filePath != "":
		return usageError{err: errors.New("please specify either a manifest (-m) or a file (-f), not both")}
	case *manifestPath != "":
		m, err := manifest.Load(*manifestPath)
		if err != nil {
			return err
		}

		if m.Name != "" {
			title = m.Name
		}

		if m.BackupSuffix != "" && !pflag.CommandLine.Changed(suffixArg) {
			engine.BackupSuffix = m.BackupSuffix
		}

		specs, err = m.Specs()
		if err != nil {
			return err
		}
	case *filePath != "":
		if *sig == "" || *replaceHex == "" {
			return usageError{err: errors.New("please specify a signature (-s) and replacement bytes (-r)")}
		}

		spec, err := patch.NewSpec(*filePath, *sig, *replaceHex, *offset)
		if err != nil {
			return usageError{err: err}
		}

		specs = append(specs, spec)
	default:
		return usageError{err: errors.New("please specify a manifest (-m) or a file (-f)")}
	}

	ctx, cancelFn := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancelFn()

	palette := prompt.NewPalette(os.Stdout)

	fmt.Printf("%s %s\n", palette.Info(), title)

	runner := &manifest.Runner{
		Engine:    engine,
		OptLogger: log.Default(),
		OptOnResult: func(res patch.Result) {
			printResult(os.Stdout, palette, res)
		},
	}

	summary := runner.Run(ctx, specs)

	if !summary.OK() {
		fmt.Printf("%s %s\n", palette.Error(), summary)

		if summary.Aborted {
			return errors.New("aborted")
		}

		return errors.New("one or more patches were not applied")
	}

	fmt.Printf("%s %s\n", palette.Success(), summary)

	return nil
}

func deciderFor(onBackup string) (patch.Decider, error) {
	if onBackup == askOnBackup {
		return prompt.NewTerminal(os.Stdin, os.Stdout), nil
	}

	choice, err := patch.ParseChoice(onBackup)
	if err != nil {
		return nil, fmt.Errorf("invalid -%s value - %w", onBackupArg, err)
	}

	return prompt.Always(choice), nil
}

func printResult(w io.Writer, palette prompt.Palette, res patch.Result) {
	fmt.Fprintf(w, "%s %s\n", palette.Outcome(res.Outcome), res)

	switch {
	case errors.Is(res.Err, patch.ErrWritePermission):
		fmt.Fprintf(w, "%s please re-run %s with administrator privileges\n",
			palette.Warn(), appName)
	case errors.Is(res.Err, patch.ErrBackup):
		fmt.Fprintf(w, "%s please ensure you have write permissions in %s\n",
			palette.Warn(), filepath.Dir(res.Spec.Path))
	}
}
