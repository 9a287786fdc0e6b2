// Package patch applies signature-located patches to binary files.
//
// A patch is described by a Spec. Engine.Apply finds the leftmost
// occurrence of the Spec's signature in the target file, backs the
// file up, and overwrites the bytes found Spec.Offset bytes after the
// start of the match with Spec.Replacement. Applying the same Spec
// twice is safe: the second attempt finds an existing backup and asks
// the Engine's Decider whether to restore, skip, or abort.
package patch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log"

	"github.com/spf13/afero"

	"gitlab.com/stephen-fox/binpatch/conv"
	"gitlab.com/stephen-fox/binpatch/hexview"
	"gitlab.com/stephen-fox/binpatch/signature"
)

const (
	// contextRadius is the number of bytes shown on either side of
	// the patch region in verbose hexdumps.
	contextRadius = 16

	// previewTail is the number of bytes following the patch region
	// given to a Previewer. It is the maximum length of an x86
	// instruction.
	previewTail = 15
)

// Engine applies Specs. The zero value is not usable; at minimum,
// Decider must be set.
type Engine struct {
	// Fs is the filesystem containing the targets. The operating
	// system's filesystem is used when nil.
	Fs afero.Fs

	// BackupSuffix is appended to a target's path to name its
	// backup. DefaultBackupSuffix is used when empty.
	BackupSuffix string

	// Decider is consulted when a target already has a backup.
	Decider Decider

	// OptLogger, when non-nil, receives progress messages.
	OptLogger *log.Logger

	// OptVerbose, when non-nil, receives hexdumps of the patch
	// region and of every write.
	OptVerbose *log.Logger

	// OptPreviewer, when non-nil, renders the bytes being replaced
	// before they are written. Its output goes to OptLogger.
	OptPreviewer Previewer
}

func (o *Engine) fs() afero.Fs {
	if o.Fs == nil {
		return afero.NewOsFs()
	}

	return o.Fs
}

func (o *Engine) backupSuffix() string {
	if o.BackupSuffix == "" {
		return DefaultBackupSuffix
	}

	return o.BackupSuffix
}

func (o *Engine) logger() *log.Logger {
	if o.OptLogger == nil {
		return log.New(io.Discard, "", 0)
	}

	return o.OptLogger
}

func (o *Engine) verbose() *log.Logger {
	if o.OptVerbose == nil {
		return log.New(io.Discard, "", 0)
	}

	return o.OptVerbose
}

// Apply runs spec through the patch state machine and reports the
// terminal state it reached. Errors are never returned separately;
// they are reported by a Failed Result.
func (o *Engine) Apply(ctx context.Context, spec Spec) Result {
	res := newResult(spec)

	err := spec.Validate()
	if err != nil {
		return res.fail(err)
	}

	if err := ctx.Err(); err != nil {
		return res.fail(err)
	}

	fsys := o.fs()
	logger := o.logger()
	name := spec.DisplayName()

	backups := backupStore{
		fs:         fsys,
		targetPath: spec.Path,
		backupPath: spec.Path + o.backupSuffix(),
	}

	hasBackup, err := backups.exists()
	if err != nil {
		return res.fail(fmt.Errorf("%w: failed to check for existing backup %q - %w",
			ErrBackup, backups.backupPath, err))
	}

	if hasBackup {
		return o.resolveExistingBackup(ctx, res, backups)
	}

	_, err = fsys.Stat(spec.Path)
	switch {
	case err == nil:
		// OK.
	case errors.Is(err, fs.ErrNotExist):
		return res.fail(fmt.Errorf("%w: %s", ErrNotFound, spec.Path))
	default:
		return res.fail(fmt.Errorf("%w: failed to stat %q - %w", ErrRead, spec.Path, err))
	}

	pattern, err := signature.Parse(spec.Signature)
	if err != nil {
		return res.fail(err)
	}

	logger.Printf("patching %s...", name)

	buf, err := LoadFileBuffer(fsys, spec.Path)
	if err != nil {
		return res.fail(fmt.Errorf("%w: %q - %w", ErrRead, spec.Path, err))
	}

	buf.OptLoggerW = o.OptVerbose

	o.verbose().Printf("read %d bytes from %s", buf.Len(), spec.Path)

	if err := ctx.Err(); err != nil {
		return res.fail(err)
	}

	err = backups.create(buf.Bytes(), buf.mode)
	if err != nil {
		return res.fail(fmt.Errorf("%w: %q - %w", ErrBackup, backups.backupPath, err))
	}

	logger.Printf("created backup: %s", backups.backupPath)

	res.MatchOffset = pattern.Find(buf.Bytes())
	if res.MatchOffset < 0 {
		// Nothing was modified, so the backup would only cause
		// the next attempt to think the target was patched.
		err = backups.remove()
		if err != nil {
			logger.Printf("failed to remove unneeded backup %s - %s", backups.backupPath, err)
		}

		return res.fail(fmt.Errorf("%w: %s (%s) - the file may be an incompatible version",
			ErrSignatureNotFound, spec.Path, pattern))
	}

	res.PatchOffset = res.MatchOffset + spec.Offset

	logger.Printf("signature found at offset: 0x%x", res.MatchOffset)

	if !buf.InBounds(res.PatchOffset, len(spec.Replacement)) {
		return res.fail(fmt.Errorf("%w: %d bytes at 0x%x exceeds file length %d",
			ErrOutOfBounds, len(spec.Replacement), res.PatchOffset, buf.Len()))
	}

	res.Original, err = buf.ReadAt(res.PatchOffset, len(spec.Replacement))
	if err != nil {
		return res.fail(fmt.Errorf("%w: %w", ErrOutOfBounds, err))
	}

	logger.Printf("original bytes at 0x%x: %s", res.PatchOffset, conv.BytesToHex(res.Original))
	logger.Printf("patching with bytes: %s", conv.BytesToHex(spec.Replacement))

	if bytes.Equal(res.Original, spec.Replacement) {
		logger.Printf("bytes are already patched, no changes made")

		return res.with(AlreadyPatched)
	}

	o.preview(spec, buf, res.PatchOffset)

	var before string
	if o.OptVerbose != nil {
		before = hexview.Context(buf.Bytes(), res.PatchOffset, len(spec.Replacement), contextRadius)
	}

	if err := ctx.Err(); err != nil {
		return res.fail(err)
	}

	err = buf.WriteAt(res.PatchOffset, spec.Replacement)
	if err != nil {
		return res.fail(fmt.Errorf("%w: %w", ErrOutOfBounds, err))
	}

	if o.OptVerbose != nil {
		after := hexview.Context(buf.Bytes(), res.PatchOffset, len(spec.Replacement), contextRadius)

		o.OptVerbose.Printf("patch region diff:\n%s", hexview.Diff(before, after))
	}

	err = buf.Flush()
	if err != nil {
		return o.writeFailed(res, backups, err)
	}

	logger.Printf("successfully patched %s", name)

	return res.with(Patched)
}

func (o *Engine) resolveExistingBackup(ctx context.Context, res Result, backups backupStore) Result {
	logger := o.logger()

	logger.Printf("backup file found for %s, the file is likely already patched",
		res.Spec.DisplayName())

	if o.Decider == nil {
		return res.fail(errors.New("a backup exists but no decider was configured"))
	}

	choice, err := o.Decider.Decide(ctx, BackupFound{
		Name:       res.Spec.DisplayName(),
		Path:       backups.targetPath,
		BackupPath: backups.backupPath,
	})
	if err != nil {
		return res.fail(fmt.Errorf("failed to decide what to do with existing backup - %w", err))
	}

	switch choice {
	case Restore:
		err = backups.restore()
		if err != nil {
			return res.fail(fmt.Errorf("%w: %q - %w", ErrRestore, backups.backupPath, err))
		}

		logger.Printf("restored original file from %s", backups.backupPath)

		return res.with(Restored)
	case Skip:
		logger.Printf("skipping patch for %s", res.Spec.DisplayName())

		return res.with(Skipped)
	case Abort:
		logger.Printf("aborting as requested")

		return res.with(Aborted)
	default:
		return res.fail(fmt.Errorf("decider returned unknown choice: %s", choice))
	}
}

// writeFailed classifies a failed flush. Only permission errors
// trigger an automatic restore.
func (o *Engine) writeFailed(res Result, backups backupStore, writeErr error) Result {
	if !errors.Is(writeErr, fs.ErrPermission) {
		return res.fail(fmt.Errorf("%w: %q - %w", ErrWrite, res.Spec.Path, writeErr))
	}

	err := fmt.Errorf("%w: %q - %w", ErrWritePermission, res.Spec.Path, writeErr)

	restoreErr := backups.restore()
	if restoreErr != nil {
		o.logger().Printf("failed to restore %s after write failure - %s",
			res.Spec.Path, restoreErr)

		return res.fail(errors.Join(err, fmt.Errorf("%w: %w", ErrRestore, restoreErr)))
	}

	o.logger().Printf("restored %s from backup after write failure", res.Spec.Path)

	return res.fail(err)
}

func (o *Engine) preview(spec Spec, buf *FileBuffer, loc int) {
	previewer := o.OptPreviewer
	if spec.OptPreviewer != nil {
		previewer = spec.OptPreviewer
	}

	if previewer == nil {
		return
	}

	n := len(spec.Replacement)

	end := loc + n + previewTail
	if end > buf.Len() {
		end = buf.Len()
	}

	before, err := buf.ReadAt(loc, end-loc)
	if err != nil {
		o.logger().Printf("failed to read preview region - %s", err)

		return
	}

	after := make([]byte, len(before))
	copy(after, before)
	copy(after, spec.Replacement)

	lines, err := previewer.Preview(before, after, n)
	if err != nil {
		o.logger().Printf("failed to preview patch - %s", err)

		return
	}

	for _, line := range lines {
		o.logger().Println(line)
	}
}
