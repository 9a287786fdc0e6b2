package patch

import (
	"errors"

	"gitlab.com/stephen-fox/binpatch/signature"
)

var (
	// ErrInvalidSpec means the Spec itself is unusable (e.g., an empty
	// path or replacement, or a negative offset).
	ErrInvalidSpec = errors.New("invalid patch spec")

	// ErrNotFound means the target file does not exist.
	ErrNotFound = errors.New("target file not found")

	// ErrMalformedSignature means the signature text failed to parse.
	ErrMalformedSignature = signature.ErrMalformed

	// ErrRead means the target file could not be read.
	ErrRead = errors.New("failed to read target file")

	// ErrBackup means the backup file could not be created. The target
	// is never modified when this occurs.
	ErrBackup = errors.New("failed to create backup")

	// ErrSignatureNotFound means the signature does not occur in the
	// target, which usually indicates an incompatible file version.
	ErrSignatureNotFound = errors.New("signature not found")

	// ErrOutOfBounds means the patch region extends past the end of
	// the target file.
	ErrOutOfBounds = errors.New("patch region out of bounds")

	// ErrWritePermission means the patched data could not be written
	// due to access rights. The target is restored from its backup
	// before this error is reported.
	ErrWritePermission = errors.New("permission denied while writing target")

	// ErrWrite means the patched data could not be written for a
	// reason other than access rights. The target is not restored.
	ErrWrite = errors.New("failed to write target")

	// ErrRestore means the target could not be restored from
	// its backup.
	ErrRestore = errors.New("failed to restore from backup")
)
