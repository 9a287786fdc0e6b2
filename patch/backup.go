package patch

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/spf13/afero"
)

// DefaultBackupSuffix is appended to a target's path to name
// its backup file.
const DefaultBackupSuffix = ".bak"

// backupStore manages the backup file of a single target. A backup
// is the target's pre-patch byte image and has no other metadata.
type backupStore struct {
	fs         afero.Fs
	targetPath string
	backupPath string
}

func (o backupStore) exists() (bool, error) {
	_, err := o.fs.Stat(o.backupPath)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, fs.ErrNotExist):
		return false, nil
	default:
		return false, err
	}
}

// create writes data to a new backup file. It refuses to
// overwrite an existing backup.
func (o backupStore) create(data []byte, mode fs.FileMode) error {
	f, err := o.fs.OpenFile(o.backupPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, mode)
	if err != nil {
		return err
	}

	_, err = f.Write(data)
	if err != nil {
		_ = f.Close()
		_ = o.fs.Remove(o.backupPath)

		return fmt.Errorf("failed to write backup data - %w", err)
	}

	err = f.Close()
	if err != nil {
		_ = o.fs.Remove(o.backupPath)

		return fmt.Errorf("failed to close backup file - %w", err)
	}

	return nil
}

// restore copies the backup over the target. The backup is left
// in place.
func (o backupStore) restore() error {
	info, err := o.fs.Stat(o.backupPath)
	if err != nil {
		return err
	}

	data, err := afero.ReadFile(o.fs, o.backupPath)
	if err != nil {
		return fmt.Errorf("failed to read backup - %w", err)
	}

	err = afero.WriteFile(o.fs, o.targetPath, data, info.Mode().Perm())
	if err != nil {
		return fmt.Errorf("failed to write backup data to target - %w", err)
	}

	return nil
}

func (o backupStore) remove() error {
	return o.fs.Remove(o.backupPath)
}
