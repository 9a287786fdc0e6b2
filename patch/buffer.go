package patch

import (
	"encoding/hex"
	"fmt"
	"io/fs"
	"log"

	"github.com/spf13/afero"
)

// FileBuffer is the in-memory image of a target file. It is loaded
// in full, modified in place, and written back in full by Flush.
type FileBuffer struct {
	fs   afero.Fs
	path string
	mode fs.FileMode
	data []byte

	// OptLoggerW is an optional logger that, when non-nil, will
	// receive hexdump-style output when WriteAt is called.
	OptLoggerW *log.Logger
}

// LoadFileBuffer reads the file at path from fsys.
func LoadFileBuffer(fsys afero.Fs, path string) (*FileBuffer, error) {
	info, err := fsys.Stat(path)
	if err != nil {
		return nil, err
	}

	data, err := afero.ReadFile(fsys, path)
	if err != nil {
		return nil, err
	}

	return &FileBuffer{
		fs:   fsys,
		path: path,
		mode: info.Mode().Perm(),
		data: data,
	}, nil
}

// Path returns the path of the underlying file.
func (o *FileBuffer) Path() string {
	return o.path
}

// Bytes returns the buffer's contents. The slice aliases the buffer.
func (o *FileBuffer) Bytes() []byte {
	return o.data
}

// Len returns the buffer's length.
func (o *FileBuffer) Len() int {
	return len(o.data)
}

// InBounds reports whether [off, off+n) lies within the buffer.
func (o *FileBuffer) InBounds(off int, n int) bool {
	return off >= 0 && n >= 0 && off <= len(o.data) && n <= len(o.data)-off
}

// ReadAt returns a copy of n bytes starting at off.
func (o *FileBuffer) ReadAt(off int, n int) ([]byte, error) {
	if !o.InBounds(off, n) {
		return nil, fmt.Errorf("read of %d bytes at 0x%x exceeds buffer length %d",
			n, off, len(o.data))
	}

	cp := make([]byte, n)

	copy(cp, o.data[off:off+n])

	return cp, nil
}

// WriteAt overwrites len(p) bytes starting at off. It never grows
// the buffer.
func (o *FileBuffer) WriteAt(off int, p []byte) error {
	if !o.InBounds(off, len(p)) {
		return fmt.Errorf("write of %d bytes at 0x%x exceeds buffer length %d",
			len(p), off, len(o.data))
	}

	copy(o.data[off:], p)

	if o.OptLoggerW != nil {
		hexDump := hex.Dump(p)

		if len(hexDump) <= 1 {
			// hex.Dump always adds a newline.
			hexDump = "<empty-value>"
		} else {
			hexDump = hexDump[0 : len(hexDump)-1]
		}

		o.OptLoggerW.Printf("patch.buffer: wrote at 0x%x:\n%s", off, hexDump)
	}

	return nil
}

// Flush writes the entire buffer back to its file.
func (o *FileBuffer) Flush() error {
	return afero.WriteFile(o.fs, o.path, o.data, o.mode)
}
