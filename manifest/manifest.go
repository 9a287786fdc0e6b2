// Package manifest loads batches of patches from YAML files and
// applies them in order.
//
// Example manifest:
//
//	name: Alternative A2DP Driver Patcher
//	base_dir: .
//	tasks:
//	  - name: config tool
//	    file: AltA2dpConfig.exe
//	    signature: "3B C8 7D 2D 41 83 F9 07 7F"
//	    offset: 8
//	    replace: "7E"
//	    arch: x86_64
package manifest

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"gitlab.com/stephen-fox/binpatch/asmkit"
	"gitlab.com/stephen-fox/binpatch/conv"
	"gitlab.com/stephen-fox/binpatch/patch"
	"gitlab.com/stephen-fox/binpatch/signature"
)

// Manifest is a named, ordered list of patch tasks.
type Manifest struct {
	Name string `yaml:"name"`

	// BaseDir is the directory task files are relative to. When it
	// is relative itself, it is resolved against the directory
	// containing the manifest file.
	BaseDir string `yaml:"base_dir,omitempty"`

	// BackupSuffix overrides patch.DefaultBackupSuffix.
	BackupSuffix string `yaml:"backup_suffix,omitempty"`

	// Arch is the default disassembly preview platform for tasks
	// that do not specify one.
	Arch string `yaml:"arch,omitempty"`

	Tasks []Task `yaml:"tasks"`

	dir string
}

// Task describes a single patch.
type Task struct {
	Name      string `yaml:"name,omitempty"`
	File      string `yaml:"file"`
	Signature string `yaml:"signature"`
	Offset    int    `yaml:"offset"`
	Replace   string `yaml:"replace"`
	Arch      string `yaml:"arch,omitempty"`
}

// Label returns the task's name, or its file if it has no name.
func (o Task) Label() string {
	if o.Name != "" {
		return o.Name
	}

	return o.File
}

// Load reads and validates the manifest at path.
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest %s - %w", path, err)
	}

	m, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse manifest %s - %w", path, err)
	}

	m.dir = filepath.Dir(path)

	return m, nil
}

// Parse decodes and validates manifest YAML. Unknown fields are
// rejected. Relative base directories are resolved against the
// current working directory.
func Parse(data []byte) (*Manifest, error) {
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)

	var m Manifest

	err := decoder.Decode(&m)
	switch {
	case err == nil:
		// OK.
	case errors.Is(err, io.EOF):
		return nil, errors.New("manifest is empty")
	default:
		return nil, err
	}

	err = m.Validate()
	if err != nil {
		return nil, err
	}

	return &m, nil
}

// Validate reports every problem with the manifest.
func (o *Manifest) Validate() error {
	if len(o.Tasks) == 0 {
		return errors.New("manifest contains no tasks")
	}

	var errs []error

	if o.Arch != "" {
		_, err := asmkit.ConfigForPlatform(o.Arch)
		if err != nil {
			errs = append(errs, fmt.Errorf("arch: %w", err))
		}
	}

	for i, task := range o.Tasks {
		err := task.validate()
		if err != nil {
			errs = append(errs, fmt.Errorf("task %d (%s): %w", i+1, task.Label(), err))
		}
	}

	return errors.Join(errs...)
}

func (o Task) validate() error {
	var errs []error

	if o.File == "" {
		errs = append(errs, errors.New("file is required"))
	}

	if o.Offset < 0 {
		errs = append(errs, fmt.Errorf("offset must not be negative (%d)", o.Offset))
	}

	_, err := signature.Parse(o.Signature)
	if err != nil {
		errs = append(errs, fmt.Errorf("signature: %w", err))
	}

	_, err = conv.HexToBytes(o.Replace)
	if err != nil {
		errs = append(errs, fmt.Errorf("replace: %w", err))
	}

	if o.Arch != "" {
		_, err := asmkit.ConfigForPlatform(o.Arch)
		if err != nil {
			errs = append(errs, fmt.Errorf("arch: %w", err))
		}
	}

	return errors.Join(errs...)
}

// Dir returns the directory task files are relative to.
func (o *Manifest) Dir() string {
	if filepath.IsAbs(o.BaseDir) {
		return o.BaseDir
	}

	return filepath.Join(o.dir, o.BaseDir)
}

// Specs converts the manifest's tasks into patch.Specs, in order.
func (o *Manifest) Specs() ([]patch.Spec, error) {
	specs := make([]patch.Spec, 0, len(o.Tasks))

	for i, task := range o.Tasks {
		path := task.File
		if !filepath.IsAbs(path) {
			path = filepath.Join(o.Dir(), path)
		}

		spec, err := patch.NewSpec(path, task.Signature, task.Replace, task.Offset)
		if err != nil {
			return nil, fmt.Errorf("task %d (%s): %w", i+1, task.Label(), err)
		}

		spec.Name = task.Name

		arch := task.Arch
		if arch == "" {
			arch = o.Arch
		}

		if arch != "" {
			previewer, err := asmkit.NewPreviewer(arch)
			if err != nil {
				return nil, fmt.Errorf("task %d (%s): %w", i+1, task.Label(), err)
			}

			spec.OptPreviewer = previewer
		}

		specs = append(specs, spec)
	}

	return specs, nil
}
