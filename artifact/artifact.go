package artifact

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gosshield/common"
	"gosshield/source"
)

// Artifact is one file at a fixed pipeline stage. Moving to another stage
// always yields a new Artifact.
type Artifact interface {
	Name() string
	Path() string
	Dir() string
	Stage() common.Stage
	Delete() error
}

type file struct {
	path string
}

func (f file) Name() string { return filepath.Base(f.path) }
func (f file) Path() string { return f.path }
func (f file) Dir() string  { return filepath.Dir(f.path) }

// Delete removes the file. A file that is already gone is not an error.
func (f file) Delete() error {
	if err := os.Remove(f.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to delete %s: %w", f.path, err)
	}
	return nil
}

// Source is a C translation unit together with its declaration model.
type Source struct {
	file
	model *source.Model
}

func (*Source) Stage() common.Stage { return common.StageSource }

// Model parses the file on first use.
func (s *Source) Model() (*source.Model, error) {
	if s.model != nil {
		return s.model, nil
	}
	m, err := source.Parse(s.path)
	if err != nil {
		return nil, err
	}
	s.model = m
	return m, nil
}

type Assembly struct{ file }

func (*Assembly) Stage() common.Stage { return common.StageAssembly }

type Object struct{ file }

func (*Object) Stage() common.Stage { return common.StageObject }

type Executable struct{ file }

func (*Executable) Stage() common.Stage { return common.StageExecutable }

// New wraps path as an artifact of the given stage without touching the disk.
func New(stage common.Stage, path string) (Artifact, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", path, err)
	}
	f := file{path: abs}
	switch stage {
	case common.StageSource:
		return &Source{file: f}, nil
	case common.StageAssembly:
		return &Assembly{f}, nil
	case common.StageObject:
		return &Object{f}, nil
	case common.StageExecutable:
		return &Executable{f}, nil
	}
	return nil, fmt.Errorf("unknown stage %d", stage)
}

// FromPath validates a user supplied input and wraps it by extension.
func FromPath(path string) (Artifact, error) {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, &common.InputError{Path: path, Reason: "file does not exist", Err: err}
		}
		return nil, &common.InputError{Path: path, Err: err}
	}
	if info.IsDir() {
		return nil, &common.InputError{Path: path, Reason: "is a directory", Err: common.ErrUnsupportedInput}
	}
	stage, ok := common.StageForExtension(filepath.Ext(path))
	if !ok {
		return nil, &common.InputError{
			Path:   path,
			Reason: fmt.Sprintf("unsupported extension %q", filepath.Ext(path)),
			Err:    common.ErrUnsupportedInput,
		}
	}
	return New(stage, path)
}

// OutputPath names the artifact persisted for inputName at stage.
func OutputPath(outDir, inputName string, stage common.Stage) string {
	return filepath.Join(outDir, common.TrimExtension(filepath.Base(inputName))+stage.Extension())
}

// Sibling is the path a toolchain step writes next to a when producing stage.
func Sibling(a Artifact, stage common.Stage) string {
	return OutputPath(a.Dir(), a.Name(), stage)
}
