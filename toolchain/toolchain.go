package toolchain

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"gosshield/artifact"
	"gosshield/common"
)

// Tool is an external binary with the arguments placed before the operands.
type Tool struct {
	Binary string
	Args   []string
}

// Settings describes the external collaborators.
type Settings struct {
	Compiler Tool
	Stripper Tool
	Packer   Tool

	// ObjectStripArgs replace Stripper.Args when stripping a relocatable
	// object so that it can still be linked.
	ObjectStripArgs []string

	// PackerDir is the working directory of the packer. Empty means the
	// directory of the output file.
	PackerDir string
}

// Toolchain drives the compiler, stripper and packer through a Runner.
type Toolchain struct {
	settings Settings
	runner   Runner
	log      *zap.Logger
}

func New(settings Settings, runner Runner, log *zap.Logger) *Toolchain {
	if log == nil {
		log = zap.NewNop()
	}
	return &Toolchain{settings: settings, runner: runner, log: log}
}

// Compile turns a C source into assembly next to it.
func (t *Toolchain) Compile(ctx context.Context, src artifact.Artifact) (artifact.Artifact, error) {
	return t.transition(ctx, "compiler", src, common.StageAssembly, "-S", src.Name())
}

// Assemble turns assembly into a relocatable object next to it.
func (t *Toolchain) Assemble(ctx context.Context, asm artifact.Artifact) (artifact.Artifact, error) {
	return t.transition(ctx, "assembler", asm, common.StageObject, "-c", asm.Name())
}

// Link produces an executable from a single object.
func (t *Toolchain) Link(ctx context.Context, obj artifact.Artifact) (artifact.Artifact, error) {
	out := artifact.Sibling(obj, common.StageExecutable)
	return t.transition(ctx, "linker", obj, common.StageExecutable, obj.Name(), "-o", filepath.Base(out))
}

func (t *Toolchain) transition(ctx context.Context, role string, in artifact.Artifact, next common.Stage, operands ...string) (artifact.Artifact, error) {
	out := artifact.Sibling(in, next)
	cmd := Command{
		Tool:   role,
		Binary: t.settings.Compiler.Binary,
		Args:   join(t.settings.Compiler.Args, operands),
		Dir:    in.Dir(),
	}
	if _, err := t.runner.Run(ctx, cmd); err != nil {
		return nil, err
	}
	if err := expectOutput(cmd, out); err != nil {
		return nil, err
	}
	return artifact.New(next, out)
}

// Strip removes symbols from a in place.
func (t *Toolchain) Strip(ctx context.Context, a artifact.Artifact) error {
	args := t.settings.Stripper.Args
	if a.Stage() == common.StageObject {
		args = t.settings.ObjectStripArgs
	}
	_, err := t.runner.Run(ctx, Command{
		Tool:   "stripper",
		Binary: t.settings.Stripper.Binary,
		Args:   join(args, []string{a.Name()}),
		Dir:    a.Dir(),
	})
	return err
}

// Pack runs the packer with input as payload and writes output.
func (t *Toolchain) Pack(ctx context.Context, input, output string) error {
	dir := t.settings.PackerDir
	if dir == "" {
		dir = filepath.Dir(output)
	}
	cmd := Command{
		Tool:   "packer",
		Binary: t.settings.Packer.Binary,
		Args:   join(t.settings.Packer.Args, []string{input, "-o", output}),
		Dir:    dir,
	}
	if _, err := t.runner.Run(ctx, cmd); err != nil {
		return err
	}
	return expectOutput(cmd, output)
}

// Wrap moves payload to dest+".tmp", deletes dest, packs the payload into
// dest and removes the temporary copy. dest is only present afterwards if the
// packer wrote it. When packing fails the payload is moved back, so no ".tmp"
// file is left either way.
func (t *Toolchain) Wrap(ctx context.Context, payload, dest string) error {
	tmp := dest + ".tmp"
	if err := os.Rename(payload, tmp); err != nil {
		return fmt.Errorf("failed to stage payload: %w", err)
	}

	err := os.Remove(dest)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		err = fmt.Errorf("failed to remove unwrapped executable: %w", err)
	} else {
		err = t.Pack(ctx, tmp, dest)
	}
	if err != nil {
		if rerr := os.Rename(tmp, payload); rerr != nil {
			err = multierr.Append(err, fmt.Errorf("failed to restore payload: %w", rerr))
		}
		return err
	}

	if err := os.Remove(tmp); err != nil && !errors.Is(err, os.ErrNotExist) {
		t.log.Warn("could not remove packer input", zap.String("path", tmp), zap.Error(err))
	}
	return nil
}

func expectOutput(cmd Command, path string) error {
	if _, err := os.Stat(path); err != nil {
		return &common.ToolchainError{
			Tool: cmd.Tool,
			Args: append([]string{cmd.Binary}, cmd.Args...),
			Dir:  cmd.Dir,
			Err:  fmt.Errorf("expected output %s was not produced", filepath.Base(path)),
		}
	}
	return nil
}

func join(prefix, operands []string) []string {
	args := make([]string, 0, len(prefix)+len(operands))
	args = append(args, prefix...)
	return append(args, operands...)
}
