package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"gosshield/artifact"
	"gosshield/common"
	"gosshield/technique"
)

// Working copies of the protected build and of the wrapper payload live in
// separate subdirectories so their file names never collide.
const (
	protectedDir = "protected"
	payloadDir   = "payload"
)

// run is the state of one Generate call.
type run struct {
	*Orchestrator

	id         string
	input      artifact.Artifact
	target     common.Stage
	resolution *technique.Resolution
	outDir     string
	workDir    string
	log        *zap.Logger
	report     *Report
}

func (r *run) execute(ctx context.Context) error {
	final, err := r.build(ctx, filepath.Join(r.workDir, protectedDir), r.target, true)
	if err != nil {
		return err
	}
	if r.target == common.StageExecutable {
		if err := r.protectExecutable(ctx, final); err != nil {
			return err
		}
	}
	return r.persist(final)
}

// build copies the input into dir and walks it forward to target. Only the
// protected build applies binary techniques and records results; the
// wrapper payload gets the source techniques alone.
func (r *run) build(ctx context.Context, dir string, target common.Stage, protected bool) (artifact.Artifact, error) {
	current, err := r.workingCopy(dir)
	if err != nil {
		return nil, err
	}

	if src, ok := current.(*artifact.Source); ok {
		if err := r.patchSource(src, protected); err != nil {
			return nil, err
		}
		if target == common.StageSource {
			return current, nil
		}
		asm, err := r.tools.Compile(ctx, current)
		if err != nil {
			return nil, err
		}
		r.discard(current)
		current = asm
	}

	if current.Stage() == common.StageAssembly {
		if protected && r.input.Stage() == common.StageAssembly {
			r.noteAssemblyInput()
		}
		if target == common.StageAssembly {
			return current, nil
		}
		obj, err := r.tools.Assemble(ctx, current)
		if err != nil {
			return nil, err
		}
		r.discard(current)
		current = obj
	}

	if current.Stage() == common.StageObject {
		if protected && r.resolution.Active(common.StripSymbols) {
			if err := r.tools.Strip(ctx, current); err != nil {
				return nil, err
			}
			r.record(common.NewApplied("relocatable symbols stripped", 0).For(common.StripSymbols, common.StageObject))
		}
		if target == common.StageObject {
			return current, nil
		}
		exe, err := r.tools.Link(ctx, current)
		if err != nil {
			return nil, err
		}
		r.discard(current)
		current = exe
	}
	return current, nil
}

func (r *run) workingCopy(dir string) (artifact.Artifact, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create working directory: %w", err)
	}
	dst := filepath.Join(dir, r.input.Name())
	if err := common.CopyFile(r.input.Path(), dst); err != nil {
		return nil, fmt.Errorf("failed to copy input: %w", err)
	}
	return artifact.New(r.input.Stage(), dst)
}

func (r *run) patchSource(src *artifact.Source, protected bool) error {
	model, err := src.Model()
	if err != nil {
		return fmt.Errorf("failed to parse %s: %w", src.Name(), err)
	}
	results, err := r.patcher.Apply(model, r.resolution)
	if err != nil {
		return fmt.Errorf("failed to patch %s: %w", src.Name(), err)
	}
	if protected {
		r.record(results...)
	}
	return nil
}

// noteAssemblyInput reports the source techniques that cannot act on an
// assembly input.
func (r *run) noteAssemblyInput() {
	for _, t := range r.resolution.EligibleTechniques() {
		if t.SourceLevel() && r.resolution.Active(t) {
			r.record(common.NewSkipped("input is already assembly, no source to patch").For(t, common.StageAssembly))
		}
	}
}

// protectExecutable applies header hardening, the encryption wrapper and
// symbol stripping, in that order.
func (r *run) protectExecutable(ctx context.Context, exe artifact.Artifact) error {
	if r.resolution.Active(common.HeaderEntrypoint) {
		res, err := r.hardenEntrypoint(exe)
		if err != nil {
			return err
		}
		r.record(res)
	}

	if r.resolution.Active(common.EncryptionWrapper) {
		payload, err := r.build(ctx, filepath.Join(r.workDir, payloadDir), common.StageExecutable, false)
		if err != nil {
			return fmt.Errorf("failed to build wrapper payload: %w", err)
		}
		if err := r.tools.Wrap(ctx, payload.Path(), exe.Path()); err != nil {
			r.discard(payload)
			return err
		}
		r.record(common.NewApplied("unprotected build packed into executable", 0).
			For(common.EncryptionWrapper, common.StageExecutable))
	}

	if r.resolution.Active(common.StripSymbols) {
		if err := r.tools.Strip(ctx, exe); err != nil {
			return err
		}
		r.record(common.NewApplied("executable symbols stripped", 0).For(common.StripSymbols, common.StageExecutable))
	}
	return nil
}

func (r *run) hardenEntrypoint(exe artifact.Artifact) (res *common.OperationResult, err error) {
	img, err := r.openImage(exe.Path())
	if err != nil {
		r.log.Warn("section table unavailable", zap.String("path", exe.Path()), zap.Error(err))
		return common.NewSkipped(fmt.Sprintf("section table unavailable: %v", err)).
			For(common.HeaderEntrypoint, common.StageExecutable), nil
	}
	defer func() {
		if cerr := img.Close(); cerr != nil {
			err = multierr.Append(err, fmt.Errorf("failed to close image: %w", cerr))
		}
	}()
	return technique.HardenEntrypoint(img)
}

// persist copies the final artifact to its output path and drops the
// working copy.
func (r *run) persist(final artifact.Artifact) error {
	if err := os.MkdirAll(r.outDir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	out := artifact.OutputPath(r.outDir, r.input.Name(), r.target)
	if err := common.CopyFile(final.Path(), out); err != nil {
		return fmt.Errorf("failed to persist %s: %w", r.target, err)
	}
	r.report.Output = out
	r.log.Info("artifact persisted", zap.String("path", out), zap.Stringer("stage", r.target))
	r.discard(final)
	return nil
}

func (r *run) record(results ...*common.OperationResult) {
	for _, res := range results {
		r.log.Debug("technique result",
			zap.String("technique", string(res.Technique)),
			zap.Stringer("stage", res.Stage),
			zap.Bool("applied", res.Applied),
			zap.String("message", res.Message))
	}
	r.report.Results = append(r.report.Results, results...)
}

// discard deletes an intermediate artifact. Failure is only logged.
func (r *run) discard(a artifact.Artifact) {
	if err := a.Delete(); err != nil {
		r.log.Warn("could not delete intermediate artifact", zap.String("path", a.Path()), zap.Error(err))
	}
}

func (r *run) cleanupWorkDir() {
	if err := os.RemoveAll(r.workDir); err != nil {
		r.log.Warn("could not remove working directory", zap.String("path", r.workDir), zap.Error(err))
	}
}
