// Package pipeline advances an input artifact through compile, assemble and
// link while applying the selected techniques at the stage each belongs to.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"gosshield/artifact"
	"gosshield/common"
	"gosshield/technique"
)

// Toolchain is the set of external collaborators the orchestrator drives.
// *toolchain.Toolchain implements it.
type Toolchain interface {
	Compile(ctx context.Context, src artifact.Artifact) (artifact.Artifact, error)
	Assemble(ctx context.Context, asm artifact.Artifact) (artifact.Artifact, error)
	Link(ctx context.Context, obj artifact.Artifact) (artifact.Artifact, error)
	Strip(ctx context.Context, a artifact.Artifact) error
	Wrap(ctx context.Context, payload, dest string) error
}

// ImageOpener opens the section table of a linked executable.
type ImageOpener func(path string) (common.BinaryImage, error)

type Options struct {
	// OS gates the OS specific techniques. Empty means the host OS.
	OS common.OS

	// OutputDir receives persisted artifacts. Empty means the input's directory.
	OutputDir string

	// WorkDir hosts the per-run working directories. Empty means os.TempDir().
	WorkDir string

	Scripts   *technique.ScriptTable
	OpenImage ImageOpener
	Logger    *zap.Logger
}

// Request is one generation.
type Request struct {
	Input     string
	Target    common.Stage
	Selection common.Selection
	// OutputDir overrides Options.OutputDir for this request.
	OutputDir string
}

// Orchestrator runs at most one generation at a time.
type Orchestrator struct {
	tools     Toolchain
	os        common.OS
	outputDir string
	workDir   string
	patcher   *technique.Patcher
	openImage ImageOpener
	active    *semaphore.Weighted
	log       *zap.Logger
}

func New(tools Toolchain, opts Options) (*Orchestrator, error) {
	if tools == nil {
		return nil, errors.New("toolchain is required")
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	scripts := opts.Scripts
	if scripts == nil {
		var err error
		if scripts, err = technique.DefaultScripts(); err != nil {
			return nil, fmt.Errorf("failed to load technique scripts: %w", err)
		}
	}
	target := opts.OS
	if target == "" {
		target = common.HostOS()
	}
	workDir := opts.WorkDir
	if workDir == "" {
		workDir = os.TempDir()
	}
	openImage := opts.OpenImage
	if openImage == nil {
		openImage = artifact.OpenImage
	}

	return &Orchestrator{
		tools:     tools,
		os:        target,
		outputDir: opts.OutputDir,
		workDir:   workDir,
		patcher:   technique.NewPatcher(scripts, target, log),
		openImage: openImage,
		active:    semaphore.NewWeighted(1),
		log:       log,
	}, nil
}

// OS returns the operating system techniques are resolved for.
func (o *Orchestrator) OS() common.OS { return o.os }

// Resolve reports eligibility and reachable stages for an input without
// running anything.
func (o *Orchestrator) Resolve(input string, sel common.Selection) (*technique.Resolution, error) {
	a, err := artifact.FromPath(input)
	if err != nil {
		return nil, err
	}
	return technique.Resolve(a.Stage(), o.os, sel)
}

// Generate produces the artifact of req.Target for req.Input. A concurrent
// call fails with common.ErrGenerationInProgress.
func (o *Orchestrator) Generate(ctx context.Context, req Request) (*Report, error) {
	if !o.active.TryAcquire(1) {
		return nil, common.ErrGenerationInProgress
	}
	defer o.active.Release(1)

	input, err := artifact.FromPath(req.Input)
	if err != nil {
		return nil, err
	}
	res, err := technique.Resolve(input.Stage(), o.os, req.Selection)
	if err != nil {
		return nil, err
	}
	if !res.Reachable(req.Target) {
		return nil, &common.InputError{
			Path:   req.Input,
			Reason: fmt.Sprintf("%s output from %s input with [%s]", req.Target, input.Stage(), req.Selection),
			Err:    common.ErrStageUnreachable,
		}
	}

	outDir := req.OutputDir
	if outDir == "" {
		outDir = o.outputDir
	}
	if outDir == "" {
		outDir = input.Dir()
	}

	id := uuid.NewString()
	r := &run{
		Orchestrator: o,
		id:           id,
		input:        input,
		target:       req.Target,
		resolution:   res,
		outDir:       outDir,
		workDir:      filepath.Join(o.workDir, "gosshield-"+id),
		log:          o.log.With(zap.String("run", id)),
		report: &Report{
			RunID:     id,
			Input:     input.Path(),
			Target:    req.Target,
			Selection: req.Selection,
		},
	}
	r.report.Results = append(r.report.Results, res.Ineligible()...)

	if err := os.MkdirAll(r.workDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create working directory: %w", err)
	}
	defer r.cleanupWorkDir()

	r.log.Info("generation started",
		zap.String("path", input.Path()),
		zap.Stringer("input", input.Stage()),
		zap.Stringer("target", req.Target),
		zap.Stringer("selection", req.Selection))

	if err := r.execute(ctx); err != nil {
		r.log.Error("generation failed", zap.Error(err))
		return nil, err
	}
	r.log.Info("generation finished", zap.String("output", r.report.Output))
	return r.report, nil
}
