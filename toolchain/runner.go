package toolchain

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"time"

	"go.uber.org/zap"

	"gosshield/common"
)

// Command is one external process invocation.
type Command struct {
	Tool   string // role shown in logs and errors, e.g. "compiler"
	Binary string
	Args   []string
	Dir    string
}

// Runner executes a command to completion and returns its merged output.
// A non-zero exit or a failed launch is reported as *common.ToolchainError.
type Runner interface {
	Run(ctx context.Context, cmd Command) (string, error)
}

// waitDelay bounds how long output pipes stay open after the process exits
// or the context ends.
const waitDelay = 2 * time.Second

// ExecRunner runs commands as child processes.
type ExecRunner struct {
	timeout time.Duration
	log     *zap.Logger
}

func NewExecRunner(timeout time.Duration, log *zap.Logger) *ExecRunner {
	if log == nil {
		log = zap.NewNop()
	}
	return &ExecRunner{timeout: timeout, log: log}
}

func (r *ExecRunner) Run(ctx context.Context, c Command) (string, error) {
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	//nolint:gosec // G204: binaries come from the user's toolchain configuration
	cmd := exec.CommandContext(ctx, c.Binary, c.Args...)
	cmd.Dir = c.Dir
	cmd.WaitDelay = waitDelay

	var output bytes.Buffer
	cmd.Stdout = &output
	cmd.Stderr = &output

	r.log.Debug("running tool",
		zap.String("tool", c.Tool),
		zap.String("binary", c.Binary),
		zap.Strings("args", c.Args),
		zap.String("dir", c.Dir))

	start := time.Now()
	err := cmd.Run()
	if err == nil {
		r.log.Debug("tool finished", zap.String("tool", c.Tool), zap.Duration("took", time.Since(start)))
		return output.String(), nil
	}

	te := &common.ToolchainError{
		Tool:     c.Tool,
		Args:     append([]string{c.Binary}, c.Args...),
		Dir:      c.Dir,
		ExitCode: -1,
		Output:   output.String(),
		Err:      err,
	}
	var exitErr *exec.ExitError
	switch {
	case ctx.Err() != nil:
		te.Err = ctx.Err()
	case errors.As(err, &exitErr):
		te.ExitCode = exitErr.ExitCode()
		te.Err = nil
	}
	r.log.Debug("tool failed", zap.String("tool", c.Tool), zap.Int("exit_code", te.ExitCode), zap.Error(err))
	return te.Output, te
}
