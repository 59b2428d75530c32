package common

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrUnsupportedInput     = errors.New("unsupported input artifact")
	ErrStageUnreachable     = errors.New("target stage is not reachable")
	ErrGenerationInProgress = errors.New("a generation is already in progress")
	ErrUnknownFormat        = errors.New("unknown binary format")
)

// InputError reports an artifact that cannot enter the pipeline.
type InputError struct {
	Path   string
	Reason string
	Err    error
}

func (e *InputError) Error() string {
	if e.Reason == "" && e.Err != nil {
		return fmt.Sprintf("invalid input %s: %v", e.Path, e.Err)
	}
	if e.Err != nil {
		return fmt.Sprintf("invalid input %s: %s: %v", e.Path, e.Reason, e.Err)
	}
	return fmt.Sprintf("invalid input %s: %s", e.Path, e.Reason)
}

func (e *InputError) Unwrap() error { return e.Err }

// ToolchainError reports an external tool that exited abnormally.
type ToolchainError struct {
	Tool     string
	Args     []string
	Dir      string
	ExitCode int
	Output   string
	Err      error
}

func (e *ToolchainError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s failed", e.Tool)
	if e.ExitCode > 0 {
		fmt.Fprintf(&b, " with exit code %d", e.ExitCode)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	if out := strings.TrimSpace(e.Output); out != "" {
		fmt.Fprintf(&b, "\n%s", out)
	}
	return b.String()
}

func (e *ToolchainError) Unwrap() error { return e.Err }

// IsInputError reports whether err is (or wraps) an InputError.
func IsInputError(err error) bool {
	var ie *InputError
	return errors.As(err, &ie)
}

// IsToolchainError reports whether err is (or wraps) a ToolchainError.
func IsToolchainError(err error) bool {
	var te *ToolchainError
	return errors.As(err, &te)
}
