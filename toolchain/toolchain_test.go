package toolchain

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"gosshield/artifact"
	"gosshield/common"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeRunner struct {
	calls   []Command
	effects map[string]func(Command) error
}

func (f *fakeRunner) Run(_ context.Context, c Command) (string, error) {
	f.calls = append(f.calls, c)
	if fn := f.effects[c.Tool]; fn != nil {
		return "", fn(c)
	}
	return "", nil
}

func touch(path string) func(Command) error {
	return func(Command) error { return os.WriteFile(path, []byte("out"), 0o644) }
}

func testSettings() Settings {
	return Settings{
		Compiler:        Tool{Binary: "cc", Args: []string{"-O2"}},
		Stripper:        Tool{Binary: "strip", Args: []string{"-s"}},
		ObjectStripArgs: []string{"--strip-unneeded"},
		Packer:          Tool{Binary: "python", Args: []string{"EW_Packer.py"}},
	}
}

func newArtifact(t *testing.T, stage common.Stage, name string) artifact.Artifact {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte("in"), 0o644))
	a, err := artifact.New(stage, path)
	require.NoError(t, err)
	return a
}

func TestCompileAssembleLink(t *testing.T) {
	src := newArtifact(t, common.StageSource, "prog.c")
	dir := src.Dir()
	runner := &fakeRunner{effects: map[string]func(Command) error{
		"compiler":  touch(filepath.Join(dir, "prog.s")),
		"assembler": touch(filepath.Join(dir, "prog.o")),
		"linker":    touch(filepath.Join(dir, "prog.exe")),
	}}
	tc := New(testSettings(), runner, zaptest.NewLogger(t))
	ctx := context.Background()

	asm, err := tc.Compile(ctx, src)
	require.NoError(t, err)
	assert.Equal(t, common.StageAssembly, asm.Stage())

	obj, err := tc.Assemble(ctx, asm)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "prog.o"), obj.Path())

	exe, err := tc.Link(ctx, obj)
	require.NoError(t, err)
	assert.Equal(t, common.StageExecutable, exe.Stage())

	require.Len(t, runner.calls, 3)
	assert.Equal(t, []string{"-O2", "-S", "prog.c"}, runner.calls[0].Args)
	assert.Equal(t, []string{"-O2", "-c", "prog.s"}, runner.calls[1].Args)
	assert.Equal(t, []string{"-O2", "prog.o", "-o", "prog.exe"}, runner.calls[2].Args)
	for _, c := range runner.calls {
		assert.Equal(t, "cc", c.Binary)
		assert.Equal(t, dir, c.Dir)
	}
}

func TestCompileWithoutOutputFails(t *testing.T) {
	src := newArtifact(t, common.StageSource, "prog.c")
	tc := New(testSettings(), &fakeRunner{}, nil)

	_, err := tc.Compile(context.Background(), src)
	require.Error(t, err)
	assert.True(t, common.IsToolchainError(err))
	assert.Contains(t, err.Error(), "prog.s was not produced")
}

func TestStripFlavours(t *testing.T) {
	runner := &fakeRunner{}
	tc := New(testSettings(), runner, nil)
	ctx := context.Background()

	require.NoError(t, tc.Strip(ctx, newArtifact(t, common.StageObject, "prog.o")))
	require.NoError(t, tc.Strip(ctx, newArtifact(t, common.StageExecutable, "prog.exe")))

	require.Len(t, runner.calls, 2)
	assert.Equal(t, []string{"--strip-unneeded", "prog.o"}, runner.calls[0].Args)
	assert.Equal(t, []string{"-s", "prog.exe"}, runner.calls[1].Args)
	assert.Equal(t, "strip", runner.calls[1].Binary)
}

func TestWrapReplacesDestination(t *testing.T) {
	dir := t.TempDir()
	payload := filepath.Join(dir, "payload.exe")
	dest := filepath.Join(dir, "prog.exe")
	require.NoError(t, os.WriteFile(payload, []byte("plain"), 0o755))

	runner := &fakeRunner{effects: map[string]func(Command) error{
		"packer": func(c Command) error {
			in, out := c.Args[len(c.Args)-3], c.Args[len(c.Args)-1]
			data, err := os.ReadFile(in)
			if err != nil {
				return err
			}
			return os.WriteFile(out, append([]byte("packed:"), data...), 0o755)
		},
	}}
	tc := New(testSettings(), runner, zaptest.NewLogger(t))

	require.NoError(t, tc.Wrap(context.Background(), payload, dest))

	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "packed:plain", string(data))
	assert.NoFileExists(t, payload)
	assert.NoFileExists(t, dest+".tmp")

	require.Len(t, runner.calls, 1)
	assert.Equal(t, []string{"EW_Packer.py", dest + ".tmp", "-o", dest}, runner.calls[0].Args)
	assert.Equal(t, dir, runner.calls[0].Dir)
}

func TestWrapRestoresPayloadOnFailure(t *testing.T) {
	dir := t.TempDir()
	payload := filepath.Join(dir, "payload.exe")
	dest := filepath.Join(dir, "out", "prog.exe")
	require.NoError(t, os.Mkdir(filepath.Dir(dest), 0o755))
	require.NoError(t, os.WriteFile(payload, []byte("plain"), 0o755))

	packErr := &common.ToolchainError{Tool: "packer", ExitCode: 2, Output: "bad payload"}
	runner := &fakeRunner{effects: map[string]func(Command) error{
		"packer": func(Command) error { return packErr },
	}}
	settings := testSettings()
	settings.PackerDir = dir
	tc := New(settings, runner, nil)

	err := tc.Wrap(context.Background(), payload, dest)
	require.Error(t, err)
	assert.ErrorIs(t, err, packErr)

	data, rerr := os.ReadFile(payload)
	require.NoError(t, rerr)
	assert.Equal(t, "plain", string(data))
	assert.NoFileExists(t, dest+".tmp")
	assert.NoFileExists(t, dest)
	assert.Equal(t, dir, runner.calls[0].Dir)
}

func TestWrapRejectsPackerWithoutOutput(t *testing.T) {
	dir := t.TempDir()
	payload := filepath.Join(dir, "payload.exe")
	dest := filepath.Join(dir, "prog.exe")
	require.NoError(t, os.WriteFile(payload, []byte("plain"), 0o755))
	require.NoError(t, os.WriteFile(dest, []byte("hardened-unpacked"), 0o755))

	runner := &fakeRunner{}
	tc := New(testSettings(), runner, zaptest.NewLogger(t))

	err := tc.Wrap(context.Background(), payload, dest)
	require.Error(t, err)
	assert.True(t, common.IsToolchainError(err))
	assert.Contains(t, err.Error(), "expected output prog.exe was not produced")

	assert.NoFileExists(t, dest)
	assert.NoFileExists(t, dest+".tmp")
	data, rerr := os.ReadFile(payload)
	require.NoError(t, rerr)
	assert.Equal(t, "plain", string(data))
	require.Len(t, runner.calls, 1)
}

func requireShell(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
}

func TestExecRunnerMergesOutput(t *testing.T) {
	requireShell(t)
	r := NewExecRunner(time.Minute, zaptest.NewLogger(t))
	dir := t.TempDir()

	out, err := r.Run(context.Background(), Command{
		Tool:   "shell",
		Binary: "sh",
		Args:   []string{"-c", "pwd; echo oops >&2; exit 3"},
		Dir:    dir,
	})
	require.Error(t, err)

	var te *common.ToolchainError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, 3, te.ExitCode)
	assert.Contains(t, out, "oops")
	assert.Contains(t, te.Output, filepath.Base(dir))
	assert.Contains(t, err.Error(), "shell failed with exit code 3")
}

func TestExecRunnerSuccess(t *testing.T) {
	requireShell(t)
	out, err := NewExecRunner(0, nil).Run(context.Background(), Command{Tool: "shell", Binary: "sh", Args: []string{"-c", "echo ready"}})
	require.NoError(t, err)
	assert.Equal(t, "ready\n", out)
}

func TestExecRunnerTimeout(t *testing.T) {
	requireShell(t)
	r := NewExecRunner(100*time.Millisecond, nil)

	_, err := r.Run(context.Background(), Command{Tool: "shell", Binary: "sh", Args: []string{"-c", "exec sleep 10"}})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.True(t, common.IsToolchainError(err))
}

func TestExecRunnerMissingBinary(t *testing.T) {
	_, err := NewExecRunner(0, nil).Run(context.Background(), Command{Tool: "packer", Binary: "gosshield-no-such-tool"})
	require.Error(t, err)
	assert.ErrorIs(t, err, exec.ErrNotFound)
	assert.NotContains(t, err.Error(), "exit code")
}
