package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"gosshield/common"
	"gosshield/toolchain"
)

// fakeRunner stands in for the external processes. Each tool writes its
// output next to its input, prefixing the content so the final file shows
// which steps it went through.
type fakeRunner struct {
	mu    sync.Mutex
	calls []toolchain.Command
	fail  map[string]error
	hook  func(toolchain.Command)
}

func (f *fakeRunner) Run(_ context.Context, c toolchain.Command) (string, error) {
	f.mu.Lock()
	f.calls = append(f.calls, c)
	hook := f.hook
	err := f.fail[c.Tool]
	f.mu.Unlock()

	if hook != nil {
		hook(c)
	}
	if err != nil {
		return "", err
	}

	last := c.Args[len(c.Args)-1]
	switch c.Tool {
	case "compiler":
		return "", derive(filepath.Join(c.Dir, last), ".s", "asm:")
	case "assembler":
		return "", derive(filepath.Join(c.Dir, last), ".o", "obj:")
	case "linker":
		in := filepath.Join(c.Dir, c.Args[len(c.Args)-3])
		return "", transform(in, filepath.Join(c.Dir, last), "exe:")
	case "stripper":
		return "", transform(filepath.Join(c.Dir, last), filepath.Join(c.Dir, last), "stripped:")
	case "packer":
		return "", transform(c.Args[len(c.Args)-3], last, "packed:")
	}
	return "", fmt.Errorf("unexpected tool %s", c.Tool)
}

func (f *fakeRunner) tools() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.calls))
	for i, c := range f.calls {
		out[i] = c.Tool
	}
	return out
}

func derive(in, ext, prefix string) error {
	return transform(in, strings.TrimSuffix(in, filepath.Ext(in))+ext, prefix)
}

func transform(in, out, prefix string) error {
	data, err := os.ReadFile(in)
	if err != nil {
		return err
	}
	return os.WriteFile(out, append([]byte(prefix), data...), 0o755)
}

type fixture struct {
	runner  *fakeRunner
	orch    *Orchestrator
	inDir   string
	outDir  string
	workDir string
}

func newFixture(t *testing.T, target common.OS) *fixture {
	t.Helper()
	f := &fixture{
		runner:  &fakeRunner{fail: map[string]error{}},
		inDir:   t.TempDir(),
		outDir:  filepath.Join(t.TempDir(), "out"),
		workDir: t.TempDir(),
	}
	log := zaptest.NewLogger(t)
	tc := toolchain.New(toolchain.Settings{
		Compiler:        toolchain.Tool{Binary: "cc"},
		Stripper:        toolchain.Tool{Binary: "strip"},
		ObjectStripArgs: []string{"--strip-unneeded"},
		Packer:          toolchain.Tool{Binary: "python", Args: []string{"EW_Packer.py"}},
	}, f.runner, log)

	orch, err := New(tc, Options{OS: target, OutputDir: f.outDir, WorkDir: f.workDir, Logger: log})
	require.NoError(t, err)
	f.orch = orch
	return f
}

func (f *fixture) input(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(f.inDir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func (f *fixture) generate(t *testing.T, input string, target common.Stage, techniques ...string) (*Report, error) {
	t.Helper()
	sel, err := common.NewSelection(techniques...)
	require.NoError(t, err)
	return f.orch.Generate(context.Background(), Request{Input: input, Target: target, Selection: sel})
}

func (f *fixture) read(t *testing.T, name string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(f.outDir, name))
	require.NoError(t, err)
	return string(data)
}

// requireCleanWorkDir asserts that no run left files behind.
func (f *fixture) requireCleanWorkDir(t *testing.T) {
	t.Helper()
	entries, err := os.ReadDir(f.workDir)
	require.NoError(t, err)
	require.Empty(t, entries)
}
