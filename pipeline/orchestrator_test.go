package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"gosshield/artifact"
	"gosshield/common"
	"gosshield/technique"
	"gosshield/toolchain"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const singleMain = `#include <stdio.h>

int main(void) {
    printf("hello\n");
    return 0;
}
`

const twoFunctions = `#include <stdio.h>

int helper(void) {
    return 1;
}

int main(void) {
    return helper();
}
`

func lines(s string) []string {
	return strings.Split(s, "\n")
}

func indexOf(list []string, want string) int {
	for i, l := range list {
		if l == want {
			return i
		}
	}
	return -1
}

func TestRemoteDebuggerCheckOnSingleMain(t *testing.T) {
	f := newFixture(t, common.Windows)
	input := f.input(t, "prog.c", singleMain)

	report, err := f.generate(t, input, common.StageExecutable, "check-remote-debugger")
	require.NoError(t, err)
	assert.Equal(t, []string{"compiler", "assembler", "linker"}, f.runner.tools())
	assert.Equal(t, filepath.Join(f.outDir, "prog.exe"), report.Output)

	out := f.read(t, "prog.exe")
	require.True(t, strings.HasPrefix(out, "exe:obj:asm:"), out)
	assert.Contains(t, out, "#include <windows.h>")
	assert.NotContains(t, out, "SPC_DEFINE_DBG_SYM")

	scripts, err := technique.DefaultScripts()
	require.NoError(t, err)
	script, ok := scripts.Lookup(common.CheckRemoteDebugger, common.Windows)
	require.True(t, ok)
	body := lines(out)
	at := indexOf(body, "int main(void) {")
	require.NotEqual(t, -1, at)
	assert.Equal(t, lines(script.Indented(script.Entry))[0], body[at+1])

	require.Len(t, report.Applied(), 1)
	assert.Equal(t, common.CheckRemoteDebugger, report.Applied()[0].Technique)
	assert.Empty(t, report.Skipped())

	original, err := os.ReadFile(input)
	require.NoError(t, err)
	assert.Equal(t, singleMain, string(original), "the input is never modified")
	f.requireCleanWorkDir(t)
}

func TestObjectStripOnly(t *testing.T) {
	f := newFixture(t, common.Linux)
	input := f.input(t, "prog.o", "object")

	res, err := f.orch.Resolve(input, common.Selection{common.StripSymbols: true})
	require.NoError(t, err)
	assert.False(t, res.Reachable(common.StageSource))
	assert.False(t, res.Reachable(common.StageAssembly))

	report, err := f.generate(t, input, common.StageObject, "strip-symbols")
	require.NoError(t, err)
	assert.Equal(t, []string{"stripper"}, f.runner.tools())
	assert.Equal(t, []string{"--strip-unneeded", "prog.o"}, f.runner.calls[0].Args)
	assert.Equal(t, "stripped:object", f.read(t, "prog.o"))
	require.Len(t, report.Applied(), 1)
	assert.Equal(t, common.StageObject, report.Applied()[0].Stage)
}

func TestBreakpointDetectionToSource(t *testing.T) {
	f := newFixture(t, common.Linux)
	input := f.input(t, "prog.c", twoFunctions)

	report, err := f.generate(t, input, common.StageSource, "breakpoint-detection")
	require.NoError(t, err)
	assert.Empty(t, f.runner.tools(), "source output needs no toolchain")

	out := f.read(t, "prog.c")
	assert.Equal(t, 1, strings.Count(out, "SPC_DEFINE_DBG_SYM(helper_nodebug);"))
	assert.Equal(t, 1, strings.Count(out, "if (*(volatile unsigned char *)helper_nodebug == 0xCC){"))
	assert.NotContains(t, out, " || ")

	body := lines(out)
	ref := indexOf(body, "SPC_USE_DBG_SYM(helper_nodebug);")
	entry := indexOf(body, "int main(void) {")
	require.NotEqual(t, -1, ref)
	assert.Equal(t, entry-1, ref, "the reference sits right before main")
	assert.True(t, strings.HasPrefix(strings.TrimSpace(body[entry+1]), "if ("), "the check opens main's body")

	require.Len(t, report.Results, 1)
	assert.Equal(t, 1, report.Results[0].Count)
}

func TestBreakpointDetectionJoinsComparisons(t *testing.T) {
	f := newFixture(t, common.Linux)
	input := f.input(t, "prog.c", "int a(void) {\n    return 1;\n}\nint b(void) {\n    return 2;\n}\nint main(void) {\n    return a() + b();\n}\n")

	_, err := f.generate(t, input, common.StageSource, "SBD")
	require.NoError(t, err)
	assert.Contains(t, f.read(t, "prog.c"),
		"if (*(volatile unsigned char *)a_nodebug == 0xCC || *(volatile unsigned char *)b_nodebug == 0xCC){")
}

func TestEncryptionWrapperPacksUnprotectedBuild(t *testing.T) {
	f := newFixture(t, common.Linux)
	input := f.input(t, "prog.c", singleMain)

	report, err := f.generate(t, input, common.StageExecutable, "encryption-wrapper", "ptrace-deny-attach")
	require.NoError(t, err)
	assert.Equal(t, []string{
		"compiler", "assembler", "linker",
		"compiler", "assembler", "linker",
		"packer",
	}, f.runner.tools())

	out := f.read(t, "prog.exe")
	require.True(t, strings.HasPrefix(out, "packed:exe:obj:asm:"), out)
	assert.Contains(t, out, "PTRACE_TRACEME", "source techniques are re-applied to the payload")

	entries, err := os.ReadDir(f.outDir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "prog.exe", entries[0].Name())
	f.requireCleanWorkDir(t)

	var wrapped bool
	for _, res := range report.Applied() {
		if res.Technique == common.EncryptionWrapper {
			wrapped = true
		}
	}
	assert.True(t, wrapped)
	assert.Len(t, report.Applied(), 2, "ptrace guard is reported once")
}

func TestExecutableStageOrder(t *testing.T) {
	f := newFixture(t, common.Linux)
	var opened []string
	f.orch.openImage = func(path string) (common.BinaryImage, error) {
		opened = append(opened, path)
		return &fakeImage{sections: []*common.Section{{Name: ".text", Writable: true, Executable: true}}}, nil
	}
	input := f.input(t, "prog.o", "object")

	report, err := f.generate(t, input, common.StageExecutable, "SRS", "HE", "EW")
	require.NoError(t, err)
	assert.Equal(t, []string{"stripper", "linker", "linker", "packer", "stripper"}, f.runner.tools())
	assert.Equal(t, "stripped:packed:exe:object", f.read(t, "prog.exe"))
	require.Len(t, opened, 1)

	var order []common.Technique
	for _, res := range report.Applied() {
		order = append(order, res.Technique)
	}
	assert.Equal(t, []common.Technique{
		common.StripSymbols,
		common.HeaderEntrypoint,
		common.EncryptionWrapper,
		common.StripSymbols,
	}, order)
}

func TestHeaderEntrypointSkipsUnknownFormat(t *testing.T) {
	f := newFixture(t, common.Linux)
	input := f.input(t, "prog.exe", "not a binary")

	report, err := f.generate(t, input, common.StageExecutable, "header-entrypoint")
	require.NoError(t, err)
	require.Len(t, report.Skipped(), 1)
	assert.Contains(t, report.Skipped()[0].Message, "section table unavailable")
	assert.Equal(t, "not a binary", f.read(t, "prog.exe"))
}

func TestUnreachableTargetFailsBeforeWork(t *testing.T) {
	f := newFixture(t, common.Linux)
	input := f.input(t, "prog.c", singleMain)

	_, err := f.generate(t, input, common.StageAssembly, "strip-symbols")
	require.Error(t, err)
	assert.ErrorIs(t, err, common.ErrStageUnreachable)
	assert.True(t, common.IsInputError(err))
	assert.Empty(t, f.runner.tools())
	assert.NoDirExists(t, f.outDir)
	f.requireCleanWorkDir(t)
}

func TestInputErrors(t *testing.T) {
	f := newFixture(t, common.Linux)

	_, err := f.generate(t, filepath.Join(f.inDir, "missing.c"), common.StageExecutable)
	assert.True(t, common.IsInputError(err))

	_, err = f.generate(t, f.input(t, "prog.cpp", "int main(){}"), common.StageExecutable)
	assert.ErrorIs(t, err, common.ErrUnsupportedInput)
	assert.Empty(t, f.runner.tools())
}

func TestToolchainFailureAbortsWithoutOutput(t *testing.T) {
	f := newFixture(t, common.Linux)
	f.runner.fail["linker"] = &common.ToolchainError{Tool: "linker", ExitCode: 1, Output: "undefined reference to `foo'"}
	input := f.input(t, "prog.c", singleMain)

	_, err := f.generate(t, input, common.StageExecutable)
	require.Error(t, err)
	assert.True(t, common.IsToolchainError(err))
	assert.Contains(t, err.Error(), "undefined reference")
	assert.NoFileExists(t, filepath.Join(f.outDir, "prog.exe"))
	f.requireCleanWorkDir(t)
}

func TestPackerFailureLeavesNoTmp(t *testing.T) {
	f := newFixture(t, common.Linux)
	f.runner.fail["packer"] = &common.ToolchainError{Tool: "packer", ExitCode: 1}
	input := f.input(t, "prog.o", "object")

	_, err := f.generate(t, input, common.StageExecutable, "EW")
	require.Error(t, err)
	assert.True(t, common.IsToolchainError(err))
	assert.NoDirExists(t, f.outDir)
	f.requireCleanWorkDir(t)
}

func TestAssemblyInputReportsSourceTechniques(t *testing.T) {
	f := newFixture(t, common.Linux)
	input := f.input(t, "prog.s", "main:\n\tret\n")

	report, err := f.generate(t, input, common.StageObject, "breakpoint-detection", "ptrace-deny-attach", "check-remote-debugger")
	require.NoError(t, err)
	assert.Equal(t, []string{"assembler"}, f.runner.tools())
	assert.Equal(t, "obj:main:\n\tret\n", f.read(t, "prog.o"))

	var skipped []string
	for _, res := range report.Skipped() {
		skipped = append(skipped, res.Technique.Tag()+"@"+res.Stage.String())
	}
	assert.ElementsMatch(t, []string{"CRDP@assembly", "SBD@assembly", "PTDA@assembly"}, skipped)
}

func TestAssemblyTargetFromAssemblyInput(t *testing.T) {
	f := newFixture(t, common.Linux)
	input := f.input(t, "prog.s", "main:\n\tret\n")

	report, err := f.generate(t, input, common.StageAssembly)
	require.NoError(t, err)
	assert.Empty(t, f.runner.tools())
	assert.Equal(t, "main:\n\tret\n", f.read(t, "prog.s"))
	assert.Contains(t, report.String(), "No techniques applied")
}

func TestConcurrentGenerateIsRejected(t *testing.T) {
	f := newFixture(t, common.Linux)
	input := f.input(t, "prog.c", singleMain)

	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	f.runner.hook = func(toolchain.Command) {
		once.Do(func() {
			close(started)
			<-release
		})
	}

	done := make(chan error, 1)
	go func() {
		_, err := f.generate(t, input, common.StageExecutable)
		done <- err
	}()

	<-started
	_, err := f.orch.Generate(context.Background(), Request{Input: input, Target: common.StageExecutable})
	assert.ErrorIs(t, err, common.ErrGenerationInProgress)

	close(release)
	require.NoError(t, <-done)

	_, err = f.generate(t, input, common.StageSource)
	assert.NoError(t, err, "the guard is released after a run")
}

func TestDiscardFailureIsOnlyLogged(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	r := &run{log: zap.New(core)}

	r.discard(failingArtifact{})

	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, "could not delete intermediate artifact", entry.Message)
	assert.Equal(t, "/work/prog.s", entry.ContextMap()["path"])
}

func TestReportString(t *testing.T) {
	report := &Report{
		Target: common.StageExecutable,
		Output: "/out/prog.exe",
		Results: []*common.OperationResult{
			common.NewApplied("cleared writable flag on .text", 1).For(common.HeaderEntrypoint, common.StageExecutable),
			common.NewSkipped("not eligible").For(common.PtraceDenyAttach, common.StageExecutable),
		},
	}
	out := report.String()
	assert.Contains(t, out, "EXECUTABLE OUTPUT: /out/prog.exe")
	assert.Contains(t, out, "✓ HE: APPLIED (cleared writable flag on .text, 1 items)")
	assert.Contains(t, out, "⚠️ PTDA: SKIPPED (not eligible)")
}

type failingArtifact struct{}

func (failingArtifact) Name() string        { return "prog.s" }
func (failingArtifact) Path() string        { return "/work/prog.s" }
func (failingArtifact) Dir() string         { return "/work" }
func (failingArtifact) Stage() common.Stage { return common.StageAssembly }
func (failingArtifact) Delete() error       { return errors.New("device busy") }

var _ artifact.Artifact = failingArtifact{}

type fakeImage struct {
	sections []*common.Section
}

func (f *fakeImage) Format() string                     { return "ELF" }
func (f *fakeImage) SectionTable() []*common.Section    { return f.sections }
func (f *fakeImage) EntryCode(int) ([]byte, int, error) { return nil, 64, nil }
func (f *fakeImage) Commit() error                      { return nil }
func (f *fakeImage) Close() error                       { return nil }
