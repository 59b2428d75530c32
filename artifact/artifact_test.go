package artifact

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gosshield/common"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestFromPathVariants(t *testing.T) {
	dir := t.TempDir()
	cases := map[string]common.Stage{
		"prog.c":   common.StageSource,
		"prog.s":   common.StageAssembly,
		"prog.o":   common.StageObject,
		"prog.exe": common.StageExecutable,
	}
	for name, want := range cases {
		t.Run(name, func(t *testing.T) {
			path := writeFile(t, dir, name, "x")
			a, err := FromPath(path)
			require.NoError(t, err)
			assert.Equal(t, want, a.Stage())
			assert.Equal(t, name, a.Name())
			assert.Equal(t, dir, a.Dir())
			assert.True(t, filepath.IsAbs(a.Path()))
		})
	}
}

func TestFromPathRejectsBadInput(t *testing.T) {
	dir := t.TempDir()

	_, err := FromPath(filepath.Join(dir, "missing.c"))
	require.Error(t, err)
	assert.True(t, common.IsInputError(err))
	assert.True(t, errors.Is(err, os.ErrNotExist))

	_, err = FromPath(writeFile(t, dir, "notes.txt", "x"))
	require.Error(t, err)
	assert.ErrorIs(t, err, common.ErrUnsupportedInput)
	assert.Contains(t, err.Error(), `".txt"`)

	_, err = FromPath(writeFile(t, dir, "prog.C", "int main(void) {}\n"))
	assert.ErrorIs(t, err, common.ErrUnsupportedInput)

	sub := filepath.Join(dir, "tree.c")
	require.NoError(t, os.Mkdir(sub, 0o755))
	_, err = FromPath(sub)
	assert.ErrorIs(t, err, common.ErrUnsupportedInput)
}

func TestSourceModelIsParsedOnce(t *testing.T) {
	path := writeFile(t, t.TempDir(), "main.c", "#include <stdio.h>\nint main(void) {\n\treturn 0;\n}\n")
	a, err := FromPath(path)
	require.NoError(t, err)

	src, ok := a.(*Source)
	require.True(t, ok)
	m, err := src.Model()
	require.NoError(t, err)
	again, err := src.Model()
	require.NoError(t, err)
	assert.Same(t, m, again)

	line, found := m.FunctionLine("main")
	assert.True(t, found)
	assert.Equal(t, 2, line)
}

func TestDeleteIgnoresMissingFile(t *testing.T) {
	path := writeFile(t, t.TempDir(), "prog.o", "x")
	a, err := New(common.StageObject, path)
	require.NoError(t, err)

	require.NoError(t, a.Delete())
	assert.NoFileExists(t, path)
	assert.NoError(t, a.Delete())
}

func TestOutputNaming(t *testing.T) {
	assert.Equal(t, filepath.Join("out", "prog.exe"), OutputPath("out", "/src/prog.c", common.StageExecutable))
	assert.Equal(t, filepath.Join("out", "prog.tar.s"), OutputPath("out", "prog.tar.c", common.StageAssembly))

	a, err := New(common.StageAssembly, "/work/prog.s")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("/work", "prog.o"), Sibling(a, common.StageObject))
}

func TestOpenImageUnknownFormat(t *testing.T) {
	dir := t.TempDir()

	_, err := OpenImage(writeFile(t, dir, "blob.exe", "#!/bin/sh\n"))
	assert.ErrorIs(t, err, common.ErrUnknownFormat)

	_, err = OpenImage(writeFile(t, dir, "empty.exe", ""))
	assert.ErrorIs(t, err, common.ErrUnknownFormat)

	_, err = OpenImage(writeFile(t, dir, "stub.exe", "MZ"))
	assert.Error(t, err)
	assert.NotErrorIs(t, err, common.ErrUnknownFormat)

	assert.ErrorIs(t, Inspect(filepath.Join(dir, "blob.exe"), os.Stdout), common.ErrUnknownFormat)
}
