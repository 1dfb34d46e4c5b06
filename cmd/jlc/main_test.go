package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeSource(t *testing.T, src string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "prog.jl")
	require.NoError(t, os.WriteFile(path, []byte(src), 0o644))
	return path
}

func TestCompileToQuadrText(t *testing.T) {
	src := writeSource(t, `int main() { printInt(2 + 3 * 4); return 0; }`)
	out := filepath.Join(filepath.Dir(src), "prog.q")

	code := run([]string{"-b", "quadr", "-o", out, src})
	assert.Equal(t, exitOK, code)

	text, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Contains(t, string(text), "function main : int :")
	assert.Contains(t, string(text), "call printInt")
}

func TestCompileToAssembly(t *testing.T) {
	src := writeSource(t, `int main() { printInt(1); return 0; }`)
	out := filepath.Join(filepath.Dir(src), "prog.asm")

	code := run([]string{"--i386", "-O", "1", "-o", out, src})
	assert.Equal(t, exitOK, code)

	text, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Contains(t, string(text), "jl_main:")
	assert.Contains(t, string(text), "call printInt")
}

func TestSourceErrorExitCode(t *testing.T) {
	src := writeSource(t, `int main() { printInt(missing); return 0; }`)
	code := run([]string{"-b", "quadr", src})
	assert.Equal(t, exitUsage, code)
}

func TestMissingInputFile(t *testing.T) {
	code := run([]string{"-b", "quadr", filepath.Join(t.TempDir(), "nope.jl")})
	assert.Equal(t, exitIO, code)
}

func TestNoArgsIsUsageError(t *testing.T) {
	code := run([]string{})
	assert.Equal(t, exitUsage, code)
}

func TestInvalidOptimizeLevel(t *testing.T) {
	src := writeSource(t, `int main() { return 0; }`)
	code := run([]string{"-b", "quadr", "-O", "9", src})
	assert.Equal(t, exitUsage, code)
}

func TestIcodeDump(t *testing.T) {
	src := writeSource(t, `int main() { printInt(5); return 0; }`)
	icode := filepath.Join(filepath.Dir(src), "prog.ic")
	out := filepath.Join(filepath.Dir(src), "prog.q")

	code := run([]string{"-b", "quadr", "--icode", icode, "-o", out, src})
	require.Equal(t, exitOK, code)

	text, err := os.ReadFile(icode)
	require.NoError(t, err)
	assert.Contains(t, string(text), "function main:")
	assert.Contains(t, string(text), "param 5")
	assert.Contains(t, string(text), "call printInt")
}

func TestNoGencodeStopsEarly(t *testing.T) {
	src := writeSource(t, `int main() { return 0; }`)
	out := filepath.Join(filepath.Dir(src), "prog.q")
	code := run([]string{"-b", "quadr", "--no-gencode", "-o", out, src})
	assert.Equal(t, exitOK, code)
	_, err := os.Stat(out)
	assert.True(t, os.IsNotExist(err), "no output is produced after --no-gencode")
}
