package nanto

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setGlobal swaps a package-level variable for the duration of one test.
func setGlobal[T any](t *testing.T, target *T, value T) {
	t.Helper()
	old := *target
	*target = value
	t.Cleanup(func() { *target = old })
}

// writeScript drops an executable shell stub into dir and returns its path.
func writeScript(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755))
	return path
}

// writeFile creates a regular file with parents as needed.
func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestSplitLines(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, splitLines("a\nb\n"))
	assert.Equal(t, []string{"a", "b"}, splitLines("a\r\nb"))
	assert.Equal(t, []string{"a", ""}, splitLines("a\n\n"))
	assert.Empty(t, splitLines(""))
}

func TestFirstLine(t *testing.T) {
	assert.Equal(t, "alpha", firstLine("alpha\nbeta"))
	assert.Equal(t, "alpha", firstLine("\n  \nalpha\n"))
	assert.Equal(t, "", firstLine("  \n\t\n"))
}

func TestCPrintfNilFallsBack(t *testing.T) {
	// nil printers must not panic; output goes through fmt.
	cPrintf(nil, "plain %d\n", 1)
	cPrintln(nil, "plain")
}
