package nanto

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// installToolchainStub lays out a fake installation root with an environment
// script and points the locator globals at a stub that reports it.
func installToolchainStub(t *testing.T) string {
	t.Helper()
	installRoot := t.TempDir()

	envScript := filepath.Join(installRoot, fmt.Sprintf("tools/env%s.sh", envVariant()))
	writeFile(t, envScript, "export FIXTURE_HARVESTED=alpha\nexport FIXTURE_SPACED='b with spaces'\n")
	require.NoError(t, os.Chmod(envScript, 0o755))

	locator := writeScript(t, t.TempDir(), "locator", "echo "+installRoot)
	setGlobal(t, &locatorBin, locator)
	setGlobal(t, &locatorArgs, nil)
	setGlobal(t, &scriptLayout, "tools/env%s.sh")
	setGlobal(t, &harvestShell, "sh")
	return installRoot
}

func TestResolveEnvScript(t *testing.T) {
	e := NewExecutor(context.Background())

	t.Run("finds the script under the reported root", func(t *testing.T) {
		installRoot := installToolchainStub(t)
		got, err := resolveEnvScript(e, envVariant())
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(installRoot, fmt.Sprintf("tools/env%s.sh", envVariant())), got)
	})

	t.Run("script missing under the root", func(t *testing.T) {
		installToolchainStub(t)
		setGlobal(t, &scriptLayout, "nowhere/env%s.sh")
		_, err := resolveEnvScript(e, envVariant())
		require.ErrorIs(t, err, errEnvScriptMissing)
	})

	t.Run("locator reports nothing", func(t *testing.T) {
		locator := writeScript(t, t.TempDir(), "silent", "echo")
		setGlobal(t, &locatorBin, locator)
		setGlobal(t, &locatorArgs, nil)
		_, err := resolveEnvScript(e, envVariant())
		require.ErrorIs(t, err, errToolchainNotFound)
	})

	t.Run("locator fails", func(t *testing.T) {
		locator := writeScript(t, t.TempDir(), "broken", "exit 2")
		setGlobal(t, &locatorBin, locator)
		setGlobal(t, &locatorArgs, nil)
		_, err := resolveEnvScript(e, envVariant())
		require.ErrorIs(t, err, errToolchainNotFound)
		assert.Contains(t, err.Error(), "query failed")
	})
}

func TestHarvestEnv(t *testing.T) {
	e := NewExecutor(context.Background())
	installRoot := installToolchainStub(t)
	script := filepath.Join(installRoot, fmt.Sprintf("tools/env%s.sh", envVariant()))

	envMap, err := harvestEnv(e, script)
	require.NoError(t, err)
	assert.Equal(t, "alpha", envMap["FIXTURE_HARVESTED"])
	assert.Equal(t, "b with spaces", envMap["FIXTURE_SPACED"])
	// The child env includes the parent's variables too.
	assert.NotEmpty(t, envMap["PATH"])
}

func TestParseEnvOutput(t *testing.T) {
	got := parseEnvOutput("A=1\nB=two=2\n\nnoequals\n=bad\n")
	assert.Equal(t, map[string]string{"A": "1", "B": "two=2"}, got)
}

func TestEnsureTmpDirs(t *testing.T) {
	t.Setenv("TMP", "")
	t.Setenv("TEMP", "")

	t.Run("defaults under the temp root", func(t *testing.T) {
		setGlobal(t, &tmpRoot, filepath.Join(t.TempDir(), "troot"))
		envMap := map[string]string{}
		require.NoError(t, ensureTmpDirs(envMap))
		want := filepath.Join(tmpRoot, "nanto")
		assert.Equal(t, want, envMap["TMP"])
		assert.Equal(t, want, envMap["TEMP"])
		assert.True(t, dirExists(want))
	})

	t.Run("explicit values win and are created", func(t *testing.T) {
		explicit := filepath.Join(t.TempDir(), "mine")
		envMap := map[string]string{"TMP": explicit, "TEMP": explicit}
		require.NoError(t, ensureTmpDirs(envMap))
		assert.Equal(t, explicit, envMap["TMP"])
		assert.True(t, dirExists(explicit))
	})
}

func TestBuildEnvironment(t *testing.T) {
	t.Setenv("TMP", "")
	t.Setenv("TEMP", "")
	installToolchainStub(t)
	setGlobal(t, &tmpRoot, t.TempDir())

	e := NewExecutor(context.Background())
	envMap, err := buildEnvironment(e)
	require.NoError(t, err)

	assert.Equal(t, "0", envMap["DEPOT_TOOLS_WIN_TOOLCHAIN"])
	assert.Equal(t, "alpha", envMap["FIXTURE_HARVESTED"])
	require.NotEmpty(t, envMap["TMP"])
	assert.True(t, dirExists(envMap["TMP"]))
	assert.True(t, dirExists(envMap["TEMP"]))
}
