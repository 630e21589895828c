package nanto

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// resolveEnvScript locates the host toolchain's environment-injection
// script for a variant token by querying the locator program for the
// latest installation root. Resolution is queried fresh on every call:
// installations can appear or move between invocations.
func resolveEnvScript(runner commandRunner, variant string) (string, error) {
	out, err := runner.runQuiet(CommandInvocation{Binary: locatorBin, Args: locatorArgs})
	if err != nil {
		return "", fmt.Errorf("%w: %s query failed: %v", errToolchainNotFound, locatorBin, err)
	}
	root := firstLine(out)
	if root == "" {
		return "", fmt.Errorf("%w: %s reported no installation", errToolchainNotFound, locatorBin)
	}

	script := filepath.Join(root, fmt.Sprintf(scriptLayout, variant))
	if !fileExists(script) {
		return "", fmt.Errorf("%w: expected location %s", errEnvScriptMissing, script)
	}
	return script, nil
}

// harvestEnv sources the environment script through the configured shell
// and captures the variables it injects. The script path travels as an
// argument, never spliced into the shell text.
func harvestEnv(runner commandRunner, script string) (map[string]string, error) {
	out, err := runner.runQuiet(CommandInvocation{
		Binary: harvestShell,
		Args:   []string{"-c", `. "$0" >/dev/null 2>&1 && env`, script},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to harvest environment from %s: %w", script, err)
	}
	return parseEnvOutput(out), nil
}

// parseEnvOutput turns `env` output into a map, skipping malformed lines.
func parseEnvOutput(out string) map[string]string {
	envMap := make(map[string]string)
	for _, line := range strings.Split(out, "\n") {
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 || parts[0] == "" {
			continue
		}
		envMap[parts[0]] = parts[1]
	}
	return envMap
}

// buildEnvironment assembles the extra environment every build command
// runs with: the sourced script's variables, the toolchain auto-detection
// variable disabled, and TMP/TEMP pointing at directories that exist.
func buildEnvironment(runner commandRunner) (map[string]string, error) {
	script, err := resolveEnvScript(runner, envVariant())
	if err != nil {
		return nil, err
	}
	envMap, err := harvestEnv(runner, script)
	if err != nil {
		return nil, err
	}
	envMap["DEPOT_TOOLS_WIN_TOOLCHAIN"] = "0"
	if err := ensureTmpDirs(envMap); err != nil {
		return nil, err
	}
	return envMap, nil
}

// ensureTmpDirs guarantees TMP and TEMP name existing directories; some
// build tools fail outright on a configured-but-missing temp path.
func ensureTmpDirs(envMap map[string]string) error {
	for _, key := range []string{"TMP", "TEMP"} {
		dir := envMap[key]
		if dir == "" {
			dir = os.Getenv(key)
		}
		if dir == "" {
			dir = filepath.Join(tmpRoot, "nanto")
		}
		if err := ensureDir(dir); err != nil {
			return fmt.Errorf("failed to create temp dir %s: %w", dir, err)
		}
		envMap[key] = dir
	}
	return nil
}

// firstLine returns the first non-blank line of s.
func firstLine(s string) string {
	for _, line := range strings.Split(s, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			return line
		}
	}
	return ""
}
