package nanto

import (
	"fmt"
	"os"
	"path/filepath"
)

// Layout of the merged toolchain under the source tree.
const (
	rustToolchainRel = "third_party/rust-toolchain"
	rustMarkerName   = "INSTALLED_VERSION"
)

// Architecture-specific source bundles the merged toolchain is built from.
var rustBundles = []string{
	"third_party/rust-toolchain-x64",
	"third_party/rust-toolchain-x86",
	"third_party/rust-toolchain-arm",
}

var rustGroups = []string{"bin", "lib"}

// rustProvisioned reports whether the version marker exists, the sole
// completion signal for toolchain provisioning.
func rustProvisioned(tree string) bool {
	return fileExists(filepath.Join(tree, rustToolchainRel, rustMarkerName))
}

// hostRustBundle returns the bundle whose executables match the host's
// pointer width.
func hostRustBundle() string {
	if hostIs64Bit() {
		return rustBundles[0]
	}
	return rustBundles[1]
}

// ensureRustToolchain merges the architecture bundles into one toolchain
// directory. The library group is merged additively from every bundle so
// multi-arch libraries coexist; the executable group comes only from the
// host bundle, never a cross target. Completion is recorded by capturing
// `rustc --version` into the marker file, which doubles as a smoke test
// of the provisioned compiler.
func ensureRustToolchain(runner commandRunner, tree string) error {
	if rustProvisioned(tree) {
		stepf("Rust toolchain already set up")
		return nil
	}

	stepf("Setting up Rust toolchain")
	dst := filepath.Join(tree, rustToolchainRel)

	for _, bundle := range rustBundles {
		for _, group := range rustGroups {
			if group == "bin" && bundle != hostRustBundle() {
				continue
			}
			bundleDir := filepath.Join(tree, bundle)
			if err := mergeBundleGroup(bundleDir, filepath.Join(dst, group), group); err != nil {
				return fmt.Errorf("failed to merge %s from %s: %w", group, filepath.Base(bundle), err)
			}
		}
	}

	return writeRustMarker(runner, dst)
}

// mergeBundleGroup copies every component's group contents
// (<bundle>/*/<group>/*) into targetDir. Missing bundles or groups are
// skipped; not every platform set ships all three.
func mergeBundleGroup(bundleDir, targetDir, group string) error {
	components, err := os.ReadDir(bundleDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	if err := ensureDir(targetDir); err != nil {
		return err
	}

	for _, comp := range components {
		if !comp.IsDir() {
			continue
		}
		groupDir := filepath.Join(bundleDir, comp.Name(), group)
		entries, err := os.ReadDir(groupDir)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return err
		}
		for _, entry := range entries {
			src := filepath.Join(groupDir, entry.Name())
			if err := copyEntry(src, filepath.Join(targetDir, entry.Name())); err != nil {
				return err
			}
		}
	}
	return nil
}

// writeRustMarker records completion by capturing the provisioned
// compiler's version report. A failing or silent compiler fails
// provisioning and leaves no marker behind.
func writeRustMarker(runner commandRunner, dst string) error {
	rustc := filepath.Join(dst, "bin", "rustc")
	out, err := runner.runQuiet(CommandInvocation{Binary: rustc, Args: []string{"--version"}})
	if err != nil {
		return fmt.Errorf("provisioned rustc failed its version check: %w", err)
	}
	if out == "" {
		return fmt.Errorf("provisioned rustc at %s reported no version", rustc)
	}
	return atomicWriteFile(filepath.Join(dst, rustMarkerName), []byte(out+"\n"), 0o644)
}
