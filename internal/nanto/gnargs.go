package nanto

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	outDirRel    = "out/Default"
	argsFileName = "args.gn"
)

// buildConfigPresent reports whether the generated build config exists.
func buildConfigPresent(tree string) bool {
	return fileExists(filepath.Join(tree, outDirRel, argsFileName))
}

// ensureBuildConfig composes the base flags document with the platform
// overlay and writes args.gn under the output directory. Generation is
// skipped entirely when the file already exists; edits to the source
// documents after first generation are not retroactively applied. For a
// non-default target the default architecture token is rewritten inside
// the overlay only; the base text is never touched.
func ensureBuildConfig(tree, sel string) error {
	outDir := filepath.Join(tree, outDirRel)
	if err := ensureDir(outDir); err != nil {
		return err
	}

	if buildConfigPresent(tree) {
		stepf("Build configuration already set up")
		return nil
	}

	stepf("Setting up build configuration")

	base, err := os.ReadFile(flagsBaseFile)
	if err != nil {
		return fmt.Errorf("failed to read base flags: %w", err)
	}
	overlay, err := os.ReadFile(flagsOverlayFile)
	if err != nil {
		return fmt.Errorf("failed to read platform flags: %w", err)
	}

	text := string(overlay)
	if sel != archDefault {
		text = strings.ReplaceAll(text, archDefault, sel)
	}

	blob := string(base) + "\n" + text
	return atomicWriteFile(filepath.Join(outDir, argsFileName), []byte(blob), 0o644)
}
