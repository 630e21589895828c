package nanto

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

const patchSeriesFile = "series"

// PatchOptions carries the patch subcommand flags.
type PatchOptions struct {
	Tarball bool // use the full upstream pruning and substitution lists
}

// findPatchBin locates a usable patch binary, preferring the copy bundled
// inside the source tree and falling back to the system one. The binary is
// validated with a version query before any patch is fed to it.
func findPatchBin(runner commandRunner, tree string) (string, error) {
	candidate := filepath.Join(tree, filepath.FromSlash(patchBinRel))
	if !fileExists(candidate) {
		sys, err := exec.LookPath("patch")
		if err != nil {
			return "", fmt.Errorf("no usable patch binary: %s is absent and none found on PATH", candidate)
		}
		debugf("Tree-bundled patch missing, using %s\n", sys)
		candidate = sys
	}
	out, err := runner.runQuiet(CommandInvocation{Binary: candidate, Args: []string{"--version"}})
	if err != nil {
		return "", fmt.Errorf("patch binary %s is not usable: %w", candidate, err)
	}
	debugf("Using patch binary: %s (%s)\n", candidate, firstLine(out))
	return candidate, nil
}

// generatePatchesFromSeries reads the series file in a patch directory and
// returns the absolute path of every listed patch, in application order.
func generatePatchesFromSeries(dir string) ([]string, error) {
	data, err := readSeriesFile(dir)
	if err != nil {
		return nil, err
	}
	var patchPaths []string
	for _, line := range splitLines(data) {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		p := filepath.Join(dir, filepath.FromSlash(line))
		if !fileExists(p) {
			return nil, fmt.Errorf("patch listed in series does not exist: %s", p)
		}
		patchPaths = append(patchPaths, p)
	}
	return patchPaths, nil
}

func readSeriesFile(dir string) (string, error) {
	data, err := os.ReadFile(filepath.Join(dir, patchSeriesFile))
	if err != nil {
		return "", fmt.Errorf("could not read series file in %s: %w", dir, err)
	}
	return string(data), nil
}

// applyPatchSeries feeds every patch of one series to the patch binary, in
// order, stopping at the first failure.
func applyPatchSeries(runner commandRunner, patchBin, tree, dir string) error {
	patchPaths, err := generatePatchesFromSeries(dir)
	if err != nil {
		return err
	}
	for i, p := range patchPaths {
		cPrintf(colArrow, "-> ")
		cPrintf(colSuccess, "Applying %s (%d/%d)\n", filepath.Base(p), i+1, len(patchPaths))
		inv := CommandInvocation{
			Binary: patchBin,
			Args:   []string{"-p1", "--ignore-whitespace", "-i", p, "-d", tree, "--no-backup-if-mismatch"},
		}
		if err := runner.Run("patch", inv); err != nil {
			return fmt.Errorf("patch %s failed: %w", filepath.Base(p), err)
		}
	}
	return nil
}

// patchSource prunes vendored binaries, applies both patch series and runs
// the domain substitutions over the source tree.
func patchSource(runner commandRunner, opts PatchOptions) error {
	if !sourceTreePresent(sourceTree) {
		return errSourceTreeMissing
	}

	cPrintln(colInfo, "Pruning binaries...")
	list := pruneList
	if opts.Tarball {
		list = pruneListFull
	}
	if err := prunePaths(sourceTree, list); err != nil {
		return err
	}

	patchBin, err := findPatchBin(runner, sourceTree)
	if err != nil {
		return err
	}

	cPrintln(colInfo, "Applying upstream patches...")
	if err := applyPatchSeries(runner, patchBin, sourceTree, patchesUpstream); err != nil {
		return err
	}

	cPrintln(colInfo, "Applying platform patches...")
	if err := applyPatchSeries(runner, patchBin, sourceTree, patchesPlatform); err != nil {
		return err
	}

	cPrintln(colInfo, "Applying domain substitutions...")
	subList := domainSubList
	if opts.Tarball {
		subList = domainSubFull
	}
	if err := applyDomainSubstitution(domainRegexList, subList, sourceTree); err != nil {
		return err
	}

	cPrintln(colSuccess, "Patches and domain substitutions applied successfully")
	return nil
}
