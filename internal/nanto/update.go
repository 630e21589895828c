package nanto

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// UpdateOptions carries the update subcommand flags.
type UpdateOptions struct {
	DisableSSLVerify bool
	SevenZip         string // explicit 7z binary, empty means look up on PATH
	WinRAR           string // explicit unrar binary, empty means look up on PATH
	Tarball          bool
	X86              bool
	ARM              bool
}

// replacedVendorDirs are wiped before the platform extras are unpacked. The
// fetched archives replace their contents wholesale and stale files must not
// survive underneath.
var replacedVendorDirs = []string{
	filepath.Join("third_party", "microsoft_dxheaders", "src"),
	filepath.Join("third_party", "devtools-frontend", "src", "third_party", "esbuild"),
}

// makeTmpPaths creates the TMP and TEMP directories so build tooling that
// relies on them does not fail later.
func makeTmpPaths() error {
	for _, key := range []string{"TMP", "TEMP"} {
		dir := os.Getenv(key)
		if dir == "" {
			dir = filepath.Join(tmpRoot, "nanto")
			os.Setenv(key, dir)
		}
		if err := ensureDir(dir); err != nil {
			return fmt.Errorf("failed to create %s directory %s: %w", key, dir, err)
		}
	}
	return nil
}

// fetchAndVerify loads a manifest, retrieves anything missing from the cache
// and verifies every entry's checksum. A mismatching file is dropped from the
// cache so the next run re-fetches it.
func fetchAndVerify(manifestPath, cacheDir string, insecure bool) ([]DownloadEntry, error) {
	entries, err := loadManifest(manifestPath)
	if err != nil {
		return nil, err
	}
	if err := retrieveDownloads(entries, cacheDir, insecure); err != nil {
		return nil, err
	}
	if err := verifyDownloads(entries, cacheDir); err != nil {
		var mismatch *ChecksumMismatchError
		if errors.As(err, &mismatch) {
			tryRemoveCachedFile(filepath.Join(cacheDir, mismatch.File))
		}
		return nil, err
	}
	return entries, nil
}

func unpackAll(entries []DownloadEntry, cacheDir, destRoot string, opts UpdateOptions) error {
	for i := range entries {
		entry := &entries[i]
		cPrintf(colArrow, "-> ")
		cPrintf(colSuccess, "Unpacking: %s\n", entry.Filename)
		if err := unpackEntry(entry, cacheDir, destRoot, opts.SevenZip, opts.WinRAR); err != nil {
			return err
		}
	}
	return nil
}

// updateSource downloads or clones the browser source tree, then fetches and
// unpacks the platform extras on top of it.
func updateSource(opts UpdateOptions) error {
	if err := ensureDir(sourceTree); err != nil {
		return err
	}
	if err := ensureDir(downloadCache); err != nil {
		return err
	}
	if err := makeTmpPaths(); err != nil {
		return err
	}

	sel := archSelector(opts.X86, opts.ARM)

	if opts.Tarball {
		cPrintln(colInfo, "Downloading source tarball...")
		entries, err := fetchAndVerify(sourceManifest, downloadCache, opts.DisableSSLVerify)
		if err != nil {
			return err
		}
		cPrintln(colInfo, "Unpacking source tarball...")
		if err := unpackAll(entries, downloadCache, sourceTree, opts); err != nil {
			return err
		}
	} else {
		tag := platformTag(sel)
		cPrintf(colInfo, "Cloning sources for %s...\n", tag)
		inv := CommandInvocation{
			Binary: cloneCmd[0],
			Args:   append(append([]string{}, cloneCmd[1:]...), "-o", sourceTree, "-p", tag),
			Dir:    rootDir,
		}
		if err := Exec.Run("clone", inv); err != nil {
			return err
		}
	}

	cPrintln(colInfo, "Downloading platform files...")
	entries, err := fetchAndVerify(extrasManifest, downloadCache, opts.DisableSSLVerify)
	if err != nil {
		return err
	}

	for _, rel := range replacedVendorDirs {
		dir := filepath.Join(sourceTree, rel)
		if dirExists(dir) {
			if err := clearDir(dir); err != nil {
				return err
			}
		}
	}

	cPrintln(colInfo, "Unpacking platform files...")
	if err := unpackAll(entries, downloadCache, sourceTree, opts); err != nil {
		return err
	}

	cPrintln(colSuccess, "Source update completed successfully")
	return nil
}
