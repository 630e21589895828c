package nanto

import (
	"archive/tar"
	"compress/bzip2"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zip"
	"github.com/klauspost/compress/zstd"
	"github.com/klauspost/pgzip"
	"github.com/ulikunitz/xz"
	"golang.org/x/sys/unix"
)

// resolveExtractor returns the binary to run for an external extractor kind.
// An explicit path from the command line wins; otherwise the conventional
// binary name is looked up on PATH.
func resolveExtractor(kind, override string) (string, error) {
	if override != "" {
		return override, nil
	}
	name := kind
	if kind == extractorWinRAR {
		name = "unrar"
	}
	bin, err := exec.LookPath(name)
	if err != nil {
		return "", fmt.Errorf("extractor %q not found on PATH (pass its location explicitly): %w", name, err)
	}
	return bin, nil
}

// unpackEntry extracts a verified download into the source tree. Entries that
// name an external extractor are handed to it; everything else goes through
// the native tar/zip engines.
func unpackEntry(entry *DownloadEntry, cacheDir, destRoot, sevenZip, winRAR string) error {
	archivePath := entry.CachePath(cacheDir)
	dest := destRoot
	if entry.OutputPath != "" {
		dest = filepath.Join(destRoot, entry.OutputPath)
	}
	if err := ensureDir(dest); err != nil {
		return err
	}

	switch entry.Extractor {
	case extractorSevenZip:
		bin, err := resolveExtractor(extractorSevenZip, sevenZip)
		if err != nil {
			return err
		}
		return runExternalExtractor(bin, extractorSevenZip, archivePath, dest)
	case extractorWinRAR:
		bin, err := resolveExtractor(extractorWinRAR, winRAR)
		if err != nil {
			return err
		}
		return runExternalExtractor(bin, extractorWinRAR, archivePath, dest)
	}

	if strings.HasSuffix(archivePath, ".zip") {
		return extractZipArchive(archivePath, dest, entry.StripLeading)
	}
	return extractTarArchive(archivePath, dest, entry.StripLeading)
}

func runExternalExtractor(bin, kind, archivePath, dest string) error {
	var args []string
	switch kind {
	case extractorSevenZip:
		args = []string{"x", "-o" + dest, "-y", archivePath}
	case extractorWinRAR:
		args = []string{"x", "-y", archivePath, dest + string(os.PathSeparator)}
	default:
		return fmt.Errorf("unknown extractor kind: %s", kind)
	}
	cmd := exec.Command(bin, args...)
	if Debug {
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
	} else {
		cmd.Stdout = io.Discard
		cmd.Stderr = io.Discard
	}
	debugf("Extracting %s with %s\n", archivePath, bin)
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%s failed on %s: %w", bin, archivePath, err)
	}
	return nil
}

// stripComponents drops the first n slash-separated components from a tar or
// zip entry name. ok is false when the entry has nothing left after stripping.
func stripComponents(name string, n int) (string, bool) {
	if n <= 0 {
		return name, name != ""
	}
	parts := strings.Split(strings.Trim(name, "/"), "/")
	if len(parts) <= n {
		return "", false
	}
	return strings.Join(parts[n:], "/"), true
}

// extractTarArchive extracts a tar archive (with possible compression) into
// dest, dropping strip leading path components and handling PAX headers.
// System tar is tried first; the pure-Go reader is the fallback.
func extractTarArchive(archivePath, dest string, strip int) error {
	if _, err := exec.LookPath("tar"); err == nil {
		args := []string{"xf", archivePath, "-C", dest}
		if strip > 0 {
			args = append(args, fmt.Sprintf("--strip-components=%d", strip))
		}
		if err := exec.Command("tar", args...).Run(); err == nil {
			debugf("Extracted %s with system tar\n", archivePath)
			return nil
		}
		debugf("System tar failed on %s, using internal reader\n", archivePath)
	}

	f, err := os.Open(archivePath)
	if err != nil {
		return fmt.Errorf("failed to open archive %s: %w", archivePath, err)
	}
	defer f.Close()

	var r io.Reader = f
	switch {
	case strings.HasSuffix(archivePath, ".tar.gz") || strings.HasSuffix(archivePath, ".tgz"):
		gz, err := pgzip.NewReader(f)
		if err != nil {
			return fmt.Errorf("failed to create gzip reader for %s: %w", archivePath, err)
		}
		defer gz.Close()
		r = gz
	case strings.HasSuffix(archivePath, ".tar.bz2"):
		r = bzip2.NewReader(f)
	case strings.HasSuffix(archivePath, ".tar.xz"):
		xzr, err := xz.NewReader(f)
		if err != nil {
			return fmt.Errorf("failed to create xz reader for %s: %w", archivePath, err)
		}
		r = xzr
	case strings.HasSuffix(archivePath, ".tar.zst"):
		zst, err := zstd.NewReader(f)
		if err != nil {
			return fmt.Errorf("failed to create zstd reader for %s: %w", archivePath, err)
		}
		defer zst.Close()
		r = zst
	case strings.HasSuffix(archivePath, ".tar"):
		// No compression
	default:
		return fmt.Errorf("unsupported archive format: %s", archivePath)
	}

	absDest, err := filepath.Abs(dest)
	if err != nil {
		return err
	}

	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("error reading tar header in %s: %w", archivePath, err)
		}

		// Skip PAX headers (global or per-file)
		if hdr.Typeflag == tar.TypeXHeader || hdr.Typeflag == tar.TypeXGlobalHeader {
			if _, err := io.Copy(io.Discard, tr); err != nil {
				return fmt.Errorf("error skipping extended header data in %s: %w", archivePath, err)
			}
			continue
		}

		targetName, ok := stripComponents(hdr.Name, strip)
		if !ok {
			continue
		}

		targetPath := filepath.Join(absDest, targetName)
		if !strings.HasPrefix(targetPath, absDest+string(os.PathSeparator)) {
			return fmt.Errorf("illegal file path in archive: %s", hdr.Name)
		}

		if err := os.MkdirAll(filepath.Dir(targetPath), 0o755); err != nil {
			return fmt.Errorf("failed to create parent dir for %s: %w", targetPath, err)
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(targetPath, os.FileMode(hdr.Mode)); err != nil {
				return fmt.Errorf("failed to create dir %s: %w", targetPath, err)
			}
			if err := os.Chtimes(targetPath, hdr.AccessTime, hdr.ModTime); err != nil {
				debugf("Failed to set times for dir %s: %v\n", targetPath, err)
			}
		case tar.TypeReg:
			outFile, err := os.OpenFile(targetPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, os.FileMode(hdr.Mode))
			if err != nil {
				return fmt.Errorf("failed to create file %s: %w", targetPath, err)
			}
			if _, err := io.Copy(outFile, tr); err != nil {
				outFile.Close()
				return fmt.Errorf("failed to write file %s: %w", targetPath, err)
			}
			outFile.Close()
			if err := os.Chtimes(targetPath, hdr.AccessTime, hdr.ModTime); err != nil {
				debugf("Failed to set times for file %s: %v\n", targetPath, err)
			}
		case tar.TypeLink:
			linkName, ok := stripComponents(hdr.Linkname, strip)
			if !ok {
				continue
			}
			_ = os.Remove(targetPath)
			if err := os.Link(filepath.Join(absDest, linkName), targetPath); err != nil {
				return fmt.Errorf("failed to create hardlink %s -> %s: %w", targetPath, linkName, err)
			}
		case tar.TypeSymlink:
			_ = os.Remove(targetPath)
			if err := os.Symlink(hdr.Linkname, targetPath); err != nil && !os.IsExist(err) {
				return fmt.Errorf("failed to create symlink %s -> %s: %w", targetPath, hdr.Linkname, err)
			}
			atime := unix.Timeval{
				Sec:  hdr.AccessTime.Unix(),
				Usec: int64(hdr.AccessTime.Nanosecond() / 1000),
			}
			mtime := unix.Timeval{
				Sec:  hdr.ModTime.Unix(),
				Usec: int64(hdr.ModTime.Nanosecond() / 1000),
			}
			if err := unix.Lutimes(targetPath, []unix.Timeval{atime, mtime}); err != nil {
				debugf("Failed to set times for symlink %s: %v (continuing)\n", targetPath, err)
			}
		default:
			debugf("Skipping unsupported tar entry type %c: %s\n", hdr.Typeflag, hdr.Name)
		}
	}

	return nil
}

// extractZipArchive extracts a zip into dest, dropping strip leading path
// components.
func extractZipArchive(archivePath, dest string, strip int) error {
	r, err := zip.OpenReader(archivePath)
	if err != nil {
		return err
	}
	defer r.Close()

	dest, err = filepath.Abs(dest)
	if err != nil {
		return err
	}

	for _, f := range r.File {
		name, ok := stripComponents(f.Name, strip)
		if !ok {
			continue
		}
		fpath := filepath.Join(dest, name)

		// Prevent Zip Slip path traversal: the target must stay inside dest.
		if !strings.HasPrefix(fpath, dest+string(os.PathSeparator)) {
			return fmt.Errorf("illegal file path in archive: %s", f.Name)
		}

		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(fpath, os.ModePerm); err != nil {
				return err
			}
			continue
		}

		if err := os.MkdirAll(filepath.Dir(fpath), os.ModePerm); err != nil {
			return err
		}

		outFile, err := os.OpenFile(fpath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, f.Mode())
		if err != nil {
			return err
		}

		rc, err := f.Open()
		if err != nil {
			outFile.Close()
			return err
		}

		_, err = io.Copy(outFile, rc)

		// Close inside the loop to avoid holding too many descriptors.
		outFile.Close()
		rc.Close()

		if err != nil {
			return err
		}
	}
	return nil
}

// compressLogFile compresses src into dst with xz, leaving src in place for
// the caller to remove.
func compressLogFile(srcPath, destPath string) error {
	src, err := os.Open(srcPath)
	if err != nil {
		return err
	}
	defer src.Close()

	dest, err := os.Create(destPath)
	if err != nil {
		return err
	}
	defer dest.Close()

	xzWriter, err := xz.NewWriter(dest)
	if err != nil {
		return err
	}
	defer xzWriter.Close()

	_, err = io.Copy(xzWriter, src)
	return err
}
