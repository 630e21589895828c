package nanto

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Extractor names a manifest entry may request. Anything else is handed
// to the native archive reader by filename suffix.
const (
	extractorSevenZip = "7z"
	extractorWinRAR   = "winrar"
)

// DownloadEntry is one section of a downloads manifest: where to fetch an
// archive, how to verify it, and how to unpack it into the source tree.
type DownloadEntry struct {
	Name         string // section name
	URL          string
	Filename     string // cache filename; defaults to the URL basename
	Algo         string // sha256, sha512 or b3sum
	Digest       string
	Extractor    string // optional: 7z or winrar for the external tools
	OutputPath   string // subdirectory of the source tree to unpack into
	StripLeading int    // leading path components to drop while unpacking
}

// CachePath returns the entry's location in the download cache.
func (d *DownloadEntry) CachePath(cacheDir string) string {
	return filepath.Join(cacheDir, d.Filename)
}

// loadManifest parses an INI-style downloads manifest: `[name]` sections
// with KEY = VALUE lines, blank lines and # comments skipped. Every entry
// must carry a url and exactly one checksum key.
func loadManifest(path string) ([]DownloadEntry, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read downloads manifest: %w", err)
	}
	defer file.Close()

	var entries []DownloadEntry
	var cur *DownloadEntry

	flush := func() error {
		if cur == nil {
			return nil
		}
		if err := cur.validate(); err != nil {
			return fmt.Errorf("manifest %s: %w", filepath.Base(path), err)
		}
		entries = append(entries, *cur)
		cur = nil
		return nil
	}

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		if strings.HasPrefix(line, "[") && strings.HasSuffix(line, "]") {
			if err := flush(); err != nil {
				return nil, err
			}
			cur = &DownloadEntry{Name: strings.TrimSpace(line[1 : len(line)-1])}
			continue
		}

		if cur == nil {
			return nil, fmt.Errorf("manifest %s: key outside any section: %s", filepath.Base(path), line)
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		val := strings.Trim(strings.TrimSpace(parts[1]), `"'`)

		switch key {
		case "url":
			cur.URL = val
		case "download_filename":
			cur.Filename = val
		case "sha256", "sha512", "b3sum":
			cur.Algo = key
			cur.Digest = strings.ToLower(val)
		case "extractor":
			cur.Extractor = val
		case "output_path":
			cur.OutputPath = val
		case "strip_leading":
			n, err := strconv.Atoi(val)
			if err != nil || n < 0 {
				return nil, fmt.Errorf("manifest %s: bad strip_leading for [%s]: %q", filepath.Base(path), cur.Name, val)
			}
			cur.StripLeading = n
		default:
			debugf("manifest %s: ignoring key %s in [%s]\n", filepath.Base(path), key, cur.Name)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if err := flush(); err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("manifest %s declares no downloads", filepath.Base(path))
	}
	return entries, nil
}

func (d *DownloadEntry) validate() error {
	if d.URL == "" {
		return fmt.Errorf("section [%s] has no url", d.Name)
	}
	if d.Algo == "" || d.Digest == "" {
		return fmt.Errorf("section [%s] has no checksum", d.Name)
	}
	if d.Filename == "" {
		d.Filename = filepath.Base(d.URL)
	}
	if strings.Contains(d.Filename, "/") {
		return fmt.Errorf("section [%s] has a path-like download_filename", d.Name)
	}
	return nil
}
