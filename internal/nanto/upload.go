package nanto

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// UploadOptions carries the upload subcommand flags.
type UploadOptions struct {
	AssumeYes bool // skip per-file confirmation
	Cleanup   bool // delete remote artifacts missing from the index
}

// ArtifactEntry describes one published build artifact in the remote index.
type ArtifactEntry struct {
	Filename   string `json:"filename"`
	Version    string `json:"version"`
	Size       int64  `json:"size"`
	B3Sum      string `json:"b3sum"`
	UploadedAt string `json:"uploaded_at"`
}

// artifactSuffixes are the packaging outputs worth publishing.
var artifactSuffixes = []string{".exe", ".zip", ".tar.xz"}

func isArtifactName(name string) bool {
	for _, suf := range artifactSuffixes {
		if strings.HasSuffix(name, suf) {
			return true
		}
	}
	return false
}

func parseArtifactIndex(data []byte) ([]ArtifactEntry, error) {
	var index []ArtifactEntry
	if err := json.Unmarshal(data, &index); err != nil {
		return nil, err
	}
	return index, nil
}

// browserVersion reads the version stamp out of the source tree. Failures
// degrade to "unknown" rather than blocking an upload.
func browserVersion(tree string) string {
	data, err := os.ReadFile(filepath.Join(tree, "chrome", "VERSION"))
	if err != nil {
		return "unknown"
	}
	parts := map[string]string{}
	for _, line := range splitLines(string(data)) {
		kv := strings.SplitN(strings.TrimSpace(line), "=", 2)
		if len(kv) == 2 {
			parts[kv[0]] = kv[1]
		}
	}
	for _, key := range []string{"MAJOR", "MINOR", "BUILD", "PATCH"} {
		if parts[key] == "" {
			return "unknown"
		}
	}
	return fmt.Sprintf("%s.%s.%s.%s", parts["MAJOR"], parts["MINOR"], parts["BUILD"], parts["PATCH"])
}

// scanArtifacts hashes every packaging output under the artifacts directory.
func scanArtifacts() ([]ArtifactEntry, error) {
	dirEntries, err := os.ReadDir(artifactsDir)
	if err != nil {
		return nil, fmt.Errorf("cannot read artifacts directory %s: %w", artifactsDir, err)
	}

	version := browserVersion(sourceTree)
	var artifacts []ArtifactEntry
	for _, de := range dirEntries {
		if !de.Type().IsRegular() || !isArtifactName(de.Name()) {
			continue
		}
		path := filepath.Join(artifactsDir, de.Name())
		info, err := de.Info()
		if err != nil {
			return nil, err
		}
		sum, err := hashFile(path, "b3sum")
		if err != nil {
			return nil, fmt.Errorf("failed to hash %s: %w", path, err)
		}
		artifacts = append(artifacts, ArtifactEntry{
			Filename:   de.Name(),
			Version:    version,
			Size:       info.Size(),
			B3Sum:      sum,
			UploadedAt: time.Now().UTC().Format(time.RFC3339),
		})
	}
	sort.Slice(artifacts, func(i, j int) bool { return artifacts[i].Filename < artifacts[j].Filename })
	return artifacts, nil
}

// uploadArtifacts implements the interactive upload command.
func uploadArtifacts(opts UploadOptions) error {
	return syncArtifacts(context.Background(), opts)
}

// ciUploadArtifacts publishes the packaging outputs without prompting. It is
// called at the end of a continuous-integration build.
func ciUploadArtifacts() error {
	return syncArtifacts(context.Background(), UploadOptions{AssumeYes: true})
}

func syncArtifacts(ctx context.Context, opts UploadOptions) error {
	client, err := NewBucketClient()
	if err != nil {
		return err
	}

	cPrintf(colArrow, "-> ")
	cPrintln(colSuccess, "Fetching remote artifact index")
	var remoteIndex []ArtifactEntry
	if remoteData, err := client.DownloadFile(ctx, artifactsIndex); err != nil {
		debugf("Remote index not found or error fetching: %v\n", err)
	} else if remoteIndex, err = parseArtifactIndex(remoteData); err != nil {
		return fmt.Errorf("failed to parse remote index: %w", err)
	}

	cPrintf(colArrow, "-> ")
	cPrintf(colSuccess, "Scanning artifacts in %s\n", artifactsDir)
	locals, err := scanArtifacts()
	if err != nil {
		return err
	}
	if len(locals) == 0 {
		return fmt.Errorf("no artifacts found in %s", artifactsDir)
	}

	newIndex := make(map[string]ArtifactEntry)
	for _, entry := range remoteIndex {
		newIndex[entry.Filename] = entry
	}

	var uploadedCount int
	for _, local := range locals {
		remote, exists := newIndex[local.Filename]
		if exists && local.B3Sum == remote.B3Sum {
			debugf("Unchanged, skipping: %s\n", local.Filename)
			continue
		}

		if !opts.AssumeYes {
			cPrintf(colArrow, "-> ")
			if !askForConfirmation(colWarn, "Upload %s (%s, %s)?", local.Filename, local.Version, humanReadableSize(local.Size)) {
				continue
			}
		}
		cPrintf(colArrow, "-> ")
		cPrintf(colSuccess, "Uploading: %s\n", local.Filename)
		if err := client.UploadLocalFile(ctx, local.Filename, filepath.Join(artifactsDir, local.Filename)); err != nil {
			return fmt.Errorf("failed to upload %s: %w", local.Filename, err)
		}
		newIndex[local.Filename] = local
		uploadedCount++
	}

	if opts.Cleanup {
		cPrintf(colArrow, "-> ")
		cPrintln(colSuccess, "Checking for stale remote artifacts")
		remoteObjects, err := client.ListObjects(ctx, "")
		if err != nil {
			return fmt.Errorf("failed to list remote files: %w", err)
		}

		activeFiles := make(map[string]bool)
		for name := range newIndex {
			activeFiles[name] = true
		}
		activeFiles[artifactsIndex] = true

		var deletedCount int
		for _, obj := range remoteObjects {
			if activeFiles[obj.Key] || !isArtifactName(obj.Key) {
				continue
			}
			cPrintf(colArrow, "-> ")
			if askForConfirmation(colError, "Delete stale artifact %s?", obj.Key) {
				if err := client.DeleteFile(ctx, obj.Key); err != nil {
					fmt.Fprintf(os.Stderr, "Warning: failed to delete %s: %v\n", obj.Key, err)
				} else {
					delete(newIndex, obj.Key)
					deletedCount++
				}
			}
		}
		if deletedCount > 0 {
			cPrintf(colSuccess, "Cleanup complete. Deleted %d stale files.\n", deletedCount)
		}
	}

	cPrintf(colArrow, "-> ")
	cPrintln(colSuccess, "Calculating storage usage")
	if allObjects, err := client.ListObjects(ctx, ""); err == nil {
		var totalSize int64
		for _, obj := range allObjects {
			totalSize += obj.Size
		}

		const tenGB = 10 * 1024 * 1024 * 1024
		percent := (float64(totalSize) / float64(tenGB)) * 100
		cPrintf(colArrow, "-> ")
		cPrintf(colSuccess, "Storage used: ")
		cPrintf(colNote, "%s / 10 GiB (%.1f%%)\n", humanReadableSize(totalSize), percent)

		if totalSize > (tenGB * 9 / 10) {
			cPrintln(colWarn, "Warning: over 90% of the free storage limit is in use!")
		}
	}

	if uploadedCount == 0 && !opts.Cleanup {
		cPrintf(colArrow, "-> ")
		cPrintln(colSuccess, "Everything up to date.")
		return nil
	}

	cPrintf(colArrow, "-> ")
	cPrintln(colSuccess, "Updating remote index")

	finalizedIndex := make([]ArtifactEntry, 0, len(newIndex))
	for _, entry := range newIndex {
		finalizedIndex = append(finalizedIndex, entry)
	}
	sort.Slice(finalizedIndex, func(i, j int) bool {
		return finalizedIndex[i].Filename < finalizedIndex[j].Filename
	})

	indexBytes, err := json.MarshalIndent(finalizedIndex, "", "  ")
	if err != nil {
		return err
	}
	if err := client.UploadFile(ctx, artifactsIndex, indexBytes); err != nil {
		return fmt.Errorf("failed to upload index: %w", err)
	}
	cPrintf(colSuccess, "Sync complete. Updated index with %d new uploads.\n", uploadedCount)
	return nil
}

func humanReadableSize(b int64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%d B", b)
	}
	div, exp := int64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(b)/float64(div), "KMGTPE"[exp])
}
