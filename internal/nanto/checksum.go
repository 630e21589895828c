package nanto

import (
	"crypto/sha256"
	"crypto/sha512"
	"fmt"
	"hash"
	"io"
	"os"
	"runtime"
	"strings"
	"sync"

	"lukechampine.com/blake3"
)

// newDigest maps a manifest checksum key to its hash constructor.
func newDigest(algo string) (hash.Hash, error) {
	switch algo {
	case "sha256":
		return sha256.New(), nil
	case "sha512":
		return sha512.New(), nil
	case "b3sum":
		return blake3.New(32, nil), nil
	}
	return nil, fmt.Errorf("unsupported checksum algorithm %q", algo)
}

// hashFile streams path through the named algorithm and returns the hex
// digest.
func hashFile(path, algo string) (string, error) {
	h, err := newDigest(algo)
	if err != nil {
		return "", err
	}

	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	buf := make([]byte, 64*1024)
	if _, err := io.CopyBuffer(h, f, buf); err != nil {
		return "", err
	}
	return fmt.Sprintf("%x", h.Sum(nil)), nil
}

// verifyEntry checks one cached download against its declared digest.
func verifyEntry(entry *DownloadEntry, cacheDir string) error {
	path := entry.CachePath(cacheDir)
	got, err := hashFile(path, entry.Algo)
	if err != nil {
		return fmt.Errorf("failed to hash %s: %w", entry.Filename, err)
	}
	if !strings.EqualFold(got, entry.Digest) {
		return &ChecksumMismatchError{File: entry.Filename}
	}
	return nil
}

// verifyDownloads hashes every cached manifest entry, a few files at a
// time. The first failure is reported after all workers finish.
func verifyDownloads(entries []DownloadEntry, cacheDir string) error {
	if len(entries) == 0 {
		return nil
	}

	numWorkers := runtime.NumCPU()
	if len(entries) < numWorkers {
		numWorkers = len(entries)
	}

	jobs := make(chan *DownloadEntry, len(entries))
	var wg sync.WaitGroup
	var errOnce sync.Once
	var firstErr error

	for w := 0; w < numWorkers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for entry := range jobs {
				if err := verifyEntry(entry, cacheDir); err != nil {
					errOnce.Do(func() { firstErr = err })
				}
			}
		}()
	}

	for i := range entries {
		jobs <- &entries[i]
	}
	close(jobs)
	wg.Wait()

	return firstErr
}
