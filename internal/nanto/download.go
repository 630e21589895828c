package nanto

import (
	"bufio"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/gookit/color"
	"github.com/schollz/progressbar/v3"
	"golang.org/x/sys/unix"
)

type downloadOptions struct {
	Quiet    bool // Quiet suppresses all stdout/stderr/progress output
	Insecure bool // Insecure disables TLS certificate verification
}

func newHTTPClient(insecure bool) *http.Client {
	tlsConfig := &tls.Config{
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: insecure,
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.TLSClientConfig = tlsConfig

	// Some mirrors are slow to complete the handshake; default 10s is too tight.
	transport.TLSHandshakeTimeout = 30 * time.Second

	return &http.Client{
		Transport: transport,
		Timeout:   30 * time.Minute, // source bundles run into the gigabytes
	}
}

// tryRemoveCachedFile removes a cached download unless another process holds
// its lock, in which case the file is left alone.
func tryRemoveCachedFile(path string) {
	lockPath := path + ".lock"
	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		_ = os.Remove(path)
		return
	}
	defer f.Close()
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		// Someone is downloading or verifying the file; skip cleanup.
		return
	}
	defer unix.Flock(int(f.Fd()), unix.LOCK_UN)
	_ = os.Remove(path)
	_ = os.Remove(lockPath)
}

// retrieveDownloads fetches every manifest entry that is not already in the
// cache. Files are verified separately afterwards, so a stale partial from an
// aborted run is caught there rather than here.
func retrieveDownloads(entries []DownloadEntry, cacheDir string, insecure bool) error {
	if err := ensureDir(cacheDir); err != nil {
		return fmt.Errorf("failed to create download cache %s: %w", cacheDir, err)
	}
	for i := range entries {
		entry := &entries[i]
		destPath := entry.CachePath(cacheDir)
		if fileExists(destPath) {
			debugf("Already in cache: %s\n", destPath)
			continue
		}
		cPrintf(colArrow, "-> ")
		cPrintf(colSuccess, "Fetching: %s\n", entry.Filename)
		opt := downloadOptions{Quiet: !stdoutIsTerminal() && !Verbose, Insecure: insecure}
		if err := downloadFile(entry.URL, destPath, opt); err != nil {
			os.Remove(destPath)
			return fmt.Errorf("failed to download %s: %w", entry.URL, err)
		}
	}
	return nil
}

func downloadFile(url, absPath string, opt downloadOptions) error {
	lockPath := absPath + ".lock"

	// The lock serialises concurrent invocations fetching into the same cache.
	lFile, err := os.Create(lockPath)
	if err != nil {
		return fmt.Errorf("failed to create lock file: %w", err)
	}
	defer lFile.Close()

	if err := unix.Flock(int(lFile.Fd()), unix.LOCK_EX); err != nil {
		return fmt.Errorf("failed to acquire lock for download: %w", err)
	}
	defer unix.Flock(int(lFile.Fd()), unix.LOCK_UN)

	// Now that we hold the lock, check again: another process may have
	// finished the download while we were waiting.
	if _, err := os.Stat(absPath); err == nil {
		debugf("File %s appeared after acquiring lock, skipping download.\n", absPath)
		_ = os.Remove(lockPath)
		return nil
	}

	defer func() {
		if _, err := os.Stat(absPath); err == nil {
			_ = os.Remove(lockPath)
		}
	}()

	debugf("Downloading %s -> %s\n", url, absPath)

	// --- Primary choice: curl with Go-native colorization ---
	if _, err := exec.LookPath("curl"); err == nil {
		curlArgs := []string{"-L", "--fail", "-o", absPath}
		if opt.Insecure {
			curlArgs = append(curlArgs, "-k")
		}
		if opt.Quiet {
			curlArgs = append(curlArgs, "-sS")
		} else {
			curlArgs = append(curlArgs, "-#")
		}
		curlArgs = append(curlArgs, url)
		cmd := exec.Command("curl", curlArgs...)

		if opt.Quiet {
			cmd.Stdout = io.Discard
			cmd.Stderr = io.Discard
			if err := cmd.Run(); err == nil {
				return nil
			}
			debugf("curl (quiet) failed, falling back to wget\n")
		} else {
			stderrPipe, err := cmd.StderrPipe()
			if err != nil {
				cmd.Stderr = os.Stderr
			}
			cmd.Stdout = os.Stdout

			if err := cmd.Start(); err != nil {
				return fmt.Errorf("failed to start curl: %w", err)
			}

			if stderrPipe != nil {
				go func() {
					reader := bufio.NewReader(stderrPipe)
					blue := "\x1b[" + color.Blue.Code() + "m"
					reset := "\x1b[0m"
					for {
						lineBytes, err := reader.ReadBytes('\r')
						if len(lineBytes) > 0 {
							line := string(lineBytes)
							if strings.HasPrefix(strings.TrimSpace(line), "#") {
								fmt.Fprintf(os.Stderr, "%s%s%s", blue, line, reset)
							} else {
								fmt.Fprint(os.Stderr, line)
							}
						}
						if err != nil {
							break
						}
					}
				}()
			}

			if err := cmd.Wait(); err != nil {
				debugf("\ncurl failed, falling back to wget")
			} else {
				debugf("\nDownload successful with curl.")
				return nil
			}
		}
	} else {
		debugf("curl not found, trying wget")
	}

	// --- Fallback 1: wget ---
	if _, err := exec.LookPath("wget"); err == nil {
		args := []string{"-O", absPath}
		if opt.Insecure {
			args = append([]string{"--no-check-certificate"}, args...)
		}
		if opt.Quiet {
			args = append([]string{"-q"}, args...)
		} else {
			args = append([]string{"-nv"}, args...)
		}
		args = append(args, url)
		cmd := exec.Command("wget", args...)
		if opt.Quiet {
			cmd.Stdout = io.Discard
			cmd.Stderr = io.Discard
		} else {
			cmd.Stdout = os.Stdout
			cmd.Stderr = os.Stderr
		}
		if err := cmd.Run(); err == nil {
			debugf("\nDownload successful with wget.")
			return nil
		}
		debugf("\nwget failed, falling back to native Go HTTP client")
	} else {
		debugf("wget not found, using native Go HTTP client")
	}

	// --- Fallback 2: native Go HTTP client ---
	client := newHTTPClient(opt.Insecure)

	out, err := os.Create(absPath)
	if err != nil {
		return fmt.Errorf("failed to create destination file %s: %w", absPath, err)
	}
	defer out.Close()

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("native http get failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download failed with status: %s", resp.Status)
	}

	var dst io.Writer = out
	if !opt.Quiet && stdoutIsTerminal() {
		bar := progressbar.DefaultBytes(resp.ContentLength, filepath.Base(absPath))
		dst = io.MultiWriter(out, bar)
	}
	if _, err := io.Copy(dst, resp.Body); err != nil {
		return fmt.Errorf("failed to write to destination file: %w", err)
	}

	debugf("Download successful with native Go HTTP client.")
	return nil
}
