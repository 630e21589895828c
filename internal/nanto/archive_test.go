package nanto

import (
	"archive/tar"
	"compress/gzip"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ulikunitz/xz"
)

type tarEntry struct {
	name     string
	typeflag byte
	content  string
	linkname string
}

func writeTarGz(t *testing.T, path string, entries []tarEntry) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	gz := gzip.NewWriter(f)
	tw := tar.NewWriter(gz)
	now := time.Now()
	for _, e := range entries {
		hdr := &tar.Header{
			Name:     e.name,
			Typeflag: e.typeflag,
			Linkname: e.linkname,
			Mode:     0o644,
			Size:     int64(len(e.content)),
			ModTime:  now,
		}
		if e.typeflag == tar.TypeDir {
			hdr.Mode = 0o755
		}
		require.NoError(t, tw.WriteHeader(hdr))
		if e.typeflag == tar.TypeReg {
			_, err := tw.Write([]byte(e.content))
			require.NoError(t, err)
		}
	}
	require.NoError(t, tw.Close())
	require.NoError(t, gz.Close())
}

func writeZip(t *testing.T, path string, files map[string]string) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	zw := zip.NewWriter(f)
	for name, content := range files {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
}

func TestStripComponents(t *testing.T) {
	cases := []struct {
		name  string
		strip int
		want  string
		ok    bool
	}{
		{"a/b/c", 0, "a/b/c", true},
		{"a/b/c", 1, "b/c", true},
		{"a/b/c", 2, "c", true},
		{"a/b/c", 3, "", false},
		{"a", 1, "", false},
		{"a/", 1, "", false},
		{"/abs/x", 1, "x", true},
		{"", 0, "", false},
	}
	for _, c := range cases {
		got, ok := stripComponents(c.name, c.strip)
		assert.Equal(t, c.want, got, "name=%q strip=%d", c.name, c.strip)
		assert.Equal(t, c.ok, ok, "name=%q strip=%d", c.name, c.strip)
	}
}

func TestExtractTarArchive(t *testing.T) {
	entries := []tarEntry{
		{name: "top/", typeflag: tar.TypeDir},
		{name: "top/hello.txt", typeflag: tar.TypeReg, content: "hi there\n"},
		{name: "top/link", typeflag: tar.TypeSymlink, linkname: "hello.txt"},
	}

	t.Run("with leading component dropped", func(t *testing.T) {
		archive := filepath.Join(t.TempDir(), "src.tar.gz")
		writeTarGz(t, archive, entries)
		dest := t.TempDir()

		require.NoError(t, extractTarArchive(archive, dest, 1))

		data, err := os.ReadFile(filepath.Join(dest, "hello.txt"))
		require.NoError(t, err)
		assert.Equal(t, "hi there\n", string(data))

		target, err := os.Readlink(filepath.Join(dest, "link"))
		require.NoError(t, err)
		assert.Equal(t, "hello.txt", target)

		// The fully stripped top directory itself is not recreated as content.
		assert.False(t, fileExists(filepath.Join(dest, "top", "hello.txt")))
	})

	t.Run("without stripping", func(t *testing.T) {
		archive := filepath.Join(t.TempDir(), "src.tar.gz")
		writeTarGz(t, archive, entries)
		dest := t.TempDir()

		require.NoError(t, extractTarArchive(archive, dest, 0))
		assert.True(t, fileExists(filepath.Join(dest, "top", "hello.txt")))
	})

	t.Run("unsupported format", func(t *testing.T) {
		archive := filepath.Join(t.TempDir(), "noise.rar")
		writeFile(t, archive, "not an archive")
		err := extractTarArchive(archive, t.TempDir(), 0)
		require.Error(t, err)
	})
}

func TestExtractZipArchive(t *testing.T) {
	t.Run("with leading component dropped", func(t *testing.T) {
		archive := filepath.Join(t.TempDir(), "bundle.zip")
		writeZip(t, archive, map[string]string{
			"top/a.txt":     "A",
			"top/sub/b.txt": "B",
		})
		dest := t.TempDir()

		require.NoError(t, extractZipArchive(archive, dest, 1))
		assert.True(t, fileExists(filepath.Join(dest, "a.txt")))

		data, err := os.ReadFile(filepath.Join(dest, "sub", "b.txt"))
		require.NoError(t, err)
		assert.Equal(t, "B", string(data))
	})

	t.Run("rejects path traversal", func(t *testing.T) {
		archive := filepath.Join(t.TempDir(), "evil.zip")
		writeZip(t, archive, map[string]string{"../evil.txt": "nope"})

		parent := t.TempDir()
		dest := filepath.Join(parent, "inner")
		require.NoError(t, os.MkdirAll(dest, 0o755))

		err := extractZipArchive(archive, dest, 0)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "illegal file path")
		assert.False(t, fileExists(filepath.Join(parent, "evil.txt")))
	})
}

func TestUnpackEntry(t *testing.T) {
	cache := t.TempDir()
	writeZip(t, filepath.Join(cache, "tool.zip"), map[string]string{
		"pkg/tool.txt": "T",
	})

	entry := DownloadEntry{
		Filename:     "tool.zip",
		OutputPath:   "third_party/tool",
		StripLeading: 1,
	}
	destRoot := t.TempDir()
	require.NoError(t, unpackEntry(&entry, cache, destRoot, "", ""))

	data, err := os.ReadFile(filepath.Join(destRoot, "third_party", "tool", "tool.txt"))
	require.NoError(t, err)
	assert.Equal(t, "T", string(data))
}

func TestResolveExtractor(t *testing.T) {
	t.Run("explicit path wins", func(t *testing.T) {
		got, err := resolveExtractor(extractorSevenZip, "/opt/custom/7zz")
		require.NoError(t, err)
		assert.Equal(t, "/opt/custom/7zz", got)
	})

	t.Run("lookup failure names the binary", func(t *testing.T) {
		t.Setenv("PATH", t.TempDir())
		_, err := resolveExtractor(extractorWinRAR, "")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unrar")
	})
}

func TestCompressLogFile(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "build.log")
	writeFile(t, src, "ninja: build stopped\n")

	dst := src + ".xz"
	require.NoError(t, compressLogFile(src, dst))

	// The source stays in place for the caller to remove.
	assert.True(t, fileExists(src))

	f, err := os.Open(dst)
	require.NoError(t, err)
	defer f.Close()
	r, err := xz.NewReader(f)
	require.NoError(t, err)
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, "ninja: build stopped\n", string(data))
}
