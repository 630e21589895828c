package nanto

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFindPatchBin(t *testing.T) {
	e := NewExecutor(context.Background())
	setGlobal(t, &patchBinRel, "third_party/git/usr/bin/patch")

	t.Run("prefers the tree-bundled binary", func(t *testing.T) {
		tree := t.TempDir()
		binDir := filepath.Join(tree, "third_party", "git", "usr", "bin")
		require.NoError(t, os.MkdirAll(binDir, 0o755))
		bundled := writeScript(t, binDir, "patch", `echo "GNU patch 2.7.6"`)

		got, err := findPatchBin(e, tree)
		require.NoError(t, err)
		assert.Equal(t, bundled, got)
	})

	t.Run("falls back to the system binary", func(t *testing.T) {
		stubDir := t.TempDir()
		writeScript(t, stubDir, "patch", `echo "GNU patch 2.7.6"`)
		t.Setenv("PATH", stubDir)

		got, err := findPatchBin(e, t.TempDir())
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(stubDir, "patch"), got)
	})

	t.Run("no binary anywhere", func(t *testing.T) {
		t.Setenv("PATH", t.TempDir())
		_, err := findPatchBin(e, t.TempDir())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "no usable patch binary")
	})

	t.Run("version check failure rejects the binary", func(t *testing.T) {
		tree := t.TempDir()
		binDir := filepath.Join(tree, "third_party", "git", "usr", "bin")
		require.NoError(t, os.MkdirAll(binDir, 0o755))
		writeScript(t, binDir, "patch", "exit 1")

		_, err := findPatchBin(e, tree)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "not usable")
	})
}

func TestGeneratePatchesFromSeries(t *testing.T) {
	t.Run("resolves listed patches in order", func(t *testing.T) {
		dir := t.TempDir()
		writeFile(t, filepath.Join(dir, patchSeriesFile), "first.patch\n# disabled.patch\n\nsub/second.patch\n")
		writeFile(t, filepath.Join(dir, "first.patch"), "")
		writeFile(t, filepath.Join(dir, "sub", "second.patch"), "")

		got, err := generatePatchesFromSeries(dir)
		require.NoError(t, err)
		assert.Equal(t, []string{
			filepath.Join(dir, "first.patch"),
			filepath.Join(dir, "sub", "second.patch"),
		}, got)
	})

	t.Run("listed but absent patch fails", func(t *testing.T) {
		dir := t.TempDir()
		writeFile(t, filepath.Join(dir, patchSeriesFile), "ghost.patch\n")
		_, err := generatePatchesFromSeries(dir)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "does not exist")
	})

	t.Run("missing series file fails", func(t *testing.T) {
		_, err := generatePatchesFromSeries(t.TempDir())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "series")
	})
}

func TestApplyPatchSeries(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, patchSeriesFile), "a.patch\nb.patch\n")
	writeFile(t, filepath.Join(dir, "a.patch"), "")
	writeFile(t, filepath.Join(dir, "b.patch"), "")
	tree := t.TempDir()

	t.Run("feeds every patch with the full argument set", func(t *testing.T) {
		f := newFakeRunner("")
		require.NoError(t, applyPatchSeries(f, "/usr/bin/patch", tree, dir))

		require.Equal(t, []string{"patch", "patch"}, f.steps)
		assert.Equal(t, "/usr/bin/patch", f.invs[0].Binary)
		assert.Equal(t, []string{
			"-p1", "--ignore-whitespace",
			"-i", filepath.Join(dir, "a.patch"),
			"-d", tree,
			"--no-backup-if-mismatch",
		}, f.invs[0].Args)
		assert.Equal(t, filepath.Join(dir, "b.patch"), f.invs[1].Args[3])
	})

	t.Run("stops at the first failing patch", func(t *testing.T) {
		f := newFakeRunner("")
		f.fail["patch"] = &BuildStepError{Step: "patch", ExitCode: 1}

		err := applyPatchSeries(f, "/usr/bin/patch", tree, dir)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "a.patch failed")
		assert.Len(t, f.steps, 1)
	})
}

// patchFixture lays out a source tree plus every input document patchSource
// reads, pointing the path globals at them.
func patchFixture(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	tree := filepath.Join(root, "src")

	setGlobal(t, &sourceTree, tree)
	setGlobal(t, &patchBinRel, "third_party/git/usr/bin/patch")

	binDir := filepath.Join(tree, "third_party", "git", "usr", "bin")
	require.NoError(t, os.MkdirAll(binDir, 0o755))
	writeScript(t, binDir, "patch", `echo "GNU patch 2.7.6"`)

	writeFile(t, filepath.Join(tree, "prebuilt.exe"), "bin")
	writeFile(t, filepath.Join(tree, "full-only.exe"), "bin")
	writeFile(t, filepath.Join(tree, "net", "config.cc"), "see google.com\n")
	writeFile(t, filepath.Join(tree, "extra", "page.cc"), "also google.com\n")

	lists := filepath.Join(root, "lists")
	writeFile(t, filepath.Join(lists, "pruning.list"), "prebuilt.exe\n")
	writeFile(t, filepath.Join(lists, "pruning.full.list"), "prebuilt.exe\nfull-only.exe\n")
	writeFile(t, filepath.Join(lists, "domain_regex.list"), fixtureDomainRules)
	writeFile(t, filepath.Join(lists, "domain_substitution.list"), "net/config.cc\n")
	writeFile(t, filepath.Join(lists, "domain_substitution.full.list"), "net/config.cc\nextra/page.cc\n")
	setGlobal(t, &pruneList, filepath.Join(lists, "pruning.list"))
	setGlobal(t, &pruneListFull, filepath.Join(lists, "pruning.full.list"))
	setGlobal(t, &domainRegexList, filepath.Join(lists, "domain_regex.list"))
	setGlobal(t, &domainSubList, filepath.Join(lists, "domain_substitution.list"))
	setGlobal(t, &domainSubFull, filepath.Join(lists, "domain_substitution.full.list"))

	patches := filepath.Join(root, "patches")
	writeFile(t, filepath.Join(patches, "upstream", patchSeriesFile), "core.patch\n")
	writeFile(t, filepath.Join(patches, "upstream", "core.patch"), "")
	writeFile(t, filepath.Join(patches, "platform", patchSeriesFile), "port-a.patch\nport-b.patch\n")
	writeFile(t, filepath.Join(patches, "platform", "port-a.patch"), "")
	writeFile(t, filepath.Join(patches, "platform", "port-b.patch"), "")
	setGlobal(t, &patchesUpstream, filepath.Join(patches, "upstream"))
	setGlobal(t, &patchesPlatform, filepath.Join(patches, "platform"))

	return tree
}

func TestPatchSource(t *testing.T) {
	t.Run("prunes, patches and substitutes", func(t *testing.T) {
		tree := patchFixture(t)
		f := newFakeRunner("")
		f.version = "GNU patch 2.7.6"

		require.NoError(t, patchSource(f, PatchOptions{}))

		// One upstream and two platform patches.
		assert.Equal(t, []string{"patch", "patch", "patch"}, f.steps)
		assert.False(t, fileExists(filepath.Join(tree, "prebuilt.exe")))
		assert.True(t, fileExists(filepath.Join(tree, "full-only.exe")))

		data, err := os.ReadFile(filepath.Join(tree, "net", "config.cc"))
		require.NoError(t, err)
		assert.Equal(t, "see example.org\n", string(data))

		// Not on the local substitution list.
		data, err = os.ReadFile(filepath.Join(tree, "extra", "page.cc"))
		require.NoError(t, err)
		assert.Equal(t, "also google.com\n", string(data))
	})

	t.Run("tarball mode uses the full lists", func(t *testing.T) {
		tree := patchFixture(t)
		f := newFakeRunner("")
		f.version = "GNU patch 2.7.6"

		require.NoError(t, patchSource(f, PatchOptions{Tarball: true}))

		assert.False(t, fileExists(filepath.Join(tree, "full-only.exe")))
		data, err := os.ReadFile(filepath.Join(tree, "extra", "page.cc"))
		require.NoError(t, err)
		assert.Equal(t, "also example.org\n", string(data))
	})

	t.Run("missing source tree", func(t *testing.T) {
		setGlobal(t, &sourceTree, filepath.Join(t.TempDir(), "never-updated"))
		err := patchSource(newFakeRunner(""), PatchOptions{})
		require.ErrorIs(t, err, errSourceTreeMissing)
	})

	t.Run("unremovable prune entry stops before patching", func(t *testing.T) {
		patchFixture(t)
		setGlobal(t, &pruneList, func() string {
			p := filepath.Join(t.TempDir(), "pruning.list")
			writeFile(t, p, "not/in/tree.dll\n")
			return p
		}())

		f := newFakeRunner("")
		err := patchSource(f, PatchOptions{})
		var unremovable *UnremovablePathError
		require.ErrorAs(t, err, &unremovable)
		assert.Empty(t, f.steps)
	})
}
