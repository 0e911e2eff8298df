package fileset

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestFromDirectory_LoadsTextFiles(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "main.go", "package main\n")
	writeFile(t, root, "pkg/util.go", "package pkg\n")
	writeFile(t, root, "README.md", "# readme\n")

	set, err := FromDirectory(root, DefaultConfig())
	require.NoError(t, err)

	assert.Equal(t, []string{"README.md", "main.go", "pkg/util.go"}, set.Paths)
	assert.Equal(t, "package main\n", set.Files["main.go"])
}

func TestFromDirectory_SkipsHiddenAndBuildDirs(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "main.go", "package main\n")
	writeFile(t, root, ".git/config", "[core]\n")
	writeFile(t, root, ".hidden/file.go", "package hidden\n")
	writeFile(t, root, "node_modules/dep/index.js", "module.exports = {}\n")
	writeFile(t, root, "vendor/lib/lib.go", "package lib\n")
	writeFile(t, root, ".env", "SECRET=1\n")

	set, err := FromDirectory(root, DefaultConfig())
	require.NoError(t, err)

	assert.Equal(t, []string{"main.go"}, set.Paths)
}

func TestFromDirectory_ExtensionFilter(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "main.go", "package main\n")
	writeFile(t, root, "script.py", "print('hi')\n")
	writeFile(t, root, "notes.txt", "notes\n")

	cfg := DefaultConfig()
	cfg.Extensions = []string{".go", ".py"}
	set, err := FromDirectory(root, cfg)
	require.NoError(t, err)

	assert.Equal(t, []string{"main.go", "script.py"}, set.Paths)
}

func TestFromDirectory_TruncatesOversizedFiles(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "big.txt", strings.Repeat("a", 100))

	cfg := DefaultConfig()
	cfg.MaxFileSize = 10
	set, err := FromDirectory(root, cfg)
	require.NoError(t, err)

	content := set.Files["big.txt"]
	assert.True(t, strings.HasPrefix(content, "aaaaaaaaaa"))
	assert.True(t, strings.HasSuffix(content, "[file truncated]"))
	assert.Len(t, content, 10+len("\n... [file truncated]"))
}

func TestFromDirectory_SkipsBinaryAndEmpty(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "main.go", "package main\n")
	writeFile(t, root, "blob.bin", "PK\x00\x04binary")
	writeFile(t, root, "empty.txt", "")

	set, err := FromDirectory(root, DefaultConfig())
	require.NoError(t, err)

	assert.Equal(t, []string{"main.go"}, set.Paths)
}

func TestFromDirectory_MaxFilesCap(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.go", "package a\n")
	writeFile(t, root, "b.go", "package b\n")
	writeFile(t, root, "c.go", "package c\n")

	cfg := DefaultConfig()
	cfg.MaxFiles = 2
	set, err := FromDirectory(root, cfg)
	require.NoError(t, err)

	assert.Len(t, set.Paths, 2)
}

func TestFromDirectory_MissingRoot(t *testing.T) {
	_, err := FromDirectory(filepath.Join(t.TempDir(), "missing"), DefaultConfig())
	assert.Error(t, err)
}

func TestParseManifest_Object(t *testing.T) {
	set, err := ParseManifest(`{
		"src/main.go": "package main",
		"src/util.go": "package main\n\nfunc helper() {}"
	}`)
	require.NoError(t, err)

	assert.Equal(t, []string{"src/main.go", "src/util.go"}, set.Paths)
	assert.Equal(t, "package main", set.Files["src/main.go"])
}

func TestParseManifest_Array(t *testing.T) {
	set, err := ParseManifest(`[
		{"path": "b.go", "content": "package b"},
		{"path": "a.go", "content": "package a"}
	]`)
	require.NoError(t, err)

	assert.Equal(t, []string{"a.go", "b.go"}, set.Paths, "paths are sorted")
	assert.Equal(t, "package a", set.Files["a.go"])
}

func TestParseManifest_ArrayMissingPath(t *testing.T) {
	_, err := ParseManifest(`[{"content": "orphaned"}]`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing path")
}

func TestParseManifest_InvalidJSON(t *testing.T) {
	_, err := ParseManifest(`{"a": `)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not valid JSON")
}

func TestParseManifest_ScalarRejected(t *testing.T) {
	_, err := ParseManifest(`"just a string"`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "object or array")
}

func TestFromManifest_ReadsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "manifest.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"x.go": "package x"}`), 0o644))

	set, err := FromManifest(path)
	require.NoError(t, err)
	assert.Equal(t, "package x", set.Files["x.go"])

	_, err = FromManifest(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}
