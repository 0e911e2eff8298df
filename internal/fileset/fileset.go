// Package fileset builds the path-to-content map the analysis engine
// consumes, from a directory walk or a JSON manifest. The engine does
// not care how the set was produced; this package exists so the CLI
// has a concrete source.
package fileset

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/tidwall/gjson"
)

// Set is an ordered collection of files for analysis.
type Set struct {
	// Files maps relative path to content.
	Files map[string]string

	// Paths is the ordered path list.
	Paths []string
}

// Config bounds what a directory walk loads.
type Config struct {
	// MaxFileSize is the per-file byte cap; larger files are truncated.
	MaxFileSize int64

	// MaxFiles caps the total file count.
	MaxFiles int

	// Extensions restricts loading to these extensions (with dot).
	// Empty means all non-binary files.
	Extensions []string
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxFileSize: 256 * 1024,
		MaxFiles:    2000,
	}
}

// skipDirs are directories never descended into.
var skipDirs = map[string]bool{
	".git":         true,
	"node_modules": true,
	"vendor":       true,
	"__pycache__":  true,
	".venv":        true,
	"dist":         true,
	"build":        true,
	"target":       true,
}

// FromDirectory walks root and loads text files into a Set. Dot
// directories, well-known build output, and binary content are
// skipped; oversized files are truncated with a marker.
func FromDirectory(root string, cfg Config) (*Set, error) {
	if cfg.MaxFileSize <= 0 {
		cfg.MaxFileSize = 256 * 1024
	}
	if cfg.MaxFiles <= 0 {
		cfg.MaxFiles = 2000
	}

	set := &Set{Files: make(map[string]string)}

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		name := d.Name()
		if d.IsDir() {
			if path != root && (skipDirs[name] || strings.HasPrefix(name, ".")) {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.HasPrefix(name, ".") {
			return nil
		}
		if len(set.Paths) >= cfg.MaxFiles {
			return fs.SkipAll
		}
		if !matchesExtensions(name, cfg.Extensions) {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}

		data, err := readCapped(path, info.Size(), cfg.MaxFileSize)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}
		if data == "" || isBinary(data) {
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)

		set.Files[rel] = data
		set.Paths = append(set.Paths, rel)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", root, err)
	}

	sort.Strings(set.Paths)
	return set, nil
}

// FromManifest loads a Set from a JSON manifest: either an object
// mapping path to content, or an array of {path, content} objects.
func FromManifest(path string) (*Set, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	return ParseManifest(string(data))
}

// ParseManifest parses manifest JSON into a Set.
func ParseManifest(data string) (*Set, error) {
	if !gjson.Valid(data) {
		return nil, fmt.Errorf("manifest is not valid JSON")
	}

	set := &Set{Files: make(map[string]string)}
	root := gjson.Parse(data)

	if root.IsArray() {
		for _, item := range root.Array() {
			p := item.Get("path").String()
			if p == "" {
				return nil, fmt.Errorf("manifest entry missing path")
			}
			set.Files[p] = item.Get("content").String()
			set.Paths = append(set.Paths, p)
		}
	} else if root.IsObject() {
		root.ForEach(func(key, value gjson.Result) bool {
			set.Files[key.String()] = value.String()
			set.Paths = append(set.Paths, key.String())
			return true
		})
	} else {
		return nil, fmt.Errorf("manifest must be a JSON object or array")
	}

	sort.Strings(set.Paths)
	return set, nil
}

const truncatedMarker = "\n... [file truncated]"

func readCapped(path string, size, maxSize int64) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	if size > maxSize {
		return string(data[:maxSize]) + truncatedMarker, nil
	}
	return string(data), nil
}

func matchesExtensions(name string, exts []string) bool {
	if len(exts) == 0 {
		return true
	}
	ext := strings.ToLower(filepath.Ext(name))
	for _, e := range exts {
		if strings.ToLower(e) == ext {
			return true
		}
	}
	return false
}

// isBinary reports whether content looks like binary data: a NUL byte
// in the first KB is treated as binary.
func isBinary(content string) bool {
	probe := content
	if len(probe) > 1024 {
		probe = probe[:1024]
	}
	return strings.ContainsRune(probe, 0)
}
