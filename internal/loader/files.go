package loader

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/tidefall/reflex/internal/rule"
)

// FormatForPath picks the document format from the file extension.
// Unknown extensions default to JSON.
func FormatForPath(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	default:
		return FormatJSON
	}
}

// LoadFile parses one rule file.
func LoadFile(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	doc, err := Parse(data, FormatForPath(path))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return doc, nil
}

// LoadDir parses every .json/.yaml/.yml file directly under dir, in
// lexical order. Templates declared in one file are visible to
// instantiations in later files.
func LoadDir(dir string) ([]rule.Input, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read rules dir: %w", err)
	}
	var paths []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(entry.Name())) {
		case ".json", ".yaml", ".yml":
			paths = append(paths, filepath.Join(dir, entry.Name()))
		}
	}
	sort.Strings(paths)
	return LoadPaths(paths)
}

// LoadPaths parses the named files in order, resolving template
// instantiations against templates from any earlier (or the same) file.
func LoadPaths(paths []string) ([]rule.Input, error) {
	combined := &Document{}
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		raw, err := normalize(data, FormatForPath(path))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}

		// Templates from earlier files stay in scope for later ones.
		parsed, err := parseRaw(raw, combined)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		combined.Rules = append(combined.Rules, parsed.Rules...)
		combined.Templates = append(combined.Templates, parsed.Templates...)
	}
	return combined.Rules, nil
}
