// Package source provides the standard configuration sources: YAML files,
// environment variables and command-line flags. Each returns a nested
// string-keyed map that config.Load merges and binds.
package source

import (
	"context"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// File loads YAML configuration from a directory: application.yaml (or
// .yml) as the base, with an optional application.{profile}.yaml overlay
// whose values win. A missing profile file is silently ignored; a missing
// base file is an error.
type File struct {
	// Dir is the directory holding the configuration files.
	Dir string
	// Profile selects an optional overlay, e.g. "prod".
	Profile string
}

func (f *File) Name() string { return "file" }

func (f *File) Load(_ context.Context) (map[string]any, error) {
	base := findYAML(f.Dir, "application")
	if base == "" {
		return nil, os.ErrNotExist
	}

	data := map[string]any{}
	if err := readYAML(base, data); err != nil {
		return nil, err
	}

	if f.Profile != "" {
		if overlay := findYAML(f.Dir, "application."+f.Profile); overlay != "" {
			if err := readYAML(overlay, data); err != nil {
				return nil, err
			}
		}
	}
	return data, nil
}

func findYAML(dir, basename string) string {
	for _, ext := range []string{".yaml", ".yml"} {
		path := filepath.Join(dir, basename+ext)
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

func readYAML(path string, out map[string]any) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(b, &out)
}
