package config

import (
	"context"
	"fmt"
)

// Source is one origin of configuration data. Sources are merged in order,
// later sources overriding earlier ones, so the conventional chain is
// file, env, CLI.
type Source interface {
	Name() string
	Load(ctx context.Context) (map[string]any, error)
}

// Load merges all sources, fills in defaults and validates the result.
func Load(ctx context.Context, sources ...Source) (Root, error) {
	merged := make(map[string]any)
	for _, s := range sources {
		data, err := s.Load(ctx)
		if err != nil {
			return Root{}, fmt.Errorf("loading %s config: %w", s.Name(), err)
		}
		mergeMaps(merged, data)
	}

	var cfg Root
	b := NewBinder()
	if err := b.Decode(merged, &cfg); err != nil {
		return Root{}, err
	}
	cfg.applyDefaults()
	if err := b.Validate(&cfg); err != nil {
		return Root{}, err
	}
	return cfg, nil
}
