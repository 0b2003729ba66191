package source

import (
	"context"
	"os"
	"strings"
)

// EnvPrefix is the required prefix for configuration environment variables.
const EnvPrefix = "MODULITH_"

// Env loads configuration from environment variables. Variables are
// filtered by EnvPrefix, lowercased, and split on underscores into nested
// maps: MODULITH_SERVER_ADDR=:9090 becomes {server: {addr: ":9090"}}.
// All values stay strings; type conversion happens during binding.
type Env struct{}

func (e *Env) Name() string { return "env" }

func (e *Env) Load(_ context.Context) (map[string]any, error) {
	result := make(map[string]any)
	for _, kv := range os.Environ() {
		key, value, found := strings.Cut(kv, "=")
		if !found || !strings.HasPrefix(key, EnvPrefix) {
			continue
		}
		key = strings.ToLower(strings.TrimPrefix(key, EnvPrefix))
		segments := strings.Split(key, "_")
		if len(segments) == 0 {
			continue
		}
		setNestedValue(result, segments, value)
	}
	return result, nil
}

// setNestedValue walks segments creating nested maps as needed. When a leaf
// value already occupies an intermediate path the entry is skipped rather
// than overwritten.
func setNestedValue(m map[string]any, segments []string, value string) {
	current := m
	for i, segment := range segments {
		if segment == "" {
			continue
		}
		if i == len(segments)-1 {
			current[segment] = value
			return
		}
		if existing, ok := current[segment]; ok {
			nested, ok := existing.(map[string]any)
			if !ok {
				return
			}
			current = nested
			continue
		}
		nested := make(map[string]any)
		current[segment] = nested
		current = nested
	}
}
