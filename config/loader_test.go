package config_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pthomsen/modulith/config"
)

// mapSource is a fixed in-memory configuration source.
type mapSource struct {
	name string
	data map[string]any
	err  error
}

func (s *mapSource) Name() string { return s.name }

func (s *mapSource) Load(context.Context) (map[string]any, error) {
	return s.data, s.err
}

func appSource(extra map[string]any) *mapSource {
	data := map[string]any{
		"app": map[string]any{"name": "modulith", "version": "1.0.0"},
	}
	for k, v := range extra {
		data[k] = v
	}
	return &mapSource{name: "file", data: data}
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := config.Load(context.Background(), appSource(nil))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Addr != ":8080" {
		t.Errorf("Server.Addr = %q, want :8080", cfg.Server.Addr)
	}
	if cfg.Registry.Policy != "abort" {
		t.Errorf("Registry.Policy = %q, want abort", cfg.Registry.Policy)
	}
	if cfg.Registry.InitTimeout != 30*time.Second {
		t.Errorf("Registry.InitTimeout = %v, want 30s", cfg.Registry.InitTimeout)
	}
	if cfg.Registry.Concurrency != 4 {
		t.Errorf("Registry.Concurrency = %d, want 4", cfg.Registry.Concurrency)
	}
	if cfg.Backends.ConnectTimeout != 10*time.Second {
		t.Errorf("Backends.ConnectTimeout = %v, want 10s", cfg.Backends.ConnectTimeout)
	}
	if cfg.Actuator.BasePath != "/actuator" {
		t.Errorf("Actuator.BasePath = %q, want /actuator", cfg.Actuator.BasePath)
	}
	if cfg.Observability.Metrics.Path != "/actuator/metrics" {
		t.Errorf("Metrics.Path = %q, want /actuator/metrics", cfg.Observability.Metrics.Path)
	}
}

func TestLoad_SourcePrecedence(t *testing.T) {
	// Later sources override earlier ones, deep key by deep key.
	file := appSource(map[string]any{
		"server":   map[string]any{"addr": ":8080"},
		"registry": map[string]any{"policy": "abort", "concurrency": 2},
	})
	env := &mapSource{name: "env", data: map[string]any{
		"server": map[string]any{"addr": ":9090"},
	}}
	cli := &mapSource{name: "cli", data: map[string]any{
		"registry": map[string]any{"policy": "skip-dependents"},
	}}

	cfg, err := config.Load(context.Background(), file, env, cli)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Addr != ":9090" {
		t.Errorf("Server.Addr = %q, want env override :9090", cfg.Server.Addr)
	}
	if cfg.Registry.Policy != "skip-dependents" {
		t.Errorf("Registry.Policy = %q, want cli override", cfg.Registry.Policy)
	}
	if cfg.Registry.Concurrency != 2 {
		t.Errorf("Registry.Concurrency = %d, want untouched file value 2", cfg.Registry.Concurrency)
	}
}

func TestLoad_StringValues(t *testing.T) {
	// Env and CLI sources deliver everything as strings.
	cfg, err := config.Load(context.Background(), appSource(nil), &mapSource{
		name: "env",
		data: map[string]any{
			"registry": map[string]any{
				"inittimeout": "45s",
				"concurrency": "8",
			},
			"backends": map[string]any{
				"cache": map[string]any{"optional": "true"},
			},
		},
	})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Registry.InitTimeout != 45*time.Second {
		t.Errorf("InitTimeout = %v, want 45s", cfg.Registry.InitTimeout)
	}
	if cfg.Registry.Concurrency != 8 {
		t.Errorf("Concurrency = %d, want 8", cfg.Registry.Concurrency)
	}
	if !cfg.Backends.Cache.Optional {
		t.Error("Backends.Cache.Optional = false, want true")
	}
}

func TestLoad_Validation(t *testing.T) {
	tests := []struct {
		name string
		data map[string]any
	}{
		{
			name: "missing app name",
			data: map[string]any{"app": map[string]any{"version": "1.0.0"}},
		},
		{
			name: "unknown policy",
			data: map[string]any{
				"app":      map[string]any{"name": "modulith", "version": "1.0.0"},
				"registry": map[string]any{"policy": "retry-forever"},
			},
		},
		{
			name: "negative concurrency",
			data: map[string]any{
				"app":      map[string]any{"name": "modulith", "version": "1.0.0"},
				"registry": map[string]any{"concurrency": -1},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := config.Load(context.Background(), &mapSource{name: "file", data: tt.data})
			var bindErr *config.BindError
			if !errors.As(err, &bindErr) {
				t.Fatalf("Load() error = %v, want *BindError", err)
			}
			if bindErr.Stage != "validate" {
				t.Errorf("Stage = %q, want validate", bindErr.Stage)
			}
		})
	}
}

func TestLoad_SourceError(t *testing.T) {
	boom := errors.New("unreadable")
	_, err := config.Load(context.Background(), &mapSource{name: "file", err: boom})
	if !errors.Is(err, boom) {
		t.Fatalf("Load() error = %v, want wrapped source error", err)
	}
}
