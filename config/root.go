package config

import "time"

type AppInfo struct {
	Name    string `config:"name" validate:"required"`
	Version string `config:"version" validate:"required"`
}

type ServerConfig struct {
	Addr         string        `config:"addr" validate:"required"`
	ReadTimeout  time.Duration `config:"readTimeout"`
	WriteTimeout time.Duration `config:"writeTimeout"`
	IdleTimeout  time.Duration `config:"idleTimeout"`
}

// RegistryConfig controls module lifecycle orchestration.
type RegistryConfig struct {
	// Policy is what happens when a module's init hook fails:
	// "abort" or "skip-dependents".
	Policy string `config:"policy" validate:"omitempty,oneof=abort skip-dependents"`
	// InitTimeout bounds each module's init hook.
	InitTimeout time.Duration `config:"initTimeout"`
	// Concurrency bounds how many independent modules initialize at once.
	Concurrency     int           `config:"concurrency" validate:"omitempty,min=1"`
	ShutdownTimeout time.Duration `config:"shutdownTimeout"`
}

// BackendConfig is the connection settings for one backend.
type BackendConfig struct {
	Enabled  bool   `config:"enabled"`
	URI      string `config:"uri"`
	Addr     string `config:"addr"`
	Database string `config:"database"`
	Username string `config:"username"`
	Password string `config:"password"`
	// Optional backends may be unavailable without failing startup.
	Optional bool `config:"optional"`
	// ConnectAttempts is how many connect tries the manager makes;
	// ConnectBackoff separates them. Zero means a single attempt.
	ConnectAttempts int           `config:"connectAttempts" validate:"omitempty,min=1"`
	ConnectBackoff  time.Duration `config:"connectBackoff"`
}

type BackendsConfig struct {
	ConnectTimeout time.Duration `config:"connectTimeout"`
	Document       BackendConfig `config:"document"`
	Analytics      BackendConfig `config:"analytics"`
	Cache          BackendConfig `config:"cache"`
}

type MetricsConfig struct {
	Enabled bool   `config:"enabled"`
	Path    string `config:"path"`
}

type ObservabilityConfig struct {
	Metrics MetricsConfig `config:"metrics"`
}

type ActuatorConfig struct {
	BasePath string `config:"basePath"`
}

type Root struct {
	App           AppInfo             `config:"app"`
	Server        ServerConfig        `config:"server"`
	Registry      RegistryConfig      `config:"registry"`
	Backends      BackendsConfig      `config:"backends"`
	Observability ObservabilityConfig `config:"observability"`
	Actuator      ActuatorConfig      `config:"actuator"`
}

func (r *Root) applyDefaults() {
	if r.Server.Addr == "" {
		r.Server.Addr = ":8080"
	}
	if r.Registry.Policy == "" {
		r.Registry.Policy = "abort"
	}
	if r.Registry.InitTimeout == 0 {
		r.Registry.InitTimeout = 30 * time.Second
	}
	if r.Registry.Concurrency == 0 {
		r.Registry.Concurrency = 4
	}
	if r.Registry.ShutdownTimeout == 0 {
		r.Registry.ShutdownTimeout = 15 * time.Second
	}
	if r.Backends.ConnectTimeout == 0 {
		r.Backends.ConnectTimeout = 10 * time.Second
	}
	if r.Actuator.BasePath == "" {
		r.Actuator.BasePath = "/actuator"
	}
	if r.Observability.Metrics.Path == "" {
		r.Observability.Metrics.Path = r.Actuator.BasePath + "/metrics"
	}
}
