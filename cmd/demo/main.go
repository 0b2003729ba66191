// Command demo runs a small modulith application: the actuator plus an auth
// module backed by the document store and an activity module writing to the
// analytics store with a cache in front.
package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/pthomsen/modulith/actuator"
	"github.com/pthomsen/modulith/backend"
	"github.com/pthomsen/modulith/config"
	"github.com/pthomsen/modulith/config/source"
	"github.com/pthomsen/modulith/core"
	"github.com/pthomsen/modulith/logging"
	"github.com/pthomsen/modulith/web"
)

func main() {
	ctx := context.Background()

	cfg, err := config.Load(ctx,
		&source.File{Dir: "configs", Profile: os.Getenv("APP_PROFILE")},
		&source.Env{},
		&source.CLI{},
	)
	if err != nil {
		panic(err)
	}

	logger := logging.New(os.Getenv("LOG_LEVEL"), os.Getenv("LOG_FORMAT")).With(
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
	)

	backends := backend.NewManager(logger, backendConfigs(cfg), cfg.Backends.ConnectTimeout,
		&backend.MongoProvider{},
		&backend.ClickHouseProvider{},
		&backend.RedisProvider{},
	)

	registry := core.NewRegistry(logger)
	for _, m := range []core.Module{
		actuator.Module(cfg),
		newAuthModule(),
		newActivityModule(),
	} {
		if err := registry.Register(m); err != nil {
			logger.Error("module registration failed", "error", err)
			os.Exit(1)
		}
	}

	orch := core.NewOrchestrator(logger, registry, backends, core.Options{
		Policy:          core.Policy(cfg.Registry.Policy),
		InitTimeout:     cfg.Registry.InitTimeout,
		Concurrency:     cfg.Registry.Concurrency,
		ShutdownTimeout: cfg.Registry.ShutdownTimeout,
	})

	if err := orch.Run(ctx, web.NewHost(cfg, logger)); err != nil {
		logger.Error("app error", "error", err)
		os.Exit(1)
	}
}

// backendConfigs maps the configuration surface onto the connection manager,
// skipping disabled backends entirely.
func backendConfigs(cfg config.Root) map[backend.Kind]backend.Config {
	out := make(map[backend.Kind]backend.Config)
	add := func(kind backend.Kind, bc config.BackendConfig) {
		if !bc.Enabled {
			return
		}
		out[kind] = backend.Config{
			URI:      bc.URI,
			Addr:     bc.Addr,
			Database: bc.Database,
			Username: bc.Username,
			Password: bc.Password,
			Optional: bc.Optional,
			Attempts: bc.ConnectAttempts,
			Backoff:  bc.ConnectBackoff,
		}
	}
	add(backend.KindDocument, cfg.Backends.Document)
	add(backend.KindAnalytics, cfg.Backends.Analytics)
	add(backend.KindCache, cfg.Backends.Cache)
	return out
}
