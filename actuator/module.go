// Package actuator is a built-in module contributing operational endpoints:
// health (including per-backend checks), build/runtime info, and Prometheus
// metrics. It registers like any other module and carries no migrations.
package actuator

import (
	"context"
	"net/http"
	"os"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pthomsen/modulith/config"
	"github.com/pthomsen/modulith/core"
	"github.com/pthomsen/modulith/migrate"
)

const Name = "actuator"

type module struct {
	cfg config.Root
}

func Module(cfg config.Root) core.Module { return &module{cfg: cfg} }

func (m *module) Name() string               { return Name }
func (m *module) Version() string            { return "1.0.0" }
func (m *module) DependsOn() []string        { return nil }
func (m *module) Migrations() []migrate.Unit { return nil }

func (m *module) Init(_ context.Context, mc *core.ModuleContext) error {
	routes := []core.Route{
		{Method: http.MethodGet, Path: "/health", Handler: m.health(mc)},
		{Method: http.MethodGet, Path: "/info", Handler: m.info()},
	}
	if m.cfg.Observability.Metrics.Enabled {
		routes = append(routes, core.Route{
			Method:  http.MethodGet,
			Path:    "/metrics",
			Handler: gin.WrapH(promhttp.Handler()),
		})
	}

	mc.AddRoutes(core.RouteSet{Prefix: m.cfg.Actuator.BasePath, Routes: routes})
	mc.AddSetting(core.Setting{
		Key:         "actuator.basePath",
		Type:        "string",
		Default:     "/actuator",
		Description: "URL prefix for operational endpoints",
	})
	return nil
}

func (m *module) Shutdown(context.Context, *core.ModuleContext) error { return nil }

// health reports UP only when every connected backend answers its ping.
func (m *module) health(mc *core.ModuleContext) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		checkCtx, cancel := context.WithTimeout(ctx.Request.Context(), 5*time.Second)
		defer cancel()

		status := http.StatusOK
		overall := "UP"
		checks := []gin.H{}
		for kind, err := range mc.Backends.HealthAll(checkCtx) {
			check := gin.H{"name": string(kind), "status": "UP"}
			if err != nil {
				check["status"] = "DOWN"
				check["error"] = err.Error()
				overall = "DOWN"
				status = http.StatusServiceUnavailable
			}
			checks = append(checks, check)
		}

		ctx.JSON(status, gin.H{"status": overall, "checks": checks})
	}
}

func (m *module) info() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{
			"app": gin.H{
				"name":    m.cfg.App.Name,
				"version": m.cfg.App.Version,
			},
			"runtime": gin.H{
				"go":           runtime.Version(),
				"numGoroutine": runtime.NumGoroutine(),
				"time":         time.Now().UTC().Format(time.RFC3339),
				"pid":          os.Getpid(),
			},
		})
	}
}
