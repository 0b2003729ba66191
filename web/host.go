// Package web is the HTTP host: it translates the capability bags the
// registry aggregated into a Gin engine and runs the server around it.
package web

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/pthomsen/modulith/config"
	"github.com/pthomsen/modulith/core"
)

// Host mounts module route sets and middleware chains onto a Gin engine and
// owns the surrounding HTTP server. It implements core.Host.
type Host struct {
	cfg    config.Root
	log    *slog.Logger
	engine *gin.Engine
	server *http.Server
}

func NewHost(cfg config.Root, log *slog.Logger) *Host {
	return &Host{cfg: cfg, log: log}
}

// Engine exposes the mounted engine, mainly for tests.
func (h *Host) Engine() *gin.Engine { return h.engine }

// Mount builds the engine: baseline middleware first, then every module's
// middleware chain in resolved order, then every module's route sets. Order
// comes from the registry so the layout is deterministic.
func (h *Host) Mount(order []string, caps map[string]core.Capabilities) error {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()

	r.Use(RequestID())
	r.Use(Recovery(h.log))
	r.Use(AccessLog(h.log))

	for _, name := range order {
		for _, mw := range caps[name].Middleware {
			r.Use(mw)
		}
	}

	for _, name := range order {
		for _, rs := range caps[name].Routes {
			group := r.Group(rs.Prefix)
			for _, route := range rs.Routes {
				group.Handle(route.Method, route.Path, route.Handler)
			}
			h.log.Debug("routes mounted", "module", name, "prefix", rs.Prefix, "count", len(rs.Routes))
		}
	}

	h.engine = r
	h.server = &http.Server{
		Addr:         h.cfg.Server.Addr,
		Handler:      r,
		ReadTimeout:  h.cfg.Server.ReadTimeout,
		WriteTimeout: h.cfg.Server.WriteTimeout,
		IdleTimeout:  h.cfg.Server.IdleTimeout,
	}
	return nil
}

// Start begins serving in the background.
func (h *Host) Start(_ context.Context) error {
	if h.server == nil {
		return fmt.Errorf("host not mounted")
	}
	go func() {
		h.log.Info("http server starting", "addr", h.cfg.Server.Addr)
		if err := h.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			h.log.Error("http server error", "error", err)
		}
	}()
	return nil
}

// Shutdown drains in-flight requests within the caller's deadline.
func (h *Host) Shutdown(ctx context.Context) error {
	if h.server == nil {
		return nil
	}
	if err := h.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}
