package core

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/pthomsen/modulith/backend"
	"github.com/pthomsen/modulith/migrate"
)

// Module is a self-contained extension unit that plugs into the host
// application. A module declares its dependencies and migrations up front;
// during Init it borrows backend handles and pushes capabilities (routes,
// middleware, background tasks, settings) into its ModuleContext.
type Module interface {
	Name() string
	// Version is an informational semantic version string.
	Version() string
	// DependsOn declares hard dependencies by module name. Dependencies
	// initialize first and shut down last.
	DependsOn() []string
	// Migrations returns the module's migration units in declaration order.
	// Versions must be strictly increasing per backend.
	Migrations() []migrate.Unit
	// Init brings the module up. Blocking work should respect ctx.
	Init(ctx context.Context, mc *ModuleContext) error
	// Shutdown releases whatever Init acquired.
	Shutdown(ctx context.Context, mc *ModuleContext) error
}

// State of a module within one orchestrator run.
type State string

const (
	StateRegistered   State = "registered"
	StateResolving    State = "resolving"
	StateInitializing State = "initializing"
	StateActive       State = "active"
	StateFailed       State = "failed"
	StateShutDown     State = "shutdown"
)

// ModuleContext is what a module gets to work with during Init and Shutdown:
// borrowed backend handles, the shared container, its own finalized migration
// state, and the capability bag it contributes to.
type ModuleContext struct {
	Log      *slog.Logger
	Shared   Container
	Backends *backend.Manager
	// Applied holds the module's migration records after the engine ran.
	Applied []migrate.Record

	caps Capabilities
}

// Handle borrows a live backend handle. Modules must not close it.
func (mc *ModuleContext) Handle(kind backend.Kind) (*backend.Handle, error) {
	h, ok := mc.Backends.Handle(kind)
	if !ok {
		return nil, fmt.Errorf("%w: %s", backend.ErrNotConnected, kind)
	}
	return h, nil
}

// AddRoutes contributes a route set for the host to mount.
func (mc *ModuleContext) AddRoutes(rs RouteSet) {
	mc.caps.Routes = append(mc.caps.Routes, rs)
}

// AddMiddleware contributes handlers the host installs ahead of all module
// routes, in module initialization order.
func (mc *ModuleContext) AddMiddleware(mw ...Handler) {
	mc.caps.Middleware = append(mc.caps.Middleware, mw...)
}

// AddTask contributes a background task the orchestrator runs after startup.
func (mc *ModuleContext) AddTask(t BackgroundTask) {
	mc.caps.Tasks = append(mc.caps.Tasks, t)
}

// AddSetting registers a typed setting definition for the host's settings
// surface. Pure metadata; nothing is persisted.
func (mc *ModuleContext) AddSetting(s Setting) {
	mc.caps.Settings = append(mc.caps.Settings, s)
}
