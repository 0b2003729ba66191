package core

import (
	"context"

	"github.com/gin-gonic/gin"
)

// Handler is the host's HTTP handler type.
type Handler = gin.HandlerFunc

// Route is one HTTP endpoint a module exposes.
type Route struct {
	Method  string
	Path    string
	Handler Handler
}

// RouteSet groups a module's routes under an optional prefix.
type RouteSet struct {
	Prefix string
	Routes []Route
}

// MiddlewareChain is an ordered list of handlers installed before any module
// routes.
type MiddlewareChain []Handler

// BackgroundTask is long-running work a module hands to the orchestrator.
// Run is expected to block until ctx is cancelled or Stop is called.
type BackgroundTask struct {
	Name string
	Run  func(ctx context.Context) error
	Stop func(ctx context.Context) error
}

// Setting describes one configurable knob a module exposes to the host's
// settings surface.
type Setting struct {
	Module      string
	Key         string
	Type        string
	Default     any
	Description string
}

// Capabilities is the bag of artifacts a module exposes after initialization.
// The registry aggregates bags without interpreting them; the host decides
// how each slot is mounted.
type Capabilities struct {
	Routes     []RouteSet
	Middleware MiddlewareChain
	Tasks      []BackgroundTask
	Settings   []Setting
}

// Empty reports whether the module contributed nothing.
func (c Capabilities) Empty() bool {
	return len(c.Routes) == 0 && len(c.Middleware) == 0 && len(c.Tasks) == 0 && len(c.Settings) == 0
}
