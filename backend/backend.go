// Package backend provides connection providers for the storage backends a
// modulith application talks to: a document store (MongoDB), an analytics
// store (ClickHouse) and a cache (Redis).
//
// Providers own the underlying connections. Everything else in the framework
// borrows a *Handle and must never close it.
package backend

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// Kind identifies a backend category.
type Kind string

const (
	KindDocument  Kind = "document"
	KindAnalytics Kind = "analytics"
	KindCache     Kind = "cache"
)

// Status of a handle as last observed by its provider.
type Status string

const (
	StatusDisconnected Status = "disconnected"
	StatusConnected    Status = "connected"
	StatusDegraded     Status = "degraded"
)

// ErrConnection wraps any failure to establish a backend connection.
var ErrConnection = errors.New("backend connection failed")

// ErrNotConnected is returned when a handle is requested for a backend that
// was never connected (or was optional and unavailable).
var ErrNotConnected = errors.New("backend not connected")

// Handle is a borrowed reference to a live backend connection. The concrete
// connection object is owned by the provider that produced the handle;
// borrowers must not close it.
type Handle struct {
	kind Kind
	conn any

	mu     sync.RWMutex
	status Status
}

func (h *Handle) Kind() Kind { return h.kind }

// Status is safe to call while a health check updates the handle.
func (h *Handle) Status() Status {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.status
}

func (h *Handle) setStatus(s Status) {
	h.mu.Lock()
	h.status = s
	h.mu.Unlock()
}

// Conn exposes the raw connection object. Prefer the typed accessors in the
// provider files (Mongo, ClickHouse, Redis).
func (h *Handle) Conn() any { return h.conn }

// NewHandle wraps an existing connection object in a connected handle.
// Intended for custom Provider implementations and tests.
func NewHandle(kind Kind, conn any) *Handle {
	return &Handle{kind: kind, status: StatusConnected, conn: conn}
}

// Config holds the connection settings for a single backend.
type Config struct {
	// URI is the full connection string for URI-style backends (MongoDB).
	URI string
	// Addr is host:port for address-style backends (ClickHouse, Redis).
	Addr string
	// Database is the database name (Mongo database, ClickHouse database,
	// Redis numeric DB as a string).
	Database string
	Username string
	Password string
	// Optional backends may be unavailable without failing startup.
	Optional bool
	// Attempts is how many times the manager tries to connect before giving
	// up; values below one mean a single attempt.
	Attempts int
	// Backoff separates connect attempts.
	Backoff time.Duration
}

// Provider supplies connections for one backend kind.
//
// Connect performs network I/O and must not retry internally; retry and
// timeout policy belongs to the caller. HealthCheck reports whether the
// connection behind the handle is still usable.
type Provider interface {
	Kind() Kind
	Connect(ctx context.Context, cfg Config) (*Handle, error)
	HealthCheck(ctx context.Context, h *Handle) error
	Disconnect(ctx context.Context, h *Handle) error
}

func connErr(kind Kind, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrConnection, kind, err)
}
