package backend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Manager owns the set of configured providers and the handles they produce.
//
// Connect is idempotent per kind: a second call returns the handle opened by
// the first. Handles are created during ConnectAll and destroyed during
// DisconnectAll; everything in between is borrowing.
type Manager struct {
	log            *slog.Logger
	providers      map[Kind]Provider
	configs        map[Kind]Config
	connectTimeout time.Duration

	mu      sync.RWMutex
	handles map[Kind]*Handle
	order   []Kind // connection order, for reverse disconnect
	locks   map[Kind]*sync.Mutex
}

// NewManager wires providers to their per-kind configs. Kinds without a
// config entry are ignored; kinds without a provider fail ConnectAll.
func NewManager(log *slog.Logger, configs map[Kind]Config, connectTimeout time.Duration, providers ...Provider) *Manager {
	m := &Manager{
		log:            log,
		providers:      make(map[Kind]Provider, len(providers)),
		configs:        configs,
		connectTimeout: connectTimeout,
		handles:        make(map[Kind]*Handle),
		locks:          make(map[Kind]*sync.Mutex),
	}
	for _, p := range providers {
		m.providers[p.Kind()] = p
	}
	return m
}

// Connect opens the connection for one kind, or returns the existing handle
// if it is already open. Each kind has its own connect lock so slow dials
// (and their retry backoffs) never stall other kinds or Handle readers;
// m.mu is held only to look up and install handles.
func (m *Manager) Connect(ctx context.Context, kind Kind) (*Handle, error) {
	m.mu.RLock()
	h, ok := m.handles[kind]
	m.mu.RUnlock()
	if ok {
		return h, nil
	}

	lock := m.kindLock(kind)
	lock.Lock()
	defer lock.Unlock()

	// Another caller may have finished the dial while we waited.
	m.mu.RLock()
	h, ok = m.handles[kind]
	m.mu.RUnlock()
	if ok {
		return h, nil
	}

	p, ok := m.providers[kind]
	if !ok {
		return nil, fmt.Errorf("%w: no provider for %s", ErrConnection, kind)
	}
	cfg, ok := m.configs[kind]
	if !ok {
		return nil, fmt.Errorf("%w: no configuration for %s", ErrConnection, kind)
	}

	h, err := m.dial(ctx, p, kind, cfg)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.handles[kind] = h
	m.order = append(m.order, kind)
	m.mu.Unlock()
	return h, nil
}

// dial runs the provider connect under cfg's retry policy. The connect
// timeout bounds the whole attempt sequence, not each attempt.
func (m *Manager) dial(ctx context.Context, p Provider, kind Kind, cfg Config) (*Handle, error) {
	if m.connectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.connectTimeout)
		defer cancel()
	}

	attempts := cfg.Attempts
	if attempts < 1 {
		attempts = 1
	}
	var h *Handle
	var err error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			m.log.Warn("retrying backend connect", "backend", kind, "attempt", i+1, "error", err)
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("%w: %s: %v", ErrConnection, kind, ctx.Err())
			case <-time.After(cfg.Backoff):
			}
		}
		if h, err = p.Connect(ctx, cfg); err == nil {
			break
		}
	}
	if err != nil {
		return nil, err
	}
	return h, nil
}

func (m *Manager) kindLock(kind Kind) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[kind]
	if !ok {
		l = &sync.Mutex{}
		m.locks[kind] = l
	}
	return l
}

// ConnectAll connects every configured backend concurrently. A failure on a
// required backend fails the call; failures on optional backends are logged
// and the backend is simply left unconnected.
func (m *Manager) ConnectAll(ctx context.Context) error {
	kinds := make([]Kind, 0, len(m.configs))
	for kind := range m.configs {
		kinds = append(kinds, kind)
	}

	var wg sync.WaitGroup
	errs := make([]error, len(kinds))
	for i, kind := range kinds {
		wg.Add(1)
		go func(i int, kind Kind) {
			defer wg.Done()
			if _, err := m.Connect(ctx, kind); err != nil {
				if m.configs[kind].Optional {
					m.log.Warn("optional backend unavailable", "backend", kind, "error", err)
					return
				}
				errs[i] = err
				return
			}
			m.log.Info("backend connected", "backend", kind)
		}(i, kind)
	}
	wg.Wait()

	return errors.Join(errs...)
}

// Handle returns the live handle for a kind, if connected.
func (m *Manager) Handle(kind Kind) (*Handle, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	h, ok := m.handles[kind]
	return h, ok
}

// Optional reports whether a kind is configured as optional.
func (m *Manager) Optional(kind Kind) bool {
	cfg, ok := m.configs[kind]
	return ok && cfg.Optional
}

// Configured reports whether a kind has a configuration entry at all.
func (m *Manager) Configured(kind Kind) bool {
	_, ok := m.configs[kind]
	return ok
}

// HealthAll pings every connected backend and returns one entry per kind;
// a nil value means healthy.
func (m *Manager) HealthAll(ctx context.Context) map[Kind]error {
	m.mu.RLock()
	handles := make(map[Kind]*Handle, len(m.handles))
	for k, h := range m.handles {
		handles[k] = h
	}
	m.mu.RUnlock()

	out := make(map[Kind]error, len(handles))
	for kind, h := range handles {
		out[kind] = m.providers[kind].HealthCheck(ctx, h)
	}
	return out
}

// DisconnectAll closes handles in reverse connection order. Errors are
// collected, never short-circuited.
func (m *Manager) DisconnectAll(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var errs []error
	for i := len(m.order) - 1; i >= 0; i-- {
		kind := m.order[i]
		h, ok := m.handles[kind]
		if !ok {
			continue
		}
		if err := m.providers[kind].Disconnect(ctx, h); err != nil {
			errs = append(errs, fmt.Errorf("disconnect %s: %w", kind, err))
		}
		delete(m.handles, kind)
		m.log.Info("backend disconnected", "backend", kind)
	}
	m.order = nil
	return errors.Join(errs...)
}
