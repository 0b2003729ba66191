package backend

import (
	"context"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
)

// Redis returns the cache client behind a handle.
func Redis(h *Handle) (*redis.Client, error) {
	client, ok := h.conn.(*redis.Client)
	if !ok {
		return nil, fmt.Errorf("handle is %s, not a cache", h.kind)
	}
	return client, nil
}

// RedisProvider connects to the Redis cache.
type RedisProvider struct{}

func (p *RedisProvider) Kind() Kind { return KindCache }

func (p *RedisProvider) Connect(ctx context.Context, cfg Config) (*Handle, error) {
	opts := &redis.Options{
		Addr:     cfg.Addr,
		Username: cfg.Username,
		Password: cfg.Password,
	}
	// Database selects the numeric Redis DB when set.
	if cfg.Database != "" {
		if n, err := strconv.Atoi(cfg.Database); err == nil && n >= 0 {
			opts.DB = n
		}
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, connErr(KindCache, err)
	}

	return &Handle{kind: KindCache, status: StatusConnected, conn: client}, nil
}

func (p *RedisProvider) HealthCheck(ctx context.Context, h *Handle) error {
	client, ok := h.conn.(*redis.Client)
	if !ok {
		return ErrNotConnected
	}
	if err := client.Ping(ctx).Err(); err != nil {
		h.setStatus(StatusDegraded)
		return err
	}
	h.setStatus(StatusConnected)
	return nil
}

func (p *RedisProvider) Disconnect(_ context.Context, h *Handle) error {
	client, ok := h.conn.(*redis.Client)
	if !ok {
		return nil
	}
	h.setStatus(StatusDisconnected)
	return client.Close()
}
