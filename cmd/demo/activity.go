package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	chdriver "github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"github.com/pthomsen/modulith/backend"
	"github.com/pthomsen/modulith/core"
	"github.com/pthomsen/modulith/migrate"
)

// activityModule records user actions in the analytics store and keeps a
// per-user counter in the cache for cheap rate displays.
type activityModule struct {
	events chdriver.Conn
	cache  *redis.Client
	auth   *AuthService
}

func newActivityModule() core.Module { return &activityModule{} }

func (m *activityModule) Name() string        { return "activity" }
func (m *activityModule) Version() string     { return "0.9.1" }
func (m *activityModule) DependsOn() []string { return []string{"auth"} }

func (m *activityModule) Migrations() []migrate.Unit {
	return []migrate.Unit{
		{
			Backend: backend.KindAnalytics,
			Version: 1,
			Name:    "activity_events_table",
			Run: func(ctx context.Context, h *backend.Handle) error {
				conn, err := backend.ClickHouse(h)
				if err != nil {
					return err
				}
				return conn.Exec(ctx, `
					CREATE TABLE IF NOT EXISTS activity_events (
						user_id String,
						action  String,
						path    String,
						ts      DateTime64(3)
					) ENGINE = MergeTree()
					ORDER BY (user_id, ts)`)
			},
		},
		{
			Backend: backend.KindAnalytics,
			Version: 2,
			Name:    "activity_events_ttl",
			Run: func(ctx context.Context, h *backend.Handle) error {
				conn, err := backend.ClickHouse(h)
				if err != nil {
					return err
				}
				return conn.Exec(ctx, `ALTER TABLE activity_events MODIFY TTL toDateTime(ts) + INTERVAL 90 DAY`)
			},
		},
	}
}

func (m *activityModule) Init(ctx context.Context, mc *core.ModuleContext) error {
	ch, err := mc.Handle(backend.KindAnalytics)
	if err != nil {
		return err
	}
	if m.events, err = backend.ClickHouse(ch); err != nil {
		return err
	}

	// Cache is optional; counters are skipped when it is unavailable.
	if h, err := mc.Handle(backend.KindCache); err == nil {
		if m.cache, err = backend.Redis(h); err != nil {
			return err
		}
	}

	m.auth = core.Get[*AuthService](mc.Shared)

	mc.AddRoutes(core.RouteSet{
		Prefix: "/api/v1/activity",
		Routes: []core.Route{
			{Method: http.MethodPost, Path: "", Handler: m.record},
			{Method: http.MethodGet, Path: "/count", Handler: m.count},
		},
	})
	mc.AddTask(core.BackgroundTask{
		Name: "activity-counter-expiry",
		Run:  m.expireCounters,
	})
	return nil
}

func (m *activityModule) Shutdown(context.Context, *core.ModuleContext) error { return nil }

func (m *activityModule) record(c *gin.Context) {
	userID := c.GetString("user_id")
	if userID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unknown API key"})
		return
	}

	var body struct {
		Action string `json:"action" binding:"required"`
		Path   string `json:"path"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx := c.Request.Context()
	err := m.events.Exec(ctx,
		"INSERT INTO activity_events (user_id, action, path, ts) VALUES (?, ?, ?, ?)",
		userID, body.Action, body.Path, time.Now().UTC(),
	)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "event not recorded"})
		return
	}

	if m.cache != nil {
		m.cache.Incr(ctx, counterKey(userID))
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "recorded"})
}

func (m *activityModule) count(c *gin.Context) {
	userID := c.GetString("user_id")
	if userID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unknown API key"})
		return
	}
	if m.cache == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "cache unavailable"})
		return
	}
	n, err := m.cache.Get(c.Request.Context(), counterKey(userID)).Int64()
	if err != nil && err != redis.Nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "counter unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"user_id": userID, "count": n})
}

// expireCounters re-arms a daily TTL on all activity counters so abandoned
// users fall out of the cache.
func (m *activityModule) expireCounters(ctx context.Context) error {
	if m.cache == nil {
		return nil
	}
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			iter := m.cache.Scan(ctx, 0, counterKey("*"), 100).Iterator()
			for iter.Next(ctx) {
				m.cache.Expire(ctx, iter.Val(), 24*time.Hour)
			}
		}
	}
}

func counterKey(userID string) string {
	return fmt.Sprintf("activity:count:%s", userID)
}
