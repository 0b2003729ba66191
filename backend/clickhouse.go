package backend

import (
	"context"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	chdriver "github.com/ClickHouse/clickhouse-go/v2/lib/driver"
)

// ClickHouse returns the analytics-store connection behind a handle.
func ClickHouse(h *Handle) (chdriver.Conn, error) {
	conn, ok := h.conn.(chdriver.Conn)
	if !ok {
		return nil, fmt.Errorf("handle is %s, not an analytics store", h.kind)
	}
	return conn, nil
}

// ClickHouseProvider connects to the ClickHouse analytics store.
type ClickHouseProvider struct{}

func (p *ClickHouseProvider) Kind() Kind { return KindAnalytics }

func (p *ClickHouseProvider) Connect(ctx context.Context, cfg Config) (*Handle, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{cfg.Addr},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		DialTimeout:     10 * time.Second,
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: time.Hour,
	})
	if err != nil {
		return nil, connErr(KindAnalytics, err)
	}
	if err := conn.Ping(ctx); err != nil {
		_ = conn.Close()
		return nil, connErr(KindAnalytics, err)
	}

	return &Handle{kind: KindAnalytics, status: StatusConnected, conn: conn}, nil
}

func (p *ClickHouseProvider) HealthCheck(ctx context.Context, h *Handle) error {
	conn, ok := h.conn.(chdriver.Conn)
	if !ok {
		return ErrNotConnected
	}
	if err := conn.Ping(ctx); err != nil {
		h.setStatus(StatusDegraded)
		return err
	}
	h.setStatus(StatusConnected)
	return nil
}

func (p *ClickHouseProvider) Disconnect(_ context.Context, h *Handle) error {
	conn, ok := h.conn.(chdriver.Conn)
	if !ok {
		return nil
	}
	h.setStatus(StatusDisconnected)
	return conn.Close()
}
