package backend

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"
)

// mongoConn keeps the client alongside the selected database so Disconnect
// can reach the client again.
type mongoConn struct {
	client *mongo.Client
	db     *mongo.Database
}

// Mongo returns the document-store database behind a handle.
func Mongo(h *Handle) (*mongo.Database, error) {
	mc, ok := h.conn.(*mongoConn)
	if !ok {
		return nil, fmt.Errorf("handle is %s, not a document store", h.kind)
	}
	return mc.db, nil
}

// MongoProvider connects to the MongoDB document store.
type MongoProvider struct{}

func (p *MongoProvider) Kind() Kind { return KindDocument }

func (p *MongoProvider) Connect(ctx context.Context, cfg Config) (*Handle, error) {
	uri := cfg.URI
	if uri == "" {
		uri = fmt.Sprintf("mongodb://%s/%s", cfg.Addr, cfg.Database)
	}

	opts := options.Client().ApplyURI(uri)
	if cfg.Username != "" {
		opts.SetAuth(options.Credential{
			Username:   cfg.Username,
			Password:   cfg.Password,
			AuthSource: "admin",
		})
	}

	client, err := mongo.Connect(opts)
	if err != nil {
		return nil, connErr(KindDocument, err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.WithoutCancel(ctx))
		return nil, connErr(KindDocument, err)
	}

	return &Handle{
		kind:   KindDocument,
		status: StatusConnected,
		conn:   &mongoConn{client: client, db: client.Database(cfg.Database)},
	}, nil
}

func (p *MongoProvider) HealthCheck(ctx context.Context, h *Handle) error {
	mc, ok := h.conn.(*mongoConn)
	if !ok {
		return ErrNotConnected
	}
	if err := mc.client.Ping(ctx, readpref.Primary()); err != nil {
		h.setStatus(StatusDegraded)
		return err
	}
	h.setStatus(StatusConnected)
	return nil
}

func (p *MongoProvider) Disconnect(ctx context.Context, h *Handle) error {
	mc, ok := h.conn.(*mongoConn)
	if !ok {
		return nil
	}
	h.setStatus(StatusDisconnected)
	return mc.client.Disconnect(ctx)
}
