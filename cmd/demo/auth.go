package main

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/pthomsen/modulith/backend"
	"github.com/pthomsen/modulith/core"
	"github.com/pthomsen/modulith/migrate"
)

// AuthService is what the auth module shares with dependent modules.
type AuthService struct {
	users *mongo.Collection
}

// UserID resolves an API key to a user ID; empty means unauthenticated.
func (s *AuthService) UserID(ctx context.Context, apiKey string) (string, error) {
	if apiKey == "" {
		return "", nil
	}
	var doc struct {
		ID string `bson:"_id"`
	}
	err := s.users.FindOne(ctx, bson.D{{Key: "api_key", Value: apiKey}}).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return doc.ID, nil
}

type authModule struct {
	svc *AuthService
}

func newAuthModule() core.Module { return &authModule{} }

func (m *authModule) Name() string        { return "auth" }
func (m *authModule) Version() string     { return "1.2.0" }
func (m *authModule) DependsOn() []string { return nil }

func (m *authModule) Migrations() []migrate.Unit {
	return []migrate.Unit{
		{
			Backend: backend.KindDocument,
			Version: 1,
			Name:    "users_email_index",
			Run: func(ctx context.Context, h *backend.Handle) error {
				db, err := backend.Mongo(h)
				if err != nil {
					return err
				}
				_, err = db.Collection("users").Indexes().CreateOne(ctx, mongo.IndexModel{
					Keys:    bson.D{{Key: "email", Value: 1}},
					Options: options.Index().SetUnique(true),
				})
				return err
			},
		},
		{
			Backend: backend.KindDocument,
			Version: 2,
			Name:    "users_api_key_index",
			Run: func(ctx context.Context, h *backend.Handle) error {
				db, err := backend.Mongo(h)
				if err != nil {
					return err
				}
				_, err = db.Collection("users").Indexes().CreateOne(ctx, mongo.IndexModel{
					Keys:    bson.D{{Key: "api_key", Value: 1}},
					Options: options.Index().SetUnique(true).SetSparse(true),
				})
				return err
			},
		},
	}
}

func (m *authModule) Init(ctx context.Context, mc *core.ModuleContext) error {
	h, err := mc.Handle(backend.KindDocument)
	if err != nil {
		return err
	}
	db, err := backend.Mongo(h)
	if err != nil {
		return err
	}
	m.svc = &AuthService{users: db.Collection("users")}

	// Dependent modules resolve the service from the shared container.
	core.Put[*AuthService](mc.Shared, m.svc)

	mc.AddMiddleware(m.identify())
	mc.AddRoutes(core.RouteSet{
		Prefix: "/api/v1/auth",
		Routes: []core.Route{
			{Method: http.MethodGet, Path: "/whoami", Handler: m.whoami},
		},
	})
	mc.AddSetting(core.Setting{
		Key:         "auth.apiKeyHeader",
		Type:        "string",
		Default:     "X-API-Key",
		Description: "Header carrying the caller's API key",
	})
	return nil
}

func (m *authModule) Shutdown(context.Context, *core.ModuleContext) error { return nil }

// identify resolves the API key once per request and stashes the user ID in
// the request context for downstream handlers.
func (m *authModule) identify() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, err := m.svc.UserID(c.Request.Context(), c.GetHeader("X-API-Key"))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "auth lookup failed"})
			return
		}
		c.Set("user_id", userID)
		c.Next()
	}
}

func (m *authModule) whoami(c *gin.Context) {
	userID := c.GetString("user_id")
	if userID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unknown API key"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"user_id": userID})
}
