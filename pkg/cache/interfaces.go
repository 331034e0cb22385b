package cache

import (
	"context"
	"time"
)

// TokenSnapshot is the cached outcome of introspecting one access token.
type TokenSnapshot struct {
	Active    bool
	TokenID   string
	ClientID  string
	Subject   string
	TokenType string
	Scopes    []string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// TokenCache is an optional read-through cache in front of the access-token
// repository for introspection lookups.
type TokenCache interface {
	SetIntrospection(ctx context.Context, key string, snapshot TokenSnapshot, ttl time.Duration) error
	GetIntrospection(ctx context.Context, key string) (TokenSnapshot, bool, error)
	DeleteIntrospection(ctx context.Context, key string) error
}
