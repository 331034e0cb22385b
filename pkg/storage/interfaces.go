package storage

import (
	"context"
	"errors"
	"time"
)

var ErrNotFound = errors.New("storage: record not found")

type ClientRecord struct {
	ID           string
	DateAdded    time.Time
	Name         string
	SecretHash   string
	RedirectURIs []string
	Confidential bool
}

type AccessTokenRecord struct {
	ID        string
	ClientID  string
	Subject   string
	Scopes    []string
	IssuedAt  time.Time
	ExpiresAt time.Time
	RevokedAt *time.Time
}

// Revoked reports whether the token has been explicitly revoked.
func (r AccessTokenRecord) Revoked() bool {
	return r.RevokedAt != nil
}

// Expired reports whether the token's lifetime has elapsed at the given time.
func (r AccessTokenRecord) Expired(now time.Time) bool {
	return !r.ExpiresAt.IsZero() && !r.ExpiresAt.After(now)
}

type ScopeRecord struct {
	ID          string
	DateAdded   time.Time
	Description string
}

type ClientRepository interface {
	GetClient(ctx context.Context, id string) (ClientRecord, error)
	// ValidateClient checks the client's credentials for the given grant
	// type. A false result means the credentials did not match; errors are
	// reserved for storage failures.
	ValidateClient(ctx context.Context, id string, secret string, grantType string) (bool, error)
}

type AccessTokenRepository interface {
	PersistAccessToken(ctx context.Context, record AccessTokenRecord) error
	GetAccessToken(ctx context.Context, id string) (AccessTokenRecord, error)
	RevokeAccessToken(ctx context.Context, id string) error
	IsAccessTokenRevoked(ctx context.Context, id string) (bool, error)
}

type ScopeRepository interface {
	GetScope(ctx context.Context, id string) (ScopeRecord, error)
	// FinalizeScopes resolves the scopes actually granted for a request:
	// implementations may narrow, expand or reject the requested set.
	FinalizeScopes(ctx context.Context, scopes []string, grantType string, client ClientRecord, subject string) ([]string, error)
}

// Repositories groups the data-access collaborators the authorization
// server injects into every registered grant.
type Repositories struct {
	Clients ClientRepository
	Tokens  AccessTokenRepository
	Scopes  ScopeRepository
}
