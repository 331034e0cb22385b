// Package introspection implements the RFC 7662-style token introspection
// subsystem: a validator resolving token state against the repositories, a
// response type rendering the result, and the introspector composing both.
package introspection

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	jwtv5 "github.com/golang-jwt/jwt/v5"

	"github.com/porthorian/opengrant/pkg/cache"
	oerrors "github.com/porthorian/opengrant/pkg/errors"
	"github.com/porthorian/opengrant/pkg/keys"
	"github.com/porthorian/opengrant/pkg/protocol/oauth"
	"github.com/porthorian/opengrant/pkg/storage"
)

// Result is the outcome of validating one token. Inactive results carry no
// metadata beyond the flag.
type Result struct {
	Active    bool
	TokenID   string
	ClientID  string
	Subject   string
	TokenType string
	Scopes    []string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Validator resolves a presented token to its current state. A dead token is
// a normal inactive Result, not an error.
type Validator interface {
	Validate(ctx context.Context, token string) (Result, error)
}

// ResponseType renders an introspection Result onto the protocol response
// carrier. The result travels through Render rather than living on the
// response type, so one memoized instance serves concurrent requests.
type ResponseType interface {
	Render(ctx context.Context, result Result, response *oauth.Response) error
}

// StoredTokenValidator is the default Validator: it parses the presented
// JWT, then checks existence, revocation state and expiry of the matching
// access token in the repository. An optional cache short-circuits repeated
// lookups for the remaining token lifetime.
type StoredTokenValidator struct {
	Tokens storage.AccessTokenRepository
	Key    *keys.SigningKey
	Cache  cache.TokenCache
}

var _ Validator = (*StoredTokenValidator)(nil)

func (v *StoredTokenValidator) Validate(ctx context.Context, token string) (Result, error) {
	tokenID, ok := v.tokenID(token)
	if !ok {
		return Result{}, nil
	}

	if v.Cache != nil {
		if snapshot, hit, err := v.Cache.GetIntrospection(ctx, tokenID); err == nil && hit {
			return resultFromSnapshot(snapshot), nil
		}
	}

	record, err := v.Tokens.GetAccessToken(ctx, tokenID)
	if errors.Is(err, storage.ErrNotFound) {
		return Result{}, nil
	}
	if err != nil {
		return Result{}, oerrors.ServerError(err)
	}

	now := time.Now()
	if record.Revoked() || record.Expired(now) {
		return Result{}, nil
	}

	result := Result{
		Active:    true,
		TokenID:   record.ID,
		ClientID:  record.ClientID,
		Subject:   record.Subject,
		TokenType: "Bearer",
		Scopes:    record.Scopes,
		IssuedAt:  record.IssuedAt,
		ExpiresAt: record.ExpiresAt,
	}

	if v.Cache != nil {
		if ttl := time.Until(record.ExpiresAt); ttl > 0 {
			_ = v.Cache.SetIntrospection(ctx, tokenID, snapshotFromResult(result), ttl)
		}
	}

	return result, nil
}

// tokenID extracts the jti from the presented token. When a verification key
// is configured the signature must check out; without one the claims are
// read unverified and the repository lookup is the source of truth.
func (v *StoredTokenValidator) tokenID(token string) (string, bool) {
	if token == "" || !strings.Contains(token, ".") {
		return "", false
	}

	claims := jwtv5.MapClaims{}

	if v.Key != nil {
		parsed, err := jwtv5.ParseWithClaims(token, claims, func(t *jwtv5.Token) (any, error) {
			return v.Key.Public(), nil
		})
		if err != nil || !parsed.Valid {
			return "", false
		}
	} else {
		parser := jwtv5.NewParser()
		if _, _, err := parser.ParseUnverified(token, claims); err != nil {
			return "", false
		}
	}

	tokenID, _ := claims["jti"].(string)
	return tokenID, tokenID != ""
}

func resultFromSnapshot(snapshot cache.TokenSnapshot) Result {
	return Result{
		Active:    snapshot.Active,
		TokenID:   snapshot.TokenID,
		ClientID:  snapshot.ClientID,
		Subject:   snapshot.Subject,
		TokenType: snapshot.TokenType,
		Scopes:    snapshot.Scopes,
		IssuedAt:  snapshot.IssuedAt,
		ExpiresAt: snapshot.ExpiresAt,
	}
}

func snapshotFromResult(result Result) cache.TokenSnapshot {
	return cache.TokenSnapshot{
		Active:    result.Active,
		TokenID:   result.TokenID,
		ClientID:  result.ClientID,
		Subject:   result.Subject,
		TokenType: result.TokenType,
		Scopes:    result.Scopes,
		IssuedAt:  result.IssuedAt,
		ExpiresAt: result.ExpiresAt,
	}
}

// BearerResponse is the default introspection response type for bearer
// access tokens. It is stateless: safe to share across requests.
type BearerResponse struct{}

var _ ResponseType = (*BearerResponse)(nil)

func NewBearerResponse() *BearerResponse {
	return &BearerResponse{}
}

func (b *BearerResponse) Render(ctx context.Context, result Result, response *oauth.Response) error {
	if response.Header == nil {
		response.Header = map[string]string{}
	}
	if response.Body == nil {
		response.Body = map[string]any{}
	}

	response.Status = http.StatusOK
	response.Body["active"] = result.Active

	if !result.Active {
		return nil
	}

	response.Body["jti"] = result.TokenID
	response.Body["client_id"] = result.ClientID
	response.Body["token_type"] = result.TokenType
	if result.Subject != "" {
		response.Body["sub"] = result.Subject
	}
	if len(result.Scopes) > 0 {
		response.Body["scope"] = strings.Join(result.Scopes, " ")
	}
	if !result.IssuedAt.IsZero() {
		response.Body["iat"] = result.IssuedAt.Unix()
	}
	if !result.ExpiresAt.IsZero() {
		response.Body["exp"] = result.ExpiresAt.Unix()
	}

	return nil
}

// Introspector composes the repositories, the key material and the resolved
// validator for the introspection endpoint.
type Introspector struct {
	tokens    storage.AccessTokenRepository
	material  keys.Material
	validator Validator
}

func NewIntrospector(tokens storage.AccessTokenRepository, material keys.Material, validator Validator) *Introspector {
	return &Introspector{
		tokens:    tokens,
		material:  material,
		validator: validator,
	}
}

// ValidateRequest fails closed on structurally malformed input. A token that
// is merely unknown or expired is not a request error.
func (i *Introspector) ValidateRequest(request *oauth.Request) error {
	if request == nil || request.Param("token") == "" {
		return oerrors.InvalidRequest("the token parameter is missing")
	}
	return nil
}

// Respond always produces a structured active/inactive response; it raises
// only for collaborator failures.
func (i *Introspector) Respond(ctx context.Context, request *oauth.Request, responseType ResponseType, response *oauth.Response) (*oauth.Response, error) {
	result, err := i.validator.Validate(ctx, request.Param("token"))
	if err != nil {
		return nil, err
	}

	if err := responseType.Render(ctx, result, response); err != nil {
		return nil, err
	}

	return response, nil
}
