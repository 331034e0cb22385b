package oauth

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/porthorian/opengrant/pkg/events"
	"github.com/porthorian/opengrant/pkg/keys"
	"github.com/porthorian/opengrant/pkg/storage"
)

// Request is the transport-agnostic shape of an inbound authorization or
// token request. The surrounding transport owns parsing; this core only
// reads it.
type Request struct {
	GrantType    string
	ClientID     string
	ClientSecret string
	Params       map[string]string
}

func (r *Request) Param(name string) string {
	if r == nil || r.Params == nil {
		return ""
	}
	return r.Params[name]
}

// Scopes splits the space-delimited "scope" parameter.
func (r *Request) Scopes() []string {
	return strings.Fields(r.Param("scope"))
}

// Response is the protocol response carrier handed to response types. The
// transport converts it into its own representation unmodified in shape.
type Response struct {
	Status int
	Header map[string]string
	Body   map[string]any
}

func NewResponse() *Response {
	return &Response{
		Header: map[string]string{},
		Body:   map[string]any{},
	}
}

// AuthorizationRequest is the transient result of validating an inbound
// authorization request. It is single-use: completion must be driven by the
// same grant identifier that produced it.
type AuthorizationRequest struct {
	GrantTypeID string
	ClientID    string
	RedirectURI string
	State       string
	Scopes      []string
	// Subject and Approved are filled between validation and completion by
	// the consent step the transport runs.
	Subject  string
	Approved bool
}

type AccessToken struct {
	ID        string
	ClientID  string
	Subject   string
	Scopes    []string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

type RefreshToken struct {
	ID            string
	AccessTokenID string
	ClientID      string
	Subject       string
	Scopes        []string
	ExpiresAt     time.Time
}

// NewTokenIdentifier returns a fresh opaque token/request identifier.
func NewTokenIdentifier() string {
	return uuid.NewString()
}

// ResponseType renders a concrete protocol response for issued tokens. The
// orchestrator re-applies current key material on every retrieval, so
// implementations must treat the key setters as replace-in-place. Token
// state is per request: the dispatcher never hands the shared instance to a
// grant, it hands a CloneForRequest copy, so SetAccessToken and
// SetRefreshToken only ever run on a request-local value.
type ResponseType interface {
	SetSigningKey(key *keys.SigningKey)
	SetEncryptionSecret(secret []byte)
	SetAccessToken(token AccessToken)
	SetRefreshToken(token *RefreshToken)
	// CloneForRequest returns a copy carrying the configured key material
	// but no token state, safe for a single request's use.
	CloneForRequest() ResponseType
	Render(ctx context.Context, response *Response) error
}

// Grant is the strategy contract one OAuth2 flow implements. The one-time
// setters are invoked at registration; they are a configuration snapshot,
// not a live binding.
type Grant interface {
	Identifier() string

	SetClientRepository(repository storage.ClientRepository)
	SetAccessTokenRepository(repository storage.AccessTokenRepository)
	SetScopeRepository(repository storage.ScopeRepository)
	SetDefaultScope(scope string)
	SetSigningKey(key *keys.SigningKey)
	SetEncryptionSecret(secret []byte)
	SetEventSink(sink events.Sink)

	CanRespondToAuthorizationRequest(request *Request) bool
	ValidateAuthorizationRequest(ctx context.Context, request *Request) (*AuthorizationRequest, error)
	CompleteAuthorizationRequest(ctx context.Context, authRequest *AuthorizationRequest) (ResponseType, error)

	CanRespondToAccessTokenRequest(request *Request) bool
	// RespondToAccessTokenRequest returns (nil, nil) to defer: the grant
	// matched the request but yields to later registrations.
	RespondToAccessTokenRequest(ctx context.Context, request *Request, responseType ResponseType, ttl time.Duration) (ResponseType, error)
}
