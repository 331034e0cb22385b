// Package opengrant is the orchestration core of an OAuth2 authorization
// server: it dispatches inbound authorization and token requests across
// pluggable grant strategies, owns the signing/encryption key material
// shared between them, lazily configures the bearer-token response
// generator, and runs an RFC 7662-style introspection subsystem.
package opengrant

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/go-logr/logr"

	"github.com/porthorian/opengrant/pkg/bearer"
	"github.com/porthorian/opengrant/pkg/cache"
	oerrors "github.com/porthorian/opengrant/pkg/errors"
	"github.com/porthorian/opengrant/pkg/events"
	"github.com/porthorian/opengrant/pkg/introspection"
	"github.com/porthorian/opengrant/pkg/keys"
	"github.com/porthorian/opengrant/pkg/storage"
)

var (
	ErrNilGrant             = errors.New("opengrant: grant is required")
	ErrEmptyGrantIdentifier = errors.New("opengrant: grant identifier is empty")
	ErrNonPositiveTTL       = errors.New("opengrant: access token ttl must be greater than zero")
)

type Config struct {
	// Issuer is the value stamped into the iss claim of issued tokens.
	Issuer string

	// Repositories groups the data-access collaborators injected into every
	// registered grant. Runtime storage backends fill any nil member.
	Repositories storage.Repositories

	KeyMaterial  keys.Material
	DefaultScope string

	// ResponseType overrides the default bearer-token response generator.
	// The server never replaces a configured instance; it only refreshes
	// its key material on retrieval.
	ResponseType ResponseType

	IntrospectionValidator    introspection.Validator
	IntrospectionResponseType introspection.ResponseType

	Events     events.Sink
	Logger     logr.Logger
	TokenCache cache.TokenCache

	Runtime RuntimeConfig
}

type grantRegistration struct {
	grant Grant
	ttl   time.Duration
}

// Server is the long-lived authorization-server orchestrator. Grants are
// registered during a single-threaded setup phase; after that the registry
// is read-only and the server is safe for arbitrarily concurrent request
// serving. Replacing the key material affects the response and
// introspection layers on their next retrieval, but grants keep the
// snapshot injected at registration until they are re-registered.
type Server struct {
	grants []*grantRegistration
	index  map[string]*grantRegistration

	repos storage.Repositories

	issuer       string
	defaultScope string
	sink         events.Sink
	logger       logr.Logger
	tokenCache   cache.TokenCache

	mu           sync.RWMutex
	material     keys.Material
	responseType ResponseType
	validator    introspection.Validator
	intResponse  introspection.ResponseType
	introspector *introspection.Introspector

	closeResource func() error
}

func New(config Config) (*Server, error) {
	closeResource, resolvedConfig, err := config.initialize(context.Background())
	if err != nil {
		return nil, err
	}

	sink := resolvedConfig.Events
	if sink == nil {
		sink = events.NopSink{}
	}

	return &Server{
		index:         map[string]*grantRegistration{},
		repos:         resolvedConfig.Repositories,
		issuer:        resolvedConfig.Issuer,
		defaultScope:  resolvedConfig.DefaultScope,
		sink:          sink,
		logger:        resolvedConfig.Logger,
		tokenCache:    resolvedConfig.TokenCache,
		material:      resolvedConfig.KeyMaterial,
		responseType:  resolvedConfig.ResponseType,
		validator:     resolvedConfig.IntrospectionValidator,
		intResponse:   resolvedConfig.IntrospectionResponseType,
		closeResource: closeResource,
	}, nil
}

// EnableGrant registers a grant with the default access-token TTL.
func (s *Server) EnableGrant(grant Grant) error {
	return s.EnableGrantWithTTL(grant, DefaultAccessTokenTTL)
}

// EnableGrantWithTTL registers a grant keyed by its identifier. The shared
// repositories, default scope, key material and event sink are injected
// once, here: a configuration snapshot, not a live binding. Re-registering
// an identifier overwrites the strategy and TTL in place, keeping the
// original dispatch position.
func (s *Server) EnableGrantWithTTL(grant Grant, ttl time.Duration) error {
	if grant == nil {
		return ErrNilGrant
	}

	identifier := grant.Identifier()
	if identifier == "" {
		return ErrEmptyGrantIdentifier
	}
	if ttl <= 0 {
		return ErrNonPositiveTTL
	}

	s.mu.Lock()
	material := s.material
	s.mu.Unlock()

	grant.SetClientRepository(s.repos.Clients)
	grant.SetAccessTokenRepository(s.repos.Tokens)
	grant.SetScopeRepository(s.repos.Scopes)
	grant.SetDefaultScope(s.defaultScope)
	grant.SetSigningKey(material.SigningKey())
	grant.SetEncryptionSecret(material.Secret())
	grant.SetEventSink(s.sink)

	if existing, ok := s.index[identifier]; ok {
		existing.grant = grant
		existing.ttl = ttl
	} else {
		registration := &grantRegistration{grant: grant, ttl: ttl}
		s.grants = append(s.grants, registration)
		s.index[identifier] = registration
	}

	s.logger.V(1).Info("enabled grant", "grant_type", identifier, "ttl", ttl)
	s.sink.Emit(context.Background(), events.New(events.NameGrantEnabled, map[string]any{
		"grant_type": identifier,
		"ttl":        ttl.String(),
	}))

	return nil
}

// SetKeyMaterial replaces the key material wholesale. The response and
// introspection layers observe the new material on their next retrieval;
// already-registered grants keep their registration-time snapshot.
func (s *Server) SetKeyMaterial(material keys.Material) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.material = material
	// Drop memoized introspection state tied to the previous key pair; it
	// is rebuilt with current material on next use.
	if _, defaulted := s.validator.(*introspection.StoredTokenValidator); defaulted {
		s.validator = nil
	}
	s.introspector = nil
}

func (s *Server) KeyMaterial() keys.Material {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.material
}

// ValidateAuthorizationRequest scans the registry in registration order and
// hands the request to the first grant claiming it. With no match it fails
// with unsupported_grant_type and no collaborator is invoked.
func (s *Server) ValidateAuthorizationRequest(ctx context.Context, request *Request) (*AuthorizationRequest, error) {
	for _, registration := range s.grants {
		if !registration.grant.CanRespondToAuthorizationRequest(request) {
			continue
		}

		authRequest, err := registration.grant.ValidateAuthorizationRequest(ctx, request)
		if err != nil {
			return nil, err
		}
		if authRequest.GrantTypeID == "" {
			authRequest.GrantTypeID = registration.grant.Identifier()
		}
		return authRequest, nil
	}

	return nil, oerrors.UnsupportedGrantType()
}

// CompleteAuthorizationRequest finishes a previously validated
// authorization request. The grant is looked up by the identifier stored on
// the request, not by re-scanning predicates.
func (s *Server) CompleteAuthorizationRequest(ctx context.Context, authRequest *AuthorizationRequest, response *Response) (*Response, error) {
	registration, ok := s.index[authRequest.GrantTypeID]
	if !ok {
		return nil, oerrors.UnsupportedGrantType()
	}

	responseType, err := registration.grant.CompleteAuthorizationRequest(ctx, authRequest)
	if err != nil {
		return nil, err
	}

	if err := responseType.Render(ctx, response); err != nil {
		return nil, err
	}

	return response, nil
}

// RespondToAccessTokenRequest dispatches a token request across the
// registry in registration order. A matching grant may defer by returning
// no response type, in which case scanning continues with later
// registrations; only when every candidate has deferred or none matched
// does the request fail with unsupported_grant_type.
func (s *Server) RespondToAccessTokenRequest(ctx context.Context, request *Request, response *Response) (*Response, error) {
	responseType := s.responseTypeForRequest()

	for _, registration := range s.grants {
		if !registration.grant.CanRespondToAccessTokenRequest(request) {
			continue
		}

		result, err := registration.grant.RespondToAccessTokenRequest(ctx, request, responseType, registration.ttl)
		if err != nil {
			return nil, err
		}
		if result == nil {
			// Deferral can mask a misconfigured grant; surface it without
			// changing the dispatch flow.
			s.sink.Emit(ctx, events.New(events.NameTokenGrantDeferred, map[string]any{
				"grant_type": registration.grant.Identifier(),
			}))
			continue
		}

		if err := result.Render(ctx, response); err != nil {
			return nil, err
		}

		s.sink.Emit(ctx, events.New(events.NameTokenIssued, map[string]any{
			"grant_type": registration.grant.Identifier(),
		}))
		return response, nil
	}

	return nil, oerrors.UnsupportedGrantType()
}

// ResponseType returns the bearer-token response generator, building the
// default on first use. Every retrieval re-applies the current signing key
// and encryption secret, which is how key rotation reaches token issuance
// without reconstructing the generator.
func (s *Server) ResponseType() ResponseType {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.responseType == nil {
		s.responseType = bearer.NewTokenResponse(s.issuer)
	}

	s.responseType.SetSigningKey(s.material.SigningKey())
	s.responseType.SetEncryptionSecret(s.material.Secret())
	return s.responseType
}

// SetResponseType replaces the response generator for subsequent requests.
func (s *Server) SetResponseType(responseType ResponseType) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.responseType = responseType
}

// responseTypeForRequest resolves the generator like ResponseType does, then
// hands back a per-request clone. The memoized instance only ever sees its
// key setters, always under the lock; token state lands on the clone.
func (s *Server) responseTypeForRequest() ResponseType {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.responseType == nil {
		s.responseType = bearer.NewTokenResponse(s.issuer)
	}

	s.responseType.SetSigningKey(s.material.SigningKey())
	s.responseType.SetEncryptionSecret(s.material.Secret())
	return s.responseType.CloneForRequest()
}

// IntrospectionValidator returns the memoized token validator, defaulting
// to the repository-backed one on first use.
func (s *Server) IntrospectionValidator() introspection.Validator {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.validator == nil {
		s.validator = &introspection.StoredTokenValidator{
			Tokens: s.repos.Tokens,
			Key:    s.material.SigningKey(),
			Cache:  s.tokenCache,
		}
	}
	return s.validator
}

func (s *Server) SetIntrospectionValidator(validator introspection.Validator) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.validator = validator
	s.introspector = nil
}

// IntrospectionResponseType returns the memoized introspection renderer,
// defaulting to the bearer-token one on first use.
func (s *Server) IntrospectionResponseType() introspection.ResponseType {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.intResponse == nil {
		s.intResponse = introspection.NewBearerResponse()
	}
	return s.intResponse
}

func (s *Server) SetIntrospectionResponseType(responseType introspection.ResponseType) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.intResponse = responseType
}

// Introspector returns the memoized introspector, composing the
// repositories, the current key material and the resolved validator. The
// validator is resolved before the introspector is constructed.
func (s *Server) Introspector() *introspection.Introspector {
	validator := s.IntrospectionValidator()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.introspector == nil {
		s.introspector = introspection.NewIntrospector(s.repos.Tokens, s.material, validator)
	}
	return s.introspector
}

// ValidateIntrospectionRequest fails closed on structurally malformed
// input. Inactive, unknown or expired tokens are not request errors.
func (s *Server) ValidateIntrospectionRequest(request *Request) error {
	return s.Introspector().ValidateRequest(request)
}

// RespondToIntrospectionRequest renders the introspection result for the
// presented token. Dead tokens produce a normal inactive response.
func (s *Server) RespondToIntrospectionRequest(ctx context.Context, request *Request, response *Response) (*Response, error) {
	response, err := s.Introspector().Respond(ctx, request, s.IntrospectionResponseType(), response)
	if err != nil {
		return nil, err
	}

	active, _ := response.Body["active"].(bool)
	s.sink.Emit(ctx, events.New(events.NameIntrospectionResponded, map[string]any{
		"active": active,
	}))

	return response, nil
}

func (s *Server) Close() error {
	if s == nil || s.closeResource == nil {
		return nil
	}

	err := s.closeResource()
	s.closeResource = nil
	return err
}
