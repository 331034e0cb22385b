package opengrant

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"strconv"
	"sync"
	"testing"
	"time"

	jwtv5 "github.com/golang-jwt/jwt/v5"

	"github.com/porthorian/opengrant/pkg/bearer"
	oerrors "github.com/porthorian/opengrant/pkg/errors"
	"github.com/porthorian/opengrant/pkg/events"
	"github.com/porthorian/opengrant/pkg/keys"
	"github.com/porthorian/opengrant/pkg/protocol/oauth"
	"github.com/porthorian/opengrant/pkg/storage"
)

type stubGrant struct {
	id       string
	canAuth  bool
	canToken bool
	deferral bool

	authCalls  int
	tokenCalls int
	seenTTL    time.Duration

	clients storage.ClientRepository
	tokens  storage.AccessTokenRepository
	scopes  storage.ScopeRepository
	key     *keys.SigningKey
	secret  []byte
	sink    events.Sink
	scope   string

	respond func(ctx context.Context, request *oauth.Request, responseType oauth.ResponseType, ttl time.Duration) (oauth.ResponseType, error)
}

func (g *stubGrant) Identifier() string { return g.id }

func (g *stubGrant) SetClientRepository(repository storage.ClientRepository) { g.clients = repository }
func (g *stubGrant) SetAccessTokenRepository(repository storage.AccessTokenRepository) {
	g.tokens = repository
}
func (g *stubGrant) SetScopeRepository(repository storage.ScopeRepository) { g.scopes = repository }
func (g *stubGrant) SetDefaultScope(scope string)                          { g.scope = scope }
func (g *stubGrant) SetSigningKey(key *keys.SigningKey)                    { g.key = key }
func (g *stubGrant) SetEncryptionSecret(secret []byte)                     { g.secret = secret }
func (g *stubGrant) SetEventSink(sink events.Sink)                         { g.sink = sink }

func (g *stubGrant) CanRespondToAuthorizationRequest(request *oauth.Request) bool { return g.canAuth }

func (g *stubGrant) ValidateAuthorizationRequest(ctx context.Context, request *oauth.Request) (*oauth.AuthorizationRequest, error) {
	g.authCalls++
	return &oauth.AuthorizationRequest{
		GrantTypeID: g.id,
		ClientID:    request.ClientID,
		Scopes:      request.Scopes(),
		RedirectURI: request.Param("redirect_uri"),
		State:       request.Param("state"),
	}, nil
}

func (g *stubGrant) CompleteAuthorizationRequest(ctx context.Context, authRequest *oauth.AuthorizationRequest) (oauth.ResponseType, error) {
	rt := &recordingResponseType{}
	return rt, nil
}

func (g *stubGrant) CanRespondToAccessTokenRequest(request *oauth.Request) bool { return g.canToken }

func (g *stubGrant) RespondToAccessTokenRequest(ctx context.Context, request *oauth.Request, responseType oauth.ResponseType, ttl time.Duration) (oauth.ResponseType, error) {
	g.tokenCalls++
	g.seenTTL = ttl
	if g.respond != nil {
		return g.respond(ctx, request, responseType, ttl)
	}
	if g.deferral {
		return nil, nil
	}
	responseType.SetAccessToken(oauth.AccessToken{
		ID:        oauth.NewTokenIdentifier(),
		ClientID:  request.ClientID,
		Subject:   request.ClientID,
		ExpiresAt: time.Now().Add(ttl),
	})
	return responseType, nil
}

type recordingResponseType struct {
	key      *keys.SigningKey
	secret   []byte
	keySets  int
	rendered int
}

func (r *recordingResponseType) SetSigningKey(key *keys.SigningKey) {
	r.key = key
	r.keySets++
}
func (r *recordingResponseType) SetEncryptionSecret(secret []byte)      { r.secret = secret }
func (r *recordingResponseType) SetAccessToken(token oauth.AccessToken) {}
func (r *recordingResponseType) SetRefreshToken(token *oauth.RefreshToken) {
}
func (r *recordingResponseType) CloneForRequest() oauth.ResponseType {
	return &recordingResponseType{key: r.key, secret: r.secret}
}
func (r *recordingResponseType) Render(ctx context.Context, response *oauth.Response) error {
	r.rendered++
	if response.Body == nil {
		response.Body = map[string]any{}
	}
	response.Status = 200
	return nil
}

type memoryTokenRepository struct {
	records map[string]storage.AccessTokenRecord
}

func newMemoryTokenRepository() *memoryTokenRepository {
	return &memoryTokenRepository{records: map[string]storage.AccessTokenRecord{}}
}

func (m *memoryTokenRepository) PersistAccessToken(ctx context.Context, record storage.AccessTokenRecord) error {
	m.records[record.ID] = record
	return nil
}

func (m *memoryTokenRepository) GetAccessToken(ctx context.Context, id string) (storage.AccessTokenRecord, error) {
	record, ok := m.records[id]
	if !ok {
		return storage.AccessTokenRecord{}, storage.ErrNotFound
	}
	return record, nil
}

func (m *memoryTokenRepository) RevokeAccessToken(ctx context.Context, id string) error {
	record, ok := m.records[id]
	if !ok {
		return storage.ErrNotFound
	}
	now := time.Now()
	record.RevokedAt = &now
	m.records[id] = record
	return nil
}

func (m *memoryTokenRepository) IsAccessTokenRevoked(ctx context.Context, id string) (bool, error) {
	record, ok := m.records[id]
	if !ok {
		return false, storage.ErrNotFound
	}
	return record.Revoked(), nil
}

func testMaterial(t *testing.T) keys.Material {
	t.Helper()

	_, private, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	der, err := x509.MarshalPKCS8PrivateKey(private)
	if err != nil {
		t.Fatalf("marshal key: %v", err)
	}
	key, err := keys.SigningKeyFromBytes(pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der}), "")
	if err != nil {
		t.Fatalf("parse key: %v", err)
	}
	return keys.NewMaterial(key, []byte("symmetric-secret"))
}

func newTestServer(t *testing.T, config Config) *Server {
	t.Helper()

	server, err := New(config)
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	t.Cleanup(func() {
		_ = server.Close()
	})
	return server
}

func TestClientCredentialsIssuesBearerToken(t *testing.T) {
	ctx := context.Background()
	server := newTestServer(t, Config{
		Issuer:       "https://auth.example.com",
		Repositories: storage.Repositories{Tokens: newMemoryTokenRepository()},
		KeyMaterial:  testMaterial(t),
	})

	grant := &stubGrant{id: "client_credentials", canToken: true}
	if err := server.EnableGrant(grant); err != nil {
		t.Fatalf("enable grant: %v", err)
	}

	response, err := server.RespondToAccessTokenRequest(ctx, &Request{
		GrantType: "client_credentials",
		ClientID:  "client-1",
	}, NewResponse())
	if err != nil {
		t.Fatalf("token dispatch: %v", err)
	}

	if response.Body["token_type"] != bearer.TokenType {
		t.Fatalf("expected Bearer response, got %v", response.Body["token_type"])
	}
	expiresIn, _ := response.Body["expires_in"].(int64)
	if expiresIn < 3595 || expiresIn > 3600 {
		t.Fatalf("expected expiry near 3600s (default TTL), got %d", expiresIn)
	}
	if grant.seenTTL != DefaultAccessTokenTTL {
		t.Fatalf("expected default TTL injected, got %v", grant.seenTTL)
	}
}

func TestEmptyRegistryIsUnsupportedGrantType(t *testing.T) {
	ctx := context.Background()
	server := newTestServer(t, Config{KeyMaterial: testMaterial(t)})

	if _, err := server.RespondToAccessTokenRequest(ctx, &Request{GrantType: "password"}, NewResponse()); !oerrors.IsCode(err, oerrors.CodeUnsupportedGrantType) {
		t.Fatalf("expected unsupported_grant_type for token request, got %v", err)
	}
	if _, err := server.ValidateAuthorizationRequest(ctx, &Request{}); !oerrors.IsCode(err, oerrors.CodeUnsupportedGrantType) {
		t.Fatalf("expected unsupported_grant_type for authorization request, got %v", err)
	}
}

func TestAuthorizationValidationPicksFirstMatchOnly(t *testing.T) {
	ctx := context.Background()
	server := newTestServer(t, Config{KeyMaterial: testMaterial(t)})

	first := &stubGrant{id: "auth_code", canAuth: true}
	second := &stubGrant{id: "implicit", canAuth: true}
	skipped := &stubGrant{id: "password", canAuth: false}

	for _, grant := range []*stubGrant{skipped, first, second} {
		if err := server.EnableGrant(grant); err != nil {
			t.Fatalf("enable grant: %v", err)
		}
	}

	authRequest, err := server.ValidateAuthorizationRequest(ctx, &Request{
		ClientID: "client-1",
		Params:   map[string]string{"redirect_uri": "https://app.example.com/cb", "state": "xyz"},
	})
	if err != nil {
		t.Fatalf("validate: %v", err)
	}

	if authRequest.GrantTypeID != "auth_code" {
		t.Fatalf("expected first matching grant to win, got %s", authRequest.GrantTypeID)
	}
	if first.authCalls != 1 || second.authCalls != 0 || skipped.authCalls != 0 {
		t.Fatalf("expected exactly one strategy invoked: %d/%d/%d", first.authCalls, second.authCalls, skipped.authCalls)
	}
	if authRequest.State != "xyz" {
		t.Fatalf("expected state carried through, got %q", authRequest.State)
	}
}

func TestCompleteAuthorizationRequestUsesStoredIdentifier(t *testing.T) {
	ctx := context.Background()
	server := newTestServer(t, Config{KeyMaterial: testMaterial(t)})

	grant := &stubGrant{id: "auth_code", canAuth: true}
	if err := server.EnableGrant(grant); err != nil {
		t.Fatalf("enable grant: %v", err)
	}

	response, err := server.CompleteAuthorizationRequest(ctx, &AuthorizationRequest{GrantTypeID: "auth_code", Approved: true}, NewResponse())
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if response.Status != 200 {
		t.Fatalf("expected rendered response, got %+v", response)
	}

	if _, err := server.CompleteAuthorizationRequest(ctx, &AuthorizationRequest{GrantTypeID: "unknown"}, NewResponse()); !oerrors.IsCode(err, oerrors.CodeUnsupportedGrantType) {
		t.Fatalf("expected unsupported_grant_type for unknown identifier, got %v", err)
	}
}

func TestTokenDispatchContinuesPastDeferrals(t *testing.T) {
	ctx := context.Background()
	server := newTestServer(t, Config{KeyMaterial: testMaterial(t)})

	deferring := &stubGrant{id: "device_code", canToken: true, deferral: true}
	issuing := &stubGrant{id: "client_credentials", canToken: true}

	if err := server.EnableGrant(deferring); err != nil {
		t.Fatalf("enable grant: %v", err)
	}
	if err := server.EnableGrant(issuing); err != nil {
		t.Fatalf("enable grant: %v", err)
	}

	response, err := server.RespondToAccessTokenRequest(ctx, &Request{ClientID: "client-1"}, NewResponse())
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if deferring.tokenCalls != 1 || issuing.tokenCalls != 1 {
		t.Fatalf("expected both matching grants invoked, got %d/%d", deferring.tokenCalls, issuing.tokenCalls)
	}
	if response.Body["token_type"] != bearer.TokenType {
		t.Fatal("expected the non-deferring grant to produce the response")
	}
}

func TestTokenDispatchAllDeferralsIsUnsupported(t *testing.T) {
	ctx := context.Background()
	server := newTestServer(t, Config{KeyMaterial: testMaterial(t)})

	first := &stubGrant{id: "one", canToken: true, deferral: true}
	second := &stubGrant{id: "two", canToken: true, deferral: true}
	for _, grant := range []*stubGrant{first, second} {
		if err := server.EnableGrant(grant); err != nil {
			t.Fatalf("enable grant: %v", err)
		}
	}

	_, err := server.RespondToAccessTokenRequest(ctx, &Request{}, NewResponse())
	if !oerrors.IsCode(err, oerrors.CodeUnsupportedGrantType) {
		t.Fatalf("expected unsupported_grant_type after all deferrals, got %v", err)
	}
	if first.tokenCalls != 1 || second.tokenCalls != 1 {
		t.Fatalf("expected every matching grant to be tried, got %d/%d", first.tokenCalls, second.tokenCalls)
	}
}

func TestReRegistrationOverwritesInPlace(t *testing.T) {
	server := newTestServer(t, Config{KeyMaterial: testMaterial(t)})

	original := &stubGrant{id: "client_credentials", canToken: true}
	replacement := &stubGrant{id: "client_credentials", canToken: true}

	if err := server.EnableGrant(original); err != nil {
		t.Fatalf("enable grant: %v", err)
	}
	if err := server.EnableGrantWithTTL(replacement, 30*time.Minute); err != nil {
		t.Fatalf("re-enable grant: %v", err)
	}

	if len(server.grants) != 1 {
		t.Fatalf("expected registry size unchanged, got %d", len(server.grants))
	}
	registration := server.index["client_credentials"]
	if registration.grant != Grant(replacement) {
		t.Fatal("expected the replacement strategy instance")
	}
	if registration.ttl != 30*time.Minute {
		t.Fatalf("expected replaced TTL, got %v", registration.ttl)
	}
}

func TestEnableGrantValidation(t *testing.T) {
	server := newTestServer(t, Config{KeyMaterial: testMaterial(t)})

	if err := server.EnableGrant(nil); err != ErrNilGrant {
		t.Fatalf("expected ErrNilGrant, got %v", err)
	}
	if err := server.EnableGrant(&stubGrant{id: ""}); err != ErrEmptyGrantIdentifier {
		t.Fatalf("expected ErrEmptyGrantIdentifier, got %v", err)
	}
	if err := server.EnableGrantWithTTL(&stubGrant{id: "x"}, -time.Second); err != ErrNonPositiveTTL {
		t.Fatalf("expected ErrNonPositiveTTL, got %v", err)
	}
}

func TestEnableGrantInjectsSnapshot(t *testing.T) {
	tokens := newMemoryTokenRepository()
	material := testMaterial(t)
	server := newTestServer(t, Config{
		Repositories: storage.Repositories{Tokens: tokens},
		KeyMaterial:  material,
		DefaultScope: "basic",
	})

	grant := &stubGrant{id: "client_credentials"}
	if err := server.EnableGrant(grant); err != nil {
		t.Fatalf("enable grant: %v", err)
	}

	if grant.tokens == nil || grant.scope != "basic" || grant.sink == nil {
		t.Fatalf("expected collaborators injected at registration: %+v", grant)
	}
	if grant.key != material.SigningKey() {
		t.Fatal("expected registration-time signing key snapshot")
	}

	// Rotation does not retroactively reach registered grants.
	rotated := testMaterial(t)
	server.SetKeyMaterial(rotated)
	if grant.key == rotated.SigningKey() {
		t.Fatal("registered grant must keep its registration-time key")
	}
}

func TestResponseTypeIsMemoizedAndRefreshed(t *testing.T) {
	material := testMaterial(t)
	server := newTestServer(t, Config{KeyMaterial: material})

	first := server.ResponseType()
	second := server.ResponseType()
	if first != second {
		t.Fatal("expected the same response type instance across retrievals")
	}

	bearerResponse, ok := first.(*bearer.TokenResponse)
	if !ok {
		t.Fatalf("expected default bearer response type, got %T", first)
	}
	if bearerResponse.SigningKey() != material.SigningKey() {
		t.Fatal("expected current signing key applied on retrieval")
	}

	rotated := testMaterial(t)
	server.SetKeyMaterial(rotated)

	refreshed := server.ResponseType().(*bearer.TokenResponse)
	if refreshed != bearerResponse {
		t.Fatal("rotation must not replace the response type instance")
	}
	if refreshed.SigningKey() != rotated.SigningKey() {
		t.Fatal("expected rotated signing key applied on next retrieval")
	}
	if string(refreshed.EncryptionSecret()) != string(rotated.Secret()) {
		t.Fatal("expected rotated encryption secret applied on next retrieval")
	}
}

func TestCustomResponseTypeIsNeverReplaced(t *testing.T) {
	material := testMaterial(t)
	custom := &recordingResponseType{}
	server := newTestServer(t, Config{KeyMaterial: material, ResponseType: custom})

	for i := 0; i < 3; i++ {
		if got := server.ResponseType(); got != ResponseType(custom) {
			t.Fatalf("expected the configured instance, got %T", got)
		}
	}
	if custom.keySets != 3 {
		t.Fatalf("expected key material re-applied on every retrieval, got %d", custom.keySets)
	}
	if custom.key != material.SigningKey() {
		t.Fatal("expected current signing key on custom response type")
	}
}

func TestIntrospectionSingletonsAreMemoized(t *testing.T) {
	server := newTestServer(t, Config{
		Repositories: storage.Repositories{Tokens: newMemoryTokenRepository()},
		KeyMaterial:  testMaterial(t),
	})

	if server.IntrospectionValidator() != server.IntrospectionValidator() {
		t.Fatal("expected memoized validator")
	}
	if server.IntrospectionResponseType() != server.IntrospectionResponseType() {
		t.Fatal("expected memoized response type")
	}
	if server.Introspector() != server.Introspector() {
		t.Fatal("expected memoized introspector")
	}
}

func TestIntrospectUnknownTokenIsInactive(t *testing.T) {
	ctx := context.Background()
	server := newTestServer(t, Config{
		Repositories: storage.Repositories{Tokens: newMemoryTokenRepository()},
		KeyMaterial:  testMaterial(t),
	})

	request := &Request{Params: map[string]string{"token": "completely-unknown"}}
	if err := server.ValidateIntrospectionRequest(request); err != nil {
		t.Fatalf("well-formed introspection request rejected: %v", err)
	}

	response, err := server.RespondToIntrospectionRequest(ctx, request, NewResponse())
	if err != nil {
		t.Fatalf("introspection raised for unknown token: %v", err)
	}
	if active, _ := response.Body["active"].(bool); active {
		t.Fatal("expected active=false for unknown token")
	}
}

func TestIntrospectMissingTokenParameter(t *testing.T) {
	server := newTestServer(t, Config{
		Repositories: storage.Repositories{Tokens: newMemoryTokenRepository()},
		KeyMaterial:  testMaterial(t),
	})

	err := server.ValidateIntrospectionRequest(&Request{Params: map[string]string{}})
	if !oerrors.IsCode(err, oerrors.CodeInvalidRequest) {
		t.Fatalf("expected invalid_request, got %v", err)
	}
}

func TestGrantErrorsPropagateUnmodified(t *testing.T) {
	ctx := context.Background()
	server := newTestServer(t, Config{KeyMaterial: testMaterial(t)})

	grant := &stubGrant{id: "password", canToken: true}
	grant.respond = func(ctx context.Context, request *oauth.Request, responseType oauth.ResponseType, ttl time.Duration) (oauth.ResponseType, error) {
		return nil, oerrors.InvalidClient("client authentication failed")
	}
	if err := server.EnableGrant(grant); err != nil {
		t.Fatalf("enable grant: %v", err)
	}

	_, err := server.RespondToAccessTokenRequest(ctx, &Request{}, NewResponse())
	if !oerrors.IsCode(err, oerrors.CodeInvalidClient) {
		t.Fatalf("expected invalid_client to pass through untouched, got %v", err)
	}
}

func TestDeferralEmitsDiagnosticEvent(t *testing.T) {
	ctx := context.Background()

	var emitted []events.Event
	sink := sinkFunc(func(ctx context.Context, event events.Event) {
		emitted = append(emitted, event)
	})

	server := newTestServer(t, Config{KeyMaterial: testMaterial(t), Events: sink})
	if err := server.EnableGrant(&stubGrant{id: "one", canToken: true, deferral: true}); err != nil {
		t.Fatalf("enable grant: %v", err)
	}

	if _, err := server.RespondToAccessTokenRequest(ctx, &Request{}, NewResponse()); !oerrors.IsCode(err, oerrors.CodeUnsupportedGrantType) {
		t.Fatalf("expected unsupported_grant_type, got %v", err)
	}

	var sawDeferral bool
	for _, event := range emitted {
		if event.Name == events.NameTokenGrantDeferred {
			sawDeferral = true
		}
	}
	if !sawDeferral {
		t.Fatal("expected a deferral diagnostic event")
	}
}

type sinkFunc func(ctx context.Context, event events.Event)

func (f sinkFunc) Emit(ctx context.Context, event events.Event) { f(ctx, event) }

// isolationGrant issues a token for the requesting client and keeps no
// mutable state, so concurrent dispatch exercises only the server's sharing.
type isolationGrant struct{}

func (isolationGrant) Identifier() string { return "client_credentials" }

func (isolationGrant) SetClientRepository(repository storage.ClientRepository)           {}
func (isolationGrant) SetAccessTokenRepository(repository storage.AccessTokenRepository) {}
func (isolationGrant) SetScopeRepository(repository storage.ScopeRepository)             {}
func (isolationGrant) SetDefaultScope(scope string)                                      {}
func (isolationGrant) SetSigningKey(key *keys.SigningKey)                                {}
func (isolationGrant) SetEncryptionSecret(secret []byte)                                 {}
func (isolationGrant) SetEventSink(sink events.Sink)                                     {}

func (isolationGrant) CanRespondToAuthorizationRequest(request *oauth.Request) bool { return false }

func (isolationGrant) ValidateAuthorizationRequest(ctx context.Context, request *oauth.Request) (*oauth.AuthorizationRequest, error) {
	return nil, oerrors.UnsupportedGrantType()
}

func (isolationGrant) CompleteAuthorizationRequest(ctx context.Context, authRequest *oauth.AuthorizationRequest) (oauth.ResponseType, error) {
	return nil, oerrors.UnsupportedGrantType()
}

func (isolationGrant) CanRespondToAccessTokenRequest(request *oauth.Request) bool { return true }

func (isolationGrant) RespondToAccessTokenRequest(ctx context.Context, request *oauth.Request, responseType oauth.ResponseType, ttl time.Duration) (oauth.ResponseType, error) {
	responseType.SetAccessToken(oauth.AccessToken{
		ID:        oauth.NewTokenIdentifier(),
		ClientID:  request.ClientID,
		Subject:   request.ClientID,
		ExpiresAt: time.Now().Add(ttl),
	})
	return responseType, nil
}

func TestConcurrentTokenRequestsDoNotShareState(t *testing.T) {
	ctx := context.Background()
	server := newTestServer(t, Config{
		Issuer:       "https://auth.example.com",
		Repositories: storage.Repositories{Tokens: newMemoryTokenRepository()},
		KeyMaterial:  testMaterial(t),
	})

	if err := server.EnableGrant(isolationGrant{}); err != nil {
		t.Fatalf("enable grant: %v", err)
	}

	const workers = 8
	const rounds = 25

	var wg sync.WaitGroup
	errs := make(chan error, workers)

	for worker := 0; worker < workers; worker++ {
		clientID := "client-" + strconv.Itoa(worker)
		wg.Add(1)
		go func() {
			defer wg.Done()
			for round := 0; round < rounds; round++ {
				response, err := server.RespondToAccessTokenRequest(ctx, &Request{
					GrantType: "client_credentials",
					ClientID:  clientID,
				}, NewResponse())
				if err != nil {
					errs <- err
					return
				}

				signed, _ := response.Body["access_token"].(string)
				claims := jwtv5.MapClaims{}
				if _, _, err := jwtv5.NewParser().ParseUnverified(signed, claims); err != nil {
					errs <- err
					return
				}
				if aud, _ := claims["aud"].(string); aud != clientID {
					errs <- fmt.Errorf("token for %s carries aud %q", clientID, aud)
					return
				}
			}
		}()
	}

	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("concurrent token issuance: %v", err)
	}
}

func TestConcurrentIntrospectionDoesNotShareState(t *testing.T) {
	ctx := context.Background()
	material := testMaterial(t)

	tokens := newMemoryTokenRepository()
	now := time.Now()
	for _, clientID := range []string{"client-a", "client-b", "client-c", "client-d"} {
		record := storage.AccessTokenRecord{
			ID:        "tok-" + clientID,
			ClientID:  clientID,
			Subject:   clientID,
			IssuedAt:  now,
			ExpiresAt: now.Add(time.Hour),
		}
		if err := tokens.PersistAccessToken(ctx, record); err != nil {
			t.Fatalf("seed token: %v", err)
		}
	}

	server := newTestServer(t, Config{
		Repositories: storage.Repositories{Tokens: tokens},
		KeyMaterial:  material,
	})

	signFor := func(tokenID string) string {
		key := material.SigningKey()
		token := jwtv5.NewWithClaims(key.Method(), jwtv5.MapClaims{
			"jti": tokenID,
			"exp": now.Add(time.Hour).Unix(),
		})
		signed, err := token.SignedString(key.Signer())
		if err != nil {
			t.Fatalf("sign token: %v", err)
		}
		return signed
	}

	var wg sync.WaitGroup
	errs := make(chan error, 4)

	for _, clientID := range []string{"client-a", "client-b", "client-c", "client-d"} {
		clientID := clientID
		signed := signFor("tok-" + clientID)
		wg.Add(1)
		go func() {
			defer wg.Done()
			for round := 0; round < 25; round++ {
				response, err := server.RespondToIntrospectionRequest(ctx,
					&Request{Params: map[string]string{"token": signed}}, NewResponse())
				if err != nil {
					errs <- err
					return
				}
				if got, _ := response.Body["client_id"].(string); got != clientID {
					errs <- fmt.Errorf("introspection for %s answered client_id %q", clientID, got)
					return
				}
			}
		}()
	}

	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("concurrent introspection: %v", err)
	}
}
