// Package bearer holds the default RFC 6750 bearer-token response type and
// the encrypted refresh-token payload it emits.
package bearer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	jwtv5 "github.com/golang-jwt/jwt/v5"

	oerrors "github.com/porthorian/opengrant/pkg/errors"
	"github.com/porthorian/opengrant/pkg/keys"
	"github.com/porthorian/opengrant/pkg/protocol/oauth"
)

const TokenType = "Bearer"

var (
	ErrNoAccessToken = errors.New("bearer: no access token to render")
	ErrNoSigningKey  = errors.New("bearer: no signing key configured")
)

// TokenResponse renders a signed JWT access token plus an optional encrypted
// refresh-token blob. Key material is replaceable at any time via the
// setters; the orchestrator refreshes it on every retrieval.
type TokenResponse struct {
	issuer string

	key    *keys.SigningKey
	secret []byte

	accessToken    oauth.AccessToken
	hasAccessToken bool
	refreshToken   *oauth.RefreshToken
}

var _ oauth.ResponseType = (*TokenResponse)(nil)

func NewTokenResponse(issuer string) *TokenResponse {
	return &TokenResponse{issuer: issuer}
}

func (t *TokenResponse) SetSigningKey(key *keys.SigningKey) {
	t.key = key
}

func (t *TokenResponse) SetEncryptionSecret(secret []byte) {
	t.secret = append([]byte(nil), secret...)
}

func (t *TokenResponse) SetAccessToken(token oauth.AccessToken) {
	t.accessToken = token
	t.hasAccessToken = true
}

func (t *TokenResponse) SetRefreshToken(token *oauth.RefreshToken) {
	t.refreshToken = token
}

// SigningKey exposes the currently applied key, mostly for tests asserting
// the refresh-on-retrieval contract.
func (t *TokenResponse) SigningKey() *keys.SigningKey {
	return t.key
}

// EncryptionSecret exposes the currently applied secret.
func (t *TokenResponse) EncryptionSecret() []byte {
	return append([]byte(nil), t.secret...)
}

// CloneForRequest copies the issuer and key material into a fresh instance
// with no token state. The dispatcher clones before every request so
// concurrent requests never share accessToken/refreshToken fields.
func (t *TokenResponse) CloneForRequest() oauth.ResponseType {
	return &TokenResponse{
		issuer: t.issuer,
		key:    t.key,
		secret: t.secret,
	}
}

func (t *TokenResponse) Render(ctx context.Context, response *oauth.Response) error {
	if !t.hasAccessToken {
		return ErrNoAccessToken
	}
	if t.key == nil {
		return ErrNoSigningKey
	}

	signed, err := t.signAccessToken()
	if err != nil {
		return fmt.Errorf("bearer: sign access token: %w", err)
	}

	if response.Header == nil {
		response.Header = map[string]string{}
	}
	if response.Body == nil {
		response.Body = map[string]any{}
	}

	response.Status = http.StatusOK
	response.Header["Cache-Control"] = "no-store"
	response.Header["Pragma"] = "no-cache"

	response.Body["token_type"] = TokenType
	response.Body["access_token"] = signed
	response.Body["expires_in"] = int64(time.Until(t.accessToken.ExpiresAt).Round(time.Second).Seconds())

	if t.refreshToken != nil {
		blob, err := t.encryptRefreshToken()
		if err != nil {
			return fmt.Errorf("bearer: encrypt refresh token: %w", err)
		}
		response.Body["refresh_token"] = blob
	}

	return nil
}

func (t *TokenResponse) signAccessToken() (string, error) {
	now := time.Now().UTC()

	claims := jwtv5.MapClaims{
		"jti": t.accessToken.ID,
		"iss": t.issuer,
		"sub": t.accessToken.Subject,
		"aud": t.accessToken.ClientID,
		"iat": now.Unix(),
		"nbf": now.Unix(),
		"exp": t.accessToken.ExpiresAt.Unix(),
	}
	if len(t.accessToken.Scopes) > 0 {
		claims["scope"] = strings.Join(t.accessToken.Scopes, " ")
	}

	token := jwtv5.NewWithClaims(t.key.Method(), claims)
	token.Header["typ"] = "JWT"

	return token.SignedString(t.key.Signer())
}

// RefreshPayload is the plaintext structure inside the encrypted refresh
// blob. Persisted/transmitted refresh tokens stay opaque and tamper-evident.
type RefreshPayload struct {
	RefreshTokenID string    `json:"refresh_token_id"`
	AccessTokenID  string    `json:"access_token_id"`
	ClientID       string    `json:"client_id"`
	Subject        string    `json:"subject"`
	Scopes         []string  `json:"scopes"`
	ExpiresAt      time.Time `json:"expires_at"`
}

func (t *TokenResponse) encryptRefreshToken() (string, error) {
	payload, err := json.Marshal(RefreshPayload{
		RefreshTokenID: t.refreshToken.ID,
		AccessTokenID:  t.refreshToken.AccessTokenID,
		ClientID:       t.refreshToken.ClientID,
		Subject:        t.refreshToken.Subject,
		Scopes:         t.refreshToken.Scopes,
		ExpiresAt:      t.refreshToken.ExpiresAt,
	})
	if err != nil {
		return "", err
	}

	return keys.Encrypt(t.secret, payload)
}

// DecodeRefreshToken opens an encrypted refresh blob. Undecryptable or
// malformed blobs classify as invalid_grant, never as a server error, so
// redemption failures leak no key-validity signal.
func DecodeRefreshToken(secret []byte, encoded string) (RefreshPayload, error) {
	plaintext, err := keys.Decrypt(secret, encoded)
	if err != nil {
		if errors.Is(err, keys.ErrNoSecret) {
			return RefreshPayload{}, oerrors.ServerError(err)
		}
		return RefreshPayload{}, oerrors.Wrap(oerrors.CodeInvalidGrant, "the refresh token cannot be decrypted", err)
	}

	var payload RefreshPayload
	if err := json.Unmarshal(plaintext, &payload); err != nil {
		return RefreshPayload{}, oerrors.Wrap(oerrors.CodeInvalidGrant, "the refresh token payload is malformed", err)
	}

	return payload, nil
}
