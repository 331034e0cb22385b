package opengrant

import (
	"time"

	"github.com/porthorian/opengrant/pkg/protocol/oauth"
)

// DefaultAccessTokenTTL applies to grants enabled without an explicit
// time-to-live.
const DefaultAccessTokenTTL = time.Hour

// Aliases for the protocol contracts so callers wiring a server rarely need
// to import the leaf package directly.
type (
	Request              = oauth.Request
	Response             = oauth.Response
	AuthorizationRequest = oauth.AuthorizationRequest
	AccessToken          = oauth.AccessToken
	RefreshToken         = oauth.RefreshToken
	Grant                = oauth.Grant
	ResponseType         = oauth.ResponseType
)

// NewResponse returns an empty protocol response carrier.
func NewResponse() *Response {
	return oauth.NewResponse()
}
