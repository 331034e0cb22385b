// Package httptransport adapts net/http requests onto the protocol
// contracts served by the authorization server core.
package httptransport

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	oerrors "github.com/porthorian/opengrant/pkg/errors"
	"github.com/porthorian/opengrant/pkg/protocol/oauth"
)

// AuthorizationServer is the subset of the core orchestrator the transport
// needs.
type AuthorizationServer interface {
	ValidateAuthorizationRequest(ctx context.Context, request *oauth.Request) (*oauth.AuthorizationRequest, error)
	CompleteAuthorizationRequest(ctx context.Context, authRequest *oauth.AuthorizationRequest, response *oauth.Response) (*oauth.Response, error)
	RespondToAccessTokenRequest(ctx context.Context, request *oauth.Request, response *oauth.Response) (*oauth.Response, error)
	ValidateIntrospectionRequest(request *oauth.Request) error
	RespondToIntrospectionRequest(ctx context.Context, request *oauth.Request, response *oauth.Response) (*oauth.Response, error)
}

// DecodeRequest maps a form-encoded HTTP request onto the protocol request
// carrier. Client credentials are taken from HTTP basic auth first, falling
// back to the client_id/client_secret body parameters.
func DecodeRequest(r *http.Request) (*oauth.Request, error) {
	if err := r.ParseForm(); err != nil {
		return nil, oerrors.InvalidRequest("the request body could not be parsed")
	}

	request := &oauth.Request{
		GrantType: r.PostFormValue("grant_type"),
		Params:    map[string]string{},
	}

	for name, values := range r.Form {
		if len(values) > 0 {
			request.Params[name] = values[0]
		}
	}

	if id, secret, ok := r.BasicAuth(); ok {
		request.ClientID = id
		request.ClientSecret = secret
	} else {
		request.ClientID = request.Params["client_id"]
		request.ClientSecret = request.Params["client_secret"]
	}

	return request, nil
}

// TokenHandler serves the token endpoint.
func TokenHandler(server AuthorizationServer) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.Header().Set("Allow", http.MethodPost)
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}

		request, err := DecodeRequest(r)
		if err != nil {
			WriteError(w, err)
			return
		}

		response, err := server.RespondToAccessTokenRequest(r.Context(), request, oauth.NewResponse())
		if err != nil {
			WriteError(w, err)
			return
		}

		WriteResponse(w, response)
	})
}

// IntrospectionHandler serves the RFC 7662 introspection endpoint.
func IntrospectionHandler(server AuthorizationServer) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.Header().Set("Allow", http.MethodPost)
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}

		request, err := DecodeRequest(r)
		if err != nil {
			WriteError(w, err)
			return
		}

		if err := server.ValidateIntrospectionRequest(request); err != nil {
			WriteError(w, err)
			return
		}

		response, err := server.RespondToIntrospectionRequest(r.Context(), request, oauth.NewResponse())
		if err != nil {
			WriteError(w, err)
			return
		}

		WriteResponse(w, response)
	})
}

// AuthorizeHandler serves the authorization endpoint. Validation and
// completion run back to back; interactive consent belongs to the caller,
// which can wire its own handler around ValidateAuthorizationRequest.
func AuthorizeHandler(server AuthorizationServer) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		request, err := DecodeRequest(r)
		if err != nil {
			WriteError(w, err)
			return
		}

		authRequest, err := server.ValidateAuthorizationRequest(r.Context(), request)
		if err != nil {
			WriteError(w, err)
			return
		}
		authRequest.Approved = true

		response, err := server.CompleteAuthorizationRequest(r.Context(), authRequest, oauth.NewResponse())
		if err != nil {
			WriteError(w, err)
			return
		}

		WriteResponse(w, response)
	})
}

// WriteResponse flushes the protocol response carrier onto the wire.
func WriteResponse(w http.ResponseWriter, response *oauth.Response) {
	for name, value := range response.Header {
		w.Header().Set(name, value)
	}
	w.Header().Set("Content-Type", "application/json;charset=UTF-8")

	status := response.Status
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)

	_ = json.NewEncoder(w).Encode(response.Body)
}

// WriteError renders an RFC 6749 error body with the status carried by the
// error code. The protocol error is looked up through the wrap chain;
// unclassified errors surface as server_error.
func WriteError(w http.ResponseWriter, err error) {
	var oerr *oerrors.Error
	if !errors.As(err, &oerr) {
		oerr = oerrors.ServerError(err)
	}

	w.Header().Set("Content-Type", "application/json;charset=UTF-8")
	if oerr.Code == oerrors.CodeInvalidClient {
		w.Header().Set("WWW-Authenticate", `Basic realm="oauth"`)
	}
	w.WriteHeader(oerr.Status)

	body := map[string]any{"error": string(oerr.Code)}
	if hint := strings.TrimSpace(oerr.Hint); hint != "" {
		body["error_description"] = hint
	}
	_ = json.NewEncoder(w).Encode(body)
}
