package errors

import (
	stderrors "errors"
	"net/http"
	"testing"
)

func TestStatusForCode(t *testing.T) {
	cases := []struct {
		code   Code
		status int
	}{
		{CodeUnsupportedGrantType, http.StatusBadRequest},
		{CodeInvalidRequest, http.StatusBadRequest},
		{CodeInvalidClient, http.StatusUnauthorized},
		{CodeInvalidGrant, http.StatusBadRequest},
		{CodeInvalidScope, http.StatusBadRequest},
		{CodeServerError, http.StatusInternalServerError},
		{Code("bogus"), http.StatusInternalServerError},
	}

	for _, tc := range cases {
		if got := StatusForCode(tc.code); got != tc.status {
			t.Fatalf("StatusForCode(%s) = %d, expected %d", tc.code, got, tc.status)
		}
	}
}

func TestWrapPreservesCause(t *testing.T) {
	cause := stderrors.New("decryption failed")
	err := Wrap(CodeInvalidGrant, "refresh token cannot be decrypted", cause)

	if !IsCode(err, CodeInvalidGrant) {
		t.Fatalf("expected invalid_grant code, got %v", err)
	}
	if !stderrors.Is(err, cause) {
		t.Fatal("expected wrapped cause to survive errors.Is")
	}
	if err.Status != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", err.Status)
	}
}

func TestStatusOf(t *testing.T) {
	if got := StatusOf(InvalidClient("unknown client")); got != http.StatusUnauthorized {
		t.Fatalf("expected 401 for invalid_client, got %d", got)
	}
	if got := StatusOf(stderrors.New("boom")); got != http.StatusInternalServerError {
		t.Fatalf("expected 500 for untyped error, got %d", got)
	}
}

func TestErrorString(t *testing.T) {
	err := UnsupportedGrantType()
	if err.Error() == "" {
		t.Fatal("expected non-empty error string")
	}
	if !IsCode(err, CodeUnsupportedGrantType) {
		t.Fatalf("expected unsupported_grant_type, got %v", err)
	}
}
