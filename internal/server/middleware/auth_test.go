package middleware

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testTokenValidator is a test implementation of TokenValidator for unit tests.
type testTokenValidator struct {
	validTokens map[string]string
}

func (v *testTokenValidator) ValidateToken(tokenString string) (ClientGetter, error) {
	client, ok := v.validTokens[tokenString]
	if !ok {
		return nil, fmt.Errorf("invalid token")
	}
	return testClaims(client), nil
}

type testClaims string

func (c testClaims) GetClient() string {
	return string(c)
}

func newValidator() *testTokenValidator {
	return &testTokenValidator{validTokens: map[string]string{"valid-token": "cli"}}
}

func serve(t *testing.T, v TokenValidator, req *http.Request) (*httptest.ResponseRecorder, bool, string) {
	t.Helper()
	called := false
	var client string
	handler := AuthMiddleware(v)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		client, _ = GetClient(r)
		w.WriteHeader(http.StatusOK)
	}))
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	return w, called, client
}

func TestAuthMiddleware_ValidToken(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/review", nil)
	req.Header.Set("Authorization", "bearer valid-token")

	w, called, client := serve(t, newValidator(), req)
	assert.True(t, called)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "cli", client)
}

func TestAuthMiddleware_QueryToken(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/runs/stream?access_token=valid-token", nil)

	w, called, _ := serve(t, newValidator(), req)
	assert.True(t, called)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAuthMiddleware_Rejects(t *testing.T) {
	tests := []struct {
		name       string
		authHeader string
		target     string
	}{
		{name: "missing header", target: "/review"},
		{name: "wrong scheme", authHeader: "Basic valid-token", target: "/review"},
		{name: "no token", authHeader: "Bearer", target: "/review"},
		{name: "extra parts", authHeader: "Bearer valid-token extra", target: "/review"},
		{name: "unknown token", authHeader: "Bearer nope", target: "/review"},
		{name: "header wins over query", authHeader: "Bearer nope", target: "/review?access_token=valid-token"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.target, nil)
			if tt.authHeader != "" {
				req.Header.Set("Authorization", tt.authHeader)
			}

			w, called, _ := serve(t, newValidator(), req)
			assert.False(t, called)
			assert.Equal(t, http.StatusUnauthorized, w.Code)
			assert.Contains(t, w.Body.String(), "Unauthorized")
			assert.Contains(t, w.Header().Get("WWW-Authenticate"), "Bearer")
		})
	}
}

func TestAuthMiddleware_Disabled(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/review", nil)

	w, called, client := serve(t, nil, req)
	assert.True(t, called)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, client)
}

func TestGetClient(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	_, err := GetClient(req)
	assert.Error(t, err)

	req = req.WithContext(context.WithValue(req.Context(), ClientKey(), 42))
	_, err = GetClient(req)
	assert.Error(t, err, "wrong type in context")

	req = req.WithContext(context.WithValue(req.Context(), ClientKey(), "cli"))
	client, err := GetClient(req)
	require.NoError(t, err)
	assert.Equal(t, "cli", client)
}
