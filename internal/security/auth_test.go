package security

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestProvider(config *Config) *DefaultAuthProvider {
	return NewDefaultAuthProvider(config, quietLogger())
}

func TestValidateAPIKey(t *testing.T) {
	provider := newTestProvider(&Config{
		APIKeys: []string{"sk-inferswitch-test-key"},
	})
	ctx := context.Background()

	info, err := provider.ValidateAPIKey(ctx, "sk-inferswitch-test-key")
	require.NoError(t, err)
	assert.Equal(t, "user_sk-infer", info.UserID)
	assert.Equal(t, []string{"messages:create"}, info.Permissions)
	assert.Equal(t, "api_key", info.Metadata["auth_type"])

	_, err = provider.ValidateAPIKey(ctx, "sk-wrong-key")
	assert.Error(t, err)

	_, err = provider.ValidateAPIKey(ctx, "")
	assert.Error(t, err)
}

func TestJWTRoundTrip(t *testing.T) {
	provider := newTestProvider(&Config{
		JWTSecret: "test-secret",
		JWTExpiry: time.Hour,
	})

	token, err := provider.GenerateJWT("user_alice", map[string]interface{}{
		"permissions": []string{"messages:create"},
		"team":        "platform",
	})
	require.NoError(t, err)

	claims, err := provider.ValidateJWT(token)
	require.NoError(t, err)
	assert.Equal(t, "user_alice", claims.UserID)
	assert.Equal(t, "inferswitch", claims.Issuer)
	assert.Equal(t, []string{"messages:create"}, claims.Permissions)
	assert.Equal(t, "platform", claims.Metadata["team"])
	assert.WithinDuration(t, time.Now().Add(time.Hour), claims.ExpiresAt.Time, time.Minute)
}

func TestValidateJWT_Rejections(t *testing.T) {
	provider := newTestProvider(&Config{JWTSecret: "test-secret"})

	_, err := provider.ValidateJWT("not-a-token")
	assert.Error(t, err)

	// A token minted under another secret fails signature checking.
	other := newTestProvider(&Config{JWTSecret: "other-secret"})
	token, err := other.GenerateJWT("user_alice", nil)
	require.NoError(t, err)
	_, err = provider.ValidateJWT(token)
	assert.Error(t, err)

	// Without a configured secret, JWT auth is off entirely.
	unconfigured := newTestProvider(&Config{})
	_, err = unconfigured.ValidateJWT(token)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not configured")
}

func TestAuthenticate(t *testing.T) {
	provider := newTestProvider(&Config{
		APIKeys:   []string{"sk-inferswitch-test-key"},
		JWTSecret: "test-secret",
	})
	ctx := context.Background()

	// A static API key authenticates.
	info, err := provider.Authenticate(ctx, "sk-inferswitch-test-key")
	require.NoError(t, err)
	assert.Equal(t, "api_key", info.Metadata["auth_type"])

	// A gateway-issued JWT authenticates and carries its expiry.
	token, err := provider.GenerateJWT("user_alice", map[string]interface{}{
		"permissions": []string{"messages:create"},
	})
	require.NoError(t, err)
	info, err = provider.Authenticate(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, "user_alice", info.UserID)
	assert.Equal(t, []string{"messages:create"}, info.Permissions)
	require.NotNil(t, info.ExpiresAt)

	// Anything else is rejected.
	_, err = provider.Authenticate(ctx, "garbage")
	assert.Error(t, err)
}

func TestAuthMiddleware(t *testing.T) {
	provider := newTestProvider(&Config{
		APIKeys:     []string{"sk-inferswitch-test-key"},
		RequireAuth: true,
	})

	var seen *AuthInfo
	handler := provider.AuthMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = GetAuthInfo(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	// No credentials: rejected with the canonical error body.
	req := httptest.NewRequest("POST", "/v1/messages", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Body.String(), `"type":"authentication_error"`)

	// Bad credentials: same shape, different message.
	req = httptest.NewRequest("POST", "/v1/messages", nil)
	req.Header.Set("X-API-Key", "sk-wrong")
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), `"type":"authentication_error"`)

	// A valid x-api-key admits the request and the handler sees the
	// resolved identity.
	req = httptest.NewRequest("POST", "/v1/messages", nil)
	req.Header.Set("X-API-Key", "sk-inferswitch-test-key")
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	require.NotNil(t, seen)
	assert.Equal(t, "user_sk-infer", seen.UserID)
	assert.Equal(t, []string{"messages:create"}, seen.Permissions)
}

func TestAuthMiddleware_ExemptPaths(t *testing.T) {
	provider := newTestProvider(&Config{
		APIKeys:     []string{"sk-inferswitch-test-key"},
		RequireAuth: true,
	})
	handler := provider.AuthMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	// Health and docs stay reachable without credentials so liveness
	// checks and browsers work against a locked-down gateway.
	for _, path := range []string{"/health", "/docs", "/docs/openapi.json"} {
		req := httptest.NewRequest("GET", path, nil)
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		assert.Equal(t, http.StatusOK, w.Code, path)
	}

	// API routes are not exempt.
	req := httptest.NewRequest("GET", "/v1/backends", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAuthMiddleware_AuthNotRequired(t *testing.T) {
	provider := newTestProvider(&Config{
		APIKeys:     []string{"sk-inferswitch-test-key"},
		RequireAuth: false,
	})
	handler := provider.AuthMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest("POST", "/v1/messages", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestExtractToken(t *testing.T) {
	req := httptest.NewRequest("POST", "/v1/messages", nil)
	assert.Empty(t, extractToken(req))

	req.Header.Set("Authorization", "Bearer jwt-token")
	assert.Equal(t, "jwt-token", extractToken(req))

	// x-api-key wins when both headers are present.
	req.Header.Set("X-API-Key", "sk-key")
	assert.Equal(t, "sk-key", extractToken(req))

	req.Header.Del("X-API-Key")
	req.Header.Set("Authorization", "Basic dXNlcjpwYXNz")
	assert.Empty(t, extractToken(req))
}

func TestGetAuthInfo(t *testing.T) {
	_, ok := GetAuthInfo(context.Background())
	assert.False(t, ok)

	info := &AuthInfo{UserID: "user_alice"}
	ctx := context.WithValue(context.Background(), contextKeyAuthInfo, info)
	got, ok := GetAuthInfo(ctx)
	require.True(t, ok)
	assert.Equal(t, "user_alice", got.UserID)
}

func TestMaskAPIKey(t *testing.T) {
	assert.Equal(t, "sk-i****-key", maskAPIKey("sk-inferswitch-test-key"))
	assert.Equal(t, "****", maskAPIKey("short"))
}
