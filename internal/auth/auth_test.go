package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testConfig = Config{Secret: "test-secret", Issuer: "suggestions.identity"}

func signToken(t *testing.T, claims jwt.MapClaims, secret string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func validClaims() jwt.MapClaims {
	return jwt.MapClaims{
		"sub":    "client-7",
		"iss":    testConfig.Issuer,
		"exp":    time.Now().Add(time.Hour).Unix(),
		"scopes": "suggestions:read activity:ingest",
	}
}

func TestParseValidToken(t *testing.T) {
	token := signToken(t, validClaims(), testConfig.Secret)

	claims, err := Parse(token, testConfig)
	require.NoError(t, err)
	assert.Equal(t, "client-7", claims.Subject)
	assert.True(t, claims.HasScope(ScopeSuggestionsRead))
	assert.True(t, claims.HasScope(ScopeActivityIngest))
	assert.False(t, claims.HasScope(ScopeSuggestionsAdmin))
}

func TestParseRejectsWrongSecret(t *testing.T) {
	token := signToken(t, validClaims(), "another-secret")

	_, err := Parse(token, testConfig)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestParseRejectsWrongIssuer(t *testing.T) {
	claims := validClaims()
	claims["iss"] = "someone-else"
	token := signToken(t, claims, testConfig.Secret)

	_, err := Parse(token, testConfig)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestParseRejectsExpiredToken(t *testing.T) {
	claims := validClaims()
	claims["exp"] = time.Now().Add(-time.Minute).Unix()
	token := signToken(t, claims, testConfig.Secret)

	_, err := Parse(token, testConfig)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestParseRejectsMissingSubject(t *testing.T) {
	claims := validClaims()
	delete(claims, "sub")
	token := signToken(t, claims, testConfig.Secret)

	_, err := Parse(token, testConfig)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestParseScopeList(t *testing.T) {
	claims := validClaims()
	claims["scopes"] = []string{"suggestions:admin"}
	token := signToken(t, claims, testConfig.Secret)

	parsed, err := Parse(token, testConfig)
	require.NoError(t, err)
	assert.True(t, parsed.HasScope(ScopeSuggestionsAdmin))
}

func TestMiddlewareAttachesClaims(t *testing.T) {
	token := signToken(t, validClaims(), testConfig.Secret)

	var got *Claims
	handler := NewMiddleware(testConfig).Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = FromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/v1/suggestions", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	require.NotNil(t, got)
	assert.Equal(t, "client-7", got.Subject)
}

func TestMiddlewareRejectsMissingHeader(t *testing.T) {
	handler := NewMiddleware(testConfig).Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not run")
	}))

	req := httptest.NewRequest(http.MethodGet, "/v1/suggestions", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestMiddlewareSkipsHealthAndMetrics(t *testing.T) {
	handler := NewMiddleware(testConfig).Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	for _, path := range []string{"/healthz", "/metrics"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code, path)
	}
}
