package middleware

import (
	"crypto/rand"
	"crypto/rsa"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jwt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ocx/elevate/internal/apierr"
	"github.com/ocx/elevate/internal/model"
)

func identityHandler(devMode bool) (http.Handler, *model.UserID, *error) {
	var seen model.UserID
	var failed error
	mw := Identity(devMode, func(w http.ResponseWriter, err error) {
		failed = err
		w.WriteHeader(apierr.HTTPStatus(err))
	})
	h := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = UserFromContext(r.Context())
	}))
	return h, &seen, &failed
}

func assertionFor(t *testing.T, email, subject string) string {
	t.Helper()
	raw, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	key, err := jwk.FromRaw(raw)
	require.NoError(t, err)

	tok, err := jwt.NewBuilder().
		Subject(subject).
		Claim("email", email).
		Build()
	require.NoError(t, err)
	signed, err := jwt.Sign(tok, jwt.WithKey(jwa.RS256, key))
	require.NoError(t, err)
	return string(signed)
}

func TestIdentity_FromAssertion(t *testing.T) {
	h, seen, failed := identityHandler(false)

	req := httptest.NewRequest("GET", "/api/projects", nil)
	req.Header.Set("x-goog-iap-jwt-assertion", assertionFor(t, "alice@example.com", "accounts/1"))
	h.ServeHTTP(httptest.NewRecorder(), req)

	require.NoError(t, *failed)
	assert.Equal(t, "alice@example.com", seen.Email)
	assert.Equal(t, "accounts/1", seen.ID)
}

func TestIdentity_MissingAssertion(t *testing.T) {
	h, _, failed := identityHandler(false)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/api/projects", nil))

	require.Error(t, *failed)
	assert.Equal(t, apierr.NotAuthenticated, apierr.KindOf(*failed))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestIdentity_DebugHeaderOnlyInDevMode(t *testing.T) {
	h, seen, failed := identityHandler(true)
	req := httptest.NewRequest("GET", "/api/projects", nil)
	req.Header.Set("X-Debug-Principal", "dev@example.com")
	h.ServeHTTP(httptest.NewRecorder(), req)
	require.NoError(t, *failed)
	assert.Equal(t, "dev@example.com", seen.Email)

	// Outside dev mode the header is ignored.
	h, _, failed = identityHandler(false)
	req = httptest.NewRequest("GET", "/api/projects", nil)
	req.Header.Set("X-Debug-Principal", "dev@example.com")
	h.ServeHTTP(httptest.NewRecorder(), req)
	assert.Error(t, *failed)
}

func TestIdentity_GarbageAssertion(t *testing.T) {
	h, _, failed := identityHandler(false)
	req := httptest.NewRequest("GET", "/api/projects", nil)
	req.Header.Set("x-goog-iap-jwt-assertion", "not-a-jwt")
	h.ServeHTTP(httptest.NewRecorder(), req)
	require.Error(t, *failed)
	assert.Equal(t, apierr.NotAuthenticated, apierr.KindOf(*failed))
}
