package middleware

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aegis/pkg/requestcontext"
	"aegis/pkg/secrets"
)

const testSigningKey = "test-signing-key"

func signToken(t *testing.T, subject, role string, expiresIn time.Duration) string {
	t.Helper()
	claims := ActorClaims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(expiresIn)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSigningKey))
	require.NoError(t, err)
	return token
}

// echoActor records the actor identity the middleware stored in the context.
func echoActor(gotID, gotRole *string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*gotID = requestcontext.ActorID(r.Context())
		*gotRole = requestcontext.ActorRole(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})
}

func newAuthChain(t *testing.T, serviceKey *ServiceKey, gotID, gotRole *string) http.Handler {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	validator := NewTokenValidator(testSigningKey)
	return RequireAuth(validator, serviceKey, log)(echoActor(gotID, gotRole))
}

func TestRequireAuthAcceptsValidBearerToken(t *testing.T) {
	var gotID, gotRole string
	h := newAuthChain(t, nil, &gotID, &gotRole)

	req := httptest.NewRequest(http.MethodGet, "/v1/proposals/p-1", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, "alice", "analyst", time.Hour))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "alice", gotID)
	assert.Equal(t, "analyst", gotRole)
}

func TestRequireAuthRejectsMissingToken(t *testing.T) {
	var gotID, gotRole string
	h := newAuthChain(t, nil, &gotID, &gotRole)

	req := httptest.NewRequest(http.MethodGet, "/v1/proposals/p-1", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Empty(t, gotID)
}

func TestRequireAuthRejectsExpiredToken(t *testing.T) {
	var gotID, gotRole string
	h := newAuthChain(t, nil, &gotID, &gotRole)

	req := httptest.NewRequest(http.MethodGet, "/v1/proposals/p-1", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, "alice", "analyst", -time.Minute))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRequireAuthRejectsTokenWithoutRole(t *testing.T) {
	var gotID, gotRole string
	h := newAuthChain(t, nil, &gotID, &gotRole)

	req := httptest.NewRequest(http.MethodGet, "/v1/proposals/p-1", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, "alice", "", time.Hour))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestServiceKeyAuthenticatesScoringEngine(t *testing.T) {
	secret, err := secrets.Generate()
	require.NoError(t, err)
	hash, err := secrets.Hash(secret)
	require.NoError(t, err)

	var gotID, gotRole string
	h := newAuthChain(t, NewServiceKey(hash, "scoring-engine"), &gotID, &gotRole)

	req := httptest.NewRequest(http.MethodPost, "/v1/enforce", nil)
	req.Header.Set("X-API-Key", secret)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "scoring-engine", gotID)
	assert.Equal(t, "system", gotRole)
}

func TestServiceKeyRejectsWrongSecret(t *testing.T) {
	hash, err := secrets.Hash("right-secret")
	require.NoError(t, err)

	var gotID, gotRole string
	h := newAuthChain(t, NewServiceKey(hash, "scoring-engine"), &gotID, &gotRole)

	req := httptest.NewRequest(http.MethodPost, "/v1/enforce", nil)
	req.Header.Set("X-API-Key", "wrong-secret")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Empty(t, gotID)
}

func TestServiceKeyDisabledFallsBackToBearer(t *testing.T) {
	require.Nil(t, NewServiceKey("", "scoring-engine"))

	var gotID, gotRole string
	h := newAuthChain(t, nil, &gotID, &gotRole)

	// With no service key configured an X-API-Key header is ignored and the
	// request must still carry a bearer token.
	req := httptest.NewRequest(http.MethodPost, "/v1/enforce", nil)
	req.Header.Set("X-API-Key", "anything")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRequireRoleGatesByActorRole(t *testing.T) {
	var hit bool
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hit = true
		w.WriteHeader(http.StatusNoContent)
	})
	h := RequireRole("admin")(next)

	req := httptest.NewRequest(http.MethodPut, "/v1/safemode", nil)
	req = req.WithContext(requestcontext.WithActorRole(req.Context(), "analyst"))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.False(t, hit)

	req = httptest.NewRequest(http.MethodPut, "/v1/safemode", nil)
	req = req.WithContext(requestcontext.WithActorRole(req.Context(), "admin"))
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.True(t, hit)
}
