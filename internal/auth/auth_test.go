package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rushboard/rushboard/internal/shared"
)

func TestVerifierRoundTrip(t *testing.T) {
	v := NewVerifier("secret", "idp")
	id := uuid.New()

	token, err := v.Issue(Principal{ID: id, Role: RoleAdmin}, time.Hour)
	require.NoError(t, err)

	p, err := v.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, id, p.ID)
	assert.Equal(t, RoleAdmin, p.Role)
	assert.True(t, p.IsAdmin())
}

func TestVerifierRejectsWrongSecretAndExpired(t *testing.T) {
	issuer := NewVerifier("other", "")
	v := NewVerifier("secret", "")

	token, err := issuer.Issue(Principal{ID: uuid.New(), Role: RoleVoter}, time.Hour)
	require.NoError(t, err)
	_, err = v.Verify(token)
	assert.ErrorIs(t, err, shared.ErrUnauthenticated)

	expired, err := v.Issue(Principal{ID: uuid.New(), Role: RoleVoter}, -time.Hour)
	require.NoError(t, err)
	_, err = v.Verify(expired)
	assert.ErrorIs(t, err, shared.ErrUnauthenticated)
}

func TestVerifierNeverGrantsSystemRole(t *testing.T) {
	v := NewVerifier("secret", "")
	claims := Claims{
		Role: "system",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   uuid.NewString(),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("secret"))
	require.NoError(t, err)

	p, err := v.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, RoleVoter, p.Role)
}

func TestGatePredicates(t *testing.T) {
	assert.ErrorIs(t, RequireAuthenticated(nil), shared.ErrUnauthenticated)
	assert.ErrorIs(t, RequireAdmin(nil), shared.ErrUnauthenticated)

	voter := &Principal{ID: uuid.New(), Role: RoleVoter}
	assert.NoError(t, RequireAuthenticated(voter))
	assert.ErrorIs(t, RequireAdmin(voter), shared.ErrForbidden)

	admin := &Principal{ID: uuid.New(), Role: RoleAdmin}
	assert.NoError(t, RequireAdmin(admin))
	assert.NoError(t, RequireAdmin(SystemPrincipal()))
}

func TestMiddlewareAuthenticate(t *testing.T) {
	v := NewVerifier("secret", "")
	mw := Middleware{Verifier: v}
	var seen *Principal
	handler := mw.Authenticate(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = PrincipalFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/rounds", nil))
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	id := uuid.New()
	token, err := v.Issue(Principal{ID: id, Role: RoleVoter}, time.Minute)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodGet, "/rounds", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusNoContent, rr.Code)
	require.NotNil(t, seen)
	assert.Equal(t, id, seen.ID)
}
