package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bindlehq/bindle/internal/berr"
)

func TestAuthenticateAnonymousAllowedByDefault(t *testing.T) {
	a := New(nil, true)
	req := httptest.NewRequest(http.MethodGet, "/_i/foo/1.0.0", nil)

	id, err := a.Authenticate(req)
	require.NoError(t, err)
	assert.True(t, id.IsAnonymous())
}

func TestAuthenticateAnonymousRejectedWhenNotAllowed(t *testing.T) {
	a := New(nil, false)
	req := httptest.NewRequest(http.MethodGet, "/_i/foo/1.0.0", nil)

	_, err := a.Authenticate(req)
	assert.ErrorIs(t, err, berr.ErrUnauthorized)
}

func TestAuthenticateBasicAuthSuccess(t *testing.T) {
	a := New([]Credential{{Username: "alice", Password: "s3cret", Roles: []string{"publisher"}}}, false)

	req := httptest.NewRequest(http.MethodPost, "/_i", nil)
	req.SetBasicAuth("alice", "s3cret")

	id, err := a.Authenticate(req)
	require.NoError(t, err)
	assert.Equal(t, "alice", id.Name)
	assert.True(t, id.HasRole("publisher"))
}

func TestAuthenticateBasicAuthWrongPassword(t *testing.T) {
	a := New([]Credential{{Username: "alice", Password: "s3cret"}}, false)

	req := httptest.NewRequest(http.MethodPost, "/_i", nil)
	req.SetBasicAuth("alice", "wrong")

	_, err := a.Authenticate(req)
	assert.ErrorIs(t, err, berr.ErrUnauthorized)
}

func TestAuthenticateBearerToken(t *testing.T) {
	a := New([]Credential{{Token: "abc123", Roles: []string{"publisher"}}}, false)

	req := httptest.NewRequest(http.MethodPost, "/_i", nil)
	req.Header.Set("Authorization", "Bearer abc123")

	id, err := a.Authenticate(req)
	require.NoError(t, err)
	assert.True(t, id.HasRole("publisher"))
}

func TestPolicyGatesWriteOperationsOnly(t *testing.T) {
	p := Policy{RequiredRole: "publisher"}

	anon := Identity{}
	assert.True(t, p.Allow(anon, OpReadInvoice))
	assert.False(t, p.Allow(anon, OpCreateInvoice))

	publisher := Identity{Name: "alice", Roles: []string{"publisher"}}
	assert.True(t, p.Allow(publisher, OpCreateInvoice))
}

func TestZeroPolicyPermitsEverything(t *testing.T) {
	var p Policy
	assert.True(t, p.Allow(Identity{}, OpCreateInvoice))
	assert.True(t, p.Allow(Identity{}, OpYankInvoice))
}

func TestMiddlewareInjectsIdentity(t *testing.T) {
	a := New(nil, true)
	var observed Identity
	h := Middleware(a)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		observed = FromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/_i/foo/1.0.0", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, observed.IsAnonymous())
}
