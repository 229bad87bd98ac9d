// Package auth implements spec §4.J: a pluggable identity layer (anonymous, HTTP Basic, bearer
// token) and a role-based Policy gating write operations, grounded on the middleware shape of
// Mindburn-Labs-helm's core/pkg/auth package and the teacher's own --unauthenticated integration
// test mode.
package auth

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/bindlehq/bindle/internal/berr"
)

// Identity is the authenticated (or anonymous) caller of a request.
type Identity struct {
	Name  string
	Roles []string
}

// IsAnonymous reports whether no credential was presented.
func (id Identity) IsAnonymous() bool {
	return id.Name == ""
}

// HasRole reports whether id carries role.
func (id Identity) HasRole(role string) bool {
	for _, r := range id.Roles {
		if r == role {
			return true
		}
	}
	return false
}

type ctxKey struct{}

// WithIdentity stores id on ctx.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// FromContext recovers the Identity stored by the middleware, defaulting to anonymous.
func FromContext(ctx context.Context) Identity {
	id, ok := ctx.Value(ctxKey{}).(Identity)
	if !ok {
		return Identity{}
	}
	return id
}

// Credential is one accepted basic-auth username/password pair or bearer token, mapped to the
// roles it carries.
type Credential struct {
	Username string // empty for a bearer-token credential
	Password string // empty for a bearer-token credential
	Token    string // empty for a basic-auth credential
	Roles    []string
}

// Authenticator validates the Authorization header of an incoming request.
type Authenticator struct {
	credentials    []Credential
	allowAnonymous bool
}

// New builds an Authenticator. When allowAnonymous is true, requests without credentials are let
// through as an anonymous Identity rather than rejected; this mirrors the teacher's
// `--unauthenticated` server mode used by its own integration tests.
func New(creds []Credential, allowAnonymous bool) *Authenticator {
	return &Authenticator{credentials: creds, allowAnonymous: allowAnonymous}
}

// Authenticate inspects r's Authorization header and returns the resolved Identity, or an error
// wrapping berr.ErrUnauthorized.
func (a *Authenticator) Authenticate(r *http.Request) (Identity, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		if a.allowAnonymous {
			return Identity{}, nil
		}
		return Identity{}, berr.ErrUnauthorized
	}

	if user, pass, ok := r.BasicAuth(); ok {
		for _, c := range a.credentials {
			if c.Username == "" {
				continue
			}
			if constantTimeEqual(c.Username, user) && constantTimeEqual(c.Password, pass) {
				return Identity{Name: user, Roles: c.Roles}, nil
			}
		}
		return Identity{}, berr.ErrUnauthorized
	}

	const bearerPrefix = "Bearer "
	if strings.HasPrefix(header, bearerPrefix) {
		token := strings.TrimPrefix(header, bearerPrefix)
		for _, c := range a.credentials {
			if c.Token == "" {
				continue
			}
			if constantTimeEqual(c.Token, token) {
				return Identity{Name: "bearer:" + token[:minInt(8, len(token))], Roles: c.Roles}, nil
			}
		}
		return Identity{}, berr.ErrUnauthorized
	}

	return Identity{}, berr.ErrUnauthorized
}

func constantTimeEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// Middleware authenticates every request and injects the resolved Identity into its context,
// failing closed (401) unless allowAnonymous was configured.
func Middleware(a *Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, err := a.Authenticate(r)
			if err != nil {
				w.Header().Set("WWW-Authenticate", `Basic realm="bindle"`)
				w.WriteHeader(berr.StatusFor(err))
				return
			}
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
		})
	}
}
