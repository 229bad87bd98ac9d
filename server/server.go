// Package server implements spec §4.H: the HTTP wire protocol for a bindle server, built on
// go-chi/chi/v5 and go-chi/cors, the routing stack contributed to this pack by the manifests under
// _examples/other_examples/manifests. It binds an internal/provider.Provider (which emits the
// internal/events notifications), internal/search.Index, and internal/auth policy together behind
// the routes the teacher's own client package (client/client.go) already expects.
package server

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/sirupsen/logrus"

	"github.com/bindlehq/bindle/internal/auth"
	"github.com/bindlehq/bindle/internal/berr"
	"github.com/bindlehq/bindle/internal/logging"
	"github.com/bindlehq/bindle/internal/provider"
	"github.com/bindlehq/bindle/internal/search"
	"github.com/bindlehq/bindle/types"
)

const (
	tomlMimeType = "application/toml"
)

// Server wires a Provider, search Index, and auth Policy behind the wire protocol.
type Server struct {
	provider      provider.Provider
	index         *search.Index
	authn         *auth.Authenticator
	policy        auth.Policy
	keyring       *types.Keyring
	log           *logrus.Logger
	standardMode  bool
	maxBodyBytes  int64
}

// Option configures a Server at construction time.
type Option func(*Server)

// WithAuthenticator installs request authentication; omit for an anonymous-only server.
func WithAuthenticator(a *auth.Authenticator) Option {
	return func(s *Server) { s.authn = a }
}

// WithPolicy installs the role-gating policy; the zero Policy permits everything.
func WithPolicy(p auth.Policy) Option {
	return func(s *Server) { s.policy = p }
}

// WithKeyring installs the server's host keyring, used to expose /bindle-keys (spec §4.J).
func WithKeyring(kr *types.Keyring) Option {
	return func(s *Server) { s.keyring = kr }
}

// WithStandardSearchMode toggles the optional fuzzy AND search mode (spec §4.E), off by default.
func WithStandardSearchMode(on bool) Option {
	return func(s *Server) { s.standardMode = on }
}

// WithMaxBodyBytes caps request bodies, rejecting larger ones with berr.ErrRequestTooLarge.
func WithMaxBodyBytes(n int64) Option {
	return func(s *Server) { s.maxBodyBytes = n }
}

// New builds a Server. p and idx must not be nil; log defaults to logging.New("info", false) if
// nil.
func New(p provider.Provider, idx *search.Index, log *logrus.Logger, opts ...Option) *Server {
	if log == nil {
		log = logging.New("info", false)
	}
	s := &Server{
		provider:     p,
		index:        idx,
		log:          log,
		authn:        auth.New(nil, true),
		maxBodyBytes: 50 << 20,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the fully assembled http.Handler for the server, mountable directly or wrapped
// in httptest.NewServer for tests (spec §8).
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(logging.Middleware(s.log))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodHead},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		AllowCredentials: false,
	}))
	r.Use(auth.Middleware(s.authn))

	r.Route("/_i", func(r chi.Router) {
		r.Post("/", s.handleCreateInvoice)
		r.Get("/*", s.handleGetOrParcel)
		r.Head("/*", s.handleGetOrParcel)
		r.Post("/*", s.handleCreateParcel)
		r.Delete("/*", s.handleYank)
	})

	r.Get("/_q", s.handleQuery)

	r.Route("/_r/missing", func(r chi.Router) {
		r.Get("/*", s.handleMissing)
	})

	r.Get("/bindle-keys", s.handleKeyring)

	return r
}

// splitParcelPath detects the "@sha256" parcel suffix on a greedily-captured bindle-ID path
// segment, per spec §4.H's path grammar (bindle names may themselves contain slashes, so the
// split must happen on the last "@" rather than the last "/").
func splitParcelPath(raw string) (bindleID, sha string, isParcel bool) {
	if i := strings.LastIndex(raw, "@"); i >= 0 {
		return raw[:i], raw[i+1:], true
	}
	return raw, "", false
}

func (s *Server) handleGetOrParcel(w http.ResponseWriter, r *http.Request) {
	raw := chi.URLParam(r, "*")
	bindleID, sha, isParcel := splitParcelPath(raw)
	if isParcel {
		s.getParcel(w, r, bindleID, sha)
		return
	}
	s.getInvoice(w, r, bindleID)
}

func (s *Server) getInvoice(w http.ResponseWriter, r *http.Request, bindleID string) {
	name, version := splitBindleID(bindleID)
	yankedOK := r.URL.Query().Get("yanked") == "true"

	inv, err := s.provider.GetInvoice(r.Context(), name, version, yankedOK)
	if err != nil {
		writeError(w, err)
		return
	}
	writeTOML(w, http.StatusOK, inv)
}

// bindleID is accepted but unused: the parcel store is content-addressed by sha alone, and the
// bindle ID only scopes the URL for readability (spec §4.C).
func (s *Server) getParcel(w http.ResponseWriter, r *http.Request, bindleID, sha string) {
	rc, err := s.provider.GetParcel(r.Context(), sha)
	if err != nil {
		writeError(w, err)
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", "application/octet-stream")
	w.WriteHeader(http.StatusOK)
	if r.Method == http.MethodHead {
		return
	}
	if _, err := copyBody(w, rc); err != nil {
		s.log.WithError(err).Warn("parcel stream interrupted")
	}
}

func (s *Server) handleCreateInvoice(w http.ResponseWriter, r *http.Request) {
	id := auth.FromContext(r.Context())
	if !s.policy.Allow(id, auth.OpCreateInvoice) {
		writeError(w, berr.ErrForbidden)
		return
	}

	inv, err := decodeInvoice(r, s.maxBodyBytes)
	if err != nil {
		writeError(w, err)
		return
	}

	resp, err := s.provider.CreateInvoice(r.Context(), inv)
	if err != nil {
		writeError(w, err)
		return
	}

	s.index.Put(resp.Invoice)

	// spec §4.H's two-response create contract: 201 if every parcel is already present, 202 if
	// the client still owes the server one or more parcels.
	status := http.StatusCreated
	if len(resp.Missing) > 0 {
		status = http.StatusAccepted
	}
	writeTOML(w, status, resp)
}

func (s *Server) handleCreateParcel(w http.ResponseWriter, r *http.Request) {
	id := auth.FromContext(r.Context())
	if !s.policy.Allow(id, auth.OpCreateParcel) {
		writeError(w, berr.ErrForbidden)
		return
	}

	raw := chi.URLParam(r, "*")
	bindleID, sha, isParcel := splitParcelPath(raw)
	if !isParcel {
		writeError(w, berr.ErrInvalidManifest)
		return
	}

	body := http.MaxBytesReader(w, r.Body, s.maxBodyBytes)
	if err := s.provider.CreateParcel(r.Context(), bindleID, sha, body); err != nil {
		// Storage wraps read failures as I/O errors; the size cap's error stays on body.
		var tooLarge *http.MaxBytesError
		if _, rerr := body.Read(make([]byte, 1)); errors.As(rerr, &tooLarge) {
			err = berr.ErrRequestTooLarge
		}
		writeError(w, err)
		return
	}

	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleYank(w http.ResponseWriter, r *http.Request) {
	id := auth.FromContext(r.Context())
	if !s.policy.Allow(id, auth.OpYankInvoice) {
		writeError(w, berr.ErrForbidden)
		return
	}

	raw := chi.URLParam(r, "*")
	bindleID, _, isParcel := splitParcelPath(raw)
	if isParcel {
		// Parcels themselves are immutable and cannot be yanked individually (spec §3.1).
		writeError(w, berr.ErrForbidden)
		return
	}

	name, version := splitBindleID(bindleID)
	reason := r.URL.Query().Get("reason")

	if err := s.provider.YankInvoice(r.Context(), name, version, reason, nil); err != nil {
		writeError(w, err)
		return
	}

	s.index.MarkYanked(name, version)
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	strict := true
	if v := q.Get("strict"); v != "" {
		strict, _ = strconv.ParseBool(v)
	}
	yanked := false
	if v := q.Get("yanked"); v != "" {
		yanked, _ = strconv.ParseBool(v)
	}
	var offset uint64
	if v := q.Get("o"); v != "" {
		offset, _ = strconv.ParseUint(v, 10, 64)
	}
	limit := uint8(50)
	if v := q.Get("l"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 8); err == nil {
			limit = uint8(n)
		}
	}

	matches, err := s.index.Search(search.Query{
		Term:          q.Get("q"),
		VersionRange:  q.Get("v"),
		Strict:        strict,
		IncludeYanked: yanked,
		Offset:        offset,
		Limit:         limit,
		StandardMode:  s.standardMode,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeTOML(w, http.StatusOK, matches)
}

func (s *Server) handleMissing(w http.ResponseWriter, r *http.Request) {
	bindleID := chi.URLParam(r, "*")
	name, version := splitBindleID(bindleID)

	missing, err := s.provider.MissingParcels(r.Context(), name, version)
	if err != nil {
		writeError(w, err)
		return
	}
	writeTOML(w, http.StatusOK, types.MissingParcelsResponse{Missing: missing})
}

func (s *Server) handleKeyring(w http.ResponseWriter, r *http.Request) {
	if s.keyring == nil {
		writeError(w, berr.ErrNotFound)
		return
	}
	writeTOML(w, http.StatusOK, s.keyring)
}
