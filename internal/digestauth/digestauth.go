// Package digestauth implements HTTP Digest authentication (RFC 7616) for
// the shared-table wire protocol: a server-side middleware that challenges
// unauthenticated requests, and a client-side http.RoundTripper that
// answers the challenge using credentials resolved through
// internal/credential.
//
// spec.md §1 names "a digest-authentication handler" as an external
// collaborator specified only through the interface the core consumes; no
// example repo in the reference pack implements Digest auth, so this seam
// is built directly on net/http + crypto/md5 from the standard library.
package digestauth

import (
	"bytes"
	"crypto/md5"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/shtable/stbsync/internal/credential"
)

func h(s string) string {
	sum := md5.Sum([]byte(s))
	return fmt.Sprintf("%x", sum)
}

// Lookup resolves the password for a username, or ok=false if unknown.
type Lookup func(username string) (password string, ok bool)

// Server issues Digest challenges and validates responses for one realm.
type Server struct {
	Realm  string
	Lookup Lookup

	mu     sync.Mutex
	nonces map[string]struct{}
}

// NewServer builds a Digest authenticator for realm, resolving passwords
// with lookup.
func NewServer(realm string, lookup Lookup) *Server {
	return &Server{Realm: realm, Lookup: lookup, nonces: make(map[string]struct{})}
}

func (s *Server) issueNonce() string {
	n := uuid.New().String()
	s.mu.Lock()
	s.nonces[n] = struct{}{}
	s.mu.Unlock()
	return n
}

func (s *Server) knownNonce(n string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.nonces[n]
	return ok
}

func (s *Server) challenge(w http.ResponseWriter) {
	nonce := s.issueNonce()
	opaque := uuid.New().String()
	w.Header().Set("WWW-Authenticate", fmt.Sprintf(
		`Digest realm="%s", qop="auth", nonce="%s", opaque="%s"`, s.Realm, nonce, opaque))
	w.WriteHeader(http.StatusUnauthorized)
}

// Middleware enforces Digest auth on next, rejecting with 401 + a fresh
// challenge when the request has no or an invalid Authorization header.
func (s *Server) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hdr := r.Header.Get("Authorization")
		if hdr == "" {
			s.challenge(w)
			return
		}
		params, err := parseDigestHeader(hdr)
		if err != nil {
			s.challenge(w)
			return
		}
		if !s.knownNonce(params["nonce"]) {
			s.challenge(w)
			return
		}
		password, ok := s.Lookup(params["username"])
		if !ok {
			s.challenge(w)
			return
		}
		if !s.verify(params, r.Method, password) {
			s.challenge(w)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) verify(p map[string]string, method, password string) bool {
	ha1 := h(strings.Join([]string{p["username"], s.Realm, password}, ":"))
	ha2 := h(strings.Join([]string{method, p["uri"]}, ":"))
	expected := h(strings.Join([]string{ha1, p["nonce"], p["nc"], p["cnonce"], p["qop"], ha2}, ":"))
	return expected == p["response"]
}

// ParseAuthorization exposes parseDigestHeader to callers outside the
// package that need the authenticated username after the Middleware has
// already validated the request (the push handler's "last writer" column).
func ParseAuthorization(hdr string) (map[string]string, error) {
	return parseDigestHeader(hdr)
}

func parseDigestHeader(hdr string) (map[string]string, error) {
	const prefix = "Digest "
	if !strings.HasPrefix(hdr, prefix) {
		return nil, fmt.Errorf("digestauth: not a Digest scheme")
	}
	out := make(map[string]string)
	for _, part := range splitDigestParams(strings.TrimPrefix(hdr, prefix)) {
		kv := strings.SplitN(part, "=", 2)
		if len(kv) != 2 {
			continue
		}
		out[strings.TrimSpace(kv[0])] = strings.Trim(strings.TrimSpace(kv[1]), `"`)
	}
	required := []string{"username", "nonce", "uri", "response", "qop", "nc", "cnonce"}
	for _, r := range required {
		if _, ok := out[r]; !ok {
			return nil, fmt.Errorf("digestauth: missing %s", r)
		}
	}
	return out, nil
}

// splitDigestParams splits a comma-separated parameter list without
// breaking on commas embedded in quoted values.
func splitDigestParams(s string) []string {
	var parts []string
	inQuotes := false
	start := 0
	for i, c := range s {
		switch c {
		case '"':
			inQuotes = !inQuotes
		case ',':
			if !inQuotes {
				parts = append(parts, s[start:i])
				start = i + 1
			}
		}
	}
	parts = append(parts, s[start:])
	return parts
}

// ClientTransport answers Digest challenges for one (realm-scoped)
// repository connection, wrapping an inner http.RoundTripper.
type ClientTransport struct {
	Username string
	// PasswordRef is resolved through Provider on every challenge, so the
	// in-memory secret never outlives a single request round trip.
	PasswordRef string
	Provider    credential.Provider
	Inner       http.RoundTripper

	mu sync.Mutex
	nc int
}

func (c *ClientTransport) inner() http.RoundTripper {
	if c.Inner != nil {
		return c.Inner
	}
	return http.DefaultTransport
}

// RoundTrip performs the request, and if challenged, resubmits it once with
// a computed Digest Authorization header.
func (c *ClientTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	bodyBytes, err := drainBody(req)
	if err != nil {
		return nil, err
	}

	resp, err := c.inner().RoundTrip(cloneRequest(req, bodyBytes))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusUnauthorized {
		return resp, nil
	}
	challenge := resp.Header.Get("WWW-Authenticate")
	resp.Body.Close()
	if challenge == "" {
		return resp, nil
	}

	params, err := parseChallenge(challenge)
	if err != nil {
		return nil, fmt.Errorf("digestauth: %w", err)
	}

	password, err := c.Provider.Resolve(c.PasswordRef)
	if err != nil {
		return nil, fmt.Errorf("digestauth: resolve credential: %w", err)
	}

	auth, err := c.authorize(req.Method, req.URL.RequestURI(), params, password)
	if err != nil {
		return nil, err
	}

	authed := cloneRequest(req, bodyBytes)
	authed.Header.Set("Authorization", auth)
	return c.inner().RoundTrip(authed)
}

func (c *ClientTransport) authorize(method, uri string, p map[string]string, password string) (string, error) {
	c.mu.Lock()
	c.nc++
	nc := fmt.Sprintf("%08x", c.nc)
	c.mu.Unlock()

	cnonce := uuid.New().String()[:8]
	ha1 := h(strings.Join([]string{c.Username, p["realm"], password}, ":"))
	ha2 := h(strings.Join([]string{method, uri}, ":"))
	response := h(strings.Join([]string{ha1, p["nonce"], nc, cnonce, "auth", ha2}, ":"))

	return fmt.Sprintf(
		`Digest username="%s", realm="%s", nonce="%s", uri="%s", qop=auth, nc=%s, cnonce="%s", response="%s", opaque="%s"`,
		c.Username, p["realm"], p["nonce"], uri, nc, cnonce, response, p["opaque"],
	), nil
}

func parseChallenge(hdr string) (map[string]string, error) {
	const prefix = "Digest "
	if !strings.HasPrefix(hdr, prefix) {
		return nil, fmt.Errorf("not a Digest challenge")
	}
	out := make(map[string]string)
	for _, part := range splitDigestParams(strings.TrimPrefix(hdr, prefix)) {
		kv := strings.SplitN(part, "=", 2)
		if len(kv) != 2 {
			continue
		}
		out[strings.TrimSpace(kv[0])] = strings.Trim(strings.TrimSpace(kv[1]), `"`)
	}
	if out["realm"] == "" || out["nonce"] == "" {
		return nil, fmt.Errorf("incomplete challenge")
	}
	return out, nil
}

// drainBody reads req's body fully so it can be replayed if the first
// attempt is challenged; the push/pull bodies here are small XML documents,
// never streamed.
func drainBody(req *http.Request) ([]byte, error) {
	if req.Body == nil {
		return nil, nil
	}
	defer req.Body.Close()
	return io.ReadAll(req.Body)
}

func cloneRequest(req *http.Request, body []byte) *http.Request {
	clone := req.Clone(req.Context())
	if body != nil {
		clone.Body = io.NopCloser(bytes.NewReader(body))
		clone.ContentLength = int64(len(body))
	}
	return clone
}
