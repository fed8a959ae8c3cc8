package grant

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"
)

// Version is written into every grant as the "sv" parameter.
const Version = "1"

// Query parameter names of an encoded grant.
const (
	paramVersion     = "sv"
	paramResource    = "sr"
	paramContainers  = "sc"
	paramPermissions = "sp"
	paramStart       = "st"
	paramExpiry      = "se"
	paramSignature   = "sig"

	resourceContainer = "c"
)

// AccessGrant is a signed, time-bounded capability over one or more
// containers. It carries no reference back to any store.
type AccessGrant struct {
	Version     string
	Containers  []string
	Permissions Permissions
	StartsOn    time.Time
	ExpiresOn   time.Time
	Signature   string
}

// Encode returns the grant as a query string (without the leading "?").
func (g *AccessGrant) Encode() string {
	v := url.Values{}
	v.Set(paramVersion, g.Version)
	v.Set(paramResource, resourceContainer)
	v.Set(paramContainers, strings.Join(g.Containers, ","))
	v.Set(paramPermissions, g.Permissions.String())
	v.Set(paramStart, g.StartsOn.UTC().Format(time.RFC3339))
	v.Set(paramExpiry, g.ExpiresOn.UTC().Format(time.RFC3339))
	v.Set(paramSignature, g.Signature)
	return v.Encode()
}

// Covers reports whether container is within the grant's scope.
func (g *AccessGrant) Covers(container string) bool {
	return slices.Contains(g.Containers, container)
}

// Signer issues and verifies access grants with HMAC-SHA256 over a shared
// secret. Issuing is a pure computation; no store is contacted.
type Signer struct {
	account    string
	secretKey  []byte
	defaultTTL time.Duration
	now        func() time.Time
}

// New creates a Signer with the given options.
func New(opts ...Option) *Signer {
	s := &Signer{
		defaultTTL: 24 * time.Hour,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// DefaultTTL returns the validity used when Issue is called with ttl == 0.
func (s *Signer) DefaultTTL() time.Duration {
	return s.defaultTTL
}

// Issue creates a grant valid over [now, now+ttl) for the given containers.
func (s *Signer) Issue(containers []string, perms Permissions, ttl time.Duration) (*AccessGrant, error) {
	if len(s.secretKey) == 0 {
		return nil, ErrNoSecretKey
	}
	if ttl == 0 {
		ttl = s.defaultTTL
	}
	if ttl < time.Second {
		return nil, fmt.Errorf("%w: validity %s is shorter than one second", ErrMalformedGrant, ttl)
	}

	if perms == 0 {
		return nil, fmt.Errorf("%w: empty permission set", ErrMalformedGrant)
	}
	scope, err := canonicalContainers(containers)
	if err != nil {
		return nil, err
	}

	// Second precision keeps the encoded window identical to the signed one.
	// The start rounds down and the expiry up, so the grant covers at least
	// [now, now+ttl).
	now := s.now().UTC()
	expiry := now.Add(ttl)
	if t := expiry.Truncate(time.Second); !t.Equal(expiry) {
		expiry = t.Add(time.Second)
	}
	g := &AccessGrant{
		Version:     Version,
		Containers:  scope,
		Permissions: perms,
		StartsOn:    now.Truncate(time.Second),
		ExpiresOn:   expiry,
	}
	g.Signature = s.sign(g)
	return g, nil
}

// Verify checks an encoded grant against the container being accessed and
// the permissions the operation needs.
func (s *Signer) Verify(query url.Values, container string, required Permissions) (*AccessGrant, error) {
	if len(s.secretKey) == 0 {
		return nil, ErrNoSecretKey
	}
	g, err := Decode(query)
	if err != nil {
		return nil, err
	}

	expected := s.sign(g)
	if !hmac.Equal([]byte(g.Signature), []byte(expected)) {
		return nil, ErrInvalidSignature
	}

	now := s.now()
	if now.Before(g.StartsOn) {
		return nil, ErrNotYetValid
	}
	if !now.Before(g.ExpiresOn) {
		return nil, ErrExpired
	}
	if !g.Covers(container) {
		return nil, ErrContainerNotGranted
	}
	if !g.Permissions.Has(required) {
		return nil, ErrPermissionDenied
	}
	return g, nil
}

// VerifyRequest is Verify applied to the query string of r.
func (s *Signer) VerifyRequest(r *http.Request, container string, required Permissions) (*AccessGrant, error) {
	return s.Verify(r.URL.Query(), container, required)
}

// Decode parses an encoded grant without checking its signature.
func Decode(query url.Values) (*AccessGrant, error) {
	sig := query.Get(paramSignature)
	if sig == "" {
		return nil, ErrMissingSignature
	}
	if r := query.Get(paramResource); r != resourceContainer {
		return nil, fmt.Errorf("%w: unsupported resource %q", ErrMalformedGrant, r)
	}

	perms, err := ParsePermissions(query.Get(paramPermissions))
	if err != nil {
		return nil, err
	}
	start, err := time.Parse(time.RFC3339, query.Get(paramStart))
	if err != nil {
		return nil, fmt.Errorf("%w: start: %v", ErrMalformedGrant, err)
	}
	expiry, err := time.Parse(time.RFC3339, query.Get(paramExpiry))
	if err != nil {
		return nil, fmt.Errorf("%w: expiry: %v", ErrMalformedGrant, err)
	}
	scope := query.Get(paramContainers)
	if scope == "" {
		return nil, fmt.Errorf("%w: no containers", ErrMalformedGrant)
	}

	return &AccessGrant{
		Version:     query.Get(paramVersion),
		Containers:  strings.Split(scope, ","),
		Permissions: perms,
		StartsOn:    start.UTC(),
		ExpiresOn:   expiry.UTC(),
		Signature:   sig,
	}, nil
}

// stringToSign builds the canonical payload:
// VERSION\nACCOUNT\nRESOURCE\nCONTAINERS\nPERMISSIONS\nSTART\nEXPIRY
func (s *Signer) stringToSign(g *AccessGrant) string {
	return strings.Join([]string{
		g.Version,
		s.account,
		resourceContainer,
		strings.Join(g.Containers, ","),
		g.Permissions.String(),
		g.StartsOn.UTC().Format(time.RFC3339),
		g.ExpiresOn.UTC().Format(time.RFC3339),
	}, "\n")
}

func (s *Signer) sign(g *AccessGrant) string {
	h := hmac.New(sha256.New, s.secretKey)
	h.Write([]byte(s.stringToSign(g)))
	return hex.EncodeToString(h.Sum(nil))
}

func canonicalContainers(containers []string) ([]string, error) {
	if len(containers) == 0 {
		return nil, fmt.Errorf("%w: no containers", ErrMalformedGrant)
	}
	out := make([]string, 0, len(containers))
	for _, c := range containers {
		if c == "" || strings.ContainsAny(c, ",/") {
			return nil, fmt.Errorf("%w: invalid container name %q", ErrMalformedGrant, c)
		}
		out = append(out, c)
	}
	slices.Sort(out)
	return slices.Compact(out), nil
}
