package tenancy

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

// Request is the minimal view of an inbound HTTP request the resolver
// needs: header lookup, host, path, and the user identifier a prior auth
// middleware may have attached.
type Request interface {
	Header(name string) string
	Host() string
	Path() string
	UserID() string
}

// TenantIDHeader is the explicit tenant identification header
const TenantIDHeader = "X-Tenant-ID"

// reservedSubdomains never identify a tenant
var reservedSubdomains = map[string]bool{
	"www":   true,
	"api":   true,
	"admin": true,
	"app":   true,
}

// ResolutionStrategy inspects a request and produces a candidate tenant
// identifier. An empty id with a nil error means "no match, try the next
// strategy"; a non-nil error means the lookup itself failed. Both make
// the resolver move on, but they stay distinguishable for logging.
type ResolutionStrategy interface {
	Name() string
	Resolve(ctx context.Context, req Request) (string, error)
}

// HeaderStrategy returns the explicit tenant-id header verbatim, no lookup
type HeaderStrategy struct{}

func (HeaderStrategy) Name() string { return "header" }

func (HeaderStrategy) Resolve(_ context.Context, req Request) (string, error) {
	return strings.TrimSpace(req.Header(TenantIDHeader)), nil
}

// DomainStrategy matches the request host against custom domains
type DomainStrategy struct {
	store Store
}

func NewDomainStrategy(store Store) *DomainStrategy {
	return &DomainStrategy{store: store}
}

func (*DomainStrategy) Name() string { return "domain" }

func (s *DomainStrategy) Resolve(ctx context.Context, req Request) (string, error) {
	host := normalizeHost(req.Host())
	if host == "" {
		return "", nil
	}

	tenant, err := s.store.GetTenantByDomain(ctx, host)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return "", nil
		}
		return "", err
	}
	return tenant.ID.String(), nil
}

// SubdomainStrategy matches a genuine subdomain of the platform host
type SubdomainStrategy struct {
	store Store
}

func NewSubdomainStrategy(store Store) *SubdomainStrategy {
	return &SubdomainStrategy{store: store}
}

func (*SubdomainStrategy) Name() string { return "subdomain" }

func (s *SubdomainStrategy) Resolve(ctx context.Context, req Request) (string, error) {
	subdomain := extractSubdomain(req.Host())
	if subdomain == "" {
		return "", nil
	}

	tenant, err := s.store.GetTenantBySubdomain(ctx, subdomain)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return "", nil
		}
		return "", err
	}
	return tenant.ID.String(), nil
}

// PathStrategy tries the first path segment as a subdomain, then as a
// tenant id. Lookup failures count as no match; path-based resolution is
// a last resort and never blocks the chain.
type PathStrategy struct {
	store Store
}

func NewPathStrategy(store Store) *PathStrategy {
	return &PathStrategy{store: store}
}

func (*PathStrategy) Name() string { return "path" }

func (s *PathStrategy) Resolve(ctx context.Context, req Request) (string, error) {
	segment := firstPathSegment(req.Path())
	if segment == "" {
		return "", nil
	}

	if tenant, err := s.store.GetTenantBySubdomain(ctx, segment); err == nil {
		return tenant.ID.String(), nil
	}

	if id, err := uuid.Parse(segment); err == nil {
		if tenant, err := s.store.GetTenant(ctx, id); err == nil {
			return tenant.ID.String(), nil
		}
	}
	return "", nil
}

// normalizeHost lowercases the host and strips any port
func normalizeHost(host string) string {
	host = strings.ToLower(strings.TrimSpace(host))
	if i := strings.LastIndex(host, ":"); i >= 0 && !strings.Contains(host[i:], "]") {
		host = host[:i]
	}
	return host
}

// extractSubdomain returns the leading label of a host that has a genuine
// subdomain (at least three labels) and is not a reserved prefix.
func extractSubdomain(host string) string {
	host = normalizeHost(host)
	parts := strings.Split(host, ".")
	if len(parts) < 3 {
		return ""
	}
	if reservedSubdomains[parts[0]] {
		return ""
	}
	return parts[0]
}

// firstPathSegment returns the first non-empty segment of a URL path
func firstPathSegment(path string) string {
	for _, segment := range strings.Split(path, "/") {
		if segment != "" {
			return segment
		}
	}
	return ""
}

// httpRequest adapts *http.Request (plus the authenticated user id) to
// the Request interface.
type httpRequest struct {
	req    *http.Request
	userID string
}

// NewHTTPRequest wraps an *http.Request for resolution. userID may be
// empty when no auth middleware ran before the resolver.
func NewHTTPRequest(req *http.Request, userID string) Request {
	return &httpRequest{req: req, userID: userID}
}

func (r *httpRequest) Header(name string) string { return r.req.Header.Get(name) }

func (r *httpRequest) Host() string {
	if forwarded := r.req.Header.Get("X-Forwarded-Host"); forwarded != "" {
		return forwarded
	}
	return r.req.Host
}

func (r *httpRequest) Path() string   { return r.req.URL.Path }
func (r *httpRequest) UserID() string { return r.userID }
