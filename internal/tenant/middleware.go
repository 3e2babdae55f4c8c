package tenant

import (
	"context"
	"net"
	"net/http"
	"strings"
)

type contextKey string

const tenantContextKey contextKey = "societe.id"

// Resolver resolves the societe (tenant) identifier from HTTP requests using
// either a header or the request subdomain. TechnoProd installs serve one
// societe per subdomain; the header wins so API clients can address any
// societe explicitly.
type Resolver struct {
	HeaderName     string
	RootDomain     string
	DefaultSociete string
}

// NewResolver returns a resolver configured with the provided header name, root domain, and default societe slug.
// If headerName is empty, "X-Societe-ID" is used.
func NewResolver(headerName, rootDomain, defaultSociete string) *Resolver {
	if headerName == "" {
		headerName = "X-Societe-ID"
	}
	return &Resolver{
		HeaderName:     headerName,
		RootDomain:     strings.ToLower(strings.TrimSpace(rootDomain)),
		DefaultSociete: strings.TrimSpace(defaultSociete),
	}
}

// Middleware resolves the societe from the request and injects it into the context passed downstream.
func (r *Resolver) Middleware(next http.Handler) http.Handler {
	if r == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		societeID := r.Resolve(req)
		if societeID == "" {
			societeID = r.DefaultSociete
		}
		if societeID != "" {
			ctx := WithTenant(req.Context(), societeID)
			req = req.WithContext(ctx)
		}
		next.ServeHTTP(w, req)
	})
}

// Resolve attempts to find the societe identifier from the configured header or the request subdomain.
func (r *Resolver) Resolve(req *http.Request) string {
	if r == nil || req == nil {
		return ""
	}
	if societeID := strings.TrimSpace(req.Header.Get(r.HeaderName)); societeID != "" {
		return societeID
	}

	host := hostWithoutPort(req.Host)
	if host == "" {
		return ""
	}
	subdomain := r.subdomainFromHost(host)
	return strings.TrimSpace(subdomain)
}

func (r *Resolver) subdomainFromHost(host string) string {
	host = strings.ToLower(strings.TrimSpace(host))
	if host == "" {
		return ""
	}

	if r.RootDomain != "" {
		if host == r.RootDomain {
			return ""
		}
		suffix := "." + r.RootDomain
		if strings.HasSuffix(host, suffix) {
			host = strings.TrimSuffix(host, suffix)
		} else {
			return ""
		}
	}

	parts := strings.Split(host, ".")
	if len(parts) == 0 {
		return ""
	}
	return parts[0]
}

func hostWithoutPort(hostport string) string {
	hostport = strings.TrimSpace(hostport)
	if hostport == "" {
		return ""
	}
	if strings.HasPrefix(hostport, "[") {
		if idx := strings.Index(hostport, "]"); idx != -1 {
			host := hostport[1:idx]
			if host != "" {
				return host
			}
		}
	}
	if h, _, err := net.SplitHostPort(hostport); err == nil {
		return h
	}
	if idx := strings.Index(hostport, ":"); idx != -1 && strings.Count(hostport, ":") == 1 {
		return hostport[:idx]
	}
	return hostport
}

// WithTenant stores the societe identifier inside the context.
func WithTenant(ctx context.Context, societeID string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, tenantContextKey, societeID)
}

// FromContext extracts the societe identifier from the context if available.
func FromContext(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	societeID, ok := ctx.Value(tenantContextKey).(string)
	if !ok {
		return "", false
	}
	societeID = strings.TrimSpace(societeID)
	if societeID == "" {
		return "", false
	}
	return societeID, true
}
