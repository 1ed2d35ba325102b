package ipc

import (
	"net"
	"net/http"
	"net/url"
	"strings"
)

// DefaultAllowedOrigins are the origins the desktop shell loads its front end from.
var DefaultAllowedOrigins = []string{"tauri://localhost", "http://tauri.localhost"}

// OriginPolicy decides which browser origins may call the API.
// Requests without an Origin header come from non-browser clients and are
// always allowed, as are same-origin requests.
type OriginPolicy struct {
	allowed map[string]bool
}

// NewOriginPolicy creates a policy allowing exactly origins (scheme://host[:port]).
func NewOriginPolicy(origins []string) *OriginPolicy {
	p := &OriginPolicy{allowed: make(map[string]bool, len(origins))}
	for _, o := range origins {
		if o = normalizeOrigin(o); o != "" {
			p.allowed[o] = true
		}
	}
	return p
}

// Allowed reports whether r may be served.
func (p *OriginPolicy) Allowed(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	if p.allowed[normalizeOrigin(origin)] {
		return true
	}
	u, err := url.Parse(origin)
	return err == nil && u.Host != "" && strings.EqualFold(u.Host, r.Host)
}

func normalizeOrigin(o string) string {
	return strings.TrimRight(strings.ToLower(strings.TrimSpace(o)), "/")
}

// clientKey identifies the caller for rate limiting. X-Forwarded-For is only
// honoured when the direct peer is a trusted proxy; the key is then the
// rightmost address not belonging to a trusted proxy.
func (h *Handler) clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	if !h.trustedProxy(host) {
		return host
	}
	hops := strings.Split(r.Header.Get("X-Forwarded-For"), ",")
	for i := len(hops) - 1; i >= 0; i-- {
		hop := strings.TrimSpace(hops[i])
		if hop != "" && !h.trustedProxy(hop) {
			return hop
		}
	}
	return host
}

func (h *Handler) trustedProxy(addr string) bool {
	for _, p := range h.TrustedProxies {
		if p == addr {
			return true
		}
	}
	return false
}
