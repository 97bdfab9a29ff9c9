package identity

import (
	"net"
	"net/http"
	"strings"
)

const (
	// Unknown is the sentinel returned when nothing usable can be derived.
	// It still produces a working (shared) rate bucket, so a resolver
	// failure can never disable protection or deny all traffic.
	Unknown = "unknown"

	forwardedForHeader = "X-Forwarded-For"
)

// Resolver derives a stable caller key from request metadata.
//
// Resolution order: authenticated principal id, left-most forwarded
// address, direct peer address, then the Unknown sentinel. The result is
// always a non-empty string and the resolver never panics.
type Resolver struct {
	// TrustForwardedFor controls whether the forwarding header is honored.
	// Only enable it behind a proxy that strips client-supplied values.
	TrustForwardedFor bool
}

// NewResolver returns a resolver with proxy-aware extraction enabled.
func NewResolver() *Resolver {
	return &Resolver{TrustForwardedFor: true}
}

// Resolve returns the caller key for an HTTP request. principalID is the
// authenticated subject when the request carried a valid credential, or ""
// for anonymous traffic.
func (r *Resolver) Resolve(req *http.Request, principalID string) string {
	if principalID != "" {
		return principalID
	}
	if req == nil {
		return Unknown
	}

	if r.TrustForwardedFor {
		if addr := firstForwardedAddr(req.Header.Get(forwardedForHeader)); addr != "" {
			return addr
		}
	}

	if addr := peerAddr(req.RemoteAddr); addr != "" {
		return addr
	}

	return Unknown
}

// firstForwardedAddr extracts the left-most entry of a forwarding header,
// i.e. the originating client in a proxy chain.
func firstForwardedAddr(header string) string {
	if header == "" {
		return ""
	}
	first := header
	if idx := strings.IndexByte(header, ','); idx >= 0 {
		first = header[:idx]
	}
	return strings.TrimSpace(first)
}

// peerAddr normalizes the direct peer address to a bare host. RemoteAddr is
// usually "host:port" but a bare host is tolerated.
func peerAddr(remoteAddr string) string {
	if remoteAddr == "" {
		return ""
	}
	if host, _, err := net.SplitHostPort(remoteAddr); err == nil {
		return host
	}
	return strings.TrimSpace(remoteAddr)
}
