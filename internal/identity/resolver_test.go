package identity

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResolverPrecedence(t *testing.T) {
	r := NewResolver()

	tests := []struct {
		name        string
		principalID string
		forwarded   string
		remoteAddr  string
		want        string
	}{
		{
			name:        "principal wins over everything",
			principalID: "user-42",
			forwarded:   "198.51.100.9",
			remoteAddr:  "203.0.113.7:31544",
			want:        "user-42",
		},
		{
			name:       "left-most forwarded address for anonymous traffic",
			forwarded:  "198.51.100.9, 10.0.0.2, 10.0.0.1",
			remoteAddr: "203.0.113.7:31544",
			want:       "198.51.100.9",
		},
		{
			name:       "peer address when no forwarding header",
			remoteAddr: "203.0.113.7:31544",
			want:       "203.0.113.7",
		},
		{
			name:       "bare peer address without port",
			remoteAddr: "203.0.113.7",
			want:       "203.0.113.7",
		},
		{
			name: "nothing usable falls back to the shared bucket",
			want: Unknown,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("POST", "/api/v1/auth/login", nil)
			req.RemoteAddr = tt.remoteAddr
			if tt.forwarded != "" {
				req.Header.Set("X-Forwarded-For", tt.forwarded)
			}

			assert.Equal(t, tt.want, r.Resolve(req, tt.principalID))
		})
	}
}

func TestResolverUntrustedForwardedFor(t *testing.T) {
	r := &Resolver{TrustForwardedFor: false}

	req := httptest.NewRequest("POST", "/api/v1/auth/login", nil)
	req.RemoteAddr = "203.0.113.7:31544"
	req.Header.Set("X-Forwarded-For", "198.51.100.9")

	// A client-supplied header must not let an attacker hop buckets when
	// there is no trusted proxy in front.
	assert.Equal(t, "203.0.113.7", r.Resolve(req, ""))
}

func TestResolverNilRequest(t *testing.T) {
	r := NewResolver()

	assert.Equal(t, Unknown, r.Resolve(nil, ""))
	assert.Equal(t, "user-1", r.Resolve(nil, "user-1"))
}
