package gate

import (
	"sort"
	"strings"
)

// RouteRule binds a path prefix to its protection: a rate policy name
// (empty = no rate limit) and whether a credential must be checked against
// the revocation store.
type RouteRule struct {
	Prefix            string
	Policy            string
	RequireCredential bool
}

// RouteTable resolves a request path to the most specific matching rule.
// Longest prefix wins, so a narrow rule (the login endpoint) can sit inside
// a broader credential-required zone with different protection. Explicitly
// exempted paths bypass every check.
type RouteTable struct {
	rules  []RouteRule
	exempt map[string]struct{}
}

func NewRouteTable() *RouteTable {
	return &RouteTable{exempt: make(map[string]struct{})}
}

// Protect adds a rule. Rules are kept sorted by descending prefix length so
// Match can take the first hit.
func (t *RouteTable) Protect(prefix, policy string, requireCredential bool) *RouteTable {
	t.rules = append(t.rules, RouteRule{
		Prefix:            prefix,
		Policy:            policy,
		RequireCredential: requireCredential,
	})
	sort.SliceStable(t.rules, func(i, j int) bool {
		return len(t.rules[i].Prefix) > len(t.rules[j].Prefix)
	})
	return t
}

// Exempt marks an exact path as unguarded even when it sits under a
// protected prefix.
func (t *RouteTable) Exempt(path string) *RouteTable {
	t.exempt[path] = struct{}{}
	return t
}

// Match returns the most specific rule for the path. exempted is true when
// the path is explicitly unguarded; protected is false when no rule covers
// the path at all (absence of a rule is "no limit", not "deny").
func (t *RouteTable) Match(path string) (rule RouteRule, protected, exempted bool) {
	if _, ok := t.exempt[path]; ok {
		return RouteRule{}, false, true
	}
	for _, r := range t.rules {
		if strings.HasPrefix(path, r.Prefix) {
			return r, true, false
		}
	}
	return RouteRule{}, false, false
}

// PolicyNames lists every policy referenced by the table, for startup
// validation against the registry.
func (t *RouteTable) PolicyNames() []string {
	names := make([]string, 0, len(t.rules))
	for _, r := range t.rules {
		if r.Policy != "" {
			names = append(names, r.Policy)
		}
	}
	return names
}

// DefaultRoutes is the shipped route table for the platform's auth surface.
func DefaultRoutes() *RouteTable {
	t := NewRouteTable()
	t.Protect("/api/v1/", "", true)
	t.Protect("/api/v1/auth/login", "login", false)
	t.Protect("/api/v1/auth/register", "register", false)
	t.Protect("/api/v1/auth/oauth", "oauth_login", false)
	t.Protect("/api/v1/auth/forgot-password", "forgot_password", false)
	t.Exempt("/api/v1/auth/health")
	return t
}
