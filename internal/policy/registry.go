package policy

import (
	"fmt"
	"sort"
	"time"

	"abuse-gateway/internal/config"
	"abuse-gateway/internal/util"
)

// Policy is one immutable rate policy. Lockout == 0 means denial is
// governed purely by the sliding window.
type Policy struct {
	Name    string
	Limit   int
	Window  time.Duration
	Lockout time.Duration
}

// HasLockout reports whether exceeding the limit escalates to a hard block.
func (p Policy) HasLockout() bool {
	return p.Lockout > 0
}

// Registry is the static policy table. It is populated once at process
// start and is read-only afterwards, so lookups need no locking.
type Registry struct {
	policies map[string]Policy
}

// NewRegistry builds a registry from the configured policy table.
func NewRegistry(specs map[string]config.PolicySpec) *Registry {
	policies := make(map[string]Policy, len(specs))
	for name, spec := range specs {
		policies[name] = Policy{
			Name:    name,
			Limit:   spec.Limit,
			Window:  spec.Window,
			Lockout: spec.Lockout,
		}
	}

	r := &Registry{policies: policies}

	for _, name := range r.Names() {
		p := policies[name]
		util.Info("Rate policy registered",
			util.String("policy", name),
			util.Int("limit", p.Limit),
			util.Duration("window", p.Window),
			util.Duration("lockout", p.Lockout),
		)
	}

	return r
}

// Lookup returns the policy for a name. A missing policy means the endpoint
// is unprotected: callers must skip all checks, never deny.
func (r *Registry) Lookup(name string) (Policy, bool) {
	p, ok := r.policies[name]
	return p, ok
}

// Validate checks that every referenced policy name exists. A route bound to
// an unknown policy is a configuration error and must stop the process
// before it accepts traffic.
func (r *Registry) Validate(names ...string) error {
	for _, name := range names {
		if name == "" {
			continue
		}
		if _, ok := r.policies[name]; !ok {
			return fmt.Errorf("route references unknown rate policy %q", name)
		}
	}
	return nil
}

// Names returns the registered policy names in stable order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.policies))
	for name := range r.policies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
