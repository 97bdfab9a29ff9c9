package policy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"abuse-gateway/internal/config"
)

func testRegistry() *Registry {
	return NewRegistry(map[string]config.PolicySpec{
		"login":       {Limit: 5, Window: time.Minute, Lockout: 15 * time.Minute},
		"oauth_login": {Limit: 10, Window: time.Minute, Lockout: 0},
	})
}

func TestRegistryLookup(t *testing.T) {
	r := testRegistry()

	p, ok := r.Lookup("login")
	require.True(t, ok)
	assert.Equal(t, "login", p.Name)
	assert.Equal(t, 5, p.Limit)
	assert.Equal(t, time.Minute, p.Window)
	assert.True(t, p.HasLockout())

	p, ok = r.Lookup("oauth_login")
	require.True(t, ok)
	assert.False(t, p.HasLockout())

	_, ok = r.Lookup("does-not-exist")
	assert.False(t, ok)
}

func TestRegistryValidate(t *testing.T) {
	r := testRegistry()

	assert.NoError(t, r.Validate())
	assert.NoError(t, r.Validate("login", "oauth_login"))
	// Empty names mean "unprotected", not a reference to a policy.
	assert.NoError(t, r.Validate("", "login"))

	err := r.Validate("login", "mpin_verify")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mpin_verify")
}

func TestRegistryNamesSorted(t *testing.T) {
	r := testRegistry()
	assert.Equal(t, []string{"login", "oauth_login"}, r.Names())
}
