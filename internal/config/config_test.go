package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePolicySpec(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    PolicySpec
		wantErr bool
	}{
		{
			name: "durations with units",
			raw:  "5:60s:900s",
			want: PolicySpec{Limit: 5, Window: 60 * time.Second, Lockout: 900 * time.Second},
		},
		{
			name: "bare numbers read as seconds",
			raw:  "3:300:900",
			want: PolicySpec{Limit: 3, Window: 300 * time.Second, Lockout: 900 * time.Second},
		},
		{
			name: "zero lockout disables escalation",
			raw:  "10:1m:0",
			want: PolicySpec{Limit: 10, Window: time.Minute, Lockout: 0},
		},
		{
			name: "hour window",
			raw:  "5:1h:1h",
			want: PolicySpec{Limit: 5, Window: time.Hour, Lockout: time.Hour},
		},
		{name: "too few parts", raw: "5:60s", wantErr: true},
		{name: "non-numeric limit", raw: "many:60s:900s", wantErr: true},
		{name: "zero limit", raw: "0:60s:900s", wantErr: true},
		{name: "negative window", raw: "5:-60s:900s", wantErr: true},
		{name: "garbage window", raw: "5:soon:900s", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spec, err := ParsePolicySpec(tt.raw)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, spec)
		})
	}
}

func TestDefaultPoliciesShape(t *testing.T) {
	policies := defaultPolicies()

	login, ok := policies["login"]
	require.True(t, ok)
	assert.Equal(t, PolicySpec{Limit: 5, Window: 60 * time.Second, Lockout: 900 * time.Second}, login)

	oauth, ok := policies["oauth_login"]
	require.True(t, ok)
	assert.Zero(t, oauth.Lockout, "oauth retries are handled upstream, no hard block")

	for name, spec := range policies {
		assert.Positive(t, spec.Limit, "policy %s", name)
		assert.Positive(t, spec.Window, "policy %s", name)
	}
}

func TestPolicyOverrideFromEnv(t *testing.T) {
	t.Setenv("POLICY_LOGIN", "8:120s:600s")

	policies := loadPolicies()
	assert.Equal(t, PolicySpec{Limit: 8, Window: 120 * time.Second, Lockout: 600 * time.Second}, policies["login"])
}

func TestMalformedPolicyOverridePanics(t *testing.T) {
	t.Setenv("POLICY_LOGIN", "not-a-spec")

	assert.Panics(t, func() { loadPolicies() })
}
