package models

import "time"

// RevocationReason classifies why a credential was invalidated.
type RevocationReason string

const (
	ReasonUserLogout       RevocationReason = "user_logout"
	ReasonSecurityIncident RevocationReason = "security_incident"
	ReasonPasswordChange   RevocationReason = "password_change"
	ReasonAdminAction      RevocationReason = "admin_action"
)

// RevocationScope distinguishes a single-token record from a blanket one.
type RevocationScope string

const (
	ScopeSingleToken           RevocationScope = "single_token"
	ScopeAllTokensForPrincipal RevocationScope = "all_tokens_for_principal"
)

// RevocationRecord marks a credential (or every credential of a principal)
// as invalid until the token's own expiry. Only the SHA-256 digest of the
// token is ever stored, never the raw credential.
type RevocationRecord struct {
	TokenIdentity string           `json:"token_identity,omitempty"`
	PrincipalID   string           `json:"principal_id,omitempty"`
	RevokedAt     time.Time        `json:"revoked_at"`
	ExpiresAt     time.Time        `json:"expires_at"`
	Reason        RevocationReason `json:"reason"`
	Scope         RevocationScope  `json:"scope"`
}

// Expired reports whether the record has outlived its usefulness.
func (r RevocationRecord) Expired(now time.Time) bool {
	return !r.ExpiresAt.After(now)
}
