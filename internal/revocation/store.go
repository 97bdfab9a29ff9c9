package revocation

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"abuse-gateway/internal/models"
)

// TokenIdentity derives the stable identity the store is keyed by: the
// SHA-256 digest of the raw credential. The raw token itself is never
// persisted anywhere.
func TokenIdentity(rawToken string) string {
	sum := sha256.Sum256([]byte(rawToken))
	return hex.EncodeToString(sum[:])
}

// Store records invalidated credentials until their natural expiry.
//
// A revocation record never outlives the token it invalidates: every write
// carries an expiry and every read filters by it, so pruning is purely an
// optimization. Store errors are returned to the caller; the gate decides
// the fail-open policy and audits it.
type Store interface {
	// Revoke invalidates one credential until expiresAt.
	Revoke(ctx context.Context, tokenIdentity, principalID string, expiresAt time.Time, reason models.RevocationReason) error

	// RevokeAll blanket-revokes every credential of a principal. horizon
	// must outlast any token issued before the incident.
	RevokeAll(ctx context.Context, principalID string, reason models.RevocationReason, horizon time.Time) error

	// IsRevoked reports whether a matching single-token record or a
	// non-expired blanket record exists.
	IsRevoked(ctx context.Context, tokenIdentity, principalID string) (bool, error)
}
