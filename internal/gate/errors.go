package gate

import "errors"

// Denial taxonomy. The first three surface to clients with machine-readable
// codes; ErrStoreUnavailable never does — every check site converts it to
// an admit (fail open) and records an audit event instead.
var (
	// ErrRateLimited: window exceeded, recoverable once the window slides.
	ErrRateLimited = errors.New("rate limit exceeded")

	// ErrLockedOut: hard block active, recoverable after lockout expiry.
	ErrLockedOut = errors.New("temporarily locked out")

	// ErrSessionRevoked: terminal for the credential — the client must
	// re-authenticate, not retry.
	ErrSessionRevoked = errors.New("session revoked")

	// ErrStoreUnavailable: infrastructure fault behind a check.
	ErrStoreUnavailable = errors.New("gate store unavailable")
)

// Client-facing error codes for the deny responses.
const (
	CodeRateLimited    = "RATE_LIMIT_EXCEEDED"
	CodeLockedOut      = "ACCOUNT_LOCKED"
	CodeSessionRevoked = "TOKEN_BLACKLISTED"
)
