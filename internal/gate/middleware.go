package gate

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"
)

type contextKey int

const verdictContextKey contextKey = iota

// DenyResponse is the JSON body returned for every gate denial.
type DenyResponse struct {
	Error             string `json:"error"`
	Message           string `json:"message"`
	RetryAfterSeconds int    `json:"retry_after_seconds,omitempty"`
}

// Middleware guards every request passing through it. Allowed requests are
// forwarded with the verdict attached to the context so downstream handlers
// can reach the counter (for Reset on success); denials are answered with
// the HTTP contract: 429 + Retry-After for rate/lockout, 401 with a
// distinct code for a revoked session.
func (g *Gate) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		verdict := g.Evaluate(r)

		if verdict.Allowed {
			ctx := context.WithValue(r.Context(), verdictContextKey, verdict)
			next.ServeHTTP(w, r.WithContext(ctx))
			return
		}

		writeDenial(w, verdict)
	})
}

// VerdictFromContext returns the verdict attached by the middleware, or nil
// when the request never passed through the gate.
func VerdictFromContext(ctx context.Context) *Verdict {
	verdict, _ := ctx.Value(verdictContextKey).(*Verdict)
	return verdict
}

func writeDenial(w http.ResponseWriter, verdict *Verdict) {
	w.Header().Set("Content-Type", "application/json")

	switch {
	case errors.Is(verdict.Err, ErrSessionRevoked):
		w.WriteHeader(http.StatusUnauthorized)
		_ = json.NewEncoder(w).Encode(DenyResponse{
			Error:   CodeSessionRevoked,
			Message: "Session has been invalidated. Please log in again.",
		})

	case errors.Is(verdict.Err, ErrLockedOut):
		retryAfter := retryAfterSeconds(verdict)
		w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
		w.WriteHeader(http.StatusTooManyRequests)
		_ = json.NewEncoder(w).Encode(DenyResponse{
			Error:             CodeLockedOut,
			Message:           "Too many failed attempts. Temporarily locked out.",
			RetryAfterSeconds: retryAfter,
		})

	default:
		retryAfter := retryAfterSeconds(verdict)
		w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
		w.WriteHeader(http.StatusTooManyRequests)
		_ = json.NewEncoder(w).Encode(DenyResponse{
			Error:             CodeRateLimited,
			Message:           "Too many requests. Slow down and retry later.",
			RetryAfterSeconds: retryAfter,
		})
	}
}

// retryAfterSeconds rounds the hint up so a client that waits exactly this
// long is never denied again by a fraction of a second.
func retryAfterSeconds(verdict *Verdict) int {
	secs := int(math.Ceil(verdict.RetryAfter.Seconds()))
	if secs < 1 {
		secs = 1
	}
	return secs
}
