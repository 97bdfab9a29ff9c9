package gate

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"abuse-gateway/internal/models"
	"abuse-gateway/internal/revocation"
)

func serveThroughGate(t *testing.T, fx *gateFixture, req *http.Request) (*httptest.ResponseRecorder, bool) {
	t.Helper()

	reached := false
	handler := fx.gate.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reached = true
		w.WriteHeader(http.StatusOK)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec, reached
}

func decodeDenial(t *testing.T, rec *httptest.ResponseRecorder) DenyResponse {
	t.Helper()

	var body DenyResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	return body
}

func TestMiddlewareForwardsAllowedRequests(t *testing.T) {
	fx := newGateFixture(t)

	var verdict *Verdict
	handler := fx.gate.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		verdict = VerdictFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, loginRequest("203.0.113.7:31544"))

	assert.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, verdict, "handlers need the verdict to reset on success")
	assert.Equal(t, "203.0.113.7", verdict.Identity)
	assert.Equal(t, "login", verdict.Policy)
}

func TestMiddlewareRateDenialContract(t *testing.T) {
	fx := newGateFixture(t)

	var rec *httptest.ResponseRecorder
	for i := 0; i < 11; i++ {
		req := httptest.NewRequest("POST", "/api/v1/auth/oauth/google", nil)
		req.RemoteAddr = "203.0.113.7:31544"
		rec, _ = serveThroughGate(t, fx, req)
	}

	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))

	body := decodeDenial(t, rec)
	assert.Equal(t, CodeRateLimited, body.Error)
	assert.Equal(t, 60, body.RetryAfterSeconds)
}

func TestMiddlewareLockoutDenialContract(t *testing.T) {
	fx := newGateFixture(t)

	for i := 0; i < 6; i++ {
		serveThroughGate(t, fx, loginRequest("203.0.113.7:31544"))
	}
	fx.clock.Advance(5 * time.Second)

	rec, reached := serveThroughGate(t, fx, loginRequest("203.0.113.7:31544"))
	assert.False(t, reached)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "895", rec.Header().Get("Retry-After"))

	body := decodeDenial(t, rec)
	assert.Equal(t, CodeLockedOut, body.Error)
	assert.Equal(t, 895, body.RetryAfterSeconds)
}

func TestMiddlewareRevokedSessionContract(t *testing.T) {
	const rawToken = "revoked-session-token"

	decoder := DecoderFunc(func(raw string) (*Claims, error) {
		return &Claims{Subject: "user-1"}, nil
	})
	fx := newGateFixture(t, func(o *Options) { o.Decoder = decoder })

	require.NoError(t, fx.revocations.Revoke(context.Background(),
		revocation.TokenIdentity(rawToken), "user-1",
		fx.clock.Now().Add(time.Hour), models.ReasonUserLogout))

	req := httptest.NewRequest("GET", "/api/v1/profile", nil)
	req.RemoteAddr = "203.0.113.7:31544"
	req.Header.Set("Authorization", "Bearer "+rawToken)

	rec, reached := serveThroughGate(t, fx, req)
	assert.False(t, reached)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Empty(t, rec.Header().Get("Retry-After"), "no retry hint for a terminal denial")

	body := decodeDenial(t, rec)
	assert.Equal(t, CodeSessionRevoked, body.Error)
	assert.Zero(t, body.RetryAfterSeconds)
}

func TestMiddlewareRetryAfterRoundsUp(t *testing.T) {
	verdict := &Verdict{RetryAfter: 100 * time.Millisecond}
	assert.Equal(t, 1, retryAfterSeconds(verdict))

	verdict = &Verdict{RetryAfter: 59*time.Second + time.Millisecond}
	assert.Equal(t, 60, retryAfterSeconds(verdict))

	verdict = &Verdict{RetryAfter: 0}
	assert.Equal(t, 1, retryAfterSeconds(verdict))
}

func TestVerdictFromContextMissing(t *testing.T) {
	assert.Nil(t, VerdictFromContext(context.Background()))
}
