package revocation

import (
	"context"
	"fmt"
	"sync"
	"time"

	"abuse-gateway/internal/models"
)

// MemoryStore keeps revocation records in process memory for
// single-instance deployments and tests. Reads filter by expiry, so a
// record stops matching the instant its token would have expired anyway.
type MemoryStore struct {
	mu         sync.RWMutex
	tokens     map[string]models.RevocationRecord
	principals map[string]models.RevocationRecord
	now        func() time.Time
}

// MemoryOption customizes a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithClock injects the time source for tests.
func WithClock(now func() time.Time) MemoryOption {
	return func(s *MemoryStore) {
		s.now = now
	}
}

func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		tokens:     make(map[string]models.RevocationRecord),
		principals: make(map[string]models.RevocationRecord),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *MemoryStore) Revoke(_ context.Context, tokenIdentity, principalID string, expiresAt time.Time, reason models.RevocationReason) error {
	now := s.now()
	if !expiresAt.After(now) {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.tokens[tokenIdentity] = models.RevocationRecord{
		TokenIdentity: tokenIdentity,
		PrincipalID:   principalID,
		RevokedAt:     now,
		ExpiresAt:     expiresAt,
		Reason:        reason,
		Scope:         models.ScopeSingleToken,
	}
	return nil
}

func (s *MemoryStore) RevokeAll(_ context.Context, principalID string, reason models.RevocationReason, horizon time.Time) error {
	now := s.now()
	if !horizon.After(now) {
		return fmt.Errorf("blanket revocation horizon %v is in the past", horizon)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.principals[principalID] = models.RevocationRecord{
		PrincipalID: principalID,
		RevokedAt:   now,
		ExpiresAt:   horizon,
		Reason:      reason,
		Scope:       models.ScopeAllTokensForPrincipal,
	}
	return nil
}

func (s *MemoryStore) IsRevoked(_ context.Context, tokenIdentity, principalID string) (bool, error) {
	now := s.now()

	s.mu.RLock()
	token, hasToken := s.tokens[tokenIdentity]
	principal, hasPrincipal := s.principals[principalID]
	s.mu.RUnlock()

	if hasToken && !token.Expired(now) {
		return true, nil
	}
	if hasPrincipal && !principal.Expired(now) {
		return true, nil
	}
	return false, nil
}

// Sweep eagerly drops expired records; reads never depend on it.
func (s *MemoryStore) Sweep() {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	for key, record := range s.tokens {
		if record.Expired(now) {
			delete(s.tokens, key)
		}
	}
	for key, record := range s.principals {
		if record.Expired(now) {
			delete(s.principals, key)
		}
	}
}
