package revocation

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"abuse-gateway/internal/client"
	"abuse-gateway/internal/models"
	"abuse-gateway/internal/util"
)

const (
	revokedTokenPrefix     = "revoked_token:"
	revokedPrincipalPrefix = "revoked_principal:"

	defaultStoreTimeout = 2 * time.Second
)

// RedisStore persists revocation records with a TTL equal to the token's
// remaining life, so Redis garbage-collects each record exactly when it
// stops mattering.
type RedisStore struct {
	client  *client.RedisClient
	timeout time.Duration
}

func NewRedisStore(c *client.RedisClient, timeout time.Duration) *RedisStore {
	if timeout <= 0 {
		timeout = defaultStoreTimeout
	}
	return &RedisStore{client: c, timeout: timeout}
}

func (s *RedisStore) opContext() (context.Context, context.CancelFunc) {
	// Detached from the request context: a revocation must land even when
	// the client that triggered it has gone away.
	return context.WithTimeout(context.Background(), s.timeout)
}

func (s *RedisStore) Revoke(_ context.Context, tokenIdentity, principalID string, expiresAt time.Time, reason models.RevocationReason) error {
	ctx, cancel := s.opContext()
	defer cancel()

	ttl := time.Until(expiresAt)
	if ttl <= 0 {
		// Already past its natural expiry; recording it would be pointless.
		return nil
	}

	record := models.RevocationRecord{
		TokenIdentity: tokenIdentity,
		PrincipalID:   principalID,
		RevokedAt:     time.Now(),
		ExpiresAt:     expiresAt,
		Reason:        reason,
		Scope:         models.ScopeSingleToken,
	}

	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal revocation record: %w", err)
	}

	if err := s.client.Set(ctx, revokedTokenPrefix+tokenIdentity, payload, ttl); err != nil {
		util.Error("Failed to store token revocation",
			zap.String("principal_id", principalID),
			zap.String("reason", string(reason)),
			zap.Error(err))
		return fmt.Errorf("store token revocation: %w", err)
	}

	util.Info("Token revoked",
		zap.String("principal_id", principalID),
		zap.String("reason", string(reason)),
		zap.Time("expires_at", expiresAt))
	return nil
}

func (s *RedisStore) RevokeAll(_ context.Context, principalID string, reason models.RevocationReason, horizon time.Time) error {
	ctx, cancel := s.opContext()
	defer cancel()

	ttl := time.Until(horizon)
	if ttl <= 0 {
		return fmt.Errorf("blanket revocation horizon %v is in the past", horizon)
	}

	record := models.RevocationRecord{
		PrincipalID: principalID,
		RevokedAt:   time.Now(),
		ExpiresAt:   horizon,
		Reason:      reason,
		Scope:       models.ScopeAllTokensForPrincipal,
	}

	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal blanket revocation record: %w", err)
	}

	if err := s.client.Set(ctx, revokedPrincipalPrefix+principalID, payload, ttl); err != nil {
		util.Error("Failed to store blanket revocation",
			zap.String("principal_id", principalID),
			zap.String("reason", string(reason)),
			zap.Error(err))
		return fmt.Errorf("store blanket revocation: %w", err)
	}

	util.Warn("All tokens revoked for principal",
		zap.String("principal_id", principalID),
		zap.String("reason", string(reason)),
		zap.Time("horizon", horizon))
	return nil
}

func (s *RedisStore) IsRevoked(_ context.Context, tokenIdentity, principalID string) (bool, error) {
	ctx, cancel := s.opContext()
	defer cancel()

	// One round-trip for both lookups.
	pipe := s.client.Pipeline()
	tokenCmd := pipe.Exists(ctx, revokedTokenPrefix+tokenIdentity)
	principalCmd := pipe.Exists(ctx, revokedPrincipalPrefix+principalID)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("revocation lookup: %w", err)
	}

	return tokenCmd.Val() > 0 || principalCmd.Val() > 0, nil
}
