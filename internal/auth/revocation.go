// internal/auth/revocation.go
// Token revocation: per-token deny entries and per-user revoked-before marks

package auth

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/imadgeboyega/kiekky-chat/internal/common/utils"
	"github.com/imadgeboyega/kiekky-chat/internal/ephemeral"
)

// Revoker stores revocation records in an ephemeral store. With a LocalStore
// backend revocation is only visible to the process that recorded it.
type Revoker struct {
	store ephemeral.Store
	// maxTokenLifetime bounds how long a revoked-before mark must live
	maxTokenLifetime time.Duration
	now              func() time.Time
}

func NewRevoker(store ephemeral.Store, maxTokenLifetime time.Duration) *Revoker {
	return &Revoker{
		store:            store,
		maxTokenLifetime: maxTokenLifetime,
		now:              time.Now,
	}
}

func tokenKey(jti string) string  { return "revoked:jti:" + jti }
func userKey(userID int64) string { return fmt.Sprintf("revoked:user:%d", userID) }

// RevokeToken denies one token until it would have expired anyway
func (r *Revoker) RevokeToken(ctx context.Context, jti string, expiresAt time.Time) error {
	ttl := expiresAt.Sub(r.now())
	if ttl <= 0 {
		return nil
	}
	if err := r.store.Set(ctx, tokenKey(jti), "1", ttl); err != nil {
		return fmt.Errorf("failed to revoke token: %w", err)
	}
	return nil
}

// RevokeUser rejects every token of the user issued at or before at
func (r *Revoker) RevokeUser(ctx context.Context, userID int64, at time.Time) error {
	value := strconv.FormatInt(at.Unix(), 10)
	if err := r.store.Set(ctx, userKey(userID), value, r.maxTokenLifetime); err != nil {
		return fmt.Errorf("failed to revoke user tokens: %w", err)
	}
	return nil
}

// IsRevoked checks both records. Store errors are returned, not swallowed.
func (r *Revoker) IsRevoked(ctx context.Context, claims *utils.JWTClaims) (bool, error) {
	if _, denied, err := r.store.Get(ctx, tokenKey(claims.ID)); err != nil {
		return false, fmt.Errorf("failed to check token revocation: %w", err)
	} else if denied {
		return true, nil
	}

	value, ok, err := r.store.Get(ctx, userKey(claims.UserID))
	if err != nil {
		return false, fmt.Errorf("failed to check user revocation: %w", err)
	}
	if !ok {
		return false, nil
	}

	revokedBefore, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return false, fmt.Errorf("corrupt revocation record for user %d: %w", claims.UserID, err)
	}
	return claims.IssuedAt <= revokedBefore, nil
}
