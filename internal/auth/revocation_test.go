package auth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imadgeboyega/kiekky-chat/internal/common/utils"
	"github.com/imadgeboyega/kiekky-chat/internal/ephemeral"
)

func TestRevoker_RevokeToken(t *testing.T) {
	ctx := context.Background()
	r := NewRevoker(ephemeral.NewLocalStore(), time.Hour)
	now := time.Now()

	claims := &utils.JWTClaims{ID: "jti-1", UserID: 1, IssuedAt: now.Unix(), ExpiresAt: now.Add(time.Hour).Unix()}
	other := &utils.JWTClaims{ID: "jti-2", UserID: 1, IssuedAt: now.Unix(), ExpiresAt: now.Add(time.Hour).Unix()}

	require.NoError(t, r.RevokeToken(ctx, claims.ID, time.Unix(claims.ExpiresAt, 0)))

	revoked, err := r.IsRevoked(ctx, claims)
	require.NoError(t, err)
	assert.True(t, revoked)

	revoked, err = r.IsRevoked(ctx, other)
	require.NoError(t, err)
	assert.False(t, revoked, "revoking one token leaves the user's other tokens alone")
}

func TestRevoker_ExpiredTokenIsNotStored(t *testing.T) {
	ctx := context.Background()
	store := ephemeral.NewLocalStore()
	r := NewRevoker(store, time.Hour)

	require.NoError(t, r.RevokeToken(ctx, "old", time.Now().Add(-time.Second)))
	assert.Equal(t, 0, store.Len())
}

func TestRevoker_RevokeUser(t *testing.T) {
	ctx := context.Background()
	r := NewRevoker(ephemeral.NewLocalStore(), time.Hour)
	at := time.Now()

	before := &utils.JWTClaims{ID: "a", UserID: 7, IssuedAt: at.Add(-time.Minute).Unix()}
	sameSecond := &utils.JWTClaims{ID: "b", UserID: 7, IssuedAt: at.Unix()}
	after := &utils.JWTClaims{ID: "c", UserID: 7, IssuedAt: at.Add(time.Second).Unix()}
	otherUser := &utils.JWTClaims{ID: "d", UserID: 8, IssuedAt: at.Add(-time.Minute).Unix()}

	require.NoError(t, r.RevokeUser(ctx, 7, at))

	for name, tc := range map[string]struct {
		claims *utils.JWTClaims
		want   bool
	}{
		"issued before":      {before, true},
		"issued same second": {sameSecond, true},
		"issued after":       {after, false},
		"other user":         {otherUser, false},
	} {
		t.Run(name, func(t *testing.T) {
			revoked, err := r.IsRevoked(ctx, tc.claims)
			require.NoError(t, err)
			assert.Equal(t, tc.want, revoked)
		})
	}
}
