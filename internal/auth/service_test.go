package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imadgeboyega/kiekky-chat/internal/common/apperr"
	"github.com/imadgeboyega/kiekky-chat/internal/ephemeral"
)

type memoryRepo struct {
	mu     sync.Mutex
	users  map[int64]*User
	nextID int64
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{users: make(map[int64]*User)}
}

func (m *memoryRepo) CreateUser(ctx context.Context, user *User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Username == user.Username {
			return ErrUsernameTaken
		}
	}
	m.nextID++
	user.ID = m.nextID
	user.CreatedAt = time.Now()
	copied := *user
	m.users[user.ID] = &copied
	return nil
}

func (m *memoryRepo) GetUserByID(ctx context.Context, id int64) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.users[id]; ok {
		return u, nil
	}
	return nil, ErrUserNotFound
}

func (m *memoryRepo) GetUserByUsername(ctx context.Context, username string) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Username == username {
			return u, nil
		}
	}
	return nil, ErrUserNotFound
}

type recordingDisconnector struct {
	users  []int64
	tokens []string
}

func (d *recordingDisconnector) DisconnectUser(userID int64) { d.users = append(d.users, userID) }
func (d *recordingDisconnector) DisconnectToken(jti string)  { d.tokens = append(d.tokens, jti) }

func newTestService(t *testing.T) (*service, *recordingDisconnector) {
	t.Helper()
	svc := NewService(newMemoryRepo(), NewRevoker(ephemeral.NewLocalStore(), time.Hour), &Config{
		JWTSecret:         "test-secret",
		AccessTokenExpiry: time.Hour,
		BCryptCost:        4,
	}).(*service)
	d := &recordingDisconnector{}
	svc.SetDisconnector(d)
	return svc, d
}

func TestService_RegisterLogin(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)

	reg, err := svc.Register(ctx, &RegisterRequest{Username: "alice", Password: "password123"})
	require.NoError(t, err)
	assert.NotEmpty(t, reg.AccessToken)

	_, err = svc.Register(ctx, &RegisterRequest{Username: "alice", Password: "password123"})
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))

	_, err = svc.Login(ctx, &LoginRequest{Username: "alice", Password: "wrong-password"})
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = svc.Login(ctx, &LoginRequest{Username: "nobody", Password: "password123"})
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	login, err := svc.Login(ctx, &LoginRequest{Username: "alice", Password: "password123"})
	require.NoError(t, err)

	claims, err := svc.ValidateToken(ctx, login.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, reg.User.ID, claims.UserID)
	assert.NotEqual(t, "", claims.ID)
}

func TestService_Logout(t *testing.T) {
	ctx := context.Background()
	svc, d := newTestService(t)

	first, err := svc.Register(ctx, &RegisterRequest{Username: "bob", Password: "password123"})
	require.NoError(t, err)
	second, err := svc.Login(ctx, &LoginRequest{Username: "bob", Password: "password123"})
	require.NoError(t, err)

	claims, err := svc.ValidateToken(ctx, first.AccessToken)
	require.NoError(t, err)
	require.NoError(t, svc.Logout(ctx, claims))

	_, err = svc.ValidateToken(ctx, first.AccessToken)
	assert.ErrorIs(t, err, ErrTokenRevoked)
	_, err = svc.ValidateToken(ctx, second.AccessToken)
	assert.NoError(t, err)
	assert.Equal(t, []string{claims.ID}, d.tokens)
}

func TestService_LogoutAll(t *testing.T) {
	ctx := context.Background()
	svc, d := newTestService(t)
	base := time.Now()

	svc.now = func() time.Time { return base.Add(-5 * time.Second) }
	reg, err := svc.Register(ctx, &RegisterRequest{Username: "carol", Password: "password123"})
	require.NoError(t, err)

	svc.now = func() time.Time { return base.Add(-3 * time.Second) }
	require.NoError(t, svc.LogoutAll(ctx, reg.User.ID))
	_, err = svc.ValidateToken(ctx, reg.AccessToken)
	assert.ErrorIs(t, err, ErrTokenRevoked)
	assert.Equal(t, []int64{reg.User.ID}, d.users)

	// Tokens issued after the revocation are accepted again
	svc.now = time.Now
	fresh, err := svc.Login(ctx, &LoginRequest{Username: "carol", Password: "password123"})
	require.NoError(t, err)
	_, err = svc.ValidateToken(ctx, fresh.AccessToken)
	assert.NoError(t, err)
}

func TestMiddleware_Authenticate(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)
	reg, err := svc.Register(ctx, &RegisterRequest{Username: "dave", Password: "password123"})
	require.NoError(t, err)

	var seen int64
	handler := NewMiddleware(svc).Authenticate(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = GetUserIDFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	t.Run("missing header", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("bad token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer nope")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.NotEmpty(t, rec.Header().Get("X-Error-Id"))
	})

	t.Run("valid token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer "+reg.AccessToken)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusNoContent, rec.Code)
		assert.Equal(t, reg.User.ID, seen)
	})
}

func TestExtractBearerToken(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "bearer abc")
	assert.Equal(t, "abc", ExtractBearerToken(req))

	req.Header.Set("Authorization", "Basic abc")
	assert.Equal(t, "", ExtractBearerToken(req))
}
