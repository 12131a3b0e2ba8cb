// internal/auth/service.go
// Business logic for accounts, token issuing and revocation

package auth

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/imadgeboyega/kiekky-chat/internal/common/apperr"
	"github.com/imadgeboyega/kiekky-chat/internal/common/utils"
)

var (
	ErrInvalidCredentials = apperr.Unauthorized("invalid username or password")
	ErrTokenRevoked       = errors.New("token revoked")
)

// Config holds auth service configuration
type Config struct {
	JWTSecret         string
	AccessTokenExpiry time.Duration
	BCryptCost        int
}

// Disconnector closes live connections after a revocation
type Disconnector interface {
	DisconnectUser(userID int64)
	DisconnectToken(jti string)
}

// Service is the auth surface used by handlers, middleware and the gatekeeper
type Service interface {
	Register(ctx context.Context, req *RegisterRequest) (*AuthResponse, error)
	Login(ctx context.Context, req *LoginRequest) (*AuthResponse, error)
	Logout(ctx context.Context, claims *utils.JWTClaims) error
	LogoutAll(ctx context.Context, userID int64) error
	ValidateToken(ctx context.Context, token string) (*utils.JWTClaims, error)
	GetUserByID(ctx context.Context, userID int64) (*User, error)
	SetDisconnector(d Disconnector)
}

type service struct {
	repo         Repository
	revoker      *Revoker
	config       *Config
	disconnector Disconnector
	now          func() time.Time
}

// NewService creates a new auth service
func NewService(repo Repository, revoker *Revoker, config *Config) Service {
	return &service{
		repo:    repo,
		revoker: revoker,
		config:  config,
		now:     time.Now,
	}
}

// SetDisconnector resolves the circular dependency with the socket hub
func (s *service) SetDisconnector(d Disconnector) {
	s.disconnector = d
}

func (s *service) Register(ctx context.Context, req *RegisterRequest) (*AuthResponse, error) {
	// 1. Hash password
	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), s.config.BCryptCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	// 2. Create user
	user := &User{
		Username:     req.Username,
		DisplayName:  req.DisplayName,
		PasswordHash: string(hash),
	}
	if err := s.repo.CreateUser(ctx, user); err != nil {
		if errors.Is(err, ErrUsernameTaken) {
			return nil, apperr.Conflict(ErrUsernameTaken.Error())
		}
		return nil, apperr.Transient("failed to create user", err)
	}

	// 3. Issue token
	return s.issue(user)
}

func (s *service) Login(ctx context.Context, req *LoginRequest) (*AuthResponse, error) {
	user, err := s.repo.GetUserByUsername(ctx, req.Username)
	if errors.Is(err, ErrUserNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, apperr.Transient("failed to load user", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		return nil, ErrInvalidCredentials
	}

	return s.issue(user)
}

// Logout revokes the presented token and closes sockets opened with it
func (s *service) Logout(ctx context.Context, claims *utils.JWTClaims) error {
	if err := s.revoker.RevokeToken(ctx, claims.ID, time.Unix(claims.ExpiresAt, 0)); err != nil {
		return apperr.Transient("failed to revoke token", err)
	}
	if s.disconnector != nil {
		s.disconnector.DisconnectToken(claims.ID)
	}
	log.Printf("🔒 User %d logged out token %s", claims.UserID, claims.ID)
	return nil
}

// LogoutAll revokes every token issued to the user so far
func (s *service) LogoutAll(ctx context.Context, userID int64) error {
	if err := s.revoker.RevokeUser(ctx, userID, s.now()); err != nil {
		return apperr.Transient("failed to revoke tokens", err)
	}
	if s.disconnector != nil {
		s.disconnector.DisconnectUser(userID)
	}
	log.Printf("🔒 User %d logged out of all devices", userID)
	return nil
}

// ValidateToken verifies signature, expiry, type and revocation. Errors are
// utils.ErrTokenExpired, utils.ErrTokenInvalid, ErrTokenRevoked or an
// infrastructure error from the revocation store.
func (s *service) ValidateToken(ctx context.Context, token string) (*utils.JWTClaims, error) {
	claims, err := utils.ValidateJWT(token, s.config.JWTSecret)
	if err != nil {
		return nil, err
	}
	if claims.Type != "access" {
		return nil, fmt.Errorf("%w: wrong token type", utils.ErrTokenInvalid)
	}

	revoked, err := s.revoker.IsRevoked(ctx, claims)
	if err != nil {
		return nil, err
	}
	if revoked {
		return nil, ErrTokenRevoked
	}
	return claims, nil
}

func (s *service) GetUserByID(ctx context.Context, userID int64) (*User, error) {
	user, err := s.repo.GetUserByID(ctx, userID)
	if errors.Is(err, ErrUserNotFound) {
		return nil, apperr.NotFound(ErrUserNotFound.Error())
	}
	if err != nil {
		return nil, apperr.Transient("failed to load user", err)
	}
	return user, nil
}

func (s *service) issue(user *User) (*AuthResponse, error) {
	now := s.now()
	expiresAt := now.Add(s.config.AccessTokenExpiry)

	claims := &utils.JWTClaims{
		ID:        uuid.NewString(),
		UserID:    user.ID,
		Username:  user.Username,
		Type:      "access",
		ExpiresAt: expiresAt.Unix(),
		IssuedAt:  now.Unix(),
		NotBefore: now.Unix(),
		Issuer:    "kiekky-chat",
		Subject:   strconv.FormatInt(user.ID, 10),
	}

	token, err := utils.GenerateJWT(claims, s.config.JWTSecret)
	if err != nil {
		return nil, err
	}

	return &AuthResponse{
		AccessToken: token,
		TokenType:   "Bearer",
		ExpiresAt:   expiresAt,
		User:        user,
	}, nil
}
