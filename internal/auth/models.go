// internal/auth/models.go
// Data structures used by the authentication system

package auth

import (
	"time"
)

// User represents a user in our system
type User struct {
	ID           int64      `json:"id" db:"id"`
	Username     string     `json:"username" db:"username"`
	DisplayName  *string    `json:"display_name" db:"display_name"`
	AvatarURL    *string    `json:"avatar_url" db:"avatar_url"`
	PasswordHash string     `json:"-" db:"password_hash"`
	LastSeenAt   *time.Time `json:"last_seen_at" db:"last_seen_at"`
	CreatedAt    time.Time  `json:"created_at" db:"created_at"`
}

// RegisterRequest creates a password account
type RegisterRequest struct {
	Username    string  `json:"username" validate:"required,min=3,max=30,alphanum"`
	Password    string  `json:"password" validate:"required,min=8,max=100"`
	DisplayName *string `json:"display_name" validate:"omitempty,max=100"`
}

// LoginRequest exchanges credentials for an access token
type LoginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

// AuthResponse is returned by register and login
type AuthResponse struct {
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type"`
	ExpiresAt   time.Time `json:"expires_at"`
	User        *User     `json:"user"`
}
