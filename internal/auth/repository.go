// internal/auth/repository.go
// Repository pattern isolates database queries from business logic.

package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/imadgeboyega/kiekky-chat/internal/common/database"
)

var (
	ErrUserNotFound  = errors.New("user not found")
	ErrUsernameTaken = errors.New("username is already taken")
)

// Repository defines the user queries the auth service needs
type Repository interface {
	CreateUser(ctx context.Context, user *User) error
	GetUserByID(ctx context.Context, id int64) (*User, error)
	GetUserByUsername(ctx context.Context, username string) (*User, error)
}

// postgresRepository implements Repository using PostgreSQL
type postgresRepository struct {
	db *sqlx.DB
}

// NewPostgresRepository creates a new PostgreSQL repository
func NewPostgresRepository(db *sqlx.DB) Repository {
	return &postgresRepository{db: db}
}

const userColumns = `id, username, display_name, avatar_url, password_hash, last_seen_at, created_at`

// CreateUser inserts a new user and fills in the generated fields
func (r *postgresRepository) CreateUser(ctx context.Context, user *User) error {
	query := `
		INSERT INTO users (username, display_name, password_hash)
		VALUES ($1, $2, $3)
		RETURNING id, created_at`

	err := r.db.QueryRowxContext(ctx, query, user.Username, user.DisplayName, user.PasswordHash).
		Scan(&user.ID, &user.CreatedAt)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return ErrUsernameTaken
		}
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

func (r *postgresRepository) GetUserByID(ctx context.Context, id int64) (*User, error) {
	return r.getUser(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
}

// GetUserByUsername matches case-insensitively
func (r *postgresRepository) GetUserByUsername(ctx context.Context, username string) (*User, error) {
	return r.getUser(ctx, `SELECT `+userColumns+` FROM users WHERE LOWER(username) = LOWER($1)`, username)
}

func (r *postgresRepository) getUser(ctx context.Context, query string, arg interface{}) (*User, error) {
	var user User
	err := database.WithReadRetry(ctx, func() error {
		return r.db.GetContext(ctx, &user, query, arg)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return &user, nil
}
