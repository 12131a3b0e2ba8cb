// internal/common/database/postgres.go
// PostgreSQL connection and configuration

package database

import (
	"database/sql"
	"fmt"
	"net/url"
	"strings"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
)

// NewPostgresDBFromURL creates a connection from a URL.
// A positive statementTimeout is sent as a startup parameter so every
// statement on every pooled connection is bounded server-side.
func NewPostgresDBFromURL(databaseURL string, statementTimeout time.Duration) (*sql.DB, error) {
	dsn, err := withStatementTimeout(databaseURL, statementTimeout)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool with defaults
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	// Test connection
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return db, nil
}

// withStatementTimeout appends statement_timeout (milliseconds) to either
// URL or key=value style connection strings.
func withStatementTimeout(dsn string, timeout time.Duration) (string, error) {
	if timeout <= 0 {
		return dsn, nil
	}
	ms := fmt.Sprintf("%d", timeout.Milliseconds())

	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		u, err := url.Parse(dsn)
		if err != nil {
			return "", err
		}
		q := u.Query()
		if q.Get("statement_timeout") == "" {
			q.Set("statement_timeout", ms)
		}
		u.RawQuery = q.Encode()
		return u.String(), nil
	}

	if strings.Contains(dsn, "statement_timeout=") {
		return dsn, nil
	}
	return strings.TrimSpace(dsn + " statement_timeout=" + ms), nil
}
