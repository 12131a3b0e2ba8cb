// internal/common/database/schema.go

package database

import (
	"database/sql"
	"fmt"
	"log"
)

// Migrate creates the chat tables. Every statement is idempotent.
func Migrate(db *sql.DB) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id BIGSERIAL PRIMARY KEY,
			username VARCHAR(50) NOT NULL UNIQUE,
			display_name VARCHAR(100),
			password_hash VARCHAR(255) NOT NULL,
			avatar_url TEXT,
			last_seen_at TIMESTAMP WITH TIME ZONE,
			created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,

		`CREATE TABLE IF NOT EXISTS conversations (
			id BIGSERIAL PRIMARY KEY,
			type VARCHAR(10) NOT NULL CHECK (type IN ('direct', 'group')),
			name VARCHAR(100),
			direct_key VARCHAR(64) UNIQUE,
			created_by BIGINT REFERENCES users(id),
			archived_at TIMESTAMP WITH TIME ZONE,
			created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,

		`CREATE TABLE IF NOT EXISTS conversation_members (
			conversation_id BIGINT NOT NULL REFERENCES conversations(id),
			user_id BIGINT NOT NULL REFERENCES users(id),
			role VARCHAR(10) NOT NULL DEFAULT 'member' CHECK (role IN ('member', 'admin')),
			joined_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT CURRENT_TIMESTAMP,
			left_at TIMESTAMP WITH TIME ZONE,
			hidden_at TIMESTAMP WITH TIME ZONE,
			cleared_at TIMESTAMP WITH TIME ZONE,
			last_read_at TIMESTAMP WITH TIME ZONE,
			unread_count INTEGER NOT NULL DEFAULT 0 CHECK (unread_count >= 0),
			PRIMARY KEY (conversation_id, user_id)
		)`,

		`CREATE TABLE IF NOT EXISTS messages (
			id BIGSERIAL PRIMARY KEY,
			conversation_id BIGINT NOT NULL REFERENCES conversations(id),
			sender_id BIGINT NOT NULL REFERENCES users(id),
			content TEXT NOT NULL DEFAULT '',
			type VARCHAR(10) NOT NULL DEFAULT 'text' CHECK (type IN ('text', 'image', 'file', 'system')),
			attachment_url TEXT,
			attachment_meta JSONB,
			reply_to_id BIGINT REFERENCES messages(id),
			created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,

		`CREATE TABLE IF NOT EXISTS message_reactions (
			message_id BIGINT NOT NULL REFERENCES messages(id) ON DELETE CASCADE,
			user_id BIGINT NOT NULL REFERENCES users(id),
			emoji VARCHAR(32) NOT NULL,
			created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (message_id, user_id, emoji)
		)`,

		`CREATE TABLE IF NOT EXISTS push_tokens (
			id BIGSERIAL PRIMARY KEY,
			user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			token TEXT NOT NULL UNIQUE,
			platform VARCHAR(20) NOT NULL,
			created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,

		`CREATE INDEX IF NOT EXISTS idx_members_user ON conversation_members(user_id) WHERE left_at IS NULL`,
		`CREATE INDEX IF NOT EXISTS idx_conversations_updated ON conversations(updated_at DESC, id DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id, created_at DESC, id DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_reactions_message ON message_reactions(message_id)`,
		`CREATE INDEX IF NOT EXISTS idx_push_tokens_user ON push_tokens(user_id)`,
	}

	for i, migration := range migrations {
		log.Printf("   - Running migration %d/%d...", i+1, len(migrations))
		if _, err := db.Exec(migration); err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
	}
	return nil
}
