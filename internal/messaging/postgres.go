// internal/messaging/postgres.go

package messaging

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/imadgeboyega/kiekky-chat/internal/common/database"
)

// queries runs statements against either the pool or a transaction
type queries struct {
	db sqlx.ExtContext
}

type postgresRepository struct {
	queries
	db *sqlx.DB
}

// NewPostgresRepository creates a new PostgreSQL repository
func NewPostgresRepository(db *sqlx.DB) Repository {
	return &postgresRepository{
		queries: queries{db: db},
		db:      db,
	}
}

// InTx runs fn inside a transaction. Writes are never retried.
func (r *postgresRepository) InTx(ctx context.Context, fn func(q Queries) error) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err := fn(&queries{db: tx}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("%w (rollback failed: %v)", err, rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

const conversationColumns = `id, type, name, direct_key, created_by, archived_at, created_at, updated_at`

func (q *queries) GetConversation(ctx context.Context, id int64) (*Conversation, error) {
	return q.getConversation(ctx, `SELECT `+conversationColumns+` FROM conversations WHERE id = $1`, id)
}

func (q *queries) LockConversation(ctx context.Context, id int64) (*Conversation, error) {
	return q.getConversation(ctx, `SELECT `+conversationColumns+` FROM conversations WHERE id = $1 FOR UPDATE`, id)
}

func (q *queries) FindDirectConversation(ctx context.Context, directKey string) (*Conversation, error) {
	return q.getConversation(ctx, `SELECT `+conversationColumns+` FROM conversations WHERE direct_key = $1`, directKey)
}

func (q *queries) getConversation(ctx context.Context, query string, arg interface{}) (*Conversation, error) {
	var conv Conversation
	err := sqlx.GetContext(ctx, q.db, &conv, query, arg)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrConversationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get conversation: %w", err)
	}
	return &conv, nil
}

func (q *queries) InsertConversation(ctx context.Context, c *Conversation) (bool, error) {
	query := `
		INSERT INTO conversations (type, name, direct_key, created_by)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (direct_key) DO NOTHING
		RETURNING id, created_at, updated_at`

	err := q.db.QueryRowxContext(ctx, query, c.Type, c.Name, c.DirectKey, c.CreatedBy).
		Scan(&c.ID, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to create conversation: %w", err)
	}
	return true, nil
}

func (q *queries) ArchiveConversation(ctx context.Context, id int64) error {
	_, err := q.db.ExecContext(ctx,
		`UPDATE conversations SET archived_at = NOW(), updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to archive conversation: %w", err)
	}
	return nil
}

const memberColumns = `
	cm.conversation_id, cm.user_id, u.username, u.display_name, u.avatar_url,
	cm.role, cm.joined_at, cm.left_at, cm.hidden_at, cm.cleared_at,
	cm.last_read_at, cm.unread_count`

func (q *queries) ListMembers(ctx context.Context, conversationID int64) ([]*Member, error) {
	query := `
		SELECT ` + memberColumns + `
		FROM conversation_members cm
		JOIN users u ON u.id = cm.user_id
		WHERE cm.conversation_id = $1
		ORDER BY cm.joined_at, cm.user_id`

	var members []*Member
	if err := sqlx.SelectContext(ctx, q.db, &members, query, conversationID); err != nil {
		return nil, fmt.Errorf("failed to list members: %w", err)
	}
	return members, nil
}

// UpsertMember never touches a row that is still active
func (q *queries) UpsertMember(ctx context.Context, conversationID, userID int64, role MemberRole) error {
	query := `
		INSERT INTO conversation_members (conversation_id, user_id, role, joined_at, cleared_at)
		VALUES ($1, $2, $3, NOW(), NOW())
		ON CONFLICT (conversation_id, user_id) DO UPDATE
		SET role = EXCLUDED.role,
		    joined_at = NOW(),
		    cleared_at = NOW(),
		    left_at = NULL,
		    hidden_at = NULL,
		    last_read_at = NULL,
		    unread_count = 0
		WHERE conversation_members.left_at IS NOT NULL`

	if _, err := q.db.ExecContext(ctx, query, conversationID, userID, role); err != nil {
		return fmt.Errorf("failed to add member: %w", err)
	}
	return nil
}

func (q *queries) SetMembersLeft(ctx context.Context, conversationID int64, userIDs []int64) error {
	query := `
		UPDATE conversation_members
		SET left_at = NOW(), role = 'member', unread_count = 0
		WHERE conversation_id = $1 AND user_id = ANY($2) AND left_at IS NULL`

	if _, err := q.db.ExecContext(ctx, query, conversationID, pq.Array(userIDs)); err != nil {
		return fmt.Errorf("failed to remove members: %w", err)
	}
	return nil
}

func (q *queries) SetMemberRole(ctx context.Context, conversationID, userID int64, role MemberRole) error {
	query := `
		UPDATE conversation_members SET role = $3
		WHERE conversation_id = $1 AND user_id = $2 AND left_at IS NULL`

	res, err := q.db.ExecContext(ctx, query, conversationID, userID, role)
	if err != nil {
		return fmt.Errorf("failed to update role: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrMemberNotFound
	}
	return nil
}

// SetMemberHidden hides with a new visibility horizon, or reveals without one
func (q *queries) SetMemberHidden(ctx context.Context, conversationID, userID int64, hidden bool) (bool, error) {
	query := `
		UPDATE conversation_members
		SET hidden_at = NOW(), cleared_at = NOW(), unread_count = 0, last_read_at = NOW()
		WHERE conversation_id = $1 AND user_id = $2 AND left_at IS NULL`
	if !hidden {
		query = `
			UPDATE conversation_members SET hidden_at = NULL
			WHERE conversation_id = $1 AND user_id = $2 AND left_at IS NULL AND hidden_at IS NOT NULL`
	}

	res, err := q.db.ExecContext(ctx, query, conversationID, userID)
	if err != nil {
		return false, fmt.Errorf("failed to update visibility: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// InsertSystemMessage does not count as unread and does not reveal hidden rows
func (q *queries) InsertSystemMessage(ctx context.Context, conversationID, actorID int64, content string) (*Message, error) {
	query := `
		WITH ins AS (
			INSERT INTO messages (conversation_id, sender_id, content, type, created_at)
			VALUES ($1, $2, $3, 'system', clock_timestamp())
			RETURNING id, conversation_id, sender_id, content, type, created_at
		), touched AS (
			UPDATE conversations c SET updated_at = ins.created_at
			FROM ins WHERE c.id = ins.conversation_id
		)
		SELECT ins.id, ins.conversation_id, ins.sender_id, u.username, ins.content, ins.type, ins.created_at
		FROM ins JOIN users u ON u.id = ins.sender_id`

	msg := &Message{}
	err := q.db.QueryRowxContext(ctx, query, conversationID, actorID, content).Scan(
		&msg.ID, &msg.ConversationID, &msg.SenderID, &msg.SenderUsername,
		&msg.Content, &msg.Type, &msg.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert system message: %w", err)
	}
	return msg, nil
}

// GetUsersByUsernames matches case-insensitively; unknown names are skipped
func (q *queries) GetUsersByUsernames(ctx context.Context, usernames []string) ([]*UserRef, error) {
	lowered := make([]string, len(usernames))
	for i, name := range usernames {
		lowered[i] = strings.ToLower(name)
	}

	var users []*UserRef
	err := database.WithReadRetry(ctx, func() error {
		users = nil
		return sqlx.SelectContext(ctx, q.db, &users,
			`SELECT id, username, display_name, avatar_url FROM users WHERE LOWER(username) = ANY($1)`,
			pq.Array(lowered))
	})
	if err != nil {
		return nil, fmt.Errorf("failed to resolve users: %w", err)
	}
	return users, nil
}

// CreateMessage runs membership and reply checks, the insert, the unread
// increments, the un-hide and the updated_at touch as one statement. All
// CTEs see the same snapshot, so hidden lists who was hidden before this
// message revealed them.
func (r *postgresRepository) CreateMessage(ctx context.Context, in *NewMessage) (*CreateMessageResult, error) {
	query := `
		WITH sender AS (
			SELECT u.username
			FROM conversation_members cm
			JOIN users u ON u.id = cm.user_id
			JOIN conversations c ON c.id = cm.conversation_id
			WHERE cm.conversation_id = $1::bigint AND cm.user_id = $2::bigint
			  AND cm.left_at IS NULL AND c.archived_at IS NULL
		),
		reply AS (
			SELECT m.id, m.sender_id, ru.username, m.content, m.type
			FROM messages m
			JOIN users ru ON ru.id = m.sender_id
			WHERE m.id = $7::bigint AND m.conversation_id = $1
		),
		ins AS (
			INSERT INTO messages (conversation_id, sender_id, content, type, attachment_url, attachment_meta, reply_to_id, created_at)
			SELECT $1::bigint, $2::bigint, $3::text, $4::text, $5::text, $6::jsonb, $7::bigint, clock_timestamp()
			FROM sender
			WHERE $7::bigint IS NULL OR EXISTS (SELECT 1 FROM reply)
			RETURNING id, conversation_id, sender_id, created_at, attachment_meta
		),
		hidden AS (
			SELECT user_id FROM conversation_members
			WHERE conversation_id = $1 AND left_at IS NULL AND hidden_at IS NOT NULL
		),
		members AS (
			UPDATE conversation_members cm
			SET unread_count = CASE WHEN cm.user_id = ins.sender_id THEN 0 ELSE cm.unread_count + 1 END,
			    last_read_at = CASE WHEN cm.user_id = ins.sender_id THEN ins.created_at ELSE cm.last_read_at END,
			    hidden_at = NULL
			FROM ins
			WHERE cm.conversation_id = ins.conversation_id AND cm.left_at IS NULL
			RETURNING cm.user_id
		),
		touched AS (
			UPDATE conversations c SET updated_at = ins.created_at
			FROM ins WHERE c.id = ins.conversation_id
			RETURNING c.type, c.name
		)
		SELECT
			EXISTS (SELECT 1 FROM sender),
			($7::bigint IS NULL OR EXISTS (SELECT 1 FROM reply)),
			ins.id, ins.created_at, ins.attachment_meta,
			(SELECT username FROM sender),
			reply.sender_id, reply.username, reply.content, reply.type,
			COALESCE((SELECT array_agg(user_id) FROM members WHERE user_id <> $2), '{}'),
			COALESCE((SELECT array_agg(user_id) FROM hidden WHERE EXISTS (SELECT 1 FROM ins)), '{}'),
			(SELECT type FROM touched), (SELECT name FROM touched)
		FROM (SELECT 1) AS one
		LEFT JOIN ins ON TRUE
		LEFT JOIN reply ON ins.id IS NOT NULL`

	var metaArg interface{}
	if len(in.AttachmentMeta) > 0 {
		metaArg = string(in.AttachmentMeta)
	}

	var (
		res            CreateMessageResult
		msgID          sql.NullInt64
		createdAt      sql.NullTime
		meta           []byte
		senderUsername sql.NullString
		replySender    sql.NullInt64
		replyUsername  sql.NullString
		replyContent   sql.NullString
		replyType      sql.NullString
		recipients     pq.Int64Array
		unhidden       pq.Int64Array
		convType       sql.NullString
		convName       sql.NullString
	)

	err := r.db.QueryRowxContext(ctx, query,
		in.ConversationID, in.SenderID, in.Content, in.Type, in.AttachmentURL, metaArg, in.ReplyToID,
	).Scan(
		&res.IsMember, &res.ReplyValid,
		&msgID, &createdAt, &meta,
		&senderUsername,
		&replySender, &replyUsername, &replyContent, &replyType,
		&recipients, &unhidden,
		&convType, &convName,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create message: %w", err)
	}

	if !msgID.Valid {
		return &res, nil
	}

	res.Message = &Message{
		ID:             msgID.Int64,
		ConversationID: in.ConversationID,
		SenderID:       in.SenderID,
		SenderUsername: senderUsername.String,
		Content:        in.Content,
		Type:           in.Type,
		AttachmentURL:  in.AttachmentURL,
		AttachmentMeta: json.RawMessage(meta),
		ReplyToID:      in.ReplyToID,
		CreatedAt:      createdAt.Time,
	}
	if replySender.Valid {
		res.Message.ReplyTo = &ReplySnapshot{
			ID:             *in.ReplyToID,
			SenderID:       replySender.Int64,
			SenderUsername: replyUsername.String,
			Content:        replyContent.String,
			Type:           MessageType(replyType.String),
		}
	}
	res.RecipientIDs = []int64(recipients)
	res.UnhiddenIDs = []int64(unhidden)
	res.ConversationType = ConversationType(convType.String)
	if convName.Valid {
		res.ConversationName = &convName.String
	}
	return &res, nil
}

// ToggleReaction deletes the reaction when it exists and inserts it
// otherwise. The aggregate is the statement snapshot adjusted by this
// statement's own delta, since CTEs cannot see each other's writes.
func (r *postgresRepository) ToggleReaction(ctx context.Context, messageID, userID int64, emoji string) (*ReactionUpdate, error) {
	query := `
		WITH target AS (
			SELECT m.id, m.conversation_id
			FROM messages m
			JOIN conversation_members cm ON cm.conversation_id = m.conversation_id
			JOIN conversations c ON c.id = m.conversation_id
			WHERE m.id = $1::bigint AND cm.user_id = $2::bigint
			  AND cm.left_at IS NULL AND c.archived_at IS NULL
			  AND m.created_at > COALESCE(cm.cleared_at, '-infinity'::timestamptz)
		),
		removed AS (
			DELETE FROM message_reactions r
			USING target
			WHERE r.message_id = target.id AND r.user_id = $2::bigint AND r.emoji = $3::text
			RETURNING r.user_id
		),
		added AS (
			INSERT INTO message_reactions (message_id, user_id, emoji)
			SELECT target.id, $2::bigint, $3::text FROM target
			WHERE NOT EXISTS (
				SELECT 1 FROM message_reactions r
				WHERE r.message_id = target.id AND r.user_id = $2::bigint AND r.emoji = $3::text
			)
			ON CONFLICT DO NOTHING
			RETURNING user_id, created_at
		),
		remaining AS (
			SELECT r.emoji, r.user_id, r.created_at
			FROM message_reactions r
			JOIN target ON r.message_id = target.id
			WHERE NOT (r.user_id = $2::bigint AND r.emoji = $3::text AND EXISTS (SELECT 1 FROM removed))
			UNION ALL
			SELECT $3::text, added.user_id, added.created_at FROM added
		)
		SELECT t.conversation_id,
		       EXISTS (SELECT 1 FROM added),
		       COALESCE((
		           SELECT json_agg(agg ORDER BY agg.first_at, agg.emoji)
		           FROM (
		               SELECT rm.emoji,
		                      COUNT(*) AS count,
		                      BOOL_OR(rm.user_id = $2::bigint) AS reacted_by_me,
		                      array_agg(u.username ORDER BY rm.created_at, u.username) AS usernames,
		                      MIN(rm.created_at) AS first_at
		               FROM remaining rm
		               JOIN users u ON u.id = rm.user_id
		               GROUP BY rm.emoji
		           ) agg
		       ), '[]'::json)
		FROM target t`

	update := &ReactionUpdate{MessageID: messageID, UserID: userID, Emoji: emoji}
	var aggregate []byte

	err := r.db.QueryRowxContext(ctx, query, messageID, userID, emoji).
		Scan(&update.ConversationID, &update.Added, &aggregate)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrMessageNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to toggle reaction: %w", err)
	}

	if err := json.Unmarshal(aggregate, &update.Reactions); err != nil {
		return nil, fmt.Errorf("failed to decode reactions: %w", err)
	}
	return update, nil
}

// ListConversations returns visible, non-archived conversations by last activity
func (r *postgresRepository) ListConversations(ctx context.Context, userID int64, cursor *Cursor, limit int) ([]*ConversationSummary, error) {
	query := `
		SELECT c.id, c.type, c.name, c.created_by, c.created_at, c.updated_at,
		       cm.role, cm.unread_count,
		       peer.id, peer.username, peer.display_name, peer.avatar_url,
		       lm.id, lm.sender_id, lu.username, lm.content, lm.type, lm.created_at
		FROM conversation_members cm
		JOIN conversations c ON c.id = cm.conversation_id
		LEFT JOIN LATERAL (
			SELECT u.id, u.username, u.display_name, u.avatar_url
			FROM conversation_members pm
			JOIN users u ON u.id = pm.user_id
			WHERE c.type = 'direct' AND pm.conversation_id = c.id AND pm.user_id <> cm.user_id
			LIMIT 1
		) peer ON TRUE
		LEFT JOIN LATERAL (
			SELECT m.id, m.sender_id, m.content, m.type, m.created_at
			FROM messages m
			WHERE m.conversation_id = c.id
			  AND m.created_at > COALESCE(cm.cleared_at, '-infinity'::timestamptz)
			ORDER BY m.created_at DESC, m.id DESC
			LIMIT 1
		) lm ON TRUE
		LEFT JOIN users lu ON lu.id = lm.sender_id
		WHERE cm.user_id = $1 AND cm.left_at IS NULL AND cm.hidden_at IS NULL
		  AND c.archived_at IS NULL
		  AND ($2::timestamptz IS NULL OR (c.updated_at, c.id) < ($2::timestamptz, $3::bigint))
		ORDER BY c.updated_at DESC, c.id DESC
		LIMIT $4`

	after, afterID := cursorArgs(cursor)

	var out []*ConversationSummary
	err := database.WithReadRetry(ctx, func() error {
		out = nil
		rows, err := r.db.QueryContext(ctx, query, userID, after, afterID, limit)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var (
				s                                 ConversationSummary
				peerID, lmID, lmSender            sql.NullInt64
				peerName, lmSenderName, lmContent sql.NullString
				lmType                            sql.NullString
				peerDisplay, peerAvatar           sql.NullString
				lmCreated                         sql.NullTime
			)
			if err := rows.Scan(
				&s.ID, &s.Type, &s.Name, &s.CreatedBy, &s.CreatedAt, &s.UpdatedAt,
				&s.Role, &s.UnreadCount,
				&peerID, &peerName, &peerDisplay, &peerAvatar,
				&lmID, &lmSender, &lmSenderName, &lmContent, &lmType, &lmCreated,
			); err != nil {
				return err
			}
			if peerID.Valid {
				s.Peer = &UserRef{
					ID:          peerID.Int64,
					Username:    peerName.String,
					DisplayName: nullableString(peerDisplay),
					AvatarURL:   nullableString(peerAvatar),
				}
			}
			if lmID.Valid {
				s.LastMessage = &MessagePreview{
					ID:             lmID.Int64,
					SenderID:       lmSender.Int64,
					SenderUsername: lmSenderName.String,
					Content:        lmContent.String,
					Type:           MessageType(lmType.String),
					CreatedAt:      lmCreated.Time,
				}
			}
			out = append(out, &s)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	return out, nil
}

// ListMessages returns messages after the caller's visibility horizon, newest first
func (r *postgresRepository) ListMessages(ctx context.Context, conversationID, userID int64, cursor *Cursor, limit int) ([]*Message, error) {
	query := `
		SELECT m.id, m.conversation_id, m.sender_id, u.username, m.content, m.type,
		       m.attachment_url, m.attachment_meta, m.reply_to_id, m.created_at,
		       rm.sender_id, ru.username, rm.content, rm.type
		FROM messages m
		JOIN conversation_members cm ON cm.conversation_id = m.conversation_id AND cm.user_id = $2
		JOIN users u ON u.id = m.sender_id
		LEFT JOIN messages rm ON rm.id = m.reply_to_id
		LEFT JOIN users ru ON ru.id = rm.sender_id
		WHERE m.conversation_id = $1
		  AND m.created_at > COALESCE(cm.cleared_at, '-infinity'::timestamptz)
		  AND ($3::timestamptz IS NULL OR (m.created_at, m.id) < ($3::timestamptz, $4::bigint))
		ORDER BY m.created_at DESC, m.id DESC
		LIMIT $5`

	after, afterID := cursorArgs(cursor)

	var out []*Message
	err := database.WithReadRetry(ctx, func() error {
		out = nil
		rows, err := r.db.QueryContext(ctx, query, conversationID, userID, after, afterID, limit)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var (
				m                                 Message
				attachmentURL                     sql.NullString
				meta                              []byte
				replyToID, replySender            sql.NullInt64
				replyUser, replyContent, replyTyp sql.NullString
			)
			if err := rows.Scan(
				&m.ID, &m.ConversationID, &m.SenderID, &m.SenderUsername, &m.Content, &m.Type,
				&attachmentURL, &meta, &replyToID, &m.CreatedAt,
				&replySender, &replyUser, &replyContent, &replyTyp,
			); err != nil {
				return err
			}
			m.AttachmentURL = nullableString(attachmentURL)
			if len(meta) > 0 {
				m.AttachmentMeta = json.RawMessage(meta)
			}
			if replyToID.Valid {
				id := replyToID.Int64
				m.ReplyToID = &id
				if replySender.Valid {
					m.ReplyTo = &ReplySnapshot{
						ID:             id,
						SenderID:       replySender.Int64,
						SenderUsername: replyUser.String,
						Content:        replyContent.String,
						Type:           MessageType(replyTyp.String),
					}
				}
			}
			out = append(out, &m)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	return out, nil
}

func (r *postgresRepository) GetReactions(ctx context.Context, messageIDs []int64, userID int64) (map[int64][]ReactionSummary, error) {
	out := make(map[int64][]ReactionSummary)
	if len(messageIDs) == 0 {
		return out, nil
	}

	query := `
		SELECT r.message_id, r.emoji, COUNT(*), BOOL_OR(r.user_id = $2),
		       array_agg(u.username ORDER BY r.created_at, u.username)
		FROM message_reactions r
		JOIN users u ON u.id = r.user_id
		WHERE r.message_id = ANY($1)
		GROUP BY r.message_id, r.emoji
		ORDER BY r.message_id, MIN(r.created_at), r.emoji`

	err := database.WithReadRetry(ctx, func() error {
		for k := range out {
			delete(out, k)
		}
		rows, err := r.db.QueryContext(ctx, query, pq.Array(messageIDs), userID)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var (
				messageID int64
				summary   ReactionSummary
				usernames pq.StringArray
			)
			if err := rows.Scan(&messageID, &summary.Emoji, &summary.Count, &summary.ReactedByMe, &usernames); err != nil {
				return err
			}
			summary.Usernames = []string(usernames)
			out[messageID] = append(out[messageID], summary)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load reactions: %w", err)
	}
	return out, nil
}

func (r *postgresRepository) GetMembership(ctx context.Context, conversationID, userID int64) (*Member, error) {
	query := `
		SELECT ` + memberColumns + `
		FROM conversation_members cm
		JOIN users u ON u.id = cm.user_id
		JOIN conversations c ON c.id = cm.conversation_id
		WHERE cm.conversation_id = $1 AND cm.user_id = $2 AND c.archived_at IS NULL`

	var member Member
	err := database.WithReadRetry(ctx, func() error {
		return r.db.GetContext(ctx, &member, query, conversationID, userID)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotMember
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get membership: %w", err)
	}
	return &member, nil
}

func (r *postgresRepository) ActiveConversationIDs(ctx context.Context, userID int64) ([]int64, error) {
	query := `
		SELECT cm.conversation_id
		FROM conversation_members cm
		JOIN conversations c ON c.id = cm.conversation_id
		WHERE cm.user_id = $1 AND cm.left_at IS NULL AND cm.hidden_at IS NULL
		  AND c.archived_at IS NULL`

	var ids []int64
	err := database.WithReadRetry(ctx, func() error {
		ids = nil
		return r.db.SelectContext(ctx, &ids, query, userID)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list memberships: %w", err)
	}
	return ids, nil
}

func (r *postgresRepository) MarkRead(ctx context.Context, conversationID, userID int64) error {
	query := `
		UPDATE conversation_members SET unread_count = 0, last_read_at = NOW()
		WHERE conversation_id = $1 AND user_id = $2 AND left_at IS NULL`

	res, err := r.db.ExecContext(ctx, query, conversationID, userID)
	if err != nil {
		return fmt.Errorf("failed to mark read: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotMember
	}
	return nil
}

func (r *postgresRepository) ResetUnread(ctx context.Context, conversationID int64, userIDs []int64) error {
	if len(userIDs) == 0 {
		return nil
	}

	query := `
		UPDATE conversation_members SET unread_count = 0, last_read_at = NOW()
		WHERE conversation_id = $1 AND user_id = ANY($2) AND left_at IS NULL`

	if _, err := r.db.ExecContext(ctx, query, conversationID, pq.Array(userIDs)); err != nil {
		return fmt.Errorf("failed to reset unread: %w", err)
	}
	return nil
}

func (r *postgresRepository) TouchLastSeen(ctx context.Context, userID int64, at time.Time) error {
	if _, err := r.db.ExecContext(ctx, `UPDATE users SET last_seen_at = $2 WHERE id = $1`, userID, at); err != nil {
		return fmt.Errorf("failed to update last seen: %w", err)
	}
	return nil
}

// SavePushToken moves a token to its latest owner
func (r *postgresRepository) SavePushToken(ctx context.Context, token *PushToken) error {
	query := `
		INSERT INTO push_tokens (user_id, token, platform)
		VALUES ($1, $2, $3)
		ON CONFLICT (token) DO UPDATE
		SET user_id = EXCLUDED.user_id, platform = EXCLUDED.platform
		RETURNING id, created_at`

	err := r.db.QueryRowxContext(ctx, query, token.UserID, token.Token, token.Platform).
		Scan(&token.ID, &token.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to save push token: %w", err)
	}
	return nil
}

func (r *postgresRepository) DeletePushToken(ctx context.Context, token string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM push_tokens WHERE token = $1`, token); err != nil {
		return fmt.Errorf("failed to delete push token: %w", err)
	}
	return nil
}

func (r *postgresRepository) DeleteUserPushToken(ctx context.Context, userID int64, token string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM push_tokens WHERE user_id = $1 AND token = $2`, userID, token); err != nil {
		return fmt.Errorf("failed to delete push token: %w", err)
	}
	return nil
}

func (r *postgresRepository) GetPushTokens(ctx context.Context, userIDs []int64) ([]*PushToken, error) {
	if len(userIDs) == 0 {
		return nil, nil
	}

	var tokens []*PushToken
	err := database.WithReadRetry(ctx, func() error {
		tokens = nil
		return r.db.SelectContext(ctx, &tokens,
			`SELECT id, user_id, token, platform, created_at FROM push_tokens WHERE user_id = ANY($1)`,
			pq.Array(userIDs))
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get push tokens: %w", err)
	}
	return tokens, nil
}

func cursorArgs(c *Cursor) (interface{}, int64) {
	if c == nil {
		return nil, 0
	}
	return c.SortKey, c.ID
}

func nullableString(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	v := s.String
	return &v
}
