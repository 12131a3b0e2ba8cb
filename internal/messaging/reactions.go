// internal/messaging/reactions.go

package messaging

import (
	"context"

	"github.com/imadgeboyega/kiekky-chat/internal/ratelimit"
)

// ToggleReaction flips the caller's reaction and broadcasts the new
// aggregate. Toggling twice restores the original state. Messages the
// caller cannot see are reported as not found.
func (s *MessageService) ToggleReaction(ctx context.Context, userID int64, conn *ratelimit.Buckets, messageID int64, emoji string) (*ReactionUpdate, error) {
	if s.limiter != nil && s.limiter.IsLimited(ctx, conn, userID, s.config.ReactionRule) {
		return nil, ErrRateLimited
	}

	emoji, err := normalizeEmoji(emoji)
	if err != nil {
		return nil, err
	}
	if messageID <= 0 {
		return nil, ErrMessageNotFound
	}

	update, err := s.repo.ToggleReaction(ctx, messageID, userID, emoji)
	if err != nil {
		return nil, infraOr(err, "failed to toggle reaction")
	}

	direction := "removed"
	if update.Added {
		direction = "added"
	}
	reactionTogglesTotal.WithLabelValues(direction).Inc()

	s.notifier.EmitToRoom(ConversationRoom(update.ConversationID), EventReactionUpdate, update.forRoom())
	return update, nil
}

// forRoom drops the per-viewer flag, which is only true for the actor
func (u *ReactionUpdate) forRoom() *ReactionUpdate {
	out := *u
	out.Reactions = make([]ReactionSummary, len(u.Reactions))
	for i, r := range u.Reactions {
		r.ReactedByMe = false
		out.Reactions[i] = r
	}
	return &out
}
