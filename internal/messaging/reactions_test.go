package messaging

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToggleReaction_Involution(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	convID := env.group(t, alice, "bob")
	msg := env.send(t, alice, convID, "ship it")

	added, err := env.svc.ToggleReaction(ctx, bob, nil, msg.ID, "👍")
	require.NoError(t, err)
	assert.True(t, added.Added)
	require.Len(t, added.Reactions, 1)
	assert.Equal(t, ReactionSummary{Emoji: "👍", Count: 1, ReactedByMe: true, Usernames: []string{"bob"}}, added.Reactions[0])

	removed, err := env.svc.ToggleReaction(ctx, bob, nil, msg.ID, " 👍 ")
	require.NoError(t, err)
	assert.False(t, removed.Added)
	assert.Empty(t, removed.Reactions)
}

func TestToggleReaction_Aggregates(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	convID := env.group(t, alice, "bob", "carol")
	msg := env.send(t, alice, convID, "lunch?")

	for _, r := range []struct {
		user  int64
		emoji string
	}{
		{bob, "🍕"},
		{carol, "🍕"},
		{carol, "🌮"},
	} {
		_, err := env.svc.ToggleReaction(ctx, r.user, nil, msg.ID, r.emoji)
		require.NoError(t, err)
	}

	update, err := env.svc.ToggleReaction(ctx, alice, nil, msg.ID, "🍕")
	require.NoError(t, err)
	require.Len(t, update.Reactions, 2)
	assert.Equal(t, 3, update.Reactions[0].Count)
	assert.ElementsMatch(t, []string{"alice", "bob", "carol"}, update.Reactions[0].Usernames)
	assert.True(t, update.Reactions[0].ReactedByMe)
	assert.Equal(t, 1, update.Reactions[1].Count)
	assert.False(t, update.Reactions[1].ReactedByMe)

	page, err := env.svc.ListMessages(ctx, carol, convID, "", 0)
	require.NoError(t, err)
	require.NotEmpty(t, page.Messages)
	assert.Equal(t, msg.ID, page.Messages[0].ID)
	require.Len(t, page.Messages[0].Reactions, 2)
	assert.True(t, page.Messages[0].Reactions[1].ReactedByMe, "carol reacted with 🌮")
}

func TestToggleReaction_BroadcastOmitsViewerFlag(t *testing.T) {
	env := newTestEnv(t)
	convID := env.group(t, alice, "bob")
	msg := env.send(t, alice, convID, "hello")
	env.notifier.reset()

	update, err := env.svc.ToggleReaction(context.Background(), bob, nil, msg.ID, "❤️")
	require.NoError(t, err)
	assert.True(t, update.Reactions[0].ReactedByMe)

	require.Equal(t, []string{ConversationRoom(convID)}, env.notifier.targets(EventReactionUpdate))
	broadcast, ok := env.notifier.events[0].payload.(*ReactionUpdate)
	require.True(t, ok)
	assert.False(t, broadcast.Reactions[0].ReactedByMe)
	assert.Equal(t, bob, broadcast.UserID)
	assert.True(t, broadcast.Added)
}

func TestToggleReaction_HiddenFromOutsiders(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	convID := env.group(t, alice, "bob")
	msg := env.send(t, alice, convID, "private")

	_, err := env.svc.ToggleReaction(ctx, dave, nil, msg.ID, "👀")
	assert.ErrorIs(t, err, ErrMessageNotFound)

	_, err = env.svc.ToggleReaction(ctx, alice, nil, 9999, "👀")
	assert.ErrorIs(t, err, ErrMessageNotFound)

	// a member added later cannot react to history
	_, err = env.svc.AddMembers(ctx, alice, convID, []string{"carol"})
	require.NoError(t, err)
	_, err = env.svc.ToggleReaction(ctx, carol, nil, msg.ID, "👀")
	assert.ErrorIs(t, err, ErrMessageNotFound)
}

func TestToggleReaction_InvalidEmoji(t *testing.T) {
	env := newTestEnv(t)
	convID := env.group(t, alice, "bob")
	msg := env.send(t, alice, convID, "hello")

	for _, emoji := range []string{"", "   ", "this is far too long to be a single reaction"} {
		_, err := env.svc.ToggleReaction(context.Background(), bob, nil, msg.ID, emoji)
		assert.ErrorIs(t, err, ErrInvalidEmoji, "emoji %q", emoji)
	}
}
