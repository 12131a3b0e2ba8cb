package messaging

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"
)

// memoryRepo is an in-memory Repository with the same visibility and
// counter rules as the SQL statements. Transactions are serialized and
// rolled back from a snapshot on error.
type memoryRepo struct {
	txMu sync.Mutex
	mu   sync.Mutex
	base time.Time
	tick time.Duration

	users      map[int64]*UserRef
	lastSeen   map[int64]time.Time
	convs      map[int64]*Conversation
	members    map[int64]map[int64]*Member
	messages   []*Message
	reactions  map[int64][]reactionRow
	pushTokens map[string]*PushToken
	nextConv   int64
	nextMsg    int64

	createErr   error
	createCalls int
}

type reactionRow struct {
	userID int64
	emoji  string
	at     time.Time
}

func newMemoryRepo() *memoryRepo {
	r := &memoryRepo{
		base:       time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC),
		users:      make(map[int64]*UserRef),
		lastSeen:   make(map[int64]time.Time),
		convs:      make(map[int64]*Conversation),
		members:    make(map[int64]map[int64]*Member),
		reactions:  make(map[int64][]reactionRow),
		pushTokens: make(map[string]*PushToken),
	}
	for i, name := range []string{"alice", "bob", "carol", "dave", "erin"} {
		id := int64(i + 1)
		r.users[id] = &UserRef{ID: id, Username: name}
	}
	return r
}

// now advances by one millisecond per call so every write is ordered
func (r *memoryRepo) now() time.Time {
	r.tick += time.Millisecond
	return r.base.Add(r.tick)
}

type memorySnapshot struct {
	convs      map[int64]Conversation
	members    map[int64]map[int64]Member
	messages   []Message
	reactions  map[int64][]reactionRow
	nextConv   int64
	nextMsg    int64
	pushTokens map[string]PushToken
}

func (r *memoryRepo) snapshot() *memorySnapshot {
	s := &memorySnapshot{
		convs:      make(map[int64]Conversation),
		members:    make(map[int64]map[int64]Member),
		reactions:  make(map[int64][]reactionRow),
		pushTokens: make(map[string]PushToken),
		nextConv:   r.nextConv,
		nextMsg:    r.nextMsg,
	}
	for id, c := range r.convs {
		s.convs[id] = *c
	}
	for cid, ms := range r.members {
		s.members[cid] = make(map[int64]Member)
		for uid, m := range ms {
			s.members[cid][uid] = *m
		}
	}
	for _, m := range r.messages {
		s.messages = append(s.messages, *m)
	}
	for id, rows := range r.reactions {
		s.reactions[id] = append([]reactionRow(nil), rows...)
	}
	for k, t := range r.pushTokens {
		s.pushTokens[k] = *t
	}
	return s
}

func (r *memoryRepo) restore(s *memorySnapshot) {
	r.convs = make(map[int64]*Conversation)
	for id, c := range s.convs {
		c := c
		r.convs[id] = &c
	}
	r.members = make(map[int64]map[int64]*Member)
	for cid, ms := range s.members {
		r.members[cid] = make(map[int64]*Member)
		for uid, m := range ms {
			m := m
			r.members[cid][uid] = &m
		}
	}
	r.messages = nil
	for _, m := range s.messages {
		m := m
		r.messages = append(r.messages, &m)
	}
	r.reactions = s.reactions
	r.pushTokens = make(map[string]*PushToken)
	for k, t := range s.pushTokens {
		t := t
		r.pushTokens[k] = &t
	}
	r.nextConv = s.nextConv
	r.nextMsg = s.nextMsg
}

func (r *memoryRepo) InTx(ctx context.Context, fn func(q Queries) error) error {
	r.txMu.Lock()
	defer r.txMu.Unlock()

	r.mu.Lock()
	snap := r.snapshot()
	r.mu.Unlock()

	if err := fn(r); err != nil {
		r.mu.Lock()
		r.restore(snap)
		r.mu.Unlock()
		return err
	}
	return nil
}

// Queries

func (r *memoryRepo) GetConversation(ctx context.Context, id int64) (*Conversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.convs[id]
	if !ok {
		return nil, ErrConversationNotFound
	}
	copied := *c
	return &copied, nil
}

func (r *memoryRepo) LockConversation(ctx context.Context, id int64) (*Conversation, error) {
	return r.GetConversation(ctx, id)
}

func (r *memoryRepo) FindDirectConversation(ctx context.Context, directKey string) (*Conversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.convs {
		if c.DirectKey != nil && *c.DirectKey == directKey {
			copied := *c
			return &copied, nil
		}
	}
	return nil, ErrConversationNotFound
}

func (r *memoryRepo) InsertConversation(ctx context.Context, c *Conversation) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c.DirectKey != nil {
		for _, existing := range r.convs {
			if existing.DirectKey != nil && *existing.DirectKey == *c.DirectKey {
				return false, nil
			}
		}
	}
	r.nextConv++
	now := r.now()
	c.ID = r.nextConv
	c.CreatedAt = now
	c.UpdatedAt = now
	copied := *c
	r.convs[c.ID] = &copied
	r.members[c.ID] = make(map[int64]*Member)
	return true, nil
}

func (r *memoryRepo) ArchiveConversation(ctx context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	r.convs[id].ArchivedAt = &now
	return nil
}

func (r *memoryRepo) ListMembers(ctx context.Context, conversationID int64) ([]*Member, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.listMembers(conversationID), nil
}

func (r *memoryRepo) listMembers(conversationID int64) []*Member {
	var out []*Member
	for _, m := range r.members[conversationID] {
		copied := *m
		copied.Username = r.users[m.UserID].Username
		out = append(out, &copied)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].JoinedAt.Equal(out[j].JoinedAt) {
			return out[i].JoinedAt.Before(out[j].JoinedAt)
		}
		return out[i].UserID < out[j].UserID
	})
	return out
}

func (r *memoryRepo) UpsertMember(ctx context.Context, conversationID, userID int64, role MemberRole) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	if m, ok := r.members[conversationID][userID]; ok {
		if m.Active() {
			return nil
		}
		*m = Member{ConversationID: conversationID, UserID: userID, Role: role, JoinedAt: now, ClearedAt: &now}
		return nil
	}
	r.members[conversationID][userID] = &Member{
		ConversationID: conversationID, UserID: userID, Role: role, JoinedAt: now, ClearedAt: &now,
	}
	return nil
}

func (r *memoryRepo) SetMembersLeft(ctx context.Context, conversationID int64, userIDs []int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	for _, uid := range userIDs {
		if m, ok := r.members[conversationID][uid]; ok && m.Active() {
			m.LeftAt = &now
			m.Role = RoleMember
			m.UnreadCount = 0
		}
	}
	return nil
}

func (r *memoryRepo) SetMemberRole(ctx context.Context, conversationID, userID int64, role MemberRole) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.members[conversationID][userID]
	if !ok || !m.Active() {
		return ErrMemberNotFound
	}
	m.Role = role
	return nil
}

func (r *memoryRepo) SetMemberHidden(ctx context.Context, conversationID, userID int64, hidden bool) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.members[conversationID][userID]
	if !ok || !m.Active() {
		return false, nil
	}
	if hidden {
		now := r.now()
		m.HiddenAt = &now
		m.ClearedAt = &now
		m.UnreadCount = 0
		return true, nil
	}
	if m.HiddenAt == nil {
		return false, nil
	}
	m.HiddenAt = nil
	return true, nil
}

func (r *memoryRepo) InsertSystemMessage(ctx context.Context, conversationID, actorID int64, content string) (*Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextMsg++
	msg := &Message{
		ID:             r.nextMsg,
		ConversationID: conversationID,
		SenderID:       actorID,
		SenderUsername: r.users[actorID].Username,
		Content:        content,
		Type:           MessageSystem,
		CreatedAt:      r.now(),
	}
	r.messages = append(r.messages, msg)
	r.convs[conversationID].UpdatedAt = msg.CreatedAt
	copied := *msg
	return &copied, nil
}

func (r *memoryRepo) GetUsersByUsernames(ctx context.Context, usernames []string) ([]*UserRef, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*UserRef
	for _, name := range usernames {
		for _, u := range r.users {
			if strings.EqualFold(u.Username, name) {
				copied := *u
				out = append(out, &copied)
			}
		}
	}
	return out, nil
}

// Repository

func (r *memoryRepo) CreateMessage(ctx context.Context, in *NewMessage) (*CreateMessageResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.createCalls++
	if r.createErr != nil {
		return nil, r.createErr
	}

	res := &CreateMessageResult{}
	conv := r.convs[in.ConversationID]
	sender := r.members[in.ConversationID][in.SenderID]
	res.IsMember = conv != nil && conv.ArchivedAt == nil && sender != nil && sender.Active()

	var reply *Message
	if in.ReplyToID != nil {
		for _, m := range r.messages {
			if m.ID == *in.ReplyToID && m.ConversationID == in.ConversationID {
				reply = m
			}
		}
	}
	res.ReplyValid = in.ReplyToID == nil || reply != nil
	if !res.IsMember || !res.ReplyValid {
		return res, nil
	}

	r.nextMsg++
	msg := &Message{
		ID:             r.nextMsg,
		ConversationID: in.ConversationID,
		SenderID:       in.SenderID,
		SenderUsername: r.users[in.SenderID].Username,
		Content:        in.Content,
		Type:           in.Type,
		AttachmentURL:  in.AttachmentURL,
		AttachmentMeta: in.AttachmentMeta,
		ReplyToID:      in.ReplyToID,
		CreatedAt:      r.now(),
	}
	if reply != nil {
		msg.ReplyTo = &ReplySnapshot{
			ID: reply.ID, SenderID: reply.SenderID, SenderUsername: reply.SenderUsername,
			Content: reply.Content, Type: reply.Type,
		}
	}
	r.messages = append(r.messages, msg)

	for _, m := range r.listMembers(in.ConversationID) {
		if !m.Active() {
			continue
		}
		row := r.members[in.ConversationID][m.UserID]
		if row.HiddenAt != nil {
			res.UnhiddenIDs = append(res.UnhiddenIDs, m.UserID)
			row.HiddenAt = nil
		}
		if m.UserID == in.SenderID {
			row.UnreadCount = 0
			continue
		}
		row.UnreadCount++
		res.RecipientIDs = append(res.RecipientIDs, m.UserID)
	}
	conv.UpdatedAt = msg.CreatedAt

	res.ConversationType = conv.Type
	res.ConversationName = conv.Name
	copied := *msg
	res.Message = &copied
	return res, nil
}

func (r *memoryRepo) ToggleReaction(ctx context.Context, messageID, userID int64, emoji string) (*ReactionUpdate, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	msg := r.findMessage(messageID)
	if msg == nil || !r.canSee(msg, userID) {
		return nil, ErrMessageNotFound
	}

	update := &ReactionUpdate{MessageID: messageID, ConversationID: msg.ConversationID, UserID: userID, Emoji: emoji}
	rows := r.reactions[messageID]
	removed := false
	for i, row := range rows {
		if row.userID == userID && row.emoji == emoji {
			r.reactions[messageID] = append(rows[:i:i], rows[i+1:]...)
			removed = true
			break
		}
	}
	if !removed {
		r.reactions[messageID] = append(rows, reactionRow{userID: userID, emoji: emoji, at: r.now()})
		update.Added = true
	}

	update.Reactions = r.aggregate(messageID, userID)
	return update, nil
}

func (r *memoryRepo) aggregate(messageID, viewerID int64) []ReactionSummary {
	order := []string{}
	byEmoji := map[string]*ReactionSummary{}
	for _, row := range r.reactions[messageID] {
		s, ok := byEmoji[row.emoji]
		if !ok {
			s = &ReactionSummary{Emoji: row.emoji}
			byEmoji[row.emoji] = s
			order = append(order, row.emoji)
		}
		s.Count++
		s.Usernames = append(s.Usernames, r.users[row.userID].Username)
		if row.userID == viewerID {
			s.ReactedByMe = true
		}
	}
	out := []ReactionSummary{}
	for _, emoji := range order {
		out = append(out, *byEmoji[emoji])
	}
	return out
}

func (r *memoryRepo) findMessage(id int64) *Message {
	for _, m := range r.messages {
		if m.ID == id {
			return m
		}
	}
	return nil
}

// canSee applies membership and the visibility horizon
func (r *memoryRepo) canSee(msg *Message, userID int64) bool {
	conv := r.convs[msg.ConversationID]
	m, ok := r.members[msg.ConversationID][userID]
	if !ok || !m.Active() || conv.ArchivedAt != nil {
		return false
	}
	return m.ClearedAt == nil || msg.CreatedAt.After(*m.ClearedAt)
}

func (r *memoryRepo) ListConversations(ctx context.Context, userID int64, cursor *Cursor, limit int) ([]*ConversationSummary, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*ConversationSummary
	for id, conv := range r.convs {
		m, ok := r.members[id][userID]
		if !ok || !m.Visible() || conv.ArchivedAt != nil {
			continue
		}
		if !cursor.Before(conv.UpdatedAt, conv.ID) {
			continue
		}
		s := &ConversationSummary{Conversation: *conv, Role: m.Role, UnreadCount: m.UnreadCount}
		for i := len(r.messages) - 1; i >= 0; i-- {
			msg := r.messages[i]
			if msg.ConversationID == id && r.canSee(msg, userID) {
				s.LastMessage = &MessagePreview{ID: msg.ID, SenderID: msg.SenderID, Content: msg.Content, Type: msg.Type, CreatedAt: msg.CreatedAt}
				break
			}
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.After(out[j].UpdatedAt)
		}
		return out[i].ID > out[j].ID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *memoryRepo) ListMessages(ctx context.Context, conversationID, userID int64, cursor *Cursor, limit int) ([]*Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*Message
	for _, msg := range r.messages {
		if msg.ConversationID != conversationID || !r.canSee(msg, userID) {
			continue
		}
		if !cursor.Before(msg.CreatedAt, msg.ID) {
			continue
		}
		copied := *msg
		out = append(out, &copied)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *memoryRepo) GetReactions(ctx context.Context, messageIDs []int64, userID int64) (map[int64][]ReactionSummary, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[int64][]ReactionSummary)
	for _, id := range messageIDs {
		if agg := r.aggregate(id, userID); len(agg) > 0 {
			out[id] = agg
		}
	}
	return out, nil
}

func (r *memoryRepo) GetMembership(ctx context.Context, conversationID, userID int64) (*Member, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	conv, ok := r.convs[conversationID]
	m, found := r.members[conversationID][userID]
	if !ok || !found || conv.ArchivedAt != nil {
		return nil, ErrNotMember
	}
	copied := *m
	copied.Username = r.users[userID].Username
	return &copied, nil
}

func (r *memoryRepo) ActiveConversationIDs(ctx context.Context, userID int64) ([]int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var ids []int64
	for id, conv := range r.convs {
		if m, ok := r.members[id][userID]; ok && m.Visible() && conv.ArchivedAt == nil {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (r *memoryRepo) MarkRead(ctx context.Context, conversationID, userID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.members[conversationID][userID]
	if !ok || !m.Active() {
		return ErrNotMember
	}
	m.UnreadCount = 0
	return nil
}

func (r *memoryRepo) ResetUnread(ctx context.Context, conversationID int64, userIDs []int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, uid := range userIDs {
		if m, ok := r.members[conversationID][uid]; ok && m.Active() {
			m.UnreadCount = 0
		}
	}
	return nil
}

func (r *memoryRepo) TouchLastSeen(ctx context.Context, userID int64, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastSeen[userID] = at
	return nil
}

func (r *memoryRepo) SavePushToken(ctx context.Context, token *PushToken) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	copied := *token
	r.pushTokens[token.Token] = &copied
	return nil
}

func (r *memoryRepo) DeletePushToken(ctx context.Context, token string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.pushTokens, token)
	return nil
}

func (r *memoryRepo) DeleteUserPushToken(ctx context.Context, userID int64, token string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.pushTokens[token]; ok && t.UserID == userID {
		delete(r.pushTokens, token)
	}
	return nil
}

func (r *memoryRepo) GetPushTokens(ctx context.Context, userIDs []int64) ([]*PushToken, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*PushToken
	for _, t := range r.pushTokens {
		for _, uid := range userIDs {
			if t.UserID == uid {
				copied := *t
				out = append(out, &copied)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Token < out[j].Token })
	return out, nil
}

// test helpers

func (r *memoryRepo) member(conversationID, userID int64) *Member {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.members[conversationID][userID]
	if !ok {
		return nil
	}
	copied := *m
	return &copied
}

func (r *memoryRepo) messageCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.messages)
}

// insertMessageAt places a message with a fixed timestamp
func (r *memoryRepo) insertMessageAt(conversationID, senderID int64, content string, at time.Time) *Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextMsg++
	msg := &Message{
		ID: r.nextMsg, ConversationID: conversationID, SenderID: senderID,
		SenderUsername: r.users[senderID].Username, Content: content, Type: MessageText, CreatedAt: at,
	}
	r.messages = append(r.messages, msg)
	return msg
}

var errDatabaseDown = errors.New("connection refused")
