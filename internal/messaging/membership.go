// internal/messaging/membership.go
// Conversation and membership lifecycle. Every write runs in one
// transaction that starts by locking the conversation row, so concurrent
// admin operations on the same conversation are serialized. Fan-out
// happens after commit.

package messaging

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/imadgeboyega/kiekky-chat/internal/common/apperr"
)

// CreateDirectChat opens the conversation between the caller and username,
// creating it on first use and revealing it if the caller had hidden it
func (s *MessageService) CreateDirectChat(ctx context.Context, userID int64, username string) (*MembershipChange, error) {
	// 1. Resolve the other participant
	users, err := s.repo.GetUsersByUsernames(ctx, []string{strings.TrimSpace(username)})
	if err != nil {
		return nil, apperr.Transient("failed to create conversation", err)
	}
	if len(users) == 0 {
		return nil, ErrUserNotFound
	}
	target := users[0]
	if target.ID == userID {
		return nil, ErrSelfChat
	}

	key := DirectKey(userID, target.ID)
	change := &MembershipChange{}
	revealed := false

	// 2. Find or create
	err = s.repo.InTx(ctx, func(q Queries) error {
		conv, err := q.FindDirectConversation(ctx, key)
		if errors.Is(err, ErrConversationNotFound) {
			conv = &Conversation{Type: ConversationDirect, DirectKey: &key, CreatedBy: userID}
			inserted, err := q.InsertConversation(ctx, conv)
			if err != nil {
				return err
			}
			if inserted {
				if err := q.UpsertMember(ctx, conv.ID, userID, RoleMember); err != nil {
					return err
				}
				if err := q.UpsertMember(ctx, conv.ID, target.ID, RoleMember); err != nil {
					return err
				}
				change.Created = true
			} else if conv, err = q.FindDirectConversation(ctx, key); err != nil {
				// a concurrent request created it first
				return err
			}
		} else if err != nil {
			return err
		}

		if !change.Created {
			if revealed, err = q.SetMemberHidden(ctx, conv.ID, userID, false); err != nil {
				return err
			}
		}

		members, err := q.ListMembers(ctx, conv.ID)
		if err != nil {
			return err
		}
		change.Conversation = conv
		change.Members = visibleMembers(members)
		return nil
	})
	if err != nil {
		return nil, infraOr(err, "failed to create conversation")
	}

	// 3. Fan out
	room := ConversationRoom(change.Conversation.ID)
	event := change.event()
	switch {
	case change.Created:
		change.Added = []int64{userID, target.ID}
		for _, uid := range change.Added {
			s.notifier.JoinRoom(uid, room)
			s.notifier.EmitToUser(uid, EventConversationCreated, event)
		}
		membershipChangesTotal.WithLabelValues("create_direct").Inc()
		log.Printf("✅ Direct conversation %d created for users %d and %d", change.Conversation.ID, userID, target.ID)
	case revealed:
		s.notifier.JoinRoom(userID, room)
		s.notifier.EmitToUser(userID, EventConversationCreated, event)
	}

	return change, nil
}

// CreateGroupChat creates a group with the caller as its admin
func (s *MessageService) CreateGroupChat(ctx context.Context, userID int64, name string, usernames []string) (*MembershipChange, error) {
	name = s.sanitizer.Text(name)
	if name == "" {
		return nil, ErrEmptyGroupName
	}

	// 1. Resolve participants, excluding the creator
	users, err := s.resolveUsers(ctx, usernames)
	if err != nil {
		return nil, err
	}
	var participants []*UserRef
	for _, u := range users {
		if u.ID != userID {
			participants = append(participants, u)
		}
	}
	if len(participants) == 0 {
		return nil, ErrNoParticipants
	}

	// 2. Create conversation, memberships and the announcement together
	change := &MembershipChange{Created: true}
	err = s.repo.InTx(ctx, func(q Queries) error {
		conv := &Conversation{Type: ConversationGroup, Name: &name, CreatedBy: userID}
		if _, err := q.InsertConversation(ctx, conv); err != nil {
			return err
		}
		if err := q.UpsertMember(ctx, conv.ID, userID, RoleAdmin); err != nil {
			return err
		}
		change.Added = append(change.Added, userID)
		for _, p := range participants {
			if err := q.UpsertMember(ctx, conv.ID, p.ID, RoleMember); err != nil {
				return err
			}
			change.Added = append(change.Added, p.ID)
		}

		sys, err := q.InsertSystemMessage(ctx, conv.ID, userID, fmt.Sprintf("created the group %q", name))
		if err != nil {
			return err
		}

		members, err := q.ListMembers(ctx, conv.ID)
		if err != nil {
			return err
		}
		change.Conversation = conv
		change.Members = visibleMembers(members)
		change.SystemMessage = sys
		return nil
	})
	if err != nil {
		return nil, infraOr(err, "failed to create group")
	}

	// 3. Fan out
	room := ConversationRoom(change.Conversation.ID)
	event := change.event()
	for _, uid := range change.Added {
		s.notifier.JoinRoom(uid, room)
		s.notifier.EmitToUser(uid, EventConversationCreated, event)
	}
	s.notifier.EmitToRoom(room, EventMessageNew, change.SystemMessage)

	membershipChangesTotal.WithLabelValues("create_group").Inc()
	log.Printf("✅ Group %d created by user %d with %d members", change.Conversation.ID, userID, len(change.Added))
	return change, nil
}

// AddMembers adds users to a group. New members only see messages sent
// from now on.
func (s *MessageService) AddMembers(ctx context.Context, actorID, conversationID int64, usernames []string) (*MembershipChange, error) {
	users, err := s.resolveUsers(ctx, usernames)
	if err != nil {
		return nil, err
	}
	if len(users) == 0 {
		return nil, ErrUserNotFound
	}

	change := &MembershipChange{}
	err = s.repo.InTx(ctx, func(q Queries) error {
		conv, members, err := lockGroup(ctx, q, conversationID)
		if err != nil {
			return err
		}
		if _, err := requireManager(members, actorID); err != nil {
			return err
		}

		var names []string
		for _, u := range users {
			if m := findMember(members, u.ID); m != nil && m.Active() {
				continue
			}
			if err := q.UpsertMember(ctx, conversationID, u.ID, RoleMember); err != nil {
				return err
			}
			change.Added = append(change.Added, u.ID)
			names = append(names, "@"+u.Username)
		}
		if len(change.Added) == 0 {
			return ErrAlreadyMembers
		}

		sys, err := q.InsertSystemMessage(ctx, conversationID, actorID, "added "+strings.Join(names, ", "))
		if err != nil {
			return err
		}
		return change.reload(ctx, q, conv, sys)
	})
	if err != nil {
		return nil, infraOr(err, "failed to add members")
	}

	room := ConversationRoom(conversationID)
	event := change.event()
	for _, uid := range change.Added {
		s.notifier.JoinRoom(uid, room)
		s.notifier.EmitToUser(uid, EventConversationCreated, event)
	}
	s.emitUpdated(change, change.Added)
	s.notifier.EmitToRoom(room, EventMessageNew, change.SystemMessage)

	membershipChangesTotal.WithLabelValues("add").Add(float64(len(change.Added)))
	return change, nil
}

// RemoveMembers force-leaves other members of a group
func (s *MessageService) RemoveMembers(ctx context.Context, actorID, conversationID int64, userIDs []int64) (*MembershipChange, error) {
	userIDs = dedupeIDs(userIDs)
	if len(userIDs) == 0 {
		return nil, ErrMemberNotFound
	}

	change := &MembershipChange{}
	err := s.repo.InTx(ctx, func(q Queries) error {
		conv, members, err := lockGroup(ctx, q, conversationID)
		if err != nil {
			return err
		}
		if _, err := requireManager(members, actorID); err != nil {
			return err
		}

		var names []string
		for _, uid := range userIDs {
			if uid == actorID {
				return ErrRemoveSelf
			}
			m := findMember(members, uid)
			if m == nil || !m.Active() {
				return ErrMemberNotFound
			}
			names = append(names, "@"+m.Username)
		}

		if err := q.SetMembersLeft(ctx, conversationID, userIDs); err != nil {
			return err
		}
		change.Removed = userIDs

		sys, err := q.InsertSystemMessage(ctx, conversationID, actorID, "removed "+strings.Join(names, ", "))
		if err != nil {
			return err
		}
		return change.reload(ctx, q, conv, sys)
	})
	if err != nil {
		return nil, infraOr(err, "failed to remove members")
	}

	room := ConversationRoom(conversationID)
	for _, uid := range change.Removed {
		s.notifier.LeaveRoom(uid, room)
		s.notifier.EmitToUser(uid, EventConversationRemoved, &ConversationEvent{ConversationID: conversationID})
	}
	s.emitUpdated(change, nil)
	s.notifier.EmitToRoom(room, EventMessageNew, change.SystemMessage)

	membershipChangesTotal.WithLabelValues("remove").Add(float64(len(change.Removed)))
	return change, nil
}

// LeaveConversation removes the caller from a group. The last admin must
// name a delegate while other members remain. When nobody remains the
// conversation is archived.
func (s *MessageService) LeaveConversation(ctx context.Context, userID, conversationID int64, delegateID *int64) (*MembershipChange, error) {
	change := &MembershipChange{Removed: []int64{userID}}
	archived := false

	err := s.repo.InTx(ctx, func(q Queries) error {
		conv, members, err := lockGroup(ctx, q, conversationID)
		if err != nil {
			return err
		}
		me := findMember(members, userID)
		if me == nil || !me.Active() {
			return ErrNotMember
		}

		var others []*Member
		admins := 0
		for _, m := range members {
			if !m.Active() {
				continue
			}
			if m.Role == RoleAdmin {
				admins++
			}
			if m.UserID != userID {
				others = append(others, m)
			}
		}

		text := "left the conversation"
		if me.Role == RoleAdmin && admins == 1 && len(others) > 0 {
			if delegateID == nil {
				return ErrDelegateRequired
			}
			delegate := findMember(others, *delegateID)
			if delegate == nil {
				return ErrInvalidDelegate
			}
			if err := q.SetMemberRole(ctx, conversationID, delegate.UserID, RoleAdmin); err != nil {
				return err
			}
			text = fmt.Sprintf("left the conversation and made @%s an admin", delegate.Username)
		}

		if err := q.SetMembersLeft(ctx, conversationID, []int64{userID}); err != nil {
			return err
		}

		if len(others) == 0 {
			archived = true
			if err := q.ArchiveConversation(ctx, conversationID); err != nil {
				return err
			}
			return change.reload(ctx, q, conv, nil)
		}

		sys, err := q.InsertSystemMessage(ctx, conversationID, userID, text)
		if err != nil {
			return err
		}
		return change.reload(ctx, q, conv, sys)
	})
	if err != nil {
		return nil, infraOr(err, "failed to leave conversation")
	}

	room := ConversationRoom(conversationID)
	s.notifier.LeaveRoom(userID, room)
	s.notifier.EmitToUser(userID, EventConversationRemoved, &ConversationEvent{ConversationID: conversationID})
	if !archived {
		s.emitUpdated(change, nil)
		s.notifier.EmitToRoom(room, EventMessageNew, change.SystemMessage)
	} else {
		log.Printf("Conversation %d archived, last member %d left", conversationID, userID)
	}

	membershipChangesTotal.WithLabelValues("leave").Inc()
	return change, nil
}

// UpdateMemberRole promotes or demotes a group member
func (s *MessageService) UpdateMemberRole(ctx context.Context, actorID, conversationID, targetID int64, role MemberRole) (*MembershipChange, error) {
	if role != RoleAdmin && role != RoleMember {
		return nil, apperr.Validation("role must be member or admin")
	}

	change := &MembershipChange{}
	noop := false

	err := s.repo.InTx(ctx, func(q Queries) error {
		conv, members, err := lockGroup(ctx, q, conversationID)
		if err != nil {
			return err
		}
		actor := findMember(members, actorID)
		if actor == nil || !actor.Active() {
			return ErrNotMember
		}
		if actor.Role != RoleAdmin {
			return ErrAdminRequired
		}

		target := findMember(members, targetID)
		if target == nil || !target.Active() {
			return ErrMemberNotFound
		}
		if target.Role == role {
			noop = true
			return change.reload(ctx, q, conv, nil)
		}
		if role == RoleMember && countAdmins(members) == 1 {
			return ErrLastAdmin
		}

		if err := q.SetMemberRole(ctx, conversationID, targetID, role); err != nil {
			return err
		}

		text := fmt.Sprintf("made @%s an admin", target.Username)
		if role == RoleMember {
			text = fmt.Sprintf("removed @%s as admin", target.Username)
		}
		sys, err := q.InsertSystemMessage(ctx, conversationID, actorID, text)
		if err != nil {
			return err
		}
		return change.reload(ctx, q, conv, sys)
	})
	if err != nil {
		return nil, infraOr(err, "failed to update role")
	}

	if !noop {
		s.emitUpdated(change, nil)
		s.notifier.EmitToRoom(ConversationRoom(conversationID), EventMessageNew, change.SystemMessage)
		membershipChangesTotal.WithLabelValues("role").Inc()
	}
	return change, nil
}

// emitUpdated sends conversation:updated to visible members, skipping the
// ones that just received conversation:created
func (s *MessageService) emitUpdated(change *MembershipChange, skip []int64) {
	event := change.event()
	for _, m := range excludeMembers(change.Members, skip) {
		s.notifier.EmitToUser(m.UserID, EventConversationUpdated, event)
	}
}

// resolveUsers dedupes case-insensitively and drops unknown names
func (s *MessageService) resolveUsers(ctx context.Context, usernames []string) ([]*UserRef, error) {
	seen := make(map[string]struct{}, len(usernames))
	var names []string
	for _, name := range usernames {
		name = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(name), "@"))
		key := strings.ToLower(name)
		if name == "" {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		names = append(names, name)
	}
	if len(names) == 0 {
		return nil, nil
	}

	users, err := s.repo.GetUsersByUsernames(ctx, names)
	if err != nil {
		return nil, apperr.Transient("failed to resolve users", err)
	}
	return users, nil
}

func (c *MembershipChange) reload(ctx context.Context, q Queries, conv *Conversation, sys *Message) error {
	members, err := q.ListMembers(ctx, conv.ID)
	if err != nil {
		return err
	}
	c.Conversation = conv
	c.Members = visibleMembers(members)
	c.SystemMessage = sys
	return nil
}

func (c *MembershipChange) event() *ConversationEvent {
	return &ConversationEvent{
		ConversationID: c.Conversation.ID,
		Conversation:   c.Conversation,
		Members:        c.Members,
	}
}

// lockGroup locks a live group conversation and loads its members
func lockGroup(ctx context.Context, q Queries, conversationID int64) (*Conversation, []*Member, error) {
	conv, err := q.LockConversation(ctx, conversationID)
	if err != nil {
		return nil, nil, err
	}
	if conv.ArchivedAt != nil {
		return nil, nil, ErrConversationNotFound
	}
	if conv.Type != ConversationGroup {
		return nil, nil, ErrDirectMembership
	}

	members, err := q.ListMembers(ctx, conversationID)
	if err != nil {
		return nil, nil, err
	}
	return conv, members, nil
}

// requireManager allows admins, or any member while the group has no admin
func requireManager(members []*Member, actorID int64) (*Member, error) {
	actor := findMember(members, actorID)
	if actor == nil || !actor.Active() {
		return nil, ErrNotMember
	}
	if countAdmins(members) > 0 && actor.Role != RoleAdmin {
		return nil, ErrAdminRequired
	}
	return actor, nil
}

func findMember(members []*Member, userID int64) *Member {
	for _, m := range members {
		if m.UserID == userID {
			return m
		}
	}
	return nil
}

func countAdmins(members []*Member) int {
	n := 0
	for _, m := range members {
		if m.Active() && m.Role == RoleAdmin {
			n++
		}
	}
	return n
}

func excludeMembers(members []*Member, skip []int64) []*Member {
	if len(skip) == 0 {
		return members
	}
	out := make([]*Member, 0, len(members))
	for _, m := range members {
		keep := true
		for _, id := range skip {
			if m.UserID == id {
				keep = false
				break
			}
		}
		if keep {
			out = append(out, m)
		}
	}
	return out
}

func dedupeIDs(ids []int64) []int64 {
	seen := make(map[int64]struct{}, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok || id <= 0 {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
