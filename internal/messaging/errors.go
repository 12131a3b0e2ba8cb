// internal/messaging/errors.go

package messaging

import "github.com/imadgeboyega/kiekky-chat/internal/common/apperr"

var (
	ErrConversationNotFound = apperr.NotFound("conversation not found")
	ErrMessageNotFound      = apperr.NotFound("message not found")
	ErrUserNotFound         = apperr.NotFound("user not found")
	ErrMemberNotFound       = apperr.NotFound("member not found")

	ErrNotMember     = apperr.Forbidden("you are not a member of this conversation")
	ErrAdminRequired = apperr.Forbidden("only admins can do this")

	ErrRateLimited = apperr.RateLimited("too many requests, slow down")
	ErrInFlight    = apperr.Conflict("a message with this client id is still being processed")

	ErrInvalidReply       = apperr.Validation("reply target must be a message in the same conversation")
	ErrEmptyContent       = apperr.Validation("message content is required")
	ErrContentTooLong     = apperr.Validation("message content is too long")
	ErrSystemMessage      = apperr.Validation("system messages cannot be sent by clients")
	ErrAttachmentRequired = apperr.Validation("an attachment is required for this message type")
	ErrInvalidAttachment  = apperr.Validation("attachment url is invalid")
	ErrAttachmentMeta     = apperr.Validation("attachment metadata is invalid or too large")
	ErrAttachmentTooLarge = apperr.Validation("attachment is too large")
	ErrAttachmentMissing  = apperr.Validation("attachment does not exist")
	ErrInvalidEmoji       = apperr.Validation("emoji is invalid")
	ErrInvalidCursor      = apperr.Validation("invalid cursor")
	ErrSelfChat           = apperr.Validation("you cannot start a conversation with yourself")
	ErrNoParticipants     = apperr.Validation("at least one other participant is required")
	ErrEmptyGroupName     = apperr.Validation("group name is required")
	ErrDirectMembership   = apperr.Validation("direct conversations have fixed members")
	ErrAlreadyMembers     = apperr.Validation("all users are already members")
	ErrRemoveSelf         = apperr.Validation("use leave to remove yourself")
	ErrDelegateRequired   = apperr.Validation("you are the last admin, choose a member to take over")
	ErrInvalidDelegate    = apperr.Validation("delegate must be an active member of the conversation")
	ErrLastAdmin          = apperr.Validation("the last admin cannot be demoted, promote another member first")
)
