// internal/messaging/handlers.go

package messaging

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/imadgeboyega/kiekky-chat/internal/auth"
	"github.com/imadgeboyega/kiekky-chat/internal/common/utils"
)

// maxRequestBodyBytes covers a maximum-length message with every rune
// JSON-escaped, plus attachment URL and meta
const maxRequestBodyBytes = 64 << 10

type Handler struct {
	service Service
}

func NewHandler(service Service) *Handler {
	return &Handler{service: service}
}

// GetConversations lists the caller's conversations
func (h *Handler) GetConversations(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	page, err := h.service.ListConversations(r.Context(), userID, r.URL.Query().Get("cursor"), limit)
	if err != nil {
		utils.AppErrorResponse(w, r, err)
		return
	}

	utils.SuccessResponse(w, page, http.StatusOK)
}

// GetConversation returns one conversation with its members
func (h *Handler) GetConversation(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	conversationID, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	detail, err := h.service.GetConversation(r.Context(), userID, conversationID)
	if err != nil {
		utils.AppErrorResponse(w, r, err)
		return
	}

	utils.SuccessResponse(w, detail, http.StatusOK)
}

// CreateDirectChat opens a one-to-one conversation
func (h *Handler) CreateDirectChat(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	var req CreateDirectChatRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	change, err := h.service.CreateDirectChat(r.Context(), userID, req.Username)
	if err != nil {
		utils.AppErrorResponse(w, r, err)
		return
	}

	status := http.StatusOK
	if change.Created {
		status = http.StatusCreated
	}
	utils.SuccessResponse(w, change, status)
}

// CreateGroupChat creates a group conversation
func (h *Handler) CreateGroupChat(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	var req CreateGroupChatRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	change, err := h.service.CreateGroupChat(r.Context(), userID, req.Name, req.Usernames)
	if err != nil {
		utils.AppErrorResponse(w, r, err)
		return
	}

	utils.SuccessResponse(w, change, http.StatusCreated)
}

// AddMembers adds users to a group
func (h *Handler) AddMembers(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	conversationID, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	var req AddMembersRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	change, err := h.service.AddMembers(r.Context(), userID, conversationID, req.Usernames)
	if err != nil {
		utils.AppErrorResponse(w, r, err)
		return
	}

	utils.SuccessResponse(w, change, http.StatusOK)
}

// RemoveMember removes one user from a group
func (h *Handler) RemoveMember(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	conversationID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	targetID, ok := pathID(w, r, "userId")
	if !ok {
		return
	}

	change, err := h.service.RemoveMembers(r.Context(), userID, conversationID, []int64{targetID})
	if err != nil {
		utils.AppErrorResponse(w, r, err)
		return
	}

	utils.SuccessResponse(w, change, http.StatusOK)
}

// UpdateMemberRole promotes or demotes a member
func (h *Handler) UpdateMemberRole(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	conversationID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	targetID, ok := pathID(w, r, "userId")
	if !ok {
		return
	}

	var req UpdateRoleRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	change, err := h.service.UpdateMemberRole(r.Context(), userID, conversationID, targetID, req.Role)
	if err != nil {
		utils.AppErrorResponse(w, r, err)
		return
	}

	utils.SuccessResponse(w, change, http.StatusOK)
}

// LeaveConversation removes the caller from a group. The body is optional.
func (h *Handler) LeaveConversation(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	conversationID, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	var req LeaveConversationRequest
	if err := decodeBody(w, r, &req); err != nil && !errors.Is(err, io.EOF) {
		bodyErrorResponse(w, err)
		return
	}

	change, err := h.service.LeaveConversation(r.Context(), userID, conversationID, req.DelegateID)
	if err != nil {
		utils.AppErrorResponse(w, r, err)
		return
	}

	utils.SuccessResponse(w, change, http.StatusOK)
}

// DeleteConversation hides the conversation for the caller only
func (h *Handler) DeleteConversation(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	conversationID, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	if err := h.service.HideConversation(r.Context(), userID, conversationID); err != nil {
		utils.AppErrorResponse(w, r, err)
		return
	}

	utils.MessageResponse(w, "Conversation deleted", http.StatusOK)
}

// MarkRead clears the caller's unread counter
func (h *Handler) MarkRead(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	conversationID, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	if err := h.service.MarkRead(r.Context(), userID, conversationID); err != nil {
		utils.AppErrorResponse(w, r, err)
		return
	}

	utils.MessageResponse(w, "Conversation marked as read", http.StatusOK)
}

// GetMessages returns one page of messages
func (h *Handler) GetMessages(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	conversationID, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	page, err := h.service.ListMessages(r.Context(), userID, conversationID, r.URL.Query().Get("cursor"), limit)
	if err != nil {
		utils.AppErrorResponse(w, r, err)
		return
	}

	utils.SuccessResponse(w, page, http.StatusOK)
}

// SendMessage is the HTTP mirror of message:send
func (h *Handler) SendMessage(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	conversationID, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	var req SendMessageRequest
	if err := decodeBody(w, r, &req); err != nil {
		bodyErrorResponse(w, err)
		return
	}
	req.ConversationID = conversationID

	msg, err := h.service.SendMessage(r.Context(), userID, nil, &req)
	if err != nil {
		utils.AppErrorResponse(w, r, err)
		return
	}

	utils.SuccessResponse(w, msg, http.StatusCreated)
}

// ToggleReaction is the HTTP mirror of reaction:toggle
func (h *Handler) ToggleReaction(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	messageID, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	var req struct {
		Emoji string `json:"emoji" validate:"required,max=32"`
	}
	if !decodeAndValidate(w, r, &req) {
		return
	}

	update, err := h.service.ToggleReaction(r.Context(), userID, nil, messageID, req.Emoji)
	if err != nil {
		utils.AppErrorResponse(w, r, err)
		return
	}

	utils.SuccessResponse(w, update, http.StatusOK)
}

// RegisterPushToken stores a device token for the caller
func (h *Handler) RegisterPushToken(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	var req PushTokenRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	if err := h.service.RegisterPushToken(r.Context(), userID, &req); err != nil {
		utils.AppErrorResponse(w, r, err)
		return
	}

	utils.MessageResponse(w, "Push token registered", http.StatusCreated)
}

// UnregisterPushToken removes one of the caller's device tokens
func (h *Handler) UnregisterPushToken(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	var req struct {
		Token string `json:"token" validate:"required"`
	}
	if !decodeAndValidate(w, r, &req) {
		return
	}

	if err := h.service.UnregisterPushToken(r.Context(), userID, req.Token); err != nil {
		utils.AppErrorResponse(w, r, err)
		return
	}

	utils.MessageResponse(w, "Push token removed", http.StatusOK)
}

// Helper functions

func requireUser(w http.ResponseWriter, r *http.Request) (int64, bool) {
	userID, ok := auth.GetUserIDFromContext(r.Context())
	if !ok {
		utils.ErrorResponse(w, "Unauthorized", http.StatusUnauthorized)
	}
	return userID, ok
}

func pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(mux.Vars(r)[name], 10, 64)
	if err != nil || id <= 0 {
		utils.ErrorResponse(w, "Invalid "+name, http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

func decodeAndValidate(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := decodeBody(w, r, dst); err != nil {
		bodyErrorResponse(w, err)
		return false
	}
	if err := utils.ValidateStruct(dst); err != nil {
		utils.AppErrorResponse(w, r, err)
		return false
	}
	return true
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)
	return json.NewDecoder(r.Body).Decode(dst)
}

func bodyErrorResponse(w http.ResponseWriter, err error) {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		utils.ErrorResponse(w, "Request body too large", http.StatusRequestEntityTooLarge)
		return
	}
	utils.ErrorResponse(w, "Invalid request body", http.StatusBadRequest)
}
