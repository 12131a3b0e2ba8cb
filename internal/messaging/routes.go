// internal/messaging/routes.go

package messaging

import (
	"net/http"

	"github.com/gorilla/mux"
)

// AuthMiddleware wraps handlers that need an authenticated user
type AuthMiddleware func(http.Handler) http.Handler

// RegisterRoutes registers all messaging routes
func RegisterRoutes(router *mux.Router, handler *Handler, authMiddleware AuthMiddleware) {
	api := router.PathPrefix("/api/v1").Subrouter()
	api.Use(mux.MiddlewareFunc(authMiddleware))

	// Conversations
	api.HandleFunc("/conversations", handler.GetConversations).Methods("GET")
	api.HandleFunc("/conversations/direct", handler.CreateDirectChat).Methods("POST")
	api.HandleFunc("/conversations/group", handler.CreateGroupChat).Methods("POST")
	api.HandleFunc("/conversations/{id:[0-9]+}", handler.GetConversation).Methods("GET")
	api.HandleFunc("/conversations/{id:[0-9]+}", handler.DeleteConversation).Methods("DELETE")
	api.HandleFunc("/conversations/{id:[0-9]+}/read", handler.MarkRead).Methods("POST")
	api.HandleFunc("/conversations/{id:[0-9]+}/leave", handler.LeaveConversation).Methods("POST")

	// Members
	api.HandleFunc("/conversations/{id:[0-9]+}/members", handler.AddMembers).Methods("POST")
	api.HandleFunc("/conversations/{id:[0-9]+}/members/{userId:[0-9]+}", handler.RemoveMember).Methods("DELETE")
	api.HandleFunc("/conversations/{id:[0-9]+}/members/{userId:[0-9]+}/role", handler.UpdateMemberRole).Methods("PUT")

	// Messages
	api.HandleFunc("/conversations/{id:[0-9]+}/messages", handler.GetMessages).Methods("GET")
	api.HandleFunc("/conversations/{id:[0-9]+}/messages", handler.SendMessage).Methods("POST")
	api.HandleFunc("/messages/{id:[0-9]+}/reactions", handler.ToggleReaction).Methods("POST")

	// Push tokens
	api.HandleFunc("/push-tokens", handler.RegisterPushToken).Methods("POST")
	api.HandleFunc("/push-tokens", handler.UnregisterPushToken).Methods("DELETE")
}
