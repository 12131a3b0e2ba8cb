// internal/auth/handlers.go

package auth

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/imadgeboyega/kiekky-chat/internal/common/utils"
)

// Handler holds dependencies for auth endpoints
type Handler struct {
	service Service
}

// NewHandler creates a new auth handler
func NewHandler(service Service) *Handler {
	return &Handler{
		service: service,
	}
}

// RegisterRoutes registers all auth routes with the router
func (h *Handler) RegisterRoutes(router *mux.Router, middleware *Middleware) {
	auth := router.PathPrefix("/api/auth").Subrouter()

	// Public routes
	auth.HandleFunc("/register", h.Register).Methods("POST")
	auth.HandleFunc("/login", h.Login).Methods("POST")

	// Protected routes
	auth.Handle("/logout", middleware.Authenticate(http.HandlerFunc(h.Logout))).Methods("POST")
	auth.Handle("/logout-all", middleware.Authenticate(http.HandlerFunc(h.LogoutAll))).Methods("POST")
	auth.Handle("/me", middleware.Authenticate(http.HandlerFunc(h.Me))).Methods("GET")
}

// Register handles account creation
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.ErrorResponse(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if err := utils.ValidateStruct(req); err != nil {
		utils.AppErrorResponse(w, r, err)
		return
	}

	response, err := h.service.Register(r.Context(), &req)
	if err != nil {
		utils.AppErrorResponse(w, r, err)
		return
	}

	utils.SuccessResponse(w, response, http.StatusCreated)
}

// Login handles password login
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.ErrorResponse(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if err := utils.ValidateStruct(req); err != nil {
		utils.AppErrorResponse(w, r, err)
		return
	}

	response, err := h.service.Login(r.Context(), &req)
	if err != nil {
		utils.AppErrorResponse(w, r, err)
		return
	}

	utils.SuccessResponse(w, response, http.StatusOK)
}

// Logout revokes the token used for this request
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	claims, ok := GetClaimsFromContext(r.Context())
	if !ok {
		utils.ErrorResponse(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	if err := h.service.Logout(r.Context(), claims); err != nil {
		utils.AppErrorResponse(w, r, err)
		return
	}

	utils.MessageResponse(w, "Logged out successfully", http.StatusOK)
}

// LogoutAll revokes all tokens of the current user
func (h *Handler) LogoutAll(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetUserIDFromContext(r.Context())
	if !ok {
		utils.ErrorResponse(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	if err := h.service.LogoutAll(r.Context(), userID); err != nil {
		utils.AppErrorResponse(w, r, err)
		return
	}

	utils.MessageResponse(w, "Logged out from all devices", http.StatusOK)
}

// Me returns the current user
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetUserIDFromContext(r.Context())
	if !ok {
		utils.ErrorResponse(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	user, err := h.service.GetUserByID(r.Context(), userID)
	if err != nil {
		utils.AppErrorResponse(w, r, err)
		return
	}

	utils.SuccessResponse(w, user, http.StatusOK)
}
