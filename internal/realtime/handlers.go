// internal/realtime/handlers.go

package realtime

import (
	"context"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/imadgeboyega/kiekky-chat/internal/common/utils"
)

type Handler struct {
	hub        *Hub
	gatekeeper *Gatekeeper
	upgrader   websocket.Upgrader
}

// NewHandler creates the socket endpoint. allowedOrigins empty accepts any origin.
func NewHandler(hub *Hub, gatekeeper *Gatekeeper, allowedOrigins []string) *Handler {
	return &Handler{
		hub:        hub,
		gatekeeper: gatekeeper,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     checkOrigin(allowedOrigins),
		},
	}
}

func RegisterRoutes(router *mux.Router, handler *Handler) {
	router.HandleFunc("/ws", handler.ServeWS).Methods("GET")
}

// ServeWS admits, upgrades and registers a socket connection
func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	// 1. Admission
	claims, err := h.gatekeeper.Admit(r)
	if err != nil {
		var rej *Rejection
		if errors.As(err, &rej) {
			w.Header().Set("X-Error-Id", rej.ErrorID)
			utils.ErrorResponse(w, rej.PublicMessage(), rej.Status)
			return
		}
		utils.ErrorResponse(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	// 2. Upgrade
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.hub.Counter().Abandon(claims.UserID)
		log.Printf("⚠️  Upgrade failed for user %d: %v", claims.UserID, err)
		return
	}

	// 3. Register and start
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	client := NewClient(h.hub, conn, claims.UserID, claims.Username, claims.ID)
	h.hub.Register(ctx, client)
	client.Start()
}

func checkOrigin(allowed []string) func(r *http.Request) bool {
	if len(allowed) == 0 {
		return func(r *http.Request) bool { return true }
	}
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		set[o] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := set[origin]
		return ok
	}
}
