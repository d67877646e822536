package session

import (
	"context"
	"log"
	"net/http"

	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel/attribute"

	"research-notes/internal/middleware"
	"research-notes/internal/models"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// WebSocketHandler streams session changes to the browser
type WebSocketHandler struct {
	manager *Manager
}

// NewWebSocketHandler creates a new WebSocket handler
func NewWebSocketHandler(manager *Manager) *WebSocketHandler {
	return &WebSocketHandler{manager: manager}
}

// HandleEvents upgrades the request and attaches the connection to the
// caller's session. The first frames carry the current tree, document and
// trash so the client starts from a complete picture.
func (h *WebSocketHandler) HandleEvents(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())

	ctx, span := middleware.StartSpan(r.Context(), "WebSocket.Connect",
		attribute.String("user.id", userID),
	)
	defer span.End()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("Failed to upgrade WebSocket: %v", err)
		middleware.AddSpanError(ctx, err)
		return
	}

	s := h.manager.Get(userID)
	client := newClient(s, conn)
	if !s.attach(client) {
		conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "session closed"))
		conn.Close()
		return
	}

	for _, kind := range []models.MessageType{models.MessageTypeTree, models.MessageTypeDoc, models.MessageTypeTrash} {
		s.changed(kind)
	}

	// the request context ends when this handler returns
	pumpCtx := context.WithoutCancel(ctx)
	go client.WritePump(pumpCtx)
	go client.ReadPump(pumpCtx)

	log.Printf("✓ WebSocket connection %s established for user %s", client.ID, userID)
}
