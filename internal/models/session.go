package models

import (
	"time"

	"github.com/google/uuid"
)

// Connection represents one websocket attached to a user's session
type Connection struct {
	ID           string    `json:"id"`
	UserID       string    `json:"user_id"`
	ConnectedAt  time.Time `json:"connected_at"`
	LastActiveAt time.Time `json:"last_active_at"`
}

// MessageType tags frames pushed to session websockets
type MessageType string

const (
	MessageTypeTree         MessageType = "tree"         // a forest changed
	MessageTypeDoc          MessageType = "doc"          // the open document changed
	MessageTypeTrash        MessageType = "trash"        // the trash listing changed
	MessageTypeNotification MessageType = "notification" // toast for the user
	MessageTypeEvent        MessageType = "event"        // passthrough row change (chats, comments)
)

// Message is a single outbound websocket frame
type Message struct {
	Type    MessageType `json:"type"`
	Payload any         `json:"payload"`
}

func NewConnection(userID string) *Connection {
	now := time.Now()
	return &Connection{
		ID:           uuid.NewString(),
		UserID:       userID,
		ConnectedAt:  now,
		LastActiveAt: now,
	}
}
