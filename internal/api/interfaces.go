package api

import (
	"context"

	"research-notes/internal/models"
	"research-notes/internal/services"
	"research-notes/internal/session"
)

// Handlers declare what they need here, next to their use.

// SessionProvider hands out the per-user session holding the stores
type SessionProvider interface {
	Get(userID string) *session.Session
	End(userID string) bool
}

// ChatStore is what the chat endpoints need from chat storage
type ChatStore interface {
	CreateChat(ctx context.Context, userID, title string, pageID *string) (*models.Chat, error)
	GetChat(ctx context.Context, userID, chatID string) (*models.Chat, error)
	ListChats(ctx context.Context, userID string) ([]*models.Chat, error)
	CreateMessage(ctx context.Context, chatID, userID, role, content string) (*models.ChatMessage, error)
	ListMessages(ctx context.Context, chatID string) ([]*models.ChatMessage, error)
}

// CommentStore is what the comment endpoints need from comment storage
type CommentStore interface {
	ListByPaper(ctx context.Context, paperURL string) ([]*models.Comment, error)
	Create(ctx context.Context, comment *models.Comment) (*models.Comment, error)
	Vote(ctx context.Context, id string, delta int) error
}

// PageAssistant answers questions about a page
type PageAssistant interface {
	AskAboutPage(ctx context.Context, userID string, req services.AskRequest) (*services.PageAnswer, error)
}
