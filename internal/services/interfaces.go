package services

import (
	"context"

	"research-notes/internal/models"
	"research-notes/internal/openai"
)

// Interfaces live with their consumer; only the methods the services call
// are listed.

// PageReader is what the services need from page storage
type PageReader interface {
	GetByID(ctx context.Context, id string) (*models.Page, error)
}

// EmbeddingRepository stores and searches page chunk vectors
type EmbeddingRepository interface {
	ReplaceEmbeddings(ctx context.Context, pageID string, embeddings []*models.Embedding) error
	SearchPage(ctx context.Context, pageID string, queryEmbedding []float32, limit int) ([]*models.SearchResult, error)
}

// ChatRepository stores assistant conversations
type ChatRepository interface {
	CreateChat(ctx context.Context, userID, title string, pageID *string) (*models.Chat, error)
	GetChat(ctx context.Context, userID, chatID string) (*models.Chat, error)
	CreateMessage(ctx context.Context, chatID, userID, role, content string) (*models.ChatMessage, error)
}

// Embedder turns text into vectors
type Embedder interface {
	CreateEmbeddings(ctx context.Context, texts []string) ([][]float32, error)
}

// ChatCompleter answers a conversation
type ChatCompleter interface {
	ChatCompletion(ctx context.Context, messages []openai.ChatMessage) (string, error)
}
