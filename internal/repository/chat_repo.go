package repository

import (
	"context"
	"fmt"

	"research-notes/internal/models"

	"gorm.io/gorm"
)

// ChatRepositoryImpl persists assistant conversations
type ChatRepositoryImpl struct {
	db *gorm.DB
}

// NewChatRepository creates a new chat repository
func NewChatRepository(db *gorm.DB) *ChatRepositoryImpl {
	return &ChatRepositoryImpl{db: db}
}

// CreateChat opens a new conversation. pageID is optional.
func (r *ChatRepositoryImpl) CreateChat(ctx context.Context, userID, title string, pageID *string) (*models.Chat, error) {
	chat := &models.Chat{
		UserID: userID,
		Title:  title,
		PageID: pageID,
	}
	if err := r.db.WithContext(ctx).Create(chat).Error; err != nil {
		return nil, fmt.Errorf("failed to create chat: %w", err)
	}
	return chat, nil
}

// GetChat returns one chat owned by userID
func (r *ChatRepositoryImpl) GetChat(ctx context.Context, userID, chatID string) (*models.Chat, error) {
	var chat models.Chat
	err := r.db.WithContext(ctx).First(&chat, "id = ? AND user_id = ?", chatID, userID).Error
	if err == gorm.ErrRecordNotFound {
		return nil, fmt.Errorf("chat %s: %w", chatID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get chat: %w", err)
	}
	return &chat, nil
}

// ListChats returns the user's chats, newest first
func (r *ChatRepositoryImpl) ListChats(ctx context.Context, userID string) ([]*models.Chat, error) {
	var chats []*models.Chat
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Find(&chats).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list chats: %w", err)
	}
	return chats, nil
}

// CreateMessage appends a message to a chat
func (r *ChatRepositoryImpl) CreateMessage(ctx context.Context, chatID, userID, role, content string) (*models.ChatMessage, error) {
	msg := &models.ChatMessage{
		ChatID:  chatID,
		UserID:  userID,
		Role:    role,
		Content: content,
	}
	if err := r.db.WithContext(ctx).Create(msg).Error; err != nil {
		return nil, fmt.Errorf("failed to create message: %w", err)
	}
	return msg, nil
}

// ListMessages returns the messages of a chat in the order they were written
func (r *ChatRepositoryImpl) ListMessages(ctx context.Context, chatID string) ([]*models.ChatMessage, error) {
	var messages []*models.ChatMessage
	err := r.db.WithContext(ctx).
		Where("chat_id = ?", chatID).
		Order("created_at ASC").
		Find(&messages).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	return messages, nil
}
