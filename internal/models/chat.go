package models

import (
	"time"

	"github.com/segmentio/ksuid"
	"gorm.io/gorm"
)

// Chat groups assistant messages, optionally about one page.
type Chat struct {
	ID        string    `json:"id" gorm:"type:char(27);primaryKey"`
	UserID    string    `json:"user_id" gorm:"type:varchar(36);not null;index"`
	PageID    *string   `json:"page_id,omitempty" gorm:"type:char(27);index"`
	Title     string    `json:"title" gorm:"type:text;not null"`
	CreatedAt time.Time `json:"created_at" gorm:"column:created_at;autoCreateTime"`
}

// BeforeCreate hook generates KSUID before inserting
func (c *Chat) BeforeCreate(tx *gorm.DB) error {
	if c.ID == "" {
		c.ID = ksuid.New().String()
	}
	return nil
}

// TableName override
func (Chat) TableName() string {
	return "chats"
}

// Chat message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// ChatMessage is one turn of a chat.
type ChatMessage struct {
	ID        string    `json:"id" gorm:"type:char(27);primaryKey"`
	ChatID    string    `json:"chat_id" gorm:"type:char(27);not null;index:idx_chat_time"`
	UserID    string    `json:"user_id" gorm:"type:varchar(36);not null"`
	Role      string    `json:"role" gorm:"type:varchar(16);not null"`
	Content   string    `json:"content" gorm:"type:text;not null"`
	CreatedAt time.Time `json:"created_at" gorm:"column:created_at;autoCreateTime;index:idx_chat_time"`

	Chat *Chat `json:"-" gorm:"foreignKey:ChatID;references:ID;constraint:OnDelete:CASCADE"`
}

// BeforeCreate hook generates KSUID before inserting
func (m *ChatMessage) BeforeCreate(tx *gorm.DB) error {
	if m.ID == "" {
		m.ID = ksuid.New().String()
	}
	return nil
}

// TableName override
func (ChatMessage) TableName() string {
	return "chat_messages"
}
