package models

import (
	"time"

	"github.com/pgvector/pgvector-go"
	"github.com/segmentio/ksuid"
	"gorm.io/gorm"
)

// Embedding is one chunk of a page's content with its vector.
type Embedding struct {
	ID         string          `json:"id" gorm:"type:char(27);primaryKey"`
	PageID     string          `json:"page_id" gorm:"type:char(27);not null;index"`
	ChunkIndex int             `json:"chunk_index" gorm:"not null"`
	ChunkText  string          `json:"chunk_text" gorm:"type:text;not null"`
	Embedding  pgvector.Vector `json:"embedding" gorm:"type:vector(1536);not null"`
	CreatedAt  time.Time       `json:"created_at" gorm:"column:created_at;autoCreateTime"`

	Page Page `json:"-" gorm:"foreignKey:PageID;constraint:OnDelete:CASCADE"`
}

// BeforeCreate hook generates KSUID before inserting
func (e *Embedding) BeforeCreate(tx *gorm.DB) error {
	if e.ID == "" {
		e.ID = ksuid.New().String()
	}
	return nil
}

// SearchResult is a chunk ranked by similarity to a query.
type SearchResult struct {
	PageID    string  `json:"page_id"`
	Title     string  `json:"title"`
	ChunkText string  `json:"chunk_text"`
	Score     float32 `json:"score"` // 1 - cosine distance
}
