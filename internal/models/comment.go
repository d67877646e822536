package models

import (
	"time"

	"github.com/segmentio/ksuid"
	"gorm.io/gorm"
)

// Comment is a threaded remark on a research paper.
type Comment struct {
	ID         string    `json:"id" gorm:"type:char(27);primaryKey"`
	UserID     string    `json:"user_id" gorm:"type:varchar(36);not null"`
	AuthorName string    `json:"author_name" gorm:"type:text;not null"`
	Content    string    `json:"content" gorm:"type:text;not null"`
	PaperURL   *string   `json:"paper_url" gorm:"type:text;index"`
	ParentID   *string   `json:"parent_id" gorm:"type:char(27);index"`
	Votes      int       `json:"votes" gorm:"not null;default:0"`
	CreatedAt  time.Time `json:"created_at" gorm:"column:created_at;autoCreateTime"`
}

// BeforeCreate hook generates KSUID before inserting
func (c *Comment) BeforeCreate(tx *gorm.DB) error {
	if c.ID == "" {
		c.ID = ksuid.New().String()
	}
	return nil
}

// TableName override
func (Comment) TableName() string {
	return "comments"
}
