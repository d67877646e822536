package repository

import (
	"context"
	"fmt"

	"research-notes/internal/models"

	"gorm.io/gorm"
)

// CommentRepositoryImpl handles paper comment threads
type CommentRepositoryImpl struct {
	db *gorm.DB
}

// NewCommentRepository creates a new comment repository
func NewCommentRepository(db *gorm.DB) *CommentRepositoryImpl {
	return &CommentRepositoryImpl{db: db}
}

// ListByPaper returns every comment on a paper, oldest first, so clients can
// thread them by ParentID.
func (r *CommentRepositoryImpl) ListByPaper(ctx context.Context, paperURL string) ([]*models.Comment, error) {
	var comments []*models.Comment
	err := r.db.WithContext(ctx).
		Where("paper_url = ?", paperURL).
		Order("created_at ASC").
		Find(&comments).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list comments: %w", err)
	}
	return comments, nil
}

// Create inserts a comment
func (r *CommentRepositoryImpl) Create(ctx context.Context, comment *models.Comment) (*models.Comment, error) {
	if err := r.db.WithContext(ctx).Create(comment).Error; err != nil {
		return nil, fmt.Errorf("failed to create comment: %w", err)
	}
	return comment, nil
}

// Vote adds delta (+1 or -1) to a comment's score
func (r *CommentRepositoryImpl) Vote(ctx context.Context, id string, delta int) error {
	result := r.db.WithContext(ctx).
		Model(&models.Comment{}).
		Where("id = ?", id).
		UpdateColumn("votes", gorm.Expr("votes + ?", delta))
	if result.Error != nil {
		return fmt.Errorf("failed to vote: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("comment %s: %w", id, ErrNotFound)
	}
	return nil
}
