package repository

import (
	"context"
	"fmt"

	"research-notes/internal/models"

	"github.com/pgvector/pgvector-go"
	"gorm.io/gorm"
)

// EmbeddingRepositoryImpl handles page chunk vectors using pgvector
type EmbeddingRepositoryImpl struct {
	db *gorm.DB
}

// NewEmbeddingRepository creates a new embedding repository
func NewEmbeddingRepository(db *gorm.DB) *EmbeddingRepositoryImpl {
	return &EmbeddingRepositoryImpl{db: db}
}

// ReplaceEmbeddings swaps every chunk of a page for the given ones in one
// transaction, so searches never see a half-indexed page.
func (r *EmbeddingRepositoryImpl) ReplaceEmbeddings(ctx context.Context, pageID string, embeddings []*models.Embedding) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("page_id = ?", pageID).Delete(&models.Embedding{}).Error; err != nil {
			return fmt.Errorf("failed to delete old embeddings: %w", err)
		}
		if len(embeddings) == 0 {
			return nil
		}
		if err := tx.Create(embeddings).Error; err != nil {
			return fmt.Errorf("failed to store embeddings: %w", err)
		}
		return nil
	})
}

// SearchPage ranks the chunks of one page by cosine similarity to the query.
// The <=> operator from pgvector is cosine distance; lower is closer.
func (r *EmbeddingRepositoryImpl) SearchPage(ctx context.Context, pageID string, queryEmbedding []float32, limit int) ([]*models.SearchResult, error) {
	vec := pgvector.NewVector(queryEmbedding)

	var results []*models.SearchResult

	err := r.db.WithContext(ctx).Raw(`
		SELECT
			e.page_id,
			p.title,
			e.chunk_text,
			1 - (e.embedding <=> ?) as score
		FROM embeddings e
		JOIN pages p ON p.id = e.page_id
		WHERE e.page_id = ?
		ORDER BY e.embedding <=> ?
		LIMIT ?
	`, vec, pageID, vec, limit).Scan(&results).Error

	if err != nil {
		return nil, fmt.Errorf("failed to perform semantic search: %w", err)
	}

	return results, nil
}
