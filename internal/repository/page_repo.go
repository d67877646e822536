package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"research-notes/internal/middleware"
	"research-notes/internal/models"

	"go.opentelemetry.io/otel/attribute"
	"gorm.io/gorm"
)

// ErrNotFound is returned when the requested row does not exist.
var ErrNotFound = errors.New("not found")

// activeClause matches rows that were never deleted or were restored.
const activeClause = "(is_deleted IS NULL OR is_deleted = false)"

// PageRepositoryImpl handles all database operations for pages using GORM.
// The store package declares the interfaces it needs from it.
type PageRepositoryImpl struct {
	db *gorm.DB
}

// NewPageRepository creates a new page repository
func NewPageRepository(db *gorm.DB) *PageRepositoryImpl {
	return &PageRepositoryImpl{db: db}
}

// ListChildren returns the active pages of one forest under parentID, oldest
// first. A nil parentID selects the roots.
func (r *PageRepositoryImpl) ListChildren(ctx context.Context, userID string, forest models.Forest, parentID *string) ([]models.Node, error) {
	ctx, span := middleware.StartSpan(ctx, "PageRepository.ListChildren",
		attribute.String("forest", string(forest)),
	)
	defer span.End()

	var pages []models.Page
	query := r.db.WithContext(ctx).
		Select("id", "title", "emoji", "parent_id", "created_at", "updated_at", "is_locked", "is_public", "is_deleted").
		Where(activeClause).
		Where("is_public = ? AND user_id = ?", forest.IsPublic(), userID)

	if parentID != nil {
		query = query.Where("parent_id = ?", *parentID)
	} else {
		query = query.Where("parent_id IS NULL")
	}

	if err := query.Order("created_at").Find(&pages).Error; err != nil {
		middleware.AddSpanError(ctx, err)
		return nil, fmt.Errorf("failed to list children: %w", err)
	}

	nodes := make([]models.Node, 0, len(pages))
	for i := range pages {
		nodes = append(nodes, pages[i].Node())
	}
	return nodes, nil
}

// GetByID retrieves a page by its KSUID, deleted or not, whoever owns it.
// Only server-side readers (realtime listener, workers) use it; user requests
// go through GetOwned or GetVisible.
func (r *PageRepositoryImpl) GetByID(ctx context.Context, id string) (*models.Page, error) {
	return r.first(ctx, id, r.db.WithContext(ctx).Where("id = ?", id))
}

// GetOwned retrieves a page of userID. Pages of other users are reported as
// not found.
func (r *PageRepositoryImpl) GetOwned(ctx context.Context, userID, id string) (*models.Page, error) {
	return r.first(ctx, id, r.db.WithContext(ctx).Where("id = ? AND user_id = ?", id, userID))
}

// GetVisible retrieves a page userID owns or any public page. Linked copies
// read their content through it.
func (r *PageRepositoryImpl) GetVisible(ctx context.Context, userID, id string) (*models.Page, error) {
	return r.first(ctx, id, r.db.WithContext(ctx).Where("id = ? AND (user_id = ? OR is_public = ?)", id, userID, true))
}

func (r *PageRepositoryImpl) first(ctx context.Context, id string, query *gorm.DB) (*models.Page, error) {
	var page models.Page

	err := query.First(&page).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("page %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get page: %w", err)
	}

	return &page, nil
}

// Create inserts a new page. The KSUID is generated in the BeforeCreate hook
// and timestamps are set by GORM, so the returned row is the server's view.
// A parent must belong to the same user; otherwise ErrNotFound is returned
// and nothing is written.
func (r *PageRepositoryImpl) Create(ctx context.Context, page *models.Page) (*models.Page, error) {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if page.ParentID != nil {
			var n int64
			err := tx.Model(&models.Page{}).
				Where("id = ? AND user_id = ?", *page.ParentID, page.UserID).
				Count(&n).Error
			if err != nil {
				return fmt.Errorf("failed to check parent: %w", err)
			}
			if n == 0 {
				return fmt.Errorf("parent %s: %w", *page.ParentID, ErrNotFound)
			}
		}
		return tx.Create(page).Error
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create page: %w", err)
	}
	return page, nil
}

// Update writes the given columns of one page of userID
func (r *PageRepositoryImpl) Update(ctx context.Context, userID, id string, columns map[string]any) error {
	ctx, span := middleware.StartSpan(ctx, "PageRepository.Update",
		attribute.String("page.id", id),
		attribute.Int("columns", len(columns)),
	)
	defer span.End()

	result := r.db.WithContext(ctx).Model(&models.Page{}).Where("id = ? AND user_id = ?", id, userID).Updates(columns)
	if result.Error != nil {
		middleware.AddSpanError(ctx, result.Error)
		return fmt.Errorf("failed to update page: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("page %s: %w", id, ErrNotFound)
	}
	return nil
}

// SoftDelete moves a page to the trash
func (r *PageRepositoryImpl) SoftDelete(ctx context.Context, userID, id string) error {
	return r.Update(ctx, userID, id, map[string]any{"is_deleted": true})
}

// Restore takes a page out of the trash. The flag goes back to NULL, which the
// active filter treats the same as false.
func (r *PageRepositoryImpl) Restore(ctx context.Context, userID, id string) error {
	return r.Update(ctx, userID, id, map[string]any{"is_deleted": gorm.Expr("NULL")})
}

// ListTrash returns one page of soft-deleted pages, newest first, optionally
// filtered by a case-insensitive title substring.
func (r *PageRepositoryImpl) ListTrash(ctx context.Context, userID, keyword string, offset, limit int) ([]models.TrashEntry, error) {
	var entries []models.TrashEntry

	query := r.db.WithContext(ctx).
		Model(&models.Page{}).
		Select("id", "title", "emoji", "created_at", "updated_at", "is_deleted").
		Where("user_id = ? AND is_deleted = ?", userID, true)

	if keyword = strings.TrimSpace(keyword); keyword != "" {
		query = query.Where("title ILIKE ?", "%"+escapeLike(keyword)+"%")
	}

	err := query.
		Order("created_at DESC").
		Offset(offset).
		Limit(limit).
		Scan(&entries).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list trash: %w", err)
	}

	return entries, nil
}

// ChildIDs returns the ids of every child of parentID owned by userID,
// including deleted ones
func (r *PageRepositoryImpl) ChildIDs(ctx context.Context, userID, parentID string) ([]string, error) {
	var ids []string
	err := r.db.WithContext(ctx).
		Model(&models.Page{}).
		Where("parent_id = ? AND user_id = ?", parentID, userID).
		Pluck("id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list child ids: %w", err)
	}
	return ids, nil
}

// HardDelete permanently removes a page row.
// Use with caution - this is irreversible
func (r *PageRepositoryImpl) HardDelete(ctx context.Context, userID, id string) error {
	result := r.db.WithContext(ctx).Delete(&models.Page{}, "id = ? AND user_id = ?", id, userID)

	if result.Error != nil {
		return fmt.Errorf("failed to hard delete page: %w", result.Error)
	}

	if result.RowsAffected == 0 {
		return fmt.Errorf("page %s: %w", id, ErrNotFound)
	}

	return nil
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
