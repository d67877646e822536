package store

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"

	"go.opentelemetry.io/otel/attribute"

	"research-notes/internal/middleware"
	"research-notes/internal/models"
)

// DefaultTrashPageSize is the number of entries fetched per trash page.
const DefaultTrashPageSize = 10

// TrashState is a point-in-time view of the trash listing.
type TrashState struct {
	Entries []models.TrashEntry `json:"entries"`
	Loading bool                `json:"loading"`
	More    bool                `json:"more"`
	Keyword string              `json:"keyword"`
}

// TrashStore is the paginated, keyword-filtered listing of soft-deleted pages.
type TrashStore struct {
	userID   string
	repo     TrashRepository
	notifier Notifier
	observe  Observer
	size     int

	mu       sync.Mutex
	entries  []models.TrashEntry
	loaded   bool
	loading  bool
	more     bool
	keyword  string
	nextPage int
	// bumped by List so a page fetched for an older keyword is discarded
	gen uint64
}

func NewTrashStore(userID string, repo TrashRepository, notifier Notifier, observe Observer, pageSize int) *TrashStore {
	if pageSize <= 0 {
		pageSize = DefaultTrashPageSize
	}
	return &TrashStore{
		userID:   userID,
		repo:     repo,
		notifier: notifierOrDiscard(notifier),
		observe:  observerOrNoop(observe),
		size:     pageSize,
		nextPage: 1,
	}
}

func normalizeKeyword(keyword string) string {
	return strings.ToLower(strings.TrimSpace(keyword))
}

// List replaces the listing with the first page matching keyword. Repeating
// the previous non-empty keyword while a listing is loaded does nothing; an
// empty keyword always refetches.
func (s *TrashStore) List(ctx context.Context, keyword string) error {
	keyword = normalizeKeyword(keyword)

	ctx, span := middleware.StartSpan(ctx, "TrashStore.List", attribute.String("keyword", keyword))
	defer span.End()

	s.mu.Lock()
	if keyword != "" && s.loaded && keyword == s.keyword {
		s.mu.Unlock()
		return nil
	}
	s.gen++
	gen := s.gen
	s.entries = nil
	s.loaded = false
	s.loading = true
	s.keyword = keyword
	s.nextPage = 1
	s.mu.Unlock()
	s.observe(models.MessageTypeTrash)

	entries, err := s.repo.ListTrash(ctx, s.userID, keyword, 0, s.size)

	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		return nil
	}
	s.loading = false
	if err == nil {
		s.entries = entries
		s.loaded = true
		s.more = len(entries) == s.size
		s.nextPage = 2
	}
	s.mu.Unlock()
	s.observe(models.MessageTypeTrash)

	if err != nil {
		middleware.AddSpanError(ctx, err)
		log.Printf("❌ Failed to list trash: %v", err)
		s.notifier.Notify(Notification{Level: LevelError, Description: "Failed to load trash."})
		return fmt.Errorf("failed to list trash: %w", err)
	}
	return nil
}

// NextPage appends the next page of the current keyword.
func (s *TrashStore) NextPage(ctx context.Context) error {
	s.mu.Lock()
	if s.loading {
		s.mu.Unlock()
		return nil
	}
	gen := s.gen
	page := s.nextPage
	keyword := s.keyword
	s.loading = true
	s.mu.Unlock()
	s.observe(models.MessageTypeTrash)

	ctx, span := middleware.StartSpan(ctx, "TrashStore.NextPage", attribute.Int("page", page))
	defer span.End()

	entries, err := s.repo.ListTrash(ctx, s.userID, keyword, (page-1)*s.size, s.size)

	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		return nil
	}
	s.loading = false
	if err == nil {
		s.entries = append(s.entries, entries...)
		s.loaded = true
		s.more = len(entries) == s.size
		s.nextPage = page + 1
	}
	s.mu.Unlock()
	s.observe(models.MessageTypeTrash)

	if err != nil {
		middleware.AddSpanError(ctx, err)
		log.Printf("❌ Failed to load trash page %d: %v", page, err)
		s.notifier.Notify(Notification{Level: LevelError, Description: "Failed to load more."})
		return fmt.Errorf("failed to load trash page: %w", err)
	}
	return nil
}

// DeletePermanent removes the page and, depth first, every descendant.
func (s *TrashStore) DeletePermanent(ctx context.Context, id string) error {
	ctx, span := middleware.StartSpan(ctx, "TrashStore.DeletePermanent", attribute.String("page_id", id))
	defer span.End()

	if id == "" {
		return ErrInvalidID
	}

	err := s.purge(ctx, id, make(map[string]bool))
	countMutation("trash", "delete", err)
	if err != nil {
		middleware.AddSpanError(ctx, err)
		log.Printf("❌ Failed to delete page %s: %v", id, err)
		s.notifier.Notify(Notification{Level: LevelError, Description: "Error deleting page."})
		return fmt.Errorf("failed to delete page permanently: %w", err)
	}

	s.removeEntry(id)
	log.Printf("✓ Permanently deleted page %s", id)
	return nil
}

func (s *TrashStore) purge(ctx context.Context, id string, seen map[string]bool) error {
	if seen[id] {
		return nil
	}
	seen[id] = true

	children, err := s.repo.ChildIDs(ctx, s.userID, id)
	if err != nil {
		return err
	}
	for _, child := range children {
		if err := s.purge(ctx, child, seen); err != nil {
			return err
		}
	}
	return s.repo.HardDelete(ctx, s.userID, id)
}

// Restore clears the deleted flag and drops the entry from the listing. The
// sidebar picks the page up again from the realtime update.
func (s *TrashStore) Restore(ctx context.Context, id string) error {
	ctx, span := middleware.StartSpan(ctx, "TrashStore.Restore", attribute.String("page_id", id))
	defer span.End()

	if id == "" {
		return ErrInvalidID
	}

	err := s.repo.Restore(ctx, s.userID, id)
	countMutation("trash", "restore", err)
	if err != nil {
		middleware.AddSpanError(ctx, err)
		log.Printf("❌ Failed to restore page %s: %v", id, err)
		s.notifier.Notify(Notification{Level: LevelError, Description: "Error restoring page."})
		return fmt.Errorf("failed to restore page: %w", err)
	}

	s.removeEntry(id)
	return nil
}

func (s *TrashStore) removeEntry(id string) {
	s.mu.Lock()
	kept := s.entries[:0]
	for _, e := range s.entries {
		if e.ID != id {
			kept = append(kept, e)
		}
	}
	s.entries = kept
	s.mu.Unlock()
	s.observe(models.MessageTypeTrash)
}

// Snapshot returns a copy of the listing.
func (s *TrashStore) Snapshot() TrashState {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := make([]models.TrashEntry, len(s.entries))
	copy(entries, s.entries)
	return TrashState{
		Entries: entries,
		Loading: s.loading,
		More:    s.more,
		Keyword: s.keyword,
	}
}
