package store

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"research-notes/internal/middleware"
	"research-notes/internal/models"
	"research-notes/internal/realtime"
	"research-notes/internal/repository"
)

// DefaultSaveStatusClearDelay is how long a successful save stays visible.
const DefaultSaveStatusClearDelay = 2 * time.Second

// Breadcrumb is what a caller needs to reveal the document in the sidebar.
type Breadcrumb struct {
	ID       string  `json:"id"`
	ParentID *string `json:"parent_id"`
}

// DocState is a point-in-time view of the document store.
type DocState struct {
	Doc          *models.Page      `json:"doc"`
	Loading      bool              `json:"loading"`
	SaveStatus   models.SaveStatus `json:"save_status"`
	FailedFields []string          `json:"failed_fields"`
}

// bufferedField is a patch value together with the sequence number of the
// save that carried it.
type bufferedField struct {
	value any
	seq   uint64
}

// DocStore holds the single open document of a session. Only pages of userID
// can be opened; linked copies may read content from any public page.
type DocStore struct {
	userID     string
	repo       DocRepository
	notifier   Notifier
	observe    Observer
	clearDelay time.Duration
	saveHook   func(id string, patch models.DocPatch)

	mu       sync.Mutex
	doc      *models.Page
	loading  bool
	status   models.SaveStatus
	failed   map[string]bufferedField
	inflight map[uint64]models.DocPatch
	seq      uint64
	// generation of the open document; bumped on every load and reset so
	// late responses for a previous document are discarded
	docGen    uint64
	statusGen uint64
}

// DocOption configures a DocStore.
type DocOption func(*DocStore)

// WithSaveHook registers fn to run after every successful save with the
// fields that were written.
func WithSaveHook(fn func(id string, patch models.DocPatch)) DocOption {
	return func(s *DocStore) { s.saveHook = fn }
}

// WithSaveStatusClearDelay overrides how long "success" is shown.
func WithSaveStatusClearDelay(d time.Duration) DocOption {
	return func(s *DocStore) { s.clearDelay = d }
}

func NewDocStore(userID string, repo DocRepository, notifier Notifier, observe Observer, opts ...DocOption) *DocStore {
	s := &DocStore{
		userID:     userID,
		repo:       repo,
		notifier:   notifierOrDiscard(notifier),
		observe:    observerOrNoop(observe),
		clearDelay: DefaultSaveStatusClearDelay,
		status:     models.SaveNone,
		failed:     make(map[string]bufferedField),
		inflight:   make(map[uint64]models.DocPatch),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *DocStore) resetLocked() {
	s.doc = nil
	s.loading = false
	s.status = models.SaveNone
	s.failed = make(map[string]bufferedField)
	s.inflight = make(map[uint64]models.DocPatch)
	s.docGen++
	s.statusGen++
}

// Load replaces the open document. A public page linked to another page shows
// the content of the linked page. On failure the store is left without a
// document.
func (s *DocStore) Load(ctx context.Context, id string) (*Breadcrumb, error) {
	ctx, span := middleware.StartSpan(ctx, "DocStore.Load", attribute.String("page_id", id))
	defer span.End()

	if id == "" {
		s.notifier.Notify(Notification{Level: LevelError, Description: "Invalid document ID."})
		return nil, ErrInvalidID
	}

	s.mu.Lock()
	s.resetLocked()
	s.loading = true
	gen := s.docGen
	s.mu.Unlock()
	s.observe(models.MessageTypeDoc)

	page, err := s.fetch(ctx, id)

	s.mu.Lock()
	if gen != s.docGen {
		// superseded by a later load or a delete
		s.mu.Unlock()
		if err != nil {
			return nil, fmt.Errorf("failed to load document: %w", err)
		}
		return &Breadcrumb{ID: page.ID, ParentID: page.ParentID}, nil
	}
	s.loading = false
	if err == nil {
		s.doc = page
	}
	s.mu.Unlock()
	s.observe(models.MessageTypeDoc)

	if err != nil {
		middleware.AddSpanError(ctx, err)
		log.Printf("❌ Failed to load document %s: %v", id, err)
		desc := "Something went wrong. Broken link or poor internet connection."
		if errors.Is(err, repository.ErrNotFound) {
			desc = "Document not found."
		}
		s.notifier.Notify(Notification{Level: LevelError, Description: desc})
		return nil, fmt.Errorf("failed to load document: %w", err)
	}
	return &Breadcrumb{ID: page.ID, ParentID: page.ParentID}, nil
}

func (s *DocStore) fetch(ctx context.Context, id string) (*models.Page, error) {
	page, err := s.repo.GetOwned(ctx, s.userID, id)
	if err != nil {
		return nil, err
	}
	if page.Linked() {
		linked, err := s.repo.GetVisible(ctx, s.userID, *page.LinkedTo)
		if err != nil {
			return nil, fmt.Errorf("failed to load linked page %s: %w", *page.LinkedTo, err)
		}
		page.Content = linked.Content
	}
	return page, nil
}

// Update applies patch to the open document and writes it together with any
// fields of earlier failed saves. Public linked documents are read-only and
// the call is a silent no-op for them.
func (s *DocStore) Update(ctx context.Context, id string, patch models.DocPatch) error {
	ctx, span := middleware.StartSpan(ctx, "DocStore.Update", attribute.String("page_id", id))
	defer span.End()

	if id == "" {
		s.notifier.Notify(Notification{Level: LevelError, Title: "Save failed", Description: "Invalid document ID."})
		return ErrInvalidID
	}

	s.mu.Lock()
	if s.doc == nil || s.doc.ID != id {
		s.mu.Unlock()
		s.notifier.Notify(Notification{Level: LevelError, Title: "Save failed", Description: "The document is not open."})
		return ErrNoDocument
	}
	if s.doc.Linked() {
		s.mu.Unlock()
		return nil
	}

	patch = models.DocPatch(patch.Columns())
	patch.ApplyTo(s.doc)

	s.seq++
	seq := s.seq
	gen := s.docGen
	s.inflight[seq] = patch

	payload := make(models.DocPatch, len(s.failed)+len(patch))
	for field, b := range s.failed {
		payload[field] = b.value
	}
	for field, v := range patch {
		payload[field] = v
	}
	s.setStatusLocked(models.SaveStart)
	s.mu.Unlock()
	s.observe(models.MessageTypeDoc)

	err := s.repo.Update(ctx, s.userID, id, payload.Columns())

	s.mu.Lock()
	if gen != s.docGen {
		s.mu.Unlock()
		if err != nil {
			log.Printf("⚠️  Save of closed document %s failed: %v", id, err)
			return fmt.Errorf("failed to save document: %w", err)
		}
		return nil
	}
	delete(s.inflight, seq)

	if err != nil {
		for field, v := range payload {
			if cur, ok := s.failed[field]; !ok || cur.seq < seq {
				s.failed[field] = bufferedField{value: v, seq: seq}
			}
		}
		s.setStatusLocked(models.SaveFailed)
		s.mu.Unlock()
		s.observe(models.MessageTypeDoc)

		saveOutcomes.WithLabelValues("failed").Inc()
		middleware.AddSpanError(ctx, err)
		log.Printf("❌ Failed to save document %s: %v", id, err)
		s.notifier.Notify(Notification{
			Level:       LevelError,
			Title:       "Save failed",
			Description: "Your changes are kept and will be sent with the next save.",
		})
		return fmt.Errorf("failed to save document: %w", err)
	}

	for field := range payload {
		if cur, ok := s.failed[field]; ok && cur.seq <= seq {
			delete(s.failed, field)
		}
	}
	switch {
	case len(s.failed) > 0:
		s.setStatusLocked(models.SaveFailed)
	case len(s.inflight) > 0:
		s.setStatusLocked(models.SaveStart)
	default:
		s.setStatusLocked(models.SaveSuccess)
	}
	s.mu.Unlock()
	s.observe(models.MessageTypeDoc)

	saveOutcomes.WithLabelValues("success").Inc()
	if s.saveHook != nil {
		s.saveHook(id, payload)
	}
	return nil
}

// setStatusLocked records a save status. Success falls back to none after the
// clear delay unless another status was set in between.
func (s *DocStore) setStatusLocked(status models.SaveStatus) {
	s.status = status
	s.statusGen++
	if status != models.SaveSuccess || s.clearDelay <= 0 {
		return
	}
	gen := s.statusGen
	time.AfterFunc(s.clearDelay, func() {
		s.mu.Lock()
		if s.statusGen != gen {
			s.mu.Unlock()
			return
		}
		s.status = models.SaveNone
		s.mu.Unlock()
		s.observe(models.MessageTypeDoc)
	})
}

// ToggleLock flips is_locked of the open document and flips it back if the
// write fails.
func (s *DocStore) ToggleLock(ctx context.Context) error {
	s.mu.Lock()
	if s.doc == nil {
		s.mu.Unlock()
		return nil
	}
	id := s.doc.ID
	gen := s.docGen
	next := !s.doc.IsLocked
	s.doc.IsLocked = next
	s.mu.Unlock()
	s.observe(models.MessageTypeDoc)

	ctx, span := middleware.StartSpan(ctx, "DocStore.ToggleLock",
		attribute.String("page_id", id),
		attribute.Bool("locked", next),
	)
	defer span.End()

	err := s.repo.Update(ctx, s.userID, id, map[string]any{"is_locked": next})
	countMutation("doc", "toggle_lock", err)
	if err == nil {
		return nil
	}

	s.mu.Lock()
	reverted := gen == s.docGen && s.doc != nil && s.doc.IsLocked == next
	if reverted {
		s.doc.IsLocked = !next
	}
	s.mu.Unlock()
	if reverted {
		rollbacks.WithLabelValues("doc", "toggle_lock").Inc()
		s.observe(models.MessageTypeDoc)
	}

	middleware.AddSpanError(ctx, err)
	log.Printf("❌ Failed to toggle lock on %s: %v", id, err)
	s.notifier.Notify(Notification{Level: LevelError, Title: "Lock failed", Description: "Could not change the lock."})
	return fmt.Errorf("failed to toggle lock: %w", err)
}

// ApplyEvent merges a pages row change into the open document. A delete
// closes it. An update replaces it with the pushed row and then re-applies
// fields of saves that are still in flight or waiting to be retried.
func (s *DocStore) ApplyEvent(ev realtime.Event) {
	if ev.Table != realtime.TablePages {
		return
	}

	s.mu.Lock()
	if s.doc == nil || s.doc.ID != ev.ID {
		s.mu.Unlock()
		return
	}

	switch ev.Type {
	case realtime.EventDelete:
		s.resetLocked()
	case realtime.EventUpdate:
		if ev.New == nil {
			s.mu.Unlock()
			return
		}
		next := *ev.New
		if s.doc.Linked() && next.Linked() {
			next.Content = s.doc.Content
		}
		s.pendingLocked().ApplyTo(&next)
		s.doc = &next
	default:
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()
	s.observe(models.MessageTypeDoc)
}

// pendingLocked folds failed and in-flight fields in save order.
func (s *DocStore) pendingLocked() models.DocPatch {
	type entry struct {
		field string
		value any
		seq   uint64
	}
	var entries []entry
	for field, b := range s.failed {
		entries = append(entries, entry{field, b.value, b.seq})
	}
	for seq, p := range s.inflight {
		for field, v := range p {
			entries = append(entries, entry{field, v, seq})
		}
	}
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].seq < entries[j].seq })

	out := make(models.DocPatch, len(entries))
	for _, e := range entries {
		out[e.field] = e.value
	}
	return out
}

// Current returns the id of the open document, if any.
func (s *DocStore) Current() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.doc == nil {
		return "", false
	}
	return s.doc.ID, true
}

// Snapshot returns a copy of the store state.
func (s *DocStore) Snapshot() DocState {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := DocState{
		Loading:      s.loading,
		SaveStatus:   s.status,
		FailedFields: make([]string, 0, len(s.failed)),
	}
	if s.doc != nil {
		d := *s.doc
		st.Doc = &d
	}
	for field := range s.failed {
		st.FailedFields = append(st.FailedFields, field)
	}
	sort.Strings(st.FailedFields)
	return st
}
