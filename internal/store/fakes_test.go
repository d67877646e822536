package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"research-notes/internal/models"
	"research-notes/internal/realtime"
	"research-notes/internal/repository"
)

var errBackend = errors.New("backend unavailable")

// memRepo is an in-memory page table. When publish is set every write emits
// the row change the database trigger would.
type memRepo struct {
	mu      sync.Mutex
	pages   map[string]*models.Page
	seq     int
	fail    map[string]error
	calls   map[string]int
	updates []map[string]any
	purged  []string

	// beforeUpdate runs without the lock and may block
	beforeUpdate func(columns map[string]any) error
	publish      func(realtime.Event)
}

func newMemRepo() *memRepo {
	return &memRepo{
		pages: make(map[string]*models.Page),
		fail:  make(map[string]error),
		calls: make(map[string]int),
	}
}

func (r *memRepo) setFail(method string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err == nil {
		delete(r.fail, method)
		return
	}
	r.fail[method] = err
}

func (r *memRepo) callCount(method string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls[method]
}

func (r *memRepo) lastUpdate() map[string]any {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.updates) == 0 {
		return nil
	}
	return r.updates[len(r.updates)-1]
}

// begin counts the call and returns the injected failure, if any.
func (r *memRepo) begin(method string) error {
	r.calls[method]++
	return r.fail[method]
}

// seed stores a page as-is and returns its id.
func (r *memRepo) seed(p models.Page) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	if p.ID == "" {
		p.ID = fmt.Sprintf("page-%02d", r.seq)
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Unix(int64(r.seq), 0)
	}
	r.pages[p.ID] = &p
	return p.ID
}

func (r *memRepo) page(id string) (models.Page, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.pages[id]
	if !ok {
		return models.Page{}, false
	}
	return *p, true
}

func (r *memRepo) emit(ev realtime.Event) {
	if r.publish != nil {
		r.publish(ev)
	}
}

func (r *memRepo) ListChildren(ctx context.Context, userID string, forest models.Forest, parentID *string) ([]models.Node, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.begin("ListChildren"); err != nil {
		return nil, err
	}

	var out []models.Node
	for _, p := range r.pages {
		if p.UserID != userID || p.IsPublic != forest.IsPublic() || p.Node().Deleted() {
			continue
		}
		if parentID == nil && p.ParentID != nil {
			continue
		}
		if parentID != nil && !p.Node().HasParent(*parentID) {
			continue
		}
		out = append(out, p.Node())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// get returns a copy of the page when visible says the caller may see it.
// Failures for both lookups are injected as "Get".
func (r *memRepo) get(id string, visible func(p *models.Page) bool) (*models.Page, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.begin("Get"); err != nil {
		return nil, err
	}
	p, ok := r.pages[id]
	if !ok || !visible(p) {
		return nil, fmt.Errorf("page %s: %w", id, repository.ErrNotFound)
	}
	cp := *p
	return &cp, nil
}

func (r *memRepo) GetOwned(ctx context.Context, userID, id string) (*models.Page, error) {
	return r.get(id, func(p *models.Page) bool { return p.UserID == userID })
}

func (r *memRepo) GetVisible(ctx context.Context, userID, id string) (*models.Page, error) {
	return r.get(id, func(p *models.Page) bool { return p.UserID == userID || p.IsPublic })
}

// owned reports whether id exists and belongs to userID. Callers hold r.mu.
func (r *memRepo) owned(userID, id string) bool {
	p, ok := r.pages[id]
	return ok && p.UserID == userID
}

func (r *memRepo) Create(ctx context.Context, page *models.Page) (*models.Page, error) {
	r.mu.Lock()
	if err := r.begin("Create"); err != nil {
		r.mu.Unlock()
		return nil, err
	}
	if page.ParentID != nil && !r.owned(page.UserID, *page.ParentID) {
		r.mu.Unlock()
		return nil, fmt.Errorf("parent %s: %w", *page.ParentID, repository.ErrNotFound)
	}
	r.seq++
	cp := *page
	cp.ID = fmt.Sprintf("page-%02d", r.seq)
	cp.CreatedAt = time.Unix(int64(r.seq), 0)
	r.pages[cp.ID] = &cp
	out := cp
	r.mu.Unlock()

	post := cp
	r.emit(realtime.Event{Type: realtime.EventInsert, Table: realtime.TablePages, ID: cp.ID, UserID: cp.UserID, New: &post})
	return &out, nil
}

func (r *memRepo) Update(ctx context.Context, userID, id string, columns map[string]any) error {
	r.mu.Lock()
	err := r.begin("Update")
	hook := r.beforeUpdate
	r.mu.Unlock()

	if hook != nil {
		if herr := hook(columns); herr != nil {
			err = herr
		}
	}
	if err != nil {
		return err
	}

	r.mu.Lock()
	r.updates = append(r.updates, columns)
	p, ok := r.pages[id]
	if !ok || p.UserID != userID {
		r.mu.Unlock()
		return fmt.Errorf("page %s: %w", id, repository.ErrNotFound)
	}
	applyColumns(p, columns)
	post := *p
	r.mu.Unlock()

	r.emit(realtime.Event{
		Type: realtime.EventUpdate, Table: realtime.TablePages, ID: id, UserID: post.UserID, New: &post,
		Old: &realtime.OldKey{ID: id, IsPublic: &post.IsPublic, ParentID: post.ParentID},
	})
	return nil
}

func applyColumns(p *models.Page, columns map[string]any) {
	models.DocPatch(columns).ApplyTo(p)
	if v, ok := columns["is_locked"].(bool); ok {
		p.IsLocked = v
	}
	if v, ok := columns["is_deleted"]; ok {
		if b, ok := v.(bool); ok {
			p.IsDeleted = &b
		} else {
			p.IsDeleted = nil
		}
	}
}

func (r *memRepo) SoftDelete(ctx context.Context, userID, id string) error {
	r.mu.Lock()
	err := r.fail["SoftDelete"]
	r.calls["SoftDelete"]++
	r.mu.Unlock()
	if err != nil {
		return err
	}
	return r.Update(ctx, userID, id, map[string]any{"is_deleted": true})
}

func (r *memRepo) Restore(ctx context.Context, userID, id string) error {
	r.mu.Lock()
	err := r.fail["Restore"]
	r.calls["Restore"]++
	r.mu.Unlock()
	if err != nil {
		return err
	}
	return r.Update(ctx, userID, id, map[string]any{"is_deleted": nil})
}

func (r *memRepo) ListTrash(ctx context.Context, userID, keyword string, offset, limit int) ([]models.TrashEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.begin("ListTrash"); err != nil {
		return nil, err
	}

	var all []models.TrashEntry
	for _, p := range r.pages {
		if p.UserID != userID || !p.Node().Deleted() {
			continue
		}
		if keyword != "" && !strings.Contains(strings.ToLower(p.Title), keyword) {
			continue
		}
		all = append(all, models.TrashEntry{ID: p.ID, Title: p.Title, Emoji: p.Emoji, CreatedAt: p.CreatedAt, IsDeleted: p.IsDeleted})
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })

	if offset >= len(all) {
		return []models.TrashEntry{}, nil
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}
	return all[offset:end], nil
}

func (r *memRepo) ChildIDs(ctx context.Context, userID, parentID string) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.begin("ChildIDs"); err != nil {
		return nil, err
	}
	var ids []string
	for _, p := range r.pages {
		if p.UserID == userID && p.Node().HasParent(parentID) {
			ids = append(ids, p.ID)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (r *memRepo) HardDelete(ctx context.Context, userID, id string) error {
	r.mu.Lock()
	if err := r.begin("HardDelete"); err != nil {
		r.mu.Unlock()
		return err
	}
	p, ok := r.pages[id]
	if !ok || p.UserID != userID {
		r.mu.Unlock()
		return fmt.Errorf("page %s: %w", id, repository.ErrNotFound)
	}
	delete(r.pages, id)
	r.purged = append(r.purged, id)
	old := &realtime.OldKey{ID: id, IsPublic: &p.IsPublic, ParentID: p.ParentID}
	userID = p.UserID
	r.mu.Unlock()

	r.emit(realtime.Event{Type: realtime.EventDelete, Table: realtime.TablePages, ID: id, UserID: userID, Old: old})
	return nil
}

type recordingNotifier struct {
	mu  sync.Mutex
	got []Notification
}

func (n *recordingNotifier) Notify(note Notification) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.got = append(n.got, note)
}

func (n *recordingNotifier) all() []Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]Notification(nil), n.got...)
}

func (n *recordingNotifier) errors() []Notification {
	var out []Notification
	for _, note := range n.all() {
		if note.Level == LevelError {
			out = append(out, note)
		}
	}
	return out
}

func strPtr(s string) *string { return &s }

func boolPtr(b bool) *bool { return &b }
