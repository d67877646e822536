package store

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"

	"go.opentelemetry.io/otel/attribute"

	"research-notes/internal/middleware"
	"research-notes/internal/models"
	"research-notes/internal/realtime"
	"research-notes/internal/repository"
)

const defaultTitle = "untitled"

// CreateRequest describes a new page.
type CreateRequest struct {
	ParentID *string       `json:"parent_id"`
	Title    string        `json:"title"`
	Emoji    *models.Emoji `json:"emoji"`
	IsPublic bool          `json:"is_public"`
}

// PaperRequest adds a converted paper, identified by its page id, to the
// caller's sidebar.
type PaperRequest struct {
	SourceID string `json:"source_id"`
	IsPublic bool   `json:"is_public"`
}

// CreatedNode is returned after a page was created. IsPublic names the forest
// the node went into.
type CreatedNode struct {
	ID       string  `json:"id"`
	ParentID *string `json:"parent_id"`
	IsPublic bool    `json:"is_public"`
}

// CollapsedEntry marks a node whose children are expanded in the sidebar.
type CollapsedEntry struct {
	ID       string  `json:"id"`
	ParentID *string `json:"parent_id"`
}

// TreeStore holds the two sidebar forests of one user, keyed by node id.
type TreeStore struct {
	userID   string
	repo     TreeRepository
	notifier Notifier
	observe  Observer

	mu        sync.Mutex
	forests   map[models.Forest]map[string]models.Node
	loading   map[string]bool
	collapsed map[string]CollapsedEntry
}

func NewTreeStore(userID string, repo TreeRepository, notifier Notifier, observe Observer) *TreeStore {
	return &TreeStore{
		userID:   userID,
		repo:     repo,
		notifier: notifierOrDiscard(notifier),
		observe:  observerOrNoop(observe),
		forests: map[models.Forest]map[string]models.Node{
			models.ForestPersonal: {},
			models.ForestPublic:   {},
		},
		loading:   make(map[string]bool),
		collapsed: make(map[string]CollapsedEntry),
	}
}

func loadingKey(forest models.Forest, parentID *string) string {
	if parentID == nil {
		return "root:" + string(forest)
	}
	return *parentID
}

// LoadChildren fetches the active children of parentID (roots when nil) and
// merges them into the forest. A subtree is fetched only once: when any
// resident node already hangs under parentID the call is a no-op. Empty
// subtrees leave nothing behind and are fetched again on the next call.
func (s *TreeStore) LoadChildren(ctx context.Context, forest models.Forest, parentID *string) error {
	key := loadingKey(forest, parentID)
	ctx, span := middleware.StartSpan(ctx, "TreeStore.LoadChildren",
		attribute.String("forest", string(forest)),
		attribute.String("parent", key),
	)
	defer span.End()

	s.mu.Lock()
	if parentID != nil && s.hasChildrenLocked(forest, *parentID) {
		s.mu.Unlock()
		return nil
	}
	s.loading[key] = true
	s.mu.Unlock()
	s.observe(models.MessageTypeTree)

	nodes, err := s.repo.ListChildren(ctx, s.userID, forest, parentID)

	s.mu.Lock()
	delete(s.loading, key)
	if err == nil {
		m := s.forests[forest]
		for _, n := range nodes {
			m[n.ID] = n
		}
	}
	s.mu.Unlock()
	s.observe(models.MessageTypeTree)

	if err != nil {
		middleware.AddSpanError(ctx, err)
		log.Printf("❌ Failed to load %s children of %s: %v", forest, key, err)
		s.notifier.Notify(Notification{
			Level:       LevelError,
			Title:       "Failed to load pages",
			Description: "Something went wrong. Please try again.",
		})
		return fmt.Errorf("failed to load children: %w", err)
	}
	return nil
}

func (s *TreeStore) hasChildrenLocked(forest models.Forest, parentID string) bool {
	for _, n := range s.forests[forest] {
		if n.HasParent(parentID) {
			return true
		}
	}
	return false
}

// Insert adds or overwrites node in the forest selected by its is_public flag.
func (s *TreeStore) Insert(node models.Node) {
	s.mu.Lock()
	s.forests[models.ForestOf(node.IsPublic)][node.ID] = node
	s.mu.Unlock()
	s.observe(models.MessageTypeTree)
}

// Delete removes node from the forest selected by its is_public flag.
func (s *TreeStore) Delete(node models.Node) {
	s.mu.Lock()
	delete(s.forests[models.ForestOf(node.IsPublic)], node.ID)
	s.mu.Unlock()
	s.observe(models.MessageTypeTree)
}

// Update merges an incoming node according to Reconcile and reports what it did.
func (s *TreeStore) Update(node models.Node) Action {
	s.mu.Lock()
	action := s.updateLocked(node)
	s.mu.Unlock()

	if action != ActionNoop {
		s.observe(models.MessageTypeTree)
	}
	return action
}

func (s *TreeStore) updateLocked(node models.Node) Action {
	forest := models.ForestOf(node.IsPublic)
	m := s.forests[forest]

	// a node lives in exactly one forest; drop it from the other when its
	// is_public flag flipped
	other := models.ForestOf(!node.IsPublic)
	delete(s.forests[other], node.ID)

	var current *models.Node
	if n, ok := m[node.ID]; ok {
		current = &n
	}

	action := Reconcile(current, node)
	switch action {
	case ActionInsert, ActionReplace:
		m[node.ID] = node
	case ActionRemove:
		delete(m, node.ID)
	}
	return action
}

// Rename overwrites the title and emoji of a node before the remote write and
// restores the previous entry if the write fails. The remote write happens
// even when the node is not resident in either forest.
func (s *TreeStore) Rename(ctx context.Context, id, title string, emoji *models.Emoji) error {
	ctx, span := middleware.StartSpan(ctx, "TreeStore.Rename", attribute.String("page_id", id))
	defer span.End()

	if id == "" {
		return ErrInvalidID
	}

	forest, _ := s.locate(id)
	applied, err := runOptimistic(ctx, &s.mu, s.forests[forest],
		func(m map[string]models.Node) (patch[string, models.Node], bool) {
			n, ok := m[id]
			if !ok {
				return patch[string, models.Node]{}, false
			}
			n.Title = title
			n.Emoji = emoji
			return speculate(m, id, n, false), true
		},
		func(ctx context.Context) error {
			return s.repo.Update(ctx, s.userID, id, map[string]any{
				models.FieldTitle: title,
				models.FieldEmoji: emoji,
			})
		},
	)
	if applied {
		s.observe(models.MessageTypeTree)
	}
	countMutation("tree", "rename", err)

	if err != nil {
		if applied {
			rollbacks.WithLabelValues("tree", "rename").Inc()
			s.observe(models.MessageTypeTree)
		}
		middleware.AddSpanError(ctx, err)
		log.Printf("❌ Failed to rename page %s: %v", id, err)
		s.notifier.Notify(Notification{
			Level:       LevelError,
			Title:       "Rename failed",
			Description: "Your changes were reverted.",
		})
		return fmt.Errorf("failed to rename page: %w", err)
	}
	return nil
}

// SoftDelete removes the node from its forest before flagging the row deleted,
// and puts it back if the write fails.
func (s *TreeStore) SoftDelete(ctx context.Context, id string) (string, error) {
	ctx, span := middleware.StartSpan(ctx, "TreeStore.SoftDelete", attribute.String("page_id", id))
	defer span.End()

	if id == "" {
		return "", ErrInvalidID
	}

	forest, _ := s.locate(id)
	applied, err := runOptimistic(ctx, &s.mu, s.forests[forest],
		func(m map[string]models.Node) (patch[string, models.Node], bool) {
			if _, ok := m[id]; !ok {
				return patch[string, models.Node]{}, false
			}
			return speculate(m, id, models.Node{}, true), true
		},
		func(ctx context.Context) error {
			return s.repo.SoftDelete(ctx, s.userID, id)
		},
	)
	if applied {
		s.observe(models.MessageTypeTree)
	}
	countMutation("tree", "soft_delete", err)

	if err != nil {
		if applied {
			rollbacks.WithLabelValues("tree", "soft_delete").Inc()
			s.observe(models.MessageTypeTree)
		}
		middleware.AddSpanError(ctx, err)
		log.Printf("❌ Failed to move page %s to trash: %v", id, err)
		desc := "Could not move the page to trash."
		if errors.Is(err, repository.ErrNotFound) {
			desc = "Page not found."
		}
		s.notifier.Notify(Notification{
			Level:       LevelError,
			Title:       "Delete failed",
			Description: desc,
		})
		return "", fmt.Errorf("failed to delete page: %w", err)
	}
	return id, nil
}

// locate returns the forest holding id, defaulting to the personal forest.
func (s *TreeStore) locate(id string) (models.Forest, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, f := range []models.Forest{models.ForestPersonal, models.ForestPublic} {
		if _, ok := s.forests[f][id]; ok {
			return f, true
		}
	}
	return models.ForestPersonal, false
}

// CreateChild creates a page and inserts the returned row. It is not optimistic:
// the node appears once the backend has assigned its id.
func (s *TreeStore) CreateChild(ctx context.Context, req CreateRequest) (*CreatedNode, error) {
	ctx, span := middleware.StartSpan(ctx, "TreeStore.CreateChild", attribute.Bool("is_public", req.IsPublic))
	defer span.End()

	title := req.Title
	if title == "" {
		title = defaultTitle
	}

	page, err := s.repo.Create(ctx, &models.Page{
		UserID:   s.userID,
		Title:    title,
		Emoji:    req.Emoji,
		ParentID: req.ParentID,
		IsPublic: req.IsPublic,
	})
	countMutation("tree", "create", err)
	if err != nil {
		middleware.AddSpanError(ctx, err)
		log.Printf("❌ Failed to create page: %v", err)
		desc := "Could not create a new note."
		if errors.Is(err, repository.ErrNotFound) {
			desc = "Parent page not found."
		}
		s.notifier.Notify(Notification{
			Level:       LevelError,
			Title:       "Create failed",
			Description: desc,
		})
		return nil, fmt.Errorf("failed to create page: %w", err)
	}

	s.Insert(page.Node())
	s.notifier.Notify(Notification{Level: LevelSuccess, Description: "New Note Created!"})

	return &CreatedNode{ID: page.ID, ParentID: page.ParentID, IsPublic: page.IsPublic}, nil
}

// InsertPaper adds a converted paper as a new root page. A public insert is a
// locked copy linked to the paper, so its content is always read from the
// source. A private insert copies the paper into an editable page. The paper
// must be the caller's own or public.
func (s *TreeStore) InsertPaper(ctx context.Context, req PaperRequest) (*CreatedNode, error) {
	ctx, span := middleware.StartSpan(ctx, "TreeStore.InsertPaper",
		attribute.String("source_id", req.SourceID),
		attribute.Bool("is_public", req.IsPublic),
	)
	defer span.End()

	if req.SourceID == "" {
		return nil, ErrInvalidID
	}

	page, err := s.copyPaper(ctx, req)
	countMutation("tree", "insert_paper", err)
	if err != nil {
		middleware.AddSpanError(ctx, err)
		log.Printf("❌ Failed to insert paper %s: %v", req.SourceID, err)
		s.notifier.Notify(Notification{Level: LevelError, Description: "Error converting the paper"})
		return nil, fmt.Errorf("failed to insert paper: %w", err)
	}

	s.Insert(page.Node())
	s.notifier.Notify(Notification{Level: LevelSuccess, Description: "Paper added to your notes."})

	return &CreatedNode{ID: page.ID, ParentID: page.ParentID, IsPublic: page.IsPublic}, nil
}

func (s *TreeStore) copyPaper(ctx context.Context, req PaperRequest) (*models.Page, error) {
	src, err := s.repo.GetVisible(ctx, s.userID, req.SourceID)
	if err != nil {
		return nil, err
	}

	if req.IsPublic {
		// link to the page that owns the content, never to another copy
		target := src.ID
		if src.Linked() {
			target = *src.LinkedTo
		}
		return s.repo.Create(ctx, &models.Page{
			UserID:   s.userID,
			Title:    src.Title,
			Emoji:    src.Emoji,
			IsPublic: true,
			LinkedTo: &target,
			IsLocked: true,
		})
	}

	content := src.Content
	if src.Linked() {
		linked, err := s.repo.GetVisible(ctx, s.userID, *src.LinkedTo)
		if err != nil {
			return nil, fmt.Errorf("failed to load linked page %s: %w", *src.LinkedTo, err)
		}
		content = linked.Content
	}
	return s.repo.Create(ctx, &models.Page{
		UserID:      s.userID,
		Title:       src.Title,
		Emoji:       src.Emoji,
		Description: src.Description,
		Content:     content,
	})
}

// ToggleCollapsed flips the expanded state of a node.
func (s *TreeStore) ToggleCollapsed(id string, parentID *string) bool {
	s.mu.Lock()
	_, open := s.collapsed[id]
	if open {
		delete(s.collapsed, id)
	} else {
		s.collapsed[id] = CollapsedEntry{ID: id, ParentID: parentID}
	}
	s.mu.Unlock()
	s.observe(models.MessageTypeTree)
	return !open
}

// CollapseAncestors expands parentID and every resident ancestor above it so a
// freshly created deep node is visible.
func (s *TreeStore) CollapseAncestors(forest models.Forest, parentID *string) {
	s.mu.Lock()
	m := s.forests[forest]
	seen := make(map[string]bool)
	for cur := parentID; cur != nil && !seen[*cur]; {
		seen[*cur] = true
		n, ok := m[*cur]
		if !ok {
			break
		}
		s.collapsed[n.ID] = CollapsedEntry{ID: n.ID, ParentID: n.ParentID}
		cur = n.ParentID
	}
	s.mu.Unlock()
	s.observe(models.MessageTypeTree)
}

// ApplyEvent merges a pages row change.
func (s *TreeStore) ApplyEvent(ev realtime.Event) {
	if ev.Table != realtime.TablePages {
		return
	}
	node := ev.Node()
	switch ev.Type {
	case realtime.EventInsert:
		if node.Deleted() {
			return
		}
		s.Insert(node)
	case realtime.EventDelete:
		s.Delete(node)
	case realtime.EventUpdate:
		s.Update(node)
	}
}

// Nodes returns a copy of a forest ordered by creation time.
func (s *TreeStore) Nodes(forest models.Forest) []models.Node {
	s.mu.Lock()
	out := make([]models.Node, 0, len(s.forests[forest]))
	for _, n := range s.forests[forest] {
		out = append(out, n)
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Get returns a resident node.
func (s *TreeStore) Get(forest models.Forest, id string) (models.Node, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.forests[forest][id]
	return n, ok
}

// Loading reports whether children of parentID are being fetched.
func (s *TreeStore) Loading(forest models.Forest, parentID *string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loading[loadingKey(forest, parentID)]
}

// Collapsed returns the expanded nodes.
func (s *TreeStore) Collapsed() []CollapsedEntry {
	s.mu.Lock()
	out := make([]CollapsedEntry, 0, len(s.collapsed))
	for _, c := range s.collapsed {
		out = append(out, c)
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// TreeState is a point-in-time view of both forests.
type TreeState struct {
	Personal  []models.Node    `json:"personal"`
	Public    []models.Node    `json:"public"`
	Collapsed []CollapsedEntry `json:"collapsed"`
}

// Snapshot returns both forests and the expanded set.
func (s *TreeStore) Snapshot() TreeState {
	return TreeState{
		Personal:  s.Nodes(models.ForestPersonal),
		Public:    s.Nodes(models.ForestPublic),
		Collapsed: s.Collapsed(),
	}
}
