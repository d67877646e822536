package session

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"research-notes/internal/models"
	"research-notes/internal/realtime"
	"research-notes/internal/store"
)

// Session is the state of one signed-in user: the sidebar, the open document,
// the trash listing and the realtime subscription feeding them. Updates are
// pushed to every websocket attached to it.
type Session struct {
	UserID      string
	Tree        *store.TreeStore
	Doc         *store.DocStore
	Trash       *store.TrashStore
	Coordinator *store.Coordinator

	clients    map[*Client]bool
	lastActive time.Time
	closed     bool
	mu         sync.RWMutex
}

func newSession(userID string, pages PageStore, opts Options) *Session {
	s := &Session{
		UserID:     userID,
		clients:    make(map[*Client]bool),
		lastActive: time.Now(),
	}

	docOpts := []store.DocOption{}
	if opts.SaveStatusClearDelay > 0 {
		docOpts = append(docOpts, store.WithSaveStatusClearDelay(opts.SaveStatusClearDelay))
	}
	if opts.OnSave != nil {
		onSave := opts.OnSave
		docOpts = append(docOpts, store.WithSaveHook(func(pageID string, patch models.DocPatch) {
			onSave(userID, pageID, patch)
		}))
	}

	s.Tree = store.NewTreeStore(userID, pages, s, s.changed)
	s.Doc = store.NewDocStore(userID, pages, s, s.changed, docOpts...)
	s.Trash = store.NewTrashStore(userID, pages, s, s.changed, opts.TrashPageSize)
	s.Coordinator = store.NewCoordinator(s.Doc, s.Tree, s.passthrough)
	s.Coordinator.OnResume(s.resumed)
	return s
}

// resumed tells clients that live updates were interrupted. Changes made in
// the gap are only picked up by reloading.
func (s *Session) resumed() {
	s.Notify(store.Notification{
		Level:       store.LevelError,
		Title:       "Live updates interrupted",
		Description: "Reload to see the latest changes.",
	})
	s.changed(models.MessageTypeTree)
	s.changed(models.MessageTypeDoc)
}

// Notify implements store.Notifier by pushing the notification to every client
func (s *Session) Notify(n store.Notification) {
	s.push(models.Message{Type: models.MessageTypeNotification, Payload: n})
}

// changed pushes a fresh snapshot of the store that changed
func (s *Session) changed(kind models.MessageType) {
	if s.clientCount() == 0 {
		return
	}
	s.push(models.Message{Type: kind, Payload: s.snapshot(kind)})
}

func (s *Session) snapshot(kind models.MessageType) any {
	switch kind {
	case models.MessageTypeTree:
		return s.Tree.Snapshot()
	case models.MessageTypeDoc:
		return s.Doc.Snapshot()
	case models.MessageTypeTrash:
		return s.Trash.Snapshot()
	default:
		return nil
	}
}

// passthrough forwards row changes of chats and comments unchanged
func (s *Session) passthrough(ev realtime.Event) {
	s.push(models.Message{Type: models.MessageTypeEvent, Payload: ev})
}

func (s *Session) push(msg models.Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		log.Printf("⚠️  Failed to encode %s message: %v", msg.Type, err)
		return
	}

	s.mu.RLock()
	var slow []*Client
	for c := range s.clients {
		select {
		case c.Send <- data:
		default:
			slow = append(slow, c)
		}
	}
	s.mu.RUnlock()

	for _, c := range slow {
		log.Printf("⚠️  Client %s buffer full, closing connection", c.ID)
		s.detach(c)
	}
}

// attach registers a client. It returns false when the session has already
// been closed.
func (s *Session) attach(c *Client) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.clients[c] = true
	s.lastActive = time.Now()
	connectedClients.Inc()
	return true
}

// detach removes the client and closes its send queue
func (s *Session) detach(c *Client) {
	s.mu.Lock()
	_, ok := s.clients[c]
	if ok {
		delete(s.clients, c)
		s.lastActive = time.Now()
	}
	s.mu.Unlock()

	if ok {
		connectedClients.Dec()
		c.closeSend()
	}
}

func (s *Session) clientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

func (s *Session) touch() {
	s.mu.Lock()
	s.lastActive = time.Now()
	s.mu.Unlock()
}

// idleSince reports how long the session has been without clients
func (s *Session) idleSince(now time.Time) time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.clients) > 0 {
		return 0
	}
	return now.Sub(s.lastActive)
}

func (s *Session) close() {
	s.Coordinator.Unmount()

	s.mu.Lock()
	s.closed = true
	clients := make([]*Client, 0, len(s.clients))
	for c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.Unlock()

	for _, c := range clients {
		s.detach(c)
	}
}
