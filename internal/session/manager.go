// Package session owns the per-user state containers and the websocket
// connections that mirror them to the browser.
package session

import (
	"log"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"research-notes/internal/models"
	"research-notes/internal/realtime"
	"research-notes/internal/store"
)

var (
	activeSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "session_active",
		Help: "Open user sessions",
	})
	connectedClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "session_websocket_clients",
		Help: "Websocket connections attached to sessions",
	})
)

// PageStore is the page storage shared by the three stores of a session
type PageStore interface {
	store.TreeRepository
	store.DocRepository
	store.TrashRepository
}

// EventSource opens a realtime subscription for one user
type EventSource interface {
	Subscribe(userID string) *realtime.Subscription
}

// Options tune newly created sessions
type Options struct {
	TrashPageSize        int
	SaveStatusClearDelay time.Duration
	IdleTimeout          time.Duration // sessions without clients are ended after this
	// OnSave runs after every successful document save
	OnSave func(userID, pageID string, patch models.DocPatch)
}

// Manager keeps one Session per signed-in user
type Manager struct {
	pages  PageStore
	events EventSource
	opts   Options

	sessions map[string]*Session
	mu       sync.Mutex

	done chan struct{}
	once sync.Once
}

// NewManager creates a session manager
func NewManager(pages PageStore, events EventSource, opts Options) *Manager {
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = 30 * time.Minute
	}
	return &Manager{
		pages:    pages,
		events:   events,
		opts:     opts,
		sessions: make(map[string]*Session),
		done:     make(chan struct{}),
	}
}

// Start begins the idle session cleanup loop
func (m *Manager) Start() {
	go m.cleanupLoop()
	log.Println("✓ Session manager started")
}

// Get returns the session of userID, creating it and opening its realtime
// subscription on first use.
func (m *Manager) Get(userID string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.sessions[userID]; ok {
		s.touch()
		return s
	}

	s := newSession(userID, m.pages, m.opts)
	s.Coordinator.Mount(func() store.EventStream {
		return m.events.Subscribe(userID)
	})
	m.sessions[userID] = s
	activeSessions.Inc()

	log.Printf("  Session opened for user %s (total: %d)", userID, len(m.sessions))
	return s
}

// Lookup returns an existing session without creating one
func (m *Manager) Lookup(userID string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[userID]
	return s, ok
}

// End tears the session of userID down: the realtime subscription is closed,
// every websocket is disconnected and all state is dropped.
func (m *Manager) End(userID string) bool {
	m.mu.Lock()
	s, ok := m.sessions[userID]
	if ok {
		delete(m.sessions, userID)
	}
	m.mu.Unlock()

	if !ok {
		return false
	}
	s.close()
	activeSessions.Dec()
	log.Printf("  Session closed for user %s", userID)
	return true
}

// Count returns the number of open sessions
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

func (m *Manager) cleanupLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			m.cleanup(time.Now())
		}
	}
}

// cleanup ends sessions that have had no clients for longer than the idle
// timeout
func (m *Manager) cleanup(now time.Time) int {
	m.mu.Lock()
	var idle []string
	for userID, s := range m.sessions {
		if s.idleSince(now) > m.opts.IdleTimeout {
			idle = append(idle, userID)
		}
	}
	m.mu.Unlock()

	for _, userID := range idle {
		log.Printf("  Cleaning up idle session for user %s", userID)
		m.End(userID)
	}
	return len(idle)
}

// Shutdown ends every session
func (m *Manager) Shutdown() {
	m.once.Do(func() {
		log.Println("🛑 Shutting down session manager...")
		close(m.done)

		m.mu.Lock()
		users := make([]string, 0, len(m.sessions))
		for userID := range m.sessions {
			users = append(users, userID)
		}
		m.mu.Unlock()

		for _, userID := range users {
			m.End(userID)
		}
		log.Println("✓ Session manager shutdown complete")
	})
}
