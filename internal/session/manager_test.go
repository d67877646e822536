package session

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"research-notes/internal/models"
	"research-notes/internal/realtime"
	"research-notes/internal/repository"
	"research-notes/internal/store"
)

const testUser = "0f8fad5b-d9cb-469f-a165-70867728950e"

// stubPages serves a fixed set of pages and accepts every write
type stubPages map[string]*models.Page

func (p stubPages) ListChildren(ctx context.Context, userID string, forest models.Forest, parentID *string) ([]models.Node, error) {
	var out []models.Node
	for _, page := range p {
		if page.ParentID == nil && page.IsPublic == forest.IsPublic() {
			out = append(out, page.Node())
		}
	}
	return out, nil
}

func (p stubPages) GetOwned(ctx context.Context, userID, id string) (*models.Page, error) {
	page, ok := p[id]
	if !ok || page.UserID != userID {
		return nil, repository.ErrNotFound
	}
	cp := *page
	return &cp, nil
}

func (p stubPages) GetVisible(ctx context.Context, userID, id string) (*models.Page, error) {
	page, ok := p[id]
	if !ok || (page.UserID != userID && !page.IsPublic) {
		return nil, repository.ErrNotFound
	}
	cp := *page
	return &cp, nil
}

func (p stubPages) Create(ctx context.Context, page *models.Page) (*models.Page, error) {
	cp := *page
	cp.ID = "created"
	p[cp.ID] = &cp
	return &cp, nil
}

func (p stubPages) Update(ctx context.Context, userID, id string, columns map[string]any) error {
	return nil
}

func (p stubPages) SoftDelete(ctx context.Context, userID, id string) error { return nil }

func (p stubPages) ListTrash(ctx context.Context, userID, keyword string, offset, limit int) ([]models.TrashEntry, error) {
	return nil, nil
}

func (p stubPages) ChildIDs(ctx context.Context, userID, parentID string) ([]string, error) {
	return nil, nil
}

func (p stubPages) HardDelete(ctx context.Context, userID, id string) error { return nil }

func (p stubPages) Restore(ctx context.Context, userID, id string) error { return nil }

func newTestManager(t *testing.T, opts Options) (*Manager, *realtime.Broker) {
	t.Helper()
	broker := realtime.NewBroker(16)
	broker.Start()
	t.Cleanup(broker.Shutdown)

	pages := stubPages{"doc": {ID: "doc", UserID: testUser, Title: "Doc"}}
	m := NewManager(pages, broker, opts)
	t.Cleanup(m.Shutdown)
	return m, broker
}

func attachTestClient(t *testing.T, s *Session) *Client {
	t.Helper()
	c := newClient(s, nil)
	require.True(t, s.attach(c))
	return c
}

func nextMessage(t *testing.T, c *Client) models.Message {
	t.Helper()
	select {
	case data, ok := <-c.Send:
		require.True(t, ok, "send queue closed")
		var msg models.Message
		require.NoError(t, json.Unmarshal(data, &msg))
		return msg
	case <-time.After(time.Second):
		t.Fatal("no message")
		return models.Message{}
	}
}

func TestManager_GetCreatesOneSessionPerUser(t *testing.T) {
	m, broker := newTestManager(t, Options{})

	s1 := m.Get(testUser)
	s2 := m.Get(testUser)

	assert.Same(t, s1, s2)
	assert.Equal(t, 1, m.Count())
	assert.True(t, s1.Coordinator.Mounted())
	assert.Eventually(t, func() bool { return broker.SubscriberCount(testUser) == 1 }, time.Second, 5*time.Millisecond)
}

func TestManager_EndTearsDown(t *testing.T) {
	m, broker := newTestManager(t, Options{})
	s := m.Get(testUser)
	c := attachTestClient(t, s)

	assert.True(t, m.End(testUser))
	assert.False(t, m.End(testUser))

	_, ok := <-c.Send
	assert.False(t, ok, "client queue is closed")
	assert.False(t, s.Coordinator.Mounted())
	assert.Eventually(t, func() bool { return broker.SubscriberCount(testUser) == 0 }, time.Second, 5*time.Millisecond)
	assert.False(t, s.attach(newClient(s, nil)), "closed session refuses clients")

	_, exists := m.Lookup(testUser)
	assert.False(t, exists)
}

func TestSession_NotifyReachesClients(t *testing.T) {
	m, _ := newTestManager(t, Options{})
	s := m.Get(testUser)
	c := attachTestClient(t, s)

	s.Notify(store.Notification{Level: store.LevelError, Description: "nope"})

	msg := nextMessage(t, c)
	assert.Equal(t, models.MessageTypeNotification, msg.Type)
	payload, ok := msg.Payload.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "nope", payload["description"])
}

func TestSession_StoreChangesArePushed(t *testing.T) {
	m, _ := newTestManager(t, Options{})
	s := m.Get(testUser)
	c := attachTestClient(t, s)

	_, err := s.Doc.Load(context.Background(), "doc")
	require.NoError(t, err)

	// loading, then loaded
	first := nextMessage(t, c)
	assert.Equal(t, models.MessageTypeDoc, first.Type)
	second := nextMessage(t, c)
	assert.Equal(t, models.MessageTypeDoc, second.Type)
	state := second.Payload.(map[string]any)
	doc := state["doc"].(map[string]any)
	assert.Equal(t, "Doc", doc["title"])
}

func TestSession_RealtimePassthrough(t *testing.T) {
	m, broker := newTestManager(t, Options{})
	s := m.Get(testUser)
	c := attachTestClient(t, s)
	require.Eventually(t, func() bool { return broker.SubscriberCount(testUser) == 1 }, time.Second, 5*time.Millisecond)

	broker.Publish(realtime.Event{Type: realtime.EventInsert, Table: "comments", ID: "c1", UserID: testUser})

	msg := nextMessage(t, c)
	assert.Equal(t, models.MessageTypeEvent, msg.Type)
}

func TestSession_SlowClientIsDropped(t *testing.T) {
	m, _ := newTestManager(t, Options{})
	s := m.Get(testUser)
	c := attachTestClient(t, s)

	for i := 0; i < sendBuffer+1; i++ {
		s.Notify(store.Notification{Level: store.LevelSuccess, Description: "x"})
	}

	assert.Equal(t, 0, s.clientCount())
	for range c.Send {
	}
}

func TestSession_OnSaveCarriesUser(t *testing.T) {
	var gotUser, gotPage string
	m, _ := newTestManager(t, Options{
		OnSave: func(userID, pageID string, patch models.DocPatch) {
			gotUser, gotPage = userID, pageID
		},
	})
	s := m.Get(testUser)
	ctx := context.Background()
	_, err := s.Doc.Load(ctx, "doc")
	require.NoError(t, err)

	require.NoError(t, s.Doc.Update(ctx, "doc", models.DocPatch{models.FieldContent: "new"}))

	assert.Equal(t, testUser, gotUser)
	assert.Equal(t, "doc", gotPage)
}

func TestManager_CleanupEndsIdleSessions(t *testing.T) {
	m, _ := newTestManager(t, Options{IdleTimeout: time.Minute})
	idle := m.Get(testUser)
	busy := m.Get("8c5e2b0a-1d2f-4a3b-9c4d-5e6f7a8b9c0d")
	attachTestClient(t, busy)

	ended := m.cleanup(time.Now().Add(2 * time.Minute))

	assert.Equal(t, 1, ended)
	_, ok := m.Lookup(testUser)
	assert.False(t, ok)
	assert.False(t, idle.Coordinator.Mounted())
	assert.Equal(t, 1, m.Count())
}

func TestSession_ResumeAsksClientsToReload(t *testing.T) {
	m, _ := newTestManager(t, Options{})
	s := m.Get(testUser)
	c := attachTestClient(t, s)

	s.resumed()

	msg := nextMessage(t, c)
	assert.Equal(t, models.MessageTypeNotification, msg.Type)
	payload := msg.Payload.(map[string]any)
	assert.Equal(t, "Live updates interrupted", payload["title"])
	assert.Equal(t, models.MessageTypeTree, nextMessage(t, c).Type)
	assert.Equal(t, models.MessageTypeDoc, nextMessage(t, c).Type)
}
