package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"research-notes/internal/models"
	"research-notes/internal/realtime"
)

type chanStream struct {
	ch      chan realtime.Event
	once    sync.Once
	closed  bool
	dropped bool
}

func newChanStream() *chanStream {
	return &chanStream{ch: make(chan realtime.Event, 16)}
}

func (s *chanStream) Events() <-chan realtime.Event { return s.ch }

func (s *chanStream) Dropped() bool { return s.dropped }

func (s *chanStream) Close() {
	s.once.Do(func() {
		s.closed = true
		close(s.ch)
	})
}

type recordingHandler struct {
	name  string
	mu    *sync.Mutex
	log   *[]string
	panic bool
}

func (h recordingHandler) ApplyEvent(ev realtime.Event) {
	h.mu.Lock()
	*h.log = append(*h.log, h.name+":"+ev.ID)
	h.mu.Unlock()
	if h.panic {
		panic("boom")
	}
}

func TestCoordinator_MountIsIdempotent(t *testing.T) {
	c := NewCoordinator(nil, nil, nil)
	calls := 0
	stream := newChanStream()
	subscribe := func() EventStream {
		calls++
		return stream
	}

	assert.True(t, c.Mount(subscribe))
	assert.False(t, c.Mount(subscribe))
	assert.Equal(t, 1, calls)
	assert.True(t, c.Mounted())

	c.Unmount()
	assert.True(t, stream.closed)
	assert.False(t, c.Mounted())
	c.Unmount()
}

func TestCoordinator_AppliesDocThenTreeInOrder(t *testing.T) {
	var mu sync.Mutex
	var got []string
	c := NewCoordinator(
		recordingHandler{name: "doc", mu: &mu, log: &got},
		recordingHandler{name: "tree", mu: &mu, log: &got},
		nil,
	)
	stream := newChanStream()
	require.True(t, c.Mount(func() EventStream { return stream }))

	stream.ch <- realtime.Event{Type: realtime.EventUpdate, Table: realtime.TablePages, ID: "1"}
	stream.ch <- realtime.Event{Type: realtime.EventUpdate, Table: realtime.TablePages, ID: "2"}
	c.Unmount()

	assert.Equal(t, []string{"doc:1", "tree:1", "doc:2", "tree:2"}, got)
}

func TestCoordinator_PassesOtherTablesThrough(t *testing.T) {
	var mu sync.Mutex
	var got []string
	var passed []realtime.Event
	c := NewCoordinator(
		recordingHandler{name: "doc", mu: &mu, log: &got},
		recordingHandler{name: "tree", mu: &mu, log: &got},
		func(ev realtime.Event) { passed = append(passed, ev) },
	)

	c.Dispatch(realtime.Event{Type: realtime.EventInsert, Table: "comments", ID: "c1"})

	assert.Empty(t, got)
	require.Len(t, passed, 1)
	assert.Equal(t, "c1", passed[0].ID)
}

func TestCoordinator_RecoversHandlerPanic(t *testing.T) {
	var mu sync.Mutex
	var got []string
	c := NewCoordinator(
		recordingHandler{name: "doc", mu: &mu, log: &got, panic: true},
		recordingHandler{name: "tree", mu: &mu, log: &got},
		nil,
	)

	assert.NotPanics(t, func() {
		c.Dispatch(realtime.Event{Type: realtime.EventUpdate, Table: realtime.TablePages, ID: "1"})
	})
	assert.Equal(t, []string{"doc:1", "tree:1"}, got)
}

// Create, move to trash, restore, and let the realtime update bring the page
// back into the sidebar.
func TestSession_TrashRoundTrip(t *testing.T) {
	broker := realtime.NewBroker(32)
	broker.Start()
	defer broker.Shutdown()

	repo := newMemRepo()
	repo.publish = broker.Publish
	ctx := context.Background()

	tree := NewTreeStore(testUser, repo, nil, nil)
	doc := NewDocStore(testUser, repo, nil, nil)
	trash := NewTrashStore(testUser, repo, nil, nil, DefaultTrashPageSize)
	coord := NewCoordinator(doc, tree, nil)
	require.True(t, coord.Mount(func() EventStream { return broker.Subscribe(testUser) }))
	defer coord.Unmount()

	created, err := tree.CreateChild(ctx, CreateRequest{Title: "Paper notes"})
	require.NoError(t, err)
	_, err = doc.Load(ctx, created.ID)
	require.NoError(t, err)

	id, err := tree.SoftDelete(ctx, created.ID)
	require.NoError(t, err)
	assert.Eventually(t, func() bool {
		_, ok := tree.Get(models.ForestPersonal, id)
		return !ok
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, trash.List(ctx, ""))
	entries := trash.Snapshot().Entries
	require.Len(t, entries, 1)
	assert.Equal(t, id, entries[0].ID)

	require.NoError(t, trash.Restore(ctx, id))
	assert.Empty(t, trash.Snapshot().Entries)

	assert.Eventually(t, func() bool {
		n, ok := tree.Get(models.ForestPersonal, id)
		return ok && n.Title == "Paper notes" && !n.Deleted()
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, trash.List(ctx, ""))
	assert.Empty(t, trash.Snapshot().Entries)
}

// A permanent delete pushed through realtime closes the open document.
func TestSession_HardDeleteClosesDocument(t *testing.T) {
	broker := realtime.NewBroker(32)
	broker.Start()
	defer broker.Shutdown()

	repo := newMemRepo()
	repo.publish = broker.Publish
	id := repo.seed(models.Page{UserID: testUser, Title: "Gone", IsDeleted: boolPtr(true)})
	ctx := context.Background()

	doc := NewDocStore(testUser, repo, nil, nil)
	trash := NewTrashStore(testUser, repo, nil, nil, DefaultTrashPageSize)
	coord := NewCoordinator(doc, NewTreeStore(testUser, repo, nil, nil), nil)
	require.True(t, coord.Mount(func() EventStream { return broker.Subscribe(testUser) }))
	defer coord.Unmount()

	_, err := doc.Load(ctx, id)
	require.NoError(t, err)
	require.NoError(t, trash.DeletePermanent(ctx, id))

	assert.Eventually(t, func() bool {
		_, open := doc.Current()
		return !open
	}, time.Second, 5*time.Millisecond)
}

type gatedHandler struct {
	gate <-chan struct{}
}

func (h gatedHandler) ApplyEvent(realtime.Event) { <-h.gate }

func pageInsert(id string) realtime.Event {
	return realtime.Event{
		Type:   realtime.EventInsert,
		Table:  realtime.TablePages,
		ID:     id,
		UserID: testUser,
		New:    &models.Page{ID: id, UserID: testUser, Title: id},
	}
}

// A handler that stalls long enough for the broker to drop the subscription
// must not leave the session deaf to later changes.
func TestCoordinator_ResubscribesAfterBrokerDrop(t *testing.T) {
	broker := realtime.NewBroker(1)
	broker.Start()
	defer broker.Shutdown()

	gate := make(chan struct{})
	tree := NewTreeStore(testUser, newMemRepo(), nil, nil)
	coord := NewCoordinator(gatedHandler{gate: gate}, tree, nil)

	var mu sync.Mutex
	resumed := 0
	coord.OnResume(func() {
		mu.Lock()
		resumed++
		mu.Unlock()
	})
	require.True(t, coord.Mount(func() EventStream { return broker.Subscribe(testUser) }))
	defer coord.Unmount()
	require.Eventually(t, func() bool { return broker.SubscriberCount(testUser) == 1 }, time.Second, 5*time.Millisecond)

	for _, id := range []string{"e1", "e2", "e3", "e4"} {
		broker.Publish(pageInsert(id))
	}
	require.Eventually(t, func() bool { return broker.SubscriberCount(testUser) == 0 }, time.Second, 5*time.Millisecond)

	close(gate)
	require.Eventually(t, func() bool { return broker.SubscriberCount(testUser) == 1 }, time.Second, 5*time.Millisecond)
	assert.True(t, coord.Mounted())

	broker.Publish(pageInsert("late"))
	assert.Eventually(t, func() bool {
		_, ok := tree.Get(models.ForestPersonal, "late")
		return ok
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	assert.Equal(t, 1, resumed)
	mu.Unlock()
}

func TestCoordinator_DoesNotResumeAfterClose(t *testing.T) {
	c := NewCoordinator(nil, nil, nil)
	calls := 0
	c.OnResume(func() { t.Error("resumed after a plain close") })
	stream := newChanStream()
	require.True(t, c.Mount(func() EventStream {
		calls++
		return stream
	}))

	// the stream ends without being dropped
	stream.Close()
	c.Unmount()

	assert.Equal(t, 1, calls)
	assert.False(t, c.Mounted())
}

func TestCoordinator_UnmountStopsResume(t *testing.T) {
	c := NewCoordinator(nil, nil, nil)
	first := newChanStream()
	first.dropped = true
	calls := 0
	require.True(t, c.Mount(func() EventStream {
		calls++
		if calls == 1 {
			return first
		}
		return newChanStream()
	}))
	c.Unmount()

	assert.Equal(t, 1, calls)
	assert.False(t, c.Mounted())
}
