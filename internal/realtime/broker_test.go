package realtime

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func receive(t *testing.T, sub *Subscription) Event {
	t.Helper()
	select {
	case ev, ok := <-sub.Events():
		require.True(t, ok, "subscription closed")
		return ev
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

func TestBroker_DeliversToOwningUserOnly(t *testing.T) {
	b := NewBroker(8)
	b.Start()
	defer b.Shutdown()

	alice := b.Subscribe("alice")
	bob := b.Subscribe("bob")

	b.Publish(Event{Type: EventInsert, Table: TablePages, ID: "p1", UserID: "alice"})
	b.Publish(Event{Type: EventInsert, Table: TablePages, ID: "p2", UserID: "bob"})

	assert.Equal(t, "p1", receive(t, alice).ID)
	assert.Equal(t, "p2", receive(t, bob).ID)
}

func TestBroker_PreservesPublishOrder(t *testing.T) {
	b := NewBroker(64)
	b.Start()
	defer b.Shutdown()

	sub := b.Subscribe("alice")
	ids := []string{"a", "b", "c", "d", "e"}
	for _, id := range ids {
		b.Publish(Event{Type: EventUpdate, Table: TablePages, ID: id, UserID: "alice"})
	}

	for _, id := range ids {
		assert.Equal(t, id, receive(t, sub).ID)
	}
}

func TestBroker_FanOutToEverySubscription(t *testing.T) {
	b := NewBroker(8)
	b.Start()
	defer b.Shutdown()

	first := b.Subscribe("alice")
	second := b.Subscribe("alice")
	require.Eventually(t, func() bool { return b.SubscriberCount("alice") == 2 }, time.Second, 5*time.Millisecond)

	b.Publish(Event{Type: EventDelete, Table: TablePages, ID: "p1", UserID: "alice"})
	assert.Equal(t, "p1", receive(t, first).ID)
	assert.Equal(t, "p1", receive(t, second).ID)
}

func TestBroker_CloseUnsubscribes(t *testing.T) {
	b := NewBroker(8)
	b.Start()
	defer b.Shutdown()

	sub := b.Subscribe("alice")
	sub.Close()
	sub.Close()

	_, ok := <-sub.Events()
	assert.False(t, ok)
	assert.Equal(t, 0, b.SubscriberCount("alice"))
}

func TestBroker_DropsSlowSubscriber(t *testing.T) {
	b := NewBroker(1)
	b.Start()
	defer b.Shutdown()

	slow := b.Subscribe("alice")
	b.Publish(Event{Type: EventUpdate, Table: TablePages, ID: "1", UserID: "alice"})
	b.Publish(Event{Type: EventUpdate, Table: TablePages, ID: "2", UserID: "alice"})

	require.Eventually(t, func() bool { return b.SubscriberCount("alice") == 0 }, time.Second, 5*time.Millisecond)

	ev, ok := <-slow.Events()
	assert.True(t, ok)
	assert.Equal(t, "1", ev.ID)
	_, ok = <-slow.Events()
	assert.False(t, ok)
}

func TestBroker_ShutdownClosesSubscriptions(t *testing.T) {
	b := NewBroker(8)
	b.Start()

	sub := b.Subscribe("alice")
	b.Shutdown()

	_, ok := <-sub.Events()
	assert.False(t, ok)

	late := b.Subscribe("alice")
	_, ok = <-late.Events()
	assert.False(t, ok)
	late.Close()
}
