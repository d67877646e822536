package realtime

import (
	"log"
	"sync"
	"sync/atomic"
)

// Broker fans events out to per-user subscriptions. A single goroutine owns
// the delivery loop; register, unregister and broadcast all go through it, so
// every subscriber sees events in publish order.
type Broker struct {
	subs       map[string]map[*Subscription]bool // userID -> set of subscriptions
	register   chan *Subscription
	unregister chan *Subscription
	broadcast  chan Event
	mu         sync.RWMutex

	bufferSize int

	started   bool
	startOnce sync.Once
	done      chan struct{}
	stopped   chan struct{}
	once      sync.Once
}

// Subscription is one consumer of a user's events
type Subscription struct {
	UserID string
	events  chan Event
	broker  *Broker
	once    sync.Once
	dropped atomic.Bool
}

// NewBroker creates a broker; bufferSize bounds each subscription's queue
func NewBroker(bufferSize int) *Broker {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	return &Broker{
		subs:       make(map[string]map[*Subscription]bool),
		register:   make(chan *Subscription),
		unregister: make(chan *Subscription),
		broadcast:  make(chan Event, 256),
		bufferSize: bufferSize,
		done:       make(chan struct{}),
		stopped:    make(chan struct{}),
	}
}

// Start begins the delivery loop. Subscribe blocks until it runs.
func (b *Broker) Start() {
	b.startOnce.Do(b.start)
}

func (b *Broker) start() {
	b.mu.Lock()
	b.started = true
	b.mu.Unlock()

	go func() {
		defer close(b.stopped)
		for {
			select {
			case <-b.done:
				b.closeAll()
				return

			case sub := <-b.register:
				b.handleRegister(sub)

			case sub := <-b.unregister:
				b.remove(sub)

			case ev := <-b.broadcast:
				b.handleBroadcast(ev)
			}
		}
	}()
	log.Println("✓ Realtime broker started")
}

// Publish queues an event for delivery
func (b *Broker) Publish(ev Event) {
	select {
	case b.broadcast <- ev:
	case <-b.done:
	}
}

// Subscribe registers a new subscription for userID. After Shutdown it
// returns an already closed subscription.
func (b *Broker) Subscribe(userID string) *Subscription {
	sub := &Subscription{
		UserID: userID,
		events: make(chan Event, b.bufferSize),
		broker: b,
	}
	select {
	case b.register <- sub:
	case <-b.done:
		sub.once.Do(func() { close(sub.events) })
	}
	return sub
}

// SubscriberCount returns the number of open subscriptions for userID
func (b *Broker) SubscriberCount(userID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[userID])
}

func (b *Broker) handleRegister(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.subs[sub.UserID] == nil {
		b.subs[sub.UserID] = make(map[*Subscription]bool)
	}
	b.subs[sub.UserID][sub] = true
	activeSubscriptions.Inc()
}

func (b *Broker) handleBroadcast(ev Event) {
	if ev.UserID == "" {
		return
	}

	b.mu.RLock()
	subs := make([]*Subscription, 0, len(b.subs[ev.UserID]))
	for sub := range b.subs[ev.UserID] {
		subs = append(subs, sub)
	}
	b.mu.RUnlock()

	for _, sub := range subs {
		select {
		case sub.events <- ev:
		default:
			// a stalled subscriber would hold up everyone else
			log.Printf("⚠️  Subscription for user %s fell behind, dropping it", sub.UserID)
			subscribersDropped.Inc()
			sub.dropped.Store(true)
			b.remove(sub)
		}
	}
}

func (b *Broker) remove(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if set, ok := b.subs[sub.UserID]; ok {
		if _, ok := set[sub]; ok {
			delete(set, sub)
			activeSubscriptions.Dec()
			sub.once.Do(func() { close(sub.events) })
		}
		if len(set) == 0 {
			delete(b.subs, sub.UserID)
		}
	}
}

func (b *Broker) closeAll() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, set := range b.subs {
		for sub := range set {
			activeSubscriptions.Dec()
			sub.once.Do(func() { close(sub.events) })
		}
	}
	b.subs = make(map[string]map[*Subscription]bool)
}

// Shutdown stops the loop and closes every subscription
func (b *Broker) Shutdown() {
	b.once.Do(func() {
		close(b.done)
	})

	b.mu.RLock()
	started := b.started
	b.mu.RUnlock()
	if started {
		<-b.stopped
	}
	log.Println("✓ Realtime broker shutdown complete")
}

// Events is closed when the subscription ends
func (s *Subscription) Events() <-chan Event {
	return s.events
}

// Dropped reports whether the broker ended the subscription because its
// queue was full. Events published after that point were not delivered.
func (s *Subscription) Dropped() bool {
	return s.dropped.Load()
}

// Close unsubscribes. It is safe to call more than once.
func (s *Subscription) Close() {
	select {
	case s.broker.unregister <- s:
	case <-s.broker.done:
	}
}
