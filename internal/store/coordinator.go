package store

import (
	"log"
	"runtime/debug"
	"sync"

	"research-notes/internal/realtime"
)

// Coordinator is the single realtime subscription of a session. It applies
// each pages change to the document store and then to the tree store before
// taking the next event, and hands changes to other tables to passthrough.
// A subscription dropped by the publisher is reopened until Unmount.
type Coordinator struct {
	doc         EventHandler
	tree        EventHandler
	passthrough func(realtime.Event)

	mu        sync.Mutex
	subscribe func() EventStream
	stream    EventStream
	done      chan struct{}
	onResume  func()
}

func NewCoordinator(doc, tree EventHandler, passthrough func(realtime.Event)) *Coordinator {
	return &Coordinator{doc: doc, tree: tree, passthrough: passthrough}
}

// Mount opens the subscription. subscribe is only called when no subscription
// is active; a repeated Mount returns false and changes nothing.
func (c *Coordinator) Mount(subscribe func() EventStream) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stream != nil {
		return false
	}
	c.subscribe = subscribe
	c.startLocked()
	return true
}

// OnResume sets fn to run after a dropped subscription has been reopened.
// Changes made while it was down are not replayed.
func (c *Coordinator) OnResume(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onResume = fn
}

func (c *Coordinator) startLocked() {
	c.stream = c.subscribe()
	c.done = make(chan struct{})
	go c.pump(c.stream, c.done)
}

// Mounted reports whether a subscription is active.
func (c *Coordinator) Mounted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stream != nil
}

// Unmount closes the subscription and waits for the event in progress to be
// applied. It is a no-op when nothing is mounted.
func (c *Coordinator) Unmount() {
	c.mu.Lock()
	stream, done := c.stream, c.done
	c.stream, c.done = nil, nil
	c.mu.Unlock()

	if stream == nil {
		return
	}
	stream.Close()
	<-done
}

func (c *Coordinator) pump(stream EventStream, done chan struct{}) {
	for ev := range stream.Events() {
		c.Dispatch(ev)
	}
	close(done)

	if stream.Dropped() {
		c.resume(stream)
	}
}

// resume reopens a dropped subscription unless it was unmounted or replaced
// in the meantime.
func (c *Coordinator) resume(dropped EventStream) {
	c.mu.Lock()
	if c.stream != dropped {
		c.mu.Unlock()
		return
	}
	c.startLocked()
	onResume := c.onResume
	c.mu.Unlock()

	resubscribes.Inc()
	log.Printf("⚠️  Realtime subscription was dropped, resubscribed")
	if onResume != nil {
		onResume()
	}
}

// Dispatch applies one event synchronously.
func (c *Coordinator) Dispatch(ev realtime.Event) {
	eventsApplied.WithLabelValues(ev.Table, string(ev.Type)).Inc()

	if ev.Table != realtime.TablePages {
		if c.passthrough != nil {
			safely("passthrough", ev, c.passthrough)
		}
		return
	}
	if c.doc != nil {
		safely("doc", ev, c.doc.ApplyEvent)
	}
	if c.tree != nil {
		safely("tree", ev, c.tree.ApplyEvent)
	}
}

func safely(name string, ev realtime.Event, fn func(realtime.Event)) {
	defer func() {
		if r := recover(); r != nil {
			handlerPanics.Inc()
			log.Printf("❌ Panic in %s handler for %s %s/%s: %v\n%s", name, ev.Type, ev.Table, ev.ID, r, debug.Stack())
		}
	}()
	fn(ev)
}
