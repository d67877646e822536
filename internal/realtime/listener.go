package realtime

import (
	"context"
	"fmt"
	"log"
	"time"

	"research-notes/internal/models"

	"github.com/lib/pq"
)

// PageReader loads post-images of changed pages
type PageReader interface {
	GetByID(ctx context.Context, id string) (*models.Page, error)
}

// Publisher receives decoded events
type Publisher interface {
	Publish(ev Event)
}

// Listener consumes LISTEN/NOTIFY on one channel. Notifications are handled
// one at a time, so events reach the publisher in the order PostgreSQL
// delivered them.
type Listener struct {
	dsn     string
	channel string
	pages   PageReader
	out     Publisher
}

// NewListener creates a listener; call Run to start it
func NewListener(dsn, channel string, pages PageReader, out Publisher) *Listener {
	return &Listener{
		dsn:     dsn,
		channel: channel,
		pages:   pages,
		out:     out,
	}
}

// Run listens until ctx is cancelled. pq.Listener reconnects on its own; a nil
// notification marks a reconnect, after which rows may have been missed.
func (l *Listener) Run(ctx context.Context) error {
	listener := pq.NewListener(l.dsn, 10*time.Second, time.Minute, func(ev pq.ListenerEventType, err error) {
		if err != nil {
			log.Printf("⚠️  Realtime listener event %d: %v", ev, err)
		}
	})
	defer listener.Close()

	if err := listener.Listen(l.channel); err != nil {
		return fmt.Errorf("failed to listen on %s: %w", l.channel, err)
	}
	log.Printf("✓ Realtime listener subscribed to %q", l.channel)

	ping := time.NewTicker(90 * time.Second)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("Realtime listener shutting down...")
			return nil

		case n := <-listener.Notify:
			if n == nil {
				log.Println("⚠️  Realtime listener reconnected; changes during the gap were not delivered")
				continue
			}
			l.handle(ctx, n.Extra)

		case <-ping.C:
			go func() {
				if err := listener.Ping(); err != nil {
					log.Printf("⚠️  Realtime listener ping failed: %v", err)
				}
			}()
		}
	}
}

func (l *Listener) handle(ctx context.Context, payload string) {
	ev, err := DecodeNotification(payload)
	if err != nil {
		log.Printf("⚠️  Dropping notification: %v", err)
		return
	}

	if ev.Table == TablePages && ev.Type != EventDelete {
		page, err := l.pages.GetByID(ctx, ev.ID)
		if err != nil {
			// the row may already be gone again; its delete event follows
			log.Printf("⚠️  Failed to load post-image of page %s: %v", ev.ID, err)
			return
		}
		ev.New = page
	}

	eventsReceived.WithLabelValues(ev.Table, string(ev.Type)).Inc()
	l.out.Publish(ev)
}
