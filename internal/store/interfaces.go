// Package store holds the per-session state containers behind the sidebar,
// the open document and the trash, and the coordinator that merges realtime
// row changes into them.
//
// Every store is created explicitly for one user session. State is guarded by
// a mutex per store and remote calls are made without holding it, so a
// mutation is always read-then-write against the latest snapshot.
package store

import (
	"context"
	"errors"

	"research-notes/internal/models"
	"research-notes/internal/realtime"
)

// Repository interfaces are declared here, by their consumer. Only the methods
// each store calls are listed. Every by-id call carries the session's user id
// and reports pages of other users as repository.ErrNotFound.

// TreeRepository is what the Tree Store needs from page storage
type TreeRepository interface {
	ListChildren(ctx context.Context, userID string, forest models.Forest, parentID *string) ([]models.Node, error)
	GetVisible(ctx context.Context, userID, id string) (*models.Page, error)
	Create(ctx context.Context, page *models.Page) (*models.Page, error)
	Update(ctx context.Context, userID, id string, columns map[string]any) error
	SoftDelete(ctx context.Context, userID, id string) error
}

// DocRepository is what the Document Store needs from page storage
type DocRepository interface {
	GetOwned(ctx context.Context, userID, id string) (*models.Page, error)
	GetVisible(ctx context.Context, userID, id string) (*models.Page, error)
	Update(ctx context.Context, userID, id string, columns map[string]any) error
}

// TrashRepository is what the Trash Store needs from page storage
type TrashRepository interface {
	ListTrash(ctx context.Context, userID, keyword string, offset, limit int) ([]models.TrashEntry, error)
	ChildIDs(ctx context.Context, userID, parentID string) ([]string, error)
	HardDelete(ctx context.Context, userID, id string) error
	Restore(ctx context.Context, userID, id string) error
}

// EventStream is a live subscription to row changes. Dropped reports, once
// Events is closed, whether the publisher ended it rather than Close.
type EventStream interface {
	Events() <-chan realtime.Event
	Dropped() bool
	Close()
}

// EventHandler merges a row change into a store
type EventHandler interface {
	ApplyEvent(ev realtime.Event)
}

// Level of a user notification.
type Level string

const (
	LevelError   Level = "error"
	LevelSuccess Level = "success"
	LevelLoading Level = "loading"
)

// Notification is a non-blocking, toast-style message for the user.
type Notification struct {
	Level       Level  `json:"level"`
	ID          string `json:"id,omitempty"` // lets a later toast replace a loading one
	Title       string `json:"title,omitempty"`
	Description string `json:"description"`
}

// Notifier delivers notifications to the user
type Notifier interface {
	Notify(n Notification)
}

// NotifierFunc adapts a function to Notifier
type NotifierFunc func(n Notification)

func (f NotifierFunc) Notify(n Notification) { f(n) }

// Observer is told which part of the session state changed. It is called
// without any store lock held.
type Observer func(kind models.MessageType)

var (
	// ErrInvalidID is returned for an empty page id
	ErrInvalidID = errors.New("invalid document id")
	// ErrNoDocument is returned when writing to a document that is not open
	ErrNoDocument = errors.New("no document loaded")
)

type discardNotifier struct{}

func (discardNotifier) Notify(Notification) {}

func notifierOrDiscard(n Notifier) Notifier {
	if n == nil {
		return discardNotifier{}
	}
	return n
}

func observerOrNoop(o Observer) Observer {
	if o == nil {
		return func(models.MessageType) {}
	}
	return o
}
