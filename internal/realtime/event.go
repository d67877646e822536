// Package realtime turns PostgreSQL row-change notifications into events and
// fans them out to per-user subscriptions.
package realtime

import (
	"encoding/json"
	"fmt"

	"research-notes/internal/models"
)

// EventType is the kind of row change.
type EventType string

const (
	EventInsert EventType = "INSERT"
	EventUpdate EventType = "UPDATE"
	EventDelete EventType = "DELETE"
)

// TablePages is the table the sidebar and document stores follow.
const TablePages = "pages"

// OldKey is the pre-image key delivered with updates and deletes.
type OldKey struct {
	ID       string  `json:"id"`
	IsPublic *bool   `json:"is_public,omitempty"`
	ParentID *string `json:"parent_id,omitempty"`
}

// Event is one row change. New holds the post-image for pages inserts and
// updates; it is nil for deletes and for other tables.
type Event struct {
	Type   EventType    `json:"type"`
	Table  string       `json:"table"`
	ID     string       `json:"id"`
	UserID string       `json:"user_id"`
	New    *models.Page `json:"new,omitempty"`
	Old    *OldKey      `json:"old,omitempty"`
}

// DecodeNotification parses the payload written by the notify_row_change trigger.
func DecodeNotification(payload string) (Event, error) {
	var ev Event
	if err := json.Unmarshal([]byte(payload), &ev); err != nil {
		return Event{}, fmt.Errorf("failed to decode notification: %w", err)
	}
	switch ev.Type {
	case EventInsert, EventUpdate, EventDelete:
	default:
		return Event{}, fmt.Errorf("unknown event type %q", ev.Type)
	}
	if ev.Table == "" || ev.ID == "" {
		return Event{}, fmt.Errorf("notification without table or id: %s", payload)
	}
	return ev, nil
}

// Node returns the tree entry the event describes. Deletes only carry the
// pre-image key, so the node holds just the id, forest and parent.
func (e Event) Node() models.Node {
	if e.New != nil {
		return e.New.Node()
	}
	n := models.Node{ID: e.ID}
	if e.Old != nil {
		if e.Old.IsPublic != nil {
			n.IsPublic = *e.Old.IsPublic
		}
		n.ParentID = e.Old.ParentID
	}
	return n
}
