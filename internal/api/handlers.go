package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"research-notes/internal/middleware"
	"research-notes/internal/repository"
	"research-notes/internal/services"
	"research-notes/internal/session"
	"research-notes/internal/store"
)

// Handler handles HTTP requests
type Handler struct {
	sessions  SessionProvider
	chats     ChatStore
	comments  CommentStore
	assistant PageAssistant // nil when no inference backend is configured
	wsHandler *session.WebSocketHandler
}

func NewHandler(
	sessions SessionProvider,
	chats ChatStore,
	comments CommentStore,
	assistant PageAssistant,
	wsHandler *session.WebSocketHandler,
) *Handler {
	return &Handler{
		sessions:  sessions,
		chats:     chats,
		comments:  comments,
		assistant: assistant,
		wsHandler: wsHandler,
	}
}

// session returns the caller's session
func (h *Handler) session(r *http.Request) *session.Session {
	return h.sessions.Get(middleware.GetUserID(r.Context()))
}

// EndSession drops every store of the caller; used on sign out
func (h *Handler) EndSession(w http.ResponseWriter, r *http.Request) {
	h.sessions.End(middleware.GetUserID(r.Context()))
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("⚠️  Failed to encode response: %v", err)
	}
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// writeError maps domain errors onto status codes
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, store.ErrInvalidID), errors.Is(err, services.ErrEmptyQuestion):
		status = http.StatusBadRequest
	case errors.Is(err, store.ErrNoDocument):
		status = http.StatusConflict
	case errors.Is(err, repository.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, services.ErrPageForbidden):
		status = http.StatusForbidden
	case errors.Is(err, services.ErrRateLimited):
		status = http.StatusTooManyRequests
	}
	http.Error(w, err.Error(), status)
}
