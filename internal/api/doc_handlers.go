package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"

	"research-notes/internal/models"
	"research-notes/internal/store"
)

type docResponse struct {
	Breadcrumb *store.Breadcrumb `json:"breadcrumb,omitempty"`
	State      store.DocState    `json:"state"`
}

// GetDocument opens a page in the caller's document store
func (h *Handler) GetDocument(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	s := h.session(r)
	crumb, err := s.Doc.Load(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, docResponse{Breadcrumb: crumb, State: s.Doc.Snapshot()})
}

// CurrentDocument returns the open document without reloading it
func (h *Handler) CurrentDocument(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, docResponse{State: h.session(r).Doc.Snapshot()})
}

// UpdateDocument saves a partial update of the open document
func (h *Handler) UpdateDocument(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var raw map[string]json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	patch, err := decodeDocPatch(raw)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	s := h.session(r)
	if err := s.Doc.Update(r.Context(), id, patch); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, docResponse{State: s.Doc.Snapshot()})
}

// ToggleLock flips the lock of the open document
func (h *Handler) ToggleLock(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	s := h.session(r)
	if current, ok := s.Doc.Current(); !ok || current != id {
		writeError(w, store.ErrNoDocument)
		return
	}
	if err := s.Doc.ToggleLock(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, docResponse{State: s.Doc.Snapshot()})
}

var nullJSON = []byte("null")

// decodeDocPatch converts a JSON patch into typed column values
func decodeDocPatch(raw map[string]json.RawMessage) (models.DocPatch, error) {
	patch := make(models.DocPatch, len(raw))
	for field, value := range raw {
		isNull := bytes.Equal(bytes.TrimSpace(value), nullJSON)

		switch field {
		case models.FieldTitle, models.FieldContent, models.FieldDescription:
			var s string
			if err := json.Unmarshal(value, &s); err != nil || isNull {
				return nil, fmt.Errorf("%s must be a string", field)
			}
			patch[field] = s

		case models.FieldEmoji:
			if isNull {
				patch[field] = (*models.Emoji)(nil)
				continue
			}
			var e models.Emoji
			if err := json.Unmarshal(value, &e); err != nil {
				return nil, fmt.Errorf("invalid emoji: %w", err)
			}
			patch[field] = &e

		case models.FieldImageURL:
			if isNull {
				patch[field] = (*string)(nil)
				continue
			}
			var s string
			if err := json.Unmarshal(value, &s); err != nil {
				return nil, fmt.Errorf("%s must be a string or null", field)
			}
			patch[field] = s

		default:
			return nil, fmt.Errorf("field %q cannot be updated", field)
		}
	}
	if len(patch) == 0 {
		return nil, fmt.Errorf("empty update")
	}
	return patch, nil
}
