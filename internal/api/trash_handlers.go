package api

import (
	"net/http"

	"github.com/gorilla/mux"
)

// ListTrash lists the caller's trash, filtered by ?q=
func (h *Handler) ListTrash(w http.ResponseWriter, r *http.Request) {
	s := h.session(r)
	if err := s.Trash.List(r.Context(), r.URL.Query().Get("q")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.Trash.Snapshot())
}

// NextTrashPage appends the next page of the current listing
func (h *Handler) NextTrashPage(w http.ResponseWriter, r *http.Request) {
	s := h.session(r)
	if err := s.Trash.NextPage(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.Trash.Snapshot())
}

func (h *Handler) RestorePage(w http.ResponseWriter, r *http.Request) {
	s := h.session(r)
	if err := s.Trash.Restore(r.Context(), mux.Vars(r)["id"]); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.Trash.Snapshot())
}

// PurgePage deletes a page and its descendants permanently
func (h *Handler) PurgePage(w http.ResponseWriter, r *http.Request) {
	s := h.session(r)
	if err := s.Trash.DeletePermanent(r.Context(), mux.Vars(r)["id"]); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.Trash.Snapshot())
}
