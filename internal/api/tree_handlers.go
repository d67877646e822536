package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"research-notes/internal/models"
	"research-notes/internal/store"
)

type treeResponse struct {
	Forest    models.Forest          `json:"forest"`
	Nodes     []models.Node          `json:"nodes"`
	Collapsed []store.CollapsedEntry `json:"collapsed"`
}

// GetTree loads the children of ?parent= (roots when absent) into the
// caller's sidebar and returns the whole forest.
func (h *Handler) GetTree(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	forest := models.ParseForest(q.Get("forest"))

	var parentID *string
	if p := q.Get("parent"); p != "" {
		parentID = &p
	}

	s := h.session(r)
	if err := s.Tree.LoadChildren(r.Context(), forest, parentID); err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, treeResponse{
		Forest:    forest,
		Nodes:     s.Tree.Nodes(forest),
		Collapsed: s.Tree.Collapsed(),
	})
}

// CreatePage creates a page and expands its ancestors so it is visible
func (h *Handler) CreatePage(w http.ResponseWriter, r *http.Request) {
	var req store.CreateRequest
	if err := decodeJSON(r, &req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	s := h.session(r)
	created, err := s.Tree.CreateChild(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	if created.ParentID != nil {
		s.Tree.CollapseAncestors(models.ForestOf(created.IsPublic), created.ParentID)
	}

	writeJSON(w, http.StatusCreated, created)
}

// InsertPaper adds a converted paper to the caller's sidebar, as a locked
// public link or a private editable copy
func (h *Handler) InsertPaper(w http.ResponseWriter, r *http.Request) {
	var req store.PaperRequest
	if err := decodeJSON(r, &req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.SourceID == "" {
		http.Error(w, "source_id is required", http.StatusBadRequest)
		return
	}

	created, err := h.session(r).Tree.InsertPaper(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

type renameRequest struct {
	Title string        `json:"title"`
	Emoji *models.Emoji `json:"emoji"`
}

func (h *Handler) RenamePage(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var req renameRequest
	if err := decodeJSON(r, &req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := h.session(r).Tree.Rename(r.Context(), id, req.Title, req.Emoji); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// DeletePage moves a page to the trash
func (h *Handler) DeletePage(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	deleted, err := h.session(r).Tree.SoftDelete(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": deleted})
}

type collapseRequest struct {
	ParentID *string `json:"parent_id"`
}

func (h *Handler) ToggleCollapsed(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var req collapseRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
	}

	open := h.session(r).Tree.ToggleCollapsed(id, req.ParentID)
	writeJSON(w, http.StatusOK, map[string]bool{"open": open})
}
