package api

import (
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"research-notes/internal/middleware"
	"research-notes/internal/models"
)

func (h *Handler) ListComments(w http.ResponseWriter, r *http.Request) {
	paperURL := r.URL.Query().Get("paper_url")
	if paperURL == "" {
		http.Error(w, "paper_url is required", http.StatusBadRequest)
		return
	}

	comments, err := h.comments.ListByPaper(r.Context(), paperURL)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"comments": comments})
}

type createCommentRequest struct {
	AuthorName string  `json:"author_name"`
	Content    string  `json:"content"`
	PaperURL   *string `json:"paper_url"`
	ParentID   *string `json:"parent_id"`
}

func (h *Handler) CreateComment(w http.ResponseWriter, r *http.Request) {
	var req createCommentRequest
	if err := decodeJSON(r, &req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Content) == "" {
		http.Error(w, "content is required", http.StatusBadRequest)
		return
	}
	if req.AuthorName == "" {
		req.AuthorName = "Anonymous"
	}

	comment, err := h.comments.Create(r.Context(), &models.Comment{
		UserID:     middleware.GetUserID(r.Context()),
		AuthorName: req.AuthorName,
		Content:    req.Content,
		PaperURL:   req.PaperURL,
		ParentID:   req.ParentID,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, comment)
}

type voteRequest struct {
	Delta int `json:"delta"`
}

func (h *Handler) VoteComment(w http.ResponseWriter, r *http.Request) {
	var req voteRequest
	if err := decodeJSON(r, &req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.Delta != 1 && req.Delta != -1 {
		http.Error(w, "delta must be 1 or -1", http.StatusBadRequest)
		return
	}

	if err := h.comments.Vote(r.Context(), mux.Vars(r)["id"], req.Delta); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
