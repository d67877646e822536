package api

import (
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"research-notes/internal/middleware"
	"research-notes/internal/models"
	"research-notes/internal/services"
)

type createChatRequest struct {
	Title  string  `json:"title"`
	PageID *string `json:"page_id"`
}

func (h *Handler) ListChats(w http.ResponseWriter, r *http.Request) {
	chats, err := h.chats.ListChats(r.Context(), middleware.GetUserID(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"chats": chats})
}

func (h *Handler) CreateChat(w http.ResponseWriter, r *http.Request) {
	var req createChatRequest
	if err := decodeJSON(r, &req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Title) == "" {
		req.Title = "New chat"
	}

	chat, err := h.chats.CreateChat(r.Context(), middleware.GetUserID(r.Context()), req.Title, req.PageID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, chat)
}

func (h *Handler) ListMessages(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	chat, err := h.chats.GetChat(ctx, middleware.GetUserID(ctx), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}

	messages, err := h.chats.ListMessages(ctx, chat.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"chat": chat, "messages": messages})
}

type createMessageRequest struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

func (h *Handler) CreateMessage(w http.ResponseWriter, r *http.Request) {
	var req createMessageRequest
	if err := decodeJSON(r, &req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.Role == "" {
		req.Role = models.RoleUser
	}
	if req.Role != models.RoleUser && req.Role != models.RoleAssistant {
		http.Error(w, "role must be user or assistant", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Content) == "" {
		http.Error(w, "content is required", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	userID := middleware.GetUserID(ctx)
	chat, err := h.chats.GetChat(ctx, userID, mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}

	msg, err := h.chats.CreateMessage(ctx, chat.ID, userID, req.Role, req.Content)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}

// AskAboutPage forwards a question about a page to the assistant
func (h *Handler) AskAboutPage(w http.ResponseWriter, r *http.Request) {
	if h.assistant == nil {
		http.Error(w, "assistant is not configured", http.StatusServiceUnavailable)
		return
	}

	var req services.AskRequest
	if err := decodeJSON(r, &req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if pageID := mux.Vars(r)["id"]; pageID != "" {
		req.PageID = pageID
	}

	answer, err := h.assistant.AskAboutPage(r.Context(), middleware.GetUserID(r.Context()), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, answer)
}
