package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"research-notes/internal/middleware"
)

func SetupRoutes(h *Handler) *mux.Router {
	r := mux.NewRouter()

	// tracing first, then recovery, then CORS
	r.Use(middleware.TracingMiddleware)
	r.Use(middleware.ErrorRecoveryMiddleware)
	r.Use(middleware.CORSMiddleware)

	r.Handle("/metrics", promhttp.Handler()).Methods("GET")
	r.HandleFunc("/api/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	}).Methods("GET")

	api := r.PathPrefix("/api").Subrouter()
	api.Use(middleware.AuthMiddleware)

	// Sidebar tree
	api.HandleFunc("/tree", h.GetTree).Methods("GET")
	api.HandleFunc("/pages", h.CreatePage).Methods("POST")
	api.HandleFunc("/pages/{id}", h.RenamePage).Methods("PATCH")
	api.HandleFunc("/pages/{id}", h.DeletePage).Methods("DELETE")
	api.HandleFunc("/pages/{id}/collapse", h.ToggleCollapsed).Methods("POST")
	api.HandleFunc("/papers/insert", h.InsertPaper).Methods("POST")

	// Open document; "current" must be matched before {id}
	api.HandleFunc("/docs/current", h.CurrentDocument).Methods("GET")
	api.HandleFunc("/docs/{id}", h.GetDocument).Methods("GET")
	api.HandleFunc("/docs/{id}", h.UpdateDocument).Methods("PATCH")
	api.HandleFunc("/docs/{id}/lock", h.ToggleLock).Methods("POST")
	api.HandleFunc("/docs/{id}/ask", h.AskAboutPage).Methods("POST")

	// Trash
	api.HandleFunc("/trash", h.ListTrash).Methods("GET")
	api.HandleFunc("/trash/next", h.NextTrashPage).Methods("POST")
	api.HandleFunc("/trash/{id}/restore", h.RestorePage).Methods("POST")
	api.HandleFunc("/trash/{id}", h.PurgePage).Methods("DELETE")

	api.HandleFunc("/session", h.EndSession).Methods("DELETE")

	// Chats and comments
	api.HandleFunc("/chats", h.ListChats).Methods("GET")
	api.HandleFunc("/chats", h.CreateChat).Methods("POST")
	api.HandleFunc("/chats/{id}/messages", h.ListMessages).Methods("GET")
	api.HandleFunc("/chats/{id}/messages", h.CreateMessage).Methods("POST")
	api.HandleFunc("/comments", h.ListComments).Methods("GET")
	api.HandleFunc("/comments", h.CreateComment).Methods("POST")
	api.HandleFunc("/comments/{id}/vote", h.VoteComment).Methods("POST")

	ws := r.PathPrefix("/ws").Subrouter()
	ws.Use(middleware.AuthMiddleware)
	ws.HandleFunc("/events", h.HandleEvents)

	return r
}
