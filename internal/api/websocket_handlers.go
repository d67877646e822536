package api

import (
	"net/http"
)

// HandleEvents streams the caller's store changes over a websocket
func (h *Handler) HandleEvents(w http.ResponseWriter, r *http.Request) {
	h.wsHandler.HandleEvents(w, r)
}
