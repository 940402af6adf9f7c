package api

import (
	"net/http"
)

// HandleWebSocket attaches a change-channel session.
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	h.wsHandler.HandleConnection(w, r)
}
