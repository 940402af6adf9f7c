package api

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"

	"room-panel/internal/middleware"
	"room-panel/internal/models"
	"room-panel/internal/services/broadcast"

	"go.opentelemetry.io/otel/attribute"
)

// DefaultMaxBodyBytes caps PUT /api/data bodies.
const DefaultMaxBodyBytes = 10 << 20

// Handler handles HTTP requests
type Handler struct {
	store     DocumentStore
	notifier  Notifier
	wsHandler *broadcast.WebSocketHandler
	maxBody   int64
}

func NewHandler(store DocumentStore, notifier Notifier, wsHandler *broadcast.WebSocketHandler, maxBody int64) *Handler {
	if maxBody <= 0 {
		maxBody = DefaultMaxBodyBytes
	}
	return &Handler{
		store:     store,
		notifier:  notifier,
		wsHandler: wsHandler,
		maxBody:   maxBody,
	}
}

// GetData returns the current VersionedDocument, {"data":null,"updatedAt":0}
// before the first write.
func (h *Handler) GetData(w http.ResponseWriter, r *http.Request) {
	current, err := h.store.Get(r.Context())
	if err != nil {
		middleware.AddSpanError(r.Context(), err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, current)
}

// PutData replaces the document with the raw JSON body, stamps it and
// announces it on the change channel.
func (h *Handler) PutData(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			http.Error(w, "document too large", http.StatusRequestEntityTooLarge)
			return
		}
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	doc := models.Document(body)
	if !doc.Valid() {
		http.Error(w, "body is not valid JSON", http.StatusBadRequest)
		return
	}
	if doc.IsEmpty() {
		http.Error(w, "document must not be null", http.StatusBadRequest)
		return
	}

	stored, err := h.store.Replace(ctx, doc)
	if err != nil {
		middleware.AddSpanError(ctx, err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	middleware.AddSpanEvent(ctx, "document.replaced",
		attribute.Int64("document.updated_at", stored.UpdatedAt),
		attribute.Int("document.size", len(body)),
	)

	// Best effort: clients that miss the broadcast converge on their next poll
	if err := h.notifier.Publish(ctx, stored); err != nil {
		log.Printf("[%s] ⚠️  Failed to announce update: %v", middleware.GetRequestID(ctx), err)
	}

	writeJSON(w, http.StatusOK, stored)
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
