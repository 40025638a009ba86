package webhook

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/c360studio/steward/httpapi"
	"github.com/c360studio/steward/store"
)

// Handler exposes the delivery engine over HTTP.
type Handler struct {
	engine *Engine
}

// NewHandler creates the webhook HTTP handler.
func NewHandler(engine *Engine) *Handler {
	return &Handler{engine: engine}
}

// RegisterHTTPHandlers mounts the webhook endpoints on mux under prefix.
func (h *Handler) RegisterHTTPHandlers(prefix string, mux *http.ServeMux) {
	mux.HandleFunc("POST "+prefix+"/webhooks/deliver", h.handleEnqueue)
	mux.HandleFunc("GET "+prefix+"/webhooks/events", h.handleList)
	mux.HandleFunc("GET "+prefix+"/webhooks/events/{id}", h.handleGet)
	mux.HandleFunc("POST "+prefix+"/webhooks/events/{id}/replay", h.handleReplay)
	mux.HandleFunc("GET "+prefix+"/webhooks/stats", h.handleStats)
	mux.HandleFunc("GET "+prefix+"/webhooks/dlq", h.handleDLQ)
	mux.HandleFunc("POST "+prefix+"/webhooks/cleanup", h.handleCleanup)
	mux.HandleFunc("POST "+prefix+"/webhooks/incoming/{provider}", h.handleIngest)
}

// enqueueRequest is the wire shape for enqueueing an outbound event.
type enqueueRequest struct {
	IdempotencyKey string            `json:"idempotency_key"`
	Provider       string            `json:"provider"`
	EventType      string            `json:"event_type"`
	Payload        json.RawMessage   `json:"payload"`
	TargetURL      string            `json:"target_url"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

func (h *Handler) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	var req enqueueRequest
	if err := httpapi.DecodeJSON(r, &req); err != nil {
		httpapi.WriteError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	ev, duplicate, err := h.engine.Enqueue(r.Context(), EnqueueInput{
		IdempotencyKey: req.IdempotencyKey,
		Provider:       req.Provider,
		EventType:      req.EventType,
		Payload:        req.Payload,
		TargetURL:      req.TargetURL,
		Metadata:       req.Metadata,
	})
	if err != nil {
		httpapi.WriteError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	status := http.StatusCreated
	if duplicate {
		status = http.StatusOK
	}
	httpapi.WriteJSON(w, status, map[string]any{"event": ev, "duplicate": duplicate})
}

// handleIngest accepts a provider-pushed payload and queues it for fan-out.
// The provider name comes from the path; the event type from the provider's
// conventional header when present.
func (h *Handler) handleIngest(w http.ResponseWriter, r *http.Request) {
	provider := r.PathValue("provider")
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if err != nil {
		httpapi.WriteError(w, http.StatusBadRequest, "read body: "+err.Error())
		return
	}

	eventType := r.Header.Get("X-GitHub-Event")
	if eventType == "" {
		eventType = r.Header.Get("X-Steward-Event")
	}
	if eventType == "" {
		eventType = "unknown"
	}
	idemKey := r.Header.Get("X-GitHub-Delivery")
	if idemKey == "" {
		idemKey = r.Header.Get("X-Steward-Idempotency-Key")
	}
	if idemKey == "" {
		httpapi.WriteErrorHint(w, http.StatusBadRequest, "missing delivery id",
			"send X-GitHub-Delivery or X-Steward-Idempotency-Key")
		return
	}
	target := r.URL.Query().Get("target")
	if target == "" {
		httpapi.WriteError(w, http.StatusBadRequest, "target query parameter is required")
		return
	}

	ev, duplicate, err := h.engine.Enqueue(r.Context(), EnqueueInput{
		IdempotencyKey: provider + "." + idemKey,
		Provider:       provider,
		EventType:      eventType,
		Payload:        payload,
		TargetURL:      target,
	})
	if err != nil {
		httpapi.WriteError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	status := http.StatusAccepted
	if duplicate {
		status = http.StatusOK
	}
	httpapi.WriteJSON(w, status, map[string]any{"event_id": ev.ID, "duplicate": duplicate})
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	status := store.WebhookStatus(r.URL.Query().Get("status"))
	evs, err := h.engine.store.ListWebhookEvents(r.Context(), status, 200)
	if err != nil {
		httpapi.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	httpapi.WriteJSON(w, http.StatusOK, map[string]any{"events": evs, "count": len(evs)})
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	ev, err := h.engine.store.GetWebhookEvent(r.Context(), r.PathValue("id"))
	if errors.Is(err, store.ErrNotFound) {
		httpapi.WriteError(w, http.StatusNotFound, "webhook event not found")
		return
	}
	if err != nil {
		httpapi.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	httpapi.WriteJSON(w, http.StatusOK, ev)
}

func (h *Handler) handleReplay(w http.ResponseWriter, r *http.Request) {
	ev, err := h.engine.Replay(r.Context(), r.PathValue("id"))
	if errors.Is(err, store.ErrNotFound) {
		httpapi.WriteError(w, http.StatusNotFound, "webhook event not found")
		return
	}
	if err != nil {
		httpapi.WriteError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	httpapi.WriteJSON(w, http.StatusCreated, ev)
}

func (h *Handler) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.engine.Stats(r.Context())
	if err != nil {
		httpapi.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	httpapi.WriteJSON(w, http.StatusOK, stats)
}

func (h *Handler) handleDLQ(w http.ResponseWriter, r *http.Request) {
	evs, err := h.engine.store.ListWebhookEvents(r.Context(), store.WebhookStatusDeadLetter, 200)
	if err != nil {
		httpapi.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	httpapi.WriteJSON(w, http.StatusOK, map[string]any{"events": evs, "count": len(evs)})
}

func (h *Handler) handleCleanup(w http.ResponseWriter, r *http.Request) {
	removed, err := h.engine.Cleanup(r.Context())
	if err != nil {
		httpapi.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	httpapi.WriteJSON(w, http.StatusOK, map[string]any{"removed": removed})
}
