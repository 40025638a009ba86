package sse

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/c360studio/steward/httpapi"
)

// keepAliveInterval is how often an idle stream gets a comment line so
// proxies keep the connection open.
const keepAliveInterval = 25 * time.Second

// Handler serves the event stream.
type Handler struct {
	broker *Broker
}

// NewHandler creates the SSE HTTP handler.
func NewHandler(broker *Broker) *Handler {
	return &Handler{broker: broker}
}

// RegisterHTTPHandlers mounts the stream endpoints on mux under prefix.
func (h *Handler) RegisterHTTPHandlers(prefix string, mux *http.ServeMux) {
	mux.HandleFunc("GET "+prefix+"/events/subscribe", h.handleStream)
	mux.HandleFunc("GET "+prefix+"/events/stats", h.handleStats)
}

// handleStream streams matching events as SSE. Query params: agent, task,
// types and topics (comma-separated). kinds is accepted as an alias for
// types.
func (h *Handler) handleStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		httpapi.WriteError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	// Long-lived stream; the server's write timeout must not apply.
	_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})

	q := r.URL.Query()
	kinds := q.Get("types")
	if kinds == "" {
		kinds = q.Get("kinds")
	}
	filter := Filter{
		Agent:  q.Get("agent"),
		TaskID: q.Get("task"),
		Kinds:  csvSet(kinds),
		Topics: csvSet(q.Get("topics")),
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, ": connected\n\n")
	flusher.Flush()

	sub := h.broker.subscribe(filter)
	defer h.broker.unsubscribe(sub)

	keepAlive := time.NewTicker(keepAliveInterval)
	defer keepAlive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-keepAlive.C:
			fmt.Fprint(w, ": keep-alive\n\n")
			flusher.Flush()
		case ev := <-sub.ch:
			data, err := json.Marshal(&ev)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Kind, data)
			flusher.Flush()
		}
	}
}

func (h *Handler) handleStats(w http.ResponseWriter, r *http.Request) {
	httpapi.WriteJSON(w, http.StatusOK, h.broker.Stats())
}

func csvSet(s string) map[string]bool {
	if s == "" {
		return nil
	}
	out := make(map[string]bool)
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out[part] = true
		}
	}
	return out
}
