package chat

import (
	"net/http"
	"strconv"
	"time"

	"github.com/c360studio/steward/httpapi"
	"github.com/c360studio/steward/store"
)

// Handler exposes the chat log over HTTP.
type Handler struct {
	service *Service
}

// NewHandler creates the chat HTTP handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterHTTPHandlers mounts the chat endpoints on mux under prefix.
func (h *Handler) RegisterHTTPHandlers(prefix string, mux *http.ServeMux) {
	mux.HandleFunc("POST "+prefix+"/chat/messages", h.handlePost)
	mux.HandleFunc("GET "+prefix+"/chat/messages", h.handleList)
	mux.HandleFunc("GET "+prefix+"/chat/inbox", h.handleInbox)
	mux.HandleFunc("POST "+prefix+"/chat/subscriptions", h.handleSubscribe)
	mux.HandleFunc("GET "+prefix+"/chat/presence", h.handlePresence)
	mux.HandleFunc("POST "+prefix+"/chat/pause", h.handlePause)
	mux.HandleFunc("DELETE "+prefix+"/chat/pause/{agent}", h.handleResume)
	mux.HandleFunc("GET "+prefix+"/chat/ws", h.service.hub.ServeWS)
}

func (h *Handler) handlePost(w http.ResponseWriter, r *http.Request) {
	var in PostInput
	if err := httpapi.DecodeJSON(r, &in); err != nil {
		httpapi.WriteError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if in.Author == "" {
		in.Author = r.Header.Get("X-Agent")
	}
	result, err := h.service.Post(r.Context(), in)
	if err != nil {
		httpapi.WriteError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	status := http.StatusCreated
	if result.Suppressed {
		status = http.StatusAccepted
	}
	httpapi.WriteJSON(w, status, result)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var since time.Time
	if s := q.Get("since"); s != "" {
		parsed, err := time.Parse(time.RFC3339, s)
		if err != nil {
			httpapi.WriteError(w, http.StatusBadRequest, "since must be RFC3339")
			return
		}
		since = parsed
	}
	limit := 100
	if s := q.Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			httpapi.WriteError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}
	msgs, err := h.service.store.ListChatMessages(r.Context(), q.Get("channel"), since, limit)
	if err != nil {
		httpapi.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	httpapi.WriteJSON(w, http.StatusOK, map[string]any{"messages": msgs, "count": len(msgs)})
}

func (h *Handler) handleInbox(w http.ResponseWriter, r *http.Request) {
	agent := r.URL.Query().Get("agent")
	if agent == "" {
		agent = r.Header.Get("X-Agent")
	}
	if agent == "" {
		httpapi.WriteError(w, http.StatusBadRequest, "agent is required")
		return
	}
	var since time.Time
	if s := r.URL.Query().Get("since"); s != "" {
		parsed, err := time.Parse(time.RFC3339, s)
		if err != nil {
			httpapi.WriteError(w, http.StatusBadRequest, "since must be RFC3339")
			return
		}
		since = parsed
	}
	msgs, err := h.service.Inbox(r.Context(), agent, since, 100)
	if err != nil {
		httpapi.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	httpapi.WriteJSON(w, http.StatusOK, map[string]any{"messages": msgs, "count": len(msgs)})
}

func (h *Handler) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Agent   string `json:"agent"`
		Channel string `json:"channel,omitempty"`
		Topic   string `json:"topic,omitempty"`
	}
	if err := httpapi.DecodeJSON(r, &req); err != nil {
		httpapi.WriteError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if req.Agent == "" {
		req.Agent = r.Header.Get("X-Agent")
	}
	if req.Agent == "" || (req.Channel == "" && req.Topic == "") {
		httpapi.WriteError(w, http.StatusBadRequest, "agent and a channel or topic are required")
		return
	}
	sub := &store.InboxSubscription{Agent: req.Agent, Channel: req.Channel, Topic: req.Topic}
	if err := h.service.store.PutInboxSubscription(r.Context(), sub); err != nil {
		httpapi.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	httpapi.WriteJSON(w, http.StatusCreated, sub)
}

func (h *Handler) handlePresence(w http.ResponseWriter, r *http.Request) {
	rows, err := h.service.store.ListPresence(r.Context())
	if err != nil {
		httpapi.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	httpapi.WriteJSON(w, http.StatusOK, map[string]any{"presence": rows, "count": len(rows)})
}

func (h *Handler) handlePause(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Agent  string     `json:"agent"`
		Reason string     `json:"reason,omitempty"`
		Until  *time.Time `json:"until,omitempty"`
	}
	if err := httpapi.DecodeJSON(r, &req); err != nil {
		httpapi.WriteError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if err := h.service.Pause(r.Context(), req.Agent, req.Reason, r.Header.Get("X-Agent"), req.Until); err != nil {
		httpapi.WriteError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	httpapi.WriteJSON(w, http.StatusOK, map[string]any{"paused": req.Agent})
}

func (h *Handler) handleResume(w http.ResponseWriter, r *http.Request) {
	agent := r.PathValue("agent")
	if err := h.service.Resume(r.Context(), agent); err != nil {
		httpapi.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	httpapi.WriteJSON(w, http.StatusOK, map[string]any{"resumed": agent})
}
