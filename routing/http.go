package routing

import (
	"errors"
	"net/http"
	"time"

	"github.com/c360studio/steward/httpapi"
	"github.com/c360studio/steward/store"
)

// Handler exposes routing over HTTP.
type Handler struct {
	router *Router
}

// NewHandler creates the routing HTTP handler.
func NewHandler(router *Router) *Handler {
	return &Handler{router: router}
}

// RegisterHTTPHandlers mounts the routing endpoints on mux under prefix.
func (h *Handler) RegisterHTTPHandlers(prefix string, mux *http.ServeMux) {
	mux.HandleFunc("POST "+prefix+"/routing/overrides", h.handleCreateOverride)
	mux.HandleFunc("GET "+prefix+"/routing/overrides", h.handleListOverrides)
	mux.HandleFunc("DELETE "+prefix+"/routing/overrides/{id}", h.handleDeleteOverride)
	mux.HandleFunc("GET "+prefix+"/routing/queue", h.handleQueue)
	mux.HandleFunc("POST "+prefix+"/routing/{taskID}/decide", h.handleDecide)
	mux.HandleFunc("POST "+prefix+"/routing/{taskID}/route", h.handleRoute)
	mux.HandleFunc("GET "+prefix+"/routing/{taskID}/suggest", h.handleSuggest)
	mux.HandleFunc("GET "+prefix+"/escalations", h.handleEscalations)
}

type overrideRequest struct {
	TagPattern string    `json:"tag_pattern"`
	Target     string    `json:"target"`
	TargetRole string    `json:"target_role,omitempty"`
	Reason     string    `json:"reason,omitempty"`
	ExpiresAt  time.Time `json:"expires_at"`
}

func (h *Handler) handleCreateOverride(w http.ResponseWriter, r *http.Request) {
	var req overrideRequest
	if err := httpapi.DecodeJSON(r, &req); err != nil {
		httpapi.WriteError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	o := &store.RoutingOverride{
		TagPattern: req.TagPattern,
		Target:     req.Target,
		TargetRole: req.TargetRole,
		Reason:     req.Reason,
		CreatedBy:  r.Header.Get("X-Agent"),
		ExpiresAt:  req.ExpiresAt,
	}
	if err := ValidateOverride(o); err != nil {
		httpapi.WriteError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	if err := h.router.store.PutRoutingOverride(r.Context(), o); err != nil {
		httpapi.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	httpapi.WriteJSON(w, http.StatusCreated, o)
}

func (h *Handler) handleListOverrides(w http.ResponseWriter, r *http.Request) {
	liveOnly := r.URL.Query().Get("all") != "true"
	overrides, err := h.router.store.ListRoutingOverrides(r.Context(), time.Now().UTC(), liveOnly)
	if err != nil {
		httpapi.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	httpapi.WriteJSON(w, http.StatusOK, map[string]any{"overrides": overrides, "count": len(overrides)})
}

func (h *Handler) handleDeleteOverride(w http.ResponseWriter, r *http.Request) {
	if err := h.router.store.DeleteRoutingOverride(r.Context(), r.PathValue("id")); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			httpapi.WriteError(w, http.StatusNotFound, "override not found")
			return
		}
		httpapi.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	httpapi.WriteJSON(w, http.StatusOK, map[string]any{"deleted": true})
}

func (h *Handler) handleQueue(w http.ResponseWriter, r *http.Request) {
	tasks, err := h.router.Queue(r.Context())
	if err != nil {
		httpapi.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	httpapi.WriteJSON(w, http.StatusOK, map[string]any{"tasks": tasks, "count": len(tasks)})
}

func (h *Handler) handleDecide(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Actor    string `json:"actor"`
		Decision string `json:"decision"`
		Reason   string `json:"reason,omitempty"`
	}
	if err := httpapi.DecodeJSON(r, &req); err != nil {
		httpapi.WriteError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if req.Actor == "" {
		req.Actor = r.Header.Get("X-Agent")
	}
	d, err := h.router.Decide(r.Context(), r.PathValue("taskID"), req.Actor, req.Decision, req.Reason)
	if errors.Is(err, store.ErrNotFound) {
		httpapi.WriteError(w, http.StatusNotFound, "task not found")
		return
	}
	if err != nil {
		httpapi.WriteError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	httpapi.WriteJSON(w, http.StatusOK, d)
}

func (h *Handler) handleRoute(w http.ResponseWriter, r *http.Request) {
	t, suggestion, err := h.router.Route(r.Context(), r.PathValue("taskID"), r.Header.Get("X-Agent"))
	var approval *ApprovalRequiredError
	if errors.As(err, &approval) {
		httpapi.WriteErrorHint(w, http.StatusForbidden, approval.Error(),
			"an operator must POST /routing/{taskID}/decide with decision=approve")
		return
	}
	if errors.Is(err, store.ErrNotFound) {
		httpapi.WriteError(w, http.StatusNotFound, "task not found")
		return
	}
	if err != nil {
		httpapi.WriteError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	httpapi.WriteJSON(w, http.StatusOK, map[string]any{"task": t, "suggestion": suggestion})
}

func (h *Handler) handleSuggest(w http.ResponseWriter, r *http.Request) {
	t, err := h.router.store.GetTask(r.Context(), r.PathValue("taskID"))
	if errors.Is(err, store.ErrNotFound) {
		httpapi.WriteError(w, http.StatusNotFound, "task not found")
		return
	}
	if err != nil {
		httpapi.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	suggestion, err := h.router.SuggestAssignee(r.Context(), t)
	if err != nil {
		httpapi.WriteError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	protected, pattern := h.router.Protected(t)
	httpapi.WriteJSON(w, http.StatusOK, map[string]any{
		"suggestion": suggestion,
		"protected":  protected,
		"pattern":    pattern,
	})
}

func (h *Handler) handleEscalations(w http.ResponseWriter, r *http.Request) {
	escalations, err := h.router.store.ListEscalations(r.Context(), 100)
	if err != nil {
		httpapi.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	httpapi.WriteJSON(w, http.StatusOK, map[string]any{"escalations": escalations, "count": len(escalations)})
}
