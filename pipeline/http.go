package pipeline

import (
	"errors"
	"net/http"

	"github.com/c360studio/steward/httpapi"
	"github.com/c360studio/steward/store"
)

// Handler exposes the reflection/insight pipeline over HTTP.
type Handler struct {
	pipeline *Pipeline
}

// NewHandler creates the pipeline HTTP handler.
func NewHandler(p *Pipeline) *Handler {
	return &Handler{pipeline: p}
}

// RegisterHTTPHandlers mounts the pipeline endpoints on mux under prefix.
func (h *Handler) RegisterHTTPHandlers(prefix string, mux *http.ServeMux) {
	mux.HandleFunc("POST "+prefix+"/reflections", h.handleIngest)
	mux.HandleFunc("GET "+prefix+"/reflections", h.handleListReflections)
	mux.HandleFunc("GET "+prefix+"/reflections/{id}", h.handleGetReflection)
	mux.HandleFunc("GET "+prefix+"/insights", h.handleListInsights)
	mux.HandleFunc("POST "+prefix+"/insights/ingest", h.handleIngestInsight)
	mux.HandleFunc("GET "+prefix+"/insights/orphans", h.handleOrphans)
	mux.HandleFunc("POST "+prefix+"/insights/reconcile", h.handleReconcile)
	mux.HandleFunc("GET "+prefix+"/insights/{id}", h.handleGetInsight)
	mux.HandleFunc("POST "+prefix+"/insights/{id}/promote", h.handlePromote)
	mux.HandleFunc("POST "+prefix+"/insights/{id}/triage", h.handleTriage)
	mux.HandleFunc("GET "+prefix+"/insights/{id}/triage", h.handleTriageLog)
	mux.HandleFunc("GET "+prefix+"/pipeline/health", h.handleHealth)
}

func (h *Handler) handleIngest(w http.ResponseWriter, r *http.Request) {
	var in ReflectionInput
	if err := httpapi.DecodeJSON(r, &in); err != nil {
		httpapi.WriteError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if in.Author == "" {
		in.Author = r.Header.Get("X-Agent")
	}
	result, err := h.pipeline.Ingest(r.Context(), in)
	if err != nil {
		httpapi.WriteError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	httpapi.WriteJSON(w, http.StatusCreated, result)
}

func (h *Handler) handleListReflections(w http.ResponseWriter, r *http.Request) {
	reflections, err := h.pipeline.store.ListReflections(r.Context())
	if err != nil {
		httpapi.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	httpapi.WriteJSON(w, http.StatusOK, map[string]any{"reflections": reflections, "count": len(reflections)})
}

func (h *Handler) handleGetReflection(w http.ResponseWriter, r *http.Request) {
	reflection, err := h.pipeline.store.GetReflection(r.Context(), r.PathValue("id"))
	if errors.Is(err, store.ErrNotFound) {
		httpapi.WriteError(w, http.StatusNotFound, "reflection not found")
		return
	}
	if err != nil {
		httpapi.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	httpapi.WriteJSON(w, http.StatusOK, reflection)
}

func (h *Handler) handleIngestInsight(w http.ResponseWriter, r *http.Request) {
	var in InsightInput
	if err := httpapi.DecodeJSON(r, &in); err != nil {
		httpapi.WriteError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if in.Author == "" {
		in.Author = r.Header.Get("X-Agent")
	}
	insight, err := h.pipeline.IngestInsight(r.Context(), in)
	if err != nil {
		httpapi.WriteError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	httpapi.WriteJSON(w, http.StatusCreated, insight)
}

func (h *Handler) handlePromote(w http.ResponseWriter, r *http.Request) {
	actor := r.Header.Get("X-Agent")
	if actor == "" {
		actor = "operator"
	}
	insight, err := h.pipeline.Promote(r.Context(), r.PathValue("id"), actor)
	if errors.Is(err, store.ErrNotFound) {
		httpapi.WriteError(w, http.StatusNotFound, "insight not found")
		return
	}
	if err != nil {
		httpapi.WriteError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	httpapi.WriteJSON(w, http.StatusOK, insight)
}

func (h *Handler) handleListInsights(w http.ResponseWriter, r *http.Request) {
	insights, err := h.pipeline.store.ListInsights(r.Context())
	if err != nil {
		httpapi.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if status := store.InsightStatus(r.URL.Query().Get("status")); status != "" {
		filtered := insights[:0]
		for _, in := range insights {
			if in.Status == status {
				filtered = append(filtered, in)
			}
		}
		insights = filtered
	}
	httpapi.WriteJSON(w, http.StatusOK, map[string]any{"insights": insights, "count": len(insights)})
}

func (h *Handler) handleGetInsight(w http.ResponseWriter, r *http.Request) {
	insight, err := h.pipeline.store.GetInsight(r.Context(), r.PathValue("id"))
	if errors.Is(err, store.ErrNotFound) {
		httpapi.WriteError(w, http.StatusNotFound, "insight not found")
		return
	}
	if err != nil {
		httpapi.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	httpapi.WriteJSON(w, http.StatusOK, insight)
}

func (h *Handler) handleTriage(w http.ResponseWriter, r *http.Request) {
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
	if req.Actor == "" {
		httpapi.WriteError(w, http.StatusBadRequest, "actor is required")
		return
	}
	insight, err := h.pipeline.Triage(r.Context(), r.PathValue("id"), req.Actor, req.Decision, req.Reason)
	if errors.Is(err, store.ErrNotFound) {
		httpapi.WriteError(w, http.StatusNotFound, "insight not found")
		return
	}
	if err != nil {
		httpapi.WriteError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	httpapi.WriteJSON(w, http.StatusOK, insight)
}

func (h *Handler) handleTriageLog(w http.ResponseWriter, r *http.Request) {
	decisions, err := h.pipeline.store.ListTriageDecisions(r.Context(), r.PathValue("id"))
	if err != nil {
		httpapi.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	httpapi.WriteJSON(w, http.StatusOK, map[string]any{"decisions": decisions, "count": len(decisions)})
}

func (h *Handler) handleReconcile(w http.ResponseWriter, r *http.Request) {
	dryRun := r.URL.Query().Get("dry_run") == "true"
	actor := r.Header.Get("X-Agent")
	if actor == "" {
		actor = "operator"
	}
	report, err := h.pipeline.Reconcile(r.Context(), actor, dryRun)
	if err != nil {
		httpapi.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	httpapi.WriteJSON(w, http.StatusOK, report)
}

func (h *Handler) handleOrphans(w http.ResponseWriter, r *http.Request) {
	orphans, err := h.pipeline.Orphans(r.Context())
	if err != nil {
		httpapi.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	httpapi.WriteJSON(w, http.StatusOK, map[string]any{"orphans": orphans, "count": len(orphans)})
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	httpapi.WriteJSON(w, http.StatusOK, h.pipeline.CheckHealth(r.Context()))
}
