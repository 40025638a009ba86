package noise

import (
	"net/http"
	"strconv"

	"github.com/c360studio/steward/httpapi"
)

// Handler exposes the noise subsystem over HTTP.
type Handler struct {
	gate *Gatekeeper
	post PostFunc
}

// NewHandler creates the noise HTTP handler. post delivers manual digest
// flushes.
func NewHandler(gate *Gatekeeper, post PostFunc) *Handler {
	return &Handler{gate: gate, post: post}
}

// RegisterHTTPHandlers mounts the noise endpoints on mux under prefix.
func (h *Handler) RegisterHTTPHandlers(prefix string, mux *http.ServeMux) {
	mux.HandleFunc("GET "+prefix+"/noise/budget", h.handleBudgetLog)
	mux.HandleFunc("GET "+prefix+"/noise/suppressions", h.handleSuppressions)
	mux.HandleFunc("GET "+prefix+"/noise/digest", h.handleDigestStatus)
	mux.HandleFunc("POST "+prefix+"/noise/digest/flush", h.handleFlush)
}

func limitParam(r *http.Request) int {
	if s := r.URL.Query().Get("limit"); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 {
			return n
		}
	}
	return 100
}

func (h *Handler) handleBudgetLog(w http.ResponseWriter, r *http.Request) {
	snapshots, err := h.gate.store.ListNoiseBudgetLog(r.Context(), limitParam(r))
	if err != nil {
		httpapi.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	httpapi.WriteJSON(w, http.StatusOK, map[string]any{"snapshots": snapshots, "count": len(snapshots)})
}

func (h *Handler) handleSuppressions(w http.ResponseWriter, r *http.Request) {
	entries, err := h.gate.store.ListSuppressions(r.Context(), limitParam(r))
	if err != nil {
		httpapi.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	httpapi.WriteJSON(w, http.StatusOK, map[string]any{"suppressions": entries, "count": len(entries)})
}

func (h *Handler) handleDigestStatus(w http.ResponseWriter, r *http.Request) {
	httpapi.WriteJSON(w, http.StatusOK, map[string]any{"pending": h.gate.PendingDigest()})
}

func (h *Handler) handleFlush(w http.ResponseWriter, r *http.Request) {
	flushed, err := h.gate.Flush(r.Context(), h.post)
	if err != nil {
		httpapi.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	httpapi.WriteJSON(w, http.StatusOK, map[string]any{"flushed": flushed})
}
