package audit

import (
	"net/http"
	"strconv"

	"github.com/c360studio/steward/httpapi"
	"github.com/c360studio/steward/store"
)

// Handler exposes the audit ledger and mutation alerts over HTTP.
type Handler struct {
	store *store.Store
}

// NewHandler creates the audit HTTP handler.
func NewHandler(st *store.Store) *Handler {
	return &Handler{store: st}
}

// RegisterHTTPHandlers mounts the audit endpoints on mux under prefix.
func (h *Handler) RegisterHTTPHandlers(prefix string, mux *http.ServeMux) {
	mux.HandleFunc("GET "+prefix+"/audit/reviews", h.handleReviews)
	mux.HandleFunc("GET "+prefix+"/audit/mutation-alerts", h.handleMutationAlerts)
}

func (h *Handler) handleReviews(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := 0
	if s := q.Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			httpapi.WriteError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}
	entries, err := h.store.ListAudit(r.Context(), q.Get("task"), limit)
	if err != nil {
		httpapi.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	httpapi.WriteJSON(w, http.StatusOK, map[string]any{"entries": entries, "count": len(entries)})
}

func (h *Handler) handleMutationAlerts(w http.ResponseWriter, r *http.Request) {
	alerts, err := h.store.ListMutationAlerts(r.Context())
	if err != nil {
		httpapi.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	httpapi.WriteJSON(w, http.StatusOK, map[string]any{"alerts": alerts, "count": len(alerts)})
}
