package watchdog

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/c360studio/steward/httpapi"
	"github.com/c360studio/steward/store"
)

// Handler exposes watchdog introspection and controls over HTTP.
type Handler struct {
	sched *Scheduler
	board *BoardWorker
	store *store.Store
}

// NewHandler creates the watchdog HTTP handler.
func NewHandler(sched *Scheduler, board *BoardWorker, st *store.Store) *Handler {
	return &Handler{sched: sched, board: board, store: st}
}

// tickAliases maps the public tick endpoint names onto workers. The
// escalation path belongs to the idle worker, the working-contract check
// to the sweeper.
var tickAliases = map[string]string{
	"idle-nudge":       "idle",
	"cadence-watchdog": "cadence",
	"mention-rescue":   "mention",
	"working-contract": "sweeper",
	"board-health":     "board",
	"escalations":      "idle",
	"reminders":        "reminder",
}

// RegisterHTTPHandlers mounts the watchdog endpoints on mux under prefix.
func (h *Handler) RegisterHTTPHandlers(prefix string, mux *http.ServeMux) {
	mux.HandleFunc("POST "+prefix+"/health/{worker}/tick", h.handleTick)
	mux.HandleFunc("GET "+prefix+"/watchdog/status", h.handleStatus)
	mux.HandleFunc("POST "+prefix+"/watchdog/tick/{worker}", h.handleTick)
	mux.HandleFunc("GET "+prefix+"/watchdog/actions", h.handleActions)
	mux.HandleFunc("POST "+prefix+"/watchdog/actions/{id}/rollback", h.handleRollback)
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	status := h.sched.Status()
	httpapi.WriteJSON(w, http.StatusOK, map[string]any{"workers": status, "count": len(status)})
}

// handleTick runs one worker on demand. dryRun previews without side
// effects, force bypasses cooldowns and quiet hours, nowMs replays a
// moment in time.
func (h *Handler) handleTick(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("worker")
	if mapped, ok := tickAliases[name]; ok {
		name = mapped
	}
	q := r.URL.Query()
	opts := TickOptions{
		DryRun: q.Get("dryRun") == "true" || q.Get("dry_run") == "true",
		Force:  q.Get("force") == "true",
	}
	nowMs := q.Get("nowMs")
	if nowMs == "" {
		nowMs = q.Get("now_ms")
	}
	if nowMs != "" {
		ms, err := strconv.ParseInt(nowMs, 10, 64)
		if err != nil {
			httpapi.WriteError(w, http.StatusBadRequest, "nowMs must be unix milliseconds")
			return
		}
		opts.Now = time.UnixMilli(ms).UTC()
	}

	report, err := h.sched.TriggerTick(r.Context(), name, opts)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, ErrUnknownWorker) {
			status = http.StatusNotFound
		}
		httpapi.WriteError(w, status, err.Error())
		return
	}
	httpapi.WriteJSON(w, http.StatusOK, report)
}

func (h *Handler) handleActions(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			httpapi.WriteError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}
	actions, err := h.store.ListContinuityActions(r.Context(), r.URL.Query().Get("worker"), limit)
	if err != nil {
		httpapi.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	httpapi.WriteJSON(w, http.StatusOK, map[string]any{"actions": actions, "count": len(actions)})
}

func (h *Handler) handleRollback(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	record, err := h.board.Rollback(r.Context(), id, time.Now().UTC())
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			httpapi.WriteError(w, http.StatusNotFound, "action not found")
			return
		}
		httpapi.WriteError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	httpapi.WriteJSON(w, http.StatusOK, record)
}
