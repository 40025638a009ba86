package calendar

import (
	"errors"
	"net/http"
	"time"

	"github.com/c360studio/steward/httpapi"
	"github.com/c360studio/steward/store"
)

// Handler exposes calendar state over HTTP.
type Handler struct {
	service *Service
}

// NewHandler creates the calendar HTTP handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterHTTPHandlers mounts the calendar endpoints on mux under prefix.
func (h *Handler) RegisterHTTPHandlers(prefix string, mux *http.ServeMux) {
	mux.HandleFunc("POST "+prefix+"/calendar/events", h.handleCreateEvent)
	mux.HandleFunc("GET "+prefix+"/calendar/events", h.handleListEvents)
	mux.HandleFunc("POST "+prefix+"/calendar/blocks", h.handleCreateBlock)
	mux.HandleFunc("GET "+prefix+"/calendar/blocks", h.handleListBlocks)
	mux.HandleFunc("POST "+prefix+"/calendar/reminders", h.handleCreateReminder)
	mux.HandleFunc("GET "+prefix+"/calendar/reminders", h.handleListReminders)
	mux.HandleFunc("POST "+prefix+"/calendar/recurring", h.handleCreateRecurring)
	mux.HandleFunc("GET "+prefix+"/calendar/recurring", h.handleListRecurring)
	mux.HandleFunc("POST "+prefix+"/calendar/recurring/{id}/enable", h.handleEnableRecurring)
	mux.HandleFunc("POST "+prefix+"/calendar/recurring/{id}/disable", h.handleDisableRecurring)
	mux.HandleFunc("POST "+prefix+"/calendar/recurring/materialize", h.handleMaterialize)
}

func (h *Handler) handleCreateEvent(w http.ResponseWriter, r *http.Request) {
	var e store.CalendarEvent
	if err := httpapi.DecodeJSON(r, &e); err != nil {
		httpapi.WriteError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if e.Title == "" || e.StartsAt.IsZero() {
		httpapi.WriteError(w, http.StatusUnprocessableEntity, "title and starts_at are required")
		return
	}
	if err := h.service.store.PutCalendarEvent(r.Context(), &e); err != nil {
		httpapi.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	httpapi.WriteJSON(w, http.StatusCreated, &e)
}

func (h *Handler) handleListEvents(w http.ResponseWriter, r *http.Request) {
	events, err := h.service.store.ListCalendarEvents(r.Context())
	if err != nil {
		httpapi.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	httpapi.WriteJSON(w, http.StatusOK, map[string]any{"events": events, "count": len(events)})
}

func (h *Handler) handleCreateBlock(w http.ResponseWriter, r *http.Request) {
	var b store.CalendarBlock
	if err := httpapi.DecodeJSON(r, &b); err != nil {
		httpapi.WriteError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if err := h.service.CreateBlock(r.Context(), &b); err != nil {
		httpapi.WriteError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	httpapi.WriteJSON(w, http.StatusCreated, &b)
}

func (h *Handler) handleListBlocks(w http.ResponseWriter, r *http.Request) {
	blocks, err := h.service.store.ListCalendarBlocks(r.Context())
	if err != nil {
		httpapi.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	httpapi.WriteJSON(w, http.StatusOK, map[string]any{"blocks": blocks, "count": len(blocks)})
}

func (h *Handler) handleCreateReminder(w http.ResponseWriter, r *http.Request) {
	var rem store.Reminder
	if err := httpapi.DecodeJSON(r, &rem); err != nil {
		httpapi.WriteError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if err := h.service.CreateReminder(r.Context(), &rem); err != nil {
		httpapi.WriteError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	httpapi.WriteJSON(w, http.StatusCreated, &rem)
}

func (h *Handler) handleListReminders(w http.ResponseWriter, r *http.Request) {
	reminders, err := h.service.store.ListReminders(r.Context())
	if err != nil {
		httpapi.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	httpapi.WriteJSON(w, http.StatusOK, map[string]any{"reminders": reminders, "count": len(reminders)})
}

func (h *Handler) handleCreateRecurring(w http.ResponseWriter, r *http.Request) {
	var def store.RecurringTaskDef
	if err := httpapi.DecodeJSON(r, &def); err != nil {
		httpapi.WriteError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if err := h.service.CreateRecurring(r.Context(), &def); err != nil {
		httpapi.WriteError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	httpapi.WriteJSON(w, http.StatusCreated, &def)
}

func (h *Handler) handleListRecurring(w http.ResponseWriter, r *http.Request) {
	defs, err := h.service.store.ListRecurringTasks(r.Context())
	if err != nil {
		httpapi.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	httpapi.WriteJSON(w, http.StatusOK, map[string]any{"recurring": defs, "count": len(defs)})
}

func (h *Handler) handleEnableRecurring(w http.ResponseWriter, r *http.Request) {
	h.setEnabled(w, r, true)
}

func (h *Handler) handleDisableRecurring(w http.ResponseWriter, r *http.Request) {
	h.setEnabled(w, r, false)
}

func (h *Handler) setEnabled(w http.ResponseWriter, r *http.Request, enabled bool) {
	def, err := h.service.SetRecurringEnabled(r.Context(), r.PathValue("id"), enabled)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			httpapi.WriteError(w, http.StatusNotFound, "recurring definition not found")
			return
		}
		httpapi.WriteError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	httpapi.WriteJSON(w, http.StatusOK, def)
}

// handleMaterialize fires due recurring definitions immediately.
func (h *Handler) handleMaterialize(w http.ResponseWriter, r *http.Request) {
	created, err := h.service.MaterializeDue(r.Context(), time.Now().UTC())
	if err != nil {
		httpapi.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	httpapi.WriteJSON(w, http.StatusOK, map[string]any{"created": created, "count": len(created)})
}
