package task

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/c360studio/steward/events"
	"github.com/c360studio/steward/httpapi"
	"github.com/c360studio/steward/store"
)

// Handler exposes the task lifecycle over HTTP.
type Handler struct {
	engine *Engine
}

// NewHandler creates the task HTTP handler.
func NewHandler(engine *Engine) *Handler {
	return &Handler{engine: engine}
}

// RegisterHTTPHandlers mounts the task endpoints on mux under prefix.
func (h *Handler) RegisterHTTPHandlers(prefix string, mux *http.ServeMux) {
	mux.HandleFunc("POST "+prefix+"/tasks", h.handleCreate)
	mux.HandleFunc("GET "+prefix+"/tasks", h.handleList)
	mux.HandleFunc("POST "+prefix+"/tasks/batch-create", h.handleCreateBatch)
	mux.HandleFunc("GET "+prefix+"/tasks/next", h.handleNext)
	mux.HandleFunc("POST "+prefix+"/tasks/next/claim", h.handleClaim)
	mux.HandleFunc("GET "+prefix+"/tasks/intake-schema", h.handleIntakeSchema)
	mux.HandleFunc("GET "+prefix+"/tasks/recurring", h.handleRecurring)
	mux.HandleFunc("GET "+prefix+"/tasks/templates", h.handleTemplates)
	mux.HandleFunc("GET "+prefix+"/tasks/templates/{type}", h.handleTemplate)
	mux.HandleFunc("GET "+prefix+"/tasks/{id}", h.handleGet)
	mux.HandleFunc("PATCH "+prefix+"/tasks/{id}", h.handlePatch)
	mux.HandleFunc("DELETE "+prefix+"/tasks/{id}", h.handleDelete)
	mux.HandleFunc("POST "+prefix+"/tasks/{id}/precheck", h.handlePrecheck)
	mux.HandleFunc("POST "+prefix+"/tasks/{id}/review", h.handleReview)
	mux.HandleFunc("POST "+prefix+"/tasks/{id}/outcome", h.handleOutcome)
	mux.HandleFunc("GET "+prefix+"/tasks/{id}/history", h.handleHistory)
	mux.HandleFunc("GET "+prefix+"/tasks/{id}/comments", h.handleListComments)
	mux.HandleFunc("POST "+prefix+"/tasks/{id}/comments", h.handleAddComment)
	mux.HandleFunc("GET "+prefix+"/tasks/{id}/artifacts", h.handleArtifacts)
	mux.HandleFunc("GET "+prefix+"/tasks/{id}/pr-review", h.handlePRReview)
	mux.HandleFunc("GET "+prefix+"/tasks/{id}/audit", h.handleAudit)
}

// writeGateError maps engine errors onto the failure envelope.
func writeGateError(w http.ResponseWriter, err error) {
	var gerr *GateError
	if errors.As(err, &gerr) {
		httpapi.WriteErrorBody(w, httpapi.ErrorBody{
			Error:  gerr.Msg,
			Code:   "gate_failed",
			Status: gerr.Status,
			Hint:   gerr.Hint,
			Gate:   gerr.Gate,
			Fields: gerr.Fields,
		})
		return
	}
	if errors.Is(err, store.ErrNotFound) {
		httpapi.WriteError(w, http.StatusNotFound, "task not found")
		return
	}
	httpapi.WriteError(w, http.StatusInternalServerError, err.Error())
}

func (h *Handler) resolve(w http.ResponseWriter, r *http.Request) *store.Task {
	id := r.PathValue("id")
	match, err := h.engine.store.ResolveTaskPrefix(r.Context(), id)
	if err != nil {
		httpapi.WriteError(w, http.StatusInternalServerError, err.Error())
		return nil
	}
	if match.Exact != nil {
		return match.Exact
	}
	if len(match.Candidates) > 1 {
		httpapi.WriteErrorHint(w, prefixFailureStatus(match),
			fmt.Sprintf("id prefix %q is ambiguous", id),
			"candidates: "+strings.Join(match.Candidates, ", "))
		return nil
	}
	httpapi.WriteError(w, prefixFailureStatus(match), "task not found")
	return nil
}

// prefixFailureStatus maps an unresolved prefix onto the response code. An
// ambiguous prefix is a malformed reference, not a conflict, so it reads
// as a caller error.
func prefixFailureStatus(match *store.PrefixMatch) int {
	if len(match.Candidates) > 1 {
		return http.StatusBadRequest
	}
	return http.StatusNotFound
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var in CreateInput
	if err := httpapi.DecodeJSON(r, &in); err != nil {
		httpapi.WriteError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	t, err := h.engine.Create(r.Context(), in)
	if err != nil {
		writeGateError(w, err)
		return
	}
	httpapi.WriteJSON(w, http.StatusCreated, t)
}

func (h *Handler) handleCreateBatch(w http.ResponseWriter, r *http.Request) {
	var ins []CreateInput
	if err := httpapi.DecodeJSON(r, &ins); err != nil {
		httpapi.WriteError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if len(ins) == 0 {
		httpapi.WriteError(w, http.StatusBadRequest, "empty batch")
		return
	}
	tasks, err := h.engine.CreateBatch(r.Context(), ins)
	if err != nil {
		writeGateError(w, err)
		return
	}
	httpapi.WriteJSON(w, http.StatusCreated, map[string]any{"tasks": tasks, "count": len(tasks)})
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.TaskFilter{
		Status:   store.TaskStatus(q.Get("status")),
		Assignee: q.Get("assignee"),
		Reviewer: q.Get("reviewer"),
		TeamID:   q.Get("team"),
	}
	if limit := q.Get("limit"); limit != "" {
		n, err := strconv.Atoi(limit)
		if err != nil || n < 0 {
			httpapi.WriteError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		filter.Limit = n
	}
	if filter.Status != "" && !store.ValidTaskStatus(filter.Status) {
		httpapi.WriteError(w, http.StatusBadRequest, fmt.Sprintf("unknown status %q", filter.Status))
		return
	}
	tasks, err := h.engine.store.ListTasks(r.Context(), filter)
	if err != nil {
		httpapi.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	httpapi.WriteJSON(w, http.StatusOK, map[string]any{"tasks": tasks, "count": len(tasks)})
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	t := h.resolve(w, r)
	if t == nil {
		return
	}
	httpapi.WriteJSON(w, http.StatusOK, t)
}

// patchRequest is the wire shape of a task patch.
type patchRequest struct {
	Title        *string           `json:"title,omitempty"`
	Description  *string           `json:"description,omitempty"`
	Status       *store.TaskStatus `json:"status,omitempty"`
	Priority     *store.Priority   `json:"priority,omitempty"`
	Assignee     *string           `json:"assignee,omitempty"`
	Reviewer     *string           `json:"reviewer,omitempty"`
	DoneCriteria []string          `json:"done_criteria,omitempty"`
	BlockedBy    []string          `json:"blocked_by,omitempty"`
	Tags         []string          `json:"tags,omitempty"`
	Metadata     map[string]any    `json:"metadata,omitempty"`
	Actor        string            `json:"actor,omitempty"`
}

func (pr *patchRequest) toPatch(actorHeader, context_ string) *Patch {
	actor := pr.Actor
	if actor == "" {
		actor = actorHeader
	}
	return &Patch{
		Title:        pr.Title,
		Description:  pr.Description,
		Status:       pr.Status,
		Priority:     pr.Priority,
		Assignee:     pr.Assignee,
		Reviewer:     pr.Reviewer,
		DoneCriteria: pr.DoneCriteria,
		BlockedBy:    pr.BlockedBy,
		Tags:         pr.Tags,
		Metadata:     pr.Metadata,
		Actor:        actor,
		Context:      context_,
	}
}

func (h *Handler) handlePatch(w http.ResponseWriter, r *http.Request) {
	t := h.resolve(w, r)
	if t == nil {
		return
	}
	var pr patchRequest
	if err := httpapi.DecodeJSON(r, &pr); err != nil {
		httpapi.WriteError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	updated, dec, err := h.engine.Apply(r.Context(), t.ID, pr.toPatch(r.Header.Get("X-Agent"), "http"))
	if err != nil {
		writeGateError(w, err)
		return
	}
	httpapi.WriteJSON(w, http.StatusOK, map[string]any{"task": updated, "warnings": dec.Warnings})
}

// handlePrecheck runs the gate chain without persisting anything, so agents
// can validate a transition before committing evidence.
func (h *Handler) handlePrecheck(w http.ResponseWriter, r *http.Request) {
	t := h.resolve(w, r)
	if t == nil {
		return
	}
	var pr patchRequest
	if err := httpapi.DecodeJSON(r, &pr); err != nil {
		httpapi.WriteError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	p := pr.toPatch(r.Header.Get("X-Agent"), "precheck")

	ctx := r.Context()
	policy := h.engine.policy.Get()
	doing, err := h.engine.doingCountExcluding(ctx, effectiveAssignee(t, p), t)
	if err != nil {
		httpapi.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	owes, err := h.engine.owesReflection(ctx, effectiveAssignee(t, p), policy, time.Now().UTC())
	if err != nil {
		httpapi.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	in := GateInput{
		Task:           t,
		Patch:          p,
		Merged:         mergeMetadata(t.Metadata, p.Metadata),
		Now:            time.Now().UTC(),
		Policy:         policy,
		Models:         h.engine.models,
		DoingCount:     doing,
		OwesReflection: owes,
		TaskExists: func(id string) bool {
			_, err := h.engine.store.GetTask(ctx, id)
			return err == nil
		},
	}
	dec, gerr := EvaluateGates(in)
	if gerr != nil {
		httpapi.WriteJSON(w, http.StatusOK, map[string]any{
			"pass":   false,
			"gate":   gerr.Gate,
			"error":  gerr.Msg,
			"hint":   gerr.Hint,
			"fields": gerr.Fields,
		})
		return
	}
	httpapi.WriteJSON(w, http.StatusOK, map[string]any{"pass": true, "warnings": dec.Warnings})
}

// reviewRequest is the reviewer's decision on a validating task.
type reviewRequest struct {
	Reviewer string `json:"reviewer"`
	Decision string `json:"decision"`
	Notes    string `json:"notes,omitempty"`
}

func (h *Handler) handleReview(w http.ResponseWriter, r *http.Request) {
	t := h.resolve(w, r)
	if t == nil {
		return
	}
	var req reviewRequest
	if err := httpapi.DecodeJSON(r, &req); err != nil {
		httpapi.WriteError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if req.Reviewer == "" {
		req.Reviewer = r.Header.Get("X-Agent")
	}

	meta := map[string]any{
		MetaReviewLastActivity: time.Now().UTC().Format(time.RFC3339),
	}
	if req.Notes != "" {
		meta[MetaReviewerNotes] = req.Notes
	}
	switch req.Decision {
	case "approve":
		meta[MetaReviewerApproved] = true
	case "needs_author":
		meta[MetaReviewState] = ReviewStateNeedsAuthor
	case "in_progress":
		meta[MetaReviewState] = ReviewStateInProgress
	default:
		httpapi.WriteErrorHint(w, http.StatusBadRequest,
			fmt.Sprintf("unknown decision %q", req.Decision),
			"decision must be approve, needs_author or in_progress")
		return
	}

	updated, _, err := h.engine.Apply(r.Context(), t.ID, &Patch{
		Metadata: meta,
		Actor:    req.Reviewer,
		Context:  "review",
	})
	if err != nil {
		writeGateError(w, err)
		return
	}
	httpapi.WriteJSON(w, http.StatusOK, updated)
}

func (h *Handler) handleNext(w http.ResponseWriter, r *http.Request) {
	agent := r.URL.Query().Get("agent")
	if agent == "" {
		httpapi.WriteError(w, http.StatusBadRequest, "agent is required")
		return
	}
	t, err := h.engine.Next(r.Context(), agent)
	if errors.Is(err, store.ErrNotFound) {
		httpapi.WriteJSON(w, http.StatusOK, map[string]any{"task": nil})
		return
	}
	if err != nil {
		httpapi.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	httpapi.WriteJSON(w, http.StatusOK, map[string]any{"task": t})
}

func (h *Handler) handleClaim(w http.ResponseWriter, r *http.Request) {
	agent := r.URL.Query().Get("agent")
	if agent == "" {
		agent = r.Header.Get("X-Agent")
	}
	if agent == "" {
		httpapi.WriteError(w, http.StatusBadRequest, "agent is required")
		return
	}
	t, dec, err := h.engine.Claim(r.Context(), agent)
	if errors.Is(err, store.ErrNotFound) {
		httpapi.WriteJSON(w, http.StatusOK, map[string]any{"task": nil})
		return
	}
	if err != nil {
		writeGateError(w, err)
		return
	}
	httpapi.WriteJSON(w, http.StatusOK, map[string]any{"task": t, "warnings": dec.Warnings})
}

func (h *Handler) handleTemplates(w http.ResponseWriter, r *http.Request) {
	httpapi.WriteJSON(w, http.StatusOK, map[string]any{"templates": TemplateNames()})
}

func (h *Handler) handleTemplate(w http.ResponseWriter, r *http.Request) {
	name := strings.ToLower(r.PathValue("type"))
	tpl, ok := templates[name]
	if !ok {
		httpapi.WriteErrorHint(w, http.StatusNotFound,
			fmt.Sprintf("unknown template %q", name),
			"known templates: "+strings.Join(TemplateNames(), ", "))
		return
	}
	httpapi.WriteJSON(w, http.StatusOK, map[string]any{
		"name":          name,
		"type":          tpl.Type,
		"priority":      tpl.Priority,
		"done_criteria": tpl.DoneCriteria,
		"tags":          tpl.Tags,
	})
}

// handleIntakeSchema documents the create payload so agents can validate
// before posting.
func (h *Handler) handleIntakeSchema(w http.ResponseWriter, r *http.Request) {
	httpapi.WriteJSON(w, http.StatusOK, map[string]any{
		"required": []string{"title", "reviewer", "done_criteria"},
		"fields": map[string]string{
			"title":         "string",
			"description":   "string",
			"type":          "bug | feature | chore | docs",
			"priority":      "P0 | P1 | P2 | P3",
			"assignee":      "string, must differ from reviewer",
			"reviewer":      "string",
			"done_criteria": "[]string, at least one",
			"blocked_by":    "[]string of task ids",
			"tags":          "[]string",
			"team_id":       "string",
			"template":      "one of /tasks/templates",
			"metadata":      "object",
		},
		"templates": TemplateNames(),
	})
}

func (h *Handler) handleRecurring(w http.ResponseWriter, r *http.Request) {
	defs, err := h.engine.store.ListRecurringTasks(r.Context())
	if err != nil {
		httpapi.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	httpapi.WriteJSON(w, http.StatusOK, map[string]any{"recurring": defs, "count": len(defs)})
}

// handleDelete removes a task outright. History stays behind as the only
// trace, so deletion is recorded there first.
func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	t := h.resolve(w, r)
	if t == nil {
		return
	}
	actor := r.Header.Get("X-Agent")
	if err := h.engine.store.AddTaskHistory(r.Context(), &store.TaskHistoryEntry{
		TaskID:     t.ID,
		Actor:      actor,
		FromStatus: t.Status,
		Note:       "task deleted",
	}); err != nil {
		httpapi.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if err := h.engine.store.DeleteTask(r.Context(), t.ID); err != nil {
		httpapi.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.engine.publisher.Emit(r.Context(), events.Event{
		Kind:   events.KindTaskDeleted,
		TaskID: t.ID,
		Agent:  actor,
	})
	httpapi.WriteJSON(w, http.StatusOK, map[string]any{"deleted": t.ID})
}

// outcomeRequest closes the loop on a finished task: what actually
// happened, and whether a follow-on exists.
type outcomeRequest struct {
	Actor            string `json:"actor,omitempty"`
	Outcome          string `json:"outcome"`
	Notes            string `json:"notes,omitempty"`
	FollowOnTaskID   string `json:"follow_on_task_id,omitempty"`
	FollowOnNA       bool   `json:"follow_on_na,omitempty"`
	FollowOnNAReason string `json:"follow_on_na_reason,omitempty"`
}

func (h *Handler) handleOutcome(w http.ResponseWriter, r *http.Request) {
	t := h.resolve(w, r)
	if t == nil {
		return
	}
	var req outcomeRequest
	if err := httpapi.DecodeJSON(r, &req); err != nil {
		httpapi.WriteError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if strings.TrimSpace(req.Outcome) == "" {
		httpapi.WriteError(w, http.StatusBadRequest, "outcome is required")
		return
	}
	if req.Actor == "" {
		req.Actor = r.Header.Get("X-Agent")
	}

	meta := map[string]any{MetaOutcome: req.Outcome}
	if req.Notes != "" {
		meta[MetaOutcomeNotes] = req.Notes
	}
	if req.FollowOnTaskID != "" {
		meta[MetaFollowOnTaskID] = req.FollowOnTaskID
	}
	if req.FollowOnNA {
		meta[MetaFollowOnNA] = true
		meta[MetaFollowOnNAReason] = req.FollowOnNAReason
	}
	updated, _, err := h.engine.Apply(r.Context(), t.ID, &Patch{
		Metadata: meta,
		Actor:    req.Actor,
		Context:  "outcome",
	})
	if err != nil {
		writeGateError(w, err)
		return
	}
	httpapi.WriteJSON(w, http.StatusOK, updated)
}

// handlePRReview returns the stored review packet alongside the live PR
// state, so reviewers see drift without waiting for the sweeper.
func (h *Handler) handlePRReview(w http.ResponseWriter, r *http.Request) {
	t := h.resolve(w, r)
	if t == nil {
		return
	}
	ev := ParseEvidence(t.Metadata)
	if ev.Packet == nil {
		httpapi.WriteError(w, http.StatusNotFound, "task carries no review packet")
		return
	}
	resp := map[string]any{"packet": ev.Packet}
	if h.engine.checker != nil && ev.Packet.PRURL != "" {
		if pr, err := h.engine.checker.Lookup(r.Context(), ev.Packet.PRURL); err == nil {
			resp["pr"] = pr
		} else {
			resp["pr_error"] = err.Error()
		}
	}
	httpapi.WriteJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	t := h.resolve(w, r)
	if t == nil {
		return
	}
	entries, err := h.engine.store.ListTaskHistory(r.Context(), t.ID)
	if err != nil {
		httpapi.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	httpapi.WriteJSON(w, http.StatusOK, map[string]any{"history": entries, "count": len(entries)})
}

func (h *Handler) handleListComments(w http.ResponseWriter, r *http.Request) {
	t := h.resolve(w, r)
	if t == nil {
		return
	}
	comments, err := h.engine.store.ListTaskComments(r.Context(), t.ID)
	if err != nil {
		httpapi.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	httpapi.WriteJSON(w, http.StatusOK, map[string]any{"comments": comments, "count": len(comments)})
}

func (h *Handler) handleAddComment(w http.ResponseWriter, r *http.Request) {
	t := h.resolve(w, r)
	if t == nil {
		return
	}
	var req struct {
		Author string `json:"author"`
		Body   string `json:"body"`
	}
	if err := httpapi.DecodeJSON(r, &req); err != nil {
		httpapi.WriteError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if strings.TrimSpace(req.Body) == "" {
		httpapi.WriteError(w, http.StatusBadRequest, "body is required")
		return
	}
	if req.Author == "" {
		req.Author = r.Header.Get("X-Agent")
	}
	c := &store.TaskComment{TaskID: t.ID, Author: req.Author, Body: req.Body}
	if err := h.engine.store.AddTaskComment(r.Context(), c); err != nil {
		httpapi.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	httpapi.WriteJSON(w, http.StatusCreated, c)
}

func (h *Handler) handleArtifacts(w http.ResponseWriter, r *http.Request) {
	t := h.resolve(w, r)
	if t == nil {
		return
	}
	var artifacts []string
	if t.Metadata != nil {
		artifacts = stringSlice(t.Metadata[MetaArtifacts])
	}
	httpapi.WriteJSON(w, http.StatusOK, map[string]any{"artifacts": artifacts, "count": len(artifacts)})
}

func (h *Handler) handleAudit(w http.ResponseWriter, r *http.Request) {
	t := h.resolve(w, r)
	if t == nil {
		return
	}
	limit := 0
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			httpapi.WriteError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}
	entries, err := h.engine.store.ListAudit(r.Context(), t.ID, limit)
	if err != nil {
		httpapi.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	httpapi.WriteJSON(w, http.StatusOK, map[string]any{"entries": entries, "count": len(entries)})
}
