package task

import (
	"fmt"
	"strings"
	"time"

	"github.com/c360studio/steward/config"
	"github.com/c360studio/steward/model"
	"github.com/c360studio/steward/prcheck"
	"github.com/c360studio/steward/store"
)

// Gate identifiers, surfaced in 422/403 responses.
const (
	GateTransition       = "transition"
	GateReviewerIdentity = "reviewer_identity"
	GateModel            = "model"
	GateQABundle         = "qa_bundle"
	GatePRIntegrity      = "pr_integrity"
	GateReviewDelta      = "review_delta"
	GateWIPCap           = "wip_cap"
	GateReflectionDebt   = "reflection_debt"
	GateArtifacts        = "artifacts"
	GatePRNotMerged      = "pr_not_merged"
	GateReviewerApproval = "reviewer_approval"
	GateFollowOn         = "follow_on"
)

// GateError is a structured gate-chain failure.
type GateError struct {
	Gate   string   `json:"gate"`
	Status int      `json:"status"`
	Msg    string   `json:"error"`
	Hint   string   `json:"hint,omitempty"`
	Fields []string `json:"fields,omitempty"`
	// AutoBlock asks the engine to move the task to blocked despite the
	// rejection (closed-unmerged PR on a close attempt).
	AutoBlock bool `json:"-"`
	// RecordRejectedApproval asks the engine to stamp an approval_rejected
	// artifact and fire a mutation alert.
	RecordRejectedApproval bool `json:"-"`
}

// Error implements error.
func (e *GateError) Error() string {
	return fmt.Sprintf("gate %s: %s", e.Gate, e.Msg)
}

// Patch is a partial task mutation keyed by task id.
type Patch struct {
	Title        *string
	Description  *string
	Status       *store.TaskStatus
	Priority     *store.Priority
	Assignee     *string
	Reviewer     *string
	DoneCriteria []string
	BlockedBy    []string
	Tags         []string
	Metadata     map[string]any

	// Actor is who submits the patch; required for approval writes.
	Actor string
	// Context names where the patch came from (http, sweeper, bridge).
	Context string
}

// GateInput bundles everything the gate chain reads. Given identical inputs
// the chain returns the same decision and the same failure path.
type GateInput struct {
	Task   *store.Task
	Patch  *Patch
	Merged map[string]any
	Now    time.Time
	Policy config.PolicyConfig
	Models *model.Registry

	// DoingCount is the assignee's in-flight doing count excluding this task.
	DoingCount int
	// OwesReflection is the assignee's reflection-debt state.
	OwesReflection bool
	// LookupPR resolves PR state; nil disables integrity checks entirely.
	LookupPR func(url string) (*prcheck.PR, error)
	// TaskExists resolves follow-on linkage.
	TaskExists func(id string) bool
}

// Decision is the gate chain outcome plus the effects the engine applies.
type Decision struct {
	// Transition is true when the patch changes status.
	Transition bool
	From, To   store.TaskStatus

	// Reopened is set when the transition was admitted via reopen.
	Reopened bool
	// ModelResolution is set on *->doing.
	ModelResolution *model.Resolution
	// StampBranch is the branch to stamp on *->doing, "" when already set.
	StampBranch string
	// OpenFocusWindow opens the assignee's deep-work window on *->doing.
	OpenFocusWindow bool
	// Warnings are non-fatal advisories (second doing task, WIP override).
	Warnings []string
	// WIPOverridden flags a cap bypass for downstream visibility.
	WIPOverridden bool
	// IntegrityOverridden flags a PR drift bypass (audited).
	IntegrityOverridden bool
}

// EvaluateGates runs the ordered gate chain. The first failure
// short-circuits with a structured GateError.
func EvaluateGates(in GateInput) (*Decision, *GateError) {
	t := in.Task
	p := in.Patch
	ev := ParseEvidence(in.Merged)

	dec := &Decision{From: t.Status, To: t.Status}
	if p.Status != nil {
		dec.To = *p.Status
		dec.Transition = dec.To != t.Status
	}

	if err := gateTransition(t, p, ev, dec); err != nil {
		return nil, err
	}
	if err := gateReviewerIdentity(t, p); err != nil {
		return nil, err
	}
	if err := gateModel(in, ev, dec); err != nil {
		return nil, err
	}
	if err := gateValidatingEvidence(in, ev, dec); err != nil {
		return nil, err
	}
	if err := gateReviewDelta(t, p, ev); err != nil {
		return nil, err
	}
	if err := gateWIPCap(in, ev, dec); err != nil {
		return nil, err
	}
	if err := gateReflectionDebt(in, dec); err != nil {
		return nil, err
	}
	if err := gateClose(in, ev, dec); err != nil {
		return nil, err
	}

	applyDoingEffects(in, dec)
	return dec, nil
}

// gateTransition enforces the state-transition whitelist with the reopen
// escape hatch.
func gateTransition(t *store.Task, p *Patch, ev Evidence, dec *Decision) *GateError {
	if p.Status == nil {
		return nil
	}
	to := *p.Status
	if !store.ValidTaskStatus(to) {
		return &GateError{
			Gate:   GateTransition,
			Status: 400,
			Msg:    fmt.Sprintf("unknown status %q", to),
			Fields: []string{"status"},
		}
	}
	if TransitionAllowed(t.Status, to) {
		return nil
	}
	if ev.Reopen {
		if strings.TrimSpace(ev.ReopenReason) == "" {
			return &GateError{
				Gate:   GateTransition,
				Status: 422,
				Msg:    "reopen requires a non-empty reopen_reason",
				Hint:   "set metadata.reopen_reason",
				Fields: []string{"metadata.reopen_reason"},
			}
		}
		dec.Reopened = true
		return nil
	}
	return &GateError{
		Gate:   GateTransition,
		Status: 422,
		Msg:    fmt.Sprintf("transition %s -> %s is not allowed", t.Status, to),
		Hint:   "set metadata.reopen=true with reopen_reason to reopen",
	}
}

// gateReviewerIdentity rejects reviewer_approved writes from anyone but the
// task's reviewer.
func gateReviewerIdentity(t *store.Task, p *Patch) *GateError {
	if p.Metadata == nil {
		return nil
	}
	raw, touched := p.Metadata[MetaReviewerApproved]
	if !touched || !boolVal(raw) {
		return nil
	}
	if p.Actor == "" {
		return &GateError{
			Gate:                   GateReviewerIdentity,
			Status:                 403,
			Msg:                    "approving requires an actor",
			Hint:                   "supply actor on the patch",
			RecordRejectedApproval: true,
		}
	}
	if !strings.EqualFold(p.Actor, t.Reviewer) {
		return &GateError{
			Gate:                   GateReviewerIdentity,
			Status:                 403,
			Msg:                    fmt.Sprintf("actor %q is not the reviewer (%s)", p.Actor, t.Reviewer),
			Hint:                   "only the assigned reviewer may approve",
			RecordRejectedApproval: true,
		}
	}
	return nil
}

// gateModel validates the model alias on *->doing. Missing models
// auto-default with a flag; unknown aliases fail.
func gateModel(in GateInput, ev Evidence, dec *Decision) *GateError {
	if !enteringStatus(dec, store.TaskStatusDoing) {
		return nil
	}
	res, ok := in.Models.Resolve(ev.Model)
	if !ok {
		return &GateError{
			Gate:   GateModel,
			Status: 422,
			Msg:    fmt.Sprintf("unknown model %q", ev.Model),
			Hint:   "known models: " + strings.Join(in.Models.Aliases(), ", "),
			Fields: []string{"metadata.model"},
		}
	}
	dec.ModelResolution = &res
	return nil
}

// gateValidatingEvidence enforces the QA bundle / review handoff on
// *->validating, with PR integrity verification for code lanes.
func gateValidatingEvidence(in GateInput, ev Evidence, dec *Decision) *GateError {
	if !enteringStatus(dec, store.TaskStatusValidating) {
		return nil
	}

	if isNonCodeLane(in.Task, ev) {
		if ev.HasReviewHandoff || ev.Packet != nil {
			return nil
		}
		return &GateError{
			Gate:   GateQABundle,
			Status: 422,
			Msg:    "non-code task requires metadata.review_handoff",
			Hint:   "attach a review_handoff describing what to verify",
			Fields: []string{"metadata.review_handoff"},
		}
	}

	if ev.Packet == nil {
		return &GateError{
			Gate:   GateQABundle,
			Status: 422,
			Msg:    "metadata.qa_bundle.review_packet is required to enter validating",
			Hint:   "supply task_id, pr_url, commit, changed_files, artifact_path, caveats",
			Fields: []string{"metadata.qa_bundle.review_packet"},
		}
	}
	if err := ev.Packet.Validate(in.Task.ID); err != nil {
		return &GateError{
			Gate:   GateQABundle,
			Status: 422,
			Msg:    err.Error(),
			Fields: []string{"metadata.qa_bundle.review_packet"},
		}
	}

	return verifyPRIntegrity(in, ev, dec)
}

// verifyPRIntegrity compares the packet against live PR state and rejects
// on drift unless overridden.
func verifyPRIntegrity(in GateInput, ev Evidence, dec *Decision) *GateError {
	if in.LookupPR == nil {
		return nil
	}
	pr, err := in.LookupPR(ev.Packet.PRURL)
	if err != nil {
		return &GateError{
			Gate:   GatePRIntegrity,
			Status: 422,
			Msg:    fmt.Sprintf("PR lookup failed: %v", err),
			Hint:   "check the pr_url",
		}
	}
	if pr.State == prcheck.StateUnknown {
		// Unknown is tolerated: policy here is to admit and let the
		// execution sweeper re-verify.
		return nil
	}

	if ev.IntegrityOverride {
		dec.IntegrityOverridden = true
		dec.Warnings = append(dec.Warnings, "pr_integrity_override applied")
		return nil
	}

	if pr.HeadSHA != "" && !strings.HasPrefix(pr.HeadSHA, ev.Packet.Commit) {
		return &GateError{
			Gate:   GatePRIntegrity,
			Status: 422,
			Msg:    fmt.Sprintf("packet commit %s does not match PR head %s", ev.Packet.Commit, shortSHA(pr.HeadSHA)),
			Hint:   "refresh the review packet or set pr_integrity_override=true",
		}
	}
	if len(pr.ChangedFiles) > 0 && !filesSubset(ev.Packet.ChangedFiles, pr.ChangedFiles) {
		return &GateError{
			Gate:   GatePRIntegrity,
			Status: 422,
			Msg:    "packet changed_files drifted from the PR file list",
			Hint:   "refresh the review packet or set pr_integrity_override=true",
		}
	}
	return nil
}

// gateReviewDelta requires a delta note on validating re-entry. Only an
// explicit status write back into validating counts as re-entry; metadata
// patches on a validating task pass untouched.
func gateReviewDelta(t *store.Task, p *Patch, ev Evidence) *GateError {
	if t.Status != store.TaskStatusValidating || p.Status == nil || *p.Status != store.TaskStatusValidating {
		return nil
	}
	if strings.TrimSpace(ev.ReviewDeltaNote) == "" {
		return &GateError{
			Gate:   GateReviewDelta,
			Status: 422,
			Msg:    "re-entering validating requires a review_delta_note",
			Hint:   "describe what changed since the last review",
			Fields: []string{"metadata.review_delta_note"},
		}
	}
	return nil
}

// gateWIPCap enforces the assignee's in-flight doing cap on *->doing.
func gateWIPCap(in GateInput, ev Evidence, dec *Decision) *GateError {
	if !enteringStatus(dec, store.TaskStatusDoing) {
		return nil
	}
	assignee := effectiveAssignee(in.Task, in.Patch)
	if assignee == "" {
		return nil
	}
	cap := in.Policy.WIPCap(assignee)
	if in.DoingCount < cap {
		return nil
	}
	if ev.WIPOverride {
		if strings.TrimSpace(ev.WIPOverrideReason) == "" {
			return &GateError{
				Gate:   GateWIPCap,
				Status: 422,
				Msg:    "wip_override requires a reason",
				Fields: []string{"metadata.wip_override_reason"},
			}
		}
		dec.WIPOverridden = true
		dec.Warnings = append(dec.Warnings, fmt.Sprintf("WIP cap %d overridden: %s", cap, ev.WIPOverrideReason))
		return nil
	}
	return &GateError{
		Gate:   GateWIPCap,
		Status: 422,
		Msg:    fmt.Sprintf("%s already has %d doing task(s), cap is %d", assignee, in.DoingCount, cap),
		Hint:   "finish or block in-flight work, or set wip_override with a reason",
	}
}

// gateReflectionDebt blocks new doing work for agents owing a reflection.
func gateReflectionDebt(in GateInput, dec *Decision) *GateError {
	if !enteringStatus(dec, store.TaskStatusDoing) {
		return nil
	}
	if !in.OwesReflection {
		return nil
	}
	assignee := effectiveAssignee(in.Task, in.Patch)
	return &GateError{
		Gate:   GateReflectionDebt,
		Status: 422,
		Msg:    fmt.Sprintf("%s owes a reflection before starting new work", assignee),
		Hint:   "POST /reflections first",
	}
}

// gateClose enforces the close gate on *->done: artifacts, merged PR for
// code lanes, reviewer approval, follow-on linkage for spec lanes.
func gateClose(in GateInput, ev Evidence, dec *Decision) *GateError {
	if !enteringStatus(dec, store.TaskStatusDone) {
		return nil
	}

	if len(ev.Artifacts) == 0 {
		return &GateError{
			Gate:   GateArtifacts,
			Status: 422,
			Msg:    "closing requires a non-empty artifacts list",
			Hint:   "set metadata.artifacts with PR links or verification notes",
			Fields: []string{"metadata.artifacts"},
		}
	}

	if !isNonCodeLane(in.Task, ev) {
		prURL := firstPRURL(ev.Artifacts)
		if prURL == "" {
			prURL = stringVal(in.Merged[MetaPRURL])
		}
		if prURL == "" || !prcheck.ValidURL(prURL) {
			return &GateError{
				Gate:   GateArtifacts,
				Status: 422,
				Msg:    "code-lane close requires a PR URL in artifacts",
				Fields: []string{"metadata.artifacts"},
			}
		}
		if in.LookupPR != nil {
			pr, err := in.LookupPR(prURL)
			if err != nil {
				return &GateError{Gate: GatePRNotMerged, Status: 422, Msg: fmt.Sprintf("PR lookup failed: %v", err)}
			}
			switch pr.State {
			case prcheck.StateMerged, prcheck.StateUnknown:
				// merged closes; unknown is tolerated by policy
			case prcheck.StateClosed:
				return &GateError{
					Gate:      GatePRNotMerged,
					Status:    422,
					Msg:       "PR was closed without merging; task auto-blocked",
					Hint:      "reopen or replace the PR, then unblock",
					AutoBlock: true,
				}
			default:
				return &GateError{
					Gate:   GatePRNotMerged,
					Status: 422,
					Msg:    "PR is not merged yet",
					Hint:   "merge the PR, then retry",
				}
			}
		}
	}

	if in.Task.Reviewer != "" {
		approved := boolVal(in.Merged[MetaReviewerApproved])
		if !approved {
			return &GateError{
				Gate:   GateReviewerApproval,
				Status: 422,
				Msg:    fmt.Sprintf("reviewer %s has not approved", in.Task.Reviewer),
				Hint:   "reviewer must POST /tasks/:id/review with decision=approve",
			}
		}
	}

	if followOnLanes[ev.Lane] {
		switch {
		case ev.FollowOnTaskID != "":
			if in.TaskExists != nil && !in.TaskExists(ev.FollowOnTaskID) {
				return &GateError{
					Gate:   GateFollowOn,
					Status: 422,
					Msg:    fmt.Sprintf("follow_on_task_id %q does not resolve", ev.FollowOnTaskID),
					Fields: []string{"metadata.follow_on_task_id"},
				}
			}
		case ev.FollowOnNA:
			if strings.TrimSpace(ev.FollowOnNAReason) == "" {
				return &GateError{
					Gate:   GateFollowOn,
					Status: 422,
					Msg:    "follow_on_na requires a non-empty reason",
					Fields: []string{"metadata.follow_on_na_reason"},
				}
			}
		default:
			return &GateError{
				Gate:   GateFollowOn,
				Status: 422,
				Msg:    "spec/design/research tasks must link a follow-on task or set follow_on_na",
				Hint:   "set metadata.follow_on_task_id or follow_on_na=true with a reason",
			}
		}
	}

	return nil
}

// applyDoingEffects computes branch stamping and the focus window for
// admitted *->doing transitions.
func applyDoingEffects(in GateInput, dec *Decision) {
	if !enteringStatus(dec, store.TaskStatusDoing) {
		return
	}
	dec.OpenFocusWindow = true
	if stringVal(in.Merged[MetaBranch]) == "" {
		assignee := effectiveAssignee(in.Task, in.Patch)
		if assignee != "" {
			dec.StampBranch = fmt.Sprintf("%s/task-%s", assignee, in.Task.ShortID())
		}
	}
	if in.DoingCount > 0 {
		dec.Warnings = append(dec.Warnings,
			fmt.Sprintf("%s already has %d other doing task(s)", effectiveAssignee(in.Task, in.Patch), in.DoingCount))
	}
}

func enteringStatus(dec *Decision, status store.TaskStatus) bool {
	return dec.Transition && dec.To == status
}

func effectiveAssignee(t *store.Task, p *Patch) string {
	if p.Assignee != nil {
		return *p.Assignee
	}
	return t.Assignee
}

func isNonCodeLane(t *store.Task, ev Evidence) bool {
	if ev.NonCode {
		return true
	}
	if nonCodeLanes[ev.Lane] {
		return true
	}
	return t.Type == store.TaskTypeDocs || t.Type == store.TaskTypeProcess
}

func firstPRURL(artifacts []string) string {
	for _, a := range artifacts {
		if prcheck.ValidURL(a) {
			return a
		}
	}
	return ""
}

func filesSubset(packet, pr []string) bool {
	prSet := make(map[string]bool, len(pr))
	for _, f := range pr {
		prSet[f] = true
	}
	for _, f := range packet {
		if !prSet[f] {
			return false
		}
	}
	return true
}

func shortSHA(sha string) string {
	if len(sha) > 10 {
		return sha[:10]
	}
	return sha
}
