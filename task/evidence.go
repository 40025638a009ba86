// Package task implements the task lifecycle engine: the single entry point
// for task mutation. Patches pass an ordered gate chain; accepted patches
// apply a metadata merge, stamp auto-defaults, feed the audit ledger and
// emit lifecycle events.
package task

import (
	"fmt"
	"strings"

	"github.com/c360studio/steward/prcheck"
)

// Metadata keys carrying lifecycle evidence. The wire format is a free-form
// map; these are parsed into typed evidence at ingress and never re-parsed
// mid-gate.
const (
	MetaQABundle           = "qa_bundle"
	MetaReviewHandoff      = "review_handoff"
	MetaReviewState        = "review_state"
	MetaReviewerApproved   = "reviewer_approved"
	MetaReviewerNotes      = "reviewer_notes"
	MetaArtifacts          = "artifacts"
	MetaPRURL              = "pr_url"
	MetaCommitSHA          = "commit_sha"
	MetaPRIntegrity        = "pr_integrity"
	MetaFollowOnTaskID     = "follow_on_task_id"
	MetaFollowOnNA         = "follow_on_na"
	MetaFollowOnNAReason   = "follow_on_na_reason"
	MetaReopen             = "reopen"
	MetaReopenReason       = "reopen_reason"
	MetaReopenedAt         = "reopened_at"
	MetaReopenedFrom       = "reopened_from"
	MetaWIPOverride        = "wip_override"
	MetaWIPOverrideReason  = "wip_override_reason"
	MetaModel              = "model"
	MetaModelEffective     = "model_effective"
	MetaModelDefaulted     = "model_defaulted"
	MetaBranch             = "branch"
	MetaLane               = "lane"
	MetaNonCode            = "non_code"
	MetaConfigOnly         = "config_only"
	MetaReviewDeltaNote    = "review_delta_note"
	MetaIntegrityOverride  = "pr_integrity_override"
	MetaEnteredValidating  = "entered_validating_at"
	MetaReviewLastActivity = "review_last_activity_at"
	MetaSourceReflection   = "source_reflection"
	MetaSourceInsight      = "source_insight"
	MetaInsightID          = "insight_id"
	MetaReconciled         = "reconciled"
	MetaRoutingApproval    = "routing_approval"
	MetaIsTest             = "is_test"
	MetaETA                = "eta"
	MetaAutoBlockReason    = "auto_block_reason"
	MetaOutcome            = "outcome"
	MetaOutcomeNotes       = "outcome_notes"
)

// Review states, in progression order.
const (
	ReviewStateQueued      = "queued"
	ReviewStateInProgress  = "in_progress"
	ReviewStateApproved    = "approved"
	ReviewStateNeedsAuthor = "needs_author"
)

// ReviewPacket is the structured evidence bundle required to move a
// code-lane task to validating.
type ReviewPacket struct {
	TaskID       string   `json:"task_id"`
	PRURL        string   `json:"pr_url"`
	Commit       string   `json:"commit"`
	ChangedFiles []string `json:"changed_files"`
	ArtifactPath string   `json:"artifact_path"`
	Caveats      string   `json:"caveats"`
}

// Validate checks the packet against the task it accompanies.
func (p *ReviewPacket) Validate(taskID string) error {
	var missing []string
	if p.TaskID == "" {
		missing = append(missing, "task_id")
	} else if p.TaskID != taskID {
		return fmt.Errorf("review_packet.task_id %q does not match task %q", p.TaskID, taskID)
	}
	if p.PRURL == "" {
		missing = append(missing, "pr_url")
	} else if !prcheck.ValidURL(p.PRURL) {
		return fmt.Errorf("review_packet.pr_url is not a GitHub pull request URL")
	}
	if p.Commit == "" {
		missing = append(missing, "commit")
	} else if !prcheck.ValidCommit(p.Commit) {
		return fmt.Errorf("review_packet.commit must be at least 7 hex characters")
	}
	if len(p.ChangedFiles) == 0 {
		missing = append(missing, "changed_files")
	}
	if p.ArtifactPath == "" {
		missing = append(missing, "artifact_path")
	} else if !strings.HasPrefix(p.ArtifactPath, "process/") {
		return fmt.Errorf("review_packet.artifact_path must start with process/")
	} else if strings.Contains(p.ArtifactPath, "..") {
		return fmt.Errorf("review_packet.artifact_path must not contain path traversal")
	}
	if strings.TrimSpace(p.Caveats) == "" {
		missing = append(missing, "caveats")
	}
	if len(missing) > 0 {
		return fmt.Errorf("review_packet missing fields: %s", strings.Join(missing, ", "))
	}
	return nil
}

// Evidence is the typed view of a metadata map, parsed once at ingress.
type Evidence struct {
	// Packet is the qa_bundle.review_packet, when present.
	Packet *ReviewPacket
	// HasReviewHandoff is true when review_handoff is present and non-empty.
	HasReviewHandoff bool
	// Reopen is true when the patch explicitly requests a reopen.
	Reopen bool
	// ReopenReason accompanies Reopen.
	ReopenReason string
	// ReviewerApproved is non-nil when the patch touches reviewer_approved.
	ReviewerApproved *bool
	// WIPOverride requests bypassing the WIP cap.
	WIPOverride bool
	// WIPOverrideReason accompanies WIPOverride.
	WIPOverrideReason string
	// IntegrityOverride bypasses PR drift checks (audited).
	IntegrityOverride bool
	// ReviewDeltaNote accompanies a validating re-entry.
	ReviewDeltaNote string
	// Model is the requested model alias, "" when absent.
	Model string
	// ModelSet distinguishes an absent model key from an empty one.
	ModelSet bool
	// Artifacts is the artifacts list, when present.
	Artifacts []string
	// FollowOnTaskID links a successor task.
	FollowOnTaskID string
	// FollowOnNA marks follow-on as not applicable.
	FollowOnNA bool
	// FollowOnNAReason accompanies FollowOnNA.
	FollowOnNAReason string
	// NonCode marks the task as a non-code lane.
	NonCode bool
	// Lane is the explicit lane hint, lowercased.
	Lane string
}

// ParseEvidence extracts typed evidence from a metadata map. The map is the
// merged view (current task metadata overlaid with the patch) so gates see
// the state the task would have after the patch.
func ParseEvidence(meta map[string]any) Evidence {
	var ev Evidence
	if meta == nil {
		return ev
	}

	if bundle, ok := meta[MetaQABundle].(map[string]any); ok {
		if packet, ok := bundle["review_packet"].(map[string]any); ok {
			ev.Packet = parseReviewPacket(packet)
		}
	}

	switch h := meta[MetaReviewHandoff].(type) {
	case string:
		ev.HasReviewHandoff = strings.TrimSpace(h) != ""
	case map[string]any:
		ev.HasReviewHandoff = len(h) > 0
	}

	ev.Reopen = boolVal(meta[MetaReopen])
	ev.ReopenReason = stringVal(meta[MetaReopenReason])
	if v, ok := meta[MetaReviewerApproved]; ok {
		b := boolVal(v)
		ev.ReviewerApproved = &b
	}
	ev.WIPOverride = boolVal(meta[MetaWIPOverride])
	ev.WIPOverrideReason = stringVal(meta[MetaWIPOverrideReason])
	ev.IntegrityOverride = boolVal(meta[MetaIntegrityOverride])
	ev.ReviewDeltaNote = stringVal(meta[MetaReviewDeltaNote])
	if v, ok := meta[MetaModel]; ok {
		ev.Model = stringVal(v)
		ev.ModelSet = true
	}
	ev.Artifacts = stringSlice(meta[MetaArtifacts])
	ev.FollowOnTaskID = stringVal(meta[MetaFollowOnTaskID])
	ev.FollowOnNA = boolVal(meta[MetaFollowOnNA])
	ev.FollowOnNAReason = stringVal(meta[MetaFollowOnNAReason])
	ev.NonCode = boolVal(meta[MetaNonCode]) || boolVal(meta[MetaConfigOnly])
	ev.Lane = strings.ToLower(stringVal(meta[MetaLane]))

	return ev
}

func parseReviewPacket(m map[string]any) *ReviewPacket {
	return &ReviewPacket{
		TaskID:       stringVal(m["task_id"]),
		PRURL:        stringVal(m["pr_url"]),
		Commit:       stringVal(m["commit"]),
		ChangedFiles: stringSlice(m["changed_files"]),
		ArtifactPath: stringVal(m["artifact_path"]),
		Caveats:      stringVal(m["caveats"]),
	}
}

func stringVal(v any) string {
	s, _ := v.(string)
	return s
}

func boolVal(v any) bool {
	switch b := v.(type) {
	case bool:
		return b
	case string:
		return b == "true"
	}
	return false
}

func stringSlice(v any) []string {
	switch vs := v.(type) {
	case []string:
		return vs
	case []any:
		out := make([]string, 0, len(vs))
		for _, item := range vs {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// nonCodeLanes are lane hints that satisfy the validating gate with a
// review_handoff alone.
var nonCodeLanes = map[string]bool{
	"design":   true,
	"docs":     true,
	"research": true,
	"process":  true,
	"spec":     true,
}

// followOnLanes are lanes whose done gate requires a follow-on linkage.
var followOnLanes = map[string]bool{
	"spec":     true,
	"design":   true,
	"research": true,
}
