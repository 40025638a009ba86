package task

import (
	"strings"
	"testing"
	"time"

	"github.com/c360studio/steward/config"
	"github.com/c360studio/steward/model"
	"github.com/c360studio/steward/prcheck"
	"github.com/c360studio/steward/store"
)

func testPolicy() config.PolicyConfig {
	return config.DefaultPolicy()
}

func testModels() *model.Registry {
	return model.NewRegistry(map[string]string{
		"claude-sonnet": "claude-sonnet-4-20250514",
		"claude-opus":   "claude-opus-4-5-20251101",
	}, "claude-sonnet")
}

func statusPtr(s store.TaskStatus) *store.TaskStatus { return &s }

func baseTask(status store.TaskStatus) *store.Task {
	return &store.Task{
		ID:       "11111111-2222-3333-4444-555555555555",
		Title:    "wire retry metrics",
		Type:     store.TaskTypeFeature,
		Status:   status,
		Priority: store.PriorityP2,
		Assignee: "worker-a",
		Reviewer: "reviewer-b",
	}
}

func gateInput(t *store.Task, p *Patch) GateInput {
	merged := mergeMetadata(t.Metadata, p.Metadata)
	return GateInput{
		Task:   t,
		Patch:  p,
		Merged: merged,
		Now:    time.Now().UTC(),
		Policy: testPolicy(),
		Models: testModels(),
	}
}

func validPacket(taskID string) map[string]any {
	return map[string]any{
		"review_packet": map[string]any{
			"task_id":       taskID,
			"pr_url":        "https://github.com/acme/widgets/pull/42",
			"commit":        "abc1234def",
			"changed_files": []any{"internal/retry/retry.go"},
			"artifact_path": "process/qa/42.md",
			"caveats":       "metrics cardinality unverified under load",
		},
	}
}

func TestTransitionGate(t *testing.T) {
	tests := []struct {
		name     string
		from, to store.TaskStatus
		meta     map[string]any
		wantGate string
	}{
		{name: "todo to doing allowed", from: store.TaskStatusTodo, to: store.TaskStatusDoing},
		{name: "todo to done rejected", from: store.TaskStatusTodo, to: store.TaskStatusDone, wantGate: GateTransition},
		{name: "doing to blocked allowed", from: store.TaskStatusDoing, to: store.TaskStatusBlocked},
		{name: "blocked to validating rejected", from: store.TaskStatusBlocked, to: store.TaskStatusValidating, wantGate: GateTransition},
		{name: "done is terminal", from: store.TaskStatusDone, to: store.TaskStatusDoing, wantGate: GateTransition},
		{
			name: "reopen without reason rejected",
			from: store.TaskStatusDone, to: store.TaskStatusTodo,
			meta:     map[string]any{MetaReopen: true},
			wantGate: GateTransition,
		},
		{
			name: "reopen with reason allowed",
			from: store.TaskStatusDone, to: store.TaskStatusTodo,
			meta: map[string]any{MetaReopen: true, MetaReopenReason: "regression found in prod"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			task := baseTask(tt.from)
			p := &Patch{Status: statusPtr(tt.to), Metadata: tt.meta, Actor: "worker-a"}
			in := gateInput(task, p)
			// Keep the scenario on the transition gate alone.
			if tt.to == store.TaskStatusDoing {
				in.Task.Assignee = "worker-a"
			}

			dec, gerr := EvaluateGates(in)
			if tt.wantGate == "" {
				if gerr != nil {
					t.Fatalf("unexpected gate failure: %v", gerr)
				}
				if !dec.Transition {
					t.Fatal("expected a transition decision")
				}
				return
			}
			if gerr == nil {
				t.Fatal("expected gate failure")
			}
			if gerr.Gate != tt.wantGate {
				t.Errorf("gate = %q, want %q", gerr.Gate, tt.wantGate)
			}
			if gerr.Status != 422 && gerr.Status != 400 {
				t.Errorf("status = %d, want 4xx", gerr.Status)
			}
		})
	}
}

func TestReviewerIdentityGate(t *testing.T) {
	task := baseTask(store.TaskStatusValidating)

	t.Run("non-reviewer approval rejected with 403", func(t *testing.T) {
		p := &Patch{Metadata: map[string]any{MetaReviewerApproved: true}, Actor: "worker-a"}
		_, gerr := EvaluateGates(gateInput(task, p))
		if gerr == nil {
			t.Fatal("expected rejection")
		}
		if gerr.Gate != GateReviewerIdentity || gerr.Status != 403 {
			t.Errorf("got gate=%q status=%d", gerr.Gate, gerr.Status)
		}
		if !gerr.RecordRejectedApproval {
			t.Error("expected RecordRejectedApproval side effect")
		}
	})

	t.Run("reviewer approval passes identity gate", func(t *testing.T) {
		p := &Patch{Metadata: map[string]any{MetaReviewerApproved: true}, Actor: "Reviewer-B"}
		_, gerr := EvaluateGates(gateInput(task, p))
		if gerr != nil {
			t.Fatalf("unexpected failure: %v", gerr)
		}
	})

	t.Run("revoking approval is not identity-gated", func(t *testing.T) {
		p := &Patch{Metadata: map[string]any{MetaReviewerApproved: false}, Actor: "worker-a"}
		_, gerr := EvaluateGates(gateInput(task, p))
		if gerr != nil {
			t.Fatalf("unexpected failure: %v", gerr)
		}
	})
}

func TestModelGate(t *testing.T) {
	t.Run("missing model defaults", func(t *testing.T) {
		task := baseTask(store.TaskStatusTodo)
		p := &Patch{Status: statusPtr(store.TaskStatusDoing), Actor: "worker-a"}
		dec, gerr := EvaluateGates(gateInput(task, p))
		if gerr != nil {
			t.Fatalf("unexpected failure: %v", gerr)
		}
		if dec.ModelResolution == nil || !dec.ModelResolution.Defaulted {
			t.Fatal("expected a defaulted model resolution")
		}
		if dec.ModelResolution.Effective != "claude-sonnet-4-20250514" {
			t.Errorf("effective = %q", dec.ModelResolution.Effective)
		}
	})

	t.Run("unknown model rejected", func(t *testing.T) {
		task := baseTask(store.TaskStatusTodo)
		p := &Patch{
			Status:   statusPtr(store.TaskStatusDoing),
			Metadata: map[string]any{MetaModel: "gpt-9"},
			Actor:    "worker-a",
		}
		_, gerr := EvaluateGates(gateInput(task, p))
		if gerr == nil || gerr.Gate != GateModel {
			t.Fatalf("expected model gate failure, got %v", gerr)
		}
		if !strings.Contains(gerr.Hint, "claude-sonnet") {
			t.Errorf("hint should list known models, got %q", gerr.Hint)
		}
	})
}

func TestValidatingEvidenceGate(t *testing.T) {
	t.Run("missing qa bundle rejected", func(t *testing.T) {
		task := baseTask(store.TaskStatusDoing)
		p := &Patch{Status: statusPtr(store.TaskStatusValidating), Actor: "worker-a"}
		_, gerr := EvaluateGates(gateInput(task, p))
		if gerr == nil || gerr.Gate != GateQABundle {
			t.Fatalf("expected qa_bundle failure, got %v", gerr)
		}
	})

	t.Run("valid packet admits", func(t *testing.T) {
		task := baseTask(store.TaskStatusDoing)
		p := &Patch{
			Status:   statusPtr(store.TaskStatusValidating),
			Metadata: map[string]any{MetaQABundle: validPacket(task.ID)},
			Actor:    "worker-a",
		}
		_, gerr := EvaluateGates(gateInput(task, p))
		if gerr != nil {
			t.Fatalf("unexpected failure: %v", gerr)
		}
	})

	t.Run("packet task_id mismatch rejected", func(t *testing.T) {
		task := baseTask(store.TaskStatusDoing)
		packet := validPacket("some-other-task")
		p := &Patch{
			Status:   statusPtr(store.TaskStatusValidating),
			Metadata: map[string]any{MetaQABundle: packet},
			Actor:    "worker-a",
		}
		_, gerr := EvaluateGates(gateInput(task, p))
		if gerr == nil || gerr.Gate != GateQABundle {
			t.Fatalf("expected qa_bundle failure, got %v", gerr)
		}
	})

	t.Run("non-code lane accepts a review handoff", func(t *testing.T) {
		task := baseTask(store.TaskStatusDoing)
		p := &Patch{
			Status: statusPtr(store.TaskStatusValidating),
			Metadata: map[string]any{
				MetaLane:          "docs",
				MetaReviewHandoff: "verify the runbook steps against staging",
			},
			Actor: "worker-a",
		}
		_, gerr := EvaluateGates(gateInput(task, p))
		if gerr != nil {
			t.Fatalf("unexpected failure: %v", gerr)
		}
	})

	t.Run("non-code lane without handoff rejected", func(t *testing.T) {
		task := baseTask(store.TaskStatusDoing)
		p := &Patch{
			Status:   statusPtr(store.TaskStatusValidating),
			Metadata: map[string]any{MetaLane: "docs"},
			Actor:    "worker-a",
		}
		_, gerr := EvaluateGates(gateInput(task, p))
		if gerr == nil || gerr.Gate != GateQABundle {
			t.Fatalf("expected handoff failure, got %v", gerr)
		}
	})
}

func TestPRIntegrityGate(t *testing.T) {
	const prURL = "https://github.com/acme/widgets/pull/42"
	task := baseTask(store.TaskStatusDoing)

	makeInput := func(pr *prcheck.PR, extra map[string]any) GateInput {
		stub := prcheck.NewStub()
		if pr != nil {
			stub.Set(prURL, pr)
		}
		meta := map[string]any{MetaQABundle: validPacket(task.ID)}
		for k, v := range extra {
			meta[k] = v
		}
		p := &Patch{Status: statusPtr(store.TaskStatusValidating), Metadata: meta, Actor: "worker-a"}
		in := gateInput(task, p)
		in.LookupPR = func(url string) (*prcheck.PR, error) {
			return stub.Lookup(nil, url)
		}
		return in
	}

	t.Run("matching head admits", func(t *testing.T) {
		_, gerr := EvaluateGates(makeInput(&prcheck.PR{
			State:        prcheck.StateOpen,
			HeadSHA:      "abc1234def5678901234567890123456789012ab",
			ChangedFiles: []string{"internal/retry/retry.go"},
		}, nil))
		if gerr != nil {
			t.Fatalf("unexpected failure: %v", gerr)
		}
	})

	t.Run("drifted head rejected", func(t *testing.T) {
		_, gerr := EvaluateGates(makeInput(&prcheck.PR{
			State:   prcheck.StateOpen,
			HeadSHA: "ffff00001111222233334444555566667777ffff",
		}, nil))
		if gerr == nil || gerr.Gate != GatePRIntegrity {
			t.Fatalf("expected pr_integrity failure, got %v", gerr)
		}
	})

	t.Run("file drift rejected", func(t *testing.T) {
		_, gerr := EvaluateGates(makeInput(&prcheck.PR{
			State:        prcheck.StateOpen,
			HeadSHA:      "abc1234def",
			ChangedFiles: []string{"cmd/main.go"},
		}, nil))
		if gerr == nil || gerr.Gate != GatePRIntegrity {
			t.Fatalf("expected pr_integrity failure, got %v", gerr)
		}
	})

	t.Run("override bypasses drift", func(t *testing.T) {
		dec, gerr := EvaluateGates(makeInput(&prcheck.PR{
			State:   prcheck.StateOpen,
			HeadSHA: "ffff00001111222233334444555566667777ffff",
		}, map[string]any{MetaIntegrityOverride: true}))
		if gerr != nil {
			t.Fatalf("unexpected failure: %v", gerr)
		}
		if !dec.IntegrityOverridden {
			t.Error("expected IntegrityOverridden")
		}
	})

	t.Run("unknown state admits", func(t *testing.T) {
		_, gerr := EvaluateGates(makeInput(nil, nil))
		if gerr != nil {
			t.Fatalf("unexpected failure: %v", gerr)
		}
	})
}

func TestReviewDeltaGate(t *testing.T) {
	task := baseTask(store.TaskStatusValidating)

	t.Run("re-entry without delta note rejected", func(t *testing.T) {
		p := &Patch{Status: statusPtr(store.TaskStatusValidating), Actor: "worker-a"}
		_, gerr := EvaluateGates(gateInput(task, p))
		if gerr == nil || gerr.Gate != GateReviewDelta {
			t.Fatalf("expected review_delta failure, got %v", gerr)
		}
	})

	t.Run("re-entry with delta note admits", func(t *testing.T) {
		p := &Patch{
			Status:   statusPtr(store.TaskStatusValidating),
			Metadata: map[string]any{MetaReviewDeltaNote: "addressed nil check feedback"},
			Actor:    "worker-a",
		}
		_, gerr := EvaluateGates(gateInput(task, p))
		if gerr != nil {
			t.Fatalf("unexpected failure: %v", gerr)
		}
	})

	t.Run("metadata-only patch needs no delta note", func(t *testing.T) {
		p := &Patch{Metadata: map[string]any{"note": "x"}, Actor: "worker-a"}
		_, gerr := EvaluateGates(gateInput(task, p))
		if gerr != nil {
			t.Fatalf("unexpected failure: %v", gerr)
		}
	})
}

func TestWIPCapGate(t *testing.T) {
	t.Run("at cap rejected", func(t *testing.T) {
		task := baseTask(store.TaskStatusTodo)
		p := &Patch{Status: statusPtr(store.TaskStatusDoing), Actor: "worker-a"}
		in := gateInput(task, p)
		in.DoingCount = in.Policy.WIPCap("worker-a")
		_, gerr := EvaluateGates(in)
		if gerr == nil || gerr.Gate != GateWIPCap {
			t.Fatalf("expected wip_cap failure, got %v", gerr)
		}
	})

	t.Run("override with reason admits", func(t *testing.T) {
		task := baseTask(store.TaskStatusTodo)
		p := &Patch{
			Status: statusPtr(store.TaskStatusDoing),
			Metadata: map[string]any{
				MetaWIPOverride:       true,
				MetaWIPOverrideReason: "P0 incident takes precedence",
			},
			Actor: "worker-a",
		}
		in := gateInput(task, p)
		in.DoingCount = in.Policy.WIPCap("worker-a")
		dec, gerr := EvaluateGates(in)
		if gerr != nil {
			t.Fatalf("unexpected failure: %v", gerr)
		}
		if !dec.WIPOverridden {
			t.Error("expected WIPOverridden")
		}
	})

	t.Run("override without reason rejected", func(t *testing.T) {
		task := baseTask(store.TaskStatusTodo)
		p := &Patch{
			Status:   statusPtr(store.TaskStatusDoing),
			Metadata: map[string]any{MetaWIPOverride: true},
			Actor:    "worker-a",
		}
		in := gateInput(task, p)
		in.DoingCount = in.Policy.WIPCap("worker-a")
		_, gerr := EvaluateGates(in)
		if gerr == nil || gerr.Gate != GateWIPCap {
			t.Fatalf("expected wip_cap failure, got %v", gerr)
		}
	})
}

func TestReflectionDebtGate(t *testing.T) {
	task := baseTask(store.TaskStatusTodo)
	p := &Patch{Status: statusPtr(store.TaskStatusDoing), Actor: "worker-a"}
	in := gateInput(task, p)
	in.OwesReflection = true
	_, gerr := EvaluateGates(in)
	if gerr == nil || gerr.Gate != GateReflectionDebt {
		t.Fatalf("expected reflection_debt failure, got %v", gerr)
	}
}

func TestCloseGate(t *testing.T) {
	const prURL = "https://github.com/acme/widgets/pull/42"

	closing := func(meta map[string]any, pr *prcheck.PR) (*Decision, *GateError) {
		task := baseTask(store.TaskStatusValidating)
		p := &Patch{Status: statusPtr(store.TaskStatusDone), Metadata: meta, Actor: "reviewer-b"}
		in := gateInput(task, p)
		stub := prcheck.NewStub()
		if pr != nil {
			stub.Set(prURL, pr)
		}
		in.LookupPR = func(url string) (*prcheck.PR, error) { return stub.Lookup(nil, url) }
		return EvaluateGates(in)
	}

	approvedMeta := func(extra map[string]any) map[string]any {
		meta := map[string]any{
			MetaReviewerApproved: true,
			MetaArtifacts:        []any{prURL},
		}
		for k, v := range extra {
			meta[k] = v
		}
		return meta
	}

	t.Run("no artifacts rejected", func(t *testing.T) {
		_, gerr := closing(map[string]any{MetaReviewerApproved: true}, nil)
		if gerr == nil || gerr.Gate != GateArtifacts {
			t.Fatalf("expected artifacts failure, got %v", gerr)
		}
	})

	t.Run("merged PR with approval closes", func(t *testing.T) {
		_, gerr := closing(approvedMeta(nil), &prcheck.PR{State: prcheck.StateMerged})
		if gerr != nil {
			t.Fatalf("unexpected failure: %v", gerr)
		}
	})

	t.Run("open PR rejected", func(t *testing.T) {
		_, gerr := closing(approvedMeta(nil), &prcheck.PR{State: prcheck.StateOpen})
		if gerr == nil || gerr.Gate != GatePRNotMerged {
			t.Fatalf("expected pr_not_merged failure, got %v", gerr)
		}
		if gerr.AutoBlock {
			t.Error("open PR must not auto-block")
		}
	})

	t.Run("closed unmerged PR auto-blocks", func(t *testing.T) {
		_, gerr := closing(approvedMeta(nil), &prcheck.PR{State: prcheck.StateClosed})
		if gerr == nil || gerr.Gate != GatePRNotMerged {
			t.Fatalf("expected pr_not_merged failure, got %v", gerr)
		}
		if !gerr.AutoBlock {
			t.Error("closed unmerged PR must auto-block")
		}
	})

	t.Run("missing approval rejected", func(t *testing.T) {
		_, gerr := closing(map[string]any{MetaArtifacts: []any{prURL}}, &prcheck.PR{State: prcheck.StateMerged})
		if gerr == nil || gerr.Gate != GateReviewerApproval {
			t.Fatalf("expected reviewer_approval failure, got %v", gerr)
		}
	})

	t.Run("spec lane requires follow-on linkage", func(t *testing.T) {
		_, gerr := closing(approvedMeta(map[string]any{
			MetaLane:          "spec",
			MetaReviewHandoff: "spec reviewed",
			MetaArtifacts:     []any{"process/spec/output.md"},
		}), nil)
		if gerr == nil || gerr.Gate != GateFollowOn {
			t.Fatalf("expected follow_on failure, got %v", gerr)
		}
	})

	t.Run("spec lane closes with follow_on_na reason", func(t *testing.T) {
		_, gerr := closing(approvedMeta(map[string]any{
			MetaLane:             "spec",
			MetaReviewHandoff:    "spec reviewed",
			MetaArtifacts:        []any{"process/spec/output.md"},
			MetaFollowOnNA:       true,
			MetaFollowOnNAReason: "exploratory spike, no implementation planned",
		}), nil)
		if gerr != nil {
			t.Fatalf("unexpected failure: %v", gerr)
		}
	})
}

func TestDoingEffects(t *testing.T) {
	t.Run("branch stamped from assignee and short id", func(t *testing.T) {
		task := baseTask(store.TaskStatusTodo)
		p := &Patch{Status: statusPtr(store.TaskStatusDoing), Actor: "worker-a"}
		dec, gerr := EvaluateGates(gateInput(task, p))
		if gerr != nil {
			t.Fatalf("unexpected failure: %v", gerr)
		}
		want := "worker-a/task-11111111"
		if dec.StampBranch != want {
			t.Errorf("branch = %q, want %q", dec.StampBranch, want)
		}
		if !dec.OpenFocusWindow {
			t.Error("expected focus window")
		}
	})

	t.Run("existing branch not overwritten", func(t *testing.T) {
		task := baseTask(store.TaskStatusTodo)
		task.Metadata = map[string]any{MetaBranch: "worker-a/custom"}
		p := &Patch{Status: statusPtr(store.TaskStatusDoing), Actor: "worker-a"}
		dec, gerr := EvaluateGates(gateInput(task, p))
		if gerr != nil {
			t.Fatalf("unexpected failure: %v", gerr)
		}
		if dec.StampBranch != "" {
			t.Errorf("branch should not be restamped, got %q", dec.StampBranch)
		}
	})

	t.Run("second doing task warns", func(t *testing.T) {
		task := baseTask(store.TaskStatusTodo)
		p := &Patch{
			Status: statusPtr(store.TaskStatusDoing),
			Metadata: map[string]any{
				MetaWIPOverride:       true,
				MetaWIPOverrideReason: "urgent parallel fix",
			},
			Actor: "worker-a",
		}
		in := gateInput(task, p)
		in.DoingCount = 1
		dec, gerr := EvaluateGates(in)
		if gerr != nil {
			t.Fatalf("unexpected failure: %v", gerr)
		}
		if len(dec.Warnings) == 0 {
			t.Error("expected a warning about parallel doing work")
		}
	})
}
