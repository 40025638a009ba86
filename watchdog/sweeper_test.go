package watchdog

import (
	"strings"
	"testing"
	"time"

	"github.com/c360studio/steward/prcheck"
	"github.com/c360studio/steward/store"
	"github.com/c360studio/steward/task"
)

func TestDescribeDrift(t *testing.T) {
	packet := &task.ReviewPacket{
		Commit:       "abc1234",
		ChangedFiles: []string{"internal/a.go", "internal/b.go"},
	}

	tests := []struct {
		name string
		pr   *prcheck.PR
		want string
	}{
		{
			name: "unknown state never drifts",
			pr:   &prcheck.PR{State: prcheck.StateUnknown, HeadSHA: "ffff9999"},
			want: "",
		},
		{
			name: "closed without merge",
			pr:   &prcheck.PR{State: prcheck.StateClosed},
			want: "closed without merging",
		},
		{
			name: "head matches abbreviated commit",
			pr: &prcheck.PR{
				State:        prcheck.StateOpen,
				HeadSHA:      "abc1234def5678901234",
				ChangedFiles: []string{"internal/a.go"},
			},
			want: "",
		},
		{
			name: "head moved",
			pr:   &prcheck.PR{State: prcheck.StateOpen, HeadSHA: "fff000111"},
			want: "head moved",
		},
		{
			name: "new file outside the packet",
			pr: &prcheck.PR{
				State:        prcheck.StateOpen,
				HeadSHA:      "abc1234",
				ChangedFiles: []string{"internal/a.go", "internal/c.go"},
			},
			want: "never covered",
		},
		{
			name: "subset of reviewed files is fine",
			pr: &prcheck.PR{
				State:        prcheck.StateOpen,
				HeadSHA:      "abc1234",
				ChangedFiles: []string{"internal/b.go"},
			},
			want: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := describeDrift(packet, tt.pr)
			if tt.want == "" {
				if got != "" {
					t.Errorf("describeDrift() = %q, want no drift", got)
				}
				return
			}
			if !strings.Contains(got, tt.want) {
				t.Errorf("describeDrift() = %q, want substring %q", got, tt.want)
			}
		})
	}
}

func TestShaMatches(t *testing.T) {
	if !shaMatches("abc1234def", "abc1234") {
		t.Error("abbreviated packet commit should match full head")
	}
	if !shaMatches("abc1234", "abc1234def") {
		t.Error("abbreviated head should match full packet commit")
	}
	if shaMatches("", "abc1234") {
		t.Error("empty sha should never match")
	}
	if shaMatches("abc1234", "def5678") {
		t.Error("different shas should not match")
	}
}

func TestMergeEvidence(t *testing.T) {
	now := time.Date(2026, 8, 26, 12, 0, 0, 0, time.UTC)
	prURL := "https://github.com/acme/app/pull/7"
	evidence := task.Evidence{
		Packet:    &task.ReviewPacket{PRURL: prURL, Commit: "abc1234"},
		Artifacts: []string{"tested locally"},
	}

	t.Run("merged PR stamps integrity and artifacts", func(t *testing.T) {
		tk := &store.Task{ID: "task-1", Status: store.TaskStatusValidating}
		stamp := mergeEvidence(tk, evidence, &prcheck.PR{State: prcheck.StateMerged, HeadSHA: "abc1234"}, now)
		if stamp == nil {
			t.Fatal("expected a stamp")
		}
		integ, ok := stamp[task.MetaPRIntegrity].(map[string]any)
		if !ok || integ["state"] != "merged" {
			t.Errorf("integrity = %v", stamp[task.MetaPRIntegrity])
		}
		arts, ok := stamp[task.MetaArtifacts].([]string)
		if !ok || len(arts) != 2 || arts[1] != prURL {
			t.Errorf("artifacts = %v", stamp[task.MetaArtifacts])
		}
	})

	t.Run("open PR stamps nothing", func(t *testing.T) {
		tk := &store.Task{ID: "task-1"}
		if stamp := mergeEvidence(tk, evidence, &prcheck.PR{State: prcheck.StateOpen}, now); stamp != nil {
			t.Errorf("stamp = %v", stamp)
		}
	})

	t.Run("already stamped tasks are left alone", func(t *testing.T) {
		tk := &store.Task{ID: "task-1", Metadata: map[string]any{task.MetaPRIntegrity: map[string]any{"state": "merged"}}}
		if stamp := mergeEvidence(tk, evidence, &prcheck.PR{State: prcheck.StateMerged}, now); stamp != nil {
			t.Errorf("stamp = %v", stamp)
		}
	})

	t.Run("artifacts holding the URL are not rewritten", func(t *testing.T) {
		ev := task.Evidence{
			Packet:    &task.ReviewPacket{PRURL: prURL},
			Artifacts: []string{prURL},
		}
		tk := &store.Task{ID: "task-1"}
		stamp := mergeEvidence(tk, ev, &prcheck.PR{State: prcheck.StateMerged}, now)
		if stamp == nil {
			t.Fatal("expected a stamp")
		}
		if _, ok := stamp[task.MetaArtifacts]; ok {
			t.Error("artifacts should stay untouched")
		}
	})
}
