package pipeline

import (
	"testing"

	"github.com/c360studio/steward/store"
)

func TestPromotionRoute(t *testing.T) {
	autoCreate := []string{"critical", "high"}

	tests := []struct {
		name    string
		insight store.Insight
		want    string
	}{
		{
			name: "single critical reflection auto-creates",
			insight: store.Insight{
				Status:           store.InsightStatusOpen,
				SeverityMax:      store.SeverityCritical,
				IndependentCount: 1,
			},
			want: "auto_create",
		},
		{
			name: "single medium reflection goes to triage",
			insight: store.Insight{
				Status:           store.InsightStatusOpen,
				SeverityMax:      store.SeverityMedium,
				IndependentCount: 1,
			},
			want: "pending_triage",
		},
		{
			name: "high severity auto-creates",
			insight: store.Insight{
				Status:           store.InsightStatusOpen,
				SeverityMax:      store.SeverityHigh,
				IndependentCount: 3,
			},
			want: "auto_create",
		},
		{
			name: "low severity goes to triage",
			insight: store.Insight{
				Status:           store.InsightStatusOpen,
				SeverityMax:      store.SeverityLow,
				IndependentCount: 4,
			},
			want: "pending_triage",
		},
		{
			name: "promoted insight is left alone",
			insight: store.Insight{
				Status:      store.InsightStatusTaskCreated,
				SeverityMax: store.SeverityCritical,
			},
			want: "",
		},
		{
			name: "closed insight is left alone",
			insight: store.Insight{
				Status:      store.InsightStatusClosed,
				SeverityMax: store.SeverityCritical,
			},
			want: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := promotionRoute(&tt.insight, autoCreate)
			if got != tt.want {
				t.Errorf("promotionRoute() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestPickAssignee(t *testing.T) {
	tests := []struct {
		name       string
		candidates []string
		authors    []string
		reviewer   string
		want       string
	}{
		{
			name:       "non-author preferred",
			candidates: []string{"alice", "bob"},
			authors:    []string{"alice"},
			reviewer:   "lead",
			want:       "bob",
		},
		{
			name:       "reviewer is never the assignee",
			candidates: []string{"lead", "bob"},
			authors:    []string{"alice"},
			reviewer:   "lead",
			want:       "bob",
		},
		{
			name:       "author allowed when a non-author reviews",
			candidates: []string{"alice"},
			authors:    []string{"alice"},
			reviewer:   "lead",
			want:       "alice",
		},
		{
			name:       "author blocked without a non-author reviewer",
			candidates: []string{"alice"},
			authors:    []string{"alice"},
			reviewer:   "",
			want:       "unassigned",
		},
		{
			name:       "no candidates falls back to unassigned",
			candidates: nil,
			authors:    []string{"alice"},
			reviewer:   "lead",
			want:       "unassigned",
		},
		{
			name:       "author match is case-insensitive",
			candidates: []string{"Alice", "bob"},
			authors:    []string{"alice"},
			reviewer:   "lead",
			want:       "bob",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := pickAssignee(tt.candidates, tt.authors, tt.reviewer)
			if got != tt.want {
				t.Errorf("pickAssignee() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestPriorityForSeverity(t *testing.T) {
	tests := []struct {
		sev  store.Severity
		want store.Priority
	}{
		{store.SeverityCritical, store.PriorityP1},
		{store.SeverityHigh, store.PriorityP1},
		{store.SeverityMedium, store.PriorityP2},
		{store.SeverityLow, store.PriorityP3},
	}
	for _, tt := range tests {
		if got := priorityForSeverity(tt.sev); got != tt.want {
			t.Errorf("priorityForSeverity(%s) = %s, want %s", tt.sev, got, tt.want)
		}
	}
}
