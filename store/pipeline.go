package store

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
)

// Severity grades reflection and insight urgency.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

// ValidSeverity reports whether s is a known severity.
func ValidSeverity(s Severity) bool {
	switch s {
	case SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow:
		return true
	}
	return false
}

// severityRank orders severities for max comparisons; higher is worse.
func severityRank(s Severity) int {
	switch s {
	case SeverityCritical:
		return 4
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 1
	}
	return 0
}

// MaxSeverity returns the worse of a and b.
func MaxSeverity(a, b Severity) Severity {
	if severityRank(a) >= severityRank(b) {
		return a
	}
	return b
}

// Reflection is a structured post-mortem record. Immutable once created.
type Reflection struct {
	ID           string    `json:"id"`
	Pain         string    `json:"pain"`
	Impact       string    `json:"impact,omitempty"`
	Evidence     []string  `json:"evidence"`
	WentWell     string    `json:"went_well,omitempty"`
	SuspectedWhy string    `json:"suspected_why,omitempty"`
	ProposedFix  string    `json:"proposed_fix,omitempty"`
	Confidence   float64   `json:"confidence"`
	RoleType     string    `json:"role_type,omitempty"`
	Severity     Severity  `json:"severity"`
	Author       string    `json:"author"`
	Tags         []string  `json:"tags,omitempty"`
	TaskID       string    `json:"task_id,omitempty"`
	TeamID       string    `json:"team_id,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// CreateReflection persists a reflection.
func (s *Store) CreateReflection(ctx context.Context, r *Reflection) error {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	r.CreatedAt = time.Now().UTC()
	return s.createEntity(ctx, BucketReflections, r.ID, r)
}

// GetReflection retrieves a reflection by id.
func (s *Store) GetReflection(ctx context.Context, id string) (*Reflection, error) {
	var r Reflection
	if err := s.getEntity(ctx, BucketReflections, id, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// ListReflections returns all reflections, newest first.
func (s *Store) ListReflections(ctx context.Context) ([]*Reflection, error) {
	out, err := listEntities[Reflection](ctx, s, BucketReflections)
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// InsightStatus is the lifecycle state of an insight.
type InsightStatus string

const (
	InsightStatusOpen          InsightStatus = "open"
	InsightStatusPendingTriage InsightStatus = "pending_triage"
	InsightStatusTaskCreated   InsightStatus = "task_created"
	InsightStatusClosed        InsightStatus = "closed"
)

// Insight is a cluster of related reflections sharing a cluster key.
type Insight struct {
	ID               string        `json:"id"`
	Title            string        `json:"title"`
	ClusterKey       string        `json:"cluster_key"`
	Status           InsightStatus `json:"status"`
	Score            float64       `json:"score"`
	SeverityMax      Severity      `json:"severity_max"`
	Priority         Priority      `json:"priority,omitempty"`
	ReflectionIDs    []string      `json:"reflection_ids"`
	Authors          []string      `json:"authors"`
	IndependentCount int           `json:"independent_count"`
	EvidenceRefs     []string      `json:"evidence_refs,omitempty"`
	TaskID           string        `json:"task_id,omitempty"`
	CreatedAt        time.Time     `json:"created_at"`
	UpdatedAt        time.Time     `json:"updated_at"`
}

// CreateInsight persists a new insight.
func (s *Store) CreateInsight(ctx context.Context, in *Insight) error {
	if in.ID == "" {
		in.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	in.CreatedAt = now
	in.UpdatedAt = now
	return s.createEntity(ctx, BucketInsights, in.ID, in)
}

// PutInsight writes back a mutated insight.
func (s *Store) PutInsight(ctx context.Context, in *Insight) error {
	in.UpdatedAt = time.Now().UTC()
	return s.putEntity(ctx, BucketInsights, in.ID, in)
}

// GetInsight retrieves an insight by id.
func (s *Store) GetInsight(ctx context.Context, id string) (*Insight, error) {
	var in Insight
	if err := s.getEntity(ctx, BucketInsights, id, &in); err != nil {
		return nil, err
	}
	return &in, nil
}

// ListInsights returns all insights, newest first.
func (s *Store) ListInsights(ctx context.Context) ([]*Insight, error) {
	out, err := listEntities[Insight](ctx, s, BucketInsights)
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// FindOpenInsightByClusterKey returns the open (or pending-triage) insight
// for the given cluster key, or ErrNotFound.
func (s *Store) FindOpenInsightByClusterKey(ctx context.Context, key string) (*Insight, error) {
	insights, err := s.ListInsights(ctx)
	if err != nil {
		return nil, err
	}
	for _, in := range insights {
		if in.ClusterKey != key {
			continue
		}
		if in.Status == InsightStatusOpen || in.Status == InsightStatusPendingTriage {
			return in, nil
		}
	}
	return nil, ErrNotFound
}

// TriageDecision records a bridge or human triage action on an insight.
type TriageDecision struct {
	ID        string    `json:"id"`
	InsightID string    `json:"insight_id"`
	Action    string    `json:"action"` // auto_create, pending_triage, approve, dismiss, reconcile
	Actor     string    `json:"actor,omitempty"`
	TaskID    string    `json:"task_id,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// AddTriageDecision persists a triage audit record.
func (s *Store) AddTriageDecision(ctx context.Context, d *TriageDecision) error {
	if d.ID == "" {
		d.ID = uuid.New().String()
	}
	d.CreatedAt = time.Now().UTC()
	return s.putEntity(ctx, BucketTriageAudit, d.InsightID+"."+d.ID, d)
}

// ListTriageDecisions returns triage records for an insight, oldest first.
func (s *Store) ListTriageDecisions(ctx context.Context, insightID string) ([]*TriageDecision, error) {
	all, err := listEntities[TriageDecision](ctx, s, BucketTriageAudit)
	if err != nil {
		return nil, err
	}
	var out []*TriageDecision
	for _, d := range all {
		if insightID == "" || d.InsightID == insightID {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// PromotionRecord tracks a cluster promotion for cooldown accounting.
type PromotionRecord struct {
	ClusterKey string    `json:"cluster_key"`
	InsightID  string    `json:"insight_id"`
	TaskID     string    `json:"task_id,omitempty"`
	PromotedAt time.Time `json:"promoted_at"`
}

// PutPromotion records the latest promotion for a cluster.
func (s *Store) PutPromotion(ctx context.Context, p *PromotionRecord) error {
	p.PromotedAt = time.Now().UTC()
	return s.putEntity(ctx, BucketPromotionAudit, p.ClusterKey, p)
}

// GetPromotion returns the latest promotion for a cluster key.
func (s *Store) GetPromotion(ctx context.Context, clusterKey string) (*PromotionRecord, error) {
	var p PromotionRecord
	if err := s.getEntity(ctx, BucketPromotionAudit, clusterKey, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// ReflectionTracking records per-agent reflection debt state.
type ReflectionTracking struct {
	Agent            string    `json:"agent"`
	DoneSinceLast    int       `json:"done_since_last"`
	LastReflectionAt time.Time `json:"last_reflection_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// GetReflectionTracking returns the debt row for an agent, or a zero row.
func (s *Store) GetReflectionTracking(ctx context.Context, agent string) (*ReflectionTracking, error) {
	var rt ReflectionTracking
	err := s.getEntity(ctx, BucketReflectionTracking, agent, &rt)
	if err == ErrNotFound {
		return &ReflectionTracking{Agent: agent}, nil
	}
	if err != nil {
		return nil, err
	}
	return &rt, nil
}

// PutReflectionTracking writes back a debt row.
func (s *Store) PutReflectionTracking(ctx context.Context, rt *ReflectionTracking) error {
	rt.UpdatedAt = time.Now().UTC()
	return s.putEntity(ctx, BucketReflectionTracking, rt.Agent, rt)
}
