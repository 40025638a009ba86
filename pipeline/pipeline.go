package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/c360studio/steward/config"
	"github.com/c360studio/steward/events"
	"github.com/c360studio/steward/store"
	"github.com/c360studio/steward/task"
)

// emaAlpha weighs the newest reflection's signal against the running score.
const emaAlpha = 0.3

// Pipeline owns reflection ingest, insight clustering and promotion.
type Pipeline struct {
	store     *store.Store
	engine    *task.Engine
	cfg       config.PipelineConfig
	publisher *events.Publisher
	logger    *slog.Logger

	// defaultReviewer reviews bridge-created tasks.
	defaultReviewer string

	// mu serializes insight upserts; cluster membership is read-modify-write.
	mu sync.Mutex

	// lastReflectionAt and lastInsightActivityAt feed the health monitor.
	healthMu              sync.Mutex
	lastReflectionAt      time.Time
	lastInsightActivityAt time.Time
	lastBrokenAlertAt     time.Time
}

// New wires the pipeline.
func New(st *store.Store, engine *task.Engine, cfg config.PipelineConfig,
	publisher *events.Publisher, defaultReviewer string, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	if defaultReviewer == "" {
		defaultReviewer = "lead"
	}
	return &Pipeline{
		store:           st,
		engine:          engine,
		cfg:             cfg,
		publisher:       publisher,
		defaultReviewer: defaultReviewer,
		logger:          logger,
	}
}

// ReflectionInput is the intake schema for reflections.
type ReflectionInput struct {
	Pain         string         `json:"pain"`
	Impact       string         `json:"impact,omitempty"`
	Evidence     []string       `json:"evidence"`
	WentWell     string         `json:"went_well,omitempty"`
	SuspectedWhy string         `json:"suspected_why,omitempty"`
	ProposedFix  string         `json:"proposed_fix,omitempty"`
	Confidence   float64        `json:"confidence"`
	RoleType     string         `json:"role_type,omitempty"`
	Severity     store.Severity `json:"severity"`
	Author       string         `json:"author"`
	Tags         []string       `json:"tags,omitempty"`
	TaskID       string         `json:"task_id,omitempty"`
	TeamID       string         `json:"team_id,omitempty"`
}

// Validate enforces the reflection intake contract.
func (in *ReflectionInput) Validate() error {
	var missing []string
	if strings.TrimSpace(in.Pain) == "" {
		missing = append(missing, "pain")
	}
	if strings.TrimSpace(in.Author) == "" {
		missing = append(missing, "author")
	}
	if len(in.Evidence) == 0 {
		missing = append(missing, "evidence")
	}
	if len(missing) > 0 {
		return fmt.Errorf("reflection missing fields: %s", strings.Join(missing, ", "))
	}
	if in.Severity == "" {
		in.Severity = store.SeverityMedium
	}
	if !store.ValidSeverity(in.Severity) {
		return fmt.Errorf("unknown severity %q", in.Severity)
	}
	if in.Confidence < 0 || in.Confidence > 10 {
		return fmt.Errorf("confidence must be within [0,10]")
	}
	if in.Confidence == 0 {
		in.Confidence = 5
	}
	return nil
}

// IngestResult reports what a reflection did to the pipeline.
type IngestResult struct {
	Reflection *store.Reflection `json:"reflection"`
	Insight    *store.Insight    `json:"insight"`
	// Promoted is true when ingest triggered an auto-created task.
	Promoted bool `json:"promoted"`
}

// Ingest persists a reflection, settles the author's reflection debt,
// clusters it into an insight and evaluates promotion.
func (p *Pipeline) Ingest(ctx context.Context, in ReflectionInput) (*IngestResult, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}

	r := &store.Reflection{
		Pain:         in.Pain,
		Impact:       in.Impact,
		Evidence:     in.Evidence,
		WentWell:     in.WentWell,
		SuspectedWhy: in.SuspectedWhy,
		ProposedFix:  in.ProposedFix,
		Confidence:   in.Confidence,
		RoleType:     in.RoleType,
		Severity:     in.Severity,
		Author:       in.Author,
		Tags:         in.Tags,
		TaskID:       in.TaskID,
		TeamID:       in.TeamID,
	}
	if err := p.store.CreateReflection(ctx, r); err != nil {
		return nil, err
	}
	p.touchReflection()

	if err := p.engine.SettleReflectionDebt(ctx, r.Author, r.CreatedAt); err != nil {
		p.logger.Warn("Failed to settle reflection debt", "agent", r.Author, "error", err)
	}
	p.publisher.Emit(ctx, events.Event{
		Kind:   events.KindReflectionAdded,
		Agent:  r.Author,
		TaskID: r.TaskID,
		Data:   map[string]any{"reflection_id": r.ID, "severity": r.Severity},
	})

	insight, created, err := p.upsertInsight(ctx, r)
	if err != nil {
		return nil, err
	}
	p.touchInsightActivity()

	kind := events.KindInsightUpdated
	if created {
		kind = events.KindInsightCreated
	}
	p.publisher.Emit(ctx, events.Event{
		Kind:  kind,
		Topic: insight.ClusterKey,
		Data:  map[string]any{"insight_id": insight.ID, "score": insight.Score, "independent": insight.IndependentCount},
	})

	promoted, err := p.evaluatePromotion(ctx, insight)
	if err != nil {
		p.logger.Warn("Promotion evaluation failed", "insight", insight.ID, "error", err)
	}

	return &IngestResult{Reflection: r, Insight: insight, Promoted: promoted}, nil
}

// upsertInsight folds the reflection into the open insight for its cluster
// key, creating one when the cluster is new.
func (p *Pipeline) upsertInsight(ctx context.Context, r *store.Reflection) (*store.Insight, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	key := ClusterKey(r.Tags, r.Pain)
	signal := clusterSignal(r.Severity, r.Confidence)

	insight, err := p.store.FindOpenInsightByClusterKey(ctx, key)
	if err == store.ErrNotFound {
		insight = &store.Insight{
			Title:            insightTitle(r),
			ClusterKey:       key,
			Status:           store.InsightStatusOpen,
			Score:            signal,
			SeverityMax:      r.Severity,
			ReflectionIDs:    []string{r.ID},
			Authors:          []string{r.Author},
			IndependentCount: 1,
			EvidenceRefs:     r.Evidence,
		}
		if err := p.store.CreateInsight(ctx, insight); err != nil {
			return nil, false, err
		}
		return insight, true, nil
	}
	if err != nil {
		return nil, false, err
	}

	insight.ReflectionIDs = append(insight.ReflectionIDs, r.ID)
	insight.Authors = appendAuthor(insight.Authors, r.Author)
	insight.IndependentCount = len(insight.Authors)
	insight.SeverityMax = store.MaxSeverity(insight.SeverityMax, r.Severity)
	insight.Score = emaAlpha*signal + (1-emaAlpha)*insight.Score
	insight.EvidenceRefs = append(insight.EvidenceRefs, r.Evidence...)
	if err := p.store.PutInsight(ctx, insight); err != nil {
		return nil, false, err
	}
	return insight, false, nil
}

// InsightInput is the direct insight intake, for signal that arrives
// without reflections behind it (operator observations, external systems).
type InsightInput struct {
	Title        string         `json:"title"`
	Pain         string         `json:"pain,omitempty"`
	Severity     store.Severity `json:"severity"`
	Author       string         `json:"author"`
	Tags         []string       `json:"tags,omitempty"`
	EvidenceRefs []string       `json:"evidence_refs,omitempty"`
}

// IngestInsight creates or reinforces an insight without a reflection.
// Idempotent per cluster key: a second submission lands on the open
// insight instead of creating a duplicate.
func (p *Pipeline) IngestInsight(ctx context.Context, in InsightInput) (*store.Insight, error) {
	if strings.TrimSpace(in.Title) == "" {
		return nil, fmt.Errorf("title is required")
	}
	if strings.TrimSpace(in.Author) == "" {
		return nil, fmt.Errorf("author is required")
	}
	if in.Severity == "" {
		in.Severity = store.SeverityMedium
	}
	if !store.ValidSeverity(in.Severity) {
		return nil, fmt.Errorf("unknown severity %q", in.Severity)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	pain := in.Pain
	if pain == "" {
		pain = in.Title
	}
	key := ClusterKey(in.Tags, pain)

	insight, err := p.store.FindOpenInsightByClusterKey(ctx, key)
	if err == store.ErrNotFound {
		insight = &store.Insight{
			Title:            in.Title,
			ClusterKey:       key,
			Status:           store.InsightStatusOpen,
			Score:            clusterSignal(in.Severity, 5),
			SeverityMax:      in.Severity,
			Authors:          []string{in.Author},
			IndependentCount: 1,
			EvidenceRefs:     in.EvidenceRefs,
		}
		if err := p.store.CreateInsight(ctx, insight); err != nil {
			return nil, err
		}
		p.touchInsightActivity()
		p.publisher.Emit(ctx, events.Event{
			Kind:  events.KindInsightCreated,
			Agent: in.Author,
			Topic: key,
			Data:  map[string]any{"insight_id": insight.ID},
		})
		return insight, nil
	}
	if err != nil {
		return nil, err
	}

	insight.Authors = appendAuthor(insight.Authors, in.Author)
	insight.IndependentCount = len(insight.Authors)
	insight.SeverityMax = store.MaxSeverity(insight.SeverityMax, in.Severity)
	insight.EvidenceRefs = append(insight.EvidenceRefs, in.EvidenceRefs...)
	if err := p.store.PutInsight(ctx, insight); err != nil {
		return nil, err
	}
	p.touchInsightActivity()
	return insight, nil
}

// Promote forces an insight into a bridge task, skipping the independent
// count and severity bars. Triage still owns already-promoted clusters.
func (p *Pipeline) Promote(ctx context.Context, insightID, actor string) (*store.Insight, error) {
	insight, err := p.store.GetInsight(ctx, insightID)
	if err != nil {
		return nil, err
	}
	switch insight.Status {
	case store.InsightStatusTaskCreated:
		return nil, fmt.Errorf("insight %s already has task %s", insightID, insight.TaskID)
	case store.InsightStatusClosed:
		return nil, fmt.Errorf("insight %s is closed", insightID)
	}
	if err := p.promote(ctx, insight, actor, "manual_promote"); err != nil {
		return nil, err
	}
	return insight, nil
}

// evaluatePromotion routes an open insight by severity alone: straight to a
// task when severity warrants it, to pending_triage otherwise. A single
// critical reflection is enough to cut a task. The cluster cooldown
// suppresses repeat promotions.
func (p *Pipeline) evaluatePromotion(ctx context.Context, insight *store.Insight) (bool, error) {
	route := promotionRoute(insight, p.cfg.AutoCreateSeverities)
	if route == "" {
		return false, nil
	}

	if promo, err := p.store.GetPromotion(ctx, insight.ClusterKey); err == nil {
		if time.Since(promo.PromotedAt) < p.cfg.ClusterCooldown {
			p.logger.Debug("Cluster in promotion cooldown", "cluster", insight.ClusterKey)
			return false, nil
		}
	}

	if route == "pending_triage" {
		insight.Status = store.InsightStatusPendingTriage
		if err := p.store.PutInsight(ctx, insight); err != nil {
			return false, err
		}
		_ = p.store.AddTriageDecision(ctx, &store.TriageDecision{
			InsightID: insight.ID,
			Action:    "pending_triage",
			Actor:     "steward",
			Reason:    fmt.Sprintf("severity=%s below auto-create bar", insight.SeverityMax),
		})
		return false, nil
	}

	return true, p.promote(ctx, insight, "steward", "auto_create")
}

// promote creates the bridge task and marks the insight task_created. The
// ownership guardrail keeps the reviewer off the authoring set so the
// people who reported the pain do not approve their own fix.
func (p *Pipeline) promote(ctx context.Context, insight *store.Insight, actor, action string) error {
	reviewer := p.defaultReviewer
	for _, author := range insight.Authors {
		if strings.EqualFold(author, reviewer) {
			reviewer = ""
			break
		}
	}
	if reviewer == "" {
		insight.Status = store.InsightStatusPendingTriage
		if err := p.store.PutInsight(ctx, insight); err != nil {
			return err
		}
		return p.store.AddTriageDecision(ctx, &store.TriageDecision{
			InsightID: insight.ID,
			Action:    "pending_triage",
			Actor:     actor,
			Reason:    "default reviewer authored the cluster, needs human routing",
		})
	}

	var candidates []string
	if rows, err := p.store.ListPresence(ctx); err == nil {
		for _, row := range rows {
			candidates = append(candidates, row.Agent)
		}
	}

	t, err := p.engine.Create(ctx, task.CreateInput{
		Title:       insight.Title,
		Description: fmt.Sprintf("Promoted from insight %s (%d independent reports, severity %s).", insight.ID, insight.IndependentCount, insight.SeverityMax),
		Type:        store.TaskTypeProcess,
		Priority:    priorityForSeverity(insight.SeverityMax),
		Assignee:    pickAssignee(candidates, insight.Authors, reviewer),
		Reviewer:    reviewer,
		DoneCriteria: []string{
			"root cause addressed or mitigated",
			"insight cluster closed with a linked outcome",
		},
		Tags:      []string{"insight"},
		CreatedBy: actor,
		Metadata: map[string]any{
			task.MetaSourceInsight: insight.ID,
			task.MetaInsightID:     insight.ID,
		},
	})
	if err != nil {
		return fmt.Errorf("bridge task creation: %w", err)
	}

	insight.Status = store.InsightStatusTaskCreated
	insight.TaskID = t.ID
	if err := p.store.PutInsight(ctx, insight); err != nil {
		return err
	}
	if err := p.store.PutPromotion(ctx, &store.PromotionRecord{
		ClusterKey: insight.ClusterKey,
		InsightID:  insight.ID,
		TaskID:     t.ID,
	}); err != nil {
		return err
	}
	_ = p.store.AddTriageDecision(ctx, &store.TriageDecision{
		InsightID: insight.ID,
		Action:    action,
		Actor:     actor,
		TaskID:    t.ID,
	})
	p.publisher.Emit(ctx, events.Event{
		Kind:   events.KindInsightPromoted,
		TaskID: t.ID,
		Topic:  insight.ClusterKey,
		Data:   map[string]any{"insight_id": insight.ID},
	})
	return nil
}

// promotionRoute picks the bridge action for an insight. Severity alone
// decides; one reporter with a critical pain is enough to cut a task.
// Returns "" for insights the bridge must not touch.
func promotionRoute(insight *store.Insight, autoCreate []string) string {
	if insight.Status != store.InsightStatusOpen {
		return ""
	}
	for _, sev := range autoCreate {
		if strings.EqualFold(sev, string(insight.SeverityMax)) {
			return "auto_create"
		}
	}
	return "pending_triage"
}

// clusterSignal maps (severity, confidence 0..10) onto the 0..10 score
// scale a single reflection contributes.
func clusterSignal(sev store.Severity, confidence float64) float64 {
	return severityWeight(sev) * confidence / 4
}

func severityWeight(s store.Severity) float64 {
	switch s {
	case store.SeverityCritical:
		return 4
	case store.SeverityHigh:
		return 3
	case store.SeverityMedium:
		return 2
	case store.SeverityLow:
		return 1
	}
	return 0
}

// priorityForSeverity maps cluster severity onto bridge task priority.
// Bridge tasks top out at P1; P0 stays a human call.
func priorityForSeverity(s store.Severity) store.Priority {
	switch s {
	case store.SeverityCritical, store.SeverityHigh:
		return store.PriorityP1
	case store.SeverityMedium:
		return store.PriorityP2
	}
	return store.PriorityP3
}

// pickAssignee applies the ownership guardrail to the bridge task: prefer
// an agent who did not author the cluster, hand an author their own pain
// only when a non-author reviewer gates the approval, otherwise leave the
// task unassigned for triage.
func pickAssignee(candidates, authors []string, reviewer string) string {
	isAuthor := func(name string) bool {
		for _, a := range authors {
			if strings.EqualFold(a, name) {
				return true
			}
		}
		return false
	}
	var authored []string
	for _, c := range candidates {
		if c == "" || strings.EqualFold(c, reviewer) {
			continue
		}
		if !isAuthor(c) {
			return c
		}
		authored = append(authored, c)
	}
	if len(authored) > 0 && reviewer != "" && !isAuthor(reviewer) {
		return authored[0]
	}
	return "unassigned"
}

func appendAuthor(authors []string, author string) []string {
	for _, a := range authors {
		if strings.EqualFold(a, author) {
			return authors
		}
	}
	authors = append(authors, author)
	sort.Strings(authors)
	return authors
}

func insightTitle(r *store.Reflection) string {
	pain := strings.TrimSpace(r.Pain)
	if len(pain) > 80 {
		pain = pain[:80]
	}
	return "Recurring pain: " + pain
}
