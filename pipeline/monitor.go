package pipeline

import (
	"context"
	"time"

	"github.com/c360studio/steward/events"
)

// Health is the pipeline monitor snapshot.
type Health struct {
	Healthy               bool      `json:"healthy"`
	LastReflectionAt      time.Time `json:"last_reflection_at,omitempty"`
	LastInsightActivityAt time.Time `json:"last_insight_activity_at,omitempty"`
	// StalledFor is how long reflections have flowed without insight
	// activity, zero when healthy.
	StalledFor time.Duration `json:"stalled_for_ms,omitempty"`
}

func (p *Pipeline) touchReflection() {
	p.healthMu.Lock()
	p.lastReflectionAt = time.Now().UTC()
	p.healthMu.Unlock()
}

func (p *Pipeline) touchInsightActivity() {
	p.healthMu.Lock()
	p.lastInsightActivityAt = time.Now().UTC()
	p.healthMu.Unlock()
}

// CheckHealth evaluates the broken-pipeline condition: reflections arriving
// while insight activity is silent past the threshold. A broken verdict
// emits pipeline_broken, rate limited by the alert cooldown.
func (p *Pipeline) CheckHealth(ctx context.Context) Health {
	now := time.Now().UTC()

	p.healthMu.Lock()
	h := Health{
		Healthy:               true,
		LastReflectionAt:      p.lastReflectionAt,
		LastInsightActivityAt: p.lastInsightActivityAt,
	}
	broken := !p.lastReflectionAt.IsZero() &&
		p.lastReflectionAt.Sub(p.lastInsightActivityAt) > 0 &&
		now.Sub(p.lastInsightActivityAt) > p.cfg.BrokenThreshold
	shouldAlert := broken && now.Sub(p.lastBrokenAlertAt) > p.cfg.BrokenAlertCooldown
	if shouldAlert {
		p.lastBrokenAlertAt = now
	}
	if broken {
		h.Healthy = false
		h.StalledFor = now.Sub(p.lastInsightActivityAt)
	}
	p.healthMu.Unlock()

	if shouldAlert {
		p.logger.Warn("Pipeline broken: reflections flowing with no insight activity",
			"stalled_for", h.StalledFor)
		p.publisher.Emit(ctx, events.Event{
			Kind: events.KindPipelineBroken,
			Data: map[string]any{"stalled_for_ms": h.StalledFor.Milliseconds()},
		})
	}
	return h
}

// RunHealthMonitor checks pipeline health periodically until ctx is done.
func (p *Pipeline) RunHealthMonitor(ctx context.Context) {
	interval := p.cfg.BrokenThreshold / 2
	if interval < time.Minute {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.CheckHealth(ctx)
		}
	}
}
