// Package noise governs automated message flow: per-channel budgets with a
// canary mode, alert-integrity deduplication, quiet-hours suppression, and
// the digest queue diverted messages flush into.
package noise

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/c360studio/steward/config"
	"github.com/c360studio/steward/store"
)

// Gate decisions.
const (
	DecisionPass           = "pass"
	DecisionDivert         = "divert"
	DecisionSuppress       = "suppress"
	DecisionBypassCritical = "bypass_critical"
	DecisionCanaryDivert   = "canary_divert"
)

// Message is an automated message submitted to the gate.
type Message struct {
	Channel string
	Author  string
	Body    string
	// Critical bypasses the budget and quiet hours, never dedupe.
	Critical bool
	// Force bypasses quiet hours only. Operator-triggered ticks set it.
	Force bool
}

// Verdict is the gate's ruling on a message.
type Verdict struct {
	// Decision is one of the Decision* constants.
	Decision string
	// Deliver is true when the message should reach its channel now.
	Deliver bool
	// AlertKey is the normalized dedupe key.
	AlertKey string
	// Reason names the suppression cause when Deliver is false.
	Reason string
}

// Gatekeeper enforces the noise policy. All state is in-memory sliding
// windows; the persistent snapshots and the suppression ledger are written
// through the store.
type Gatekeeper struct {
	store  *store.Store
	policy *config.PolicyStore
	logger *slog.Logger

	mu sync.Mutex
	// windows holds per-channel delivery timestamps for budget accounting.
	windows map[string][]time.Time
	// seen holds per-alert-key last-delivery times for dedupe.
	seen map[string]time.Time
	// digest accumulates diverted messages per digest flush.
	digest []Message
}

// NewGatekeeper wires the gate.
func NewGatekeeper(st *store.Store, policy *config.PolicyStore, logger *slog.Logger) *Gatekeeper {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gatekeeper{
		store:   st,
		policy:  policy,
		logger:  logger,
		windows: make(map[string][]time.Time),
		seen:    make(map[string]time.Time),
	}
}

// Admit rules on an automated message. Order: dedupe, quiet hours, budget.
// Critical messages skip quiet hours and the budget but still record
// snapshots. In-memory state settles under the lock; ledger writes happen
// after.
func (g *Gatekeeper) Admit(ctx context.Context, m Message) Verdict {
	now := time.Now().UTC()
	policy := g.policy.Get()
	key := AlertKey(m.Channel, m.Body)

	var v Verdict
	var snapDecision string

	g.mu.Lock()
	switch {
	// Alert integrity: an identical normalized alert inside the dedupe
	// window is suppressed outright, critical or not.
	case g.isDuplicate(key, now, policy.NoiseBudget.DedupeWindow):
		v = Verdict{Decision: DecisionSuppress, AlertKey: key, Reason: "duplicate"}

	case m.Critical:
		g.seen[key] = now
		g.countDelivery(m.Channel, now, policy.NoiseBudget.Window)
		v = Verdict{Decision: DecisionBypassCritical, Deliver: true, AlertKey: key}
		snapDecision = DecisionBypassCritical

	case !m.Force && policy.QuietHours.InEffect(now):
		g.digest = append(g.digest, m)
		v = Verdict{Decision: DecisionDivert, AlertKey: key, Reason: "quiet_hours"}

	case g.windowCount(m.Channel, now, policy.NoiseBudget.Window) >= policy.NoiseBudget.MaxPerWindow:
		if policy.NoiseBudget.Enforce {
			g.digest = append(g.digest, m)
			v = Verdict{Decision: DecisionDivert, AlertKey: key, Reason: "noise_budget"}
			snapDecision = DecisionDivert
		} else {
			// Canary mode: record what enforcement would have done,
			// deliver anyway.
			g.seen[key] = now
			g.countDelivery(m.Channel, now, policy.NoiseBudget.Window)
			v = Verdict{Decision: DecisionCanaryDivert, Deliver: true, AlertKey: key}
			snapDecision = DecisionCanaryDivert
		}

	default:
		g.seen[key] = now
		g.countDelivery(m.Channel, now, policy.NoiseBudget.Window)
		v = Verdict{Decision: DecisionPass, Deliver: true, AlertKey: key}
	}
	g.mu.Unlock()

	if snapDecision != "" {
		g.snapshot(ctx, m, policy, snapDecision)
	}
	if !v.Deliver {
		g.recordSuppression(ctx, key, m, v.Reason)
	}
	return v
}

// isDuplicate reports whether the key was delivered inside the dedupe
// window. Caller holds g.mu.
func (g *Gatekeeper) isDuplicate(key string, now time.Time, window time.Duration) bool {
	last, ok := g.seen[key]
	return ok && now.Sub(last) < window
}

// windowCount prunes and counts the channel's deliveries inside the window.
// Caller holds g.mu.
func (g *Gatekeeper) windowCount(channel string, now time.Time, window time.Duration) int {
	cutoff := now.Add(-window)
	kept := g.windows[channel][:0]
	for _, ts := range g.windows[channel] {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	g.windows[channel] = kept
	return len(kept)
}

// countDelivery records a delivery against the channel budget. Caller
// holds g.mu.
func (g *Gatekeeper) countDelivery(channel string, now time.Time, window time.Duration) {
	g.windowCount(channel, now, window)
	g.windows[channel] = append(g.windows[channel], now)
}

func (g *Gatekeeper) snapshot(ctx context.Context, m Message, policy config.PolicyConfig, decision string) {
	g.mu.Lock()
	count := g.windowCount(m.Channel, time.Now().UTC(), policy.NoiseBudget.Window)
	g.mu.Unlock()

	if err := g.store.AppendNoiseBudgetLog(ctx, &store.NoiseBudgetSnapshot{
		Channel:       m.Channel,
		WindowCount:   count,
		Budget:        policy.NoiseBudget.MaxPerWindow,
		Decision:      decision,
		Enforcing:     policy.NoiseBudget.Enforce,
		MessageDigest: AlertKey(m.Channel, m.Body),
	}); err != nil {
		g.logger.Warn("Failed to persist noise budget snapshot", "channel", m.Channel, "error", err)
	}
}

func (g *Gatekeeper) recordSuppression(ctx context.Context, key string, m Message, reason string) {
	original := m.Body
	if len(original) > 200 {
		original = original[:200]
	}
	if err := g.store.AppendSuppression(ctx, &store.SuppressionLedgerEntry{
		AlertKey: key,
		Channel:  m.Channel,
		Reason:   reason,
		Original: original,
	}); err != nil {
		g.logger.Warn("Failed to persist suppression entry", "key", key, "error", err)
	}
}

// DrainDigest returns and clears the accumulated diverted messages.
func (g *Gatekeeper) DrainDigest() []Message {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := g.digest
	g.digest = nil
	return out
}

// PendingDigest reports the diverted backlog size.
func (g *Gatekeeper) PendingDigest() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.digest)
}

// DigestBody renders a digest flush into one message body.
func DigestBody(msgs []Message) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Digest of %d diverted message(s):\n", len(msgs))
	for _, m := range msgs {
		body := m.Body
		if len(body) > 120 {
			body = body[:120] + "..."
		}
		fmt.Fprintf(&b, "- [%s] %s: %s\n", m.Channel, m.Author, body)
	}
	return b.String()
}

var (
	// Case-insensitive: normalization lowercases the body before this
	// runs, so T and Z separators arrive as t and z.
	timestampPattern = regexp.MustCompile(`(?i)\d{4}-\d{2}-\d{2}[T ]\d{2}:\d{2}(:\d{2})?(\.\d+)?(Z|[+-]\d{2}:?\d{2})?`)
	uuidPattern      = regexp.MustCompile(`[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}`)
	hexIDPattern     = regexp.MustCompile(`\b[0-9a-f]{7,40}\b`)
	numberPattern    = regexp.MustCompile(`\b\d+\b`)
	spacePattern     = regexp.MustCompile(`\s+`)
)

// AlertKey normalizes an alert body and hashes it with its channel. Two
// alerts differing only in timestamps, ids or counts share a key, so
// repeats collapse in the dedupe window.
func AlertKey(channel, body string) string {
	norm := strings.ToLower(body)
	norm = timestampPattern.ReplaceAllString(norm, "<ts>")
	norm = uuidPattern.ReplaceAllString(norm, "<id>")
	norm = hexIDPattern.ReplaceAllString(norm, "<id>")
	norm = numberPattern.ReplaceAllString(norm, "<n>")
	norm = spacePattern.ReplaceAllString(strings.TrimSpace(norm), " ")

	h := sha256.Sum256([]byte(channel + "|" + norm))
	return hex.EncodeToString(h[:])[:16]
}
