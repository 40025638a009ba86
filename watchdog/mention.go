package watchdog

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/c360studio/steward/store"
)

// mentionLookback bounds how far back the rescue scan reads the chat log.
const mentionLookback = 24 * time.Hour

// MentionWorker rescues mentions that sat unanswered past the delay
// threshold.
type MentionWorker struct {
	deps *Deps

	mu      sync.Mutex
	rescued map[string]time.Time // message id -> rescue time
	lastFor map[string]time.Time // agent -> last rescue nudge
}

// NewMentionWorker creates the mention-rescue watchdog.
func NewMentionWorker(deps *Deps) *MentionWorker {
	return &MentionWorker{
		deps:    deps,
		rescued: make(map[string]time.Time),
		lastFor: make(map[string]time.Time),
	}
}

// Name implements Worker.
func (w *MentionWorker) Name() string { return "mention" }

// Interval implements Worker.
func (w *MentionWorker) Interval() time.Duration { return 30 * time.Second }

// Tick implements Worker.
func (w *MentionWorker) Tick(ctx context.Context, opts TickOptions) (*TickReport, error) {
	opts.normalize()
	if r := w.deps.quietTick(w.Name(), opts); r != nil {
		return r, nil
	}
	cfg := w.deps.Policy.Get().Watchdog
	report := &TickReport{Worker: w.Name(), At: opts.Now}

	msgs, err := w.deps.Store.ListChatMessages(ctx, "", opts.Now.Add(-mentionLookback), 0)
	if err != nil {
		return nil, err
	}

	for _, m := range msgs {
		if len(report.Actions) >= cfg.MaxActionsPerTick {
			report.Capped = true
			break
		}
		if len(m.Mentions) == 0 || m.Automated {
			continue
		}
		age := opts.Now.Sub(m.CreatedAt)
		if age < minutes(cfg.MentionDelayMin) {
			continue
		}
		if w.alreadyRescued(m.ID) {
			continue
		}

		for _, agent := range m.Mentions {
			if strings.EqualFold(agent, m.Author) {
				continue
			}
			if answered(msgs, m, agent) {
				continue
			}
			if w.deps.skipAgent(ctx, agent, opts.Now) {
				continue
			}
			if !opts.Force && !w.agentCooldownElapsed(agent, opts.Now, minutes(cfg.MentionCooldownMin)) {
				continue
			}

			action := Action{
				Kind:  "mention_rescue",
				Agent: agent,
				Detail: fmt.Sprintf("@%s you were mentioned in #%s %s ago by %s and haven't replied",
					agent, m.Channel, age.Round(time.Minute), m.Author),
			}
			if !opts.DryRun {
				w.markRescued(m.ID, agent, opts.Now)
				w.deps.nudge(ctx, agentChannel(agent), action.Detail, false, opts.Force)
				action.Applied = true
			}
			report.Actions = append(report.Actions, action)
		}
	}
	return report, nil
}

// answered reports whether the mentioned agent posted in the channel after
// the mention landed.
func answered(msgs []*store.ChatMessage, mention *store.ChatMessage, agent string) bool {
	for _, m := range msgs {
		if m.Channel != mention.Channel {
			continue
		}
		if !m.CreatedAt.After(mention.CreatedAt) {
			continue
		}
		if strings.EqualFold(m.Author, agent) {
			return true
		}
	}
	return false
}

func (w *MentionWorker) alreadyRescued(msgID string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, ok := w.rescued[msgID]
	return ok
}

func (w *MentionWorker) agentCooldownElapsed(agent string, now time.Time, cooldown time.Duration) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	last, ok := w.lastFor[strings.ToLower(agent)]
	return !ok || now.Sub(last) >= cooldown
}

func (w *MentionWorker) markRescued(msgID, agent string, now time.Time) {
	w.mu.Lock()
	w.rescued[msgID] = now
	w.lastFor[strings.ToLower(agent)] = now
	w.mu.Unlock()
}
