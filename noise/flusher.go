package noise

import (
	"context"
	"time"
)

// PostFunc delivers a digest body to a channel. Wiring supplies the chat
// poster so noise does not depend on the chat package.
type PostFunc func(ctx context.Context, channel, body string) error

// Flush drains the diverted backlog into one digest message. Returns how
// many messages were summarized.
func (g *Gatekeeper) Flush(ctx context.Context, post PostFunc) (int, error) {
	msgs := g.DrainDigest()
	if len(msgs) == 0 {
		return 0, nil
	}
	channel := g.policy.Get().NoiseBudget.DigestChannel
	if err := post(ctx, channel, DigestBody(msgs)); err != nil {
		// Requeue so a failed flush does not drop messages.
		g.mu.Lock()
		g.digest = append(msgs, g.digest...)
		g.mu.Unlock()
		return 0, err
	}
	g.logger.Info("Flushed digest", "channel", channel, "messages", len(msgs))
	return len(msgs), nil
}

// RunDigestFlusher flushes on the policy's cadence until ctx is cancelled.
func (g *Gatekeeper) RunDigestFlusher(ctx context.Context, post PostFunc) {
	for {
		interval := g.policy.Get().NoiseBudget.DigestFlushInterval
		if interval <= 0 {
			interval = 15 * time.Minute
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(interval):
			if _, err := g.Flush(ctx, post); err != nil {
				g.logger.Warn("Digest flush failed", "error", err)
			}
		}
	}
}
