package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ChatMessage is one entry in the append-only chat log.
type ChatMessage struct {
	ID        string    `json:"id"`
	Channel   string    `json:"channel"`
	Author    string    `json:"author"`
	Body      string    `json:"body"`
	Mentions  []string  `json:"mentions,omitempty"`
	Automated bool      `json:"automated,omitempty"`
	Critical  bool      `json:"critical,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// AppendChatMessage persists a chat message.
func (s *Store) AppendChatMessage(ctx context.Context, m *ChatMessage) error {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	key := fmt.Sprintf("%019d.%s", m.CreatedAt.UnixNano(), m.ID)
	return s.putEntity(ctx, BucketChatMessages, key, m)
}

// ListChatMessages returns messages for a channel ("" = all) since the given
// time, oldest first.
func (s *Store) ListChatMessages(ctx context.Context, channel string, since time.Time, limit int) ([]*ChatMessage, error) {
	all, err := listEntities[ChatMessage](ctx, s, BucketChatMessages)
	if err != nil {
		return nil, err
	}
	var out []*ChatMessage
	for _, m := range all {
		if channel != "" && m.Channel != channel {
			continue
		}
		if !since.IsZero() && m.CreatedAt.Before(since) {
			continue
		}
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

// InboxSubscription registers an agent's interest in a channel or topic.
type InboxSubscription struct {
	ID        string    `json:"id"`
	Agent     string    `json:"agent"`
	Channel   string    `json:"channel,omitempty"`
	Topic     string    `json:"topic,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// PutInboxSubscription persists a subscription.
func (s *Store) PutInboxSubscription(ctx context.Context, sub *InboxSubscription) error {
	if sub.ID == "" {
		sub.ID = uuid.New().String()
	}
	sub.CreatedAt = time.Now().UTC()
	return s.putEntity(ctx, BucketInboxSubscriptions, sub.Agent+"."+sub.ID, sub)
}

// ListInboxSubscriptions returns subscriptions for an agent ("" = all).
func (s *Store) ListInboxSubscriptions(ctx context.Context, agent string) ([]*InboxSubscription, error) {
	all, err := listEntities[InboxSubscription](ctx, s, BucketInboxSubscriptions)
	if err != nil {
		return nil, err
	}
	var out []*InboxSubscription
	for _, sub := range all {
		if agent != "" && !strings.EqualFold(sub.Agent, agent) {
			continue
		}
		out = append(out, sub)
	}
	return out, nil
}

// PresenceRow tracks when an agent was last seen doing anything.
type PresenceRow struct {
	Agent        string    `json:"agent"`
	LastActivity time.Time `json:"last_activity"`
	LastKind     string    `json:"last_kind,omitempty"` // message, comment, status_change
	UpdatedAt    time.Time `json:"updated_at"`
}

// TouchPresence advances an agent's last-activity marker. Older timestamps
// never move the marker backwards.
func (s *Store) TouchPresence(ctx context.Context, agent, kind string, at time.Time) error {
	var row PresenceRow
	err := s.getEntity(ctx, BucketPresence, presenceKey(agent), &row)
	if err != nil && err != ErrNotFound {
		return err
	}
	if at.Before(row.LastActivity) {
		return nil
	}
	row.Agent = agent
	row.LastActivity = at
	row.LastKind = kind
	row.UpdatedAt = time.Now().UTC()
	return s.putEntity(ctx, BucketPresence, presenceKey(agent), &row)
}

// GetPresence returns the presence row for an agent.
func (s *Store) GetPresence(ctx context.Context, agent string) (*PresenceRow, error) {
	var row PresenceRow
	if err := s.getEntity(ctx, BucketPresence, presenceKey(agent), &row); err != nil {
		return nil, err
	}
	return &row, nil
}

// ListPresence returns the full presence roster.
func (s *Store) ListPresence(ctx context.Context) ([]*PresenceRow, error) {
	return listEntities[PresenceRow](ctx, s, BucketPresence)
}

func presenceKey(agent string) string {
	return strings.ToLower(agent)
}

// PauseEntry marks an agent as paused; watchdogs skip paused agents.
type PauseEntry struct {
	Agent     string     `json:"agent"`
	Reason    string     `json:"reason,omitempty"`
	PausedBy  string     `json:"paused_by,omitempty"`
	Until     *time.Time `json:"until,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// PutPause persists a pause entry.
func (s *Store) PutPause(ctx context.Context, p *PauseEntry) error {
	p.CreatedAt = time.Now().UTC()
	return s.putEntity(ctx, BucketPauseControls, presenceKey(p.Agent), p)
}

// DeletePause removes a pause entry.
func (s *Store) DeletePause(ctx context.Context, agent string) error {
	return s.deleteEntity(ctx, BucketPauseControls, presenceKey(agent))
}

// IsPaused reports whether the agent is currently paused.
func (s *Store) IsPaused(ctx context.Context, agent string, now time.Time) (bool, error) {
	var p PauseEntry
	err := s.getEntity(ctx, BucketPauseControls, presenceKey(agent), &p)
	if err == ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if p.Until != nil && now.After(*p.Until) {
		return false, nil
	}
	return true, nil
}
