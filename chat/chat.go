// Package chat is the append-only coordination log agents communicate
// through. Posting feeds presence inference, mention tracking and the
// websocket fan-out; automated messages pass the noise gate first.
package chat

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/c360studio/steward/events"
	"github.com/c360studio/steward/noise"
	"github.com/c360studio/steward/store"
)

var mentionPattern = regexp.MustCompile(`@([A-Za-z0-9_-]+)`)

// ExtractMentions returns the distinct @-mentions in a body, lowercased.
func ExtractMentions(body string) []string {
	matches := mentionPattern.FindAllStringSubmatch(body, -1)
	if len(matches) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(matches))
	var out []string
	for _, m := range matches {
		name := strings.ToLower(m[1])
		if !seen[name] {
			seen[name] = true
			out = append(out, name)
		}
	}
	return out
}

// Service owns the chat log.
type Service struct {
	store     *store.Store
	publisher *events.Publisher
	gate      *noise.Gatekeeper
	hub       *Hub
	logger    *slog.Logger
}

// NewService wires the chat service.
func NewService(st *store.Store, publisher *events.Publisher, gate *noise.Gatekeeper, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:     st,
		publisher: publisher,
		gate:      gate,
		hub:       NewHub(logger),
		logger:    logger,
	}
}

// Hub exposes the websocket fan-out for mounting.
func (s *Service) Hub() *Hub { return s.hub }

// PostInput is the intake schema for chat messages.
type PostInput struct {
	Channel   string `json:"channel"`
	Author    string `json:"author"`
	Body      string `json:"body"`
	Automated bool   `json:"automated,omitempty"`
	Critical  bool   `json:"critical,omitempty"`
	// Force pushes an automated message through quiet hours.
	Force bool `json:"force,omitempty"`
}

// PostResult reports what happened to a posted message.
type PostResult struct {
	Message *store.ChatMessage `json:"message,omitempty"`
	// Suppressed is set when the noise gate withheld an automated message.
	Suppressed bool   `json:"suppressed,omitempty"`
	Reason     string `json:"reason,omitempty"`
}

// Post appends a message to the log. Automated messages pass the noise
// gate; human messages always land.
func (s *Service) Post(ctx context.Context, in PostInput) (*PostResult, error) {
	if strings.TrimSpace(in.Channel) == "" {
		return nil, fmt.Errorf("channel is required")
	}
	if strings.TrimSpace(in.Author) == "" {
		return nil, fmt.Errorf("author is required")
	}
	if strings.TrimSpace(in.Body) == "" {
		return nil, fmt.Errorf("body is required")
	}

	if in.Automated {
		verdict := s.gate.Admit(ctx, noise.Message{
			Channel:  in.Channel,
			Author:   in.Author,
			Body:     in.Body,
			Critical: in.Critical,
			Force:    in.Force,
		})
		if !verdict.Deliver {
			return &PostResult{Suppressed: true, Reason: verdict.Reason}, nil
		}
	}

	return s.append(ctx, in)
}

// PostDigest lands a digest flush directly, skipping the gate so the
// digest channel cannot starve itself.
func (s *Service) PostDigest(ctx context.Context, channel, body string) error {
	_, err := s.append(ctx, PostInput{
		Channel:   channel,
		Author:    "steward",
		Body:      body,
		Automated: true,
	})
	return err
}

func (s *Service) append(ctx context.Context, in PostInput) (*PostResult, error) {
	m := &store.ChatMessage{
		Channel:   in.Channel,
		Author:    in.Author,
		Body:      in.Body,
		Mentions:  ExtractMentions(in.Body),
		Automated: in.Automated,
		Critical:  in.Critical,
	}
	if err := s.store.AppendChatMessage(ctx, m); err != nil {
		return nil, err
	}

	// Human activity moves the presence marker; automated traffic does not.
	if !in.Automated {
		if err := s.store.TouchPresence(ctx, in.Author, "message", m.CreatedAt); err != nil {
			s.logger.Warn("Failed to touch presence", "agent", in.Author, "error", err)
		}
	}

	s.publisher.Emit(ctx, events.Event{
		Kind:  events.KindChatMessage,
		Agent: in.Author,
		Topic: in.Channel,
		Data:  map[string]any{"message_id": m.ID, "mentions": m.Mentions},
	})
	s.hub.Broadcast(m)
	return &PostResult{Message: m}, nil
}

// Inbox returns the messages relevant to an agent since a time: direct
// mentions anywhere plus traffic on subscribed channels.
func (s *Service) Inbox(ctx context.Context, agent string, since time.Time, limit int) ([]*store.ChatMessage, error) {
	subs, err := s.store.ListInboxSubscriptions(ctx, agent)
	if err != nil {
		return nil, err
	}
	channels := make(map[string]bool, len(subs))
	for _, sub := range subs {
		if sub.Channel != "" {
			channels[sub.Channel] = true
		}
	}

	all, err := s.store.ListChatMessages(ctx, "", since, 0)
	if err != nil {
		return nil, err
	}
	lower := strings.ToLower(agent)
	var out []*store.ChatMessage
	for _, m := range all {
		if strings.EqualFold(m.Author, agent) {
			continue
		}
		mentioned := false
		for _, mention := range m.Mentions {
			if mention == lower {
				mentioned = true
				break
			}
		}
		if mentioned || channels[m.Channel] {
			out = append(out, m)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

// Pause suspends watchdog attention for an agent.
func (s *Service) Pause(ctx context.Context, agent, reason, by string, until *time.Time) error {
	if strings.TrimSpace(agent) == "" {
		return fmt.Errorf("agent is required")
	}
	return s.store.PutPause(ctx, &store.PauseEntry{
		Agent:    agent,
		Reason:   reason,
		PausedBy: by,
		Until:    until,
	})
}

// Resume lifts an agent's pause.
func (s *Service) Resume(ctx context.Context, agent string) error {
	return s.store.DeletePause(ctx, agent)
}
