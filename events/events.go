// Package events provides typed NATS subject definitions for steward domain
// events and the publisher components use to emit them.
//
// Subjects follow "gov.events.<domain>.<action>", enabling type-safe
// subscribe and subject-based routing. The SSE fan-out and the knowledge
// indexes subscribe to these subjects.
package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/c360studio/semstreams/message"
	"github.com/c360studio/semstreams/payloadregistry"
)

// Event kinds.
const (
	KindTaskCreated     = "task_created"
	KindTaskUpdated     = "task_updated"
	KindTaskDeleted     = "task_deleted"
	KindStatusChanged   = "status_changed"
	KindTaskDone        = "task_done"
	KindTaskBlocked     = "task_blocked"
	KindTaskValidating  = "task_validating"
	KindTaskDoing       = "task_doing"
	KindReflectionAdded = "reflection_added"
	KindInsightCreated  = "insight_created"
	KindInsightUpdated  = "insight_updated"
	KindInsightPromoted = "insight_promoted"
	KindPipelineBroken  = "pipeline_broken"
	KindNudge           = "nudge"
	KindEscalation      = "escalation"
	KindMutationAlert   = "mutation_alert"
	KindWebhookDLQ      = "webhook_dlq"
	KindChatMessage     = "chat_message"
	KindDriftReport     = "drift_report"
)

// Subject returns the NATS subject for an event kind.
func Subject(kind string) string {
	switch kind {
	case KindTaskCreated, KindTaskUpdated, KindTaskDeleted, KindStatusChanged,
		KindTaskDone, KindTaskBlocked, KindTaskValidating, KindTaskDoing:
		return "gov.events.task." + kind
	case KindReflectionAdded, KindInsightCreated, KindInsightUpdated,
		KindInsightPromoted, KindPipelineBroken:
		return "gov.events.pipeline." + kind
	case KindNudge, KindEscalation, KindMutationAlert, KindDriftReport:
		return "gov.events.watch." + kind
	case KindWebhookDLQ:
		return "gov.events.webhook." + kind
	case KindChatMessage:
		return "gov.events.chat." + kind
	default:
		return "gov.events.misc." + kind
	}
}

// SubjectWildcard matches every steward event subject.
const SubjectWildcard = "gov.events.>"

// Event is the wire envelope for every steward domain event.
type Event struct {
	// Kind is one of the Kind* constants.
	Kind string `json:"kind"`
	// TaskID links the event to a task when applicable.
	TaskID string `json:"task_id,omitempty"`
	// Agent is the acting or affected agent.
	Agent string `json:"agent,omitempty"`
	// Topic is a free routing hint (channel name, cluster key).
	Topic string `json:"topic,omitempty"`
	// Data carries kind-specific fields.
	Data map[string]any `json:"data,omitempty"`
	// Timestamp is when the event was emitted.
	Timestamp time.Time `json:"timestamp"`
}

// Schema implements message.Payload.
func (e *Event) Schema() message.Type {
	return message.Type{Domain: "gov", Category: "event", Version: "v1"}
}

// Validate implements message.Payload.
func (e *Event) Validate() error {
	if e.Kind == "" {
		return fmt.Errorf("kind is required")
	}
	return nil
}

// MarshalJSON marshals the event to JSON.
func (e *Event) MarshalJSON() ([]byte, error) {
	type Alias Event
	return json.Marshal((*Alias)(e))
}

// UnmarshalJSON unmarshals the event from JSON.
func (e *Event) UnmarshalJSON(data []byte) error {
	type Alias Event
	return json.Unmarshal(data, (*Alias)(e))
}

// RegisterPayloads registers the event payload with a semstreams payload
// registry, so message.NewDecoder can reconstruct typed events from the
// wire.
func RegisterPayloads(reg *payloadregistry.Registry) error {
	return reg.Register(&payloadregistry.Registration{
		Domain:      "gov",
		Category:    "event",
		Version:     "v1",
		Description: "Steward governance domain event",
		Factory:     func() any { return &Event{} },
	})
}
