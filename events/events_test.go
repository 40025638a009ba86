package events

import (
	"strings"
	"testing"

	"github.com/c360studio/semstreams/payloadregistry"
)

func TestRegisterPayloads(t *testing.T) {
	reg := payloadregistry.New()
	if err := RegisterPayloads(reg); err != nil {
		t.Fatalf("RegisterPayloads: %v", err)
	}
	payload := reg.Create("gov", "event", "v1")
	if _, ok := payload.(*Event); !ok {
		t.Fatalf("factory produced %T, want *Event", payload)
	}
	if err := RegisterPayloads(reg); err == nil {
		t.Error("double registration should fail")
	}
}

func TestSubjectRouting(t *testing.T) {
	tests := []struct {
		kind string
		want string
	}{
		{KindTaskCreated, "gov.events.task.task_created"},
		{KindTaskDeleted, "gov.events.task.task_deleted"},
		{KindInsightPromoted, "gov.events.pipeline.insight_promoted"},
		{KindNudge, "gov.events.watch.nudge"},
		{KindWebhookDLQ, "gov.events.webhook.webhook_dlq"},
		{KindChatMessage, "gov.events.chat.chat_message"},
		{"unmapped", "gov.events.misc.unmapped"},
	}
	for _, tt := range tests {
		if got := Subject(tt.kind); got != tt.want {
			t.Errorf("Subject(%s) = %q, want %q", tt.kind, got, tt.want)
		}
	}
	for _, tt := range tests {
		if !strings.HasPrefix(tt.want, "gov.events.") {
			t.Errorf("subject %q escapes the wildcard", tt.want)
		}
	}
}

func TestEventValidate(t *testing.T) {
	ev := &Event{}
	if err := ev.Validate(); err == nil {
		t.Error("kind-less event should not validate")
	}
	ev.Kind = KindTaskCreated
	if err := ev.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}
