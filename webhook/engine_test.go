package webhook

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/c360studio/steward/config"
	"github.com/c360studio/steward/events"
	"github.com/c360studio/steward/store"
)

func testEngine() *Engine {
	return NewEngine(nil, config.DefaultWebhooks(), events.NewPublisher(nil, nil), NewMetrics(nil), nil)
}

func TestNextDelayGrowsToCap(t *testing.T) {
	e := testEngine()

	var prev time.Duration
	for attempts := 1; attempts <= 10; attempts++ {
		delay := e.nextDelay(attempts)
		if delay <= 0 {
			t.Fatalf("attempt %d: non-positive delay %v", attempts, delay)
		}
		if delay > e.cfg.MaxBackoff {
			t.Fatalf("attempt %d: delay %v exceeds cap %v", attempts, delay, e.cfg.MaxBackoff)
		}
		// Jitter is 20%, so only assert meaningful growth between early
		// attempts.
		if attempts <= 3 && prev > 0 && delay < prev {
			t.Logf("attempt %d: delay %v below previous %v (jitter)", attempts, delay, prev)
		}
		prev = delay
	}

	if e.nextDelay(10) < e.cfg.MaxBackoff/2 {
		t.Errorf("late attempts should be near the cap, got %v", e.nextDelay(10))
	}
}

func TestReplayDepth(t *testing.T) {
	tests := []struct {
		name string
		meta map[string]string
		want int
	}{
		{name: "no metadata", meta: nil, want: 0},
		{name: "no depth key", meta: map[string]string{"x": "y"}, want: 0},
		{name: "depth 3", meta: map[string]string{"replay_depth": "3"}, want: 3},
		{name: "garbage depth", meta: map[string]string{"replay_depth": "zzz"}, want: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := replayDepth(&store.WebhookEvent{Metadata: tt.meta})
			if got != tt.want {
				t.Errorf("replayDepth = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestPostSetsDeliveryHeaders(t *testing.T) {
	var got http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	e := testEngine()
	ev := &store.WebhookEvent{
		ID:             "ev-1",
		IdempotencyKey: "key-1",
		Provider:       "github",
		EventType:      "task.done",
		TargetURL:      srv.URL,
		Payload:        []byte(`{"ok":true}`),
		Attempts:       2,
	}
	code, err := e.post(context.Background(), ev)
	if err != nil {
		t.Fatalf("post failed: %v", err)
	}
	if code != http.StatusNoContent {
		t.Errorf("status = %d", code)
	}
	want := map[string]string{
		"X-Webhook-ID":       "ev-1",
		"X-Idempotency-Key":  "key-1",
		"X-Webhook-Event":    "task.done",
		"X-Webhook-Provider": "github",
		"X-Webhook-Attempt":  "2",
	}
	for header, value := range want {
		if got.Get(header) != value {
			t.Errorf("%s = %q, want %q", header, got.Get(header), value)
		}
	}
	if ts := got.Get("X-Webhook-Timestamp"); ts == "" {
		t.Error("missing X-Webhook-Timestamp")
	} else if _, err := time.Parse(time.RFC3339, ts); err != nil {
		t.Errorf("timestamp %q is not RFC3339: %v", ts, err)
	}
}

func TestCleanupEligibility(t *testing.T) {
	now := time.Now().UTC()
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	tests := []struct {
		name string
		ev   store.WebhookEvent
		want bool
	}{
		{"expired delivered purges", store.WebhookEvent{Status: store.WebhookStatusDelivered, ExpiresAt: past}, true},
		{"unexpired delivered stays", store.WebhookEvent{Status: store.WebhookStatusDelivered, ExpiresAt: future}, false},
		{"expired dead letter stays", store.WebhookEvent{Status: store.WebhookStatusDeadLetter, ExpiresAt: past}, false},
		{"pending stays", store.WebhookEvent{Status: store.WebhookStatusPending, ExpiresAt: past}, false},
		{"retrying stays", store.WebhookEvent{Status: store.WebhookStatusRetrying, ExpiresAt: past}, false},
		{"zero expiry stays", store.WebhookEvent{Status: store.WebhookStatusDelivered}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := cleanupEligible(&tt.ev, now); got != tt.want {
				t.Errorf("cleanupEligible() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestPostNon2xxFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	e := testEngine()
	code, err := e.post(context.Background(), &store.WebhookEvent{TargetURL: srv.URL})
	if err == nil {
		t.Fatal("expected failure for 502")
	}
	if code != http.StatusBadGateway {
		t.Errorf("status = %d", code)
	}
}
