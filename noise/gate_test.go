package noise

import (
	"strings"
	"testing"
)

func TestAlertKeyNormalization(t *testing.T) {
	tests := []struct {
		name      string
		a, b      string
		wantEqual bool
	}{
		{
			name:      "timestamps collapse",
			a:         "job failed at 2026-08-26T10:15:00Z",
			b:         "job failed at 2026-08-26T11:42:13Z",
			wantEqual: true,
		},
		{
			name:      "iso and space-separated timestamps collapse",
			a:         "job failed at 2026-08-26T10:15:00Z",
			b:         "job failed at 2026-08-26 11:42:13+02:00",
			wantEqual: true,
		},
		{
			name:      "uuids collapse",
			a:         "task 11111111-2222-3333-4444-555555555555 stuck",
			b:         "task 99999999-8888-7777-6666-555555555555 stuck",
			wantEqual: true,
		},
		{
			name:      "counts collapse",
			a:         "queue depth is 42",
			b:         "queue depth is 7",
			wantEqual: true,
		},
		{
			name:      "case and spacing collapse",
			a:         "Deploy   FAILED",
			b:         "deploy failed",
			wantEqual: true,
		},
		{
			name:      "different text splits",
			a:         "deploy failed",
			b:         "deploy succeeded",
			wantEqual: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ka := AlertKey("ops", tt.a)
			kb := AlertKey("ops", tt.b)
			if (ka == kb) != tt.wantEqual {
				t.Errorf("keys %q vs %q, wantEqual=%v", ka, kb, tt.wantEqual)
			}
		})
	}
}

func TestAlertKeyChannelScoped(t *testing.T) {
	if AlertKey("ops", "deploy failed") == AlertKey("dev", "deploy failed") {
		t.Error("same body on different channels must not share a key")
	}
}

func TestDigestBody(t *testing.T) {
	body := DigestBody([]Message{
		{Channel: "ops", Author: "steward", Body: "nudge: worker-a idle"},
		{Channel: "ops", Author: "steward", Body: strings.Repeat("x", 200)},
	})
	if !strings.Contains(body, "2 diverted") {
		t.Errorf("missing count header: %q", body)
	}
	if !strings.Contains(body, "nudge: worker-a idle") {
		t.Error("missing message body")
	}
	if !strings.Contains(body, "...") {
		t.Error("long bodies should be truncated")
	}
}
