package watchdog

import (
	"testing"
	"time"

	"github.com/c360studio/steward/config"
)

func TestIdleVerdict(t *testing.T) {
	cfg := config.WatchdogConfig{IdleWarnMin: 15, IdleEscalateMin: 45}
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name         string
		lastActivity time.Time
		want         string
	}{
		{
			name:         "never seen",
			lastActivity: time.Time{},
			want:         idleNone,
		},
		{
			name:         "active recently",
			lastActivity: now.Add(-5 * time.Minute),
			want:         idleNone,
		},
		{
			name:         "just under the warn line",
			lastActivity: now.Add(-14 * time.Minute),
			want:         idleNone,
		},
		{
			name:         "at the warn line",
			lastActivity: now.Add(-15 * time.Minute),
			want:         idleWarn,
		},
		{
			name:         "between warn and escalate",
			lastActivity: now.Add(-30 * time.Minute),
			want:         idleWarn,
		},
		{
			name:         "at the escalate line",
			lastActivity: now.Add(-45 * time.Minute),
			want:         idleEscalate,
		},
		{
			name:         "long gone",
			lastActivity: now.Add(-3 * time.Hour),
			want:         idleEscalate,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := idleVerdict(tt.lastActivity, now, cfg)
			if got != tt.want {
				t.Errorf("idleVerdict() = %q, want %q", got, tt.want)
			}
		})
	}
}
