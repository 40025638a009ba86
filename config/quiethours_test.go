package config

import (
	"testing"
	"time"
)

func TestQuietHoursInEffect(t *testing.T) {
	at := func(hour int) time.Time {
		return time.Date(2025, 6, 2, hour, 30, 0, 0, time.UTC)
	}

	tests := []struct {
		name string
		cfg  QuietHoursConfig
		t    time.Time
		want bool
	}{
		{
			name: "disabled never suppresses",
			cfg:  QuietHoursConfig{Enabled: false, StartHour: 0, EndHour: 23, Timezone: "UTC"},
			t:    at(3),
			want: false,
		},
		{
			name: "overnight window covers late evening",
			cfg:  QuietHoursConfig{Enabled: true, StartHour: 23, EndHour: 8, Timezone: "UTC"},
			t:    at(23),
			want: true,
		},
		{
			name: "overnight window covers early morning",
			cfg:  QuietHoursConfig{Enabled: true, StartHour: 23, EndHour: 8, Timezone: "UTC"},
			t:    at(3),
			want: true,
		},
		{
			name: "overnight window open at midday",
			cfg:  QuietHoursConfig{Enabled: true, StartHour: 23, EndHour: 8, Timezone: "UTC"},
			t:    at(12),
			want: false,
		},
		{
			name: "same-day window",
			cfg:  QuietHoursConfig{Enabled: true, StartHour: 12, EndHour: 14, Timezone: "UTC"},
			t:    at(13),
			want: true,
		},
		{
			name: "same-day window end is exclusive",
			cfg:  QuietHoursConfig{Enabled: true, StartHour: 12, EndHour: 14, Timezone: "UTC"},
			t:    at(14),
			want: false,
		},
		{
			name: "start equals end covers the whole day",
			cfg:  QuietHoursConfig{Enabled: true, StartHour: 9, EndHour: 9, Timezone: "UTC"},
			t:    at(15),
			want: true,
		},
		{
			name: "timezone shifts the window",
			// 23:00 in New York is 03:00 UTC the next day (June, EDT).
			cfg:  QuietHoursConfig{Enabled: true, StartHour: 23, EndHour: 8, Timezone: "America/New_York"},
			t:    at(3),
			want: true,
		},
		{
			name: "unknown timezone falls back to UTC",
			cfg:  QuietHoursConfig{Enabled: true, StartHour: 2, EndHour: 5, Timezone: "Not/AZone"},
			t:    at(3),
			want: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.cfg.InEffect(tt.t); got != tt.want {
				t.Errorf("InEffect(%v) = %v, want %v", tt.t, got, tt.want)
			}
		})
	}
}
