package calendar

import (
	"testing"
	"time"
)

func TestValidateCronSpec(t *testing.T) {
	tests := []struct {
		name    string
		spec    string
		wantErr bool
	}{
		{name: "every weekday morning", spec: "0 9 * * 1-5"},
		{name: "hourly", spec: "@hourly"},
		{name: "every five minutes", spec: "*/5 * * * *"},
		{name: "empty", spec: "", wantErr: true},
		{name: "too few fields", spec: "* * *", wantErr: true},
		{name: "garbage", spec: "not a cron", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sched, err := ValidateCronSpec(tt.spec)
			if tt.wantErr {
				if err == nil {
					t.Errorf("ValidateCronSpec(%q) expected error", tt.spec)
				}
				return
			}
			if err != nil {
				t.Fatalf("ValidateCronSpec(%q) unexpected error: %v", tt.spec, err)
			}
			now := time.Date(2025, 6, 2, 10, 30, 0, 0, time.UTC)
			if next := sched.Next(now); !next.After(now) {
				t.Errorf("Next(%v) = %v, want a future time", now, next)
			}
		})
	}
}

func TestCronNextAdvances(t *testing.T) {
	sched, err := ValidateCronSpec("0 9 * * 1-5")
	if err != nil {
		t.Fatal(err)
	}
	// Monday 10:00 rolls to Tuesday 09:00.
	monday := time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC)
	next := sched.Next(monday)
	want := time.Date(2025, 6, 3, 9, 0, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Errorf("Next(%v) = %v, want %v", monday, next, want)
	}
	// Friday 10:00 skips the weekend.
	friday := time.Date(2025, 6, 6, 10, 0, 0, 0, time.UTC)
	next = sched.Next(friday)
	want = time.Date(2025, 6, 9, 9, 0, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Errorf("Next(%v) = %v, want %v", friday, next, want)
	}
}
