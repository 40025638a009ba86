package watchdog

import (
	"testing"
	"time"
)

func TestWorkerIntervals(t *testing.T) {
	deps := &Deps{}

	exact := map[string]struct {
		worker Worker
		want   time.Duration
	}{
		"idle fires every minute":      {NewIdleWorker(deps), time.Minute},
		"cadence fires every minute":   {NewCadenceWorker(deps), time.Minute},
		"mention rescues inside 30s":   {NewMentionWorker(deps), 30 * time.Second},
		"reminders poll every minute":  {NewReminderWorker(deps), time.Minute},
	}
	for name, tt := range exact {
		if got := tt.worker.Interval(); got != tt.want {
			t.Errorf("%s: interval = %s, want %s", name, got, tt.want)
		}
	}

	floors := map[string]struct {
		worker Worker
		floor  time.Duration
	}{
		"board health is not hot-looped": {NewBoardWorker(deps), 5 * time.Minute},
		"sweeper is not hot-looped":      {NewSweeperWorker(deps), 5 * time.Minute},
	}
	for name, tt := range floors {
		if got := tt.worker.Interval(); got < tt.floor {
			t.Errorf("%s: interval = %s, floor %s", name, got, tt.floor)
		}
	}
}
