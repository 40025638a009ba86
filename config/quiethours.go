package config

import "time"

// InEffect reports whether t falls inside the quiet window, evaluated in
// the window's own timezone. An unknown timezone falls back to UTC rather
// than disabling suppression. start == end means the window covers the
// whole day.
func (q QuietHoursConfig) InEffect(t time.Time) bool {
	if !q.Enabled {
		return false
	}
	loc, err := time.LoadLocation(q.Timezone)
	if err != nil {
		loc = time.UTC
	}
	hour := t.In(loc).Hour()

	switch {
	case q.StartHour == q.EndHour:
		return true
	case q.StartHour < q.EndHour:
		return hour >= q.StartHour && hour < q.EndHour
	default:
		// Overnight window wraps midnight.
		return hour >= q.StartHour || hour < q.EndHour
	}
}
