package sse

import (
	"testing"

	"github.com/c360studio/steward/events"
)

func TestFilterMatch(t *testing.T) {
	tests := []struct {
		name   string
		filter Filter
		event  events.Event
		want   bool
	}{
		{
			name:   "zero filter matches everything",
			filter: Filter{},
			event:  events.Event{Kind: events.KindTaskDone, Agent: "worker-a"},
			want:   true,
		},
		{
			name:   "agent match is case-insensitive",
			filter: Filter{Agent: "Worker-A"},
			event:  events.Event{Kind: events.KindTaskDone, Agent: "worker-a"},
			want:   true,
		},
		{
			name:   "agent mismatch",
			filter: Filter{Agent: "worker-b"},
			event:  events.Event{Kind: events.KindTaskDone, Agent: "worker-a"},
			want:   false,
		},
		{
			name:   "kind set filters",
			filter: Filter{Kinds: map[string]bool{events.KindEscalation: true}},
			event:  events.Event{Kind: events.KindTaskDone},
			want:   false,
		},
		{
			name:   "kind in set passes",
			filter: Filter{Kinds: map[string]bool{events.KindTaskDone: true, events.KindEscalation: true}},
			event:  events.Event{Kind: events.KindTaskDone},
			want:   true,
		},
		{
			name:   "task filter",
			filter: Filter{TaskID: "t-1"},
			event:  events.Event{Kind: events.KindTaskUpdated, TaskID: "t-2"},
			want:   false,
		},
		{
			name:   "topic filter",
			filter: Filter{Topics: map[string]bool{"agent-worker-a": true}},
			event:  events.Event{Kind: events.KindNudge, Topic: "agent-worker-a"},
			want:   true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.filter.Match(tt.event); got != tt.want {
				t.Errorf("Match() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestBrokerDropsOldestWhenFull(t *testing.T) {
	b := NewBroker(nil)
	sub := b.subscribe(Filter{})
	defer b.unsubscribe(sub)

	for i := 0; i < queueSize+10; i++ {
		b.Publish(events.Event{Kind: events.KindTaskUpdated, TaskID: "t"})
	}

	if got := sub.dropped.Load(); got != 10 {
		t.Errorf("dropped = %d, want 10", got)
	}
	if len(sub.ch) != queueSize {
		t.Errorf("queue length = %d, want %d", len(sub.ch), queueSize)
	}

	stats := b.Stats()
	if stats["subscribers"].(int) != 1 {
		t.Errorf("subscribers = %v, want 1", stats["subscribers"])
	}
}

func TestBrokerFiltersPerSubscriber(t *testing.T) {
	b := NewBroker(nil)
	all := b.subscribe(Filter{})
	onlyDone := b.subscribe(Filter{Kinds: map[string]bool{events.KindTaskDone: true}})
	defer b.unsubscribe(all)
	defer b.unsubscribe(onlyDone)

	b.Publish(events.Event{Kind: events.KindTaskUpdated})
	b.Publish(events.Event{Kind: events.KindTaskDone})

	if len(all.ch) != 2 {
		t.Errorf("unfiltered subscriber got %d events, want 2", len(all.ch))
	}
	if len(onlyDone.ch) != 1 {
		t.Errorf("filtered subscriber got %d events, want 1", len(onlyDone.ch))
	}
}
