package chat

import (
	"reflect"
	"testing"
)

func TestExtractMentions(t *testing.T) {
	tests := []struct {
		name string
		body string
		want []string
	}{
		{
			name: "single mention",
			body: "hey @worker-a can you look at this",
			want: []string{"worker-a"},
		},
		{
			name: "multiple mentions deduped",
			body: "@Worker-A ping @reviewer_b and @worker-a again",
			want: []string{"worker-a", "reviewer_b"},
		},
		{
			name: "no mentions",
			body: "nothing to see here",
			want: nil,
		},
		{
			name: "email-like text still matches the handle",
			body: "contact ops@example about it",
			want: []string{"example"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ExtractMentions(tt.body)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("ExtractMentions(%q) = %v, want %v", tt.body, got, tt.want)
			}
		})
	}
}
