package task

import (
	"net/http"
	"testing"

	"github.com/c360studio/steward/store"
)

func TestPrefixFailureStatus(t *testing.T) {
	tests := []struct {
		name  string
		match store.PrefixMatch
		want  int
	}{
		{"no match is 404", store.PrefixMatch{}, http.StatusNotFound},
		{
			"ambiguous prefix is a caller error",
			store.PrefixMatch{Candidates: []string{"task-aa11", "task-aa22"}},
			http.StatusBadRequest,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := prefixFailureStatus(&tt.match); got != tt.want {
				t.Errorf("prefixFailureStatus() = %d, want %d", got, tt.want)
			}
		})
	}
}
