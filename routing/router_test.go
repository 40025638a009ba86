package routing

import (
	"testing"
	"time"

	"github.com/c360studio/steward/store"
)

func TestProtectedMatching(t *testing.T) {
	r := New(nil, nil, nil, []string{"auth/**", "billing", "infra/prod/**"}, nil)

	tests := []struct {
		name string
		task store.Task
		want bool
	}{
		{
			name: "tag match",
			task: store.Task{Tags: []string{"billing"}},
			want: true,
		},
		{
			name: "no match",
			task: store.Task{Tags: []string{"docs"}},
			want: false,
		},
		{
			name: "changed file under protected tree",
			task: store.Task{Metadata: map[string]any{
				"qa_bundle": map[string]any{
					"review_packet": map[string]any{
						"changed_files": []any{"auth/session/token.go"},
					},
				},
			}},
			want: true,
		},
		{
			name: "changed file outside protected tree",
			task: store.Task{Metadata: map[string]any{
				"qa_bundle": map[string]any{
					"review_packet": map[string]any{
						"changed_files": []any{"docs/readme.md"},
					},
				},
			}},
			want: false,
		},
		{
			name: "deep glob",
			task: store.Task{Metadata: map[string]any{
				"qa_bundle": map[string]any{
					"review_packet": map[string]any{
						"changed_files": []any{"infra/prod/k8s/deploy.yaml"},
					},
				},
			}},
			want: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, _ := r.Protected(&tt.task)
			if got != tt.want {
				t.Errorf("Protected = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestValidateOverride(t *testing.T) {
	future := time.Now().Add(time.Hour)
	tests := []struct {
		name    string
		o       store.RoutingOverride
		wantErr bool
	}{
		{
			name: "valid",
			o:    store.RoutingOverride{TagPattern: "infra/**", Target: "worker-b", ExpiresAt: future},
		},
		{
			name:    "missing pattern",
			o:       store.RoutingOverride{Target: "worker-b", ExpiresAt: future},
			wantErr: true,
		},
		{
			name:    "missing target",
			o:       store.RoutingOverride{TagPattern: "infra/**", ExpiresAt: future},
			wantErr: true,
		},
		{
			name:    "missing expiry",
			o:       store.RoutingOverride{TagPattern: "infra/**", Target: "worker-b"},
			wantErr: true,
		},
		{
			name:    "past expiry",
			o:       store.RoutingOverride{TagPattern: "infra/**", Target: "worker-b", ExpiresAt: time.Now().Add(-time.Hour)},
			wantErr: true,
		},
		{
			name:    "bad glob",
			o:       store.RoutingOverride{TagPattern: "infra/[", Target: "worker-b", ExpiresAt: future},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateOverride(&tt.o)
			if (err != nil) != tt.wantErr {
				t.Errorf("err = %v, wantErr = %v", err, tt.wantErr)
			}
		})
	}
}
