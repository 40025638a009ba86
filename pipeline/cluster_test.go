package pipeline

import "testing"

func TestClusterKey(t *testing.T) {
	tests := []struct {
		name      string
		tagsA     []string
		painA     string
		tagsB     []string
		painB     string
		wantEqual bool
	}{
		{
			name:      "identical inputs cluster",
			tagsA:     []string{"ci", "flaky"},
			painA:     "CI keeps timing out on the integration suite",
			tagsB:     []string{"ci", "flaky"},
			painB:     "CI keeps timing out on the integration suite",
			wantEqual: true,
		},
		{
			name:      "tag order and case are normalized",
			tagsA:     []string{"Flaky", "CI"},
			painA:     "CI keeps timing out",
			tagsB:     []string{"ci", "flaky"},
			painB:     "ci keeps timing out",
			wantEqual: true,
		},
		{
			name:      "punctuation and spacing are ignored",
			tagsA:     []string{"ci"},
			painA:     "CI keeps   timing-out!!",
			tagsB:     []string{"ci"},
			painB:     "ci keeps timing out",
			wantEqual: true,
		},
		{
			name:      "different pain splits the cluster",
			tagsA:     []string{"ci"},
			painA:     "CI keeps timing out",
			tagsB:     []string{"ci"},
			painB:     "deploy script deletes the cache",
			wantEqual: false,
		},
		{
			name:      "different tags split the cluster",
			tagsA:     []string{"ci"},
			painA:     "CI keeps timing out",
			tagsB:     []string{"deploy"},
			painB:     "CI keeps timing out",
			wantEqual: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := ClusterKey(tt.tagsA, tt.painA)
			b := ClusterKey(tt.tagsB, tt.painB)
			if (a == b) != tt.wantEqual {
				t.Errorf("keys %q vs %q, wantEqual=%v", a, b, tt.wantEqual)
			}
			if len(a) != 16 {
				t.Errorf("key length = %d, want 16", len(a))
			}
		})
	}
}

func TestClusterKeyLongPainTruncated(t *testing.T) {
	long := ""
	for i := 0; i < 50; i++ {
		long += "repeated pain text "
	}
	a := ClusterKey(nil, long)
	b := ClusterKey(nil, long+"different tail beyond the digest window")
	if a != b {
		t.Error("pain beyond the digest window should not affect the key")
	}
}

func TestSeverityWeightMonotonic(t *testing.T) {
	if severityWeight("critical") <= severityWeight("high") ||
		severityWeight("high") <= severityWeight("medium") ||
		severityWeight("medium") <= severityWeight("low") {
		t.Error("severity weights must be strictly decreasing")
	}
}

func TestAppendAuthorDedupes(t *testing.T) {
	authors := appendAuthor([]string{"alice"}, "Alice")
	if len(authors) != 1 {
		t.Fatalf("case-insensitive duplicate kept: %v", authors)
	}
	authors = appendAuthor(authors, "bob")
	if len(authors) != 2 {
		t.Fatalf("distinct author dropped: %v", authors)
	}
}
