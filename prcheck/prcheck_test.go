package prcheck

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidURL(t *testing.T) {
	tests := []struct {
		url  string
		want bool
	}{
		{"https://github.com/acme/platform/pull/42", true},
		{"https://github.com/acme/repo.name/pull/1", true},
		{"https://github.com/acme/platform/pull/42/files", false},
		{"https://gitlab.com/acme/platform/pull/42", false},
		{"http://github.com/acme/platform/pull/42", false},
		{"https://github.com/acme/platform/issues/42", false},
		{"", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ValidURL(tt.url), "url %q", tt.url)
	}
}

func TestParseURL(t *testing.T) {
	owner, repo, number, err := ParseURL("https://github.com/acme/platform/pull/42")
	require.NoError(t, err)
	assert.Equal(t, "acme", owner)
	assert.Equal(t, "platform", repo)
	assert.Equal(t, 42, number)

	_, _, _, err = ParseURL("https://github.com/acme/platform")
	assert.Error(t, err)
}

func TestValidCommit(t *testing.T) {
	assert.True(t, ValidCommit("abc1234"))
	assert.True(t, ValidCommit("0123456789abcdef0123456789abcdef01234567"))
	assert.False(t, ValidCommit("abc123"))  // too short
	assert.False(t, ValidCommit("ABC1234")) // uppercase
	assert.False(t, ValidCommit("not-a-sha"))
}

func TestOfflineReturnsUnknown(t *testing.T) {
	pr, err := Offline{}.Lookup(context.Background(), "https://github.com/acme/platform/pull/7")
	require.NoError(t, err)
	assert.Equal(t, StateUnknown, pr.State)

	_, err = Offline{}.Lookup(context.Background(), "not a url")
	assert.Error(t, err)
}

func TestStubLookup(t *testing.T) {
	stub := NewStub()
	stub.Set("https://github.com/acme/platform/pull/7", &PR{
		HeadSHA: "abc1234",
		State:   StateOpen,
	})

	pr, err := stub.Lookup(context.Background(), "https://github.com/acme/platform/pull/7")
	require.NoError(t, err)
	assert.Equal(t, StateOpen, pr.State)
	assert.Equal(t, "abc1234", pr.HeadSHA)

	unregistered, err := stub.Lookup(context.Background(), "https://github.com/acme/platform/pull/8")
	require.NoError(t, err)
	assert.Equal(t, StateUnknown, unregistered.State)
}
