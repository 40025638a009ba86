package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveDefaultsWhenEmpty(t *testing.T) {
	r := NewDefaultRegistry()

	res, ok := r.Resolve("")
	require.True(t, ok)
	assert.Equal(t, "claude-sonnet", res.Alias)
	assert.Equal(t, "claude-sonnet-4-20250514", res.Effective)
	assert.True(t, res.Defaulted)
}

func TestResolveKnownAlias(t *testing.T) {
	r := NewDefaultRegistry()

	res, ok := r.Resolve("qwen")
	require.True(t, ok)
	assert.Equal(t, "qwen2.5-coder:14b", res.Effective)
	assert.False(t, res.Defaulted)
}

func TestResolveUnknownAlias(t *testing.T) {
	r := NewDefaultRegistry()

	_, ok := r.Resolve("gpt-99")
	assert.False(t, ok)
	assert.False(t, r.Known("gpt-99"))
}

func TestAliasesSorted(t *testing.T) {
	r := NewRegistry(map[string]string{"b": "model-b", "a": "model-a", "c": "model-c"}, "a")
	assert.Equal(t, []string{"a", "b", "c"}, r.Aliases())
}

func TestDefaultWithoutAliasEntry(t *testing.T) {
	// A default alias not present in the map resolves to itself.
	r := NewRegistry(map[string]string{"x": "model-x"}, "bare-model")
	res, ok := r.Resolve("")
	require.True(t, ok)
	assert.Equal(t, "bare-model", res.Effective)
	assert.True(t, res.Defaulted)
}
