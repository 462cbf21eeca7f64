package provider

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRegistry_RegisterGetRemove(t *testing.T) {
	r := NewRegistry[string]()

	require.NoError(t, r.Register("openai", "openai-client"))
	require.Equal(t, 1, r.Count())

	got, ok := r.Get("openai")
	require.True(t, ok)
	require.Equal(t, "openai-client", got)

	_, ok = r.Get("missing")
	require.False(t, ok)

	r.Remove("openai")
	require.Equal(t, 0, r.Count())
	_, ok = r.Get("openai")
	require.False(t, ok)
}

func TestRegistry_RejectsEmptyName(t *testing.T) {
	r := NewRegistry[int]()
	err := r.Register("", 1)
	require.Error(t, err)
}

func TestRegistry_OverwritesExistingName(t *testing.T) {
	r := NewRegistry[int]()
	require.NoError(t, r.Register("k", 1))
	require.NoError(t, r.Register("k", 2))
	require.Equal(t, 1, r.Count())

	got, ok := r.Get("k")
	require.True(t, ok)
	require.Equal(t, 2, got)
}
