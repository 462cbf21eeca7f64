package vectorindex

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestChromem(t *testing.T) *Chromem {
	t.Helper()
	idx, err := NewChromem("")
	require.NoError(t, err)
	return idx
}

func TestChromemEnsureCollectionDimensionMismatch(t *testing.T) {
	ctx := context.Background()
	idx := newTestChromem(t)

	require.NoError(t, idx.EnsureCollection(ctx, "tenant-a", 1536))
	require.NoError(t, idx.EnsureCollection(ctx, "tenant-a", 1536))

	err := idx.EnsureCollection(ctx, "tenant-a", 768)
	require.Error(t, err)
}

func TestChromemUpsertAndSearchScopedByTenant(t *testing.T) {
	ctx := context.Background()
	idx := newTestChromem(t)

	require.NoError(t, idx.EnsureCollection(ctx, "tenant-a", 3))
	require.NoError(t, idx.EnsureCollection(ctx, "tenant-b", 3))

	require.NoError(t, idx.Upsert(ctx, "tenant-a", []Record{
		{ID: "a1", DocumentID: "doc-1", ChunkIndex: 0, Vector: []float32{1, 0, 0}, Content: "alpha"},
	}))
	require.NoError(t, idx.Upsert(ctx, "tenant-b", []Record{
		{ID: "b1", DocumentID: "doc-2", ChunkIndex: 0, Vector: []float32{1, 0, 0}, Content: "beta"},
	}))

	results, err := idx.Search(ctx, "tenant-a", []float32{1, 0, 0}, 10, nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "alpha", results[0].Content)
	assert.Equal(t, "doc-1", results[0].DocumentID)
}

func TestChromemDeleteByDocument(t *testing.T) {
	ctx := context.Background()
	idx := newTestChromem(t)
	require.NoError(t, idx.EnsureCollection(ctx, "tenant-a", 3))

	require.NoError(t, idx.Upsert(ctx, "tenant-a", []Record{
		{ID: "c1", DocumentID: "doc-1", ChunkIndex: 0, Vector: []float32{1, 0, 0}, Content: "one"},
		{ID: "c2", DocumentID: "doc-1", ChunkIndex: 1, Vector: []float32{0, 1, 0}, Content: "two"},
		{ID: "c3", DocumentID: "doc-2", ChunkIndex: 0, Vector: []float32{0, 0, 1}, Content: "three"},
	}))

	require.NoError(t, idx.DeleteByDocument(ctx, "tenant-a", "doc-1"))

	results, err := idx.Search(ctx, "tenant-a", []float32{1, 0, 0}, 10, nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "doc-2", results[0].DocumentID)
}
