package document

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChunkEmptyDocumentYieldsNoChunks(t *testing.T) {
	chunks, err := Chunk("   \n\t  ", DefaultChunkParams(""))
	require.NoError(t, err)
	assert.Empty(t, chunks)
}

func TestChunkShortTextYieldsSingleChunk(t *testing.T) {
	chunks, err := Chunk("the quick brown fox jumps over the lazy dog", DefaultChunkParams(""))
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, 0, chunks[0].ChunkIndex)
	assert.Contains(t, chunks[0].Content, "fox")
}

func TestChunkLongTextProducesOverlappingWindows(t *testing.T) {
	word := "lorem "
	text := strings.Repeat(word, 2000)

	params := ChunkParams{Model: "", TargetSize: 100, OverlapSize: 20}
	chunks, err := Chunk(text, params)
	require.NoError(t, err)
	require.Greater(t, len(chunks), 1)

	for i, c := range chunks {
		assert.Equal(t, i, c.ChunkIndex)
		assert.LessOrEqual(t, c.TokenCount, params.TargetSize)
		assert.Greater(t, c.TokenCount, 0)
	}
}
