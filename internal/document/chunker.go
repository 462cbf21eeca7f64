package document

import (
	"strings"

	"github.com/kadirpekel/ragflow/internal/idgen"
)

// ChunkParams controls the token-bounded windowing used by Chunk.
type ChunkParams struct {
	Model       string
	TargetSize  int // target tokens per chunk
	OverlapSize int // tokens of overlap carried into the next chunk
}

// DefaultChunkParams returns a simple token-budget chunking policy.
func DefaultChunkParams(model string) ChunkParams {
	return ChunkParams{Model: model, TargetSize: 500, OverlapSize: 50}
}

// Chunk splits text into contiguous, token-bounded chunks of at most
// params.TargetSize tokens, each overlapping the previous by
// params.OverlapSize tokens. An empty document (no content after
// trimming) yields no chunks.
func Chunk(text string, params ChunkParams) ([]*Chunk, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil, nil
	}

	enc, err := encodingFor(params.Model)
	if err != nil {
		return nil, err
	}
	tokens := enc.Encode(trimmed, nil, nil)
	if len(tokens) == 0 {
		return nil, nil
	}

	target := params.TargetSize
	if target <= 0 {
		target = 500
	}
	overlap := params.OverlapSize
	if overlap < 0 || overlap >= target {
		overlap = 0
	}
	stride := target - overlap

	var chunks []*Chunk
	searchFrom := 0
	for start := 0; start < len(tokens); start += stride {
		end := start + target
		if end > len(tokens) {
			end = len(tokens)
		}

		content := enc.Decode(tokens[start:end])
		startChar, endChar, found := locate(trimmed, content, searchFrom)
		c := &Chunk{
			ID:         idgen.New(),
			ChunkIndex: len(chunks),
			Content:    content,
			TokenCount: end - start,
		}
		if found {
			c.StartChar = intPtr(startChar)
			c.EndChar = intPtr(endChar)
			searchFrom = startChar + 1
		}
		chunks = append(chunks, c)

		if end == len(tokens) {
			break
		}
	}

	return chunks, nil
}

// locate finds content's byte offsets within text, starting the search at
// from, to approximate character boundaries for a decoded token window
// (decoding can introduce leading/trailing whitespace drift).
func locate(text, content string, from int) (start, end int, found bool) {
	needle := strings.TrimSpace(content)
	if needle == "" || from > len(text) {
		return 0, 0, false
	}
	idx := strings.Index(text[from:], needle)
	if idx < 0 {
		idx = strings.Index(text, needle)
		if idx < 0 {
			return 0, 0, false
		}
		return idx, idx + len(needle), true
	}
	start = from + idx
	return start, start + len(needle), true
}

func intPtr(v int) *int { return &v }
