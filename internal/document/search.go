package document

import (
	"context"
	"fmt"

	"github.com/kadirpekel/ragflow/internal/provider/embedding"
	"github.com/kadirpekel/ragflow/internal/tenant"
	"github.com/kadirpekel/ragflow/internal/vectorindex"
)

// Searcher embeds a query with the tenant's configured model (the same one
// used at ingest) and ranks chunks against it.
type Searcher struct {
	docs      *Store
	tenants   *tenant.Store
	embedders *embedding.Registry
	index     vectorindex.Index
}

func NewSearcher(docs *Store, tenants *tenant.Store, embedders *embedding.Registry, index vectorindex.Index) *Searcher {
	return &Searcher{docs: docs, tenants: tenants, embedders: embedders, index: index}
}

// Search embeds query and returns the top-k chunks scoring at least
// minScore, optionally narrowed by filter (e.g. {"document_id": "..."} for
// a session's attached documents). Isolation is enforced by the Index
// implementation, never by filtering after the fact.
func (s *Searcher) Search(ctx context.Context, tenantID, query string, k int, minScore float32, filter vectorindex.Filter) ([]SearchHit, error) {
	cfg, err := s.tenants.GetConfig(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to load tenant config: %w", err)
	}
	embedder, err := s.embedders.Resolve(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve embedding provider: %w", err)
	}

	vectors, err := embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}
	if len(vectors) == 0 {
		return nil, fmt.Errorf("embedding provider returned no vector for query")
	}

	results, err := s.index.Search(ctx, tenantID, vectors[0], k, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to search vector index: %w", err)
	}

	filenames := make(map[string]string)
	hits := make([]SearchHit, 0, len(results))
	for _, r := range results {
		if r.Score < minScore {
			continue
		}
		filename, ok := filenames[r.DocumentID]
		if !ok {
			if d, derr := s.docs.Get(ctx, tenantID, r.DocumentID); derr == nil {
				filename = d.Filename
			}
			filenames[r.DocumentID] = filename
		}
		hits = append(hits, SearchHit{
			ChunkID:          r.ID,
			DocumentID:       r.DocumentID,
			DocumentFilename: filename,
			Content:          r.Content,
			Score:            r.Score,
			ChunkIndex:       r.ChunkIndex,
		})
	}
	return hits, nil
}
