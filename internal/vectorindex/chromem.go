package vectorindex

import (
	"context"
	"fmt"
	"runtime"
	"sync"

	"github.com/philippgille/chromem-go"
)

// Chromem implements Index using the embedded chromem-go store, for
// single-process deployments that want no external vector service.
type Chromem struct {
	db          *chromem.DB
	persistPath string

	mu          sync.RWMutex
	collections map[string]*chromem.Collection
	dimensions  map[string]int
}

func identityEmbeddingFunc(_ context.Context, _ string) ([]float32, error) {
	return nil, fmt.Errorf("chromem embedding func invoked; ragflow always supplies precomputed vectors")
}

// NewChromem opens (or creates) a chromem-go database. An empty
// persistPath keeps everything in memory.
func NewChromem(persistPath string) (*Chromem, error) {
	var db *chromem.DB
	if persistPath != "" {
		loaded, err := chromem.NewPersistentDB(persistPath, true)
		if err != nil {
			db = chromem.NewDB()
		} else {
			db = loaded
		}
	} else {
		db = chromem.NewDB()
	}

	return &Chromem{
		db:          db,
		persistPath: persistPath,
		collections: make(map[string]*chromem.Collection),
		dimensions:  make(map[string]int),
	}, nil
}

func (c *Chromem) getCollection(name string) (*chromem.Collection, error) {
	c.mu.RLock()
	if col, ok := c.collections[name]; ok {
		c.mu.RUnlock()
		return col, nil
	}
	c.mu.RUnlock()

	c.mu.Lock()
	defer c.mu.Unlock()
	if col, ok := c.collections[name]; ok {
		return col, nil
	}

	col, err := c.db.GetOrCreateCollection(name, nil, identityEmbeddingFunc)
	if err != nil {
		return nil, fmt.Errorf("failed to get/create collection %q: %w", name, err)
	}
	c.collections[name] = col
	return col, nil
}

func (c *Chromem) EnsureCollection(ctx context.Context, tenantID string, dimension int) error {
	name := collectionName(tenantID)
	if _, err := c.getCollection(name); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	existing, ok := c.dimensions[name]
	if !ok {
		c.dimensions[name] = dimension
		return nil
	}
	if existing != dimension {
		return errDimensionMismatch(tenantID, existing, dimension)
	}
	return nil
}

func (c *Chromem) Upsert(ctx context.Context, tenantID string, records []Record) error {
	if len(records) == 0 {
		return nil
	}
	col, err := c.getCollection(collectionName(tenantID))
	if err != nil {
		return err
	}

	docs := make([]chromem.Document, len(records))
	for i, r := range records {
		meta := make(map[string]string, len(r.Metadata)+2)
		for k, v := range r.Metadata {
			meta[k] = v
		}
		meta["document_id"] = r.DocumentID
		meta["chunk_index"] = fmt.Sprint(r.ChunkIndex)

		docs[i] = chromem.Document{
			ID:        r.ID,
			Content:   r.Content,
			Metadata:  meta,
			Embedding: r.Vector,
		}
	}

	if err := col.AddDocuments(ctx, docs, runtime.NumCPU()); err != nil {
		return fmt.Errorf("failed to upsert vectors: %w", err)
	}
	return nil
}

func (c *Chromem) Search(ctx context.Context, tenantID string, vector []float32, topK int, filter Filter) ([]Result, error) {
	col, err := c.getCollection(collectionName(tenantID))
	if err != nil {
		return nil, err
	}

	n := topK
	if n > col.Count() {
		n = col.Count()
	}
	if n == 0 {
		return nil, nil
	}

	var where map[string]string
	if len(filter) > 0 {
		where = map[string]string(filter)
	}

	results, err := col.QueryEmbedding(ctx, vector, n, where, nil)
	if err != nil {
		return nil, fmt.Errorf("vector search failed: %w", err)
	}

	out := make([]Result, len(results))
	for i, r := range results {
		var chunkIndex int
		fmt.Sscanf(r.Metadata["chunk_index"], "%d", &chunkIndex)
		out[i] = Result{
			ID:         r.ID,
			DocumentID: r.Metadata["document_id"],
			ChunkIndex: chunkIndex,
			Content:    r.Content,
			Score:      r.Similarity,
			Metadata:   r.Metadata,
		}
	}
	return out, nil
}

func (c *Chromem) DeleteByDocument(ctx context.Context, tenantID string, documentID string) error {
	col, err := c.getCollection(collectionName(tenantID))
	if err != nil {
		return err
	}
	if err := col.Delete(ctx, map[string]string{"document_id": documentID}, nil); err != nil {
		return fmt.Errorf("failed to delete vectors for document %s: %w", documentID, err)
	}
	return nil
}

func (c *Chromem) Close() error {
	if c.persistPath == "" {
		return nil
	}
	if err := c.db.Export(c.persistPath, true, ""); err != nil {
		return fmt.Errorf("failed to persist chromem database: %w", err)
	}
	return nil
}

var _ Index = (*Chromem)(nil)
