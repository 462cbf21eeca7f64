package document

import (
	"context"
	"fmt"
	"os"

	"github.com/kadirpekel/ragflow/internal/apperr"
	"github.com/kadirpekel/ragflow/internal/idgen"
	"github.com/kadirpekel/ragflow/internal/provider/embedding"
	"github.com/kadirpekel/ragflow/internal/rlog"
	"github.com/kadirpekel/ragflow/internal/tenant"
	"github.com/kadirpekel/ragflow/internal/vectorindex"
	"github.com/kadirpekel/ragflow/internal/worker"
)

// Pipeline wires the Document store, the tenant's EmbeddingProvider, and the
// Vector Index together into the upload->parse->chunk->embed->index flow,
// an ingest pipeline scheduled on the shared worker pool.
type Pipeline struct {
	docs      *Store
	tenants   *tenant.Store
	embedders *embedding.Registry
	index     vectorindex.Index
	pool      *worker.Pool
}

func NewPipeline(docs *Store, tenants *tenant.Store, embedders *embedding.Registry, index vectorindex.Index, pool *worker.Pool) *Pipeline {
	return &Pipeline{docs: docs, tenants: tenants, embedders: embedders, index: index, pool: pool}
}

// Ingest records a new Document in uploading status and schedules the
// background pipeline, returning the Document synchronously .
func (p *Pipeline) Ingest(ctx context.Context, tenantID, userID, filePath, filename, fileType string, fileSize int64) (*Document, error) {
	doc := &Document{
		ID:       idgen.New(),
		TenantID: tenantID,
		UserID:   userID,
		Filename: filename,
		FilePath: filePath,
		FileSize: fileSize,
		FileType: fileType,
	}
	if err := p.docs.Create(ctx, doc); err != nil {
		return nil, err
	}

	p.pool.Submit(context.WithoutCancel(ctx), tenantID, func(runCtx context.Context) error {
		if err := p.process(runCtx, tenantID, doc.ID, filePath, fileType); err != nil {
			rlog.With(tenantID, "document_id", doc.ID, "error", err).Error("document pipeline failed")
			_ = p.docs.SetStatus(context.WithoutCancel(runCtx), tenantID, doc.ID, StatusFailed, err.Error())
		}
		return nil
	})

	return doc, nil
}

// process runs the background half of Ingest: parse, chunk, embed, upsert,
// persist, complete. Any failure rolls back already-written chunks/vectors
// for this document_id, satisfying the retry-from-scratch idempotency
// invariant.
func (p *Pipeline) process(ctx context.Context, tenantID, documentID, filePath, fileType string) error {
	if err := p.docs.SetStatus(ctx, tenantID, documentID, StatusProcessing, ""); err != nil {
		return err
	}

	cfg, err := p.tenants.GetConfig(ctx, tenantID)
	if err != nil {
		return fmt.Errorf("failed to load tenant config: %w", err)
	}
	embedder, err := p.embedders.Resolve(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to resolve embedding provider: %w", err)
	}

	text, err := Parse(filePath, fileType)
	if err != nil {
		return fmt.Errorf("parse error: %w", err)
	}
	if len(text) == 0 {
		return &apperr.ValidationError{Msg: "document has no extractable content"}
	}

	chunks, err := Chunk(text, DefaultChunkParams(cfg.EmbeddingModel))
	if err != nil {
		return fmt.Errorf("failed to chunk document: %w", err)
	}
	if len(chunks) == 0 {
		return &apperr.ValidationError{Msg: "document has no extractable content"}
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Content
	}
	vectors, err := embedder.Embed(ctx, texts)
	if err != nil {
		return fmt.Errorf("failed to embed chunks: %w", err)
	}
	if len(vectors) != len(chunks) {
		return fmt.Errorf("embedding provider returned %d vectors for %d chunks", len(vectors), len(chunks))
	}

	// From-scratch retry semantics: wipe any prior chunks/vectors for this
	// document_id before writing the new set.
	if err := p.index.DeleteByDocument(ctx, tenantID, documentID); err != nil {
		return fmt.Errorf("failed to clear prior vectors: %w", err)
	}
	if err := p.docs.DeleteChunks(ctx, tenantID, documentID); err != nil {
		return fmt.Errorf("failed to clear prior chunks: %w", err)
	}

	if err := p.index.EnsureCollection(ctx, tenantID, embedder.Dimensions()); err != nil {
		return err
	}

	records := make([]vectorindex.Record, len(chunks))
	for i, c := range chunks {
		records[i] = vectorindex.Record{
			ID:         c.ID,
			DocumentID: documentID,
			ChunkIndex: c.ChunkIndex,
			Vector:     vectors[i],
			Content:    c.Content,
		}
	}
	if err := p.index.Upsert(ctx, tenantID, records); err != nil {
		if delErr := p.index.DeleteByDocument(ctx, tenantID, documentID); delErr != nil {
			rlog.With(tenantID, "document_id", documentID, "error", delErr).Error("failed to roll back partial upsert")
		}
		return fmt.Errorf("failed to upsert vectors: %w", err)
	}

	for _, c := range chunks {
		c.DocumentID = documentID
		c.TenantID = tenantID
	}
	if err := p.docs.ReplaceChunks(ctx, tenantID, documentID, chunks); err != nil {
		if delErr := p.index.DeleteByDocument(ctx, tenantID, documentID); delErr != nil {
			rlog.With(tenantID, "document_id", documentID, "error", delErr).Error("failed to roll back vectors after chunk persist failure")
		}
		return fmt.Errorf("failed to persist chunks: %w", err)
	}

	return p.docs.Complete(ctx, tenantID, documentID, len(chunks))
}

// Delete removes a document's file, chunks, and vectors, then marks it
// deleted (soft-deleted documents remain referable by existing
// operation rows, so the row itself is kept).
func (p *Pipeline) Delete(ctx context.Context, tenantID, documentID string) error {
	doc, err := p.docs.Get(ctx, tenantID, documentID)
	if err != nil {
		return err
	}
	if err := p.index.DeleteByDocument(ctx, tenantID, documentID); err != nil {
		return fmt.Errorf("failed to delete vectors: %w", err)
	}
	if err := p.docs.DeleteChunks(ctx, tenantID, documentID); err != nil {
		return fmt.Errorf("failed to delete chunks: %w", err)
	}
	if doc.FilePath != "" {
		_ = os.Remove(doc.FilePath)
	}
	return p.docs.SetStatus(ctx, tenantID, documentID, StatusDeleted, "")
}
