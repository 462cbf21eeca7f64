// Package vectorindex implements the tenant-scoped vector index
// abstraction backing document search and retrieval-augmented answers.
package vectorindex

import (
	"context"
	"fmt"

	"github.com/kadirpekel/ragflow/internal/apperr"
)

// Record is one chunk vector to be indexed.
type Record struct {
	ID         string
	DocumentID string
	ChunkIndex int
	Vector     []float32
	Content    string
	Metadata   map[string]string
}

// Result is one ranked match from a similarity search.
type Result struct {
	ID         string
	DocumentID string
	ChunkIndex int
	Content    string
	Score      float32
	Metadata   map[string]string
}

// Filter narrows a search to chunks matching every key/value pair exactly,
// e.g. {"document_id": "..."} to restrict a search to a session's attached
// documents.
type Filter map[string]string

// Index is the tenant-scoped vector store contract every backend
// implements. Every method takes an explicit tenantID and never reads
// state shared across tenants.
type Index interface {
	// EnsureCollection creates the tenant's collection if absent and
	// records its dimension. Returns a *apperr.ConflictError if dimension
	// differs from the one this Index instance recorded for the tenant on
	// an earlier call; the dimension of a collection already present in the
	// backend from an earlier process is not inspected.
	EnsureCollection(ctx context.Context, tenantID string, dimension int) error

	Upsert(ctx context.Context, tenantID string, records []Record) error

	Search(ctx context.Context, tenantID string, vector []float32, topK int, filter Filter) ([]Result, error)

	DeleteByDocument(ctx context.Context, tenantID string, documentID string) error

	Close() error
}

// collectionName derives the backend-level collection/namespace name from
// a tenant id, keeping every tenant's vectors in a physically separate
// collection rather than relying on filtered search alone for isolation.
func collectionName(tenantID string) string {
	return "ragflow_tenant_" + tenantID
}

func errDimensionMismatch(tenantID string, want, got int) error {
	return &apperr.ConflictError{Msg: fmt.Sprintf(
		"tenant %s collection has dimension %d, cannot index vectors of dimension %d without a reindex", tenantID, want, got)}
}
