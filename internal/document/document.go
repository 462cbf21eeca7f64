// Package document implements the upload→parse→chunk→embed→index
// pipeline and its tenant-scoped search API.
package document

import "time"

type Status string

const (
	StatusUploading  Status = "uploading"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusDeleted    Status = "deleted"
)

// Document is the document entity.
type Document struct {
	ID           string
	TenantID     string
	UserID       string
	Filename     string
	FilePath     string
	FileSize     int64
	FileType     string
	Status       Status
	ChunkCount   int
	ErrorMessage string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Chunk is the chunk entity, owned by Document.
type Chunk struct {
	ID         string
	DocumentID string
	TenantID   string
	ChunkIndex int
	Content    string
	TokenCount int
	StartChar  *int
	EndChar    *int
	Metadata   map[string]string
}

// SearchHit is one ranked result from Search.
type SearchHit struct {
	ChunkID          string
	DocumentID       string
	DocumentFilename string
	Content          string
	Score            float32
	ChunkIndex       int
}
