package document

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/kadirpekel/ragflow/internal/apperr"
	"github.com/kadirpekel/ragflow/internal/store"
)

type Store struct {
	db *store.DB
}

func NewStore(db *store.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Create(ctx context.Context, d *Document) error {
	now := time.Now()
	d.Status = StatusUploading
	d.CreatedAt = now
	d.UpdatedAt = now

	_, err := s.db.Exec(ctx, `
		INSERT INTO documents (id, tenant_id, user_id, filename, file_path, file_size, file_type, status, chunk_count, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, 0, ?, ?)`,
		d.ID, d.TenantID, d.UserID, d.Filename, d.FilePath, d.FileSize, d.FileType, d.Status, d.CreatedAt, d.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert document: %w", err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, tenantID, id string) (*Document, error) {
	row := s.db.QueryRow(ctx, `
		SELECT id, tenant_id, user_id, filename, file_path, file_size, file_type, status, chunk_count, error_message, created_at, updated_at
		FROM documents WHERE id = ? AND tenant_id = ?`, id, tenantID)
	return scanDocument(row)
}

func scanDocument(row *sql.Row) (*Document, error) {
	var d Document
	var errMsg sql.NullString
	if err := row.Scan(&d.ID, &d.TenantID, &d.UserID, &d.Filename, &d.FilePath, &d.FileSize, &d.FileType,
		&d.Status, &d.ChunkCount, &errMsg, &d.CreatedAt, &d.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, &apperr.NotFoundError{Resource: "document", ID: d.ID}
		}
		return nil, fmt.Errorf("failed to scan document: %w", err)
	}
	d.ErrorMessage = errMsg.String
	return &d, nil
}

// List returns documents for a tenant, newest first, optionally filtered
// by status, with a skip/limit page window.
func (s *Store) List(ctx context.Context, tenantID string, statusFilter Status, skip, limit int) ([]*Document, error) {
	query := `
		SELECT id, tenant_id, user_id, filename, file_path, file_size, file_type, status, chunk_count, error_message, created_at, updated_at
		FROM documents WHERE tenant_id = ? AND status != ?`
	args := []any{tenantID, StatusDeleted}
	if statusFilter != "" {
		query += ` AND status = ?`
		args = append(args, statusFilter)
	}
	query += ` ORDER BY created_at DESC LIMIT ? OFFSET ?`
	args = append(args, limit, skip)

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	defer rows.Close()

	var docs []*Document
	for rows.Next() {
		var d Document
		var errMsg sql.NullString
		if err := rows.Scan(&d.ID, &d.TenantID, &d.UserID, &d.Filename, &d.FilePath, &d.FileSize, &d.FileType,
			&d.Status, &d.ChunkCount, &errMsg, &d.CreatedAt, &d.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan document row: %w", err)
		}
		d.ErrorMessage = errMsg.String
		docs = append(docs, &d)
	}
	return docs, rows.Err()
}

func (s *Store) SetStatus(ctx context.Context, tenantID, id string, status Status, errMsg string) error {
	var errVal any
	if errMsg != "" {
		errVal = errMsg
	}
	res, err := s.db.Exec(ctx, `
		UPDATE documents SET status = ?, error_message = ?, updated_at = ? WHERE id = ? AND tenant_id = ?`,
		status, errVal, time.Now(), id, tenantID)
	if err != nil {
		return fmt.Errorf("failed to update document status: %w", err)
	}
	return checkRowsAffected(res, "document", id)
}

// Complete transitions a document to completed and stamps its chunk_count,
// enforcing the invariant chunk_count > 0 => status = completed atomically
// with the count write.
func (s *Store) Complete(ctx context.Context, tenantID, id string, chunkCount int) error {
	res, err := s.db.Exec(ctx, `
		UPDATE documents SET status = ?, chunk_count = ?, error_message = NULL, updated_at = ? WHERE id = ? AND tenant_id = ?`,
		StatusCompleted, chunkCount, time.Now(), id, tenantID)
	if err != nil {
		return fmt.Errorf("failed to complete document: %w", err)
	}
	return checkRowsAffected(res, "document", id)
}

func checkRowsAffected(res sql.Result, resource, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		return &apperr.NotFoundError{Resource: resource, ID: id}
	}
	return nil
}

// ReplaceChunks wipes any existing chunks for documentID and inserts the
// new set, within one transaction, per the pipeline's from-scratch retry
// invariant.
func (s *Store) ReplaceChunks(ctx context.Context, tenantID, documentID string, chunks []*Chunk) error {
	return s.db.WithTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, s.db.Rebind(`DELETE FROM chunks WHERE document_id = ? AND tenant_id = ?`), documentID, tenantID); err != nil {
			return fmt.Errorf("failed to clear prior chunks: %w", err)
		}

		stmt := s.db.Rebind(`
			INSERT INTO chunks (id, document_id, tenant_id, chunk_index, content, token_count, start_char, end_char, metadata_json)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		for _, c := range chunks {
			metaJSON, err := json.Marshal(c.Metadata)
			if err != nil {
				return fmt.Errorf("failed to marshal chunk metadata: %w", err)
			}
			if _, err := tx.ExecContext(ctx, stmt, c.ID, documentID, tenantID, c.ChunkIndex, c.Content, c.TokenCount,
				c.StartChar, c.EndChar, string(metaJSON)); err != nil {
				return fmt.Errorf("failed to insert chunk %d: %w", c.ChunkIndex, err)
			}
		}
		return nil
	})
}

func (s *Store) ListChunks(ctx context.Context, tenantID, documentID string) ([]*Chunk, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, document_id, tenant_id, chunk_index, content, token_count, start_char, end_char, metadata_json
		FROM chunks WHERE document_id = ? AND tenant_id = ? ORDER BY chunk_index ASC`, documentID, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list chunks: %w", err)
	}
	defer rows.Close()

	var chunks []*Chunk
	for rows.Next() {
		var c Chunk
		var metaJSON string
		var startChar, endChar sql.NullInt64
		if err := rows.Scan(&c.ID, &c.DocumentID, &c.TenantID, &c.ChunkIndex, &c.Content, &c.TokenCount,
			&startChar, &endChar, &metaJSON); err != nil {
			return nil, fmt.Errorf("failed to scan chunk row: %w", err)
		}
		if startChar.Valid {
			v := int(startChar.Int64)
			c.StartChar = &v
		}
		if endChar.Valid {
			v := int(endChar.Int64)
			c.EndChar = &v
		}
		if metaJSON != "" {
			_ = json.Unmarshal([]byte(metaJSON), &c.Metadata)
		}
		chunks = append(chunks, &c)
	}
	return chunks, rows.Err()
}

func (s *Store) DeleteChunks(ctx context.Context, tenantID, documentID string) error {
	_, err := s.db.Exec(ctx, `DELETE FROM chunks WHERE document_id = ? AND tenant_id = ?`, documentID, tenantID)
	if err != nil {
		return fmt.Errorf("failed to delete chunks: %w", err)
	}
	return nil
}
