package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/kadirpekel/ragflow/internal/apperr"
	"github.com/kadirpekel/ragflow/internal/document"
	"github.com/kadirpekel/ragflow/internal/idgen"
	"github.com/kadirpekel/ragflow/internal/store"
)

// Store persists ConversationSessions, Messages, and SessionDocument
// bridges, and enforces their ownership/state invariants.
type Store struct {
	db   *store.DB
	docs *document.Store
}

func NewStore(db *store.DB, docs *document.Store) *Store {
	return &Store{db: db, docs: docs}
}

// Create inserts a new session in the given mode (default auto).
func (s *Store) Create(ctx context.Context, sess *ConversationSession) error {
	if sess.Mode == "" {
		sess.Mode = ModeAuto
	}
	sess.ID = idgen.New()
	sess.ThreadID = idgen.New()
	now := time.Now()
	sess.CreatedAt = now
	sess.UpdatedAt = now

	metaJSON, err := json.Marshal(sess.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal session metadata: %w", err)
	}

	_, err = s.db.Exec(ctx, `
		INSERT INTO conversation_sessions (id, tenant_id, user_id, workflow_id, thread_id, title, mode, metadata_json, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sess.ID, sess.TenantID, sess.UserID, nullableString(sess.WorkflowID), sess.ThreadID, nullableString(sess.Title),
		sess.Mode, string(metaJSON), sess.CreatedAt, sess.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert session: %w", err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, tenantID, id string) (*ConversationSession, error) {
	row := s.db.QueryRow(ctx, `
		SELECT id, tenant_id, user_id, workflow_id, thread_id, title, mode, metadata_json, created_at, updated_at
		FROM conversation_sessions WHERE id = ? AND tenant_id = ?`, id, tenantID)
	return scanSession(row, id)
}

func scanSession(row *sql.Row, id string) (*ConversationSession, error) {
	var sess ConversationSession
	var workflowID, title sql.NullString
	var metaJSON string
	if err := row.Scan(&sess.ID, &sess.TenantID, &sess.UserID, &workflowID, &sess.ThreadID, &title, &sess.Mode,
		&metaJSON, &sess.CreatedAt, &sess.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, &apperr.NotFoundError{Resource: "session", ID: id}
		}
		return nil, fmt.Errorf("failed to scan session: %w", err)
	}
	sess.WorkflowID = workflowID.String
	sess.Title = title.String
	_ = json.Unmarshal([]byte(metaJSON), &sess.Metadata)
	return &sess, nil
}

// UpdateMode changes a session's routing mode.
func (s *Store) UpdateMode(ctx context.Context, tenantID, id string, mode Mode) error {
	res, err := s.db.Exec(ctx, `UPDATE conversation_sessions SET mode = ?, updated_at = ? WHERE id = ? AND tenant_id = ?`,
		mode, time.Now(), id, tenantID)
	if err != nil {
		return fmt.Errorf("failed to update session mode: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		return &apperr.NotFoundError{Resource: "session", ID: id}
	}
	return nil
}

// AddMessage appends a message to a session's history.
func (s *Store) AddMessage(ctx context.Context, msg *Message) error {
	msg.ID = idgen.New()
	msg.CreatedAt = time.Now()
	metaJSON, err := json.Marshal(msg.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal message metadata: %w", err)
	}
	_, err = s.db.Exec(ctx, `
		INSERT INTO messages (id, session_id, role, content, metadata_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.SessionID, msg.Role, msg.Content, string(metaJSON), msg.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert message: %w", err)
	}
	return nil
}

// ListMessages returns a session's history oldest-first.
func (s *Store) ListMessages(ctx context.Context, sessionID string) ([]*Message, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, session_id, role, content, metadata_json, created_at
		FROM messages WHERE session_id = ? ORDER BY created_at ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	defer rows.Close()

	var out []*Message
	for rows.Next() {
		var m Message
		var metaJSON string
		if err := rows.Scan(&m.ID, &m.SessionID, &m.Role, &m.Content, &metaJSON, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan message row: %w", err)
		}
		_ = json.Unmarshal([]byte(metaJSON), &m.Metadata)
		out = append(out, &m)
	}
	return out, rows.Err()
}

// List returns a tenant's sessions for userID, newest first, with a
// limit/offset page window.
func (s *Store) List(ctx context.Context, tenantID, userID string, limit, offset int) ([]*ConversationSession, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, tenant_id, user_id, workflow_id, thread_id, title, mode, metadata_json, created_at, updated_at
		FROM conversation_sessions WHERE tenant_id = ? AND user_id = ? ORDER BY created_at DESC LIMIT ? OFFSET ?`,
		tenantID, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var out []*ConversationSession
	for rows.Next() {
		var sess ConversationSession
		var workflowID, title sql.NullString
		var metaJSON string
		if err := rows.Scan(&sess.ID, &sess.TenantID, &sess.UserID, &workflowID, &sess.ThreadID, &title, &sess.Mode,
			&metaJSON, &sess.CreatedAt, &sess.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan session row: %w", err)
		}
		sess.WorkflowID = workflowID.String
		sess.Title = title.String
		_ = json.Unmarshal([]byte(metaJSON), &sess.Metadata)
		out = append(out, &sess)
	}
	return out, rows.Err()
}

// ListRecentMessages returns a session's last limit messages, oldest-first.
// limit<=0 returns the full history, same as ListMessages.
func (s *Store) ListRecentMessages(ctx context.Context, sessionID string, limit int) ([]*Message, error) {
	if limit <= 0 {
		return s.ListMessages(ctx, sessionID)
	}
	rows, err := s.db.Query(ctx, `
		SELECT id, session_id, role, content, metadata_json, created_at
		FROM messages WHERE session_id = ? ORDER BY created_at DESC LIMIT ?`, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list recent messages: %w", err)
	}
	defer rows.Close()

	var out []*Message
	for rows.Next() {
		var m Message
		var metaJSON string
		if err := rows.Scan(&m.ID, &m.SessionID, &m.Role, &m.Content, &metaJSON, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan message row: %w", err)
		}
		_ = json.Unmarshal([]byte(metaJSON), &m.Metadata)
		out = append(out, &m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// AddDocument attaches documentID to sessionID, verifying the document is
// completed and owned by the session's tenant.
func (s *Store) AddDocument(ctx context.Context, tenantID, sessionID, documentID string) error {
	sess, err := s.Get(ctx, tenantID, sessionID)
	if err != nil {
		return err
	}
	doc, err := s.docs.Get(ctx, tenantID, documentID)
	if err != nil {
		return err
	}
	if doc.Status != document.StatusCompleted {
		return &apperr.ValidationError{Msg: fmt.Sprintf("document %s is not completed (status=%s)", documentID, doc.Status)}
	}

	query := `INSERT INTO session_documents (session_id, document_id, added_at, is_active) VALUES (?, ?, ?, true)`
	switch s.db.Dialect {
	case "postgres":
		query += ` ON CONFLICT (session_id, document_id) DO UPDATE SET is_active = true, added_at = EXCLUDED.added_at`
	case "mysql":
		query += ` ON DUPLICATE KEY UPDATE is_active = true, added_at = VALUES(added_at)`
	default:
		query += ` ON CONFLICT(session_id, document_id) DO UPDATE SET is_active = true, added_at = excluded.added_at`
	}
	if _, err := s.db.Exec(ctx, query, sess.ID, documentID, time.Now()); err != nil {
		return fmt.Errorf("failed to attach document: %w", err)
	}
	return nil
}

// RemoveDocument deactivates a session's bridge to documentID rather than
// deleting the row, so history referencing it stays intact.
func (s *Store) RemoveDocument(ctx context.Context, sessionID, documentID string) error {
	_, err := s.db.Exec(ctx, `UPDATE session_documents SET is_active = false WHERE session_id = ? AND document_id = ?`,
		sessionID, documentID)
	if err != nil {
		return fmt.Errorf("failed to detach document: %w", err)
	}
	return nil
}

// ListDocuments returns only the active bridges for sessionID.
func (s *Store) ListDocuments(ctx context.Context, sessionID string) ([]*DocumentBridge, error) {
	rows, err := s.db.Query(ctx, `
		SELECT session_id, document_id, added_at, is_active FROM session_documents
		WHERE session_id = ? AND is_active = true`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list session documents: %w", err)
	}
	defer rows.Close()

	var out []*DocumentBridge
	for rows.Next() {
		var b DocumentBridge
		if err := rows.Scan(&b.SessionID, &b.DocumentID, &b.AddedAt, &b.IsActive); err != nil {
			return nil, fmt.Errorf("failed to scan session document row: %w", err)
		}
		out = append(out, &b)
	}
	return out, rows.Err()
}

// GetContext assembles the get_context(session_id) response.
func (s *Store) GetContext(ctx context.Context, tenantID, sessionID string) (*Context, error) {
	sess, err := s.Get(ctx, tenantID, sessionID)
	if err != nil {
		return nil, err
	}
	bridges, err := s.ListDocuments(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	docIDs := make([]string, len(bridges))
	totalChunks := 0
	for i, b := range bridges {
		docIDs[i] = b.DocumentID
		if d, derr := s.docs.Get(ctx, tenantID, b.DocumentID); derr == nil {
			totalChunks += d.ChunkCount
		}
	}

	return &Context{
		Mode:            sess.Mode,
		ActiveDocuments: docIDs,
		TotalDocuments:  len(docIDs),
		TotalChunks:     totalChunks,
	}, nil
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
