// Package hitl parks a workflow execution on a pending approval and
// resumes it once a user responds, enforcing at most one pending approval
// per execution.
package hitl

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/kadirpekel/ragflow/internal/apperr"
	"github.com/kadirpekel/ragflow/internal/idgen"
	"github.com/kadirpekel/ragflow/internal/store"
)

type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
)

// Approval is the HITLApproval entity.
type Approval struct {
	ID           string
	ExecutionID  string
	TenantID     string
	UserID       string
	Prompt       string
	Context      map[string]any
	Status       Status
	UserResponse string
	CreatedAt    time.Time
	RespondedAt  *time.Time
}

// Resumer is implemented by the workflow executor; respond() triggers it
// once the approval row is updated.
type Resumer interface {
	Resume(ctx context.Context, executionID string) error
}

type Store struct {
	db      *store.DB
	resumer Resumer
}

func NewStore(db *store.DB, resumer Resumer) *Store {
	return &Store{db: db, resumer: resumer}
}

// CreatePending creates a pending approval for executionID, returning
// apperr.ConflictError if the execution already has one. The check
// (listPendingForExecution) and the insert are separate statements, not one
// transaction, and the schema has no unique index on pending approvals per
// execution, so two concurrent calls for the same execution can both succeed.
func (s *Store) CreatePending(ctx context.Context, executionID, tenantID, userID, prompt string, contextData map[string]any) (*Approval, error) {
	existing, err := s.listPendingForExecution(ctx, executionID)
	if err != nil {
		return nil, err
	}
	if len(existing) > 0 {
		return nil, &apperr.ConflictError{Msg: fmt.Sprintf("execution %s already has a pending approval", executionID)}
	}

	ctxJSON, err := json.Marshal(contextData)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal approval context: %w", err)
	}

	a := &Approval{
		ID:          idgen.New(),
		ExecutionID: executionID,
		TenantID:    tenantID,
		UserID:      userID,
		Prompt:      prompt,
		Context:     contextData,
		Status:      StatusPending,
		CreatedAt:   time.Now(),
	}
	_, err = s.db.Exec(ctx, `
		INSERT INTO hitl_approvals (id, execution_id, tenant_id, user_id, prompt, context_json, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.ExecutionID, a.TenantID, a.UserID, a.Prompt, string(ctxJSON), a.Status, a.CreatedAt)
	if err != nil {
		if store.IsUniqueViolation(err) {
			return nil, &apperr.ConflictError{Msg: fmt.Sprintf("execution %s already has a pending approval", executionID)}
		}
		return nil, fmt.Errorf("failed to insert approval: %w", err)
	}
	return a, nil
}

func (s *Store) Get(ctx context.Context, tenantID, id string) (*Approval, error) {
	row := s.db.QueryRow(ctx, `
		SELECT id, execution_id, tenant_id, user_id, prompt, context_json, status, user_response, created_at, responded_at
		FROM hitl_approvals WHERE id = ? AND tenant_id = ?`, id, tenantID)
	return scanApproval(row, id)
}

func scanApproval(row *sql.Row, id string) (*Approval, error) {
	var a Approval
	var ctxJSON string
	var userResponse sql.NullString
	var respondedAt sql.NullTime
	if err := row.Scan(&a.ID, &a.ExecutionID, &a.TenantID, &a.UserID, &a.Prompt, &ctxJSON, &a.Status,
		&userResponse, &a.CreatedAt, &respondedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, &apperr.NotFoundError{Resource: "hitl_approval", ID: id}
		}
		return nil, fmt.Errorf("failed to scan approval: %w", err)
	}
	_ = json.Unmarshal([]byte(ctxJSON), &a.Context)
	a.UserResponse = userResponse.String
	if respondedAt.Valid {
		a.RespondedAt = &respondedAt.Time
	}
	return &a, nil
}

// ListPending lists a user's pending approvals within a tenant.
func (s *Store) ListPending(ctx context.Context, tenantID, userID string) ([]*Approval, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, execution_id, tenant_id, user_id, prompt, context_json, status, user_response, created_at, responded_at
		FROM hitl_approvals WHERE tenant_id = ? AND user_id = ? AND status = ? ORDER BY created_at ASC`,
		tenantID, userID, StatusPending)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending approvals: %w", err)
	}
	defer rows.Close()
	return scanApprovals(rows)
}

// List returns a tenant's approvals, optionally filtered by status, newest first.
func (s *Store) List(ctx context.Context, tenantID string, statusFilter Status, limit, offset int) ([]*Approval, error) {
	query := `SELECT id, execution_id, tenant_id, user_id, prompt, context_json, status, user_response, created_at, responded_at
		FROM hitl_approvals WHERE tenant_id = ?`
	args := []any{tenantID}
	if statusFilter != "" {
		query += ` AND status = ?`
		args = append(args, statusFilter)
	}
	query += ` ORDER BY created_at DESC LIMIT ? OFFSET ?`
	args = append(args, limit, offset)

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list approvals: %w", err)
	}
	defer rows.Close()
	return scanApprovals(rows)
}

// LatestForExecution returns the most recently created approval for
// executionID regardless of status, used by the workflow executor's
// resume path to recover the approve/reject decision that triggered it.
func (s *Store) LatestForExecution(ctx context.Context, executionID string) (*Approval, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, execution_id, tenant_id, user_id, prompt, context_json, status, user_response, created_at, responded_at
		FROM hitl_approvals WHERE execution_id = ? ORDER BY created_at DESC LIMIT 1`, executionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query latest approval: %w", err)
	}
	defer rows.Close()
	approvals, err := scanApprovals(rows)
	if err != nil {
		return nil, err
	}
	if len(approvals) == 0 {
		return nil, &apperr.NotFoundError{Resource: "hitl_approval", ID: executionID}
	}
	return approvals[0], nil
}

func (s *Store) listPendingForExecution(ctx context.Context, executionID string) ([]*Approval, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, execution_id, tenant_id, user_id, prompt, context_json, status, user_response, created_at, responded_at
		FROM hitl_approvals WHERE execution_id = ? AND status = ?`, executionID, StatusPending)
	if err != nil {
		return nil, fmt.Errorf("failed to check pending approvals: %w", err)
	}
	defer rows.Close()
	return scanApprovals(rows)
}

func scanApprovals(rows *sql.Rows) ([]*Approval, error) {
	var out []*Approval
	for rows.Next() {
		var a Approval
		var ctxJSON string
		var userResponse sql.NullString
		var respondedAt sql.NullTime
		if err := rows.Scan(&a.ID, &a.ExecutionID, &a.TenantID, &a.UserID, &a.Prompt, &ctxJSON, &a.Status,
			&userResponse, &a.CreatedAt, &respondedAt); err != nil {
			return nil, fmt.Errorf("failed to scan approval row: %w", err)
		}
		_ = json.Unmarshal([]byte(ctxJSON), &a.Context)
		a.UserResponse = userResponse.String
		if respondedAt.Valid {
			a.RespondedAt = &respondedAt.Time
		}
		out = append(out, &a)
	}
	return out, rows.Err()
}

// Respond atomically transitions a pending approval to approved/rejected
// and triggers the executor's resume. Replayed responses are rejected.
func (s *Store) Respond(ctx context.Context, tenantID, approvalID string, approved bool, feedback string) (*Approval, error) {
	status := StatusRejected
	if approved {
		status = StatusApproved
	}
	respondedAt := time.Now()

	res, err := s.db.Exec(ctx, `
		UPDATE hitl_approvals SET status = ?, user_response = ?, responded_at = ?
		WHERE id = ? AND tenant_id = ? AND status = ?`,
		status, nullableString(feedback), respondedAt, approvalID, tenantID, StatusPending)
	if err != nil {
		return nil, fmt.Errorf("failed to update approval: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		if _, getErr := s.Get(ctx, tenantID, approvalID); getErr != nil {
			return nil, getErr
		}
		return nil, &apperr.ConflictError{Msg: fmt.Sprintf("approval %s already responded (AlreadyResponded)", approvalID)}
	}

	approval, err := s.Get(ctx, tenantID, approvalID)
	if err != nil {
		return nil, err
	}

	if s.resumer != nil {
		if err := s.resumer.Resume(ctx, approval.ExecutionID); err != nil {
			return nil, fmt.Errorf("failed to resume execution: %w", err)
		}
	}
	return approval, nil
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
