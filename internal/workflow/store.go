package workflow

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

// Store persists Definitions and Executions.
type Store struct {
	db *store.DB
}

func NewStore(db *store.DB) *Store {
	return &Store{db: db}
}

// CreateDefinition inserts a new workflow definition at version 1.
func (s *Store) CreateDefinition(ctx context.Context, def *Definition) error {
	def.ID = idgen.New()
	if def.Version == 0 {
		def.Version = 1
	}
	nodesJSON, err := json.Marshal(def.Nodes)
	if err != nil {
		return fmt.Errorf("failed to marshal nodes: %w", err)
	}
	edgesJSON, err := json.Marshal(def.Edges)
	if err != nil {
		return fmt.Errorf("failed to marshal edges: %w", err)
	}
	_, err = s.db.Exec(ctx, `
		INSERT INTO workflow_definitions (id, tenant_id, name, version, description, nodes_json, edges_json, is_active)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		def.ID, def.TenantID, def.Name, def.Version, nullableString(def.Description), string(nodesJSON), string(edgesJSON), def.IsActive)
	if err != nil {
		return fmt.Errorf("failed to insert workflow definition: %w", err)
	}
	return nil
}

// GetDefinition loads a definition by id, tenant-scoped.
func (s *Store) GetDefinition(ctx context.Context, tenantID, id string) (*Definition, error) {
	row := s.db.QueryRow(ctx, `
		SELECT id, tenant_id, name, version, description, nodes_json, edges_json, is_active
		FROM workflow_definitions WHERE id = ? AND tenant_id = ?`, id, tenantID)
	return scanDefinition(row, id)
}

func scanDefinition(row *sql.Row, id string) (*Definition, error) {
	var def Definition
	var description sql.NullString
	var nodesJSON, edgesJSON string
	if err := row.Scan(&def.ID, &def.TenantID, &def.Name, &def.Version, &description, &nodesJSON, &edgesJSON, &def.IsActive); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, &apperr.NotFoundError{Resource: "workflow_definition", ID: id}
		}
		return nil, fmt.Errorf("failed to scan workflow definition: %w", err)
	}
	def.Description = description.String
	if err := json.Unmarshal([]byte(nodesJSON), &def.Nodes); err != nil {
		return nil, fmt.Errorf("failed to unmarshal nodes: %w", err)
	}
	if err := json.Unmarshal([]byte(edgesJSON), &def.Edges); err != nil {
		return nil, fmt.Errorf("failed to unmarshal edges: %w", err)
	}
	return &def, nil
}

// DefaultDefinition returns the tenant's single active definition, used
// when a session has no workflow_id of its own. NotFoundError signals the
// tenant has no default workflow configured yet.
func (s *Store) DefaultDefinition(ctx context.Context, tenantID string) (*Definition, error) {
	row := s.db.QueryRow(ctx, `
		SELECT id, tenant_id, name, version, description, nodes_json, edges_json, is_active
		FROM workflow_definitions WHERE tenant_id = ? AND is_active = true ORDER BY version DESC, id ASC LIMIT 1`, tenantID)
	def, err := scanDefinition(row, "")
	if err != nil {
		var notFound *apperr.NotFoundError
		if errors.As(err, &notFound) {
			return nil, &apperr.NotFoundError{Resource: "default_workflow", ID: tenantID}
		}
	}
	return def, err
}

// CreateExecution inserts a new running execution row.
func (s *Store) CreateExecution(ctx context.Context, exec *Execution) error {
	exec.ID = idgen.New()
	exec.Status = ExecutionRunning
	exec.StartedAt = time.Now()
	inputJSON, err := json.Marshal(exec.InputData)
	if err != nil {
		return fmt.Errorf("failed to marshal execution input: %w", err)
	}
	_, err = s.db.Exec(ctx, `
		INSERT INTO workflow_executions (id, tenant_id, user_id, workflow_id, session_id, thread_id, status, input_json, started_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		exec.ID, exec.TenantID, exec.UserID, nullableString(exec.WorkflowID), exec.SessionID, exec.ThreadID, exec.Status, string(inputJSON), exec.StartedAt)
	if err != nil {
		return fmt.Errorf("failed to insert workflow execution: %w", err)
	}
	return nil
}

// GetExecution loads an execution by id, tenant-scoped.
func (s *Store) GetExecution(ctx context.Context, tenantID, id string) (*Execution, error) {
	row := s.db.QueryRow(ctx, `
		SELECT id, tenant_id, user_id, workflow_id, session_id, thread_id, status, input_json, output_json, error_message, started_at, completed_at
		FROM workflow_executions WHERE id = ? AND tenant_id = ?`, id, tenantID)
	return scanExecution(row, id)
}

// GetExecutionByID loads an execution by id alone, without a tenant
// filter. Used only by the HITL resume path, which is reached after the
// approval's own tenant ownership was already checked one layer up.
func (s *Store) GetExecutionByID(ctx context.Context, id string) (*Execution, error) {
	row := s.db.QueryRow(ctx, `
		SELECT id, tenant_id, user_id, workflow_id, session_id, thread_id, status, input_json, output_json, error_message, started_at, completed_at
		FROM workflow_executions WHERE id = ?`, id)
	return scanExecution(row, id)
}

// LatestExecutionForThread returns the most recently started execution for
// threadID, used by resume to find the execution a response applies to.
func (s *Store) LatestExecutionForThread(ctx context.Context, tenantID, threadID string) (*Execution, error) {
	row := s.db.QueryRow(ctx, `
		SELECT id, tenant_id, user_id, workflow_id, session_id, thread_id, status, input_json, output_json, error_message, started_at, completed_at
		FROM workflow_executions WHERE tenant_id = ? AND thread_id = ? ORDER BY started_at DESC LIMIT 1`, tenantID, threadID)
	return scanExecution(row, threadID)
}

func scanExecution(row *sql.Row, id string) (*Execution, error) {
	var exec Execution
	var workflowID, outputJSON, errMsg sql.NullString
	var inputJSON string
	var completedAt sql.NullTime
	if err := row.Scan(&exec.ID, &exec.TenantID, &exec.UserID, &workflowID, &exec.SessionID, &exec.ThreadID, &exec.Status,
		&inputJSON, &outputJSON, &errMsg, &exec.StartedAt, &completedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, &apperr.NotFoundError{Resource: "workflow_execution", ID: id}
		}
		return nil, fmt.Errorf("failed to scan workflow execution: %w", err)
	}
	exec.WorkflowID = workflowID.String
	exec.ErrorMessage = errMsg.String
	_ = json.Unmarshal([]byte(inputJSON), &exec.InputData)
	if outputJSON.Valid {
		_ = json.Unmarshal([]byte(outputJSON.String), &exec.OutputData)
	}
	if completedAt.Valid {
		exec.CompletedAt = &completedAt.Time
	}
	return &exec, nil
}

// SetStatus transitions an execution to a new status, optionally setting
// output/error and completed_at when the new status is terminal.
func (s *Store) SetStatus(ctx context.Context, tenantID, id string, status ExecutionStatus, output map[string]any, errMsg string) error {
	var outputJSON sql.NullString
	if output != nil {
		raw, err := json.Marshal(output)
		if err != nil {
			return fmt.Errorf("failed to marshal execution output: %w", err)
		}
		outputJSON = sql.NullString{String: string(raw), Valid: true}
	}
	var completedAt sql.NullTime
	if status == ExecutionCompleted || status == ExecutionFailed {
		completedAt = sql.NullTime{Time: time.Now(), Valid: true}
	}
	_, err := s.db.Exec(ctx, `
		UPDATE workflow_executions SET status = ?, output_json = ?, error_message = ?, completed_at = ?
		WHERE id = ? AND tenant_id = ?`,
		status, outputJSON, nullableString(errMsg), completedAt, id, tenantID)
	if err != nil {
		return fmt.Errorf("failed to update workflow execution status: %w", err)
	}
	return nil
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
