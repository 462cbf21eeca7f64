// Package operation implements the LLM operation engine: summarize, ask,
// and transform run as background tasks against a document, each tracked
// through a single llm_operations row from pending to completed/failed.
package operation

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/kadirpekel/ragflow/internal/apperr"
	"github.com/kadirpekel/ragflow/internal/document"
	"github.com/kadirpekel/ragflow/internal/idgen"
	"github.com/kadirpekel/ragflow/internal/provider/chat"
	"github.com/kadirpekel/ragflow/internal/rlog"
	"github.com/kadirpekel/ragflow/internal/store"
	"github.com/kadirpekel/ragflow/internal/tenant"
	"github.com/kadirpekel/ragflow/internal/worker"
)

type Type string

const (
	TypeSummarize Type = "summarize"
	TypeAsk       Type = "ask"
	TypeTransform Type = "transform"
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Operation is the LLMOperation entity.
type Operation struct {
	ID           string
	TenantID     string
	UserID       string
	DocumentID   string
	Type         Type
	Input        map[string]any
	Output       map[string]any
	ModelUsed    string
	TokensUsed   int
	CostEstimate float64
	Status       Status
	ErrorMessage string
	Cancelled    bool
	CreatedAt    time.Time
	CompletedAt  *time.Time
}

const defaultMaxChunks = 5
const defaultMinScore = 0.5

// OutputFormat for transform.
type OutputFormat string

const (
	FormatText     OutputFormat = "text"
	FormatMarkdown OutputFormat = "markdown"
	FormatJSON     OutputFormat = "json"
)

// transformWindowChunks bounds how many chunks are sent to the provider in
// a single transform call before the engine starts windowing.
const transformWindowChunks = 40

// Engine schedules and executes LLM operations.
type Engine struct {
	db      *store.DB
	docs    *document.Store
	search  *document.Searcher
	tenants *tenant.Store
	chatReg *chat.Registry
	pool    *worker.Pool
}

func NewEngine(db *store.DB, docs *document.Store, search *document.Searcher, tenants *tenant.Store, chatReg *chat.Registry, pool *worker.Pool) *Engine {
	return &Engine{db: db, docs: docs, search: search, tenants: tenants, chatReg: chatReg, pool: pool}
}

func (e *Engine) insert(ctx context.Context, op *Operation) error {
	inputJSON, err := json.Marshal(op.Input)
	if err != nil {
		return fmt.Errorf("failed to marshal operation input: %w", err)
	}
	_, err = e.db.Exec(ctx, `
		INSERT INTO llm_operations (id, tenant_id, user_id, document_id, operation_type, input_json, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		op.ID, op.TenantID, op.UserID, nullableString(op.DocumentID), op.Type, string(inputJSON), op.Status, op.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert operation: %w", err)
	}
	return nil
}

// Get loads an operation by id, tenant-scoped.
func (e *Engine) Get(ctx context.Context, tenantID, id string) (*Operation, error) {
	row := e.db.QueryRow(ctx, `
		SELECT id, tenant_id, user_id, document_id, operation_type, input_json, output_json, model_used,
			tokens_used, cost_estimate, status, error_message, cancelled, created_at, completed_at
		FROM llm_operations WHERE id = ? AND tenant_id = ?`, id, tenantID)
	return scanOperation(row, id)
}

func scanOperation(row *sql.Row, id string) (*Operation, error) {
	var op Operation
	var documentID, outputJSON, modelUsed, errMsg sql.NullString
	var inputJSON string
	var completedAt sql.NullTime
	if err := row.Scan(&op.ID, &op.TenantID, &op.UserID, &documentID, &op.Type, &inputJSON, &outputJSON, &modelUsed,
		&op.TokensUsed, &op.CostEstimate, &op.Status, &errMsg, &op.Cancelled, &op.CreatedAt, &completedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, &apperr.NotFoundError{Resource: "operation", ID: id}
		}
		return nil, fmt.Errorf("failed to scan operation: %w", err)
	}
	op.DocumentID = documentID.String
	op.ModelUsed = modelUsed.String
	op.ErrorMessage = errMsg.String
	_ = json.Unmarshal([]byte(inputJSON), &op.Input)
	if outputJSON.Valid {
		_ = json.Unmarshal([]byte(outputJSON.String), &op.Output)
	}
	if completedAt.Valid {
		op.CompletedAt = &completedAt.Time
	}
	return &op, nil
}

// complete atomically transitions processing -> completed, writing output.
// The first writer to flip a row's status wins: RowsAffected()==0 means a
// concurrent writer already finished it, which is not an error for the
// loser to observe.
func (e *Engine) complete(ctx context.Context, tenantID, id string, output map[string]any, modelUsed string) error {
	outJSON, err := json.Marshal(output)
	if err != nil {
		return fmt.Errorf("failed to marshal operation output: %w", err)
	}
	_, err = e.db.Exec(ctx, `
		UPDATE llm_operations SET status = ?, output_json = ?, model_used = ?, completed_at = ?
		WHERE id = ? AND tenant_id = ? AND status = ?`,
		StatusCompleted, string(outJSON), modelUsed, time.Now(), id, tenantID, StatusProcessing)
	if err != nil {
		return fmt.Errorf("failed to complete operation: %w", err)
	}
	return nil
}

func (e *Engine) fail(ctx context.Context, tenantID, id, errMsg string) error {
	_, err := e.db.Exec(ctx, `
		UPDATE llm_operations SET status = ?, error_message = ?, completed_at = ?
		WHERE id = ? AND tenant_id = ? AND status = ?`,
		StatusFailed, errMsg, time.Now(), id, tenantID, StatusProcessing)
	if err != nil {
		return fmt.Errorf("failed to fail operation: %w", err)
	}
	return nil
}

func (e *Engine) setProcessing(ctx context.Context, tenantID, id string) error {
	_, err := e.db.Exec(ctx, `UPDATE llm_operations SET status = ? WHERE id = ? AND tenant_id = ? AND status = ?`,
		StatusProcessing, id, tenantID, StatusPending)
	return err
}

// Summarize implements summarize(document_id, model?, max_length?, force?).
func (e *Engine) Summarize(ctx context.Context, tenantID, userID, documentID, model string, maxLength int, force bool) (*Operation, error) {
	if !force {
		cached, err := e.mostRecentCompletedSummary(ctx, tenantID, documentID)
		if err != nil {
			return nil, err
		}
		if cached != nil {
			out := map[string]any{}
			for k, v := range cached.Output {
				out[k] = v
			}
			out["cached"] = true
			op := &Operation{
				ID:         idgen.New(),
				TenantID:   tenantID,
				UserID:     userID,
				DocumentID: documentID,
				Type:       TypeSummarize,
				Input:      map[string]any{"model": model, "max_length": maxLength, "force": force},
				Status:     StatusPending,
				CreatedAt:  time.Now(),
			}
			if err := e.insert(ctx, op); err != nil {
				return nil, err
			}
			if err := e.setProcessing(ctx, tenantID, op.ID); err != nil {
				return nil, err
			}
			if err := e.complete(ctx, tenantID, op.ID, out, cached.ModelUsed); err != nil {
				return nil, err
			}
			return e.Get(ctx, tenantID, op.ID)
		}
	}

	op := &Operation{
		ID:         idgen.New(),
		TenantID:   tenantID,
		UserID:     userID,
		DocumentID: documentID,
		Type:       TypeSummarize,
		Input:      map[string]any{"model": model, "max_length": maxLength, "force": force},
		Status:     StatusPending,
		CreatedAt:  time.Now(),
	}
	if err := e.insert(ctx, op); err != nil {
		return nil, err
	}

	e.schedule(tenantID, op.ID, func(runCtx context.Context) error {
		return e.runSummarize(runCtx, tenantID, op.ID, documentID, model, maxLength)
	})
	return op, nil
}

// List returns a tenant's operations, newest first, with a skip/limit page
// window.
func (e *Engine) List(ctx context.Context, tenantID string, skip, limit int) ([]*Operation, error) {
	rows, err := e.db.Query(ctx, `
		SELECT id, tenant_id, user_id, document_id, operation_type, input_json, output_json, model_used,
			tokens_used, cost_estimate, status, error_message, cancelled, created_at, completed_at
		FROM llm_operations WHERE tenant_id = ? ORDER BY created_at DESC LIMIT ? OFFSET ?`,
		tenantID, limit, skip)
	if err != nil {
		return nil, fmt.Errorf("failed to list operations: %w", err)
	}
	defer rows.Close()

	var ops []*Operation
	for rows.Next() {
		var op Operation
		var docID, outputJSON, modelUsed, errMsg sql.NullString
		var inputJSON string
		var completedAt sql.NullTime
		if err := rows.Scan(&op.ID, &op.TenantID, &op.UserID, &docID, &op.Type, &inputJSON, &outputJSON, &modelUsed,
			&op.TokensUsed, &op.CostEstimate, &op.Status, &errMsg, &op.Cancelled, &op.CreatedAt, &completedAt); err != nil {
			return nil, fmt.Errorf("failed to scan operation row: %w", err)
		}
		op.DocumentID = docID.String
		op.ModelUsed = modelUsed.String
		op.ErrorMessage = errMsg.String
		_ = json.Unmarshal([]byte(inputJSON), &op.Input)
		if outputJSON.Valid {
			_ = json.Unmarshal([]byte(outputJSON.String), &op.Output)
		}
		if completedAt.Valid {
			op.CompletedAt = &completedAt.Time
		}
		ops = append(ops, &op)
	}
	return ops, rows.Err()
}

// LatestSummary returns the most recent completed summary for documentID,
// or a NotFoundError if none exists yet.
func (e *Engine) LatestSummary(ctx context.Context, tenantID, documentID string) (*Operation, error) {
	op, err := e.mostRecentCompletedSummary(ctx, tenantID, documentID)
	if err != nil {
		return nil, err
	}
	if op == nil {
		return nil, &apperr.NotFoundError{Resource: "summary", ID: documentID}
	}
	return op, nil
}

func (e *Engine) mostRecentCompletedSummary(ctx context.Context, tenantID, documentID string) (*Operation, error) {
	rows, err := e.db.Query(ctx, `
		SELECT id, tenant_id, user_id, document_id, operation_type, input_json, output_json, model_used,
			tokens_used, cost_estimate, status, error_message, cancelled, created_at, completed_at
		FROM llm_operations WHERE tenant_id = ? AND document_id = ? AND operation_type = ? AND status = ?`,
		tenantID, documentID, TypeSummarize, StatusCompleted)
	if err != nil {
		return nil, fmt.Errorf("failed to query cached summaries: %w", err)
	}
	defer rows.Close()

	var candidates []*Operation
	for rows.Next() {
		var op Operation
		var docID, outputJSON, modelUsed, errMsg sql.NullString
		var inputJSON string
		var completedAt sql.NullTime
		if err := rows.Scan(&op.ID, &op.TenantID, &op.UserID, &docID, &op.Type, &inputJSON, &outputJSON, &modelUsed,
			&op.TokensUsed, &op.CostEstimate, &op.Status, &errMsg, &op.Cancelled, &op.CreatedAt, &completedAt); err != nil {
			return nil, fmt.Errorf("failed to scan cached summary row: %w", err)
		}
		op.DocumentID = docID.String
		op.ModelUsed = modelUsed.String
		if outputJSON.Valid {
			_ = json.Unmarshal([]byte(outputJSON.String), &op.Output)
		}
		candidates = append(candidates, &op)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, nil
	}
	sort.Slice(candidates, func(i, j int) bool {
		if !candidates[i].CreatedAt.Equal(candidates[j].CreatedAt) {
			return candidates[i].CreatedAt.After(candidates[j].CreatedAt)
		}
		return candidates[i].ID > candidates[j].ID
	})
	return candidates[0], nil
}

func (e *Engine) runSummarize(ctx context.Context, tenantID, opID, documentID, model string, maxLength int) error {
	if err := e.setProcessing(ctx, tenantID, opID); err != nil {
		return e.fail(ctx, tenantID, opID, err.Error())
	}

	chunks, err := e.docs.ListChunks(ctx, tenantID, documentID)
	if err != nil {
		return e.fail(ctx, tenantID, opID, err.Error())
	}

	var sb strings.Builder
	for _, c := range chunks {
		sb.WriteString(c.Content)
		sb.WriteString("\n\n")
	}

	cfg, err := e.tenants.GetConfig(ctx, tenantID)
	if err != nil {
		return e.fail(ctx, tenantID, opID, err.Error())
	}

	lengthHint := "a concise summary"
	if maxLength > 0 {
		lengthHint = fmt.Sprintf("a summary of at most %d words", maxLength)
	}
	messages := []chat.Message{
		{Role: "system", Content: "You summarize documents accurately, without adding information not present in the source."},
		{Role: "user", Content: fmt.Sprintf("Write %s for the following document:\n\n%s", lengthHint, sb.String())},
	}
	params := chat.Params{Model: model}
	result, err := e.chatReg.Complete(ctx, cfg, messages, params)
	if err != nil {
		return e.fail(ctx, tenantID, opID, err.Error())
	}

	output := map[string]any{"summary": result.Text}
	modelUsed := model
	if modelUsed == "" {
		modelUsed = cfg.ChatModel
	}
	return e.complete(ctx, tenantID, opID, output, modelUsed)
}

// Ask implements ask(document_id, question, model?, max_chunks=5).
func (e *Engine) Ask(ctx context.Context, tenantID, userID, documentID, question, model string, maxChunks int) (*Operation, error) {
	if maxChunks <= 0 {
		maxChunks = defaultMaxChunks
	}
	op := &Operation{
		ID:         idgen.New(),
		TenantID:   tenantID,
		UserID:     userID,
		DocumentID: documentID,
		Type:       TypeAsk,
		Input:      map[string]any{"question": question, "model": model, "max_chunks": maxChunks},
		Status:     StatusPending,
		CreatedAt:  time.Now(),
	}
	if err := e.insert(ctx, op); err != nil {
		return nil, err
	}

	e.schedule(tenantID, op.ID, func(runCtx context.Context) error {
		return e.runAsk(runCtx, tenantID, op.ID, documentID, question, model, maxChunks)
	})
	return op, nil
}

func (e *Engine) runAsk(ctx context.Context, tenantID, opID, documentID, question, model string, maxChunks int) error {
	if err := e.setProcessing(ctx, tenantID, opID); err != nil {
		return e.fail(ctx, tenantID, opID, err.Error())
	}

	hits, err := e.search.Search(ctx, tenantID, question, maxChunks, defaultMinScore, map[string]string{"document_id": documentID})
	if err != nil {
		return e.fail(ctx, tenantID, opID, err.Error())
	}

	if len(hits) == 0 {
		output := map[string]any{"answer": "No relevant information found", "sources": []any{}}
		return e.complete(ctx, tenantID, opID, output, model)
	}

	var sb strings.Builder
	sources := make([]any, 0, len(hits))
	for _, h := range hits {
		fmt.Fprintf(&sb, "[chunk %d] %s\n\n", h.ChunkIndex, h.Content)
		preview := h.Content
		if len(preview) > 200 {
			preview = preview[:200]
		}
		sources = append(sources, map[string]any{
			"chunk_index":     h.ChunkIndex,
			"score":           h.Score,
			"content_preview": preview,
		})
	}

	cfg, err := e.tenants.GetConfig(ctx, tenantID)
	if err != nil {
		return e.fail(ctx, tenantID, opID, err.Error())
	}
	messages := []chat.Message{
		{Role: "system", Content: "Answer strictly using the provided context. If the context is insufficient, say so."},
		{Role: "user", Content: fmt.Sprintf("Context:\n%s\nQuestion: %s", sb.String(), question)},
	}
	result, err := e.chatReg.Complete(ctx, cfg, messages, chat.Params{Model: model})
	if err != nil {
		return e.fail(ctx, tenantID, opID, err.Error())
	}

	output := map[string]any{"answer": result.Text, "sources": sources}
	modelUsed := model
	if modelUsed == "" {
		modelUsed = cfg.ChatModel
	}
	return e.complete(ctx, tenantID, opID, output, modelUsed)
}

// Transform implements transform(document_id, instruction, model?, output_format).
func (e *Engine) Transform(ctx context.Context, tenantID, userID, documentID, instruction, model string, format OutputFormat) (*Operation, error) {
	if format == "" {
		format = FormatText
	}
	op := &Operation{
		ID:         idgen.New(),
		TenantID:   tenantID,
		UserID:     userID,
		DocumentID: documentID,
		Type:       TypeTransform,
		Input:      map[string]any{"instruction": instruction, "model": model, "output_format": string(format)},
		Status:     StatusPending,
		CreatedAt:  time.Now(),
	}
	if err := e.insert(ctx, op); err != nil {
		return nil, err
	}

	e.schedule(tenantID, op.ID, func(runCtx context.Context) error {
		return e.runTransform(runCtx, tenantID, op.ID, documentID, instruction, model, format)
	})
	return op, nil
}

func (e *Engine) runTransform(ctx context.Context, tenantID, opID, documentID, instruction, model string, format OutputFormat) error {
	if err := e.setProcessing(ctx, tenantID, opID); err != nil {
		return e.fail(ctx, tenantID, opID, err.Error())
	}

	chunks, err := e.docs.ListChunks(ctx, tenantID, documentID)
	if err != nil {
		return e.fail(ctx, tenantID, opID, err.Error())
	}

	cfg, err := e.tenants.GetConfig(ctx, tenantID)
	if err != nil {
		return e.fail(ctx, tenantID, opID, err.Error())
	}

	var windows [][]string
	var cur []string
	for _, c := range chunks {
		cur = append(cur, c.Content)
		if len(cur) >= transformWindowChunks {
			windows = append(windows, cur)
			cur = nil
		}
	}
	if len(cur) > 0 {
		windows = append(windows, cur)
	}
	if len(windows) == 0 {
		windows = [][]string{{}}
	}

	var outputs []string
	for _, window := range windows {
		text, err := e.transformWindow(ctx, cfg, instruction, format, strings.Join(window, "\n\n"), model)
		if err != nil {
			return e.fail(ctx, tenantID, opID, err.Error())
		}
		outputs = append(outputs, text)
	}

	combined := strings.Join(outputs, "\n\n")
	if format == FormatJSON {
		if !json.Valid([]byte(combined)) {
			rlog.With(tenantID, "operation_id", opID).Error("transform produced invalid JSON")
			return e.fail(ctx, tenantID, opID, "provider did not return valid JSON after retry")
		}
	}

	output := map[string]any{"result": combined, "output_format": string(format)}
	modelUsed := model
	if modelUsed == "" {
		modelUsed = cfg.ChatModel
	}
	return e.complete(ctx, tenantID, opID, output, modelUsed)
}

func (e *Engine) transformWindow(ctx context.Context, cfg *tenant.Config, instruction string, format OutputFormat, content, model string) (string, error) {
	systemPrompt := fmt.Sprintf("You transform document content per the user's instruction. Output format: %s.", format)
	messages := []chat.Message{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: fmt.Sprintf("Instruction: %s\n\nContent:\n%s", instruction, content)},
	}
	result, err := e.chatReg.Complete(ctx, cfg, messages, chat.Params{Model: model})
	if err != nil {
		return "", err
	}
	if format != FormatJSON || json.Valid([]byte(result.Text)) {
		return result.Text, nil
	}

	retryMessages := append(messages, chat.Message{Role: "assistant", Content: result.Text},
		chat.Message{Role: "user", Content: "That was not valid JSON. Reply again with only well-formed JSON."})
	retryResult, err := e.chatReg.Complete(ctx, cfg, retryMessages, chat.Params{Model: model})
	if err != nil {
		return "", err
	}
	if !json.Valid([]byte(retryResult.Text)) {
		return "", fmt.Errorf("provider did not return valid JSON after retry")
	}
	return retryResult.Text, nil
}

// Cancel marks a still-in-flight operation failed with cancelled=true; any
// in-progress provider response for it is discarded by the caller's ctx
// cancellation, not by this call.
func (e *Engine) Cancel(ctx context.Context, tenantID, id string) error {
	res, err := e.db.Exec(ctx, `
		UPDATE llm_operations SET status = ?, cancelled = true, error_message = ?, completed_at = ?
		WHERE id = ? AND tenant_id = ? AND status IN (?, ?)`,
		StatusFailed, "cancelled", time.Now(), id, tenantID, StatusPending, StatusProcessing)
	if err != nil {
		return fmt.Errorf("failed to cancel operation: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		if _, getErr := e.Get(ctx, tenantID, id); getErr != nil {
			return getErr
		}
	}
	return nil
}

// schedule submits fn to the worker pool, which enforces the operation's
// wall-clock budget (10 minutes by default, configured on the pool).
// A timed-out fn sees its runCtx cancelled; schedule maps that to the
// "timeout" error message reported on the operation row.
func (e *Engine) schedule(tenantID, opID string, fn func(ctx context.Context) error) {
	e.pool.Submit(context.Background(), tenantID, func(runCtx context.Context) error {
		err := fn(runCtx)
		if err != nil {
			rlog.With(tenantID, "operation_id", opID, "error", err).Error("llm operation failed")
			if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
				_ = e.fail(context.Background(), tenantID, opID, "timeout")
			}
		}
		return err
	})
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
