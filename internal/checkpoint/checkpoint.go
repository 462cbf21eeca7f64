// Package checkpoint implements a durable, thread-scoped, append-only log
// of workflow execution state, resumable after an interrupt or crash.
package checkpoint

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/kadirpekel/ragflow/internal/apperr"
	"github.com/kadirpekel/ragflow/internal/store"
)

// Checkpoint is one append-only snapshot of graph state for a thread.
type Checkpoint struct {
	ThreadID   string
	Step       int
	StateBlob  []byte
	ParentStep *int
	CreatedAt  time.Time
}

// Store persists Checkpoints. Writes to the same (thread_id, step) race;
// the loser gets apperr.ConflictError rather than silently overwriting the
// winner, enforcing single-writer-per-step ordering (the executor's
// per-thread serialization).
type Store struct {
	db *store.DB
}

func NewStore(db *store.DB) *Store {
	return &Store{db: db}
}

// Save appends a new checkpoint row. Step must be exactly one greater than
// the thread's current max step (or 0 for a fresh thread); any other value
// returns apperr.ConflictError, keeping the strictly-increasing-with-no-gaps
// invariant.
func (s *Store) Save(ctx context.Context, threadID string, step int, stateBlob []byte, parentStep *int) (*Checkpoint, error) {
	var notFound *apperr.NotFoundError
	latest, err := s.LoadLatest(ctx, threadID)
	if err != nil && !errors.As(err, &notFound) {
		return nil, err
	}
	wantStep := 0
	if latest != nil {
		wantStep = latest.Step + 1
	}
	if step != wantStep {
		return nil, &apperr.ConflictError{Msg: fmt.Sprintf(
			"checkpoint step %d is not the next step for thread %s (expected %d): ConcurrentUpdate", step, threadID, wantStep)}
	}

	cp := &Checkpoint{ThreadID: threadID, Step: step, StateBlob: stateBlob, ParentStep: parentStep, CreatedAt: time.Now()}
	_, err = s.db.Exec(ctx, `
		INSERT INTO checkpoints (thread_id, step, state_blob, parent_step, created_at) VALUES (?, ?, ?, ?, ?)`,
		cp.ThreadID, cp.Step, cp.StateBlob, cp.ParentStep, cp.CreatedAt)
	if err != nil {
		if store.IsUniqueViolation(err) {
			return nil, &apperr.ConflictError{Msg: fmt.Sprintf("concurrent write to thread %s step %d: ConcurrentUpdate", threadID, step)}
		}
		return nil, fmt.Errorf("failed to save checkpoint: %w", err)
	}
	return cp, nil
}

// LoadLatest returns the highest-step checkpoint for threadID, or an
// *apperr.NotFoundError if the thread has none.
func (s *Store) LoadLatest(ctx context.Context, threadID string) (*Checkpoint, error) {
	row := s.db.QueryRow(ctx, `
		SELECT thread_id, step, state_blob, parent_step, created_at FROM checkpoints
		WHERE thread_id = ? ORDER BY step DESC LIMIT 1`, threadID)
	return scanCheckpoint(row, threadID)
}

func scanCheckpoint(row *sql.Row, threadID string) (*Checkpoint, error) {
	var cp Checkpoint
	var parentStep sql.NullInt64
	if err := row.Scan(&cp.ThreadID, &cp.Step, &cp.StateBlob, &parentStep, &cp.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, &apperr.NotFoundError{Resource: "checkpoint", ID: threadID}
		}
		return nil, fmt.Errorf("failed to scan checkpoint: %w", err)
	}
	if parentStep.Valid {
		v := int(parentStep.Int64)
		cp.ParentStep = &v
	}
	return &cp, nil
}

// List returns every checkpoint for threadID ordered by step ascending.
func (s *Store) List(ctx context.Context, threadID string) ([]*Checkpoint, error) {
	rows, err := s.db.Query(ctx, `
		SELECT thread_id, step, state_blob, parent_step, created_at FROM checkpoints
		WHERE thread_id = ? ORDER BY step ASC`, threadID)
	if err != nil {
		return nil, fmt.Errorf("failed to list checkpoints: %w", err)
	}
	defer rows.Close()

	var out []*Checkpoint
	for rows.Next() {
		var cp Checkpoint
		var parentStep sql.NullInt64
		if err := rows.Scan(&cp.ThreadID, &cp.Step, &cp.StateBlob, &parentStep, &cp.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan checkpoint row: %w", err)
		}
		if parentStep.Valid {
			v := int(parentStep.Int64)
			cp.ParentStep = &v
		}
		out = append(out, &cp)
	}
	return out, rows.Err()
}

// TruncateAfter deletes every checkpoint with step > step for threadID,
// supporting branching/retry from an earlier point in the log.
func (s *Store) TruncateAfter(ctx context.Context, threadID string, step int) error {
	_, err := s.db.Exec(ctx, `DELETE FROM checkpoints WHERE thread_id = ? AND step > ?`, threadID, step)
	if err != nil {
		return fmt.Errorf("failed to truncate checkpoints: %w", err)
	}
	return nil
}
