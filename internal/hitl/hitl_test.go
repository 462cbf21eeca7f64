package hitl

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/ragflow/internal/apperr"
	"github.com/kadirpekel/ragflow/internal/store"

	_ "github.com/mattn/go-sqlite3"
)

const testTenantID = "tenant-hitl"

type fakeResumer struct {
	resumed []string
}

func (f *fakeResumer) Resume(ctx context.Context, executionID string) error {
	f.resumed = append(f.resumed, executionID)
	return nil
}

func newTestStore(t *testing.T) (*Store, *fakeResumer) {
	t.Helper()
	db, err := store.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	r := &fakeResumer{}
	return NewStore(db, r), r
}

func TestCreatePendingAndRespondApproved(t *testing.T) {
	s, resumer := newTestStore(t)
	ctx := context.Background()

	a, err := s.CreatePending(ctx, "exec-1", testTenantID, "user-1", "Proceed?", map[string]any{"step": 2})
	require.NoError(t, err)
	assert.Equal(t, StatusPending, a.Status)

	pending, err := s.ListPending(ctx, testTenantID, "user-1")
	require.NoError(t, err)
	require.Len(t, pending, 1)

	updated, err := s.Respond(ctx, testTenantID, a.ID, true, "looks good")
	require.NoError(t, err)
	assert.Equal(t, StatusApproved, updated.Status)
	assert.Equal(t, "looks good", updated.UserResponse)
	assert.NotNil(t, updated.RespondedAt)
	assert.Equal(t, []string{"exec-1"}, resumer.resumed)

	pending, err = s.ListPending(ctx, testTenantID, "user-1")
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestCreatePendingRejectsSecondPendingForSameExecution(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	_, err := s.CreatePending(ctx, "exec-1", testTenantID, "user-1", "first?", nil)
	require.NoError(t, err)

	_, err = s.CreatePending(ctx, "exec-1", testTenantID, "user-1", "second?", nil)
	require.Error(t, err)
	var conflict *apperr.ConflictError
	assert.ErrorAs(t, err, &conflict)
}

func TestRespondRejectsReplay(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	a, err := s.CreatePending(ctx, "exec-2", testTenantID, "user-1", "Proceed?", nil)
	require.NoError(t, err)

	_, err = s.Respond(ctx, testTenantID, a.ID, true, "")
	require.NoError(t, err)

	_, err = s.Respond(ctx, testTenantID, a.ID, true, "again")
	require.Error(t, err)
	var conflict *apperr.ConflictError
	assert.ErrorAs(t, err, &conflict)
}

func TestRespondRejected(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	a, err := s.CreatePending(ctx, "exec-3", testTenantID, "user-1", "Proceed?", nil)
	require.NoError(t, err)

	updated, err := s.Respond(ctx, testTenantID, a.ID, false, "no thanks")
	require.NoError(t, err)
	assert.Equal(t, StatusRejected, updated.Status)
}

func TestListFiltersByStatus(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	a1, err := s.CreatePending(ctx, "exec-4", testTenantID, "user-1", "a?", nil)
	require.NoError(t, err)
	_, err = s.CreatePending(ctx, "exec-5", testTenantID, "user-1", "b?", nil)
	require.NoError(t, err)

	_, err = s.Respond(ctx, testTenantID, a1.ID, true, "")
	require.NoError(t, err)

	approved, err := s.List(ctx, testTenantID, StatusApproved, 10, 0)
	require.NoError(t, err)
	require.Len(t, approved, 1)
	assert.Equal(t, a1.ID, approved[0].ID)

	pending, err := s.List(ctx, testTenantID, StatusPending, 10, 0)
	require.NoError(t, err)
	require.Len(t, pending, 1)
}
