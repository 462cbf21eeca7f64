package checkpoint

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/ragflow/internal/apperr"
	"github.com/kadirpekel/ragflow/internal/store"

	_ "github.com/mattn/go-sqlite3"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := store.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewStore(db)
}

func TestSaveLoadLatestRoundTrips(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	_, err := s.Save(ctx, "thread-1", 0, []byte("state-0"), nil)
	require.NoError(t, err)

	parent := 0
	_, err = s.Save(ctx, "thread-1", 1, []byte("state-1"), &parent)
	require.NoError(t, err)

	latest, err := s.LoadLatest(ctx, "thread-1")
	require.NoError(t, err)
	assert.Equal(t, 1, latest.Step)
	assert.Equal(t, []byte("state-1"), latest.StateBlob)
	require.NotNil(t, latest.ParentStep)
	assert.Equal(t, 0, *latest.ParentStep)
}

func TestSaveRejectsNonSequentialStep(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	_, err := s.Save(ctx, "thread-1", 0, []byte("state-0"), nil)
	require.NoError(t, err)

	_, err = s.Save(ctx, "thread-1", 5, []byte("state-5"), nil)
	require.Error(t, err)
	var conflict *apperr.ConflictError
	assert.ErrorAs(t, err, &conflict)
}

func TestLoadLatestNotFound(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	_, err := s.LoadLatest(ctx, "no-such-thread")
	require.Error(t, err)
	var notFound *apperr.NotFoundError
	assert.ErrorAs(t, err, &notFound)
}

func TestListOrdersByStepAscending(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	for i := 0; i < 3; i++ {
		_, err := s.Save(ctx, "thread-1", i, []byte("state"), nil)
		require.NoError(t, err)
	}

	cps, err := s.List(ctx, "thread-1")
	require.NoError(t, err)
	require.Len(t, cps, 3)
	for i, cp := range cps {
		assert.Equal(t, i, cp.Step)
	}
}

func TestTruncateAfterRemovesLaterSteps(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	for i := 0; i < 4; i++ {
		_, err := s.Save(ctx, "thread-1", i, []byte("state"), nil)
		require.NoError(t, err)
	}

	require.NoError(t, s.TruncateAfter(ctx, "thread-1", 1))

	cps, err := s.List(ctx, "thread-1")
	require.NoError(t, err)
	require.Len(t, cps, 2)

	latest, err := s.LoadLatest(ctx, "thread-1")
	require.NoError(t, err)
	assert.Equal(t, 1, latest.Step)

	_, err = s.Save(ctx, "thread-1", 2, []byte("retried"), nil)
	require.NoError(t, err)
}
