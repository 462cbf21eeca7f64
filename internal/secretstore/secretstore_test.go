package secretstore

import (
	"context"
	"crypto/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/ragflow/internal/store"

	_ "github.com/mattn/go-sqlite3"
)

const testTenantID = "tenant-secrets"

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := store.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	_, err = db.Exec(context.Background(),
		`INSERT INTO tenants (id, slug, settings_json, is_active, created_at) VALUES (?, ?, '{}', true, ?)`,
		testTenantID, testTenantID, time.Now())
	require.NoError(t, err)

	key := make([]byte, 32)
	_, err = rand.Read(key)
	require.NoError(t, err)

	s, err := New(db, key)
	require.NoError(t, err)
	return s
}

func TestNew_RejectsBadKeySize(t *testing.T) {
	db, err := store.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	_, err = New(db, []byte("too-short"))
	require.Error(t, err)
}

func TestStore_PutGetRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	err := s.Put(ctx, testTenantID, EmbeddingPath("openai"), []byte(`{"api_key":"sk-test"}`))
	require.NoError(t, err)

	got, err := s.Get(ctx, testTenantID, EmbeddingPath("openai"))
	require.NoError(t, err)
	require.Equal(t, `{"api_key":"sk-test"}`, string(got))
}

func TestStore_Get_NotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Get(context.Background(), testTenantID, EmbeddingPath("missing"))
	require.ErrorIs(t, err, ErrNotFound)
}

func TestStore_Put_UpsertsOnConflict(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	path := ChatPath("anthropic")

	require.NoError(t, s.Put(ctx, testTenantID, path, []byte("first")))
	require.NoError(t, s.Put(ctx, testTenantID, path, []byte("second")))

	got, err := s.Get(ctx, testTenantID, path)
	require.NoError(t, err)
	require.Equal(t, "second", string(got))
}

func TestStore_Delete(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	path := ChatPath("openai")

	require.NoError(t, s.Put(ctx, testTenantID, path, []byte("val")))
	require.NoError(t, s.Delete(ctx, testTenantID, path))

	_, err := s.Get(ctx, testTenantID, path)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestStore_GetJSON_PutJSON(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	path := EmbeddingPath("cohere")

	type creds struct {
		APIKey string `json:"api_key"`
	}
	require.NoError(t, s.PutJSON(ctx, testTenantID, path, creds{APIKey: "abc123"}))

	var out creds
	require.NoError(t, s.GetJSON(ctx, testTenantID, path, &out))
	require.Equal(t, "abc123", out.APIKey)
}

func TestStore_CacheServesWithoutRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	path := EmbeddingPath("openai")
	require.NoError(t, s.Put(ctx, testTenantID, path, []byte("cached-value")))

	// Prime the cache.
	_, err := s.Get(ctx, testTenantID, path)
	require.NoError(t, err)

	// Mutate the underlying row directly, bypassing Store.Put's cache
	// invalidation, to prove the second Get is served from memory.
	_, err = s.db.Exec(ctx, `DELETE FROM secrets WHERE tenant_id = ? AND path = ?`, testTenantID, path)
	require.NoError(t, err)

	got, err := s.Get(ctx, testTenantID, path)
	require.NoError(t, err)
	require.Equal(t, "cached-value", string(got))
}

func TestEmbeddingAndChatPath(t *testing.T) {
	require.Equal(t, "embedding-providers/openai", EmbeddingPath("openai"))
	require.Equal(t, "chat-providers/anthropic", ChatPath("anthropic"))
}
