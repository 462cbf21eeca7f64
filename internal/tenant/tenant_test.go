package tenant

import (
	"context"
	"testing"
	"time"

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

func seedTenant(t *testing.T, s *Store, id string, active bool) {
	t.Helper()
	_, err := s.db.Exec(context.Background(),
		`INSERT INTO tenants (id, slug, settings_json, is_active, created_at) VALUES (?, ?, '{"plan":"pro"}', ?, ?)`,
		id, id, active, time.Now())
	require.NoError(t, err)
}

func TestStore_GetTenant(t *testing.T) {
	s := newTestStore(t)
	seedTenant(t, s, "tenant-1", true)

	got, err := s.GetTenant(context.Background(), "tenant-1")
	require.NoError(t, err)
	require.Equal(t, "tenant-1", got.ID)
	require.Equal(t, "pro", got.Settings["plan"])
}

func TestStore_GetTenant_InactiveTreatedAsNotFound(t *testing.T) {
	s := newTestStore(t)
	seedTenant(t, s, "tenant-inactive", false)

	_, err := s.GetTenant(context.Background(), "tenant-inactive")
	var nf *apperr.NotFoundError
	require.ErrorAs(t, err, &nf)
}

func TestStore_GetTenant_Missing(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetTenant(context.Background(), "nope")
	var nf *apperr.NotFoundError
	require.ErrorAs(t, err, &nf)
}

func TestStore_PutConfig_GetConfig_RoundTrip(t *testing.T) {
	s := newTestStore(t)
	seedTenant(t, s, "tenant-1", true)
	ctx := context.Background()

	cfg := &Config{
		TenantID: "tenant-1", EmbeddingProvider: "openai", EmbeddingModel: "text-embedding-3-small",
		EmbeddingDimensions: 1536, ChatProvider: "anthropic", ChatModel: "claude-3-5-sonnet",
	}
	require.NoError(t, s.PutConfig(ctx, cfg))

	got, err := s.GetConfig(ctx, "tenant-1")
	require.NoError(t, err)
	require.Equal(t, cfg.EmbeddingProvider, got.EmbeddingProvider)
	require.Equal(t, cfg.ChatModel, got.ChatModel)
	require.Equal(t, 1536, got.EmbeddingDimensions)
}

func TestStore_PutConfig_UpsertsOnSecondWrite(t *testing.T) {
	s := newTestStore(t)
	seedTenant(t, s, "tenant-1", true)
	ctx := context.Background()

	cfg := &Config{TenantID: "tenant-1", EmbeddingProvider: "openai", EmbeddingModel: "m1", EmbeddingDimensions: 768, ChatProvider: "openai", ChatModel: "gpt-4o"}
	require.NoError(t, s.PutConfig(ctx, cfg))

	cfg.ChatModel = "gpt-4o-mini"
	require.NoError(t, s.PutConfig(ctx, cfg))

	got, err := s.GetConfig(ctx, "tenant-1")
	require.NoError(t, err)
	require.Equal(t, "gpt-4o-mini", got.ChatModel)
}

func TestStore_PutConfig_RejectsDimensionChangeWithoutReindex(t *testing.T) {
	s := newTestStore(t)
	seedTenant(t, s, "tenant-1", true)
	ctx := context.Background()

	cfg := &Config{TenantID: "tenant-1", EmbeddingProvider: "openai", EmbeddingModel: "m1", EmbeddingDimensions: 768, ChatProvider: "openai", ChatModel: "gpt-4o"}
	require.NoError(t, s.PutConfig(ctx, cfg))

	cfg.EmbeddingDimensions = 1536
	err := s.PutConfig(ctx, cfg)
	var conflict *apperr.ConflictError
	require.ErrorAs(t, err, &conflict)
}

func TestStore_GetUser_ScopedByTenant(t *testing.T) {
	s := newTestStore(t)
	seedTenant(t, s, "tenant-1", true)
	seedTenant(t, s, "tenant-2", true)
	ctx := context.Background()

	_, err := s.db.Exec(ctx, `INSERT INTO users (id, tenant_id, email, role, is_active) VALUES (?, ?, ?, ?, ?)`,
		"user-1", "tenant-1", "user@example.com", string(RoleUser), true)
	require.NoError(t, err)

	got, err := s.GetUser(ctx, "tenant-1", "user-1")
	require.NoError(t, err)
	require.Equal(t, "user@example.com", got.Email)

	_, err = s.GetUser(ctx, "tenant-2", "user-1")
	var nf *apperr.NotFoundError
	require.ErrorAs(t, err, &nf)
}
