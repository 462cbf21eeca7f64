package chat

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/ragflow/internal/secretstore"
	"github.com/kadirpekel/ragflow/internal/store"
	"github.com/kadirpekel/ragflow/internal/tenant"

	_ "github.com/mattn/go-sqlite3"
)

const testTenantID = "tenant-chat"

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	db, err := store.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	_, err = db.Exec(context.Background(),
		`INSERT INTO tenants (id, slug, settings_json, is_active, created_at) VALUES (?, ?, '{}', true, ?)`,
		testTenantID, testTenantID, time.Now())
	require.NoError(t, err)

	key := make([]byte, 32)
	secrets, err := secretstore.New(db, key)
	require.NoError(t, err)

	return NewRegistry(secrets)
}

func TestRegistry_Resolve_Ollama_NoCredentialsNeeded(t *testing.T) {
	r := newTestRegistry(t)
	cfg := &tenant.Config{TenantID: testTenantID, ChatProvider: "ollama", ChatModel: "llama3", ChatBaseURL: "http://localhost:11434"}

	p, err := r.Resolve(context.Background(), cfg)
	require.NoError(t, err)
	require.Equal(t, "llama3", p.ModelName())
}

func TestRegistry_Resolve_CachesByTenantProviderModel(t *testing.T) {
	r := newTestRegistry(t)
	cfg := &tenant.Config{TenantID: testTenantID, ChatProvider: "ollama", ChatModel: "llama3"}

	p1, err := r.Resolve(context.Background(), cfg)
	require.NoError(t, err)
	p2, err := r.Resolve(context.Background(), cfg)
	require.NoError(t, err)
	require.Same(t, p1, p2)
}

func TestRegistry_Resolve_UnsupportedProvider(t *testing.T) {
	r := newTestRegistry(t)
	cfg := &tenant.Config{TenantID: testTenantID, ChatProvider: "not-a-provider"}

	_, err := r.Resolve(context.Background(), cfg)
	require.Error(t, err)
}

func TestRegistry_Resolve_OpenAIWithoutCredentials(t *testing.T) {
	r := newTestRegistry(t)
	cfg := &tenant.Config{TenantID: testTenantID, ChatProvider: "openai", ChatModel: "gpt-4o"}

	_, err := r.Resolve(context.Background(), cfg)
	require.Error(t, err)
}

func TestRegistry_Resolve_OpenAIWithCredentials(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()
	require.NoError(t, r.secrets.PutJSON(ctx, testTenantID, secretstore.ChatPath("openai"), map[string]string{"api_key": "sk-test"}))

	cfg := &tenant.Config{TenantID: testTenantID, ChatProvider: "openai", ChatModel: "gpt-4o"}
	p, err := r.Resolve(ctx, cfg)
	require.NoError(t, err)
	require.Equal(t, "gpt-4o", p.ModelName())
}
