// Package tenant implements the root of isolation: Tenant, User,
// and TenantConfig. Every other package takes a tenant id as an explicit
// parameter rather than reading it from ambient state, so a caller can
// never accidentally cross a tenant boundary by omission.
package tenant

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/kadirpekel/ragflow/internal/apperr"
	"github.com/kadirpekel/ragflow/internal/store"
)

// Role enumerates the three principal roles this module defines.
type Role string

const (
	RoleSuperAdmin  Role = "super_admin"
	RoleTenantAdmin Role = "tenant_admin"
	RoleUser        Role = "user"
)

type Tenant struct {
	ID        string
	Slug      string
	Settings  map[string]any
	IsActive  bool
	CreatedAt time.Time
}

type User struct {
	ID       string
	TenantID string
	Email    string
	Role     Role
	IsActive bool
}

// Config is the per-tenant provider configuration. API keys never live
// here — only in the secret store.
type Config struct {
	TenantID string

	EmbeddingProvider   string
	EmbeddingModel      string
	EmbeddingDimensions int
	EmbeddingBaseURL    string

	ChatProvider string
	ChatModel    string
	ChatBaseURL  string
}

// Store persists tenants, users, and tenant configs.
type Store struct {
	db *store.DB
}

func NewStore(db *store.DB) *Store {
	return &Store{db: db}
}

// GetTenant loads a tenant by id. Returns apperr.NotFoundError if absent or
// inactive (an inactive tenant is, for every purpose a caller cares about,
// not there).
func (s *Store) GetTenant(ctx context.Context, id string) (*Tenant, error) {
	row := s.db.QueryRow(ctx, `SELECT id, slug, settings_json, is_active, created_at FROM tenants WHERE id = ?`, id)
	var t Tenant
	var settingsJSON string
	if err := row.Scan(&t.ID, &t.Slug, &settingsJSON, &t.IsActive, &t.CreatedAt); err != nil {
		return nil, &apperr.NotFoundError{Resource: "tenant", ID: id}
	}
	_ = json.Unmarshal([]byte(settingsJSON), &t.Settings)
	if !t.IsActive {
		return nil, &apperr.NotFoundError{Resource: "tenant", ID: id}
	}
	return &t, nil
}

// GetUser loads a user, scoped to tenantID so a user id from another
// tenant never resolves.
func (s *Store) GetUser(ctx context.Context, tenantID, userID string) (*User, error) {
	row := s.db.QueryRow(ctx, `SELECT id, tenant_id, email, role, is_active FROM users WHERE id = ? AND tenant_id = ?`, userID, tenantID)
	var u User
	if err := row.Scan(&u.ID, &u.TenantID, &u.Email, &u.Role, &u.IsActive); err != nil {
		return nil, &apperr.NotFoundError{Resource: "user", ID: userID}
	}
	return &u, nil
}

// GetConfig loads a tenant's provider configuration.
func (s *Store) GetConfig(ctx context.Context, tenantID string) (*Config, error) {
	row := s.db.QueryRow(ctx, `SELECT tenant_id, embedding_provider, embedding_model, embedding_dimensions, embedding_base_url,
		chat_provider, chat_model, chat_base_url FROM tenant_configs WHERE tenant_id = ?`, tenantID)
	var c Config
	var embBaseURL, chatBaseURL *string
	if err := row.Scan(&c.TenantID, &c.EmbeddingProvider, &c.EmbeddingModel, &c.EmbeddingDimensions, &embBaseURL,
		&c.ChatProvider, &c.ChatModel, &chatBaseURL); err != nil {
		return nil, &apperr.NotFoundError{Resource: "tenant_config", ID: tenantID}
	}
	if embBaseURL != nil {
		c.EmbeddingBaseURL = *embBaseURL
	}
	if chatBaseURL != nil {
		c.ChatBaseURL = *chatBaseURL
	}
	return &c, nil
}

// PutConfig upserts a tenant's provider configuration. Changing
// EmbeddingDimensions on an existing config is rejected with
// apperr.ConflictError, since it requires an explicit reindex.
func (s *Store) PutConfig(ctx context.Context, c *Config) error {
	existing, err := s.GetConfig(ctx, c.TenantID)
	if err == nil && existing.EmbeddingDimensions != c.EmbeddingDimensions {
		return &apperr.ConflictError{Msg: fmt.Sprintf(
			"changing embedding dimensions from %d to %d requires an explicit reindex",
			existing.EmbeddingDimensions, c.EmbeddingDimensions)}
	}

	query := `INSERT INTO tenant_configs (tenant_id, embedding_provider, embedding_model, embedding_dimensions, embedding_base_url, chat_provider, chat_model, chat_base_url)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	switch s.db.Dialect {
	case "postgres":
		query += ` ON CONFLICT (tenant_id) DO UPDATE SET embedding_provider = EXCLUDED.embedding_provider,
			embedding_model = EXCLUDED.embedding_model, embedding_dimensions = EXCLUDED.embedding_dimensions,
			embedding_base_url = EXCLUDED.embedding_base_url, chat_provider = EXCLUDED.chat_provider,
			chat_model = EXCLUDED.chat_model, chat_base_url = EXCLUDED.chat_base_url`
	case "mysql":
		query += ` ON DUPLICATE KEY UPDATE embedding_provider = VALUES(embedding_provider),
			embedding_model = VALUES(embedding_model), embedding_dimensions = VALUES(embedding_dimensions),
			embedding_base_url = VALUES(embedding_base_url), chat_provider = VALUES(chat_provider),
			chat_model = VALUES(chat_model), chat_base_url = VALUES(chat_base_url)`
	default: // sqlite
		query += ` ON CONFLICT(tenant_id) DO UPDATE SET embedding_provider = excluded.embedding_provider,
			embedding_model = excluded.embedding_model, embedding_dimensions = excluded.embedding_dimensions,
			embedding_base_url = excluded.embedding_base_url, chat_provider = excluded.chat_provider,
			chat_model = excluded.chat_model, chat_base_url = excluded.chat_base_url`
	}

	_, err = s.db.Exec(ctx, query, c.TenantID, c.EmbeddingProvider, c.EmbeddingModel, c.EmbeddingDimensions,
		nullableString(c.EmbeddingBaseURL), c.ChatProvider, c.ChatModel, nullableString(c.ChatBaseURL))
	return err
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
