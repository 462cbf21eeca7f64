// Package secretstore implements a per-tenant encrypted key/value lookup
// for provider credentials. Paths are namespaced
// "embedding-providers/<name>" and "chat-providers/<name>".
// Reads are memoized in-process for at most 60 seconds so a hot
// request path isn't a round trip to the secrets table on every call.
package secretstore

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/kadirpekel/ragflow/internal/store"
)

// ErrNotFound is returned when a path has no stored value for the tenant.
var ErrNotFound = errors.New("secret not found")

const memoTTL = 60 * time.Second

// Store is a relational, AES-GCM-encrypted-at-rest secret store scoped by
// tenant id. A tenant context can never read another tenant's secrets: the
// tenant_id is part of every query's WHERE clause, never inferred from the
// path alone.
type Store struct {
	db  *store.DB
	gcm cipher.AEAD

	mu    sync.Mutex
	cache map[string]memoEntry
}

type memoEntry struct {
	value   []byte
	expires time.Time
}

// New builds a Store. key must be 16, 24, or 32 bytes (AES-128/192/256);
// the ragflow command decodes it from the hex-encoded environment variable
// named by --secret-key-env.
func New(db *store.DB, key []byte) (*Store, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("invalid secret store key: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to init AES-GCM: %w", err)
	}

	return &Store{db: db, gcm: gcm, cache: make(map[string]memoEntry)}, nil
}

func cacheKey(tenantID, path string) string { return tenantID + "\x00" + path }

// Get returns the decrypted bytes stored at path for tenantID, or
// ErrNotFound.
func (s *Store) Get(ctx context.Context, tenantID, path string) ([]byte, error) {
	key := cacheKey(tenantID, path)

	s.mu.Lock()
	if entry, ok := s.cache[key]; ok && time.Now().Before(entry.expires) {
		s.mu.Unlock()
		return entry.value, nil
	}
	s.mu.Unlock()

	row := s.db.QueryRow(ctx, `SELECT value_ciphertext FROM secrets WHERE tenant_id = ? AND path = ?`, tenantID, path)
	var ciphertext []byte
	if err := row.Scan(&ciphertext); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to read secret: %w", err)
	}

	plaintext, err := s.decrypt(ciphertext)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt secret: %w", err)
	}

	s.mu.Lock()
	s.cache[key] = memoEntry{value: plaintext, expires: time.Now().Add(memoTTL)}
	s.mu.Unlock()

	return plaintext, nil
}

// Put stores value at path for tenantID, upserting.
func (s *Store) Put(ctx context.Context, tenantID, path string, value []byte) error {
	ciphertext, err := s.encrypt(value)
	if err != nil {
		return fmt.Errorf("failed to encrypt secret: %w", err)
	}

	query := `INSERT INTO secrets (tenant_id, path, value_ciphertext) VALUES (?, ?, ?)`
	switch s.db.Dialect {
	case "postgres":
		query += ` ON CONFLICT (tenant_id, path) DO UPDATE SET value_ciphertext = EXCLUDED.value_ciphertext`
	case "mysql":
		query += ` ON DUPLICATE KEY UPDATE value_ciphertext = VALUES(value_ciphertext)`
	default:
		query += ` ON CONFLICT(tenant_id, path) DO UPDATE SET value_ciphertext = excluded.value_ciphertext`
	}

	if _, err := s.db.Exec(ctx, query, tenantID, path, ciphertext); err != nil {
		return fmt.Errorf("failed to write secret: %w", err)
	}

	s.mu.Lock()
	delete(s.cache, cacheKey(tenantID, path))
	s.mu.Unlock()
	return nil
}

// Delete removes the value at path for tenantID, if any.
func (s *Store) Delete(ctx context.Context, tenantID, path string) error {
	if _, err := s.db.Exec(ctx, `DELETE FROM secrets WHERE tenant_id = ? AND path = ?`, tenantID, path); err != nil {
		return fmt.Errorf("failed to delete secret: %w", err)
	}
	s.mu.Lock()
	delete(s.cache, cacheKey(tenantID, path))
	s.mu.Unlock()
	return nil
}

// GetJSON is a convenience wrapper for values stored as {"api_key": "..."}
// or {"base_url": "..."} as the persisted state layout.
func (s *Store) GetJSON(ctx context.Context, tenantID, path string, out any) error {
	raw, err := s.Get(ctx, tenantID, path)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}

// PutJSON is a convenience wrapper that marshals value and stores it at
// path for tenantID.
func (s *Store) PutJSON(ctx context.Context, tenantID, path string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal secret: %w", err)
	}
	return s.Put(ctx, tenantID, path, raw)
}

func (s *Store) encrypt(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, s.gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	return s.gcm.Seal(nonce, nonce, plaintext, nil), nil
}

func (s *Store) decrypt(ciphertext []byte) ([]byte, error) {
	nonceSize := s.gcm.NonceSize()
	if len(ciphertext) < nonceSize {
		return nil, errors.New("ciphertext too short")
	}
	nonce, data := ciphertext[:nonceSize], ciphertext[nonceSize:]
	return s.gcm.Open(nil, nonce, data, nil)
}

// Path builders for the two namespaces this package defines.
func EmbeddingPath(providerName string) string { return "embedding-providers/" + providerName }
func ChatPath(providerName string) string      { return "chat-providers/" + providerName }
