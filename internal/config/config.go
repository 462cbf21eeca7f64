// Package config loads the process-wide, non-tenant configuration for the
// ragflow backend: HTTP listen address, relational DB connection, default
// vector index backend, worker pool sizing, and JWT verification. Per-tenant
// provider selection (TenantConfig) is data, not config, and lives
// in the relational store instead.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level server configuration, loaded from YAML by Load.
// LoadDotEnv only sets process environment variables from .env files; Load
// does not overlay environment variables onto Config fields.
type Config struct {
	HTTP     HTTPConfig         `yaml:"http"`
	Database DatabaseConfig     `yaml:"database"`
	Vector   VectorConfig       `yaml:"vector"`
	Workers  WorkerConfig       `yaml:"workers"`
	Auth     AuthConfig         `yaml:"auth"`
	Session  SessionCacheConfig `yaml:"session_cache"`
	LogLevel string             `yaml:"log_level,omitempty"`
}

type HTTPConfig struct {
	Addr string `yaml:"addr,omitempty"`
}

// DatabaseConfig selects the relational store backend. Dialect is one of
// "postgres", "mysql", "sqlite" and determines both the driver and the
// placeholder style used by internal/store's hand-written SQL.
type DatabaseConfig struct {
	Dialect string `yaml:"dialect,omitempty"`
	DSN     string `yaml:"dsn,omitempty"`
}

// VectorConfig selects the vector index backend that every tenant shares;
// there is no per-tenant override. "qdrant" talks to a real Qdrant instance; "chromem" runs an
// embedded, in-process store suitable for development and tests.
type VectorConfig struct {
	Backend string        `yaml:"backend,omitempty"`
	Qdrant  QdrantConfig  `yaml:"qdrant,omitempty"`
	Chromem ChromemConfig `yaml:"chromem,omitempty"`
}

type QdrantConfig struct {
	Host   string `yaml:"host,omitempty"`
	Port   int    `yaml:"port,omitempty"`
	APIKey string `yaml:"api_key,omitempty"`
	UseTLS bool   `yaml:"use_tls,omitempty"`
}

type ChromemConfig struct {
	PersistPath string `yaml:"persist_path,omitempty"`
}

// WorkerConfig bounds background-task parallelism,
// per-tenant cap.
type WorkerConfig struct {
	GlobalConcurrency int           `yaml:"global_concurrency,omitempty"`
	PerTenantLimit    int           `yaml:"per_tenant_limit,omitempty"`
	OperationTimeout  time.Duration `yaml:"operation_timeout,omitempty"`
}

// AuthConfig configures bearer-JWT verification at the HTTP boundary.
type AuthConfig struct {
	// JWKSPath or HMACSecretEnv authenticate the tokens; exactly one should be set.
	JWKSPath      string `yaml:"jwks_path,omitempty"`
	HMACSecretEnv string `yaml:"hmac_secret_env,omitempty"`
}

// SessionCacheConfig optionally fronts the session store's get_context path
// with a Redis read-through cache. Unset RedisURL disables it and every
// read goes straight to the relational store.
type SessionCacheConfig struct {
	RedisURL string `yaml:"redis_url,omitempty"`
}

// Default returns a configuration suitable for local development: sqlite,
// embedded chromem vector store, 16 background tasks in total and at most 4
// per tenant.
func Default() *Config {
	return &Config{
		HTTP:     HTTPConfig{Addr: ":8080"},
		Database: DatabaseConfig{Dialect: "sqlite", DSN: "file:ragflow.db?_foreign_keys=on"},
		Vector:   VectorConfig{Backend: "chromem", Chromem: ChromemConfig{PersistPath: "./data/vectors"}},
		Workers: WorkerConfig{
			GlobalConcurrency: 16,
			PerTenantLimit:    4,
			OperationTimeout:  10 * time.Minute,
		},
		LogLevel: "info",
	}
}

// Load reads a YAML config file, falling back to Default() for any field
// left unset in the file rather than the file's absence of a field zeroing
// it out.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return cfg, nil
}
