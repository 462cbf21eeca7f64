package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	require.Equal(t, ":8080", cfg.HTTP.Addr)
	require.Equal(t, "sqlite", cfg.Database.Dialect)
	require.Equal(t, "chromem", cfg.Vector.Backend)
	require.Equal(t, 16, cfg.Workers.GlobalConcurrency)
	require.Equal(t, 4, cfg.Workers.PerTenantLimit)
	require.Equal(t, 10*time.Minute, cfg.Workers.OperationTimeout)
	require.Equal(t, "info", cfg.LogLevel)
	require.Empty(t, cfg.Session.RedisURL)
}

func TestLoad_EmptyPathReturnsDefault(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, Default(), cfg)
}

func TestLoad_OverlaysYAMLOntoDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := `
http:
  addr: ":9090"
database:
  dialect: postgres
  dsn: "postgres://localhost/ragflow"
vector:
  backend: qdrant
  qdrant:
    host: "vector.internal"
    port: 6334
session_cache:
  redis_url: "redis://localhost:6379/0"
log_level: debug
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, ":9090", cfg.HTTP.Addr)
	require.Equal(t, "postgres", cfg.Database.Dialect)
	require.Equal(t, "qdrant", cfg.Vector.Backend)
	require.Equal(t, "vector.internal", cfg.Vector.Qdrant.Host)
	require.Equal(t, 6334, cfg.Vector.Qdrant.Port)
	require.Equal(t, "redis://localhost:6379/0", cfg.Session.RedisURL)
	require.Equal(t, "debug", cfg.LogLevel)
	// Fields left unset in the file keep Default()'s values.
	require.Equal(t, 16, cfg.Workers.GlobalConcurrency)
}

func TestLoad_MissingFileErrors(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	require.Error(t, err)
}

func TestLoad_MalformedYAMLErrors(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("not: valid: yaml: ["), 0o644))

	_, err := Load(path)
	require.Error(t, err)
}
