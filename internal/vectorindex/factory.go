package vectorindex

import (
	"fmt"

	"github.com/kadirpekel/ragflow/internal/config"
)

// New builds the configured Index backend. Every tenant shares the same
// process-wide backend; isolation comes from per-tenant collections, not
// from separate backend instances.
func New(cfg config.VectorConfig) (Index, error) {
	switch cfg.Backend {
	case "qdrant":
		return NewQdrant(QdrantConfig{
			Host:   cfg.Qdrant.Host,
			Port:   cfg.Qdrant.Port,
			APIKey: cfg.Qdrant.APIKey,
			UseTLS: cfg.Qdrant.UseTLS,
		})
	case "chromem", "":
		return NewChromem(cfg.Chromem.PersistPath)
	default:
		return nil, fmt.Errorf("unsupported vector backend: %s", cfg.Backend)
	}
}
