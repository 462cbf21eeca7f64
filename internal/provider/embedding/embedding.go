// Package embedding implements the EmbeddingProvider half of the provider
// abstraction.
package embedding

import (
	"context"
	"fmt"

	"github.com/kadirpekel/ragflow/internal/apperr"
	"github.com/kadirpekel/ragflow/internal/provider"
	"github.com/kadirpekel/ragflow/internal/secretstore"
	"github.com/kadirpekel/ragflow/internal/tenant"
)

// Provider embeds text into fixed-dimensional vectors.
type Provider interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
	Probe(ctx context.Context) error
}

// Registry resolves a tenant's configured EmbeddingProvider, memoizing
// instances for the same tenant+config in a bounded LRU (provider.Registry)
// so a hot request path doesn't rebuild a provider client on every call.
// Cached instances have no time-based expiry.
type Registry struct {
	secrets *secretstore.Store
	cache   *provider.Registry[Provider]
}

func NewRegistry(secrets *secretstore.Store) *Registry {
	return &Registry{secrets: secrets, cache: provider.NewRegistry[Provider]()}
}

// Resolve builds (or returns the cached) embedding provider for a tenant's
// configuration.
func (r *Registry) Resolve(ctx context.Context, cfg *tenant.Config) (Provider, error) {
	cacheName := cfg.TenantID + "/" + cfg.EmbeddingProvider + "/" + cfg.EmbeddingModel
	if p, ok := r.cache.Get(cacheName); ok {
		return p, nil
	}

	var p Provider
	var err error
	switch cfg.EmbeddingProvider {
	case "openai":
		apiKey, kerr := r.apiKey(ctx, cfg.TenantID, "openai")
		if kerr != nil {
			return nil, kerr
		}
		p = NewOpenAI(apiKey, cfg.EmbeddingModel, cfg.EmbeddingBaseURL, cfg.EmbeddingDimensions)
	case "cohere":
		apiKey, kerr := r.apiKey(ctx, cfg.TenantID, "cohere")
		if kerr != nil {
			return nil, kerr
		}
		p = NewCohere(apiKey, cfg.EmbeddingModel, cfg.EmbeddingDimensions)
	case "ollama":
		p = NewOllama(cfg.EmbeddingBaseURL, cfg.EmbeddingModel, cfg.EmbeddingDimensions)
	default:
		return nil, &apperr.ValidationError{Msg: fmt.Sprintf("unsupported embedding provider: %s", cfg.EmbeddingProvider)}
	}
	if err != nil {
		return nil, err
	}

	_ = r.cache.Register(cacheName, p)
	return p, nil
}

func (r *Registry) apiKey(ctx context.Context, tenantID, providerName string) (string, error) {
	var secret struct {
		APIKey string `json:"api_key"`
	}
	if err := r.secrets.GetJSON(ctx, tenantID, secretstore.EmbeddingPath(providerName), &secret); err != nil {
		return "", &apperr.ProviderError{Kind: apperr.KindAuth, Err: fmt.Errorf("no credentials for %s: %w", providerName, err)}
	}
	return secret.APIKey, nil
}
