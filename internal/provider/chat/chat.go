// Package chat implements the ChatProvider half of the provider abstraction.
package chat

import (
	"context"
	"fmt"

	"github.com/kadirpekel/ragflow/internal/apperr"
	"github.com/kadirpekel/ragflow/internal/provider"
	"github.com/kadirpekel/ragflow/internal/secretstore"
	"github.com/kadirpekel/ragflow/internal/tenant"
)

// Message is the universal chat message shape across providers.
type Message struct {
	Role    string // "user", "assistant", "system"
	Content string
}

// Params bounds a single completion request.
type Params struct {
	MaxTokens   int
	Temperature float64
	Model       string // overrides the tenant default when set
}

// Result is a non-streaming completion.
type Result struct {
	Text         string
	TokensIn     int
	TokensOut    int
	CostEstimate float64
}

// StreamChunk is one element of a streaming completion.
type StreamChunk struct {
	Delta string
	Final *Result
	Err   error
}

// Provider completes or streams a chat turn.
type Provider interface {
	Complete(ctx context.Context, messages []Message, params Params) (Result, error)
	Stream(ctx context.Context, messages []Message, params Params) (<-chan StreamChunk, error)
	ModelName() string
}

// Registry resolves a tenant's configured ChatProvider and wraps Complete
// calls with the package's retry policy; calls made directly on a resolved
// Provider (including Stream) are not retried.
type Registry struct {
	secrets *secretstore.Store
	cache   *provider.Registry[Provider]
	retry   provider.RetryConfig
}

func NewRegistry(secrets *secretstore.Store) *Registry {
	return &Registry{secrets: secrets, cache: provider.NewRegistry[Provider](), retry: provider.DefaultRetryConfig()}
}

func (r *Registry) Resolve(ctx context.Context, cfg *tenant.Config) (Provider, error) {
	cacheName := cfg.TenantID + "/" + cfg.ChatProvider + "/" + cfg.ChatModel
	if p, ok := r.cache.Get(cacheName); ok {
		return p, nil
	}

	var p Provider
	switch cfg.ChatProvider {
	case "openai":
		apiKey, err := r.apiKey(ctx, cfg.TenantID, "openai")
		if err != nil {
			return nil, err
		}
		p = NewOpenAI(apiKey, cfg.ChatModel, cfg.ChatBaseURL)
	case "anthropic":
		apiKey, err := r.apiKey(ctx, cfg.TenantID, "anthropic")
		if err != nil {
			return nil, err
		}
		p = NewAnthropic(apiKey, cfg.ChatModel)
	case "ollama":
		p = NewOllama(cfg.ChatBaseURL, cfg.ChatModel)
	default:
		return nil, &apperr.ValidationError{Msg: fmt.Sprintf("unsupported chat provider: %s", cfg.ChatProvider)}
	}

	_ = r.cache.Register(cacheName, p)
	return p, nil
}

// Complete resolves the tenant's provider and completes with retry.
func (r *Registry) Complete(ctx context.Context, cfg *tenant.Config, messages []Message, params Params) (Result, error) {
	p, err := r.Resolve(ctx, cfg)
	if err != nil {
		return Result{}, err
	}

	var result Result
	err = provider.WithRetry(ctx, r.retry, func() error {
		res, cerr := p.Complete(ctx, messages, params)
		if cerr != nil {
			return cerr
		}
		result = res
		return nil
	})
	return result, err
}

func (r *Registry) apiKey(ctx context.Context, tenantID, providerName string) (string, error) {
	var secret struct {
		APIKey string `json:"api_key"`
	}
	if err := r.secrets.GetJSON(ctx, tenantID, secretstore.ChatPath(providerName), &secret); err != nil {
		return "", &apperr.ProviderError{Kind: apperr.KindAuth, Err: fmt.Errorf("no credentials for %s: %w", providerName, err)}
	}
	return secret.APIKey, nil
}
