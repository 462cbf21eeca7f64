package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/kadirpekel/ragflow/internal/apperr"
	"github.com/kadirpekel/ragflow/internal/provider"
)

// Ollama implements Provider against a local Ollama server. It is
// configured by base URL rather than an API key.
type Ollama struct {
	client    *http.Client
	baseURL   string
	model     string
	dimension int
}

func NewOllama(baseURL, model string, dimension int) *Ollama {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	if model == "" {
		model = "nomic-embed-text"
	}
	return &Ollama{client: &http.Client{Timeout: 60 * time.Second}, baseURL: baseURL, model: model, dimension: dimension}
}

func (o *Ollama) Dimensions() int { return o.dimension }

type ollamaEmbedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type ollamaEmbedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

func (o *Ollama) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	body, _ := json.Marshal(ollamaEmbedRequest{Model: o.model, Input: texts})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/api/embed", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build embed request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		return nil, &apperr.ProviderError{Kind: apperr.KindTransient, Err: err}
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if err := provider.ClassifyHTTPStatus(resp.StatusCode, respBody); err != nil {
		return nil, err
	}

	var parsed ollamaEmbedResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse embed response: %w", err)
	}

	if o.dimension == 0 && len(parsed.Embeddings) > 0 {
		o.dimension = len(parsed.Embeddings[0])
	}
	return parsed.Embeddings, nil
}

func (o *Ollama) Probe(ctx context.Context) error {
	_, err := o.Embed(ctx, []string{"ping"})
	return err
}
