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

// Cohere implements Provider against Cohere's embed endpoint.
type Cohere struct {
	client    *http.Client
	apiKey    string
	model     string
	dimension int
}

func NewCohere(apiKey, model string, dimension int) *Cohere {
	if model == "" {
		model = "embed-english-v3.0"
	}
	return &Cohere{client: &http.Client{Timeout: 30 * time.Second}, apiKey: apiKey, model: model, dimension: dimension}
}

func (c *Cohere) Dimensions() int { return c.dimension }

type cohereEmbedRequest struct {
	Model          string   `json:"model"`
	Texts          []string `json:"texts"`
	InputType      string   `json:"input_type"`
	EmbeddingTypes []string `json:"embedding_types"`
}

type cohereEmbedResponse struct {
	Embeddings struct {
		Float [][]float32 `json:"float"`
	} `json:"embeddings"`
}

func (c *Cohere) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	body, _ := json.Marshal(cohereEmbedRequest{
		Model:          c.model,
		Texts:          texts,
		InputType:      "search_document",
		EmbeddingTypes: []string{"float"},
	})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "https://api.cohere.com/v2/embed", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build embed request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &apperr.ProviderError{Kind: apperr.KindTransient, Err: err}
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if err := provider.ClassifyHTTPStatus(resp.StatusCode, respBody); err != nil {
		return nil, err
	}

	var parsed cohereEmbedResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse embed response: %w", err)
	}

	if c.dimension == 0 && len(parsed.Embeddings.Float) > 0 {
		c.dimension = len(parsed.Embeddings.Float[0])
	}
	return parsed.Embeddings.Float, nil
}

func (c *Cohere) Probe(ctx context.Context) error {
	_, err := c.Embed(ctx, []string{"ping"})
	return err
}
