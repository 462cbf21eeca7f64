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

// OpenAI implements Provider against OpenAI's embeddings endpoint, trimmed
// to the fields ragflow's TenantConfig exposes.
type OpenAI struct {
	client    *http.Client
	apiKey    string
	baseURL   string
	model     string
	dimension int
}

func NewOpenAI(apiKey, model, baseURL string, dimension int) *OpenAI {
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	if model == "" {
		model = "text-embedding-3-small"
	}
	if dimension == 0 {
		dimension = defaultOpenAIDimension(model)
	}
	return &OpenAI{
		client:    &http.Client{Timeout: 30 * time.Second},
		apiKey:    apiKey,
		baseURL:   baseURL,
		model:     model,
		dimension: dimension,
	}
}

func defaultOpenAIDimension(model string) int {
	switch model {
	case "text-embedding-3-large":
		return 3072
	default:
		return 1536
	}
}

func (o *OpenAI) Dimensions() int { return o.dimension }

type openaiEmbedRequest struct {
	Model      string   `json:"model"`
	Input      []string `json:"input"`
	Dimensions int      `json:"dimensions,omitempty"`
}

type openaiEmbedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
}

func (o *OpenAI) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	body, err := json.Marshal(openaiEmbedRequest{Model: o.model, Input: texts, Dimensions: o.dimension})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal embed request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build embed request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+o.apiKey)

	resp, err := o.client.Do(req)
	if err != nil {
		return nil, &apperr.ProviderError{Kind: apperr.KindTransient, Err: err}
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if err := provider.ClassifyHTTPStatus(resp.StatusCode, respBody); err != nil {
		return nil, err
	}

	var parsed openaiEmbedResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse embed response: %w", err)
	}

	vectors := make([][]float32, len(parsed.Data))
	for _, d := range parsed.Data {
		vectors[d.Index] = d.Embedding
	}
	return vectors, nil
}

func (o *OpenAI) Probe(ctx context.Context) error {
	_, err := o.Embed(ctx, []string{"ping"})
	return err
}
