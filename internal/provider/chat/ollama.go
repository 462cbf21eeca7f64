package chat

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/kadirpekel/ragflow/internal/apperr"
	"github.com/kadirpekel/ragflow/internal/provider"
)

// Ollama implements Provider against a local Ollama server's chat endpoint.
type Ollama struct {
	client  *http.Client
	baseURL string
	model   string
}

func NewOllama(baseURL, model string) *Ollama {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	if model == "" {
		model = "llama3.1"
	}
	return &Ollama{client: &http.Client{Timeout: 180 * time.Second}, baseURL: baseURL, model: model}
}

func (o *Ollama) ModelName() string { return o.model }

type ollamaChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaChatOptions struct {
	Temperature float64 `json:"temperature,omitempty"`
	NumPredict  int     `json:"num_predict,omitempty"`
}

type ollamaChatRequest struct {
	Model    string             `json:"model"`
	Messages []ollamaChatMessage `json:"messages"`
	Stream   bool               `json:"stream"`
	Options  ollamaChatOptions  `json:"options,omitempty"`
}

type ollamaChatResponse struct {
	Message ollamaChatMessage `json:"message"`
	Done    bool              `json:"done"`

	PromptEvalCount int `json:"prompt_eval_count"`
	EvalCount       int `json:"eval_count"`
}

func toOllamaMessages(messages []Message) []ollamaChatMessage {
	out := make([]ollamaChatMessage, len(messages))
	for i, m := range messages {
		out[i] = ollamaChatMessage{Role: m.Role, Content: m.Content}
	}
	return out
}

func (o *Ollama) buildRequest(messages []Message, params Params, stream bool) ollamaChatRequest {
	model := o.model
	if params.Model != "" {
		model = params.Model
	}
	return ollamaChatRequest{
		Model:    model,
		Messages: toOllamaMessages(messages),
		Stream:   stream,
		Options:  ollamaChatOptions{Temperature: params.Temperature, NumPredict: params.MaxTokens},
	}
}

func (o *Ollama) Complete(ctx context.Context, messages []Message, params Params) (Result, error) {
	body, _ := json.Marshal(o.buildRequest(messages, params, false))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return Result{}, fmt.Errorf("failed to build chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		return Result{}, &apperr.ProviderError{Kind: apperr.KindTransient, Err: err}
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if err := provider.ClassifyHTTPStatus(resp.StatusCode, respBody); err != nil {
		return Result{}, err
	}

	var parsed ollamaChatResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return Result{}, fmt.Errorf("failed to parse chat response: %w", err)
	}

	return Result{
		Text:      parsed.Message.Content,
		TokensIn:  parsed.PromptEvalCount,
		TokensOut: parsed.EvalCount,
	}, nil
}

func (o *Ollama) Stream(ctx context.Context, messages []Message, params Params) (<-chan StreamChunk, error) {
	body, _ := json.Marshal(o.buildRequest(messages, params, true))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build chat stream request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		return nil, &apperr.ProviderError{Kind: apperr.KindTransient, Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, provider.ClassifyHTTPStatus(resp.StatusCode, respBody)
	}

	out := make(chan StreamChunk)
	go o.pumpStream(resp.Body, out)
	return out, nil
}

// pumpStream reads Ollama's newline-delimited JSON stream (one object per
// line, no "data: " prefix, terminated by a record with done=true).
func (o *Ollama) pumpStream(body io.ReadCloser, out chan<- StreamChunk) {
	defer close(out)
	defer body.Close()

	var text strings.Builder
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var chunk ollamaChatResponse
		if err := json.Unmarshal([]byte(line), &chunk); err != nil {
			continue
		}

		if chunk.Message.Content != "" {
			text.WriteString(chunk.Message.Content)
			out <- StreamChunk{Delta: chunk.Message.Content}
		}
		if chunk.Done {
			out <- StreamChunk{Final: &Result{Text: text.String(), TokensIn: chunk.PromptEvalCount, TokensOut: chunk.EvalCount}}
			return
		}
	}

	if err := scanner.Err(); err != nil {
		out <- StreamChunk{Err: &apperr.ProviderError{Kind: apperr.KindTransient, Err: err}}
	}
}
