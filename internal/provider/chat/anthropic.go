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

// Anthropic implements Provider against the Messages API.
type Anthropic struct {
	client  *http.Client
	apiKey  string
	model   string
	baseURL string
}

const anthropicVersion = "2023-06-01"

func NewAnthropic(apiKey, model string) *Anthropic {
	if model == "" {
		model = "claude-3-5-sonnet-latest"
	}
	return &Anthropic{
		client:  &http.Client{Timeout: 120 * time.Second},
		apiKey:  apiKey,
		model:   model,
		baseURL: "https://api.anthropic.com/v1",
	}
}

func (a *Anthropic) ModelName() string { return a.model }

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicRequest struct {
	Model       string             `json:"model"`
	System      string             `json:"system,omitempty"`
	Messages    []anthropicMessage `json:"messages"`
	MaxTokens   int                `json:"max_tokens"`
	Temperature float64            `json:"temperature,omitempty"`
	Stream      bool               `json:"stream,omitempty"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

// splitSystem pulls the leading "system" messages out of the transcript:
// Anthropic takes system prompt as a top-level field, not a message role.
func splitSystem(messages []Message) (string, []anthropicMessage) {
	var system strings.Builder
	rest := make([]anthropicMessage, 0, len(messages))
	for _, m := range messages {
		if m.Role == "system" {
			if system.Len() > 0 {
				system.WriteString("\n")
			}
			system.WriteString(m.Content)
			continue
		}
		rest = append(rest, anthropicMessage{Role: m.Role, Content: m.Content})
	}
	return system.String(), rest
}

func (a *Anthropic) buildRequest(messages []Message, params Params, stream bool) anthropicRequest {
	model := a.model
	if params.Model != "" {
		model = params.Model
	}
	maxTokens := params.MaxTokens
	if maxTokens == 0 {
		maxTokens = 4096
	}
	system, rest := splitSystem(messages)
	return anthropicRequest{
		Model:       model,
		System:      system,
		Messages:    rest,
		MaxTokens:   maxTokens,
		Temperature: params.Temperature,
		Stream:      stream,
	}
}

func (a *Anthropic) newRequest(ctx context.Context, payload anthropicRequest) (*http.Request, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal chat request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/messages", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", a.apiKey)
	req.Header.Set("anthropic-version", anthropicVersion)
	return req, nil
}

func (a *Anthropic) Complete(ctx context.Context, messages []Message, params Params) (Result, error) {
	req, err := a.newRequest(ctx, a.buildRequest(messages, params, false))
	if err != nil {
		return Result{}, err
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return Result{}, &apperr.ProviderError{Kind: apperr.KindTransient, Err: err}
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if err := provider.ClassifyHTTPStatus(resp.StatusCode, respBody); err != nil {
		return Result{}, err
	}

	var parsed anthropicResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return Result{}, fmt.Errorf("failed to parse chat response: %w", err)
	}

	var text strings.Builder
	for _, block := range parsed.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	return Result{
		Text:         text.String(),
		TokensIn:     parsed.Usage.InputTokens,
		TokensOut:    parsed.Usage.OutputTokens,
		CostEstimate: estimateAnthropicCost(a.model, parsed.Usage.InputTokens, parsed.Usage.OutputTokens),
	}, nil
}

func (a *Anthropic) Stream(ctx context.Context, messages []Message, params Params) (<-chan StreamChunk, error) {
	req, err := a.newRequest(ctx, a.buildRequest(messages, params, true))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, &apperr.ProviderError{Kind: apperr.KindTransient, Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, provider.ClassifyHTTPStatus(resp.StatusCode, respBody)
	}

	out := make(chan StreamChunk)
	go a.pumpStream(resp.Body, out)
	return out, nil
}

type anthropicStreamEvent struct {
	Type  string `json:"type"`
	Delta struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"delta"`
	Usage struct {
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

func (a *Anthropic) pumpStream(body io.ReadCloser, out chan<- StreamChunk) {
	defer close(out)
	defer body.Close()

	var text strings.Builder
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		payload := strings.TrimPrefix(line, "data: ")

		var event anthropicStreamEvent
		if err := json.Unmarshal([]byte(payload), &event); err != nil {
			continue
		}

		switch event.Type {
		case "content_block_delta":
			if event.Delta.Text == "" {
				continue
			}
			text.WriteString(event.Delta.Text)
			out <- StreamChunk{Delta: event.Delta.Text}
		case "message_stop":
			out <- StreamChunk{Final: &Result{Text: text.String()}}
			return
		}
	}

	if err := scanner.Err(); err != nil {
		out <- StreamChunk{Err: &apperr.ProviderError{Kind: apperr.KindTransient, Err: err}}
	}
}

func estimateAnthropicCost(model string, tokensIn, tokensOut int) float64 {
	inRate, outRate := 3.00, 15.00 // USD per 1M tokens, sonnet-class default
	if strings.Contains(model, "haiku") {
		inRate, outRate = 0.80, 4.00
	} else if strings.Contains(model, "opus") {
		inRate, outRate = 15.00, 75.00
	}
	return (float64(tokensIn)/1_000_000)*inRate + (float64(tokensOut)/1_000_000)*outRate
}
