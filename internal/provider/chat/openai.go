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

// OpenAI implements Provider against OpenAI's chat completions endpoint.
type OpenAI struct {
	client  *http.Client
	apiKey  string
	model   string
	baseURL string
}

func NewOpenAI(apiKey, model, baseURL string) *OpenAI {
	if model == "" {
		model = "gpt-4o-mini"
	}
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	return &OpenAI{client: &http.Client{Timeout: 120 * time.Second}, apiKey: apiKey, model: model, baseURL: baseURL}
}

func (o *OpenAI) ModelName() string { return o.model }

type openaiChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openaiChatRequest struct {
	Model       string              `json:"model"`
	Messages    []openaiChatMessage `json:"messages"`
	MaxTokens   int                 `json:"max_tokens,omitempty"`
	Temperature float64             `json:"temperature,omitempty"`
	Stream      bool                `json:"stream,omitempty"`
}

type openaiChatResponse struct {
	Choices []struct {
		Message openaiChatMessage `json:"message"`
		Delta   openaiChatMessage `json:"delta"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

func toOpenAIMessages(messages []Message) []openaiChatMessage {
	out := make([]openaiChatMessage, len(messages))
	for i, m := range messages {
		out[i] = openaiChatMessage{Role: m.Role, Content: m.Content}
	}
	return out
}

func (o *OpenAI) Complete(ctx context.Context, messages []Message, params Params) (Result, error) {
	model := o.model
	if params.Model != "" {
		model = params.Model
	}

	body, _ := json.Marshal(openaiChatRequest{
		Model:       model,
		Messages:    toOpenAIMessages(messages),
		MaxTokens:   params.MaxTokens,
		Temperature: params.Temperature,
	})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return Result{}, fmt.Errorf("failed to build chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+o.apiKey)

	resp, err := o.client.Do(req)
	if err != nil {
		return Result{}, &apperr.ProviderError{Kind: apperr.KindTransient, Err: err}
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if err := provider.ClassifyHTTPStatus(resp.StatusCode, respBody); err != nil {
		return Result{}, err
	}

	var parsed openaiChatResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return Result{}, fmt.Errorf("failed to parse chat response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return Result{}, &apperr.ProviderError{Kind: apperr.KindPermanent, Err: fmt.Errorf("empty choices in response")}
	}

	return Result{
		Text:         parsed.Choices[0].Message.Content,
		TokensIn:     parsed.Usage.PromptTokens,
		TokensOut:    parsed.Usage.CompletionTokens,
		CostEstimate: estimateCost(model, parsed.Usage.PromptTokens, parsed.Usage.CompletionTokens),
	}, nil
}

func (o *OpenAI) Stream(ctx context.Context, messages []Message, params Params) (<-chan StreamChunk, error) {
	model := o.model
	if params.Model != "" {
		model = params.Model
	}

	body, _ := json.Marshal(openaiChatRequest{
		Model:       model,
		Messages:    toOpenAIMessages(messages),
		MaxTokens:   params.MaxTokens,
		Temperature: params.Temperature,
		Stream:      true,
	})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build chat stream request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+o.apiKey)
	req.Header.Set("Accept", "text/event-stream")

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

func (o *OpenAI) pumpStream(body io.ReadCloser, out chan<- StreamChunk) {
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
		if payload == "[DONE]" {
			out <- StreamChunk{Final: &Result{Text: text.String()}}
			return
		}

		var chunk openaiChatResponse
		if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
			continue
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		delta := chunk.Choices[0].Delta.Content
		if delta == "" {
			continue
		}
		text.WriteString(delta)
		out <- StreamChunk{Delta: delta}
	}

	if err := scanner.Err(); err != nil {
		out <- StreamChunk{Err: &apperr.ProviderError{Kind: apperr.KindTransient, Err: err}}
	}
}

// estimateCost is a coarse cost_estimate using static per-model per-token
// rates; spec leaves provider billing details to configuration, so this is
// intentionally approximate and safe to be wrong in the fourth decimal.
func estimateCost(model string, tokensIn, tokensOut int) float64 {
	inRate, outRate := 0.15, 0.60 // USD per 1M tokens, gpt-4o-mini-ish default
	if strings.Contains(model, "gpt-4o") && !strings.Contains(model, "mini") {
		inRate, outRate = 2.50, 10.00
	}
	return (float64(tokensIn)/1_000_000)*inRate + (float64(tokensOut)/1_000_000)*outRate
}
