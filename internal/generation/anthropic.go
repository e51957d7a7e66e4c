package generation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	AnthropicBaseURL      = "https://api.anthropic.com"
	AnthropicEndpoint     = "/v1/messages"
	AnthropicVersion      = "2023-06-01"
	AnthropicDefaultModel = "claude-opus-4-6"
)

// AnthropicBackend calls the Anthropic Messages API
type AnthropicBackend struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
}

// NewAnthropicBackend creates a Messages API backend
func NewAnthropicBackend(apiKey, model string) *AnthropicBackend {
	if model == "" {
		model = AnthropicDefaultModel
	}
	return &AnthropicBackend{
		apiKey:  apiKey,
		baseURL: AnthropicBaseURL,
		model:   model,
		httpClient: &http.Client{
			Timeout: 120 * time.Second,
		},
	}
}

// Name returns the backend name
func (b *AnthropicBackend) Name() string {
	return "anthropic"
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicRequest struct {
	Model         string             `json:"model"`
	Messages      []anthropicMessage `json:"messages"`
	System        string             `json:"system,omitempty"`
	MaxTokens     int                `json:"max_tokens"`
	Temperature   float64            `json:"temperature,omitempty"`
	TopK          int                `json:"top_k,omitempty"`
	StopSequences []string           `json:"stop_sequences,omitempty"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

type anthropicError struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// Generate sends one Messages API request. The API accepts either
// temperature or top_p for current models, so only temperature is sent.
func (b *AnthropicBackend) Generate(ctx context.Context, req Request) (Result, error) {
	model := b.model
	if req.Params.Model != "" {
		model = req.Params.Model
	}
	maxTokens := req.Params.MaxTokens
	if maxTokens <= 0 {
		maxTokens = DefaultParams().MaxTokens
	}

	body := anthropicRequest{
		Model:         model,
		Messages:      []anthropicMessage{{Role: "user", Content: req.User}},
		System:        req.System,
		MaxTokens:     maxTokens,
		Temperature:   req.Params.Temperature,
		TopK:          req.Params.TopK,
		StopSequences: nonBlank(req.Params.Stop),
	}

	jsonData, err := json.Marshal(body)
	if err != nil {
		return Result{}, fmt.Errorf("failed to marshal request: %w", err)
	}

	endpoint := b.baseURL + AnthropicEndpoint
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(jsonData))
	if err != nil {
		return Result{}, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", b.apiKey)
	httpReq.Header.Set("anthropic-version", AnthropicVersion)

	log.Debug().
		Str("endpoint", endpoint).
		Str("model", model).
		Int("max_tokens", maxTokens).
		Msg("Making Anthropic request")

	start := time.Now()
	resp, err := b.httpClient.Do(httpReq)
	if err != nil {
		return Result{}, transportError(b.Name(), err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return Result{}, transportError(b.Name(), err)
	}
	if resp.StatusCode != http.StatusOK {
		msg := string(data)
		var apiErr anthropicError
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Error.Message != "" {
			msg = fmt.Sprintf("%s (type: %s)", apiErr.Error.Message, apiErr.Error.Type)
		}
		return Result{}, statusError(b.Name(), resp.StatusCode, msg)
	}

	var out anthropicResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return Result{}, fmt.Errorf("failed to parse response: %w", err)
	}

	var text string
	for _, block := range out.Content {
		if block.Type == "text" {
			text = block.Text
			break
		}
	}

	return Result{
		Text: strings.TrimSpace(text),
		Usage: Usage{
			PromptTokens:     out.Usage.InputTokens,
			CompletionTokens: out.Usage.OutputTokens,
		},
		Latency: time.Since(start),
	}, nil
}

// nonBlank drops whitespace-only stop sequences, which the Messages API rejects
func nonBlank(stops []string) []string {
	var out []string
	for _, s := range stops {
		if strings.TrimSpace(s) != "" {
			out = append(out, s)
		}
	}
	return out
}
