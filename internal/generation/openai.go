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
	OpenAIBaseURL       = "https://api.openai.com/v1"
	LocalBaseURL        = "http://localhost:8080/v1"
	ChatEndpoint        = "/chat/completions"
	OpenAIDefaultModel  = "gpt-4o-mini"
	maxOpenAIStopTokens = 4
)

// OpenAIBackend calls an OpenAI-compatible chat completions endpoint. Local
// servers (llama.cpp, Ollama) accept the extra sampling fields; the hosted
// API ignores them.
type OpenAIBackend struct {
	apiKey     string
	baseURL    string
	model      string
	local      bool
	httpClient *http.Client
}

// NewOpenAIBackend creates a chat completions backend
func NewOpenAIBackend(apiKey, baseURL, model string) *OpenAIBackend {
	if baseURL == "" {
		baseURL = OpenAIBaseURL
	}
	if model == "" {
		model = OpenAIDefaultModel
	}
	return &OpenAIBackend{
		apiKey:  apiKey,
		baseURL: strings.TrimSuffix(baseURL, "/"),
		model:   model,
		local:   !strings.HasPrefix(baseURL, OpenAIBaseURL),
		httpClient: &http.Client{
			Timeout: 300 * time.Second,
		},
	}
}

// Name returns the backend name
func (b *OpenAIBackend) Name() string {
	if b.local {
		return "local"
	}
	return "openai"
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model            string        `json:"model"`
	Messages         []chatMessage `json:"messages"`
	MaxTokens        int           `json:"max_tokens,omitempty"`
	Temperature      float64       `json:"temperature"`
	TopP             float64       `json:"top_p,omitempty"`
	FrequencyPenalty float64       `json:"frequency_penalty,omitempty"`
	PresencePenalty  float64       `json:"presence_penalty,omitempty"`
	Stop             []string      `json:"stop,omitempty"`

	// llama.cpp server extensions
	TopK          int     `json:"top_k,omitempty"`
	MinP          float64 `json:"min_p,omitempty"`
	RepeatPenalty float64 `json:"repeat_penalty,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

type chatError struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    any    `json:"code"`
	} `json:"error"`
}

// Generate sends one chat completion request
func (b *OpenAIBackend) Generate(ctx context.Context, req Request) (Result, error) {
	model := b.model
	if req.Params.Model != "" {
		model = req.Params.Model
	}

	messages := make([]chatMessage, 0, 2)
	if req.System != "" {
		messages = append(messages, chatMessage{Role: "system", Content: req.System})
	}
	messages = append(messages, chatMessage{Role: "user", Content: req.User})

	body := chatRequest{
		Model:            model,
		Messages:         messages,
		MaxTokens:        req.Params.MaxTokens,
		Temperature:      req.Params.Temperature,
		TopP:             req.Params.TopP,
		FrequencyPenalty: req.Params.FrequencyPenalty,
		PresencePenalty:  req.Params.PresencePenalty,
		Stop:             req.Params.Stop,
	}
	if b.local {
		body.TopK = req.Params.TopK
		body.MinP = req.Params.MinP
		body.RepeatPenalty = req.Params.RepeatPenalty
	} else if len(body.Stop) > maxOpenAIStopTokens {
		body.Stop = body.Stop[:maxOpenAIStopTokens]
	}

	jsonData, err := json.Marshal(body)
	if err != nil {
		return Result{}, fmt.Errorf("failed to marshal request: %w", err)
	}

	endpoint := b.baseURL + ChatEndpoint
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(jsonData))
	if err != nil {
		return Result{}, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if b.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+b.apiKey)
	}

	log.Debug().
		Str("endpoint", endpoint).
		Str("model", model).
		Bool("local", b.local).
		Msg("Making chat completion request")

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
		var apiErr chatError
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Error.Message != "" {
			msg = fmt.Sprintf("%s (type: %s)", apiErr.Error.Message, apiErr.Error.Type)
		}
		return Result{}, statusError(b.Name(), resp.StatusCode, msg)
	}

	var out chatResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return Result{}, fmt.Errorf("failed to parse response: %w", err)
	}
	if len(out.Choices) == 0 {
		return Result{}, &Error{Backend: b.Name(), Message: "response has no choices", Retryable: true}
	}

	return Result{
		Text: strings.TrimSpace(out.Choices[0].Message.Content),
		Usage: Usage{
			PromptTokens:     out.Usage.PromptTokens,
			CompletionTokens: out.Usage.CompletionTokens,
		},
		Latency: time.Since(start),
	}, nil
}
