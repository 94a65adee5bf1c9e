package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"golang.org/x/time/rate"

	"github.com/StephenDMay/loom/internal/config"
)

// OpenAI defaults.
const (
	openAIName     = "openai"
	openAIBaseURL  = "https://api.openai.com"
	openAIEnvKey   = "OPENAI_API_KEY"
	openAIKeyStart = "sk-"
)

// openAIProvider implements Provider against OpenAI's Chat Completions API.
type openAIProvider struct {
	apiKey     config.Secret
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// OpenAIConfig configures the OpenAI provider.
type OpenAIConfig struct {
	// APIKey overrides the OPENAI_API_KEY environment variable.
	APIKey config.Secret
	// BaseURL overrides the production endpoint. Used by tests.
	BaseURL string
}

// NewOpenAI creates the OpenAI provider.
func NewOpenAI(cfg OpenAIConfig) Provider {
	apiKey := cfg.APIKey
	if !apiKey.IsSet() {
		apiKey = config.Secret(os.Getenv(openAIEnvKey))
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = openAIBaseURL
	}
	return &openAIProvider{
		apiKey:     apiKey,
		baseURL:    baseURL,
		httpClient: &http.Client{},
		limiter:    rate.NewLimiter(rate.Limit(defaultRateLimit), defaultBurst),
	}
}

func (o *openAIProvider) Name() string {
	return openAIName
}

// Validate checks that a credential is present and superficially
// well-formed, without issuing a generation call or leaking the value.
func (o *openAIProvider) Validate(ctx context.Context) error {
	if !o.apiKey.IsSet() {
		return &UnavailableError{Err: fmt.Errorf("%s is not set", openAIEnvKey)}
	}
	if !strings.HasPrefix(o.apiKey.Value(), openAIKeyStart) {
		return &UnavailableError{Err: fmt.Errorf("%s does not look like an OpenAI key (expected %q prefix)", openAIEnvKey, openAIKeyStart)}
	}
	return nil
}

// openAIRequest represents the request format for chat completions.
type openAIRequest struct {
	Model       string          `json:"model"`
	MaxTokens   int             `json:"max_tokens"`
	Messages    []openAIMessage `json:"messages"`
	Temperature float64         `json:"temperature"`
}

// openAIMessage represents a message in the conversation.
type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// openAIResponse represents the chat completions response.
type openAIResponse struct {
	ID      string `json:"id"`
	Choices []struct {
		Message      openAIMessage `json:"message"`
		FinishReason string        `json:"finish_reason"`
	} `json:"choices"`
}

// openAIError represents an error response.
type openAIError struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// Generate performs a single chat completions call.
func (o *openAIProvider) Generate(ctx context.Context, req Request) (string, error) {
	if err := o.Validate(ctx); err != nil {
		return "", err
	}
	if err := o.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limiter: %w", err)
	}

	body := openAIRequest{
		Model:       req.Model,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		Messages: []openAIMessage{
			{Role: "user", Content: req.Prompt},
		},
	}

	jsonData, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("marshaling request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/v1/chat/completions", bytes.NewReader(jsonData))
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+o.apiKey.Value())

	resp, err := o.httpClient.Do(httpReq)
	if err != nil {
		return "", &TransientError{Err: fmt.Errorf("request failed: %w", err)}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &TransientError{Err: fmt.Errorf("reading response: %w", err)}
	}

	if err := classifyStatus(resp.StatusCode, apiErrorMessage(respBody)); err != nil {
		return "", err
	}

	var parsed openAIResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", fmt.Errorf("parsing response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("empty response from API")
	}
	return parsed.Choices[0].Message.Content, nil
}
