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

// Anthropic defaults.
const (
	anthropicName     = "anthropic"
	anthropicBaseURL  = "https://api.anthropic.com"
	anthropicVersion  = "2023-06-01"
	anthropicEnvKey   = "ANTHROPIC_API_KEY"
	anthropicKeyStart = "sk-ant-"
)

// Rate limiter defaults: 50 requests per minute with small bursts.
const (
	defaultRateLimit = 50.0 / 60.0
	defaultBurst     = 5
)

// anthropicProvider implements Provider against Anthropic's Messages API.
type anthropicProvider struct {
	apiKey     config.Secret
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// AnthropicConfig configures the Anthropic provider.
type AnthropicConfig struct {
	// APIKey overrides the ANTHROPIC_API_KEY environment variable.
	APIKey config.Secret
	// BaseURL overrides the production endpoint. Used by tests.
	BaseURL string
}

// NewAnthropic creates the Anthropic provider. A missing credential is not
// an error here: it surfaces as UnavailableError from Validate and
// Generate, so a run that never routes to this provider still works.
func NewAnthropic(cfg AnthropicConfig) Provider {
	apiKey := cfg.APIKey
	if !apiKey.IsSet() {
		apiKey = config.Secret(os.Getenv(anthropicEnvKey))
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = anthropicBaseURL
	}
	return &anthropicProvider{
		apiKey:  apiKey,
		baseURL: baseURL,
		// Per-attempt deadlines come from the gateway's context; no
		// client-level timeout on top.
		httpClient: &http.Client{},
		limiter:    rate.NewLimiter(rate.Limit(defaultRateLimit), defaultBurst),
	}
}

func (a *anthropicProvider) Name() string {
	return anthropicName
}

// Validate checks that a credential is present and superficially
// well-formed, without issuing a generation call or leaking the value.
func (a *anthropicProvider) Validate(ctx context.Context) error {
	if !a.apiKey.IsSet() {
		return &UnavailableError{Err: fmt.Errorf("%s is not set", anthropicEnvKey)}
	}
	if !strings.HasPrefix(a.apiKey.Value(), anthropicKeyStart) {
		return &UnavailableError{Err: fmt.Errorf("%s does not look like an Anthropic key (expected %q prefix)", anthropicEnvKey, anthropicKeyStart)}
	}
	return nil
}

// anthropicRequest represents the request format for the Messages API.
type anthropicRequest struct {
	Model       string             `json:"model"`
	MaxTokens   int                `json:"max_tokens"`
	Messages    []anthropicMessage `json:"messages"`
	Temperature float64            `json:"temperature"`
}

// anthropicMessage represents a message in the conversation.
type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// anthropicResponse represents the response from the Messages API.
type anthropicResponse struct {
	ID      string `json:"id"`
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
}

// anthropicError represents an error response from the Messages API.
type anthropicError struct {
	Type  string `json:"type"`
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// Generate performs a single Messages API call.
func (a *anthropicProvider) Generate(ctx context.Context, req Request) (string, error) {
	if err := a.Validate(ctx); err != nil {
		return "", err
	}
	if err := a.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limiter: %w", err)
	}

	body := anthropicRequest{
		Model:       req.Model,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		Messages: []anthropicMessage{
			{Role: "user", Content: req.Prompt},
		},
	}

	jsonData, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("marshaling request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/v1/messages", bytes.NewReader(jsonData))
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-API-Key", a.apiKey.Value())
	httpReq.Header.Set("Anthropic-Version", anthropicVersion)

	resp, err := a.httpClient.Do(httpReq)
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

	var parsed anthropicResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", fmt.Errorf("parsing response: %w", err)
	}
	if len(parsed.Content) == 0 {
		return "", fmt.Errorf("empty response from API")
	}
	return parsed.Content[0].Text, nil
}

// classifyStatus maps an HTTP status to the failure taxonomy. 2xx is nil.
func classifyStatus(status int, message string) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusTooManyRequests:
		return &TransientError{Err: fmt.Errorf("rate limited (429): %s", message)}
	case status >= 500:
		return &TransientError{Err: fmt.Errorf("server error (%d): %s", status, message)}
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return &UnavailableError{Err: fmt.Errorf("credential rejected (%d): %s", status, message)}
	default:
		return &UnavailableError{Err: fmt.Errorf("API error (%d): %s", status, message)}
	}
}

// apiErrorMessage extracts a human-readable message from an error body,
// falling back to the raw body.
func apiErrorMessage(body []byte) string {
	var anth anthropicError
	if err := json.Unmarshal(body, &anth); err == nil && anth.Error.Message != "" {
		return anth.Error.Message
	}
	var oai openAIError
	if err := json.Unmarshal(body, &oai); err == nil && oai.Error.Message != "" {
		return oai.Error.Message
	}
	const maxBody = 256
	if len(body) > maxBody {
		body = body[:maxBody]
	}
	return string(body)
}
