package provider

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
)

// Ollama defaults.
const (
	ollamaName      = "ollama"
	ollamaServerURL = "http://localhost:11434"
	ollamaEnvHost   = "OLLAMA_HOST"
)

// ollamaProvider implements Provider against a local Ollama server via
// langchaingo. No credential is required; availability means the server
// is reachable.
type ollamaProvider struct {
	serverURL  string
	httpClient *http.Client
}

// OllamaConfig configures the Ollama provider.
type OllamaConfig struct {
	// ServerURL overrides the OLLAMA_HOST environment variable and the
	// default localhost endpoint.
	ServerURL string
}

// NewOllama creates the Ollama provider.
func NewOllama(cfg OllamaConfig) Provider {
	serverURL := cfg.ServerURL
	if serverURL == "" {
		serverURL = os.Getenv(ollamaEnvHost)
	}
	if serverURL == "" {
		serverURL = ollamaServerURL
	}
	return &ollamaProvider{
		serverURL:  strings.TrimSuffix(serverURL, "/"),
		httpClient: &http.Client{},
	}
}

func (o *ollamaProvider) Name() string {
	return ollamaName
}

// Validate checks that the Ollama server answers at all. A refused
// connection means the backend is not installed or not running, which is
// terminal for this provider.
func (o *ollamaProvider) Validate(ctx context.Context) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, o.serverURL+"/api/version", nil)
	if err != nil {
		return &UnavailableError{Err: fmt.Errorf("creating request: %w", err)}
	}
	resp, err := o.httpClient.Do(httpReq)
	if err != nil {
		return &UnavailableError{Err: fmt.Errorf("ollama server unreachable at %s: %w", o.serverURL, err)}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return &UnavailableError{Err: fmt.Errorf("ollama server returned %d at %s", resp.StatusCode, o.serverURL)}
	}
	return nil
}

// Generate performs a single completion call through langchaingo.
func (o *ollamaProvider) Generate(ctx context.Context, req Request) (string, error) {
	llm, err := ollama.New(
		ollama.WithServerURL(o.serverURL),
		ollama.WithModel(req.Model),
	)
	if err != nil {
		return "", &UnavailableError{Err: fmt.Errorf("creating ollama client: %w", err)}
	}

	output, err := llms.GenerateFromSinglePrompt(ctx, llm, req.Prompt,
		llms.WithTemperature(req.Temperature),
		llms.WithMaxTokens(req.MaxTokens),
	)
	if err != nil {
		return "", classifyOllamaError(err)
	}
	return output, nil
}

// classifyOllamaError maps langchaingo/transport errors onto the taxonomy.
// A server that is not running is terminal; a timed-out or interrupted
// call is transient.
func classifyOllamaError(err error) error {
	if err == nil {
		return nil
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		// Connection refused: nothing is listening, so retrying is futile.
		if strings.Contains(opErr.Err.Error(), "connection refused") {
			return &UnavailableError{Err: fmt.Errorf("ollama server not running: %w", err)}
		}
		return &TransientError{Err: err}
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &TransientError{Err: err}
	}

	msg := err.Error()
	switch {
	case strings.Contains(msg, "connection refused"):
		return &UnavailableError{Err: fmt.Errorf("ollama server not running: %w", err)}
	case strings.Contains(msg, "context deadline exceeded"),
		strings.Contains(msg, "timeout"),
		strings.Contains(msg, "429"):
		return &TransientError{Err: err}
	case strings.Contains(msg, "model") && strings.Contains(msg, "not found"):
		return &UnavailableError{Err: fmt.Errorf("model not installed: %w", err)}
	default:
		return &TransientError{Err: err}
	}
}
