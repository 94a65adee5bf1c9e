package provider

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testOpenAIKey = "sk-test-key-000000000000"

func TestOpenAI_Generate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer "+testOpenAIKey, r.Header.Get("Authorization"))

		var req openAIRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "gpt-4o-mini", req.Model)

		json.NewEncoder(w).Encode(openAIResponse{
			ID: "chatcmpl_test",
			Choices: []struct {
				Message      openAIMessage `json:"message"`
				FinishReason string        `json:"finish_reason"`
			}{{Message: openAIMessage{Role: "assistant", Content: "research notes"}, FinishReason: "stop"}},
		})
	}))
	defer srv.Close()

	p := NewOpenAI(OpenAIConfig{APIKey: testOpenAIKey, BaseURL: srv.URL})

	out, err := p.Generate(context.Background(), Request{
		Prompt:      "research this feature",
		Model:       "gpt-4o-mini",
		Temperature: 0.5,
		MaxTokens:   512,
	})
	require.NoError(t, err)
	assert.Equal(t, "research notes", out)
}

func TestOpenAI_Generate_EmptyChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"id":"x","choices":[]}`))
	}))
	defer srv.Close()

	p := NewOpenAI(OpenAIConfig{APIKey: testOpenAIKey, BaseURL: srv.URL})

	_, err := p.Generate(context.Background(), Request{Prompt: "hi", Model: "m", MaxTokens: 10})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty response")
}

func TestOpenAI_Generate_RateLimitedIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":{"type":"tokens","message":"rate limit reached"}}`))
	}))
	defer srv.Close()

	p := NewOpenAI(OpenAIConfig{APIKey: testOpenAIKey, BaseURL: srv.URL})

	_, err := p.Generate(context.Background(), Request{Prompt: "hi", Model: "m", MaxTokens: 10})
	var transient *TransientError
	require.True(t, errors.As(err, &transient))
	assert.Contains(t, err.Error(), "rate limit reached")
}

func TestOpenAI_Validate(t *testing.T) {
	t.Setenv(openAIEnvKey, "")

	assert.NoError(t, NewOpenAI(OpenAIConfig{APIKey: testOpenAIKey}).Validate(context.Background()))

	err := NewOpenAI(OpenAIConfig{}).Validate(context.Background())
	var unavailable *UnavailableError
	require.True(t, errors.As(err, &unavailable))

	err = NewOpenAI(OpenAIConfig{APIKey: "not-a-key"}).Validate(context.Background())
	require.True(t, errors.As(err, &unavailable))
	assert.NotContains(t, err.Error(), "not-a-key")
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	r.Register(&fakeProvider{name: "b"})
	r.Register(&fakeProvider{name: "a"})

	assert.True(t, r.Has("a"))
	assert.False(t, r.Has("c"))
	assert.Equal(t, []string{"a", "b"}, r.Names())

	p, ok := r.Get("b")
	require.True(t, ok)
	assert.Equal(t, "b", p.Name())
}
