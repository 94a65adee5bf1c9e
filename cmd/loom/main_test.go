package main

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/StephenDMay/loom/internal/config"
	"github.com/StephenDMay/loom/internal/provider"
)

type stubProvider struct{ name string }

func (s stubProvider) Name() string { return s.name }

func (s stubProvider) Validate(ctx context.Context) error { return nil }

func (s stubProvider) Generate(ctx context.Context, req provider.Request) (string, error) {
	return "", nil
}

func TestForceProvider_OutranksStageOverrides(t *testing.T) {
	anthropic := "anthropic"
	cfg := &config.Config{
		Stages: map[string]config.StageSettings{
			"feature-research": {Provider: &anthropic},
		},
	}
	forceProvider(cfg, "ollama")

	// Only the forced provider is registered: any stage still resolving
	// to "anthropic" would fail resolver construction.
	registry := provider.NewRegistry()
	registry.Register(stubProvider{name: "ollama"})

	resolver, err := config.NewResolver(cfg, []string{"project-analysis", "feature-research"}, registry)
	require.NoError(t, err)

	for _, name := range resolver.ResolutionOrder() {
		eff, err := resolver.Resolve(name)
		require.NoError(t, err)
		assert.Equal(t, "ollama", eff.Provider, name)
	}
}
